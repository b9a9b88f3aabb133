package downloader

import (
	"context"
	"path/filepath"
	"strings"

	id3v2 "github.com/bogem/id3v2/v2"
)

// tagAudio writes ID3v2 title, artist and cover art into an mp3 artifact.
// Failures are logged; an untagged file is still a valid artifact.
func (o *Orchestrator) tagAudio(ctx context.Context, path string, record VideoRecord) {
	var cover []byte
	var coverType string
	if record.Thumbnail != "" {
		data, contentType, err := fetchImage(ctx, o.httpClient, record.Thumbnail)
		if err != nil {
			o.logger.Debug("skipping cover art", "file", filepath.Base(path), "error", err)
		} else {
			cover, coverType = data, contentType
		}
	}
	if err := embedID3Tags(path, record, cover, coverType); err != nil {
		o.logger.Warn("metadata tag embedding failed", "file", filepath.Base(path), "error", err)
	}
}

func embedID3Tags(path string, record VideoRecord, cover []byte, coverType string) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return err
	}
	defer tag.Close()

	tag.SetDefaultEncoding(id3v2.EncodingUTF8)
	if record.Title != "" {
		tag.SetTitle(record.Title)
	}
	if record.Uploader != "" {
		tag.SetArtist(record.Uploader)
	}
	if desc := strings.TrimSpace(record.Description); desc != "" {
		tag.AddCommentFrame(id3v2.CommentFrame{
			Encoding:    id3v2.EncodingUTF8,
			Language:    "eng",
			Description: "description",
			Text:        desc,
		})
	}
	if len(cover) > 0 && strings.HasPrefix(coverType, "image/") {
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    coverType,
			PictureType: id3v2.PTFrontCover,
			Description: "Front cover",
			Picture:     cover,
		})
	}
	return tag.Save()
}
