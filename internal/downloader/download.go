package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Format is the kind of media a download produces.
type Format string

const (
	FormatVideo Format = "mp4"
	FormatAudio Format = "mp3"
)

const (
	videoFormatSelector = "best[ext=mp4]/mp4/best"
	audioFormatSelector = "bestaudio/best"
	audioCodec          = "mp3"
	audioBitrate        = "192K"
)

// ParseFormat accepts "mp4"/"video" and "mp3"/"audio".
func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "mp4", "video":
		return FormatVideo, nil
	case "mp3", "audio":
		return FormatAudio, nil
	default:
		return "", wrapCategory(CategoryInvalidFormat, fmt.Errorf("%w: %q", ErrInvalidFormat, raw))
	}
}

// Kind returns "video" or "audio".
func (f Format) Kind() string {
	if f == FormatAudio {
		return "audio"
	}
	return "video"
}

// ContentType is the MIME type the serving layer sends for this format.
func (f Format) ContentType() string {
	if f == FormatAudio {
		return "audio/mpeg"
	}
	return "video/mp4"
}

// ClientFileName is the file name suggested to the end user.
func (f Format) ClientFileName() string {
	return fmt.Sprintf("tiktok_%s.%s", f.Kind(), string(f))
}

func (f Format) mediaSpec(outputTemplate string) MediaSpec {
	if f == FormatAudio {
		return MediaSpec{
			OutputTemplate: outputTemplate,
			Format:         audioFormatSelector,
			ExtractAudio:   true,
			AudioCodec:     audioCodec,
			AudioQuality:   audioBitrate,
		}
	}
	return MediaSpec{
		OutputTemplate: outputTemplate,
		Format:         videoFormatSelector,
	}
}

// DownloadRequest asks for one URL in one format. Record, when set, is
// used to tag audio artifacts.
type DownloadRequest struct {
	URL    string
	Format Format
	Record *VideoRecord
}

// Artifact is a downloaded file awaiting retrieval and automatic removal.
type Artifact struct {
	Path      string    `json:"-"`
	Name      string    `json:"name"`
	Format    Format    `json:"format"`
	Token     string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ContentType is the MIME type of the artifact.
func (a Artifact) ContentType() string {
	return a.Format.ContentType()
}

// RequestDownload validates the request and runs the download catalog. On
// success the artifact is already scheduled for deletion.
func (o *Orchestrator) RequestDownload(ctx context.Context, req DownloadRequest) (Artifact, error) {
	url, err := ValidateURL(req.URL)
	if err != nil {
		return Artifact{}, err
	}
	format, err := ParseFormat(string(req.Format))
	if err != nil {
		return Artifact{}, err
	}

	ctx, cancel := o.chainContext(ctx)
	defer cancel()

	token := o.newToken()
	template := filepath.Join(o.outputDir, fmt.Sprintf("tiktok_%s_%s.%%(ext)s", format.Kind(), token))
	spec := format.mediaSpec(template)

	result, err := RunChain(ctx, o.logger, "download:"+format.Kind(), o.downloads.Personas(),
		func(ctx context.Context, _ int, persona Persona) (string, error) {
			if err := o.remote.FetchMedia(ctx, url, persona, spec); err != nil {
				return "", err
			}
			path, err := findArtifact(o.outputDir, token, "."+string(format))
			if err != nil {
				return "", err
			}
			if format == FormatAudio {
				return o.ensureMP3(ctx, path)
			}
			return path, nil
		})
	if err != nil {
		o.removeTokenFiles(token, "")
		return Artifact{}, wrapCategory(CategoryDownload, fmt.Errorf("%w: %w", ErrDownloadFailed, err))
	}

	o.removeTokenFiles(token, result.Value)
	if format == FormatAudio && req.Record != nil {
		o.tagAudio(ctx, result.Value, *req.Record)
	}

	// ExpiresAt is the one deadline both clients and the scheduler see.
	created := o.now()
	artifact := Artifact{
		Path:      result.Value,
		Name:      filepath.Base(result.Value),
		Format:    format,
		Token:     token,
		CreatedAt: created,
		ExpiresAt: created.Add(o.retention),
	}
	o.scheduler.ScheduleAt(artifact.Path, artifact.ExpiresAt)
	o.logger.Info("artifact ready",
		"name", artifact.Name,
		"format", string(format),
		"persona", result.Persona,
		"expires_at", artifact.ExpiresAt,
	)
	return artifact, nil
}

// isPartialFile reports yt-dlp's in-progress and fragment files.
func isPartialFile(name string) bool {
	for _, suffix := range []string{".part", ".ytdl", ".temp", ".tmp"} {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return strings.Contains(name, ".part-Frag")
}

// findArtifact scans dir for a finished file whose name contains token,
// preferring one with preferExt.
func findArtifact(dir, token, preferExt string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", wrapCategory(CategoryFilesystem, fmt.Errorf("scanning output directory: %w", err))
	}

	var matches []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.Contains(name, token) || isPartialFile(name) {
			continue
		}
		matches = append(matches, name)
	}
	if len(matches) == 0 {
		return "", ErrArtifactMissing
	}
	sort.Strings(matches)
	for _, name := range matches {
		if strings.EqualFold(filepath.Ext(name), preferExt) {
			return filepath.Join(dir, name), nil
		}
	}
	return filepath.Join(dir, matches[0]), nil
}

// ensureMP3 transcodes path locally when the remote left a non-mp3 audio
// file behind, and returns the mp3 path.
func (o *Orchestrator) ensureMP3(ctx context.Context, path string) (string, error) {
	ext := filepath.Ext(path)
	if strings.EqualFold(ext, ".mp3") {
		return path, nil
	}
	out := strings.TrimSuffix(path, ext) + ".mp3"
	o.logger.Warn("remote left non-mp3 audio, transcoding locally", "file", filepath.Base(path))
	if err := o.transcoder.ToMP3(ctx, path, out); err != nil {
		_ = os.Remove(out)
		return "", fmt.Errorf("transcoding %s to mp3: %w", filepath.Base(path), err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		o.logger.Warn("failed to remove intermediate audio", "file", filepath.Base(path), "error", err)
	}
	return out, nil
}

// removeTokenFiles deletes files carrying token other than keep, so leftovers
// of failed attempts never outlive the request without a deletion schedule.
func (o *Orchestrator) removeTokenFiles(token, keep string) {
	entries, err := os.ReadDir(o.outputDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.Contains(entry.Name(), token) {
			continue
		}
		path := filepath.Join(o.outputDir, entry.Name())
		if path == keep {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			o.logger.Warn("failed to remove leftover download", "file", entry.Name(), "error", err)
		}
	}
}
