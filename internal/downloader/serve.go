package downloader

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ServedArtifact is an open artifact ready to be streamed to a client.
type ServedArtifact struct {
	io.ReadSeekCloser
	Name         string
	DownloadName string
	ContentType  string
	ModTime      time.Time
	Size         int64
}

// OpenArtifact opens a stored artifact by its base file name. Names that
// try to leave the output directory are treated as not found.
func (o *Orchestrator) OpenArtifact(name string) (*ServedArtifact, error) {
	if !isPlainFileName(name) {
		return nil, wrapCategory(CategoryNotFound, fmt.Errorf("%w: %q", ErrArtifactNotFound, name))
	}
	path := filepath.Join(o.outputDir, name)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, wrapCategory(CategoryNotFound, fmt.Errorf("%w: %q", ErrArtifactNotFound, name))
		}
		return nil, wrapCategory(CategoryFilesystem, fmt.Errorf("opening artifact: %w", err))
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, wrapCategory(CategoryFilesystem, fmt.Errorf("stat artifact: %w", err))
	}
	if info.IsDir() {
		f.Close()
		return nil, wrapCategory(CategoryNotFound, fmt.Errorf("%w: %q", ErrArtifactNotFound, name))
	}

	served := &ServedArtifact{
		ReadSeekCloser: f,
		Name:           name,
		DownloadName:   name,
		ContentType:    "application/octet-stream",
		ModTime:        info.ModTime(),
		Size:           info.Size(),
	}
	if format, ok := formatForName(name); ok {
		served.DownloadName = format.ClientFileName()
		served.ContentType = format.ContentType()
	}
	return served, nil
}

// formatForName derives the format from the extension, or from the
// "tiktok_<kind>_" prefix when the remote fell back to another container.
func formatForName(name string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp4":
		return FormatVideo, true
	case ".mp3":
		return FormatAudio, true
	}
	for _, format := range []Format{FormatVideo, FormatAudio} {
		if strings.HasPrefix(name, "tiktok_"+format.Kind()+"_") {
			return format, true
		}
	}
	return "", false
}

func isPlainFileName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return false
	}
	return filepath.Base(name) == name
}
