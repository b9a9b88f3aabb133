package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/spf13/cobra"

	"github.com/lvcoi/clipfetch/internal/app"
	"github.com/lvcoi/clipfetch/internal/downloader"
)

const maxTitleFileName = 80

type getOptions struct {
	audio  bool
	output string
	jobs   int
}

func newGetCmd(opts *rootOptions) *cobra.Command {
	var g getOptions
	cmd := &cobra.Command{
		Use:   "get <url> [url...]",
		Short: "Download TikTok videos as MP4 (or MP3 with --audio)",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return usageError{errors.New("no url provided")}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd.Context(), opts, g, args)
		},
	}
	f := cmd.Flags()
	f.BoolVar(&g.audio, "audio", false, "download audio only, as MP3")
	f.StringVarP(&g.output, "output", "o", ".", "output directory, or a file path when downloading a single URL")
	f.IntVar(&g.jobs, "jobs", 1, "number of URLs processed concurrently")
	return cmd
}

func runGet(ctx context.Context, opts *rootOptions, g getOptions, urls []string) error {
	svc, err := opts.services(true)
	if err != nil {
		return err
	}
	defer svc.Stop()

	format := downloader.FormatVideo
	if g.audio {
		format = downloader.FormatAudio
	}
	single := len(urls) == 1

	var results []app.Result
	var code int
	label := fmt.Sprintf("Downloading %d %s(s)", len(urls), format.Kind())
	_ = withSpinner(ctx, opts, label, func() error {
		results, code = app.Run(ctx, urls, g.jobs, func(ctx context.Context, url string) app.Result {
			return fetchOne(ctx, svc, format, g.output, single, url)
		})
		return nil
	})

	var firstErr error
	for _, res := range results {
		switch {
		case opts.json && res.Err != nil:
			writeJSONError(opts.stdout, res.URL, res.Err)
		case opts.json:
			_ = writeJSON(opts.stdout, struct {
				Type   string `json:"type"`
				URL    string `json:"url"`
				Path   string `json:"path"`
				Format string `json:"format"`
			}{Type: "artifact", URL: res.URL, Path: res.Path, Format: string(format)})
		case res.Err != nil:
			fmt.Fprintf(opts.stderr, "%s %s: %s\n", errorStyle.Render("error:"), res.URL, userFacing(res.Err))
		default:
			fmt.Fprintf(opts.stdout, "%s %s\n", successStyle.Render("saved"), res.Path)
		}
		if res.Err != nil && firstErr == nil {
			firstErr = res.Err
		}
	}
	if code == 0 {
		return nil
	}
	if firstErr == nil {
		firstErr = ctx.Err()
	}
	return downloader.MarkReported(exitError{err: firstErr, code: code})
}

// fetchOne extracts metadata for naming and tagging, downloads one
// artifact and moves it out of the artifact directory.
func fetchOne(ctx context.Context, svc *app.Services, format downloader.Format, output string, single bool, url string) app.Result {
	record, err := svc.Orchestrator.ExtractMetadata(ctx, url)
	var recordPtr *downloader.VideoRecord
	if err == nil {
		recordPtr = &record
	} else if downloader.CategoryOf(err) == downloader.CategoryInvalidURL {
		return app.Result{Err: err}
	} else {
		svc.Logger.Warn("metadata unavailable, continuing without it", "url", url, "error", err)
	}

	artifact, err := svc.Orchestrator.RequestDownload(ctx, downloader.DownloadRequest{URL: url, Format: format, Record: recordPtr})
	if err != nil {
		return app.Result{Err: err}
	}
	dest, err := destinationPath(output, single, recordPtr, format)
	if err != nil {
		return app.Result{Artifact: artifact, Err: err}
	}
	path, err := copyArtifact(svc.Orchestrator, artifact, dest)
	if err != nil {
		return app.Result{Artifact: artifact, Err: err}
	}
	// The copy is the user's; the artifact itself is no longer needed.
	if err := os.Remove(artifact.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		svc.Logger.Warn("failed to remove artifact after copy", "file", artifact.Name, "error", err)
	}
	return app.Result{Artifact: artifact, Path: path}
}

func destinationPath(output string, single bool, record *downloader.VideoRecord, format downloader.Format) (string, error) {
	if output == "" {
		output = "."
	}
	info, err := os.Stat(output)
	isDir := err == nil && info.IsDir()
	if single && !isDir && filepath.Ext(output) != "" {
		if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
			return "", downloader.CategorizedError{Category: downloader.CategoryFilesystem, Err: err}
		}
		return output, nil
	}
	if err := os.MkdirAll(output, 0o755); err != nil {
		return "", downloader.CategorizedError{Category: downloader.CategoryFilesystem, Err: err}
	}
	name := format.ClientFileName()
	if record != nil {
		if base := sanitizeFileName(record.Title); base != "" {
			name = base + "." + string(format)
		}
	}
	return filepath.Join(output, name), nil
}

// copyArtifact writes the artifact to dest, choosing "name (n).ext" when
// dest already exists.
func copyArtifact(orch *downloader.Orchestrator, artifact downloader.Artifact, dest string) (string, error) {
	served, err := orch.OpenArtifact(artifact.Name)
	if err != nil {
		return "", err
	}
	defer served.Close()

	ext := filepath.Ext(dest)
	stem := strings.TrimSuffix(dest, ext)
	path := dest
	for n := 1; ; n++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) && n < 1000 {
			path = fmt.Sprintf("%s (%d)%s", stem, n, ext)
			continue
		}
		if err != nil {
			return "", downloader.CategorizedError{Category: downloader.CategoryFilesystem, Err: fmt.Errorf("creating %s: %w", path, err)}
		}
		if _, err := io.Copy(f, served); err != nil {
			f.Close()
			_ = os.Remove(path)
			return "", downloader.CategorizedError{Category: downloader.CategoryFilesystem, Err: fmt.Errorf("writing %s: %w", path, err)}
		}
		if err := f.Close(); err != nil {
			return "", downloader.CategorizedError{Category: downloader.CategoryFilesystem, Err: err}
		}
		return path, nil
	}
}

func sanitizeFileName(title string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(title) {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r), unicode.IsControl(r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	name := strings.Trim(b.String(), ". ")
	if runes := []rune(name); len(runes) > maxTitleFileName {
		name = strings.TrimSpace(string(runes[:maxTitleFileName]))
	}
	return name
}
