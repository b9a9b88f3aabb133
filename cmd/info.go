package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lvcoi/clipfetch/internal/downloader"
)

func newInfoCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info <url>",
		Short: "Print the metadata of a TikTok video",
		Args:  exactURLArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := opts.services(true)
			if err != nil {
				return err
			}
			defer svc.Stop()

			var record downloader.VideoRecord
			err = withSpinner(cmd.Context(), opts, "Extracting metadata", func() error {
				var err error
				record, err = svc.Orchestrator.ExtractMetadata(cmd.Context(), args[0])
				return err
			})
			if err != nil {
				return err
			}
			if opts.json {
				return writeJSON(opts.stdout, struct {
					Type string `json:"type"`
					URL  string `json:"url"`
					downloader.VideoRecord
				}{Type: "info", URL: strings.TrimSpace(args[0]), VideoRecord: record})
			}
			printRecord(opts.stdout, record)
			return nil
		},
	}
}

func printRecord(w io.Writer, r downloader.VideoRecord) {
	fmt.Fprintln(w, titleStyle.Render(r.Title))
	rows := [][2]string{
		{"Uploader", r.Uploader},
		{"Duration", formatDuration(r.Duration)},
		{"Views", fmt.Sprint(r.ViewCount)},
		{"Likes", fmt.Sprint(r.LikeCount)},
	}
	if r.Thumbnail != "" {
		rows = append(rows, [2]string{"Thumbnail", r.Thumbnail})
	}
	for _, row := range rows {
		fmt.Fprintf(w, "%s %s\n", labelStyle.Render(fmt.Sprintf("%-10s", row[0])), row[1])
	}
	if desc := strings.TrimSpace(r.Description); desc != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, mutedStyle.Render(desc))
	}
}

func formatDuration(seconds int) string {
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

func writeJSON(w io.Writer, payload any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(payload)
}

func writeJSONError(w io.Writer, url string, err error) {
	_ = writeJSON(w, struct {
		Type     string `json:"type"`
		URL      string `json:"url,omitempty"`
		Category string `json:"category"`
		Error    string `json:"error"`
	}{
		Type:     "error",
		URL:      url,
		Category: string(downloader.CategoryOf(err)),
		Error:    userFacing(err),
	})
}

// exactURLArgs requires n arguments and reports a miss as a usage error.
func exactURLArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}
