// Package cmd implements the clipfetch command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/lvcoi/clipfetch/internal/app"
	"github.com/lvcoi/clipfetch/internal/config"
	"github.com/lvcoi/clipfetch/internal/downloader"
)

type rootOptions struct {
	configPath   string
	logLevel     string
	logFormat    string
	downloadsDir string
	json         bool
	quiet        bool

	// overrides replaces production collaborators in tests.
	overrides app.Overrides
	stdout    io.Writer
	stderr    io.Writer
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, args []string) int {
	opts := &rootOptions{stdout: os.Stdout, stderr: os.Stderr}
	return execute(ctx, opts, args)
}

func execute(ctx context.Context, opts *rootOptions, args []string) int {
	root := newRootCmd(opts)
	root.SetArgs(args)
	root.SetOut(opts.stdout)
	root.SetErr(opts.stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	if !downloader.IsReported(err) {
		if opts.json {
			writeJSONError(opts.stdout, "", err)
		} else {
			fmt.Fprintln(opts.stderr, errorStyle.Render("error:")+" "+userFacing(err))
		}
	}
	var usage usageError
	if errors.As(err, &usage) {
		return 2
	}
	var exit exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	return downloader.ExitCode(err)
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	root := &cobra.Command{
		Use:           "clipfetch",
		Short:         "Fetch TikTok video metadata, MP4 video and MP3 audio",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return usageError{fmt.Errorf("unknown command %q", args[0])}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "path to a YAML config file (environment variables override it)")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&opts.logFormat, "log-format", "", "log format: text or json")
	pf.StringVar(&opts.downloadsDir, "downloads-dir", "", "directory artifacts are written to")
	pf.BoolVar(&opts.json, "json", false, "emit JSON output")
	pf.BoolVarP(&opts.quiet, "quiet", "q", false, "suppress progress output (errors still shown)")

	root.AddCommand(newServeCmd(opts), newInfoCmd(opts), newGetCmd(opts))
	root.SetHelpTemplate(root.HelpTemplate() + "\nEnvironment:\n" + config.Usage())
	return root
}

// usageError marks command line mistakes, which exit with status 2.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// exitError carries the batch exit code computed by app.Run.
type exitError struct {
	err  error
	code int
}

func (e exitError) Error() string { return e.err.Error() }
func (e exitError) Unwrap() error { return e.err }

// loadConfig applies flag overrides on top of the file and environment.
func (o *rootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, usageError{err}
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.logFormat != "" {
		cfg.LogFormat = o.logFormat
	}
	if o.downloadsDir != "" {
		cfg.DownloadsDir = o.downloadsDir
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, usageError{err}
	}
	return cfg, nil
}

// services loads config and wires the application. CLI commands log to
// stderr; progress and results go to stdout.
func (o *rootOptions) services(quietLogs bool) (*app.Services, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	var logger *slog.Logger
	if quietLogs && !cfg.Debug && o.logLevel == "" {
		logger = slog.New(slog.DiscardHandler)
	} else {
		logger = app.NewLogger(cfg, o.stderr)
	}
	return app.Build(cfg, logger, o.overrides)
}

func userFacing(err error) string {
	var usage usageError
	if errors.As(err, &usage) {
		return err.Error()
	}
	switch downloader.CategoryOf(err) {
	case downloader.CategoryInternal, downloader.CategoryFilesystem:
		return err.Error()
	}
	return downloader.UserMessage(err)
}
