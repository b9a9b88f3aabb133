package downloader

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"
	"golang.org/x/time/rate"
)

// Remote is the extraction capability the orchestrator drives. A single
// call is one attempt with one persona; retries across personas are the
// chain's job, not the Remote's.
type Remote interface {
	// FetchMetadata returns the raw info record for url. A nil map with a
	// nil error means the remote answered without content.
	FetchMetadata(ctx context.Context, url string, persona Persona) (map[string]any, error)
	// FetchMedia downloads url to spec.OutputTemplate.
	FetchMedia(ctx context.Context, url string, persona Persona, spec MediaSpec) error
}

// MediaSpec carries the format-specific options of a download.
type MediaSpec struct {
	// OutputTemplate is a yt-dlp output template; the extension placeholder
	// lets post-processing change the final extension.
	OutputTemplate string
	Format         string
	ExtractAudio   bool
	AudioCodec     string
	AudioQuality   string
}

// YTDLPOptions configures YTDLPRemote.
type YTDLPOptions struct {
	// Executable overrides the yt-dlp binary; empty uses PATH.
	Executable string
	// AttemptTimeout bounds a single yt-dlp invocation. Zero means no bound
	// beyond the caller's context.
	AttemptTimeout time.Duration
	// Rate and Burst pace invocations across all requests. Rate <= 0
	// disables pacing.
	Rate  float64
	Burst int
}

// YTDLPRemote implements Remote on top of the yt-dlp binary.
type YTDLPRemote struct {
	executable     string
	attemptTimeout time.Duration
	limiter        *rate.Limiter
	logger         *slog.Logger
}

func NewYTDLPRemote(opts YTDLPOptions, logger *slog.Logger) *YTDLPRemote {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &YTDLPRemote{
		executable:     opts.Executable,
		attemptTimeout: opts.AttemptTimeout,
		logger:         logger.With("component", "ytdlp"),
	}
	if opts.Rate > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(opts.Rate), burst)
	}
	return r
}

// command builds the yt-dlp invocation for persona. The identity goes
// through --user-agent and --referer; extra headers and extractor args are
// repeatable flags, which the builder keeps only once, so they are written
// to a per-attempt config file instead. The returned cleanup removes it.
func (r *YTDLPRemote) command(persona Persona) (*ytdlp.Command, func(), error) {
	cmd := ytdlp.New().
		NoPlaylist().
		NoWarnings().
		Quiet()
	if r.executable != "" {
		cmd = cmd.SetExecutable(r.executable)
	}
	if persona.UserAgent != "" {
		cmd = cmd.UserAgent(persona.UserAgent)
	}
	if persona.Referer != "" {
		cmd = cmd.Referer(persona.Referer)
	}

	path, err := writePersonaConfig(persona)
	if err != nil {
		return nil, nil, err
	}
	if path == "" {
		return cmd, func() {}, nil
	}
	cleanup := func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("failed to remove persona config", "path", path, "error", err)
		}
	}
	return cmd.ConfigLocations(path), cleanup, nil
}

// writePersonaConfig writes one --add-headers line per extra header and one
// --extractor-args line per extractor. It returns "" when the persona has
// neither.
func writePersonaConfig(persona Persona) (string, error) {
	var b strings.Builder
	for _, header := range persona.ExtraHeaders() {
		fmt.Fprintf(&b, "--add-headers %s\n", quoteConfigValue(header))
	}
	for _, args := range persona.ExtractorArgList() {
		fmt.Fprintf(&b, "--extractor-args %s\n", quoteConfigValue(args))
	}
	if b.Len() == 0 {
		return "", nil
	}

	f, err := os.CreateTemp("", "clipfetch-persona-*.conf")
	if err != nil {
		return "", fmt.Errorf("creating persona config: %w", err)
	}
	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("writing persona config: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("writing persona config: %w", err)
	}
	return f.Name(), nil
}

// quoteConfigValue double-quotes v for yt-dlp's shell-style config parser.
func quoteConfigValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return `"` + v + `"`
}

func (r *YTDLPRemote) begin(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, nil, fmt.Errorf("waiting for remote rate limit: %w", err)
		}
	}
	if r.attemptTimeout > 0 {
		ctx, cancel := context.WithTimeout(ctx, r.attemptTimeout)
		return ctx, cancel, nil
	}
	ctx, cancel := context.WithCancel(ctx)
	return ctx, cancel, nil
}

func (r *YTDLPRemote) FetchMetadata(ctx context.Context, url string, persona Persona) (map[string]any, error) {
	ctx, cancel, err := r.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	cmd, cleanup, err := r.command(persona)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	r.logger.Debug("fetching metadata", "persona", persona.Name, "url", url)
	result, err := cmd.
		SkipDownload().
		DumpJSON().
		Run(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp metadata: %w", err)
	}
	return decodeInfoJSON(result.Stdout)
}

func (r *YTDLPRemote) FetchMedia(ctx context.Context, url string, persona Persona, spec MediaSpec) error {
	ctx, cancel, err := r.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	cmd, cleanup, err := r.command(persona)
	if err != nil {
		return err
	}
	defer cleanup()

	cmd = cmd.
		Format(spec.Format).
		Output(spec.OutputTemplate)
	if spec.ExtractAudio {
		cmd = cmd.ExtractAudio().
			AudioFormat(spec.AudioCodec).
			AudioQuality(spec.AudioQuality)
	}

	r.logger.Debug("fetching media", "persona", persona.Name, "url", url, "format", spec.Format)
	if _, err := cmd.Run(ctx, url); err != nil {
		return fmt.Errorf("yt-dlp download: %w", err)
	}
	return nil
}

// decodeInfoJSON parses the last JSON object printed by --dump-json. Empty
// output and a literal null both decode to a nil map.
func decodeInfoJSON(stdout string) (map[string]any, error) {
	var last string
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "{") || line == "null" {
			last = line
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading yt-dlp output: %w", err)
	}
	if last == "" || last == "null" {
		return nil, nil
	}

	dec := json.NewDecoder(strings.NewReader(last))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding yt-dlp info: %w", err)
	}
	return raw, nil
}

var _ Remote = (*YTDLPRemote)(nil)
