package downloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultRetention is how long an artifact stays on disk after creation.
	DefaultRetention = 10 * time.Minute
	// DefaultChainTimeout bounds one whole chain run across all personas.
	DefaultChainTimeout = 3 * time.Minute
)

// ArtifactScheduler takes ownership of an artifact file and removes it at
// deadline.
type ArtifactScheduler interface {
	ScheduleAt(path string, deadline time.Time)
}

// Options configures an Orchestrator. Remote, Scheduler and OutputDir are
// required.
type Options struct {
	Remote            Remote
	Scheduler         ArtifactScheduler
	OutputDir         string
	ExtractionCatalog Catalog
	DownloadCatalog   Catalog
	Retention         time.Duration
	ChainTimeout      time.Duration
	Transcoder        Transcoder
	HTTPClient        *http.Client
	Logger            *slog.Logger
	// Now stamps artifacts; it should be the scheduler's clock.
	Now func() time.Time
}

// Orchestrator runs persona chains against a Remote and hands finished
// artifacts to the lifecycle scheduler.
type Orchestrator struct {
	remote       Remote
	scheduler    ArtifactScheduler
	outputDir    string
	extraction   Catalog
	downloads    Catalog
	retention    time.Duration
	chainTimeout time.Duration
	transcoder   Transcoder
	httpClient   *http.Client
	logger       *slog.Logger

	newToken func() string
	now      func() time.Time
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Remote == nil {
		return nil, errors.New("downloader: remote is required")
	}
	if opts.Scheduler == nil {
		return nil, errors.New("downloader: scheduler is required")
	}
	if opts.OutputDir == "" {
		return nil, errors.New("downloader: output directory is required")
	}
	dir, err := filepath.Abs(opts.OutputDir)
	if err != nil {
		return nil, wrapCategory(CategoryFilesystem, fmt.Errorf("resolving output directory: %w", err))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, wrapCategory(CategoryFilesystem, fmt.Errorf("creating output directory: %w", err))
	}

	o := &Orchestrator{
		remote:       opts.Remote,
		scheduler:    opts.Scheduler,
		outputDir:    dir,
		extraction:   opts.ExtractionCatalog,
		downloads:    opts.DownloadCatalog,
		retention:    opts.Retention,
		chainTimeout: opts.ChainTimeout,
		transcoder:   opts.Transcoder,
		httpClient:   opts.HTTPClient,
		logger:       opts.Logger,
		newToken:     uuid.NewString,
		now:          time.Now,
	}
	if o.extraction.Len() == 0 {
		o.extraction = DefaultExtractionCatalog()
	}
	if o.downloads.Len() == 0 {
		o.downloads = DefaultDownloadCatalog()
	}
	if o.retention <= 0 {
		o.retention = DefaultRetention
	}
	if o.chainTimeout <= 0 {
		o.chainTimeout = DefaultChainTimeout
	}
	if o.transcoder == nil {
		o.transcoder = FFmpegTranscoder{}
	}
	if o.httpClient == nil {
		o.httpClient = newHTTPClient(30 * time.Second)
	}
	if opts.Now != nil {
		o.now = opts.Now
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	o.logger = o.logger.With("component", "orchestrator")
	return o, nil
}

// OutputDir returns the absolute directory artifacts are written to.
func (o *Orchestrator) OutputDir() string {
	return o.outputDir
}

// Retention returns the window after which artifacts are reclaimed.
func (o *Orchestrator) Retention() time.Duration {
	return o.retention
}

// ValidateAndClassify reports whether url is a supported video URL.
func (o *Orchestrator) ValidateAndClassify(url string) bool {
	return IsValidURL(url)
}

func (o *Orchestrator) chainContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.chainTimeout)
}
