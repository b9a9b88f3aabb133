// Package app assembles the orchestrator, lifecycle manager and event hub
// from a Config.
package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/lvcoi/clipfetch/internal/config"
	"github.com/lvcoi/clipfetch/internal/downloader"
	"github.com/lvcoi/clipfetch/internal/lifecycle"
	"github.com/lvcoi/clipfetch/internal/ws"
)

// ArtifactPrefix is the file name prefix shared by every artifact.
const ArtifactPrefix = "tiktok_"

// NewLogger builds the process logger from the configured level and format.
func NewLogger(cfg config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Overrides replaces production collaborators, mainly in tests.
type Overrides struct {
	Remote     downloader.Remote
	Clock      lifecycle.Clock
	Transcoder downloader.Transcoder
}

// Services is the wired application.
type Services struct {
	Config       config.Config
	Logger       *slog.Logger
	Orchestrator *downloader.Orchestrator
	Lifecycle    *lifecycle.Manager
	Hub          *ws.Hub
	started      time.Time
}

// Build wires every component but starts nothing.
func Build(cfg config.Config, logger *slog.Logger, overrides Overrides) (*Services, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	hub := ws.NewHub(logger)
	manager := lifecycle.NewManager(lifecycle.Options{
		Clock:  overrides.Clock,
		Logger: logger,
		OnExpire: func(e lifecycle.Expired) {
			if e.Err != nil {
				return
			}
			hub.Broadcast(ws.Message{
				Type:    ws.EventArtifactExpired,
				Payload: ws.ArtifactPayload{Name: filepath.Base(e.Path)},
			})
		},
	})

	remote := overrides.Remote
	if remote == nil {
		remote = downloader.NewYTDLPRemote(downloader.YTDLPOptions{
			Executable:     cfg.YTDLPPath,
			AttemptTimeout: cfg.AttemptTimeout,
			Rate:           cfg.RemoteRate,
			Burst:          cfg.RemoteBurst,
		}, logger)
	}

	var now func() time.Time
	if overrides.Clock != nil {
		now = overrides.Clock.Now
	}
	orch, err := downloader.New(downloader.Options{
		Remote:       remote,
		Scheduler:    &announcingScheduler{next: manager, hub: hub},
		OutputDir:    cfg.DownloadsDir,
		Retention:    cfg.Retention,
		ChainTimeout: cfg.ChainTimeout,
		Transcoder:   overrides.Transcoder,
		Logger:       logger,
		Now:          now,
	})
	if err != nil {
		return nil, err
	}

	return &Services{
		Config:       cfg,
		Logger:       logger,
		Orchestrator: orch,
		Lifecycle:    manager,
		Hub:          hub,
	}, nil
}

// Start launches the lifecycle worker and hub, sweeping leftovers from a
// previous run first when configured to.
func (s *Services) Start(ctx context.Context) {
	s.started = time.Now()
	if s.Config.SweepOnStart {
		if _, err := s.Lifecycle.Sweep(s.Orchestrator.OutputDir(), ArtifactPrefix, s.Orchestrator.Retention()); err != nil {
			s.Logger.Warn("startup sweep failed", "dir", s.Orchestrator.OutputDir(), "error", err)
		}
	}
	s.Lifecycle.Start(ctx)
	go s.Hub.Run(ctx)
}

// Stop halts the lifecycle worker. Pending deletions are abandoned and
// picked up by the next startup sweep.
func (s *Services) Stop() {
	s.Lifecycle.Stop()
	downloader.CloseIdleConnections()
}

// Uptime is the time since Start.
func (s *Services) Uptime() time.Duration {
	if s.started.IsZero() {
		return 0
	}
	return time.Since(s.started)
}

// announcingScheduler schedules deletion and tells connected clients the
// artifact is ready.
type announcingScheduler struct {
	next downloader.ArtifactScheduler
	hub  ws.Broadcaster
}

func (a *announcingScheduler) ScheduleAt(path string, deadline time.Time) {
	a.next.ScheduleAt(path, deadline)
	expires := deadline
	name := filepath.Base(path)
	a.hub.Broadcast(ws.Message{
		Type: ws.EventArtifactReady,
		Payload: ws.ArtifactPayload{
			Name:      name,
			URL:       "/serve/" + name,
			ExpiresAt: &expires,
		},
	})
}
