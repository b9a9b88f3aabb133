package downloader

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testVideoURL = "https://www.tiktok.com/@creator/video/7234567890123456789"

// fakeRemote records every call and delegates behavior to per-test hooks.
// The call index passed to the hooks counts from zero per method.
type fakeRemote struct {
	mu         sync.Mutex
	metadata   func(call int, persona Persona) (map[string]any, error)
	media      func(call int, persona Persona, spec MediaSpec) error
	metaCalls  []string
	mediaCalls []string
	specs      []MediaSpec
}

func (f *fakeRemote) FetchMetadata(ctx context.Context, url string, persona Persona) (map[string]any, error) {
	f.mu.Lock()
	call := len(f.metaCalls)
	f.metaCalls = append(f.metaCalls, persona.Name)
	hook := f.metadata
	f.mu.Unlock()
	if hook == nil {
		return nil, nil
	}
	return hook(call, persona)
}

func (f *fakeRemote) FetchMedia(ctx context.Context, url string, persona Persona, spec MediaSpec) error {
	f.mu.Lock()
	call := len(f.mediaCalls)
	f.mediaCalls = append(f.mediaCalls, persona.Name)
	f.specs = append(f.specs, spec)
	hook := f.media
	f.mu.Unlock()
	if hook == nil {
		return nil
	}
	return hook(call, persona, spec)
}

type scheduled struct {
	path     string
	deadline time.Time
}

type fakeScheduler struct {
	mu    sync.Mutex
	calls []scheduled
}

func (f *fakeScheduler) ScheduleAt(path string, deadline time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, scheduled{path: path, deadline: deadline})
}

func (f *fakeScheduler) scheduled() []scheduled {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]scheduled(nil), f.calls...)
}

// fakeTranscoder copies the input to the mp3 output.
type fakeTranscoder struct {
	calls int
	err   error
}

func (f *fakeTranscoder) ToMP3(ctx context.Context, inputPath, outputPath string) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return err
	}
	return os.WriteFile(outputPath, data, 0o644)
}

// writeOutput materializes the file a real remote would produce for spec.
func writeOutput(spec MediaSpec, ext string) error {
	path := strings.Replace(spec.OutputTemplate, "%(ext)s", ext, 1)
	return os.WriteFile(path, []byte("media-bytes"), 0o644)
}

func newTestOrchestrator(t *testing.T, remote Remote, scheduler ArtifactScheduler, transcoder Transcoder) *Orchestrator {
	t.Helper()
	o, err := New(Options{
		Remote:     remote,
		Scheduler:  scheduler,
		OutputDir:  t.TempDir(),
		Retention:  5 * time.Minute,
		Transcoder: transcoder,
	})
	require.NoError(t, err)
	return o
}
