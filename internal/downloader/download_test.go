package downloader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	for raw, want := range map[string]Format{"mp4": FormatVideo, "VIDEO": FormatVideo, " mp3 ": FormatAudio, "audio": FormatAudio} {
		got, err := ParseFormat(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("flac")
	require.ErrorIs(t, err, ErrInvalidFormat)
	assert.Equal(t, CategoryInvalidFormat, CategoryOf(err))
}

func TestRequestDownloadVideo(t *testing.T) {
	scheduler := &fakeScheduler{}
	remote := &fakeRemote{
		media: func(_ int, _ Persona, spec MediaSpec) error { return writeOutput(spec, "mp4") },
	}
	o := newTestOrchestrator(t, remote, scheduler, &fakeTranscoder{})

	artifact, err := o.RequestDownload(context.Background(), DownloadRequest{URL: testVideoURL, Format: FormatVideo})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(artifact.Name, "tiktok_video_"+artifact.Token))
	assert.Equal(t, ".mp4", filepath.Ext(artifact.Name))
	assert.Equal(t, "video/mp4", artifact.ContentType())
	assert.Equal(t, artifact.CreatedAt.Add(5*time.Minute), artifact.ExpiresAt)
	assert.FileExists(t, artifact.Path)

	require.Len(t, remote.specs, 1)
	assert.Equal(t, videoFormatSelector, remote.specs[0].Format)
	assert.False(t, remote.specs[0].ExtractAudio)
	assert.Equal(t, []scheduled{{path: artifact.Path, deadline: artifact.ExpiresAt}}, scheduler.scheduled())
}

func TestRequestDownloadMissingFileFallsThrough(t *testing.T) {
	scheduler := &fakeScheduler{}
	remote := &fakeRemote{
		media: func(call int, _ Persona, spec MediaSpec) error {
			if call == 0 {
				// Reported success, but only a partial file exists.
				return writeOutput(spec, "mp4.part")
			}
			return writeOutput(spec, "mp4")
		},
	}
	o := newTestOrchestrator(t, remote, scheduler, &fakeTranscoder{})

	artifact, err := o.RequestDownload(context.Background(), DownloadRequest{URL: testVideoURL, Format: FormatVideo})
	require.NoError(t, err)
	assert.Equal(t, []string{"iphone-safari", "desktop-chrome"}, remote.mediaCalls)
	assert.Equal(t, ".mp4", filepath.Ext(artifact.Path))
	assert.Len(t, scheduler.scheduled(), 1)
}

func TestRequestDownloadAllPersonasFail(t *testing.T) {
	scheduler := &fakeScheduler{}
	remote := &fakeRemote{
		media: func(_ int, _ Persona, spec MediaSpec) error {
			_ = writeOutput(spec, "mp4.part")
			return errors.New("ERROR: Unable to download webpage")
		},
	}
	o := newTestOrchestrator(t, remote, scheduler, &fakeTranscoder{})

	_, err := o.RequestDownload(context.Background(), DownloadRequest{URL: testVideoURL, Format: FormatVideo})
	require.ErrorIs(t, err, ErrDownloadFailed)
	assert.Equal(t, CategoryDownload, CategoryOf(err))
	assert.Len(t, remote.mediaCalls, 3)
	assert.Empty(t, scheduler.scheduled())

	entries, err := os.ReadDir(o.OutputDir())
	require.NoError(t, err)
	assert.Empty(t, entries, "leftover partial files are removed")
}

func TestRequestDownloadUsesDistinctTokens(t *testing.T) {
	scheduler := &fakeScheduler{}
	remote := &fakeRemote{
		media: func(_ int, _ Persona, spec MediaSpec) error { return writeOutput(spec, "mp4") },
	}
	o := newTestOrchestrator(t, remote, scheduler, &fakeTranscoder{})

	first, err := o.RequestDownload(context.Background(), DownloadRequest{URL: testVideoURL, Format: FormatVideo})
	require.NoError(t, err)
	second, err := o.RequestDownload(context.Background(), DownloadRequest{URL: testVideoURL, Format: FormatVideo})
	require.NoError(t, err)

	assert.NotEqual(t, first.Token, second.Token)
	assert.NotEqual(t, first.Path, second.Path)
	assert.FileExists(t, first.Path)
	assert.FileExists(t, second.Path)
	assert.Len(t, scheduler.scheduled(), 2)
}

func TestRequestDownloadAudio(t *testing.T) {
	scheduler := &fakeScheduler{}
	remote := &fakeRemote{
		media: func(_ int, _ Persona, spec MediaSpec) error { return writeOutput(spec, "mp3") },
	}
	transcoder := &fakeTranscoder{}
	o := newTestOrchestrator(t, remote, scheduler, transcoder)

	record := &VideoRecord{Title: "Song", Uploader: "artist"}
	artifact, err := o.RequestDownload(context.Background(), DownloadRequest{URL: testVideoURL, Format: FormatAudio, Record: record})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(artifact.Name, "tiktok_audio_"))
	assert.Equal(t, ".mp3", filepath.Ext(artifact.Name))
	assert.Equal(t, "audio/mpeg", artifact.ContentType())
	assert.Zero(t, transcoder.calls)
	assert.FileExists(t, artifact.Path)

	spec := remote.specs[0]
	assert.Equal(t, audioFormatSelector, spec.Format)
	assert.True(t, spec.ExtractAudio)
	assert.Equal(t, "mp3", spec.AudioCodec)
	assert.Equal(t, "192K", spec.AudioQuality)
}

func TestRequestDownloadAudioTranscodesLeftoverContainer(t *testing.T) {
	remote := &fakeRemote{
		media: func(_ int, _ Persona, spec MediaSpec) error { return writeOutput(spec, "m4a") },
	}
	transcoder := &fakeTranscoder{}
	o := newTestOrchestrator(t, remote, &fakeScheduler{}, transcoder)

	artifact, err := o.RequestDownload(context.Background(), DownloadRequest{URL: testVideoURL, Format: FormatAudio})
	require.NoError(t, err)
	assert.Equal(t, 1, transcoder.calls)
	assert.Equal(t, ".mp3", filepath.Ext(artifact.Path))
	assert.NoFileExists(t, strings.TrimSuffix(artifact.Path, ".mp3")+".m4a")
}

func TestRequestDownloadTranscodeFailureTriesNextPersona(t *testing.T) {
	remote := &fakeRemote{
		media: func(call int, _ Persona, spec MediaSpec) error {
			if call == 0 {
				return writeOutput(spec, "webm")
			}
			return writeOutput(spec, "mp3")
		},
	}
	transcoder := &fakeTranscoder{err: errors.New("ffmpeg not found in PATH")}
	o := newTestOrchestrator(t, remote, &fakeScheduler{}, transcoder)

	artifact, err := o.RequestDownload(context.Background(), DownloadRequest{URL: testVideoURL, Format: FormatAudio})
	require.NoError(t, err)
	assert.Len(t, remote.mediaCalls, 2)
	assert.Equal(t, ".mp3", filepath.Ext(artifact.Path))
	assert.NoFileExists(t, strings.TrimSuffix(artifact.Path, ".mp3")+".webm")
}

func TestRequestDownloadSchedulesTheAdvertisedDeadline(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	// The cover fetch takes 20s of clock time.
	cover := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		now = now.Add(20 * time.Second)
		mu.Unlock()
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte{0xff, 0xd8, 0xff, 0xe0})
	}))
	defer cover.Close()

	scheduler := &fakeScheduler{}
	remote := &fakeRemote{
		media: func(_ int, _ Persona, spec MediaSpec) error { return writeOutput(spec, "mp3") },
	}
	o := newTestOrchestrator(t, remote, scheduler, &fakeTranscoder{})
	o.now = clock

	record := VideoRecord{Title: "Clip", Uploader: "creator", Thumbnail: cover.URL + "/cover.jpg"}
	artifact, err := o.RequestDownload(context.Background(), DownloadRequest{URL: testVideoURL, Format: FormatAudio, Record: &record})
	require.NoError(t, err)

	finished := time.Date(2024, 5, 1, 12, 0, 20, 0, time.UTC)
	assert.Equal(t, finished, artifact.CreatedAt)
	assert.Equal(t, finished.Add(5*time.Minute), artifact.ExpiresAt)
	assert.Equal(t, []scheduled{{path: artifact.Path, deadline: artifact.ExpiresAt}}, scheduler.scheduled())
}

func TestRequestDownloadVideoInOtherContainerServesAsMP4(t *testing.T) {
	remote := &fakeRemote{
		media: func(_ int, _ Persona, spec MediaSpec) error { return writeOutput(spec, "webm") },
	}
	o := newTestOrchestrator(t, remote, &fakeScheduler{}, &fakeTranscoder{})

	artifact, err := o.RequestDownload(context.Background(), DownloadRequest{URL: testVideoURL, Format: FormatVideo})
	require.NoError(t, err)
	assert.Equal(t, ".webm", filepath.Ext(artifact.Name))

	served, err := o.OpenArtifact(artifact.Name)
	require.NoError(t, err)
	defer served.Close()
	assert.Equal(t, "video/mp4", served.ContentType)
	assert.Equal(t, "tiktok_video.mp4", served.DownloadName)
}

func TestRequestDownloadValidatesBeforeCallingRemote(t *testing.T) {
	remote := &fakeRemote{}
	o := newTestOrchestrator(t, remote, &fakeScheduler{}, &fakeTranscoder{})

	_, err := o.RequestDownload(context.Background(), DownloadRequest{URL: "not a url", Format: FormatVideo})
	require.ErrorIs(t, err, ErrInvalidURL)

	_, err = o.RequestDownload(context.Background(), DownloadRequest{URL: testVideoURL, Format: "flac"})
	require.ErrorIs(t, err, ErrInvalidFormat)

	assert.Empty(t, remote.mediaCalls)
}

func TestFindArtifact(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"tiktok_audio_t0k3n.webm",
		"tiktok_audio_t0k3n.mp3",
		"tiktok_audio_t0k3n.mp3.part",
		"tiktok_audio_other.mp3",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}

	path, err := findArtifact(dir, "t0k3n", ".mp3")
	require.NoError(t, err)
	assert.Equal(t, "tiktok_audio_t0k3n.mp3", filepath.Base(path))

	path, err = findArtifact(dir, "t0k3n", ".mp4")
	require.NoError(t, err)
	assert.Equal(t, "tiktok_audio_t0k3n.mp3", filepath.Base(path))

	_, err = findArtifact(dir, "absent", ".mp3")
	assert.ErrorIs(t, err, ErrArtifactMissing)
}

func TestIsPartialFile(t *testing.T) {
	for _, name := range []string{"a.mp4.part", "a.ytdl", "a.temp", "a.tmp", "a.mp4.part-Frag12"} {
		assert.True(t, isPartialFile(name), name)
	}
	assert.False(t, isPartialFile("a.mp4"))
}
