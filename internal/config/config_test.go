package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 10000, cfg.Port)
	assert.Equal(t, "./downloads", cfg.DownloadsDir)
	assert.Equal(t, 10*time.Minute, cfg.Retention)
	assert.Equal(t, 3*time.Minute, cfg.ChainTimeout)
	assert.Equal(t, 90*time.Second, cfg.AttemptTimeout)
	assert.Equal(t, 2.0, cfg.RemoteRate)
	assert.Equal(t, 4, cfg.RemoteBurst)
	assert.True(t, cfg.SweepOnStart)
	assert.Equal(t, "0.0.0.0:10000", cfg.Addr())
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "8081")
	t.Setenv("RETENTION", "30s")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("DEBUG", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8081, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.Retention)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clipfetch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9000\ndownloads_dir: /tmp/clips\nlog_format: json\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "/tmp/clips", cfg.DownloadsDir)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Minute, cfg.Retention)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("LOG_FORMAT", "xml")
	t.Setenv("PORT", "70000")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LogFormat")
	assert.Contains(t, err.Error(), "Port")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
