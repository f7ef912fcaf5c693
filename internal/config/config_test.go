package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig()
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0:5000", cfg.Web.BindAddress)
	require.Equal(t, time.Duration(0), cfg.Web.WriteTimeout)
	require.Equal(t, ByteSize(8*1000*1000), cfg.ProgressInterval)
	require.Equal(t, 24*time.Hour, cfg.Retention)
	require.Equal(t, "file::memory:?cache=shared", cfg.DBPath)
	require.Equal(t, 10*time.Second, cfg.Upstream.TLSHandshakeTimeout)
	require.True(t, cfg.Telemetry.Enabled)
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("WEB_BIND_ADDRESS", "127.0.0.1:8080")
	t.Setenv("PROGRESS_INTERVAL", "1MiB")
	t.Setenv("UPSTREAM_RESPONSE_HEADER_TIMEOUT", "5s")
	t.Setenv("TELEMETRY_ENABLED", "false")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1:8080", cfg.Web.BindAddress)
	require.Equal(t, ByteSize(1<<20), cfg.ProgressInterval)
	require.Equal(t, 5*time.Second, cfg.Upstream.ResponseHeaderTimeout)
	require.False(t, cfg.Telemetry.Enabled)
}

func TestLoadConfig_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LOG_LEVEL=debug\n"), 0600))
	t.Setenv("LOG_LEVEL", "")
	os.Unsetenv("LOG_LEVEL")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestLoadConfig_InvalidByteSize(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PROGRESS_INTERVAL", "lots")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestResolveDownloadDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "downloads")
	cfg := &Config{DownloadDir: dir}

	got, err := cfg.ResolveDownloadDir()
	require.NoError(t, err)
	require.Equal(t, dir, got)

	info, err := os.Stat(got)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestResolveDownloadDir_DefaultsToHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	got, err := (&Config{}).ResolveDownloadDir()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, "Downloads"), got)
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"Warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			require.Equal(t, tt.want, (&Config{LogLevel: tt.level}).SlogLevel())
		})
	}
}
