package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewFileWatcherMissingFileDoesNotError(t *testing.T) {
	w, err := NewFileWatcher(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.NotNil(t, w)
	require.False(t, w.IsRunning())
}

func TestFileWatcherStartSetsRunning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nexus.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8800\n"), 0o644))

	w, err := NewFileWatcher(path, WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, w.Start(ctx))
	require.True(t, w.IsRunning())

	require.Error(t, w.Start(ctx))
	w.Stop()
}

func TestFileWatcherReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nexus.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8800\n"), 0o644))

	w, err := NewFileWatcher(path, WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)

	reloaded := make(chan *Config, 1)
	w.OnReload(func(cfg *Config) { reloaded <- cfg })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	time.Sleep(15 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9100\n"), 0o644))

	select {
	case cfg := <-reloaded:
		require.Equal(t, 9100, cfg.Server.Port)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload callback")
	}
}

func TestFileWatcherStopIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nexus.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8800\n"), 0o644))

	w, err := NewFileWatcher(path)
	require.NoError(t, err)
	w.Stop()
	w.Stop()
	require.False(t, w.IsRunning())
}
