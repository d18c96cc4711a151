package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatch_EmptyPathIsNoop(t *testing.T) {
	stop, err := Watch(context.Background(), "", slog.New(slog.NewTextHandler(io.Discard, nil)), func(Config) {
		t.Fatal("apply must not be called")
	})
	require.NoError(t, err)
	stop()
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("queue:\n  workers: 2\n"), 0o644))

	applied := make(chan Config, 1)
	stop, err := Watch(context.Background(), path, slog.New(slog.NewTextHandler(io.Discard, nil)), func(cfg Config) {
		select {
		case applied <- cfg:
		default:
		}
	})
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.WriteFile(path, []byte("queue:\n  workers: 9\n"), 0o644))

	select {
	case cfg := <-applied:
		assert.Equal(t, 9, cfg.Queue.Workers)
	case <-time.After(3 * time.Second):
		t.Fatal("config change was not applied")
	}
}
