package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loomrun/agentcore/internal/config"
)

func TestWatcherHotReloadsLogLevelOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: info\n"), 0o644))

	initial := config.Default()
	initial.KVURL = "redis://original"
	w := config.NewWatcher(path, initial)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\n"), 0o644))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if w.Current().LogLevel == "debug" {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.Equal(t, "debug", w.Current().LogLevel)
	require.Equal(t, "redis://original", w.Current().KVURL) // restart-only field untouched
}

func TestWatcherWithNoPathIsNoop(t *testing.T) {
	w := config.NewWatcher("", config.Default())
	require.NoError(t, w.Start(context.Background()))
	w.Stop()
}
