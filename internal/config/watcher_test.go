package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, DefaultConfig().Save(path))

	var (
		mu     sync.Mutex
		levels []string
	)
	w, err := NewWatcher(path, zap.NewNop(), func(cfg *Config) {
		mu.Lock()
		levels = append(levels, cfg.Logging.Level)
		mu.Unlock()
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watch a moment to attach before mutating the file.
	time.Sleep(100 * time.Millisecond)

	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"
	require.NoError(t, cfg.Save(path))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, l := range levels {
			if l == "debug" {
				return true
			}
		}
		return false
	}, 5*time.Second, 50*time.Millisecond, "reload callback never saw the new level")

	cancel()
	require.NoError(t, <-done)
}

func TestWatcherSkipsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, DefaultConfig().Save(path))

	var (
		mu    sync.Mutex
		calls int
	)
	w, err := NewWatcher(path, zap.NewNop(), func(*Config) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	// A config that fails validation must not reach the callback.
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: shouting\n"), 0o644))
	time.Sleep(600 * time.Millisecond)
	mu.Lock()
	assert.Zero(t, calls)
	mu.Unlock()

	// A later valid write still lands.
	cfg := DefaultConfig()
	cfg.Logging.Level = "error"
	require.NoError(t, cfg.Save(path))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls > 0
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestWatcherIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, DefaultConfig().Save(path))

	var (
		mu    sync.Mutex
		calls int
	)
	w, err := NewWatcher(path, zap.NewNop(), func(*Config) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0o644))
	time.Sleep(600 * time.Millisecond)

	mu.Lock()
	assert.Zero(t, calls, "writes to sibling files must not trigger reloads")
	mu.Unlock()

	cancel()
	require.NoError(t, <-done)
}
