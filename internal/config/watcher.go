package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads the configuration file when it changes on disk and hands
// each successfully parsed result to a callback. The parent directory is
// watched rather than the file itself: editors and config managers replace
// files on save, which breaks a direct file watch.
type Watcher struct {
	path     string
	debounce time.Duration
	log      *zap.Logger
	onChange func(*Config)
}

// NewWatcher prepares a watcher for the config file at path. The callback
// runs on the watcher goroutine; keep it quick.
func NewWatcher(path string, logger *zap.Logger, onChange func(*Config)) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		path:     abs,
		debounce: 200 * time.Millisecond,
		log:      logger.Named("config-watcher"),
		onChange: onChange,
	}, nil
}

// Run blocks watching for changes until ctx is canceled. Reload failures are
// logged and skipped; the previous configuration simply stays in effect.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	w.log.Debug("watching config", zap.String("path", w.path))

	// Rapid save sequences collapse into one reload per debounce window.
	var reload <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			reload = time.After(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("config watch error", zap.Error(err))

		case <-reload:
			reload = nil
			cfg, err := Load(w.path)
			if err != nil {
				w.log.Warn("config reload rejected", zap.Error(err))
				continue
			}
			w.log.Info("config reloaded", zap.String("path", w.path))
			w.onChange(cfg)
		}
	}
}
