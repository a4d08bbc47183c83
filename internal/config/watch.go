package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
)

// Watch calls onChange with the reloaded process configuration every time the
// file at path is written or replaced. Invalid revisions are logged and skipped.
// It blocks until ctx is done.
func Watch(ctx context.Context, fs afero.Fs, path string, onChange func(Process)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Editors often replace files, so watch the directory and filter by name.
	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}

	logger := slog.Default().With("component", "config", "path", path)
	logger.Debug("Watching config file")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			p, err := LoadFile(fs, target)
			if err != nil {
				logger.Warn("Ignoring config change", "error", err)
				continue
			}
			logger.Info("Config reloaded", "topics", p.Topics)
			onChange(p)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Config watcher error", "error", err)
		}
	}
}
