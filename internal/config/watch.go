package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 500 * time.Millisecond

// Watch reloads the config file whenever it changes and calls apply with
// the diff against the previously loaded config. It blocks until ctx is done.
func Watch(ctx context.Context, path string, current *Config, apply func(*Config, ConfigDiff)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Editors replace files on save, so watch the directory.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	slog.Info("config watcher started", "path", path)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(reloadDebounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", "error", err)
		case <-pending:
			pending = nil
			next, err := LoadFile(path)
			if err != nil {
				slog.Error("config reload failed", "error", err)
				continue
			}
			diff := Diff(current, next)
			for _, field := range diff.NonReloadable {
				slog.Warn("config change requires restart", "section", field)
			}
			if diff.HasChanges() {
				slog.Info("config reloaded", "pool", diff.PoolChanged, "engine", diff.EngineChanged, "janitor", diff.JanitorChanged)
				apply(next, diff)
			}
			current = next
		}
	}
}
