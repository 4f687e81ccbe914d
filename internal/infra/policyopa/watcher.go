package policyopa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads engine whenever its policy file changes, until ctx is done.
// The parent directory is watched so editors that replace the file by rename
// are picked up too.
func Watch(ctx context.Context, engine *Engine, logger *slog.Logger) error {
	if engine == nil || engine.Path() == "" {
		return errors.New("policy watch requires a file-backed engine")
	}
	if logger == nil {
		logger = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create policy watcher: %w", err)
	}
	target := filepath.Clean(engine.Path())
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch policy dir: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if err := engine.Reload(ctx); err != nil {
					logger.Error("policy reload failed, keeping previous policy", "path", target, "error", err)
					continue
				}
				logger.Info("policy reloaded", "path", target, "policy_hash", engine.PolicyHash())
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("policy watcher error", "error", err)
			}
		}
	}()
	return nil
}
