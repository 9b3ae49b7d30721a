package config

import (
	"context"
	"path/filepath"
	"time"

	"steward/internal/logger"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 500 * time.Millisecond

// Watch re-loads the config whenever the file changes and hands the new
// config to onReload. A file that fails to load keeps the previous config in
// effect. Watch blocks until ctx is done.
//
// Editors replace files instead of writing in place, so the parent directory
// is watched and events are filtered by name.
func Watch(ctx context.Context, path string, onReload func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	pending := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, func() {
				select {
				case pending <- struct{}{}:
				default:
				}
			})
		case <-pending:
			cfg, err := Load(abs)
			if err != nil {
				logger.Warnf("config: reload failed, keeping previous config: %v", err)
				continue
			}
			logger.Infof("config: reloaded from %s", abs)
			onReload(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warnf("config: watcher error: %v", err)
		}
	}
}
