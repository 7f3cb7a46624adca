package config

import (
	"context"

	"github.com/fsnotify/fsnotify"

	"github.com/GOTO-OBS/gtecs-alert-sentinel/internal/telemetry/logging"
)

// Watch reloads path into store whenever the file is written, until ctx is
// canceled. Parse errors are logged and the previous configuration is kept.
func Watch(ctx context.Context, path string, store *Store, log logging.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					log.WarnCtx(ctx, "config reload failed, keeping previous", "error", err)
					continue
				}
				store.Set(cfg)
				log.InfoCtx(ctx, "config reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WarnCtx(ctx, "config watcher error", "error", err)
			}
		}
	}()
	return nil
}
