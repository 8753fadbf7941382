package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"go.ntppool.org/common/logger"
)

const (
	serverListReloadInterval = 5 * time.Minute
	serverListDebounce       = 100 * time.Millisecond
)

// WatchServerList loads the server list at path and calls update with it,
// then again each time the file changes (or every few minutes if the
// directory can't be watched). Load errors are logged and the previous
// list stays in effect. It blocks until ctx is done.
func WatchServerList(ctx context.Context, path string, update func(context.Context, []Server)) error {
	log := logger.FromContext(ctx).WithGroup("serverlist").With("path", path)

	servers, err := LoadServerList(path)
	if err != nil {
		return err
	}
	update(ctx, servers)

	dir, fileName := filepath.Dir(path), filepath.Base(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.WarnContext(ctx, "failed to create file watcher, falling back to timer-only reloading", "err", err)
		watcher = nil
	} else {
		if err := watcher.Add(dir); err != nil {
			log.WarnContext(ctx, "failed to watch server list directory, falling back to timer-only reloading", "dir", dir, "err", err)
			watcher.Close()
			watcher = nil
		} else {
			defer watcher.Close()
		}
	}

	var events <-chan fsnotify.Event
	var errs <-chan error
	if watcher != nil {
		events = watcher.Events
		errs = watcher.Errors
	}

	timer := time.NewTimer(serverListReloadInterval)
	defer timer.Stop()

	var debounceTimer *time.Timer

	for {
		var debounceC <-chan time.Time
		if debounceTimer != nil {
			debounceC = debounceTimer.C
		}

		select {
		case <-ctx.Done():
			log.DebugContext(ctx, "server list watcher shutting down")
			return nil

		case <-debounceC:
			debounceTimer = nil

		case event, ok := <-events:
			if !ok {
				log.WarnContext(ctx, "file watcher events channel closed")
				events, errs = nil, nil
				continue
			}
			if filepath.Base(event.Name) != fileName {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			log.DebugContext(ctx, "server list changed", "event", event.String())
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.NewTimer(serverListDebounce)
			continue

		case err, ok := <-errs:
			if !ok {
				events, errs = nil, nil
				continue
			}
			log.WarnContext(ctx, "file watcher error", "err", err)
			continue

		case <-timer.C:
		}

		servers, err := LoadServerList(path)
		if err != nil {
			log.WarnContext(ctx, "could not reload server list", "err", err)
		} else {
			log.InfoContext(ctx, "server list reloaded", "servers", len(servers))
			update(ctx, servers)
		}
		timer.Reset(serverListReloadInterval)
	}
}
