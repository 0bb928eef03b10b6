package config

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "newsbot/pkg/logx"
)

const reloadDebounce = 250 * time.Millisecond

// ErrWatcherClosed is returned by Watch when fsnotify closes its channels;
// the caller decides whether to restart.
var ErrWatcherClosed = errors.New("config watcher closed")

// Watch reloads the file after it settles for reloadDebounce. The parent
// directory is watched so editors that write a temp file and rename it are
// seen. Watch returns nil when ctx ends and does nothing without a path.
func (m *ConfigManager) Watch(ctx context.Context) error {
	if m.path == "" {
		<-ctx.Done()
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	dir, name := filepath.Split(m.path)
	if dir == "" {
		dir = "."
	}
	if err := w.Add(dir); err != nil {
		return err
	}
	log := m.logger().With(logx.String("path", m.path))
	log.Debug("watching config")

	settle := time.NewTimer(reloadDebounce)
	if !settle.Stop() {
		<-settle.C
	}
	defer settle.Stop()
	pending := false
	arm := func() {
		if pending && !settle.Stop() {
			select {
			case <-settle.C:
			default:
			}
		}
		settle.Reset(reloadDebounce)
		pending = true
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return ErrWatcherClosed
			}
			if filepath.Base(ev.Name) == name && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				arm()
			}

		case err, ok := <-w.Errors:
			if !ok {
				return ErrWatcherClosed
			}
			if !errors.Is(err, fsnotify.ErrEventOverflow) {
				log.Warn("config watch error", logx.Err(err))
				continue
			}
			// events were lost; the file may have changed
			log.Warn("config watch overflow", logx.Err(err))
			arm()

		case <-settle.C:
			pending = false
			switch changed, err := m.Reload(ctx); {
			case err != nil:
				log.Warn("config reload failed, keeping current config", logx.Err(err))
			case changed:
				log.Info("config reloaded")
			default:
				log.Debug("config file touched, content unchanged")
			}
		}
	}
}
