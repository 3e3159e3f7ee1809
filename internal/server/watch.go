package server

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 250 * time.Millisecond

// watchConfig reloads st whenever the config file changes. The parent
// directory is watched so that editors which replace the file by rename are
// picked up too.
func watchConfig(cfgPath string, st *state) (func(), error) {
	abs, err := filepath.Abs(cfgPath)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-done:
				if timer != nil {
					timer.Stop()
				}
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !isConfigChange(ev, abs) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(watchDebounce)
				} else {
					timer.Reset(watchDebounce)
				}
				fire = timer.C
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				st.log.Warn("config watcher error", map[string]any{"error": err.Error()})
			case <-fire:
				fire = nil
				reloadAndLog(st, "watch")
			}
		}
	}()
	return func() {
		close(done)
		_ = w.Close()
	}, nil
}

func isConfigChange(ev fsnotify.Event, path string) bool {
	if filepath.Clean(ev.Name) != path {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)
}
