// Package cachewatch watches the recordings directory with fsnotify and
// republishes create/remove events, so the web server's /debug/events
// feed (and future cache-aware clients) learn about new or pruned
// recordings without polling /check_records.
package cachewatch

import (
	"os"

	"github.com/fsnotify/fsnotify"

	"github.com/yujun2647/watchdogd/internal/wdlog"
)

// Event is a single cache-directory change.
type Event struct {
	Name string
	Op   string
}

// Watch starts watching dir and sends Events to out until done is
// closed. If dir does not exist yet it is created first, matching the
// recorder stage's own cache-path handling.
func Watch(dir string, out chan<- Event, done <-chan struct{}) error {
	log := wdlog.Stage("cachewatch")

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return err
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-done:
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				select {
				case out <- Event{Name: ev.Name, Op: ev.Op.String()}:
				default:
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("cachewatch: watcher error", "err", err)
			}
		}
	}()

	return nil
}
