package accounts

import (
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the registry when accounts.json is edited externally
// (account import tools, hand edits). The registry's own saves are
// skipped. Returns a stop function.
func Watch(r *Registry) (func(), error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory: editors replace the file, which drops a watch
	// placed on the file itself.
	if err := w.Add(filepath.Dir(r.path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(r.path), err)
	}

	done := make(chan struct{})
	go func() {
		var debounce *time.Timer
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != filepath.Base(r.path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if r.savedWithin(2 * time.Second) {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					if err := r.Reload(); err != nil {
						log.Printf("⚠️ [Accounts] reload after file change failed: %v", err)
						return
					}
					if r.events != nil {
						r.events.RecordSystem("Accounts file changed on disk, registry reloaded", map[string]any{
							"path": r.path,
						})
					}
				})
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Printf("⚠️ [Accounts] watcher error: %v", err)
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		w.Close()
	}, nil
}
