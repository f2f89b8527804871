package meeting

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce batches bursts of file events into one reload.
const DefaultDebounce = 250 * time.Millisecond

// Watch reloads the facade whenever another process writes the database at
// dbPath. It watches the containing directory so the WAL and journal files
// are seen too, and blocks until ctx is done.
func (f *Facade) Watch(ctx context.Context, dbPath string, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(dbPath)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	f.log.Info("watching for external changes", "path", dbPath)

	base := filepath.Base(dbPath)
	timer := time.NewTimer(debounce)
	timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher closed unexpectedly")
			}
			if !relevant(event, base) {
				continue
			}
			timer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher error channel closed")
			}
			f.log.Warn("watcher error", "err", err)

		case <-timer.C:
			if _, err := f.ReloadData(ctx); err != nil {
				f.log.Warn("reload after external change failed", "err", err)
			}
		}
	}
}

// relevant matches writes to the database file and its -wal / -journal siblings.
func relevant(event fsnotify.Event, base string) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return false
	}
	name := filepath.Base(event.Name)
	return name == base || name == base+"-wal" || name == base+"-journal"
}
