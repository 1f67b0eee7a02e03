package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ///////////////////////////////////////////////
// Watcher
// ///////////////////////////////////////////////

// Watcher reports modification times of a single file, typically the
// state file of a [FileStore]. It watches the parent directory so atomic
// rename-into-place writes are seen, and falls back to stat polling when
// fsnotify is unavailable. Either way a change is only reported when the
// file's mtime differs from the last one reported.
type Watcher struct {
	path     string
	interval time.Duration
	// changes holds at most the latest unread mtime.
	changes chan time.Time
	stop    chan struct{}
	fsw     *fsnotify.Watcher // nil while polling
	polling atomic.Bool
	once    sync.Once

	mu   sync.Mutex
	seen time.Time
}

// NewWatcher starts watching path. The file does not need to exist yet;
// its directory is created if missing.
func NewWatcher(path string) (*Watcher, error) {
	return newWatcher(path, 2*time.Second)
}

func newWatcher(path string, interval time.Duration) (*Watcher, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating watch directory: %w", err)
	}

	w := &Watcher{
		path:     filepath.Clean(path),
		interval: interval,
		changes:  make(chan time.Time, 1),
		stop:     make(chan struct{}),
	}
	w.seen = w.modTime()

	fsw, err := fsnotify.NewWatcher()
	if err == nil {
		if err = fsw.Add(dir); err != nil {
			fsw.Close()
		}
	}
	if err != nil {
		slog.Info("state file watcher falling back to polling", "path", path, "error", err)
		w.startPolling()
		return w, nil
	}

	w.fsw = fsw
	go w.run()
	return w, nil
}

// Changes delivers the file's new mtime after each observed modification.
// Unread changes coalesce into the most recent one.
func (w *Watcher) Changes() <-chan time.Time {
	return w.changes
}

// Polling reports whether the watcher is using polling instead of fsnotify.
func (w *Watcher) Polling() bool {
	return w.polling.Load()
}

// Close stops the watcher. It is safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.stop)
		if w.fsw != nil {
			if cerr := w.fsw.Close(); cerr != nil {
				err = fmt.Errorf("closing fsnotify watcher: %w", cerr)
			}
		}
	})
	return err
}

func (w *Watcher) run() {
	const interesting = fsnotify.Write | fsnotify.Create | fsnotify.Rename
	for {
		select {
		case <-w.stop:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) == w.path && ev.Op&interesting != 0 {
				w.check()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Info("fsnotify error, switching to polling", "error", err)
			w.startPolling()
			return
		}
	}
}

func (w *Watcher) startPolling() {
	w.polling.Store(true)
	go func() {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-w.stop:
				return
			case <-ticker.C:
				w.check()
			}
		}
	}()
}

func (w *Watcher) modTime() time.Time {
	info, err := os.Stat(w.path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// check publishes the current mtime if it differs from the last one seen.
func (w *Watcher) check() {
	mt := w.modTime()
	if mt.IsZero() {
		return
	}
	w.mu.Lock()
	if mt.Equal(w.seen) {
		w.mu.Unlock()
		return
	}
	w.seen = mt
	w.mu.Unlock()

	select {
	case <-w.changes:
	default:
	}
	select {
	case w.changes <- mt:
	default:
	}
}
