package zoneio

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/semihalev/zlog/v2"
	"golang.org/x/time/rate"

	"github.com/semihalev/authdns/dnsname"
)

// Watcher reloads zones whose master files change on disk. Editors fire
// bursts of writes for one save, so reloads per zone are paced by a rate
// limiter instead of running on every event.
type Watcher struct {
	manager *Manager

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	pending  map[string]bool
}

// NewWatcher returns a watcher over the manager's zones.
func NewWatcher(m *Manager) *Watcher {
	return &Watcher{
		manager:  m,
		limiters: make(map[string]*rate.Limiter),
		pending:  make(map[string]bool),
	}
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = fsw.Close() }()

	dirs := make(map[string]bool)
	byPath := make(map[string]string) // cleaned path -> origin

	for origin, path := range w.manager.files {
		byPath[filepath.Clean(path)] = origin
		dirs[filepath.Dir(path)] = true
	}

	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			zlog.Error("Zone watch failed", "dir", dir, "error", err.Error())
		}
	}

	// Retry tick for reloads deferred by the limiter.
	tick := time.NewTicker(time.Second)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			origin, known := byPath[filepath.Clean(ev.Name)]
			if !known {
				continue
			}

			w.mu.Lock()
			w.pending[origin] = true
			w.mu.Unlock()
			w.drain()

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			zlog.Warn("Zone watcher error", "error", err.Error())

		case <-tick.C:
			w.drain()
		}
	}
}

// Check queues a reload for origin, the NOTIFY entry point.
func (w *Watcher) Check(origin string) {
	origin = dnsname.Canonical(origin)
	if _, ok := w.manager.files[origin]; !ok {
		return
	}

	w.mu.Lock()
	w.pending[origin] = true
	w.mu.Unlock()
}

func (w *Watcher) drain() {
	w.mu.Lock()
	due := make([]string, 0, len(w.pending))
	for origin := range w.pending {
		lim, ok := w.limiters[origin]
		if !ok {
			lim = rate.NewLimiter(rate.Every(2*time.Second), 1)
			w.limiters[origin] = lim
		}

		if !lim.Allow() {
			continue
		}

		delete(w.pending, origin)
		due = append(due, origin)
	}
	w.mu.Unlock()

	for _, origin := range due {
		if err := w.manager.Reload(origin); err != nil {
			zlog.Error("Zone reload failed", "zone", origin, "error", err.Error())
		}
	}
}
