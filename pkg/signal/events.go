package signal

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// eventHub shares one fsnotify watcher on the commands folder between all
// outstanding requests. It starts lazily on the first subscription; if the
// watcher cannot be created subscriptions are refused and callers rely on
// polling.
type eventHub struct {
	folder string
	logger *slog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	started bool
	closed  bool
	subs    map[string]map[*subscription]struct{}
}

type subscription struct {
	fn func()
}

func newEventHub(folder string, logger *slog.Logger) *eventHub {
	return &eventHub{
		folder: folder,
		logger: logger,
		subs:   make(map[string]map[*subscription]struct{}),
	}
}

func (h *eventHub) subscribe(path string, fn func()) (func(), bool) {
	path = filepath.Clean(path)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed || !h.ensureWatcherLocked() {
		return func() {}, false
	}

	sub := &subscription{fn: fn}
	if h.subs[path] == nil {
		h.subs[path] = make(map[*subscription]struct{})
	}
	h.subs[path][sub] = struct{}{}

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.subs[path]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(h.subs, path)
			}
		}
	}

	return cancel, true
}

// ensureWatcherLocked starts the watcher once. Caller holds h.mu.
func (h *eventHub) ensureWatcherLocked() bool {
	if h.started {
		return h.watcher != nil
	}
	h.started = true

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		h.logger.Debug("marker notifications unavailable, polling only", "error", err)
		return false
	}
	if err := watcher.Add(h.folder); err != nil {
		watcher.Close()
		h.logger.Debug("cannot watch commands folder, polling only", "error", err)
		return false
	}

	h.watcher = watcher
	go h.run(watcher)
	return true
}

func (h *eventHub) run(watcher *fsnotify.Watcher) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			h.dispatch(filepath.Clean(event.Name))

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			h.logger.Debug("commands folder watch error", "error", err)
		}
	}
}

// dispatch runs the callbacks outside the lock so a callback may cancel its
// own subscription.
func (h *eventHub) dispatch(path string) {
	h.mu.Lock()
	fns := make([]func(), 0, len(h.subs[path]))
	for sub := range h.subs[path] {
		fns = append(fns, sub.fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (h *eventHub) close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	h.subs = make(map[string]map[*subscription]struct{})
	if h.watcher == nil {
		return nil
	}
	err := h.watcher.Close()
	h.watcher = nil
	return err
}
