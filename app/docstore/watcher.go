package docstore

import (
	"sync"
	"sync/atomic"
)

// watcher is one live query. Callbacks run on the watcher's own goroutine,
// one at a time.
type watcher struct {
	q          Query
	onSnapshot func(Snapshot)
	onError    func(error)

	notify chan struct{}
	stop   chan struct{}
	done   chan struct{}

	mu         sync.Mutex // held while a callback runs
	stopped    atomic.Bool
	inCallback atomic.Bool
	stopOnce   sync.Once
}

func newWatcher(q Query, onSnapshot func(Snapshot), onError func(error)) *watcher {
	w := &watcher{
		q:          q,
		onSnapshot: onSnapshot,
		onError:    onError,
		notify:     make(chan struct{}, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	// the first read happens as soon as the goroutine starts
	w.notify <- struct{}{}
	return w
}

// signal marks the watcher dirty. Pending signals coalesce.
func (w *watcher) signal() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// Stop implements Listener.
func (w *watcher) Stop() {
	w.stopOnce.Do(func() {
		w.stopped.Store(true)
		close(w.stop)
	})
	if w.inCallback.Load() {
		// called from a callback, or racing one already in progress
		return
	}
	// wait out a delivery that passed the stopped check
	w.mu.Lock()
	w.mu.Unlock()
}

// invoke runs fn unless the watcher was stopped. It reports whether fn ran.
func (w *watcher) invoke(fn func()) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inCallback.Store(true)
	defer w.inCallback.Store(false)
	if w.stopped.Load() {
		return false
	}
	fn()
	return true
}

func (w *watcher) deliver(snap Snapshot) bool {
	if w.onSnapshot == nil {
		return !w.stopped.Load()
	}
	return w.invoke(func() { w.onSnapshot(snap) })
}

func (w *watcher) fail(err error) {
	if w.onError == nil {
		return
	}
	w.invoke(func() { w.onError(err) })
}
