package ldb

import "sync"

// callbackList holds callbacks by index. Removal leaves a tombstone so
// handles held by other code stay valid.
type callbackList struct {
	mu      sync.Mutex
	entries []*callback
	live    int
}

type callback struct {
	fn func()
	on bool
}

func (l *callbackList) add(fn func()) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, &callback{fn: fn, on: true})
	l.live++
	return len(l.entries) - 1
}

func (l *callbackList) remove(h int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h < 0 || h >= len(l.entries) || l.entries[h] == nil {
		return
	}
	l.entries[h] = nil
	l.live--
}

func (l *callbackList) setOn(h int, on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h >= 0 && h < len(l.entries) && l.entries[h] != nil {
		l.entries[h].on = on
	}
}

func (l *callbackList) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.live
}

// run calls every live, switched-on callback in index order. Callbacks run
// without the list lock held, so they may add or remove entries.
func (l *callbackList) run() {
	l.mu.Lock()
	fns := make([]func(), 0, l.live)
	for _, cb := range l.entries {
		if cb != nil && cb.on {
			fns = append(fns, cb.fn)
		}
	}
	l.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
