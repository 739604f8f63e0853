package hostdev

import "sync"

// worker runs one stream's operations in issue order. Enqueue never blocks.
type worker struct {
	mu      sync.Mutex
	cond    *sync.Cond
	ops     []func()
	stopped bool
}

func newWorker() *worker {
	w := &worker{}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// enqueue appends op; false once the worker has been stopped.
func (w *worker) enqueue(op func()) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return false
	}
	w.ops = append(w.ops, op)
	w.cond.Signal()
	return true
}

// stop lets the worker drain what is queued and exit.
func (w *worker) stop() {
	w.mu.Lock()
	w.stopped = true
	w.cond.Signal()
	w.mu.Unlock()
}

func (w *worker) run() {
	for {
		w.mu.Lock()
		for len(w.ops) == 0 && !w.stopped {
			w.cond.Wait()
		}
		if len(w.ops) == 0 {
			w.mu.Unlock()
			return
		}
		op := w.ops[0]
		w.ops[0] = nil
		w.ops = w.ops[1:]
		w.mu.Unlock()

		op()
	}
}
