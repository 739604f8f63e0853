package hapi

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// executor drives work requests through their stages. Each stage enqueues on
// the request's stream and returns; completion arrives as a stream callback.
type executor struct {
	acc        Accelerator
	buffers    *bufferRegistry
	metrics    *Metrics
	instrument bool
	fatal      func(error)

	mu       sync.Mutex // queue state
	inflight map[*WorkRequest]*Completion
}

func newExecutor(acc Accelerator, buffers *bufferRegistry, metrics *Metrics, instrument bool, fatal func(error)) *executor {
	return &executor{
		acc:        acc,
		buffers:    buffers,
		metrics:    metrics,
		instrument: instrument,
		fatal:      fatal,
		inflight:   make(map[*WorkRequest]*Completion),
	}
}

// run issues every stage of wr on s. It never blocks on device work.
func (e *executor) run(wr *WorkRequest, s Stream) *Completion {
	wr.assigned = s
	wr.submit = time.Now()
	wr.advance(StateCreated)
	c := newCompletion(wr)

	e.mu.Lock()
	e.inflight[wr] = c
	e.mu.Unlock()
	e.metrics.requests.WithLabelValues(StateCreated.String()).Inc()

	for i := range wr.Buffers {
		bi := &wr.Buffers[i]
		id, err := e.buffers.Allocate(bi.ID, bi.Size)
		e.check(wr, err)
		bi.ID = id
	}
	e.advance(wr, s, StateBuffersAllocated)

	for i := range wr.Buffers {
		e.check(wr, e.buffers.TransferIn(&wr.Buffers[i], s))
	}
	e.advance(wr, s, StateTransferredIn)

	if wr.Kernel != nil {
		e.check(wr, wr.Kernel(wr, s, e.buffers))
	} else {
		logrus.Debugf("[HAPI] %s: no kernel, transfer-only request", wr.Name)
	}
	e.advance(wr, s, StateKernelLaunched)

	for i := range wr.Buffers {
		e.check(wr, e.buffers.TransferOut(&wr.Buffers[i], s))
	}
	e.advance(wr, s, StateTransferredOut)

	e.check(wr, e.acc.AddCallback(s.Handle, func() { e.complete(wr, c) }))
	return c
}

// complete runs on the stream once everything wr enqueued has finished.
func (e *executor) complete(wr *WorkRequest, c *Completion) {
	for i := range wr.Buffers {
		bi := &wr.Buffers[i]
		e.check(wr, e.buffers.Release(bi.ID, bi.NeedFree))
	}
	now := time.Now()
	wr.marks[StateCompleted] = now
	wr.advance(StateCompleted)
	e.metrics.requests.WithLabelValues(StateCompleted.String()).Inc()
	e.metrics.liveBuffers.Set(float64(e.buffers.Live()))
	e.observe(wr, now)

	e.mu.Lock()
	delete(e.inflight, wr)
	e.mu.Unlock()

	logrus.Debugf("[HAPI] %s completed on stream %d in %v", wr.Name, wr.assigned.Index, now.Sub(wr.submit))
	if wr.Callback != nil {
		wr.Callback(wr)
	}
	c.resolve()
}

func (e *executor) advance(wr *WorkRequest, s Stream, st State) {
	wr.advance(st)
	e.metrics.requests.WithLabelValues(st.String()).Inc()
	if st == StateBuffersAllocated {
		e.metrics.liveBuffers.Set(float64(e.buffers.Live()))
	}
	if e.instrument {
		e.check(wr, e.acc.AddCallback(s.Handle, func() { wr.marks[st] = time.Now() }))
	}
}

// observe records per-phase device time. Phase marks exist only when
// instrumentation registered a callback after each stage.
func (e *executor) observe(wr *WorkRequest, now time.Time) {
	e.metrics.phaseSeconds.WithLabelValues("total").Observe(now.Sub(wr.submit).Seconds())
	if !e.instrument {
		return
	}
	in, kern, out := wr.marks[StateTransferredIn], wr.marks[StateKernelLaunched], wr.marks[StateTransferredOut]
	e.metrics.phaseSeconds.WithLabelValues("setup").Observe(in.Sub(wr.submit).Seconds())
	e.metrics.phaseSeconds.WithLabelValues("kernel").Observe(kern.Sub(in).Seconds())
	e.metrics.phaseSeconds.WithLabelValues("cleanup").Observe(out.Sub(kern).Seconds())
}

// check escalates any error to the fatal handler: partially configured device
// state cannot be unwound.
func (e *executor) check(wr *WorkRequest, err error) {
	if err == nil {
		return
	}
	e.fatal(fmt.Errorf("work request %q in state %s: %w", wr.Name, wr.State(), err))
}

// pending returns the number of submitted requests not yet completed.
func (e *executor) pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inflight)
}
