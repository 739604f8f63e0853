package hapi

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// State is a work request's position in its offload sequence.
type State int32

const (
	StateCreated State = iota
	StateBuffersAllocated
	StateTransferredIn
	StateKernelLaunched
	StateTransferredOut
	StateCompleted
)

var stateNames = [...]string{
	StateCreated:          "created",
	StateBuffersAllocated: "buffers_allocated",
	StateTransferredIn:    "transferred_in",
	StateKernelLaunched:   "kernel_launched",
	StateTransferredOut:   "transferred_out",
	StateCompleted:        "completed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// BufferInfo describes one buffer slot used by a work request.
//
// ID is a user-addressed slot in [0, NumBuffers) or any other value to have
// the system pick one; the chosen ID is written back after allocation.
type BufferInfo struct {
	ID               int
	Size             int
	Host             []byte
	TransferToDevice bool
	TransferToHost   bool
	NeedFree         bool
}

// KernelFunc enqueues a kernel on stream. It must not block on device work.
type KernelFunc func(wr *WorkRequest, stream Stream, buffers DeviceBuffers) error

// WorkRequest bundles buffer transfers and an optional kernel for one stream.
// The caller owns it until Submit; the executor drops it after completion.
type WorkRequest struct {
	Name    string
	Buffers []BufferInfo

	// Kernel may be nil, in which case only the transfers run.
	Kernel KernelFunc

	// Stream pins the request to a stream; nil takes the pool's next stream.
	Stream *Stream

	// Callback runs once, after every stage of the request has finished on the device.
	Callback func(*WorkRequest)

	state    atomic.Int32
	assigned Stream
	submit   time.Time
	marks    [StateCompleted + 1]time.Time
}

// NewWorkRequest creates an empty work request.
func NewWorkRequest(name string) *WorkRequest {
	return &WorkRequest{Name: name}
}

// AddBuffer appends a buffer and returns its position in Buffers.
func (wr *WorkRequest) AddBuffer(id int, host []byte, toDevice, toHost, needFree bool) int {
	wr.Buffers = append(wr.Buffers, BufferInfo{
		ID:               id,
		Size:             len(host),
		Host:             host,
		TransferToDevice: toDevice,
		TransferToHost:   toHost,
		NeedFree:         needFree,
	})
	return len(wr.Buffers) - 1
}

// State returns the request's current stage.
func (wr *WorkRequest) State() State {
	return State(wr.state.Load())
}

// AssignedStream returns the stream the executor ran the request on.
func (wr *WorkRequest) AssignedStream() Stream {
	return wr.assigned
}

func (wr *WorkRequest) advance(s State) {
	wr.state.Store(int32(s))
}

// Completion resolves when a submitted work request has completed on the device.
// There is no Cancel: queued device work cannot be withdrawn.
type Completion struct {
	wr   *WorkRequest
	done chan struct{}
	once sync.Once
}

func newCompletion(wr *WorkRequest) *Completion {
	return &Completion{wr: wr, done: make(chan struct{})}
}

func (c *Completion) resolve() {
	c.once.Do(func() { close(c.done) })
}

// Done is closed once the request's callback has run.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until completion or until ctx ends. A ctx error only stops the
// wait; the request keeps running on the device.
func (c *Completion) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WorkRequest returns the request this completion tracks.
func (c *Completion) WorkRequest() *WorkRequest {
	return c.wr
}
