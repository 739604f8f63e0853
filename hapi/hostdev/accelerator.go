// Package hostdev is a software accelerator that runs device work on host
// goroutines. Each stream is one worker draining a FIFO of operations, so
// issue order holds within a stream while streams overlap freely.
//
// Device memory is ordinary Go memory addressed through opaque pointers.
package hostdev

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc"

	"github.com/inference-sim/pe-runtime/hapi"
)

var (
	// ErrOutOfMemory means an allocation would exceed the device's TotalMemory.
	ErrOutOfMemory = errors.New("hostdev: out of device memory")
	// ErrBadPointer is returned for a pointer the device never handed out.
	ErrBadPointer = errors.New("hostdev: invalid device pointer")
	// ErrBadStream is returned for an unknown stream handle.
	ErrBadStream = errors.New("hostdev: invalid stream handle")
	// ErrBadDevice is returned for a device index out of range.
	ErrBadDevice = errors.New("hostdev: invalid device")
	// ErrClosed is returned once the device has been closed.
	ErrClosed = errors.New("hostdev: closed")
)

// DefaultProperties describes the device New creates.
var DefaultProperties = hapi.DeviceProperties{
	Name:                "hostdev",
	Major:               6,
	Minor:               1,
	TotalMemory:         1 << 30,
	MultiProcessorCount: 8,
}

// Device implements hapi.Accelerator.
type Device struct {
	props []hapi.DeviceProperties

	mu      sync.Mutex
	current int
	mem     map[hapi.DevicePtr][]byte
	used    int64
	nextPtr hapi.DevicePtr
	streams map[hapi.StreamHandle]*worker
	nextSH  hapi.StreamHandle
	closed  bool

	mallocErr atomic.Pointer[error]
	mallocs   atomic.Int64
	frees     atomic.Int64

	wg conc.WaitGroup
}

// New returns n identical devices with DefaultProperties.
func New(n int) *Device {
	props := make([]hapi.DeviceProperties, n)
	for i := range props {
		props[i] = DefaultProperties
	}
	return NewWithProperties(props...)
}

// NewWithProperties returns one device per entry in props.
func NewWithProperties(props ...hapi.DeviceProperties) *Device {
	d := &Device{
		props:   props,
		mem:     make(map[hapi.DevicePtr][]byte),
		nextPtr: 0x1000,
		streams: make(map[hapi.StreamHandle]*worker),
		nextSH:  1,
	}
	d.streams[0] = d.startWorker()
	return d
}

func (d *Device) startWorker() *worker {
	w := newWorker()
	d.wg.Go(w.run)
	return w
}

func (d *Device) DeviceCount() (int, error) {
	return len(d.props), nil
}

func (d *Device) DeviceProperties(device int) (hapi.DeviceProperties, error) {
	if device < 0 || device >= len(d.props) {
		return hapi.DeviceProperties{}, fmt.Errorf("device %d: %w", device, ErrBadDevice)
	}
	return d.props[device], nil
}

func (d *Device) SetDevice(device int) error {
	if device < 0 || device >= len(d.props) {
		return fmt.Errorf("device %d: %w", device, ErrBadDevice)
	}
	d.mu.Lock()
	d.current = device
	d.mu.Unlock()
	return nil
}

func (d *Device) CurrentDevice() (int, error) {
	if len(d.props) == 0 {
		return 0, ErrBadDevice
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current, nil
}

func (d *Device) StreamCreate() (hapi.StreamHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, ErrClosed
	}
	h := d.nextSH
	d.nextSH++
	d.streams[h] = d.startWorker()
	return h, nil
}

func (d *Device) StreamDestroy(s hapi.StreamHandle) error {
	if s == 0 {
		return fmt.Errorf("destroying default stream: %w", ErrBadStream)
	}
	d.mu.Lock()
	w, ok := d.streams[s]
	delete(d.streams, s)
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("stream %d: %w", s, ErrBadStream)
	}
	w.stop()
	return nil
}

// FailMallocWith makes every later Malloc return err. A nil err clears it.
func (d *Device) FailMallocWith(err error) {
	if err == nil {
		d.mallocErr.Store(nil)
		return
	}
	d.mallocErr.Store(&err)
}

func (d *Device) Malloc(size int) (hapi.DevicePtr, error) {
	if e := d.mallocErr.Load(); e != nil {
		return 0, *e
	}
	if size <= 0 {
		return 0, fmt.Errorf("hostdev: malloc of %d bytes", size)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, ErrClosed
	}
	if limit := d.props[d.current].TotalMemory; limit > 0 && d.used+int64(size) > limit {
		return 0, fmt.Errorf("%d bytes with %d of %d in use: %w", size, d.used, limit, ErrOutOfMemory)
	}
	p := d.nextPtr
	// keep pointers distinct and aligned
	d.nextPtr += hapi.DevicePtr((size + 255) &^ 255)
	d.mem[p] = make([]byte, size)
	d.used += int64(size)
	d.mallocs.Add(1)
	return p, nil
}

func (d *Device) Free(p hapi.DevicePtr) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.mem[p]
	if !ok {
		return fmt.Errorf("free of %#x: %w", p, ErrBadPointer)
	}
	delete(d.mem, p)
	d.used -= int64(len(b))
	d.frees.Add(1)
	return nil
}

// Mallocs returns the number of successful allocations.
func (d *Device) Mallocs() int64 { return d.mallocs.Load() }

// Frees returns the number of successful frees.
func (d *Device) Frees() int64 { return d.frees.Load() }

// Bytes returns the device memory behind p. Kernels use it to reach their buffers.
func (d *Device) Bytes(p hapi.DevicePtr) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.mem[p]
	if !ok {
		return nil, fmt.Errorf("%#x: %w", p, ErrBadPointer)
	}
	return b, nil
}

func (d *Device) stream(s hapi.StreamHandle) (*worker, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	w, ok := d.streams[s]
	if !ok {
		return nil, fmt.Errorf("stream %d: %w", s, ErrBadStream)
	}
	return w, nil
}

func (d *Device) MemcpyHtoDAsync(dst hapi.DevicePtr, src []byte, s hapi.StreamHandle) error {
	w, err := d.stream(s)
	if err != nil {
		return err
	}
	if _, err := d.Bytes(dst); err != nil {
		return err
	}
	w.enqueue(func() {
		if b, err := d.Bytes(dst); err == nil {
			copy(b, src)
		}
	})
	return nil
}

func (d *Device) MemcpyDtoHAsync(dst []byte, src hapi.DevicePtr, s hapi.StreamHandle) error {
	w, err := d.stream(s)
	if err != nil {
		return err
	}
	if _, err := d.Bytes(src); err != nil {
		return err
	}
	w.enqueue(func() {
		if b, err := d.Bytes(src); err == nil {
			copy(dst, b)
		}
	})
	return nil
}

// Launch enqueues fn as a kernel on stream s.
func (d *Device) Launch(s hapi.StreamHandle, fn func()) error {
	w, err := d.stream(s)
	if err != nil {
		return err
	}
	w.enqueue(fn)
	return nil
}

func (d *Device) AddCallback(s hapi.StreamHandle, fn func()) error {
	return d.Launch(s, fn)
}

// Synchronize blocks until every operation enqueued so far on every stream has run.
func (d *Device) Synchronize() {
	d.mu.Lock()
	workers := make([]*worker, 0, len(d.streams))
	for _, w := range d.streams {
		workers = append(workers, w)
	}
	d.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		if !w.enqueue(wg.Done) {
			wg.Done()
		}
	}
	wg.Wait()
}

// Close stops every stream worker after it drains its queue.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	workers := d.streams
	d.streams = map[hapi.StreamHandle]*worker{}
	d.mu.Unlock()

	for _, w := range workers {
		w.stop()
	}
	d.wg.Wait()
	return nil
}
