package hapi

import (
	"fmt"
	"sync"
)

const (
	// DefaultNumBuffers is the size of each half of the buffer index space.
	DefaultNumBuffers = 256
	// DefaultNumBuffersSMP is used when several PEs share one process.
	DefaultNumBuffersSMP = 4096
)

// bufferRegistry maps buffer IDs to host and device memory. A slot is free
// iff its device pointer is null; each slot holds at most one live host and
// one live device pointer.
type bufferRegistry struct {
	acc Accelerator

	mu     sync.Mutex // buffer pool
	ids    *idAllocator
	host   [][]byte
	device []DevicePtr
}

func newBufferRegistry(acc Accelerator, n int) *bufferRegistry {
	return &bufferRegistry{
		acc:    acc,
		ids:    newIDAllocator(n),
		host:   make([][]byte, 2*n),
		device: make([]DevicePtr, 2*n),
	}
}

// Allocate resolves requested to a slot and backs it with device memory.
// A requested ID inside the user half is used as-is; anything else gets a
// free system-addressed slot. A slot that already has device memory is reused
// without allocating again.
func (r *bufferRegistry) Allocate(requested, size int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := requested
	if !r.ids.isUser(requested) {
		var ok bool
		id, ok = r.ids.claimSystem()
		if !ok {
			return -1, ErrBuffersExhausted
		}
	}
	if r.device[id] != 0 {
		return id, nil
	}
	p, err := r.acc.Malloc(size)
	if err != nil {
		return -1, fmt.Errorf("allocating %d bytes for buffer %d: %w", size, id, err)
	}
	r.device[id] = p
	r.ids.mark(id)
	return id, nil
}

// Release frees the slot's device memory and marks it free, but only when
// needFree is set: unflagged buffers persist across work requests.
func (r *bufferRegistry) Release(id int, needFree bool) error {
	if !needFree {
		return nil
	}
	r.mu.Lock()
	if !r.ids.valid(id) {
		r.mu.Unlock()
		return fmt.Errorf("release of buffer %d: index out of range", id)
	}
	p := r.device[id]
	r.device[id] = 0
	r.host[id] = nil
	r.ids.clear(id)
	r.mu.Unlock()

	if p == 0 {
		return nil
	}
	if err := r.acc.Free(p); err != nil {
		return fmt.Errorf("freeing buffer %d: %w", id, err)
	}
	return nil
}

// TransferIn records the slot's host buffer and, if bi asks for it, enqueues
// a host-to-device copy on s.
func (r *bufferRegistry) TransferIn(bi *BufferInfo, s Stream) error {
	r.mu.Lock()
	r.host[bi.ID] = bi.Host
	dst := r.device[bi.ID]
	r.mu.Unlock()

	if !bi.TransferToDevice {
		return nil
	}
	if len(bi.Host) < bi.Size {
		return fmt.Errorf("buffer %d: %d < %d: %w", bi.ID, len(bi.Host), bi.Size, ErrHostBufferTooSmall)
	}
	if err := r.acc.MemcpyHtoDAsync(dst, bi.Host[:bi.Size], s.Handle); err != nil {
		return fmt.Errorf("host-to-device copy of buffer %d: %w", bi.ID, err)
	}
	return nil
}

// TransferOut enqueues a device-to-host copy into the slot's recorded host
// buffer if bi asks for it.
func (r *bufferRegistry) TransferOut(bi *BufferInfo, s Stream) error {
	if !bi.TransferToHost {
		return nil
	}
	r.mu.Lock()
	dst := r.host[bi.ID]
	src := r.device[bi.ID]
	r.mu.Unlock()

	if len(dst) < bi.Size {
		return fmt.Errorf("buffer %d: %d < %d: %w", bi.ID, len(dst), bi.Size, ErrHostBufferTooSmall)
	}
	if err := r.acc.MemcpyDtoHAsync(dst[:bi.Size], src, s.Handle); err != nil {
		return fmt.Errorf("device-to-host copy of buffer %d: %w", bi.ID, err)
	}
	return nil
}

// Ptr returns the device pointer for id, or 0 if the slot is free or out of range.
func (r *bufferRegistry) Ptr(id int) DevicePtr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.ids.valid(id) {
		return 0
	}
	return r.device[id]
}

// Live returns the number of slots currently backed by device memory.
func (r *bufferRegistry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ids.liveCount()
}

// releaseAll frees every live slot; used at teardown.
func (r *bufferRegistry) releaseAll() error {
	r.mu.Lock()
	var ptrs []DevicePtr
	for id, p := range r.device {
		if p != 0 {
			ptrs = append(ptrs, p)
			r.device[id] = 0
			r.host[id] = nil
			r.ids.clear(id)
		}
	}
	r.mu.Unlock()

	var first error
	for _, p := range ptrs {
		if err := r.acc.Free(p); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// DeviceBuffers gives kernels read access to the device pointers of buffer slots.
type DeviceBuffers interface {
	Ptr(id int) DevicePtr
}
