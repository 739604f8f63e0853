package hapi

import (
	"fmt"
	"sync"
)

// Stream is a handle to one device execution queue in the pool.
// Index is the stream's dense position in the pool.
type Stream struct {
	Index  int
	Handle StreamHandle
}

// DefaultStream stands for the device's implicit queue, used while the pool is empty.
var DefaultStream = Stream{}

// IsDefault reports whether s is the implicit default queue.
func (s Stream) IsDefault() bool {
	return s.Handle == 0
}

// ccEntry maps known minor versions of one compute-capability major version
// to concurrent-kernel slots; fallback covers unknown minors.
type ccEntry struct {
	minors   map[int]int
	fallback int
}

// concurrencyTable gives the number of concurrent kernels per compute capability.
var concurrencyTable = map[int]ccEntry{
	3: {minors: map[int]int{0: 16, 2: 4}, fallback: 32},
	5: {minors: map[int]int{3: 16}, fallback: 32},
	6: {minors: map[int]int{1: 32, 2: 16}, fallback: 128},
}

// futureCCSlots covers compute capabilities missing from concurrencyTable.
const futureCCSlots = 128

// ConcurrentKernelSlots returns the concurrent-kernel count for a device of
// the given compute capability.
func ConcurrentKernelSlots(major, minor int) int {
	e, ok := concurrencyTable[major]
	if !ok {
		return futureCCSlots
	}
	if n, ok := e.minors[minor]; ok {
		return n
	}
	return e.fallback
}

// streamsPerProcess divides slots evenly between the processes sharing a
// device. In SMP mode one process owns the device and keeps every slot.
func streamsPerProcess(slots int, topo Topology, deviceCount int, smp bool) int {
	if smp || deviceCount < 1 {
		return slots
	}
	pesPerDevice := topo.PEsOnPhysicalNode / deviceCount
	if pesPerDevice < 1 {
		pesPerDevice = 1
	}
	return (slots + pesPerDevice - 1) / pesPerDevice
}

// streamPool owns the process's device streams and hands them out round-robin.
// Streams are created lazily and only destroyed at teardown.
type streamPool struct {
	acc Accelerator

	mu      sync.Mutex // stream growth and the round-robin cursor
	streams []StreamHandle
	last    int
}

func newStreamPool(acc Accelerator) *streamPool {
	return &streamPool{acc: acc, last: -1}
}

// EnsureCapacity grows the pool to at least n streams and returns the
// resulting size. Existing streams keep their index and handle.
func (p *streamPool) EnsureCapacity(n int) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n <= len(p.streams) {
		return len(p.streams), nil
	}
	grown := make([]StreamHandle, len(p.streams), n)
	copy(grown, p.streams)
	for len(grown) < n {
		h, err := p.acc.StreamCreate()
		if err != nil {
			// keep what was created so far; it is still owned by the pool
			p.streams = grown
			return len(p.streams), fmt.Errorf("creating stream %d: %w", len(grown), err)
		}
		grown = append(grown, h)
	}
	p.streams = grown
	return len(p.streams), nil
}

// Next returns the stream after the one last returned, wrapping at the pool
// size. With no streams it returns DefaultStream.
func (p *streamPool) Next() Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.streams) == 0 {
		return DefaultStream
	}
	p.last = (p.last + 1) % len(p.streams)
	return Stream{Index: p.last, Handle: p.streams[p.last]}
}

// Get returns the stream at index i. With no streams the pool has size 1 and
// index 0 is DefaultStream.
func (p *streamPool) Get(i int) (Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.streams) == 0 {
		if i != 0 {
			return Stream{}, fmt.Errorf("stream %d of 1: %w", i, ErrInvalidStream)
		}
		return DefaultStream, nil
	}
	if i < 0 || i >= len(p.streams) {
		return Stream{}, fmt.Errorf("stream %d of %d: %w", i, len(p.streams), ErrInvalidStream)
	}
	return Stream{Index: i, Handle: p.streams[i]}, nil
}

// Size returns the number of streams, or 1 when none exist: callers then run
// on the implicit default queue through the same code path.
func (p *streamPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.streams) == 0 {
		return 1
	}
	return len(p.streams)
}

// created returns the number of streams actually created.
func (p *streamPool) created() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.streams)
}

// Destroy releases every stream. The first error is returned; the rest are still attempted.
func (p *streamPool) Destroy() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var first error
	for i, h := range p.streams {
		if err := p.acc.StreamDestroy(h); err != nil && first == nil {
			first = fmt.Errorf("destroying stream %d: %w", i, err)
		}
	}
	p.streams = nil
	p.last = -1
	return first
}
