package hapi

import (
	"fmt"
	"sync"
)

const (
	// DefaultMempoolMinBufferSize is the smallest mempool size class in bytes.
	DefaultMempoolMinBufferSize = 8
	// DefaultMempoolNumSlots is the number of power-of-two size classes.
	DefaultMempoolNumSlots = 20
)

// MempoolConfig sizes the host staging-memory pool.
type MempoolConfig struct {
	MinBufferSize int
	NumSlots      int
}

func (c MempoolConfig) withDefaults() MempoolConfig {
	if c.MinBufferSize <= 0 {
		c.MinBufferSize = DefaultMempoolMinBufferSize
	}
	if c.NumSlots <= 0 {
		c.NumSlots = DefaultMempoolNumSlots
	}
	return c
}

// hostPool hands out host staging buffers from power-of-two size classes,
// recycling freed buffers per class. Set up lazily on first use.
type hostPool struct {
	cfg MempoolConfig

	mu          sync.Mutex // mempool
	initialized bool
	boundaries  []int
	free        [][][]byte
	owned       map[*byte]int // first byte -> size class
	bytesInUse  int
}

func newHostPool(cfg MempoolConfig) *hostPool {
	return &hostPool{cfg: cfg.withDefaults()}
}

func (p *hostPool) init() {
	p.boundaries = make([]int, p.cfg.NumSlots)
	size := p.cfg.MinBufferSize
	for i := range p.boundaries {
		p.boundaries[i] = size
		size <<= 1
	}
	p.free = make([][][]byte, p.cfg.NumSlots)
	p.owned = make(map[*byte]int)
	p.initialized = true
}

// Malloc returns a buffer of len size backed by the smallest class that fits.
func (p *hostPool) Malloc(size int) ([]byte, error) {
	if size <= 0 {
		return nil, ErrPoolInvalidSize
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		p.init()
	}

	class := -1
	for i, b := range p.boundaries {
		if size <= b {
			class = i
			break
		}
	}
	if class < 0 {
		return nil, fmt.Errorf("%d bytes (max %d): %w", size, p.boundaries[len(p.boundaries)-1], ErrPoolRequestTooLarge)
	}

	var buf []byte
	if n := len(p.free[class]); n > 0 {
		buf = p.free[class][n-1]
		p.free[class] = p.free[class][:n-1]
	} else {
		buf = make([]byte, p.boundaries[class])
	}
	p.owned[&buf[0]] = class
	p.bytesInUse += p.boundaries[class]
	return buf[:size], nil
}

// Free returns buf to its size class.
func (p *hostPool) Free(buf []byte) error {
	if cap(buf) == 0 {
		return ErrPoolForeignBuffer
	}
	full := buf[:cap(buf)]
	p.mu.Lock()
	defer p.mu.Unlock()
	class, ok := p.owned[&full[0]]
	if !ok {
		return ErrPoolForeignBuffer
	}
	delete(p.owned, &full[0])
	p.free[class] = append(p.free[class], full)
	p.bytesInUse -= p.boundaries[class]
	return nil
}

// InUse returns the bytes currently handed out, counted at size-class granularity.
func (p *hostPool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bytesInUse
}
