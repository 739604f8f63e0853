package hapi

import (
	"errors"
	"sync"
)

var errInjected = errors.New("injected")

// fakeAccelerator completes every operation at issue time, so callbacks fire
// synchronously inside the call that registers them.
type fakeAccelerator struct {
	mu        sync.Mutex
	props     []DeviceProperties
	current   int
	nextSH    StreamHandle
	streams   map[StreamHandle]bool
	nextPtr   DevicePtr
	mem       map[DevicePtr][]byte
	mallocs   int
	frees     int
	h2d, d2h  int
	failAfter int // StreamCreate fails once this many streams exist; 0 disables
}

func newFake(props ...DeviceProperties) *fakeAccelerator {
	if len(props) == 0 {
		props = []DeviceProperties{{Name: "fake", Major: 6, Minor: 1}}
	}
	return &fakeAccelerator{
		props:   props,
		nextSH:  1,
		streams: map[StreamHandle]bool{},
		nextPtr: 0x100,
		mem:     map[DevicePtr][]byte{},
	}
}

func (f *fakeAccelerator) DeviceCount() (int, error) { return len(f.props), nil }

func (f *fakeAccelerator) DeviceProperties(d int) (DeviceProperties, error) {
	if d < 0 || d >= len(f.props) {
		return DeviceProperties{}, errInjected
	}
	return f.props[d], nil
}

func (f *fakeAccelerator) SetDevice(d int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = d
	return nil
}

func (f *fakeAccelerator) CurrentDevice() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, nil
}

func (f *fakeAccelerator) StreamCreate() (StreamHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAfter > 0 && len(f.streams) >= f.failAfter {
		return 0, errInjected
	}
	h := f.nextSH
	f.nextSH++
	f.streams[h] = true
	return h, nil
}

func (f *fakeAccelerator) StreamDestroy(s StreamHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.streams, s)
	return nil
}

func (f *fakeAccelerator) Malloc(size int) (DevicePtr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.nextPtr
	f.nextPtr += DevicePtr(size + 16)
	f.mem[p] = make([]byte, size)
	f.mallocs++
	return p, nil
}

func (f *fakeAccelerator) Free(p DevicePtr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.mem[p]; !ok {
		return errInjected
	}
	delete(f.mem, p)
	f.frees++
	return nil
}

func (f *fakeAccelerator) MemcpyHtoDAsync(dst DevicePtr, src []byte, _ StreamHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copy(f.mem[dst], src)
	f.h2d++
	return nil
}

func (f *fakeAccelerator) MemcpyDtoHAsync(dst []byte, src DevicePtr, _ StreamHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copy(dst, f.mem[src])
	f.d2h++
	return nil
}

func (f *fakeAccelerator) AddCallback(_ StreamHandle, fn func()) error {
	fn()
	return nil
}

func (f *fakeAccelerator) bytes(p DevicePtr) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mem[p]
}
