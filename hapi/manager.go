package hapi

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Options configures a Manager. The zero value is a non-SMP, single-PE process.
type Options struct {
	// NumBuffers sizes each half of the buffer index space. Zero selects
	// DefaultNumBuffers, or DefaultNumBuffersSMP when SMP is set.
	NumBuffers int

	// SMP means all PEs on a device live in this process, so streams are not
	// divided between processes.
	SMP bool

	Topology Topology
	Mempool  MempoolConfig

	// Instrument records per-phase device times with extra stream callbacks.
	Instrument bool

	// Abort handles fatal conditions. It must not return; if it does, the
	// Manager panics with the same error. Defaults to logrus.Fatalf.
	Abort func(error)

	// Registerer receives the Manager's metrics. Nil keeps them private.
	Registerer prometheus.Registerer
}

// Manager is the per-process offload facade. It owns the devices, the stream
// pool, the buffer registry, the host mempool and the work request executor.
// Construct one per process and share it.
type Manager struct {
	acc     Accelerator
	opts    Options
	devices *deviceSet
	streams *streamPool
	buffers *bufferRegistry
	mempool *hostPool
	exec    *executor
	metrics *Metrics
	closed  atomic.Bool
}

// NewManager enumerates devices and builds the offload layer on acc.
// Streams are not created until CreateStreams or CreateNStreams is called.
func NewManager(acc Accelerator, opts Options) (*Manager, error) {
	if acc == nil {
		return nil, errors.New("hapi: nil accelerator")
	}
	opts.Topology = opts.Topology.normalized()
	if opts.NumBuffers <= 0 {
		opts.NumBuffers = DefaultNumBuffers
		if opts.SMP {
			opts.NumBuffers = DefaultNumBuffersSMP
		}
	}
	if opts.Abort == nil {
		opts.Abort = func(err error) { logrus.Fatalf("[HAPI] %v", err) }
	}

	devices, err := enumerateDevices(acc, opts.Topology)
	if err != nil {
		return nil, fmt.Errorf("hapi: %w", err)
	}

	m := &Manager{
		acc:     acc,
		opts:    opts,
		devices: devices,
		streams: newStreamPool(acc),
		buffers: newBufferRegistry(acc, opts.NumBuffers),
		mempool: newHostPool(opts.Mempool),
		metrics: NewMetrics(opts.Registerer),
	}
	m.exec = newExecutor(acc, m.buffers, m.metrics, opts.Instrument, m.fatal)

	logrus.Infof("[HAPI] %d device(s), %d on physical node, %d buffer slots per half",
		len(devices.devices), devices.countOnPhysicalNode, opts.NumBuffers)
	for _, d := range devices.devices {
		logrus.Debugf("[HAPI] %s serves PEs %v", d, d.PEs)
	}
	return m, nil
}

func (m *Manager) fatal(err error) {
	m.opts.Abort(err)
	panic(err)
}

// CreateStreams creates as many streams as the current device runs kernels
// concurrently, divided between the processes sharing the device. Returns the
// pool size.
func (m *Manager) CreateStreams() int {
	dev, err := m.acc.CurrentDevice()
	if err != nil {
		m.fatal(fmt.Errorf("querying current device: %w", err))
	}
	props, err := m.acc.DeviceProperties(dev)
	if err != nil {
		m.fatal(fmt.Errorf("querying device %d properties: %w", dev, err))
	}
	// the host's full device count: the enumerated set is capped at this
	// process's PEs, but the device's slots are shared host-wide
	count, err := m.acc.DeviceCount()
	if err != nil {
		m.fatal(fmt.Errorf("querying device count: %w", err))
	}
	slots := ConcurrentKernelSlots(props.Major, props.Minor)
	n := streamsPerProcess(slots, m.opts.Topology, count, m.opts.SMP)
	logrus.Debugf("[HAPI] cc %d.%d allows %d concurrent kernels, %d stream(s) for this process",
		props.Major, props.Minor, slots, n)
	return m.CreateNStreams(n)
}

// CreateNStreams grows the pool to at least n streams and returns its size.
func (m *Manager) CreateNStreams(n int) int {
	size, err := m.streams.EnsureCapacity(n)
	m.metrics.streams.Set(float64(m.streams.created()))
	if err != nil {
		m.fatal(err)
	}
	return size
}

// NextStream returns the next stream in round-robin order.
func (m *Manager) NextStream() Stream {
	return m.streams.Next()
}

// Stream returns the stream at index i. An index outside the pool is fatal.
func (m *Manager) Stream(i int) Stream {
	s, err := m.streams.Get(i)
	if err != nil {
		m.fatal(err)
	}
	return s
}

// NumStreams returns the pool size, 1 when only the default stream exists.
func (m *Manager) NumStreams() int {
	return m.streams.Size()
}

// Submit schedules wr and returns immediately. The returned Completion
// resolves after wr.Callback has run.
func (m *Manager) Submit(wr *WorkRequest) *Completion {
	if m.closed.Load() {
		m.fatal(fmt.Errorf("submit %q: %w", wr.Name, ErrClosed))
	}
	var s Stream
	if wr.Stream != nil {
		s = *wr.Stream
	} else {
		s = m.streams.Next()
	}
	return m.exec.run(wr, s)
}

// Pending returns the number of submitted requests that have not completed.
func (m *Manager) Pending() int {
	return m.exec.pending()
}

// BufferPtr returns the device pointer held by buffer slot id, 0 if free.
func (m *Manager) BufferPtr(id int) DevicePtr {
	return m.buffers.Ptr(id)
}

// LiveBuffers returns the number of buffer slots backed by device memory.
func (m *Manager) LiveBuffers() int {
	return m.buffers.Live()
}

// NumBuffers returns the size of each half of the buffer index space.
func (m *Manager) NumBuffers() int {
	return m.opts.NumBuffers
}

// PoolMalloc returns host staging memory from the mempool.
func (m *Manager) PoolMalloc(size int) ([]byte, error) {
	buf, err := m.mempool.Malloc(size)
	m.metrics.poolBytes.Set(float64(m.mempool.InUse()))
	return buf, err
}

// PoolFree returns memory obtained from PoolMalloc.
func (m *Manager) PoolFree(buf []byte) error {
	err := m.mempool.Free(buf)
	m.metrics.poolBytes.Set(float64(m.mempool.InUse()))
	return err
}

// Devices returns the devices visible to this process.
func (m *Manager) Devices() []*DeviceManager {
	return m.devices.devices
}

// DeviceForPE returns the device serving local PE rank pe.
func (m *Manager) DeviceForPE(pe int) (*DeviceManager, bool) {
	return m.devices.forPE(pe)
}

// MapPE moves local PE rank pe onto device index dev.
func (m *Manager) MapPE(pe, dev int) error {
	return m.devices.remap(pe, dev)
}

// Close destroys the streams and frees every live buffer. Requests still in
// flight are not waited for.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	if n := m.exec.pending(); n > 0 {
		logrus.Warnf("[HAPI] closing with %d work request(s) in flight", n)
	}
	return errors.Join(m.streams.Destroy(), m.buffers.releaseAll())
}
