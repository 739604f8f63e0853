package hapi

import (
	"fmt"
	"sync"
)

// Topology describes where this process sits in the process group.
// Zero values are treated as a single-PE, single-node layout.
type Topology struct {
	PEsPerNode        int // PEs (worker threads) in this process
	NumNodes          int // processes in the job
	NumPhysicalNodes  int // hosts in the job
	PEsOnPhysicalNode int // PEs on this host, across all processes
}

func (t Topology) normalized() Topology {
	if t.PEsPerNode < 1 {
		t.PEsPerNode = 1
	}
	if t.NumNodes < 1 {
		t.NumNodes = 1
	}
	if t.NumPhysicalNodes < 1 {
		t.NumPhysicalNodes = 1
	}
	if t.PEsOnPhysicalNode < 1 {
		t.PEsOnPhysicalNode = t.PEsPerNode
	}
	return t
}

// DeviceManager holds per-device metadata for one accelerator visible to the process.
type DeviceManager struct {
	LocalIndex  int // index among this process's devices
	GlobalIndex int // index on the physical node
	Props       DeviceProperties
	PEs         []int // local PE ranks mapped to this device
}

func (d *DeviceManager) String() string {
	return fmt.Sprintf("device[%d] %s (cc %d.%d, %d SMs)", d.LocalIndex, d.Props.Name, d.Props.Major, d.Props.Minor, d.Props.MultiProcessorCount)
}

// deviceSet enumerates devices and owns the PE→device mapping table.
type deviceSet struct {
	devices             []*DeviceManager
	countOnPhysicalNode int

	mu   sync.Mutex // device mapping
	byPE map[int]*DeviceManager
}

// enumerateDevices asks the accelerator for its devices, capping the count at
// the number of PEs in the process, and maps PEs onto devices in blocks.
func enumerateDevices(acc Accelerator, topo Topology) (*deviceSet, error) {
	n, err := acc.DeviceCount()
	if err != nil {
		return nil, fmt.Errorf("querying device count: %w", err)
	}
	if n < 1 {
		return nil, ErrNoDevices
	}
	if n > topo.PEsPerNode {
		n = topo.PEsPerNode
	}

	ds := &deviceSet{
		devices:             make([]*DeviceManager, n),
		countOnPhysicalNode: n * (topo.NumNodes / topo.NumPhysicalNodes),
		byPE:                make(map[int]*DeviceManager, topo.PEsPerNode),
	}
	for i := range ds.devices {
		props, err := acc.DeviceProperties(i)
		if err != nil {
			return nil, fmt.Errorf("querying device %d properties: %w", i, err)
		}
		ds.devices[i] = &DeviceManager{LocalIndex: i, GlobalIndex: i, Props: props}
	}
	for pe := 0; pe < topo.PEsPerNode; pe++ {
		d := ds.devices[pe*n/topo.PEsPerNode]
		d.PEs = append(d.PEs, pe)
		ds.byPE[pe] = d
	}
	return ds, nil
}

func (ds *deviceSet) forPE(pe int) (*DeviceManager, bool) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	d, ok := ds.byPE[pe]
	return d, ok
}

// remap moves pe onto device index dev.
func (ds *deviceSet) remap(pe, dev int) error {
	if dev < 0 || dev >= len(ds.devices) {
		return fmt.Errorf("device index %d out of range [0,%d)", dev, len(ds.devices))
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if old, ok := ds.byPE[pe]; ok {
		for i, p := range old.PEs {
			if p == pe {
				old.PEs = append(old.PEs[:i], old.PEs[i+1:]...)
				break
			}
		}
	}
	d := ds.devices[dev]
	d.PEs = append(d.PEs, pe)
	ds.byPE[pe] = d
	return nil
}
