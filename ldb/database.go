package ldb

import (
	"fmt"
	"sort"
	"sync"
)

// ObjectID identifies a unit of work tracked by the load database.
type ObjectID int

// Object is one unit of work and its measured load.
type Object struct {
	ID         ObjectID
	PE         int
	WallLoad   float64
	CPULoad    float64
	Migratable bool
}

// Migration moves Object from PE From to PE To.
type Migration struct {
	Object ObjectID
	From   int
	To     int
}

// Database holds per-object loads and per-PE background load. Objects may be
// added at any time, but moving or removing one is only accepted while the
// owning manager is balancing.
type Database struct {
	mu         sync.RWMutex
	objs       map[ObjectID]*Object
	background []float64
	statsOn    bool

	// balancing gates Migrate and Remove; nil accepts everything.
	balancing func() bool
}

// NewDatabase returns an empty database for n PEs with collection on.
func NewDatabase(n int) *Database {
	return &Database{
		objs:       make(map[ObjectID]*Object),
		background: make([]float64, n),
		statsOn:    true,
	}
}

// NumPEs returns the number of PEs the database tracks.
func (d *Database) NumPEs() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.background)
}

// Add registers obj. Adding an existing ID replaces it.
func (d *Database) Add(obj Object) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if obj.PE < 0 || obj.PE >= len(d.background) {
		return fmt.Errorf("object %d on PE %d: PE out of range [0,%d)", obj.ID, obj.PE, len(d.background))
	}
	o := obj
	d.objs[obj.ID] = &o
	return nil
}

// Remove drops an object. Only allowed while balancing.
func (d *Database) Remove(id ObjectID) error {
	if d.balancing != nil && !d.balancing() {
		return fmt.Errorf("removing object %d: %w", id, ErrNotAtBarrier)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.objs[id]; !ok {
		return fmt.Errorf("object %d: %w", id, ErrUnknownObject)
	}
	delete(d.objs, id)
	return nil
}

// Get returns a copy of the object.
func (d *Database) Get(id ObjectID) (Object, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	o, ok := d.objs[id]
	if !ok {
		return Object{}, false
	}
	return *o, true
}

// AddLoad accumulates measured load onto an object. Ignored while collection is off.
func (d *Database) AddLoad(id ObjectID, wall, cpu float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.statsOn {
		return nil
	}
	o, ok := d.objs[id]
	if !ok {
		return fmt.Errorf("object %d: %w", id, ErrUnknownObject)
	}
	o.WallLoad += wall
	o.CPULoad += cpu
	return nil
}

// SetBackgroundLoad records load on pe not attributable to any object.
func (d *Database) SetBackgroundLoad(pe int, load float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if pe >= 0 && pe < len(d.background) {
		d.background[pe] = load
	}
}

// ClearLoads zeroes every measured load.
func (d *Database) ClearLoads() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, o := range d.objs {
		o.WallLoad, o.CPULoad = 0, 0
	}
	for i := range d.background {
		d.background[i] = 0
	}
}

// SetStatsOn switches load collection.
func (d *Database) SetStatsOn(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statsOn = on
}

// StatsOn reports whether load collection is on.
func (d *Database) StatsOn() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.statsOn
}

// Migrate moves an object to PE to. Only allowed while balancing.
func (d *Database) Migrate(id ObjectID, to int) (from int, err error) {
	if d.balancing != nil && !d.balancing() {
		return -1, fmt.Errorf("migrating object %d: %w", id, ErrNotAtBarrier)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	o, ok := d.objs[id]
	if !ok {
		return -1, fmt.Errorf("object %d: %w", id, ErrUnknownObject)
	}
	if to < 0 || to >= len(d.background) {
		return -1, fmt.Errorf("migrating object %d to PE %d: PE out of range [0,%d)", id, to, len(d.background))
	}
	if !o.Migratable {
		return -1, fmt.Errorf("object %d is not migratable", id)
	}
	from = o.PE
	o.PE = to
	return from, nil
}

// Objects returns a copy of every object ordered by ID.
func (d *Database) Objects() []Object {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Object, 0, len(d.objs))
	for _, o := range d.objs {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Background returns a copy of per-PE background load.
func (d *Database) Background() []float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]float64(nil), d.background...)
}

// Stats is the load snapshot a strategy balances. Loads are already adjusted
// for the run's flags: Load is wall or CPU time, and Background holds the
// load a strategy cannot move.
type Stats struct {
	Step       int
	NumPEs     int
	Avail      []bool
	Background []float64
	Objects    []StatsObject
}

// StatsObject is one migratable object in a Stats snapshot.
type StatsObject struct {
	ID   ObjectID
	PE   int
	Load float64
}

// PELoads returns total load per PE: background plus object loads.
func (s *Stats) PELoads() []float64 {
	loads := make([]float64, s.NumPEs)
	copy(loads, s.Background)
	for _, o := range s.Objects {
		if o.PE >= 0 && o.PE < s.NumPEs {
			loads[o.PE] += o.Load
		}
	}
	return loads
}

// Available reports whether pe may receive objects.
func (s *Stats) Available(pe int) bool {
	if pe < 0 || pe >= s.NumPEs {
		return false
	}
	return pe >= len(s.Avail) || s.Avail[pe]
}
