package ldb

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// StepDump is one balancing step's database as written to the dump file.
// The file holds one YAML document per step, appended in step order.
type StepDump struct {
	Step       int          `yaml:"step"`
	Version    int          `yaml:"version"`
	Procs      int          `yaml:"procs"`
	Background []float64    `yaml:"background,omitempty"`
	Objects    []DumpObject `yaml:"objects"`
}

// DumpObject is one object in a StepDump.
type DumpObject struct {
	ID         ObjectID `yaml:"id"`
	PE         int      `yaml:"pe"`
	Load       float64  `yaml:"load"`
	Migratable bool     `yaml:"migratable"`
}

// dumpWindow reports whether step falls in [DumpStep, DumpStep+DumpSteps).
func (a *Args) dumpWindow(step int) bool {
	return a.Dump && step >= a.DumpStep && step < a.DumpStep+a.DumpSteps
}

// AppendDump appends d as a new document to path. Every document starts
// with an explicit "---" so separate appends never merge into one mapping.
func AppendDump(path string, d StepDump) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening LB dump: %w", err)
	}
	if _, err := io.WriteString(f, "---\n"); err != nil {
		f.Close()
		return fmt.Errorf("writing LB dump step %d: %w", d.Step, err)
	}
	enc := yaml.NewEncoder(f)
	if err := enc.Encode(d); err != nil {
		f.Close()
		return fmt.Errorf("writing LB dump step %d: %w", d.Step, err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("writing LB dump step %d: %w", d.Step, err)
	}
	return f.Close()
}

// ReadDump returns the dumped steps in [from, from+n), in file order.
func ReadDump(path string, from, n int) ([]StepDump, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening LB dump: %w", err)
	}
	defer f.Close()

	var out []StepDump
	dec := yaml.NewDecoder(f)
	for {
		var d StepDump
		err := dec.Decode(&d)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parsing LB dump: %w", err)
		}
		if d.Step >= from && d.Step < from+n {
			out = append(out, d)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("LB dump %s has no steps in [%d,%d)", path, from, from+n)
	}
	return out, nil
}

// dumpFromDatabase captures the database for step.
func dumpFromDatabase(step, version int, db *Database) StepDump {
	objs := db.Objects()
	d := StepDump{
		Step:       step,
		Version:    version,
		Procs:      db.NumPEs(),
		Background: db.Background(),
		Objects:    make([]DumpObject, len(objs)),
	}
	for i, o := range objs {
		d.Objects[i] = DumpObject{ID: o.ID, PE: o.PE, Load: o.WallLoad, Migratable: o.Migratable}
	}
	return d
}

// Database rebuilds a database from the dump. procs > 0 overrides the PE
// count; objects on PEs beyond it wrap around.
func (d *StepDump) Database(procs int) *Database {
	n := d.Procs
	if procs > 0 {
		n = procs
	}
	if n < 1 {
		n = 1
	}
	db := NewDatabase(n)
	d.Restore(db)
	return db
}

// Restore replaces db's objects and background load with the dump's,
// wrapping PEs onto db's PE count.
func (d *StepDump) Restore(db *Database) {
	db.mu.Lock()
	defer db.mu.Unlock()
	n := len(db.background)
	db.objs = make(map[ObjectID]*Object, len(d.Objects))
	for i := range db.background {
		db.background[i] = 0
	}
	for pe, load := range d.Background {
		db.background[pe%n] += load
	}
	for _, o := range d.Objects {
		db.objs[o.ID] = &Object{ID: o.ID, PE: o.PE % n, WallLoad: o.Load, CPULoad: o.Load, Migratable: o.Migratable}
	}
}
