// Package rng provides deterministic, per-subsystem random streams so that
// randomized balancing strategies and the demo workload are reproducible
// from a single seed.
package rng

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
)

const (
	// SubsystemWorkload drives synthetic object loads in the demo workload.
	// Uses the master seed directly.
	SubsystemWorkload = "workload"

	// SubsystemMigration is used by randomized placement strategies.
	SubsystemMigration = "migration"
)

// SubsystemPE returns the subsystem name for processing element n.
func SubsystemPE(n int) string {
	return fmt.Sprintf("pe_%d", n)
}

// SubsystemStrategy returns the subsystem name for a strategy instance.
func SubsystemStrategy(name string, seq int) string {
	return fmt.Sprintf("strategy_%s_%d", name, seq)
}

// Partitioned hands out isolated *rand.Rand streams per subsystem name.
//
// Derivation:
//   - SubsystemWorkload: master seed
//   - everything else: master seed XOR fnv1a64(name)
//
// ForSubsystem is safe for concurrent use; the returned *rand.Rand is not.
type Partitioned struct {
	seed       int64
	mu         sync.Mutex
	subsystems map[string]*rand.Rand
}

// New creates a Partitioned source from a master seed.
func New(seed int64) *Partitioned {
	return &Partitioned{
		seed:       seed,
		subsystems: make(map[string]*rand.Rand),
	}
}

// ForSubsystem returns the cached stream for name, creating it on first use.
// Never returns nil.
func (p *Partitioned) ForSubsystem(name string) *rand.Rand {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.subsystems[name]; ok {
		return r
	}
	derived := p.seed
	if name != SubsystemWorkload {
		derived ^= fnv1a64(name)
	}
	r := rand.New(rand.NewSource(derived))
	p.subsystems[name] = r
	return r
}

// Seed returns the master seed.
func (p *Partitioned) Seed() int64 {
	return p.seed
}

func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
