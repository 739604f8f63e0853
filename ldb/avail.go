package ldb

import (
	"fmt"
	"sync"
)

// Special newLB arguments to AvailVector.Set.
const (
	ComputeNewLB = -1 // pick the first available PE
	KeepNewLB    = -2 // leave the current choice alone
)

// AvailVector records which PEs may receive objects and which PE hosts the
// next central balancing step. One lock covers both since they change together.
type AvailVector struct {
	mu       sync.Mutex
	avail    []bool
	newLB    int
	restored bool
}

// NewAvailVector returns n PEs, all available.
func NewAvailVector(n int) *AvailVector {
	v := &AvailVector{avail: make([]bool, n)}
	for i := range v.avail {
		v.avail[i] = true
	}
	return v
}

// Get returns a copy of the bitmap.
func (v *AvailVector) Get() []bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]bool(nil), v.avail...)
}

// Len returns the number of PEs tracked.
func (v *AvailVector) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.avail)
}

// Set copies bitmap in and updates the balancing PE: KeepNewLB leaves it,
// a non-negative newLB sets it, ComputeNewLB picks the first available PE.
// bitmap must cover every PE and newLB must be a PE index.
func (v *AvailVector) Set(bitmap []bool, newLB int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := len(v.avail)
	if len(bitmap) < n {
		panic(fmt.Sprintf("ldb: availability bitmap covers %d of %d PEs", len(bitmap), n))
	}
	assigned := false
	switch {
	case newLB == KeepNewLB:
		assigned = true
	case newLB >= 0:
		if newLB >= n {
			panic(fmt.Sprintf("ldb: new load balancer PE %d out of range [0,%d)", newLB, n))
		}
		v.newLB = newLB
		assigned = true
	}
	for pe := 0; pe < n; pe++ {
		v.avail[pe] = bitmap[pe]
		if bitmap[pe] && !assigned {
			v.newLB = pe
			assigned = true
		}
	}
}

// NewLoadBalancerPE returns the PE chosen to host the next central step.
func (v *AvailVector) NewLoadBalancerPE() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.newLB
}

// Restore loads a previously saved bitmap, such as one returned by Get.
// Only the first restore applies; a bitmap wider than the current one grows
// the vector, new PEs available.
func (v *AvailVector) Restore(saved []bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.restored {
		return
	}
	v.restored = true
	if len(saved) > len(v.avail) {
		grown := make([]bool, len(saved))
		for i := range grown {
			grown[i] = true
		}
		v.avail = grown
	}
	copy(v.avail, saved)
}
