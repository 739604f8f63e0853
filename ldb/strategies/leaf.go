package strategies

import (
	"math/rand"

	"github.com/inference-sim/pe-runtime/ldb"
)

const (
	// greedyRefineTolerance lets GreedyRefine keep an object home when home
	// is within this factor of the best PE.
	greedyRefineTolerance = 1.03

	// refineOverload is the max/avg ratio Refine tries to get under.
	refineOverload = 1.05
)

// leafFunc computes one balancing decision over s. r is the instance's own
// stream and is only used by randomized algorithms.
type leafFunc func(s *ldb.Stats, r *rand.Rand) []ldb.Migration

// leaves maps every leaf algorithm name TreeLB accepts to its implementation.
// Keys must match ldb.ValidLeafStrategies.
var leaves = map[string]leafFunc{
	"Greedy":       greedy,
	"GreedyRefine": greedyRefine,
	"RefineA":      refineA,
	"Refine":       refine,
	"Random":       random,
	"Dummy":        dummy,
	"Rotate":       rotate,
}

// greedy places objects heaviest first, each on the least loaded available
// PE, ignoring where objects currently live.
func greedy(s *ldb.Stats, _ *rand.Rand) []ldb.Migration {
	return greedyPlace(s, 0)
}

// greedyRefine is greedy, except an object stays on its current PE when that
// PE would be within greedyRefineTolerance of the best choice.
func greedyRefine(s *ldb.Stats, _ *rand.Rand) []ldb.Migration {
	return greedyPlace(s, greedyRefineTolerance)
}

func greedyPlace(s *ldb.Stats, tolerance float64) []ldb.Migration {
	p := newPlacement(s)
	pes := p.availablePEs()
	if len(pes) == 0 {
		return nil
	}
	bg := make([]float64, s.NumPEs)
	copy(bg, s.Background)
	h := newPEHeap(pes, bg)

	for _, i := range p.heaviestFirst() {
		o := p.objs[i]
		best := h.Peek()
		to := best.pe
		if tolerance > 0 && o.PE != to && h.Contains(o.PE) &&
			h.LoadOf(o.PE)+o.Load <= (best.load+o.Load)*tolerance {
			to = o.PE
		}
		h.Add(to, o.Load)
		p.move(i, to)
	}
	return p.migrations()
}

// refine moves objects off overloaded PEs onto the least loaded one, only
// when the receiver stays under the overload threshold.
func refine(s *ldb.Stats, _ *rand.Rand) []ldb.Migration {
	return refinePlace(s, false)
}

// refineA also accepts moves that leave the receiver above the threshold,
// as long as the receiver ends up below the donor.
func refineA(s *ldb.Stats, _ *rand.Rand) []ldb.Migration {
	return refinePlace(s, true)
}

func refinePlace(s *ldb.Stats, aggressive bool) []ldb.Migration {
	p := newPlacement(s)
	pes := p.availablePEs()
	if len(pes) == 0 {
		return nil
	}
	evacuate(p, pes)

	total := 0.0
	for _, pe := range pes {
		total += p.loads[pe]
	}
	limit := total / float64(len(pes)) * refineOverload

	for iter := 0; iter < len(p.objs); iter++ {
		donor, recv := pes[0], pes[0]
		for _, pe := range pes {
			if p.loads[pe] > p.loads[donor] {
				donor = pe
			}
			if p.loads[pe] < p.loads[recv] {
				recv = pe
			}
		}
		if p.loads[donor] <= limit || donor == recv {
			break
		}
		moved := false
		for _, i := range p.heaviestFirst() {
			o := p.objs[i]
			if o.PE != donor {
				continue
			}
			after := p.loads[recv] + o.Load
			if after <= limit || (aggressive && after < p.loads[donor]) {
				p.move(i, recv)
				moved = true
				break
			}
		}
		if !moved {
			break
		}
	}
	return p.migrations()
}

// evacuate moves every object off unavailable PEs onto the least loaded
// available ones.
func evacuate(p *placement, pes []int) {
	h := newPEHeap(pes, p.loads)
	for _, i := range p.heaviestFirst() {
		o := p.objs[i]
		if p.stats.Available(o.PE) {
			continue
		}
		to := h.Peek().pe
		h.Add(to, o.Load)
		p.move(i, to)
	}
}

// random sends every object to a uniformly chosen available PE.
func random(s *ldb.Stats, r *rand.Rand) []ldb.Migration {
	p := newPlacement(s)
	pes := p.availablePEs()
	if len(pes) == 0 {
		return nil
	}
	for i := range p.objs {
		p.move(i, pes[r.Intn(len(pes))])
	}
	return p.migrations()
}

func dummy(*ldb.Stats, *rand.Rand) []ldb.Migration { return nil }

// rotate moves every object to the next available PE after its own.
func rotate(s *ldb.Stats, _ *rand.Rand) []ldb.Migration {
	p := newPlacement(s)
	if len(p.availablePEs()) == 0 {
		return nil
	}
	for i, o := range p.objs {
		to := o.PE
		for step := 0; step < s.NumPEs; step++ {
			to = (to + 1) % s.NumPEs
			if s.Available(to) {
				break
			}
		}
		p.move(i, to)
	}
	return p.migrations()
}
