package strategies

import (
	"sort"

	"github.com/inference-sim/pe-runtime/ldb"
)

// placement is a working copy of a Stats snapshot that algorithms move
// objects around in. migrations() diffs it against the starting layout.
type placement struct {
	stats *ldb.Stats
	objs  []ldb.StatsObject
	orig  []int
	loads []float64
}

func newPlacement(s *ldb.Stats) *placement {
	p := &placement{
		stats: s,
		objs:  append([]ldb.StatsObject(nil), s.Objects...),
		orig:  make([]int, len(s.Objects)),
		loads: s.PELoads(),
	}
	for i, o := range s.Objects {
		p.orig[i] = o.PE
	}
	return p
}

// availablePEs lists the PEs allowed to receive objects.
func (p *placement) availablePEs() []int {
	var pes []int
	for pe := 0; pe < p.stats.NumPEs; pe++ {
		if p.stats.Available(pe) {
			pes = append(pes, pe)
		}
	}
	return pes
}

func (p *placement) move(i, to int) {
	o := &p.objs[i]
	if o.PE == to {
		return
	}
	if o.PE >= 0 && o.PE < len(p.loads) {
		p.loads[o.PE] -= o.Load
	}
	p.loads[to] += o.Load
	o.PE = to
}

// heaviestFirst returns object indexes by load descending, ID ascending.
func (p *placement) heaviestFirst() []int {
	idx := make([]int, len(p.objs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		oa, ob := p.objs[idx[a]], p.objs[idx[b]]
		if oa.Load != ob.Load {
			return oa.Load > ob.Load
		}
		return oa.ID < ob.ID
	})
	return idx
}

// migrations lists every object whose PE changed.
func (p *placement) migrations() []ldb.Migration {
	var out []ldb.Migration
	for i, o := range p.objs {
		if o.PE != p.orig[i] {
			out = append(out, ldb.Migration{Object: o.ID, From: p.orig[i], To: o.PE})
		}
	}
	return out
}

// subStats restricts s to PEs [lo, hi), renumbered from 0.
func subStats(s *ldb.Stats, lo, hi int) *ldb.Stats {
	sub := &ldb.Stats{Step: s.Step, NumPEs: hi - lo}
	if len(s.Avail) >= hi {
		sub.Avail = append([]bool(nil), s.Avail[lo:hi]...)
	}
	if len(s.Background) >= hi {
		sub.Background = append([]float64(nil), s.Background[lo:hi]...)
	}
	for _, o := range s.Objects {
		if o.PE >= lo && o.PE < hi {
			o.PE -= lo
			sub.Objects = append(sub.Objects, o)
		}
	}
	return sub
}

// shift renumbers migrations computed on a subStats back to global PEs.
func shift(moves []ldb.Migration, lo int) []ldb.Migration {
	for i := range moves {
		moves[i].From += lo
		moves[i].To += lo
	}
	return moves
}

// maxOverAvg is the max/avg PE load ratio, 0 for an idle system.
func maxOverAvg(loads []float64) float64 {
	if len(loads) == 0 {
		return 0
	}
	total, max := 0.0, 0.0
	for _, l := range loads {
		total += l
		if l > max {
			max = l
		}
	}
	if total == 0 {
		return 0
	}
	return max / (total / float64(len(loads)))
}
