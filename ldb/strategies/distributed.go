package strategies

import (
	"math/rand"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/pe-runtime/internal/rng"
	"github.com/inference-sim/pe-runtime/ldb"
)

// DistributedLB sheds load from overloaded PEs to randomly chosen
// underloaded ones in rounds, without a central view of the placement.
// It cannot be reconfigured at runtime.
type DistributedLB struct {
	ldb.Base

	targetRatio float64
	maxPhases   int

	mu   sync.Mutex
	rand *rand.Rand
}

// NewDistributedLB builds a DistributedLB using the manager's target ratio
// and phase limit.
func NewDistributedLB(opts ldb.Options) *DistributedLB {
	d := &DistributedLB{targetRatio: 1.05, maxPhases: 10}
	d.Init(d, "DistributedLB", opts)
	if m := opts.Manager; m != nil {
		args := m.Args()
		if args.TargetRatio > 1 {
			d.targetRatio = args.TargetRatio
		}
		if args.MaxDistPhases > 0 {
			d.maxPhases = args.MaxDistPhases
		}
		d.rand = m.RNG().ForSubsystem(rng.SubsystemStrategy("DistributedLB", opts.Seq))
	} else {
		d.rand = rand.New(rand.NewSource(int64(opts.Seq)))
	}
	return d
}

func (d *DistributedLB) InvokeLB() {
	m := d.Manager()
	stats := m.Stats()
	d.mu.Lock()
	moves, phases := distribute(&stats, d.targetRatio, d.maxPhases, d.rand)
	d.mu.Unlock()
	logrus.Debugf("[LB] DistributedLB: %d migrations in %d phases", len(moves), phases)
	if _, err := m.ApplyMigrations(d.Name(), moves); err != nil {
		logrus.Warnf("[LB] DistributedLB: %v", err)
	}
	d.Complete()
}

// distribute runs up to maxPhases rounds. In each round every PE above
// avg*ratio offers its objects, lightest first, to underloaded PEs drawn at
// random, and a PE accepts while it stays under the threshold. It returns the
// decisions and the number of rounds used.
func distribute(s *ldb.Stats, ratio float64, maxPhases int, r *rand.Rand) ([]ldb.Migration, int) {
	p := newPlacement(s)
	pes := p.availablePEs()
	if len(pes) == 0 {
		return nil, 0
	}
	evacuate(p, pes)

	total := 0.0
	for _, pe := range pes {
		total += p.loads[pe]
	}
	avg := total / float64(len(pes))
	threshold := avg * ratio

	phase := 0
	for ; phase < maxPhases; phase++ {
		var over, under []int
		for _, pe := range pes {
			switch {
			case p.loads[pe] > threshold:
				over = append(over, pe)
			case p.loads[pe] < avg:
				under = append(under, pe)
			}
		}
		if len(over) == 0 || len(under) == 0 {
			break
		}
		moved := false
		for _, donor := range over {
			for _, i := range lightestOn(p, donor) {
				if p.loads[donor] <= threshold {
					break
				}
				o := p.objs[i]
				to := under[r.Intn(len(under))]
				if p.loads[to]+o.Load > threshold {
					continue
				}
				p.move(i, to)
				moved = true
			}
		}
		if !moved {
			break
		}
	}
	return p.migrations(), phase
}

func lightestOn(p *placement, pe int) []int {
	var idx []int
	for i, o := range p.objs {
		if o.PE == pe {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		oa, ob := p.objs[idx[a]], p.objs[idx[b]]
		if oa.Load != ob.Load {
			return oa.Load < ob.Load
		}
		return oa.ID < ob.ID
	})
	return idx
}
