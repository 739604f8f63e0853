package strategies

import (
	"math/rand"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/pe-runtime/internal/rng"
	"github.com/inference-sim/pe-runtime/ldb"
)

// TreeLB runs leaf algorithms over a PE tree. PE_Root balances every PE
// from the root; PE_Process_Root balances inside process groups each step
// and across all PEs every Root.StepFreq steps. A level with several
// strategies cycles through them one per step.
type TreeLB struct {
	ldb.Base

	mu    sync.Mutex
	cfg   ldb.TreeConfig
	steps int
	rand  *rand.Rand
}

// NewTreeLB builds a TreeLB. A legacy selection runs its single leaf at the
// root; otherwise Args.TreeFile is loaded, falling back to Greedy at the root.
func NewTreeLB(opts ldb.Options) *TreeLB {
	t := &TreeLB{}
	t.Init(t, "TreeLB", opts)
	t.cfg = initialTreeConfig(opts)
	if m := opts.Manager; m != nil {
		t.rand = m.RNG().ForSubsystem(rng.SubsystemStrategy("TreeLB", opts.Seq))
	} else {
		t.rand = rand.New(rand.NewSource(int64(opts.Seq)))
	}
	logrus.Debugf("[LB] TreeLB seq %d: %s %v", opts.Seq, t.cfg.Tree, t.cfg.Root.Strategies)
	return t
}

func initialTreeConfig(opts ldb.Options) ldb.TreeConfig {
	if opts.Legacy != "" {
		return ldb.PERootConfig(opts.Legacy)
	}
	if opts.Manager != nil {
		if path := opts.Manager.Args().TreeFile; path != "" {
			cfg, err := ldb.LoadTreeConfig(path)
			if err == nil {
				err = cfg.Validate()
			}
			if err == nil {
				return *cfg
			}
			logrus.Warnf("[LB] TreeLB: %v, using %s with Greedy", err, ldb.TreePERoot)
		}
	}
	return ldb.PERootConfig("Greedy")
}

// Configure replaces the tree configuration from the next step on.
func (t *TreeLB) Configure(cfg ldb.TreeConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cfg = cfg
	logrus.Infof("[LB] TreeLB reconfigured: %s root %v", cfg.Tree, cfg.Root.Strategies)
	return nil
}

// Config returns the active configuration.
func (t *TreeLB) Config() ldb.TreeConfig {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cfg
}

// InvokeLB balances synchronously and completes the step.
func (t *TreeLB) InvokeLB() {
	m := t.Manager()
	stats := m.Stats()

	t.mu.Lock()
	cfg, step := t.cfg, t.steps
	t.steps++
	moves := t.plan(cfg, step, &stats, m.Args().PEsPerProcess)
	t.mu.Unlock()

	if _, err := m.ApplyMigrations(t.Name(), moves); err != nil {
		logrus.Warnf("[LB] TreeLB step %d: %v", step, err)
	}
	t.Complete()
}

// plan computes the step's migrations. Callers hold t.mu for t.rand.
func (t *TreeLB) plan(cfg ldb.TreeConfig, step int, s *ldb.Stats, perProcess int) []ldb.Migration {
	if cfg.Tree == ldb.TreePERoot || rootStep(cfg.Root.StepFreq, step) {
		return pick(cfg.Root.Strategies, step)(s, t.rand)
	}

	leaf := pick(cfg.Process.Strategies, step)
	if perProcess <= 0 || perProcess >= s.NumPEs {
		return leaf(s, t.rand)
	}
	var moves []ldb.Migration
	for lo := 0; lo < s.NumPEs; lo += perProcess {
		hi := lo + perProcess
		if hi > s.NumPEs {
			hi = s.NumPEs
		}
		moves = append(moves, shift(leaf(subStats(s, lo, hi), t.rand), lo)...)
	}
	return moves
}

// rootStep reports whether the root level runs at step. StepFreq 0 or 1 means every step.
func rootStep(freq, step int) bool {
	return freq <= 1 || step%freq == 0
}

func pick(names []string, step int) leafFunc {
	if len(names) == 0 {
		return dummy
	}
	if f, ok := leaves[names[step%len(names)]]; ok {
		return f
	}
	return dummy
}
