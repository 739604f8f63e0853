package strategies

import (
	"bytes"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/pe-runtime/ldb"
)

// newManager builds an initialized manager over a private registry with the
// given balancers selected from the command line.
func newManager(t *testing.T, args ldb.Args, pes int, balancers ...string) *ldb.Manager {
	t.Helper()
	reg := ldb.NewRegistry()
	Register(reg)
	for _, b := range balancers {
		reg.SelectBalancer(b)
	}
	m := ldb.NewManager(ldb.ManagerOptions{Args: args, Registry: reg, NumPEs: pes, Diag: &bytes.Buffer{}})
	require.NoError(t, m.Init())
	t.Cleanup(m.Close)
	return m
}

func treeLB(t *testing.T, m *ldb.Manager, seq int) *TreeLB {
	t.Helper()
	s := m.Strategies()[seq]
	tree, ok := s.(*TreeLB)
	require.True(t, ok, "seq %d is %T", seq, s)
	return tree
}

func TestTreeLB_LegacyNamesRunTheirLeaf(t *testing.T) {
	tests := []struct {
		balancer string
		leaf     string
	}{
		{"GreedyLB", "Greedy"},
		{"GreedyRefineLB", "GreedyRefine"},
		{"RefineLB", "RefineA"},
		{"RandCentLB", "Random"},
		{"DummyLB", "Dummy"},
		{"RotateLB", "Rotate"},
	}
	for _, tc := range tests {
		t.Run(tc.balancer, func(t *testing.T) {
			// GIVEN a legacy balancer name on the command line
			m := newManager(t, ldb.DefaultArgs(), 2, tc.balancer)

			// THEN a TreeLB is created, configured PE_Root with the leaf
			cfg := treeLB(t, m, 0).Config()
			assert.Equal(t, ldb.TreePERoot, cfg.Tree)
			assert.Equal(t, []string{tc.leaf}, cfg.Root.Strategies)
		})
	}
}

func TestTreeLB_DefaultsToGreedy(t *testing.T) {
	m := newManager(t, ldb.DefaultArgs(), 2, "TreeLB")
	assert.Equal(t, ldb.PERootConfig("Greedy"), treeLB(t, m, 0).Config())
}

func TestTreeLB_LoadsTreeFile(t *testing.T) {
	// GIVEN a tree file selecting GreedyRefine under a process tree
	path := filepath.Join(t.TempDir(), "tree.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tree: PE_Process_Root
Root:
  pe: 0
  step_freq: 2
  strategies: [GreedyRefine]
Process:
  strategies: [Greedy]
`), 0o644))
	args := ldb.DefaultArgs()
	args.TreeFile = path

	// WHEN TreeLB is created
	m := newManager(t, args, 4, "TreeLB")

	// THEN the file configuration is active
	cfg := treeLB(t, m, 0).Config()
	assert.Equal(t, ldb.TreePEProcessRoot, cfg.Tree)
	assert.Equal(t, 2, cfg.Root.StepFreq)
	require.NotNil(t, cfg.Process)
	assert.Equal(t, []string{"Greedy"}, cfg.Process.Strategies)
}

func TestTreeLB_BadTreeFileFallsBack(t *testing.T) {
	args := ldb.DefaultArgs()
	args.TreeFile = filepath.Join(t.TempDir(), "missing.yaml")
	m := newManager(t, args, 2, "TreeLB")
	assert.Equal(t, ldb.PERootConfig("Greedy"), treeLB(t, m, 0).Config())
}

func TestTreeLB_StartLBBalancesDatabase(t *testing.T) {
	// GIVEN a Greedy TreeLB and four objects piled on PE 0
	m := newManager(t, ldb.DefaultArgs(), 2, "GreedyLB")
	db := m.Database()
	for i, load := range []float64{4, 3, 2, 1} {
		require.NoError(t, db.Add(ldb.Object{ID: ldb.ObjectID(i + 1), PE: 0, WallLoad: load, Migratable: true}))
	}

	// WHEN a step is started by hand
	require.NoError(t, m.StartLB())

	// THEN the step completed and the database is balanced
	assert.Equal(t, 1, m.Step())
	assert.Equal(t, ldb.StateIdle, m.State())
	s := m.Stats()
	assert.Equal(t, []float64{5, 5}, s.PELoads())
}

func TestTreeLB_ProcessRootGroupsAndStepFreq(t *testing.T) {
	// GIVEN a process tree with Dummy at the root every 3 steps and Greedy per process
	root := 0
	cfg := ldb.TreeConfig{
		Tree:    ldb.TreePEProcessRoot,
		Root:    ldb.LevelConfig{PE: &root, StepFreq: 3, Strategies: []string{"Dummy"}},
		Process: &ldb.LevelConfig{Strategies: []string{"Greedy"}},
	}
	tree := &TreeLB{rand: rand.New(rand.NewSource(1))}
	s := newStats(4, nil, obj(1, 0, 2), obj(2, 0, 2), obj(3, 2, 2), obj(4, 2, 2))

	// WHEN step 0 runs (a root step)
	rootMoves := tree.plan(cfg, 0, s, 2)

	// THEN nothing moves
	assert.Empty(t, rootMoves)

	// WHEN step 1 runs (a process step) with two PEs per process
	moves := tree.plan(cfg, 1, s, 2)

	// THEN each process balances on its own PEs
	assert.Equal(t, []ldb.Migration{
		{Object: 2, From: 0, To: 1},
		{Object: 4, From: 2, To: 3},
	}, moves)
}

func TestTreeLB_CyclesLevelStrategies(t *testing.T) {
	assert.Equal(t, "Greedy", leafName(t, pick([]string{"Greedy", "Dummy"}, 0)))
	assert.Equal(t, "Dummy", leafName(t, pick([]string{"Greedy", "Dummy"}, 1)))
	assert.Equal(t, "Dummy", leafName(t, pick(nil, 5)))
}

func leafName(t *testing.T, f leafFunc) string {
	t.Helper()
	// Identify by behavior on a lopsided two-PE snapshot.
	s := newStats(2, nil, obj(1, 0, 1), obj(2, 0, 1))
	if len(f(s, nil)) == 0 {
		return "Dummy"
	}
	return "Greedy"
}

func TestTreeLB_SwitchReconfigures(t *testing.T) {
	// GIVEN a MetaLB-style run with the switch table set
	args := ldb.DefaultArgs()
	args.StrategyNames = ldb.MetaLBStrategies
	m := newManager(t, args, 4, "TreeLB")
	tree := treeLB(t, m, 0)

	// WHEN switching to Hybrid
	require.NoError(t, m.SwitchLoadbalancer(0, 4))

	// THEN the TreeLB runs a two-level GreedyRefine tree
	cfg := tree.Config()
	assert.Equal(t, ldb.TreePEProcessRoot, cfg.Tree)
	assert.Equal(t, 3, cfg.Root.StepFreq)
	assert.Equal(t, []string{"GreedyRefine"}, cfg.Process.Strategies)

	// WHEN switching to DistributedLB
	err := m.SwitchLoadbalancer(4, 2)

	// THEN the request is refused and the configuration is unchanged
	assert.ErrorIs(t, err, ldb.ErrReconfigureUnsupported)
	assert.Equal(t, cfg, tree.Config())

	// WHEN switching to Refine
	require.NoError(t, m.SwitchLoadbalancer(2, 3))
	assert.Equal(t, ldb.PERootConfig("Refine"), tree.Config())
}

func TestTreeLB_ConfigureRejectsInvalid(t *testing.T) {
	m := newManager(t, ldb.DefaultArgs(), 2, "TreeLB")
	tree := treeLB(t, m, 0)
	err := tree.Configure(ldb.TreeConfig{Tree: "Ring"})
	assert.Error(t, err)
	assert.Equal(t, ldb.PERootConfig("Greedy"), tree.Config())
}

func TestTreeLB_ConfigureTreeLBString(t *testing.T) {
	m := newManager(t, ldb.DefaultArgs(), 2, "TreeLB")
	err := m.ConfigureTreeLBString(`{"tree": "PE_Root", "Root": {"pe": 0, "strategies": ["Rotate"]}}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"Rotate"}, treeLB(t, m, 0).Config().Root.Strategies)
}

func TestRegister_AllocBuildsUnconfiguredInstances(t *testing.T) {
	// GIVEN the strategies registered on a fresh registry
	reg := ldb.NewRegistry()
	Register(reg)

	// WHEN their entries are looked up
	tree, ok := reg.Search("TreeLB")
	require.True(t, ok)
	dist, ok := reg.Search("DistributedLB")
	require.True(t, ok)

	// THEN Alloc yields bare instances owned by no manager
	tl, ok := tree.Alloc().(*TreeLB)
	require.True(t, ok)
	assert.Nil(t, tl.Manager())
	_, ok = dist.Alloc().(*DistributedLB)
	assert.True(t, ok)
}
