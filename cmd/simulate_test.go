package cmd

import (
	"bytes"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/pe-runtime/ldb"
	"github.com/inference-sim/pe-runtime/ldb/trace"
)

// piledUp is a dump with n unit objects, all on PE 0.
func piledUp(step, procs, n int) ldb.StepDump {
	d := ldb.StepDump{Step: step, Version: 1, Procs: procs}
	for i := 0; i < n; i++ {
		d.Objects = append(d.Objects, ldb.DumpObject{ID: ldb.ObjectID(i), Load: 1, Migratable: true})
	}
	return d
}

func TestRunSimulation_ReplaysEveryStep(t *testing.T) {
	// GIVEN two dumped steps with eight unit objects piled on PE 0
	path := filepath.Join(t.TempDir(), "lb.yaml")
	require.NoError(t, ldb.AppendDump(path, piledUp(0, 4, 8)))
	require.NoError(t, ldb.AppendDump(path, piledUp(1, 4, 8)))
	dumps, err := ldb.ReadDump(path, 0, 2)
	require.NoError(t, err)
	args := ldb.DefaultArgs()
	args.ShowDecisions = true
	var out bytes.Buffer

	// WHEN simulated
	summary, placement, err := runSimulation(dumps, args, testRegistry(), &out, io.Discard)

	// THEN each step moves six objects off PE 0 and the decisions are printed
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Steps)
	assert.Equal(t, 12, summary.TotalMigrations)
	assert.Equal(t, []int{2, 2, 2, 2}, placement)
	assert.Equal(t, 12, strings.Count(out.String(), "TreeLB: object"))
	assert.Contains(t, out.String(), "step 1 TreeLB")
}

func TestRunSimulation_OverridesPECount(t *testing.T) {
	// GIVEN a four-PE dump replayed on two PEs
	args := ldb.DefaultArgs()
	args.SimProcs = 2

	// WHEN simulated
	summary, placement, err := runSimulation([]ldb.StepDump{piledUp(0, 4, 6)}, args, testRegistry(), io.Discard, io.Discard)

	// THEN balancing targets two PEs
	require.NoError(t, err)
	assert.Equal(t, []int{3, 3}, placement)
	assert.Equal(t, 3, summary.TotalMigrations)
}

func TestRunSimulation_NoSteps(t *testing.T) {
	_, _, err := runSimulation(nil, ldb.DefaultArgs(), testRegistry(), io.Discard, io.Discard)
	assert.Error(t, err)
}

func TestPrintSummary(t *testing.T) {
	// GIVEN a trace with one step and two migrations
	tr := trace.New(trace.LevelDecisions)
	tr.RecordStep(trace.StepRecord{MaxAfter: 2, AvgLoad: 2})
	tr.RecordMigration(trace.MigrationRecord{Strategy: "TreeLB", To: 1})
	tr.RecordMigration(trace.MigrationRecord{Strategy: "DistributedLB", To: 0})
	var out bytes.Buffer

	// WHEN printed
	printSummary(&out, trace.Summarize(tr), []int{1, 1})

	// THEN totals and per-strategy lines appear, sorted by name
	s := out.String()
	assert.Contains(t, s, "Migrations         : 2")
	assert.Contains(t, s, "Objects per PE     : [1 1]")
	assert.Less(t, strings.Index(s, "DistributedLB"), strings.Index(s, "TreeLB"))
	assert.NotContains(t, s, "Strategy switches")
}

func TestBalancersCommand_ListsStrategies(t *testing.T) {
	var out bytes.Buffer
	balancersCmd.SetOut(&out)
	defer balancersCmd.SetOut(nil)

	balancersCmd.Run(balancersCmd, nil)

	assert.Contains(t, out.String(), "TreeLB")
	assert.Contains(t, out.String(), "DistributedLB")
}
