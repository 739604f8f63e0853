package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/pe-runtime/ldb"
	"github.com/inference-sim/pe-runtime/ldb/trace"
)

// simulateCmd replays dumped LB databases through the selected strategies
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Replay a load balancer dump file through the selected strategies",
	Long: `simulate reads --lb-sim-steps steps starting at --lb-sim from --lb-dump-file
(written by run --lb-dump) and balances each one. --lb-sim-procs replays the
dump on a different PE count.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := lbArgs.Finalize(cmd.Flags(), ldb.Default); err != nil {
			logrus.Fatalf("%v", err)
		}
		lbArgs.Summary()
		dumps, err := ldb.ReadDump(lbArgs.DumpFile, lbArgs.SimStep, lbArgs.SimSteps)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		summary, placement, err := runSimulation(dumps, lbArgs, ldb.Default, os.Stdout, os.Stderr)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		printSummary(os.Stdout, summary, placement)
	},
}

// runSimulation balances each dumped step in order with one manager, so
// strategy rotation carries across steps. Decisions go to out when
// args.ShowDecisions is set.
func runSimulation(dumps []ldb.StepDump, args ldb.Args, reg *ldb.Registry, out, diag io.Writer) (*trace.Summary, []int, error) {
	if len(dumps) == 0 {
		return nil, nil, fmt.Errorf("no steps to simulate")
	}
	args.Simulate = true
	args.Dump = false

	if len(reg.Selected()) == 0 {
		reg.AddCompileTimeBalancer(defaultBalancer)
	}
	db := dumps[0].Database(args.SimProcs)
	tr := trace.New(trace.LevelDecisions)
	lbm := ldb.NewManager(ldb.ManagerOptions{
		Args:     args,
		Registry: reg,
		NumPEs:   db.NumPEs(),
		Database: db,
		Diag:     diag,
		Trace:    tr,
	})
	for _, d := range dumps {
		if d.Version != args.Version {
			logrus.Warnf("[LB] dump step %d has version %d, expected %d", d.Step, d.Version, args.Version)
		}
	}

	// Init balances the first step.
	if err := lbm.Init(); err != nil {
		return nil, nil, err
	}
	defer lbm.Close()
	for _, d := range dumps[1:] {
		d.Restore(db)
		if err := lbm.StartLB(); err != nil {
			return nil, nil, err
		}
	}

	if args.ShowDecisions {
		for _, m := range tr.Migrations {
			fmt.Fprintf(out, "step %d %s: object %d PE %d -> %d\n", m.Step, m.Strategy, m.Object, m.From, m.To)
		}
	}
	placement := make([]int, db.NumPEs())
	for _, o := range db.Objects() {
		placement[o.PE]++
	}
	return trace.Summarize(tr), placement, nil
}

// printSummary writes the run's balancing results.
func printSummary(w io.Writer, s *trace.Summary, placement []int) {
	fmt.Fprintln(w, "=== Load Balancing Summary ===")
	fmt.Fprintf(w, "Steps              : %d\n", s.Steps)
	fmt.Fprintf(w, "Migrations         : %d\n", s.TotalMigrations)
	fmt.Fprintf(w, "Mean max/avg load  : %.3f\n", s.MeanImbalance)
	fmt.Fprintf(w, "Best max/avg load  : %.3f\n", s.BestImbalance)
	if s.SwitchesApplied+s.SwitchesRejected > 0 {
		fmt.Fprintf(w, "Strategy switches  : %d applied, %d rejected\n", s.SwitchesApplied, s.SwitchesRejected)
	}
	names := make([]string, 0, len(s.PerStrategy))
	for name := range s.PerStrategy {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-16s : %d migrations\n", name, s.PerStrategy[name])
	}
	fmt.Fprintf(w, "Objects per PE     : %v\n", placement)
}

func init() {
	lbArgs.BindFlags(simulateCmd.Flags())
}
