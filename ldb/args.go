package ldb

import (
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

const (
	// DefaultAlpha is the per-message send overhead in seconds.
	DefaultAlpha = 3.5e-5
	// DefaultBeta is the per-byte send overhead in seconds.
	DefaultBeta = 8.5e-9

	// NoPeriod disables the wall-clock trigger; balancing then happens at the local barrier.
	NoPeriod = -1.0
)

// MetaLBStrategies are the candidates a model-driven MetaLB run switches between.
var MetaLBStrategies = []string{"Greedy", "GreedyRefine", "DistributedLB", "Refine", "Hybrid", "MetisLB"}

// Args is the load balancer configuration parsed from the command line.
// Treat it as read-only after Finalize.
type Args struct {
	Balancers []string

	Period   float64 // seconds between automatic invocations; NoPeriod for barrier-triggered
	Loop     bool
	Topo     string
	TreeFile string

	MetaLB         bool
	MetaLBModelDir string
	// StrategyNames is the switch table used by SwitchLoadbalancer. Set in MetaLB mode.
	StrategyNames []string

	TargetRatio   float64
	MaxDistPhases int

	Predictor       bool
	PredictorDelay  int
	PredictorWindow int

	Version   int
	CentralPE int

	// PEsPerProcess sizes TreeLB's process groups; 0 puts every PE in one group.
	PEsPerProcess int

	Dump      bool
	DumpStep  int
	DumpSteps int
	DumpFile  string

	Simulate      bool
	SimStep       int
	SimSteps      int
	SimProcs      int
	ShowDecisions bool

	SyncResume   bool
	Debug        int
	PrintSummary bool
	IgnoreBgLoad bool
	MigObjOnly   bool
	TestPeSpeed  bool
	SamePeSpeed  bool
	UseCPUTime   bool
	StatsOn      bool
	TraceComm    bool

	Alpha float64
	Beta  float64
}

// DefaultArgs returns the configuration used when no flag is given.
func DefaultArgs() Args {
	return Args{
		Period:          NoPeriod,
		Topo:            "mesh2d",
		TargetRatio:     1.05,
		MaxDistPhases:   10,
		PredictorDelay:  10,
		PredictorWindow: 20,
		Version:         1,
		DumpSteps:       1,
		DumpFile:        "lbdata.yaml",
		SimSteps:        1,
		StatsOn:         true,
		TraceComm:       true,
		Alpha:           DefaultAlpha,
		Beta:            DefaultBeta,
	}
}

// Flag names, shared by BindFlags and TranslateArgv.
const (
	flagBalancer  = "balancer"
	flagLBOff     = "lb-off"
	flagLBCommOff = "lb-comm-off"
	flagLBDump    = "lb-dump"
	flagLBSim     = "lb-sim"
	flagLBDebug   = "lb-debug"
)

// BindFlags registers the load balancer flags on fs, writing into a.
// Call it on a value from DefaultArgs so unset flags keep their defaults.
func (a *Args) BindFlags(fs *pflag.FlagSet) {
	fs.StringArrayVar(&a.Balancers, flagBalancer, a.Balancers, "Use this load balancer (repeatable)")
	fs.Float64Var(&a.Period, "lb-period", a.Period, "Minimum seconds between two automatic load balancing steps (-1: balance at the local barrier)")
	fs.BoolVar(&a.Loop, "lb-loop", a.Loop, "Use multiple load balancing strategies in a loop")
	fs.StringVar(&a.Topo, "lb-topo", a.Topo, "Load balancing topology")
	fs.StringVar(&a.TreeFile, "tree-lb-file", a.TreeFile, "TreeLB config file")
	fs.BoolVar(&a.MetaLB, "meta-lb", a.MetaLB, "Turn on MetaBalancer")
	fs.StringVar(&a.MetaLBModelDir, "meta-lb-model-dir", a.MetaLBModelDir, "Directory holding the MetaLB strategy selection model")
	fs.Float64Var(&a.TargetRatio, "dist-lb-target-ratio", a.TargetRatio, "The max/avg load ratio DistributedLB attempts to achieve")
	fs.IntVar(&a.MaxDistPhases, "dist-lb-max-phases", a.MaxDistPhases, "The maximum number of phases DistributedLB attempts")
	fs.BoolVar(&a.Predictor, "lb-predictor", a.Predictor, "Turn on the LB future load predictor")
	fs.IntVar(&a.PredictorDelay, "lb-predictor-delay", a.PredictorDelay, "Number of balance steps before learning a model")
	fs.IntVar(&a.PredictorWindow, "lb-predictor-window", a.PredictorWindow, "Number of steps used to learn a model")
	fs.IntVar(&a.Version, "lb-version", a.Version, "LB database file version number")
	fs.IntVar(&a.CentralPE, "lb-cent-pe", a.CentralPE, "Central load balancer PE")
	fs.IntVar(&a.PEsPerProcess, "lb-pes-per-process", a.PEsPerProcess, "PEs per process for TreeLB process groups (0: one group)")
	fs.IntVar(&a.DumpStep, flagLBDump, a.DumpStep, "Dump the LB state from this step")
	fs.IntVar(&a.DumpSteps, "lb-dump-steps", a.DumpSteps, "Dump the LB state for this many steps")
	fs.StringVar(&a.DumpFile, "lb-dump-file", a.DumpFile, "LB state file name")
	fs.IntVar(&a.SimStep, flagLBSim, a.SimStep, "Read LB state from the dump file starting at this step")
	fs.IntVar(&a.SimSteps, "lb-sim-steps", a.SimSteps, "Read LB state for this many steps")
	fs.IntVar(&a.SimProcs, "lb-sim-procs", a.SimProcs, "Number of target PEs in simulation (0: as dumped)")
	fs.BoolVar(&a.ShowDecisions, "lb-show-decisions", a.ShowDecisions, "Print object to PE decisions during LB simulation")
	fs.BoolVar(&a.SyncResume, "lb-sync-resume", a.SyncResume, "Perform a barrier after migration finishes")
	fs.IntVar(&a.Debug, flagLBDebug, a.Debug, "LB debugging verbosity")
	fs.Lookup(flagLBDebug).NoOptDefVal = "1"
	fs.BoolVar(&a.PrintSummary, "lb-print-summary", a.PrintSummary, "Print load balancing result summary")
	fs.BoolVar(&a.IgnoreBgLoad, "lb-no-background", a.IgnoreBgLoad, "Ignore background load")
	fs.BoolVar(&a.MigObjOnly, "lb-obj-only", a.MigObjOnly, "Only balance migratable objects, ignoring all others")
	fs.BoolVar(&a.TestPeSpeed, "lb-test-pe-speed", a.TestPeSpeed, "Measure the speed of every PE")
	fs.BoolVar(&a.SamePeSpeed, "lb-same-cpus", a.SamePeSpeed, "Assume all PEs have the same speed")
	fs.BoolVar(&a.UseCPUTime, "lb-use-cpu-time", a.UseCPUTime, "Use CPU time instead of wallclock time")
	fs.Bool(flagLBOff, false, "Turn load balancer instrumentation off")
	fs.Bool(flagLBCommOff, false, "Turn load balancer instrumentation of communication off")
	fs.Float64Var(&a.Alpha, "lb-alpha", a.Alpha, "Per message send overhead")
	fs.Float64Var(&a.Beta, "lb-beta", a.Beta, "Per byte send overhead")
}

// Finalize applies the cross-flag rules after fs has been parsed and records
// the balancer selection in reg. Out-of-range values are clamped with a
// warning; a negative simulation step is an error.
func (a *Args) Finalize(fs *pflag.FlagSet, reg *Registry) error {
	if off, err := fs.GetBool(flagLBOff); err == nil && off {
		a.StatsOn = false
	}
	if off, err := fs.GetBool(flagLBCommOff); err == nil && off {
		a.TraceComm = false
	}

	if a.PredictorWindow < a.PredictorDelay {
		logrus.Warnf("[LB] --lb-predictor-window (%d) less than --lb-predictor-delay (%d), fixing", a.PredictorWindow, a.PredictorDelay)
		a.PredictorDelay = a.PredictorWindow
	}

	a.Dump = fs.Changed(flagLBDump)
	if a.Dump && a.DumpStep < 0 {
		logrus.Warnf("[LB] --lb-dump (%d) negative, setting to 0", a.DumpStep)
		a.DumpStep = 0
	}
	if a.DumpSteps <= 0 {
		logrus.Warnf("[LB] --lb-dump-steps (%d) too small, setting to 1", a.DumpSteps)
		a.DumpSteps = 1
	}

	a.Simulate = fs.Changed(flagLBSim)
	if a.Simulate && a.SimStep < 0 {
		return fmt.Errorf("--lb-sim %d: %w", a.SimStep, ErrInvalidSimStep)
	}
	if a.SimSteps <= 0 {
		logrus.Warnf("[LB] --lb-sim-steps (%d) too small, setting to 1", a.SimSteps)
		a.SimSteps = 1
	}

	if a.MigObjOnly {
		a.IgnoreBgLoad = true
	}
	if !a.TestPeSpeed {
		a.SamePeSpeed = true
	}

	a.selectBalancers(reg)
	return nil
}

func (a *Args) selectBalancers(reg *Registry) {
	if a.MetaLB && a.MetaLBModelDir != "" {
		if len(a.Balancers) > 0 {
			logrus.Warnf("[LB] ignoring --balancer, since MetaLB's model-based load balancer selection is enabled")
		}
		logrus.Warnf("[LB] automatic strategy selection in MetaLB is activated; this is an experimental feature")
		reg.AddRuntimeBalancer("TreeLB", "")
		a.StrategyNames = append([]string(nil), MetaLBStrategies...)
		return
	}
	if a.MetaLB {
		logrus.Warnf("[LB] MetaLB is activated; for automatic strategy selection pass --meta-lb-model-dir")
	}
	for _, b := range a.Balancers {
		reg.SelectBalancer(b)
	}
}

// Summary logs the startup banner. Detail grows with Debug.
func (a *Args) Summary() {
	if a.Debug > 0 {
		logrus.Infof("[LB] verbose level %d, load balancing period: %g seconds", a.Debug, a.Period)
	}
	if a.Debug > 1 {
		logrus.Infof("[LB] topology %s alpha: %es beta: %es", a.Topo, a.Alpha, a.Beta)
	}
	if a.PrintSummary {
		logrus.Infof("[LB] load balancer prints a summary of load balancing results")
	}
	if a.IgnoreBgLoad {
		logrus.Infof("[LB] load balancer ignores PE background load")
	}
	if a.SamePeSpeed {
		logrus.Infof("[LB] load balancer assumes all PEs are the same speed")
	}
	if a.UseCPUTime {
		logrus.Infof("[LB] load balancer uses CPU time instead of wallclock time")
	}
	if a.Simulate {
		logrus.Infof("[LB] load balancer running in simulation mode on file %q version %d", a.DumpFile, a.Version)
	}
	if !a.StatsOn {
		logrus.Infof("[LB] load balancing instrumentation is off")
	}
	if !a.TraceComm {
		logrus.Infof("[LB] load balancing instrumentation for communication is off")
	}
	if a.MigObjOnly {
		logrus.Infof("[LB] load balancing strategy ignores non-migratable objects")
	}
}

// plusFlags maps the "+Name" spellings onto long flags.
var plusFlags = map[string]string{
	"+balancer":          flagBalancer,
	"+LBPeriod":          "lb-period",
	"+LBLoop":            "lb-loop",
	"+LBTopo":            "lb-topo",
	"+TreeLBFile":        "tree-lb-file",
	"+MetaLB":            "meta-lb",
	"+MetaLBModelDir":    "meta-lb-model-dir",
	"+DistLBTargetRatio": "dist-lb-target-ratio",
	"+DistLBMaxPhases":   "dist-lb-max-phases",
	"+LBPredictor":       "lb-predictor",
	"+LBPredictorDelay":  "lb-predictor-delay",
	"+LBPredictorWindow": "lb-predictor-window",
	"+LBVersion":         "lb-version",
	"+LBCentPE":          "lb-cent-pe",
	"+LBDump":            flagLBDump,
	"+LBDumpSteps":       "lb-dump-steps",
	"+LBDumpFile":        "lb-dump-file",
	"+LBSim":             flagLBSim,
	"+LBSimSteps":        "lb-sim-steps",
	"+LBSimProcs":        "lb-sim-procs",
	"+LBShowDecisions":   "lb-show-decisions",
	"+LBSyncResume":      "lb-sync-resume",
	"+LBDebug":           flagLBDebug,
	"+LBPrintSummary":    "lb-print-summary",
	"+LBNoBackground":    "lb-no-background",
	"+LBObjOnly":         "lb-obj-only",
	"+LBTestPESpeed":     "lb-test-pe-speed",
	"+LBSameCpus":        "lb-same-cpus",
	"+LBUseCpuTime":      "lb-use-cpu-time",
	"+LBOff":             flagLBOff,
	"+LBCommOff":         flagLBCommOff,
	"+LBAlpha":           "lb-alpha",
	"+LBBeta":            "lb-beta",
}

// TranslateArgv rewrites "+Name" arguments to their long flag form. Other
// arguments pass through unchanged. "+LBDebug N" becomes "--lb-debug=N" since
// the level is optional.
func TranslateArgv(argv []string) []string {
	out := make([]string, 0, len(argv))
	for i := 0; i < len(argv); i++ {
		arg := argv[i]
		name, ok := plusFlags[arg]
		if !ok {
			out = append(out, arg)
			continue
		}
		if name == flagLBDebug && i+1 < len(argv) {
			if _, err := strconv.Atoi(argv[i+1]); err == nil {
				out = append(out, "--"+name+"="+argv[i+1])
				i++
				continue
			}
		}
		out = append(out, "--"+name)
	}
	return out
}
