package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"

	"github.com/inference-sim/pe-runtime/hapi"
	"github.com/inference-sim/pe-runtime/internal/rng"
	"github.com/inference-sim/pe-runtime/ldb"
	"github.com/inference-sim/pe-runtime/ldb/trace"
)

// defaultBalancer is instantiated when no --balancer is given.
const defaultBalancer = "TreeLB"

var (
	numPEs     int    // PEs driven by this process
	numDevices int    // accelerators to expose
	numObjects int    // work objects in the synthetic workload
	numSteps   int    // balancing steps to run
	seed       int64  // master seed for the workload and randomized strategies
	smp        bool   // all PEs of a device live in this process
	traceLevel string // decision trace verbosity
)

// launcher is the part of an accelerator the demo kernels need.
type launcher interface {
	Launch(s hapi.StreamHandle, fn func()) error
	Bytes(p hapi.DevicePtr) ([]byte, error)
}

// demoConfig is everything runDemo needs, resolved from flags.
type demoConfig struct {
	PEs        int
	Devices    int
	Objects    int
	Steps      int
	Seed       int64
	SMP        bool
	TraceLevel trace.Level
	Args       ldb.Args
	Registry   *ldb.Registry
	Registerer prometheus.Registerer
	Diag       io.Writer
}

// runCmd drives PEs that offload their objects' work and rebalance at the local barrier
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run PEs over a synthetic workload with offload and load balancing",
	Run: func(cmd *cobra.Command, args []string) {
		if !trace.IsValidLevel(traceLevel) {
			logrus.Fatalf("Invalid trace level: %s", traceLevel)
		}
		if err := lbArgs.Finalize(cmd.Flags(), ldb.Default); err != nil {
			logrus.Fatalf("%v", err)
		}
		lbArgs.Summary()

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		if metricsAddr != "" {
			stop := serveMetrics(metricsAddr, reg)
			defer stop()
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()

		logrus.Infof("Starting %d PEs on %d device(s), %d objects, %d steps", numPEs, numDevices, numObjects, numSteps)
		start := time.Now()
		summary, placement, err := runDemo(ctx, demoConfig{
			PEs:        numPEs,
			Devices:    numDevices,
			Objects:    numObjects,
			Steps:      numSteps,
			Seed:       seed,
			SMP:        smp,
			TraceLevel: trace.Level(traceLevel),
			Args:       lbArgs,
			Registry:   ldb.Default,
			Registerer: reg,
			Diag:       os.Stderr,
		})
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		printSummary(os.Stdout, summary, placement)
		logrus.Infof("Run complete in %v.", time.Since(start))
	},
}

// runDemo places cfg.Objects objects on the first half of the PEs, then runs
// cfg.Steps rounds in which every PE offloads its objects' work, records the
// loads and waits at the local barrier where the manager balances. It returns
// the decision summary and the final object count per PE.
func runDemo(ctx context.Context, cfg demoConfig) (*trace.Summary, []int, error) {
	if cfg.PEs < 1 || cfg.Devices < 1 || cfg.Objects < 0 || cfg.Steps < 1 {
		return nil, nil, fmt.Errorf("invalid demo size: %d PEs, %d devices, %d objects, %d steps", cfg.PEs, cfg.Devices, cfg.Objects, cfg.Steps)
	}
	if hapi.NewAcceleratorFunc == nil {
		return nil, nil, errors.New("no accelerator registered")
	}
	acc := hapi.NewAcceleratorFunc(cfg.Devices)
	dev, ok := acc.(launcher)
	if !ok {
		return nil, nil, fmt.Errorf("accelerator %T cannot run host kernels", acc)
	}
	if c, ok := acc.(io.Closer); ok {
		defer c.Close()
	}

	offload, err := hapi.NewManager(acc, hapi.Options{
		SMP:        cfg.SMP,
		Topology:   hapi.Topology{PEsPerNode: cfg.PEs},
		Registerer: cfg.Registerer,
	})
	if err != nil {
		return nil, nil, err
	}
	defer offload.Close()
	offload.CreateStreams()

	if len(cfg.Registry.Selected()) == 0 {
		cfg.Registry.AddCompileTimeBalancer(defaultBalancer)
	}
	tr := trace.New(cfg.TraceLevel)
	lbm := ldb.NewManager(ldb.ManagerOptions{
		Args:       cfg.Args,
		Registry:   cfg.Registry,
		NumPEs:     cfg.PEs,
		Diag:       cfg.Diag,
		Registerer: cfg.Registerer,
		Trace:      tr,
		RNG:        rng.New(cfg.Seed),
	})
	if err := lbm.Init(); err != nil {
		return nil, nil, err
	}
	defer lbm.Close()
	lbm.AddMigrationDoneFn(lbm.ClearLoads)

	costs, err := seedObjects(lbm, cfg.Objects)
	if err != nil {
		return nil, nil, err
	}

	resume := make([]chan struct{}, cfg.PEs)
	clients := make([]ldb.ClientHandle, cfg.PEs)
	for pe := range resume {
		ch := make(chan struct{}, 1)
		resume[pe] = ch
		clients[pe] = lbm.AddLocalBarrierClient(func() { ch <- struct{}{} })
	}

	var (
		errMu    sync.Mutex
		firstErr error
	)
	var wg conc.WaitGroup
	for pe := 0; pe < cfg.PEs; pe++ {
		wg.Go(func() {
			for step := 0; step < cfg.Steps; step++ {
				if err := runPEStep(ctx, offload, dev, lbm, pe, costs); err != nil {
					errMu.Lock()
					if firstErr == nil {
						firstErr = fmt.Errorf("PE %d step %d: %w", pe, step, err)
					}
					errMu.Unlock()
				}
				lbm.AtLocalBarrier(clients[pe])
				select {
				case <-resume[pe]:
				case <-ctx.Done():
					return
				}
			}
		})
	}
	wg.Wait()
	if firstErr != nil {
		return nil, nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	placement := make([]int, cfg.PEs)
	for _, o := range lbm.Database().Objects() {
		placement[o.PE]++
	}
	return trace.Summarize(tr), placement, nil
}

// seedObjects registers n objects with random costs, all on the first half of
// the PEs so the first step has something to balance.
func seedObjects(lbm *ldb.Manager, n int) (map[ldb.ObjectID]int, error) {
	r := lbm.RNG().ForSubsystem(rng.SubsystemWorkload)
	busy := lbm.NumPEs() / 2
	if busy < 1 {
		busy = 1
	}
	costs := make(map[ldb.ObjectID]int, n)
	for i := 0; i < n; i++ {
		id := ldb.ObjectID(i)
		costs[id] = 1 + r.Intn(16)
		if err := lbm.Database().Add(ldb.Object{ID: id, PE: i % busy, Migratable: true}); err != nil {
			return nil, err
		}
	}
	return costs, nil
}

// runPEStep offloads one kernel per object on pe and records its load. The
// wall load is the object's nominal cost so runs are reproducible; the CPU
// load is the measured device round trip.
func runPEStep(ctx context.Context, offload *hapi.Manager, dev launcher, lbm *ldb.Manager, pe int, costs map[ldb.ObjectID]int) error {
	for _, o := range lbm.Database().Objects() {
		if o.PE != pe {
			continue
		}
		cost := costs[o.ID]
		wr := hapi.NewWorkRequest(fmt.Sprintf("object-%d", o.ID))
		idx := wr.AddBuffer(-1, make([]byte, cost*256), true, true, true)
		wr.Kernel = touchKernel(dev, idx)

		start := time.Now()
		if err := offload.Submit(wr).Wait(ctx); err != nil {
			return err
		}
		if err := lbm.Database().AddLoad(o.ID, float64(cost), time.Since(start).Seconds()); err != nil {
			return err
		}
	}
	return nil
}

// touchKernel increments every byte of buffer idx on the device.
func touchKernel(dev launcher, idx int) hapi.KernelFunc {
	return func(wr *hapi.WorkRequest, s hapi.Stream, bufs hapi.DeviceBuffers) error {
		p := bufs.Ptr(wr.Buffers[idx].ID)
		return dev.Launch(s.Handle, func() {
			b, err := dev.Bytes(p)
			if err != nil {
				return
			}
			for i := range b {
				b[i]++
			}
		})
	}
}

func init() {
	runCmd.Flags().IntVar(&numPEs, "pes", 4, "Number of PEs")
	runCmd.Flags().IntVar(&numDevices, "devices", 1, "Number of accelerators")
	runCmd.Flags().IntVar(&numObjects, "objects", 32, "Number of work objects")
	runCmd.Flags().IntVar(&numSteps, "steps", 3, "Number of load balancing steps")
	runCmd.Flags().Int64Var(&seed, "seed", 42, "Seed for the workload and randomized strategies")
	runCmd.Flags().BoolVar(&smp, "smp", false, "All PEs of a device live in this process")
	runCmd.Flags().StringVar(&traceLevel, "trace-level", string(trace.LevelDecisions), "Decision trace level (none, steps, decisions)")
	lbArgs.BindFlags(runCmd.Flags())
}
