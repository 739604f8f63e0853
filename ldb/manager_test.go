package ldb

import (
	"bytes"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/pe-runtime/ldb/trace"
)

// recordOrder makes every fake append its seq to a shared log when invoked.
func recordOrder(t *testing.T, m *Manager) func() []int {
	var mu sync.Mutex
	var order []int
	for seq := range m.Strategies() {
		fakeAt(t, m, seq).onInvoke = func() {
			mu.Lock()
			order = append(order, seq)
			mu.Unlock()
		}
	}
	return func() []int {
		mu.Lock()
		defer mu.Unlock()
		return append([]int(nil), order...)
	}
}

func TestManager_LoopRotatesThroughStrategies(t *testing.T) {
	// GIVEN strategies A, B, C with looping enabled
	args := DefaultArgs()
	args.Loop = true
	m := newTestManager(t, args, 2, "A", "B", "C")
	order := recordOrder(t, m)

	// WHEN six steps run
	var current []int
	for i := 0; i < 6; i++ {
		require.NoError(t, m.StartLB())
		current = append(current, m.Current())
	}

	// THEN the active index cycles 0,1,2,0,1,2
	assert.Equal(t, []int{0, 1, 2, 0, 1, 2}, order())
	assert.Equal(t, []int{1, 2, 0, 1, 2, 0}, current)
	assert.Equal(t, 6, m.Step())
}

func TestManager_WithoutLoopSaturatesOnLast(t *testing.T) {
	// GIVEN three strategies and no looping
	m := newTestManager(t, DefaultArgs(), 2, "A", "B", "C")
	order := recordOrder(t, m)

	// WHEN five steps run
	for i := 0; i < 5; i++ {
		require.NoError(t, m.StartLB())
	}

	// THEN the last strategy stays active
	assert.Equal(t, []int{0, 1, 2, 2, 2}, order())
	assert.Equal(t, 2, m.Current())
}

func TestManager_RotationTurnsStrategiesOnAndOff(t *testing.T) {
	m := newTestManager(t, DefaultArgs(), 2, "A", "B")
	a, b := fakeAt(t, m, 0), fakeAt(t, m, 1)

	// GIVEN only the first instance starts on
	assert.True(t, a.Active())
	assert.False(t, b.Active())

	// WHEN one step completes
	require.NoError(t, m.StartLB())

	// THEN the second instance took over
	assert.False(t, a.Active())
	assert.True(t, b.Active())
}

func TestManager_UnknownBalancerPrintsCatalog(t *testing.T) {
	// GIVEN a selected balancer that is not registered
	reg := fakeRegistry("A", "B")
	reg.Register("Hidden", FactoryFunc(func(opts Options) Strategy { return newFake(opts, "Hidden", true) }), nil, "not shown", false)
	reg.SelectBalancer("NoSuchLB")
	var diag bytes.Buffer
	m := NewManager(ManagerOptions{Args: DefaultArgs(), Registry: reg, Diag: &diag})

	// WHEN the manager initializes
	err := m.Init()

	// THEN it fails and the catalog of shown strategies is printed
	assert.ErrorIs(t, err, ErrUnknownBalancer)
	out := diag.String()
	assert.Contains(t, out, "Abort: Unknown load balancer: 'NoSuchLB'!")
	assert.Contains(t, out, "Available load balancers:")
	assert.Contains(t, out, "* A:\tfake A")
	assert.Contains(t, out, "* B:\tfake B")
	assert.NotContains(t, out, "Hidden")
}

func TestManager_InitTwiceFails(t *testing.T) {
	m := newTestManager(t, DefaultArgs(), 1, "A")
	assert.Error(t, m.Init())
}

func TestManager_CompileTimeListWhenNoRuntimeSelection(t *testing.T) {
	reg := fakeRegistry("A", "B")
	reg.AddCompileTimeBalancer("B")
	m := NewManager(ManagerOptions{Args: DefaultArgs(), Registry: reg})
	require.NoError(t, m.Init())
	defer m.Close()

	require.Len(t, m.Strategies(), 1)
	assert.Equal(t, "B", m.Strategies()[0].Name())
	name, ok := m.Loadbalancer(0)
	assert.True(t, ok)
	assert.Equal(t, "B", name)
}

func TestManager_Tickets(t *testing.T) {
	m := NewManager(ManagerOptions{Registry: NewRegistry()})
	assert.Equal(t, 0, m.GetLoadbalancerTicket())
	assert.Equal(t, 1, m.GetLoadbalancerTicket())
	assert.Equal(t, 2, m.GetLoadbalancerTicket())
}

func TestManager_AddLoadbalancer(t *testing.T) {
	m := NewManager(ManagerOptions{Registry: NewRegistry()})
	f := &fakeStrategy{}

	// seq -1 is ignored
	m.AddLoadbalancer(f, -1)
	assert.Empty(t, m.Strategies())

	// a later seq grows the sequence
	m.AddLoadbalancer(f, 3)
	lbs := m.Strategies()
	require.Len(t, lbs, 4)
	assert.Nil(t, lbs[0])
	assert.Same(t, f, lbs[3].(*fakeStrategy))

	// a second instance at the same seq is a bug
	assert.Panics(t, func() { m.AddLoadbalancer(&fakeStrategy{}, 3) })
}

func TestManager_InvokeWhileBalancingIsDropped(t *testing.T) {
	// GIVEN a strategy that does not finish its step
	reg := NewRegistry()
	var f *fakeStrategy
	reg.Register("Slow", FactoryFunc(func(opts Options) Strategy {
		f = newFake(opts, "Slow", false)
		return f
	}), nil, "", true)
	reg.SelectBalancer("Slow")
	m := NewManager(ManagerOptions{Args: DefaultArgs(), Registry: reg})
	require.NoError(t, m.Init())
	defer m.Close()

	// WHEN a step starts and a second invocation arrives
	require.NoError(t, m.StartLB())
	assert.Equal(t, StateBalancing, m.State())
	m.InvokeLB()

	// THEN the second is dropped
	assert.Equal(t, 1, f.Invoked())

	// WHEN the strategy completes
	f.Complete()

	// THEN the manager is idle and a new step may start
	assert.Equal(t, StateIdle, m.State())
	assert.Equal(t, 1, m.Step())
	m.InvokeLB()
	assert.Equal(t, 2, f.Invoked())
}

func TestManager_StartLBWithoutStrategies(t *testing.T) {
	m := NewManager(ManagerOptions{Args: DefaultArgs(), Registry: NewRegistry()})
	require.NoError(t, m.Init())
	defer m.Close()
	assert.ErrorIs(t, m.StartLB(), ErrStartLBUnsupported)
}

func TestManager_StartLBFnSwitches(t *testing.T) {
	m := NewManager(ManagerOptions{Args: DefaultArgs(), Registry: NewRegistry()})
	calls := 0
	h := m.AddStartLBFn(func() { calls++ })

	require.NoError(t, m.StartLB())
	m.TurnOffStartLBFn(h)
	require.NoError(t, m.StartLB())
	m.TurnOnStartLBFn(h)
	require.NoError(t, m.StartLB())
	assert.Equal(t, 2, calls)

	m.RemoveStartLBFn(h)
	assert.ErrorIs(t, m.StartLB(), ErrStartLBUnsupported)
}

func TestManager_BarrierTriggersStep(t *testing.T) {
	// GIVEN a barrier-triggered manager and two clients
	m := newTestManager(t, DefaultArgs(), 2, "A")
	resumed := 0
	c1 := m.AddLocalBarrierClient(func() { resumed++ })
	c2 := m.AddLocalBarrierClient(func() { resumed++ })

	// WHEN only one arrives
	m.AtLocalBarrier(c1)

	// THEN nothing happens
	assert.Equal(t, 0, m.Step())

	// WHEN the second arrives
	m.AtLocalBarrier(c2)

	// THEN a step runs and both clients resume
	assert.Equal(t, 1, m.Step())
	assert.Equal(t, 2, resumed)
	assert.Equal(t, 1, fakeAt(t, m, 0).Invoked())
}

func TestManager_ManualLBIgnoresBarrier(t *testing.T) {
	m := newTestManager(t, DefaultArgs(), 1, "A")
	c := m.AddLocalBarrierClient(nil)

	// GIVEN manual balancing
	m.TurnManualLBOn()

	// WHEN the client arrives
	m.AtLocalBarrier(c)
	m.DecreaseLocalBarrier(1)

	// THEN no step runs
	assert.Equal(t, 0, m.Step())

	// WHEN manual balancing ends and the client arrives again
	m.TurnManualLBOff()
	m.AtLocalBarrier(c)

	// THEN the barrier triggers
	assert.Equal(t, 1, m.Step())
}

func TestManager_PeriodTriggersSteps(t *testing.T) {
	// GIVEN a 10ms period
	args := DefaultArgs()
	args.Period = 0.01
	m := newTestManager(t, args, 1, "A")

	// THEN steps keep running without any barrier client
	require.Eventually(t, func() bool { return m.Step() >= 2 }, 2*time.Second, 5*time.Millisecond)

	// AND Close stops the timer
	m.Close()
	time.Sleep(30 * time.Millisecond)
	stopped := m.Step()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stopped, m.Step())
}

func TestManager_SetLBPeriod(t *testing.T) {
	m := NewManager(ManagerOptions{Args: DefaultArgs(), Registry: NewRegistry()})
	assert.Equal(t, NoPeriod, m.LBPeriod())
	m.SetLBPeriod(2.5)
	assert.Equal(t, 2.5, m.LBPeriod())
}

func TestManager_SetLBPeriod_KeepsBarrierTrigger(t *testing.T) {
	// GIVEN a barrier-triggered manager with one client
	m := newTestManager(t, DefaultArgs(), 1, "A")
	resumed := 0
	c := m.AddLocalBarrierClient(func() { resumed++ })

	// WHEN a period is set after Init and the client arrives
	m.SetLBPeriod(3600)
	m.AtLocalBarrier(c)

	// THEN the step still ends at the barrier and the client resumes
	assert.Equal(t, 1, m.Step())
	assert.Equal(t, 1, resumed)
	assert.False(t, m.Barrier().InWindow())

	// AND the next arrival triggers again
	m.AtLocalBarrier(c)
	assert.Equal(t, 2, m.Step())
	assert.Equal(t, 2, resumed)
}

func TestManager_SetLBPeriod_PeriodicIgnoresNoPeriod(t *testing.T) {
	// GIVEN a 10ms periodic manager
	args := DefaultArgs()
	args.Period = 0.01
	m := newTestManager(t, args, 1, "A")

	// WHEN asked to switch to barrier triggering
	m.SetLBPeriod(NoPeriod)

	// THEN the period stands and steps keep running
	assert.Equal(t, 0.01, m.LBPeriod())
	require.Eventually(t, func() bool { return m.Step() >= 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestManager_PeriodicSurvivesEmptyInvocation(t *testing.T) {
	// GIVEN a 10ms periodic manager with no strategy yet
	args := DefaultArgs()
	args.Period = 0.01
	m := newTestManager(t, args, 1)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, m.Step())

	// WHEN a strategy is added later
	f := newFake(Options{Seq: m.GetLoadbalancerTicket(), Manager: m}, "A", true)

	// THEN the timer is still armed and invokes it
	require.Eventually(t, func() bool { return f.Invoked() >= 1 && m.Step() >= 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestManager_ApplyMigrations(t *testing.T) {
	// GIVEN an object on PE 0 and a strategy that moves it to PE 1
	tr := trace.New(trace.LevelDecisions)
	reg := prometheus.NewRegistry()
	fr := fakeRegistry("A")
	fr.SelectBalancer("A")
	m := NewManager(ManagerOptions{Args: DefaultArgs(), Registry: fr, NumPEs: 2, Trace: tr, Registerer: reg})
	require.NoError(t, m.Init())
	defer m.Close()
	require.NoError(t, m.Database().Add(Object{ID: 7, PE: 0, WallLoad: 1, Migratable: true}))
	fakeAt(t, m, 0).moves = []Migration{{Object: 7, From: 0, To: 1}}

	// WHEN moving it outside a step
	_, err := m.ApplyMigrations("A", []Migration{{Object: 7, To: 1}})

	// THEN the database refuses
	assert.ErrorIs(t, err, ErrNotAtBarrier)

	// WHEN a step runs
	require.NoError(t, m.StartLB())

	// THEN the object moved and the move was recorded
	o, ok := m.Database().Get(7)
	require.True(t, ok)
	assert.Equal(t, 1, o.PE)
	require.Len(t, tr.Migrations, 1)
	assert.Equal(t, trace.MigrationRecord{Step: 0, Strategy: "A", Object: 7, From: 0, To: 1}, tr.Migrations[0])
	require.Len(t, tr.Steps, 1)
	assert.Equal(t, 1, tr.Steps[0].Migrations)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.migrations))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.invocations.WithLabelValues("A")))
	n, err := testutil.GatherAndCount(reg, "ldb_step_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestManager_MigratedCountsUntilComplete(t *testing.T) {
	reg := NewRegistry()
	var f *fakeStrategy
	reg.Register("Slow", FactoryFunc(func(opts Options) Strategy {
		f = newFake(opts, "Slow", false)
		return f
	}), nil, "", true)
	reg.SelectBalancer("Slow")
	m := NewManager(ManagerOptions{Args: DefaultArgs(), Registry: reg, NumPEs: 2})
	require.NoError(t, m.Init())
	defer m.Close()
	require.NoError(t, m.Database().Add(Object{ID: 1, PE: 0, Migratable: true}))

	require.NoError(t, m.StartLB())
	n, err := m.ApplyMigrations("Slow", []Migration{{Object: 1, To: 1}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(1), f.MigratedCount())

	f.Complete()
	assert.Equal(t, int64(0), f.MigratedCount())
}

func TestManager_MigrationDoneFns(t *testing.T) {
	m := newTestManager(t, DefaultArgs(), 1, "A")
	calls := 0
	h := m.AddMigrationDoneFn(func() { calls++ })

	require.NoError(t, m.StartLB())
	m.RemoveMigrationDoneFn(h)
	require.NoError(t, m.StartLB())

	assert.Equal(t, 1, calls)
}

func TestManager_StatsBackgroundHandling(t *testing.T) {
	setup := func(args Args) *Manager {
		m := NewManager(ManagerOptions{Args: args, Registry: NewRegistry(), NumPEs: 2})
		db := m.Database()
		require.NoError(t, db.Add(Object{ID: 1, PE: 0, WallLoad: 2, CPULoad: 1, Migratable: true}))
		require.NoError(t, db.Add(Object{ID: 2, PE: 1, WallLoad: 3, CPULoad: 3}))
		db.SetBackgroundLoad(0, 1)
		return m
	}

	// GIVEN default flags
	s := setup(DefaultArgs()).Stats()

	// THEN non-migratable load joins the background
	assert.Equal(t, []float64{1, 3}, s.Background)
	assert.Equal(t, []StatsObject{{ID: 1, PE: 0, Load: 2}}, s.Objects)
	assert.Equal(t, []float64{3, 3}, s.PELoads())

	// GIVEN background load ignored
	args := DefaultArgs()
	args.IgnoreBgLoad = true
	s = setup(args).Stats()

	// THEN only migratable objects count
	assert.Equal(t, []float64{0, 0}, s.Background)
	assert.Equal(t, []float64{2, 0}, s.PELoads())

	// GIVEN CPU time
	args = DefaultArgs()
	args.UseCPUTime = true
	s = setup(args).Stats()

	// THEN CPU loads are used
	assert.Equal(t, 1.0, s.Objects[0].Load)
}

func TestManager_StatsIncludeAvailability(t *testing.T) {
	m := NewManager(ManagerOptions{Registry: NewRegistry(), NumPEs: 3})
	m.Avail().Set([]bool{true, false, true}, ComputeNewLB)
	s := m.Stats()
	assert.True(t, s.Available(0))
	assert.False(t, s.Available(1))
	assert.False(t, s.Available(3))
}

func TestManager_Predictor(t *testing.T) {
	// GIVEN a moving average over 3 steps that kicks in after 2
	args := DefaultArgs()
	args.PredictorDelay = 2
	m := NewManager(ManagerOptions{Args: args, Registry: NewRegistry(), NumPEs: 1})
	m.PredictorOn(MovingAverage{}, 3)
	o := Object{ID: 1}

	// WHEN one step of history exists
	o.WallLoad = 1
	m.observeLoads([]Object{o})

	// THEN the measurement is used
	assert.Equal(t, 1.0, m.predict(o))

	// WHEN four steps were observed
	for _, load := range []float64{2, 3, 4} {
		o.WallLoad = load
		m.observeLoads([]Object{o})
	}

	// THEN the forecast averages the last three
	assert.Equal(t, 3.0, m.predict(o))

	// WHEN the predictor is switched off
	m.PredictorOff()

	// THEN the measurement is back
	assert.Equal(t, 4.0, m.predict(o))
}

func TestManager_ProcessorSpeed(t *testing.T) {
	args := DefaultArgs()
	args.SamePeSpeed = true
	m := NewManager(ManagerOptions{Args: args, Registry: NewRegistry(), NumPEs: 4})
	assert.Equal(t, 1, m.ProcessorSpeed())

	single := NewManager(ManagerOptions{Args: DefaultArgs(), Registry: NewRegistry(), NumPEs: 1})
	assert.Equal(t, 1, single.ProcessorSpeed())
}

func TestMeasureSpeed_Positive(t *testing.T) {
	assert.Positive(t, measureSpeed(10*time.Millisecond))
}

func TestManager_DumpsStepWindow(t *testing.T) {
	// GIVEN dumping of steps [1,3)
	args := DefaultArgs()
	args.Dump = true
	args.DumpStep = 1
	args.DumpSteps = 2
	args.DumpFile = filepath.Join(t.TempDir(), "lb.yaml")
	m := newTestManager(t, args, 2, "A")
	require.NoError(t, m.Database().Add(Object{ID: 1, PE: 1, WallLoad: 0.5, Migratable: true}))

	// WHEN four steps run
	for i := 0; i < 4; i++ {
		require.NoError(t, m.StartLB())
	}

	// THEN exactly steps 1 and 2 are in the file
	steps, err := ReadDump(args.DumpFile, 0, 10)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, 1, steps[0].Step)
	assert.Equal(t, 2, steps[1].Step)
	assert.Equal(t, []DumpObject{{ID: 1, PE: 1, Load: 0.5, Migratable: true}}, steps[0].Objects)
}

func TestManager_InstrumentationSwitches(t *testing.T) {
	m := NewManager(ManagerOptions{Args: DefaultArgs(), Registry: NewRegistry(), NumPEs: 1})
	require.NoError(t, m.Database().Add(Object{ID: 1}))

	m.CollectStatsOff()
	require.NoError(t, m.Database().AddLoad(1, 5, 5))
	o, _ := m.Database().Get(1)
	assert.Equal(t, 0.0, o.WallLoad)

	m.CollectStatsOn()
	require.NoError(t, m.Database().AddLoad(1, 5, 5))
	o, _ = m.Database().Get(1)
	assert.Equal(t, 5.0, o.WallLoad)

	assert.True(t, m.TraceComm())
	m.SetTraceComm(false)
	assert.False(t, m.TraceComm())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "balancing", StateBalancing.String())
	assert.Equal(t, "unknown", State(42).String())
}
