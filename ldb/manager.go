package ldb

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/pe-runtime/internal/rng"
	"github.com/inference-sim/pe-runtime/ldb/trace"
)

// State is the manager's lifecycle position.
type State int32

const (
	StateUninitialized State = iota
	StateInitialized
	StateIdle
	StateBalancing
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateIdle:
		return "idle"
	case StateBalancing:
		return "balancing"
	}
	return "unknown"
}

// ManagerOptions configures a Manager. Nil fields get private defaults.
type ManagerOptions struct {
	Args     Args
	Registry *Registry // defaults to Default
	NumPEs   int

	Barrier  *SyncBarrier
	Database *Database

	// Diag receives the catalog when a selected balancer is unknown. Defaults to os.Stderr.
	Diag io.Writer

	Registerer prometheus.Registerer
	Trace      *trace.Trace
	RNG        *rng.Partitioned
}

// Manager instantiates the selected strategies, triggers them, and rotates
// between them. One per process.
type Manager struct {
	args    Args
	reg     *Registry
	diag    io.Writer
	barrier *SyncBarrier
	db      *Database
	avail   *AvailVector
	metrics *Metrics
	trace   *trace.Trace
	rng     *rng.Partitioned
	warn    *catrate.Limiter

	mu          sync.Mutex // strategy sequence and trigger state
	lbs         []Strategy
	current     int
	state       State
	step        int
	period      float64
	periodic    bool // trigger chosen by Init: timer if set, else barrier receiver
	timer       *time.Timer
	receiver    ReceiverHandle
	hasReceiver bool
	useBarrier  bool
	closed      bool
	stepStart   time.Time
	before      loadSummary
	stepMoves   int

	traceComm    atomic.Bool
	startPending atomic.Bool

	startFns callbackList
	doneFns  callbackList

	predMu        sync.Mutex
	predictor     Predictor
	predictWindow int
	history       map[ObjectID][]float64

	speedOnce sync.Once
	speed     int
}

// NewManager builds an uninitialized manager. Call Init to instantiate strategies.
func NewManager(opts ManagerOptions) *Manager {
	if opts.NumPEs < 1 {
		opts.NumPEs = 1
	}
	if opts.Registry == nil {
		opts.Registry = Default
	}
	if opts.Barrier == nil {
		opts.Barrier = NewSyncBarrier()
	}
	if opts.Database == nil {
		opts.Database = NewDatabase(opts.NumPEs)
	}
	if opts.Diag == nil {
		opts.Diag = os.Stderr
	}
	if opts.RNG == nil {
		opts.RNG = rng.New(0)
	}
	m := &Manager{
		args:       opts.Args,
		reg:        opts.Registry,
		diag:       opts.Diag,
		barrier:    opts.Barrier,
		db:         opts.Database,
		avail:      NewAvailVector(opts.Database.NumPEs()),
		metrics:    NewMetrics(opts.Registerer),
		trace:      opts.Trace,
		rng:        opts.RNG,
		warn:       catrate.NewLimiter(map[time.Duration]int{time.Second: 1, time.Minute: 10}),
		period:     opts.Args.Period,
		useBarrier: true,
	}
	m.traceComm.Store(opts.Args.TraceComm)
	m.db.SetStatsOn(opts.Args.StatsOn)
	m.db.balancing = m.Balancing
	return m
}

// warnf logs at most a few warnings per category per minute.
func (m *Manager) warnf(category, format string, args ...any) {
	if _, ok := m.warn.Allow(category); ok {
		logrus.Warnf(format, args...)
	}
}

// Init instantiates the selected strategies in selection order and arms the
// trigger. An unknown balancer name prints the catalog to the diagnostic
// writer and returns ErrUnknownBalancer; callers abort on it.
func (m *Manager) Init() error {
	m.mu.Lock()
	if m.state != StateUninitialized {
		m.mu.Unlock()
		return errors.New("ldb: manager already initialized")
	}
	m.mu.Unlock()

	for _, sel := range m.reg.Selected() {
		if err := m.createLoadBalancer(sel); err != nil {
			return err
		}
	}
	if m.args.Predictor {
		m.PredictorOn(MovingAverage{}, m.args.PredictorWindow)
	}

	m.mu.Lock()
	m.state = StateInitialized
	m.periodic = m.period != NoPeriod
	if m.periodic {
		m.setTimerLocked()
	} else {
		m.receiver = m.barrier.AddReceiver(m.InvokeLB)
		m.hasReceiver = true
	}
	m.state = StateIdle
	names := make([]string, 0, len(m.lbs))
	for _, s := range m.lbs {
		if s != nil {
			names = append(names, s.Name())
		}
	}
	m.mu.Unlock()

	logrus.Infof("[LB] %d strategy instance(s): %s", len(names), strings.Join(names, ", "))
	if m.args.Simulate {
		logrus.Infof("[LB] entering load balancer simulation mode")
		return m.StartLB()
	}
	return nil
}

func (m *Manager) createLoadBalancer(sel Selection) error {
	e, ok := m.reg.Search(sel.Name)
	if !ok {
		fmt.Fprintf(m.diag, "Abort: Unknown load balancer: '%s'!\n", sel.Name)
		m.reg.Display(m.diag)
		return fmt.Errorf("%q: %w", sel.Name, ErrUnknownBalancer)
	}
	seq := m.GetLoadbalancerTicket()
	s := e.Factory.Create(Options{Seq: seq, Legacy: sel.Legacy, Manager: m})

	m.mu.Lock()
	missing := m.lbs[seq] == nil
	m.mu.Unlock()
	if missing && s != nil {
		m.AddLoadbalancer(s, seq)
	}
	logrus.Debugf("[LB] created %s at seq %d (legacy %q)", e.Name, seq, sel.Legacy)
	return nil
}

// GetLoadbalancerTicket reserves the next position in the strategy sequence.
func (m *Manager) GetLoadbalancerTicket() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lbs = append(m.lbs, nil)
	return len(m.lbs) - 1
}

// AddLoadbalancer places s at ticket seq. seq -1 marks an unsequenced
// instance and is ignored. Two instances at one ticket is a construction
// race and panics.
func (m *Manager) AddLoadbalancer(s Strategy, seq int) {
	if seq == -1 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if seq < len(m.lbs) && m.lbs[seq] != nil {
		panic(fmt.Sprintf("ldb: duplicate load balancer created at %d", seq))
	}
	if len(m.lbs) < seq+1 {
		grown := make([]Strategy, seq+1)
		copy(grown, m.lbs)
		m.lbs = grown
	}
	m.lbs[seq] = s
}

// InvokeLB runs one step of the active strategy. An invocation while a step
// is still running is dropped with a warning.
func (m *Manager) InvokeLB() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if len(m.lbs) == 0 {
		m.rearmLocked()
		m.mu.Unlock()
		return
	}
	if m.state == StateBalancing {
		step := m.step
		m.mu.Unlock()
		m.warnf("busy", "[LB] step %d still balancing, invocation dropped", step)
		return
	}
	s := m.lbs[m.current]
	if s == nil {
		cur := m.current
		m.rearmLocked()
		m.mu.Unlock()
		m.warnf("missing", "[LB] no strategy registered at seq %d", cur)
		return
	}
	m.state = StateBalancing
	m.stepStart = time.Now()
	step := m.step
	m.mu.Unlock()

	objs := m.db.Objects()
	if m.args.dumpWindow(step) {
		if err := AppendDump(m.args.DumpFile, dumpFromDatabase(step, m.args.Version, m.db)); err != nil {
			m.warnf("dump", "[LB] %v", err)
		}
	}
	m.observeLoads(objs)
	stats := m.Stats()
	before := summarizeLoads(stats.PELoads())
	m.mu.Lock()
	m.before = before
	m.mu.Unlock()

	m.metrics.invocations.WithLabelValues(s.Name()).Inc()
	logrus.Debugf("[LB] step %d: invoking %s, max/avg %.3f", step, s.Name(), before.ratio())
	s.InvokeLB()
}

// Balancing reports whether a step is in progress.
func (m *Manager) Balancing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateBalancing
}

// Migrated tells the active strategy that an object moved.
func (m *Manager) Migrated(waitBarrier bool) {
	m.mu.Lock()
	var s Strategy
	if len(m.lbs) > 0 {
		s = m.lbs[m.current]
	}
	m.mu.Unlock()
	if s != nil {
		s.Migrated(waitBarrier)
	}
}

// ApplyMigrations moves objects as decided by strategy name. It stops at the
// first failure and returns how many moves were applied.
func (m *Manager) ApplyMigrations(name string, decisions []Migration) (int, error) {
	step := m.Step()
	for i, d := range decisions {
		from, err := m.db.Migrate(d.Object, d.To)
		if err != nil {
			return i, err
		}
		m.mu.Lock()
		m.stepMoves++
		m.mu.Unlock()
		m.Migrated(true)
		m.metrics.migrations.Inc()
		m.trace.RecordMigration(trace.MigrationRecord{
			Step: step, Strategy: name, Object: int(d.Object), From: from, To: d.To,
		})
		if m.args.ShowDecisions {
			logrus.Infof("[LB] step %d %s: object %d %d -> %d", step, name, d.Object, from, d.To)
		}
	}
	return len(decisions), nil
}

// NextLoadbalancer advances from seq to the next strategy. With Loop it
// wraps to the first, otherwise it stays on the last. The old strategy is
// turned off and the new one on when they differ.
func (m *Manager) NextLoadbalancer(seq int) {
	if seq == -1 {
		return
	}
	m.mu.Lock()
	cur := seq + 1
	if cur == len(m.lbs) {
		if m.args.Loop {
			cur = 0
		} else {
			cur--
		}
	}
	m.current = cur
	var prev, next Strategy
	if seq != cur {
		prev, next = m.lbs[seq], m.lbs[cur]
	}
	m.mu.Unlock()

	m.metrics.current.Set(float64(cur))
	if seq == cur {
		return
	}
	if next == nil {
		panic(fmt.Sprintf("ldb: no load balancer at seq %d", cur))
	}
	if prev != nil {
		prev.TurnOff()
	}
	next.TurnOn()
	logrus.Debugf("[LB] rotated from seq %d to %d (%s)", seq, cur, next.Name())
}

// ResumeClients ends the balancing step. With a period the timer is re-armed
// and barrier clients are left alone; otherwise the barrier releases them.
func (m *Manager) ResumeClients() {
	m.mu.Lock()
	wasBalancing := m.state == StateBalancing
	var elapsed time.Duration
	step, before, moves := m.step, m.before, m.stepMoves
	name := ""
	if wasBalancing {
		m.stepMoves = 0
		elapsed = time.Since(m.stepStart)
		m.state = StateIdle
		m.step++
		if s := m.lbs[m.current]; s != nil {
			name = s.Name()
		}
	}
	periodic := m.periodic
	if periodic && !m.closed {
		m.setTimerLocked()
	}
	m.mu.Unlock()

	if wasBalancing {
		m.metrics.stepSeconds.Observe(elapsed.Seconds())
		stats := m.Stats()
		after := summarizeLoads(stats.PELoads())
		m.trace.RecordStep(trace.StepRecord{
			Step: step, Strategy: name,
			MaxBefore: before.max, MaxAfter: after.max, AvgLoad: after.avg,
			Migrations: moves,
		})
		if m.args.PrintSummary {
			logrus.Infof("[LB] step %d done in %v: %d migrations, max/avg %.3f -> %.3f", step, elapsed, moves, before.ratio(), after.ratio())
		}
	}
	if !periodic {
		m.barrier.ResumeClients()
	}
}

// rearmLocked keeps a periodic manager ticking past an invocation that ran
// no step.
func (m *Manager) rearmLocked() {
	if m.periodic && !m.closed {
		m.setTimerLocked()
	}
}

func (m *Manager) setTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
	}
	d := time.Duration(m.period * float64(time.Second))
	m.timer = time.AfterFunc(d, m.InvokeLB)
}

// SetLBPeriod changes the minimum time between automatic steps. It applies
// from the next time the timer is armed and never changes the trigger chosen
// by Init: a barrier-triggered manager only records the value, and a
// periodic manager rejects a negative period.
func (m *Manager) SetLBPeriod(seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.periodic && seconds < 0 {
		logrus.Warnf("[LB] period %g ignored: balancing is timer-triggered", seconds)
		return
	}
	m.period = seconds
}

// LBPeriod returns the current period in seconds.
func (m *Manager) LBPeriod() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.period
}

// Stats snapshots the database for a strategy. Non-migratable objects count
// as background load unless background load is ignored.
func (m *Manager) Stats() Stats {
	objs := m.db.Objects()
	bg := m.db.Background()
	s := Stats{
		Step:       m.Step(),
		NumPEs:     len(bg),
		Avail:      m.avail.Get(),
		Background: make([]float64, len(bg)),
	}
	if !m.args.IgnoreBgLoad {
		copy(s.Background, bg)
	}
	for _, o := range objs {
		load := m.predict(o)
		switch {
		case o.Migratable:
			s.Objects = append(s.Objects, StatsObject{ID: o.ID, PE: o.PE, Load: load})
		case !m.args.IgnoreBgLoad:
			s.Background[o.PE] += load
		}
	}
	return s
}

// Loadbalancer returns the name selected for seq, runtime selection first.
func (m *Manager) Loadbalancer(seq int) (string, bool) {
	return m.reg.BalancerName(seq)
}

// Strategies returns the strategy sequence. Unfilled tickets are nil.
func (m *Manager) Strategies() []Strategy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Strategy(nil), m.lbs...)
}

// Current returns the active strategy's index.
func (m *Manager) Current() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Step returns the number of completed balancing steps.
func (m *Manager) Step() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.step
}

func (m *Manager) Args() Args                 { return m.args }
func (m *Manager) Database() *Database        { return m.db }
func (m *Manager) Barrier() *SyncBarrier      { return m.barrier }
func (m *Manager) Avail() *AvailVector        { return m.avail }
func (m *Manager) Trace() *trace.Trace        { return m.trace }
func (m *Manager) RNG() *rng.Partitioned      { return m.rng }
func (m *Manager) Registry() *Registry        { return m.reg }
func (m *Manager) NumPEs() int                { return m.db.NumPEs() }
func (m *Manager) TraceComm() bool            { return m.traceComm.Load() }
func (m *Manager) SetTraceComm(on bool)       { m.traceComm.Store(on) }
func (m *Manager) CollectStatsOn()            { m.db.SetStatsOn(true) }
func (m *Manager) CollectStatsOff()           { m.db.SetStatsOn(false) }
func (m *Manager) ClearLoads()                { m.db.ClearLoads() }
func (m *Manager) AddStartLBFn(fn func()) int { return m.startFns.add(fn) }
func (m *Manager) RemoveStartLBFn(h int)      { m.startFns.remove(h) }
func (m *Manager) TurnOnStartLBFn(h int)      { m.startFns.setOn(h, true) }
func (m *Manager) TurnOffStartLBFn(h int)     { m.startFns.setOn(h, false) }

// StartLB runs every registered start function, starting one step without
// waiting for the trigger.
func (m *Manager) StartLB() error {
	if m.startFns.count() == 0 {
		return ErrStartLBUnsupported
	}
	m.startPending.Store(true)
	m.startFns.run()
	m.startPending.Store(false)
	return nil
}

// startStep is called by a switched-on strategy's start function. The first
// caller during a StartLB claims the step.
func (m *Manager) startStep() {
	if m.startPending.CompareAndSwap(true, false) {
		m.InvokeLB()
	}
}

func (m *Manager) AddMigrationDoneFn(fn func()) int { return m.doneFns.add(fn) }
func (m *Manager) RemoveMigrationDoneFn(h int)      { m.doneFns.remove(h) }

// MigrationDone runs the migration-done callbacks.
func (m *Manager) MigrationDone() { m.doneFns.run() }

func (m *Manager) AddLocalBarrierClient(resume func()) ClientHandle {
	return m.barrier.AddClient(resume)
}

func (m *Manager) RemoveLocalBarrierClient(h ClientHandle) { m.barrier.RemoveClient(h) }

func (m *Manager) AddLocalBarrierReceiver(fn func()) ReceiverHandle {
	return m.barrier.AddReceiver(fn)
}

func (m *Manager) RemoveLocalBarrierReceiver(h ReceiverHandle) { m.barrier.RemoveReceiver(h) }
func (m *Manager) TurnOnBarrierReceiver(h ReceiverHandle)      { m.barrier.TurnOnReceiver(h) }
func (m *Manager) TurnOffBarrierReceiver(h ReceiverHandle)     { m.barrier.TurnOffReceiver(h) }
func (m *Manager) LocalBarrierOn()                             { m.barrier.TurnOn() }
func (m *Manager) LocalBarrierOff()                            { m.barrier.TurnOff() }

// AtLocalBarrier reports a client's arrival. Ignored under manual balancing.
func (m *Manager) AtLocalBarrier(h ClientHandle) {
	if m.usingBarrier() {
		m.barrier.AtBarrier(h)
	}
}

// DecreaseLocalBarrier counts c arrivals. Ignored under manual balancing.
func (m *Manager) DecreaseLocalBarrier(c int) {
	if m.usingBarrier() {
		m.barrier.DecreaseBarrier(c)
	}
}

func (m *Manager) usingBarrier() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.useBarrier
}

// TurnManualLBOn stops the barrier from triggering; steps then only start
// through StartLB.
func (m *Manager) TurnManualLBOn() {
	m.mu.Lock()
	m.useBarrier = false
	m.mu.Unlock()
	m.LocalBarrierOff()
}

// TurnManualLBOff returns to barrier-triggered balancing.
func (m *Manager) TurnManualLBOff() {
	m.mu.Lock()
	m.useBarrier = true
	m.mu.Unlock()
	m.LocalBarrierOn()
}

// ProcessorSpeed returns this process's relative PE speed, measured once.
// It is 1 when PEs are assumed identical or there is only one.
func (m *Manager) ProcessorSpeed() int {
	m.speedOnce.Do(func() {
		if m.args.SamePeSpeed || m.NumPEs() == 1 {
			m.speed = 1
			return
		}
		m.speed = measureSpeed(200 * time.Millisecond)
		logrus.Infof("[LB] measured PE speed %d iterations per %v", m.speed, 200*time.Millisecond)
	})
	return m.speed
}

// measureSpeed counts benchmark iterations per elapse, then corrects the
// count twice by timing a run of that many iterations.
func measureSpeed(elapse time.Duration) int {
	var sink float64
	work := func(n int) {
		r := 1.0
		for i := 0; i < n; i++ {
			b := 0.1 + 0.1*r
			r = math.Sqrt(1 + math.Cos(b*1.57))
		}
		sink += r
	}
	wps := 0
	end := time.Now().Add(elapse)
	for time.Now().Before(end) {
		work(1000)
		wps += 1000
	}
	for i := 0; i < 2; i++ {
		start := time.Now()
		work(wps)
		took := time.Since(start)
		if took <= 0 {
			break
		}
		wps = int(float64(wps)*float64(elapse)/float64(took) + 0.5)
	}
	_ = sink
	if wps < 1 {
		wps = 1
	}
	return wps
}

func (m *Manager) recordSwitch(from, to int, target string, err error) {
	result := "applied"
	rec := trace.SwitchRecord{Step: m.Step(), From: from, To: to, Target: target, Applied: err == nil}
	switch {
	case errors.Is(err, ErrReconfigureUnsupported):
		result = "unsupported"
		rec.Reason = err.Error()
	case err != nil:
		result = "failed"
		rec.Reason = err.Error()
	}
	m.metrics.switches.WithLabelValues(result).Inc()
	m.trace.RecordSwitch(rec)
}

// Close stops the trigger. Strategies stay registered.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	if m.timer != nil {
		m.timer.Stop()
	}
	if m.hasReceiver {
		m.barrier.RemoveReceiver(m.receiver)
		m.hasReceiver = false
	}
}

// loadSummary is the max and mean of per-PE loads.
type loadSummary struct {
	max, avg float64
}

func summarizeLoads(loads []float64) loadSummary {
	var s loadSummary
	if len(loads) == 0 {
		return s
	}
	total := 0.0
	for _, l := range loads {
		total += l
		if l > s.max {
			s.max = l
		}
	}
	s.avg = total / float64(len(loads))
	return s
}

func (s loadSummary) ratio() float64 {
	if s.avg == 0 {
		return 0
	}
	return s.max / s.avg
}
