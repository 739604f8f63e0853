package ldb

import "sync/atomic"

// Strategy is one load balancing algorithm instance owned by a Manager.
// Exactly one instance is active at a time; the Manager calls TurnOn and
// TurnOff as it rotates between them.
type Strategy interface {
	Name() string
	// InvokeLB runs one balancing step. The step ends when the strategy calls
	// Base.Complete, possibly on another goroutine.
	InvokeLB()
	// Migrated is called for each object that moved during the step.
	Migrated(waitBarrier bool)
	TurnOn()
	TurnOff()
	Configure(cfg TreeConfig) error
}

// Options is passed to a Factory.
type Options struct {
	Seq     int    // ticket from GetLoadbalancerTicket; -1 for an unsequenced instance
	Legacy  string // TreeLB leaf for a legacy balancer name, else empty
	Manager *Manager
}

// Base carries the bookkeeping every strategy shares. Embed it and call Init
// from the constructor.
type Base struct {
	name     string
	seq      int
	mgr      *Manager
	on       atomic.Bool
	migrated atomic.Int64
	startFn  int
}

// Init registers self with the manager at opts.Seq and hooks StartLB, which
// starts a manager step while the instance is on. Every instance but the
// first starts switched off.
func (b *Base) Init(self Strategy, name string, opts Options) {
	b.name = name
	b.seq = opts.Seq
	b.mgr = opts.Manager
	b.on.Store(opts.Seq <= 0)
	b.startFn = -1
	if b.mgr == nil {
		return
	}
	b.mgr.AddLoadbalancer(self, opts.Seq)
	b.startFn = b.mgr.AddStartLBFn(func() {
		if b.on.Load() {
			b.mgr.startStep()
		}
	})
}

func (b *Base) Name() string { return b.name }

// Seq returns the instance's ticket.
func (b *Base) Seq() int { return b.seq }

// Manager returns the owning manager.
func (b *Base) Manager() *Manager { return b.mgr }

func (b *Base) TurnOn()  { b.on.Store(true) }
func (b *Base) TurnOff() { b.on.Store(false) }

// Active reports whether the instance currently receives invocations.
func (b *Base) Active() bool { return b.on.Load() }

func (b *Base) Migrated(bool) { b.migrated.Add(1) }

// MigratedCount returns the number of migrations seen in the current step.
func (b *Base) MigratedCount() int64 { return b.migrated.Load() }

// Configure rejects configuration; TreeLB overrides it.
func (b *Base) Configure(TreeConfig) error {
	return ErrReconfigureUnsupported
}

// Complete ends a balancing step: migration-done callbacks run, the manager
// rotates to the next strategy, and blocked clients resume.
func (b *Base) Complete() {
	b.migrated.Store(0)
	if b.mgr == nil {
		return
	}
	b.mgr.MigrationDone()
	b.mgr.NextLoadbalancer(b.seq)
	b.mgr.ResumeClients()
}
