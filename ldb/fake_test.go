package ldb

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeStrategy records invocations. With complete set it ends each step
// synchronously; with moves set it applies them first.
type fakeStrategy struct {
	Base

	mu       sync.Mutex
	invoked  int
	complete bool
	moves    []Migration
	onInvoke func()
}

func newFake(opts Options, name string, complete bool) *fakeStrategy {
	f := &fakeStrategy{complete: complete}
	f.Init(f, name, opts)
	return f
}

func (f *fakeStrategy) InvokeLB() {
	f.mu.Lock()
	f.invoked++
	moves, hook := f.moves, f.onInvoke
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if len(moves) > 0 {
		_, _ = f.Manager().ApplyMigrations(f.Name(), moves)
	}
	if f.complete {
		f.Complete()
	}
}

func (f *fakeStrategy) Invoked() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.invoked
}

// fakeRegistry registers completing fakes under names.
func fakeRegistry(names ...string) *Registry {
	reg := NewRegistry()
	for _, name := range names {
		reg.Register(name, FactoryFunc(func(opts Options) Strategy {
			return newFake(opts, name, true)
		}), nil, "fake "+name, true)
	}
	return reg
}

// newTestManager selects balancers on a fake registry and initializes.
func newTestManager(t *testing.T, args Args, pes int, balancers ...string) *Manager {
	t.Helper()
	reg := fakeRegistry("A", "B", "C")
	for _, b := range balancers {
		reg.SelectBalancer(b)
	}
	m := NewManager(ManagerOptions{Args: args, Registry: reg, NumPEs: pes, Diag: &bytes.Buffer{}})
	require.NoError(t, m.Init())
	t.Cleanup(m.Close)
	return m
}

func fakeAt(t *testing.T, m *Manager, seq int) *fakeStrategy {
	t.Helper()
	f, ok := m.Strategies()[seq].(*fakeStrategy)
	require.True(t, ok)
	return f
}
