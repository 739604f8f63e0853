package ldb

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// Factory builds a strategy instance. Implementations register the instance
// with opts.Manager at opts.Seq before returning it.
type Factory interface {
	Create(opts Options) Strategy
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(opts Options) Strategy

// Create calls f(opts).
func (f FactoryFunc) Create(opts Options) Strategy { return f(opts) }

// AllocFunc returns an unconfigured instance. The registry only records it
// on the Entry that Search returns; it never calls it.
type AllocFunc func() Strategy

// Entry is one catalog record.
type Entry struct {
	Name    string
	Factory Factory
	Alloc   AllocFunc
	Help    string
	Shown   bool
}

// Selection is a balancer chosen for instantiation. Legacy names the TreeLB
// leaf configuration a legacy balancer name stands for.
type Selection struct {
	Name   string
	Legacy string
}

// LegacyTreeLBNames maps the fixed-strategy balancer names onto the TreeLB
// leaf algorithm that replaces them.
var LegacyTreeLBNames = map[string]string{
	"GreedyLB":       "Greedy",
	"GreedyRefineLB": "GreedyRefine",
	"RefineLB":       "RefineA",
	"RandCentLB":     "Random",
	"DummyLB":        "Dummy",
	"RotateLB":       "Rotate",
}

// Registry is the catalog of linked strategies plus the balancers selected
// for this run. Registration is append-only.
type Registry struct {
	mu          sync.Mutex
	entries     []Entry
	compileTime []string
	runtime     []string
	legacy      map[int]string // index in runtime -> legacy leaf name
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{legacy: make(map[int]string)}
}

// Default is the process-wide registry populated by ldb/strategies.
var Default = NewRegistry()

// Register adds a strategy to Default.
func Register(name string, f Factory, alloc AllocFunc, help string, shown bool) {
	Default.Register(name, f, alloc, help, shown)
}

// Register appends an entry. Names are not deduplicated.
func (r *Registry) Register(name string, f Factory, alloc AllocFunc, help string, shown bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{Name: name, Factory: f, Alloc: alloc, Help: help, Shown: shown})
}

// searchKey is name up to its first ':' or ','; anything after is a
// strategy argument, not part of the name.
func searchKey(name string) string {
	if i := strings.IndexAny(name, ":,"); i >= 0 {
		return name[:i]
	}
	return name
}

// Search returns the entry whose name starts with name's key. When several
// entries match, the last registered wins.
func (r *Registry) Search(name string) (Entry, bool) {
	key := searchKey(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.entries) - 1; i >= 0; i-- {
		if strings.HasPrefix(r.entries[i].Name, key) {
			return r.entries[i], true
		}
	}
	return Entry{}, false
}

// AddCompileTimeBalancer selects name as a built-in default balancer.
func (r *Registry) AddCompileTimeBalancer(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.compileTime = append(r.compileTime, name)
}

// AddRuntimeBalancer selects name from the command line. A non-empty legacy
// records the TreeLB leaf it should be configured with.
func (r *Registry) AddRuntimeBalancer(name, legacy string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if legacy != "" {
		r.legacy[len(r.runtime)] = legacy
	}
	r.runtime = append(r.runtime, name)
}

// SelectBalancer records a command-line balancer name, translating legacy
// names to TreeLB.
func (r *Registry) SelectBalancer(name string) {
	if leaf, ok := LegacyTreeLBNames[name]; ok {
		r.AddRuntimeBalancer("TreeLB", leaf)
		return
	}
	r.AddRuntimeBalancer(name, "")
}

// Selected returns the balancers to instantiate: the runtime selection if
// any, else the compile-time one.
func (r *Registry) Selected() []Selection {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.runtime) > 0 {
		out := make([]Selection, len(r.runtime))
		for i, name := range r.runtime {
			out[i] = Selection{Name: name, Legacy: r.legacy[i]}
		}
		return out
	}
	out := make([]Selection, len(r.compileTime))
	for i, name := range r.compileTime {
		out[i] = Selection{Name: name}
	}
	return out
}

// BalancerName returns the seq-th selected balancer name. The runtime
// selection takes priority over the compile-time one.
func (r *Registry) BalancerName(seq int) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.compileTime
	if len(r.runtime) > 0 {
		list = r.runtime
	}
	if seq < 0 || seq >= len(list) {
		return "", false
	}
	return list[seq], true
}

// Display writes the shown entries as a help catalog.
func (r *Registry) Display(w io.Writer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(w, "\nAvailable load balancers:\n")
	for _, e := range r.entries {
		if e.Shown {
			fmt.Fprintf(w, "* %s:\t%s\n", e.Name, e.Help)
		}
	}
	fmt.Fprintln(w)
}

// Names returns every registered name in registration order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.Name
	}
	return names
}
