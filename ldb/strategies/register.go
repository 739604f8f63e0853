// Package strategies holds the load balancing algorithms. Importing it
// registers TreeLB and DistributedLB with ldb.Default.
package strategies

import "github.com/inference-sim/pe-runtime/ldb"

func init() {
	Register(ldb.Default)
}

// Register adds every strategy in this package to reg.
func Register(reg *ldb.Registry) {
	reg.Register("TreeLB",
		ldb.FactoryFunc(func(opts ldb.Options) ldb.Strategy { return NewTreeLB(opts) }),
		func() ldb.Strategy { return &TreeLB{} },
		"Tree-structured balancer running configurable leaf algorithms", true)
	reg.Register("DistributedLB",
		ldb.FactoryFunc(func(opts ldb.Options) ldb.Strategy { return NewDistributedLB(opts) }),
		func() ldb.Strategy { return &DistributedLB{} },
		"Probabilistic load shedding from overloaded to underloaded PEs", true)
}
