// Package ldb is the load-balancing framework: a catalog of strategies, the
// per-process Manager that instantiates and rotates them, and the load
// database they read.
//
// # Reading Guide
//
//   - registry.go: strategy catalog and the selection recorded at startup
//   - args.go: the command-line surface, clamped once by Finalize
//   - manager.go: tickets, invocation, rotation, callbacks and triggers
//   - switch.go, treeconfig.go: reconfiguring a running TreeLB
//   - barrier.go, database.go: the local barrier and the load data it guards
//
// Strategy implementations live in ldb/strategies and register themselves
// with Default from init(); import that package for its side effects.
//
// # Triggers
//
// A Manager balances either on a wall-clock timer (Args.Period != -1) or when
// every client reaches the local barrier, never both. Object migrations are
// only accepted while a balancing step is in progress.
package ldb
