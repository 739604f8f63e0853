package ldb

import "errors"

var (
	// ErrUnknownBalancer means a selected balancer name matches no registry entry.
	ErrUnknownBalancer = errors.New("unknown load balancer")

	// ErrReconfigureUnsupported is returned when switching to a strategy that
	// cannot be reconfigured on a running TreeLB.
	ErrReconfigureUnsupported = errors.New("strategy does not support dynamic reconfiguration")

	// ErrNoTreeLB means no TreeLB instance exists to receive a configuration.
	ErrNoTreeLB = errors.New("TreeLB is not in the list of load balancers")

	// ErrStartLBUnsupported means StartLB was called with no start function registered.
	ErrStartLBUnsupported = errors.New("StartLB is not supported in this LB")

	// ErrNotAtBarrier means the object population was changed outside a balancing step.
	ErrNotAtBarrier = errors.New("object migration outside the local barrier")

	// ErrUnknownObject is returned for an object the database does not hold.
	ErrUnknownObject = errors.New("unknown object")

	// ErrInvalidSimStep is returned for a negative --lb-sim step.
	ErrInvalidSimStep = errors.New("invalid simulation step, should be >= 0")

	// ErrNotInitialized is returned by operations that need Init to have run.
	ErrNotInitialized = errors.New("load balancer manager not initialized")
)
