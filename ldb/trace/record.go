// Package trace records load balancing decisions for later analysis.
// It holds pure data and has no dependency on ldb.
package trace

// MigrationRecord captures one object move decided by a strategy.
type MigrationRecord struct {
	Step     int
	Strategy string
	Object   int
	From     int
	To       int
}

// SwitchRecord captures one strategy switch request.
type SwitchRecord struct {
	Step    int
	From    int
	To      int
	Target  string
	Applied bool
	Reason  string // why the switch was not applied; empty when it was
}

// StepRecord captures the load picture around one balancing step.
type StepRecord struct {
	Step       int
	Strategy   string
	MaxBefore  float64
	MaxAfter   float64
	AvgLoad    float64
	Migrations int
}
