package trace

// Summary aggregates statistics from a Trace.
type Summary struct {
	Steps            int
	TotalMigrations  int
	SwitchesApplied  int
	SwitchesRejected int
	MeanImbalance    float64        // mean of MaxAfter/AvgLoad over steps with load
	BestImbalance    float64        // lowest MaxAfter/AvgLoad seen
	PerStrategy      map[string]int // strategy name -> migrations decided
	Inflow           map[int]int    // PE -> objects received
}

// Summarize computes aggregate statistics from a Trace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(t *Trace) *Summary {
	s := &Summary{
		PerStrategy: make(map[string]int),
		Inflow:      make(map[int]int),
	}
	if t == nil {
		return s
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	s.Steps = len(t.Steps)
	s.TotalMigrations = len(t.Migrations)
	for _, m := range t.Migrations {
		s.PerStrategy[m.Strategy]++
		s.Inflow[m.To]++
	}
	for _, sw := range t.Switches {
		if sw.Applied {
			s.SwitchesApplied++
		} else {
			s.SwitchesRejected++
		}
	}

	n := 0
	total := 0.0
	for _, st := range t.Steps {
		if st.AvgLoad <= 0 {
			continue
		}
		ratio := st.MaxAfter / st.AvgLoad
		total += ratio
		if n == 0 || ratio < s.BestImbalance {
			s.BestImbalance = ratio
		}
		n++
	}
	if n > 0 {
		s.MeanImbalance = total / float64(n)
	}
	return s
}
