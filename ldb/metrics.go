package ldb

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the load balancer's collectors.
type Metrics struct {
	invocations *prometheus.CounterVec
	migrations  prometheus.Counter
	switches    *prometheus.CounterVec
	current     prometheus.Gauge
	stepSeconds prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// keeps them on a private registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		invocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ldb",
				Name:      "invocations_total",
				Help:      "Balancing steps started, by strategy",
			},
			[]string{"strategy"},
		),
		migrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ldb",
			Name:      "migrations_total",
			Help:      "Objects moved between PEs",
		}),
		switches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ldb",
				Name:      "switches_total",
				Help:      "Strategy switch requests, by result",
			},
			[]string{"result"},
		),
		current: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ldb",
			Name:      "current_strategy",
			Help:      "Index of the active strategy",
		}),
		stepSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ldb",
			Name:      "step_seconds",
			Help:      "Time from invocation to resuming clients",
			Buckets:   prometheus.ExponentialBuckets(1e-4, 4, 10),
		}),
	}
	reg.MustRegister(m.invocations, m.migrations, m.switches, m.current, m.stepSeconds)
	return m
}
