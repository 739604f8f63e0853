package hapi

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the offload layer's collectors.
type Metrics struct {
	streams      prometheus.Gauge
	liveBuffers  prometheus.Gauge
	poolBytes    prometheus.Gauge
	requests     *prometheus.CounterVec
	phaseSeconds *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// keeps them on a private registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		streams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hapi",
			Name:      "streams",
			Help:      "Device streams owned by the stream pool",
		}),
		liveBuffers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hapi",
			Name:      "live_buffers",
			Help:      "Buffer slots currently backed by device memory",
		}),
		poolBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hapi",
			Subsystem: "mempool",
			Name:      "bytes_in_use",
			Help:      "Host mempool bytes handed out, at size-class granularity",
		}),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hapi",
				Name:      "work_request_stages_total",
				Help:      "Work request stage transitions",
			},
			[]string{"state"},
		),
		phaseSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "hapi",
				Name:      "work_request_phase_seconds",
				Help:      "Device time per work request phase",
				Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 10),
			},
			[]string{"phase"},
		),
	}
	reg.MustRegister(m.streams, m.liveBuffers, m.poolBytes, m.requests, m.phaseSeconds)
	return m
}
