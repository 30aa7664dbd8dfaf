package discovery

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects discovery instrumentation. All fields are safe for
// concurrent use.
type Metrics struct {
	PassesTotal   prometheus.Counter
	PassDuration  prometheus.Histogram
	ProbesTotal   prometheus.Counter
	ProbeFailures prometheus.Counter
	Devices       prometheus.Gauge
	Links         prometheus.Gauge
}

// NewMetrics creates and registers discovery metrics with the given
// registerer. A nil registerer leaves the metrics unregistered, which tests
// use to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PassesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "toposcope",
			Subsystem: "discovery",
			Name:      "passes_total",
			Help:      "Completed discovery passes.",
		}),
		PassDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "toposcope",
			Subsystem: "discovery",
			Name:      "pass_duration_seconds",
			Help:      "Duration of discovery passes.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		ProbesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "toposcope",
			Subsystem: "discovery",
			Name:      "probes_total",
			Help:      "Device probes attempted.",
		}),
		ProbeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "toposcope",
			Subsystem: "discovery",
			Name:      "probe_failures_total",
			Help:      "Device probes that found no reachable device.",
		}),
		Devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "toposcope",
			Subsystem: "discovery",
			Name:      "devices",
			Help:      "Devices currently in the topology graph.",
		}),
		Links: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "toposcope",
			Subsystem: "discovery",
			Name:      "links",
			Help:      "Links currently in the topology graph.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.PassesTotal, m.PassDuration,
			m.ProbesTotal, m.ProbeFailures,
			m.Devices, m.Links,
		)
	}
	return m
}
