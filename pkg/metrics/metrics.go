// Package metrics exposes execution counters and step timings as prometheus
// collectors fed from bus events.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/NathanRodet/chutney/pkg/bus"
	"github.com/NathanRodet/chutney/pkg/report"
)

// Metrics contains the engine collectors.
type Metrics struct {
	ExecutionsActive prometheus.Gauge
	ExecutionsTotal  *prometheus.CounterVec
	StepsTotal       *prometheus.CounterVec
	StepDuration     *prometheus.HistogramVec
	Transitions      *prometheus.CounterVec
}

// New creates the collectors under namespace.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "chutney"
	}
	return &Metrics{
		ExecutionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "executions",
				Name:      "active",
				Help:      "Number of executions currently running or paused",
			},
		),

		ExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "executions",
				Name:      "total",
				Help:      "Total number of finished executions by final status",
			},
			[]string{"status"},
		),

		StepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "steps",
				Name:      "total",
				Help:      "Total number of finished steps by action type and status",
			},
			[]string{"type", "status"},
		),

		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "steps",
				Name:      "duration_seconds",
				Help:      "Step duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"type"},
		),

		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "executions",
				Name:      "transitions_total",
				Help:      "Pause, resume and stop requests applied",
			},
			[]string{"kind"},
		),
	}
}

// Register adds every collector to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	var errs []error
	for _, c := range []prometheus.Collector{m.ExecutionsActive, m.ExecutionsTotal, m.StepsTotal, m.StepDuration, m.Transitions} {
		if err := reg.Register(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordExecutionStarted increments the active gauge.
func (m *Metrics) RecordExecutionStarted() {
	m.ExecutionsActive.Inc()
}

// RecordExecutionEnded decrements the active gauge and counts the outcome.
func (m *Metrics) RecordExecutionEnded(status report.Status) {
	m.ExecutionsActive.Dec()
	m.ExecutionsTotal.WithLabelValues(string(status)).Inc()
}

// RecordStep counts a finished step and observes its duration.
func (m *Metrics) RecordStep(stepType string, status report.Status, d time.Duration) {
	if stepType == "" {
		stepType = "composite"
	}
	m.StepsTotal.WithLabelValues(stepType, string(status)).Inc()
	m.StepDuration.WithLabelValues(stepType).Observe(d.Seconds())
}

// RecordTransition counts an execution-level pause, resume or stop.
func (m *Metrics) RecordTransition(kind bus.Kind) {
	m.Transitions.WithLabelValues(string(kind)).Inc()
}

// Observe updates the collectors from one bus event.
func (m *Metrics) Observe(ev bus.Event) error {
	switch {
	case ev.Kind == bus.KindStarted && ev.Path == report.RootPath:
		m.RecordExecutionStarted()
	case ev.Kind == bus.KindEnded && ev.Report != nil:
		m.RecordStep(ev.Report.Type, ev.Report.Status, ev.Report.Duration)
	case ev.Kind == bus.KindExecutionEnded:
		status := report.StatusFailure
		if ev.Report != nil {
			status = ev.Report.Status
		}
		m.RecordExecutionEnded(status)
	case ev.Path == "" && (ev.Kind == bus.KindPaused || ev.Kind == bus.KindResumed || ev.Kind == bus.KindStopped):
		m.RecordTransition(ev.Kind)
	}
	return nil
}

// Attach feeds the collectors from b until the subscription is closed.
func (m *Metrics) Attach(b *bus.Bus) *bus.Subscription {
	return b.SubscribeFunc("metrics", nil, m.Observe)
}

// Handler serves the collectors gathered by g in the prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
