// Package metrics exposes query engine activity as Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/KevinKickass/OpenOBDCore/internal/adapter"
	"github.com/KevinKickass/OpenOBDCore/internal/scheduler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "obd"

// Collector implements scheduler.Observer and scheduler.StateObserver.
type Collector struct {
	registry *prometheus.Registry
	counters func() adapter.Counters

	QueriesTotal  *prometheus.CounterVec
	QueryInterval prometheus.Gauge
	PidValue      *prometheus.GaugeVec
	PidRaw        *prometheus.GaugeVec
	SessionState  prometheus.Gauge
	LineErrors    *prometheus.GaugeVec
	StateChanges  *prometheus.CounterVec
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "query",
				Name:      "total",
				Help:      "Completed adapter exchanges by outcome",
			},
			[]string{"pid", "outcome"},
		),

		QueryInterval: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "query",
				Name:      "interval_seconds",
				Help:      "Current adaptive query interval",
			},
		),

		PidValue: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "pid",
				Name:      "value",
				Help:      "Last converted value per PID",
			},
			[]string{"pid", "name", "unit"},
		),

		PidRaw: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "pid",
				Name:      "raw",
				Help:      "Last raw integer value per PID",
			},
			[]string{"pid", "name"},
		),

		SessionState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "state",
				Help:      "Session state (0=idle, 1=connecting, 2=connected, 3=error, 4=stopped)",
			},
		),

		LineErrors: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "line",
				Name:      "errors",
				Help:      "Serial receive errors since session init",
			},
			[]string{"kind"},
		),

		StateChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "transitions_total",
				Help:      "Session state transitions",
			},
			[]string{"to"},
		),
	}

	c.registry.MustRegister(
		c.QueriesTotal,
		c.QueryInterval,
		c.PidValue,
		c.PidRaw,
		c.SessionState,
		c.LineErrors,
		c.StateChanges,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return c
}

func (c *Collector) Observe(r scheduler.Result) {
	c.QueriesTotal.WithLabelValues(r.PID.String(), r.Outcome.String()).Inc()
	c.QueryInterval.Set(r.Interval.Seconds())
	if r.Valid {
		c.PidValue.WithLabelValues(r.PID.String(), r.Name, r.Unit).Set(r.Scaled)
		c.PidRaw.WithLabelValues(r.PID.String(), r.Name).Set(float64(r.Value))
	}
	if c.counters != nil {
		c.UpdateCounters(c.counters())
	}
}

// TrackCounters refreshes the line error gauges from fn after every exchange.
func (c *Collector) TrackCounters(fn func() adapter.Counters) {
	c.counters = fn
}

func (c *Collector) StateChanged(_, to scheduler.State) {
	c.SessionState.Set(float64(to))
	c.StateChanges.WithLabelValues(to.String()).Inc()
}

func (c *Collector) UpdateCounters(counters adapter.Counters) {
	c.LineErrors.WithLabelValues("break").Set(float64(counters.Line.Break))
	c.LineErrors.WithLabelValues("frame").Set(float64(counters.Line.Frame))
	c.LineErrors.WithLabelValues("overrun").Set(float64(counters.Line.Overrun))
	c.LineErrors.WithLabelValues("parity").Set(float64(counters.Line.Parity))
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
