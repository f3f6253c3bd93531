// Package metrics exposes the daemon's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps the prometheus collectors for the rvm daemon.
type Metrics struct {
	registry *prometheus.Registry

	invocationsTotal *prometheus.CounterVec
	deploysTotal     *prometheus.CounterVec
	fuelConsumed     *prometheus.CounterVec

	invocationDuration *prometheus.HistogramVec

	liveWorkers   prometheus.Gauge
	instanceSlots prometheus.GaugeFunc
}

// Invocation latency buckets in milliseconds.
var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

var global *Metrics

// Init initializes the metrics subsystem. slotsInUse feeds the pool
// utilization gauge.
func Init(namespace string, slotsInUse func() float64) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,

		invocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_total",
				Help:      "Total number of module invocations",
			},
			[]string{"key", "status"},
		),

		deploysTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deploys_total",
				Help:      "Total number of module deployments",
			},
			[]string{"status"},
		),

		fuelConsumed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fuel_consumed_total",
				Help:      "Fuel units consumed by guest executions",
			},
			[]string{"key"},
		),

		invocationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "invocation_duration_ms",
				Help:      "Invocation latency in milliseconds",
				Buckets:   defaultBuckets,
			},
			[]string{"key"},
		),

		liveWorkers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "workers",
				Help:      "Number of live instance workers",
			},
		),
	}

	if slotsInUse != nil {
		m.instanceSlots = prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "instance_slots_in_use",
				Help:      "Sandbox instance pool slots in use",
			},
			slotsInUse,
		)
		registry.MustRegister(m.instanceSlots)
	}

	registry.MustRegister(
		m.invocationsTotal,
		m.deploysTotal,
		m.fuelConsumed,
		m.invocationDuration,
		m.liveWorkers,
	)

	global = m
}

// Global returns the initialized metrics, or nil when metrics are disabled.
func Global() *Metrics {
	return global
}

// Handler returns the scrape endpoint handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordInvocation(key, status string, duration time.Duration, fuel uint64) {
	m.invocationsTotal.WithLabelValues(key, status).Inc()
	m.invocationDuration.WithLabelValues(key).Observe(float64(duration.Milliseconds()))
	if fuel > 0 {
		m.fuelConsumed.WithLabelValues(key).Add(float64(fuel))
	}
}

func (m *Metrics) RecordDeploy(status string) {
	m.deploysTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) WorkerStarted() { m.liveWorkers.Inc() }
func (m *Metrics) WorkerStopped() { m.liveWorkers.Dec() }
