// Package metrics collects and exposes Prometheus metrics for prefork.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all prefork-specific Prometheus metrics.
type Collector struct {
	registry *prometheus.Registry

	// Pool metrics.
	WorkersRunning prometheus.Gauge
	WorkersTarget  prometheus.Gauge
	SpawnTotal     prometheus.Counter
	ExitTotal      *prometheus.CounterVec

	// Supervisor-level metrics.
	SignalTotal *prometheus.CounterVec
	BuildInfo   *prometheus.GaugeVec
}

// New creates and registers all prefork metrics.
func New() *Collector {
	reg := prometheus.NewRegistry()

	// Register default Go runtime metrics.
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	c := &Collector{
		registry: reg,

		WorkersRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "prefork_workers_running",
				Help: "Number of live worker processes in the registry.",
			},
		),

		WorkersTarget: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "prefork_workers_target",
				Help: "Desired worker pool size.",
			},
		),

		SpawnTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "prefork_worker_spawn_total",
				Help: "Total number of worker processes spawned.",
			},
		),

		ExitTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prefork_worker_exit_total",
				Help: "Total number of worker exits, by clean/unclean status.",
			},
			[]string{"clean"},
		),

		SignalTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prefork_signal_total",
				Help: "Total number of signal messages dispatched by the control loop.",
			},
			[]string{"signal"},
		),

		BuildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "prefork_info",
				Help: "Build information about prefork.",
			},
			[]string{"version", "go_version"},
		),
	}

	reg.MustRegister(
		c.WorkersRunning,
		c.WorkersTarget,
		c.SpawnTotal,
		c.ExitTotal,
		c.SignalTotal,
		c.BuildInfo,
	)

	return c
}

// Handler returns an http.Handler that serves the /metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// SetBuildInfo sets the constant build info gauge.
func (c *Collector) SetBuildInfo(version, goVersion string) {
	c.BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// SetWorkersRunning updates the live worker gauge.
func (c *Collector) SetWorkersRunning(n int) {
	c.WorkersRunning.Set(float64(n))
}

// SetWorkersTarget updates the target pool size gauge.
func (c *Collector) SetWorkersTarget(n int) {
	c.WorkersTarget.Set(float64(n))
}

// IncSpawn increments the spawn counter.
func (c *Collector) IncSpawn() {
	c.SpawnTotal.Inc()
}

// IncExit increments the exit counter. clean is true for exit status 0.
func (c *Collector) IncExit(clean bool) {
	label := "false"
	if clean {
		label = "true"
	}
	c.ExitTotal.WithLabelValues(label).Inc()
}

// IncSignal increments the dispatch counter for a signal name.
func (c *Collector) IncSignal(name string) {
	c.SignalTotal.WithLabelValues(name).Inc()
}
