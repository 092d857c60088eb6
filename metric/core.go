package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric the connector exports.
const Namespace = "s3_sentinel"

// Metrics contains the pipeline-level metrics registered on every registry
type Metrics struct {
	PipelineRunning  prometheus.Gauge
	PipelineReady    prometheus.Gauge
	BatchesPersisted *prometheus.CounterVec
	ReplayOutcomes   *prometheus.CounterVec
	AlertsFiring     prometheus.Gauge
	LoopIterations   *prometheus.CounterVec
	DependencyUp     *prometheus.GaugeVec
}

// NewMetrics creates the pipeline metrics
func NewMetrics() *Metrics {
	return &Metrics{
		PipelineRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "pipeline",
				Name:      "running",
				Help:      "Pipeline liveness (0=stopped, 1=running)",
			},
		),

		PipelineReady: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "pipeline",
				Name:      "ready",
				Help:      "Pipeline readiness (0=not ready, 1=ready)",
			},
		),

		BatchesPersisted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "failed_batch",
				Name:      "persisted_total",
				Help:      "Total number of batches written to the failed-batch directory",
			},
			[]string{"log_type"},
		),

		ReplayOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "replay",
				Name:      "batches_total",
				Help:      "Failed batches examined by replay, by outcome",
			},
			[]string{"outcome"},
		),

		AlertsFiring: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "alerts",
				Name:      "firing",
				Help:      "Number of alert rules currently firing",
			},
		),

		LoopIterations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "monitor",
				Name:      "iterations_total",
				Help:      "Background loop iterations, by loop and status",
			},
			[]string{"loop", "status"},
		),

		DependencyUp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "dependency",
				Name:      "up",
				Help:      "Dependency reachability at the last health check (0=down, 1=up)",
			},
			[]string{"dependency"},
		),
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}

// RecordPipelineState updates the liveness and readiness gauges
func (c *Metrics) RecordPipelineState(running, ready bool) {
	c.PipelineRunning.Set(boolValue(running))
	c.PipelineReady.Set(boolValue(ready))
}

// RecordBatchPersisted increments the persisted-batch counter
func (c *Metrics) RecordBatchPersisted(logType string) {
	c.BatchesPersisted.WithLabelValues(logType).Inc()
}

// RecordReplayOutcome increments the replay counter for "archived" or "failed"
func (c *Metrics) RecordReplayOutcome(outcome string) {
	c.ReplayOutcomes.WithLabelValues(outcome).Inc()
}

// RecordAlertsFiring sets the number of firing alert rules
func (c *Metrics) RecordAlertsFiring(n int) {
	c.AlertsFiring.Set(float64(n))
}

// RecordLoopIteration counts one loop iteration with status "ok", "error" or "panic"
func (c *Metrics) RecordLoopIteration(loop, status string) {
	c.LoopIterations.WithLabelValues(loop, status).Inc()
}

// RecordDependency updates a dependency's reachability gauge
func (c *Metrics) RecordDependency(name string, up bool) {
	c.DependencyUp.WithLabelValues(name).Set(boolValue(up))
}
