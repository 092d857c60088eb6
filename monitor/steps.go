package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/topazyo/s3-sentinel-connector-sub001/alert"
	"github.com/topazyo/s3-sentinel-connector-sub001/errors"
	"github.com/topazyo/s3-sentinel-connector-sub001/failedbatch"
)

// HealthCheckOnce probes every dependency and updates readiness. The pipeline
// is ready only when all probes succeed. Running is never changed here.
func (m *Monitor) HealthCheckOnce(ctx context.Context) error {
	var unreachable []string

	for _, p := range m.deps.Probers {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		name := p.Name()
		start := time.Now()
		err := m.probe(ctx, p)
		latency := time.Since(start)

		m.deps.Health.RecordProbe(name, err, latency)
		if m.deps.Core != nil {
			m.deps.Core.RecordDependency(name, err == nil)
		}
		if err != nil {
			unreachable = append(unreachable, name)
			m.logger.Warn("Dependency unreachable", "dependency", name, "latency", latency, "error", err)
		}
	}

	if len(unreachable) == 0 {
		m.deps.State.MarkReady()
	} else {
		m.deps.State.MarkNotReady()
	}
	m.recordPipelineState()

	if len(unreachable) > 0 {
		return errors.WrapTransient(errors.ErrDependencyUnreachable, "Monitor", "HealthCheckOnce",
			fmt.Sprintf("probe %s", strings.Join(unreachable, ",")))
	}
	return nil
}

func (m *Monitor) probe(ctx context.Context, p Prober) (err error) {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panicked: %v", r)
		}
	}()
	return p.Probe(probeCtx)
}

// Snapshot assembles the payload the metrics loop pushes. A failed count of
// -1 means the failed-batch directory could not be read.
func (m *Monitor) Snapshot() Snapshot {
	snap := Snapshot{
		Timestamp:  time.Now().UTC(),
		Pipeline:   m.deps.State.Snapshot(),
		Components: m.deps.Metrics.Snapshot(),
	}
	if m.deps.Batches != nil {
		n, err := m.deps.Batches.Count()
		if err != nil {
			m.logger.Warn("Failed to count failed batches", "error", err)
			n = -1
		}
		snap.FailedBatches = n
	}
	return snap
}

// ExportMetricsOnce pushes the current snapshot to the metrics sink.
// Sink failures are logged and never touch pipeline state.
func (m *Monitor) ExportMetricsOnce(ctx context.Context) error {
	if m.deps.Sink == nil {
		return nil
	}
	snap := m.Snapshot()
	return m.submit(ctx, "metrics_sink", func(ctx context.Context) error {
		if err := m.deps.Sink.Push(ctx, snap); err != nil {
			return errors.WrapTransient(err, "Monitor", "ExportMetricsOnce", "push snapshot")
		}
		return nil
	})
}

// CheckAlertsOnce evaluates the alert rules and forwards alerts that started
// or stopped firing since the previous check. The full evaluation result is
// returned.
func (m *Monitor) CheckAlertsOnce(ctx context.Context) (alert.AlertResult, error) {
	if m.deps.Alerts == nil {
		return alert.AlertResult{ActiveAlerts: []alert.Alert{}, ResolvedAlerts: []alert.Alert{}}, nil
	}

	m.alertMu.Lock()
	result := m.deps.Alerts.CheckAlertConditions(ctx)

	var newlyActive []alert.Alert
	for _, a := range result.ActiveAlerts {
		if !m.firing[a.Rule] {
			newlyActive = append(newlyActive, a)
			m.firing[a.Rule] = true
		}
	}
	for _, a := range result.ResolvedAlerts {
		delete(m.firing, a.Rule)
	}
	m.alertMu.Unlock()

	if m.deps.Core != nil {
		m.deps.Core.RecordAlertsFiring(len(result.ActiveAlerts))
	}
	for _, a := range newlyActive {
		m.logger.Warn("Alert firing",
			"rule", a.Rule,
			"component", a.Component,
			"metric", a.Metric,
			"severity", a.Severity,
			"value", a.Value,
			"threshold", a.Threshold)
	}
	for _, a := range result.ResolvedAlerts {
		m.logger.Info("Alert resolved", "rule", a.Rule, "component", a.Component, "value", a.Value)
	}

	if m.deps.Notifier == nil || (len(newlyActive) == 0 && len(result.ResolvedAlerts) == 0) {
		return result, nil
	}

	active := append([]alert.Alert{}, newlyActive...)
	resolved := append([]alert.Alert{}, result.ResolvedAlerts...)
	err := m.submit(ctx, "notifier", func(ctx context.Context) error {
		if err := m.deps.Notifier.Notify(ctx, active, resolved); err != nil {
			return errors.WrapTransient(err, "Monitor", "CheckAlertsOnce", "notify")
		}
		return nil
	})
	return result, err
}

// ReplayOnce runs one replay pass when a replayer is configured
func (m *Monitor) ReplayOnce(ctx context.Context) (failedbatch.ReplayResult, error) {
	if m.deps.Replayer == nil || m.deps.Router == nil {
		return failedbatch.ReplayResult{}, nil
	}
	res, err := m.deps.Replayer.Replay(ctx, m.deps.Router, m.cfg.LogType)
	if err != nil {
		return res, err
	}
	if res.Failed > 0 {
		m.logger.Warn("Replay left failed batches", "failed", res.Failed, "archived", res.Archived)
	}
	return res, nil
}
