package sink

import (
	"context"
	"log/slog"

	"github.com/topazyo/s3-sentinel-connector-sub001/alert"
	"github.com/topazyo/s3-sentinel-connector-sub001/monitor"
)

// LogSink writes snapshots and alerts to a logger. It never fails.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink. A nil logger uses the default logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default().With("component", "log-sink")
	}
	return &LogSink{logger: logger}
}

// Push logs one line per component and a summary line
func (s *LogSink) Push(ctx context.Context, snapshot monitor.Snapshot) error {
	for _, c := range snapshot.Components {
		s.logger.InfoContext(ctx, "Component metrics",
			"component_name", c.Component,
			"processed", c.TotalProcessed,
			"errors", c.TotalErrors,
			"error_rate", c.ErrorRate,
			"latency_avg", c.ProcessingTimeAvg,
			"latency_p95", c.ProcessingTimeP95)
	}
	s.logger.InfoContext(ctx, "Pipeline metrics",
		"running", snapshot.Pipeline.Running,
		"ready", snapshot.Pipeline.Ready,
		"failed_batches", snapshot.FailedBatches,
		"components", len(snapshot.Components))
	return nil
}

// Notify logs every alert transition. Critical alerts log at error level.
func (s *LogSink) Notify(ctx context.Context, active, resolved []alert.Alert) error {
	for _, a := range active {
		level := slog.LevelWarn
		if a.Severity == alert.SeverityCritical {
			level = slog.LevelError
		}
		s.logger.Log(ctx, level, "Alert firing",
			"rule", a.Rule,
			"component_name", a.Component,
			"metric", a.Metric,
			"severity", a.Severity,
			"value", a.Value,
			"threshold", a.Threshold,
			"since", a.Since)
	}
	for _, a := range resolved {
		s.logger.InfoContext(ctx, "Alert resolved",
			"rule", a.Rule,
			"component_name", a.Component,
			"value", a.Value)
	}
	return nil
}
