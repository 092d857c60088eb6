package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/topazyo/s3-sentinel-connector-sub001/alert"
	"github.com/topazyo/s3-sentinel-connector-sub001/errors"
	"github.com/topazyo/s3-sentinel-connector-sub001/monitor"
)

// Default subjects
const (
	DefaultMetricsSubject = "s3sentinel.metrics"
	DefaultAlertsSubject  = "s3sentinel.alerts"
)

// Publisher sends raw messages. *natsclient.Client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Subjects names where snapshots and alerts are published
type Subjects struct {
	Metrics string `json:"metrics" yaml:"metrics"`
	Alerts  string `json:"alerts" yaml:"alerts"`
}

// MetricsMessage is the JSON body published for each snapshot
type MetricsMessage struct {
	Source string `json:"source"`
	monitor.Snapshot
}

// AlertMessage is the JSON body published for each alert transition
type AlertMessage struct {
	Source    string        `json:"source"`
	Timestamp time.Time     `json:"timestamp"`
	Active    []alert.Alert `json:"active"`
	Resolved  []alert.Alert `json:"resolved"`
}

// NATSPublisher implements monitor.MetricsSink and monitor.Notifier
type NATSPublisher struct {
	pub      Publisher
	subjects Subjects
	source   string
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a NATSPublisher
type Option func(*NATSPublisher)

// WithSource sets the source field of every message. Defaults to the hostname.
func WithSource(source string) Option {
	return func(p *NATSPublisher) {
		if source != "" {
			p.source = source
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *NATSPublisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewNATSPublisher creates a publisher. Empty subjects take the defaults.
func NewNATSPublisher(pub Publisher, subjects Subjects, opts ...Option) (*NATSPublisher, error) {
	if pub == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "NATSPublisher", "New", "publisher is required")
	}
	if subjects.Metrics == "" {
		subjects.Metrics = DefaultMetricsSubject
	}
	if subjects.Alerts == "" {
		subjects.Alerts = DefaultAlertsSubject
	}

	source, err := os.Hostname()
	if err != nil || source == "" {
		source = "s3sentinel"
	}

	p := &NATSPublisher{
		pub:      pub,
		subjects: subjects,
		source:   source,
		now:      time.Now,
		logger:   slog.Default().With("component", "nats-sink"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Subjects returns the configured subjects
func (p *NATSPublisher) Subjects() Subjects {
	return p.subjects
}

// Push publishes one metrics snapshot
func (p *NATSPublisher) Push(ctx context.Context, snapshot monitor.Snapshot) error {
	data, err := json.Marshal(MetricsMessage{Source: p.source, Snapshot: snapshot})
	if err != nil {
		return errors.WrapInvalid(err, "NATSPublisher", "Push", "encode snapshot")
	}
	if err := p.pub.Publish(ctx, p.subjects.Metrics, data); err != nil {
		return errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrSinkUnavailable, err),
			"NATSPublisher", "Push", "publish snapshot")
	}
	p.logger.Debug("Published metrics snapshot",
		"subject", p.subjects.Metrics,
		"components", len(snapshot.Components),
		"bytes", len(data))
	return nil
}

// Notify publishes one alert transition message
func (p *NATSPublisher) Notify(ctx context.Context, active, resolved []alert.Alert) error {
	if active == nil {
		active = []alert.Alert{}
	}
	if resolved == nil {
		resolved = []alert.Alert{}
	}
	data, err := json.Marshal(AlertMessage{
		Source:    p.source,
		Timestamp: p.now().UTC(),
		Active:    active,
		Resolved:  resolved,
	})
	if err != nil {
		return errors.WrapInvalid(err, "NATSPublisher", "Notify", "encode alerts")
	}
	if err := p.pub.Publish(ctx, p.subjects.Alerts, data); err != nil {
		return errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrSinkUnavailable, err),
			"NATSPublisher", "Notify", "publish alerts")
	}
	p.logger.Debug("Published alert notification",
		"subject", p.subjects.Alerts,
		"active", len(active),
		"resolved", len(resolved))
	return nil
}
