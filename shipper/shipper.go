// Package shipper is the delivery step of the ingestion path. It sends a
// batch through a Router, records the outcome, and persists the batch to
// the failed-batch store when delivery fails so replay can resend it later.
package shipper

import (
	"context"
	"log/slog"
	"time"

	"github.com/topazyo/s3-sentinel-connector-sub001/errors"
	"github.com/topazyo/s3-sentinel-connector-sub001/failedbatch"
	"github.com/topazyo/s3-sentinel-connector-sub001/metric"
)

// SinkComponent is the component name delivery outcomes are recorded under
const SinkComponent = "sink"

// Outcome of shipping one batch
type Outcome int

// Possible outcomes
const (
	Skipped Outcome = iota
	Delivered
	Persisted
)

// String returns the string representation of Outcome
func (o Outcome) String() string {
	switch o {
	case Skipped:
		return "skipped"
	case Delivered:
		return "delivered"
	case Persisted:
		return "persisted"
	default:
		return "unknown"
	}
}

// Persister stores batches that could not be delivered
type Persister interface {
	Persist(ctx context.Context, logType string, records []failedbatch.Record, cause error) (string, error)
}

// Shipper delivers batches with persist-on-failure
type Shipper struct {
	router  failedbatch.Router
	store   Persister
	metrics *metric.ComponentMetrics
	core    *metric.Metrics
	logger  *slog.Logger
}

// Option configures a Shipper
type Option func(*Shipper)

// WithCoreMetrics counts persisted batches
func WithCoreMetrics(m *metric.Metrics) Option {
	return func(s *Shipper) {
		s.core = m
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Shipper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Shipper. All three collaborators are required.
func New(router failedbatch.Router, store Persister, metrics *metric.ComponentMetrics, opts ...Option) (*Shipper, error) {
	if router == nil || store == nil || metrics == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Shipper", "New", "router, store and metrics are required")
	}
	s := &Shipper{
		router:  router,
		store:   store,
		metrics: metrics,
		logger:  slog.Default().With("component", "shipper"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Ship delivers records. A delivery failure is not an error to the caller:
// the batch is persisted and Persisted is returned. The error is non-nil only
// when the batch could be neither delivered nor persisted.
func (s *Shipper) Ship(ctx context.Context, logType string, records []failedbatch.Record) (Outcome, error) {
	if len(records) == 0 {
		return Skipped, nil
	}

	start := time.Now()
	deliveryErr := s.router.RouteLogs(ctx, logType, records)
	s.metrics.RecordMetric(SinkComponent, deliveryErr == nil, time.Since(start))

	if deliveryErr == nil {
		return Delivered, nil
	}

	// persist even when ctx is already cancelled so the batch is not lost
	id, err := s.store.Persist(context.WithoutCancel(ctx), logType, records, deliveryErr)
	if err != nil {
		s.logger.Error("Batch lost: delivery and persistence both failed",
			"log_type", logType,
			"records", len(records),
			"delivery_error", deliveryErr,
			"error", err)
		return Skipped, errors.Wrap(err, "Shipper", "Ship", "persist undelivered batch")
	}

	if s.core != nil {
		s.core.RecordBatchPersisted(logType)
	}
	s.logger.Warn("Delivery failed, batch persisted for replay",
		"log_type", logType,
		"records", len(records),
		"batch_id", id,
		"error", deliveryErr)
	return Persisted, nil
}
