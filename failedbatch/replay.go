package failedbatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/topazyo/s3-sentinel-connector-sub001/errors"
	"github.com/topazyo/s3-sentinel-connector-sub001/metric"
)

// ReplayComponent is the ComponentMetrics name replay outcomes are recorded under
const ReplayComponent = "replay"

// Router delivers a batch of records to the sink. Any error means the batch
// was not delivered.
type Router interface {
	RouteLogs(ctx context.Context, logType string, records []Record) error
}

// RouterFunc adapts a function to Router
type RouterFunc func(ctx context.Context, logType string, records []Record) error

// RouteLogs calls f
func (f RouterFunc) RouteLogs(ctx context.Context, logType string, records []Record) error {
	return f(ctx, logType, records)
}

// ReplayResult summarizes one replay pass. Processed == Failed + Archived.
type ReplayResult struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Archived  int `json:"archived"`
}

// Replayer resubmits pending batches. Each call makes exactly one delivery
// attempt per file; sustained retry comes from calling Replay again.
type Replayer struct {
	store   *Store
	metrics *metric.ComponentMetrics
	core    *metric.Metrics
	logger  *slog.Logger

	// one pass at a time per process
	mu sync.Mutex
}

// ReplayerOption configures a Replayer
type ReplayerOption func(*Replayer)

// WithComponentMetrics records each file's outcome under ReplayComponent
func WithComponentMetrics(m *metric.ComponentMetrics) ReplayerOption {
	return func(r *Replayer) {
		r.metrics = m
	}
}

// WithCoreMetrics counts outcomes on the Prometheus replay counter
func WithCoreMetrics(m *metric.Metrics) ReplayerOption {
	return func(r *Replayer) {
		r.core = m
	}
}

// WithReplayLogger sets the replayer logger
func WithReplayLogger(logger *slog.Logger) ReplayerOption {
	return func(r *Replayer) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewReplayer creates a replayer over store
func NewReplayer(store *Store, opts ...ReplayerOption) *Replayer {
	r := &Replayer{
		store:  store,
		logger: slog.Default().With("component", "replay"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Store returns the store being replayed
func (r *Replayer) Store() *Store {
	return r.store
}

// Replay walks pending batches in id order and routes each one. Delivered
// batches are archived; undeliverable or corrupt ones stay in place and count
// as failed. logType overrides the type recorded in each file when non-empty.
//
// The returned error is non-nil only when the directory cannot be listed.
// Cancelling ctx stops the pass before the next file; files not reached are
// not counted.
func (r *Replayer) Replay(ctx context.Context, router Router, logType string) (ReplayResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result ReplayResult

	batches, err := r.store.List()
	if err != nil {
		return result, errors.WrapTransient(err, "Replayer", "Replay", "list pending batches")
	}
	if len(batches) == 0 {
		return result, nil
	}

	r.logger.Info("Replaying failed batches", "pending", len(batches), "dir", r.store.Dir())

	for _, batch := range batches {
		if ctx.Err() != nil {
			r.logger.Info("Replay interrupted", "remaining", len(batches)-result.Processed)
			break
		}

		start := time.Now()
		ok := r.replayOne(ctx, router, logType, batch.ID)
		r.record(ok, time.Since(start))

		result.Processed++
		if ok {
			result.Archived++
		} else {
			result.Failed++
		}
	}

	r.logger.Info("Replay finished",
		"processed", result.Processed,
		"archived", result.Archived,
		"failed", result.Failed)
	return result, nil
}

func (r *Replayer) replayOne(ctx context.Context, router Router, logType, id string) bool {
	payload, err := r.store.Load(id)
	if err != nil {
		r.logger.Warn("Skipping unreadable batch", "batch_id", id, "error", err)
		return false
	}

	lt := logType
	if lt == "" {
		lt = payload.LogType
	}

	if err := router.RouteLogs(ctx, lt, payload.Data); err != nil {
		r.logger.Warn("Batch delivery failed",
			"batch_id", id, "log_type", lt, "records", len(payload.Data), "error", err)
		return false
	}

	if err := r.store.Archive(id); err != nil {
		// delivered but still pending: the next pass delivers it again
		r.logger.Error("Failed to archive delivered batch", "batch_id", id, "error", err)
		return false
	}
	return true
}

func (r *Replayer) record(ok bool, d time.Duration) {
	if r.metrics != nil {
		r.metrics.RecordMetric(ReplayComponent, ok, d)
	}
	if r.core != nil {
		outcome := "archived"
		if !ok {
			outcome = "failed"
		}
		r.core.RecordReplayOutcome(outcome)
	}
}
