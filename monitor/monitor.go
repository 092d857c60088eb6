package monitor

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/topazyo/s3-sentinel-connector-sub001/alert"
	"github.com/topazyo/s3-sentinel-connector-sub001/errors"
	"github.com/topazyo/s3-sentinel-connector-sub001/failedbatch"
	"github.com/topazyo/s3-sentinel-connector-sub001/health"
	"github.com/topazyo/s3-sentinel-connector-sub001/metric"
	"github.com/topazyo/s3-sentinel-connector-sub001/pipeline"
	"github.com/topazyo/s3-sentinel-connector-sub001/pkg/worker"
)

// Loop names, used as log fields and metric labels
const (
	LoopHealth  = "health"
	LoopMetrics = "metrics"
	LoopAlerts  = "alerts"
	LoopReplay  = "replay"
)

// ErrStopTimeout is returned by Stop when a step outlives the stop timeout
var ErrStopTimeout = stderrors.New("monitor loops did not stop in time")

// Prober checks that one dependency is reachable
type Prober interface {
	Name() string
	Probe(ctx context.Context) error
}

// MetricsSink receives periodic metric snapshots
type MetricsSink interface {
	Push(ctx context.Context, snapshot Snapshot) error
}

// Notifier receives alert transitions
type Notifier interface {
	Notify(ctx context.Context, active, resolved []alert.Alert) error
}

// Replayer re-sends persisted batches
type Replayer interface {
	Replay(ctx context.Context, router failedbatch.Router, logType string) (failedbatch.ReplayResult, error)
}

// BatchCounter reports the number of pending failed batches
type BatchCounter interface {
	Count() (int, error)
}

// Snapshot is the payload pushed to the metrics sink
type Snapshot struct {
	Timestamp     time.Time                  `json:"timestamp"`
	Pipeline      pipeline.Snapshot          `json:"pipeline"`
	Components    []metric.ComponentSnapshot `json:"components"`
	FailedBatches int                        `json:"failed_batches"`
}

// Config holds loop intervals and limits
type Config struct {
	HealthInterval   time.Duration
	MetricsInterval  time.Duration
	AlertInterval    time.Duration
	ReplayInterval   time.Duration
	IterationTimeout time.Duration
	ProbeTimeout     time.Duration

	ReplayEnabled bool
	LogType       string

	DispatchWorkers int
	DispatchQueue   int
}

// DefaultConfig returns the production intervals
func DefaultConfig() Config {
	return Config{
		HealthInterval:   30 * time.Second,
		MetricsInterval:  60 * time.Second,
		AlertInterval:    30 * time.Second,
		ReplayInterval:   5 * time.Minute,
		IterationTimeout: 30 * time.Second,
		ProbeTimeout:     5 * time.Second,
		DispatchWorkers:  2,
		DispatchQueue:    32,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HealthInterval <= 0 {
		c.HealthInterval = d.HealthInterval
	}
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = d.MetricsInterval
	}
	if c.AlertInterval <= 0 {
		c.AlertInterval = d.AlertInterval
	}
	if c.ReplayInterval <= 0 {
		c.ReplayInterval = d.ReplayInterval
	}
	if c.IterationTimeout <= 0 {
		c.IterationTimeout = d.IterationTimeout
	}
	if c.ProbeTimeout <= 0 || c.ProbeTimeout > c.IterationTimeout {
		c.ProbeTimeout = min(d.ProbeTimeout, c.IterationTimeout)
	}
	if c.DispatchWorkers <= 0 {
		c.DispatchWorkers = d.DispatchWorkers
	}
	if c.DispatchQueue <= 0 {
		c.DispatchQueue = d.DispatchQueue
	}
	return c
}

// Dependencies are the collaborators a Monitor drives. State and Metrics are
// required; everything else is optional and its loop step is a no-op when
// absent.
type Dependencies struct {
	State    *pipeline.State
	Metrics  *metric.ComponentMetrics
	Alerts   *alert.Manager
	Probers  []Prober
	Sink     MetricsSink
	Notifier Notifier

	Replayer Replayer
	Router   failedbatch.Router
	Batches  BatchCounter

	Health *health.Monitor
	Core   *metric.Metrics
}

type job struct {
	name string
	fn   func(ctx context.Context) error
}

// Monitor runs the background loops
type Monitor struct {
	cfg  Config
	deps Dependencies

	logger          *slog.Logger
	metricsRegistry metric.MetricsRegistrar

	alertMu sync.Mutex
	firing  map[string]bool

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	dispatch atomic.Pointer[worker.Pool[job]]
}

// Option configures a Monitor
type Option func(*Monitor)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetricsRegistry exports dispatch pool metrics through registry
func WithMetricsRegistry(registry metric.MetricsRegistrar) Option {
	return func(m *Monitor) {
		m.metricsRegistry = registry
	}
}

// New validates dependencies and creates a stopped Monitor
func New(cfg Config, deps Dependencies, opts ...Option) (*Monitor, error) {
	if deps.State == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Monitor", "New", "check pipeline state")
	}
	if deps.Metrics == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Monitor", "New", "check component metrics")
	}
	if cfg.ReplayEnabled && (deps.Replayer == nil || deps.Router == nil) {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Monitor", "New", "check replayer and router")
	}
	if deps.Health == nil {
		deps.Health = health.NewMonitor()
	}

	m := &Monitor{
		cfg:    cfg.withDefaults(),
		deps:   deps,
		logger: slog.Default().With("component", "monitor"),
		firing: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Health returns the dependency health monitor updated by the health loop
func (m *Monitor) Health() *health.Monitor {
	return m.deps.Health
}

// Start marks the pipeline running and launches the loops. The loops stop
// when ctx is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Monitor", "Start", "check state")
	}

	var poolOpts []worker.Option[job]
	poolOpts = append(poolOpts,
		worker.WithTaskTimeout[job](m.cfg.IterationTimeout),
		worker.WithLogger[job](m.logger))
	if m.metricsRegistry != nil {
		poolOpts = append(poolOpts, worker.WithMetricsRegistry[job](m.metricsRegistry, "monitor_dispatch"))
	}
	pool := worker.NewPool(m.cfg.DispatchWorkers, m.cfg.DispatchQueue, m.runJob, poolOpts...)
	if err := pool.Start(context.WithoutCancel(ctx)); err != nil {
		return errors.WrapFatal(err, "Monitor", "Start", "start dispatch pool")
	}

	m.dispatch.Store(pool)

	loopCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(loopCtx)

	m.deps.State.Start()
	m.recordPipelineState()

	g.Go(func() error {
		return m.loop(gctx, LoopHealth, m.cfg.HealthInterval, true, m.HealthCheckOnce)
	})
	g.Go(func() error {
		return m.loop(gctx, LoopMetrics, m.cfg.MetricsInterval, false, m.ExportMetricsOnce)
	})
	g.Go(func() error {
		return m.loop(gctx, LoopAlerts, m.cfg.AlertInterval, false, func(ctx context.Context) error {
			_, err := m.CheckAlertsOnce(ctx)
			return err
		})
	})
	if m.cfg.ReplayEnabled {
		g.Go(func() error {
			return m.loop(gctx, LoopReplay, m.cfg.ReplayInterval, false, func(ctx context.Context) error {
				_, err := m.ReplayOnce(ctx)
				return err
			})
		})
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := g.Wait(); err != nil && !stderrors.Is(err, context.Canceled) {
			m.logger.Error("Monitor loop exited with error", "error", err)
		}
	}()

	m.cancel = cancel
	m.done = done
	m.started = true

	m.logger.Info("Monitor started",
		"health_interval", m.cfg.HealthInterval,
		"metrics_interval", m.cfg.MetricsInterval,
		"alert_interval", m.cfg.AlertInterval,
		"replay_enabled", m.cfg.ReplayEnabled,
		"probers", len(m.deps.Probers))
	return nil
}

// Stop cancels the loops and waits up to timeout for the step in progress to
// finish, then drains the dispatch pool and clears the pipeline state.
// Calling Stop on a stopped Monitor is a no-op.
func (m *Monitor) Stop(timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return nil
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	deadline := time.Now().Add(timeout)

	m.cancel()

	var stopErr error
	timer := time.NewTimer(timeout)
	select {
	case <-m.done:
		timer.Stop()
	case <-timer.C:
		stopErr = errors.WrapTransient(ErrStopTimeout, "Monitor", "Stop", "wait for loops")
		m.logger.Warn("Monitor loops still running at stop timeout", "timeout", timeout)
	}

	remaining := max(time.Until(deadline), 100*time.Millisecond)
	if pool := m.dispatch.Swap(nil); pool != nil {
		if err := pool.Stop(remaining); err != nil && stopErr == nil {
			stopErr = errors.WrapTransient(err, "Monitor", "Stop", "drain dispatch pool")
		}
	}

	m.deps.State.Stop()
	m.recordPipelineState()
	m.started = false

	m.logger.Info("Monitor stopped")
	return stopErr
}

// loop runs step every interval until ctx is cancelled. With immediate set
// the first step runs before the first wait.
func (m *Monitor) loop(ctx context.Context, name string, interval time.Duration, immediate bool,
	step func(context.Context) error) error {
	if immediate {
		m.iterate(ctx, name, step)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("Monitor loop stopped", "loop", name)
			return nil
		case <-ticker.C:
		}
		m.iterate(ctx, name, step)
	}
}

// iterate runs one step detached from loop cancellation and bounded by the
// iteration timeout
func (m *Monitor) iterate(ctx context.Context, name string, step func(context.Context) error) {
	stepCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.IterationTimeout)
	defer cancel()

	status := "ok"
	defer func() {
		if r := recover(); r != nil {
			status = "panic"
			m.logger.Error("Monitor loop iteration panicked", "loop", name, "panic", r)
		}
		if m.deps.Core != nil {
			m.deps.Core.RecordLoopIteration(name, status)
		}
	}()

	if err := step(stepCtx); err != nil {
		status = "error"
		m.logger.Warn("Monitor loop iteration failed", "loop", name, "error", err)
	}
}

// submit hands fn to the dispatch pool while running, otherwise runs it inline
func (m *Monitor) submit(ctx context.Context, name string, fn func(context.Context) error) error {
	pool := m.dispatch.Load()
	if pool == nil {
		return fn(ctx)
	}
	if err := pool.Submit(job{name: name, fn: fn}); err != nil {
		return errors.WrapTransient(err, "Monitor", "submit", fmt.Sprintf("dispatch %s", name))
	}
	return nil
}

func (m *Monitor) runJob(ctx context.Context, j job) error {
	if err := j.fn(ctx); err != nil {
		m.logger.Warn("Dispatch failed", "target", j.name, "error", err)
		return err
	}
	return nil
}

func (m *Monitor) recordPipelineState() {
	if m.deps.Core == nil {
		return
	}
	snap := m.deps.State.Snapshot()
	m.deps.Core.RecordPipelineState(snap.Running, snap.Ready)
}
