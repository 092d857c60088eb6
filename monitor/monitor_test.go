package monitor

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/topazyo/s3-sentinel-connector-sub001/alert"
	"github.com/topazyo/s3-sentinel-connector-sub001/errors"
	"github.com/topazyo/s3-sentinel-connector-sub001/failedbatch"
	"github.com/topazyo/s3-sentinel-connector-sub001/metric"
	"github.com/topazyo/s3-sentinel-connector-sub001/pipeline"
)

type fakeProber struct {
	name  string
	err   error
	delay time.Duration
	panic bool
	calls atomic.Int32
}

func (p *fakeProber) Name() string { return p.name }

func (p *fakeProber) Probe(_ context.Context) error {
	p.calls.Add(1)
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if p.panic {
		panic("probe exploded")
	}
	return p.err
}

type fakeSink struct {
	mu    sync.Mutex
	snaps []Snapshot
	err   error
}

func (s *fakeSink) Push(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, snap)
	return s.err
}

func (s *fakeSink) pushed() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Snapshot(nil), s.snaps...)
}

type notification struct {
	active, resolved []alert.Alert
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []notification
}

func (n *fakeNotifier) Notify(_ context.Context, active, resolved []alert.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notification{active: active, resolved: resolved})
	return nil
}

func (n *fakeNotifier) notifications() []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification(nil), n.calls...)
}

type fakeReplayer struct {
	result  failedbatch.ReplayResult
	err     error
	logType string
	calls   atomic.Int32
}

func (r *fakeReplayer) Replay(_ context.Context, _ failedbatch.Router, logType string) (failedbatch.ReplayResult, error) {
	r.calls.Add(1)
	r.logType = logType
	return r.result, r.err
}

type fakeCounter struct {
	n   int
	err error
}

func (c fakeCounter) Count() (int, error) { return c.n, c.err }

func newDeps() Dependencies {
	return Dependencies{
		State:   pipeline.NewState(),
		Metrics: metric.NewComponentMetrics(),
		Core:    metric.NewMetrics(),
	}
}

func fastConfig() Config {
	return Config{
		HealthInterval:   10 * time.Millisecond,
		MetricsInterval:  10 * time.Millisecond,
		AlertInterval:    10 * time.Millisecond,
		ReplayInterval:   10 * time.Millisecond,
		IterationTimeout: time.Second,
	}
}

func TestNew_RequiresStateAndMetrics(t *testing.T) {
	_, err := New(Config{}, Dependencies{Metrics: metric.NewComponentMetrics()})
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))

	_, err = New(Config{}, Dependencies{State: pipeline.NewState()})
	require.Error(t, err)

	_, err = New(Config{ReplayEnabled: true}, newDeps())
	require.Error(t, err, "replay without a replayer must be rejected")
}

func TestHealthCheckOnce_AllReachableMarksReady(t *testing.T) {
	deps := newDeps()
	deps.Probers = []Prober{&fakeProber{name: "source"}, &fakeProber{name: "sink"}}
	deps.State.Start()

	m, err := New(fastConfig(), deps)
	require.NoError(t, err)

	require.NoError(t, m.HealthCheckOnce(context.Background()))
	assert.True(t, deps.State.IsReady())
	assert.True(t, m.Health().AllHealthy())
	assert.Equal(t, []string{"sink", "source"}, m.Health().Names())
	assert.Equal(t, float64(1), testutil.ToFloat64(deps.Core.PipelineReady))
	assert.Equal(t, float64(1), testutil.ToFloat64(deps.Core.DependencyUp.WithLabelValues("sink")))
}

func TestHealthCheckOnce_UnreachableFlipsReadinessOnly(t *testing.T) {
	deps := newDeps()
	sink := &fakeProber{name: "sink"}
	deps.Probers = []Prober{&fakeProber{name: "source"}, sink}
	deps.State.Start()

	m, err := New(fastConfig(), deps)
	require.NoError(t, err)

	require.NoError(t, m.HealthCheckOnce(context.Background()))
	require.True(t, deps.State.IsReady())

	sink.err = stderrors.New("connection refused")
	err = m.HealthCheckOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDependencyUnreachable)
	assert.True(t, errors.IsTransient(err))

	assert.False(t, deps.State.IsReady())
	assert.True(t, deps.State.IsRunning(), "unreachable dependencies must not stop the pipeline")

	status, ok := m.Health().Get("sink")
	require.True(t, ok)
	assert.True(t, status.IsUnhealthy())
	assert.Equal(t, 1, status.Probe.ConsecutiveFailures)
	assert.Equal(t, float64(0), testutil.ToFloat64(deps.Core.DependencyUp.WithLabelValues("sink")))

	sink.err = nil
	require.NoError(t, m.HealthCheckOnce(context.Background()))
	assert.True(t, deps.State.IsReady())
}

func TestHealthCheckOnce_PanickingProberIsUnreachable(t *testing.T) {
	deps := newDeps()
	deps.Probers = []Prober{&fakeProber{name: "sink", panic: true}, &fakeProber{name: "source"}}
	deps.State.Start()

	m, err := New(fastConfig(), deps)
	require.NoError(t, err)

	err = m.HealthCheckOnce(context.Background())
	require.Error(t, err)
	assert.False(t, deps.State.IsReady())

	source, ok := m.Health().Get("source")
	require.True(t, ok, "probers after a panicking one still run")
	assert.True(t, source.IsHealthy())
}

func TestExportMetricsOnce_PushesSnapshotInline(t *testing.T) {
	deps := newDeps()
	sink := &fakeSink{}
	deps.Sink = sink
	deps.Batches = fakeCounter{n: 3}
	deps.Metrics.RecordMetric("sink", true, 10*time.Millisecond)
	deps.Metrics.RecordMetric("sink", false, 20*time.Millisecond)

	m, err := New(fastConfig(), deps)
	require.NoError(t, err)

	require.NoError(t, m.ExportMetricsOnce(context.Background()))

	snaps := sink.pushed()
	require.Len(t, snaps, 1)
	assert.Equal(t, 3, snaps[0].FailedBatches)
	require.Len(t, snaps[0].Components, 1)
	assert.Equal(t, "sink", snaps[0].Components[0].Component)
	assert.Equal(t, int64(2), snaps[0].Components[0].TotalProcessed)
	assert.False(t, snaps[0].Timestamp.IsZero())
}

func TestExportMetricsOnce_SinkFailureLeavesStateAlone(t *testing.T) {
	deps := newDeps()
	deps.Sink = &fakeSink{err: errors.ErrSinkUnavailable}
	deps.Batches = fakeCounter{err: stderrors.New("permission denied")}
	deps.State.Start()
	deps.State.MarkReady()

	m, err := New(fastConfig(), deps)
	require.NoError(t, err)

	err = m.ExportMetricsOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrSinkUnavailable)
	assert.True(t, deps.State.IsReady())
	assert.True(t, deps.State.IsRunning())

	assert.Equal(t, -1, m.Snapshot().FailedBatches)
}

func TestCheckAlertsOnce_NotifiesTransitionsOnly(t *testing.T) {
	deps := newDeps()
	notifier := &fakeNotifier{}
	deps.Notifier = notifier

	mgr, err := alert.NewManager(deps.Metrics, []alert.Rule{{
		Name:      "sink_errors",
		Component: "sink",
		Metric:    alert.MetricErrorRate,
		Threshold: 0.5,
		Severity:  alert.SeverityCritical,
	}})
	require.NoError(t, err)
	deps.Alerts = mgr

	m, err := New(fastConfig(), deps)
	require.NoError(t, err)
	ctx := context.Background()

	deps.Metrics.RecordMetric("sink", false, time.Millisecond)
	res, err := m.CheckAlertsOnce(ctx)
	require.NoError(t, err)
	require.Len(t, res.ActiveAlerts, 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(deps.Core.AlertsFiring))

	// still firing: reported as active, not notified again
	res, err = m.CheckAlertsOnce(ctx)
	require.NoError(t, err)
	require.Len(t, res.ActiveAlerts, 1)

	for i := 0; i < 9; i++ {
		deps.Metrics.RecordMetric("sink", true, time.Millisecond)
	}
	res, err = m.CheckAlertsOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.ActiveAlerts)
	require.Len(t, res.ResolvedAlerts, 1)
	assert.Equal(t, float64(0), testutil.ToFloat64(deps.Core.AlertsFiring))

	calls := notifier.notifications()
	require.Len(t, calls, 2)
	require.Len(t, calls[0].active, 1)
	assert.Equal(t, "sink_errors", calls[0].active[0].Rule)
	assert.Empty(t, calls[0].resolved)
	assert.Empty(t, calls[1].active)
	require.Len(t, calls[1].resolved, 1)
}

func TestCheckAlertsOnce_WithoutManager(t *testing.T) {
	m, err := New(fastConfig(), newDeps())
	require.NoError(t, err)

	res, err := m.CheckAlertsOnce(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, res.ActiveAlerts)
	assert.Zero(t, res.TotalAlertsChecked)
}

func TestReplayOnce(t *testing.T) {
	deps := newDeps()
	replayer := &fakeReplayer{result: failedbatch.ReplayResult{Processed: 3, Archived: 2, Failed: 1}}
	deps.Replayer = replayer
	deps.Router = failedbatch.RouterFunc(func(context.Context, string, []failedbatch.Record) error { return nil })

	cfg := fastConfig()
	cfg.LogType = "cloudtrail"
	m, err := New(cfg, deps)
	require.NoError(t, err)

	res, err := m.ReplayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Archived)
	assert.Equal(t, "cloudtrail", replayer.logType)

	replayer.err = stderrors.New("cannot list directory")
	_, err = m.ReplayOnce(context.Background())
	assert.Error(t, err)
}

func TestReplayOnce_NotConfigured(t *testing.T) {
	m, err := New(fastConfig(), newDeps())
	require.NoError(t, err)

	res, err := m.ReplayOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
}

func TestLoop_SurvivesPanicsAndErrors(t *testing.T) {
	deps := newDeps()
	m, err := New(fastConfig(), deps)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	step := func(context.Context) error {
		n := calls.Add(1)
		switch n {
		case 1:
			panic("first iteration explodes")
		case 2:
			return stderrors.New("second iteration fails")
		case 4:
			cancel()
		}
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- m.loop(ctx, "test", 5*time.Millisecond, false, step) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after cancellation")
	}

	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, float64(1), testutil.ToFloat64(deps.Core.LoopIterations.WithLabelValues("test", "panic")))
	assert.Equal(t, float64(1), testutil.ToFloat64(deps.Core.LoopIterations.WithLabelValues("test", "error")))
	assert.Equal(t, float64(2), testutil.ToFloat64(deps.Core.LoopIterations.WithLabelValues("test", "ok")))
}

func TestLoop_CancelledBeforeFirstTick(t *testing.T) {
	m, err := New(fastConfig(), newDeps())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	err = m.loop(ctx, "test", time.Hour, false, func(context.Context) error {
		calls.Add(1)
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, calls.Load())
}

func TestStartStop_Lifecycle(t *testing.T) {
	deps := newDeps()
	sink := &fakeSink{}
	deps.Sink = sink
	deps.Probers = []Prober{&fakeProber{name: "sink"}}

	m, err := New(fastConfig(), deps)
	require.NoError(t, err)

	require.NoError(t, m.Start(context.Background()))
	assert.True(t, deps.State.IsRunning())

	err = m.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrAlreadyStarted)

	require.Eventually(t, deps.State.IsReady, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(sink.pushed()) > 0 }, time.Second, 5*time.Millisecond)

	start := time.Now()
	require.NoError(t, m.Stop(time.Second))
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	assert.False(t, deps.State.IsRunning())
	assert.False(t, deps.State.IsReady())
	assert.Equal(t, float64(0), testutil.ToFloat64(deps.Core.PipelineRunning))

	require.NoError(t, m.Stop(time.Second), "second Stop is a no-op")
}

func TestStop_WaitsForIterationInProgress(t *testing.T) {
	deps := newDeps()
	slow := &fakeProber{name: "source", delay: 100 * time.Millisecond}
	deps.Probers = []Prober{slow}

	cfg := fastConfig()
	cfg.HealthInterval = time.Hour
	m, err := New(cfg, deps)
	require.NoError(t, err)

	require.NoError(t, m.Start(context.Background()))
	require.Eventually(t, func() bool { return slow.calls.Load() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, m.Stop(2*time.Second))

	status, ok := m.Health().Get("source")
	require.True(t, ok, "the in-flight probe must complete before Stop returns")
	assert.True(t, status.IsHealthy())
}

func TestStop_TimeoutReported(t *testing.T) {
	deps := newDeps()
	slow := &fakeProber{name: "source", delay: 300 * time.Millisecond}
	deps.Probers = []Prober{slow}

	cfg := fastConfig()
	cfg.HealthInterval = time.Hour
	m, err := New(cfg, deps)
	require.NoError(t, err)

	require.NoError(t, m.Start(context.Background()))
	require.Eventually(t, func() bool { return slow.calls.Load() == 1 }, time.Second, time.Millisecond)

	err = m.Stop(20 * time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStopTimeout)
	assert.False(t, deps.State.IsRunning())
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{IterationTimeout: 2 * time.Second}.withDefaults()
	assert.Equal(t, 30*time.Second, cfg.HealthInterval)
	assert.Equal(t, 60*time.Second, cfg.MetricsInterval)
	assert.Equal(t, 2*time.Second, cfg.ProbeTimeout, "probe timeout never exceeds the iteration timeout")
	assert.Equal(t, 2, cfg.DispatchWorkers)
}
