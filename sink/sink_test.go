package sink

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/topazyo/s3-sentinel-connector-sub001/alert"
	"github.com/topazyo/s3-sentinel-connector-sub001/errors"
	"github.com/topazyo/s3-sentinel-connector-sub001/metric"
	"github.com/topazyo/s3-sentinel-connector-sub001/monitor"
	"github.com/topazyo/s3-sentinel-connector-sub001/pipeline"
)

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{subject: subject, data: data})
	return nil
}

// compile-time checks against the monitor collaborator interfaces
var (
	_ monitor.MetricsSink = (*NATSPublisher)(nil)
	_ monitor.Notifier    = (*NATSPublisher)(nil)
	_ monitor.MetricsSink = (*LogSink)(nil)
	_ monitor.Notifier    = (*LogSink)(nil)
)

func testSnapshot() monitor.Snapshot {
	return monitor.Snapshot{
		Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Pipeline:  pipeline.Snapshot{Running: true, Ready: true},
		Components: []metric.ComponentSnapshot{{
			Component:         "sink",
			TotalProcessed:    100,
			TotalErrors:       2,
			ErrorRate:         0.02,
			ProcessingTimeAvg: 50 * time.Millisecond,
			ProcessingTimeP95: 95 * time.Millisecond,
		}},
		FailedBatches: 4,
	}
}

func TestNewNATSPublisher_Defaults(t *testing.T) {
	_, err := NewNATSPublisher(nil, Subjects{})
	require.Error(t, err)

	p, err := NewNATSPublisher(&fakePublisher{}, Subjects{})
	require.NoError(t, err)
	assert.Equal(t, DefaultMetricsSubject, p.Subjects().Metrics)
	assert.Equal(t, DefaultAlertsSubject, p.Subjects().Alerts)
	assert.NotEmpty(t, p.source)
}

func TestNATSPublisher_Push(t *testing.T) {
	pub := &fakePublisher{}
	p, err := NewNATSPublisher(pub, Subjects{Metrics: "ops.metrics"}, WithSource("host-a"))
	require.NoError(t, err)

	require.NoError(t, p.Push(context.Background(), testSnapshot()))
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "ops.metrics", pub.msgs[0].subject)

	var body map[string]any
	require.NoError(t, json.Unmarshal(pub.msgs[0].data, &body))
	assert.Equal(t, "host-a", body["source"])
	assert.EqualValues(t, 4, body["failed_batches"])

	components, ok := body["components"].([]any)
	require.True(t, ok)
	require.Len(t, components, 1)
	first := components[0].(map[string]any)
	assert.Equal(t, "sink", first["component"])
	assert.InDelta(t, 0.02, first["error_rate"], 1e-9)
}

func TestNATSPublisher_Notify(t *testing.T) {
	pub := &fakePublisher{}
	p, err := NewNATSPublisher(pub, Subjects{}, WithSource("host-a"))
	require.NoError(t, err)
	p.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

	active := []alert.Alert{{Rule: "sink_error_rate_high", Component: "sink", Value: 0.2, Threshold: 0.05}}
	require.NoError(t, p.Notify(context.Background(), active, nil))
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, DefaultAlertsSubject, pub.msgs[0].subject)

	var msg AlertMessage
	require.NoError(t, json.Unmarshal(pub.msgs[0].data, &msg))
	assert.Equal(t, "host-a", msg.Source)
	require.Len(t, msg.Active, 1)
	assert.Equal(t, "sink_error_rate_high", msg.Active[0].Rule)
	assert.NotNil(t, msg.Resolved)
	assert.Empty(t, msg.Resolved)
	assert.Contains(t, string(pub.msgs[0].data), `"resolved":[]`)
}

func TestNATSPublisher_PublishFailure(t *testing.T) {
	pub := &fakePublisher{err: stderrors.New("nats: connection closed")}
	p, err := NewNATSPublisher(pub, Subjects{})
	require.NoError(t, err)

	err = p.Push(context.Background(), testSnapshot())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrSinkUnavailable)
	assert.True(t, errors.IsTransient(err))

	err = p.Notify(context.Background(), nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrSinkUnavailable)
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSink(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	require.NoError(t, s.Push(context.Background(), testSnapshot()))
	out := buf.String()
	assert.Contains(t, out, `"msg":"Component metrics"`)
	assert.Contains(t, out, `"component_name":"sink"`)
	assert.Contains(t, out, `"failed_batches":4`)

	buf.Reset()
	require.NoError(t, s.Notify(context.Background(),
		[]alert.Alert{{Rule: "replay_failures", Severity: alert.SeverityCritical}},
		[]alert.Alert{{Rule: "sink_latency_p95_high"}}))
	out = buf.String()
	assert.Contains(t, out, `"level":"ERROR"`)
	assert.Contains(t, out, `"msg":"Alert firing"`)
	assert.Contains(t, out, `"msg":"Alert resolved"`)
	assert.Contains(t, out, `"rule":"sink_latency_p95_high"`)
}

func TestNewLogSink_NilLogger(t *testing.T) {
	s := NewLogSink(nil)
	assert.NoError(t, s.Push(context.Background(), monitor.Snapshot{}))
	assert.NoError(t, s.Notify(context.Background(), nil, nil))
}
