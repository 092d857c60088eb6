package metric

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComponentMetrics_UnknownComponent(t *testing.T) {
	m := NewComponentMetrics()

	snap, ok := m.GetMetrics("sink")
	assert.False(t, ok)
	assert.Equal(t, "sink", snap.Component)
	assert.Zero(t, snap.TotalProcessed)
	assert.Zero(t, snap.ErrorRate)
	assert.Empty(t, m.Components())
}

func TestComponentMetrics_ErrorRate(t *testing.T) {
	m := NewComponentMetrics()

	for i := 0; i < 100; i++ {
		m.RecordMetric("sink", i >= 2, 10*time.Millisecond)
	}

	snap, ok := m.GetMetrics("sink")
	require.True(t, ok)
	assert.Equal(t, int64(100), snap.TotalProcessed)
	assert.Equal(t, int64(2), snap.TotalErrors)
	assert.InDelta(t, 0.02, snap.ErrorRate, 1e-9)
	assert.Equal(t, 10*time.Millisecond, snap.ProcessingTimeAvg)
	assert.Equal(t, 10*time.Millisecond, snap.ProcessingTimeP95)
}

func TestComponentMetrics_AllFailures(t *testing.T) {
	m := NewComponentMetrics()
	m.RecordMetric("replay", false, time.Millisecond)

	snap, _ := m.GetMetrics("replay")
	assert.Equal(t, 1.0, snap.ErrorRate)
}

func TestComponentMetrics_NegativeDurationClamped(t *testing.T) {
	m := NewComponentMetrics()
	m.RecordMetric("sink", true, -time.Second)

	snap, _ := m.GetMetrics("sink")
	assert.Equal(t, time.Duration(0), snap.ProcessingTimeAvg)
	assert.Equal(t, 1, snap.Samples)
}

func TestComponentMetrics_P95NearestRank(t *testing.T) {
	m := NewComponentMetrics()
	for i := 1; i <= 100; i++ {
		m.RecordMetric("sink", true, time.Duration(i)*time.Millisecond)
	}

	snap, _ := m.GetMetrics("sink")
	assert.Equal(t, 95*time.Millisecond, snap.ProcessingTimeP95)
	assert.Equal(t, 50500*time.Microsecond, snap.ProcessingTimeAvg)
}

func TestPercentile(t *testing.T) {
	tests := []struct {
		name     string
		samples  []time.Duration
		p        float64
		expected time.Duration
	}{
		{"empty", nil, 0.95, 0},
		{"single", []time.Duration{7}, 0.95, 7},
		{"unsorted", []time.Duration{5, 1, 4, 2, 3}, 0.95, 5},
		{"median of four", []time.Duration{4, 3, 2, 1}, 0.5, 2},
		{"twenty samples", []time.Duration{
			1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20,
		}, 0.95, 19},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := append([]time.Duration(nil), tt.samples...)
			assert.Equal(t, tt.expected, Percentile(input, tt.p))
			assert.Equal(t, tt.samples, []time.Duration(input), "input must not be reordered")
		})
	}
}

func TestComponentMetrics_WindowBoundedUnderSustainedLoad(t *testing.T) {
	m := NewComponentMetrics(WithLatencyWindow(128))

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10000; i++ {
				m.RecordMetric("sink", i%10 != 0, time.Duration(i)*time.Microsecond)
			}
		}()
	}
	wg.Wait()

	snap, ok := m.GetMetrics("sink")
	require.True(t, ok)
	assert.Equal(t, int64(80000), snap.TotalProcessed)
	assert.Equal(t, int64(8000), snap.TotalErrors)
	assert.Equal(t, 128, snap.Samples, "latency window must stay bounded")
	assert.Equal(t, int64(80000-128), snap.SamplesDropped)
	assert.InDelta(t, 0.1, snap.ErrorRate, 1e-9)
}

func TestComponentMetrics_WindowKeepsMostRecent(t *testing.T) {
	m := NewComponentMetrics(WithLatencyWindow(10))

	for i := 0; i < 100; i++ {
		m.RecordMetric("sink", true, time.Second)
	}
	for i := 0; i < 10; i++ {
		m.RecordMetric("sink", true, time.Millisecond)
	}

	snap, _ := m.GetMetrics("sink")
	assert.Equal(t, time.Millisecond, snap.ProcessingTimeAvg)
	assert.Equal(t, time.Millisecond, snap.ProcessingTimeP95)
}

func TestComponentMetrics_SnapshotSorted(t *testing.T) {
	m := NewComponentMetrics()
	m.RecordMetric("sink", true, 0)
	m.RecordMetric("replay", true, 0)
	m.RecordMetric("router", false, 0)

	assert.Equal(t, []string{"replay", "router", "sink"}, m.Components())

	snaps := m.Snapshot()
	require.Len(t, snaps, 3)
	assert.Equal(t, "replay", snaps[0].Component)
	assert.Equal(t, int64(1), snaps[1].TotalErrors)
}

func TestComponentCollector(t *testing.T) {
	m := NewComponentMetrics()
	m.RecordMetric("sink", true, 100*time.Millisecond)
	m.RecordMetric("sink", false, 300*time.Millisecond)

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewComponentCollector(m)))

	expected := `
# HELP s3_sentinel_component_errors_total Failed calls recorded per component
# TYPE s3_sentinel_component_errors_total counter
s3_sentinel_component_errors_total{component="sink"} 1
# HELP s3_sentinel_component_error_rate Failed calls divided by total calls
# TYPE s3_sentinel_component_error_rate gauge
s3_sentinel_component_error_rate{component="sink"} 0.5
# HELP s3_sentinel_component_processed_total Calls recorded per component
# TYPE s3_sentinel_component_processed_total counter
s3_sentinel_component_processed_total{component="sink"} 2
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"s3_sentinel_component_errors_total",
		"s3_sentinel_component_error_rate",
		"s3_sentinel_component_processed_total",
	)
	assert.NoError(t, err)

	count, err := testutil.GatherAndCount(reg, "s3_sentinel_component_processing_seconds_p95")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestComponentCollector_LatencyWindowEvictions(t *testing.T) {
	m := NewComponentMetrics(WithLatencyWindow(2))
	for i := 0; i < 5; i++ {
		m.RecordMetric("sink", true, time.Millisecond)
	}

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewComponentCollector(m)))

	expected := `
# HELP s3_sentinel_component_latency_samples Latency samples currently retained in the window
# TYPE s3_sentinel_component_latency_samples gauge
s3_sentinel_component_latency_samples{component="sink"} 2
# HELP s3_sentinel_component_latency_samples_evicted_total Latency samples pushed out of the full window
# TYPE s3_sentinel_component_latency_samples_evicted_total counter
s3_sentinel_component_latency_samples_evicted_total{component="sink"} 3
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"s3_sentinel_component_latency_samples",
		"s3_sentinel_component_latency_samples_evicted_total",
	)
	assert.NoError(t, err)
}
