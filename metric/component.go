package metric

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/topazyo/s3-sentinel-connector-sub001/pkg/buffer"
)

// DefaultLatencyWindow is the number of most recent latency samples retained
// per component.
const DefaultLatencyWindow = 1024

// ComponentSnapshot is a point-in-time view of one component's metrics.
type ComponentSnapshot struct {
	Component         string        `json:"component"`
	TotalProcessed    int64         `json:"total_processed"`
	TotalErrors       int64         `json:"total_errors"`
	ErrorRate         float64       `json:"error_rate"`
	ProcessingTimeAvg time.Duration `json:"processing_time_avg"`
	ProcessingTimeP95 time.Duration `json:"processing_time_p95"`
	Samples           int           `json:"samples"`
	SamplesDropped    int64         `json:"samples_dropped"`
}

type componentRecord struct {
	mu             sync.Mutex
	totalProcessed int64
	totalErrors    int64
	latencies      *buffer.Window[time.Duration]
}

// ComponentMetrics tracks call counts, error counts and a bounded window of
// processing latencies per named component. Safe for concurrent use.
type ComponentMetrics struct {
	mu      sync.RWMutex
	records map[string]*componentRecord
	window  int
}

// ComponentOption configures ComponentMetrics.
type ComponentOption func(*ComponentMetrics)

// WithLatencyWindow sets how many latency samples each component retains.
func WithLatencyWindow(n int) ComponentOption {
	return func(m *ComponentMetrics) {
		if n > 0 {
			m.window = n
		}
	}
}

// NewComponentMetrics creates an empty metrics store.
func NewComponentMetrics(opts ...ComponentOption) *ComponentMetrics {
	m := &ComponentMetrics{
		records: make(map[string]*componentRecord),
		window:  DefaultLatencyWindow,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *ComponentMetrics) record(component string) *componentRecord {
	m.mu.RLock()
	rec, ok := m.records[component]
	m.mu.RUnlock()
	if ok {
		return rec
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok = m.records[component]; ok {
		return rec
	}
	rec = &componentRecord{latencies: buffer.NewWindow[time.Duration](m.window)}
	m.records[component] = rec
	return rec
}

// RecordMetric records one call to component. Negative durations are stored
// as zero.
func (m *ComponentMetrics) RecordMetric(component string, success bool, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	rec := m.record(component)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.totalProcessed++
	if !success {
		rec.totalErrors++
	}
	rec.latencies.Write(duration)
}

// GetMetrics returns the snapshot for component, or false if nothing was
// ever recorded for it.
func (m *ComponentMetrics) GetMetrics(component string) (ComponentSnapshot, bool) {
	m.mu.RLock()
	rec, ok := m.records[component]
	m.mu.RUnlock()
	if !ok {
		return ComponentSnapshot{Component: component}, false
	}
	return rec.snapshot(component), true
}

// Snapshot returns snapshots for every known component, sorted by name.
func (m *ComponentMetrics) Snapshot() []ComponentSnapshot {
	m.mu.RLock()
	names := make([]string, 0, len(m.records))
	recs := make(map[string]*componentRecord, len(m.records))
	for name, rec := range m.records {
		names = append(names, name)
		recs[name] = rec
	}
	m.mu.RUnlock()

	sort.Strings(names)
	out := make([]ComponentSnapshot, 0, len(names))
	for _, name := range names {
		out = append(out, recs[name].snapshot(name))
	}
	return out
}

// Components returns the names of all known components, sorted.
func (m *ComponentMetrics) Components() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.records))
	for name := range m.records {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *componentRecord) snapshot(component string) ComponentSnapshot {
	r.mu.Lock()
	processed := r.totalProcessed
	errs := r.totalErrors
	samples := r.latencies.Snapshot()
	stats := r.latencies.Stats()
	r.mu.Unlock()

	snap := ComponentSnapshot{
		Component:      component,
		TotalProcessed: processed,
		TotalErrors:    errs,
		ErrorRate:      float64(errs) / float64(max(processed, 1)),
		Samples:        len(samples),
		SamplesDropped: stats.Drops,
	}
	if len(samples) == 0 {
		return snap
	}

	var sum time.Duration
	for _, s := range samples {
		sum += s
	}
	snap.ProcessingTimeAvg = sum / time.Duration(len(samples))
	snap.ProcessingTimeP95 = Percentile(samples, 0.95)
	return snap
}

// Percentile returns the nearest-rank percentile p (0..1] of samples: the
// value at position ceil(p*n) in ascending order. The input is not modified.
func Percentile(samples []time.Duration, p float64) time.Duration {
	n := len(samples)
	if n == 0 {
		return 0
	}
	sorted := make([]time.Duration, n)
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	rank := int(math.Ceil(p*float64(n) - 1e-9))
	if rank < 1 {
		rank = 1
	}
	if rank > n {
		rank = n
	}
	return sorted[rank-1]
}
