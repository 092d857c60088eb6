package alert

import (
	"github.com/topazyo/s3-sentinel-connector-sub001/metric"
)

// Metric kinds a rule can watch
const (
	MetricErrorRate  = "error_rate"
	MetricErrorCount = "error_count"
	MetricLatencyAvg = "latency_avg"
	MetricLatencyP95 = "latency_p95"
)

// Condition extracts the watched value from a component snapshot.
// Latency conditions report seconds.
type Condition interface {
	Kind() string
	Value(snap metric.ComponentSnapshot) float64
}

type errorRateCondition struct{}

func (errorRateCondition) Kind() string { return MetricErrorRate }
func (errorRateCondition) Value(s metric.ComponentSnapshot) float64 {
	return s.ErrorRate
}

type errorCountCondition struct{}

func (errorCountCondition) Kind() string { return MetricErrorCount }
func (errorCountCondition) Value(s metric.ComponentSnapshot) float64 {
	return float64(s.TotalErrors)
}

type latencyAvgCondition struct{}

func (latencyAvgCondition) Kind() string { return MetricLatencyAvg }
func (latencyAvgCondition) Value(s metric.ComponentSnapshot) float64 {
	return s.ProcessingTimeAvg.Seconds()
}

type latencyP95Condition struct{}

func (latencyP95Condition) Kind() string { return MetricLatencyP95 }
func (latencyP95Condition) Value(s metric.ComponentSnapshot) float64 {
	return s.ProcessingTimeP95.Seconds()
}

func conditionTable() map[string]Condition {
	table := make(map[string]Condition)
	for _, c := range []Condition{
		errorRateCondition{},
		errorCountCondition{},
		latencyAvgCondition{},
		latencyP95Condition{},
	} {
		table[c.Kind()] = c
	}
	return table
}

// KnownMetric reports whether kind names a supported condition
func KnownMetric(kind string) bool {
	_, ok := conditionTable()[kind]
	return ok
}
