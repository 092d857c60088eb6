package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

type componentCollector struct {
	metrics   *ComponentMetrics
	processed *prometheus.Desc
	errors    *prometheus.Desc
	errorRate *prometheus.Desc
	avg       *prometheus.Desc
	p95       *prometheus.Desc
	samples   *prometheus.Desc
	evicted   *prometheus.Desc
}

// NewComponentCollector exposes ComponentMetrics to Prometheus. Values are
// read at scrape time, so the collector holds no state of its own.
func NewComponentCollector(m *ComponentMetrics) prometheus.Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "component", name),
			help, []string{"component"}, nil)
	}
	return &componentCollector{
		metrics:   m,
		processed: desc("processed_total", "Calls recorded per component"),
		errors:    desc("errors_total", "Failed calls recorded per component"),
		errorRate: desc("error_rate", "Failed calls divided by total calls"),
		avg:       desc("processing_seconds_avg", "Mean latency over the retained window"),
		p95:       desc("processing_seconds_p95", "95th percentile latency over the retained window"),
		samples:   desc("latency_samples", "Latency samples currently retained in the window"),
		evicted:   desc("latency_samples_evicted_total", "Latency samples pushed out of the full window"),
	}
}

func (c *componentCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.processed
	ch <- c.errors
	ch <- c.errorRate
	ch <- c.avg
	ch <- c.p95
	ch <- c.samples
	ch <- c.evicted
}

func (c *componentCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.metrics.Snapshot() {
		ch <- prometheus.MustNewConstMetric(c.processed, prometheus.CounterValue, float64(s.TotalProcessed), s.Component)
		ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(s.TotalErrors), s.Component)
		ch <- prometheus.MustNewConstMetric(c.errorRate, prometheus.GaugeValue, s.ErrorRate, s.Component)
		ch <- prometheus.MustNewConstMetric(c.avg, prometheus.GaugeValue, s.ProcessingTimeAvg.Seconds(), s.Component)
		ch <- prometheus.MustNewConstMetric(c.p95, prometheus.GaugeValue, s.ProcessingTimeP95.Seconds(), s.Component)
		ch <- prometheus.MustNewConstMetric(c.samples, prometheus.GaugeValue, float64(s.Samples), s.Component)
		ch <- prometheus.MustNewConstMetric(c.evicted, prometheus.CounterValue, float64(s.SamplesDropped), s.Component)
	}
}
