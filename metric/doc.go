// Package metric holds the connector's in-process metrics.
//
// Two layers live here:
//
//  1. ComponentMetrics: per-component counters and a bounded latency window,
//     recorded by the ingestion path and the replay engine and read by the
//     alert manager and the health server. Latency percentiles are computed
//     at query time over the most recent DefaultLatencyWindow samples, so
//     memory stays constant no matter how long the process runs.
//  2. MetricsRegistry: a Prometheus registry carrying the pipeline's core
//     metrics, the component collector and anything other packages register
//     (worker pool, buffers, the failed-batch gauge).
//
// Basic usage:
//
//	cm := metric.NewComponentMetrics()
//	start := time.Now()
//	err := router.RouteLogs(ctx, "cloudtrail", records)
//	cm.RecordMetric("sink", err == nil, time.Since(start))
//
//	snap, ok := cm.GetMetrics("sink")
//	if ok && snap.ErrorRate > 0.05 {
//	    // ...
//	}
//
//	registry := metric.NewMetricsRegistry()
//	_ = registry.RegisterCollector("components", "component_metrics", metric.NewComponentCollector(cm))
package metric
