// Package health tracks the reachability of the connector's dependencies.
//
// The monitor's health-check loop probes the source, the sink and any other
// configured dependency, then records each outcome here:
//
//	statuses := health.NewMonitor()
//	start := time.Now()
//	err := prober.Probe(ctx)
//	statuses.RecordProbe(prober.Name(), err, time.Since(start))
//
//	if statuses.AllHealthy() {
//	    state.MarkReady()
//	}
//
// A Status is healthy, degraded or unhealthy. Aggregate folds many statuses
// into one using worst-wins rules, which is what /status serves.
//
// Probe errors often carry URLs, hosts and credentials. FromProbe sanitizes
// the message before it is stored, so anything served over HTTP is safe to
// expose.
package health
