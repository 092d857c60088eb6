// Package monitor drives the periodic background work of the pipeline.
//
// A Monitor owns four loops:
//
//	health   probe each dependency, flip readiness
//	metrics  push a metrics snapshot to the sink
//	alerts   evaluate alert rules, notify on transitions
//	replay   re-send failed batches (optional)
//
// Every loop waits for its interval with a select on a ticker and the
// cancellation signal, then runs one step. A step that errors or panics is
// logged and the loop continues. Stop cancels the loops and waits for the
// step in progress; a step is never aborted because of shutdown, only bounded
// by its own iteration timeout.
//
// Each step is also exported for run-once use:
//
//	m, _ := monitor.New(cfg, deps)
//	if err := m.HealthCheckOnce(ctx); err != nil {
//	    // at least one dependency is unreachable
//	}
//
// Sink and notifier calls go through a small worker pool while the loops are
// running, so a slow collaborator cannot stall a loop. In run-once mode they
// are called inline.
package monitor
