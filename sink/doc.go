// Package sink provides the metrics-sink and notifier collaborators the
// monitor pushes to.
//
// NATSPublisher encodes snapshots and alert transitions as JSON and publishes
// them on two subjects. LogSink writes the same information to a structured
// logger and is used when no NATS server is configured.
package sink
