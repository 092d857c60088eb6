// Package s3sentinel is the runtime reliability layer of a connector that
// ships log batches read from S3 to a Sentinel ingestion endpoint.
//
// The connector's parsing and collection stages live elsewhere. This module
// keeps delivery honest: it records how every component performs, persists
// batches the sink refused so they can be replayed, raises alerts when a
// component misbehaves for long enough, and answers health, readiness and
// metrics requests for the orchestrator.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│          HTTP surface               │  /health /ready /metrics
//	│            (server)                 │  /status /ingest
//	└─────────────────────────────────────┘
//	           ↓ reads
//	┌─────────────────────────────────────┐
//	│     Pipeline state + metrics        │  Running / ready flags,
//	│   (pipeline, metric, health)        │  per-component counters
//	└─────────────────────────────────────┘
//	           ↑ written by
//	┌─────────────────────────────────────┐
//	│         Monitor loops               │  health, metrics, alerts,
//	│          (monitor)                  │  replay
//	└─────────────────────────────────────┘
//	           ↓ uses
//	┌─────────────────────────────────────┐
//	│  Delivery + persistence             │  HTTP router to the sink,
//	│ (router, shipper, failedbatch)      │  failed batch directory
//	└─────────────────────────────────────┘
//
// # Delivery Path
//
// A batch handed to the shipper is routed to the sink. On failure it is
// written to the failed batch directory as one JSON file and counted. The
// replay loop, or the replay-failed command, later resends each pending file
// once per pass and archives the ones that go through.
//
//	  batch
//	    │
//	    ↓
//	┌─────────┐   ok    ┌──────────┐
//	│ Shipper │───────→ │   Sink   │
//	└────┬────┘         └──────────┘
//	     │ failed             ↑
//	     ↓                    │ replay
//	┌──────────────┐    ┌─────┴─────┐
//	│ failed/*.json│───→│ Replayer  │──→ failed/archived/*.json
//	└──────────────┘    └───────────┘
//
// # Monitor Loops
//
// Four loops run independently. Each waits on its ticker or on cancellation,
// whichever comes first, and a failing or panicking iteration is logged and
// counted without stopping the loop.
//
//   - health: probes the source, the sink and NATS, and sets readiness
//   - metrics: pushes a snapshot to NATS or to the log
//   - alerts: evaluates rules and forwards newly firing and resolved alerts
//   - replay: resends persisted batches
//
// # Packages
//
// Core:
//   - pipeline: Running and ready flags
//   - failedbatch: Failed batch store and replay engine
//   - metric: Component metrics and the Prometheus registry
//   - alert: Threshold rules with sustained-duration firing
//   - health: Dependency health statuses
//   - monitor: Background loops
//   - server: Health server
//
// Delivery:
//   - router: HTTP delivery to the sink with rate limiting
//   - shipper: Deliver-or-persist for one batch
//   - sink: Metrics and alert publishers (NATS, log)
//   - natsclient: NATS connection management
//
// Support:
//   - config: JSON or YAML configuration with environment overrides
//   - errors: Classified errors (transient, invalid, fatal)
//   - pkg/buffer: Sliding window backing the latency percentiles
//   - pkg/retry: Exponential backoff
//   - pkg/worker: Worker pool for monitor dispatch
//   - pkg/tlsutil: TLS configuration for the router and server
//
// # Running
//
//	s3sentinel --config=configs/s3sentinel.yaml
//	s3sentinel replay-failed --config=configs/s3sentinel.yaml
package s3sentinel
