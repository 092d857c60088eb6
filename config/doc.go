// Package config loads the connector configuration.
//
// Configuration starts from Default, then each file layer is decoded on top
// of it, then environment variables prefixed with S3SENTINEL_ are applied.
// Files ending in .yaml or .yml are read as YAML; anything else is read as
// JSON. Unknown keys are rejected in both formats.
//
// # Basic Usage
//
//	loader := config.NewLoader()
//	loader.AddLayer("configs/base.yaml")
//	loader.AddLayer("configs/production.yaml") // Overrides base
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	mon, err := monitor.New(cfg.MonitorConfig(), deps)
//
// # Durations
//
// Interval and timeout fields accept Go duration strings ("30s", "5m"), a
// day suffix ("14d"), or a bare number of seconds.
//
// # Environment Overrides
//
//	S3SENTINEL_LOG_TYPE          pipeline.log_type
//	S3SENTINEL_FAILED_BATCH_DIR  pipeline.failed_batch_dir
//	S3SENTINEL_SERVER_HOST       server.host
//	S3SENTINEL_SERVER_PORT       server.port
//	S3SENTINEL_SINK_URL          router.sink_url
//	S3SENTINEL_SOURCE_URL        router.source_url
//	S3SENTINEL_REPLAY_ENABLED    monitor.replay_enabled
//	S3SENTINEL_NATS_URL          nats.url
//	S3SENTINEL_NATS_USERNAME     nats.username
//	S3SENTINEL_NATS_PASSWORD     nats.password
//	S3SENTINEL_NATS_TOKEN        nats.token
//
// # Validation
//
// Validate returns invalid-class errors from the errors package, so callers
// can tell a bad configuration apart from an unreadable file, which is fatal.
package config
