package config

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/topazyo/s3-sentinel-connector-sub001/alert"
	"github.com/topazyo/s3-sentinel-connector-sub001/errors"
	"github.com/topazyo/s3-sentinel-connector-sub001/metric"
	"github.com/topazyo/s3-sentinel-connector-sub001/monitor"
	"github.com/topazyo/s3-sentinel-connector-sub001/pkg/tlsutil"
	"github.com/topazyo/s3-sentinel-connector-sub001/router"
	"github.com/topazyo/s3-sentinel-connector-sub001/server"
	"github.com/topazyo/s3-sentinel-connector-sub001/sink"
)

// DefaultFailedBatchDir is where undelivered batches are written when no
// directory is configured
const DefaultFailedBatchDir = "failed_batches"

// Config represents the complete connector configuration
type Config struct {
	Pipeline PipelineConfig `json:"pipeline" yaml:"pipeline"`
	Monitor  MonitorConfig  `json:"monitor" yaml:"monitor"`
	Server   ServerConfig   `json:"server" yaml:"server"`
	Alerts   AlertsConfig   `json:"alerts" yaml:"alerts"`
	Router   RouterConfig   `json:"router" yaml:"router"`
	NATS     NATSConfig     `json:"nats" yaml:"nats"`
}

// PipelineConfig holds settings shared by the delivery path and replay
type PipelineConfig struct {
	LogType        string `json:"log_type" yaml:"log_type"` // fallback for batches without one
	FailedBatchDir string `json:"failed_batch_dir" yaml:"failed_batch_dir"`
	LatencyWindow  int    `json:"latency_window" yaml:"latency_window"`
}

// MonitorConfig sets the background loop cadence
type MonitorConfig struct {
	HealthInterval   Duration `json:"health_interval" yaml:"health_interval"`
	MetricsInterval  Duration `json:"metrics_interval" yaml:"metrics_interval"`
	AlertInterval    Duration `json:"alert_interval" yaml:"alert_interval"`
	ReplayInterval   Duration `json:"replay_interval" yaml:"replay_interval"`
	IterationTimeout Duration `json:"iteration_timeout" yaml:"iteration_timeout"`
	ProbeTimeout     Duration `json:"probe_timeout" yaml:"probe_timeout"`
	ReplayEnabled    bool     `json:"replay_enabled" yaml:"replay_enabled"`
	DispatchWorkers  int      `json:"dispatch_workers" yaml:"dispatch_workers"`
	DispatchQueue    int      `json:"dispatch_queue" yaml:"dispatch_queue"`
}

// ServerConfig holds the health server listener settings
type ServerConfig struct {
	Host           string               `json:"host,omitempty" yaml:"host,omitempty"`
	Port           int                  `json:"port" yaml:"port"`
	MaxIngestBytes int64                `json:"max_ingest_bytes,omitempty" yaml:"max_ingest_bytes,omitempty"`
	TLS            tlsutil.ServerConfig `json:"tls,omitempty" yaml:"tls,omitempty"`
}

// AlertsConfig lists alert rules. A nil Rules uses alert.DefaultRules; an
// explicit empty list disables alerting.
type AlertsConfig struct {
	Rules []RuleConfig `json:"rules" yaml:"rules"`
}

// RuleConfig is the file form of alert.Rule
type RuleConfig struct {
	Name      string   `json:"name" yaml:"name"`
	Component string   `json:"component" yaml:"component"`
	Metric    string   `json:"metric" yaml:"metric"`
	Threshold float64  `json:"threshold" yaml:"threshold"`
	Duration  Duration `json:"duration" yaml:"duration"`
	Severity  string   `json:"severity,omitempty" yaml:"severity,omitempty"`
}

// RouterConfig configures delivery to the sink
type RouterConfig struct {
	SinkURL     string               `json:"sink_url" yaml:"sink_url"`
	SourceURL   string               `json:"source_url,omitempty" yaml:"source_url,omitempty"`
	Headers     map[string]string    `json:"headers,omitempty" yaml:"headers,omitempty"`
	Timeout     Duration             `json:"timeout" yaml:"timeout"`
	RateLimit   float64              `json:"rate_limit" yaml:"rate_limit"`
	Burst       int                  `json:"burst" yaml:"burst"`
	ContentType string               `json:"content_type,omitempty" yaml:"content_type,omitempty"`
	TLS         tlsutil.ClientConfig `json:"tls,omitempty" yaml:"tls,omitempty"`
}

// NATSConfig defines the optional NATS connection used to publish metrics
// snapshots and alert notifications. An empty URL disables it.
type NATSConfig struct {
	URL           string        `json:"url,omitempty" yaml:"url,omitempty"`
	Username      string        `json:"username,omitempty" yaml:"username,omitempty"`
	Password      string        `json:"password,omitempty" yaml:"password,omitempty"`
	Token         string        `json:"token,omitempty" yaml:"token,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty" yaml:"max_reconnects,omitempty"`
	ReconnectWait Duration      `json:"reconnect_wait,omitempty" yaml:"reconnect_wait,omitempty"`
	Source        string        `json:"source,omitempty" yaml:"source,omitempty"`
	Subjects      sink.Subjects `json:"subjects" yaml:"subjects"`
}

// Enabled reports whether a NATS URL is configured
func (n NATSConfig) Enabled() bool {
	return strings.TrimSpace(n.URL) != ""
}

// Default returns the configuration used before any file is applied
func Default() *Config {
	mon := monitor.DefaultConfig()
	rt := router.DefaultConfig()
	return &Config{
		Pipeline: PipelineConfig{
			FailedBatchDir: DefaultFailedBatchDir,
			LatencyWindow:  metric.DefaultLatencyWindow,
		},
		Monitor: MonitorConfig{
			HealthInterval:   Duration(mon.HealthInterval),
			MetricsInterval:  Duration(mon.MetricsInterval),
			AlertInterval:    Duration(mon.AlertInterval),
			ReplayInterval:   Duration(mon.ReplayInterval),
			IterationTimeout: Duration(mon.IterationTimeout),
			ProbeTimeout:     Duration(mon.ProbeTimeout),
			ReplayEnabled:    true,
			DispatchWorkers:  mon.DispatchWorkers,
			DispatchQueue:    mon.DispatchQueue,
		},
		Server: ServerConfig{
			Port: server.DefaultPort,
		},
		Router: RouterConfig{
			Timeout:     Duration(rt.Timeout),
			RateLimit:   rt.RateLimit,
			Burst:       rt.Burst,
			ContentType: rt.ContentType,
		},
		NATS: NATSConfig{
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
			Subjects: sink.Subjects{
				Metrics: sink.DefaultMetricsSubject,
				Alerts:  sink.DefaultAlertsSubject,
			},
		},
	}
}

func invalid(format string, args ...any) error {
	return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", fmt.Sprintf(format, args...))
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Pipeline.LogType) == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "pipeline.log_type is required")
	}
	if strings.TrimSpace(c.Pipeline.FailedBatchDir) == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "pipeline.failed_batch_dir is required")
	}
	if c.Pipeline.LatencyWindow < 1 {
		return invalid("pipeline.latency_window must be positive, got %d", c.Pipeline.LatencyWindow)
	}

	for name, d := range map[string]Duration{
		"monitor.health_interval":   c.Monitor.HealthInterval,
		"monitor.metrics_interval":  c.Monitor.MetricsInterval,
		"monitor.alert_interval":    c.Monitor.AlertInterval,
		"monitor.replay_interval":   c.Monitor.ReplayInterval,
		"monitor.iteration_timeout": c.Monitor.IterationTimeout,
		"monitor.probe_timeout":     c.Monitor.ProbeTimeout,
		"router.timeout":            c.Router.Timeout,
	} {
		if d <= 0 {
			return invalid("%s must be positive, got %s", name, d)
		}
	}
	if c.Monitor.DispatchWorkers < 1 || c.Monitor.DispatchQueue < 1 {
		return invalid("monitor dispatch workers and queue must be positive")
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return invalid("server.port out of range: %d", c.Server.Port)
	}
	if c.Server.TLS.Enabled && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		return invalid("server.tls requires cert_file and key_file")
	}

	if err := c.RouterConfig().Validate(); err != nil {
		return err
	}
	if math.IsNaN(c.Router.RateLimit) || c.Router.RateLimit < 0 {
		return invalid("router.rate_limit cannot be negative")
	}

	seen := make(map[string]bool, len(c.Alerts.Rules))
	for _, rule := range c.AlertRules() {
		if err := rule.Validate(); err != nil {
			return err
		}
		if seen[rule.Name] {
			return invalid("duplicate alert rule %q", rule.Name)
		}
		seen[rule.Name] = true
	}

	if c.NATS.Enabled() {
		if !strings.HasPrefix(c.NATS.URL, "nats://") && !strings.HasPrefix(c.NATS.URL, "tls://") {
			return invalid("nats.url must use nats:// or tls://, got %q", c.NATS.URL)
		}
		if c.NATS.Subjects.Metrics == "" || c.NATS.Subjects.Alerts == "" {
			return invalid("nats.subjects.metrics and nats.subjects.alerts are required")
		}
		if c.NATS.Token != "" && c.NATS.Username != "" {
			return invalid("nats: set either token or username/password, not both")
		}
	}

	return nil
}

// MonitorConfig converts the monitor section
func (c *Config) MonitorConfig() monitor.Config {
	return monitor.Config{
		HealthInterval:   c.Monitor.HealthInterval.Std(),
		MetricsInterval:  c.Monitor.MetricsInterval.Std(),
		AlertInterval:    c.Monitor.AlertInterval.Std(),
		ReplayInterval:   c.Monitor.ReplayInterval.Std(),
		IterationTimeout: c.Monitor.IterationTimeout.Std(),
		ProbeTimeout:     c.Monitor.ProbeTimeout.Std(),
		ReplayEnabled:    c.Monitor.ReplayEnabled,
		LogType:          c.Pipeline.LogType,
		DispatchWorkers:  c.Monitor.DispatchWorkers,
		DispatchQueue:    c.Monitor.DispatchQueue,
	}
}

// RouterConfig converts the router section
func (c *Config) RouterConfig() router.Config {
	return router.Config{
		SinkURL:     c.Router.SinkURL,
		SourceURL:   c.Router.SourceURL,
		Headers:     c.Router.Headers,
		Timeout:     c.Router.Timeout.Std(),
		RateLimit:   c.Router.RateLimit,
		Burst:       c.Router.Burst,
		ContentType: c.Router.ContentType,
		TLS:         c.Router.TLS,
	}
}

// ServerConfig converts the server section
func (c *Config) ServerConfig() server.Config {
	return server.Config{
		Host:           c.Server.Host,
		Port:           c.Server.Port,
		TLS:            c.Server.TLS,
		MaxIngestBytes: c.Server.MaxIngestBytes,
	}
}

// AlertRules converts the alert rules, falling back to alert.DefaultRules
// when none are configured
func (c *Config) AlertRules() []alert.Rule {
	if c.Alerts.Rules == nil {
		return alert.DefaultRules()
	}
	rules := make([]alert.Rule, len(c.Alerts.Rules))
	for i, r := range c.Alerts.Rules {
		rules[i] = alert.Rule{
			Name:      r.Name,
			Component: r.Component,
			Metric:    r.Metric,
			Threshold: r.Threshold,
			Duration:  r.Duration.Std(),
			Severity:  r.Severity,
		}
	}
	return rules
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	redacted := *c
	if redacted.NATS.Password != "" {
		redacted.NATS.Password = "***"
	}
	if redacted.NATS.Token != "" {
		redacted.NATS.Token = "***"
	}
	if len(redacted.Router.Headers) > 0 {
		headers := make(map[string]string, len(redacted.Router.Headers))
		for k := range redacted.Router.Headers {
			headers[k] = "***"
		}
		redacted.Router.Headers = headers
	}
	data, _ := json.MarshalIndent(&redacted, "", "  ")
	return string(data)
}
