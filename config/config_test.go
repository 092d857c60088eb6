package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/topazyo/s3-sentinel-connector-sub001/alert"
	"github.com/topazyo/s3-sentinel-connector-sub001/errors"
	"github.com/topazyo/s3-sentinel-connector-sub001/metric"
	"github.com/topazyo/s3-sentinel-connector-sub001/server"
	"github.com/topazyo/s3-sentinel-connector-sub001/sink"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Pipeline.LogType = "cloudtrail"
	cfg.Router.SinkURL = "https://sentinel.example.com/api/logs"
	return cfg
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newTestLoader(env map[string]string) *Loader {
	l := NewLoader()
	l.lookupEnv = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	return l
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, DefaultFailedBatchDir, cfg.Pipeline.FailedBatchDir)
	assert.Equal(t, metric.DefaultLatencyWindow, cfg.Pipeline.LatencyWindow)
	assert.Equal(t, 30*time.Second, cfg.Monitor.HealthInterval.Std())
	assert.Equal(t, 60*time.Second, cfg.Monitor.MetricsInterval.Std())
	assert.Equal(t, 5*time.Minute, cfg.Monitor.ReplayInterval.Std())
	assert.True(t, cfg.Monitor.ReplayEnabled)
	assert.Equal(t, server.DefaultPort, cfg.Server.Port)
	assert.Equal(t, sink.DefaultMetricsSubject, cfg.NATS.Subjects.Metrics)
	assert.False(t, cfg.NATS.Enabled())

	err := cfg.Validate()
	require.Error(t, err, "log type and sink url have no defaults")
	assert.True(t, errors.IsInvalid(err))
	assert.ErrorIs(t, err, errors.ErrMissingConfig)

	require.NoError(t, validConfig().Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"empty failed batch dir", func(c *Config) { c.Pipeline.FailedBatchDir = " " }, "failed_batch_dir"},
		{"zero latency window", func(c *Config) { c.Pipeline.LatencyWindow = 0 }, "latency_window"},
		{"zero interval", func(c *Config) { c.Monitor.AlertInterval = 0 }, "monitor.alert_interval"},
		{"negative timeout", func(c *Config) { c.Router.Timeout = Duration(-time.Second) }, "router.timeout"},
		{"no dispatch workers", func(c *Config) { c.Monitor.DispatchWorkers = 0 }, "dispatch"},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"tls without cert", func(c *Config) { c.Server.TLS.Enabled = true }, "server.tls"},
		{"bad sink scheme", func(c *Config) { c.Router.SinkURL = "ftp://sink" }, "sink"},
		{"negative rate", func(c *Config) { c.Router.RateLimit = -1 }, "rate_limit"},
		{"bad nats url", func(c *Config) { c.NATS.URL = "http://nats:4222" }, "nats.url"},
		{"nats token and user", func(c *Config) {
			c.NATS.URL = "nats://nats:4222"
			c.NATS.Token = "t"
			c.NATS.Username = "u"
		}, "token"},
		{"bad rule severity", func(c *Config) {
			c.Alerts.Rules = []RuleConfig{{Name: "r", Component: "sink", Metric: alert.MetricErrorRate, Severity: "page"}}
		}, "severity"},
		{"duplicate rule", func(c *Config) {
			rule := RuleConfig{Name: "r", Component: "sink", Metric: alert.MetricErrorRate}
			c.Alerts.Rules = []RuleConfig{rule, rule}
		}, "duplicate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err), "got %v", err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "s3sentinel.yaml", `
pipeline:
  log_type: cloudtrail
  failed_batch_dir: /var/lib/s3sentinel/failed
monitor:
  health_interval: 10s
  alert_interval: 15
  replay_interval: 1d
  replay_enabled: false
server:
  port: 9090
router:
  sink_url: https://sentinel.example.com/api/logs
  source_url: https://s3.example.com
  rate_limit: 2.5
  headers:
    Authorization: Bearer abc
alerts:
  rules:
    - name: sink_errors
      component: sink
      metric: error_rate
      threshold: 0.1
      duration: 2m
      severity: critical
nats:
  url: nats://nats:4222
  subjects:
    metrics: ops.metrics
    alerts: ops.alerts
`)

	l := newTestLoader(nil)
	l.EnableValidation(true)
	cfg, err := l.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "cloudtrail", cfg.Pipeline.LogType)
	assert.Equal(t, "/var/lib/s3sentinel/failed", cfg.Pipeline.FailedBatchDir)
	assert.Equal(t, metric.DefaultLatencyWindow, cfg.Pipeline.LatencyWindow, "unset fields keep defaults")
	assert.Equal(t, 10*time.Second, cfg.Monitor.HealthInterval.Std())
	assert.Equal(t, 15*time.Second, cfg.Monitor.AlertInterval.Std())
	assert.Equal(t, 24*time.Hour, cfg.Monitor.ReplayInterval.Std())
	assert.Equal(t, 60*time.Second, cfg.Monitor.MetricsInterval.Std())
	assert.False(t, cfg.Monitor.ReplayEnabled)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.InDelta(t, 2.5, cfg.Router.RateLimit, 0.0001)
	assert.Equal(t, "Bearer abc", cfg.Router.Headers["Authorization"])
	assert.True(t, cfg.NATS.Enabled())
	assert.Equal(t, "ops.alerts", cfg.NATS.Subjects.Alerts)

	rules := cfg.AlertRules()
	require.Len(t, rules, 1)
	assert.Equal(t, alert.Rule{
		Name:      "sink_errors",
		Component: "sink",
		Metric:    alert.MetricErrorRate,
		Threshold: 0.1,
		Duration:  2 * time.Minute,
		Severity:  alert.SeverityCritical,
	}, rules[0])
}

func TestLoad_JSONLayers(t *testing.T) {
	base := writeFile(t, "base.json", `{
		"pipeline": {"log_type": "cloudtrail"},
		"router": {"sink_url": "https://sentinel.example.com/api/logs", "timeout": "10s"},
		"server": {"port": 8081}
	}`)
	override := writeFile(t, "prod.json", `{
		"server": {"port": 9443},
		"alerts": {"rules": []}
	}`)

	l := newTestLoader(nil)
	l.AddLayer(base)
	l.AddLayer(override)
	l.EnableValidation(true)
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, "cloudtrail", cfg.Pipeline.LogType)
	assert.Equal(t, 10*time.Second, cfg.Router.Timeout.Std())
	assert.Equal(t, 9443, cfg.Server.Port)
	assert.Empty(t, cfg.AlertRules(), "an explicit empty list disables alerting")
}

func TestLoad_DefaultRulesWhenUnset(t *testing.T) {
	path := writeFile(t, "c.yaml", "pipeline:\n  log_type: cloudtrail\n")
	cfg, err := newTestLoader(nil).LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, alert.DefaultRules(), cfg.AlertRules())
}

func TestLoad_EmptyYAMLKeepsDefaults(t *testing.T) {
	path := writeFile(t, "empty.yml", "")
	cfg, err := newTestLoader(nil).LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := newTestLoader(nil).LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrConfigNotFound)
		assert.True(t, errors.IsFatal(err))
	})

	t.Run("unsupported extension", func(t *testing.T) {
		path := writeFile(t, "config.toml", "x = 1")
		_, err := newTestLoader(nil).LoadFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "JSON or YAML")
	})

	t.Run("unknown yaml field", func(t *testing.T) {
		path := writeFile(t, "c.yaml", "pipeline:\n  log_typ: cloudtrail\n")
		_, err := newTestLoader(nil).LoadFile(path)
		require.Error(t, err)
		assert.True(t, errors.IsInvalid(err))
	})

	t.Run("unknown json field", func(t *testing.T) {
		path := writeFile(t, "c.json", `{"platform": {}}`)
		_, err := newTestLoader(nil).LoadFile(path)
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrInvalidConfig)
	})

	t.Run("bad duration", func(t *testing.T) {
		path := writeFile(t, "c.yaml", "monitor:\n  health_interval: soon\n")
		_, err := newTestLoader(nil).LoadFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "soon")
	})

	t.Run("deep json", func(t *testing.T) {
		path := writeFile(t, "c.json", strings.Repeat("[", maxJSONDepth+1)+strings.Repeat("]", maxJSONDepth+1))
		_, err := newTestLoader(nil).LoadFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "too deep")
	})

	t.Run("validation", func(t *testing.T) {
		path := writeFile(t, "c.yaml", "server:\n  port: 8081\n")
		l := newTestLoader(nil)
		l.EnableValidation(true)
		_, err := l.LoadFile(path)
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrMissingConfig)
	})
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeFile(t, "c.yaml", "pipeline:\n  log_type: cloudtrail\nserver:\n  port: 8081\n")
	l := newTestLoader(map[string]string{
		"S3SENTINEL_LOG_TYPE":       "vpcflow",
		"S3SENTINEL_SERVER_PORT":    "9999",
		"S3SENTINEL_SINK_URL":       " https://sink.example.com ",
		"S3SENTINEL_REPLAY_ENABLED": "false",
		"S3SENTINEL_NATS_URL":       "nats://nats:4222",
		"S3SENTINEL_NATS_TOKEN":     "s3cr3t",
		"S3SENTINEL_SOURCE_URL":     "",
	})
	l.EnableValidation(true)

	cfg, err := l.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "vpcflow", cfg.Pipeline.LogType)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "https://sink.example.com", cfg.Router.SinkURL)
	assert.False(t, cfg.Monitor.ReplayEnabled)
	assert.Equal(t, "s3cr3t", cfg.NATS.Token)
	assert.Empty(t, cfg.Router.SourceURL, "empty variables do not override")
}

func TestLoad_EnvOverrideErrors(t *testing.T) {
	tests := map[string]string{
		"S3SENTINEL_SERVER_PORT":    "eighty",
		"S3SENTINEL_REPLAY_ENABLED": "maybe",
		"S3SENTINEL_LOG_TYPE":       "bad\x00value",
	}
	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			_, err := newTestLoader(map[string]string{key: val}).Load()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestConversions(t *testing.T) {
	cfg := validConfig()
	cfg.Monitor.ProbeTimeout = Duration(3 * time.Second)
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.MaxIngestBytes = 1024
	cfg.Router.SourceURL = "https://s3.example.com"

	mon := cfg.MonitorConfig()
	assert.Equal(t, 3*time.Second, mon.ProbeTimeout)
	assert.Equal(t, "cloudtrail", mon.LogType)
	assert.True(t, mon.ReplayEnabled)
	assert.Equal(t, cfg.Monitor.DispatchQueue, mon.DispatchQueue)

	rt := cfg.RouterConfig()
	assert.Equal(t, cfg.Router.SinkURL, rt.SinkURL)
	assert.Equal(t, "https://s3.example.com", rt.SourceURL)
	assert.Equal(t, 30*time.Second, rt.Timeout)
	require.NoError(t, rt.Validate())

	srv := cfg.ServerConfig()
	assert.Equal(t, "127.0.0.1", srv.Host)
	assert.Equal(t, int64(1024), srv.MaxIngestBytes)
}

func TestString_RedactsSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.NATS.Password = "hunter2"
	cfg.NATS.Token = "tok"
	cfg.Router.Headers = map[string]string{"Authorization": "SharedKey abc"}

	out := cfg.String()
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "tok\"")
	assert.NotContains(t, out, "SharedKey")
	assert.Contains(t, out, "Authorization")
	assert.Equal(t, "SharedKey abc", cfg.Router.Headers["Authorization"], "original is untouched")
}

func TestDuration(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"90s"`), &d))
	assert.Equal(t, 90*time.Second, d.Std())

	require.NoError(t, json.Unmarshal([]byte(`1.5`), &d))
	assert.Equal(t, 1500*time.Millisecond, d.Std())

	require.NoError(t, json.Unmarshal([]byte(`"2d"`), &d))
	assert.Equal(t, 48*time.Hour, d.Std())

	assert.Error(t, json.Unmarshal([]byte(`true`), &d))
	assert.Error(t, json.Unmarshal([]byte(`"xd"`), &d))

	out, err := json.Marshal(Duration(5 * time.Minute))
	require.NoError(t, err)
	assert.JSONEq(t, `"5m0s"`, string(out))

	var holder struct {
		D Duration `yaml:"d"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("d: 45s"), &holder))
	assert.Equal(t, 45*time.Second, holder.D.Std())
	require.NoError(t, yaml.Unmarshal([]byte("d: 2"), &holder))
	assert.Equal(t, 2*time.Second, holder.D.Std())
	assert.Error(t, yaml.Unmarshal([]byte("d: [1, 2]"), &holder))

	y, err := yaml.Marshal(holder)
	require.NoError(t, err)
	assert.Equal(t, "d: 2s\n", string(y))
}
