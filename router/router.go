// Package router delivers log batches to the analytics sink over HTTP and
// probes the source and sink endpoints for the health loop.
package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/topazyo/s3-sentinel-connector-sub001/errors"
	"github.com/topazyo/s3-sentinel-connector-sub001/failedbatch"
	"github.com/topazyo/s3-sentinel-connector-sub001/pkg/tlsutil"
)

// Probe names reported to the health monitor
const (
	SourceProbeName = "source"
	SinkProbeName   = "sink"
)

// Config holds sink delivery settings
type Config struct {
	SinkURL     string
	SourceURL   string
	Headers     map[string]string
	Timeout     time.Duration
	RateLimit   float64 // batches per second, 0 = unlimited
	Burst       int
	ContentType string
	TLS         tlsutil.ClientConfig
}

// DefaultConfig returns defaults without a sink URL
func DefaultConfig() Config {
	return Config{
		Timeout:     30 * time.Second,
		RateLimit:   10,
		Burst:       5,
		ContentType: "application/json",
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.SinkURL == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "sink_url is required")
	}
	for _, raw := range []string{c.SinkURL, c.SourceURL} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				fmt.Sprintf("invalid URL %q", raw))
		}
	}
	if c.Timeout < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "timeout cannot be negative")
	}
	if c.RateLimit < 0 || c.Burst < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "rate_limit and burst cannot be negative")
	}
	return nil
}

// Batch is the JSON body posted to the sink
type Batch struct {
	LogType string               `json:"log_type"`
	Data    []failedbatch.Record `json:"data"`
}

// HTTPRouter posts batches to the sink. It implements failedbatch.Router.
type HTTPRouter struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// Option configures an HTTPRouter
type Option func(*HTTPRouter)

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(r *HTTPRouter) {
		if client != nil {
			r.client = client
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *HTTPRouter) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewHTTPRouter validates cfg and builds the client, applying TLS settings
// when any are configured
func NewHTTPRouter(cfg Config, opts ...Option) (*HTTPRouter, error) {
	defaults := DefaultConfig()
	if cfg.Timeout == 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.ContentType == "" {
		cfg.ContentType = defaults.ContentType
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: cfg.Timeout}
	if cfg.TLS.Enabled() {
		tlsConfig, err := tlsutil.LoadClientConfig(cfg.TLS)
		if err != nil {
			return nil, errors.WrapFatal(err, "HTTPRouter", "NewHTTPRouter", "load TLS config")
		}
		client.Transport = &http.Transport{TLSClientConfig: tlsConfig}
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := max(cfg.Burst, 1)

	r := &HTTPRouter{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
		logger:  slog.Default().With("component", "http-router"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// RouteLogs posts one batch. An empty batch is a no-op. Waiting for the rate
// limiter observes ctx.
func (r *HTTPRouter) RouteLogs(ctx context.Context, logType string, records []failedbatch.Record) error {
	if len(records) == 0 {
		return nil
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrRateLimited, err),
			"HTTPRouter", "RouteLogs", "wait for rate limiter")
	}

	body, err := json.Marshal(Batch{LogType: logType, Data: records})
	if err != nil {
		return errors.WrapInvalid(err, "HTTPRouter", "RouteLogs", "encode batch")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.SinkURL, bytes.NewReader(body))
	if err != nil {
		return errors.WrapInvalid(err, "HTTPRouter", "RouteLogs", "build request")
	}
	req.Header.Set("Content-Type", r.cfg.ContentType)
	req.Header.Set("X-Log-Type", logType)
	for key, value := range r.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrDeliveryFailed, err),
			"HTTPRouter", "RouteLogs", "post batch")
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		r.logger.Debug("Batch delivered", "log_type", logType, "records", len(records), "status", resp.StatusCode)
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrDeliveryFailed, errors.ErrRateLimited),
			"HTTPRouter", "RouteLogs", "post batch (HTTP 429)")
	case resp.StatusCode >= 500:
		return errors.WrapTransient(fmt.Errorf("%w: HTTP %d: %s", errors.ErrDeliveryFailed, resp.StatusCode, bytes.TrimSpace(snippet)),
			"HTTPRouter", "RouteLogs", "post batch")
	default:
		return errors.WrapInvalid(fmt.Errorf("%w: HTTP %d: %s", errors.ErrDeliveryFailed, resp.StatusCode, bytes.TrimSpace(snippet)),
			"HTTPRouter", "RouteLogs", "post batch")
	}
}

// Probes returns a probe per configured endpoint: the source when
// SourceURL is set, then the sink
func (r *HTTPRouter) Probes() []*HTTPProbe {
	var probes []*HTTPProbe
	if r.cfg.SourceURL != "" {
		probes = append(probes, NewHTTPProbe(SourceProbeName, r.cfg.SourceURL, r.client))
	}
	probes = append(probes, NewHTTPProbe(SinkProbeName, r.cfg.SinkURL, r.client))
	return probes
}

// HTTPProbe checks that an HTTP endpoint answers. Any response below 500
// counts as reachable.
type HTTPProbe struct {
	name   string
	url    string
	client *http.Client
}

// NewHTTPProbe creates a probe. A nil client uses http.DefaultClient.
func NewHTTPProbe(name, endpoint string, client *http.Client) *HTTPProbe {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPProbe{name: name, url: endpoint, client: client}
}

// Name returns the dependency name
func (p *HTTPProbe) Name() string {
	return p.name
}

// Probe issues a HEAD request bounded by ctx
func (p *HTTPProbe) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return errors.WrapInvalid(err, "HTTPProbe", "Probe", "build request")
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrDependencyUnreachable, err),
			"HTTPProbe", "Probe", p.name)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 500 {
		return errors.WrapTransient(fmt.Errorf("%w: HTTP %d", errors.ErrDependencyUnreachable, resp.StatusCode),
			"HTTPProbe", "Probe", p.name)
	}
	return nil
}
