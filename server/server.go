// Package server exposes the health, readiness, metrics and status endpoints
// of the connector, plus an optional batch ingestion endpoint.
//
// Handlers read current state only. They never wait on the monitor loops.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/topazyo/s3-sentinel-connector-sub001/alert"
	"github.com/topazyo/s3-sentinel-connector-sub001/errors"
	"github.com/topazyo/s3-sentinel-connector-sub001/failedbatch"
	"github.com/topazyo/s3-sentinel-connector-sub001/health"
	"github.com/topazyo/s3-sentinel-connector-sub001/metric"
	"github.com/topazyo/s3-sentinel-connector-sub001/pipeline"
	"github.com/topazyo/s3-sentinel-connector-sub001/pkg/tlsutil"
	"github.com/topazyo/s3-sentinel-connector-sub001/shipper"
)

// DefaultPort is used when Config.Port is zero
const DefaultPort = 8080

// DefaultMaxIngestBytes bounds the body of an ingestion request
const DefaultMaxIngestBytes = 10 << 20

// Config holds listener settings. A negative port picks a free port.
type Config struct {
	Host           string
	Port           int
	TLS            tlsutil.ServerConfig
	MaxIngestBytes int64
}

// Dependencies are the sources the handlers read. State and Registry are
// required.
type Dependencies struct {
	State    *pipeline.State
	Registry *metric.MetricsRegistry
	Store    *failedbatch.Store
	Metrics  *metric.ComponentMetrics
	Health   *health.Monitor
	Alerts   *alert.Manager
	Shipper  *shipper.Shipper
}

// Server is the HTTP surface of the connector
type Server struct {
	cfg     Config
	deps    Dependencies
	handler http.Handler
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	scheme   string
	done     chan struct{}
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New registers the scrape-time collectors on the registry and builds the
// handler
func New(cfg Config, deps Dependencies, opts ...Option) (*Server, error) {
	if deps.State == nil || deps.Registry == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Server", "New", "pipeline state and registry are required")
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.MaxIngestBytes <= 0 {
		cfg.MaxIngestBytes = DefaultMaxIngestBytes
	}
	if deps.Health == nil {
		deps.Health = health.NewMonitor()
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: slog.Default().With("component", "health-server"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if deps.Store != nil {
		if err := deps.Registry.RegisterCollector("server", "failed_batch_files", deps.Store.FilesGauge()); err != nil {
			return nil, err
		}
	}
	if deps.Metrics != nil {
		if err := deps.Registry.RegisterCollector("server", "components", metric.NewComponentCollector(deps.Metrics)); err != nil {
			return nil, err
		}
	}

	s.handler = s.routes()
	return s, nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	metricsHandler := promhttp.HandlerFor(
		s.deps.Registry.PrometheusRegistry(),
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		},
	)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.Handle("GET /metrics", s.refreshPipelineGauges(metricsHandler))
	mux.HandleFunc("GET /status", s.handleStatus)
	if s.deps.Shipper != nil {
		mux.HandleFunc("POST /ingest", s.handleIngest)
	}
	return mux
}

// Handler returns the HTTP handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start binds the listener and serves in the background. Bind errors are
// returned synchronously.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Server", "Start", "cannot start server that is already running")
	}

	port := s.cfg.Port
	if port < 0 {
		port = 0
	}
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(port))

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	tlsConfig, err := tlsutil.LoadServerConfig(s.cfg.TLS)
	if err != nil {
		return errors.WrapFatal(err, "Server", "Start", "load TLS config")
	}
	srv.TLSConfig = tlsConfig

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.WrapFatal(err, "Server", "Start", fmt.Sprintf("listen on %s", addr))
	}

	// srv.TLSConfig belongs to the serve goroutine from here on
	scheme := "http"
	if tlsConfig != nil {
		scheme = "https"
	}
	s.server = srv
	s.listener = ln
	s.scheme = scheme

	done := make(chan struct{})
	go func() {
		defer close(done)
		var serveErr error
		if tlsConfig != nil {
			serveErr = srv.ServeTLS(ln, "", "")
		} else {
			serveErr = srv.Serve(ln)
		}
		if serveErr != nil && serveErr != http.ErrServerClosed {
			s.logger.Error("Health server stopped unexpectedly", "error", serveErr)
		}
	}()

	s.done = done
	s.logger.Info("Health server listening", "address", s.addressLocked())
	return nil
}

// Stop stops accepting connections and waits for in-flight requests until
// ctx is done
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}

	err := s.server.Shutdown(ctx)
	if err == nil {
		<-s.done
	}
	s.server = nil
	s.listener = nil
	s.scheme = ""
	if err != nil {
		return errors.WrapTransient(err, "Server", "Stop", "shutdown HTTP server")
	}
	s.logger.Info("Health server stopped")
	return nil
}

// Address returns the base URL of the running server, or "" when stopped
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addressLocked()
}

func (s *Server) addressLocked() string {
	if s.listener == nil {
		return ""
	}
	return fmt.Sprintf("%s://%s", s.scheme, s.listener.Addr().String())
}
