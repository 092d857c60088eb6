package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/topazyo/s3-sentinel-connector-sub001/alert"
	"github.com/topazyo/s3-sentinel-connector-sub001/config"
	"github.com/topazyo/s3-sentinel-connector-sub001/errors"
	"github.com/topazyo/s3-sentinel-connector-sub001/failedbatch"
	"github.com/topazyo/s3-sentinel-connector-sub001/metric"
	"github.com/topazyo/s3-sentinel-connector-sub001/monitor"
	"github.com/topazyo/s3-sentinel-connector-sub001/natsclient"
	"github.com/topazyo/s3-sentinel-connector-sub001/pipeline"
	"github.com/topazyo/s3-sentinel-connector-sub001/pkg/retry"
	"github.com/topazyo/s3-sentinel-connector-sub001/router"
	"github.com/topazyo/s3-sentinel-connector-sub001/server"
	"github.com/topazyo/s3-sentinel-connector-sub001/shipper"
	"github.com/topazyo/s3-sentinel-connector-sub001/sink"
)

// app holds what both commands share
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	state    *pipeline.State
	store    *failedbatch.Store
	metrics  *metric.ComponentMetrics
	replayer *failedbatch.Replayer
	router   *router.HTTPRouter
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	registry := metric.NewMetricsRegistry()
	core := registry.CoreMetrics()

	store, err := failedbatch.NewStore(cfg.Pipeline.FailedBatchDir)
	if err != nil {
		return nil, fmt.Errorf("open failed batch store: %w", err)
	}

	metrics := metric.NewComponentMetrics(metric.WithLatencyWindow(cfg.Pipeline.LatencyWindow))

	rt, err := router.NewHTTPRouter(cfg.RouterConfig())
	if err != nil {
		return nil, fmt.Errorf("create router: %w", err)
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		state:    pipeline.NewState(),
		store:    store,
		metrics:  metrics,
		replayer: failedbatch.NewReplayer(store,
			failedbatch.WithComponentMetrics(metrics),
			failedbatch.WithCoreMetrics(core)),
		router: rt,
	}, nil
}

// serve runs the monitor and health server until ctx is cancelled
func (a *app) serve(ctx context.Context, shutdownTimeout time.Duration) error {
	core := a.registry.CoreMetrics()

	alerts, err := alert.NewManager(a.metrics, a.cfg.AlertRules())
	if err != nil {
		return fmt.Errorf("create alert manager: %w", err)
	}

	var probers []monitor.Prober
	for _, p := range a.router.Probes() {
		probers = append(probers, p)
	}

	var (
		metricsSink monitor.MetricsSink
		notifier    monitor.Notifier
		natsClient  *natsclient.Client
	)
	if a.cfg.NATS.Enabled() {
		natsClient, err = a.connectNATS(ctx)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := natsClient.Close(closeCtx); err != nil {
				slog.Warn("NATS close failed", "error", err)
			}
		}()
		probers = append(probers, natsClient)

		opts := []sink.Option{}
		if a.cfg.NATS.Source != "" {
			opts = append(opts, sink.WithSource(a.cfg.NATS.Source))
		}
		publisher, err := sink.NewNATSPublisher(natsClient, a.cfg.NATS.Subjects, opts...)
		if err != nil {
			return fmt.Errorf("create NATS publisher: %w", err)
		}
		metricsSink, notifier = publisher, publisher
	} else {
		logSink := sink.NewLogSink(a.logger.With("component", "log-sink"))
		metricsSink, notifier = logSink, logSink
	}

	ship, err := shipper.New(a.router, a.store, a.metrics, shipper.WithCoreMetrics(core))
	if err != nil {
		return fmt.Errorf("create shipper: %w", err)
	}

	mon, err := monitor.New(a.cfg.MonitorConfig(), monitor.Dependencies{
		State:    a.state,
		Metrics:  a.metrics,
		Alerts:   alerts,
		Probers:  probers,
		Sink:     metricsSink,
		Notifier: notifier,
		Replayer: a.replayer,
		Router:   a.router,
		Batches:  a.store,
		Core:     core,
	}, monitor.WithMetricsRegistry(a.registry))
	if err != nil {
		return fmt.Errorf("create monitor: %w", err)
	}

	srv, err := server.New(a.cfg.ServerConfig(), server.Dependencies{
		State:    a.state,
		Registry: a.registry,
		Store:    a.store,
		Metrics:  a.metrics,
		Health:   mon.Health(),
		Alerts:   alerts,
		Shipper:  ship,
	})
	if err != nil {
		return fmt.Errorf("create health server: %w", err)
	}

	if err := srv.Start(); err != nil {
		return fmt.Errorf("start health server: %w", err)
	}
	if err := mon.Start(ctx); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Stop(stopCtx)
		return fmt.Errorf("start monitor: %w", err)
	}

	slog.Info("s3sentinel started",
		"address", srv.Address(),
		"probes", len(probers),
		"alert_rules", len(alerts.Rules()),
		"replay_enabled", a.cfg.Monitor.ReplayEnabled)

	<-ctx.Done()
	slog.Info("Received shutdown signal")

	return shutdown(mon, srv, shutdownTimeout)
}

// shutdown stops the loops first so no new work starts, then drains HTTP
func shutdown(mon *monitor.Monitor, srv *server.Server, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	var errs []error
	if err := mon.Stop(timeout); err != nil {
		slog.Error("Error stopping monitor", "error", err)
		errs = append(errs, err)
	}

	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		slog.Error("Error stopping health server", "error", err)
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("graceful shutdown failed: %w", errs[0])
	}
	slog.Info("s3sentinel shutdown complete")
	return nil
}

func (a *app) connectNATS(ctx context.Context) (*natsclient.Client, error) {
	n := a.cfg.NATS
	opts := []natsclient.ClientOption{
		natsclient.WithName(appName),
		natsclient.WithMaxReconnects(n.MaxReconnects),
		natsclient.WithReconnectWait(n.ReconnectWait.Std()),
	}
	if n.Token != "" {
		opts = append(opts, natsclient.WithToken(n.Token))
	}
	if n.Username != "" {
		opts = append(opts, natsclient.WithCredentials(n.Username, n.Password))
	}

	client, err := natsclient.NewClient(n.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	slog.Info("Connecting to NATS")
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return client, nil
}

// replayFailed runs replay passes with exponential backoff until nothing is
// left failing or the attempts run out. It returns an error while any batch
// remains undelivered.
func (a *app) replayFailed(ctx context.Context, attempts int) error {
	cfg := retry.Replay()
	cfg.MaxAttempts = attempts

	pass := 0
	var last failedbatch.ReplayResult
	err := retry.Do(ctx, cfg, func() error {
		pass++
		result, err := a.replayer.Replay(ctx, a.router, a.cfg.Pipeline.LogType)
		if err != nil {
			if errors.IsFatal(err) {
				return retry.NonRetryable(err)
			}
			return err
		}
		last = result

		slog.Info("Replay pass complete",
			"pass", pass,
			"processed", result.Processed,
			"archived", result.Archived,
			"failed", result.Failed)

		if result.Failed > 0 {
			return errors.WrapTransient(errors.ErrDeliveryFailed, "app", "replayFailed",
				fmt.Sprintf("%d batches still failing", result.Failed))
		}
		return nil
	})
	if err != nil {
		remaining, countErr := a.store.Count()
		if countErr != nil {
			remaining = last.Failed
		}
		return fmt.Errorf("replay incomplete, %d batches remain in %s: %w", remaining, a.store.Dir(), err)
	}

	archived, _ := a.store.ArchivedCount()
	slog.Info("All failed batches replayed", "passes", pass, "archived_total", archived)
	return nil
}
