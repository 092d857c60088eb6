// Package main implements the s3sentinel command. It runs the connector's
// monitor loops and health server, or drains the failed batch directory with
// the replay-failed subcommand.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/topazyo/s3-sentinel-connector-sub001/config"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "s3sentinel"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	cancel()
	if err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

// run executes one command. ctx is cancelled on SIGINT or SIGTERM.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	cliCfg, logger, shouldExit, err := initializeCLI(args, stdout)
	if shouldExit || err != nil {
		return err
	}

	cfg, err := initializeConfiguration(cliCfg)
	if err != nil {
		return err
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}

	switch cliCfg.Command {
	case cmdReplayFailed:
		return a.replayFailed(ctx, cliCfg.ReplayAttempts)
	default:
		return a.serve(ctx, cliCfg.ShutdownTimeout)
	}
}

// initializeCLI parses flags and sets up logging
func initializeCLI(args []string, stdout io.Writer) (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg, err := parseFlags(args, stdout)
	if err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat, stdout)
	slog.SetDefault(logger)

	slog.Info("Starting s3sentinel",
		"version", Version,
		"build_time", BuildTime,
		"command", cliCfg.Command,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// initializeConfiguration loads and validates configuration
func initializeConfiguration(cliCfg *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	loader.EnableValidation(true)
	cfg, err := loader.LoadFile(cliCfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	slog.Debug("Configuration loaded", "config", cfg.String())
	return cfg, nil
}
