package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"time"
)

// Subcommands
const (
	cmdServe        = "serve"
	cmdReplayFailed = "replay-failed"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	Command         string
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	ReplayAttempts  int
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

// parseFlags reads flags with environment fallback. The subcommand may come
// before or after the flags.
func parseFlags(args []string, output io.Writer) (*CLIConfig, error) {
	cfg := &CLIConfig{Command: cmdServe}

	if len(args) > 0 && isCommand(args[0]) {
		cfg.Command = args[0]
		args = args[1:]
	}

	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&cfg.ConfigPath, "config",
		getEnv("S3SENTINEL_CONFIG", "configs/s3sentinel.yaml"),
		"Path to configuration file, JSON or YAML (env: S3SENTINEL_CONFIG)")

	fs.StringVar(&cfg.ConfigPath, "c",
		getEnv("S3SENTINEL_CONFIG", "configs/s3sentinel.yaml"),
		"Path to configuration file, JSON or YAML (env: S3SENTINEL_CONFIG)")

	fs.StringVar(&cfg.LogLevel, "log-level",
		getEnv("S3SENTINEL_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: S3SENTINEL_LOG_LEVEL)")

	fs.StringVar(&cfg.LogFormat, "log-format",
		getEnv("S3SENTINEL_LOG_FORMAT", "json"),
		"Log format: json, text (env: S3SENTINEL_LOG_FORMAT)")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("S3SENTINEL_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: S3SENTINEL_SHUTDOWN_TIMEOUT)")

	fs.IntVar(&cfg.ReplayAttempts, "replay-attempts",
		getEnvInt("S3SENTINEL_REPLAY_ATTEMPTS", 5),
		"Replay passes before replay-failed gives up (env: S3SENTINEL_REPLAY_ATTEMPTS)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() {
		printDetailedHelp(output, fs)
	}

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			cfg.ShowHelp = true
			return cfg, nil
		}
		return nil, err
	}

	switch rest := fs.Args(); len(rest) {
	case 0:
	case 1:
		if !isCommand(rest[0]) {
			return nil, fmt.Errorf("unknown command: %s", rest[0])
		}
		cfg.Command = rest[0]
	default:
		return nil, fmt.Errorf("unexpected arguments: %v", rest[1:])
	}

	return cfg, nil
}

func isCommand(s string) bool {
	return s == cmdServe || s == cmdReplayFailed
}

func validateFlags(cfg *CLIConfig) error {
	// Skip validation for special flags
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if _, err := os.Stat(cfg.ConfigPath); err != nil {
		return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLevels, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	validFormats := []string{"json", "text"}
	if !slices.Contains(validFormats, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", cfg.ShutdownTimeout)
	}

	if cfg.ReplayAttempts < 1 {
		return fmt.Errorf("invalid replay attempts: %d", cfg.ReplayAttempts)
	}

	return nil
}

func printDetailedHelp(w io.Writer, fs *flag.FlagSet) {
	_, _ = fmt.Fprintf(w, `%s - S3 to Sentinel connector runtime

Usage: %s [serve|replay-failed] [options]

Commands:
  serve          Run the monitor loops and health server (default)
  replay-failed  Resend persisted failed batches with backoff, then exit

Options:
`, appName, appName)
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(w, `
Examples:
  # Run with custom config
  %s --config=/etc/s3sentinel/config.yaml

  # Run with debug logging
  %s --log-level=debug --log-format=text

  # Drain the failed batch directory after an outage
  %s replay-failed --config=/etc/s3sentinel/config.yaml

  # Validate configuration only
  %s --validate

Version: %s
Build: %s
`, appName, appName, appName, appName, Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
