package config

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/topazyo/s3-sentinel-connector-sub001/errors"
)

// DefaultEnvPrefix prefixes every environment override
const DefaultEnvPrefix = "S3SENTINEL"

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		layers:    []string{},
		envPrefix: DefaultEnvPrefix,
		lookupEnv: os.LookupEnv,
	}
}

// AddLayer adds a configuration file layer. Later layers override earlier ones.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load starts from Default, decodes each layer over it, then applies
// environment overrides
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		if err := l.applyFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// applyFile decodes one layer onto cfg. Fields absent from the file keep
// their current values.
func (l *Loader) applyFile(cfg *Config, path string) error {
	data, format, err := readConfigFile(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return errors.WrapFatal(errors.ErrConfigNotFound, "Loader", "Load", fmt.Sprintf("read %s", path))
		}
		return errors.WrapFatal(err, "Loader", "Load", fmt.Sprintf("read %s", path))
	}

	switch format {
	case formatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !stderrors.Is(err, io.EOF) {
			return errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err),
				"Loader", "Load", fmt.Sprintf("parse %s", path))
		}
	default:
		if err := checkJSONDepth(data); err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err),
				"Loader", "Load", fmt.Sprintf("parse %s", path))
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err),
				"Loader", "Load", fmt.Sprintf("parse %s", path))
		}
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"_LOG_TYPE":         &cfg.Pipeline.LogType,
		"_FAILED_BATCH_DIR": &cfg.Pipeline.FailedBatchDir,
		"_SERVER_HOST":      &cfg.Server.Host,
		"_SINK_URL":         &cfg.Router.SinkURL,
		"_SOURCE_URL":       &cfg.Router.SourceURL,
		"_NATS_URL":         &cfg.NATS.URL,
		"_NATS_USERNAME":    &cfg.NATS.Username,
		"_NATS_PASSWORD":    &cfg.NATS.Password,
		"_NATS_TOKEN":       &cfg.NATS.Token,
	}
	for suffix, dst := range strs {
		val, err := l.env(suffix)
		if err != nil {
			return err
		}
		if val != "" {
			*dst = val
		}
	}

	if val, err := l.env("_SERVER_PORT"); err != nil {
		return err
	} else if val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Loader", "Load",
				fmt.Sprintf("%s_SERVER_PORT=%q is not a number", l.envPrefix, val))
		}
		cfg.Server.Port = port
	}

	if val, err := l.env("_REPLAY_ENABLED"); err != nil {
		return err
	} else if val != "" {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Loader", "Load",
				fmt.Sprintf("%s_REPLAY_ENABLED=%q is not a boolean", l.envPrefix, val))
		}
		cfg.Monitor.ReplayEnabled = enabled
	}

	return nil
}

func (l *Loader) env(suffix string) (string, error) {
	key := l.envPrefix + suffix
	val, ok := l.lookupEnv(key)
	if !ok {
		return "", nil
	}
	if err := checkEnvValue(key, val); err != nil {
		return "", errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err), "Loader", "Load", "read environment")
	}
	return strings.TrimSpace(val), nil
}
