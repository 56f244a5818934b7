// Package config provides configuration loading for specd.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	"github.com/fyrsmithlabs/specd/internal/registry"
)

// Config holds the full specd configuration.
type Config struct {
	Server      ServerConfig             `koanf:"server"`
	Store       StoreConfig              `koanf:"store"`
	Coordinator CoordinatorConfig        `koanf:"coordinator"`
	Retry       RetryConfig              `koanf:"retry"`
	NATS        NATSConfig               `koanf:"nats"`
	Logging     LoggingConfig            `koanf:"logging"`
	Telemetry   TelemetryConfig          `koanf:"telemetry"`
	Workers     map[string]CommandConfig `koanf:"workers"`
	Checks      map[string]CommandConfig `koanf:"checks"`
}

// ServerConfig configures the operator HTTP API.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	// AutoAdvance runs the coordinator loop alongside the API.
	AutoAdvance bool `koanf:"auto_advance"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// URL returns the base URL clients use to reach the server.
func (s ServerConfig) URL() string {
	host := s.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, s.Port)
}

// Store backends.
const (
	BackendFile   = "file"
	BackendMemory = "memory"
)

// StoreConfig selects the document store backend.
type StoreConfig struct {
	Backend string `koanf:"backend"`
	// Root is the directory holding specifications for the file backend.
	Root string `koanf:"root"`
	// LeaseDir holds per-specification lock files. The file backend
	// defaults it to Root/.leases so every process sharing the store
	// shares its leases. Empty keeps leases in memory, which only
	// serializes sessions within one process.
	LeaseDir string `koanf:"lease_dir"`
}

// CoordinatorConfig tunes session scheduling.
type CoordinatorConfig struct {
	SessionTimeout Duration `koanf:"session_timeout"`
	MaxConcurrent  int      `koanf:"max_concurrent"`
	PollInterval   Duration `koanf:"poll_interval"`
	RatePerSecond  float64  `koanf:"rate_per_second"`
	Burst          int      `koanf:"burst"`
}

// RetryConfig controls retries of infrastructure faults.
type RetryConfig struct {
	MaxRetries        int      `koanf:"max_retries"`
	InitialBackoff    Duration `koanf:"initial_backoff"`
	MaxBackoff        Duration `koanf:"max_backoff"`
	BackoffMultiplier float64  `koanf:"backoff_multiplier"`
}

// NATSConfig configures the NATS notifier and decision log.
type NATSConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
	Token         Secret `koanf:"token"`
}

// LoggingConfig is translated into logging.Config by the caller.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig is translated into telemetry.Config by the caller.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Insecure    bool    `koanf:"insecure"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// CommandConfig describes an external process: a role's worker or a
// named check.
type CommandConfig struct {
	Command string   `koanf:"command"`
	Args    []string `koanf:"args"`
	Dir     string   `koanf:"dir"`
	Env     []string `koanf:"env"`
	Timeout Duration `koanf:"timeout"`
	// SkipExitCode is the exit status a check uses to report skip. Zero
	// disables it. Checks only.
	SkipExitCode int `koanf:"skip_exit_code"`
	// AllowSkip accepts this check's skips as passing. Checks only.
	AllowSkip bool `koanf:"allow_skip"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 7420
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = BackendFile
	}
	if cfg.Store.Root == "" {
		cfg.Store.Root = ".specd/specs"
	}
	if cfg.Store.Backend == BackendFile && cfg.Store.LeaseDir == "" {
		cfg.Store.LeaseDir = filepath.Join(cfg.Store.Root, ".leases")
	}

	if cfg.Coordinator.SessionTimeout == 0 {
		cfg.Coordinator.SessionTimeout = Duration(10 * time.Minute)
	}
	if cfg.Coordinator.MaxConcurrent == 0 {
		cfg.Coordinator.MaxConcurrent = 4
	}
	if cfg.Coordinator.PollInterval == 0 {
		cfg.Coordinator.PollInterval = Duration(5 * time.Second)
	}
	if cfg.Coordinator.RatePerSecond == 0 {
		cfg.Coordinator.RatePerSecond = 2
	}
	if cfg.Coordinator.Burst == 0 {
		cfg.Coordinator.Burst = 1
	}

	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry.MaxRetries = 3
	}
	if cfg.Retry.InitialBackoff == 0 {
		cfg.Retry.InitialBackoff = Duration(time.Second)
	}
	if cfg.Retry.MaxBackoff == 0 {
		cfg.Retry.MaxBackoff = Duration(30 * time.Second)
	}
	if cfg.Retry.BackoffMultiplier == 0 {
		cfg.Retry.BackoffMultiplier = 2
	}

	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://127.0.0.1:4222"
	}
	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "specd"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "specd"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1
	}
}

// Validate checks the configuration after defaults are applied.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}

	switch c.Store.Backend {
	case BackendFile:
		if c.Store.Root == "" {
			errs = append(errs, errors.New("store.root is required for the file backend"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("store.backend must be %q or %q, got %q", BackendFile, BackendMemory, c.Store.Backend))
	}

	if c.Coordinator.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("coordinator.max_concurrent must be positive, got %d", c.Coordinator.MaxConcurrent))
	}
	if c.Coordinator.RatePerSecond < 0 {
		errs = append(errs, fmt.Errorf("coordinator.rate_per_second cannot be negative, got %v", c.Coordinator.RatePerSecond))
	}
	if c.Retry.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("retry.max_retries cannot be negative, got %d", c.Retry.MaxRetries))
	}
	if c.Retry.BackoffMultiplier < 1 {
		errs = append(errs, fmt.Errorf("retry.backoff_multiplier must be at least 1, got %v", c.Retry.BackoffMultiplier))
	}

	if c.NATS.Enabled {
		u, err := url.Parse(c.NATS.URL)
		if err != nil || u.Host == "" {
			errs = append(errs, fmt.Errorf("nats.url is not a valid URL: %q", c.NATS.URL))
		}
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_rate must be between 0 and 1, got %v", c.Telemetry.SampleRate))
	}

	roles := registry.New()
	for role, w := range c.Workers {
		if _, err := roles.Resolve(role); err != nil {
			errs = append(errs, fmt.Errorf("workers.%s: %w", role, err))
		}
		if w.Command == "" {
			errs = append(errs, fmt.Errorf("workers.%s.command is required", role))
		}
	}
	for name, chk := range c.Checks {
		if chk.Command == "" {
			errs = append(errs, fmt.Errorf("checks.%s.command is required", name))
		}
		if chk.SkipExitCode < 0 || chk.SkipExitCode > 255 {
			errs = append(errs, fmt.Errorf("checks.%s.skip_exit_code must be between 1 and 255, got %d", name, chk.SkipExitCode))
		}
		if chk.AllowSkip && chk.SkipExitCode == 0 {
			errs = append(errs, fmt.Errorf("checks.%s.allow_skip needs skip_exit_code", name))
		}
	}

	return errors.Join(errs...)
}
