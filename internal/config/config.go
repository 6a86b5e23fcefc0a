// Package config loads dispatcher configuration the way the teacher's
// pkg/pyproc/config.go does: programmatic defaults, an optional YAML file,
// then environment overrides via viper's AutomaticEnv.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/cuemby/dispatcher/internal/rpcapi"
)

// Config holds every option named in spec.md §6 "Recognized configuration
// options".
type Config struct {
	Proxy     ProxyConfig     `mapstructure:"proxy"`
	Listen    ListenConfig    `mapstructure:"listen"`
	Timeouts  TimeoutConfig   `mapstructure:"timeouts"`
	Retry     RetryConfig     `mapstructure:"retry"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Workers   WorkersConfig   `mapstructure:"workers"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Control   ControlConfig   `mapstructure:"control"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Shutdown  ShutdownConfig  `mapstructure:"shutdown"`
}

// ProxyConfig is the dispatcher's own fixed identity.
type ProxyConfig struct {
	Kind string `mapstructure:"kind"`
}

// ListenConfig names the four listening surfaces.
type ListenConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	ControlPort int    `mapstructure:"control_port"`
	StatusPort  int    `mapstructure:"status_port"`
	MetricsPort int    `mapstructure:"metrics_port"` // 0 disables metrics
}

// TimeoutConfig holds every timeout named in spec.md §6/§5.
type TimeoutConfig struct {
	RequestTimeoutMS       int `mapstructure:"request_timeout_ms"`
	ConnectionTimeoutMS    int `mapstructure:"connection_timeout_ms"`
	HealthCheckIntervalMS  int `mapstructure:"health_check_interval_ms"`
	AvailablePollMS        int `mapstructure:"available_workers_polling_time_ms"`
}

func (t TimeoutConfig) RequestTimeout() time.Duration {
	return time.Duration(t.RequestTimeoutMS) * time.Millisecond
}

func (t TimeoutConfig) ConnectionTimeout() time.Duration {
	return time.Duration(t.ConnectionTimeoutMS) * time.Millisecond
}

func (t TimeoutConfig) HealthCheckInterval() time.Duration {
	return time.Duration(t.HealthCheckIntervalMS) * time.Millisecond
}

func (t TimeoutConfig) AvailablePoll() time.Duration {
	return time.Duration(t.AvailablePollMS) * time.Millisecond
}

// RetryConfig bounds retry attempts per inbound request.
type RetryConfig struct {
	MaxRetriesPerRequest int `mapstructure:"max_retries_per_request"`
}

// RateLimitConfig bounds per-client-address throughput.
type RateLimitConfig struct {
	MaxRequestsPerSecond float64 `mapstructure:"max_req_per_sec"`
	Burst                int     `mapstructure:"burst"`
}

// WorkersConfig seeds the initial worker pool.
type WorkersConfig struct {
	Initial []string `mapstructure:"initial_workers"`
}

// SchedulerConfig resolves spec.md §9's open question on "busy" retry
// policy.
type SchedulerConfig struct {
	BusyPenaltyMS int `mapstructure:"busy_penalty_ms"`
}

func (s SchedulerConfig) BusyPenalty() time.Duration {
	return time.Duration(s.BusyPenaltyMS) * time.Millisecond
}

// ControlConfig resolves spec.md §9's open question on tombstoning vs
// best-effort remove.
type ControlConfig struct {
	BestEffortRemove bool `mapstructure:"best_effort_remove"`
}

// LoggingConfig controls the process-wide Logger.
type LoggingConfig struct {
	Level        string `mapstructure:"level"`
	Format       string `mapstructure:"format"`
	TraceEnabled bool   `mapstructure:"trace_enabled"`
}

// ShutdownConfig bounds graceful drain on serve exit.
type ShutdownConfig struct {
	GracePeriodMS int `mapstructure:"grace_period_ms"`
}

func (s ShutdownConfig) GracePeriod() time.Duration {
	return time.Duration(s.GracePeriodMS) * time.Millisecond
}

// ProofKind parses Proxy.Kind, validating it is one of the three
// recognized kinds.
func (c *Config) ProofKind() (rpcapi.ProofKind, error) {
	kind := rpcapi.ProofKind(c.Proxy.Kind)
	if !kind.Valid() {
		return "", fmt.Errorf("invalid proxy.kind %q: must be Transaction, Batch, or Block", c.Proxy.Kind)
	}
	return kind, nil
}

// Load reads configuration from configPath (or the default search path if
// empty), applying defaults and DISPATCHER_-prefixed environment
// overrides.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("dispatcher")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/dispatcher")
	}

	v.SetEnvPrefix("DISPATCHER")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if _, err := cfg.ProofKind(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen.host", "0.0.0.0")
	v.SetDefault("listen.port", 7443)
	v.SetDefault("listen.control_port", 7444)
	v.SetDefault("listen.status_port", 7445)
	v.SetDefault("listen.metrics_port", 0)

	v.SetDefault("timeouts.request_timeout_ms", 60_000)
	v.SetDefault("timeouts.connection_timeout_ms", 5_000)
	v.SetDefault("timeouts.health_check_interval_ms", 1_000)
	v.SetDefault("timeouts.available_workers_polling_time_ms", 25)

	v.SetDefault("retry.max_retries_per_request", 2)

	v.SetDefault("rate_limit.max_req_per_sec", 50.0)
	v.SetDefault("rate_limit.burst", 10)

	v.SetDefault("scheduler.busy_penalty_ms", 250)

	v.SetDefault("control.best_effort_remove", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.trace_enabled", true)

	v.SetDefault("shutdown.grace_period_ms", 10_000)
}
