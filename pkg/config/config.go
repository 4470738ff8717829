// Package config provides the configuration system for tap-gitlab.
// It defines BaseConfig, the runtime sections shared by every component,
// and TapConfig, the GitLab settings that embed it.
//
// The runtime configuration is organized into logical sections:
//   - Performance: page size and state checkpoint cadence
//   - Timeouts: connection and request timeouts
//   - Reliability: retry logic, circuit breakers, rate limiting
//   - Observability: metrics, tracing, logging
//
// Example usage:
//
//	cfg := config.NewTapConfig()
//	cfg.PrivateToken = os.Getenv("GITLAB_TOKEN")
//	cfg.Projects = "my-group/my-project"
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"time"
)

// BaseConfig holds the runtime settings shared by the HTTP client, the sync
// pipeline and the CLI. TapConfig embeds it with the squash tag.
type BaseConfig struct {
	// Name identifies the connector instance
	Name string `mapstructure:"name" yaml:"name" json:"name"`
	// Type specifies the connector type
	Type string `mapstructure:"type" yaml:"type" json:"type"`
	// Version indicates the configuration version
	Version string `mapstructure:"version" yaml:"version" json:"version"`

	// Performance settings control paging and checkpointing
	Performance PerformanceConfig `mapstructure:"performance" yaml:"performance" json:"performance"`

	// Timeouts define various timeout durations
	Timeouts TimeoutConfig `mapstructure:"timeouts" yaml:"timeouts" json:"timeouts"`

	// Reliability settings for error handling and resilience
	Reliability ReliabilityConfig `mapstructure:"reliability" yaml:"reliability" json:"reliability"`

	// Observability settings for monitoring and debugging
	Observability ObservabilityConfig `mapstructure:"observability" yaml:"observability" json:"observability"`
}

// PerformanceConfig contains paging and checkpoint settings.
type PerformanceConfig struct {
	// PageSize is sent as per_page on REST requests (GitLab caps it at 100)
	PageSize int `mapstructure:"page_size" yaml:"page_size" json:"page_size"`
	// CheckpointInterval emits a STATE message every N records (0 = only per partition)
	CheckpointInterval int `mapstructure:"checkpoint_interval" yaml:"checkpoint_interval" json:"checkpoint_interval"`
}

// TimeoutConfig contains all timeout-related settings.
// These prevent operations from hanging indefinitely.
type TimeoutConfig struct {
	// Request timeout for individual operations
	Request time.Duration `mapstructure:"request" yaml:"request" json:"request"`
	// Connection timeout for establishing connections
	Connection time.Duration `mapstructure:"connection" yaml:"connection" json:"connection"`
	// Idle timeout before closing inactive connections
	Idle time.Duration `mapstructure:"idle" yaml:"idle" json:"idle"`
	// KeepAlive interval for connection health checks
	KeepAlive time.Duration `mapstructure:"keep_alive" yaml:"keep_alive" json:"keep_alive"`
}

// ReliabilityConfig contains reliability and error handling settings.
type ReliabilityConfig struct {
	// RetryAttempts sets maximum retry attempts for failed operations
	RetryAttempts int `mapstructure:"retry_attempts" yaml:"retry_attempts" json:"retry_attempts"`
	// RetryDelay is the initial delay between retries
	RetryDelay time.Duration `mapstructure:"retry_delay" yaml:"retry_delay" json:"retry_delay"`
	// RetryMultiplier increases delay exponentially
	RetryMultiplier float64 `mapstructure:"retry_multiplier" yaml:"retry_multiplier" json:"retry_multiplier"`
	// MaxRetryDelay caps the maximum retry delay
	MaxRetryDelay time.Duration `mapstructure:"max_retry_delay" yaml:"max_retry_delay" json:"max_retry_delay"`
	// CircuitBreaker enables circuit breaker pattern
	CircuitBreaker bool `mapstructure:"circuit_breaker" yaml:"circuit_breaker" json:"circuit_breaker"`
	// RateLimitPerSec limits requests per second (0 = unlimited)
	RateLimitPerSec int `mapstructure:"rate_limit_per_sec" yaml:"rate_limit_per_sec" json:"rate_limit_per_sec"`
}

// ObservabilityConfig contains monitoring and observability settings.
type ObservabilityConfig struct {
	// EnableMetrics activates metrics collection
	EnableMetrics bool `mapstructure:"enable_metrics" yaml:"enable_metrics" json:"enable_metrics"`
	// MetricsAddr serves /metrics when set (e.g. ":9102")
	MetricsAddr string `mapstructure:"metrics_addr" yaml:"metrics_addr" json:"metrics_addr"`
	// EnableTracing activates request tracing
	EnableTracing bool `mapstructure:"enable_tracing" yaml:"enable_tracing" json:"enable_tracing"`
	// TracingSampleRate controls trace sampling (0.0-1.0)
	TracingSampleRate float64 `mapstructure:"tracing_sample_rate" yaml:"tracing_sample_rate" json:"tracing_sample_rate"`
	// LogLevel sets logging verbosity (debug, info, warn, error)
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	// LogEncoding selects json or console output
	LogEncoding string `mapstructure:"log_encoding" yaml:"log_encoding" json:"log_encoding"`
}

// NewBaseConfig creates a new BaseConfig with sensible defaults.
func NewBaseConfig(name, connectorType string) *BaseConfig {
	return &BaseConfig{
		Name:    name,
		Type:    connectorType,
		Version: "1.0.0",
		Performance: PerformanceConfig{
			PageSize:           100,
			CheckpointInterval: 1000,
		},
		Timeouts: TimeoutConfig{
			Request:    30 * time.Second,
			Connection: 10 * time.Second,
			Idle:       90 * time.Second,
			KeepAlive:  30 * time.Second,
		},
		Reliability: ReliabilityConfig{
			RetryAttempts:   5,
			RetryDelay:      time.Second,
			RetryMultiplier: 2.0,
			MaxRetryDelay:   60 * time.Second,
			CircuitBreaker:  true,
			RateLimitPerSec: 10,
		},
		Observability: ObservabilityConfig{
			EnableMetrics:     true,
			EnableTracing:     false,
			TracingSampleRate: 0.1,
			LogLevel:          "info",
			LogEncoding:       "json",
		},
	}
}

// Validate validates the runtime sections.
func (bc *BaseConfig) Validate() error {
	if bc.Performance.PageSize < 0 || bc.Performance.PageSize > 100 {
		return fmt.Errorf("page_size must be between 0 and 100")
	}
	if bc.Performance.CheckpointInterval < 0 {
		return fmt.Errorf("checkpoint_interval cannot be negative")
	}
	if bc.Reliability.RetryAttempts < 0 {
		return fmt.Errorf("retry_attempts cannot be negative")
	}
	if bc.Reliability.RateLimitPerSec < 0 {
		return fmt.Errorf("rate_limit_per_sec cannot be negative")
	}
	if bc.Observability.TracingSampleRate < 0 || bc.Observability.TracingSampleRate > 1 {
		return fmt.Errorf("tracing_sample_rate must be between 0 and 1")
	}
	return nil
}

// IsRateLimited returns true if rate limiting is enabled
func (r *ReliabilityConfig) IsRateLimited() bool {
	return r.RateLimitPerSec > 0
}
