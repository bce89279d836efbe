// Package config loads and validates the sync worker's configuration:
// upstream endpoints, credentials, timeouts, concurrency and rate
// limits, and retry policy. Structure follows the teacher's example
// DemoConfig/LoadConfig pattern (gopkg.in/yaml.v3, defaults applied
// before unmarshal so an absent field keeps its default).
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/basalt-labs/recordsync/internal/syncerr"
)

const (
	maxMaxParallelSyncs = 10
	maxRetryAttempts    = 20
)

// Config is the sync worker's complete configuration.
type Config struct {
	BaseURL  string `yaml:"base_url"`
	Identity string `yaml:"identity"`
	Secret   string `yaml:"secret"`

	FetchTimeoutMS int `yaml:"fetch_timeout_ms"`
	SyncTimeoutMS  int `yaml:"sync_timeout_ms"`

	MaxParallelSyncs int `yaml:"max_parallel_syncs"`
	PageSize         int `yaml:"page_size"`

	RetryAttempts    int `yaml:"retry_attempts"`
	RetryBaseDelayMS int `yaml:"retry_base_delay_ms"`
	RetryMaxDelayMS  int `yaml:"retry_max_delay_ms"`
	RetryJitterMS    int `yaml:"retry_jitter_ms"`

	RateLimitCapacity int `yaml:"rate_limit_capacity"`
	RateLimitWindowMS int `yaml:"rate_limit_window_ms"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default returns the configuration's baseline defaults, applied
// before a config file is overlaid so any field the file omits still
// has a sane value.
func Default() Config {
	return Config{
		FetchTimeoutMS:    5000,
		SyncTimeoutMS:     5000,
		MaxParallelSyncs:  5,
		PageSize:          50,
		RetryAttempts:     5,
		RetryBaseDelayMS:  1000,
		RetryMaxDelayMS:   16000,
		RetryJitterMS:     250,
		RateLimitCapacity: 10,
		RateLimitWindowMS: 60000,
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// Load reads and parses a YAML config file at path, starting from
// Default() so any field the file omits keeps its baseline value, then
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, syncerr.ConfigurationInvalid("failed to read config file").WithCause(err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, syncerr.ConfigurationInvalid("failed to parse config YAML").WithCause(err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the configuration constraints named in spec.md §6:
// max parallel syncs ≤ 10, max retry attempts ≤ 20, base retry delay ≤
// max retry delay, plus the minimal presence checks a startup-time
// config needs.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return syncerr.ConfigurationInvalid("base_url is required")
	}
	if c.Identity == "" {
		return syncerr.ConfigurationInvalid("identity is required")
	}
	if c.Secret == "" {
		return syncerr.ConfigurationInvalid("secret is required")
	}
	if c.MaxParallelSyncs < 1 || c.MaxParallelSyncs > maxMaxParallelSyncs {
		return syncerr.ConfigurationInvalid("max_parallel_syncs must be between 1 and 10")
	}
	if c.PageSize < 1 {
		return syncerr.ConfigurationInvalid("page_size must be at least 1")
	}
	if c.RetryAttempts < 1 || c.RetryAttempts > maxRetryAttempts {
		return syncerr.ConfigurationInvalid("retry_attempts must be between 1 and 20")
	}
	if c.RetryBaseDelayMS > c.RetryMaxDelayMS {
		return syncerr.ConfigurationInvalid("retry_base_delay_ms must not exceed retry_max_delay_ms")
	}
	if c.RateLimitCapacity < 1 {
		return syncerr.ConfigurationInvalid("rate_limit_capacity must be at least 1")
	}
	if c.RateLimitWindowMS < 1 {
		return syncerr.ConfigurationInvalid("rate_limit_window_ms must be at least 1")
	}
	return nil
}

// FetchTimeout is FetchTimeoutMS as a time.Duration.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutMS) * time.Millisecond
}

// SyncTimeout is SyncTimeoutMS as a time.Duration.
func (c *Config) SyncTimeout() time.Duration {
	return time.Duration(c.SyncTimeoutMS) * time.Millisecond
}

// RetryBaseDelay is RetryBaseDelayMS as a time.Duration.
func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMS) * time.Millisecond
}

// RetryMaxDelay is RetryMaxDelayMS as a time.Duration.
func (c *Config) RetryMaxDelay() time.Duration {
	return time.Duration(c.RetryMaxDelayMS) * time.Millisecond
}

// RetryJitter is RetryJitterMS as a time.Duration.
func (c *Config) RetryJitter() time.Duration {
	return time.Duration(c.RetryJitterMS) * time.Millisecond
}

// RateLimitWindow is RateLimitWindowMS as a time.Duration.
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowMS) * time.Millisecond
}
