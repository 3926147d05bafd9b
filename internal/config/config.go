package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/llmgate/llmgate/internal/ailink"
	"github.com/llmgate/llmgate/internal/core"
	"github.com/llmgate/llmgate/internal/core/engine"
)

// Config represents the complete application configuration.
// Values are layered: built-in defaults, then the config file, then
// LLMGATE_* environment variables, then runtime overrides.
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Limiter LimiterConfig `mapstructure:"limiter" yaml:"limiter"`
	Redis   RedisConfig   `mapstructure:"redis" yaml:"redis"`
	AILink  ailink.Config `mapstructure:"ailink" yaml:"ailink"`

	// Chain lists endpoints in priority order.
	Chain []core.EndpointConfig `mapstructure:"chain" yaml:"chain"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	// AdminToken enables POST /admin/signal when set.
	AdminToken string `mapstructure:"admin_token" yaml:"admin_token,omitempty"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level" yaml:"level"`

	// Profile selects the logging complexity level
	// Valid values: simple, structured
	Profile string `mapstructure:"profile" yaml:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the dedicated metrics endpoint port (Prometheus format)
	Port int `mapstructure:"port" yaml:"port"`
}

// LimiterConfig controls admission behavior for every endpoint window.
type LimiterConfig struct {
	// Mode is "reject" (fail over immediately) or "block" (wait for a slot).
	Mode string `mapstructure:"mode" yaml:"mode"`

	// Backend is "memory" (per process) or "redis" (shared).
	Backend string `mapstructure:"backend" yaml:"backend"`

	// Provider429Backoff, when positive, makes a provider 429 block local
	// admission for Retry-After (or this value when absent).
	Provider429Backoff time.Duration `mapstructure:"provider_429_backoff" yaml:"provider_429_backoff"`
}

// RedisConfig configures the shared window backend.
type RedisConfig struct {
	Addr        string        `mapstructure:"addr" yaml:"addr"`
	Password    string        `mapstructure:"password" yaml:"password,omitempty"`
	DB          int           `mapstructure:"db" yaml:"db"`
	KeyPrefix   string        `mapstructure:"key_prefix" yaml:"key_prefix"`
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
}

// Backend values.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// validateSettings checks everything except the chain.
func (c *Config) validateSettings() error {
	if _, err := engine.ParseMode(c.Limiter.Mode); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(c.Limiter.Backend)) {
	case "", BackendMemory:
	case BackendRedis:
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return fmt.Errorf("redis.addr is required when limiter.backend is redis")
		}
	default:
		return fmt.Errorf("unknown limiter backend %q (expected memory or redis)", c.Limiter.Backend)
	}
	if c.Limiter.Provider429Backoff < 0 {
		return fmt.Errorf("limiter.provider_429_backoff must not be negative")
	}
	for id, p := range c.AILink.Providers {
		if err := p.Validate(id); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks settings and the endpoint chain.
func (c *Config) Validate() error {
	if err := c.validateSettings(); err != nil {
		return err
	}
	if len(c.Chain) == 0 {
		return fmt.Errorf("chain must list at least one endpoint")
	}

	seen := make(map[string]struct{}, len(c.Chain))
	for i, ep := range c.Chain {
		if err := ep.Validate(); err != nil {
			return fmt.Errorf("chain[%d]: %w", i, err)
		}
		provider, ok := c.AILink.Providers[ep.Provider]
		if !ok {
			return fmt.Errorf("chain[%d]: unknown provider %q", i, ep.Provider)
		}
		if !provider.IsEnabled() {
			return fmt.Errorf("chain[%d]: provider %q is disabled", i, ep.Provider)
		}
		id := ep.EndpointID()
		if _, dup := seen[id]; dup {
			return fmt.Errorf("chain[%d]: duplicate endpoint %q", i, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// Redacted returns a copy safe to print: API keys and the Redis password
// are masked.
func (c *Config) Redacted() *Config {
	out := *c
	out.AILink = c.AILink.Redacted()
	if out.Redis.Password != "" {
		out.Redis.Password = "****"
	}
	if out.Server.AdminToken != "" {
		out.Server.AdminToken = "****"
	}
	out.Chain = make([]core.EndpointConfig, len(c.Chain))
	for i, ep := range c.Chain {
		out.Chain[i] = ep.Clone()
	}
	return &out
}
