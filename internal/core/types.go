package core

import (
	"fmt"
	"strings"
	"time"
)

// EndpointConfig identifies one callable (model, provider, parameters) target.
type EndpointConfig struct {
	// ID is a display identifier; defaults to "provider/model".
	ID       string         `mapstructure:"id" json:"id,omitempty" yaml:"id,omitempty"`
	Model    string         `mapstructure:"model" json:"model" yaml:"model"`
	Provider string         `mapstructure:"provider" json:"provider" yaml:"provider"`
	RPM      int            `mapstructure:"rpm" json:"rpm" yaml:"rpm"`
	Params   map[string]any `mapstructure:"params" json:"params,omitempty" yaml:"params,omitempty"`
}

// EndpointID returns the configured ID or "provider/model".
func (c EndpointConfig) EndpointID() string {
	if id := strings.TrimSpace(c.ID); id != "" {
		return id
	}
	return strings.TrimSpace(c.Provider) + "/" + strings.TrimSpace(c.Model)
}

// Validate checks the fields required to build an endpoint.
func (c EndpointConfig) Validate() error {
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("endpoint model is required")
	}
	if strings.TrimSpace(c.Provider) == "" {
		return fmt.Errorf("endpoint %q: provider is required", c.Model)
	}
	if c.RPM <= 0 {
		return fmt.Errorf("endpoint %q: rpm must be positive, got %d", c.EndpointID(), c.RPM)
	}
	return nil
}

// Clone returns a copy whose Params map is not shared with the receiver.
func (c EndpointConfig) Clone() EndpointConfig {
	out := c
	if c.Params != nil {
		out.Params = make(map[string]any, len(c.Params))
		for k, v := range c.Params {
			out.Params[k] = v
		}
	}
	return out
}

// FailureKind classifies why a single endpoint attempt failed.
type FailureKind string

const (
	FailureWindowExhausted     FailureKind = "window_exhausted"
	FailureProviderRateLimited FailureKind = "provider_rate_limited"
	FailureTransient           FailureKind = "provider_transient"
	FailureAuth                FailureKind = "provider_auth"
	FailureRejected            FailureKind = "provider_rejected"
	FailureUnclassified        FailureKind = "unclassified"
)

// Retryable reports whether the same request could plausibly succeed on
// another endpoint or after a short wait.
func (k FailureKind) Retryable() bool {
	switch k {
	case FailureWindowExhausted, FailureProviderRateLimited, FailureTransient:
		return true
	default:
		return false
	}
}

// WindowUsage is a point-in-time snapshot of one endpoint's sliding window.
type WindowUsage struct {
	Used         int           `json:"used"`
	Limit        int           `json:"limit"`
	Remaining    int           `json:"remaining"`
	RetryAfter   time.Duration `json:"retry_after"`
	BackoffUntil *time.Time    `json:"backoff_until,omitempty"`
}
