package ailink

import (
	"fmt"
	"strings"
	"time"
)

// Config defines provider configuration for AILink.
//
// This is intentionally self-contained so it can later be extracted as a
// standalone library configuration subtree.
type Config struct {
	DefaultTimeout time.Duration `mapstructure:"default_timeout" json:"default_timeout" yaml:"default_timeout"`

	// Providers is a set of provider instances keyed by a user-defined id (slug).
	// Each instance declares its underlying provider type via AIProvider.
	Providers map[string]ProviderInstanceConfig `mapstructure:"providers" json:"providers" yaml:"providers"`
}

// ProviderInstanceConfig defines a configured provider instance (e.g. "gemini-prod").
type ProviderInstanceConfig struct {
	// Enabled defaults to true when unset.
	Enabled *bool `mapstructure:"enabled" json:"enabled,omitempty" yaml:"enabled,omitempty"`

	// AIProvider is the provider type/driver identifier (e.g. "gemini", "groq", "anthropic").
	AIProvider string `mapstructure:"ai_provider" json:"ai_provider" yaml:"ai_provider"`

	// APIKey is shorthand for a single unlabeled credential.
	APIKey string `mapstructure:"api_key" json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// SelectionPolicy controls which credential is chosen.
	// Supported values: "priority" (default), "round_robin".
	SelectionPolicy string `mapstructure:"selection_policy" json:"selection_policy,omitempty" yaml:"selection_policy,omitempty"`

	BaseURL string        `mapstructure:"base_url" json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Timeout time.Duration `mapstructure:"timeout" json:"timeout,omitempty" yaml:"timeout,omitempty"`

	Credentials []CredentialConfig `mapstructure:"credentials" json:"credentials,omitempty" yaml:"credentials,omitempty"`
}

// CredentialConfig is a single credential for a provider instance.
//
// Multiple credentials enable key rotation across calls.
type CredentialConfig struct {
	Enabled  *bool  `mapstructure:"enabled" json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Label    string `mapstructure:"label" json:"label,omitempty" yaml:"label,omitempty"`
	APIKey   string `mapstructure:"api_key" json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Priority int    `mapstructure:"priority" json:"priority,omitempty" yaml:"priority,omitempty"`
}

// IsEnabled reports whether the provider instance is usable.
func (p ProviderInstanceConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// Validate checks the provider type and selection policy.
func (p ProviderInstanceConfig) Validate(id string) error {
	if _, err := ParseProviderKind(p.AIProvider); err != nil {
		return fmt.Errorf("provider %q: %w", id, err)
	}
	switch strings.ToLower(strings.TrimSpace(p.SelectionPolicy)) {
	case "", "priority", "round_robin":
	default:
		return fmt.Errorf("provider %q: unknown selection_policy %q", id, p.SelectionPolicy)
	}
	return nil
}

// Redacted returns a copy with every API key masked.
func (c Config) Redacted() Config {
	out := Config{DefaultTimeout: c.DefaultTimeout}
	if c.Providers == nil {
		return out
	}
	out.Providers = make(map[string]ProviderInstanceConfig, len(c.Providers))
	for id, p := range c.Providers {
		p.APIKey = redactKey(p.APIKey)
		creds := make([]CredentialConfig, len(p.Credentials))
		for i, cred := range p.Credentials {
			cred.APIKey = redactKey(cred.APIKey)
			creds[i] = cred
		}
		if p.Credentials != nil {
			p.Credentials = creds
		}
		out.Providers[id] = p
	}
	return out
}

func redactKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****"
}

func (c CredentialConfig) isEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}
