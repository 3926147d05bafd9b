package ailink

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/llmgate/llmgate/internal/ailink/driver"
	"github.com/llmgate/llmgate/internal/ailink/driver/anthropic"
	"github.com/llmgate/llmgate/internal/ailink/driver/gemini"
	"github.com/llmgate/llmgate/internal/ailink/driver/openai"
)

// ProviderKind is the closed set of supported provider adapters.
type ProviderKind string

const (
	ProviderGemini    ProviderKind = "gemini"
	ProviderGroq      ProviderKind = "groq"
	ProviderOpenAI    ProviderKind = "openai"
	ProviderXAI       ProviderKind = "xai"
	ProviderAnthropic ProviderKind = "anthropic"
)

// ProviderKinds lists every supported provider kind.
func ProviderKinds() []ProviderKind {
	return []ProviderKind{ProviderGemini, ProviderGroq, ProviderOpenAI, ProviderXAI, ProviderAnthropic}
}

// ParseProviderKind normalizes a configured ai_provider value.
func ParseProviderKind(value string) (ProviderKind, error) {
	v := ProviderKind(strings.ToLower(strings.TrimSpace(value)))
	for _, kind := range ProviderKinds() {
		if v == kind {
			return kind, nil
		}
	}
	if v == "" {
		return "", fmt.Errorf("ai_provider is required")
	}
	return "", fmt.Errorf("unsupported ai_provider %q", value)
}

// Registry builds and caches one driver per provider instance and credential.
type Registry struct {
	cfg Config

	mu      sync.Mutex
	drivers map[string]driver.Driver
	rr      map[string]int
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg}
}

// ProviderIDs returns configured provider ids in sorted order.
func (r *Registry) ProviderIDs() []string {
	if r == nil {
		return nil
	}
	ids := make([]string, 0, len(r.cfg.Providers))
	for id := range r.cfg.Providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Driver resolves the adapter for a provider instance id. Instances with a
// round_robin policy and several usable keys get a driver that picks the key
// per call.
func (r *Registry) Driver(providerID string) (driver.Driver, error) {
	if r == nil {
		return nil, fmt.Errorf("ailink registry not configured")
	}
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return nil, fmt.Errorf("provider id is required")
	}

	providerCfg, ok := r.cfg.Providers[providerID]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", providerID)
	}
	if !providerCfg.IsEnabled() {
		return nil, fmt.Errorf("provider %q is disabled", providerID)
	}

	if rotates(providerCfg) {
		kind, err := ParseProviderKind(providerCfg.AIProvider)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", providerID, err)
		}
		return &rotatingDriver{registry: r, providerID: providerID, cfg: providerCfg, name: string(kind)}, nil
	}
	return r.resolve(providerID, providerCfg)
}

// resolve picks a credential and returns the cached adapter for it.
func (r *Registry) resolve(providerID string, providerCfg ProviderInstanceConfig) (driver.Driver, error) {
	cred, credKey := selectCredential(providerCfg, func(groupKey string, n int) int {
		return r.rrIndex(providerID+":"+groupKey, n)
	})
	return r.driverFor(providerID, providerCfg, cred, credKey)
}

// rotates reports whether round_robin has more than one credential to cycle.
func rotates(cfg ProviderInstanceConfig) bool {
	if !strings.EqualFold(strings.TrimSpace(cfg.SelectionPolicy), "round_robin") {
		return false
	}
	size := 0
	selectCredential(cfg, func(_ string, n int) int {
		size = n
		return 0
	})
	return size > 1
}

// rotatingDriver resolves the credential on every call so round_robin
// instances spread requests across their keys.
type rotatingDriver struct {
	registry   *Registry
	providerID string
	cfg        ProviderInstanceConfig
	name       string
}

func (d *rotatingDriver) Name() string {
	return d.name
}

func (d *rotatingDriver) Complete(ctx context.Context, req *driver.Request) (*driver.Response, error) {
	drv, err := d.registry.resolve(d.providerID, d.cfg)
	if err != nil {
		return nil, err
	}
	return drv.Complete(ctx, req)
}

func selectCredential(cfg ProviderInstanceConfig, rrNext func(groupKey string, n int) int) (CredentialConfig, string) {
	creds := cfg.Credentials
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		creds = append([]CredentialConfig{{APIKey: key}}, creds...)
	}
	if len(creds) == 0 {
		// No credentials; the driver reports the missing key on first call.
		return CredentialConfig{}, ""
	}

	enabled := make([]CredentialConfig, 0, len(creds))
	for _, cred := range creds {
		if !cred.isEnabled() || strings.TrimSpace(cred.APIKey) == "" {
			continue
		}
		enabled = append(enabled, cred)
	}
	if len(enabled) == 0 {
		return creds[0], credentialKey(creds[0], 0)
	}

	highest := enabled[0].Priority
	for _, cred := range enabled[1:] {
		if cred.Priority > highest {
			highest = cred.Priority
		}
	}
	group := make([]CredentialConfig, 0, len(enabled))
	for _, cred := range enabled {
		if cred.Priority == highest {
			group = append(group, cred)
		}
	}

	idx := 0
	if strings.EqualFold(strings.TrimSpace(cfg.SelectionPolicy), "round_robin") && rrNext != nil {
		idx = rrNext(fmt.Sprintf("%d", highest), len(group))
	}
	return group[idx], credentialKey(group[idx], idx)
}

func credentialKey(cred CredentialConfig, idx int) string {
	if label := strings.TrimSpace(cred.Label); label != "" {
		return label
	}
	return fmt.Sprintf("p%d-%d", cred.Priority, idx)
}

// driverFor is the single dispatch point from provider kind to adapter.
func (r *Registry) driverFor(providerID string, providerCfg ProviderInstanceConfig, cred CredentialConfig, credKey string) (driver.Driver, error) {
	kind, err := ParseProviderKind(providerCfg.AIProvider)
	if err != nil {
		return nil, fmt.Errorf("provider %q: %w", providerID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.drivers == nil {
		r.drivers = map[string]driver.Driver{}
	}
	driverKey := providerID
	if credKey != "" {
		driverKey += ":" + credKey
	}
	if drv, ok := r.drivers[driverKey]; ok {
		return drv, nil
	}

	timeout := providerCfg.Timeout
	if timeout <= 0 {
		timeout = r.cfg.DefaultTimeout
	}

	var drv driver.Driver
	switch kind {
	case ProviderOpenAI, ProviderGroq, ProviderXAI:
		client := openai.NewClient(string(kind), providerCfg.BaseURL, cred.APIKey)
		client.Timeout = timeout
		drv = client
	case ProviderGemini:
		client := gemini.NewClient(providerCfg.BaseURL, cred.APIKey)
		client.Timeout = timeout
		drv = client
	case ProviderAnthropic:
		client := anthropic.NewClient(providerCfg.BaseURL, cred.APIKey)
		client.Timeout = timeout
		drv = client
	default:
		return nil, fmt.Errorf("unsupported ai_provider %q for provider %q", kind, providerID)
	}

	r.drivers[driverKey] = drv
	return drv, nil
}

func (r *Registry) rrIndex(key string, n int) int {
	if n <= 1 {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rr == nil {
		r.rr = map[string]int{}
	}
	idx := r.rr[key] % n
	r.rr[key] = r.rr[key] + 1
	return idx
}
