package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/llmgate/llmgate/internal/config"
	"github.com/llmgate/llmgate/internal/core/engine"
	"github.com/llmgate/llmgate/internal/observability"
)

var rateLimitCmd = &cobra.Command{
	Use:   "rate-limit",
	Short: "Inspect and reset endpoint rate limit windows",
	Long: `Inspect and reset the sliding 60s windows of the configured endpoints.

With the memory backend every process owns its own windows, so these commands
only see a fresh window. Use limiter.backend=redis to share windows between
the gateway and this CLI.`,
}

// windowQuery selects chain endpoints by exact ID or ID prefix.
type windowQuery struct {
	All      bool
	Endpoint string
	Prefix   string
}

func (q windowQuery) Validate() error {
	if q.All {
		return nil
	}
	if strings.TrimSpace(q.Endpoint) != "" {
		return nil
	}
	if strings.TrimSpace(q.Prefix) != "" {
		return nil
	}
	return errors.New("must specify --all, --endpoint, or --prefix")
}

func (q windowQuery) matches(id string) bool {
	if q.All {
		return true
	}
	if endpoint := strings.TrimSpace(q.Endpoint); endpoint != "" {
		return id == endpoint
	}
	return strings.HasPrefix(id, strings.TrimSpace(q.Prefix))
}

// selectEndpoints returns the matching endpoints in chain order. An exact
// endpoint that is not in the chain is an error.
func selectEndpoints(chain *engine.Chain, q windowQuery) ([]*engine.Endpoint, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if endpoint := strings.TrimSpace(q.Endpoint); endpoint != "" && !q.All {
		ep, ok := chain.Endpoint(endpoint)
		if !ok {
			return nil, fmt.Errorf("endpoint %q is not in the chain", endpoint)
		}
		return []*engine.Endpoint{ep}, nil
	}
	var out []*engine.Endpoint
	for _, ep := range chain.Endpoints() {
		if q.matches(ep.ID()) {
			out = append(out, ep)
		}
	}
	return out, nil
}

// warnLocalWindows notes that memory windows are private to this process.
func warnLocalWindows(cfg *config.Config) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Limiter.Backend))
	if backend == config.BackendRedis {
		return
	}
	observability.CLILogger.Warn("limiter.backend is memory; windows shown belong to this process only",
		zap.String("backend", config.BackendMemory))
}

func init() {
	rateLimitCmd.AddCommand(rateLimitListCmd)
	rateLimitCmd.AddCommand(rateLimitResetCmd)
	rootCmd.AddCommand(rateLimitCmd)
}
