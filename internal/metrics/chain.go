package metrics

import (
	"context"
	"errors"
	"strconv"

	"github.com/llmgate/llmgate/internal/core/engine"
	"github.com/llmgate/llmgate/internal/observability"
)

// Chain metric names
const (
	AttemptsTotalName     = "llm_endpoint_attempts_total"
	AttemptDurationName   = "llm_endpoint_attempt_duration_ms"
	FailoversTotalName    = "llm_chain_failovers_total"
	InvocationsTotalName  = "llm_chain_invocations_total"
	WindowUsedName        = "llm_window_used"
	WindowRemainingName   = "llm_window_remaining"
	WindowBackoffName     = "llm_window_backoff_active"
	OutcomeSuccess        = "success"
	OutcomeExhausted      = "exhausted"
	OutcomeInterrupted    = "interrupted"
	attemptOutcomeSuccess = "ok"
)

// ChainObserver emits attempt and outcome metrics for a chain.
type ChainObserver struct{}

var _ engine.Observer = ChainObserver{}

// ObserveAttempt records one endpoint attempt.
func (ChainObserver) ObserveAttempt(a engine.Attempt) {
	sys := observability.TelemetrySystem
	if sys == nil {
		return
	}
	outcome := attemptOutcomeSuccess
	if !a.Succeeded() {
		outcome = string(a.Kind)
	}
	labels := map[string]string{"endpoint": a.EndpointID, "outcome": outcome}
	_ = sys.Counter(AttemptsTotalName, 1, labels)
	_ = sys.Histogram(AttemptDurationName, a.Duration, map[string]string{"endpoint": a.EndpointID})
}

// ObserveResult records the invocation outcome and failover count.
func (ChainObserver) ObserveResult(res *engine.InvokeResult, err error) {
	sys := observability.TelemetrySystem
	if sys == nil || res == nil {
		return
	}

	outcome := OutcomeSuccess
	switch {
	case errors.Is(err, engine.ErrAllEndpointsExhausted):
		outcome = OutcomeExhausted
	case err != nil:
		outcome = OutcomeInterrupted
	}
	_ = sys.Counter(InvocationsTotalName, 1, map[string]string{
		"outcome":  outcome,
		"attempts": strconv.Itoa(len(res.Attempts)),
	})

	if failovers := countFailovers(res); failovers > 0 {
		_ = sys.Counter(FailoversTotalName, float64(failovers), map[string]string{"served_by": servedBy(res)})
	}
}

// countFailovers counts attempts that were followed by another attempt.
func countFailovers(res *engine.InvokeResult) int {
	if res == nil || len(res.Attempts) == 0 {
		return 0
	}
	return len(res.Attempts) - 1
}

func servedBy(res *engine.InvokeResult) string {
	if res.EndpointID == "" {
		return "none"
	}
	return res.EndpointID
}

// RecordWindowUsage publishes window gauges for every endpoint of the chain.
func RecordWindowUsage(ctx context.Context, chain *engine.Chain) {
	sys := observability.TelemetrySystem
	if sys == nil || chain == nil {
		return
	}
	for _, ep := range chain.Endpoints() {
		usage, err := ep.Limiter().Usage(ctx)
		if err != nil {
			continue
		}
		labels := map[string]string{"endpoint": ep.ID()}
		_ = sys.Gauge(WindowUsedName, float64(usage.Used), labels)
		_ = sys.Gauge(WindowRemainingName, float64(usage.Remaining), labels)
		backoff := 0.0
		if usage.BackoffUntil != nil {
			backoff = 1
		}
		_ = sys.Gauge(WindowBackoffName, backoff, labels)
	}
}
