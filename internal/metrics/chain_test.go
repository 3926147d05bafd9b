package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmgate/llmgate/internal/ailink/driver"
	"github.com/llmgate/llmgate/internal/core"
	"github.com/llmgate/llmgate/internal/core/engine"
	"github.com/llmgate/llmgate/internal/observability"
)

func setupTelemetry(t *testing.T) *telemetrytesting.FakeCollector {
	t.Helper()

	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{
		Enabled: true,
		Emitter: collector,
	})
	require.NoError(t, err)

	original := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	t.Cleanup(func() {
		observability.TelemetrySystem = original
	})
	return collector
}

type okDriver struct{}

func (okDriver) Name() string { return "ok" }

func (okDriver) Complete(ctx context.Context, req *driver.Request) (*driver.Response, error) {
	return &driver.Response{Model: req.Model}, nil
}

func TestChainObserverEmitsAttemptAndFailoverMetrics(t *testing.T) {
	collector := setupTelemetry(t)

	obs := ChainObserver{}
	obs.ObserveAttempt(engine.Attempt{EndpointID: "g/flash", Kind: core.FailureWindowExhausted, Error: "full", Duration: time.Millisecond})
	obs.ObserveAttempt(engine.Attempt{EndpointID: "g/pro", Duration: 2 * time.Millisecond})
	obs.ObserveResult(&engine.InvokeResult{
		EndpointID: "g/pro",
		Attempts: []engine.Attempt{
			{EndpointID: "g/flash", Kind: core.FailureWindowExhausted},
			{EndpointID: "g/pro"},
		},
	}, nil)

	assert.Greater(t, collector.CountMetricsByName(AttemptsTotalName), 0)
	assert.Greater(t, collector.CountMetricsByName(AttemptDurationName), 0)
	assert.Greater(t, collector.CountMetricsByName(InvocationsTotalName), 0)
	assert.Greater(t, collector.CountMetricsByName(FailoversTotalName), 0)
}

func TestChainObserverWithoutTelemetry(t *testing.T) {
	original := observability.TelemetrySystem
	observability.TelemetrySystem = nil
	t.Cleanup(func() { observability.TelemetrySystem = original })

	obs := ChainObserver{}
	obs.ObserveAttempt(engine.Attempt{EndpointID: "x"})
	obs.ObserveResult(&engine.InvokeResult{}, engine.ErrAllEndpointsExhausted)
}

func TestCountFailovers(t *testing.T) {
	assert.Equal(t, 0, countFailovers(nil))
	assert.Equal(t, 0, countFailovers(&engine.InvokeResult{Attempts: []engine.Attempt{{}}}))
	assert.Equal(t, 2, countFailovers(&engine.InvokeResult{Attempts: []engine.Attempt{{}, {}, {}}}))
	assert.Equal(t, "none", servedBy(&engine.InvokeResult{}))
}

func TestRecordWindowUsage(t *testing.T) {
	collector := setupTelemetry(t)

	ep, err := engine.NewEndpoint(core.EndpointConfig{Model: "m", Provider: "p", RPM: 2}, okDriver{}, nil)
	require.NoError(t, err)
	chain, err := engine.NewChain([]*engine.Endpoint{ep})
	require.NoError(t, err)

	_, err = chain.Invoke(context.Background(), "hi")
	require.NoError(t, err)

	RecordWindowUsage(context.Background(), chain)
	assert.Greater(t, collector.CountMetricsByName(WindowUsedName), 0)
	assert.Greater(t, collector.CountMetricsByName(WindowRemainingName), 0)
	assert.Greater(t, collector.CountMetricsByName(WindowBackoffName), 0)
}
