package engine

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/llmgate/llmgate/internal/ailink/content"
	"github.com/llmgate/llmgate/internal/ailink/driver"
	"github.com/llmgate/llmgate/internal/core"
)

// stubDriver returns scripted results and records every request.
type stubDriver struct {
	mu       sync.Mutex
	name     string
	text     string
	err      error
	requests []*driver.Request
}

func (s *stubDriver) Name() string { return s.name }

func (s *stubDriver) Complete(ctx context.Context, req *driver.Request) (*driver.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	return &driver.Response{
		Model:   req.Model,
		Content: []content.ContentBlock{{Type: content.ContentTypeText, Text: s.text}},
	}, nil
}

func (s *stubDriver) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func newTestEndpoint(t *testing.T, model string, rpm int, drv driver.Driver, clock Clock, opts ...EndpointOption) *Endpoint {
	t.Helper()
	limiter, err := NewMemoryLimiter(rpm, WithClock(clock))
	require.NoError(t, err)
	ep, err := NewEndpoint(core.EndpointConfig{Model: model, Provider: "stub", RPM: rpm}, drv, limiter, opts...)
	require.NoError(t, err)
	return ep
}

func TestNewEndpointValidatesConfig(t *testing.T) {
	_, err := NewEndpoint(core.EndpointConfig{Model: "m", Provider: "p", RPM: 0}, &stubDriver{}, nil)
	require.ErrorContains(t, err, "rpm must be positive")

	_, err = NewEndpoint(core.EndpointConfig{Model: "m", Provider: "p", RPM: 1}, nil, nil)
	require.ErrorContains(t, err, "driver is required")

	ep, err := NewEndpoint(core.EndpointConfig{Model: "m", Provider: "p", RPM: 4}, &stubDriver{}, nil)
	require.NoError(t, err)
	require.Equal(t, "p/m", ep.ID())
	require.Equal(t, 4, ep.Limiter().Limit())
}

func TestEndpointConfigIsCopied(t *testing.T) {
	cfg := core.EndpointConfig{Model: "m", Provider: "p", RPM: 1, Params: map[string]any{"temperature": 0.1}}
	ep, err := NewEndpoint(cfg, &stubDriver{}, nil)
	require.NoError(t, err)

	cfg.Params["temperature"] = 0.9
	require.Equal(t, 0.1, ep.Config().Params["temperature"])
}

func TestEndpointInvokeBuildsRequestFromConfig(t *testing.T) {
	drv := &stubDriver{text: "ok"}
	limiter, err := NewMemoryLimiter(5)
	require.NoError(t, err)
	ep, err := NewEndpoint(core.EndpointConfig{
		Model:    "gemini-2.5-flash",
		Provider: "gemini",
		RPM:      5,
		Params:   map[string]any{"temperature": 0.1, "max_tokens": 100},
	}, drv, limiter)
	require.NoError(t, err)

	resp, err := ep.Invoke(context.Background(), "hello",
		WithParams(map[string]any{"temperature": 0.7}),
		WithSystemPrompt("be brief"),
		WithResponseFormat(&driver.ResponseFormat{Type: "json_object"}),
	)
	require.NoError(t, err)
	require.Equal(t, "ok", resp.Text())

	require.Len(t, drv.requests, 1)
	req := drv.requests[0]
	require.Equal(t, "gemini-2.5-flash", req.Model)
	require.Len(t, req.Messages, 2)
	require.Equal(t, content.RoleSystem, req.Messages[0].Role)
	require.Equal(t, "hello", req.Messages[1].JoinText())
	require.InDelta(t, 0.7, *req.Temperature, 1e-9)
	require.Equal(t, 100, *req.MaxTokens)
	require.Equal(t, "json_object", req.ResponseFormat.Type)
}

func TestEndpointWindowExhaustedSkipsProvider(t *testing.T) {
	clock := newFakeClock()
	drv := &stubDriver{text: "ok"}
	ep := newTestEndpoint(t, "m", 2, drv, clock)

	for i := 0; i < 2; i++ {
		_, err := ep.Invoke(context.Background(), "p")
		require.NoError(t, err)
	}

	_, err := ep.Invoke(context.Background(), "p")
	var epErr *EndpointError
	require.True(t, errors.As(err, &epErr))
	require.Equal(t, core.FailureWindowExhausted, epErr.Kind)
	require.Equal(t, "stub/m", epErr.EndpointID)
	require.True(t, errors.Is(err, ErrWindowExhausted))
	require.Equal(t, 2, drv.calls())
}

func TestEndpointProviderFailureStillConsumesSlot(t *testing.T) {
	clock := newFakeClock()
	drv := &stubDriver{err: &driver.ProviderError{Provider: "stub", StatusCode: http.StatusServiceUnavailable}}
	ep := newTestEndpoint(t, "m", 1, drv, clock)

	_, err := ep.Invoke(context.Background(), "p")
	var epErr *EndpointError
	require.True(t, errors.As(err, &epErr))
	require.Equal(t, core.FailureTransient, epErr.Kind)

	_, err = ep.Invoke(context.Background(), "p")
	require.True(t, errors.Is(err, ErrWindowExhausted))
	require.Equal(t, 1, drv.calls())
}

func TestEndpointInvalidParamsRejectedBeforeAdmission(t *testing.T) {
	drv := &stubDriver{text: "ok"}
	ep := newTestEndpoint(t, "m", 1, drv, newFakeClock())

	_, err := ep.Invoke(context.Background(), "p", WithParams(map[string]any{"temperature": "hot"}))
	var epErr *EndpointError
	require.True(t, errors.As(err, &epErr))
	require.Equal(t, core.FailureRejected, epErr.Kind)
	require.Equal(t, 0, drv.calls())

	usage, _ := ep.Limiter().Usage(context.Background())
	require.Equal(t, 0, usage.Used)
}

func TestEndpointProvider429LeavesWindowUntouchedByDefault(t *testing.T) {
	clock := newFakeClock()
	drv := &stubDriver{err: &driver.ProviderError{Provider: "stub", StatusCode: http.StatusTooManyRequests, RetryAfter: 20 * time.Second}}
	ep := newTestEndpoint(t, "m", 5, drv, clock)

	_, err := ep.Invoke(context.Background(), "p")
	var epErr *EndpointError
	require.True(t, errors.As(err, &epErr))
	require.Equal(t, core.FailureProviderRateLimited, epErr.Kind)

	usage, _ := ep.Limiter().Usage(context.Background())
	require.Nil(t, usage.BackoffUntil)
	require.Equal(t, 4, usage.Remaining)
}

func TestEndpointProvider429BackoffUsesRetryAfter(t *testing.T) {
	clock := newFakeClock()
	drv := &stubDriver{err: &driver.ProviderError{Provider: "stub", StatusCode: http.StatusTooManyRequests, RetryAfter: 20 * time.Second}}
	ep := newTestEndpoint(t, "m", 5, drv, clock, WithProvider429Backoff(time.Minute))

	_, err := ep.Invoke(context.Background(), "p")
	require.Error(t, err)

	_, err = ep.Invoke(context.Background(), "p")
	var exhausted *WindowExhaustedError
	require.True(t, errors.As(err, &exhausted))
	require.True(t, exhausted.Backoff)
	require.Equal(t, 20*time.Second, exhausted.RetryAfter)
	require.Equal(t, 1, drv.calls())

	clock.Advance(20 * time.Second)
	_, err = ep.Invoke(context.Background(), "p")
	require.False(t, errors.Is(err, ErrWindowExhausted))
	require.Equal(t, 2, drv.calls())
}

func TestEndpointProvider429BackoffFallsBackToConfiguredDefault(t *testing.T) {
	clock := newFakeClock()
	drv := &stubDriver{err: &driver.ProviderError{Provider: "stub", StatusCode: http.StatusTooManyRequests}}
	ep := newTestEndpoint(t, "m", 5, drv, clock, WithProvider429Backoff(15*time.Second))

	_, _ = ep.Invoke(context.Background(), "p")
	usage, _ := ep.Limiter().Usage(context.Background())
	require.NotNil(t, usage.BackoffUntil)
	require.Equal(t, clock.Now().Add(15*time.Second), *usage.BackoffUntil)
}
