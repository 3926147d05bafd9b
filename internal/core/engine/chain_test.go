package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmgate/llmgate/internal/ailink/driver"
	"github.com/llmgate/llmgate/internal/core"
)

type recordingObserver struct {
	mu       sync.Mutex
	attempts []Attempt
	results  int
	lastErr  error
}

func (o *recordingObserver) ObserveAttempt(a Attempt) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempts = append(o.attempts, a)
}

func (o *recordingObserver) ObserveResult(res *InvokeResult, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results++
	o.lastErr = err
}

func TestNewChainRejectsEmpty(t *testing.T) {
	_, err := NewChain(nil)
	require.True(t, errors.Is(err, ErrNoEndpoints))
}

func TestChainPrimarySuccessSkipsFallbacks(t *testing.T) {
	clock := newFakeClock()
	primary := &stubDriver{text: "A"}
	fallback := &stubDriver{text: "B"}
	chain, err := NewChain([]*Endpoint{
		newTestEndpoint(t, "a", 10, primary, clock),
		newTestEndpoint(t, "b", 10, fallback, clock),
	})
	require.NoError(t, err)

	resp, err := chain.Invoke(context.Background(), "p")
	require.NoError(t, err)
	require.Equal(t, "A", resp.Text())
	require.Equal(t, 0, fallback.calls())
}

func TestChainFailsOverWhenPrimaryWindowFull(t *testing.T) {
	clock := newFakeClock()
	primary := &stubDriver{text: "A"}
	fallback := &stubDriver{text: "B"}
	chain, err := NewChain([]*Endpoint{
		newTestEndpoint(t, "a", 1, primary, clock),
		newTestEndpoint(t, "b", 10, fallback, clock),
	})
	require.NoError(t, err)

	resp, err := chain.Invoke(context.Background(), "p")
	require.NoError(t, err)
	require.Equal(t, "A", resp.Text())

	res, err := chain.InvokeDetailed(context.Background(), "p")
	require.NoError(t, err)
	require.Equal(t, "B", res.Response.Text())
	require.Equal(t, "stub/b", res.EndpointID)
	require.NotEmpty(t, res.InvocationID)
	require.Len(t, res.Attempts, 2)
	require.Equal(t, core.FailureWindowExhausted, res.Attempts[0].Kind)
	require.True(t, res.Attempts[1].Succeeded())
	require.Equal(t, 1, primary.calls())
}

func TestChainFailsOverOnEveryFailureKind(t *testing.T) {
	failures := map[string]error{
		"rate limited": &driver.ProviderError{StatusCode: http.StatusTooManyRequests},
		"transient":    &driver.ProviderError{StatusCode: http.StatusBadGateway},
		"timeout":      fmt.Errorf("request failed: %w", context.DeadlineExceeded),
		"auth":         &driver.ProviderError{StatusCode: http.StatusUnauthorized},
		"rejected":     &driver.ProviderError{StatusCode: http.StatusBadRequest},
		"unclassified": errors.New("decode response: unexpected EOF"),
	}

	for name, failure := range failures {
		t.Run(name, func(t *testing.T) {
			clock := newFakeClock()
			fallback := &stubDriver{text: "B"}
			chain, err := NewChain([]*Endpoint{
				newTestEndpoint(t, "a", 10, &stubDriver{err: failure}, clock),
				newTestEndpoint(t, "b", 10, fallback, clock),
			})
			require.NoError(t, err)

			resp, err := chain.Invoke(context.Background(), "p")
			require.NoError(t, err)
			require.Equal(t, "B", resp.Text())
			require.Equal(t, 1, fallback.calls())
		})
	}
}

func TestChainExhaustedReportsEveryCauseInOrder(t *testing.T) {
	clock := newFakeClock()
	first := newTestEndpoint(t, "a", 1, &stubDriver{text: "A"}, clock)
	second := newTestEndpoint(t, "b", 10, &stubDriver{err: &driver.ProviderError{StatusCode: http.StatusTooManyRequests}}, clock)
	third := newTestEndpoint(t, "c", 10, &stubDriver{err: &driver.ProviderError{StatusCode: http.StatusServiceUnavailable}}, clock)
	obs := &recordingObserver{}
	chain, err := NewChain([]*Endpoint{first, second, third}, WithObserver(obs))
	require.NoError(t, err)

	_, err = first.Invoke(context.Background(), "warm")
	require.NoError(t, err)

	_, err = chain.Invoke(context.Background(), "p")
	require.True(t, errors.Is(err, ErrAllEndpointsExhausted))

	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	require.Len(t, exhausted.Causes, 3)
	require.Equal(t, "stub/a", exhausted.Causes[0].EndpointID)
	require.Equal(t, core.FailureWindowExhausted, exhausted.Causes[0].Kind)
	require.Equal(t, core.FailureProviderRateLimited, exhausted.Causes[1].Kind)
	require.Equal(t, core.FailureTransient, exhausted.Causes[2].Kind)

	msg := err.Error()
	require.True(t, strings.Index(msg, "stub/a") < strings.Index(msg, "stub/b"))
	require.True(t, strings.Index(msg, "stub/b") < strings.Index(msg, "stub/c"))

	require.Len(t, obs.attempts, 3)
	require.Equal(t, 1, obs.results)
	require.True(t, errors.Is(obs.lastErr, ErrAllEndpointsExhausted))
}

func TestChainSingleEndpointExhausted(t *testing.T) {
	chain, err := NewChain([]*Endpoint{
		newTestEndpoint(t, "a", 1, &stubDriver{err: &driver.ProviderError{StatusCode: http.StatusForbidden}}, newFakeClock()),
	})
	require.NoError(t, err)

	_, err = chain.Invoke(context.Background(), "p")
	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	require.Len(t, exhausted.Causes, 1)
	require.Equal(t, core.FailureAuth, exhausted.Causes[0].Kind)
}

func TestChainNeverAttemptsEndpointTwice(t *testing.T) {
	clock := newFakeClock()
	drv := &stubDriver{err: &driver.ProviderError{StatusCode: http.StatusInternalServerError}}
	ep := newTestEndpoint(t, "a", 10, drv, clock)
	chain, err := NewChain([]*Endpoint{ep, newTestEndpoint(t, "b", 10, &stubDriver{err: errors.New("boom")}, clock)})
	require.NoError(t, err)

	_, err = chain.Invoke(context.Background(), "p")
	require.Error(t, err)
	require.Equal(t, 1, drv.calls())
}

// cancellingDriver cancels the caller's context while failing.
type cancellingDriver struct {
	cancel context.CancelFunc
}

func (d *cancellingDriver) Name() string { return "cancel" }

func (d *cancellingDriver) Complete(ctx context.Context, req *driver.Request) (*driver.Response, error) {
	d.cancel()
	return nil, ctx.Err()
}

func TestChainStopsOnCallerCancellation(t *testing.T) {
	clock := newFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fallback := &stubDriver{text: "B"}
	chain, err := NewChain([]*Endpoint{
		newTestEndpoint(t, "a", 10, &cancellingDriver{cancel: cancel}, clock),
		newTestEndpoint(t, "b", 10, fallback, clock),
	})
	require.NoError(t, err)

	_, err = chain.Invoke(ctx, "p")
	require.True(t, errors.Is(err, context.Canceled))
	require.False(t, errors.Is(err, ErrAllEndpointsExhausted))

	var interrupted *InterruptedError
	require.True(t, errors.As(err, &interrupted))
	require.Len(t, interrupted.Causes, 1)
	require.Equal(t, 0, fallback.calls())
}

func TestChainConcurrentInvocationsRespectEveryWindow(t *testing.T) {
	clock := newFakeClock()
	primary := &stubDriver{text: "A"}
	fallback := &stubDriver{text: "B"}
	chain, err := NewChain([]*Endpoint{
		newTestEndpoint(t, "a", 10, primary, clock),
		newTestEndpoint(t, "b", 5, fallback, clock),
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	served := map[string]int{}
	exhausted := 0
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := chain.InvokeDetailed(context.Background(), "p")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.True(t, errors.Is(err, ErrAllEndpointsExhausted))
				exhausted++
				return
			}
			served[res.EndpointID]++
		}()
	}
	wg.Wait()

	require.Equal(t, 10, served["stub/a"])
	require.Equal(t, 5, served["stub/b"])
	require.Equal(t, 25, exhausted)
	require.Equal(t, 10, primary.calls())
	require.Equal(t, 5, fallback.calls())
}

func TestChainEndpointLookup(t *testing.T) {
	clock := newFakeClock()
	chain, err := NewChain([]*Endpoint{newTestEndpoint(t, "a", 1, &stubDriver{}, clock)})
	require.NoError(t, err)

	ep, ok := chain.Endpoint("stub/a")
	require.True(t, ok)
	require.Equal(t, "stub/a", ep.ID())
	_, ok = chain.Endpoint("missing")
	require.False(t, ok)
	require.Len(t, chain.Endpoints(), 1)
}

func TestChainStatusReportsWindowsInOrder(t *testing.T) {
	clock := newFakeClock()
	chain, err := NewChain([]*Endpoint{
		newTestEndpoint(t, "a", 2, &stubDriver{text: "A"}, clock),
		newTestEndpoint(t, "b", 3, &stubDriver{text: "B"}, clock),
	})
	require.NoError(t, err)

	_, err = chain.Invoke(context.Background(), "p")
	require.NoError(t, err)

	status := chain.Status(context.Background())
	require.Len(t, status, 2)
	require.Equal(t, 1, status[0].Position)
	require.Equal(t, "stub/a", status[0].ID)
	require.Equal(t, "a", status[0].Model)
	require.Equal(t, ModeReject, status[0].Mode)
	require.NotNil(t, status[0].Window)
	require.Equal(t, 1, status[0].Window.Used)
	require.Equal(t, 1, status[0].Window.Remaining)
	require.Equal(t, 2, status[1].Position)
	require.Equal(t, 0, status[1].Window.Used)
	require.Equal(t, 3, status[1].Window.Limit)
	require.Empty(t, status[1].Error)
}
