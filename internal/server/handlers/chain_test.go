package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/llmgate/llmgate/internal/ailink/content"
	"github.com/llmgate/llmgate/internal/ailink/driver"
	"github.com/llmgate/llmgate/internal/core"
	"github.com/llmgate/llmgate/internal/core/engine"
	apperrors "github.com/llmgate/llmgate/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDriver struct {
	name  string
	err   error
	calls atomic.Int32
	last  atomic.Pointer[driver.Request]
}

func (d *fakeDriver) Name() string { return d.name }

func (d *fakeDriver) Complete(ctx context.Context, req *driver.Request) (*driver.Response, error) {
	d.calls.Add(1)
	d.last.Store(req)
	if d.err != nil {
		return nil, d.err
	}
	return &driver.Response{
		Model:        req.Model,
		Content:      []content.ContentBlock{{Type: content.ContentTypeText, Text: "hello from " + req.Model}},
		FinishReason: "stop",
	}, nil
}

func newTestChain(t *testing.T, drivers ...*fakeDriver) *engine.Chain {
	t.Helper()
	endpoints := make([]*engine.Endpoint, 0, len(drivers))
	for _, d := range drivers {
		ep, err := engine.NewEndpoint(core.EndpointConfig{Provider: d.name, Model: d.name + "-model", RPM: 2}, d, nil)
		require.NoError(t, err)
		endpoints = append(endpoints, ep)
	}
	chain, err := engine.NewChain(endpoints)
	require.NoError(t, err)
	return chain
}

func postInvoke(t *testing.T, h *ChainHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/invoke", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.Invoke(rec, req)
	return rec
}

func TestInvokeServedByFirstEndpoint(t *testing.T) {
	primary := &fakeDriver{name: "gemini"}
	fallback := &fakeDriver{name: "groq"}
	h := NewChainHandler(newTestChain(t, primary, fallback))

	rec := postInvoke(t, h, `{"prompt":"hi","system":"be brief","params":{"temperature":0.2}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp InvokeResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "gemini/gemini-model", resp.Endpoint)
	assert.Equal(t, "hello from gemini-model", resp.Text)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.NotEmpty(t, resp.InvocationID)
	require.Len(t, resp.Attempts, 1)
	assert.Equal(t, int32(0), fallback.calls.Load())

	sent := primary.last.Load()
	require.NotNil(t, sent)
	require.NotNil(t, sent.Temperature)
	assert.InDelta(t, 0.2, *sent.Temperature, 1e-9)
	require.Len(t, sent.Messages, 2)
	assert.Equal(t, content.RoleSystem, sent.Messages[0].Role)
}

func TestInvokeFailsOverOnProviderError(t *testing.T) {
	primary := &fakeDriver{name: "gemini", err: &driver.ProviderError{Provider: "gemini", StatusCode: http.StatusServiceUnavailable, Message: "overloaded"}}
	fallback := &fakeDriver{name: "groq"}
	h := NewChainHandler(newTestChain(t, primary, fallback))

	rec := postInvoke(t, h, `{"prompt":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp InvokeResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "groq/groq-model", resp.Endpoint)
	require.Len(t, resp.Attempts, 2)
	assert.Equal(t, core.FailureTransient, resp.Attempts[0].Kind)
}

func TestInvokeExhaustedReturnsServiceUnavailable(t *testing.T) {
	primary := &fakeDriver{name: "gemini", err: &driver.ProviderError{Provider: "gemini", StatusCode: http.StatusTooManyRequests}}
	fallback := &fakeDriver{name: "groq", err: &driver.ProviderError{Provider: "groq", StatusCode: http.StatusUnauthorized}}
	h := NewChainHandler(newTestChain(t, primary, fallback))

	rec := postInvoke(t, h, `{"prompt":"hi"}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, apperrors.CodeEndpointsExhausted, body.Error.Code)

	causes, ok := body.Error.Details["causes"].([]interface{})
	require.True(t, ok, "expected causes in details")
	require.Len(t, causes, 2)
	first := causes[0].(map[string]interface{})
	assert.Equal(t, "gemini/gemini-model", first["endpoint"])
	assert.Equal(t, string(core.FailureProviderRateLimited), first["kind"])
}

func TestInvokeRejectsBadBodies(t *testing.T) {
	d := &fakeDriver{name: "gemini"}
	h := NewChainHandler(newTestChain(t, d))

	for name, body := range map[string]string{
		"not json":      `nope`,
		"empty prompt":  `{"prompt":"   "}`,
		"unknown field": `{"prompt":"hi","stream":true}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := postInvoke(t, h, body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	assert.Equal(t, int32(0), d.calls.Load())
}

func TestEndpointsReportsWindowUsage(t *testing.T) {
	d := &fakeDriver{name: "gemini"}
	chain := newTestChain(t, d, &fakeDriver{name: "groq"})
	h := NewChainHandler(chain)

	require.Equal(t, http.StatusOK, postInvoke(t, h, `{"prompt":"hi"}`).Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/endpoints", nil)
	rec := httptest.NewRecorder()
	h.Endpoints(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp EndpointsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Endpoints, 2)

	first := resp.Endpoints[0]
	assert.Equal(t, 1, first.Position)
	assert.Equal(t, "gemini/gemini-model", first.ID)
	assert.Equal(t, engine.ModeReject, first.Mode)
	require.NotNil(t, first.Window)
	assert.Equal(t, 1, first.Window.Used)
	assert.Equal(t, 1, first.Window.Remaining)

	require.NotNil(t, resp.Endpoints[1].Window)
	assert.Equal(t, 0, resp.Endpoints[1].Window.Used)
}

func TestWindowCheckerHealthy(t *testing.T) {
	chain := newTestChain(t, &fakeDriver{name: "gemini"})
	assert.NoError(t, WindowChecker{Chain: chain}.CheckHealth(context.Background()))
	assert.Error(t, WindowChecker{}.CheckHealth(context.Background()))
}
