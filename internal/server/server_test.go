package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmgate/llmgate/internal/ailink/content"
	"github.com/llmgate/llmgate/internal/ailink/driver"
	"github.com/llmgate/llmgate/internal/core"
	"github.com/llmgate/llmgate/internal/core/engine"
	apperrors "github.com/llmgate/llmgate/internal/errors"
	"github.com/llmgate/llmgate/internal/server/handlers"
)

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	srv := New("127.0.0.1", 0)

	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}

	var body apperrors.HTTPErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}

	if body.Error.Code != "NOT_FOUND" {
		t.Fatalf("expected error code NOT_FOUND, got %s", body.Error.Code)
	}
}

type echoDriver struct{}

func (echoDriver) Name() string { return "echo" }

func (echoDriver) Complete(ctx context.Context, req *driver.Request) (*driver.Response, error) {
	return &driver.Response{
		Model:   req.Model,
		Content: []content.ContentBlock{{Type: content.ContentTypeText, Text: "ok"}},
	}, nil
}

func newChainServer(t *testing.T, rpm int) *Server {
	t.Helper()
	ep, err := engine.NewEndpoint(core.EndpointConfig{Provider: "echo", Model: "m1", RPM: rpm}, echoDriver{}, nil)
	require.NoError(t, err)
	chain, err := engine.NewChain([]*engine.Endpoint{ep})
	require.NoError(t, err)
	return New("127.0.0.1", 0, WithChain(chain), WithVersion("1.0.0"))
}

func TestServerRoutesInvokeThroughChain(t *testing.T) {
	srv := newChainServer(t, 1)

	req := httptest.NewRequest(http.MethodPost, "/v1/invoke", strings.NewReader(`{"prompt":"hi"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	// Second call in the same minute exceeds the single-slot window.
	req = httptest.NewRequest(http.MethodPost, "/v1/invoke", strings.NewReader(`{"prompt":"again"}`))
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, apperrors.CodeEndpointsExhausted, body.Error.Code)
	assert.Equal(t, rec.Header().Get("X-Request-ID"), body.Error.RequestID)
}

func TestServerRejectsWrongMethodOnInvoke(t *testing.T) {
	srv := newChainServer(t, 5)

	req := httptest.NewRequest(http.MethodGet, "/v1/invoke", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServerReadinessIncludesWindowCheck(t *testing.T) {
	srv := newChainServer(t, 5)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp handlers.HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "1.0.0", resp.Version)
	assert.Equal(t, "healthy", resp.Checks["window"])
}

func TestServerWithoutChainHasNoGatewayRoutes(t *testing.T) {
	srv := New("127.0.0.1", 0)

	req := httptest.NewRequest(http.MethodGet, "/v1/endpoints", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
