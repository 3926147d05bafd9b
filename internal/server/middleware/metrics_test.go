package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmgate/llmgate/internal/observability"
)

func setupTelemetry(t *testing.T) *telemetrytesting.FakeCollector {
	t.Helper()

	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: collector})
	require.NoError(t, err)

	original := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	t.Cleanup(func() { observability.TelemetrySystem = original })
	return collector
}

func TestRequestMetricsEmits(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		body     string
		status   int
		expected []string
		absent   []string
	}{
		{
			name:     "served invoke",
			method:   http.MethodPost,
			body:     `{"prompt":"ping"}`,
			status:   http.StatusOK,
			expected: []string{"http_requests_total", "http_request_duration_ms", "http_request_size_bytes", "http_response_size_bytes"},
			absent:   []string{"http_errors_total"},
		},
		{
			name:     "chain exhausted",
			method:   http.MethodPost,
			body:     `{"prompt":"ping"}`,
			status:   http.StatusServiceUnavailable,
			expected: []string{"http_requests_total", "http_errors_total"},
		},
		{
			name:     "caller went away",
			method:   http.MethodPost,
			status:   499,
			expected: []string{"http_errors_total"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			collector := setupTelemetry(t)
			handler := RequestMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"ok":true}`))
			}))

			req := httptest.NewRequest(tt.method, "/v1/invoke", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			for _, name := range tt.expected {
				assert.Greater(t, collector.CountMetricsByName(name), 0, name)
			}
			for _, name := range tt.absent {
				assert.Zero(t, collector.CountMetricsByName(name), name)
			}
		})
	}
}

func TestRequestMetricsWithoutTelemetry(t *testing.T) {
	original := observability.TelemetrySystem
	observability.TelemetrySystem = nil
	t.Cleanup(func() { observability.TelemetrySystem = original })

	handler := RequestMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/endpoints", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestRequestMetricsKeepsRequestID(t *testing.T) {
	collector := setupTelemetry(t)

	handler := RequestID(RequestMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))
	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	req.Header.Set(RequestIDHeader, "probe-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "probe-1", rec.Header().Get(RequestIDHeader))
	assert.Greater(t, collector.CountMetricsByName("http_requests_total"), 0)
}

func TestGetEndpointPattern(t *testing.T) {
	tests := map[string]string{
		"/health":                    "/health/*",
		"/health/live":               "/health/*",
		"/health/ready":              "/health/*",
		"/health/startup":            "/health/*",
		"/version":                   "/version",
		"/metrics":                   "/metrics",
		"/v1/invoke":                 "/v1/invoke",
		"/v1/endpoints":              "/v1/endpoints",
		"/v1/endpoints/groq%2Fllama": "/unknown",
		"/admin/signal":              "/admin/signal",
		"/":                          "/",
	}
	for path, expected := range tests {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		assert.Equal(t, expected, getEndpointPattern(req), path)
	}
}

func TestErrorTypeBuckets(t *testing.T) {
	assert.Equal(t, "capacity", errorType(http.StatusTooManyRequests))
	assert.Equal(t, "capacity", errorType(http.StatusServiceUnavailable))
	assert.Equal(t, "cancelled", errorType(499))
	assert.Equal(t, "server_error", errorType(http.StatusBadGateway))
	assert.Equal(t, "client_error", errorType(http.StatusBadRequest))
	assert.True(t, isProbe("/health/*"))
	assert.False(t, isProbe("/v1/invoke"))
}
