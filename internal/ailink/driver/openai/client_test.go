package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/llmgate/llmgate/internal/ailink/content"
	"github.com/llmgate/llmgate/internal/ailink/driver"
)

func userRequest(model string) *driver.Request {
	return &driver.Request{Model: model, Messages: []content.Message{content.Text(content.RoleUser, "hi")}}
}

func TestClientRequiresAPIKey(t *testing.T) {
	client := NewClient("openai", "", "")
	_, err := client.Complete(context.Background(), userRequest("test"))
	require.Error(t, err)
	require.True(t, errors.Is(err, driver.ErrMissingAPIKey))
}

func TestNewClientAppliesProviderDefaults(t *testing.T) {
	require.Equal(t, DefaultGroqBaseURL, NewClient("groq", "", "k").BaseURL)
	require.Equal(t, DefaultXAIBaseURL, NewClient("XAI", "", "k").BaseURL)
	require.Equal(t, DefaultOpenAIBaseURL, NewClient("", "", "k").BaseURL)
	require.Equal(t, "openai", NewClient("", "", "k").Name())
	require.Equal(t, "http://local", NewClient("groq", " http://local ", "k").BaseURL)
}

func TestClientSendsRequestAndParsesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var payload map[string]any
		require.NoError(t, json.Unmarshal(body, &payload))
		require.Equal(t, "test-model", payload["model"])
		require.InDelta(t, 0.1, payload["temperature"], 1e-9)
		require.EqualValues(t, 7, payload["seed"])
		format, ok := payload["response_format"].(map[string]any)
		require.True(t, ok)
		require.Equal(t, "json_object", format["type"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"test-model","choices":[{"message":{"content":"{\"summary\":\"ok\"}"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}}`))
	}))
	defer server.Close()

	client := NewClient("groq", server.URL, "test-key")
	client.HTTPClient = server.Client()

	temp := 0.1
	req := userRequest("test-model")
	req.Temperature = &temp
	req.Extra = map[string]any{"seed": 7}
	req.ResponseFormat = &driver.ResponseFormat{Type: "json_object"}

	resp, err := client.Complete(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "stop", resp.FinishReason)
	require.Equal(t, "test-model", resp.Model)
	require.NotNil(t, resp.Usage)
	require.Equal(t, 3, resp.Usage.TotalTokens)
	require.Contains(t, resp.Text(), "summary")
}

func TestClientErrorsOnNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("quota"))
	}))
	defer server.Close()

	client := NewClient("groq", server.URL, "test-key")
	client.HTTPClient = server.Client()

	_, err := client.Complete(context.Background(), userRequest("test"))
	require.Error(t, err)

	var perr *driver.ProviderError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, "groq", perr.Provider)
	require.Equal(t, http.StatusTooManyRequests, perr.StatusCode)
	require.Equal(t, 3*time.Second, perr.RetryAfter)
	require.Contains(t, err.Error(), "quota")
}

func TestClientTimeoutSurfacesDeadlineExceeded(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := NewClient("openai", server.URL, "test-key")
	client.HTTPClient = server.Client()
	client.Timeout = 20 * time.Millisecond

	_, err := client.Complete(context.Background(), userRequest("test"))
	require.Error(t, err)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}
