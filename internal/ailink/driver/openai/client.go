package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/llmgate/llmgate/internal/ailink/driver"
)

// Default base URLs for OpenAI-compatible providers.
const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultGroqBaseURL   = "https://api.groq.com/openai/v1"
	DefaultXAIBaseURL    = "https://api.x.ai/v1"
)

// Client speaks the OpenAI chat completions API over HTTP. Groq and xAI
// expose the same shape and reuse it with a different Provider and BaseURL.
type Client struct {
	Provider   string
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// NewClient returns a client with defaults applied for the given provider.
func NewClient(provider, baseURL, apiKey string) *Client {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		provider = "openai"
	}

	url := strings.TrimSpace(baseURL)
	if url == "" {
		url = defaultBaseURL(provider)
	}

	return &Client{
		Provider: provider,
		BaseURL:  url,
		APIKey:   strings.TrimSpace(apiKey),
	}
}

func defaultBaseURL(provider string) string {
	switch provider {
	case "groq":
		return DefaultGroqBaseURL
	case "xai":
		return DefaultXAIBaseURL
	default:
		return DefaultOpenAIBaseURL
	}
}

// Name returns the driver identifier.
func (c *Client) Name() string {
	if c == nil || c.Provider == "" {
		return "openai"
	}
	return c.Provider
}

// Complete sends a chat completion request.
func (c *Client) Complete(ctx context.Context, req *driver.Request) (*driver.Response, error) {
	if c == nil {
		return nil, fmt.Errorf("openai client not configured")
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return nil, fmt.Errorf("%s: %w", c.Name(), driver.ErrMissingAPIKey)
	}

	payload, err := buildChatRequest(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, c.Timeout)
	if cancel != nil {
		defer cancel()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	url := strings.TrimRight(c.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	start := time.Now()
	resp, err := client.Do(httpReq)
	if err != nil {
		driver.TraceRoundTrip(c.Name(), url, payload.Model, body, 0, nil, err, start)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	driver.TraceRoundTrip(c.Name(), url, payload.Model, body, resp.StatusCode, respBody, nil, start)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, driver.NewProviderError(c.Name(), resp, respBody)
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return toDriverResponse(&parsed)
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, nil
	}
	return context.WithTimeout(ctx, timeout)
}
