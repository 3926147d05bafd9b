package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/llmgate/llmgate/internal/ailink/content"
	"github.com/llmgate/llmgate/internal/ailink/driver"
)

// DefaultMaxTokens is used when the request does not set max_tokens; the
// Messages API requires it.
const DefaultMaxTokens = 1024

// Client adapts the Anthropic Messages API to driver.Driver.
type Client struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration

	client anthropic.Client
}

// NewClient builds a client. SDK retries are disabled so each Complete is a
// single provider call.
func NewClient(baseURL, apiKey string, extra ...option.RequestOption) *Client {
	c := &Client{
		BaseURL: strings.TrimSpace(baseURL),
		APIKey:  strings.TrimSpace(apiKey),
	}

	opts := []option.RequestOption{
		option.WithAPIKey(c.APIKey),
		option.WithMaxRetries(0),
	}
	if c.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(c.BaseURL))
	}
	opts = append(opts, extra...)
	c.client = anthropic.NewClient(opts...)
	return c
}

// Name returns the driver identifier.
func (c *Client) Name() string {
	return "anthropic"
}

// Complete sends one Messages.New request.
func (c *Client) Complete(ctx context.Context, req *driver.Request) (*driver.Response, error) {
	if c == nil {
		return nil, fmt.Errorf("anthropic client not configured")
	}
	if c.APIKey == "" {
		return nil, fmt.Errorf("anthropic: %w", driver.ErrMissingAPIKey)
	}

	params, err := buildParams(req)
	if err != nil {
		return nil, err
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	reqBody, _ := json.Marshal(params)
	start := time.Now()
	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		perr := toProviderError(err)
		if perr != nil {
			driver.TraceRoundTrip(c.Name(), "/v1/messages", req.Model, reqBody, perr.StatusCode, perr.RawResponse, nil, start)
			return nil, perr
		}
		driver.TraceRoundTrip(c.Name(), "/v1/messages", req.Model, reqBody, 0, nil, err, start)
		return nil, fmt.Errorf("anthropic request: %w", err)
	}
	driver.TraceRoundTrip(c.Name(), "/v1/messages", req.Model, reqBody, 200, []byte(msg.RawJSON()), nil, start)

	return toDriverResponse(msg), nil
}

func buildParams(req *driver.Request) (anthropic.MessageNewParams, error) {
	if req == nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("request is required")
	}
	if strings.TrimSpace(req.Model) == "" {
		return anthropic.MessageNewParams{}, fmt.Errorf("model is required")
	}
	if len(req.Messages) == 0 {
		return anthropic.MessageNewParams{}, fmt.Errorf("messages are required")
	}

	maxTokens := int64(DefaultMaxTokens)
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		maxTokens = int64(*req.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokens,
	}

	var system []string
	for _, msg := range req.Messages {
		text := msg.JoinText()
		switch msg.Role {
		case content.RoleSystem:
			system = append(system, text)
		case content.RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(text)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
		}
	}

	if instr := formatInstruction(req.ResponseFormat); instr != "" {
		system = append(system, instr)
	}
	for _, s := range system {
		params.System = append(params.System, anthropic.TextBlockParam{Text: s})
	}

	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = anthropic.Float(*req.TopP)
	}
	if len(req.Stop) > 0 {
		params.StopSequences = req.Stop
	}

	return params, nil
}

// formatInstruction renders a response format as a system instruction; the
// Messages API has no native JSON mode.
func formatInstruction(rf *driver.ResponseFormat) string {
	if rf == nil || rf.Type == "" || rf.Type == "text" {
		return ""
	}
	if rf.JSONSchema == nil || rf.JSONSchema.Schema == nil {
		return "Respond with a single JSON object and nothing else."
	}
	schema, err := json.Marshal(rf.JSONSchema.Schema)
	if err != nil {
		return "Respond with a single JSON object and nothing else."
	}
	return "Respond with a single JSON object that conforms to this JSON schema and nothing else:\n" + string(schema)
}

func toDriverResponse(msg *anthropic.Message) *driver.Response {
	var text strings.Builder
	for _, block := range msg.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(b.Text)
		}
	}

	return &driver.Response{
		Model:        string(msg.Model),
		Content:      []content.ContentBlock{{Type: content.ContentTypeText, Text: text.String()}},
		FinishReason: string(msg.StopReason),
		Usage: &driver.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
}

func toProviderError(err error) *driver.ProviderError {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return nil
	}
	perr := &driver.ProviderError{
		Provider:    "anthropic",
		StatusCode:  apiErr.StatusCode,
		Message:     strings.TrimSpace(apiErr.Error()),
		RawResponse: []byte(apiErr.RawJSON()),
	}
	if apiErr.Response != nil {
		perr.RetryAfter = driver.ParseRetryAfter(apiErr.Response.Header.Get("Retry-After"), time.Now())
	}
	return perr
}
