package driver

import (
	"context"
	"strings"

	"github.com/llmgate/llmgate/internal/ailink/content"
)

// Driver is the provider adapter consumed by rate-limited endpoints.
//
// Implementations perform exactly one provider call per Complete and report
// non-2xx provider responses as *ProviderError so callers can classify them.
type Driver interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *Request) (*Response, error)
	// Name returns the driver identifier (e.g., "gemini").
	Name() string
}

// ResponseFormat specifies the expected response format.
type ResponseFormat struct {
	Type       string          `json:"type"` // "text", "json_object", "json_schema"
	JSONSchema *JSONSchemaSpec `json:"json_schema,omitempty"`
}

// JSONSchemaSpec describes a structured output schema.
type JSONSchemaSpec struct {
	Name   string         `json:"name"`
	Strict bool           `json:"strict"`
	Schema map[string]any `json:"schema"`
}

// Usage contains token usage statistics.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Request is a provider-agnostic completion request.
type Request struct {
	Model          string
	Messages       []content.Message
	ResponseFormat *ResponseFormat
	Temperature    *float64
	MaxTokens      *int
	TopP           *float64
	Stop           []string

	// Extra holds generation parameters without a typed field. Drivers that
	// accept free-form fields forward them unchanged.
	Extra map[string]any
}

// Response is a provider-agnostic completion response.
type Response struct {
	Model        string                 `json:"model,omitempty"`
	Content      []content.ContentBlock `json:"content"`
	FinishReason string                 `json:"finish_reason,omitempty"`
	Usage        *Usage                 `json:"usage,omitempty"`
}

// Text concatenates the text blocks of the response.
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	var b strings.Builder
	for _, block := range r.Content {
		if block.Type == content.ContentTypeText || block.Type == content.ContentTypeJSON {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}
