package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/llmgate/llmgate/internal/ailink/driver"
	"github.com/llmgate/llmgate/internal/core/engine"
	apperrors "github.com/llmgate/llmgate/internal/errors"
)

const maxInvokeBodyBytes = 1 << 20

// InvokeRequest is the body of POST /v1/invoke.
type InvokeRequest struct {
	Prompt         string                 `json:"prompt"`
	System         string                 `json:"system,omitempty"`
	Params         map[string]any         `json:"params,omitempty"`
	ResponseFormat *driver.ResponseFormat `json:"response_format,omitempty"`
}

// InvokeResponse is returned when an endpoint in the chain served the request.
type InvokeResponse struct {
	InvocationID string           `json:"invocation_id"`
	Endpoint     string           `json:"endpoint"`
	Model        string           `json:"model,omitempty"`
	Text         string           `json:"text"`
	FinishReason string           `json:"finish_reason,omitempty"`
	Usage        *driver.Usage    `json:"usage,omitempty"`
	Attempts     []engine.Attempt `json:"attempts"`
}

// EndpointsResponse is the body of GET /v1/endpoints.
type EndpointsResponse struct {
	Endpoints []engine.EndpointStatus `json:"endpoints"`
}

// ChainHandler serves the failover chain over HTTP.
type ChainHandler struct {
	chain *engine.Chain
}

// NewChainHandler creates a handler bound to chain.
func NewChainHandler(chain *engine.Chain) *ChainHandler {
	return &ChainHandler{chain: chain}
}

// Invoke handles POST /v1/invoke.
func (h *ChainHandler) Invoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req InvokeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxInvokeBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(ctx, err, "Request body must be a JSON invoke request"))
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		respondWithError(w, r, apperrors.WrapInvalidInput(ctx, errors.New("prompt is empty"), "prompt is required"))
		return
	}

	var opts []engine.InvokeOption
	if len(req.Params) > 0 {
		opts = append(opts, engine.WithParams(req.Params))
	}
	if req.ResponseFormat != nil {
		opts = append(opts, engine.WithResponseFormat(req.ResponseFormat))
	}
	if req.System != "" {
		opts = append(opts, engine.WithSystemPrompt(req.System))
	}

	res, err := h.chain.InvokeDetailed(ctx, req.Prompt, opts...)
	if err != nil {
		respondWithError(w, r, apperrors.FromChainError(ctx, err))
		return
	}

	out := InvokeResponse{
		InvocationID: res.InvocationID,
		Endpoint:     res.EndpointID,
		Attempts:     res.Attempts,
	}
	if res.Response != nil {
		out.Model = res.Response.Model
		out.Text = res.Response.Text()
		out.FinishReason = res.Response.FinishReason
		out.Usage = res.Response.Usage
	}
	writeJSON(w, http.StatusOK, out)
}

// Endpoints handles GET /v1/endpoints.
func (h *ChainHandler) Endpoints(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, EndpointsResponse{Endpoints: h.chain.Status(r.Context())})
}
