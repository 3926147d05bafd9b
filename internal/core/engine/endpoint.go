package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/llmgate/llmgate/internal/ailink"
	"github.com/llmgate/llmgate/internal/ailink/content"
	"github.com/llmgate/llmgate/internal/ailink/driver"
	"github.com/llmgate/llmgate/internal/core"
)

// Logger is the subset of structured logging used by the engine.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...zap.Field) {}
func (nopLogger) Info(string, ...zap.Field)  {}
func (nopLogger) Warn(string, ...zap.Field)  {}

// InvokeOption customizes a single invocation.
type InvokeOption func(*invokeOptions)

type invokeOptions struct {
	params map[string]any
	format *driver.ResponseFormat
	system string
}

// WithParams overrides endpoint params for one call; overrides win.
func WithParams(params map[string]any) InvokeOption {
	return func(o *invokeOptions) {
		if len(params) == 0 {
			return
		}
		if o.params == nil {
			o.params = make(map[string]any, len(params))
		}
		for k, v := range params {
			o.params[k] = v
		}
	}
}

// WithResponseFormat requests structured output.
func WithResponseFormat(format *driver.ResponseFormat) InvokeOption {
	return func(o *invokeOptions) {
		o.format = format
	}
}

// WithSystemPrompt prepends a system message.
func WithSystemPrompt(system string) InvokeOption {
	return func(o *invokeOptions) {
		o.system = system
	}
}

func collectInvokeOptions(opts []InvokeOption) invokeOptions {
	var o invokeOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// Endpoint pairs one model configuration with a provider driver and its own
// sliding window limiter.
type Endpoint struct {
	cfg        core.EndpointConfig
	id         string
	driver     driver.Driver
	limiter    *Limiter
	backoff429 time.Duration
	logger     Logger
}

// EndpointOption customizes an Endpoint.
type EndpointOption func(*Endpoint)

// WithProvider429Backoff makes a provider 429 block local admission for the
// provider's Retry-After, or d when the provider sends none. Zero disables.
func WithProvider429Backoff(d time.Duration) EndpointOption {
	return func(e *Endpoint) {
		e.backoff429 = d
	}
}

// WithEndpointLogger sets the endpoint logger.
func WithEndpointLogger(logger Logger) EndpointOption {
	return func(e *Endpoint) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEndpoint builds an endpoint. A nil limiter gets an in-memory reject-mode
// window sized from cfg.RPM.
func NewEndpoint(cfg core.EndpointConfig, drv driver.Driver, limiter *Limiter, opts ...EndpointOption) (*Endpoint, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if drv == nil {
		return nil, fmt.Errorf("endpoint %q: driver is required", cfg.EndpointID())
	}
	if limiter == nil {
		var err error
		limiter, err = NewMemoryLimiter(cfg.RPM)
		if err != nil {
			return nil, err
		}
	}

	e := &Endpoint{
		cfg:     cfg.Clone(),
		id:      cfg.EndpointID(),
		driver:  drv,
		limiter: limiter,
		logger:  nopLogger{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// ID returns the endpoint identifier.
func (e *Endpoint) ID() string {
	return e.id
}

// Config returns a copy of the endpoint configuration.
func (e *Endpoint) Config() core.EndpointConfig {
	return e.cfg.Clone()
}

// Limiter returns the endpoint's limiter.
func (e *Endpoint) Limiter() *Limiter {
	return e.limiter
}

// Invoke admits the call through the limiter and then makes exactly one
// provider call. Every failure is returned as *EndpointError.
func (e *Endpoint) Invoke(ctx context.Context, prompt string, opts ...InvokeOption) (*driver.Response, error) {
	req, err := e.buildRequest(prompt, collectInvokeOptions(opts))
	if err != nil {
		return nil, &EndpointError{EndpointID: e.id, Kind: core.FailureRejected, Err: err}
	}

	if err := e.limiter.Acquire(ctx); err != nil {
		kind := core.FailureWindowExhausted
		if !errors.Is(err, ErrWindowExhausted) {
			kind = ailink.ClassifyProviderError(err)
		}
		e.logger.Debug("endpoint admission denied",
			zap.String("endpoint", e.id),
			zap.String("kind", string(kind)),
			zap.Error(err))
		return nil, &EndpointError{EndpointID: e.id, Kind: kind, Err: err}
	}

	resp, err := e.driver.Complete(ctx, req)
	if err != nil {
		kind := ailink.ClassifyProviderError(err)
		if kind == core.FailureProviderRateLimited && e.backoff429 > 0 {
			backoff := ailink.ProviderRetryAfter(err)
			if backoff <= 0 {
				backoff = e.backoff429
			}
			e.limiter.Record429(backoff)
			e.logger.Info("provider rate limited, backing off",
				zap.String("endpoint", e.id),
				zap.Duration("backoff", backoff))
		}
		return nil, &EndpointError{EndpointID: e.id, Kind: kind, Err: err}
	}
	return resp, nil
}

func (e *Endpoint) buildRequest(prompt string, o invokeOptions) (*driver.Request, error) {
	req := &driver.Request{
		Model:          e.cfg.Model,
		ResponseFormat: o.format,
	}
	if o.system != "" {
		req.Messages = append(req.Messages, content.Text(content.RoleSystem, o.system))
	}
	req.Messages = append(req.Messages, content.Text(content.RoleUser, prompt))

	params := make(map[string]any, len(e.cfg.Params)+len(o.params))
	for k, v := range e.cfg.Params {
		params[k] = v
	}
	for k, v := range o.params {
		params[k] = v
	}
	if err := driver.ApplyParams(req, params); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	return req, nil
}
