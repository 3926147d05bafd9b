package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/llmgate/llmgate/internal/ailink/driver"
	"github.com/llmgate/llmgate/internal/core"
)

// Attempt records one endpoint attempt within an invocation.
type Attempt struct {
	EndpointID string           `json:"endpoint"`
	Kind       core.FailureKind `json:"kind,omitempty"`
	Error      string           `json:"error,omitempty"`
	Duration   time.Duration    `json:"duration"`
}

// Succeeded reports whether the attempt produced a response.
func (a Attempt) Succeeded() bool {
	return a.Kind == "" && a.Error == ""
}

// InvokeResult is the detailed outcome of a chain invocation.
type InvokeResult struct {
	InvocationID string           `json:"invocation_id"`
	EndpointID   string           `json:"endpoint,omitempty"`
	Response     *driver.Response `json:"response,omitempty"`
	Attempts     []Attempt        `json:"attempts"`
}

// Observer receives chain events. Implementations must be safe for
// concurrent use.
type Observer interface {
	ObserveAttempt(a Attempt)
	ObserveResult(res *InvokeResult, err error)
}

// Chain tries endpoints in priority order until one succeeds.
type Chain struct {
	endpoints []*Endpoint
	logger    Logger
	observers []Observer
}

// ChainOption customizes a Chain.
type ChainOption func(*Chain)

// WithLogger sets the chain logger.
func WithLogger(logger Logger) ChainOption {
	return func(c *Chain) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithObserver registers an observer.
func WithObserver(obs Observer) ChainOption {
	return func(c *Chain) {
		if obs != nil {
			c.observers = append(c.observers, obs)
		}
	}
}

// NewChain builds a chain; list order is priority order.
func NewChain(endpoints []*Endpoint, opts ...ChainOption) (*Chain, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	for _, ep := range endpoints {
		if ep == nil {
			return nil, errors.New("chain endpoint is nil")
		}
	}

	c := &Chain{
		endpoints: append([]*Endpoint(nil), endpoints...),
		logger:    nopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Endpoints returns the endpoints in priority order.
func (c *Chain) Endpoints() []*Endpoint {
	return append([]*Endpoint(nil), c.endpoints...)
}

// Endpoint returns the endpoint with the given id.
func (c *Chain) Endpoint(id string) (*Endpoint, bool) {
	for _, ep := range c.endpoints {
		if ep.ID() == id {
			return ep, true
		}
	}
	return nil, false
}

// EndpointStatus is a point-in-time view of one chain entry.
type EndpointStatus struct {
	Position int               `json:"position"`
	ID       string            `json:"id"`
	Provider string            `json:"provider"`
	Model    string            `json:"model"`
	RPM      int               `json:"rpm"`
	Mode     Mode              `json:"mode"`
	Window   *core.WindowUsage `json:"window,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// Status snapshots every endpoint in priority order. A window that cannot be
// read is reported on its entry instead of failing the listing.
func (c *Chain) Status(ctx context.Context) []EndpointStatus {
	out := make([]EndpointStatus, 0, len(c.endpoints))
	for i, ep := range c.endpoints {
		st := EndpointStatus{
			Position: i + 1,
			ID:       ep.ID(),
			Provider: ep.cfg.Provider,
			Model:    ep.cfg.Model,
			RPM:      ep.cfg.RPM,
			Mode:     ep.limiter.Mode(),
		}
		usage, err := ep.limiter.Usage(ctx)
		if err != nil {
			st.Error = err.Error()
		} else {
			st.Window = &usage
		}
		out = append(out, st)
	}
	return out
}

// Invoke returns the first successful response. When every endpoint fails
// the error is an *ExhaustedError.
func (c *Chain) Invoke(ctx context.Context, prompt string, opts ...InvokeOption) (*driver.Response, error) {
	res, err := c.InvokeDetailed(ctx, prompt, opts...)
	if err != nil {
		return nil, err
	}
	return res.Response, nil
}

// InvokeDetailed is Invoke plus the serving endpoint and the attempt log.
// The result is non-nil even on error.
func (c *Chain) InvokeDetailed(ctx context.Context, prompt string, opts ...InvokeOption) (*InvokeResult, error) {
	res := &InvokeResult{
		InvocationID: uuid.NewString(),
		Attempts:     make([]Attempt, 0, len(c.endpoints)),
	}
	causes := make([]*EndpointError, 0, len(c.endpoints))

	for i, ep := range c.endpoints {
		if err := ctx.Err(); err != nil {
			return c.finish(res, &InterruptedError{Causes: causes, Err: err})
		}

		started := time.Now()
		resp, err := ep.Invoke(ctx, prompt, opts...)
		attempt := Attempt{EndpointID: ep.ID(), Duration: time.Since(started)}

		if err == nil {
			res.Attempts = append(res.Attempts, attempt)
			c.observeAttempt(attempt)
			res.EndpointID = ep.ID()
			res.Response = resp
			if i > 0 {
				c.logger.Info("served by fallback endpoint",
					zap.String("invocation_id", res.InvocationID),
					zap.String("endpoint", ep.ID()),
					zap.Int("position", i))
			}
			return c.finish(res, nil)
		}

		var epErr *EndpointError
		if !errors.As(err, &epErr) {
			epErr = &EndpointError{EndpointID: ep.ID(), Kind: core.FailureUnclassified, Err: err}
		}
		causes = append(causes, epErr)
		attempt.Kind = epErr.Kind
		attempt.Error = err.Error()
		res.Attempts = append(res.Attempts, attempt)
		c.observeAttempt(attempt)

		if ctxErr := ctx.Err(); ctxErr != nil {
			return c.finish(res, &InterruptedError{Causes: causes, Err: ctxErr})
		}

		if i < len(c.endpoints)-1 {
			c.logger.Warn("endpoint failed, failing over",
				zap.String("invocation_id", res.InvocationID),
				zap.String("endpoint", ep.ID()),
				zap.String("kind", string(epErr.Kind)),
				zap.String("next", c.endpoints[i+1].ID()),
				zap.Error(epErr.Err))
		}
	}

	err := &ExhaustedError{Causes: causes}
	c.logger.Warn("all endpoints exhausted",
		zap.String("invocation_id", res.InvocationID),
		zap.Int("endpoints", len(causes)),
		zap.Error(err))
	return c.finish(res, err)
}

func (c *Chain) finish(res *InvokeResult, err error) (*InvokeResult, error) {
	for _, obs := range c.observers {
		obs.ObserveResult(res, err)
	}
	return res, err
}

func (c *Chain) observeAttempt(a Attempt) {
	for _, obs := range c.observers {
		obs.ObserveAttempt(a)
	}
}
