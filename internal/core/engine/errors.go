package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/llmgate/llmgate/internal/core"
)

var (
	// ErrWindowExhausted matches every *WindowExhaustedError.
	ErrWindowExhausted = errors.New("rate limit window exhausted")
	// ErrAllEndpointsExhausted matches every *ExhaustedError.
	ErrAllEndpointsExhausted = errors.New("all endpoints exhausted")
	// ErrNoEndpoints is returned when a chain is built without endpoints.
	ErrNoEndpoints = errors.New("chain requires at least one endpoint")
)

// WindowExhaustedError reports a local admission rejection.
type WindowExhaustedError struct {
	Limit      int
	RetryAfter time.Duration
	// Backoff is set when the rejection comes from a provider 429 backoff
	// rather than a full window.
	Backoff bool
}

func (e *WindowExhaustedError) Error() string {
	if e.Backoff {
		return fmt.Sprintf("rate limit backoff active, retry after %s", e.RetryAfter.Round(time.Millisecond))
	}
	return fmt.Sprintf("rate limit window exhausted (%d rpm), retry after %s", e.Limit, e.RetryAfter.Round(time.Millisecond))
}

func (e *WindowExhaustedError) Is(target error) bool {
	return target == ErrWindowExhausted
}

// EndpointError is a classified failure of one endpoint attempt.
type EndpointError struct {
	EndpointID string
	Kind       core.FailureKind
	Err        error
}

func (e *EndpointError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.EndpointID, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.EndpointID, e.Kind, e.Err)
}

func (e *EndpointError) Unwrap() error {
	return e.Err
}

// ExhaustedError reports that every endpoint of a chain failed. Causes holds
// one entry per endpoint in chain order.
type ExhaustedError struct {
	Causes []*EndpointError
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Causes))
	for _, cause := range e.Causes {
		parts = append(parts, cause.Error())
	}
	return fmt.Sprintf("%s (%d endpoints): %s", ErrAllEndpointsExhausted.Error(), len(e.Causes), strings.Join(parts, "; "))
}

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrAllEndpointsExhausted
}

func (e *ExhaustedError) Unwrap() []error {
	errs := make([]error, len(e.Causes))
	for i, cause := range e.Causes {
		errs[i] = cause
	}
	return errs
}

// InterruptedError reports that the caller's context ended mid-chain.
// Causes holds the failures collected before the interruption.
type InterruptedError struct {
	Causes []*EndpointError
	Err    error
}

func (e *InterruptedError) Error() string {
	return fmt.Sprintf("chain interrupted after %d attempts: %v", len(e.Causes), e.Err)
}

func (e *InterruptedError) Unwrap() error {
	return e.Err
}
