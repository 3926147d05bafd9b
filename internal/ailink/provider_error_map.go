package ailink

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/llmgate/llmgate/internal/ailink/driver"
	"github.com/llmgate/llmgate/internal/core"
)

// ClassifyProviderError maps an adapter failure to a failure kind.
//
// Context deadlines seen here are adapter-boundary timeouts; caller
// cancellation is detected by the chain before classification.
func ClassifyProviderError(err error) core.FailureKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, driver.ErrMissingAPIKey) {
		return core.FailureAuth
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return core.FailureTransient
	}

	var perr *driver.ProviderError
	if errors.As(err, &perr) && perr != nil {
		status := perr.StatusCode
		switch {
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return core.FailureAuth
		case status == http.StatusTooManyRequests:
			return core.FailureProviderRateLimited
		case status == http.StatusRequestTimeout:
			return core.FailureTransient
		case status >= 500 && status <= 599:
			return core.FailureTransient
		case status >= 400 && status <= 499:
			return core.FailureRejected
		default:
			return core.FailureUnclassified
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return core.FailureTransient
	}

	return core.FailureUnclassified
}

// ProviderRetryAfter returns the provider-reported Retry-After, if any.
func ProviderRetryAfter(err error) time.Duration {
	var perr *driver.ProviderError
	if errors.As(err, &perr) && perr != nil {
		return perr.RetryAfter
	}
	return 0
}
