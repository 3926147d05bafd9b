package ailink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/llmgate/llmgate/internal/ailink/driver"
	"github.com/llmgate/llmgate/internal/core"
)

func TestClassifyProviderErrorStatusCodes(t *testing.T) {
	cases := []struct {
		name       string
		statusCode int
		want       core.FailureKind
	}{
		{"auth", 401, core.FailureAuth},
		{"forbidden", 403, core.FailureAuth},
		{"rate", 429, core.FailureProviderRateLimited},
		{"bad", 400, core.FailureRejected},
		{"not found", 404, core.FailureRejected},
		{"request timeout", 408, core.FailureTransient},
		{"unavail", 503, core.FailureTransient},
		{"internal", 500, core.FailureTransient},
		{"odd", 302, core.FailureUnclassified},
	}

	for _, tc := range cases {
		err := fmt.Errorf("wrapped: %w", &driver.ProviderError{Provider: "openai", StatusCode: tc.statusCode, Message: "boom"})
		require.Equal(t, tc.want, ClassifyProviderError(err), tc.name)
	}
}

func TestClassifyProviderErrorTransportFailures(t *testing.T) {
	require.Equal(t, core.FailureTransient, ClassifyProviderError(fmt.Errorf("request failed: %w", context.DeadlineExceeded)))
	require.Equal(t, core.FailureTransient, ClassifyProviderError(&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}))
	require.Equal(t, core.FailureAuth, ClassifyProviderError(fmt.Errorf("groq: %w", driver.ErrMissingAPIKey)))
	require.Equal(t, core.FailureUnclassified, ClassifyProviderError(errors.New("decode response: unexpected EOF")))
	require.Equal(t, core.FailureKind(""), ClassifyProviderError(nil))
}

func TestProviderRetryAfter(t *testing.T) {
	err := &driver.ProviderError{StatusCode: 429, RetryAfter: 5 * time.Second}
	require.Equal(t, 5*time.Second, ProviderRetryAfter(fmt.Errorf("x: %w", err)))
	require.Zero(t, ProviderRetryAfter(errors.New("plain")))
}
