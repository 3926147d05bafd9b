package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/google/uuid"
	"github.com/llmgate/llmgate/internal/core/engine"
	"github.com/llmgate/llmgate/internal/metrics"
	"github.com/llmgate/llmgate/internal/observability"
	"github.com/llmgate/llmgate/internal/server/middleware"
	"go.uber.org/zap"
)

// Error codes used by the gateway in addition to the generic ones.
const (
	CodeEndpointsExhausted = "ENDPOINTS_EXHAUSTED"
	CodeRateLimited        = "RATE_LIMITED"
	CodeRequestCancelled   = "REQUEST_CANCELLED"
)

// StatusClientClosedRequest is the non-standard status used when the caller
// went away before the chain finished.
const StatusClientClosedRequest = 499

// User Errors (400-level)
func NewInvalidInputError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope("INVALID_INPUT", message)
}

func NewNotFoundError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope("NOT_FOUND", message)
}

func NewMethodNotAllowedError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope("METHOD_NOT_ALLOWED", message)
}

// Server Errors (500-level)
func NewInternalError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope("INTERNAL_ERROR", message)
}

func NewServiceUnavailableError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", message)
}

func NewConfigInvalidError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope("CONFIG_INVALID", message)
}

// Wrap functions attach correlation/trace IDs from the request context.

func WrapInvalidInput(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, "INVALID_INPUT", err, message)
}

func WrapNotFound(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, "NOT_FOUND", err, message)
}

func WrapInternal(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, "INTERNAL_ERROR", err, message)
}

func WrapTimeout(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, "TIMEOUT", err, message)
}

func WrapConfigInvalid(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, "CONFIG_INVALID", err, message)
}

func wrap(ctx context.Context, code string, err error, message string) *errors.ErrorEnvelope {
	envelope := errors.NewErrorEnvelope(code, message)
	envelope = envelope.WithCorrelationID(extractCorrelationID(ctx))
	envelope = envelope.WithTraceID(extractTraceID(ctx))
	return withWrappedError(envelope, err)
}

// FromChainError converts a failover chain error into an envelope. The
// per-endpoint causes go into the envelope details in chain order, with a
// string summary in the context for logs.
func FromChainError(ctx context.Context, err error) *errors.ErrorEnvelope {
	if err == nil {
		return nil
	}

	var exhausted *engine.ExhaustedError
	var interrupted *engine.InterruptedError
	var window *engine.WindowExhaustedError

	switch {
	case stderrors.As(err, &exhausted):
		env := chainEnvelope(ctx, CodeEndpointsExhausted, "All endpoints in the chain failed",
			map[string]interface{}{"causes": causeDetails(exhausted.Causes)},
			map[string]interface{}{"cause_summary": causeSummary(exhausted.Causes)})
		if withSeverity, sevErr := env.WithSeverity(errors.SeverityMedium); sevErr == nil {
			env = withSeverity
		}
		return env
	case stderrors.As(err, &interrupted):
		details := map[string]interface{}{}
		fields := map[string]interface{}{}
		if interrupted.Err != nil {
			fields["wrapped_error"] = interrupted.Err.Error()
		}
		if len(interrupted.Causes) > 0 {
			details["causes"] = causeDetails(interrupted.Causes)
			fields["cause_summary"] = causeSummary(interrupted.Causes)
		}
		return chainEnvelope(ctx, CodeRequestCancelled, "Request ended before the chain completed", details, fields)
	case stderrors.As(err, &window):
		return chainEnvelope(ctx, CodeRateLimited, "Rate limit window exhausted",
			map[string]interface{}{"retry_after_ms": window.RetryAfter.Milliseconds()},
			map[string]interface{}{
				"wrapped_error": err.Error(),
				"retry_after":   window.RetryAfter.String(),
			})
	case stderrors.Is(err, engine.ErrNoEndpoints):
		return wrap(ctx, "CONFIG_INVALID", err, "No endpoints configured")
	case stderrors.Is(err, context.DeadlineExceeded):
		return WrapTimeout(ctx, err, "Request timed out")
	default:
		return WrapInternal(ctx, err, "Unexpected chain error")
	}
}

// chainEnvelope attaches structured details as-is and scalar fields to the
// envelope context. Context only takes strings, numbers, bools and string
// slices; fields it rejects are kept in details with the validation error.
func chainEnvelope(ctx context.Context, code, message string, details, fields map[string]interface{}) *errors.ErrorEnvelope {
	envelope := wrap(ctx, code, nil, message)
	merged := make(map[string]interface{}, len(details)+len(fields))
	for k, v := range details {
		merged[k] = v
	}
	if len(fields) > 0 {
		updated, err := envelope.WithContext(fields)
		if err != nil {
			for k, v := range fields {
				if _, exists := merged[k]; !exists {
					merged[k] = v
				}
			}
			merged["context_error"] = err.Error()
		} else {
			envelope = updated
		}
	}
	if len(merged) > 0 {
		envelope = envelope.WithDetails(merged)
	}
	return envelope
}

func causeDetails(causes []*engine.EndpointError) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(causes))
	for _, cause := range causes {
		if cause == nil {
			continue
		}
		entry := map[string]interface{}{
			"endpoint": cause.EndpointID,
			"kind":     string(cause.Kind),
		}
		if cause.Err != nil {
			entry["error"] = cause.Err.Error()
		}
		out = append(out, entry)
	}
	return out
}

// causeSummary renders causes as "<endpoint>: <kind>: <error>" lines.
func causeSummary(causes []*engine.EndpointError) []string {
	out := make([]string, 0, len(causes))
	for _, cause := range causes {
		if cause == nil {
			continue
		}
		line := cause.EndpointID + ": " + string(cause.Kind)
		if cause.Err != nil {
			line += ": " + cause.Err.Error()
		}
		out = append(out, line)
	}
	return out
}

// retryAfterMillis reads the retry hint stored by FromChainError.
func retryAfterMillis(envelope *errors.ErrorEnvelope) (int64, bool) {
	if envelope == nil {
		return 0, false
	}
	switch v := envelope.Details["retry_after_ms"].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}

// extractCorrelationID gets correlation ID from context, falls back to generating new UUID
func extractCorrelationID(ctx context.Context) string {
	if ctx != nil {
		if requestID := middleware.GetRequestID(ctx); requestID != "" {
			return requestID
		}
	}
	return uuid.New().String()
}

// extractTraceID mirrors the correlation ID until tracing is wired in.
func extractTraceID(ctx context.Context) string {
	return extractCorrelationID(ctx)
}

// EnsureEnvelope normalizes any error into a gofulmen ErrorEnvelope.
func EnsureEnvelope(err error) *errors.ErrorEnvelope {
	if err == nil {
		env := errors.NewErrorEnvelope("INTERNAL_ERROR", "unexpected nil error")
		env, _ = env.WithSeverity(errors.SeverityCritical)
		return env
	}

	if envelope, ok := err.(*errors.ErrorEnvelope); ok && envelope != nil {
		return envelope
	}

	env := errors.NewErrorEnvelope("INTERNAL_ERROR", "unexpected error")
	env = withWrappedError(env, err)
	env, _ = env.WithSeverity(errors.SeverityHigh)
	return env
}

// EnsureCorrelationID attaches a correlation ID to the envelope using the context when available.
func EnsureCorrelationID(envelope *errors.ErrorEnvelope, ctx context.Context) *errors.ErrorEnvelope {
	if envelope == nil {
		return nil
	}

	if envelope.CorrelationID != "" {
		return envelope
	}

	var correlationID string
	if ctx != nil {
		correlationID = middleware.GetRequestID(ctx)
	}

	if correlationID == "" {
		correlationID = "fallback-" + errors.GenerateCorrelationID()
	}

	return envelope.WithCorrelationID(correlationID)
}

// HTTPStatusFromEnvelope resolves the HTTP status code corresponding to an error envelope.
func HTTPStatusFromEnvelope(envelope *errors.ErrorEnvelope) int {
	if envelope == nil {
		return http.StatusInternalServerError
	}
	return HTTPStatusFromCode(envelope.Code)
}

// HTTPStatusFromCode resolves the HTTP status code corresponding to an error code.
func HTTPStatusFromCode(code string) int {
	switch code {
	case "INVALID_INPUT", "VALIDATION_FAILED":
		return http.StatusBadRequest
	case "NOT_FOUND":
		return http.StatusNotFound
	case "METHOD_NOT_ALLOWED":
		return http.StatusMethodNotAllowed
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeRequestCancelled:
		return StatusClientClosedRequest
	case "TIMEOUT":
		return http.StatusGatewayTimeout
	case "EXTERNAL_SERVICE_ERROR":
		return http.StatusBadGateway
	case "SERVICE_UNAVAILABLE", CodeEndpointsExhausted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func withWrappedError(envelope *errors.ErrorEnvelope, err error) *errors.ErrorEnvelope {
	if envelope == nil || err == nil {
		return envelope
	}

	updated, updateErr := envelope.WithContext(map[string]interface{}{
		"wrapped_error": err.Error(),
	})
	if updateErr != nil {
		return envelope
	}
	return updated
}

// ResponseDetails constructs API-safe details map by merging envelope details and context.
func ResponseDetails(envelope *errors.ErrorEnvelope) map[string]interface{} {
	if envelope == nil {
		return nil
	}

	details := make(map[string]interface{})

	for key, value := range envelope.Details {
		details[key] = value
	}

	for key, value := range envelope.Context {
		if _, exists := details[key]; !exists {
			details[key] = value
		}
	}

	if len(details) == 0 {
		return nil
	}

	return details
}

// HTTPErrorDetail captures the error body returned to callers.
type HTTPErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// HTTPErrorResponse wraps HTTPErrorDetail in the standard envelope structure.
type HTTPErrorResponse struct {
	Error HTTPErrorDetail `json:"error"`
}

// RespondWithError normalizes the supplied error and writes a JSON response.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	RespondWithEnvelope(w, r, EnsureEnvelope(err))
}

// RespondWithEnvelope finalizes the provided envelope, logging and emitting metrics.
func RespondWithEnvelope(w http.ResponseWriter, r *http.Request, envelope *errors.ErrorEnvelope) {
	if w == nil {
		return
	}

	if r != nil {
		envelope = EnsureCorrelationID(envelope, r.Context())
	} else {
		envelope = EnsureCorrelationID(envelope, nil)
	}

	statusCode := HTTPStatusFromEnvelope(envelope)

	response := HTTPErrorResponse{
		Error: HTTPErrorDetail{
			Code:      envelope.Code,
			Message:   envelope.Message,
			Details:   ResponseDetails(envelope),
			RequestID: envelope.CorrelationID,
		},
	}

	logHTTPError(envelope, statusCode)
	emitErrorMetrics(r, envelope, statusCode)

	w.Header().Set("Content-Type", "application/json")
	if retryAfter, ok := retryAfterMillis(envelope); ok && statusCode == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", retryAfterSeconds(retryAfter))
	}
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

func retryAfterSeconds(ms int64) string {
	secs := (ms + 999) / 1000
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}

func logHTTPError(envelope *errors.ErrorEnvelope, statusCode int) {
	if observability.ServerLogger == nil || envelope == nil {
		return
	}

	fields := []zap.Field{
		zap.String("error_code", envelope.Code),
		zap.Int("http_status", statusCode),
	}

	if envelope.Severity != "" {
		fields = append(fields, zap.String("severity", string(envelope.Severity)))
	}

	for key, value := range envelope.Context {
		fields = append(fields, zap.Any(key, value))
	}

	if envelope.CorrelationID != "" {
		fields = append(fields, zap.String("request_id", envelope.CorrelationID))
	}

	switch envelope.Severity {
	case errors.SeverityCritical, errors.SeverityHigh:
		observability.ServerLogger.Error(envelope.Message, fields...)
	case errors.SeverityMedium:
		observability.ServerLogger.Warn(envelope.Message, fields...)
	default:
		observability.ServerLogger.Info(envelope.Message, fields...)
	}
}

func emitErrorMetrics(r *http.Request, envelope *errors.ErrorEnvelope, statusCode int) {
	if envelope == nil {
		return
	}

	metrics.RecordError(envelope.Code, statusCode)
	if r != nil {
		metrics.RecordErrorByEndpoint(r.URL.Path, envelope.Code)
	}
}
