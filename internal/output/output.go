package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/llmgate/llmgate/internal/core/engine"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// Formatter renders chain listings and invocation results.
type Formatter interface {
	FormatEndpoints(status []engine.EndpointStatus) (string, error)
	FormatInvoke(result *engine.InvokeResult) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	default:
		return &TableFormatter{}
	}
}

func windowCells(st engine.EndpointStatus) (used, remaining, retry string) {
	if st.Window == nil {
		return "-", "-", "-"
	}
	used = fmt.Sprintf("%d/%d", st.Window.Used, st.Window.Limit)
	remaining = fmt.Sprintf("%d", st.Window.Remaining)
	retry = "-"
	if st.Window.RetryAfter > 0 {
		retry = formatDuration(st.Window.RetryAfter)
	}
	if st.Window.BackoffUntil != nil {
		retry += " (backoff)"
	}
	return used, remaining, retry
}

func statusNote(st engine.EndpointStatus) string {
	if st.Error != "" {
		return "error: " + st.Error
	}
	if st.Window != nil && st.Window.Remaining == 0 {
		return "full"
	}
	return "ok"
}

func attemptOutcome(a engine.Attempt) string {
	if a.Succeeded() {
		return "served"
	}
	return string(a.Kind)
}

func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Second:
		return d.Round(100 * time.Millisecond).String()
	case d >= time.Millisecond:
		return d.Round(time.Millisecond).String()
	default:
		return d.String()
	}
}
