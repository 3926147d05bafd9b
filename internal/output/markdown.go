package output

import (
	"fmt"
	"strings"

	"github.com/llmgate/llmgate/internal/core/engine"
)

// MarkdownFormatter renders results as markdown tables.
type MarkdownFormatter struct{}

// FormatEndpoints renders the chain status as a markdown table.
func (f *MarkdownFormatter) FormatEndpoints(status []engine.EndpointStatus) (string, error) {
	var sb strings.Builder
	sb.WriteString("## Endpoints\n\n")
	sb.WriteString(endpointsTable(status).RenderMarkdown())
	sb.WriteString("\n")
	return sb.String(), nil
}

// FormatInvoke renders the response as a quoted block plus the attempt log.
func (f *MarkdownFormatter) FormatInvoke(result *engine.InvokeResult) (string, error) {
	if result == nil {
		return "", nil
	}

	var sb strings.Builder
	if result.Response != nil {
		sb.WriteString(fmt.Sprintf("## Response from %s\n\n", result.EndpointID))
		for _, line := range strings.Split(strings.TrimRight(result.Response.Text(), "\n"), "\n") {
			sb.WriteString("> " + line + "\n")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("### Attempts\n\n")
	sb.WriteString(attemptsTable(result).RenderMarkdown())
	sb.WriteString("\n")
	return sb.String(), nil
}
