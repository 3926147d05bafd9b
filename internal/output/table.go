package output

import (
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/llmgate/llmgate/internal/core/engine"
)

// TableFormatter renders results as an ASCII table.
type TableFormatter struct{}

// FormatEndpoints renders the chain in priority order with window usage.
func (f *TableFormatter) FormatEndpoints(status []engine.EndpointStatus) (string, error) {
	return endpointsTable(status).Render(), nil
}

// FormatInvoke renders the response text followed by the attempt log.
func (f *TableFormatter) FormatInvoke(result *engine.InvokeResult) (string, error) {
	if result == nil {
		return "", nil
	}

	var sb strings.Builder
	if result.Response != nil {
		sb.WriteString(strings.TrimRight(result.Response.Text(), "\n"))
		sb.WriteString("\n\n")
	}
	sb.WriteString(attemptsTable(result).Render())
	return sb.String(), nil
}

func endpointsTable(status []engine.EndpointStatus) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"#", "Endpoint", "Provider", "Model", "RPM", "Mode", "Used", "Remaining", "Retry After", "Status"})

	for _, st := range status {
		used, remaining, retry := windowCells(st)
		t.AppendRow(table.Row{
			st.Position,
			st.ID,
			st.Provider,
			st.Model,
			st.RPM,
			string(st.Mode),
			used,
			remaining,
			retry,
			statusNote(st),
		})
	}
	return t
}

func attemptsTable(result *engine.InvokeResult) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetTitle("invocation " + result.InvocationID)
	t.AppendHeader(table.Row{"#", "Endpoint", "Outcome", "Duration", "Error"})

	for i, a := range result.Attempts {
		t.AppendRow(table.Row{
			i + 1,
			a.EndpointID,
			attemptOutcome(a),
			formatDuration(a.Duration),
			a.Error,
		})
	}

	if result.EndpointID == "" && len(result.Attempts) > 0 {
		t.AppendFooter(table.Row{"", "", "exhausted", "", ""})
	}
	return t
}
