package output

import (
	"encoding/json"

	"github.com/llmgate/llmgate/internal/core/engine"
)

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

// FormatEndpoints renders the chain status as JSON.
func (f *JSONFormatter) FormatEndpoints(status []engine.EndpointStatus) (string, error) {
	return f.marshal(map[string]any{"endpoints": status})
}

// FormatInvoke renders an invocation result as JSON.
func (f *JSONFormatter) FormatInvoke(result *engine.InvokeResult) (string, error) {
	if result == nil {
		return "", nil
	}
	return f.marshal(result)
}

func (f *JSONFormatter) marshal(v any) (string, error) {
	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}
