package driver

import (
	"fmt"
	"strconv"
	"strings"
)

// Well-known generation parameter keys.
const (
	ParamTemperature = "temperature"
	ParamMaxTokens   = "max_tokens"
	ParamTopP        = "top_p"
	ParamStop        = "stop"
)

// ApplyParams copies generation parameters onto req. Known keys populate the
// typed fields; everything else lands in req.Extra untouched.
func ApplyParams(req *Request, params map[string]any) error {
	if req == nil || len(params) == 0 {
		return nil
	}

	for key, value := range params {
		normalized := strings.ToLower(strings.TrimSpace(key))
		switch normalized {
		case ParamTemperature:
			f, err := toFloat(value)
			if err != nil {
				return fmt.Errorf("param %s: %w", key, err)
			}
			req.Temperature = &f
		case ParamTopP:
			f, err := toFloat(value)
			if err != nil {
				return fmt.Errorf("param %s: %w", key, err)
			}
			req.TopP = &f
		case ParamMaxTokens, "max_output_tokens":
			f, err := toFloat(value)
			if err != nil {
				return fmt.Errorf("param %s: %w", key, err)
			}
			n := int(f)
			req.MaxTokens = &n
		case ParamStop, "stop_sequences":
			req.Stop = toStrings(value)
		default:
			if req.Extra == nil {
				req.Extra = make(map[string]any)
			}
			req.Extra[key] = value
		}
	}
	return nil
}

func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	default:
		return 0, fmt.Errorf("unsupported numeric value %v (%T)", value, value)
	}
}

func toStrings(value any) []string {
	switch v := value.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return nil
		}
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
