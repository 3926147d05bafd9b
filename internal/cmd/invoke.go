package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/llmgate/llmgate/internal/ailink/driver"
	"github.com/llmgate/llmgate/internal/core/engine"
	"github.com/llmgate/llmgate/internal/observability"
	"github.com/llmgate/llmgate/internal/output"
)

const maxStdinPromptBytes = 1 << 20

var (
	invokeSystem     string
	invokeParams     []string
	invokeJSON       bool
	invokeJSONSchema string
)

var invokeCmd = &cobra.Command{
	Use:   "invoke [prompt]",
	Short: "Run a prompt through the failover chain",
	Long: `Run a single prompt through the configured endpoint chain.

The prompt is read from the arguments, or from stdin when no argument (or "-")
is given. Endpoints are tried in order; the first success is printed along
with every attempt the chain made.`,
	Example: `  llmgate invoke "Summarize RFC 9110 in one line"
  echo "hello" | llmgate invoke --param temperature=0.2
  llmgate invoke --json-schema schema.json "Extract the fields" --output-format json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}

		prompt, err := readPrompt(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}

		opts, err := invokeOptionsFromFlags()
		if err != nil {
			return err
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		gw, err := buildGateway(cfg, observability.CLILogger)
		if err != nil {
			return err
		}
		defer func() { _ = gw.Close() }()

		res, invokeErr := gw.chain.InvokeDetailed(cmd.Context(), prompt, opts...)
		if invokeErr != nil {
			observability.CLILogger.Debug("Invocation failed",
				zap.String("invocation_id", res.InvocationID),
				zap.Int("attempts", len(res.Attempts)),
				zap.Error(invokeErr))
		}

		outPath, err := resolveOutputPath(cmd)
		if err != nil {
			return err
		}
		sink, err := openSink(outPath)
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		rendered, err := output.NewFormatter(format).FormatInvoke(res)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(sink.writer, rendered); err != nil {
			return err
		}
		return invokeErr
	},
}

// readPrompt joins args into a prompt, falling back to stdin.
func readPrompt(stdin io.Reader, args []string) (string, error) {
	prompt := strings.TrimSpace(strings.Join(args, " "))
	if prompt == "" || prompt == "-" {
		data, err := io.ReadAll(io.LimitReader(stdin, maxStdinPromptBytes))
		if err != nil {
			return "", fmt.Errorf("read prompt from stdin: %w", err)
		}
		prompt = strings.TrimSpace(string(data))
	}
	if prompt == "" {
		return "", errors.New("prompt is required (pass it as an argument or on stdin)")
	}
	return prompt, nil
}

func invokeOptionsFromFlags() ([]engine.InvokeOption, error) {
	var opts []engine.InvokeOption

	params, err := parseParams(invokeParams)
	if err != nil {
		return nil, err
	}
	if len(params) > 0 {
		opts = append(opts, engine.WithParams(params))
	}
	if strings.TrimSpace(invokeSystem) != "" {
		opts = append(opts, engine.WithSystemPrompt(invokeSystem))
	}

	format, err := responseFormatFromFlags(invokeJSON, invokeJSONSchema)
	if err != nil {
		return nil, err
	}
	if format != nil {
		opts = append(opts, engine.WithResponseFormat(format))
	}
	return opts, nil
}

// parseParams turns key=value pairs into request params. Values that parse as
// JSON keep their type, everything else is a string.
func parseParams(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param %q (expected key=value)", pair)
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		params[key] = value
	}
	return params, nil
}

func responseFormatFromFlags(jsonObject bool, schemaPath string) (*driver.ResponseFormat, error) {
	schemaPath = strings.TrimSpace(schemaPath)
	if schemaPath == "" {
		if jsonObject {
			return &driver.ResponseFormat{Type: "json_object"}, nil
		}
		return nil, nil
	}

	data, err := os.ReadFile(schemaPath)
	if err != nil {
		return nil, fmt.Errorf("read json schema: %w", err)
	}
	var schema map[string]any
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("parse json schema %s: %w", schemaPath, err)
	}
	return &driver.ResponseFormat{
		Type: "json_schema",
		JSONSchema: &driver.JSONSchemaSpec{
			Name:   sanitizeFilename(strings.TrimSuffix(filepath.Base(schemaPath), ".json")),
			Strict: true,
			Schema: schema,
		},
	}, nil
}

func init() {
	rootCmd.AddCommand(invokeCmd)

	invokeCmd.Flags().StringVar(&invokeSystem, "system", "", "system prompt prepended to the request")
	invokeCmd.Flags().StringArrayVar(&invokeParams, "param", nil, "request param override as key=value (repeatable)")
	invokeCmd.Flags().BoolVar(&invokeJSON, "json", false, "request a JSON object response")
	invokeCmd.Flags().StringVar(&invokeJSONSchema, "json-schema", "", "path to a JSON schema for structured output")
	invokeCmd.Flags().String("output-format", string(output.FormatTable), "Output format: table|json|markdown")
	invokeCmd.Flags().String("out", "", "Write output to a file (default stdout)")
}
