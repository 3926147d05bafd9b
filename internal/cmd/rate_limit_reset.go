package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/llmgate/llmgate/internal/observability"
	"github.com/llmgate/llmgate/internal/output"
)

var (
	rateLimitResetAll      bool
	rateLimitResetEndpoint string
	rateLimitResetPrefix   string
	rateLimitResetYes      bool
	rateLimitResetDryRun   bool
)

// resetResult reports which windows a reset cleared.
type resetResult struct {
	Matched []string `json:"matched"`
	Reset   []string `json:"reset"`
	DryRun  bool     `json:"dry_run"`
	Errors  []string `json:"errors,omitempty"`
}

var rateLimitResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear endpoint windows and backoff",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}
		if format == output.FormatMarkdown {
			return fmt.Errorf("unsupported output format: %s", format)
		}

		query := windowQuery{
			All:      rateLimitResetAll,
			Endpoint: strings.TrimSpace(rateLimitResetEndpoint),
			Prefix:   strings.TrimSpace(rateLimitResetPrefix),
		}
		if err := query.Validate(); err != nil {
			return err
		}
		if query.All && !rateLimitResetYes && !rateLimitResetDryRun {
			return errors.New("--all requires --yes (or use --dry-run)")
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		warnLocalWindows(cfg)

		gw, err := buildGateway(cfg, nil)
		if err != nil {
			return err
		}
		defer func() { _ = gw.Close() }()

		selected, err := selectEndpoints(gw.chain, query)
		if err != nil {
			return err
		}

		result := resetResult{DryRun: rateLimitResetDryRun, Matched: []string{}, Reset: []string{}}
		for _, ep := range selected {
			result.Matched = append(result.Matched, ep.ID())
			if result.DryRun {
				continue
			}
			if err := ep.Limiter().Reset(cmd.Context()); err != nil {
				observability.CLILogger.Warn("Window reset failed",
					zap.String("endpoint", ep.ID()),
					zap.Error(err))
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", ep.ID(), err))
				continue
			}
			result.Reset = append(result.Reset, ep.ID())
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

		if err := writeResetResult(format, sink.writer, result); err != nil {
			return err
		}
		if len(result.Errors) > 0 {
			return fmt.Errorf("reset failed for %d endpoint(s)", len(result.Errors))
		}
		return nil
	},
}

func writeResetResult(format output.Format, w io.Writer, result resetResult) error {
	if format == output.FormatJSON {
		payload, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(payload))
		return err
	}

	if result.DryRun {
		_, err := fmt.Fprintf(w, "Would reset %d window(s): %s\n", len(result.Matched), strings.Join(result.Matched, ", "))
		return err
	}
	_, err := fmt.Fprintf(w, "Reset %d/%d window(s)\n", len(result.Reset), len(result.Matched))
	return err
}

func init() {
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetAll, "all", false, "Reset all endpoints")
	rateLimitResetCmd.Flags().StringVar(&rateLimitResetEndpoint, "endpoint", "", "Reset a single endpoint (exact provider/model)")
	rateLimitResetCmd.Flags().StringVar(&rateLimitResetPrefix, "prefix", "", "Reset endpoints with matching prefix")
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetYes, "yes", false, "Confirm destructive reset")
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetDryRun, "dry-run", false, "Show what would be reset")
	rateLimitResetCmd.Flags().String("output-format", string(output.FormatTable), "Output format: table|json")
	rateLimitResetCmd.Flags().String("out", "", "Write output to a file (default stdout)")
}
