package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/llmgate/llmgate/internal/core/engine"
	"github.com/llmgate/llmgate/internal/output"
)

var (
	rateLimitListEndpoint string
	rateLimitListPrefix   string
)

var rateLimitListCmd = &cobra.Command{
	Use:   "list",
	Short: "List window usage per endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
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

		query := windowQuery{
			Endpoint: strings.TrimSpace(rateLimitListEndpoint),
			Prefix:   strings.TrimSpace(rateLimitListPrefix),
		}
		if query.Endpoint == "" && query.Prefix == "" {
			query.All = true
		}
		selected, err := selectEndpoints(gw.chain, query)
		if err != nil {
			return err
		}

		status := filterStatus(gw.chain.Status(cmd.Context()), selected)

		outPath, err := resolveOutputPath(cmd)
		if err != nil {
			return err
		}
		sink, err := openSink(outPath)
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		rendered, err := output.NewFormatter(format).FormatEndpoints(status)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(sink.writer, rendered)
		return err
	},
}

// filterStatus keeps the status rows of the selected endpoints.
func filterStatus(status []engine.EndpointStatus, selected []*engine.Endpoint) []engine.EndpointStatus {
	keep := make(map[string]struct{}, len(selected))
	for _, ep := range selected {
		keep[ep.ID()] = struct{}{}
	}
	out := make([]engine.EndpointStatus, 0, len(selected))
	for _, st := range status {
		if _, ok := keep[st.ID]; ok {
			out = append(out, st)
		}
	}
	return out
}

func init() {
	rateLimitListCmd.Flags().StringVar(&rateLimitListEndpoint, "endpoint", "", "Show a single endpoint (exact provider/model)")
	rateLimitListCmd.Flags().StringVar(&rateLimitListPrefix, "prefix", "", "Show endpoints with matching prefix")
	rateLimitListCmd.Flags().String("output-format", string(output.FormatTable), "Output format: table|json|markdown")
	rateLimitListCmd.Flags().String("out", "", "Write output to a file (default stdout)")
}
