package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/llmgate/llmgate/internal/output"
)

var endpointsCmd = &cobra.Command{
	Use:   "endpoints",
	Short: "Show the endpoint chain in priority order",
	Long: `Show every configured endpoint in failover order with its RPM limit,
admission mode and current window usage.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		gw, err := buildGateway(cfg, nil)
		if err != nil {
			return err
		}
		defer func() { _ = gw.Close() }()

		outPath, err := resolveOutputPath(cmd)
		if err != nil {
			return err
		}
		sink, err := openSink(outPath)
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		rendered, err := output.NewFormatter(format).FormatEndpoints(gw.chain.Status(cmd.Context()))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(sink.writer, rendered)
		return err
	},
}

func init() {
	rootCmd.AddCommand(endpointsCmd)

	endpointsCmd.Flags().String("output-format", string(output.FormatTable), "Output format: table|json|markdown")
	endpointsCmd.Flags().String("out", "", "Write output to a file (default stdout)")
}
