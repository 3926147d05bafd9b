package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/llmgate/llmgate/internal/ailink/driver"
	"github.com/llmgate/llmgate/internal/config"
	"github.com/llmgate/llmgate/internal/observability"
)

var (
	cfgFile   string
	verbose   bool
	traceFile string

	// traceCleanup closes the trace file opened by --trace.
	traceCleanup func()

	// Version info set by main package
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo is called by main package to set version information
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   config.AppName,
	Short: "Rate-limited LLM gateway with ordered failover",
	Long: fmt.Sprintf(`%s routes prompts through an ordered chain of LLM endpoints.

Each endpoint enforces a sliding 60s requests-per-minute window locally.
When an endpoint is out of capacity or fails, the next one is tried.

Use the subcommands to perform specific operations.`, config.AppName),
	SilenceUsage: true,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if traceCleanup != nil {
			traceCleanup()
			traceCleanup = nil
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Keep config loading quiet; serve installs the real telemetry system.
	observability.DisableGlobalTelemetry()

	cobra.OnInitialize(initCLI)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		fmt.Sprintf("config file (default is $XDG_CONFIG_HOME/%s/config.yaml)", config.AppName))
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
	rootCmd.PersistentFlags().StringVar(&traceFile, "trace", "", "trace provider requests/responses to NDJSON file")
}

// initCLI sets up the CLI logger and optional request tracing.
func initCLI() {
	observability.InitCLILogger(config.AppName, verbose)

	if traceFile == "" {
		return
	}
	cleanup, err := driver.EnableTracing(traceFile)
	if err != nil {
		observability.CLILogger.Warn("Failed to enable tracing", zap.Error(err))
		return
	}
	traceCleanup = cleanup
	observability.CLILogger.Debug("Provider tracing enabled", zap.String("file", traceFile))
}

// loadConfig loads the layered configuration for a command.
func loadConfig(cmd *cobra.Command, overrides ...map[string]any) (*config.Config, error) {
	cfg, err := config.Load(cmd.Context(), cfgFile, overrides...)
	if err != nil {
		return nil, err
	}
	if used := config.ConfigFileUsed(cfgFile); used != "" {
		observability.CLILogger.Debug("Using config file", zap.String("path", used))
	} else {
		observability.CLILogger.Debug("No config file found, using defaults and environment variables")
	}
	return cfg, nil
}
