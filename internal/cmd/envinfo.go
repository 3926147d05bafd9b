package cmd

import (
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/llmgate/llmgate/internal/config"
	"github.com/llmgate/llmgate/internal/observability"
)

var envInfoCmd = &cobra.Command{
	Use:   "envinfo",
	Short: "Display environment information",
	Long:  "Display environment, configuration, chain and version information.",
	Run: func(cmd *cobra.Command, args []string) {
		log := observability.CLILogger
		version := crucible.GetVersion()

		log.Info("=== LLMGate Environment Information ===")
		log.Info("")

		log.Info("Application:")
		log.Info("  Name:       " + config.AppName)
		log.Info("  Version:    " + versionInfo.Version)
		log.Info("  Commit:     " + versionInfo.Commit)
		log.Info("  Built:      " + versionInfo.BuildDate)
		log.Info("")

		log.Info("SSOT:")
		log.Info("  Gofulmen:   "+version.Gofulmen, zap.String("gofulmen_version", version.Gofulmen))
		log.Info("  Crucible:   "+version.Crucible, zap.String("crucible_version", version.Crucible))
		log.Info("")

		log.Info("Runtime:")
		log.Info("  Go Version: "+runtime.Version(), zap.String("go_version", runtime.Version()))
		log.Info("  GOOS:       "+runtime.GOOS, zap.String("goos", runtime.GOOS))
		log.Info("  GOARCH:     "+runtime.GOARCH, zap.String("goarch", runtime.GOARCH))
		log.Info(fmt.Sprintf("  NumCPU:     %d", runtime.NumCPU()), zap.Int("num_cpu", runtime.NumCPU()))
		log.Info("")

		cfg, err := loadConfig(cmd)
		if err != nil {
			log.Warn("Config load failed", zap.Error(err))
			return
		}

		configFile := config.ConfigFileUsed(cfgFile)
		if configFile == "" {
			configFile = "(none, defaults and environment)"
		}
		log.Info("Configuration:")
		log.Info("  Config File:    "+configFile, zap.String("config_file", configFile))
		log.Info("  Server:         "+fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))
		log.Info("  Log Level:      "+cfg.Logging.Level, zap.String("log_level", cfg.Logging.Level))
		log.Info("  Log Profile:    "+cfg.Logging.Profile, zap.String("log_profile", cfg.Logging.Profile))
		log.Info(fmt.Sprintf("  Metrics:        enabled=%t port=%d", cfg.Metrics.Enabled, cfg.Metrics.Port))
		log.Info(fmt.Sprintf("  Admin Endpoint: %t", strings.TrimSpace(cfg.Server.AdminToken) != ""))
		log.Info("")

		log.Info("Limiter:")
		log.Info("  Mode:           "+cfg.Limiter.Mode, zap.String("limiter_mode", cfg.Limiter.Mode))
		log.Info("  Backend:        "+cfg.Limiter.Backend, zap.String("limiter_backend", cfg.Limiter.Backend))
		if cfg.Limiter.Provider429Backoff > 0 {
			log.Info("  429 Backoff:    " + cfg.Limiter.Provider429Backoff.String())
		} else {
			log.Info("  429 Backoff:    disabled")
		}
		if strings.EqualFold(cfg.Limiter.Backend, config.BackendRedis) {
			log.Info("  Redis Addr:     " + cfg.Redis.Addr)
			log.Info(fmt.Sprintf("  Redis DB:       %d", cfg.Redis.DB))
			log.Info("  Key Prefix:     " + cfg.Redis.KeyPrefix)
		}
		log.Info("")

		log.Info("Providers:")
		ids := make([]string, 0, len(cfg.AILink.Providers))
		for id := range cfg.AILink.Providers {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		if len(ids) == 0 {
			log.Info("  (none configured)")
		}
		for _, id := range ids {
			p := cfg.AILink.Providers[id]
			keySet := strings.TrimSpace(p.APIKey) != "" || len(p.Credentials) > 0
			log.Info(fmt.Sprintf("  %s: ai_provider=%s enabled=%t credentials=%t", id, p.AIProvider, p.IsEnabled(), keySet))
		}
		log.Info("")

		log.Info("Chain:")
		if len(cfg.Chain) == 0 {
			log.Info("  (empty)")
		}
		for i, ep := range cfg.Chain {
			log.Info(fmt.Sprintf("  %d. %s rpm=%d", i+1, ep.EndpointID(), ep.RPM))
		}
		if err := cfg.Validate(); err != nil {
			log.Warn("Configuration is not runnable", zap.Error(err))
		}
		log.Info("")

		log.Info("=== End Environment Information ===")
	},
}

func init() {
	rootCmd.AddCommand(envInfoCmd)
}
