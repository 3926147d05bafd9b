package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configValidate bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the merged configuration with secrets masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if configValidate {
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("%w: %w", errInvalidConfig, err)
			}
		}

		data, err := yaml.Marshal(cfg.Redacted())
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), string(data))
		return err
	},
}

func init() {
	configShowCmd.Flags().BoolVar(&configValidate, "validate", false, "also validate the endpoint chain")
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
