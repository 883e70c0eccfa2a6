package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"yatrt/internal/logging"
)

var configWrite bool

// configCmd shows the effective configuration
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Prints the configuration yat runs with: the file given by --config, or the
defaults when it is missing, with environment overrides applied. --write saves
it to the --config path.`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

func init() {
	configCmd.Flags().BoolVar(&configWrite, "write", false, "Save the effective configuration to the --config path")
}

func runConfig(cmd *cobra.Command, args []string) error {
	if configWrite {
		if err := cfg.Save(configPath); err != nil {
			return err
		}
		logs.Get(logging.CategoryBoot).Info("configuration saved", zap.String("path", configPath))
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", configPath)
		return nil
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
