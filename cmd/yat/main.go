package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"yatrt/internal/config"
	"yatrt/internal/launch"
	"yatrt/internal/logging"
)

var (
	// Global flags
	configPath string
	verbose    bool

	cfg    *config.Config
	logs   *logging.Registry
	logger *zap.Logger
)

// The kernel identifies a task by its thread; keep main on the process's
// initial thread so the launcher installs parameters for the thread it execs
// from.
func init() {
	runtime.LockOSThread()
}

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "yat",
	Short: "Run programs as real-time tasks",
	Long: `yat configures the calling thread as a real-time task of the kernel's
scheduler and replaces itself with a program, releases cohorts of tasks
waiting for a synchronous release and inspects the scheduler's state.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		base, err := logging.New(cfg.Logging, verbose)
		if err != nil {
			return err
		}
		logs = logging.NewRegistry(base, cfg.Logging)
		logger = logs.Get(logging.CategoryBoot)
		logger.Debug("configuration loaded", zap.String("path", configPath))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logs != nil {
			_ = logs.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "Configuration file")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable verbose logging")

	rootCmd.AddCommand(launchCmd)
	rootCmd.AddCommand(releaseCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "yat: %v\n", err)
		var usage *launch.UsageError
		if errors.As(err, &usage) {
			fmt.Fprintf(os.Stderr, "\n%s", launchCmd.UsageString())
		}
		os.Exit(1)
	}
}
