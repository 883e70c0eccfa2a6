package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"yatrt/internal/logging"
	"yatrt/internal/mode"
	"yatrt/pkg/yat"
)

var (
	releaseDelay   time.Duration
	releaseWait    uint32
	releaseTimeout time.Duration
)

// releaseCmd releases the tasks waiting for a synchronous release
var releaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Release all tasks waiting for the synchronous release",
	Long: `Releases every task blocked in a synchronous-release wait at a common
time, now plus --delay. With --wait N the command first polls the kernel's
statistics until N tasks are waiting.`,
	Args: cobra.NoArgs,
	RunE: runRelease,
}

func init() {
	releaseCmd.Flags().DurationVar(&releaseDelay, "delay", 0, "Delay until the common release time (default from config)")
	releaseCmd.Flags().Uint32Var(&releaseWait, "wait", 0, "Wait until this many tasks are ready for release")
	releaseCmd.Flags().DurationVar(&releaseTimeout, "timeout", 0, "Give up waiting after this long (0 waits forever)")
}

func runRelease(cmd *cobra.Command, args []string) error {
	delay := cfg.GetReleaseDelay()
	if cmd.Flags().Changed("delay") {
		delay = releaseDelay
	}
	log := logs.Get(logging.CategoryMode)

	if releaseWait > 0 {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if releaseTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, releaseTimeout)
			defer cancel()
		}

		if err := waitForWaiters(ctx, cfg.Kernel.StatsFile, releaseWait, cfg.GetPollInterval(), log); err != nil {
			return err
		}
	}

	t := yat.New(yat.WithConfig(cfg), yat.WithLogs(logs))
	defer t.Close()

	n, err := t.Release(delay)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Released %d real-time tasks.\n", n)
	return nil
}

// waitForWaiters polls the statistics source until want tasks wait for a
// release.
func waitForWaiters(ctx context.Context, statsFile string, want uint32, interval time.Duration, log *zap.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := ^uint32(0)
	for {
		n, err := mode.PendingWaiters(statsFile)
		if err != nil {
			return err
		}
		if n != last {
			log.Info("tasks ready for release", zap.Uint32("ready", n), zap.Uint32("want", want))
			last = n
		}
		if n >= want {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %d tasks (%d ready): %w", want, n, ctx.Err())
		case <-ticker.C:
		}
	}
}
