package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"yatrt/internal/ctrlpage"
	"yatrt/internal/logging"
	"yatrt/internal/mode"
	"yatrt/pkg/yat"
)

// statsCmd shows the scheduler's task counts
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show real-time task statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := mode.ReadStats(cfg.Kernel.StatsFile)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		printTitle(w, "Real-time tasks")
		printRow(w, "real-time tasks", st.RealTimeTasks)
		printRow(w, "ready for release", st.ReadyForRelease)
		return nil
	},
}

// checkCmd verifies that this build can talk to the kernel
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the control page layout and the kernel interfaces",
	Args:  cobra.NoArgs,
	RunE:  runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()
	printTitle(w, "yat check")

	var failed int
	check := func(label string, err error) {
		if err != nil {
			failed++
		}
		printCheck(w, label, err)
	}

	check(fmt.Sprintf("ctrl page layout v%d", ctrlpage.LayoutVersion), ctrlpage.CheckLayout(ctrlpage.Offsets))

	t := yat.New(yat.WithConfig(cfg), yat.WithLogs(logs))
	defer t.Close()
	attachErr := t.Attach()
	check("control device", attachErr)
	if attachErr == nil {
		_, err := t.Job()
		check("control page", err)
	}

	_, err := mode.ReadStats(cfg.Kernel.StatsFile)
	check("statistics", err)

	_, err = os.Stat(cfg.Kernel.DomainsDir)
	check("domains", err)

	fmt.Fprintln(w)
	printTitle(w, "Logging")
	for _, c := range logging.Categories {
		level := "warnings"
		switch {
		case !cfg.Logging.IsCategoryEnabled(string(c)):
			level = "off"
		case logs.Enabled(c):
			level = "verbose"
		}
		printRow(w, string(c), level)
	}

	if failed > 0 {
		return fmt.Errorf("%d checks failed", failed)
	}
	return nil
}
