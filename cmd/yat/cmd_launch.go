package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"yatrt/internal/launch"
	"yatrt/internal/logging"
	"yatrt/internal/migration"
	"yatrt/internal/task"
	"yatrt/pkg/yat"
)

// launchCmd runs a program as a real-time task
var launchCmd = &cobra.Command{
	Use:   "launch [flags] BUDGET PERIOD -- PROGRAM [ARGS...]",
	Short: "Run a program as a real-time task",
	Long: `Configures this thread as a real-time task and replaces it with PROGRAM.

BUDGET and PERIOD are the task's parameters in milliseconds. Omit them when
attaching to an existing reservation with -r:

  yat launch -r VCPU [flags] -- PROGRAM [ARGS...]

The task is set up in this order: migration to the partition (-p), parameter
install, reservation (-R), real-time mode, synchronous release (-w).`,
	Args: cobra.MinimumNArgs(1),
	RunE: runLaunch,
}

func init() {
	launchFlags(launchCmd.Flags())
}

// launchFlags defines the launch flags on f. Flag parsing stops at PROGRAM so
// that its own flags are passed through.
func launchFlags(f *pflag.FlagSet) {
	f.SetInterspersed(false)
	f.StringP("class", "c", "", "Task class: be, srt or hrt (default from config)")
	f.StringP("deadline", "d", "", "Relative deadline in ms (default: the period)")
	f.BoolP("no-enforcement", "e", false, "Turn off budget enforcement (DANGEROUS: can result in lockup)")
	f.StringP("offset", "o", "0", "Offset (phase) in ms")
	f.IntP("partition", "p", launch.NoCluster, "Partition or cluster to assign the task to")
	f.IntP("priority", "q", 0, "Fixed priority, highest=1, lowest=511 (ignored by EDF plugins)")
	f.IntP("reservation", "r", task.NoReservation, "Virtual CPU or reservation to attach to")
	f.BoolP("create-reservation", "R", false, "Create a sporadic reservation for the task (VCPU=TID)")
	f.BoolP("print-tid", "v", false, "Print the task's thread id")
	f.BoolP("wait", "w", false, "Wait for the synchronous release")
}

// launchOptions reads the launch flags and positional arguments.
func launchOptions(f *pflag.FlagSet, args []string) (launch.Options, error) {
	o := launch.DefaultOptions()
	if cfg != nil {
		o.Class = cfg.DefaultClass()
		o.Enforce = cfg.Launch.EnforceBudget
	}

	if s, _ := f.GetString("class"); s != "" {
		cls, err := task.ParseClass(s)
		if err != nil {
			return o, &launch.UsageError{Msg: "Unknown task class."}
		}
		o.Class = cls
	}
	if s, _ := f.GetString("deadline"); s != "" {
		d, err := launch.PositiveMillis(s, "-d")
		if err != nil {
			return o, err
		}
		o.Deadline = d
	}
	if off, _ := f.GetBool("no-enforcement"); off {
		o.Enforce = false
	}
	if s, _ := f.GetString("offset"); s != "" {
		d, err := launch.Millis(s, "-o")
		if err != nil {
			return o, err
		}
		o.Offset = d
	}
	if f.Changed("partition") {
		p, _ := f.GetInt("partition")
		if p < 0 {
			return o, &launch.UsageError{Msg: "-p: expected a non-negative number"}
		}
		o.Cluster = p
	}
	if f.Changed("priority") {
		q, _ := f.GetInt("priority")
		prio := task.Priority(q)
		if q < 0 || !prio.Valid() {
			return o, &launch.UsageError{Msg: "Invalid priority."}
		}
		o.Priority = prio
	}
	if f.Changed("reservation") {
		r, _ := f.GetInt("reservation")
		if r < 0 {
			return o, &launch.UsageError{Msg: "-r: expected a non-negative number"}
		}
		o.Reservation = r
	}
	o.CreateReservation, _ = f.GetBool("create-reservation")
	o.Verbose, _ = f.GetBool("print-tid")
	o.Wait, _ = f.GetBool("wait")

	if err := o.SetPositional(args); err != nil {
		return o, err
	}
	return o, nil
}

func runLaunch(cmd *cobra.Command, args []string) error {
	opts, err := launchOptions(cmd.Flags(), args)
	if err != nil {
		return err
	}

	t := yat.New(yat.WithConfig(cfg), yat.WithLogs(logs))
	defer t.Close()

	l := launch.New(t, migration.NewDomains(cfg.Kernel.DomainsDir),
		launch.WithStdout(cmd.OutOrStdout()),
		launch.WithLogger(logs.Get(logging.CategoryLaunch)))
	return l.Run(opts)
}
