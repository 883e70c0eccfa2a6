// Package launch turns a program into a real-time task: it migrates to the
// requested partition, installs the task's parameters, optionally creates a
// reservation, enters real-time mode, optionally waits for the synchronous
// release and finally replaces itself with the program.
package launch

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"yatrt/internal/task"
)

// NoCluster means the launcher stays where it is scheduled.
const NoCluster = -1

// dummyBudget is installed when the task only draws from an existing
// reservation and its own budget and period are irrelevant.
const dummyBudget = 100 * time.Millisecond

// UsageError is a malformed command line.
type UsageError struct {
	Msg string
}

func (e *UsageError) Error() string { return e.Msg }

func usagef(format string, args ...any) error {
	return &UsageError{Msg: fmt.Sprintf(format, args...)}
}

// Options is a parsed launch request.
type Options struct {
	Budget   time.Duration
	Period   time.Duration
	Deadline time.Duration // zero means the period
	Offset   time.Duration

	Class    task.Class
	Enforce  bool
	Priority task.Priority

	Cluster           int // partition or cluster, NoCluster if unset
	Reservation       int // reservation to attach to, task.NoReservation if unset
	CreateReservation bool

	Verbose bool
	Wait    bool

	Program string
	Args    []string
}

// DefaultOptions returns the launcher defaults: soft real-time, budget
// enforced, no priority, no partition and no reservation.
func DefaultOptions() Options {
	return Options{
		Class:       task.ClassSoft,
		Enforce:     true,
		Priority:    task.NoPriority,
		Cluster:     NoCluster,
		Reservation: task.NoReservation,
	}
}

// Attaching reports whether the task attaches to an existing reservation, in
// which case no budget and period are given.
func (o *Options) Attaching() bool {
	return o.Reservation != task.NoReservation && !o.CreateReservation
}

// SetPositional consumes BUDGET PERIOD [--] PROGRAM [ARGS...], or only
// [--] PROGRAM [ARGS...] when attaching to a reservation.
func (o *Options) SetPositional(args []string) error {
	if o.Attaching() {
		o.Budget, o.Period = dummyBudget, dummyBudget
	} else {
		if len(args) < 2 {
			return usagef("Arguments missing.")
		}
		var err error
		if o.Budget, err = PositiveMillis(args[0], "BUDGET"); err != nil {
			return err
		}
		if o.Period, err = PositiveMillis(args[1], "PERIOD"); err != nil {
			return err
		}
		args = args[2:]
	}
	if len(args) > 0 && args[0] == "--" {
		args = args[1:]
	}
	if len(args) < 1 {
		return usagef("Argument missing.")
	}
	o.Program = args[0]
	o.Args = args[1:]
	return nil
}

// Validate checks the options as a whole.
func (o *Options) Validate() error {
	if o.Program == "" {
		return usagef("Argument missing.")
	}
	if o.Budget > o.Period {
		return usagef("The worst-case execution time must not exceed the period.")
	}
	if o.Priority != task.NoPriority && !o.Priority.Valid() {
		return usagef("Invalid priority.")
	}
	if o.Deadline < 0 || o.Offset < 0 {
		return usagef("Deadline and offset must not be negative.")
	}
	return nil
}

// Millis parses a non-negative number of milliseconds.
func Millis(s, name string) (time.Duration, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, usagef("%s: expected a non-negative number, got %q", name, s)
	}
	return time.Duration(v * float64(time.Millisecond)), nil
}

// PositiveMillis parses a positive number of milliseconds.
func PositiveMillis(s, name string) (time.Duration, error) {
	d, err := Millis(s, name)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, usagef("%s: expected a positive number, got %q", name, s)
	}
	return d, nil
}
