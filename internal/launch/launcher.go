package launch

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"yatrt/internal/reservation"
	"yatrt/internal/task"
)

// Runtime is the real-time interface of the launching thread.
type Runtime interface {
	TID() int
	Install(p task.Params) error
	CreateReservation(t reservation.Type, cfg reservation.Config) error
	EnterRealTime() error
	WaitForRelease() error
}

// Domains resolves and joins partitions.
type Domains interface {
	FirstCPU(domain int) (int, error)
	MigrateTo(domain int) error
}

// ExecFunc replaces the process image. It only returns on failure.
type ExecFunc func(argv0 string, argv []string, envv []string) error

// Plan is the setup sequence derived from Options.
type Plan struct {
	RunID       uuid.UUID
	Cluster     int
	Params      task.Params
	Reservation *reservation.Config
	Wait        bool
	Verbose     bool
	Program     string
	Argv        []string
}

// Launcher runs plans on the calling thread.
type Launcher struct {
	rt      Runtime
	domains Domains
	exec    ExecFunc
	stdout  io.Writer
	logger  *zap.Logger
}

// Option configures a Launcher.
type Option func(*Launcher)

// WithExec replaces unix.Exec.
func WithExec(fn ExecFunc) Option {
	return func(l *Launcher) { l.exec = fn }
}

// WithStdout sets where the thread id is printed in verbose mode.
func WithStdout(w io.Writer) Option {
	return func(l *Launcher) { l.stdout = w }
}

// WithLogger sets the launcher's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Launcher) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New returns a launcher for rt.
func New(rt Runtime, domains Domains, opts ...Option) *Launcher {
	l := &Launcher{
		rt:      rt,
		domains: domains,
		exec:    unix.Exec,
		stdout:  os.Stdout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Plan validates o and derives the setup sequence.
func (l *Launcher) Plan(o Options) (Plan, error) {
	if err := o.Validate(); err != nil {
		return Plan{}, err
	}

	p := task.Default()
	p.Budget = o.Budget
	p.Period = o.Period
	p.Deadline = o.Deadline
	p.Offset = o.Offset
	p.Class = o.Class
	p.Priority = o.Priority
	if !p.Priority.Set() {
		p.Priority = task.LowestPriority
	}
	if !o.Enforce {
		p.Policy = task.NoEnforcement
	}

	plan := Plan{
		RunID:   uuid.New(),
		Cluster: o.Cluster,
		Wait:    o.Wait,
		Verbose: o.Verbose,
		Program: o.Program,
		Argv:    append([]string{o.Program}, o.Args...),
	}

	cpu := task.AnyCPU
	if o.Cluster != NoCluster {
		first, err := l.domains.FirstCPU(o.Cluster)
		if err != nil {
			return Plan{}, fmt.Errorf("could not resolve partition %d: %w", o.Cluster, err)
		}
		cpu = first
	}
	p.CPU = cpu

	switch {
	case o.CreateReservation:
		id := l.rt.TID()
		p.Reservation = id
		rcpu := cpu
		if rcpu == task.AnyCPU {
			rcpu = 0
		}
		plan.Reservation = &reservation.Config{
			ID:       id,
			CPU:      rcpu,
			Priority: uint32(p.Priority),
			Budget:   p.Budget,
			Period:   p.Period,
			Offset:   p.Offset,
			Deadline: p.Deadline,
		}
	case o.Reservation != task.NoReservation:
		p.Reservation = o.Reservation
	}

	plan.Params = p
	return plan, nil
}

// Run executes the plan for o and replaces the process with the program. It
// returns only on failure.
func (l *Launcher) Run(o Options) error {
	plan, err := l.Plan(o)
	if err != nil {
		return err
	}
	return l.Execute(plan)
}

// Execute performs the setup steps of plan in order and then execs the
// program.
func (l *Launcher) Execute(plan Plan) error {
	log := l.logger.With(zap.String("run_id", plan.RunID.String()), zap.Int("tid", l.rt.TID()))
	log.Info("launching real-time task",
		zap.String("program", plan.Program),
		zap.Duration("budget", plan.Params.Budget),
		zap.Duration("period", plan.Params.Period),
		zap.Stringer("class", plan.Params.Class),
		zap.Int("cluster", plan.Cluster))

	signal.Ignore(unix.SIGUSR1)

	if plan.Cluster != NoCluster {
		if err := l.domains.MigrateTo(plan.Cluster); err != nil {
			return fmt.Errorf("could not migrate to target partition or cluster: %w", err)
		}
		log.Debug("migrated", zap.Int("cluster", plan.Cluster))
	}

	if err := l.rt.Install(plan.Params); err != nil {
		return fmt.Errorf("could not setup rt task params: %w", err)
	}

	if plan.Reservation != nil {
		if err := l.rt.CreateReservation(reservation.SporadicPolling, *plan.Reservation); err != nil {
			return fmt.Errorf("failed to create reservation: %w", err)
		}
		log.Debug("reservation created", zap.Int("id", plan.Reservation.ID))
	}

	if err := l.rt.EnterRealTime(); err != nil {
		return fmt.Errorf("could not become RT task: %w", err)
	}

	if plan.Verbose {
		fmt.Fprintf(l.stdout, "%d\n", l.rt.TID())
	}

	if plan.Wait {
		log.Debug("waiting for synchronous release")
		if err := l.rt.WaitForRelease(); err != nil {
			return fmt.Errorf("wait_for_ts_release(): %w", err)
		}
	}

	path, err := exec.LookPath(plan.Program)
	if err != nil && !errors.Is(err, exec.ErrDot) {
		return fmt.Errorf("cannot execute '%s': %w", plan.Program, err)
	}
	log.Info("executing", zap.String("path", path))
	if err := l.exec(path, plan.Argv, os.Environ()); err != nil {
		return fmt.Errorf("cannot execute '%s': %w", plan.Program, err)
	}
	return nil
}
