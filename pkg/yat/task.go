// Package yat is the public interface of the real-time task runtime. A Task
// binds one locked OS thread to its control device and exposes parameter
// installation, reservations, mode changes, synchronous release,
// non-preemptive sections and locking.
//
// A Task must be created, used and closed on the same goroutine:
//
//	t := yat.New()
//	defer t.Close()
//	if err := t.Install(params); err != nil { ... }
//	if err := t.EnterRealTime(); err != nil { ... }
package yat

import (
	"os"
	"runtime"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"yatrt/internal/config"
	"yatrt/internal/ctrlpage"
	"yatrt/internal/kernel"
	"yatrt/internal/locking"
	"yatrt/internal/logging"
	"yatrt/internal/mode"
	"yatrt/internal/reservation"
	"yatrt/internal/task"
)

// Re-exported so callers need not import internal packages.
type (
	Params            = task.Params
	Class             = task.Class
	Priority          = task.Priority
	BudgetPolicy      = task.BudgetPolicy
	ReservationType   = reservation.Type
	ReservationConfig = reservation.Config
	Protocol          = locking.Protocol
	Handle            = locking.Handle
	Job               = ctrlpage.Job
	Mode              = mode.State
	Stats             = mode.Stats
)

const (
	ClassHard       = task.ClassHard
	ClassSoft       = task.ClassSoft
	ClassBestEffort = task.ClassBestEffort

	SRP  = locking.SRP
	FMLP = locking.FMLP
	DFLP = locking.DFLP

	PeriodicPolling = reservation.PeriodicPolling
	SporadicPolling = reservation.SporadicPolling
)

// DefaultParams returns parameters with every optional field unset.
func DefaultParams() Params { return task.Default() }

// OnCPU binds a DFLP lock to its synchronization processor.
func OnCPU(cpu int) locking.OpenOption { return locking.OnCPU(cpu) }

type options struct {
	device    string
	statsFile string
	opener    kernel.Opener
	tid       int
	logs      *logging.Registry
	lockOS    bool
}

// Option configures a Task.
type Option func(*options)

// WithConfig takes the device and statistics locations from cfg.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) {
		o.device = cfg.Kernel.CtrlDevice
		o.statsFile = cfg.Kernel.StatsFile
	}
}

// WithDevice sets the control device path.
func WithDevice(path string) Option {
	return func(o *options) { o.device = path }
}

// WithStatsFile sets the statistics source path.
func WithStatsFile(path string) Option {
	return func(o *options) { o.statsFile = path }
}

// WithOpener replaces the control device with open, acting as thread tid.
// The calling goroutine is not locked to its OS thread.
func WithOpener(open kernel.Opener, tid int) Option {
	return func(o *options) {
		o.opener = open
		o.tid = tid
		o.lockOS = false
	}
}

// WithLogs derives the component loggers from r.
func WithLogs(r *logging.Registry) Option {
	return func(o *options) { o.logs = r }
}

// Task is the runtime state of one real-time thread. It is not safe for use
// by more than one goroutine.
type Task struct {
	tid       int
	statsFile string
	lockedOS  bool
	logger    *zap.Logger

	bridge       *kernel.Bridge
	np           *ctrlpage.Channel
	params       *task.Manager
	reservations *reservation.Manager
	mode         *mode.Controller
	locks        *locking.Client
	namespaces   []*os.File
}

// New returns a Task for the calling thread. Unless an opener is supplied the
// goroutine is locked to its OS thread until Close. Nothing is opened until an
// operation needs the kernel.
func New(opts ...Option) *Task {
	o := options{
		device:    kernel.DefaultControlDevice,
		statsFile: mode.DefaultStatsFile,
		lockOS:    true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logs == nil {
		o.logs = logging.NewRegistry(nil, config.LoggingConfig{})
	}

	if o.lockOS {
		runtime.LockOSThread()
		o.tid = kernel.ThreadID()
	}
	if o.opener == nil {
		o.opener = kernel.OpenControlDevice(o.device)
	}

	t := &Task{
		tid:       o.tid,
		statsFile: o.statsFile,
		lockedOS:  o.lockOS,
		logger:    o.logs.Get(logging.CategoryKernel).With(zap.Int("tid", o.tid)),
	}
	t.bridge = kernel.NewBridge(o.opener, kernel.WithLogger(t.logger))
	t.np = ctrlpage.New(t.bridge, ctrlpage.WithLogger(o.logs.Get(logging.CategoryCtrlPage)))

	t.params = task.NewManager(t.bridge, task.WithLogger(o.logs.Get(logging.CategoryTask)))
	t.reservations = reservation.NewManager(t.bridge,
		reservation.WithParams(t.params),
		reservation.WithLogger(o.logs.Get(logging.CategoryReservation)))
	task.WithReservations(t.reservations)(t.params)

	t.mode = mode.NewController(t.bridge, t.params, t.tid, mode.WithLogger(o.logs.Get(logging.CategoryMode)))
	t.locks = locking.NewClient(t.bridge,
		locking.WithGate(t.mode),
		locking.WithLogger(o.logs.Get(logging.CategoryLocking)))
	return t
}

// Attach opens the control device and maps the control page now rather than
// on first use.
func (t *Task) Attach() error {
	_, err := t.bridge.Attach()
	return err
}

// TID returns the task's thread id.
func (t *Task) TID() int { return t.tid }

// Mode returns the current execution mode.
func (t *Task) Mode() Mode { return t.mode.State() }

// Install validates p and installs it for this task. Parameters can only be
// changed in background mode.
func (t *Task) Install(p Params) error {
	if err := t.mode.Usable(kernel.OpSetTaskParams); err != nil {
		return err
	}
	if t.mode.State() == mode.RealTime {
		return &kernel.Error{
			Op:     kernel.OpSetTaskParams,
			Class:  kernel.ErrConfiguration,
			Reason: kernel.ErrInvalidState,
			Msg:    "parameters are fixed once the task is released",
		}
	}
	return t.params.Install(t.tid, p)
}

// Params reads back the parameters the kernel holds for this task.
func (t *Task) Params() (Params, error) {
	if err := t.mode.Usable(kernel.OpGetTaskParams); err != nil {
		return Params{}, err
	}
	return t.params.Fetch(t.tid)
}

// CreateReservation creates a reservation. A zero ID means the task's own
// thread id.
func (t *Task) CreateReservation(typ ReservationType, cfg ReservationConfig) error {
	if err := t.mode.Usable(kernel.OpReservationCreate); err != nil {
		return err
	}
	if cfg.ID == 0 {
		cfg.ID = t.tid
	}
	return t.reservations.Create(typ, cfg)
}

// EnterRealTime switches to real-time mode.
func (t *Task) EnterRealTime() error { return t.mode.EnterRealTime() }

// EnterBackground switches back to background mode. Held locks stay held.
func (t *Task) EnterBackground() error { return t.mode.EnterBackground() }

// WaitForRelease blocks until the next synchronous release.
func (t *Task) WaitForRelease() error { return t.mode.WaitForRelease() }

// Release releases every waiting task at now+delay and returns how many were
// released.
func (t *Task) Release(delay time.Duration) (int, error) {
	if err := t.mode.Usable(kernel.OpReleaseCohort); err != nil {
		return 0, err
	}
	return t.mode.Release(delay)
}

// Stats reads the kernel's statistics source.
func (t *Task) Stats() (Stats, error) {
	return mode.ReadStats(t.statsFile)
}

// PendingWaiters returns how many tasks wait for a synchronous release.
func (t *Task) PendingWaiters() (uint32, error) {
	return mode.PendingWaiters(t.statsFile)
}

// EnterNP opens a non-preemptive section. Sections nest.
func (t *Task) EnterNP() error {
	if err := t.mode.Usable(kernel.OpNone); err != nil {
		return err
	}
	return t.np.EnterNonPreemptive()
}

// ExitNP closes a non-preemptive section. Leaving the outermost section
// yields the processor if the kernel deferred a preemption. After Close it
// does nothing.
func (t *Task) ExitNP() {
	if t.mode.State() == mode.Terminated {
		return
	}
	t.np.ExitNonPreemptive()
}

// NonPreemptive runs fn inside a non-preemptive section.
func (t *Task) NonPreemptive(fn func() error) error {
	if err := t.mode.Usable(kernel.OpNone); err != nil {
		return err
	}
	return t.np.NonPreemptive(fn)
}

// PreemptionPending reports whether the kernel deferred a preemption. It is
// false after Close.
func (t *Task) PreemptionPending() bool {
	if t.mode.State() == mode.Terminated {
		return false
	}
	return t.np.PreemptionPending()
}

// Job returns the current job as published by the kernel.
func (t *Task) Job() (Job, error) {
	if err := t.mode.Usable(kernel.OpNone); err != nil {
		return Job{}, err
	}
	return t.np.Snapshot()
}

// OpenNamespace opens a lock namespace file. The task closes it on Close.
func (t *Task) OpenNamespace(path string) (*os.File, error) {
	f, err := locking.OpenNamespace(path)
	if err != nil {
		return nil, err
	}
	t.namespaces = append(t.namespaces, f)
	return f, nil
}

// OpenLock opens resource id of protocol p in namespace ns.
func (t *Task) OpenLock(p Protocol, ns *os.File, resource int, opts ...locking.OpenOption) (Handle, error) {
	return t.locks.Open(p, ns, resource, opts...)
}

// Lock blocks until h is granted.
func (t *Task) Lock(h Handle) error { return t.locks.Acquire(h) }

// Unlock releases h.
func (t *Task) Unlock(h Handle) error { return t.locks.Release(h) }

// CloseLock drops h.
func (t *Task) CloseLock(h Handle) error { return t.locks.Close(h) }

// Close terminates the task, closes its device and namespace files and
// unlocks the OS thread. Locks still held are reclaimed by the kernel.
func (t *Task) Close() error {
	if t.mode.State() == mode.Terminated {
		return nil
	}
	t.mode.Terminate()

	err := t.bridge.Close()
	for _, f := range t.namespaces {
		err = multierr.Append(err, f.Close())
	}
	t.namespaces = nil

	if t.lockedOS {
		runtime.UnlockOSThread()
	}
	if err != nil {
		t.logger.Warn("task teardown failed", zap.Error(err))
	}
	return err
}
