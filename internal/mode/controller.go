// Package mode moves a task between background and real-time execution and
// synchronizes task cohorts on a common release.
package mode

import (
	"errors"
	"runtime"
	"time"
	"unsafe"

	"go.uber.org/zap"

	"yatrt/internal/kernel"
)

// State is a task's execution mode.
type State uint8

const (
	Background State = iota
	RealTime
	Terminated
)

func (s State) String() string {
	switch s {
	case Background:
		return "background"
	case RealTime:
		return "real-time"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Invoker issues kernel operations.
type Invoker interface {
	Invoke(op kernel.Op, arg uintptr) (int64, error)
}

// ParamsChecker reports whether task parameters were installed for a task.
type ParamsChecker interface {
	IsInstalled(tid int) bool
}

// Controller is the mode state machine of one task. Like the rest of an
// execution context it is used from one thread only.
type Controller struct {
	k      Invoker
	params ParamsChecker
	tid    int
	logger *zap.Logger
	state  State
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller's logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewController returns a controller for task tid in Background mode.
func NewController(k Invoker, params ParamsChecker, tid int, opts ...Option) *Controller {
	c := &Controller{k: k, params: params, tid: tid, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current mode.
func (c *Controller) State() State { return c.state }

// Usable fails once the task is terminated.
func (c *Controller) Usable(op kernel.Op) error {
	if c.state == Terminated {
		return &kernel.Error{Op: op, Class: kernel.ErrConfiguration, Reason: kernel.ErrTerminated}
	}
	return nil
}

// EnterRealTime switches the task to real-time mode. Parameters must have been
// installed; a refusal by the kernel's admission control is reported as
// kernel.ErrAdmissionRejected.
func (c *Controller) EnterRealTime() error {
	switch c.state {
	case RealTime:
		return nil
	case Terminated:
		return c.Usable(kernel.OpTaskMode)
	}
	if c.params == nil || !c.params.IsInstalled(c.tid) {
		return &kernel.Error{Op: kernel.OpTaskMode, Class: kernel.ErrConfiguration, Reason: kernel.ErrNotConfigured}
	}

	if _, err := c.k.Invoke(kernel.OpTaskMode, kernel.ModeRealTime); err != nil {
		if isAdmission(err) {
			err = kernel.Reclassify(err, kernel.ErrKernelRejection, kernel.ErrAdmissionRejected)
		}
		c.logger.Warn("real-time mode refused", zap.Int("tid", c.tid), zap.Error(err))
		return err
	}
	c.state = RealTime
	c.logger.Info("entered real-time mode", zap.Int("tid", c.tid))
	return nil
}

func isAdmission(err error) bool {
	return errors.Is(err, kernel.ErrInvalidArgument) ||
		errors.Is(err, kernel.ErrPermission) ||
		errors.Is(err, kernel.ErrBusy)
}

// EnterBackground switches a real-time task back to background mode. Locks
// held across the switch stay held; the kernel owns that transition.
func (c *Controller) EnterBackground() error {
	switch c.state {
	case Background:
		return nil
	case Terminated:
		return c.Usable(kernel.OpTaskMode)
	}
	if _, err := c.k.Invoke(kernel.OpTaskMode, kernel.ModeBackground); err != nil {
		c.logger.Warn("background mode refused", zap.Int("tid", c.tid), zap.Error(err))
		return err
	}
	c.state = Background
	c.logger.Info("entered background mode", zap.Int("tid", c.tid))
	return nil
}

// Terminate marks the task terminated. The kernel reclaims its locks and
// reservations when the thread exits; nothing is released here.
func (c *Controller) Terminate() {
	c.state = Terminated
}

// WaitForRelease suspends the calling thread until the next synchronous
// release. It cannot be cancelled. When no release is pending the kernel
// returns at once.
func (c *Controller) WaitForRelease() error {
	if err := c.Usable(kernel.OpWaitForRelease); err != nil {
		return err
	}
	c.logger.Debug("waiting for synchronous release", zap.Int("tid", c.tid))
	if _, err := c.k.Invoke(kernel.OpWaitForRelease, 0); err != nil {
		return err
	}
	c.logger.Debug("released", zap.Int("tid", c.tid))
	return nil
}

// Release releases every task waiting in WaitForRelease at now+delay and
// returns how many were released.
func (c *Controller) Release(delay time.Duration) (int, error) {
	if delay < 0 {
		return 0, kernel.Configf(kernel.OpReleaseCohort, "negative release delay %s", delay)
	}
	abi := kernel.ReleaseABI{Delay: uint64(delay)}
	n, err := c.k.Invoke(kernel.OpReleaseCohort, uintptr(unsafe.Pointer(&abi)))
	runtime.KeepAlive(&abi)
	if err != nil {
		return 0, err
	}
	c.logger.Info("released task cohort", zap.Int64("tasks", n), zap.Duration("delay", delay))
	return int(n), nil
}
