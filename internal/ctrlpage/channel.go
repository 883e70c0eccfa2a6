// Package ctrlpage implements the task side of the control page: a page of
// memory shared with the kernel scheduler that carries the non-preemptive
// section flag and the current job's timing without a system call.
package ctrlpage

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"yatrt/internal/kernel"
)

// Source supplies the control page of one execution context.
type Source interface {
	// Page returns the control page, mapping it first if needed.
	Page() ([]byte, error)
	// MappedPage returns the control page only if it is already mapped.
	MappedPage() []byte
}

// Channel is the task's side of the control page. It is owned by the thread
// that created its Source and is not safe for use from any other thread.
// It holds no pointer into the page of its own: once the Source unmaps the
// page, every read sees an unmapped channel.
type Channel struct {
	src    Source
	yield  func()
	logger *zap.Logger
}

// Option configures a Channel.
type Option func(*Channel)

// WithYield replaces the scheduler yield used to honor a deferred preemption.
func WithYield(fn func()) Option {
	return func(c *Channel) {
		if fn != nil {
			c.yield = fn
		}
	}
}

// WithLogger sets the logger that reports an unmapped page.
func WithLogger(l *zap.Logger) Option {
	return func(c *Channel) {
		if l != nil {
			c.logger = l
		}
	}
}

// New returns a channel over src.
func New(src Source, opts ...Option) *Channel {
	c := &Channel{src: src, yield: kernel.Yield, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// attach maps the page if it is not mapped yet.
func (c *Channel) attach() (*page, error) {
	mem, err := c.src.Page()
	if err != nil {
		return nil, err
	}
	p, err := view(mem)
	if err != nil {
		return nil, kernel.Unavailablef(kernel.OpNone, "%v", err)
	}
	return p, nil
}

// current returns the page if it is already mapped, without mapping it.
func (c *Channel) current() *page {
	mem := c.src.MappedPage()
	if mem == nil {
		return nil
	}
	p, err := view(mem)
	if err != nil {
		return nil
	}
	return p
}

// EnterNonPreemptive opens a non-preemptive section. Sections nest. When the
// page cannot be mapped the section is not entered and the error is returned;
// whether that is fatal is the caller's decision.
func (c *Channel) EnterNonPreemptive() error {
	p, err := c.attach()
	if err != nil {
		c.logger.Warn("enter_np: control page not mapped", zap.Error(err))
		return err
	}
	if atomic.LoadUint32(&p.Sched)&npFlagMask == npFlagMask {
		return &kernel.Error{Class: kernel.ErrConfiguration, Reason: kernel.ErrInvalidState, Msg: "non-preemptive sections nested too deeply"}
	}
	atomic.AddUint32(&p.Sched, 1)
	return nil
}

// ExitNonPreemptive closes the innermost non-preemptive section. Closing the
// outermost one checks for a preemption the kernel deferred meanwhile and, if
// there is one, yields once. Without an open section it does nothing.
func (c *Channel) ExitNonPreemptive() {
	p := c.current()
	if p == nil {
		return
	}
	for {
		old := atomic.LoadUint32(&p.Sched)
		if old&npFlagMask == 0 {
			return
		}
		if atomic.CompareAndSwapUint32(&p.Sched, old, old-1) {
			if (old-1)&npFlagMask != 0 {
				return
			}
			break
		}
	}
	// The CAS is a full barrier: a preempt bit the kernel set before the
	// decrement became visible is observed by this load.
	if atomic.LoadUint32(&p.Sched)&npPreempt != 0 {
		c.yield()
	}
}

// NonPreemptive runs fn inside a non-preemptive section and closes the
// section on every return path, including a panic in fn.
func (c *Channel) NonPreemptive(fn func() error) error {
	if err := c.EnterNonPreemptive(); err != nil {
		return err
	}
	defer c.ExitNonPreemptive()
	return fn()
}

// PreemptionPending reports whether the kernel deferred a preemption. It is
// false while the page is not mapped.
func (c *Channel) PreemptionPending() bool {
	p := c.current()
	return p != nil && atomic.LoadUint32(&p.Sched)&npPreempt != 0
}

// Depth returns the current non-preemptive nesting depth.
func (c *Channel) Depth() uint32 {
	p := c.current()
	if p == nil {
		return 0
	}
	return atomic.LoadUint32(&p.Sched) & npFlagMask
}

// Job is a snapshot of the kernel-written part of the control page. Times are
// on the kernel's clock.
type Job struct {
	Index           uint32
	Release         time.Duration
	Deadline        time.Duration
	IRQCount        uint64
	TSSyscallStart  time.Duration
	IRQSyscallStart uint64
}

// Snapshot reads the current job's timing, mapping the page if needed.
func (c *Channel) Snapshot() (Job, error) {
	p, err := c.attach()
	if err != nil {
		return Job{}, err
	}
	return Job{
		Index:           atomic.LoadUint32(&p.JobIndex),
		Release:         time.Duration(atomic.LoadUint64(&p.Release)),
		Deadline:        time.Duration(atomic.LoadUint64(&p.Deadline)),
		IRQCount:        atomic.LoadUint64(&p.IRQCount),
		TSSyscallStart:  time.Duration(atomic.LoadUint64(&p.TSSyscallStart)),
		IRQSyscallStart: atomic.LoadUint64(&p.IRQSyscallStart),
	}, nil
}
