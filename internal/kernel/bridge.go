// Package kernel is the boundary between the runtime and the real-time
// scheduler. All kernel operations go through a single request entry point on
// the control device; failures come back as typed *Error values.
package kernel

import (
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// DefaultControlDevice is the character device that carries kernel requests and
// backs the control page.
const DefaultControlDevice = "/dev/yat/ctrl"

// ControlPages is the number of pages mapped from the control device.
const ControlPages = 1

// Device is one execution context's open handle on the control device.
//
// Ioctl returns a unix.Errno on failure. Page returns the mapped control page.
type Device interface {
	Ioctl(op Op, arg uintptr) (int64, error)
	Page() []byte
	Close() error
}

// Opener opens the control device for the calling thread.
type Opener func() (Device, error)

// State is the mapping state of a Bridge.
type State uint8

const (
	Unmapped State = iota
	Mapped
	Failed
	Closed
)

func (s State) String() string {
	switch s {
	case Unmapped:
		return "unmapped"
	case Mapped:
		return "mapped"
	case Failed:
		return "failed"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Bridge translates typed operations into control device requests for one
// execution context. The device is opened and the control page mapped on first
// use. A Bridge belongs to a single OS thread and must not be shared.
type Bridge struct {
	open   Opener
	logger *zap.Logger

	state State
	dev   Device
	err   error
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger used to report mapping failures.
func WithLogger(l *zap.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBridge returns an unmapped bridge that opens the device with open.
func NewBridge(open Opener, opts ...Option) *Bridge {
	b := &Bridge{open: open, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// State reports the current mapping state.
func (b *Bridge) State() State { return b.state }

// Err returns the error of the last failed mapping attempt.
func (b *Bridge) Err() error { return b.err }

// Attach establishes the mapping unless it already exists. After a failure the
// next call tries again exactly once.
func (b *Bridge) Attach() (Device, error) {
	switch b.state {
	case Mapped:
		return b.dev, nil
	case Closed:
		return nil, &Error{Class: ErrUnavailable, Reason: ErrTerminated, Msg: "control device closed"}
	}

	dev, err := b.open()
	if err != nil {
		if !errors.Is(err, ErrUnavailable) {
			err = &Error{Class: ErrUnavailable, Msg: err.Error()}
		}
		b.state = Failed
		b.err = err
		b.logger.Warn("control page not mapped", zap.Error(err))
		return nil, err
	}

	b.state = Mapped
	b.dev = dev
	b.err = nil
	b.logger.Debug("control page mapped", zap.Int("bytes", len(dev.Page())))
	return dev, nil
}

// Invoke issues op with arg and returns the non-negative kernel result.
func (b *Bridge) Invoke(op Op, arg uintptr) (int64, error) {
	dev, err := b.Attach()
	if err != nil {
		return 0, withOp(op, err)
	}

	ret, err := dev.Ioctl(op, arg)
	if err != nil {
		var errno unix.Errno
		if errors.As(err, &errno) {
			return 0, FromErrno(op, errno)
		}
		return 0, &Error{Op: op, Class: ErrKernelRejection, Msg: err.Error()}
	}
	if ret < 0 {
		return 0, FromErrno(op, unix.Errno(-ret))
	}
	return ret, nil
}

// Page returns the mapped control page, mapping it first if needed.
func (b *Bridge) Page() ([]byte, error) {
	dev, err := b.Attach()
	if err != nil {
		return nil, err
	}
	return dev.Page(), nil
}

// MappedPage returns the control page only if it is already mapped.
func (b *Bridge) MappedPage() []byte {
	if b.state != Mapped {
		return nil
	}
	return b.dev.Page()
}

// Close releases the device. The kernel tears down the mapping and any state
// attached to it; Close does not issue requests on the caller's behalf.
func (b *Bridge) Close() error {
	if b.state == Closed {
		return nil
	}
	var err error
	if b.dev != nil {
		err = b.dev.Close()
		b.dev = nil
	}
	b.state = Closed
	return err
}

func withOp(op Op, err error) error {
	var ke *Error
	if !errors.As(err, &ke) {
		return &Error{Op: op, Class: ErrUnavailable, Msg: err.Error()}
	}
	return &Error{Op: op, Class: ke.Class, Reason: ke.Reason, Msg: ke.Msg}
}
