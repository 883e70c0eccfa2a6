// Package locking is the client side of the kernel's real-time locking
// protocols. Ownership is tracked by the kernel; the client keeps no lock
// state of its own and never releases a lock on the caller's behalf.
package locking

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"unsafe"

	"go.uber.org/zap"

	"yatrt/internal/kernel"
)

// Protocol is a kernel-arbitrated locking protocol.
type Protocol uint32

const (
	// FMLP is the Flexible Multiprocessor Locking Protocol.
	FMLP Protocol = iota
	// SRP is the Stack Resource Policy.
	SRP
	// DFLP is the Distributed FIFO Locking Protocol; requests execute on a
	// synchronization processor.
	DFLP Protocol = 9
)

func (p Protocol) String() string {
	switch p {
	case FMLP:
		return "fmlp"
	case SRP:
		return "srp"
	case DFLP:
		return "dflp"
	default:
		return fmt.Sprintf("protocol(%d)", uint32(p))
	}
}

// ParseProtocol accepts fmlp, srp and dflp.
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fmlp":
		return FMLP, nil
	case "srp":
		return SRP, nil
	case "dflp":
		return DFLP, nil
	}
	return 0, fmt.Errorf("unknown locking protocol %q", s)
}

// NeedsCPU reports whether objects of p are bound to a processor.
func (p Protocol) NeedsCPU() bool { return p == DFLP }

// Handle is an open lock object. It is only meaningful to the task that
// opened it.
type Handle struct {
	open     bool
	od       int
	protocol Protocol
	resource int
	cpu      int
}

// Valid reports whether h came from a successful Open.
func (h Handle) Valid() bool { return h.open }

// Protocol returns the handle's protocol.
func (h Handle) Protocol() Protocol { return h.protocol }

// Resource returns the resource id within the namespace file.
func (h Handle) Resource() int { return h.resource }

// CPU returns the synchronization processor, or kernel.NoCPU.
func (h Handle) CPU() int { return h.cpu }

func (h Handle) String() string {
	if h.cpu == kernel.NoCPU {
		return fmt.Sprintf("%s/%d#%d", h.protocol, h.resource, h.od)
	}
	return fmt.Sprintf("%s/%d@cpu%d#%d", h.protocol, h.resource, h.cpu, h.od)
}

// Invoker issues kernel operations.
type Invoker interface {
	Invoke(op kernel.Op, arg uintptr) (int64, error)
}

// Gate refuses lock operations once the owning task is terminated.
type Gate interface {
	Usable(op kernel.Op) error
}

// Client issues lock requests for one task.
type Client struct {
	k      Invoker
	gate   Gate
	logger *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithGate sets the gate consulted before every request.
func WithGate(g Gate) Option {
	return func(c *Client) { c.gate = g }
}

// WithLogger sets the client's logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient returns a client issuing requests through k.
func NewClient(k Invoker, opts ...Option) *Client {
	c := &Client{k: k, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) check(op kernel.Op) error {
	if c.gate == nil {
		return nil
	}
	return c.gate.Usable(op)
}

// OpenOption configures Open.
type OpenOption func(*kernel.ObjOpenABI)

// OnCPU binds the object to a synchronization processor. The kernel validates
// the value.
func OnCPU(cpu int) OpenOption {
	return func(a *kernel.ObjOpenABI) { a.CPU = int32(cpu) }
}

// Open opens resource id of protocol p in the namespace file ns. A task whose
// class may not use p gets kernel.ErrPermission.
func (c *Client) Open(p Protocol, ns *os.File, resource int, opts ...OpenOption) (Handle, error) {
	if err := c.check(kernel.OpObjOpen); err != nil {
		return Handle{}, err
	}
	if ns == nil {
		return Handle{}, kernel.Configf(kernel.OpObjOpen, "lock namespace file is required")
	}
	if resource < 0 {
		return Handle{}, kernel.Configf(kernel.OpObjOpen, "negative resource id %d", resource)
	}

	abi := kernel.ObjOpenABI{Type: uint32(p), FD: int32(ns.Fd()), ID: uint32(resource), CPU: kernel.NoCPU}
	for _, opt := range opts {
		opt(&abi)
	}
	if p.NeedsCPU() && abi.CPU == kernel.NoCPU {
		return Handle{}, kernel.Configf(kernel.OpObjOpen, "%s requires a cpu", p)
	}

	od, err := c.k.Invoke(kernel.OpObjOpen, uintptr(unsafe.Pointer(&abi)))
	runtime.KeepAlive(&abi)
	runtime.KeepAlive(ns)
	if err != nil {
		c.logger.Debug("lock open refused", zap.Stringer("protocol", p), zap.Int("resource", resource), zap.Error(err))
		return Handle{}, err
	}
	h := Handle{open: true, od: int(od), protocol: p, resource: resource, cpu: int(abi.CPU)}
	c.logger.Debug("lock opened", zap.Stringer("handle", h))
	return h, nil
}

// Acquire blocks until the kernel grants h. It cannot be cancelled. Acquiring
// a handle the caller already holds is not supported.
func (c *Client) Acquire(h Handle) error {
	if err := c.check(kernel.OpLock); err != nil {
		return err
	}
	if !h.open {
		return notOpen(kernel.OpLock, kernel.ErrConfiguration)
	}
	_, err := c.k.Invoke(kernel.OpLock, uintptr(h.od))
	return err
}

// Release gives up h. Releasing a lock the caller does not hold fails with
// kernel.ErrOwnership.
func (c *Client) Release(h Handle) error {
	if err := c.check(kernel.OpUnlock); err != nil {
		return err
	}
	if !h.open {
		return notOpen(kernel.OpUnlock, kernel.ErrOwnership)
	}
	_, err := c.k.Invoke(kernel.OpUnlock, uintptr(h.od))
	if err != nil {
		return ownership(err)
	}
	return nil
}

// Close drops the descriptor. Release the lock before closing it.
func (c *Client) Close(h Handle) error {
	if err := c.check(kernel.OpObjClose); err != nil {
		return err
	}
	if !h.open {
		return notOpen(kernel.OpObjClose, kernel.ErrOwnership)
	}
	_, err := c.k.Invoke(kernel.OpObjClose, uintptr(h.od))
	return err
}

// ownership reports an unlock the kernel refused as invalid as an ownership
// error.
func ownership(err error) error {
	if !errors.Is(err, kernel.ErrInvalidArgument) {
		return err
	}
	return kernel.Reclassify(err, kernel.ErrOwnership, kernel.ErrInvalidArgument)
}

func notOpen(op kernel.Op, class error) error {
	return &kernel.Error{Op: op, Class: class, Reason: kernel.ErrInvalidArgument, Msg: "lock was never opened"}
}
