// Package reservation creates CPU-time reservations that tasks draw their
// budget from.
package reservation

import (
	"fmt"
	"runtime"
	"time"
	"unsafe"

	"go.uber.org/zap"

	"yatrt/internal/kernel"
)

// Type is the kind of reservation server.
type Type uint32

const (
	PeriodicPolling Type = iota + 1
	SporadicPolling
)

func (t Type) String() string {
	switch t {
	case PeriodicPolling:
		return "periodic-polling"
	case SporadicPolling:
		return "sporadic-polling"
	default:
		return fmt.Sprintf("type(%d)", uint32(t))
	}
}

// Config describes a polling reservation. ID equals the creating thread's id
// for self-created reservations.
type Config struct {
	ID       int
	CPU      int
	Priority uint32

	Budget   time.Duration
	Period   time.Duration
	Offset   time.Duration
	Deadline time.Duration
}

// Invoker issues kernel operations.
type Invoker interface {
	Invoke(op kernel.Op, arg uintptr) (int64, error)
}

// ParamLookup reports the partition of a task, installed by the same
// execution context, that attaches to a reservation.
type ParamLookup interface {
	AttachedCPU(id int) (cpu int, ok bool)
}

// Manager creates reservations and remembers their target CPUs.
type Manager struct {
	k       Invoker
	params  ParamLookup
	logger  *zap.Logger
	created map[int]Config
}

// Option configures a Manager.
type Option func(*Manager)

// WithParams lets Create reject a CPU that disagrees with the partition the
// owning task was installed on.
func WithParams(p ParamLookup) Option {
	return func(m *Manager) { m.params = p }
}

// WithLogger sets the manager's logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager returns a manager issuing requests through k.
func NewManager(k Invoker, opts ...Option) *Manager {
	m := &Manager{k: k, logger: zap.NewNop(), created: make(map[int]Config)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create asks the kernel for a reservation of type t. Only the presence of the
// required fields is checked locally; plausibility is the kernel's call.
func (m *Manager) Create(t Type, cfg Config) error {
	switch {
	case t != PeriodicPolling && t != SporadicPolling:
		return kernel.Configf(kernel.OpReservationCreate, "unknown reservation type %d", uint32(t))
	case cfg.ID <= 0:
		return kernel.Configf(kernel.OpReservationCreate, "reservation id is required")
	case cfg.CPU < 0:
		return kernel.Configf(kernel.OpReservationCreate, "reservation cpu is required")
	case cfg.Budget <= 0 || cfg.Period <= 0:
		return kernel.Configf(kernel.OpReservationCreate, "reservation budget and period are required")
	}
	if m.params != nil {
		if cpu, ok := m.params.AttachedCPU(cfg.ID); ok && cpu != cfg.CPU {
			return kernel.Configf(kernel.OpReservationCreate,
				"reservation %d targets cpu %d but an attached task is assigned to cpu %d", cfg.ID, cfg.CPU, cpu)
		}
	}

	abi := kernel.ReservationABI{
		Type:             uint32(t),
		ID:               uint32(cfg.ID),
		Priority:         uint64(cfg.Priority),
		CPU:              int32(cfg.CPU),
		Period:           uint64(cfg.Period),
		Budget:           uint64(cfg.Budget),
		RelativeDeadline: uint64(cfg.Deadline),
		Offset:           uint64(cfg.Offset),
	}
	_, err := m.k.Invoke(kernel.OpReservationCreate, uintptr(unsafe.Pointer(&abi)))
	runtime.KeepAlive(&abi)
	if err != nil {
		m.logger.Warn("reservation rejected", zap.Int("id", cfg.ID), zap.Error(err))
		return err
	}

	m.created[cfg.ID] = cfg
	m.logger.Debug("reservation created",
		zap.Stringer("type", t),
		zap.Int("id", cfg.ID),
		zap.Int("cpu", cfg.CPU),
		zap.Duration("budget", cfg.Budget),
		zap.Duration("period", cfg.Period))
	return nil
}

// ReservationCPU returns the target CPU of a reservation created here.
func (m *Manager) ReservationCPU(id int) (int, bool) {
	cfg, ok := m.created[id]
	if !ok {
		return 0, false
	}
	return cfg.CPU, true
}
