package task

import (
	"runtime"
	"time"
	"unsafe"

	"go.uber.org/zap"

	"yatrt/internal/kernel"
)

// Invoker issues kernel operations.
type Invoker interface {
	Invoke(op kernel.Op, arg uintptr) (int64, error)
}

// ReservationLookup reports the target CPU of reservations created by the
// same execution context.
type ReservationLookup interface {
	ReservationCPU(id int) (cpu int, ok bool)
}

// Manager installs task parameters through the kernel and remembers what was
// installed for each task identity.
type Manager struct {
	k            Invoker
	reservations ReservationLookup
	logger       *zap.Logger
	installed    map[int]Params
}

// Option configures a Manager.
type Option func(*Manager)

// WithReservations lets Install reject a CPU that disagrees with the
// reservation the task attaches to.
func WithReservations(r ReservationLookup) Option {
	return func(m *Manager) { m.reservations = r }
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
	m := &Manager{k: k, logger: zap.NewNop(), installed: make(map[int]Params)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Install validates p and installs it for the task tid. Invalid parameters
// fail with kernel.ErrConfiguration before any kernel request is made.
func (m *Manager) Install(tid int, p Params) error {
	if err := p.Validate(); err != nil {
		return kernel.Configf(kernel.OpSetTaskParams, "%v", err)
	}
	if err := m.reconcile(p); err != nil {
		return err
	}

	p.Deadline = p.EffectiveDeadline()
	abi := p.abi(tid)
	_, err := m.k.Invoke(kernel.OpSetTaskParams, uintptr(unsafe.Pointer(&abi)))
	runtime.KeepAlive(&abi)
	if err != nil {
		m.logger.Warn("task parameters rejected", zap.Int("tid", tid), zap.Error(err))
		return err
	}

	m.installed[tid] = p
	m.logger.Debug("task parameters installed",
		zap.Int("tid", tid),
		zap.Duration("budget", p.Budget),
		zap.Duration("period", p.Period),
		zap.Duration("deadline", p.Deadline),
		zap.Stringer("class", p.Class),
		zap.Stringer("priority", p.Priority))
	return nil
}

func (m *Manager) reconcile(p Params) error {
	if m.reservations == nil || p.Reservation == NoReservation || p.CPU == AnyCPU {
		return nil
	}
	cpu, ok := m.reservations.ReservationCPU(p.Reservation)
	if ok && cpu != p.CPU {
		return kernel.Configf(kernel.OpSetTaskParams,
			"task assigned to cpu %d but reservation %d targets cpu %d", p.CPU, p.Reservation, cpu)
	}
	return nil
}

// lookup returns the parameters installed for tid, with the deadline resolved.
func (m *Manager) lookup(tid int) (Params, bool) {
	p, ok := m.installed[tid]
	return p, ok
}

// IsInstalled reports whether parameters were installed for tid.
func (m *Manager) IsInstalled(tid int) bool {
	_, ok := m.lookup(tid)
	return ok
}

// AttachedCPU returns the partition of a task installed to draw from
// reservation id, if such a task was assigned one.
func (m *Manager) AttachedCPU(id int) (int, bool) {
	for _, p := range m.installed {
		if p.Reservation == id && p.CPU != AnyCPU {
			return p.CPU, true
		}
	}
	return 0, false
}

// Fetch reads back the parameters the kernel holds for tid. The kernel does
// not distinguish a partition from a reservation id; Fetch reports the value
// as CPU unless this manager installed a reservation for tid.
func (m *Manager) Fetch(tid int) (Params, error) {
	abi := kernel.TaskParamsABI{TID: int32(tid)}
	_, err := m.k.Invoke(kernel.OpGetTaskParams, uintptr(unsafe.Pointer(&abi)))
	runtime.KeepAlive(&abi)
	if err != nil {
		return Params{}, err
	}

	p := Params{
		Budget:      time.Duration(abi.ExecCost),
		Period:      time.Duration(abi.Period),
		Deadline:    time.Duration(abi.RelativeDeadline),
		Offset:      time.Duration(abi.Phase),
		Priority:    Priority(abi.Priority),
		Class:       Class(abi.Class),
		Policy:      BudgetPolicy(abi.BudgetPolicy),
		CPU:         int(abi.CPU),
		Reservation: NoReservation,
	}
	if prev, ok := m.installed[tid]; ok && prev.Reservation != NoReservation {
		p.CPU = prev.CPU
		p.Reservation = int(abi.CPU)
	}
	return p, nil
}

func (p Params) abi(tid int) kernel.TaskParamsABI {
	cpu := 0
	switch {
	case p.Reservation != NoReservation:
		cpu = p.Reservation
	case p.CPU != AnyCPU:
		cpu = p.CPU
	}
	return kernel.TaskParamsABI{
		ExecCost:         uint64(p.Budget),
		Period:           uint64(p.Period),
		RelativeDeadline: uint64(p.Deadline),
		Phase:            uint64(p.Offset),
		CPU:              uint32(cpu),
		Priority:         uint32(p.Priority),
		Class:            uint32(p.Class),
		BudgetPolicy:     uint32(p.Policy),
		TID:              int32(tid),
	}
}
