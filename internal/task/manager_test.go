package task

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yatrt/internal/kernel"
	"yatrt/internal/kernel/kerneltest"
)

const tid = 1001

type reservations map[int]int

func (r reservations) ReservationCPU(id int) (int, bool) {
	cpu, ok := r[id]
	return cpu, ok
}

func newManager(t *testing.T, opts ...Option) (*Manager, *kernel.Bridge, *kerneltest.Sim) {
	t.Helper()
	sim := kerneltest.New(4)
	b := kernel.NewBridge(sim.Opener(tid))
	t.Cleanup(func() { _ = b.Close() })
	return NewManager(b, opts...), b, sim
}

func TestManager_Install(t *testing.T) {
	m, _, sim := newManager(t)

	p := valid()
	p.Priority = 7
	p.Offset = 3 * time.Millisecond
	require.NoError(t, m.Install(tid, p))

	got, ok := sim.Params(tid)
	require.True(t, ok)
	assert.Equal(t, kernel.TaskParamsABI{
		ExecCost:         uint64(10 * time.Millisecond),
		Period:           uint64(100 * time.Millisecond),
		RelativeDeadline: uint64(100 * time.Millisecond),
		Phase:            uint64(3 * time.Millisecond),
		CPU:              0,
		Priority:         7,
		Class:            uint32(ClassSoft),
		BudgetPolicy:     uint32(PreciseEnforcement),
		TID:              tid,
	}, got)

	installed, ok := m.lookup(tid)
	require.True(t, ok)
	assert.Equal(t, 100*time.Millisecond, installed.Deadline)
	assert.True(t, m.IsInstalled(tid))
	assert.False(t, m.IsInstalled(tid+1))
}

func TestManager_InvalidParamsNeverReachKernel(t *testing.T) {
	m, _, sim := newManager(t)

	p := valid()
	p.Budget = 200 * time.Millisecond
	err := m.Install(tid, p)
	require.Error(t, err)
	assert.ErrorIs(t, err, kernel.ErrConfiguration)
	assert.ErrorIs(t, err, kernel.ErrInvalidParameters)
	assert.Empty(t, sim.Calls())
	assert.False(t, m.IsInstalled(tid))
}

func TestManager_KernelRejection(t *testing.T) {
	m, b, _ := newManager(t)
	require.NoError(t, m.Install(tid, valid()))
	_, err := b.Invoke(kernel.OpTaskMode, kernel.ModeRealTime)
	require.NoError(t, err)

	err = m.Install(tid, valid())
	assert.ErrorIs(t, err, kernel.ErrKernelRejection)
	assert.ErrorIs(t, err, kernel.ErrBusy)
}

func TestManager_ReservationOnTheWire(t *testing.T) {
	m, _, sim := newManager(t)

	p := valid()
	p.CPU = 2
	p.Reservation = 7
	require.NoError(t, m.Install(tid, p))

	got, _ := sim.Params(tid)
	assert.Equal(t, uint32(7), got.CPU)

	cpu, ok := m.AttachedCPU(7)
	assert.True(t, ok)
	assert.Equal(t, 2, cpu)

	_, ok = m.AttachedCPU(8)
	assert.False(t, ok)
}

func TestManager_ReservationConflict(t *testing.T) {
	m, _, sim := newManager(t, WithReservations(reservations{7: 3}))

	p := valid()
	p.CPU = 2
	p.Reservation = 7
	err := m.Install(tid, p)
	assert.ErrorIs(t, err, kernel.ErrConfiguration)
	assert.Empty(t, sim.Calls())

	p.CPU = 3
	assert.NoError(t, m.Install(tid, p))

	p.CPU = AnyCPU
	assert.NoError(t, m.Install(tid, p))
}

func TestManager_Fetch(t *testing.T) {
	m, _, _ := newManager(t)

	p := valid()
	p.CPU = 1
	p.Class = ClassHard
	p.Priority = 12
	p.Deadline = 80 * time.Millisecond
	require.NoError(t, m.Install(tid, p))

	got, err := m.Fetch(tid)
	require.NoError(t, err)
	if diff := cmp.Diff(p, got); diff != "" {
		t.Errorf("Fetch mismatch (-want +got):\n%s", diff)
	}

	_, err = m.Fetch(tid + 1)
	assert.ErrorIs(t, err, kernel.ErrInvalidArgument)
}

func TestManager_FetchReservation(t *testing.T) {
	m, _, _ := newManager(t)

	p := valid()
	p.CPU = 1
	p.Reservation = 9
	require.NoError(t, m.Install(tid, p))

	got, err := m.Fetch(tid)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CPU)
	assert.Equal(t, 9, got.Reservation)
}
