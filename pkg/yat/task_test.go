package yat

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"yatrt/internal/config"
	"yatrt/internal/kernel"
	"yatrt/internal/kernel/kerneltest"
	"yatrt/internal/mode"
)

func params() Params {
	p := DefaultParams()
	p.Budget = 3 * time.Millisecond
	p.Period = 10 * time.Millisecond
	return p
}

func simTask(t *testing.T, sim *kerneltest.Sim, tid int, opts ...Option) *Task {
	t.Helper()
	opts = append([]Option{WithOpener(sim.Opener(tid), tid)}, opts...)
	task := New(opts...)
	t.Cleanup(func() { _ = task.Close() })
	return task
}

func TestTask_Lifecycle(t *testing.T) {
	sim := kerneltest.New(2)
	task := simTask(t, sim, 7)

	assert.Equal(t, 7, task.TID())
	assert.Equal(t, mode.Background, task.Mode())
	assert.Empty(t, sim.Calls())

	require.NoError(t, task.Install(params()))
	require.NoError(t, task.EnterRealTime())
	assert.True(t, sim.IsRealTime(7))

	got, err := task.Params()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Millisecond, got.Deadline)

	job, err := task.Job()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), job.Index)

	require.NoError(t, task.EnterBackground())
	assert.False(t, sim.IsRealTime(7))

	require.NoError(t, task.Close())
	assert.Equal(t, mode.Terminated, task.Mode())
	assert.NoError(t, task.Close())
}

func TestTask_InstallOnlyInBackground(t *testing.T) {
	sim := kerneltest.New(2)
	task := simTask(t, sim, 7)
	require.NoError(t, task.Install(params()))
	require.NoError(t, task.EnterRealTime())

	before := sim.CallCount(kernel.OpSetTaskParams)
	err := task.Install(params())
	assert.ErrorIs(t, err, kernel.ErrConfiguration)
	assert.ErrorIs(t, err, kernel.ErrInvalidState)
	assert.Equal(t, before, sim.CallCount(kernel.OpSetTaskParams))

	require.NoError(t, task.EnterBackground())
	assert.NoError(t, task.Install(params()))
}

func TestTask_NotConfigured(t *testing.T) {
	sim := kerneltest.New(2)
	task := simTask(t, sim, 7)
	assert.ErrorIs(t, task.EnterRealTime(), kernel.ErrNotConfigured)
}

func TestTask_SelfReservation(t *testing.T) {
	sim := kerneltest.New(4)
	task := simTask(t, sim, 7)

	p := params()
	p.CPU = 2
	p.Reservation = task.TID()
	require.NoError(t, task.Install(p))

	err := task.CreateReservation(SporadicPolling, ReservationConfig{CPU: 3, Budget: p.Budget, Period: p.Period})
	assert.ErrorIs(t, err, kernel.ErrConfiguration)

	require.NoError(t, task.CreateReservation(SporadicPolling, ReservationConfig{CPU: 2, Budget: p.Budget, Period: p.Period}))
	res, ok := sim.Reservation(7)
	require.True(t, ok)
	assert.Equal(t, int32(2), res.CPU)

	got, ok := sim.Params(7)
	require.True(t, ok)
	assert.Equal(t, uint32(7), got.CPU)
}

func TestTask_NonPreemptive(t *testing.T) {
	sim := kerneltest.New(2)
	task := simTask(t, sim, 7)
	require.NoError(t, task.Install(params()))
	require.NoError(t, task.EnterRealTime())

	require.NoError(t, task.EnterNP())
	require.NoError(t, task.EnterNP())
	assert.Equal(t, uint32(2), sim.NPDepth(7))

	sim.DeferPreemption(7)
	assert.True(t, task.PreemptionPending())

	task.ExitNP()
	task.ExitNP()
	assert.Equal(t, uint32(0), sim.NPDepth(7))

	err := task.NonPreemptive(func() error {
		assert.Equal(t, uint32(1), sim.NPDepth(7))
		return nil
	})
	require.NoError(t, err)
}

func TestTask_Unavailable(t *testing.T) {
	sim := kerneltest.New(2)
	sim.FailOpens(1)
	task := simTask(t, sim, 7)

	err := task.EnterNP()
	assert.ErrorIs(t, err, kernel.ErrUnavailable)
	assert.Equal(t, uint32(0), sim.NPDepth(7))

	require.NoError(t, task.Attach())
	require.NoError(t, task.EnterNP())
	task.ExitNP()
}

func TestTask_AfterClose(t *testing.T) {
	sim := kerneltest.New(2)
	task := simTask(t, sim, 7)
	require.NoError(t, task.Install(params()))
	require.NoError(t, task.Close())

	assert.ErrorIs(t, task.Install(params()), kernel.ErrTerminated)
	assert.ErrorIs(t, task.EnterRealTime(), kernel.ErrTerminated)
	assert.ErrorIs(t, task.EnterNP(), kernel.ErrTerminated)
	assert.ErrorIs(t, task.WaitForRelease(), kernel.ErrTerminated)
	_, err := task.Release(0)
	assert.ErrorIs(t, err, kernel.ErrTerminated)
	_, err = task.Job()
	assert.ErrorIs(t, err, kernel.ErrTerminated)
}

func TestTask_Locks(t *testing.T) {
	sim := kerneltest.New(2)
	task := simTask(t, sim, 7)
	require.NoError(t, task.Install(params()))
	require.NoError(t, task.EnterRealTime())

	ns, err := task.OpenNamespace(filepath.Join(t.TempDir(), "ns"))
	require.NoError(t, err)

	h, err := task.OpenLock(FMLP, ns, 1)
	require.NoError(t, err)
	require.NoError(t, task.Lock(h))

	// A mode change while holding the lock is allowed.
	require.NoError(t, task.EnterBackground())
	require.NoError(t, task.Unlock(h))
	assert.ErrorIs(t, task.Unlock(h), kernel.ErrOwnership)
	require.NoError(t, task.CloseLock(h))

	d, err := task.OpenLock(DFLP, ns, 2, OnCPU(1))
	require.NoError(t, err)
	assert.Equal(t, 1, d.CPU())

	require.NoError(t, task.Close())
	_, err = ns.Stat()
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestTask_ReleaseCohort(t *testing.T) {
	sim := kerneltest.New(4)
	statsFile := filepath.Join(t.TempDir(), "stats")

	var g errgroup.Group
	for i := 0; i < 2; i++ {
		tid := 100 + i
		g.Go(func() error {
			task := New(WithOpener(sim.Opener(tid), tid))
			defer task.Close()
			if err := task.Install(params()); err != nil {
				return err
			}
			if err := task.EnterRealTime(); err != nil {
				return err
			}
			return task.WaitForRelease()
		})
	}
	require.Eventually(t, func() bool { return sim.Waiting() == 2 }, time.Second, time.Millisecond)

	require.NoError(t, os.WriteFile(statsFile, []byte(sim.Stats()), 0o644))
	releaser := simTask(t, sim, 1, WithStatsFile(statsFile))
	n, err := releaser.PendingWaiters()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), n)

	st, err := releaser.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), st.RealTimeTasks)

	released, err := releaser.Release(5 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 2, released)
	require.NoError(t, g.Wait())
}

func TestWithConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Kernel.StatsFile = filepath.Join(t.TempDir(), "missing")

	sim := kerneltest.New(1)
	task := simTask(t, sim, 3, WithConfig(cfg))
	_, err := task.Stats()
	assert.ErrorIs(t, err, kernel.ErrUnavailable)
}
