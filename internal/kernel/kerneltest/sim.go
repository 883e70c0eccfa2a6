// Package kerneltest provides an in-process stand-in for the real-time kernel.
// Each simulated thread gets its own Device; all of them share one Sim, which
// implements admission, execution modes, lock ownership and the synchronous
// release barrier closely enough to exercise the runtime's contracts.
package kerneltest

import (
	"fmt"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"yatrt/internal/ctrlpage"
	"yatrt/internal/kernel"
)

const pageSize = 4096

// Sim is a simulated kernel.
type Sim struct {
	mu   sync.Mutex
	cond *sync.Cond

	start   time.Time
	numCPUs int

	tasks        map[int]*task
	locks        map[lockKey]*lock
	reservations map[uint32]kernel.ReservationABI

	waiting   int
	gen       uint64
	fired     bool
	releaseAt time.Duration

	failOpens int
	calls     []Call

	// Admit decides admission when a task enters real-time mode. The default
	// admits every task.
	Admit func(p kernel.TaskParamsABI) unix.Errno
}

// Call is one request the simulated kernel received.
type Call struct {
	TID int
	Op  kernel.Op
}

type task struct {
	tid    int
	params *kernel.TaskParamsABI
	rt     bool
	exited bool
	page   []byte
	writer *ctrlpage.Writer
	ods    []*objDesc
	job    uint32
}

type objDesc struct {
	key lockKey
}

type lockKey struct {
	dev, ino uint64
	id       uint32
	protocol uint32
}

type lock struct {
	owner int
	queue []int
}

// New returns a simulated kernel with numCPUs processors.
func New(numCPUs int) *Sim {
	s := &Sim{
		start:        time.Now(),
		numCPUs:      numCPUs,
		tasks:        make(map[int]*task),
		locks:        make(map[lockKey]*lock),
		reservations: make(map[uint32]kernel.ReservationABI),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Now returns the simulated kernel clock.
func (s *Sim) Now() time.Duration { return time.Since(s.start) }

// FailOpens makes the next n device opens fail.
func (s *Sim) FailOpens(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOpens = n
}

// Opener returns the device opener of simulated thread tid.
func (s *Sim) Opener(tid int) kernel.Opener {
	return func() (kernel.Device, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.failOpens > 0 {
			s.failOpens--
			return nil, kernel.Unavailablef(kernel.OpNone, "cannot open control page: %v", unix.ENOENT)
		}
		t := s.taskLocked(tid)
		return &Device{sim: s, tid: tid, page: t.page}, nil
	}
}

func (s *Sim) taskLocked(tid int) *task {
	t, ok := s.tasks[tid]
	if ok {
		return t
	}
	page := make([]byte, pageSize)
	w, err := ctrlpage.NewWriter(page)
	if err != nil {
		panic(err)
	}
	t = &task{tid: tid, page: page, writer: w}
	s.tasks[tid] = t
	return t
}

// Calls returns the requests received so far.
func (s *Sim) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallCount returns how many requests for op were received.
func (s *Sim) CallCount(op kernel.Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// IsRealTime reports whether tid is in real-time mode.
func (s *Sim) IsRealTime(tid int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[tid]
	return ok && t.rt
}

// Params returns the parameters installed for tid.
func (s *Sim) Params(tid int) (kernel.TaskParamsABI, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[tid]
	if !ok || t.params == nil {
		return kernel.TaskParamsABI{}, false
	}
	return *t.params, true
}

// Reservation returns the reservation with the given id.
func (s *Sim) Reservation(id int) (kernel.ReservationABI, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[uint32(id)]
	return r, ok
}

// Waiting returns how many tasks are blocked waiting for a release.
func (s *Sim) Waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiting
}

// ReleaseTime returns the time of the last synchronous release.
func (s *Sim) ReleaseTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releaseAt
}

// LockWaiters returns how many tasks are blocked on any lock.
func (s *Sim) LockWaiters() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, l := range s.locks {
		n += len(l.queue)
	}
	return n
}

// DeferPreemption sets the deferred-preemption bit in tid's control page.
func (s *Sim) DeferPreemption(tid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taskLocked(tid).writer.SetPreempt(true)
}

// NPDepth returns the non-preemptive depth tid published in its page.
func (s *Sim) NPDepth(tid int) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.taskLocked(tid).writer.Depth()
}

// Stats renders the statistics source.
func (s *Sim) Stats() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt := 0
	for _, t := range s.tasks {
		if t.rt && !t.exited {
			rt++
		}
	}
	return fmt.Sprintf("real-time tasks   = %d\nready for release = %d\n", rt, s.waiting)
}

// Exit simulates the exit of thread tid: its locks are reclaimed and handed to
// the next waiter, its descriptors are dropped.
func (s *Sim) Exit(tid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[tid]
	if !ok {
		return
	}
	t.exited = true
	t.rt = false
	t.ods = nil
	for _, l := range s.locks {
		if l.owner == tid {
			l.owner = 0
		}
	}
	s.cond.Broadcast()
}

// Device is the control device of one simulated thread.
type Device struct {
	sim    *Sim
	tid    int
	page   []byte
	closed bool
}

// Page returns the thread's control page.
func (d *Device) Page() []byte { return d.page }

// Close closes the device.
func (d *Device) Close() error {
	d.closed = true
	return nil
}

// Ioctl executes one kernel request on behalf of the device's thread.
func (d *Device) Ioctl(op kernel.Op, arg uintptr) (int64, error) {
	if d.closed {
		return -1, unix.EBADF
	}
	s := d.sim
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{TID: d.tid, Op: op})

	t := s.taskLocked(d.tid)
	var (
		ret   int64
		errno unix.Errno
	)
	switch op {
	case kernel.OpSetTaskParams:
		errno = s.setParams((*kernel.TaskParamsABI)(unsafe.Pointer(arg)))
	case kernel.OpGetTaskParams:
		errno = s.getParams((*kernel.TaskParamsABI)(unsafe.Pointer(arg)))
	case kernel.OpTaskMode:
		errno = s.taskMode(t, arg)
	case kernel.OpReservationCreate:
		errno = s.createReservation((*kernel.ReservationABI)(unsafe.Pointer(arg)))
	case kernel.OpObjOpen:
		ret, errno = s.open(t, (*kernel.ObjOpenABI)(unsafe.Pointer(arg)))
	case kernel.OpObjClose:
		errno = s.close(t, int(arg))
	case kernel.OpLock:
		errno = s.lock(t, int(arg))
	case kernel.OpUnlock:
		errno = s.unlock(t, int(arg))
	case kernel.OpWaitForRelease:
		errno = s.waitForRelease(t)
	case kernel.OpReleaseCohort:
		ret = s.release((*kernel.ReleaseABI)(unsafe.Pointer(arg)))
	default:
		errno = unix.ENOTTY
	}
	if errno != 0 {
		return -1, errno
	}
	return ret, nil
}
