package kerneltest

import (
	"time"

	"golang.org/x/sys/unix"

	"yatrt/internal/kernel"
)

// Task classes and locking protocols as the kernel numbers them.
const (
	classBestEffort = 2

	protoFMLP = 0
	protoSRP  = 1
	protoDFLP = 9
)

func (s *Sim) setParams(p *kernel.TaskParamsABI) unix.Errno {
	if p.Period == 0 || p.ExecCost == 0 || p.ExecCost > p.Period {
		return unix.EINVAL
	}
	t := s.taskLocked(int(p.TID))
	if t.rt {
		return unix.EBUSY
	}
	cp := *p
	t.params = &cp
	return 0
}

func (s *Sim) getParams(p *kernel.TaskParamsABI) unix.Errno {
	t, ok := s.tasks[int(p.TID)]
	if !ok || t.params == nil {
		return unix.EINVAL
	}
	*p = *t.params
	return 0
}

func (s *Sim) taskMode(t *task, mode uintptr) unix.Errno {
	switch mode {
	case kernel.ModeRealTime:
		if t.params == nil {
			return unix.EINVAL
		}
		if s.Admit != nil {
			if errno := s.Admit(*t.params); errno != 0 {
				return errno
			}
		}
		t.rt = true
		t.job = 1
		now := s.Now()
		t.writer.StartJob(t.job, now, now+time.Duration(t.params.RelativeDeadline))
	case kernel.ModeBackground:
		t.rt = false
	default:
		return unix.EINVAL
	}
	return 0
}

func (s *Sim) createReservation(r *kernel.ReservationABI) unix.Errno {
	if _, ok := s.reservations[r.ID]; ok {
		return unix.EEXIST
	}
	if r.CPU < 0 || int(r.CPU) >= s.numCPUs {
		return unix.EINVAL
	}
	if r.Budget > r.Period {
		return unix.EINVAL
	}
	s.reservations[r.ID] = *r
	return 0
}

func (s *Sim) open(t *task, o *kernel.ObjOpenABI) (int64, unix.Errno) {
	var st unix.Stat_t
	if err := unix.Fstat(int(o.FD), &st); err != nil {
		return 0, unix.EBADF
	}
	switch o.Type {
	case protoFMLP:
	case protoSRP:
		if !t.rt || t.params == nil || t.params.Class == classBestEffort {
			return 0, unix.EPERM
		}
	case protoDFLP:
		if o.CPU < 0 || int(o.CPU) >= s.numCPUs {
			return 0, unix.EINVAL
		}
	default:
		return 0, unix.EINVAL
	}

	key := lockKey{dev: uint64(st.Dev), ino: uint64(st.Ino), id: o.ID, protocol: o.Type}
	if _, ok := s.locks[key]; !ok {
		s.locks[key] = &lock{}
	}
	t.ods = append(t.ods, &objDesc{key: key})
	return int64(len(t.ods) - 1), 0
}

func (s *Sim) desc(t *task, od int) (*objDesc, bool) {
	if od < 0 || od >= len(t.ods) || t.ods[od] == nil {
		return nil, false
	}
	return t.ods[od], true
}

func (s *Sim) close(t *task, od int) unix.Errno {
	if _, ok := s.desc(t, od); !ok {
		return unix.EINVAL
	}
	t.ods[od] = nil
	return 0
}

func (s *Sim) lock(t *task, od int) unix.Errno {
	d, ok := s.desc(t, od)
	if !ok {
		return unix.EINVAL
	}
	if !t.rt || t.params == nil || t.params.Class == classBestEffort {
		return unix.EPERM
	}
	l := s.locks[d.key]
	if l.owner == t.tid {
		return unix.EBUSY
	}
	if l.owner == 0 && len(l.queue) == 0 {
		l.owner = t.tid
		return 0
	}

	l.queue = append(l.queue, t.tid)
	for l.owner != 0 || l.queue[0] != t.tid {
		s.cond.Wait()
		if t.exited {
			l.dequeue(t.tid)
			return unix.EINTR
		}
	}
	l.queue = l.queue[1:]
	l.owner = t.tid
	return 0
}

func (s *Sim) unlock(t *task, od int) unix.Errno {
	d, ok := s.desc(t, od)
	if !ok {
		return unix.EINVAL
	}
	l := s.locks[d.key]
	if l.owner != t.tid {
		return unix.EINVAL
	}
	l.owner = 0
	s.cond.Broadcast()
	return 0
}

func (s *Sim) waitForRelease(t *task) unix.Errno {
	if s.fired {
		return 0
	}
	s.waiting++
	gen := s.gen
	for s.gen == gen {
		s.cond.Wait()
	}
	at := s.releaseAt

	// Nobody resumes before the common release time.
	s.mu.Unlock()
	if d := at - s.Now(); d > 0 {
		time.Sleep(d)
	}
	s.mu.Lock()

	if t.params != nil {
		t.job++
		t.writer.StartJob(t.job, at, at+time.Duration(t.params.RelativeDeadline))
	}
	return 0
}

func (s *Sim) release(r *kernel.ReleaseABI) int64 {
	n := s.waiting
	s.waiting = 0
	s.releaseAt = s.Now() + time.Duration(r.Delay)
	s.fired = true
	s.gen++
	s.cond.Broadcast()
	return int64(n)
}

func (l *lock) dequeue(tid int) {
	for i, id := range l.queue {
		if id == tid {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			return
		}
	}
}
