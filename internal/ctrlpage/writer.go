package ctrlpage

import (
	"sync/atomic"
	"time"
)

// Writer is the kernel's side of a control page. Simulated kernels use it to
// publish job timing and deferred preemptions into a task's page.
type Writer struct {
	p *page
}

// NewWriter returns a writer over mem.
func NewWriter(mem []byte) (*Writer, error) {
	p, err := view(mem)
	if err != nil {
		return nil, err
	}
	return &Writer{p: p}, nil
}

// SetPreempt sets or clears the deferred-preemption bit.
func (w *Writer) SetPreempt(pending bool) {
	for {
		old := atomic.LoadUint32(&w.p.Sched)
		next := old &^ npPreempt
		if pending {
			next |= npPreempt
		}
		if atomic.CompareAndSwapUint32(&w.p.Sched, old, next) {
			return
		}
	}
}

// Depth returns the task's non-preemptive nesting depth.
func (w *Writer) Depth() uint32 {
	return atomic.LoadUint32(&w.p.Sched) & npFlagMask
}

// StartJob publishes a new job instance.
func (w *Writer) StartJob(index uint32, release, deadline time.Duration) {
	atomic.StoreUint64(&w.p.Release, uint64(release))
	atomic.StoreUint64(&w.p.Deadline, uint64(deadline))
	atomic.StoreUint32(&w.p.JobIndex, index)
}

// CountIRQ increments the interrupt counter.
func (w *Writer) CountIRQ() {
	atomic.AddUint64(&w.p.IRQCount, 1)
}

// MarkSyscall records the timestamp and interrupt count at a system call entry.
func (w *Writer) MarkSyscall(at time.Duration) {
	atomic.StoreUint64(&w.p.TSSyscallStart, uint64(at))
	atomic.StoreUint64(&w.p.IRQSyscallStart, atomic.LoadUint64(&w.p.IRQCount))
}
