package ctrlpage

import (
	"fmt"
	"unsafe"
)

// LayoutVersion identifies the offset table below. The kernel publishes the
// same table for the same version.
const LayoutVersion = 1

// Field is one entry of the control page offset table.
type Field struct {
	Name   string
	Offset uintptr
	Size   uintptr
}

// Offsets is the byte layout of the control page, version LayoutVersion.
var Offsets = []Field{
	{Name: "sched", Offset: 0, Size: 4},
	{Name: "irq_count", Offset: 8, Size: 8},
	{Name: "ts_syscall_start", Offset: 16, Size: 8},
	{Name: "irq_syscall_start", Offset: 24, Size: 8},
	{Name: "deadline", Offset: 32, Size: 8},
	{Name: "release", Offset: 40, Size: 8},
	{Name: "job_index", Offset: 48, Size: 4},
}

// sched word: bits 0..30 hold the non-preemptive nesting depth, bit 31 is set
// by the kernel when a preemption was deferred.
const (
	npPreempt  uint32 = 1 << 31
	npFlagMask uint32 = npPreempt - 1
)

// page mirrors the kernel's control page. Only the task writes the depth bits
// of Sched; every other field is written by the kernel.
type page struct {
	Sched           uint32
	_               uint32
	IRQCount        uint64
	TSSyscallStart  uint64
	IRQSyscallStart uint64
	Deadline        uint64
	Release         uint64
	JobIndex        uint32
}

// Size is the number of bytes of the control page the runtime reads.
const Size = unsafe.Sizeof(page{})

func goLayout() []Field {
	var p page
	return []Field{
		{Name: "sched", Offset: unsafe.Offsetof(p.Sched), Size: unsafe.Sizeof(p.Sched)},
		{Name: "irq_count", Offset: unsafe.Offsetof(p.IRQCount), Size: unsafe.Sizeof(p.IRQCount)},
		{Name: "ts_syscall_start", Offset: unsafe.Offsetof(p.TSSyscallStart), Size: unsafe.Sizeof(p.TSSyscallStart)},
		{Name: "irq_syscall_start", Offset: unsafe.Offsetof(p.IRQSyscallStart), Size: unsafe.Sizeof(p.IRQSyscallStart)},
		{Name: "deadline", Offset: unsafe.Offsetof(p.Deadline), Size: unsafe.Sizeof(p.Deadline)},
		{Name: "release", Offset: unsafe.Offsetof(p.Release), Size: unsafe.Sizeof(p.Release)},
		{Name: "job_index", Offset: unsafe.Offsetof(p.JobIndex), Size: unsafe.Sizeof(p.JobIndex)},
	}
}

// CheckLayout verifies that the Go view of the control page matches table.
func CheckLayout(table []Field) error {
	have := goLayout()
	if len(table) != len(have) {
		return fmt.Errorf("control page layout v%d: %d fields in table, %d in page", LayoutVersion, len(table), len(have))
	}
	for i, want := range table {
		got := have[i]
		if got.Name != want.Name || got.Offset != want.Offset || got.Size != want.Size {
			return fmt.Errorf("control page layout v%d: field %s at %d (%d bytes), table says %s at %d (%d bytes)",
				LayoutVersion, got.Name, got.Offset, got.Size, want.Name, want.Offset, want.Size)
		}
	}
	return nil
}

// A mismatch means the runtime and the kernel disagree on where the
// non-preemptive flag lives; nothing built on that can be trusted.
func init() {
	if err := CheckLayout(Offsets); err != nil {
		panic(err)
	}
}

func view(mem []byte) (*page, error) {
	if uintptr(len(mem)) < Size {
		return nil, fmt.Errorf("control page is %d bytes, need %d", len(mem), Size)
	}
	if uintptr(unsafe.Pointer(&mem[0]))%8 != 0 {
		return nil, fmt.Errorf("control page is not 8-byte aligned")
	}
	return (*page)(unsafe.Pointer(&mem[0])), nil
}
