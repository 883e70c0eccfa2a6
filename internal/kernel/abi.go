package kernel

// Records exchanged with the kernel by address. Field order and widths are part
// of the kernel ABI; the kernel reads them at the offsets Go lays them out at on
// 64-bit targets.

// Mode values accepted by OpTaskMode.
const (
	ModeRealTime   uintptr = 0
	ModeBackground uintptr = 1
)

// NoCPU marks an absent CPU in ABI records.
const NoCPU = -1

// TaskParamsABI is the argument of OpSetTaskParams and OpGetTaskParams.
type TaskParamsABI struct {
	ExecCost         uint64
	Period           uint64
	RelativeDeadline uint64
	Phase            uint64
	CPU              uint32
	Priority         uint32
	Class            uint32
	BudgetPolicy     uint32
	ReleasePolicy    uint32
	TID              int32
}

// ReservationABI is the argument of OpReservationCreate.
type ReservationABI struct {
	Type             uint32
	ID               uint32
	Priority         uint64
	CPU              int32
	_                uint32
	Period           uint64
	Budget           uint64
	RelativeDeadline uint64
	Offset           uint64
}

// ObjOpenABI is the argument of OpObjOpen. CPU is NoCPU unless the protocol
// binds the object to a processor.
type ObjOpenABI struct {
	Type uint32
	FD   int32
	ID   uint32
	CPU  int32
}

// ReleaseABI is the argument of OpReleaseCohort: the delay, in nanoseconds,
// between the call and the common release time.
type ReleaseABI struct {
	Delay uint64
}
