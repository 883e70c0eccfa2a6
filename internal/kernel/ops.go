package kernel

// Op identifies a kernel operation. The value is the request number passed to
// the control device.
type Op uint32

const (
	OpNone Op = 0

	OpSetTaskParams Op = 0x0300 + iota
	OpGetTaskParams
	OpTaskMode
	OpReservationCreate
	OpObjOpen
	OpObjClose
	OpLock
	OpUnlock
	OpWaitForRelease
	OpReleaseCohort
)

var opNames = map[Op]string{
	OpSetTaskParams:     "set_task_params",
	OpGetTaskParams:     "get_task_params",
	OpTaskMode:          "task_mode",
	OpReservationCreate: "reservation_create",
	OpObjOpen:           "od_open",
	OpObjClose:          "od_close",
	OpLock:              "lock",
	OpUnlock:            "unlock",
	OpWaitForRelease:    "wait_for_ts_release",
	OpReleaseCohort:     "release_ts",
}

func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	if o == OpNone {
		return "none"
	}
	return "op(unknown)"
}
