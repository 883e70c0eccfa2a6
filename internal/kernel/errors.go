package kernel

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

// Error classes. Every error returned by the runtime wraps exactly one of these.
var (
	// ErrConfiguration marks invalid or inconsistent parameters detected locally,
	// before the kernel was asked anything.
	ErrConfiguration = errors.New("configuration error")

	// ErrKernelRejection marks a request the kernel refused. Retrying the same
	// request cannot succeed.
	ErrKernelRejection = errors.New("kernel rejection")

	// ErrUnavailable marks a kernel interface (control device, statistics file)
	// that could not be opened, mapped or parsed.
	ErrUnavailable = errors.New("interface unavailable")

	// ErrOwnership marks an unlock or close of a resource the caller does not hold.
	ErrOwnership = errors.New("ownership error")
)

// Error reasons. An error may carry one of these in addition to its class.
var (
	ErrPermission        = errors.New("permission denied")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotSupported      = errors.New("not supported")
	ErrBusy              = errors.New("resource busy")
	ErrNotConfigured     = errors.New("task parameters not installed")
	ErrAdmissionRejected = errors.New("admission rejected")
	ErrInvalidParameters = errors.New("invalid parameters")
	ErrInvalidState      = errors.New("invalid state transition")
	ErrTerminated        = errors.New("task terminated")
)

// Error is the typed failure of a runtime operation.
type Error struct {
	Op     Op
	Class  error
	Reason error
	Msg    string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	parts := []string{"yat"}
	if e.Op != OpNone {
		parts = append(parts, e.Op.String())
	}
	switch {
	case e.Reason != nil && e.Msg != "":
		parts = append(parts, e.Reason.Error(), e.Msg)
	case e.Reason != nil:
		parts = append(parts, e.Reason.Error())
	case e.Msg != "":
		parts = append(parts, e.Class.Error(), e.Msg)
	default:
		parts = append(parts, e.Class.Error())
	}
	return strings.Join(parts, ": ")
}

// Unwrap exposes both the class and the reason to errors.Is.
func (e *Error) Unwrap() []error {
	if e.Reason == nil {
		return []error{e.Class}
	}
	return []error{e.Class, e.Reason}
}

// Configf returns a local configuration error.
func Configf(op Op, format string, args ...any) error {
	return &Error{Op: op, Class: ErrConfiguration, Reason: ErrInvalidParameters, Msg: fmt.Sprintf(format, args...)}
}

// Unavailablef returns an interface-unavailable error.
func Unavailablef(op Op, format string, args ...any) error {
	return &Error{Op: op, Class: ErrUnavailable, Msg: fmt.Sprintf(format, args...)}
}

// Reclassify replaces the class and reason of a kernel error, keeping the
// message. Non-runtime errors are returned unchanged.
func Reclassify(err error, class, reason error) error {
	var ke *Error
	if !errors.As(err, &ke) {
		return err
	}
	return &Error{Op: ke.Op, Class: class, Reason: reason, Msg: ke.Msg}
}

// FromErrno translates a failed kernel call. It is the only place raw error
// numbers are interpreted.
func FromErrno(op Op, errno unix.Errno) error {
	e := &Error{Op: op, Class: ErrKernelRejection}
	switch errno {
	case unix.EPERM, unix.EACCES:
		e.Reason = ErrPermission
	case unix.EINVAL:
		e.Reason = ErrInvalidArgument
	case unix.ENOSYS, unix.ENOTTY, unix.EOPNOTSUPP:
		e.Reason = ErrNotSupported
	case unix.EBUSY:
		e.Reason = ErrBusy
	case unix.ENODEV, unix.ENXIO, unix.EBADF:
		e.Class = ErrUnavailable
	}
	if e.Reason == nil {
		e.Msg = errno.Error()
	}
	return e
}
