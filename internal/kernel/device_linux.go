//go:build linux

package kernel

import (
	"golang.org/x/sys/unix"
)

// ctrlDevice is the control device opened and mapped by the calling thread.
type ctrlDevice struct {
	fd   int
	page []byte
}

// OpenControlDevice returns an Opener that opens path read/write and maps
// ControlPages pages of it.
func OpenControlDevice(path string) Opener {
	return func() (Device, error) {
		fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
		if err != nil {
			return nil, Unavailablef(OpNone, "cannot open control page %s: %v", path, err)
		}

		size := ControlPages * unix.Getpagesize()
		page, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE)
		if err != nil {
			unix.Close(fd)
			return nil, Unavailablef(OpNone, "cannot map control page %s: %v", path, err)
		}
		return &ctrlDevice{fd: fd, page: page}, nil
	}
}

func (d *ctrlDevice) Ioctl(op Op, arg uintptr) (int64, error) {
	r, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), uintptr(op), arg)
	if errno != 0 {
		return -1, errno
	}
	return int64(r), nil
}

func (d *ctrlDevice) Page() []byte { return d.page }

func (d *ctrlDevice) Close() error {
	var err error
	if d.page != nil {
		err = unix.Munmap(d.page)
		d.page = nil
	}
	if cerr := unix.Close(d.fd); err == nil {
		err = cerr
	}
	return err
}

// ThreadID returns the kernel identity of the calling thread.
func ThreadID() int { return unix.Gettid() }

// Yield cedes the processor to the kernel scheduler.
func Yield() {
	unix.Syscall(unix.SYS_SCHED_YIELD, 0, 0, 0)
}
