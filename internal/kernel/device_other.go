//go:build !linux

package kernel

import (
	"os"
	"runtime"
)

// OpenControlDevice reports the device as unavailable: the real-time scheduler
// only exists on Linux.
func OpenControlDevice(path string) Opener {
	return func() (Device, error) {
		return nil, Unavailablef(OpNone, "control page %s: unsupported on %s", path, runtime.GOOS)
	}
}

// ThreadID falls back to the process id.
func ThreadID() int { return os.Getpid() }

// Yield cedes the processor.
func Yield() { runtime.Gosched() }
