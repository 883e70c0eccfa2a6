//go:build !linux

package migration

import (
	"fmt"
	"runtime"
)

func pin(cpus []int) error {
	return fmt.Errorf("pin to cpus %v: unsupported on %s", cpus, runtime.GOOS)
}
