//go:build linux

package migration

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func pin(cpus []int) error {
	var set unix.CPUSet
	set.Zero()
	for _, cpu := range cpus {
		set.Set(cpu)
	}
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("pin to cpus %v: %w", cpus, err)
	}
	return nil
}
