// Package task builds, validates and installs the real-time parameters of a
// task.
package task

import (
	"fmt"
	"strings"
	"time"
)

// Class is the task's real-time class.
type Class uint32

const (
	ClassHard Class = iota
	ClassSoft
	ClassBestEffort
)

func (c Class) String() string {
	switch c {
	case ClassHard:
		return "hrt"
	case ClassSoft:
		return "srt"
	case ClassBestEffort:
		return "be"
	default:
		return fmt.Sprintf("class(%d)", uint32(c))
	}
}

// ParseClass accepts be, srt and hrt (case-insensitive).
func ParseClass(s string) (Class, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hrt":
		return ClassHard, nil
	case "srt":
		return ClassSoft, nil
	case "be":
		return ClassBestEffort, nil
	}
	return 0, fmt.Errorf("unknown task class %q (want be, srt or hrt)", s)
}

// BudgetPolicy selects how the kernel enforces the budget.
type BudgetPolicy uint32

const (
	NoEnforcement      BudgetPolicy = 0
	PreciseEnforcement BudgetPolicy = 2
)

func (p BudgetPolicy) String() string {
	switch p {
	case NoEnforcement:
		return "none"
	case PreciseEnforcement:
		return "precise"
	default:
		return fmt.Sprintf("policy(%d)", uint32(p))
	}
}

// Priority is a fixed priority, 1 (highest) to 511 (lowest). NoPriority leaves
// it to the scheduler; EDF-style schedulers ignore it.
type Priority uint32

const (
	HighestPriority Priority = 1
	LowestPriority  Priority = 511
	NoPriority      Priority = ^Priority(0)
)

// Valid reports whether p is a usable fixed priority.
func (p Priority) Valid() bool {
	return p >= HighestPriority && p <= LowestPriority
}

// Set reports whether p was chosen.
func (p Priority) Set() bool { return p != NoPriority }

func (p Priority) String() string {
	if !p.Set() {
		return "unset"
	}
	return fmt.Sprintf("%d", uint32(p))
}

// AnyCPU leaves the partition unassigned.
const AnyCPU = -1

// NoReservation means the task is not attached to a reservation.
const NoReservation = -1

// Params are a task's real-time parameters.
type Params struct {
	Budget   time.Duration
	Period   time.Duration
	Deadline time.Duration // zero means equal to Period
	Offset   time.Duration

	Priority Priority
	Class    Class
	Policy   BudgetPolicy

	// CPU is the partition the task is assigned to, or AnyCPU.
	CPU int
	// Reservation is the reservation (virtual CPU) the task draws its budget
	// from, or NoReservation.
	Reservation int
}

// Default returns soft real-time parameters with precise enforcement, no
// priority, no offset and a deadline equal to the period.
func Default() Params {
	return Params{
		Priority:    NoPriority,
		Class:       ClassSoft,
		Policy:      PreciseEnforcement,
		CPU:         AnyCPU,
		Reservation: NoReservation,
	}
}

// EffectiveDeadline resolves a zero deadline to the period.
func (p Params) EffectiveDeadline() time.Duration {
	if p.Deadline == 0 {
		return p.Period
	}
	return p.Deadline
}

// Validate checks the parameters without involving the kernel.
func (p Params) Validate() error {
	switch {
	case p.Budget <= 0:
		return fmt.Errorf("budget must be positive, got %s", p.Budget)
	case p.Period <= 0:
		return fmt.Errorf("period must be positive, got %s", p.Period)
	case p.Budget > p.Period:
		return fmt.Errorf("budget %s exceeds period %s", p.Budget, p.Period)
	case p.Deadline < 0:
		return fmt.Errorf("deadline must not be negative, got %s", p.Deadline)
	case p.Offset < 0:
		return fmt.Errorf("offset must not be negative, got %s", p.Offset)
	case p.Priority.Set() && !p.Priority.Valid():
		return fmt.Errorf("priority %d outside %d..%d", uint32(p.Priority), HighestPriority, LowestPriority)
	case p.Class > ClassBestEffort:
		return fmt.Errorf("unknown class %d", uint32(p.Class))
	case p.Policy != NoEnforcement && p.Policy != PreciseEnforcement:
		return fmt.Errorf("unknown budget policy %d", uint32(p.Policy))
	case p.CPU < AnyCPU:
		return fmt.Errorf("cpu %d is negative", p.CPU)
	case p.Reservation < NoReservation:
		return fmt.Errorf("reservation %d is negative", p.Reservation)
	}
	return nil
}
