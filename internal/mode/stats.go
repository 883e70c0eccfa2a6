package mode

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"yatrt/internal/kernel"
)

// DefaultStatsFile publishes the kernel's task counts.
const DefaultStatsFile = "/proc/yat/stats"

const (
	labelTasks = "real-time tasks"
	labelReady = "ready for release"
)

// maxStatsBytes bounds the statistics source. A longer source is rejected
// rather than parsed in part.
const maxStatsBytes = 4096

// Stats are the kernel's aggregate task counts.
type Stats struct {
	RealTimeTasks   uint32
	ReadyForRelease uint32
}

// ReadStats reads and parses the statistics source at path.
func ReadStats(path string) (Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stats{}, kernel.Unavailablef(kernel.OpNone, "statistics: %v", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxStatsBytes+1))
	if err != nil {
		return Stats{}, kernel.Unavailablef(kernel.OpNone, "statistics: %v", err)
	}
	if len(data) > maxStatsBytes {
		return Stats{}, malformed("source exceeds %d bytes", maxStatsBytes)
	}
	return ParseStats(data)
}

// ParseStats parses "label = value" lines. Both counts must be present exactly
// once as non-negative integers; other labeled lines are ignored. Anything else
// makes the whole source unavailable.
func ParseStats(data []byte) (Stats, error) {
	var (
		s                Stats
		haveAll, haveRdy bool
	)
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		label, value, ok := strings.Cut(line, "=")
		if !ok {
			return Stats{}, malformed("line %q has no value", line)
		}
		label = strings.TrimSpace(label)
		value = strings.TrimSpace(value)

		var dst *uint32
		switch label {
		case labelTasks:
			if haveAll {
				return Stats{}, malformed("%q repeated", label)
			}
			haveAll, dst = true, &s.RealTimeTasks
		case labelReady:
			if haveRdy {
				return Stats{}, malformed("%q repeated", label)
			}
			haveRdy, dst = true, &s.ReadyForRelease
		default:
			continue
		}
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return Stats{}, malformed("%q: %v", label, err)
		}
		*dst = uint32(n)
	}
	if err := sc.Err(); err != nil {
		return Stats{}, malformed("%v", err)
	}
	if !haveAll || !haveRdy {
		return Stats{}, malformed("expected %q and %q", labelTasks, labelReady)
	}
	return s, nil
}

func malformed(format string, args ...any) error {
	return kernel.Unavailablef(kernel.OpNone, "statistics: %s", fmt.Sprintf(format, args...))
}

// PendingWaiters returns how many tasks are blocked in WaitForRelease.
func PendingWaiters(path string) (uint32, error) {
	s, err := ReadStats(path)
	if err != nil {
		return 0, err
	}
	return s.ReadyForRelease, nil
}
