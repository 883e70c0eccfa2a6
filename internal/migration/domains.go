// Package migration pins the calling thread to a partition (a cluster of
// CPUs, or a single CPU) before it becomes a real-time task.
package migration

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// DefaultDomainsDir holds one CPU mask file per scheduling domain.
const DefaultDomainsDir = "/proc/yat/domains"

// Domains reads scheduling domain masks from a directory.
type Domains struct {
	dir string
}

// NewDomains returns a reader for dir.
func NewDomains(dir string) *Domains {
	if dir == "" {
		dir = DefaultDomainsDir
	}
	return &Domains{dir: dir}
}

// CPUs returns the CPUs of domain, lowest first.
func (d *Domains) CPUs(domain int) ([]int, error) {
	if domain < 0 {
		return nil, fmt.Errorf("domain %d is negative", domain)
	}
	path := filepath.Join(d.dir, strconv.Itoa(domain))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("domain %d: %w", domain, err)
	}
	cpus, err := ParseMask(string(data))
	if err != nil {
		return nil, fmt.Errorf("domain %d: %w", domain, err)
	}
	if len(cpus) == 0 {
		return nil, fmt.Errorf("domain %d has no CPUs", domain)
	}
	return cpus, nil
}

// FirstCPU returns the lowest-numbered CPU of domain.
func (d *Domains) FirstCPU(domain int) (int, error) {
	cpus, err := d.CPUs(domain)
	if err != nil {
		return 0, err
	}
	return cpus[0], nil
}

// MigrateTo pins the calling thread to the CPUs of domain.
func (d *Domains) MigrateTo(domain int) error {
	cpus, err := d.CPUs(domain)
	if err != nil {
		return err
	}
	return pin(cpus)
}

// MigrateToCPU pins the calling thread to one CPU.
func MigrateToCPU(cpu int) error {
	if cpu < 0 {
		return fmt.Errorf("cpu %d is negative", cpu)
	}
	return pin([]int{cpu})
}

// ParseMask parses a kernel CPU mask: comma-separated 32-bit hex groups, most
// significant group first ("ff,00000000" is CPUs 32..39).
func ParseMask(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty cpu mask")
	}
	groups := strings.Split(s, ",")
	var cpus []int
	for i, g := range groups {
		g = strings.TrimPrefix(strings.TrimSpace(g), "0x")
		if g == "" || len(g) > 8 {
			return nil, fmt.Errorf("bad cpu mask group %q", g)
		}
		bits, err := strconv.ParseUint(g, 16, 32)
		if err != nil {
			return nil, fmt.Errorf("bad cpu mask group %q: %w", g, err)
		}
		base := 32 * (len(groups) - 1 - i)
		for b := 0; b < 32; b++ {
			if bits&(1<<b) != 0 {
				cpus = append(cpus, base+b)
			}
		}
	}
	sort.Ints(cpus)
	return cpus, nil
}
