// Package ports allocates loopback gateway ports for sandboxes out of a
// fixed range. Allocation is optimistic: the catalog's port index is the
// arbiter, and callers retry here when a concurrent insert won the port.
package ports

import (
	"errors"
	"fmt"
)

// ErrNoPortsAvailable is returned when every port in the range is reserved
var ErrNoPortsAvailable = errors.New("no ports available in range")

// Allocator hands out the lowest free port within [Start, End].
type Allocator struct {
	Start int
	End   int
}

// NewAllocator validates the range and returns an allocator.
func NewAllocator(start, end int) (*Allocator, error) {
	if start <= 0 || end <= 0 || start > end {
		return nil, fmt.Errorf("invalid port range [%d, %d]", start, end)
	}
	return &Allocator{Start: start, End: end}, nil
}

// Allocate returns the lowest port in the range not present in used.
// Reusing the lowest freed port keeps the range compact and makes
// behavior deterministic for tests and debugging.
func (a *Allocator) Allocate(used []int) (int, error) {
	taken := make(map[int]struct{}, len(used))
	for _, p := range used {
		taken[p] = struct{}{}
	}
	for p := a.Start; p <= a.End; p++ {
		if _, ok := taken[p]; !ok {
			return p, nil
		}
	}
	return 0, ErrNoPortsAvailable
}
