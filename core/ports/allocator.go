// Package ports hands out exclusive network ports for visualization
// processes from a fixed range.
package ports

import (
	"errors"
	"fmt"
	"sync"
)

// ErrExhausted is returned by Acquire when every port in the range is held.
var ErrExhausted = errors.New("port range exhausted")

// Allocator manages a contiguous port range [base, base+size). Acquire hands
// out the lowest free port; Release returns it. Safe for concurrent use.
type Allocator struct {
	mu   sync.Mutex
	base int
	size int
	held map[int]bool
}

// NewAllocator creates an allocator for ports base..base+size-1
func NewAllocator(base, size int) (*Allocator, error) {
	if base <= 0 || base > 65535 {
		return nil, fmt.Errorf("invalid base port %d", base)
	}
	if size < 0 || base+size-1 > 65535 {
		return nil, fmt.Errorf("invalid port range size %d", size)
	}
	return &Allocator{
		base: base,
		size: size,
		held: make(map[int]bool, size),
	}, nil
}

// Acquire returns the lowest free port in the range, or ErrExhausted.
func (a *Allocator) Acquire() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for port := a.base; port < a.base+a.size; port++ {
		if !a.held[port] {
			a.held[port] = true
			return port, nil
		}
	}
	return 0, ErrExhausted
}

// Reserve acquires a specific port. Reserving a port already held is a
// programming error.
func (a *Allocator) Reserve(port int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if port < a.base || port >= a.base+a.size {
		return fmt.Errorf("port %d outside range %d..%d", port, a.base, a.base+a.size-1)
	}
	if a.held[port] {
		return fmt.Errorf("port %d already held", port)
	}
	a.held[port] = true
	return nil
}

// Release returns a held port to the free set. Releasing a port outside the
// range or one that is not currently held is a programming error and leaves
// the free set untouched.
func (a *Allocator) Release(port int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if port < a.base || port >= a.base+a.size {
		return fmt.Errorf("port %d outside range %d..%d", port, a.base, a.base+a.size-1)
	}
	if !a.held[port] {
		return fmt.Errorf("port %d is not held", port)
	}
	delete(a.held, port)
	return nil
}

// Free returns the number of currently unheld ports.
func (a *Allocator) Free() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.size - len(a.held)
}
