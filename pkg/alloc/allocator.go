package alloc

import (
	"errors"
	"fmt"

	"github.com/bits-and-blooms/bitset"
)

// ID is an identifier drawn from an Allocator. Valid ids are in [0, Cap()).
type ID int32

// ErrExhausted is returned by Alloc when every slot of the pool is in use.
var ErrExhausted = errors.New("identifier pool exhausted")

// ErrOutOfRange is returned by Reserve for ids outside [0, Cap()).
var ErrOutOfRange = errors.New("identifier out of range")

// Allocator is a fixed-size pool of small integer identifiers.
// A bit is set iff the corresponding id is currently allocated.
//
// Allocator is not safe for concurrent use; callers serialize access
// (the engine hands both pools to one request at a time).
type Allocator struct {
	ids      *bitset.BitSet
	capacity uint
}

// New returns an allocator with n free slots. A non-positive n yields a pool
// that is always exhausted.
func New(n int) *Allocator {
	if n < 0 {
		n = 0
	}
	return &Allocator{
		ids:      bitset.New(uint(n)),
		capacity: uint(n),
	}
}

// Alloc marks and returns the lowest free id.
func (a *Allocator) Alloc() (ID, error) {
	i, ok := a.ids.NextClear(0)
	if !ok || i >= a.capacity {
		return 0, fmt.Errorf("%w (capacity %d)", ErrExhausted, a.capacity)
	}
	a.ids.Set(i)
	return ID(i), nil
}

// Free releases id and reports whether it was inside the pool's range.
// Freeing an id that is in range but not allocated is a no-op.
func (a *Allocator) Free(id ID) bool {
	if !a.inRange(id) {
		return false
	}
	a.ids.Clear(uint(id))
	return true
}

// Reserve marks id as allocated without scanning. Reserving a live id is a
// no-op.
func (a *Allocator) Reserve(id ID) error {
	if !a.inRange(id) {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrOutOfRange, id, a.capacity)
	}
	a.ids.Set(uint(id))
	return nil
}

// InUse reports whether id is currently allocated.
func (a *Allocator) InUse(id ID) bool {
	return a.inRange(id) && a.ids.Test(uint(id))
}

// Len returns the number of allocated ids.
func (a *Allocator) Len() int {
	return int(a.ids.Count())
}

// Cap returns the pool capacity.
func (a *Allocator) Cap() int {
	return int(a.capacity)
}

func (a *Allocator) inRange(id ID) bool {
	return id >= 0 && uint(id) < a.capacity
}
