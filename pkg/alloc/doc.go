// Package alloc provides fixed-capacity identifier pools for engine graph
// nodes and audio buses.
//
// An Allocator hands out the lowest free identifier first so that the live id
// range stays compact. Capacities are small (hundreds to a few thousand) and
// allocation happens on the control path, so the linear scan is acceptable.
// Exhaustion is reported as ErrExhausted and never terminates the process.
package alloc
