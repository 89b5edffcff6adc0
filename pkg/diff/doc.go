// Package diff observes the live system through the capability backends and
// computes the minimal, ordered StateDiff that converges it to a declaration.
//
// Compute is pure. All I/O happens in Observe, which only calls the
// backends.
package diff
