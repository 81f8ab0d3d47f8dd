//go:build linux && amd64

package shmring

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// PinCurrentThread pins the calling OS thread to cpu. Callers that want a
// Producer or Consumer to run on a dedicated physical core should call
// runtime.LockOSThread followed by PinCurrentThread before touching the
// ring, since the whole point of the queue is two cores that never have
// to fight the scheduler for cache locality.
//
// This is boundary glue, not part of the queue's coordination protocol:
// the ring works correctly without pinning, just slower.
func PinCurrentThread(cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("shmring: pin to cpu %d: %w", cpu, err)
	}
	return nil
}
