//go:build linux

package affinity

import "golang.org/x/sys/unix"

// Apply pins the calling OS thread to core, using sched_setaffinity.
// The caller must have already called runtime.LockOSThread.
func Apply(core int) error {
	if core < 0 {
		return nil
	}
	var set unix.CPUSet
	set.Zero()
	set.Set(core)
	return unix.SchedSetaffinity(0, &set)
}
