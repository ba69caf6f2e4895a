//go:build linux

package runtime

import "golang.org/x/sys/unix"

// pinToCPU pins the calling OS thread to cpu. Workers call this from
// their own goroutine after locking it to an OS thread, per spec.md
// §4.5: worker i is pinned to CPU (i mod cpu_count).
func pinToCPU(cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	return unix.SchedSetaffinity(0, &set)
}

func numCPU() (int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return 0, err
	}
	return set.Count(), nil
}
