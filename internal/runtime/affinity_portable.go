//go:build !linux

package runtime

import stdruntime "runtime"

// pinToCPU is a no-op on platforms without a portable affinity API,
// matching spec.md §4.5: "Not applied on platforms lacking a portable
// API."
func pinToCPU(int) error {
	return nil
}

func numCPU() (int, error) {
	return stdruntime.NumCPU(), nil
}
