//go:build !linux

package core

// setAffinity is a no-op where sched_setaffinity(2) is unavailable.
func setAffinity(cpu int) error {
	return nil
}
