//go:build !windows

package sqlite

import "syscall"

// flockLock acquires an exclusive advisory lock on the store file so two
// gateway processes never open the same durable store concurrently.
func flockLock(fd uintptr) error {
	return syscall.Flock(int(fd), syscall.LOCK_EX)
}

func flockUnlock(fd uintptr) error {
	return syscall.Flock(int(fd), syscall.LOCK_UN)
}
