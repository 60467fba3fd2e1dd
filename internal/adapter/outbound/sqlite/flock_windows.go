//go:build windows

package sqlite

import "golang.org/x/sys/windows"

// flockLock acquires an exclusive advisory lock on the store file on
// Windows using LockFileEx, mirroring Unix flock's blocking behavior.
func flockLock(fd uintptr) error {
	var ol windows.Overlapped
	return windows.LockFileEx(windows.Handle(fd), windows.LOCKFILE_EXCLUSIVE_LOCK, 0, 1, 0, &ol)
}

func flockUnlock(fd uintptr) error {
	var ol windows.Overlapped
	return windows.UnlockFileEx(windows.Handle(fd), 0, 1, 0, &ol)
}
