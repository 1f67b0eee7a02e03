//go:build windows

package main

import (
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

// pidLockRange is the byte range locked in the PID file. One byte is
// enough; the lock guards the instance, not the contents.
const pidLockLow, pidLockHigh = 1, 0

// lockFile takes a non-blocking exclusive LockFileEx on the PID file,
// failing immediately while another instance holds it.
func lockFile(f *os.File) error {
	flags := uint32(windows.LOCKFILE_EXCLUSIVE_LOCK | windows.LOCKFILE_FAIL_IMMEDIATELY)
	if err := windows.LockFileEx(windows.Handle(f.Fd()), flags, 0, pidLockLow, pidLockHigh, new(windows.Overlapped)); err != nil {
		return fmt.Errorf("LockFileEx %s: %w", f.Name(), err)
	}
	return nil
}

// unlockFile releases the range taken by lockFile.
func unlockFile(f *os.File) error {
	if err := windows.UnlockFileEx(windows.Handle(f.Fd()), 0, pidLockLow, pidLockHigh, new(windows.Overlapped)); err != nil {
		return fmt.Errorf("UnlockFileEx %s: %w", f.Name(), err)
	}
	return nil
}
