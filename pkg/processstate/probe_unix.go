//go:build !windows

package processstate

import (
	"errors"
	"syscall"
)

func killProcess(pid int) error {
	return syscall.Kill(pid, syscall.SIGKILL)
}

// isProcessRunning probes pid with signal 0; EPERM still means it exists
func isProcessRunning(pid int) (bool, error) {
	err := syscall.Kill(pid, syscall.Signal(0))
	if err == nil {
		return true, nil
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ESRCH:
			return false, nil
		case syscall.EPERM:
			return true, nil
		}
	}
	return false, err
}
