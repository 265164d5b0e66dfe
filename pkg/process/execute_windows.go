//go:build windows

package process

import (
	"os/exec"
	"syscall"
)

// setupProcessAttributes detaches the child from the supervisor's console
// process group so Ctrl+C in the front-end does not stop the unit
func setupProcessAttributes(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}
