//go:build darwin

package processstate

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// kinfo_proc reports p_starttime as a timeval
const startTimeResolution = time.Microsecond

// MAXCOMLEN on darwin
const maxCommLength = 16

func processStartTime(pid int) (time.Time, error) {
	info, err := unix.SysctlKinfoProc("kern.proc.pid", pid)
	if err != nil {
		return time.Time{}, err
	}
	if int(info.Proc.P_pid) != pid {
		return time.Time{}, fmt.Errorf("process %d not found", pid)
	}
	started := info.Proc.P_starttime
	return time.Unix(int64(started.Sec), int64(started.Usec)*int64(time.Microsecond)), nil
}

func findProcessesByName(name string) ([]int, error) {
	procs, err := unix.SysctlKinfoProcSlice("kern.proc.all")
	if err != nil {
		return nil, err
	}

	comm := name
	if len(comm) > maxCommLength {
		comm = comm[:maxCommLength]
	}

	var pids []int
	for _, proc := range procs {
		if unix.ByteSliceToString(proc.Proc.P_comm[:]) == comm {
			pids = append(pids, int(proc.Proc.P_pid))
		}
	}
	return pids, nil
}
