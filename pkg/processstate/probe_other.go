//go:build !linux && !darwin && !windows

package processstate

import (
	"fmt"
	"runtime"
	"time"
)

const startTimeResolution = time.Nanosecond

func processStartTime(pid int) (time.Time, error) {
	return time.Time{}, fmt.Errorf("process start time is not supported on %s", runtime.GOOS)
}

func findProcessesByName(name string) ([]int, error) {
	return nil, fmt.Errorf("process enumeration is not supported on %s", runtime.GOOS)
}
