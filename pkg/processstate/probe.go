// Package processstate answers OS-level questions about processes: when a
// process started, whether it is alive, and how to kill it by pid or name.
//
// Start times are the identity check against PID reuse: a pid recorded in a
// lockfile is only acted on when the process currently holding it reports
// the same start time.
package processstate

import (
	"os"
	"time"

	"github.com/core-tools/hsu-ninja/pkg/logging"
)

// Probe is the per-platform process capability used by the supervisor
type Probe interface {
	// StartTime reports the OS start timestamp of pid, false if unknown.
	StartTime(pid int) (time.Time, bool)
	// KillByPID forcibly terminates pid and reports whether it was signalled.
	KillByPID(pid int) bool
	// KillByName terminates every process whose executable name matches
	// and reports whether at least one was signalled.
	KillByName(name string) bool
	// IsRunning reports whether pid currently exists.
	IsRunning(pid int) bool
}

type osProbe struct {
	logger logging.Logger
}

// NewProbe returns the probe for the host operating system
func NewProbe(logger logging.Logger) Probe {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &osProbe{logger: logger}
}

func (p *osProbe) StartTime(pid int) (time.Time, bool) {
	if pid <= 0 {
		return time.Time{}, false
	}
	startTime, err := processStartTime(pid)
	if err != nil {
		p.logger.Debugf("Failed to read process start time, pid: %d, error: %v", pid, err)
		return time.Time{}, false
	}
	return startTime, true
}

func (p *osProbe) KillByPID(pid int) bool {
	if pid <= 0 || pid == os.Getpid() {
		return false
	}
	if err := killProcess(pid); err != nil {
		p.logger.Warnf("Failed to kill process, pid: %d, error: %v", pid, err)
		return false
	}
	p.logger.Infof("Killed process, pid: %d", pid)
	return true
}

func (p *osProbe) KillByName(name string) bool {
	if name == "" {
		return false
	}
	pids, err := findProcessesByName(name)
	if err != nil {
		p.logger.Warnf("Failed to enumerate processes, name: %s, error: %v", name, err)
		return false
	}

	killed := false
	self := os.Getpid()
	for _, pid := range pids {
		if pid == self {
			continue
		}
		if err := killProcess(pid); err != nil {
			p.logger.Warnf("Failed to kill process, name: %s, pid: %d, error: %v", name, pid, err)
			continue
		}
		p.logger.Infof("Killed process by name, name: %s, pid: %d", name, pid)
		killed = true
	}
	return killed
}

func (p *osProbe) IsRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	running, err := isProcessRunning(pid)
	if err != nil {
		p.logger.Debugf("Process liveness check failed, pid: %d, error: %v", pid, err)
	}
	return running
}

// SameStart reports whether two start timestamps fall within one tick of the
// clock the host reports start times in
func SameStart(a, b time.Time) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d < startTimeResolution
}
