package maintenance

import (
	"context"
	"os"

	"github.com/core-tools/hsu-ninja/pkg/errors"
	"github.com/core-tools/hsu-ninja/pkg/lockfile"
	"github.com/core-tools/hsu-ninja/pkg/manifest"
	"github.com/core-tools/hsu-ninja/pkg/process"
	"github.com/core-tools/hsu-ninja/pkg/processstate"
)

func (r *Runner) startNative(ctx context.Context, name string, native manifest.Native, workDir string, opts StartOptions) error {
	logger := r.unitLogger(name)

	binary, err := binaryPath(name, native)
	if err != nil {
		return err
	}

	execution := process.ExecutionConfig{
		ExecutablePath:   binary,
		Args:             native.Args,
		WorkingDirectory: workDir,
		PathEntries:      opts.PathEntries,
	}
	if r.output != nil {
		output, err := r.output.Open(workDir, name)
		if err != nil {
			return errors.NewSpawnError(name, err)
		}
		// the child keeps its own descriptor
		defer output.Close()
		execution.Output = output
	}

	// exits are reported only once the lockfile outcome is settled
	settled := make(chan struct{})
	defer close(settled)

	proc, err := process.Spawn(ctx, execution, name, logger, func(pid int, _ *os.ProcessState, err error) {
		<-settled
		if r.onExit != nil {
			r.onExit(name, pid, err)
		}
	})
	if err != nil {
		return err
	}
	pid := proc.Pid

	startTime, ok := r.probe.StartTime(pid)
	if !ok {
		logger.Errorf("Failed to read process start time, killing child, PID: %d", pid)
		r.probe.KillByPID(pid)
		return errors.NewSpawnError(name, errors.NewInternalError("process start time unavailable", nil)).
			WithContext("pid", pid)
	}

	if err := r.locks.Write(workDir, lockfile.NewNativeRecord(name, pid, startTime)); err != nil {
		logger.Errorf("Failed to persist lockfile, killing child, PID: %d", pid)
		r.probe.KillByPID(pid)
		return err
	}

	logger.Infof("Native unit started, PID: %d, start time: %s", pid, startTime)
	return nil
}

// stopNative removes the lockfile before killing. A kill by the binary name
// is tried first; the recorded pid is only used when the process holding it
// still reports the recorded start time.
func (r *Runner) stopNative(name string, native manifest.Native, workDir string) error {
	logger := r.unitLogger(name)

	record, readErr := r.locks.Read(workDir, name)
	if readErr != nil {
		logger.Warnf("Lockfile unreadable, falling back to name based termination, error: %v", readErr)
	}
	if err := r.locks.Remove(workDir, name); err != nil {
		return err
	}

	binary, err := binaryPath(name, native)
	if err != nil {
		return err
	}
	processName := binaryName(binary)

	if r.probe.KillByName(processName) {
		logger.Infof("Native unit stopped by name, process: %s", processName)
		return nil
	}

	if readErr == nil && record.HasProcess() {
		current, ok := r.probe.StartTime(record.PID)
		switch {
		case !r.probe.IsRunning(record.PID):
			logger.Warnf("Recorded process no longer exists, PID: %d", record.PID)
		case !ok:
			logger.Warnf("Start time of recorded process unavailable, refusing to kill, PID: %d", record.PID)
		case !processstate.SameStart(current, record.Started()):
			logger.Warnf("PID reused by another process, refusing to kill, PID: %d, recorded start: %s, current start: %s",
				record.PID, record.Started(), current)
		default:
			if r.probe.KillByPID(record.PID) {
				logger.Infof("Native unit stopped by PID, PID: %d", record.PID)
				return nil
			}
		}
	}

	return errors.NewProcessTerminationError("failed to terminate unit process", readErr).
		WithUnit(name).
		WithContext("process", processName).
		WithContext("pid", record.PID)
}
