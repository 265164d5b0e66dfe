package process

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/core-tools/hsu-ninja/pkg/errors"
	"github.com/core-tools/hsu-ninja/pkg/logging"
)

// ExecutionConfig describes one native spawn. WorkingDirectory is mandatory:
// relative executable paths are resolved against it and the child runs in it,
// the supervisor's own working directory is never consulted or changed.
type ExecutionConfig struct {
	ExecutablePath   string
	Args             []string
	Environment      []string
	WorkingDirectory string
	PathEntries      []string

	// Output receives stdout and stderr; pass an *os.File so the child
	// inherits the descriptor instead of being fed through a pipe
	Output io.Writer
}

// ExitFunc is invoked from the reaper goroutine once the child has exited
type ExitFunc func(pid int, state *os.ProcessState, err error)

// ResolveExecutablePath makes path absolute relative to workDir
func ResolveExecutablePath(path, workDir string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(workDir, path)
}

// Spawn starts the configured executable and returns as soon as the child
// exists. The child is waited for in the background so it never lingers as a
// zombie; onExit, when non-nil, receives its exit status.
func Spawn(ctx context.Context, execution ExecutionConfig, id string, logger logging.Logger, onExit ExitFunc) (*os.Process, error) {
	if ctx == nil {
		return nil, errors.NewValidationError("context cannot be nil", nil).WithUnit(id)
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.NewSpawnError(id, err)
	}

	if err := ValidateExecutionConfig(execution); err != nil {
		logger.Errorf("Execution configuration validation failed, id: %s, error: %v", id, err)
		return nil, errors.NewSpawnError(id, err)
	}

	executablePath := ResolveExecutablePath(execution.ExecutablePath, execution.WorkingDirectory)
	if err := ensureExecutable(executablePath); err != nil {
		return nil, errors.NewSpawnError(id, err).WithContext("executable_path", executablePath)
	}

	logger.Debugf("Spawning process, id: %s, executable path: '%s', args: %v, working directory: '%s'",
		id, executablePath, execution.Args, execution.WorkingDirectory)

	// ctx is not bound to the child: the unit outlives this call
	cmd := exec.Command(executablePath, execution.Args...)
	cmd.Dir = execution.WorkingDirectory
	cmd.Env = buildEnvironment(os.Environ(), execution.Environment, execution.PathEntries)
	cmd.Stdout = execution.Output
	cmd.Stderr = execution.Output
	setupProcessAttributes(cmd)

	if err := cmd.Start(); err != nil {
		return nil, errors.NewSpawnError(id, err).WithContext("executable_path", executablePath)
	}

	pid := cmd.Process.Pid
	logger.Infof("Spawned process, id: %s, PID: %d", id, pid)

	go func() {
		err := cmd.Wait()
		if err != nil {
			logger.Infof("Process exited, id: %s, PID: %d, status: %v", id, pid, err)
		} else {
			logger.Infof("Process exited cleanly, id: %s, PID: %d", id, pid)
		}
		if onExit != nil {
			onExit(pid, cmd.ProcessState, err)
		}
	}()

	return cmd.Process, nil
}

func buildEnvironment(base, extra, pathEntries []string) []string {
	env := make([]string, 0, len(base)+len(extra)+1)
	env = append(env, base...)
	env = append(env, extra...)
	if len(pathEntries) == 0 {
		return env
	}

	pathKey := "PATH"
	if runtime.GOOS == "windows" {
		pathKey = "Path"
	}
	current := ""
	filtered := env[:0]
	for _, kv := range env {
		key, value, _ := strings.Cut(kv, "=")
		if strings.EqualFold(key, "PATH") {
			current = value
			continue
		}
		filtered = append(filtered, kv)
	}

	path := strings.Join(pathEntries, string(os.PathListSeparator))
	if current != "" {
		path += string(os.PathListSeparator) + current
	}
	return append(filtered, pathKey+"="+path)
}

// ensureExecutable checks that path exists and carries an execute bit, adding one if missing
func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.NewIOError("executable does not exist", err).WithContext("path", path)
	}
	if info.IsDir() {
		return errors.NewValidationError("executable path is a directory", nil).WithContext("path", path)
	}

	if runtime.GOOS == "windows" {
		return nil
	}

	mode := info.Mode()
	if mode&0111 != 0 {
		return nil
	}
	if err := os.Chmod(path, mode|0111); err != nil {
		return errors.NewIOError("failed to make file executable", err).WithContext("path", path)
	}
	return nil
}
