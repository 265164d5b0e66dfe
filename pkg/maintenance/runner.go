// Package maintenance starts and stops units according to their manifest
// strategy and keeps the lockfile consistent with what was done.
package maintenance

import (
	"context"
	"os"
	"path/filepath"
	"runtime"

	"github.com/core-tools/hsu-ninja/pkg/errors"
	"github.com/core-tools/hsu-ninja/pkg/lockfile"
	"github.com/core-tools/hsu-ninja/pkg/logcollection"
	"github.com/core-tools/hsu-ninja/pkg/logging"
	"github.com/core-tools/hsu-ninja/pkg/manifest"
	"github.com/core-tools/hsu-ninja/pkg/processstate"
	"github.com/core-tools/hsu-ninja/pkg/scripting"
)

// Hook function names looked up in unit scripts
const (
	StartHook = "start"
	StopHook  = "stop"
)

// ExitHandler is told about native children that exited, whoever caused it
type ExitHandler func(name string, pid int, err error)

// RunnerConfig wires the runner's collaborators. Probe and Hooks are
// required; Locks and Logger default when nil. Without Output native
// children write to the null device.
type RunnerConfig struct {
	Probe  processstate.Probe
	Hooks  scripting.HookRunner
	Locks  *lockfile.Store
	Output *logcollection.Collector
	Logger logging.Logger
	OnExit ExitHandler
}

// StartOptions carry per-start inputs owned by the caller
type StartOptions struct {
	// PathEntries are prepended to PATH of native children
	PathEntries []string
}

// Runner dispatches start and stop to the unit's maintenance strategy
type Runner struct {
	probe  processstate.Probe
	hooks  scripting.HookRunner
	locks  *lockfile.Store
	output *logcollection.Collector
	logger logging.Logger
	onExit ExitHandler
}

// NewRunner creates a runner
func NewRunner(config RunnerConfig) (*Runner, error) {
	if config.Probe == nil {
		return nil, errors.NewValidationError("process probe is required", nil)
	}
	if config.Hooks == nil {
		return nil, errors.NewValidationError("hook runner is required", nil)
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	locks := config.Locks
	if locks == nil {
		locks = lockfile.NewStore(logger)
	}
	return &Runner{
		probe:  config.Probe,
		hooks:  config.Hooks,
		locks:  locks,
		output: config.Output,
		logger: logger,
		onExit: config.OnExit,
	}, nil
}

// Locks exposes the lockfile store used by the runner
func (r *Runner) Locks() *lockfile.Store {
	return r.locks
}

// Start brings the unit up inside workDir. name is the unit's catalog key,
// the directory it is installed under. A unit that already has a lockfile
// is rejected.
func (r *Runner) Start(ctx context.Context, name string, unit manifest.Unit, workDir string, opts StartOptions) error {
	if err := validateWorkDir(name, workDir); err != nil {
		return err
	}
	if r.locks.Exists(workDir) {
		return errors.NewConflictError("unit is already running", nil).
			WithUnit(name).
			WithContext("lockfile", lockfile.Path(workDir))
	}

	switch m := unit.Manifest.Maintenance.(type) {
	case manifest.Native:
		return r.startNative(ctx, name, m, workDir, opts)
	case manifest.Script:
		return r.startScript(ctx, name, m, workDir)
	default:
		return errors.NewInternalError("unit has no maintenance strategy", nil).WithUnit(name)
	}
}

// Stop brings the unit down. A unit without a lockfile is not running and
// is rejected.
func (r *Runner) Stop(ctx context.Context, name string, unit manifest.Unit, workDir string) error {
	if err := validateWorkDir(name, workDir); err != nil {
		return err
	}
	if !r.locks.Exists(workDir) {
		return errors.NewConflictError("unit is not running", nil).
			WithUnit(name).
			WithContext("lockfile", lockfile.Path(workDir))
	}

	switch m := unit.Manifest.Maintenance.(type) {
	case manifest.Native:
		return r.stopNative(name, m, workDir)
	case manifest.Script:
		return r.stopScript(ctx, name, m, workDir)
	default:
		return errors.NewInternalError("unit has no maintenance strategy", nil).WithUnit(name)
	}
}

func (r *Runner) unitLogger(name string) logging.Logger {
	return logging.WithPrefix(r.logger, "unit: "+name+" , ")
}

// binaryPath resolves the host variant of the native binary
func binaryPath(name string, native manifest.Native) (string, error) {
	path := native.BinaryPath.Host()
	if path == "" {
		return "", errors.NewValidationError("no binary path for host platform", nil).
			WithUnit(name).
			WithContext("platform", runtime.GOOS)
	}
	return path, nil
}

// binaryName is the process name the binary runs under
func binaryName(path string) string {
	return filepath.Base(path)
}

func validateWorkDir(name, workDir string) error {
	if !filepath.IsAbs(workDir) {
		return errors.NewValidationError("working directory must be absolute", nil).WithUnit(name).WithContext("workdir", workDir)
	}
	info, err := os.Stat(workDir)
	if err != nil {
		return errors.NewIOError("working directory is not accessible", err).WithUnit(name).WithContext("workdir", workDir)
	}
	if !info.IsDir() {
		return errors.NewValidationError("working directory is not a directory", nil).WithUnit(name).WithContext("workdir", workDir)
	}
	return nil
}
