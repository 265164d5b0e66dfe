package maintenance

import (
	"context"

	"github.com/core-tools/hsu-ninja/pkg/errors"
	"github.com/core-tools/hsu-ninja/pkg/lockfile"
	"github.com/core-tools/hsu-ninja/pkg/manifest"
)

// Script lockfiles carry identity only. The lockfile is written after the
// start hook succeeds and removed after the stop hook succeeds, so a failed
// hook leaves the recorded state untouched.

func (r *Runner) startScript(ctx context.Context, name string, script manifest.Script, workDir string) error {
	logger := r.unitLogger(name)

	if err := r.hooks.ExecuteFunction(ctx, StartHook, script.ScriptPath, workDir); err != nil {
		logger.Errorf("Start hook failed, error: %v", err)
		return wrapHookError(name, err)
	}
	if err := r.locks.Write(workDir, lockfile.NewScriptRecord(name)); err != nil {
		return err
	}

	logger.Infof("Script unit started, script: %s", script.ScriptPath)
	return nil
}

func (r *Runner) stopScript(ctx context.Context, name string, script manifest.Script, workDir string) error {
	logger := r.unitLogger(name)

	if err := r.hooks.ExecuteFunction(ctx, StopHook, script.ScriptPath, workDir); err != nil {
		logger.Errorf("Stop hook failed, error: %v", err)
		return wrapHookError(name, err)
	}
	if err := r.locks.Remove(workDir, name); err != nil {
		return err
	}

	logger.Infof("Script unit stopped, script: %s", script.ScriptPath)
	return nil
}

// wrapHookError tags domain errors with the unit and wraps foreign ones
func wrapHookError(name string, err error) error {
	if domainErr, ok := err.(*errors.DomainError); ok {
		return domainErr.WithUnit(name)
	}
	return errors.NewHookError("hook failed", err).WithUnit(name)
}
