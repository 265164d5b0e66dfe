package manager

import (
	"context"

	"github.com/core-tools/hsu-ninja/pkg/errors"
	"github.com/core-tools/hsu-ninja/pkg/maintenance"
	"github.com/core-tools/hsu-ninja/pkg/manifest"
	"github.com/core-tools/hsu-ninja/pkg/templater"
)

// Start starts the unit through its maintenance strategy. The unit is copied
// out of the catalog and only its lifecycle lock is held while it starts, so
// a concurrent Start or Stop of the same unit waits for the outcome.
func (m *Manager) Start(ctx context.Context, name string) error {
	unit, err := m.Get(name)
	if err != nil {
		return err
	}
	unlock := m.lockUnit(name)
	defer unlock()

	m.logger.Infof("Starting unit, unit: %s", name)
	workDir := manifest.WorkDir(m.root, name)
	opts := maintenance.StartOptions{PathEntries: m.PathEntries()}
	if err := m.runner.Start(ctx, name, unit, workDir, opts); err != nil {
		m.logger.Errorf("Failed to start unit, unit: %s, error: %v", name, err)
		return withUnit(err, name)
	}

	m.setState(name, manifest.Running())
	m.logger.Infof("Unit started, unit: %s", name)
	return nil
}

// Stop stops the unit through its maintenance strategy
func (m *Manager) Stop(ctx context.Context, name string) error {
	unit, err := m.Get(name)
	if err != nil {
		return err
	}
	unlock := m.lockUnit(name)
	defer unlock()

	m.logger.Infof("Stopping unit, unit: %s", name)
	workDir := manifest.WorkDir(m.root, name)
	if err := m.runner.Stop(ctx, name, unit, workDir); err != nil {
		m.logger.Errorf("Failed to stop unit, unit: %s, error: %v", name, err)
		return withUnit(err, name)
	}

	m.setState(name, manifest.Idle())
	m.logger.Infof("Unit stopped, unit: %s", name)
	return nil
}

// StopAll stops every unit currently marked running and collects failures
func (m *Manager) StopAll(ctx context.Context) error {
	collection := errors.NewErrorCollection()
	for _, entry := range m.List(true) {
		if !entry.State.IsRunning() {
			continue
		}
		if err := m.Stop(ctx, entry.Name); err != nil {
			collection.Add(err)
		}
	}
	return collection.ToError()
}

// Configure renders the unit's config.tmpl into its configured config path
func (m *Manager) Configure(ctx context.Context, name string) error {
	unit, err := m.Get(name)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.NewInternalError("configure cancelled", err).WithUnit(name)
	}
	if unit.Config.ConfigPath == "" {
		return errors.NewValidationError("unit has no config path", nil).WithUnit(name)
	}

	ctxMap := templater.BuildContext(name, unit, m.root)
	if err := templater.GenerateConfig(manifest.UnitDir(m.root, name), unit.Config.ConfigPath, ctxMap); err != nil {
		m.logger.Errorf("Failed to generate config, unit: %s, error: %v", name, err)
		return withUnit(err, name)
	}

	m.logger.Infof("Config generated, unit: %s, path: %s", name, unit.Config.ConfigPath)
	return nil
}

// Logs returns up to lines trailing lines of the captured output of a native
// unit; lines <= 0 returns everything kept
func (m *Manager) Logs(name string, lines int) ([]string, error) {
	if _, err := m.Get(name); err != nil {
		return nil, err
	}
	out, err := m.output.Tail(manifest.WorkDir(m.root, name), lines)
	if err != nil {
		return nil, withUnit(err, name)
	}
	return out, nil
}

// Install unpacks a package under the root and returns the unit name. The
// catalog is not refreshed.
func (m *Manager) Install(ctx context.Context, packagePath string) (string, error) {
	return m.installer.Install(ctx, m.root, packagePath)
}

func withUnit(err error, name string) error {
	if domainErr, ok := err.(*errors.DomainError); ok {
		if _, tagged := domainErr.Context["unit"]; !tagged {
			domainErr.WithUnit(name)
		}
		return domainErr
	}
	return errors.NewInternalError("operation failed", err).WithUnit(name)
}
