// Package manager owns the unit catalog and exposes every supervisor
// operation the front-ends use.
//
// The catalog and the derived states live in two maps, each behind its own
// RWMutex (lock order: catalog, then states). Refresh builds both maps from
// scratch and swaps them in one step; readers always see one generation.
package manager

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/core-tools/hsu-ninja/pkg/errors"
	"github.com/core-tools/hsu-ninja/pkg/installer"
	"github.com/core-tools/hsu-ninja/pkg/lockfile"
	"github.com/core-tools/hsu-ninja/pkg/logcollection"
	"github.com/core-tools/hsu-ninja/pkg/logging"
	"github.com/core-tools/hsu-ninja/pkg/maintenance"
	"github.com/core-tools/hsu-ninja/pkg/manifest"
	"github.com/core-tools/hsu-ninja/pkg/process"
	"github.com/core-tools/hsu-ninja/pkg/processstate"
	"github.com/core-tools/hsu-ninja/pkg/scanner"
	"github.com/core-tools/hsu-ninja/pkg/scripting"
)

// Options configure a Manager. Probe and Hooks default to the OS probe and
// a Lua engine opening ScriptLibs.
type Options struct {
	Root                 string
	SkipInvalidManifests bool
	ScriptLibs           []string
	OutputMaxSize        int64 // rotation threshold of native unit output logs
	Probe                processstate.Probe
	Hooks                scripting.HookRunner
}

// UnitListing is one List entry; State is only set when requested
type UnitListing struct {
	Name  string              `json:"name"`
	State *manifest.UnitState `json:"state,omitempty"`
}

type Manager struct {
	root        string
	skipInvalid bool
	logger      logging.Logger
	runner      *maintenance.Runner
	locks       *lockfile.Store
	output      *logcollection.Collector
	installer   *installer.Installer

	catalogMutex sync.RWMutex
	catalog      map[string]manifest.Unit

	statesMutex sync.RWMutex
	states      map[string]manifest.UnitState

	// serializes lifecycle transitions per unit; never held with the map locks
	unitLocksMutex sync.Mutex
	unitLocks      map[string]*sync.Mutex
}

// NewManager builds a manager for options.Root and performs the initial scan
func NewManager(ctx context.Context, options Options, logger logging.Logger) (*Manager, error) {
	if ctx == nil {
		return nil, errors.NewValidationError("context cannot be nil", nil)
	}
	if options.Root == "" {
		return nil, errors.NewValidationError("root directory is required", nil)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	root, err := filepath.Abs(options.Root)
	if err != nil {
		return nil, errors.NewValidationError("invalid root directory", err).WithContext("root", options.Root)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil, errors.NewNotFoundError("root directory does not exist", err).WithContext("root", root)
	}

	probe := options.Probe
	if probe == nil {
		probe = processstate.NewProbe(logger)
	}
	hooks := options.Hooks
	if hooks == nil {
		engine, err := scripting.NewLuaEngine(scripting.LuaConfig{Libs: options.ScriptLibs}, logger)
		if err != nil {
			return nil, err
		}
		hooks = engine
	}

	m := &Manager{
		root:        root,
		skipInvalid: options.SkipInvalidManifests,
		logger:      logger,
		locks:       lockfile.NewStore(logger),
		output:      logcollection.NewCollector(logcollection.CollectorConfig{MaxSize: options.OutputMaxSize}, logger),
		installer:   installer.NewInstaller(logger),
		catalog:     make(map[string]manifest.Unit),
		states:      make(map[string]manifest.UnitState),
		unitLocks:   make(map[string]*sync.Mutex),
	}

	runner, err := maintenance.NewRunner(maintenance.RunnerConfig{
		Probe:  probe,
		Hooks:  hooks,
		Locks:  m.locks,
		Output: m.output,
		Logger: logger,
		OnExit: m.handleExit,
	})
	if err != nil {
		return nil, err
	}
	m.runner = runner

	if err := m.Refresh(ctx); err != nil {
		return nil, err
	}

	logger.Infof("Manager created, root: %s, units: %d", root, len(m.catalog))
	return m, nil
}

// Root returns the absolute root directory
func (m *Manager) Root() string {
	return m.root
}

// Refresh rescans the root and replaces catalog and states together. On
// failure the current catalog is kept.
func (m *Manager) Refresh(ctx context.Context) error {
	result, err := scanner.Scan(ctx, m.root, scanner.Options{
		SkipInvalid: m.skipInvalid,
		Logger:      m.logger,
	})
	if err != nil {
		m.logger.Errorf("Refresh failed, root: %s, error: %v", m.root, err)
		return err
	}

	m.catalogMutex.Lock()
	m.statesMutex.Lock()
	m.catalog = result.Units
	m.states = result.States
	m.statesMutex.Unlock()
	m.catalogMutex.Unlock()

	m.logger.Debugf("Refreshed catalog, units: %d", len(result.Units))
	return nil
}

// List returns the units sorted by name, with their states when withState
// is set. Names and states come from the same generation.
func (m *Manager) List(withState bool) []UnitListing {
	m.catalogMutex.RLock()
	m.statesMutex.RLock()
	listing := make([]UnitListing, 0, len(m.catalog))
	for name := range m.catalog {
		entry := UnitListing{Name: name}
		if withState {
			state := m.states[name]
			entry.State = &state
		}
		listing = append(listing, entry)
	}
	m.statesMutex.RUnlock()
	m.catalogMutex.RUnlock()

	sort.Slice(listing, func(i, j int) bool {
		return listing[i].Name < listing[j].Name
	})
	return listing
}

// Get returns a deep copy of the unit
func (m *Manager) Get(name string) (manifest.Unit, error) {
	m.catalogMutex.RLock()
	defer m.catalogMutex.RUnlock()

	unit, ok := m.catalog[name]
	if !ok {
		return manifest.Unit{}, errors.NewNotFoundError("unit not found", nil).WithUnit(name)
	}
	return unit.Clone(), nil
}

// State returns the current state of the unit
func (m *Manager) State(name string) (manifest.UnitState, error) {
	m.statesMutex.RLock()
	defer m.statesMutex.RUnlock()

	state, ok := m.states[name]
	if !ok {
		return manifest.UnitState{}, errors.NewNotFoundError("unit not found", nil).WithUnit(name)
	}
	return state, nil
}

// Remove deletes the unit directory and forgets the unit. A running unit is
// not stopped first.
func (m *Manager) Remove(name string) error {
	if err := manifest.ValidateUnitName(name); err != nil {
		return err
	}
	if _, err := m.Get(name); err != nil {
		return err
	}
	unlock := m.lockUnit(name)
	defer unlock()

	unitDir := manifest.UnitDir(m.root, name)
	m.logger.Infof("Removing unit, unit: %s, path: %s", name, unitDir)
	if err := os.RemoveAll(unitDir); err != nil {
		return errors.NewIOError("failed to remove unit directory", err).WithUnit(name).WithContext("path", unitDir)
	}

	m.catalogMutex.Lock()
	m.statesMutex.Lock()
	delete(m.catalog, name)
	delete(m.states, name)
	m.statesMutex.Unlock()
	m.catalogMutex.Unlock()

	m.logger.Infof("Unit removed, unit: %s", name)
	return nil
}

// PathEntries returns the binary directories of native units that ask to be
// added to PATH, ordered by unit name
func (m *Manager) PathEntries() []string {
	m.catalogMutex.RLock()
	names := make([]string, 0, len(m.catalog))
	for name, unit := range m.catalog {
		if unit.Manifest.AddPath {
			names = append(names, name)
		}
	}
	binaries := make(map[string]string, len(names))
	for _, name := range names {
		if native, ok := m.catalog[name].Manifest.Maintenance.(manifest.Native); ok {
			binaries[name] = native.BinaryPath.Host()
		}
	}
	m.catalogMutex.RUnlock()

	sort.Strings(names)
	entries := make([]string, 0, len(names))
	for _, name := range names {
		binary, ok := binaries[name]
		if !ok || binary == "" {
			continue
		}
		resolved := process.ResolveExecutablePath(binary, manifest.WorkDir(m.root, name))
		entries = append(entries, filepath.Dir(resolved))
	}
	return entries
}

// lockUnit takes the lifecycle lock of name and returns its release
func (m *Manager) lockUnit(name string) func() {
	m.unitLocksMutex.Lock()
	lock, ok := m.unitLocks[name]
	if !ok {
		lock = &sync.Mutex{}
		m.unitLocks[name] = lock
	}
	m.unitLocksMutex.Unlock()

	lock.Lock()
	return lock.Unlock
}

// setState records a transition for a unit that is still in the catalog
func (m *Manager) setState(name string, state manifest.UnitState) {
	m.statesMutex.Lock()
	defer m.statesMutex.Unlock()
	if _, ok := m.states[name]; ok {
		m.states[name] = state
	}
}

// handleExit marks a native unit failed when its child exits while the
// lockfile still names it, which means nobody asked it to stop
func (m *Manager) handleExit(name string, pid int, exitErr error) {
	unlock := m.lockUnit(name)
	defer unlock()

	workDir := manifest.WorkDir(m.root, name)
	record, err := m.locks.Read(workDir, name)
	if err != nil || record.PID != pid {
		return
	}

	reason := "process exited"
	if exitErr != nil {
		reason += ": " + exitErr.Error()
	}
	m.logger.Warnf("Unit process exited unexpectedly, unit: %s, PID: %d, reason: %s", name, pid, reason)

	if err := m.locks.Remove(workDir, name); err != nil {
		m.logger.Errorf("Failed to clear lockfile of exited unit, unit: %s, error: %v", name, err)
	}
	m.setState(name, manifest.Errored(reason))
}
