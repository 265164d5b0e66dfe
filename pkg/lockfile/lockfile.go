// Package lockfile reads and writes the on-disk record whose presence marks a
// unit as running.
//
// The record lives at <unit>/.ninja/shuriken.lck. Native units store the pid
// together with the OS-reported process start time so a later stop can tell
// the original process apart from an unrelated one that inherited the pid.
package lockfile

import (
	"os"
	"path/filepath"
	"time"

	"github.com/core-tools/hsu-ninja/pkg/atomicfile"
	"github.com/core-tools/hsu-ninja/pkg/errors"
	"github.com/core-tools/hsu-ninja/pkg/logging"
	"github.com/core-tools/hsu-ninja/pkg/manifest"

	"github.com/pelletier/go-toml/v2"
)

// Record is the persisted lock content
type Record struct {
	Name string                   `toml:"name"`
	Kind manifest.MaintenanceKind `toml:"kind"`
	PID  int                      `toml:"pid,omitempty"`
	// StartTime is the process start timestamp in Unix nanoseconds
	StartTime int64 `toml:"start-time,omitempty"`
}

// NewNativeRecord records a spawned process
func NewNativeRecord(name string, pid int, startTime time.Time) Record {
	return Record{
		Name:      name,
		Kind:      manifest.MaintenanceKindNative,
		PID:       pid,
		StartTime: startTime.UnixNano(),
	}
}

// NewScriptRecord records a unit started through a hook; identity only
func NewScriptRecord(name string) Record {
	return Record{
		Name: name,
		Kind: manifest.MaintenanceKindScript,
	}
}

// HasProcess reports whether the record identifies a process
func (r Record) HasProcess() bool {
	return r.PID > 0 && r.StartTime != 0
}

// Started returns the recorded process start time
func (r Record) Started() time.Time {
	return time.Unix(0, r.StartTime)
}

// Path returns the lockfile location inside a unit working directory
func Path(workDir string) string {
	return filepath.Join(workDir, manifest.LockFile)
}

// Store performs lockfile I/O for units
type Store struct {
	logger logging.Logger
}

// NewStore creates a lockfile store
func NewStore(logger logging.Logger) *Store {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Store{logger: logger}
}

// Exists reports whether the unit is marked running, whatever the content
func (s *Store) Exists(workDir string) bool {
	_, err := os.Lstat(Path(workDir))
	return err == nil
}

// Write atomically persists record into workDir
func (s *Store) Write(workDir string, record Record) error {
	path := Path(workDir)
	s.logger.Debugf("Writing lockfile, unit: %s, kind: %s, pid: %d, path: %s", record.Name, record.Kind, record.PID, path)

	data, err := toml.Marshal(record)
	if err != nil {
		return errors.NewInternalError("failed to encode lockfile", err).WithUnit(record.Name)
	}
	if err := atomicfile.WriteFile(path, data, 0644); err != nil {
		s.logger.Errorf("Failed to write lockfile, unit: %s, path: %s, error: %v", record.Name, path, err)
		return errors.NewIOError("failed to write lockfile", err).WithUnit(record.Name).WithContext("lockfile", path)
	}

	s.logger.Infof("Lockfile written, unit: %s, pid: %d, path: %s", record.Name, record.PID, path)
	return nil
}

// Read loads the record from workDir. A missing file yields an IO error
// wrapping fs.ErrNotExist; unreadable content yields a config parse error.
func (s *Store) Read(workDir, name string) (Record, error) {
	path := Path(workDir)
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, errors.NewIOError("failed to read lockfile", err).WithUnit(name).WithContext("lockfile", path)
	}

	var record Record
	if err := toml.Unmarshal(data, &record); err != nil {
		s.logger.Warnf("Lockfile content is not readable, unit: %s, path: %s, error: %v", name, path, err)
		return Record{}, errors.NewConfigParseError(name, err).WithContext("lockfile", path)
	}
	return record, nil
}

// Remove deletes the lockfile; a missing file is not an error
func (s *Store) Remove(workDir, name string) error {
	path := Path(workDir)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.Errorf("Failed to remove lockfile, unit: %s, path: %s, error: %v", name, path, err)
		return errors.NewIOError("failed to remove lockfile", err).WithUnit(name).WithContext("lockfile", path)
	}
	s.logger.Debugf("Lockfile removed, unit: %s, path: %s", name, path)
	return nil
}
