// Package manifest holds the unit data model: manifests, their maintenance
// strategy, per-unit configuration and the derived run state.
package manifest

import (
	"path/filepath"
)

// Fixed names inside a unit directory
const (
	ShurikensDir  = "shurikens"
	NinjaDir      = ".ninja"
	ManifestFile  = "manifest.toml"
	OptionsFile   = "options.toml"
	LockFile      = "shuriken.lck"
	TemplateFile  = "config.tmpl"
	PackageSuffix = ".shuriken"
)

// MaintenanceKind tags the maintenance strategy of a unit
type MaintenanceKind string

const (
	MaintenanceKindNative MaintenanceKind = "native"
	MaintenanceKindScript MaintenanceKind = "script"
)

// Maintenance is a closed sum type: Native or Script
type Maintenance interface {
	Kind() MaintenanceKind
	clone() Maintenance
}

// Native units are started by spawning an executable
type Native struct {
	BinaryPath PlatformPath
	ConfigPath string
	Args       []string
}

func (Native) Kind() MaintenanceKind { return MaintenanceKindNative }

func (n Native) clone() Maintenance {
	n.Args = append([]string(nil), n.Args...)
	return n
}

// Script units are started and stopped by hook functions in a script
type Script struct {
	ScriptPath string
}

func (Script) Kind() MaintenanceKind { return MaintenanceKindScript }

func (s Script) clone() Maintenance { return s }

// UnitManifest is the immutable unit definition read from manifest.toml
type UnitManifest struct {
	Name        string
	ID          string
	Type        string
	AddPath     bool
	Maintenance Maintenance
}

// Clone returns a copy sharing nothing mutable with m
func (m UnitManifest) Clone() UnitManifest {
	if m.Maintenance != nil {
		m.Maintenance = m.Maintenance.clone()
	}
	return m
}

// UnitConfig carries the optional config file path and the template fields
type UnitConfig struct {
	ConfigPath string
	Fields     map[string]interface{}
}

// Clone deep-copies the field tree
func (c UnitConfig) Clone() UnitConfig {
	return UnitConfig{
		ConfigPath: c.ConfigPath,
		Fields:     cloneMap(c.Fields),
	}
}

// Merge overlays overrides onto the fields; nested tables merge key by key
func (c *UnitConfig) Merge(overrides map[string]interface{}) {
	if c.Fields == nil {
		c.Fields = make(map[string]interface{}, len(overrides))
	}
	mergeInto(c.Fields, overrides)
}

// Unit is one catalog entry
type Unit struct {
	Manifest UnitManifest
	Config   UnitConfig
}

// Clone returns a deep copy suitable for handing out of the catalog
func (u Unit) Clone() Unit {
	return Unit{
		Manifest: u.Manifest.Clone(),
		Config:   u.Config.Clone(),
	}
}

// UnitDir returns <root>/shurikens/<name>
func UnitDir(root, name string) string {
	return filepath.Join(root, ShurikensDir, name)
}

// WorkDir returns <root>/shurikens/<name>/.ninja, the directory every
// spawn, hook and relative path of the unit is resolved against
func WorkDir(root, name string) string {
	return filepath.Join(UnitDir(root, name), NinjaDir)
}

func mergeInto(dst, src map[string]interface{}) {
	for k, v := range src {
		if srcMap, ok := v.(map[string]interface{}); ok {
			if dstMap, ok := dst[k].(map[string]interface{}); ok {
				mergeInto(dstMap, srcMap)
				continue
			}
		}
		dst[k] = cloneValue(v)
	}
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch x := v.(type) {
	case map[string]interface{}:
		return cloneMap(x)
	case []interface{}:
		out := make([]interface{}, len(x))
		for i := range x {
			out[i] = cloneValue(x[i])
		}
		return out
	default:
		return v
	}
}
