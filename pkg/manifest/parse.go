package manifest

import (
	"bytes"
	"fmt"

	"github.com/pelletier/go-toml/v2"
)

type manifestFile struct {
	Shuriken struct {
		Name        string          `toml:"name"`
		ID          string          `toml:"id"`
		Type        string          `toml:"type"`
		AddPath     bool            `toml:"add-path"`
		Maintenance maintenanceFile `toml:"maintenance"`
	} `toml:"shuriken"`
	Config struct {
		ConfigPath string                 `toml:"config-path"`
		Fields     map[string]interface{} `toml:"fields"`
	} `toml:"config"`
}

type maintenanceFile struct {
	Type       string      `toml:"type"`
	BinaryPath interface{} `toml:"binary-path"`
	ConfigPath string      `toml:"config-path"`
	Args       []string    `toml:"args"`
	ScriptPath string      `toml:"script-path"`
}

// ParseManifest decodes manifest.toml text into the unit definition and its
// default configuration
func ParseManifest(data []byte) (UnitManifest, UnitConfig, error) {
	var file manifestFile
	decoder := toml.NewDecoder(bytes.NewReader(data))
	if err := decoder.Decode(&file); err != nil {
		return UnitManifest{}, UnitConfig{}, err
	}

	maintenance, err := file.Shuriken.Maintenance.toMaintenance()
	if err != nil {
		return UnitManifest{}, UnitConfig{}, err
	}

	m := UnitManifest{
		Name:        file.Shuriken.Name,
		ID:          file.Shuriken.ID,
		Type:        file.Shuriken.Type,
		AddPath:     file.Shuriken.AddPath,
		Maintenance: maintenance,
	}
	if err := ValidateManifest(m); err != nil {
		return UnitManifest{}, UnitConfig{}, err
	}

	config := UnitConfig{
		ConfigPath: file.Config.ConfigPath,
		Fields:     file.Config.Fields,
	}
	if config.ConfigPath == "" {
		if native, ok := maintenance.(Native); ok {
			config.ConfigPath = native.ConfigPath
		}
	}
	if config.Fields == nil {
		config.Fields = make(map[string]interface{})
	}

	return m, config, nil
}

func (f maintenanceFile) toMaintenance() (Maintenance, error) {
	switch MaintenanceKind(f.Type) {
	case MaintenanceKindNative:
		binaryPath, err := platformPathFromTOML(f.BinaryPath)
		if err != nil {
			return nil, fmt.Errorf("binary-path: %w", err)
		}
		return Native{
			BinaryPath: binaryPath,
			ConfigPath: f.ConfigPath,
			Args:       f.Args,
		}, nil
	case MaintenanceKindScript:
		return Script{ScriptPath: f.ScriptPath}, nil
	case "":
		return nil, fmt.Errorf("shuriken.maintenance.type is required")
	default:
		return nil, fmt.Errorf("unsupported maintenance type %q (expected native or script)", f.Type)
	}
}

// ParseOptions decodes options.toml into a field table
func ParseOptions(data []byte) (map[string]interface{}, error) {
	options := make(map[string]interface{})
	if err := toml.Unmarshal(data, &options); err != nil {
		return nil, err
	}
	return options, nil
}
