package manifest

import (
	"github.com/core-tools/hsu-ninja/pkg/errors"
)

const maxUnitNameLength = 128

// ValidateUnitName checks a name that is used as a directory component
func ValidateUnitName(name string) error {
	if name == "" {
		return errors.NewValidationError("unit name cannot be empty", nil)
	}
	if len(name) > maxUnitNameLength {
		return errors.NewValidationError("unit name cannot exceed 128 characters", nil).WithContext("name", name)
	}
	if name[0] == '.' {
		return errors.NewValidationError("unit name cannot start with a dot", nil).WithContext("name", name)
	}
	for _, char := range name {
		if !isValidNameChar(char) {
			return errors.NewValidationError("unit name contains invalid characters: only letters, numbers, dots, hyphens, and underscores are allowed", nil).WithContext("name", name)
		}
	}
	return nil
}

// ValidateManifest checks the fields a unit needs to be started
func ValidateManifest(m UnitManifest) error {
	if m.Name == "" {
		return errors.NewValidationError("shuriken.name is required", nil)
	}
	if m.ID == "" {
		return errors.NewValidationError("shuriken.id is required", nil)
	}

	switch maintenance := m.Maintenance.(type) {
	case Native:
		if maintenance.BinaryPath.IsZero() {
			return errors.NewValidationError("binary-path is required for native maintenance", nil)
		}
	case Script:
		if maintenance.ScriptPath == "" {
			return errors.NewValidationError("script-path is required for script maintenance", nil)
		}
	case nil:
		return errors.NewValidationError("maintenance is required", nil)
	default:
		return errors.NewValidationError("unsupported maintenance strategy", nil)
	}
	return nil
}

func isValidNameChar(char rune) bool {
	return (char >= 'a' && char <= 'z') ||
		(char >= 'A' && char <= 'Z') ||
		(char >= '0' && char <= '9') ||
		char == '-' || char == '_' || char == '.'
}
