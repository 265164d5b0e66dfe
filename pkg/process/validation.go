package process

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/core-tools/hsu-ninja/pkg/errors"
)

// ValidateExecutionConfig validates execution configuration
func ValidateExecutionConfig(config ExecutionConfig) error {
	if config.ExecutablePath == "" {
		return errors.NewValidationError("executable path is required", nil)
	}

	if config.WorkingDirectory == "" {
		return errors.NewValidationError("working directory is required", nil)
	}
	if !filepath.IsAbs(config.WorkingDirectory) {
		return errors.NewValidationError("working directory must be absolute path", nil).WithContext("working_directory", config.WorkingDirectory)
	}
	if info, err := os.Stat(config.WorkingDirectory); err != nil {
		return errors.NewIOError("working directory not accessible: "+config.WorkingDirectory, err)
	} else if !info.IsDir() {
		return errors.NewValidationError("working directory is not a directory: "+config.WorkingDirectory, nil)
	}

	for _, env := range config.Environment {
		if !strings.Contains(env, "=") {
			return errors.NewValidationError("invalid environment variable format: "+env, nil)
		}
	}

	return nil
}
