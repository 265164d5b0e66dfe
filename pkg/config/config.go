// Package config loads the YAML configuration shared by ninjactl and ninjasrv.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/core-tools/hsu-ninja/pkg/errors"
	"github.com/core-tools/hsu-ninja/pkg/logging"
	"github.com/core-tools/hsu-ninja/pkg/processfile"
	"github.com/core-tools/hsu-ninja/pkg/scripting"

	"gopkg.in/yaml.v3"
)

// NinjaConfig represents the top-level configuration file structure
type NinjaConfig struct {
	Ninja     NinjaOptions        `yaml:"ninja"`
	Logging   logging.ZapConfig   `yaml:"logging"`
	Watch     WatchOptions        `yaml:"watch"`
	Scripting scripting.LuaConfig `yaml:"scripting"`
}

// NinjaOptions represents supervisor-level configuration
type NinjaOptions struct {
	Root                 string `yaml:"root"`
	ServiceContext       string `yaml:"service_context,omitempty"` // system, user, session
	SkipInvalidManifests bool   `yaml:"skip_invalid_manifests"`
	StopOnShutdown       bool   `yaml:"stop_on_shutdown"`
	PIDFileDirectory     string `yaml:"pid_file_directory,omitempty"`
	OutputMaxSize        int64  `yaml:"output_max_size,omitempty"` // bytes, native unit output log rotation
}

// WatchOptions configure the daemon's auto-refresh
type WatchOptions struct {
	Enabled  *bool         `yaml:"enabled,omitempty"` // Pointer to distinguish unset from false
	Debounce time.Duration `yaml:"debounce,omitempty"`
}

// IsEnabled reports whether the watcher should run
func (w WatchOptions) IsEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

// DefaultConfig returns the configuration used when no file is given
func DefaultConfig() *NinjaConfig {
	config := &NinjaConfig{}
	_ = setConfigDefaults(config)
	return config
}

// LoadConfigFromFile loads configuration from a YAML file
func LoadConfigFromFile(filename string) (*NinjaConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	config, err := ParseConfig(data)
	if err != nil {
		if domainErr, ok := err.(*errors.DomainError); ok {
			return nil, domainErr.WithContext("filename", filename)
		}
		return nil, err
	}

	// relative roots are taken relative to the configuration file
	if !filepath.IsAbs(config.Ninja.Root) {
		config.Ninja.Root = filepath.Join(filepath.Dir(filename), config.Ninja.Root)
	}
	return config, nil
}

// ParseConfig decodes YAML text and applies defaults
func ParseConfig(data []byte) (*NinjaConfig, error) {
	var config NinjaConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.NewValidationError("failed to parse YAML configuration", err)
	}

	if err := setConfigDefaults(&config); err != nil {
		return nil, errors.NewValidationError("failed to apply configuration defaults", err)
	}

	return &config, nil
}

// ValidateConfig validates the entire configuration structure
func ValidateConfig(config *NinjaConfig) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	if err := validateNinjaOptions(&config.Ninja); err != nil {
		return errors.NewValidationError("invalid ninja configuration", err)
	}

	if err := validateLoggingConfig(&config.Logging); err != nil {
		return errors.NewValidationError("invalid logging configuration", err)
	}

	if config.Watch.Debounce < 0 {
		return errors.NewValidationError(
			fmt.Sprintf("invalid watch debounce: %s", config.Watch.Debounce),
			nil,
		)
	}

	if err := scripting.ValidateLuaConfig(config.Scripting); err != nil {
		return errors.NewValidationError("invalid scripting configuration", err)
	}

	return nil
}

// setConfigDefaults applies default values to configuration
func setConfigDefaults(config *NinjaConfig) error {
	serviceContext, err := processfile.ParseServiceContext(config.Ninja.ServiceContext)
	if err != nil {
		return err
	}
	config.Ninja.ServiceContext = string(serviceContext)

	if config.Ninja.Root == "" {
		config.Ninja.Root = processfile.DataDirectory(serviceContext, processfile.DefaultAppName)
	}

	defaults := logging.DefaultZapConfig()
	if config.Logging.Level == "" {
		config.Logging.Level = defaults.Level
	}
	if config.Logging.Format == "" {
		config.Logging.Format = defaults.Format
	}
	if config.Logging.Output == "" {
		config.Logging.Output = defaults.Output
	}

	if config.Watch.Debounce == 0 {
		config.Watch.Debounce = 250 * time.Millisecond
	}

	if len(config.Scripting.Libs) == 0 {
		config.Scripting.Libs = scripting.DefaultLibs()
	}

	return nil
}

// Validation functions

func validateNinjaOptions(options *NinjaOptions) error {
	if options.Root == "" {
		return errors.NewValidationError("root directory is required", nil)
	}
	if _, err := processfile.ParseServiceContext(options.ServiceContext); err != nil {
		return err
	}
	if options.OutputMaxSize < 0 {
		return errors.NewValidationError("output_max_size cannot be negative", nil)
	}
	return nil
}

func validateLoggingConfig(config *logging.ZapConfig) error {
	if _, err := logging.ParseLevel(config.Level); err != nil {
		return errors.NewValidationError(
			fmt.Sprintf("invalid log level: %s", config.Level),
			err,
		).WithContext("valid_levels", "debug, info, warn, error")
	}

	switch config.Format {
	case "json", "console":
	default:
		return errors.NewValidationError(
			fmt.Sprintf("invalid log format: %s", config.Format),
			nil,
		).WithContext("valid_formats", "json, console")
	}

	switch config.Output {
	case "stdout", "stderr":
	default:
		return errors.NewValidationError(
			fmt.Sprintf("invalid log output: %s", config.Output),
			nil,
		).WithContext("valid_outputs", "stdout, stderr")
	}

	return nil
}
