package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/core-tools/hsu-ninja/pkg/errors"
	"github.com/core-tools/hsu-ninja/pkg/processfile"
	"github.com/core-tools/hsu-ninja/pkg/scripting"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ninja.yaml")
	require.NoError(t, os.WriteFile(path, []byte(text), 0644))
	return path
}

func TestLoadConfigFromFile(t *testing.T) {
	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		validate    func(*testing.T, *NinjaConfig, string)
	}{
		{
			name: "valid comprehensive config",
			configYAML: `
ninja:
  root: "/srv/ninja"
  skip_invalid_manifests: true
  stop_on_shutdown: true
logging:
  level: "debug"
  format: "json"
  output: "stdout"
watch:
  enabled: false
  debounce: 1s
scripting:
  libs: ["base", "os"]
`,
			validate: func(t *testing.T, config *NinjaConfig, _ string) {
				assert.Equal(t, "/srv/ninja", filepath.ToSlash(config.Ninja.Root))
				assert.True(t, config.Ninja.SkipInvalidManifests)
				assert.True(t, config.Ninja.StopOnShutdown)
				assert.Equal(t, "debug", config.Logging.Level)
				assert.Equal(t, "json", config.Logging.Format)
				assert.False(t, config.Watch.IsEnabled())
				assert.Equal(t, time.Second, config.Watch.Debounce)
				assert.Equal(t, []string{"base", "os"}, config.Scripting.Libs)
			},
		},
		{
			name: "minimal config gets defaults",
			configYAML: `
ninja:
  root: "units"
`,
			validate: func(t *testing.T, config *NinjaConfig, filename string) {
				assert.Equal(t, filepath.Join(filepath.Dir(filename), "units"), config.Ninja.Root)
				assert.Equal(t, string(processfile.UserService), config.Ninja.ServiceContext)
				assert.Equal(t, "info", config.Logging.Level)
				assert.Equal(t, "console", config.Logging.Format)
				assert.Equal(t, "stderr", config.Logging.Output)
				assert.True(t, config.Watch.IsEnabled())
				assert.Equal(t, 250*time.Millisecond, config.Watch.Debounce)
				assert.Equal(t, scripting.DefaultLibs(), config.Scripting.Libs)
			},
		},
		{
			name:        "invalid yaml",
			configYAML:  "ninja: [",
			expectError: true,
		},
		{
			name: "invalid service context",
			configYAML: `
ninja:
  service_context: "cluster"
`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filename := writeConfig(t, tt.configYAML)
			config, err := LoadConfigFromFile(filename)
			if tt.expectError {
				assert.Error(t, err)
				assert.True(t, errors.IsValidationError(err))
				return
			}
			require.NoError(t, err)
			require.NoError(t, ValidateConfig(config))
			tt.validate(t, config, filename)
		})
	}
}

func TestLoadConfigFromFile_Missing(t *testing.T) {
	_, err := LoadConfigFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.True(t, errors.IsIOError(err))
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*NinjaConfig)
	}{
		{"empty_root", func(c *NinjaConfig) { c.Ninja.Root = "" }},
		{"bad_level", func(c *NinjaConfig) { c.Logging.Level = "verbose" }},
		{"bad_format", func(c *NinjaConfig) { c.Logging.Format = "xml" }},
		{"bad_output", func(c *NinjaConfig) { c.Logging.Output = "syslog" }},
		{"negative_debounce", func(c *NinjaConfig) { c.Watch.Debounce = -time.Second }},
		{"negative_output_size", func(c *NinjaConfig) { c.Ninja.OutputMaxSize = -1 }},
		{"unknown_lib", func(c *NinjaConfig) { c.Scripting.Libs = []string{"ffi"} }},
	}

	assert.Error(t, ValidateConfig(nil))
	assert.NoError(t, ValidateConfig(DefaultConfig()))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			err := ValidateConfig(config)
			assert.Error(t, err)
			assert.True(t, errors.IsValidationError(err))
		})
	}
}
