// Package scanner discovers units below <root>/shurikens and derives their
// state from the lockfiles it finds.
package scanner

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/core-tools/hsu-ninja/pkg/errors"
	"github.com/core-tools/hsu-ninja/pkg/lockfile"
	"github.com/core-tools/hsu-ninja/pkg/logging"
	"github.com/core-tools/hsu-ninja/pkg/manifest"
)

// Options tune a scan
type Options struct {
	// SkipInvalid logs and skips units whose manifest or options cannot be
	// parsed instead of aborting the whole scan.
	SkipInvalid bool
	Logger      logging.Logger
}

// Result is a complete, freshly built catalog. Nothing in it is shared with
// earlier results.
type Result struct {
	Units  map[string]manifest.Unit
	States map[string]manifest.UnitState
}

// Scan walks <root>/shurikens/*/.ninja once. A missing shurikens directory
// yields an empty result.
func Scan(ctx context.Context, root string, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	locks := lockfile.NewStore(logger)

	result := &Result{
		Units:  make(map[string]manifest.Unit),
		States: make(map[string]manifest.UnitState),
	}

	shurikensDir := filepath.Join(root, manifest.ShurikensDir)
	entries, err := os.ReadDir(shurikensDir)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debugf("Shurikens directory does not exist, path: %s", shurikensDir)
			return result, nil
		}
		return nil, errors.NewIOError("failed to read shurikens directory", err).WithContext("path", shurikensDir)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, errors.NewInternalError("scan cancelled", err)
		}
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		name := entry.Name()
		workDir := manifest.WorkDir(root, name)
		manifestPath := filepath.Join(workDir, manifest.ManifestFile)
		if _, err := os.Stat(manifestPath); err != nil {
			continue
		}

		unit, err := loadUnit(name, workDir)
		if err != nil {
			if opts.SkipInvalid {
				logger.Warnf("Skipping invalid unit, unit: %s, error: %v", name, err)
				continue
			}
			logger.Errorf("Scan aborted, unit: %s, error: %v", name, err)
			return nil, err
		}

		result.Units[name] = unit
		if locks.Exists(workDir) {
			result.States[name] = manifest.Running()
		} else {
			result.States[name] = manifest.Idle()
		}
	}

	logger.Debugf("Scan complete, root: %s, units: %d", root, len(result.Units))
	return result, nil
}

func loadUnit(name, workDir string) (manifest.Unit, error) {
	if err := manifest.ValidateUnitName(name); err != nil {
		return manifest.Unit{}, errors.NewConfigParseError(name, err)
	}

	manifestPath := filepath.Join(workDir, manifest.ManifestFile)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return manifest.Unit{}, errors.NewIOError("failed to read manifest", err).WithUnit(name).WithContext("path", manifestPath)
	}
	m, config, err := manifest.ParseManifest(data)
	if err != nil {
		return manifest.Unit{}, errors.NewConfigParseError(name, err).WithContext("path", manifestPath)
	}

	optionsPath := filepath.Join(workDir, manifest.OptionsFile)
	data, err = os.ReadFile(optionsPath)
	switch {
	case err == nil:
		overrides, err := manifest.ParseOptions(data)
		if err != nil {
			return manifest.Unit{}, errors.NewConfigParseError(name, err).WithContext("path", optionsPath)
		}
		config.Merge(overrides)
	case !os.IsNotExist(err):
		return manifest.Unit{}, errors.NewIOError("failed to read options", err).WithUnit(name).WithContext("path", optionsPath)
	}

	return manifest.Unit{Manifest: m, Config: config}, nil
}
