// Package installer unpacks .shuriken packages into <root>/shurikens.
//
// A package is a zip archive named <unit>.shuriken. Files at the archive
// root are shared by every platform; files under <GOOS>-<GOARCH>/ are only
// extracted on that platform, with the prefix stripped.
package installer

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/core-tools/hsu-ninja/pkg/errors"
	"github.com/core-tools/hsu-ninja/pkg/logging"
	"github.com/core-tools/hsu-ninja/pkg/manifest"
)

// HostPlatform returns the payload directory name for this host
func HostPlatform() string {
	return runtime.GOOS + "-" + runtime.GOARCH
}

// Installer validates and extracts packages
type Installer struct {
	platform string
	logger   logging.Logger
}

// NewInstaller creates an installer for the host platform
func NewInstaller(logger logging.Logger) *Installer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Installer{
		platform: HostPlatform(),
		logger:   logger,
	}
}

type payloadEntry struct {
	file *zip.File
	rel  string // slash separated, relative to the unit directory
	dir  bool
}

// Install extracts the package at packagePath under root and returns the
// installed unit name. Nothing becomes visible in shurikens/ unless the
// whole package was extracted.
func (i *Installer) Install(ctx context.Context, root, packagePath string) (string, error) {
	if !strings.EqualFold(filepath.Ext(packagePath), manifest.PackageSuffix) {
		return "", errors.NewInvalidInputError("package must have the "+manifest.PackageSuffix+" extension", nil).
			WithContext("path", packagePath)
	}
	name := strings.TrimSuffix(filepath.Base(packagePath), filepath.Ext(packagePath))
	if err := manifest.ValidateUnitName(name); err != nil {
		return "", errors.NewInvalidInputError("package name is not a valid unit name", err).WithContext("path", packagePath)
	}

	reader, err := zip.OpenReader(packagePath)
	if err != nil {
		if reader != nil {
			reader.Close()
		}
		if os.IsNotExist(err) {
			return "", errors.NewNotFoundError("package does not exist", err).WithContext("path", packagePath)
		}
		return "", errors.NewInvalidInputError("package is not a valid archive", err).WithContext("path", packagePath)
	}
	defer reader.Close()

	entries, invalid := i.selectPayload(reader.File)
	if invalid != nil {
		return "", invalid.WithUnit(name).WithContext("path", packagePath)
	}

	shurikensDir := filepath.Join(root, manifest.ShurikensDir)
	dest := filepath.Join(shurikensDir, name)
	if _, err := os.Lstat(dest); err == nil {
		return "", errors.NewConflictError("unit directory already exists", nil).WithUnit(name).WithContext("path", dest)
	}
	if err := os.MkdirAll(shurikensDir, 0755); err != nil {
		return "", errors.NewIOError("failed to create shurikens directory", err).WithContext("path", shurikensDir)
	}

	staging, err := os.MkdirTemp(shurikensDir, ".staging-"+name+"-")
	if err != nil {
		return "", errors.NewIOError("failed to create staging directory", err).WithContext("path", shurikensDir)
	}
	committed := false
	defer func() {
		if !committed {
			os.RemoveAll(staging)
		}
	}()

	i.logger.Infof("Installing package, unit: %s, platform: %s, entries: %d", name, i.platform, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return "", errors.NewInternalError("install cancelled", err).WithUnit(name)
		}
		if err := extract(staging, entry); err != nil {
			return "", errors.NewIOError("failed to extract package entry", err).WithUnit(name).WithContext("entry", entry.file.Name)
		}
	}

	if err := os.Rename(staging, dest); err != nil {
		if _, statErr := os.Lstat(dest); statErr == nil {
			return "", errors.NewConflictError("unit directory already exists", err).WithUnit(name).WithContext("path", dest)
		}
		return "", errors.NewIOError("failed to move unit into place", err).WithUnit(name).WithContext("path", dest)
	}
	committed = true

	i.logger.Infof("Package installed, unit: %s, path: %s", name, dest)
	return name, nil
}

// selectPayload validates every entry and keeps those for this platform
func (i *Installer) selectPayload(files []*zip.File) ([]payloadEntry, *errors.DomainError) {
	var entries []payloadEntry
	platformFound := false
	rootFiles := 0

	for _, f := range files {
		name := strings.ReplaceAll(f.Name, `\`, "/")
		if !isSafeEntry(name) {
			return nil, errors.NewInvalidInputError("package entry has an unsafe path", nil).WithContext("entry", f.Name)
		}
		isDir := strings.HasSuffix(name, "/") || f.FileInfo().IsDir()
		clean := strings.Trim(path.Clean("/"+name), "/")
		if clean == "" {
			continue
		}

		first, rest, nested := strings.Cut(clean, "/")
		switch {
		case first == i.platform:
			platformFound = true
			if rest == "" {
				continue
			}
			entries = append(entries, payloadEntry{file: f, rel: rest, dir: isDir})
		case nested:
			// payload of another platform
			continue
		case isDir:
			// bare directory marker at the root, usually another platform
			continue
		default:
			rootFiles++
			entries = append(entries, payloadEntry{file: f, rel: clean})
		}
	}

	if !platformFound {
		return nil, errors.NewPackagePlatformMismatchError("package has no payload for platform "+i.platform, nil).
			WithContext("platform", i.platform)
	}
	if rootFiles == 0 {
		return nil, errors.NewPackageMissingRootFilesError("package has no root files", nil)
	}
	return entries, nil
}

func isSafeEntry(name string) bool {
	if name == "" || strings.HasPrefix(name, "/") {
		return false
	}
	// drive letters and UNC style names
	if len(name) >= 2 && name[1] == ':' {
		return false
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}

func extract(staging string, entry payloadEntry) error {
	target := filepath.Join(staging, filepath.FromSlash(entry.rel))
	if entry.dir {
		return os.MkdirAll(target, 0755)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}

	src, err := entry.file.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	mode := entry.file.Mode().Perm()
	if mode == 0 {
		mode = 0644
	}
	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}
