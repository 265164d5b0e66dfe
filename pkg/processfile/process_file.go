package processfile

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/core-tools/hsu-ninja/pkg/atomicfile"
	"github.com/core-tools/hsu-ninja/pkg/errors"
	"github.com/core-tools/hsu-ninja/pkg/logging"
)

// Default application name for HSU Ninja
const DefaultAppName = "hsu-ninja"

// ServiceContext defines the context in which the supervisor runs
type ServiceContext string

const (
	// SystemService runs as a system service (daemon)
	SystemService ServiceContext = "system"

	// UserService runs as a user service
	UserService ServiceContext = "user"

	// SessionService runs as a session service (cleaned up on logout)
	SessionService ServiceContext = "session"
)

// ParseServiceContext accepts "system", "user" or "session"; empty means user
func ParseServiceContext(value string) (ServiceContext, error) {
	switch ServiceContext(strings.ToLower(value)) {
	case SystemService:
		return SystemService, nil
	case UserService, "":
		return UserService, nil
	case SessionService:
		return SessionService, nil
	default:
		return "", errors.NewValidationError("invalid service context: "+value, nil).
			WithContext("valid_contexts", "system, user, session")
	}
}

// ProcessFileConfig holds configuration for the supervisor's own PID file
type ProcessFileConfig struct {
	// Base directory for PID files. If empty, uses OS-appropriate default
	BaseDirectory string

	// Service context - affects directory selection
	ServiceContext ServiceContext

	// Application name for subdirectory creation
	AppName string
}

// ProcessFileManager writes and removes the daemon PID file
type ProcessFileManager struct {
	config ProcessFileConfig
	logger logging.Logger
}

// NewProcessFileManager creates a new process file manager with the given configuration
func NewProcessFileManager(config ProcessFileConfig, logger logging.Logger) *ProcessFileManager {
	if config.AppName == "" {
		config.AppName = DefaultAppName
	}
	if config.ServiceContext == "" {
		config.ServiceContext = UserService
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &ProcessFileManager{
		config: config,
		logger: logger,
	}
}

// GeneratePIDFilePath returns <base>/<app>/<id>.pid
func (m *ProcessFileManager) GeneratePIDFilePath(id string) string {
	baseDir := m.config.BaseDirectory
	if baseDir == "" {
		baseDir = filepath.Join(RuntimeDirectory(m.config.ServiceContext), m.config.AppName)
	}
	return filepath.Join(baseDir, id+".pid")
}

// WritePIDFile records pid for id, creating the directory when missing
func (m *ProcessFileManager) WritePIDFile(id string, pid int) error {
	pidFilePath := m.GeneratePIDFilePath(id)
	m.logger.Debugf("Writing PID file, id: %s, pid: %d, path: %s", id, pid, pidFilePath)

	dir := filepath.Dir(pidFilePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.NewIOError("failed to create PID file directory", err).WithContext("directory", dir)
	}

	if err := atomicfile.WriteFile(pidFilePath, []byte(fmt.Sprintf("%d\n", pid)), 0644); err != nil {
		m.logger.Errorf("Failed to write PID file, id: %s, pid: %d, path: %s, error: %v", id, pid, pidFilePath, err)
		return errors.NewIOError("failed to write PID file", err).WithContext("pid_file", pidFilePath).WithContext("pid", pid)
	}

	m.logger.Infof("PID file written, id: %s, pid: %d, path: %s", id, pid, pidFilePath)
	return nil
}

// ReadPIDFile returns the pid recorded for id
func (m *ProcessFileManager) ReadPIDFile(id string) (int, error) {
	pidFilePath := m.GeneratePIDFilePath(id)
	content, err := os.ReadFile(pidFilePath)
	if err != nil {
		return 0, errors.NewIOError("failed to read PID file", err).WithContext("pid_file", pidFilePath)
	}

	pidStr := strings.TrimSpace(string(content))
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		return 0, errors.NewValidationError("invalid PID in PID file", err).WithContext("pid_file", pidFilePath).WithContext("content", pidStr)
	}
	return pid, nil
}

// RemovePIDFile deletes the PID file; a missing file is not an error
func (m *ProcessFileManager) RemovePIDFile(id string) error {
	pidFilePath := m.GeneratePIDFilePath(id)
	if err := os.Remove(pidFilePath); err != nil && !os.IsNotExist(err) {
		return errors.NewIOError("failed to remove PID file", err).WithContext("pid_file", pidFilePath)
	}
	m.logger.Debugf("PID file removed, id: %s, path: %s", id, pidFilePath)
	return nil
}

// RuntimeDirectory returns the OS-appropriate directory for PID files
func RuntimeDirectory(serviceContext ServiceContext) string {
	switch serviceContext {
	case SystemService:
		switch runtime.GOOS {
		case "windows":
			return programData()
		case "darwin":
			return "/var/run"
		default:
			// Modern standard is /run, with fallback to /var/run
			if _, err := os.Stat("/run"); err == nil {
				return "/run"
			}
			return "/var/run"
		}

	case SessionService:
		if runtime.GOOS == "linux" {
			sessionDir := fmt.Sprintf("/run/user/%d", os.Getuid())
			if _, err := os.Stat(sessionDir); err == nil {
				return sessionDir
			}
		}
		return os.TempDir()

	default:
		switch runtime.GOOS {
		case "windows":
			return localAppData()
		case "darwin":
			return filepath.Join(homeDir(), "Library", "Application Support")
		default:
			if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
				return runtimeDir
			}
			return os.TempDir()
		}
	}
}

// DataDirectory returns the OS-appropriate default root for units
func DataDirectory(serviceContext ServiceContext, appName string) string {
	if appName == "" {
		appName = DefaultAppName
	}

	switch serviceContext {
	case SystemService:
		switch runtime.GOOS {
		case "windows":
			return filepath.Join(programData(), appName)
		case "darwin":
			return filepath.Join("/usr/local/var", appName)
		default:
			return filepath.Join("/var/lib", appName)
		}

	case SessionService:
		return filepath.Join(os.TempDir(), appName)

	default:
		switch runtime.GOOS {
		case "windows":
			return filepath.Join(localAppData(), appName)
		case "darwin":
			return filepath.Join(homeDir(), "Library", "Application Support", appName)
		default:
			if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
				return filepath.Join(dataHome, appName)
			}
			return filepath.Join(homeDir(), ".local", "share", appName)
		}
	}
}

func programData() string {
	if programData := os.Getenv("PROGRAMDATA"); programData != "" {
		return programData
	}
	return "C:\\ProgramData"
}

func localAppData() string {
	if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
		return localAppData
	}
	if userProfile := os.Getenv("USERPROFILE"); userProfile != "" {
		return filepath.Join(userProfile, "AppData", "Local")
	}
	return "C:\\Users\\Default\\AppData\\Local"
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.TempDir()
	}
	return home
}
