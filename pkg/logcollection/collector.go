// Package logcollection keeps the captured stdout and stderr of native units.
//
// Each unit owns <workdir>/logs/output.log. The file is handed to the child as
// its output descriptor, so capture keeps working after the process that
// spawned the child has exited.
package logcollection

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/core-tools/hsu-ninja/pkg/errors"
	"github.com/core-tools/hsu-ninja/pkg/logging"
)

const (
	LogsDir    = "logs"
	OutputFile = "output.log"

	// DefaultMaxSize is the size past which output.log is rotated on the next start
	DefaultMaxSize int64 = 10 * 1024 * 1024
)

// CollectorConfig tunes output capture
type CollectorConfig struct {
	MaxSize int64
}

// Collector opens and reads per-unit output files
type Collector struct {
	maxSize int64
	logger  logging.Logger
}

func NewCollector(config CollectorConfig, logger logging.Logger) *Collector {
	if config.MaxSize <= 0 {
		config.MaxSize = DefaultMaxSize
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Collector{
		maxSize: config.MaxSize,
		logger:  logger,
	}
}

// OutputPath returns <workDir>/logs/output.log
func OutputPath(workDir string) string {
	return filepath.Join(workDir, LogsDir, OutputFile)
}

// Open returns the output file for a new run of name, appending a start marker.
// The caller closes its copy once the child holds the descriptor.
func (c *Collector) Open(workDir, name string) (*os.File, error) {
	path := OutputPath(workDir)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.NewIOError("failed to create logs directory", err).WithUnit(name).WithContext("path", path)
	}

	if err := c.rotate(path); err != nil {
		c.logger.Warnf("Failed to rotate output log, unit: %s, path: %s, error: %v", name, path, err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.NewIOError("failed to open output log", err).WithUnit(name).WithContext("path", path)
	}
	if _, err := fmt.Fprintf(file, "==== %s start %s ====\n", name, time.Now().Format(time.RFC3339)); err != nil {
		file.Close()
		return nil, errors.NewIOError("failed to write output log", err).WithUnit(name).WithContext("path", path)
	}

	c.logger.Debugf("Output log opened, unit: %s, path: %s", name, path)
	return file, nil
}

func (c *Collector) rotate(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Size() < c.maxSize {
		return nil
	}
	return os.Rename(path, path+".1")
}

// Tail returns at most n trailing lines of the unit's output; n <= 0 returns all
func (c *Collector) Tail(workDir string, n int) ([]string, error) {
	path := OutputPath(workDir)
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, errors.NewIOError("failed to open output log", err).WithContext("path", path)
	}
	defer file.Close()

	lines := make([]string, 0)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if n > 0 && len(lines) > n {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.NewIOError("failed to read output log", err).WithContext("path", path)
	}
	return lines, nil
}
