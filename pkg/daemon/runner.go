// Package daemon runs the long-lived supervisor: it keeps the catalog fresh,
// owns the PID file and stops units on the way out when asked to.
package daemon

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/core-tools/hsu-ninja/pkg/config"
	"github.com/core-tools/hsu-ninja/pkg/errors"
	"github.com/core-tools/hsu-ninja/pkg/logging"
	"github.com/core-tools/hsu-ninja/pkg/manager"
	"github.com/core-tools/hsu-ninja/pkg/processfile"
	"github.com/core-tools/hsu-ninja/pkg/watcher"
)

// PIDFileID names the daemon's PID file
const PIDFileID = "ninjasrv"

// RunOptions tune a single daemon run
type RunOptions struct {
	// RunDuration stops the daemon after the given time; zero runs until signalled
	RunDuration time.Duration
}

// Run blocks until SIGINT/SIGTERM, ctx cancellation or the run duration
func Run(ctx context.Context, cfg *config.NinjaConfig, options RunOptions, logger logging.Logger) error {
	logger.Infof("Ninja daemon starting...")

	if err := config.ValidateConfig(cfg); err != nil {
		return errors.NewValidationError("configuration validation failed", err)
	}

	if options.RunDuration > 0 {
		logger.Infof("Using RUN DURATION of %s", options.RunDuration)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, options.RunDuration)
		defer cancel()
	}

	if err := os.MkdirAll(cfg.Ninja.Root, 0755); err != nil {
		return errors.NewIOError("failed to create root directory", err).WithContext("root", cfg.Ninja.Root)
	}

	m, err := manager.NewManager(ctx, manager.Options{
		Root:                 cfg.Ninja.Root,
		SkipInvalidManifests: cfg.Ninja.SkipInvalidManifests,
		ScriptLibs:           cfg.Scripting.Libs,
		OutputMaxSize:        cfg.Ninja.OutputMaxSize,
	}, logger)
	if err != nil {
		return errors.NewInternalError("failed to create manager", err)
	}
	logger.Infof("Root: %s, units: %d", m.Root(), len(m.List(false)))

	pidFiles := processfile.NewProcessFileManager(processfile.ProcessFileConfig{
		BaseDirectory:  cfg.Ninja.PIDFileDirectory,
		ServiceContext: processfile.ServiceContext(cfg.Ninja.ServiceContext),
	}, logger)
	if err := pidFiles.WritePIDFile(PIDFileID, os.Getpid()); err != nil {
		return err
	}
	defer func() {
		if err := pidFiles.RemovePIDFile(PIDFileID); err != nil {
			logger.Warnf("Failed to remove PID file: %v", err)
		}
	}()

	var w *watcher.Watcher
	if cfg.Watch.IsEnabled() {
		w = watcher.NewWatcher(m, watcher.Options{Debounce: cfg.Watch.Debounce}, logger)
		if err := w.Start(ctx); err != nil {
			return err
		}
	}

	logger.Infof("Enabling signal handling...")

	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig) // Unix signals not implemented on Windows
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}
	defer signal.Stop(sig)

	logger.Infof("Ninja daemon is ready")

	select {
	case receivedSignal := <-sig:
		logger.Infof("Ninja daemon received signal: %v", receivedSignal)
	case <-ctx.Done():
		logger.Infof("Ninja daemon context done")
	}

	if w != nil {
		if err := w.Stop(); err != nil {
			logger.Warnf("Watcher stopped with error: %v", err)
		}
	}

	var stopErr error
	if cfg.Ninja.StopOnShutdown {
		logger.Infof("Stopping running units...")
		// the run context may already be done; stop hooks still need to run
		stopErr = m.StopAll(context.Background())
		if stopErr != nil {
			logger.Errorf("Some units failed to stop: %v", stopErr)
		}
	}

	logger.Infof("Ninja daemon stopped")
	return stopErr
}

// ValidateConfigFile validates a configuration file without running
func ValidateConfigFile(configFile string) error {
	cfg, err := config.LoadConfigFromFile(configFile)
	if err != nil {
		return err
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return errors.NewValidationError("configuration validation failed", err).WithContext("config_file", configFile)
	}
	return nil
}
