// Package watcher refreshes the unit catalog when the shurikens tree changes.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/core-tools/hsu-ninja/pkg/errors"
	"github.com/core-tools/hsu-ninja/pkg/logging"
	"github.com/core-tools/hsu-ninja/pkg/manifest"

	"github.com/fsnotify/fsnotify"
	"vawter.tech/stopper"
)

// DefaultDebounce coalesces bursts such as a package being unpacked
const DefaultDebounce = 250 * time.Millisecond

// Refresher is the part of the manager the watcher drives
type Refresher interface {
	Root() string
	Refresh(ctx context.Context) error
}

type Options struct {
	Debounce time.Duration
	// OnRefresh, when set, is called after every triggered refresh
	OnRefresh func(err error)
}

// Watcher watches <root>/shurikens, every unit directory and every unit's
// .ninja directory, and calls Refresh once events settle
type Watcher struct {
	target  Refresher
	options Options
	logger  logging.Logger

	mutex     sync.Mutex
	ctx       context.Context
	sctx      *stopper.Context
	fsWatcher *fsnotify.Watcher
	debouncer *time.Timer
}

func NewWatcher(target Refresher, options Options, logger logging.Logger) *Watcher {
	if options.Debounce <= 0 {
		options.Debounce = DefaultDebounce
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Watcher{
		target:  target,
		options: options,
		logger:  logger,
	}
}

// Start arms the watches and returns; events are handled in the background
// until Stop is called or ctx is done
func (w *Watcher) Start(ctx context.Context) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.sctx != nil {
		return errors.NewConflictError("watcher already started", nil)
	}

	shurikensDir := filepath.Join(w.target.Root(), manifest.ShurikensDir)
	if err := os.MkdirAll(shurikensDir, 0755); err != nil {
		return errors.NewIOError("failed to create shurikens directory", err).WithContext("path", shurikensDir)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.NewIOError("failed to create filesystem watcher", err)
	}
	if err := fsWatcher.Add(shurikensDir); err != nil {
		_ = fsWatcher.Close()
		return errors.NewIOError("failed to watch shurikens directory", err).WithContext("path", shurikensDir)
	}

	sctx := stopper.WithContext(ctx)
	sctx.Defer(func() {
		w.mutex.Lock()
		if w.debouncer != nil {
			w.debouncer.Stop()
		}
		w.mutex.Unlock()
		_ = fsWatcher.Close()
	})

	w.ctx = ctx
	w.sctx = sctx
	w.fsWatcher = fsWatcher
	w.armUnitWatches()

	sctx.Go(func(sctx *stopper.Context) error {
		for !sctx.IsStopping() {
			select {
			case <-sctx.Stopping():
				return nil

			case event, ok := <-fsWatcher.Events:
				if !ok {
					return nil
				}
				if event.Op == fsnotify.Chmod {
					continue
				}
				w.logger.Debugf("Filesystem event, path: %s, op: %s", event.Name, event.Op)
				w.schedule()

			case err, ok := <-fsWatcher.Errors:
				if !ok {
					return nil
				}
				if err != nil {
					w.logger.Warnf("Filesystem watcher error: %v", err)
				}
			}
		}
		return nil
	})

	w.logger.Infof("Watching for unit changes, path: %s, debounce: %s", shurikensDir, w.options.Debounce)
	return nil
}

// Stop releases the watches and waits for the event loop to exit
func (w *Watcher) Stop() error {
	w.mutex.Lock()
	sctx := w.sctx
	w.mutex.Unlock()
	if sctx == nil {
		return nil
	}
	sctx.Stop(100 * time.Millisecond)
	return sctx.Wait()
}

func (w *Watcher) schedule() {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.debouncer != nil {
		w.debouncer.Stop()
	}
	w.debouncer = time.AfterFunc(w.options.Debounce, w.refresh)
}

func (w *Watcher) refresh() {
	w.mutex.Lock()
	ctx, sctx := w.ctx, w.sctx
	w.mutex.Unlock()
	if sctx == nil || sctx.IsStopping() {
		return
	}

	err := w.target.Refresh(ctx)
	if err != nil {
		w.logger.Errorf("Triggered refresh failed: %v", err)
	} else {
		w.logger.Debugf("Triggered refresh complete")
	}

	w.mutex.Lock()
	w.armUnitWatches()
	w.mutex.Unlock()

	if w.options.OnRefresh != nil {
		w.options.OnRefresh(err)
	}
}

// armUnitWatches adds watches for unit directories that appeared since the
// last call. Must be called with w.mutex held.
func (w *Watcher) armUnitWatches() {
	if w.fsWatcher == nil {
		return
	}
	shurikensDir := filepath.Join(w.target.Root(), manifest.ShurikensDir)
	entries, err := os.ReadDir(shurikensDir)
	if err != nil {
		w.logger.Warnf("Failed to list shurikens directory, path: %s, error: %v", shurikensDir, err)
		return
	}

	watched := make(map[string]bool)
	for _, path := range w.fsWatcher.WatchList() {
		watched[path] = true
	}

	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		unitDir := filepath.Join(shurikensDir, entry.Name())
		for _, dir := range []string{unitDir, filepath.Join(unitDir, manifest.NinjaDir)} {
			if watched[dir] {
				continue
			}
			if info, err := os.Stat(dir); err != nil || !info.IsDir() {
				continue
			}
			if err := w.fsWatcher.Add(dir); err != nil {
				w.logger.Warnf("Failed to watch unit directory, path: %s, error: %v", dir, err)
			}
		}
	}
}
