package manager

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/core-tools/hsu-ninja/pkg/errors"
	"github.com/core-tools/hsu-ninja/pkg/installer"
	"github.com/core-tools/hsu-ninja/pkg/lockfile"
	"github.com/core-tools/hsu-ninja/pkg/manifest"
	"github.com/core-tools/hsu-ninja/pkg/processstate"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockLogger is a mock implementation of Logger for testing
type MockLogger struct {
	mock.Mock
}

func (m *MockLogger) LogLevelf(level int, format string, args ...interface{}) {
	m.Called(format, args)
}

func (m *MockLogger) Debugf(format string, args ...interface{}) {
	m.Called(format, args)
}

func (m *MockLogger) Infof(format string, args ...interface{}) {
	m.Called(format, args)
}

func (m *MockLogger) Warnf(format string, args ...interface{}) {
	m.Called(format, args)
}

func (m *MockLogger) Errorf(format string, args ...interface{}) {
	m.Called(format, args)
}

func newMockLogger() *MockLogger {
	logger := &MockLogger{}
	logger.On("Debugf", mock.Anything, mock.Anything).Maybe()
	logger.On("Infof", mock.Anything, mock.Anything).Maybe()
	logger.On("Warnf", mock.Anything, mock.Anything).Maybe()
	logger.On("Errorf", mock.Anything, mock.Anything).Maybe()
	return logger
}

const scriptHooks = `
function start()
  ninja.write_file("running", "yes")
end

function stop()
  if not ninja.exists("running") then
    return false, "not running"
  end
  ninja.write_file("running", "no")
end
`

func writeScriptUnit(t *testing.T, root, name string) string {
	t.Helper()
	workDir := manifest.WorkDir(root, name)
	require.NoError(t, os.MkdirAll(workDir, 0755))
	text := fmt.Sprintf(`[shuriken]
name = %q
id = %q
type = "maintenance"

[shuriken.maintenance]
type = "script"
script-path = "hooks.lua"

[config]
config-path = "../unit.conf"

[config.fields]
port = 1000
`, name, name)
	require.NoError(t, os.WriteFile(filepath.Join(workDir, manifest.ManifestFile), []byte(text), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "hooks.lua"), []byte(scriptHooks), 0644))
	return workDir
}

// writeNativeUnit installs a renamed copy of sleep(1) as the unit binary
func writeNativeUnit(t *testing.T, root, name, binary, seconds string, addPath bool) string {
	t.Helper()
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		t.Skipf("native lifecycle tests are not run on %s", runtime.GOOS)
	}
	src, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep binary not available")
	}
	if resolved, err := filepath.EvalSymlinks(src); err == nil && filepath.Base(resolved) == "busybox" {
		t.Skip("sleep is a busybox applet and cannot be renamed")
	}

	workDir := manifest.WorkDir(root, name)
	binDir := filepath.Join(manifest.UnitDir(root, name), "bin")
	require.NoError(t, os.MkdirAll(workDir, 0755))
	require.NoError(t, os.MkdirAll(binDir, 0755))
	data, err := os.ReadFile(src)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(binDir, binary), data, 0755))

	text := fmt.Sprintf(`[shuriken]
name = %q
id = %q
add-path = %t

[shuriken.maintenance]
type = "native"
binary-path = { windows = "../bin/%s.exe", unix = "../bin/%s" }
args = [%q]
`, name, name, addPath, binary, binary, seconds)
	require.NoError(t, os.WriteFile(filepath.Join(workDir, manifest.ManifestFile), []byte(text), 0644))
	return workDir
}

// setDisplayName gives the unit in workDir a manifest name that differs from
// its directory
func setDisplayName(t *testing.T, workDir, dirName, display string) {
	t.Helper()
	path := filepath.Join(workDir, manifest.ManifestFile)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := strings.Replace(string(data), fmt.Sprintf("name = %q", dirName), fmt.Sprintf("name = %q", display), 1)
	require.NoError(t, os.WriteFile(path, []byte(text), 0644))
}

// slowHooks counts hook calls and holds each one long enough for a
// competing call to arrive
type slowHooks struct {
	mutex sync.Mutex
	calls map[string]int
	delay time.Duration
}

func (h *slowHooks) ExecuteFunction(ctx context.Context, functionName, scriptPath, workDir string) error {
	h.mutex.Lock()
	h.calls[functionName]++
	h.mutex.Unlock()
	time.Sleep(h.delay)
	return nil
}

func (h *slowHooks) count(functionName string) int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.calls[functionName]
}

func newTestManager(t *testing.T, root string) *Manager {
	t.Helper()
	m, err := NewManager(context.Background(), Options{Root: root}, newMockLogger())
	require.NoError(t, err)
	return m
}

func names(listing []UnitListing) []string {
	out := make([]string, 0, len(listing))
	for _, entry := range listing {
		out = append(out, entry.Name)
	}
	return out
}

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager(context.Background(), Options{}, nil)
	assert.True(t, errors.IsValidationError(err))

	_, err = NewManager(context.Background(), Options{Root: filepath.Join(t.TempDir(), "absent")}, nil)
	assert.True(t, errors.IsNotFoundError(err))

	_, err = NewManager(context.Background(), Options{Root: t.TempDir(), ScriptLibs: []string{"ffi"}}, nil)
	assert.True(t, errors.IsValidationError(err))
}

func TestList_ReturnsEveryUnitSorted(t *testing.T) {
	root := t.TempDir()
	expected := []string{"alpha", "bravo", "charlie", "delta"}
	for _, name := range []string{"delta", "alpha", "charlie", "bravo"} {
		writeScriptUnit(t, root, name)
	}

	m := newTestManager(t, root)

	assert.Equal(t, expected, names(m.List(false)))
	for _, entry := range m.List(false) {
		assert.Nil(t, entry.State)
	}
	for _, entry := range m.List(true) {
		require.NotNil(t, entry.State)
		assert.Equal(t, manifest.StateIdle, entry.State.Kind)
	}
}

func TestRefresh_LockfileDrivesState(t *testing.T) {
	root := t.TempDir()
	workDir := writeScriptUnit(t, root, "redis")
	require.NoError(t, os.WriteFile(lockfile.Path(workDir), []byte(""), 0644))

	m := newTestManager(t, root)
	state, err := m.State("redis")
	require.NoError(t, err)
	assert.Equal(t, manifest.StateRunning, state.Kind)

	require.NoError(t, os.Remove(lockfile.Path(workDir)))
	require.NoError(t, m.Refresh(context.Background()))
	state, err = m.State("redis")
	require.NoError(t, err)
	assert.Equal(t, manifest.StateIdle, state.Kind)
}

func TestRefresh_FailureKeepsCatalog(t *testing.T) {
	root := t.TempDir()
	writeScriptUnit(t, root, "good")
	m := newTestManager(t, root)

	badDir := manifest.WorkDir(root, "bad")
	require.NoError(t, os.MkdirAll(badDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(badDir, manifest.ManifestFile), []byte("[shuriken"), 0644))

	err := m.Refresh(context.Background())
	assert.True(t, errors.IsConfigParseError(err))
	assert.Equal(t, []string{"good"}, names(m.List(false)))
}

func TestGet(t *testing.T) {
	root := t.TempDir()
	writeScriptUnit(t, root, "redis")
	m := newTestManager(t, root)

	_, err := m.Get("absent")
	assert.True(t, errors.IsNotFoundError(err))

	unit, err := m.Get("redis")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), unit.Config.Fields["port"])

	unit.Config.Fields["port"] = int64(1)
	again, err := m.Get("redis")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), again.Config.Fields["port"], "Get must return a copy")
}

func TestScriptUnit_StartStop(t *testing.T) {
	root := t.TempDir()
	workDir := writeScriptUnit(t, root, "backup")
	m := newTestManager(t, root)

	require.NoError(t, m.Start(context.Background(), "backup"))
	state, _ := m.State("backup")
	assert.Equal(t, manifest.StateRunning, state.Kind)
	assert.FileExists(t, lockfile.Path(workDir))

	err := m.Start(context.Background(), "backup")
	assert.True(t, errors.IsConflictError(err))

	require.NoError(t, m.Stop(context.Background(), "backup"))
	state, _ = m.State("backup")
	assert.Equal(t, manifest.StateIdle, state.Kind)
	assert.NoFileExists(t, lockfile.Path(workDir))
}

func TestStartStop_UnknownUnit(t *testing.T) {
	m := newTestManager(t, t.TempDir())

	assert.True(t, errors.IsNotFoundError(m.Start(context.Background(), "ghost")))
	assert.True(t, errors.IsNotFoundError(m.Stop(context.Background(), "ghost")))
}

func TestNativeUnit_StartStop(t *testing.T) {
	root := t.TempDir()
	workDir := writeNativeUnit(t, root, "sleeper", "ninjamgrsleep", "30", false)
	m := newTestManager(t, root)
	probe := processstate.NewProbe(nil)

	require.NoError(t, m.Start(context.Background(), "sleeper"))
	record, err := lockfile.NewStore(nil).Read(workDir, "sleeper")
	require.NoError(t, err)
	startTime, ok := probe.StartTime(record.PID)
	require.True(t, ok)
	assert.True(t, processstate.SameStart(startTime, record.Started()))

	require.NoError(t, m.Stop(context.Background(), "sleeper"))
	state, _ := m.State("sleeper")
	assert.Equal(t, manifest.StateIdle, state.Kind)
	assert.NoFileExists(t, lockfile.Path(workDir))

	assert.Eventually(t, func() bool {
		return !probe.IsRunning(record.PID)
	}, 10*time.Second, 50*time.Millisecond)

	// a requested stop is not an error
	time.Sleep(100 * time.Millisecond)
	state, _ = m.State("sleeper")
	assert.Equal(t, manifest.StateIdle, state.Kind)
}

func TestNativeUnit_UnexpectedExitMarksError(t *testing.T) {
	root := t.TempDir()
	workDir := writeNativeUnit(t, root, "short", "ninjashort", "1", false)
	m := newTestManager(t, root)

	require.NoError(t, m.Start(context.Background(), "short"))

	assert.Eventually(t, func() bool {
		state, _ := m.State("short")
		return state.Kind == manifest.StateError
	}, 15*time.Second, 50*time.Millisecond)
	assert.NoFileExists(t, lockfile.Path(workDir))

	// the unit can be started again
	require.NoError(t, m.Start(context.Background(), "short"))
	assert.Eventually(t, func() bool {
		state, _ := m.State("short")
		return state.Kind == manifest.StateError
	}, 15*time.Second, 50*time.Millisecond)

	lines, err := m.Logs("short", 0)
	require.NoError(t, err)
	starts := 0
	for _, line := range lines {
		if strings.Contains(line, "short start") {
			starts++
		}
	}
	assert.Equal(t, 2, starts)

	_, err = m.Logs("absent", 10)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestStop_ReusedPIDFailsAndSparesProcess(t *testing.T) {
	root := t.TempDir()
	workDir := writeNativeUnit(t, root, "reused", "ninjareused", "30", false)
	require.NoError(t, lockfile.NewStore(nil).Write(workDir, lockfile.NewNativeRecord("reused", os.Getpid(), time.Unix(1, 0))))
	m := newTestManager(t, root)

	state, _ := m.State("reused")
	require.Equal(t, manifest.StateRunning, state.Kind)

	err := m.Stop(context.Background(), "reused")
	require.Error(t, err)
	assert.True(t, errors.IsProcessTerminationError(err))
	assert.Contains(t, err.Error(), "reused")

	state, _ = m.State("reused")
	assert.Equal(t, manifest.StateRunning, state.Kind, "failed stop leaves state unchanged")

	require.NoError(t, m.Refresh(context.Background()))
	state, _ = m.State("reused")
	assert.Equal(t, manifest.StateIdle, state.Kind, "refresh corrects the state")
}

func TestPathEntries(t *testing.T) {
	root := t.TempDir()
	writeNativeUnit(t, root, "tools", "ninjatools", "30", true)
	writeNativeUnit(t, root, "hidden", "ninjahidden", "30", false)
	writeScriptUnit(t, root, "scripted")
	m := newTestManager(t, root)

	assert.Equal(t, []string{filepath.Join(manifest.UnitDir(m.Root(), "tools"), "bin")}, m.PathEntries())
}

func TestConfigure(t *testing.T) {
	root := t.TempDir()
	workDir := writeScriptUnit(t, root, "redis")
	require.NoError(t, os.WriteFile(filepath.Join(workDir, manifest.OptionsFile), []byte("port = 7000\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(workDir, manifest.TemplateFile),
		[]byte("port={{port}} unit={{ shuriken.id }} extra={{extra}}\n"), 0644))
	m := newTestManager(t, root)

	require.NoError(t, m.Configure(context.Background(), "redis"))
	data, err := os.ReadFile(filepath.Join(manifest.UnitDir(root, "redis"), "unit.conf"))
	require.NoError(t, err)
	assert.Equal(t, "port=7000 unit=redis extra={{ extra }}\n", string(data))

	require.NoError(t, os.Remove(filepath.Join(workDir, manifest.TemplateFile)))
	err = m.Configure(context.Background(), "redis")
	assert.True(t, errors.IsTemplatePathNotFoundError(err))
}

func writePackage(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	w := zip.NewWriter(f)
	for name, body := range entries {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
}

func TestInstall_DiscoveredAfterRefresh(t *testing.T) {
	root := t.TempDir()
	m := newTestManager(t, root)
	platform := installer.HostPlatform()

	bad := filepath.Join(t.TempDir(), "bad.shuriken")
	writePackage(t, bad, map[string]string{"README.md": "x", "other-os/bin/x": "x"})
	_, err := m.Install(context.Background(), bad)
	assert.True(t, errors.IsPackagePlatformMismatchError(err))
	assert.NoDirExists(t, manifest.UnitDir(root, "bad"))

	good := filepath.Join(t.TempDir(), "echo.shuriken")
	writePackage(t, good, map[string]string{
		"README.md": "x",
		platform + "/.ninja/manifest.toml": "[shuriken]\nname = \"echo\"\nid = \"echo\"\n\n" +
			"[shuriken.maintenance]\ntype = \"script\"\nscript-path = \"hooks.lua\"\n",
	})
	name, err := m.Install(context.Background(), good)
	require.NoError(t, err)
	assert.Equal(t, "echo", name)
	assert.Empty(t, m.List(false), "install does not refresh")

	require.NoError(t, m.Refresh(context.Background()))
	assert.Equal(t, []string{"echo"}, names(m.List(false)))
}

func TestRemove(t *testing.T) {
	root := t.TempDir()
	writeScriptUnit(t, root, "redis")
	writeScriptUnit(t, root, "other")
	m := newTestManager(t, root)

	assert.True(t, errors.IsNotFoundError(m.Remove("absent")))
	assert.True(t, errors.IsValidationError(m.Remove("../escape")))

	require.NoError(t, m.Remove("redis"))
	assert.NoDirExists(t, manifest.UnitDir(root, "redis"))
	assert.Equal(t, []string{"other"}, names(m.List(true)))
	_, err := m.State("redis")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestDisplayName_DoesNotAffectPaths(t *testing.T) {
	root := t.TempDir()
	workDir := writeScriptUnit(t, root, "redis")
	setDisplayName(t, workDir, "redis", "Redis Cache")
	require.NoError(t, os.WriteFile(filepath.Join(workDir, manifest.TemplateFile),
		[]byte("{{ shuriken.name }}|{{ shuriken.display_name }}|{{ shuriken.workdir }}\n"), 0644))
	m := newTestManager(t, root)

	unit, err := m.Get("redis")
	require.NoError(t, err)
	require.Equal(t, "Redis Cache", unit.Manifest.Name)

	require.NoError(t, m.Configure(context.Background(), "redis"))
	data, err := os.ReadFile(filepath.Join(manifest.UnitDir(root, "redis"), "unit.conf"))
	require.NoError(t, err)
	assert.Equal(t, "redis|Redis Cache|"+workDir+"\n", string(data))
	assert.NoDirExists(t, manifest.UnitDir(root, "Redis Cache"))

	require.NoError(t, m.Start(context.Background(), "redis"))
	record, err := lockfile.NewStore(nil).Read(workDir, "redis")
	require.NoError(t, err)
	assert.Equal(t, "redis", record.Name)
	require.NoError(t, m.Stop(context.Background(), "redis"))
	assert.NoFileExists(t, lockfile.Path(workDir))
}

func TestDisplayName_UnexpectedExitMarksError(t *testing.T) {
	root := t.TempDir()
	workDir := writeNativeUnit(t, root, "brief", "ninjabrief", "1", false)
	setDisplayName(t, workDir, "brief", "Brief Service")
	m := newTestManager(t, root)

	require.NoError(t, m.Start(context.Background(), "brief"))
	assert.Eventually(t, func() bool {
		state, _ := m.State("brief")
		return state.Kind == manifest.StateError
	}, 15*time.Second, 50*time.Millisecond)
	assert.NoFileExists(t, lockfile.Path(workDir))
}

func TestConcurrentStartStop_RunHooksOnce(t *testing.T) {
	root := t.TempDir()
	workDir := writeScriptUnit(t, root, "backup")
	hooks := &slowHooks{calls: make(map[string]int), delay: 200 * time.Millisecond}
	m, err := NewManager(context.Background(), Options{Root: root, Hooks: hooks}, newMockLogger())
	require.NoError(t, err)

	race := func(op func(context.Context, string) error) []error {
		results := make([]error, 2)
		var wg sync.WaitGroup
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = op(context.Background(), "backup")
			}(i)
		}
		wg.Wait()
		return results
	}
	check := func(results []error) {
		failed := 0
		for _, err := range results {
			if err != nil {
				failed++
				assert.True(t, errors.IsConflictError(err), "unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, failed)
	}

	check(race(m.Start))
	assert.Equal(t, 1, hooks.count("start"))
	assert.FileExists(t, lockfile.Path(workDir))
	state, _ := m.State("backup")
	assert.Equal(t, manifest.StateRunning, state.Kind)

	check(race(m.Stop))
	assert.Equal(t, 1, hooks.count("stop"))
	assert.NoFileExists(t, lockfile.Path(workDir))
	state, _ = m.State("backup")
	assert.Equal(t, manifest.StateIdle, state.Kind)
}

func TestStopAll(t *testing.T) {
	root := t.TempDir()
	writeScriptUnit(t, root, "a")
	writeScriptUnit(t, root, "b")
	workDirC := writeScriptUnit(t, root, "c")
	m := newTestManager(t, root)

	require.NoError(t, m.Start(context.Background(), "a"))
	require.NoError(t, m.Start(context.Background(), "b"))
	require.NoError(t, m.StopAll(context.Background()))
	for _, entry := range m.List(true) {
		assert.Equal(t, manifest.StateIdle, entry.State.Kind, entry.Name)
	}

	// c is marked running by a lockfile but its stop hook refuses
	require.NoError(t, os.WriteFile(lockfile.Path(workDirC), []byte(""), 0644))
	require.NoError(t, m.Refresh(context.Background()))
	err := m.StopAll(context.Background())
	require.Error(t, err)
	collection, ok := err.(*errors.ErrorCollection)
	require.True(t, ok)
	assert.Len(t, collection.Errors, 1)
}

func TestConcurrentRefreshAndList(t *testing.T) {
	root := t.TempDir()
	first := []string{"a1", "a2", "a3"}
	second := []string{"b1", "b2"}
	for _, name := range append(append([]string{}, first...), second...) {
		writeScriptUnit(t, root, name)
	}
	shurikens := filepath.Join(root, manifest.ShurikensDir)
	hide := func(names []string) {
		for _, name := range names {
			require.NoError(t, os.Rename(filepath.Join(shurikens, name), filepath.Join(shurikens, "."+name)))
		}
	}
	show := func(names []string) {
		for _, name := range names {
			require.NoError(t, os.Rename(filepath.Join(shurikens, "."+name), filepath.Join(shurikens, name)))
		}
	}
	hide(second)
	m := newTestManager(t, root)
	require.Equal(t, first, names(m.List(false)))

	const rounds = 40
	done := make(chan struct{})
	var readers sync.WaitGroup
	var mixed sync.Map

	for i := 0; i < 4; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				listing := m.List(true)
				got := names(listing)
				sort.Strings(got)
				if !equal(got, first) && !equal(got, second) {
					mixed.Store(fmt.Sprint(got), true)
				}
				for _, entry := range listing {
					if entry.State == nil || entry.State.Kind != manifest.StateIdle {
						mixed.Store("state:"+entry.Name, true)
					}
				}
			}
		}()
	}

	// the tree only changes between refreshes, so every generation is
	// exactly one of the two sets
	for i := 0; i < rounds; i++ {
		if i%2 == 0 {
			hide(first)
			show(second)
		} else {
			hide(second)
			show(first)
		}
		require.NoError(t, m.Refresh(context.Background()))
	}
	close(done)
	readers.Wait()

	mixed.Range(func(key, _ interface{}) bool {
		t.Errorf("observed inconsistent listing: %v", key)
		return true
	})
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
