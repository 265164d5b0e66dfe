package process

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/core-tools/hsu-ninja/pkg/errors"
	"github.com/core-tools/hsu-ninja/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, dir, name, body string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), mode))
	return path
}

func TestValidateExecutionConfig(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name      string
		config    ExecutionConfig
		shouldErr bool
	}{
		{"valid", ExecutionConfig{ExecutablePath: "bin/app", WorkingDirectory: dir}, false},
		{"missing_executable", ExecutionConfig{WorkingDirectory: dir}, true},
		{"missing_workdir", ExecutionConfig{ExecutablePath: "bin/app"}, true},
		{"relative_workdir", ExecutionConfig{ExecutablePath: "bin/app", WorkingDirectory: "relative"}, true},
		{"workdir_missing_on_disk", ExecutionConfig{ExecutablePath: "bin/app", WorkingDirectory: filepath.Join(dir, "absent")}, true},
		{"bad_env", ExecutionConfig{ExecutablePath: "bin/app", WorkingDirectory: dir, Environment: []string{"NOEQUALS"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateExecutionConfig(tt.config)
			if tt.shouldErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestResolveExecutablePath(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix paths")
	}
	assert.Equal(t, "/opt/unit/bin/app", ResolveExecutablePath("bin/app", "/opt/unit"))
	assert.Equal(t, "/opt/unit/bin/app", ResolveExecutablePath("../bin/app", "/opt/unit/.ninja"))
	assert.Equal(t, "/usr/bin/env", ResolveExecutablePath("/usr/bin/env", "/opt/unit"))
}

func TestBuildEnvironment_PrependsPathEntries(t *testing.T) {
	sep := string(os.PathListSeparator)
	env := buildEnvironment([]string{"HOME=/root", "PATH=/usr/bin"}, []string{"A=1"}, []string{"/opt/a/bin", "/opt/b/bin"})

	var path string
	for _, kv := range env {
		if strings.HasPrefix(strings.ToUpper(kv), "PATH=") {
			path = kv[len("PATH="):]
		}
	}
	assert.Equal(t, "/opt/a/bin"+sep+"/opt/b/bin"+sep+"/usr/bin", path)
	assert.Contains(t, env, "HOME=/root")
	assert.Contains(t, env, "A=1")

	unchanged := buildEnvironment([]string{"PATH=/usr/bin"}, nil, nil)
	assert.Equal(t, []string{"PATH=/usr/bin"}, unchanged)
}

func TestSpawn_RunsInWorkingDirectoryAndReaps(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixture")
	}
	workDir := t.TempDir()
	writeScript(t, workDir, "write.sh", "pwd -P > where.txt", 0644)

	exited := make(chan int, 1)
	proc, err := Spawn(context.Background(), ExecutionConfig{
		ExecutablePath:   "write.sh",
		WorkingDirectory: workDir,
	}, "writer", logging.NewNopLogger(), func(pid int, state *os.ProcessState, err error) {
		exited <- pid
	})
	require.NoError(t, err)

	select {
	case pid := <-exited:
		assert.Equal(t, proc.Pid, pid)
	case <-time.After(10 * time.Second):
		t.Fatal("exit callback not invoked")
	}

	data, err := os.ReadFile(filepath.Join(workDir, "where.txt"))
	require.NoError(t, err)
	resolved, err := filepath.EvalSymlinks(workDir)
	require.NoError(t, err)
	assert.Equal(t, resolved, strings.TrimSpace(string(data)))
}

func TestSpawn_CapturesOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixture")
	}
	workDir := t.TempDir()
	writeScript(t, workDir, "talk.sh", "echo out; echo err 1>&2", 0755)

	output, err := os.Create(filepath.Join(workDir, "output.log"))
	require.NoError(t, err)

	exited := make(chan struct{})
	_, err = Spawn(context.Background(), ExecutionConfig{
		ExecutablePath:   "talk.sh",
		WorkingDirectory: workDir,
		Output:           output,
	}, "talker", logging.NewNopLogger(), func(int, *os.ProcessState, error) {
		close(exited)
	})
	require.NoError(t, err)
	require.NoError(t, output.Close())

	select {
	case <-exited:
	case <-time.After(10 * time.Second):
		t.Fatal("exit callback not invoked")
	}

	data, err := os.ReadFile(filepath.Join(workDir, "output.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "out\n")
	assert.Contains(t, string(data), "err\n")
}

func TestSpawn_MissingExecutable(t *testing.T) {
	_, err := Spawn(context.Background(), ExecutionConfig{
		ExecutablePath:   "missing-binary",
		WorkingDirectory: t.TempDir(),
	}, "ghost", logging.NewNopLogger(), nil)

	assert.Error(t, err)
	assert.True(t, errors.IsSpawnError(err))
}

func TestSpawn_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Spawn(ctx, ExecutionConfig{ExecutablePath: "x", WorkingDirectory: t.TempDir()}, "cancelled", logging.NewNopLogger(), nil)
	assert.True(t, errors.IsSpawnError(err))
}
