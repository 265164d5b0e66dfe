// Package scripting runs unit hook functions.
//
// A script unit ships a Lua file defining global start and stop functions.
// Every call gets a fresh interpreter, so hooks of different units never
// share state and may run concurrently.
package scripting

import (
	"context"
	"os"
	"path/filepath"

	"github.com/core-tools/hsu-ninja/pkg/errors"
	"github.com/core-tools/hsu-ninja/pkg/logging"

	lua "github.com/yuin/gopher-lua"
)

// HookRunner executes one named function of a script
type HookRunner interface {
	ExecuteFunction(ctx context.Context, functionName, scriptPath, workDir string) error
}

// LuaConfig selects the standard libraries opened for hooks
type LuaConfig struct {
	Libs []string `yaml:"libs"`
}

// DefaultLibs are opened when LuaConfig.Libs is empty
func DefaultLibs() []string {
	return []string{"base", "table", "string", "math"}
}

var luaLibs = map[string]lua.LGFunction{
	"base":      lua.OpenBase,
	"package":   lua.OpenPackage,
	"table":     lua.OpenTable,
	"io":        lua.OpenIo,
	"os":        lua.OpenOs,
	"string":    lua.OpenString,
	"math":      lua.OpenMath,
	"debug":     lua.OpenDebug,
	"channel":   lua.OpenChannel,
	"coroutine": lua.OpenCoroutine,
}

// ValidateLuaConfig rejects unknown library names
func ValidateLuaConfig(config LuaConfig) error {
	for _, lib := range config.Libs {
		if _, ok := luaLibs[lib]; !ok {
			return errors.NewValidationError("unknown lua library: "+lib, nil).WithContext("lib", lib)
		}
	}
	return nil
}

// LuaEngine is the gopher-lua HookRunner
type LuaEngine struct {
	libs   []string
	logger logging.Logger
}

// NewLuaEngine creates an engine opening the configured libraries
func NewLuaEngine(config LuaConfig, logger logging.Logger) (*LuaEngine, error) {
	if err := ValidateLuaConfig(config); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	libs := config.Libs
	if len(libs) == 0 {
		libs = DefaultLibs()
	}
	return &LuaEngine{
		libs:   append([]string(nil), libs...),
		logger: logger,
	}, nil
}

// ExecuteFunction loads scriptPath (relative paths resolve against workDir)
// and calls its global functionName. The hook fails when the script cannot be
// loaded, the function is missing, raises an error or returns false.
func (e *LuaEngine) ExecuteFunction(ctx context.Context, functionName, scriptPath, workDir string) error {
	if ctx == nil {
		return errors.NewValidationError("context cannot be nil", nil)
	}
	if !filepath.IsAbs(workDir) {
		return errors.NewValidationError("working directory must be absolute", nil).WithContext("workdir", workDir)
	}

	path := scriptPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(workDir, path)
	}
	if _, err := os.Stat(path); err != nil {
		return errors.NewNotFoundError("hook script not found", err).WithContext("script", path)
	}

	e.logger.Debugf("Executing hook, function: %s, script: %s, workdir: %s", functionName, path, workDir)

	L := e.newState(ctx, workDir)
	defer L.Close()

	if err := L.DoFile(path); err != nil {
		return errors.NewHookError("failed to load hook script", err).WithContext("script", path)
	}

	fn := L.GetGlobal(functionName)
	if fn.Type() != lua.LTFunction {
		return errors.NewHookError("hook function not defined: "+functionName, nil).
			WithContext("script", path).
			WithContext("function", functionName)
	}

	if err := L.CallByParam(lua.P{Fn: fn, NRet: 2, Protect: true}); err != nil {
		return errors.NewHookError("hook function failed: "+functionName, err).
			WithContext("script", path).
			WithContext("function", functionName)
	}
	ok, reason := L.Get(-2), L.Get(-1)
	L.Pop(2)

	if ok == lua.LFalse {
		msg := "hook function returned false: " + functionName
		if reason != lua.LNil {
			msg += ": " + reason.String()
		}
		return errors.NewHookError(msg, nil).
			WithContext("script", path).
			WithContext("function", functionName)
	}

	e.logger.Infof("Hook executed, function: %s, script: %s", functionName, path)
	return nil
}

func (e *LuaEngine) newState(ctx context.Context, workDir string) *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, name := range e.libs {
		L.Push(L.NewFunction(luaLibs[name]))
		L.Push(lua.LString(name))
		L.Call(1, 0)
	}
	L.SetContext(ctx)
	L.SetGlobal("ninja", newNinjaModule(L, ctx, workDir, e.logger))
	return L
}
