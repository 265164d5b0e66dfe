package scripting

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/core-tools/hsu-ninja/pkg/logging"

	lua "github.com/yuin/gopher-lua"
)

// newNinjaModule builds the ninja table visible to hooks. Relative paths
// given to its functions resolve against workDir.
func newNinjaModule(L *lua.LState, ctx context.Context, workDir string, logger logging.Logger) *lua.LTable {
	resolve := func(path string) string {
		if filepath.IsAbs(path) {
			return path
		}
		return filepath.Join(workDir, path)
	}

	return L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"workdir": func(L *lua.LState) int {
			L.Push(lua.LString(workDir))
			return 1
		},
		"log": func(L *lua.LState) int {
			logger.Infof("hook: %s", L.CheckString(1))
			return 0
		},
		"exists": func(L *lua.LState) int {
			_, err := os.Stat(resolve(L.CheckString(1)))
			L.Push(lua.LBool(err == nil))
			return 1
		},
		"read_file": func(L *lua.LState) int {
			data, err := os.ReadFile(resolve(L.CheckString(1)))
			if err != nil {
				L.Push(lua.LNil)
				L.Push(lua.LString(err.Error()))
				return 2
			}
			L.Push(lua.LString(data))
			return 1
		},
		"write_file": func(L *lua.LState) int {
			path := resolve(L.CheckString(1))
			if err := os.WriteFile(path, []byte(L.CheckString(2)), 0644); err != nil {
				L.Push(lua.LNil)
				L.Push(lua.LString(err.Error()))
				return 2
			}
			L.Push(lua.LTrue)
			return 1
		},
		"run": func(L *lua.LState) int {
			path := L.CheckString(1)
			if !filepath.IsAbs(path) && filepath.Base(path) != path {
				path = resolve(path)
			}
			var args []string
			if tbl := L.OptTable(2, nil); tbl != nil {
				tbl.ForEach(func(_, v lua.LValue) {
					args = append(args, v.String())
				})
			}

			cmd := exec.CommandContext(ctx, path, args...)
			cmd.Dir = workDir
			output, err := cmd.CombinedOutput()
			if err != nil {
				if exitErr, ok := err.(*exec.ExitError); ok {
					L.Push(lua.LNumber(exitErr.ExitCode()))
					L.Push(lua.LString(output))
					return 2
				}
				L.RaiseError("ninja.run %s: %v", path, err)
				return 0
			}
			L.Push(lua.LNumber(0))
			L.Push(lua.LString(output))
			return 2
		},
	})
}
