package tools

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/toolplan/toolplan/internal/policy"
	"github.com/toolplan/toolplan/internal/registry"
)

// LuaFunc wraps a Lua script as a tool implementation. The script must
// define a global function run(input) that receives the step input as a
// table and returns the tool output. Returning a table with an "error"
// field reports a failure; an optional "retryable" boolean marks it
// transient. Each invocation runs in a fresh interpreter state.
func LuaFunc(script string) Func {
	return func(ctx context.Context, input map[string]any) (any, error) {
		lState := lua.NewState()
		defer lState.Close()
		lState.SetContext(ctx)

		// Scripts get a minimal os module: getenv and time only.
		lState.PreloadModule("os", osModuleLoader)

		if err := lState.DoString(script); err != nil {
			return nil, policy.Fatal(policy.CodeToolFailure, "load script: %v", err)
		}

		fn := lState.GetGlobal("run")
		if fn.Type() != lua.LTFunction {
			return nil, policy.Fatal(policy.CodeToolFailure, "script must define global function run(input)")
		}

		lState.Push(fn)
		lState.Push(goToLua(lState, input))
		if err := lState.PCall(1, 1, nil); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, policy.Fatal(policy.CodeToolFailure, "run(): %v", err)
		}

		ret := lState.Get(-1)
		lState.Pop(1)

		if tbl, ok := ret.(*lua.LTable); ok {
			if msg := tbl.RawGetString("error"); msg.Type() == lua.LTString {
				retryable := tbl.RawGetString("retryable") == lua.LTrue
				if retryable {
					return nil, policy.Transient(policy.CodeToolFailure, "%s", msg.String())
				}
				return nil, policy.Fatal(policy.CodeToolFailure, "%s", msg.String())
			}
		}
		return luaToGo(ret), nil
	}
}

func goToLua(lState *lua.LState, v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(x)
	case string:
		return lua.LString(x)
	case int:
		return lua.LNumber(x)
	case int64:
		return lua.LNumber(x)
	case float64:
		return lua.LNumber(x)
	case []any:
		tbl := lState.NewTable()
		for _, item := range x {
			tbl.Append(goToLua(lState, item))
		}
		return tbl
	case map[string]any:
		tbl := lState.NewTable()
		for k, item := range x {
			tbl.RawSetString(k, goToLua(lState, item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprintf("%v", x))
	}
}

func luaToGo(v lua.LValue) any {
	switch x := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(x)
	case lua.LString:
		return string(x)
	case lua.LNumber:
		return float64(x)
	case *lua.LTable:
		// A table with only consecutive integer keys decodes as a slice.
		maxN := x.MaxN()
		if maxN > 0 {
			var arr []any
			allInt := true
			x.ForEach(func(k, _ lua.LValue) {
				if _, ok := k.(lua.LNumber); !ok {
					allInt = false
				}
			})
			if allInt {
				for i := 1; i <= maxN; i++ {
					arr = append(arr, luaToGo(x.RawGetInt(i)))
				}
				return arr
			}
		}
		m := make(map[string]any)
		x.ForEach(func(k, val lua.LValue) {
			m[k.String()] = luaToGo(val)
		})
		return m
	default:
		return v.String()
	}
}

// osModuleLoader exposes getenv and time to scripts, nothing else.
func osModuleLoader(lState *lua.LState) int {
	mod := lState.NewTable()
	lState.SetField(mod, "getenv", lState.NewFunction(func(ls *lua.LState) int {
		ls.Push(lua.LString(os.Getenv(ls.CheckString(1))))
		return 1
	}))
	lState.SetField(mod, "time", lState.NewFunction(func(ls *lua.LState) int {
		ls.Push(lua.LNumber(time.Now().Unix()))
		return 1
	}))
	lState.Push(mod)
	return 1
}

// BindScripts binds a Lua implementation for every registry entry that
// carries a script. A script value ending in .lua is read from disk;
// anything else is treated as inline source. Entries without a script must
// already have a Go implementation registered under the same name.
func BindScripts(reg *registry.Registry, d *Dispatcher) error {
	for _, spec := range reg.Specs() {
		if spec.Script == "" {
			continue
		}
		src := spec.Script
		if strings.HasSuffix(src, ".lua") {
			data, err := os.ReadFile(src)
			if err != nil {
				return fmt.Errorf("tools: script for %q: %w", spec.Name, err)
			}
			src = string(data)
		}
		if err := d.Handle(spec.Name, LuaFunc(src)); err != nil {
			return err
		}
	}
	return nil
}
