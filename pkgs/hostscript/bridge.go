// Package hostscript implements the host() escape hatch on an embedded
// Lua interpreter. Scripts run in a fresh state per invocation and see
// the story's variables only through the vars.get/vars.set bridge.
package hostscript

import (
	"fmt"

	"github.com/Shopify/go-lua"

	"github.com/weavelang/weave/pkgs/eval"
)

// Runtime runs host scripts. The zero value is ready to use.
type Runtime struct {
	// OpenLibraries controls whether scripts get the Lua standard
	// libraries. Defaults to true via New.
	OpenLibraries bool
}

// New returns a Runtime with the Lua standard libraries enabled.
func New() *Runtime {
	return &Runtime{OpenLibraries: true}
}

// Invoke runs one script and returns its result value. The script's
// return value (if any) converts back into a story value; scripts that
// return nothing yield Null.
func (r *Runtime) Invoke(code string, vars eval.Store) (eval.Value, error) {
	state := lua.NewState()
	if r.OpenLibraries {
		lua.OpenLibraries(state)
	}
	registerVars(state, vars)

	if err := lua.LoadString(state, code); err != nil {
		return eval.Null(), fmt.Errorf("host script: %w", err)
	}
	if err := state.ProtectedCall(0, 1, 0); err != nil {
		return eval.Null(), fmt.Errorf("host script: %w", err)
	}
	result := pullValue(state, -1)
	state.Pop(1)
	return result, nil
}

// registerVars installs the `vars` global: vars.get(name) reads a story
// variable, vars.set(name, value) writes one. No other session state is
// reachable from a script.
func registerVars(state *lua.State, vars eval.Store) {
	fns := []lua.RegistryFunction{
		{Name: "get", Function: func(l *lua.State) int {
			name := lua.CheckString(l, 1)
			pushValue(l, vars.Get(name))
			return 1
		}},
		{Name: "set", Function: func(l *lua.State) int {
			name := lua.CheckString(l, 1)
			vars.Set(name, pullValue(l, 2))
			return 0
		}},
	}
	state.NewTable()
	lua.SetFunctions(state, fns, 0)
	state.SetGlobal("vars")
}

func pushValue(l *lua.State, v eval.Value) {
	switch v.Kind {
	case eval.KindNull:
		l.PushNil()
	case eval.KindNumber:
		l.PushNumber(v.Num)
	case eval.KindString:
		l.PushString(v.Str)
	case eval.KindBool:
		l.PushBoolean(v.Bool)
	case eval.KindList:
		l.CreateTable(len(v.List), 0)
		for i, el := range v.List {
			pushValue(l, el)
			l.RawSetInt(-2, i+1)
		}
	}
}

func pullValue(l *lua.State, index int) eval.Value {
	index = l.AbsIndex(index)
	switch l.TypeOf(index) {
	case lua.TypeBoolean:
		return eval.Boolean(l.ToBoolean(index))
	case lua.TypeNumber:
		n, _ := l.ToNumber(index)
		return eval.Number(n)
	case lua.TypeString:
		s, _ := l.ToString(index)
		return eval.String(s)
	case lua.TypeTable:
		// Tables convert by their array part; anything else in the
		// table is dropped.
		length := l.RawLength(index)
		elems := make([]eval.Value, 0, length)
		for i := 1; i <= length; i++ {
			l.RawGetInt(index, i)
			elems = append(elems, pullValue(l, -1))
			l.Pop(1)
		}
		return eval.ListOf(elems...)
	default:
		return eval.Null()
	}
}
