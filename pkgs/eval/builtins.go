package eval

import (
	"math"
	"math/rand"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/weavelang/weave/pkgs/ast"
	"github.com/weavelang/weave/pkgs/diag"
)

// Signature describes a built-in for arity validation.
type Signature struct {
	Arity    int
	Mutating bool
}

// Builtins is the fixed signature table. The semantic validator checks
// call arities against it; there are no user-defined functions.
var Builtins = map[string]Signature{
	"count":   {Arity: 1},
	"first":   {Arity: 1},
	"last":    {Arity: 1},
	"has":     {Arity: 2},
	"push":    {Arity: 2, Mutating: true},
	"pop":     {Arity: 1, Mutating: true},
	"floor":   {Arity: 1},
	"ceil":    {Arity: 1},
	"round":   {Arity: 1},
	"abs":     {Arity: 1},
	"min":     {Arity: 2},
	"max":     {Arity: 2},
	"random":  {Arity: 2},
	"upper":   {Arity: 1},
	"lower":   {Arity: 1},
	"trim":    {Arity: 1},
	"len":     {Arity: 1},
	"str":     {Arity: 1},
	"num":     {Arity: 1},
	"bool":    {Arity: 1},
	"visited": {Arity: 1},
	"host":    {Arity: 1},
}

func evalCall(n *ast.FunctionCall, env *Env) (Value, error) {
	sig, ok := Builtins[n.Name]
	if !ok {
		return Null(), errf(n.Pos, "unknown function %q", n.Name)
	}
	if len(n.Args) != sig.Arity {
		return Null(), errf(n.Pos, "%s takes %d argument(s), got %d", n.Name, sig.Arity, len(n.Args))
	}

	// push and pop mutate the variable their first argument names.
	if sig.Mutating {
		return evalMutating(n, env)
	}

	args := make([]Value, len(n.Args))
	for i, a := range n.Args {
		v, err := Evaluate(a, env)
		if err != nil {
			return Null(), err
		}
		args[i] = v
	}
	return dispatch(n, env, args)
}

func evalMutating(n *ast.FunctionCall, env *Env) (Value, error) {
	ref, ok := n.Args[0].(*ast.VariableRef)
	if !ok {
		return Null(), errf(n.Pos, "%s needs a variable as its first argument", n.Name)
	}
	target := env.Vars.Get(ref.Name)
	if target.Kind == KindNull {
		target = ListOf()
	}
	if target.Kind != KindList {
		return Null(), errf(n.Pos, "%s needs a list, $%s is %s", n.Name, ref.Name, target.Kind)
	}

	if n.Name == "push" {
		v, err := Evaluate(n.Args[1], env)
		if err != nil {
			return Null(), err
		}
		elems := append(append([]Value(nil), target.List...), v)
		updated := Value{Kind: KindList, List: elems}
		env.Vars.Set(ref.Name, updated)
		return updated, nil
	}

	// pop
	if len(target.List) == 0 {
		return Null(), errf(n.Pos, "pop on empty list $%s", ref.Name)
	}
	last := target.List[len(target.List)-1]
	env.Vars.Set(ref.Name, Value{Kind: KindList, List: append([]Value(nil), target.List[:len(target.List)-1]...)})
	return last, nil
}

func dispatch(n *ast.FunctionCall, env *Env, args []Value) (Value, error) {
	pos := n.Pos
	switch n.Name {
	case "count":
		list, err := wantList(pos, n.Name, args[0])
		if err != nil {
			return Null(), err
		}
		return Number(float64(len(list))), nil

	case "first":
		list, err := wantList(pos, n.Name, args[0])
		if err != nil {
			return Null(), err
		}
		if len(list) == 0 {
			return Null(), nil
		}
		return list[0], nil

	case "last":
		list, err := wantList(pos, n.Name, args[0])
		if err != nil {
			return Null(), err
		}
		if len(list) == 0 {
			return Null(), nil
		}
		return list[len(list)-1], nil

	case "has":
		list, err := wantList(pos, n.Name, args[0])
		if err != nil {
			return Null(), err
		}
		for _, el := range list {
			if el.Equal(args[1]) {
				return Boolean(true), nil
			}
		}
		return Boolean(false), nil

	case "floor", "ceil", "round", "abs":
		f, err := wantNumber(pos, n.Name, args[0])
		if err != nil {
			return Null(), err
		}
		switch n.Name {
		case "floor":
			return Number(math.Floor(f)), nil
		case "ceil":
			return Number(math.Ceil(f)), nil
		case "round":
			return Number(math.Round(f)), nil
		default:
			return Number(math.Abs(f)), nil
		}

	case "min", "max":
		a, err := wantNumber(pos, n.Name, args[0])
		if err != nil {
			return Null(), err
		}
		b, err := wantNumber(pos, n.Name, args[1])
		if err != nil {
			return Null(), err
		}
		if n.Name == "min" {
			return Number(math.Min(a, b)), nil
		}
		return Number(math.Max(a, b)), nil

	case "random":
		a, err := wantNumber(pos, n.Name, args[0])
		if err != nil {
			return Null(), err
		}
		b, err := wantNumber(pos, n.Name, args[1])
		if err != nil {
			return Null(), err
		}
		lo, hi := int(a), int(b)
		if hi < lo {
			lo, hi = hi, lo
		}
		return Number(float64(lo + env.rng().Intn(hi-lo+1))), nil

	case "upper", "lower", "trim":
		s, err := wantString(pos, n.Name, args[0])
		if err != nil {
			return Null(), err
		}
		switch n.Name {
		case "upper":
			return String(strings.ToUpper(s)), nil
		case "lower":
			return String(strings.ToLower(s)), nil
		default:
			return String(strings.TrimSpace(s)), nil
		}

	case "len":
		s, err := wantString(pos, n.Name, args[0])
		if err != nil {
			return Null(), err
		}
		return Number(float64(utf8.RuneCountInString(s))), nil

	case "str":
		return String(args[0].Display()), nil

	case "num":
		return toNumber(args[0]), nil

	case "bool":
		return Boolean(args[0].Truthy()), nil

	case "visited":
		s, err := wantString(pos, n.Name, args[0])
		if err != nil {
			return Null(), err
		}
		if env.Visited == nil {
			return Number(0), nil
		}
		return Number(float64(env.Visited(s))), nil

	case "host":
		s, err := wantString(pos, n.Name, args[0])
		if err != nil {
			return Null(), err
		}
		if env.Host == nil {
			return Null(), errf(pos, "no host script runtime configured")
		}
		v, err := env.Host.Invoke(s, env.Vars)
		if err != nil {
			return Null(), errf(pos, "host script: %v", err)
		}
		return v, nil
	}
	return Null(), errf(pos, "unknown function %q", n.Name)
}

// toNumber is the total num() conversion: strings parse (0 on failure),
// booleans map to 1/0, Null to 0, lists to their element count.
func toNumber(v Value) Value {
	switch v.Kind {
	case KindNumber:
		return v
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			return Number(0)
		}
		return Number(f)
	case KindBool:
		if v.Bool {
			return Number(1)
		}
		return Number(0)
	case KindList:
		return Number(float64(len(v.List)))
	default:
		return Number(0)
	}
}

func wantList(pos diag.Span, fn string, v Value) ([]Value, error) {
	if v.Kind != KindList {
		return nil, errf(pos, "%s needs a list, got %s", fn, v.Kind)
	}
	return v.List, nil
}

func wantNumber(pos diag.Span, fn string, v Value) (float64, error) {
	if v.Kind != KindNumber {
		return 0, errf(pos, "%s needs a number, got %s", fn, v.Kind)
	}
	return v.Num, nil
}

func wantString(pos diag.Span, fn string, v Value) (string, error) {
	if v.Kind != KindString {
		return "", errf(pos, "%s needs a string, got %s", fn, v.Kind)
	}
	return v.Str, nil
}

// rng returns the environment's random source, defaulting to a fixed
// seed so sessions without explicit seeding stay reproducible.
func (env *Env) rng() *rand.Rand {
	if env.Rand == nil {
		env.Rand = rand.New(rand.NewSource(1))
	}
	return env.Rand
}
