package eval

import (
	"fmt"
	"math/rand"

	"github.com/weavelang/weave/pkgs/ast"
	"github.com/weavelang/weave/pkgs/diag"
)

// Store is read/write access to a variable namespace. Reads of unset
// names return Null, never an error.
type Store interface {
	Get(name string) Value
	Set(name string, v Value)
}

// HostRuntime is the bounded invocation contract for the embedded
// script escape hatch. The runtime receives the script source and a
// proxy over the variable store, and returns a value or an error.
type HostRuntime interface {
	Invoke(code string, vars Store) (Value, error)
}

// Env is everything an expression may touch during evaluation.
type Env struct {
	Vars    Store
	Visited func(passage string) int // visit counts, nil reads as 0
	Host    HostRuntime              // nil means no escape hatch configured
	Rand    *rand.Rand
}

// Error is a typed evaluation failure: division by zero, a type
// mismatch in a built-in, or a failed host invocation.
type Error struct {
	Message string
	Span    diag.Span
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Span, e.Message)
}

func errf(span diag.Span, format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...), Span: span}
}

// Evaluate computes the value of an expression against env. It has no
// side effects except for built-ins explicitly marked mutating.
func Evaluate(e ast.Expr, env *Env) (Value, error) {
	switch n := e.(type) {
	case *ast.NumberLit:
		return Number(n.Value), nil
	case *ast.StringLit:
		return String(n.Value), nil
	case *ast.BoolLit:
		return Boolean(n.Value), nil
	case *ast.NullLit:
		return Null(), nil

	case *ast.ListLit:
		elems := make([]Value, 0, len(n.Elems))
		for _, el := range n.Elems {
			v, err := Evaluate(el, env)
			if err != nil {
				return Null(), err
			}
			elems = append(elems, v)
		}
		return Value{Kind: KindList, List: elems}, nil

	case *ast.VariableRef:
		return env.Vars.Get(n.Name), nil

	case *ast.FunctionCall:
		return evalCall(n, env)

	case *ast.UnaryOp:
		operand, err := Evaluate(n.Operand, env)
		if err != nil {
			return Null(), err
		}
		switch n.Op {
		case ast.OpNot:
			return Boolean(!operand.Truthy()), nil
		default: // OpNeg
			if operand.Kind != KindNumber {
				return Null(), errf(n.Pos, "cannot negate %s", operand.Kind)
			}
			return Number(-operand.Num), nil
		}

	case *ast.BinaryOp:
		return evalBinary(n, env)

	default:
		return Null(), errf(e.Span(), "unsupported expression node %T", e)
	}
}

func evalBinary(n *ast.BinaryOp, env *Env) (Value, error) {
	// Logical operators short-circuit on the left operand's truthiness.
	if n.Op == ast.OpAnd || n.Op == ast.OpOr {
		left, err := Evaluate(n.Left, env)
		if err != nil {
			return Null(), err
		}
		if n.Op == ast.OpAnd && !left.Truthy() {
			return Boolean(false), nil
		}
		if n.Op == ast.OpOr && left.Truthy() {
			return Boolean(true), nil
		}
		right, err := Evaluate(n.Right, env)
		if err != nil {
			return Null(), err
		}
		return Boolean(right.Truthy()), nil
	}

	left, err := Evaluate(n.Left, env)
	if err != nil {
		return Null(), err
	}
	right, err := Evaluate(n.Right, env)
	if err != nil {
		return Null(), err
	}

	switch n.Op {
	case ast.OpEq:
		return Boolean(left.Equal(right)), nil
	case ast.OpNeq:
		return Boolean(!left.Equal(right)), nil

	case ast.OpLt, ast.OpGt, ast.OpLte, ast.OpGte:
		return compare(n, left, right)

	case ast.OpAdd:
		if left.Kind == KindString && right.Kind == KindString {
			return String(left.Str + right.Str), nil
		}
		fallthrough
	case ast.OpSub, ast.OpMul, ast.OpDiv, ast.OpMod:
		if left.Kind != KindNumber || right.Kind != KindNumber {
			return Null(), errf(n.Pos, "operator %s needs numbers, got %s and %s",
				n.Op, left.Kind, right.Kind)
		}
		switch n.Op {
		case ast.OpAdd:
			return Number(left.Num + right.Num), nil
		case ast.OpSub:
			return Number(left.Num - right.Num), nil
		case ast.OpMul:
			return Number(left.Num * right.Num), nil
		case ast.OpDiv:
			if right.Num == 0 {
				return Null(), errf(n.Pos, "division by zero")
			}
			return Number(left.Num / right.Num), nil
		default: // OpMod
			if right.Num == 0 {
				return Null(), errf(n.Pos, "division by zero")
			}
			return Number(float64(int64(left.Num) % int64(right.Num))), nil
		}
	}
	return Null(), errf(n.Pos, "unknown operator %s", n.Op)
}

// compare orders numbers numerically and strings ordinally.
func compare(n *ast.BinaryOp, left, right Value) (Value, error) {
	var cmp int
	switch {
	case left.Kind == KindNumber && right.Kind == KindNumber:
		switch {
		case left.Num < right.Num:
			cmp = -1
		case left.Num > right.Num:
			cmp = 1
		}
	case left.Kind == KindString && right.Kind == KindString:
		switch {
		case left.Str < right.Str:
			cmp = -1
		case left.Str > right.Str:
			cmp = 1
		}
	default:
		return Null(), errf(n.Pos, "cannot order %s against %s", left.Kind, right.Kind)
	}
	switch n.Op {
	case ast.OpLt:
		return Boolean(cmp < 0), nil
	case ast.OpGt:
		return Boolean(cmp > 0), nil
	case ast.OpLte:
		return Boolean(cmp <= 0), nil
	default:
		return Boolean(cmp >= 0), nil
	}
}
