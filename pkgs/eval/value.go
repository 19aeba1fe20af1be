// Package eval implements the Weave expression sub-language: the Value
// tagged union, author-facing truthiness, and a precedence-respecting
// evaluator over parsed expression trees.
package eval

import (
	"strconv"
	"strings"
)

// Kind tags a Value variant.
type Kind int

const (
	KindNull Kind = iota
	KindNumber
	KindString
	KindBool
	KindList
)

var kindNames = [...]string{"null", "number", "string", "bool", "list"}

func (k Kind) String() string { return kindNames[k] }

// Value is the closed tagged union of Weave runtime values. All numbers
// are float64. Lists hold values of any kind.
type Value struct {
	Kind Kind
	Num  float64
	Str  string
	Bool bool
	List []Value
}

// Null is the zero Value.
func Null() Value { return Value{} }

// Number builds a numeric value.
func Number(f float64) Value { return Value{Kind: KindNumber, Num: f} }

// String builds a string value.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Boolean builds a boolean value.
func Boolean(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// ListOf builds a list value.
func ListOf(elems ...Value) Value { return Value{Kind: KindList, List: elems} }

// Truthy implements the author-facing truthiness table: Null and false
// are falsy, zero and the empty string are falsy, everything else —
// including the empty list — is truthy.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindNull:
		return false
	case KindBool:
		return v.Bool
	case KindNumber:
		return v.Num != 0
	case KindString:
		return v.Str != ""
	default:
		return true
	}
}

// Display renders a value for text interpolation. Null displays as "0":
// unset variables read as Null, and the fixed policy is that they
// interpolate the way an unset counter would.
func (v Value) Display() string {
	switch v.Kind {
	case KindNull:
		return "0"
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindString:
		return v.Str
	case KindBool:
		return strconv.FormatBool(v.Bool)
	default:
		parts := make([]string, len(v.List))
		for i, el := range v.List {
			parts[i] = el.Display()
		}
		return strings.Join(parts, ", ")
	}
}

// Equal is deep structural equality across all variants. Values of
// different kinds are never equal.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindNumber:
		return v.Num == o.Num
	case KindString:
		return v.Str == o.Str
	case KindBool:
		return v.Bool == o.Bool
	default:
		if len(v.List) != len(o.List) {
			return false
		}
		for i := range v.List {
			if !v.List[i].Equal(o.List[i]) {
				return false
			}
		}
		return true
	}
}
