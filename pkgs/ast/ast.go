// Package ast defines the syntax tree for Weave stories. The node set
// is a closed sum type: every consumer (validator, evaluator, engine,
// document codec) switches exhaustively over the variants below.
package ast

import (
	"strconv"
	"strings"

	"github.com/weavelang/weave/pkgs/diag"
)

// Node is implemented by every syntax tree node.
type Node interface {
	Span() diag.Span
}

// Content is a node that can appear in passage content.
type Content interface {
	Node
	contentNode()
}

// Expr is a node of the condition/value sub-language.
type Expr interface {
	Node
	exprNode()
}

// Program is a parsed source file: metadata lines followed by passages,
// in source order.
type Program struct {
	Metadata []Metadata
	Passages []*Passage
}

// Metadata is a single `key: value` line before the first passage.
type Metadata struct {
	Key   string
	Value string
	Pos   diag.Span
}

// Passage is a named, addressable unit of narrative content.
type Passage struct {
	Name  string
	Tags  []string
	Nodes []Content
	Pos   diag.Span
}

func (p *Passage) Span() diag.Span { return p.Pos }

// TextRun is a run of literal narrative text.
type TextRun struct {
	Text string
	Pos  diag.Span
}

// LineBreak marks the boundary between rendered text on consecutive
// source lines. Recording it in the tree keeps fragment segmentation
// intact when a story round-trips through its document form, which
// carries no source positions.
type LineBreak struct {
	Pos diag.Span
}

// Interpolation embeds an expression's display value in text.
type Interpolation struct {
	Value Expr
	Pos   diag.Span
}

// Choice is a player-selectable link, optionally guarded and optionally
// one-time. Body holds inline content applied when the choice is taken.
type Choice struct {
	Once   bool
	Guard  Expr // nil when unguarded
	Label  string
	Target string // empty when the choice has no divert
	Body   []Content
	Pos    diag.Span
}

// ConditionalBlock is `{ cond: ... - cond: ... - else: ... }`.
type ConditionalBlock struct {
	Branches []Branch
	Pos      diag.Span
}

// Branch is one arm of a conditional block. Cond is nil for else.
type Branch struct {
	Cond Expr
	Body []Content
	Pos  diag.Span
}

// InlineTernary is `{ cond: a | b }`, a distinct node from the branch
// form because it is expression-valued rather than content-valued.
type InlineTernary struct {
	Condition Expr
	Then      []Content
	Else      []Content
	Pos       diag.Span
}

// AssignOp enumerates the assignment operators.
type AssignOp int

const (
	AssignSet AssignOp = iota // =
	AssignAdd                 // +=
	AssignSub                 // -=
	AssignMul                 // *=
	AssignDiv                 // /=
)

var assignOpNames = [...]string{"=", "+=", "-=", "*=", "/="}

func (op AssignOp) String() string { return assignOpNames[op] }

// Assignment is `~ $name = expr` (or compound assignment).
type Assignment struct {
	Name  string
	Op    AssignOp
	Value Expr
	Pos   diag.Span
}

// Divert is unconditional control transfer: `-> Target`.
type Divert struct {
	Target string
	Pos    diag.Span
}

// TunnelCall is `-> Target() ->` or `-> Target ->`: control transfer
// that pushes a return frame.
type TunnelCall struct {
	Target string
	Pos    diag.Span
}

// TunnelReturn is `->->`. A non-empty Target (`->-> Other`) pops the
// frame but diverts to Target instead of the recorded resume point.
type TunnelReturn struct {
	Target string
	Pos    diag.Span
}

// ThreadSpawn is `<- Target`: registers a concurrent narrative cursor
// without transferring control.
type ThreadSpawn struct {
	Target string
	Pos    diag.Span
}

func (n *TextRun) Span() diag.Span          { return n.Pos }
func (n *LineBreak) Span() diag.Span        { return n.Pos }
func (n *Interpolation) Span() diag.Span    { return n.Pos }
func (n *Choice) Span() diag.Span           { return n.Pos }
func (n *ConditionalBlock) Span() diag.Span { return n.Pos }
func (n *InlineTernary) Span() diag.Span    { return n.Pos }
func (n *Assignment) Span() diag.Span       { return n.Pos }
func (n *Divert) Span() diag.Span           { return n.Pos }
func (n *TunnelCall) Span() diag.Span       { return n.Pos }
func (n *TunnelReturn) Span() diag.Span     { return n.Pos }
func (n *ThreadSpawn) Span() diag.Span      { return n.Pos }

func (*TextRun) contentNode()          {}
func (*LineBreak) contentNode()        {}
func (*Interpolation) contentNode()    {}
func (*Choice) contentNode()           {}
func (*ConditionalBlock) contentNode() {}
func (*InlineTernary) contentNode()    {}
func (*Assignment) contentNode()       {}
func (*Divert) contentNode()           {}
func (*TunnelCall) contentNode()       {}
func (*TunnelReturn) contentNode()     {}
func (*ThreadSpawn) contentNode()      {}

// --- Expressions ---

// NumberLit is a numeric literal. All Weave numbers are float64.
type NumberLit struct {
	Value float64
	Pos   diag.Span
}

// StringLit is a quoted string literal, escapes already decoded.
type StringLit struct {
	Value string
	Pos   diag.Span
}

// BoolLit is true or false.
type BoolLit struct {
	Value bool
	Pos   diag.Span
}

// NullLit is the null literal.
type NullLit struct {
	Pos diag.Span
}

// ListLit is `[a, b, c]`.
type ListLit struct {
	Elems []Expr
	Pos   diag.Span
}

// VariableRef reads `$name`.
type VariableRef struct {
	Name string
	Pos  diag.Span
}

// FunctionCall invokes a built-in: `count($inv)`.
type FunctionCall struct {
	Name string
	Args []Expr
	Pos  diag.Span
}

// BinOp enumerates binary operators in precedence-relevant groups.
type BinOp int

const (
	OpMul BinOp = iota
	OpDiv
	OpMod
	OpAdd
	OpSub
	OpEq
	OpNeq
	OpLt
	OpGt
	OpLte
	OpGte
	OpAnd
	OpOr
)

var binOpNames = [...]string{"*", "/", "%", "+", "-", "==", "!=", "<", ">", "<=", ">=", "&&", "||"}

func (op BinOp) String() string { return binOpNames[op] }

// BinaryOp applies a binary operator.
type BinaryOp struct {
	Op    BinOp
	Left  Expr
	Right Expr
	Pos   diag.Span
}

// UnOp enumerates unary operators.
type UnOp int

const (
	OpNot UnOp = iota
	OpNeg
)

func (op UnOp) String() string {
	if op == OpNot {
		return "!"
	}
	return "-"
}

// UnaryOp applies a unary operator.
type UnaryOp struct {
	Op      UnOp
	Operand Expr
	Pos     diag.Span
}

func (n *NumberLit) Span() diag.Span    { return n.Pos }
func (n *StringLit) Span() diag.Span    { return n.Pos }
func (n *BoolLit) Span() diag.Span      { return n.Pos }
func (n *NullLit) Span() diag.Span      { return n.Pos }
func (n *ListLit) Span() diag.Span      { return n.Pos }
func (n *VariableRef) Span() diag.Span  { return n.Pos }
func (n *FunctionCall) Span() diag.Span { return n.Pos }
func (n *BinaryOp) Span() diag.Span     { return n.Pos }
func (n *UnaryOp) Span() diag.Span      { return n.Pos }

func (*NumberLit) exprNode()    {}
func (*StringLit) exprNode()    {}
func (*BoolLit) exprNode()      {}
func (*NullLit) exprNode()      {}
func (*ListLit) exprNode()      {}
func (*VariableRef) exprNode()  {}
func (*FunctionCall) exprNode() {}
func (*BinaryOp) exprNode()     {}
func (*UnaryOp) exprNode()      {}

// ExprString renders an expression back to parseable Weave source. The
// document codec stores expressions in this form; re-parsing the result
// yields a structurally equal tree.
func ExprString(e Expr) string {
	var b strings.Builder
	writeExpr(&b, e)
	return b.String()
}

func writeExpr(b *strings.Builder, e Expr) {
	switch n := e.(type) {
	case *NumberLit:
		b.WriteString(strconv.FormatFloat(n.Value, 'g', -1, 64))
	case *StringLit:
		b.WriteByte('"')
		b.WriteString(escapeLiteral(n.Value))
		b.WriteByte('"')
	case *BoolLit:
		b.WriteString(strconv.FormatBool(n.Value))
	case *NullLit:
		b.WriteString("null")
	case *ListLit:
		b.WriteByte('[')
		for i, el := range n.Elems {
			if i > 0 {
				b.WriteString(", ")
			}
			writeExpr(b, el)
		}
		b.WriteByte(']')
	case *VariableRef:
		b.WriteByte('$')
		b.WriteString(n.Name)
	case *FunctionCall:
		b.WriteString(n.Name)
		b.WriteByte('(')
		for i, a := range n.Args {
			if i > 0 {
				b.WriteString(", ")
			}
			writeExpr(b, a)
		}
		b.WriteByte(')')
	case *BinaryOp:
		b.WriteByte('(')
		writeExpr(b, n.Left)
		b.WriteByte(' ')
		b.WriteString(n.Op.String())
		b.WriteByte(' ')
		writeExpr(b, n.Right)
		b.WriteByte(')')
	case *UnaryOp:
		b.WriteString(n.Op.String())
		b.WriteByte('(')
		writeExpr(b, n.Operand)
		b.WriteByte(')')
	}
}

func escapeLiteral(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`"`, `\"`,
		"\n", `\n`,
		"\t", `\t`,
		"\r", `\r`,
		"{", `\{`,
		"}", `\}`,
		"$", `\$`,
	)
	return r.Replace(s)
}
