// Package semantic validates parsed Weave programs: duplicate passage
// detection, target resolution, built-in arity checks, and a structural
// re-check of conditional blocks. All findings are collected and
// reported together so every broken link in a document surfaces in one
// compile pass.
package semantic

import (
	"github.com/weavelang/weave/pkgs/ast"
	"github.com/weavelang/weave/pkgs/diag"
	"github.com/weavelang/weave/pkgs/eval"
)

type validator struct {
	passages map[string]*ast.Passage
	diags    []diag.Diagnostic
}

// Validate runs the single validation pass over a program. A nil or
// empty result means the program is a valid story.
func Validate(prog *ast.Program) []diag.Diagnostic {
	v := &validator{passages: make(map[string]*ast.Passage, len(prog.Passages))}

	// Duplicate passages are a hard error; neither definition wins.
	for _, p := range prog.Passages {
		if prev, ok := v.passages[p.Name]; ok {
			v.errorf(diag.CodeDuplicatePassage, p.Pos,
				"duplicate passage %q (first defined at %s)", p.Name, prev.Pos)
			continue
		}
		v.passages[p.Name] = p
	}

	for _, p := range prog.Passages {
		v.content(p.Nodes)
	}

	diag.Sort(v.diags)
	return v.diags
}

func (v *validator) errorf(code string, span diag.Span, format string, args ...any) {
	v.diags = append(v.diags, diag.Errorf(code, span, format, args...))
}

func (v *validator) target(name string, span diag.Span, kind string) {
	if name == "" {
		return
	}
	if _, ok := v.passages[name]; !ok {
		v.errorf(diag.CodeUnresolvedTarget, span, "%s target %q does not name a passage", kind, name)
	}
}

func (v *validator) content(nodes []ast.Content) {
	for _, n := range nodes {
		switch node := n.(type) {
		case *ast.TextRun, *ast.LineBreak:

		case *ast.Interpolation:
			v.expr(node.Value)

		case *ast.Assignment:
			v.expr(node.Value)

		case *ast.Divert:
			v.target(node.Target, node.Pos, "divert")

		case *ast.TunnelCall:
			v.target(node.Target, node.Pos, "tunnel call")

		case *ast.TunnelReturn:
			v.target(node.Target, node.Pos, "tunnel return")

		case *ast.ThreadSpawn:
			v.target(node.Target, node.Pos, "thread spawn")

		case *ast.Choice:
			if node.Guard != nil {
				v.expr(node.Guard)
			}
			v.target(node.Target, node.Pos, "choice")
			v.content(node.Body)

		case *ast.InlineTernary:
			v.expr(node.Condition)
			v.content(node.Then)
			v.content(node.Else)

		case *ast.ConditionalBlock:
			v.conditional(node)
		}
	}
}

// conditional re-checks block structure as a defense-in-depth invariant
// distinct from parse-time brace balancing.
func (v *validator) conditional(block *ast.ConditionalBlock) {
	if len(block.Branches) == 0 {
		v.errorf(diag.CodeUnbalancedBranch, block.Pos, "conditional block has no branches")
		return
	}
	for i, br := range block.Branches {
		if br.Cond == nil && i != len(block.Branches)-1 {
			v.errorf(diag.CodeUnbalancedBranch, br.Pos, "else branch must be last")
		}
		if br.Cond != nil {
			v.expr(br.Cond)
		}
		v.content(br.Body)
	}
}

func (v *validator) expr(e ast.Expr) {
	switch node := e.(type) {
	case *ast.FunctionCall:
		sig, ok := eval.Builtins[node.Name]
		if !ok {
			v.errorf(diag.CodeUnknownBuiltin, node.Pos, "unknown function %q", node.Name)
		} else if len(node.Args) != sig.Arity {
			v.errorf(diag.CodeWrongArity, node.Pos,
				"%s takes %d argument(s), got %d", node.Name, sig.Arity, len(node.Args))
		}
		for _, a := range node.Args {
			v.expr(a)
		}
	case *ast.BinaryOp:
		v.expr(node.Left)
		v.expr(node.Right)
	case *ast.UnaryOp:
		v.expr(node.Operand)
	case *ast.ListLit:
		for _, el := range node.Elems {
			v.expr(el)
		}
	}
}
