package diag

import (
	"fmt"
	"sort"
)

// Severity of a diagnostic. Everything the compiler emits today is an
// error; the level exists so tooling can add warnings without a format
// change.
type Severity int

const (
	Error Severity = iota
	Warning
)

func (s Severity) String() string {
	if s == Warning {
		return "warning"
	}
	return "error"
}

// Stable diagnostic codes. Lexical codes are L0xxx, syntax P01xx,
// semantic S02xx. Codes are part of the public contract: tests and
// external tooling match on them, messages are free to change.
const (
	// Lexical
	CodeUnexpectedChar      = "L0001"
	CodeUnterminatedString  = "L0002"
	CodeUnterminatedComment = "L0003"
	CodeBadEscape           = "L0004"

	// Syntax
	CodeUnexpectedToken  = "P0101"
	CodeUnclosedChoice   = "P0102"
	CodeUnbalancedBraces = "P0103"
	CodeBadAssignTarget  = "P0104"
	CodeBadMetadata      = "P0105"
	CodeExpectedExpr     = "P0106"

	// Semantic
	CodeDuplicatePassage = "S0201"
	CodeUnresolvedTarget = "S0202"
	CodeWrongArity       = "S0203"
	CodeUnknownBuiltin   = "S0204"
	CodeUnbalancedBranch = "S0205"
)

// Position is a location in source text. Line and Column are 1-based,
// Offset is a 0-based byte offset.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
	Offset int `json:"offset"`
}

// Span covers a contiguous region of source text.
type Span struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// At builds a zero-width span at a single position.
func At(pos Position) Span {
	return Span{Start: pos, End: pos}
}

func (s Span) String() string {
	if s.Start.Line == s.End.Line {
		return fmt.Sprintf("%d:%d", s.Start.Line, s.Start.Column)
	}
	return fmt.Sprintf("%d:%d-%d:%d", s.Start.Line, s.Start.Column, s.End.Line, s.End.Column)
}

// Diagnostic is a single compile-time finding with a stable code and a
// source span sufficient to locate the authoring mistake.
type Diagnostic struct {
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Span     Span     `json:"span"`
}

func (d Diagnostic) Error() string {
	return fmt.Sprintf("%s: %s [%s]", d.Span, d.Message, d.Code)
}

// Errorf builds an error diagnostic at span.
func Errorf(code string, span Span, format string, args ...any) Diagnostic {
	return Diagnostic{
		Code:     code,
		Severity: Error,
		Message:  fmt.Sprintf(format, args...),
		Span:     span,
	}
}

// Sort orders diagnostics by source position, then by code, so batched
// output is stable regardless of which compiler pass produced each one.
func Sort(diags []Diagnostic) {
	sort.SliceStable(diags, func(i, j int) bool {
		a, b := diags[i], diags[j]
		if a.Span.Start.Offset != b.Span.Start.Offset {
			return a.Span.Start.Offset < b.Span.Start.Offset
		}
		return a.Code < b.Code
	})
}

// HasErrors reports whether any diagnostic is an error.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == Error {
			return true
		}
	}
	return false
}
