package semantic_test

import (
	"testing"

	"github.com/weavelang/weave/pkgs/diag"
	"github.com/weavelang/weave/pkgs/parser"
	"github.com/weavelang/weave/pkgs/semantic"
)

func validate(t *testing.T, source string) []diag.Diagnostic {
	t.Helper()
	prog, diags := parser.Parse(source)
	if diag.HasErrors(diags) {
		t.Fatalf("source failed to parse: %v", diags)
	}
	return semantic.Validate(prog)
}

func codesOf(diags []diag.Diagnostic) map[string]int {
	out := map[string]int{}
	for _, d := range diags {
		out[d.Code]++
	}
	return out
}

func TestValidStoryHasNoDiagnostics(t *testing.T) {
	diags := validate(t, `:: Start
Hello.
~ $gold = 10
{$gold > 5: Plenty. - else: Scraps.}
+ [Shop] -> Shop
<- Ambience
-> End

:: Shop
-> Vault() ->
->->

:: Vault
Deep below.
->-> End

:: Ambience
Wind howls.

:: End
{visited("Shop")} trips so far.
`)
	if len(diags) != 0 {
		t.Errorf("expected no diagnostics, got %v", diags)
	}
}

func TestDuplicatePassage(t *testing.T) {
	diags := validate(t, `:: Start
-> Start

:: Start
Again.
`)
	if codesOf(diags)[diag.CodeDuplicatePassage] != 1 {
		t.Errorf("expected one %s, got %v", diag.CodeDuplicatePassage, diags)
	}
}

func TestUnresolvedTargets(t *testing.T) {
	diags := validate(t, `:: Start
-> Missing
-> AlsoMissing() ->
->-> Gone
<- NoSuchThread
+ [Go] -> Nowhere
`)
	if codesOf(diags)[diag.CodeUnresolvedTarget] != 5 {
		t.Errorf("expected five %s, got %v", diag.CodeUnresolvedTarget, diags)
	}
}

func TestTargetsInsideNestedContent(t *testing.T) {
	diags := validate(t, `:: Start
{$deep:
-> Missing
}
+ [Pick] Inner text. -> AlsoMissing
`)
	if codesOf(diags)[diag.CodeUnresolvedTarget] != 2 {
		t.Errorf("expected two %s, got %v", diag.CodeUnresolvedTarget, diags)
	}
}

func TestBuiltinChecks(t *testing.T) {
	tests := []struct {
		name   string
		source string
		code   string
	}{
		{
			"unknown builtin",
			":: S\n~ $x = frobnicate(1)\n",
			diag.CodeUnknownBuiltin,
		},
		{
			"wrong arity",
			":: S\n~ $x = count($a, $b)\n",
			diag.CodeWrongArity,
		},
		{
			"arity checked in guards",
			":: S\n+ {min(1)} [Go] -> S\n",
			diag.CodeWrongArity,
		},
		{
			"arity checked in interpolations",
			":: S\nYou see {max(1, 2, 3)} things.\n",
			diag.CodeWrongArity,
		},
		{
			"nested arguments validated",
			":: S\n~ $x = min(frobnicate(1), 2)\n",
			diag.CodeUnknownBuiltin,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diags := validate(t, tt.source)
			if codesOf(diags)[tt.code] == 0 {
				t.Errorf("expected %s, got %v", tt.code, diags)
			}
		})
	}
}

func TestDiagnosticsAreOrderedBySource(t *testing.T) {
	diags := validate(t, `:: Start
-> Second_Missing

:: Other
-> First_Missing_In_Later_Passage
~ $x = frobnicate(1)
`)
	for i := 1; i < len(diags); i++ {
		if diags[i].Span.Start.Offset < diags[i-1].Span.Start.Offset {
			t.Fatalf("diagnostics out of order: %v", diags)
		}
	}
}
