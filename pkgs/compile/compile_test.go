package compile_test

import (
	"testing"

	"github.com/weavelang/weave/pkgs/compile"
	"github.com/weavelang/weave/pkgs/diag"
)

func TestCompileValidStory(t *testing.T) {
	model, diags := compile.Compile(`title: Demo

:: Start
Hello.
-> End

:: End
Bye.
`)
	if model == nil {
		t.Fatalf("expected model, got diagnostics %v", diags)
	}
	if model.Start != "Start" {
		t.Errorf("start = %q", model.Start)
	}
	if model.Metadata["title"] != "Demo" {
		t.Errorf("title = %q", model.Metadata["title"])
	}
}

func TestCompileCollectsAllStages(t *testing.T) {
	// A parse-clean story with a semantic error returns no model.
	model, diags := compile.Compile(`:: Start
-> Missing
`)
	if model != nil {
		t.Error("expected nil model")
	}
	if !diag.HasErrors(diags) {
		t.Errorf("expected errors, got %v", diags)
	}
}

func TestCheckReportsParseAndSemanticTogether(t *testing.T) {
	diags := compile.Check(`:: Start
~ $x 1
-> Missing
`)
	codes := map[string]bool{}
	for _, d := range diags {
		codes[d.Code] = true
	}
	if !codes[diag.CodeBadAssignTarget] {
		t.Errorf("missing parse error in %v", diags)
	}
	if !codes[diag.CodeUnresolvedTarget] {
		t.Errorf("missing semantic error in %v", diags)
	}
}
