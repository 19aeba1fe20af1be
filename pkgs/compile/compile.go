// Package compile composes the front-end pipeline: parse, validate,
// build. It is the one entry point tools should use to turn Weave
// source into a runnable story model.
package compile

import (
	"github.com/weavelang/weave/pkgs/diag"
	"github.com/weavelang/weave/pkgs/parser"
	"github.com/weavelang/weave/pkgs/semantic"
	"github.com/weavelang/weave/pkgs/story"
)

// Compile runs source through the full pipeline. The model is nil when
// any stage reports an error; warnings alone do not block compilation.
func Compile(source string) (*story.Model, []diag.Diagnostic) {
	prog, diags := parser.Parse(source)
	if diag.HasErrors(diags) {
		return nil, diags
	}
	diags = append(diags, semantic.Validate(prog)...)
	diag.Sort(diags)
	if diag.HasErrors(diags) {
		return nil, diags
	}
	return story.Build(prog), diags
}

// Check parses and validates without building a model. It reports every
// diagnostic the pipeline can find in one pass.
func Check(source string) []diag.Diagnostic {
	prog, diags := parser.Parse(source)
	if prog != nil {
		diags = append(diags, semantic.Validate(prog)...)
	}
	diag.Sort(diags)
	return diags
}
