// Package story defines the compiled Story Model — the validated AST
// plus metadata the execution engine runs against — and its serialized
// document format in verbose and compact densities.
package story

import (
	"github.com/weavelang/weave/pkgs/ast"
)

// Model is the compiled, read-only representation of a story. It is
// built once from a validated program; mutation only happens through
// re-compilation.
type Model struct {
	// Passages maps name to definition. Order preserves source order.
	Passages map[string]*ast.Passage
	Order    []string
	Metadata map[string]string
	Start    string
}

// Build assembles a Model from a validated program. The start passage
// is the `start` metadata entry when present, otherwise the first
// passage in source order.
func Build(prog *ast.Program) *Model {
	m := &Model{
		Passages: make(map[string]*ast.Passage, len(prog.Passages)),
		Metadata: make(map[string]string, len(prog.Metadata)),
	}
	for _, entry := range prog.Metadata {
		m.Metadata[entry.Key] = entry.Value
	}
	for _, p := range prog.Passages {
		if _, ok := m.Passages[p.Name]; ok {
			continue
		}
		m.Passages[p.Name] = p
		m.Order = append(m.Order, p.Name)
	}
	if start, ok := m.Metadata["start"]; ok && start != "" {
		m.Start = start
	} else if len(m.Order) > 0 {
		m.Start = m.Order[0]
	}
	return m
}

// Passage looks up a passage by name.
func (m *Model) Passage(name string) (*ast.Passage, bool) {
	p, ok := m.Passages[name]
	return p, ok
}
