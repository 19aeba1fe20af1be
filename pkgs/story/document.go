package story

import (
	"encoding/json"
	"fmt"

	"github.com/weavelang/weave/pkgs/ast"
	"github.com/weavelang/weave/pkgs/parser"
)

// Density selects the document encoding. Verbose spells out every field
// including defaults; Compact renames fields and omits defaults. Both
// round-trip losslessly into the same in-memory Model — conversion
// between densities is a contract, not an implementation detail.
type Density string

const (
	Verbose Density = "verbose"
	Compact Density = "compact"
)

const documentVersion = 1

// Expressions are stored as Weave source text (ast.ExprString) and
// re-parsed on load; this keeps the node encoding flat.

// MarshalDocument serializes a Model at the requested density.
func MarshalDocument(m *Model, density Density) ([]byte, error) {
	switch density {
	case Verbose:
		return json.MarshalIndent(encodeDocument(m, false), "", "  ")
	case Compact:
		return json.Marshal(encodeDocument(m, true))
	default:
		return nil, fmt.Errorf("unknown document density %q", density)
	}
}

// ParseDocument deserializes either density into a Model.
func ParseDocument(data []byte) (*Model, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse story document: %w", err)
	}
	return decodeDocument(raw)
}

// Convert re-encodes a document at a new density.
func Convert(data []byte, density Density) ([]byte, error) {
	m, err := ParseDocument(data)
	if err != nil {
		return nil, err
	}
	return MarshalDocument(m, density)
}

func encodeDocument(m *Model, compact bool) map[string]any {
	passages := make([]any, 0, len(m.Order))
	for _, name := range m.Order {
		passages = append(passages, encodePassage(m.Passages[name], compact))
	}
	if compact {
		doc := map[string]any{
			"f": "weave",
			"v": documentVersion,
			"d": string(Compact),
			"s": m.Start,
			"p": passages,
		}
		if len(m.Metadata) > 0 {
			doc["m"] = m.Metadata
		}
		return doc
	}
	return map[string]any{
		"format":   "weave",
		"version":  documentVersion,
		"density":  string(Verbose),
		"start":    m.Start,
		"metadata": m.Metadata,
		"passages": passages,
	}
}

func encodePassage(p *ast.Passage, compact bool) map[string]any {
	nodes := encodeContent(p.Nodes, compact)
	if compact {
		doc := map[string]any{"i": p.Name, "n": nodes}
		if len(p.Tags) > 0 {
			doc["g"] = p.Tags
		}
		return doc
	}
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	return map[string]any{"id": p.Name, "tags": tags, "nodes": nodes}
}

func encodeContent(nodes []ast.Content, compact bool) []any {
	out := make([]any, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, encodeNode(n, compact))
	}
	return out
}

func encodeNode(n ast.Content, compact bool) map[string]any {
	if compact {
		return encodeNodeCompact(n)
	}
	return encodeNodeVerbose(n)
}

func encodeNodeVerbose(n ast.Content) map[string]any {
	switch node := n.(type) {
	case *ast.TextRun:
		return map[string]any{"type": "text", "text": node.Text}
	case *ast.LineBreak:
		return map[string]any{"type": "break"}
	case *ast.Interpolation:
		return map[string]any{"type": "interpolation", "expr": ast.ExprString(node.Value)}
	case *ast.Choice:
		guard := ""
		if node.Guard != nil {
			guard = ast.ExprString(node.Guard)
		}
		return map[string]any{
			"type":   "choice",
			"once":   node.Once,
			"guard":  guard,
			"label":  node.Label,
			"target": node.Target,
			"body":   encodeContent(node.Body, false),
		}
	case *ast.ConditionalBlock:
		branches := make([]any, 0, len(node.Branches))
		for _, br := range node.Branches {
			cond := ""
			if br.Cond != nil {
				cond = ast.ExprString(br.Cond)
			}
			branches = append(branches, map[string]any{
				"cond": cond,
				"body": encodeContent(br.Body, false),
			})
		}
		return map[string]any{"type": "conditional", "branches": branches}
	case *ast.InlineTernary:
		return map[string]any{
			"type": "ternary",
			"cond": ast.ExprString(node.Condition),
			"then": encodeContent(node.Then, false),
			"else": encodeContent(node.Else, false),
		}
	case *ast.Assignment:
		return map[string]any{
			"type": "assign",
			"name": node.Name,
			"op":   node.Op.String(),
			"expr": ast.ExprString(node.Value),
		}
	case *ast.Divert:
		return map[string]any{"type": "divert", "target": node.Target}
	case *ast.TunnelCall:
		return map[string]any{"type": "tunnel_call", "target": node.Target}
	case *ast.TunnelReturn:
		return map[string]any{"type": "tunnel_return", "target": node.Target}
	case *ast.ThreadSpawn:
		return map[string]any{"type": "thread_spawn", "target": node.Target}
	}
	return nil
}

func encodeNodeCompact(n ast.Content) map[string]any {
	switch node := n.(type) {
	case *ast.TextRun:
		return map[string]any{"t": "tx", "x": node.Text}
	case *ast.LineBreak:
		return map[string]any{"t": "br"}
	case *ast.Interpolation:
		return map[string]any{"t": "in", "e": ast.ExprString(node.Value)}
	case *ast.Choice:
		doc := map[string]any{"t": "ch", "l": node.Label}
		if node.Once {
			doc["o"] = true
		}
		if node.Guard != nil {
			doc["g"] = ast.ExprString(node.Guard)
		}
		if node.Target != "" {
			doc["r"] = node.Target
		}
		if len(node.Body) > 0 {
			doc["b"] = encodeContent(node.Body, true)
		}
		return doc
	case *ast.ConditionalBlock:
		branches := make([]any, 0, len(node.Branches))
		for _, br := range node.Branches {
			b := map[string]any{"b": encodeContent(br.Body, true)}
			if br.Cond != nil {
				b["c"] = ast.ExprString(br.Cond)
			}
			branches = append(branches, b)
		}
		return map[string]any{"t": "if", "br": branches}
	case *ast.InlineTernary:
		return map[string]any{
			"t":  "tn",
			"c":  ast.ExprString(node.Condition),
			"th": encodeContent(node.Then, true),
			"el": encodeContent(node.Else, true),
		}
	case *ast.Assignment:
		doc := map[string]any{"t": "as", "n": node.Name, "e": ast.ExprString(node.Value)}
		if node.Op != ast.AssignSet {
			doc["o"] = node.Op.String()
		}
		return doc
	case *ast.Divert:
		return map[string]any{"t": "dv", "r": node.Target}
	case *ast.TunnelCall:
		return map[string]any{"t": "tc", "r": node.Target}
	case *ast.TunnelReturn:
		doc := map[string]any{"t": "tr"}
		if node.Target != "" {
			doc["r"] = node.Target
		}
		return doc
	case *ast.ThreadSpawn:
		return map[string]any{"t": "ts", "r": node.Target}
	}
	return nil
}

// --- decoding ---

func decodeDocument(raw map[string]any) (*Model, error) {
	m := &Model{
		Passages: make(map[string]*ast.Passage),
		Metadata: make(map[string]string),
	}
	m.Start = getString(raw, "start", "s")

	if meta, ok := pick(raw, "metadata", "m").(map[string]any); ok {
		for k, v := range meta {
			if s, ok := v.(string); ok {
				m.Metadata[k] = s
			}
		}
	}

	rawPassages, ok := pick(raw, "passages", "p").([]any)
	if !ok {
		return nil, fmt.Errorf("story document has no passages")
	}
	for i, rp := range rawPassages {
		pm, ok := rp.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("passage %d: not an object", i)
		}
		p, err := decodePassage(pm)
		if err != nil {
			return nil, fmt.Errorf("passage %d: %w", i, err)
		}
		if _, dup := m.Passages[p.Name]; dup {
			return nil, fmt.Errorf("duplicate passage %q", p.Name)
		}
		m.Passages[p.Name] = p
		m.Order = append(m.Order, p.Name)
	}

	if m.Start == "" && len(m.Order) > 0 {
		m.Start = m.Order[0]
	}
	if _, ok := m.Passages[m.Start]; !ok {
		return nil, fmt.Errorf("start passage %q not present", m.Start)
	}
	return m, nil
}

func decodePassage(raw map[string]any) (*ast.Passage, error) {
	name := getString(raw, "id", "i")
	if name == "" {
		return nil, fmt.Errorf("passage has no id")
	}
	p := &ast.Passage{Name: name}
	if tags, ok := pick(raw, "tags", "g").([]any); ok {
		for _, t := range tags {
			if s, ok := t.(string); ok {
				p.Tags = append(p.Tags, s)
			}
		}
	}
	nodes, err := decodeContent(pick(raw, "nodes", "n"))
	if err != nil {
		return nil, fmt.Errorf("passage %q: %w", name, err)
	}
	p.Nodes = nodes
	return p, nil
}

func decodeContent(raw any) ([]ast.Content, error) {
	items, ok := raw.([]any)
	if !ok {
		if raw == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("content is not an array")
	}
	var nodes []ast.Content
	for i, item := range items {
		nm, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("node %d: not an object", i)
		}
		n, err := decodeNode(nm)
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", i, err)
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func decodeNode(raw map[string]any) (ast.Content, error) {
	kind := getString(raw, "type", "t")
	switch kind {
	case "text", "tx":
		return &ast.TextRun{Text: getString(raw, "text", "x")}, nil

	case "break", "br":
		return &ast.LineBreak{}, nil

	case "interpolation", "in":
		expr, err := decodeExpr(getString(raw, "expr", "e"))
		if err != nil {
			return nil, err
		}
		return &ast.Interpolation{Value: expr}, nil

	case "choice", "ch":
		choice := &ast.Choice{
			Label:  getString(raw, "label", "l"),
			Target: getString(raw, "target", "r"),
		}
		if once, ok := pick(raw, "once", "o").(bool); ok {
			choice.Once = once
		}
		if guard := getString(raw, "guard", "g"); guard != "" {
			expr, err := decodeExpr(guard)
			if err != nil {
				return nil, err
			}
			choice.Guard = expr
		}
		body, err := decodeContent(pick(raw, "body", "b"))
		if err != nil {
			return nil, err
		}
		choice.Body = body
		return choice, nil

	case "conditional", "if":
		branchItems, _ := pick(raw, "branches", "br").([]any)
		block := &ast.ConditionalBlock{}
		for i, bi := range branchItems {
			bm, ok := bi.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("branch %d: not an object", i)
			}
			branch := ast.Branch{}
			if cond := getString(bm, "cond", "c"); cond != "" {
				expr, err := decodeExpr(cond)
				if err != nil {
					return nil, err
				}
				branch.Cond = expr
			}
			body, err := decodeContent(pick(bm, "body", "b"))
			if err != nil {
				return nil, err
			}
			branch.Body = body
			block.Branches = append(block.Branches, branch)
		}
		return block, nil

	case "ternary", "tn":
		cond, err := decodeExpr(getString(raw, "cond", "c"))
		if err != nil {
			return nil, err
		}
		then, err := decodeContent(pick(raw, "then", "th"))
		if err != nil {
			return nil, err
		}
		els, err := decodeContent(pick(raw, "else", "el"))
		if err != nil {
			return nil, err
		}
		return &ast.InlineTernary{Condition: cond, Then: then, Else: els}, nil

	case "assign", "as":
		expr, err := decodeExpr(getString(raw, "expr", "e"))
		if err != nil {
			return nil, err
		}
		op := ast.AssignSet
		switch getString(raw, "op", "o") {
		case "+=":
			op = ast.AssignAdd
		case "-=":
			op = ast.AssignSub
		case "*=":
			op = ast.AssignMul
		case "/=":
			op = ast.AssignDiv
		}
		return &ast.Assignment{Name: getString(raw, "name", "n"), Op: op, Value: expr}, nil

	case "divert", "dv":
		return &ast.Divert{Target: getString(raw, "target", "r")}, nil

	case "tunnel_call", "tc":
		return &ast.TunnelCall{Target: getString(raw, "target", "r")}, nil

	case "tunnel_return", "tr":
		return &ast.TunnelReturn{Target: getString(raw, "target", "r")}, nil

	case "thread_spawn", "ts":
		return &ast.ThreadSpawn{Target: getString(raw, "target", "r")}, nil
	}
	return nil, fmt.Errorf("unknown node type %q", kind)
}

func decodeExpr(src string) (ast.Expr, error) {
	if src == "" {
		return nil, fmt.Errorf("empty expression")
	}
	expr, diags := parser.ParseExpression(src)
	if len(diags) > 0 {
		return nil, fmt.Errorf("invalid expression %q: %s", src, diags[0].Message)
	}
	return expr, nil
}

// pick reads a field by its verbose name, falling back to the compact
// name, so mixed-density documents still decode.
func pick(raw map[string]any, verbose, compact string) any {
	if v, ok := raw[verbose]; ok {
		return v
	}
	return raw[compact]
}

func getString(raw map[string]any, verbose, compact string) string {
	if s, ok := pick(raw, verbose, compact).(string); ok {
		return s
	}
	return ""
}
