// Package parser builds Weave syntax trees from token streams. The
// parser is recursive descent and not error-recovering beyond the
// current statement: on a structural mismatch it records a diagnostic
// and resynchronizes at the next passage boundary, so a single compile
// pass surfaces every independent error in the document.
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/weavelang/weave/pkgs/ast"
	"github.com/weavelang/weave/pkgs/diag"
	"github.com/weavelang/weave/pkgs/lexer"
)

// Parser consumes a token stream exactly once.
type Parser struct {
	toks  []lexer.Token
	pos   int
	diags []diag.Diagnostic
}

// Parse lexes and parses source into a Program. Lexical and syntax
// diagnostics are returned together, sorted by source position.
func Parse(source string) (*ast.Program, []diag.Diagnostic) {
	toks, lexDiags := lexer.Tokenize(source)
	p := &Parser{toks: toks, diags: lexDiags}
	prog := p.parseProgram()
	diag.Sort(p.diags)
	return prog, p.diags
}

// ParseExpression parses a standalone expression, as stored in story
// documents for guards, interpolations, and assignment values.
func ParseExpression(source string) (ast.Expr, []diag.Diagnostic) {
	toks, lexDiags := lexer.TokenizeExpr(source)
	p := &Parser{toks: toks, diags: lexDiags}
	expr := p.parseExpr()
	if p.cur().Type != lexer.EOF {
		p.errExpected("end of expression")
	}
	diag.Sort(p.diags)
	return expr, p.diags
}

func (p *Parser) cur() lexer.Token {
	if p.pos < len(p.toks) {
		return p.toks[p.pos]
	}
	return p.toks[len(p.toks)-1] // EOF
}

func (p *Parser) peek() lexer.Token {
	if p.pos+1 < len(p.toks) {
		return p.toks[p.pos+1]
	}
	return p.toks[len(p.toks)-1]
}

func (p *Parser) next() lexer.Token {
	tok := p.cur()
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return tok
}

func (p *Parser) at(tt lexer.TokenType) bool { return p.cur().Type == tt }

func (p *Parser) accept(tt lexer.TokenType) (lexer.Token, bool) {
	if p.at(tt) {
		return p.next(), true
	}
	return lexer.Token{}, false
}

func (p *Parser) expect(tt lexer.TokenType, what string) (lexer.Token, bool) {
	if p.at(tt) {
		return p.next(), true
	}
	p.errExpected(what)
	return lexer.Token{}, false
}

func (p *Parser) errExpected(what string) {
	tok := p.cur()
	p.errorf(diag.CodeUnexpectedToken, tok.Span, "expected %s, found %s", what, describe(tok))
}

func (p *Parser) errorf(code string, span diag.Span, format string, args ...any) {
	p.diags = append(p.diags, diag.Errorf(code, span, format, args...))
}

func describe(tok lexer.Token) string {
	switch tok.Type {
	case lexer.EOF:
		return "end of input"
	case lexer.NEWLINE:
		return "end of line"
	default:
		return fmt.Sprintf("%q", tok.Lexeme)
	}
}

func (p *Parser) skipNewlines() {
	for p.at(lexer.NEWLINE) {
		p.next()
	}
}

// syncToPassage advances to the next passage boundary so independent
// errors in later passages still surface in the same pass.
func (p *Parser) syncToPassage() {
	for !p.at(lexer.EOF) && !p.at(lexer.PASSAGE) {
		p.next()
	}
}

func (p *Parser) syncToNewline() {
	for !p.at(lexer.EOF) && !p.at(lexer.NEWLINE) {
		p.next()
	}
}

func (p *Parser) parseProgram() *ast.Program {
	prog := &ast.Program{}
	p.skipNewlines()
	for !p.at(lexer.EOF) {
		switch {
		case p.at(lexer.PASSAGE):
			if passage := p.parsePassage(); passage != nil {
				prog.Passages = append(prog.Passages, passage)
			}
		case p.at(lexer.IDENT) && p.peek().Type == lexer.COLON && len(prog.Passages) == 0:
			prog.Metadata = append(prog.Metadata, p.parseMetadata())
		default:
			p.errorf(diag.CodeBadMetadata, p.cur().Span,
				"expected a passage header (:: Name) or metadata line, found %s", describe(p.cur()))
			p.syncToPassage()
		}
		p.skipNewlines()
	}
	return prog
}

func (p *Parser) parseMetadata() ast.Metadata {
	key := p.next()
	p.next() // colon
	value := ""
	if tok, ok := p.accept(lexer.TEXT); ok {
		value = strings.TrimSpace(tok.Value)
	}
	if !p.at(lexer.EOF) {
		p.expect(lexer.NEWLINE, "end of metadata line")
	}
	return ast.Metadata{Key: key.Value, Value: value, Pos: key.Span}
}

func (p *Parser) parsePassage() *ast.Passage {
	marker := p.next() // ::
	name, ok := p.expect(lexer.IDENT, "passage name")
	if !ok {
		p.syncToPassage()
		return nil
	}
	passage := &ast.Passage{Name: name.Value, Pos: marker.Span}

	if _, ok := p.accept(lexer.LBRACKET); ok {
		for {
			if tag, ok := p.accept(lexer.IDENT); ok {
				passage.Tags = append(passage.Tags, tag.Value)
			}
			if _, ok := p.accept(lexer.COMMA); !ok {
				break
			}
		}
		p.expect(lexer.RBRACKET, "closing ] after passage tags")
	}
	if !p.at(lexer.EOF) {
		p.expect(lexer.NEWLINE, "end of passage header")
	}

	passage.Nodes = p.parseContent(atPassageLevel)
	return passage
}

// contentStop tells parseContent which tokens end the current content
// sequence without being consumed.
type contentStop int

const (
	atPassageLevel contentStop = iota
	atBraceLevel               // stop at DASH, PIPE, RBRACE
	atLineLevel                // stop at NEWLINE (choice inline body)
)

func (p *Parser) parseContent(stop contentStop) []ast.Content {
	var nodes []ast.Content

	// Rendered text continuing on a new line gets an explicit LineBreak
	// node so segmentation survives the position-free document form.
	sawText := false
	breakPending := false
	var breakSpan diag.Span
	text := func(n ast.Content) {
		if breakPending {
			nodes = append(nodes, &ast.LineBreak{Pos: breakSpan})
		}
		breakPending = false
		sawText = true
		nodes = append(nodes, n)
	}

	for {
		tok := p.cur()
		switch tok.Type {
		case lexer.EOF, lexer.PASSAGE:
			return nodes

		case lexer.NEWLINE:
			if stop == atLineLevel {
				return nodes
			}
			if sawText {
				breakPending = true
				breakSpan = tok.Span
			}
			p.next()

		case lexer.TEXT:
			p.next()
			text(&ast.TextRun{Text: tok.Value, Pos: tok.Span})

		case lexer.LBRACE, lexer.LINTERP:
			if node := p.parseBrace(); node != nil {
				text(node)
			}

		case lexer.TILDE:
			p.next()
			if node := p.parseAssignment(tok.Span); node != nil {
				nodes = append(nodes, node)
			}

		case lexer.VARIABLE:
			if node := p.parseAssignment(tok.Span); node != nil {
				nodes = append(nodes, node)
			}

		case lexer.ARROW:
			if node := p.parseDivert(); node != nil {
				nodes = append(nodes, node)
			}

		case lexer.TUNNEL_RET:
			p.next()
			ret := &ast.TunnelReturn{Pos: tok.Span}
			if target, ok := p.accept(lexer.IDENT); ok {
				ret.Target = target.Value
			}
			nodes = append(nodes, ret)

		case lexer.THREAD_ARROW:
			p.next()
			target, ok := p.expect(lexer.IDENT, "thread target passage name")
			if !ok {
				p.syncToNewline()
				continue
			}
			nodes = append(nodes, &ast.ThreadSpawn{Target: target.Value, Pos: tok.Span})

		case lexer.CHOICE_PLUS, lexer.CHOICE_STAR:
			if node := p.parseChoice(); node != nil {
				nodes = append(nodes, node)
			}

		case lexer.DASH, lexer.PIPE, lexer.RBRACE, lexer.RINTERP:
			if stop != atPassageLevel {
				return nodes
			}
			p.next()
			p.errorf(diag.CodeUnbalancedBraces, tok.Span,
				"unexpected %q outside a conditional block", tok.Lexeme)

		default:
			p.errExpected("passage content")
			p.syncToNewline()
		}
	}
}

// parseAssignment parses `$name op expr` after an optional ~ sigil.
func (p *Parser) parseAssignment(start diag.Span) ast.Content {
	name, ok := p.expect(lexer.VARIABLE, "variable name after ~")
	if !ok {
		p.syncToNewline()
		return nil
	}
	opTok := p.cur()
	if !opTok.IsAssignOp() {
		p.errorf(diag.CodeBadAssignTarget, opTok.Span,
			"expected assignment operator after $%s, found %s", name.Value, describe(opTok))
		p.syncToNewline()
		return nil
	}
	p.next()
	value := p.parseExpr()
	if value == nil {
		p.syncToNewline()
		return nil
	}
	return &ast.Assignment{
		Name:  name.Value,
		Op:    assignOpFor(opTok.Type),
		Value: value,
		Pos:   start,
	}
}

func assignOpFor(tt lexer.TokenType) ast.AssignOp {
	switch tt {
	case lexer.PLUS_ASSIGN:
		return ast.AssignAdd
	case lexer.MINUS_ASSIGN:
		return ast.AssignSub
	case lexer.STAR_ASSIGN:
		return ast.AssignMul
	case lexer.SLASH_ASSIGN:
		return ast.AssignDiv
	default:
		return ast.AssignSet
	}
}

// parseDivert parses `-> Target`, `-> Target ->` and `-> Target() ->`.
func (p *Parser) parseDivert() ast.Content {
	arrow := p.next()
	target, ok := p.expect(lexer.IDENT, "divert target passage name")
	if !ok {
		p.syncToNewline()
		return nil
	}
	parens := false
	if _, ok := p.accept(lexer.LPAREN); ok {
		p.expect(lexer.RPAREN, "closing ) in tunnel call")
		parens = true
	}
	if _, ok := p.accept(lexer.ARROW); ok {
		return &ast.TunnelCall{Target: target.Value, Pos: arrow.Span}
	}
	if parens {
		p.errExpected("-> after tunnel call")
		return &ast.TunnelCall{Target: target.Value, Pos: arrow.Span}
	}
	return &ast.Divert{Target: target.Value, Pos: arrow.Span}
}

// parseChoice parses a full choice line: marker, optional guard,
// label, optional target, inline body.
func (p *Parser) parseChoice() ast.Content {
	marker := p.next()
	choice := &ast.Choice{Once: marker.Type == lexer.CHOICE_STAR, Pos: marker.Span}

	if _, ok := p.accept(lexer.LBRACE); ok {
		choice.Guard = p.parseExpr()
		p.expect(lexer.RBRACE, "closing } after choice guard")
	}

	if _, ok := p.accept(lexer.LBRACKET); !ok {
		p.errorf(diag.CodeUnclosedChoice, p.cur().Span,
			"expected [label] after choice marker, found %s", describe(p.cur()))
		p.syncToNewline()
		return nil
	}
	if tok, ok := p.accept(lexer.TEXT); ok {
		choice.Label = strings.TrimSpace(tok.Value)
	}
	if _, ok := p.accept(lexer.RBRACKET); !ok {
		p.errorf(diag.CodeUnclosedChoice, p.cur().Span, "missing ] to close choice label")
		p.syncToNewline()
		return nil
	}

	if _, ok := p.accept(lexer.ARROW); ok {
		if target, ok := p.expect(lexer.IDENT, "choice target passage name"); ok {
			choice.Target = target.Value
		}
	}

	choice.Body = p.parseContent(atLineLevel)
	return choice
}

// parseBrace parses everything that opens with { or {{: interpolation,
// inline ternary, or a conditional block.
func (p *Parser) parseBrace() ast.Content {
	open := p.next()

	if open.Type == lexer.LINTERP {
		value := p.parseExpr()
		p.expect(lexer.RINTERP, "closing }} after interpolation")
		if value == nil {
			return nil
		}
		return &ast.Interpolation{Value: value, Pos: open.Span}
	}

	// `{ else: ... }` is a degenerate conditional with only an else arm.
	var cond ast.Expr
	isElse := false
	if _, ok := p.accept(lexer.ELSE); ok {
		isElse = true
	} else {
		cond = p.parseExpr()
		if cond == nil {
			p.recoverBrace()
			return nil
		}
	}

	if !isElse {
		if _, ok := p.accept(lexer.RBRACE); ok {
			return &ast.Interpolation{Value: cond, Pos: open.Span}
		}
	}
	if _, ok := p.expect(lexer.COLON, ": after condition"); !ok {
		p.recoverBrace()
		return nil
	}

	body := p.parseContent(atBraceLevel)

	if p.at(lexer.PIPE) {
		p.next()
		elseBody := p.parseContent(atBraceLevel)
		p.expect(lexer.RBRACE, "closing } after inline ternary")
		if isElse {
			p.errorf(diag.CodeUnbalancedBranch, open.Span, "inline ternary cannot start with else")
			return nil
		}
		p.checkTernaryArm(body)
		p.checkTernaryArm(elseBody)
		return &ast.InlineTernary{Condition: cond, Then: body, Else: elseBody, Pos: open.Span}
	}

	block := &ast.ConditionalBlock{Pos: open.Span}
	block.Branches = append(block.Branches, ast.Branch{Cond: cond, Body: body, Pos: open.Span})
	if isElse {
		block.Branches[0].Cond = nil
	}

	for p.at(lexer.DASH) {
		dash := p.next()
		branch := ast.Branch{Pos: dash.Span}
		if _, ok := p.accept(lexer.ELSE); !ok {
			branch.Cond = p.parseExpr()
			if branch.Cond == nil {
				p.recoverBrace()
				return block
			}
		}
		if _, ok := p.expect(lexer.COLON, ": after branch condition"); !ok {
			p.recoverBrace()
			return block
		}
		branch.Body = p.parseContent(atBraceLevel)
		block.Branches = append(block.Branches, branch)
	}

	if _, ok := p.accept(lexer.RBRACE); !ok {
		p.errorf(diag.CodeUnbalancedBraces, p.cur().Span,
			"missing } to close conditional block opened at %s", open.Span)
		p.recoverBrace()
	}
	return block
}

// checkTernaryArm enforces that ternary arms are expression-valued:
// only text and interpolation may appear.
func (p *Parser) checkTernaryArm(arm []ast.Content) {
	for _, n := range arm {
		switch n.(type) {
		case *ast.TextRun, *ast.Interpolation, *ast.InlineTernary:
		default:
			p.errorf(diag.CodeUnexpectedToken, n.Span(),
				"inline ternary arms may only contain text and interpolations")
		}
	}
}

// recoverBrace skips to the end of the current brace construct.
func (p *Parser) recoverBrace() {
	depth := 1
	for !p.at(lexer.EOF) && !p.at(lexer.PASSAGE) {
		switch p.cur().Type {
		case lexer.LBRACE, lexer.LINTERP:
			depth++
		case lexer.RBRACE, lexer.RINTERP:
			depth--
			if depth == 0 {
				p.next()
				return
			}
		}
		p.next()
	}
}

// --- Expressions ---
//
// Precedence climbing over the binary operator table; unary operators
// bind tighter than any binary operator, parentheses override.

type opInfo struct {
	op   ast.BinOp
	prec int
}

var binaryOps = map[lexer.TokenType]opInfo{
	lexer.OR:      {ast.OpOr, 1},
	lexer.AND:     {ast.OpAnd, 2},
	lexer.EQ:      {ast.OpEq, 3},
	lexer.NEQ:     {ast.OpNeq, 3},
	lexer.LT:      {ast.OpLt, 3},
	lexer.GT:      {ast.OpGt, 3},
	lexer.LTE:     {ast.OpLte, 3},
	lexer.GTE:     {ast.OpGte, 3},
	lexer.PLUS:    {ast.OpAdd, 4},
	lexer.MINUS:   {ast.OpSub, 4},
	lexer.STAR:    {ast.OpMul, 5},
	lexer.SLASH:   {ast.OpDiv, 5},
	lexer.PERCENT: {ast.OpMod, 5},
}

func (p *Parser) parseExpr() ast.Expr {
	return p.parseBinary(1)
}

func (p *Parser) parseBinary(minPrec int) ast.Expr {
	left := p.parseUnary()
	if left == nil {
		return nil
	}
	for {
		info, ok := binaryOps[p.cur().Type]
		if !ok || info.prec < minPrec {
			return left
		}
		opTok := p.next()
		right := p.parseBinary(info.prec + 1)
		if right == nil {
			return nil
		}
		left = &ast.BinaryOp{Op: info.op, Left: left, Right: right, Pos: opTok.Span}
	}
}

func (p *Parser) parseUnary() ast.Expr {
	switch p.cur().Type {
	case lexer.NOT:
		tok := p.next()
		operand := p.parseUnary()
		if operand == nil {
			return nil
		}
		return &ast.UnaryOp{Op: ast.OpNot, Operand: operand, Pos: tok.Span}
	case lexer.MINUS:
		tok := p.next()
		operand := p.parseUnary()
		if operand == nil {
			return nil
		}
		return &ast.UnaryOp{Op: ast.OpNeg, Operand: operand, Pos: tok.Span}
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() ast.Expr {
	tok := p.cur()
	switch tok.Type {
	case lexer.NUMBER:
		p.next()
		value, err := strconv.ParseFloat(tok.Lexeme, 64)
		if err != nil {
			p.errorf(diag.CodeExpectedExpr, tok.Span, "invalid number literal %q", tok.Lexeme)
			return nil
		}
		return &ast.NumberLit{Value: value, Pos: tok.Span}

	case lexer.STRING:
		p.next()
		return &ast.StringLit{Value: tok.Value, Pos: tok.Span}

	case lexer.TRUE:
		p.next()
		return &ast.BoolLit{Value: true, Pos: tok.Span}

	case lexer.FALSE:
		p.next()
		return &ast.BoolLit{Value: false, Pos: tok.Span}

	case lexer.NULL:
		p.next()
		return &ast.NullLit{Pos: tok.Span}

	case lexer.VARIABLE:
		p.next()
		return &ast.VariableRef{Name: tok.Value, Pos: tok.Span}

	case lexer.IDENT:
		p.next()
		call := &ast.FunctionCall{Name: tok.Value, Pos: tok.Span}
		if _, ok := p.expect(lexer.LPAREN, "( after function name"); !ok {
			return nil
		}
		if !p.at(lexer.RPAREN) {
			for {
				arg := p.parseExpr()
				if arg == nil {
					return nil
				}
				call.Args = append(call.Args, arg)
				if _, ok := p.accept(lexer.COMMA); !ok {
					break
				}
			}
		}
		p.expect(lexer.RPAREN, "closing ) after function arguments")
		return call

	case lexer.LPAREN:
		p.next()
		inner := p.parseExpr()
		p.expect(lexer.RPAREN, "closing )")
		return inner

	case lexer.LBRACKET:
		p.next()
		list := &ast.ListLit{Pos: tok.Span}
		if !p.at(lexer.RBRACKET) {
			for {
				elem := p.parseExpr()
				if elem == nil {
					return nil
				}
				list.Elems = append(list.Elems, elem)
				if _, ok := p.accept(lexer.COMMA); !ok {
					break
				}
			}
		}
		p.expect(lexer.RBRACKET, "closing ] after list literal")
		return list

	default:
		p.errorf(diag.CodeExpectedExpr, tok.Span, "expected an expression, found %s", describe(tok))
		return nil
	}
}
