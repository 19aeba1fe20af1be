package lexer

import (
	"strings"

	"github.com/weavelang/weave/pkgs/diag"
)

// ASCII character lookup tables for fast classification
var (
	isSpace      [128]bool
	isDigit      [128]bool
	isIdentStart [128]bool
	isIdentPart  [128]bool
)

func init() {
	for i := 0; i < 128; i++ {
		ch := byte(i)
		isSpace[i] = ch == ' ' || ch == '\t'
		isDigit[i] = '0' <= ch && ch <= '9'
		isIdentStart[i] = ('a' <= ch && ch <= 'z') || ('A' <= ch && ch <= 'Z') || ch == '_'
		isIdentPart[i] = isIdentStart[i] || isDigit[i]
	}
}

// Mode represents the lexer's scanning modes. The mode in effect is
// derived from structure already consumed (open braces, choice markers,
// assignment sigils), never from lookahead.
type Mode int

const (
	ModeNormal    Mode = iota // passage content / free text
	ModeHeader                // after :: until end of line
	ModeChoice                // choice line head: guard, label, target
	ModeCondition             // expression context inside { } or an assignment line
	ModeString                // inside a quoted string literal
)

// frame tracks one open brace. content flips to true once the frame's
// expression part has been terminated by a colon, at which point the
// frame body lexes as passage content again.
type frame struct {
	interp  bool // opened with {{
	content bool
}

// Lexer converts Weave source into a token stream. Line endings are
// normalized before scanning; comments are stripped and never emitted.
type Lexer struct {
	input string
	pos   int
	line  int
	col   int

	tokens []Token
	diags  []diag.Diagnostic

	mode          Mode
	frames        []frame
	assignExpr    bool // expression context of a ~ / $ assignment line
	choiceHead    bool // scanning a choice line before its label is closed
	pendingTarget bool
	seenPassage   bool
	atLineStart   bool
}

// New creates a Lexer over source text. \r\n and bare \r normalize to \n.
func New(input string) *Lexer {
	input = strings.ReplaceAll(input, "\r\n", "\n")
	input = strings.ReplaceAll(input, "\r", "\n")
	return &Lexer{
		input:       input,
		line:        1,
		col:         1,
		mode:        ModeNormal,
		atLineStart: true,
	}
}

// Tokenize scans the whole input and returns the token stream plus any
// lexical diagnostics. The stream always ends with an EOF token.
func Tokenize(input string) ([]Token, []diag.Diagnostic) {
	l := New(input)
	for l.pos < len(l.input) {
		l.scan()
	}
	l.emit(EOF, l.here(), "", "")
	return l.tokens, l.diags
}

// TokenizeExpr scans input as a bare expression rather than passage
// content. Used for expressions stored in story documents.
func TokenizeExpr(input string) ([]Token, []diag.Diagnostic) {
	l := New(input)
	l.assignExpr = true
	for l.pos < len(l.input) {
		l.scan()
	}
	l.emit(EOF, l.here(), "", "")
	return l.tokens, l.diags
}

func (l *Lexer) here() diag.Position {
	return diag.Position{Line: l.line, Column: l.col, Offset: l.pos}
}

func (l *Lexer) peek() byte {
	if l.pos < len(l.input) {
		return l.input[l.pos]
	}
	return 0
}

func (l *Lexer) peekAt(k int) byte {
	if l.pos+k < len(l.input) {
		return l.input[l.pos+k]
	}
	return 0
}

func (l *Lexer) bump() byte {
	ch := l.input[l.pos]
	l.pos++
	if ch == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return ch
}

func (l *Lexer) bumpN(n int) {
	for i := 0; i < n && l.pos < len(l.input); i++ {
		l.bump()
	}
}

func (l *Lexer) emit(tt TokenType, start diag.Position, lexeme, value string) {
	l.tokens = append(l.tokens, Token{
		Type:   tt,
		Lexeme: lexeme,
		Value:  value,
		Span:   diag.Span{Start: start, End: l.here()},
	})
}

func (l *Lexer) errorf(code string, start diag.Position, format string, args ...any) {
	l.diags = append(l.diags, diag.Errorf(code, diag.Span{Start: start, End: l.here()}, format, args...))
}

// inExpr reports whether the current position lexes as expression tokens.
func (l *Lexer) inExpr() bool {
	if l.assignExpr {
		return true
	}
	if n := len(l.frames); n > 0 {
		return !l.frames[n-1].content
	}
	return false
}

func (l *Lexer) scan() {
	if l.peek() == '\n' {
		l.scanNewline()
		return
	}
	if l.inExpr() {
		l.mode = ModeCondition
		l.scanExpr()
		return
	}
	if l.choiceHead {
		l.mode = ModeChoice
		l.scanChoiceHead()
		return
	}
	l.mode = ModeNormal
	l.scanContent()
}

func (l *Lexer) scanNewline() {
	start := l.here()
	l.bump()
	l.emit(NEWLINE, start, "\n", "")
	l.atLineStart = true
	l.choiceHead = false
	l.pendingTarget = false
	if len(l.frames) == 0 {
		l.assignExpr = false
	}
}

// scanContent lexes passage content: line-start structure, then free
// text broken at structural markers.
func (l *Lexer) scanContent() {
	if l.atLineStart {
		l.skipSpaces()
		l.atLineStart = false
		if l.pos >= len(l.input) || l.peek() == '\n' {
			return
		}
		if l.scanLineStart() {
			return
		}
	}
	l.scanText()
}

// scanLineStart handles structure that is only recognized at the start
// of a line. Returns true if it consumed something.
func (l *Lexer) scanLineStart() bool {
	start := l.here()
	ch := l.peek()

	switch {
	case ch == ':' && l.peekAt(1) == ':':
		l.bumpN(2)
		l.emit(PASSAGE, start, "::", "")
		l.scanHeader()
		return true

	case ch == '/' && l.peekAt(1) == '/':
		l.skipLineComment()
		return true

	case ch == '/' && l.peekAt(1) == '*':
		l.skipBlockComment()
		return true

	case (ch == '+' || ch == '*') && l.choiceMarkerAhead():
		l.bump()
		if ch == '+' {
			l.emit(CHOICE_PLUS, start, "+", "")
		} else {
			l.emit(CHOICE_STAR, start, "*", "")
		}
		l.choiceHead = true
		return true

	case ch == '~':
		l.bump()
		l.emit(TILDE, start, "~", "")
		l.assignExpr = true
		return true

	case ch == '$' && isIdentStartAt(l.peekAt(1)):
		l.scanVariable()
		l.assignExpr = true
		return true

	case ch == '<' && l.peekAt(1) == '-':
		l.bumpN(2)
		l.emit(THREAD_ARROW, start, "<-", "")
		l.pendingTarget = true
		return true

	case len(l.frames) > 0 && ch == '-' && l.peekAt(1) != '>' && l.branchDashAhead():
		l.bump()
		l.emit(DASH, start, "-", "")
		l.frames[len(l.frames)-1].content = false
		return true

	case !l.seenPassage && len(l.frames) == 0 && isIdentStartAt(ch):
		return l.scanMetadata()
	}
	return false
}

// choiceMarkerAhead distinguishes a choice marker from text that merely
// starts with + or *.
func (l *Lexer) choiceMarkerAhead() bool {
	next := l.peekAt(1)
	return next == ' ' || next == '\t' || next == '[' || next == '{'
}

// branchDashAhead recognizes the `- cond:` / `- else:` branch separator
// at the start of a line inside a conditional block.
func (l *Lexer) branchDashAhead() bool {
	next := l.peekAt(1)
	return next == ' ' || next == '\t' || next == 'e'
}

// scanMetadata lexes a `key: value` line before the first passage.
// Returns false (nothing consumed) if the line does not match.
func (l *Lexer) scanMetadata() bool {
	i := l.pos
	for i < len(l.input) && isIdentAt(l.input[i]) {
		i++
	}
	if i >= len(l.input) || l.input[i] != ':' || (i+1 < len(l.input) && l.input[i+1] == ':') {
		return false
	}
	start := l.here()
	key := l.input[l.pos:i]
	l.bumpN(len(key))
	l.emit(IDENT, start, key, key)

	start = l.here()
	l.bump()
	l.emit(COLON, start, ":", "")

	l.skipSpaces()
	start = l.here()
	vs := l.pos
	for l.pos < len(l.input) && l.peek() != '\n' {
		l.bump()
	}
	value := strings.TrimRight(l.input[vs:l.pos], " \t")
	l.emit(TEXT, start, value, value)
	return true
}

// scanHeader lexes the remainder of a `:: Name [tag, tag]` line.
func (l *Lexer) scanHeader() {
	l.mode = ModeHeader
	l.skipSpaces()
	if isIdentAt(l.peek()) {
		l.scanIdent()
	}
	l.skipSpaces()
	if l.peek() == '[' {
		start := l.here()
		l.bump()
		l.emit(LBRACKET, start, "[", "")
		for l.pos < len(l.input) && l.peek() != '\n' && l.peek() != ']' {
			l.skipSpaces()
			if isIdentAt(l.peek()) {
				l.scanIdent()
				l.skipSpaces()
			}
			if l.peek() == ',' {
				start := l.here()
				l.bump()
				l.emit(COMMA, start, ",", "")
				continue
			}
			break
		}
		if l.peek() == ']' {
			start := l.here()
			l.bump()
			l.emit(RBRACKET, start, "]", "")
		}
	}
	l.seenPassage = true
	l.mode = ModeNormal
}

// scanChoiceHead lexes the head of a choice line: optional guard brace,
// then the [label]. Once the label closes, the rest of the line lexes
// as ordinary content.
func (l *Lexer) scanChoiceHead() {
	l.skipSpaces()
	start := l.here()
	switch {
	case l.peek() == '{':
		l.bump()
		l.emit(LBRACE, start, "{", "")
		l.frames = append(l.frames, frame{})
	case l.peek() == '[':
		l.bump()
		l.emit(LBRACKET, start, "[", "")
		ts := l.here()
		vs := l.pos
		for l.pos < len(l.input) && l.peek() != ']' && l.peek() != '\n' {
			l.bump()
		}
		if vs < l.pos {
			text := l.input[vs:l.pos]
			l.emit(TEXT, ts, text, text)
		}
		if l.peek() == ']' {
			rs := l.here()
			l.bump()
			l.emit(RBRACKET, rs, "]", "")
			l.skipSpaces()
		}
		l.choiceHead = false
	default:
		// No guard or label follows the marker; let the parser complain
		// about whatever comes next.
		l.choiceHead = false
	}
}

// scanText accumulates free text until a structural marker.
func (l *Lexer) scanText() {
	if l.pendingTarget {
		l.skipSpaces()
		l.pendingTarget = false
		if isIdentStartAt(l.peek()) {
			l.scanIdent()
			l.scanTargetTail()
		}
		return
	}

	start := l.here()
	vs := l.pos

	flush := func(trimRight bool) {
		text := l.input[vs:l.pos]
		if trimRight {
			text = strings.TrimRight(text, " \t")
		}
		if text != "" {
			l.emit(TEXT, start, text, text)
		}
	}

	for l.pos < len(l.input) {
		ch := l.peek()
		switch {
		case ch == '\n':
			flush(true)
			return

		case ch == '{':
			flush(false)
			bs := l.here()
			if l.peekAt(1) == '{' {
				l.bumpN(2)
				l.emit(LINTERP, bs, "{{", "")
				l.frames = append(l.frames, frame{interp: true})
			} else {
				l.bump()
				l.emit(LBRACE, bs, "{", "")
				l.frames = append(l.frames, frame{})
			}
			return

		case ch == '}' && len(l.frames) > 0:
			flush(true)
			l.closeBrace()
			return

		case ch == '-' && l.peekAt(1) == '>':
			flush(true)
			bs := l.here()
			if l.peekAt(2) == '-' && l.peekAt(3) == '>' {
				l.bumpN(4)
				l.emit(TUNNEL_RET, bs, "->->", "")
			} else {
				l.bumpN(2)
				l.emit(ARROW, bs, "->", "")
			}
			l.pendingTarget = true
			return

		case ch == '-' && len(l.frames) > 0 && l.frames[len(l.frames)-1].content && l.spaceBefore(vs) && isSpace[l.peekAt(1)]:
			flush(true)
			bs := l.here()
			l.bump()
			l.emit(DASH, bs, "-", "")
			l.frames[len(l.frames)-1].content = false
			l.skipSpaces()
			return

		case ch == '|' && len(l.frames) > 0 && l.frames[len(l.frames)-1].content:
			flush(true)
			bs := l.here()
			l.bump()
			l.emit(PIPE, bs, "|", "")
			l.skipSpaces()
			return

		case ch == '/' && l.peekAt(1) == '/':
			flush(true)
			l.skipLineComment()
			return

		case ch == '/' && l.peekAt(1) == '*':
			flush(true)
			l.skipBlockComment()
			return

		default:
			l.bump()
		}
	}
	flush(true)
}

// scanTargetTail handles the `()` of the tunnel-call form directly
// after a target identifier.
func (l *Lexer) scanTargetTail() {
	if l.peek() == '(' && l.peekAt(1) == ')' {
		start := l.here()
		l.bump()
		l.emit(LPAREN, start, "(", "")
		start = l.here()
		l.bump()
		l.emit(RPAREN, start, ")", "")
	}
}

// spaceBefore reports whether the char before pos is whitespace,
// bounded by the start of the current text run.
func (l *Lexer) spaceBefore(runStart int) bool {
	if l.pos == runStart {
		return true
	}
	prev := l.input[l.pos-1]
	return prev == ' ' || prev == '\t'
}

func (l *Lexer) closeBrace() {
	start := l.here()
	top := l.frames[len(l.frames)-1]
	if top.interp && l.peekAt(1) == '}' {
		l.bumpN(2)
		l.emit(RINTERP, start, "}}", "")
	} else {
		l.bump()
		l.emit(RBRACE, start, "}", "")
	}
	l.frames = l.frames[:len(l.frames)-1]
}

// scanExpr lexes one token in expression context.
func (l *Lexer) scanExpr() {
	l.skipSpaces()
	if l.pos >= len(l.input) || l.peek() == '\n' {
		return
	}
	start := l.here()
	ch := l.peek()

	// Comments are stripped in every mode.
	if ch == '/' && l.peekAt(1) == '/' {
		l.skipLineComment()
		return
	}
	if ch == '/' && l.peekAt(1) == '*' {
		l.skipBlockComment()
		return
	}

	if ch == '"' {
		l.scanString()
		return
	}
	if isDigit[ch] || (ch == '.' && isDigit[l.peekAt(1)]) {
		l.scanNumber()
		return
	}
	if ch == '$' && isIdentStartAt(l.peekAt(1)) {
		l.scanVariable()
		return
	}
	if isIdentStartAt(ch) {
		l.scanWord()
		return
	}

	// Multi-character operators before single-character ones.
	two := ""
	if l.pos+1 < len(l.input) {
		two = l.input[l.pos : l.pos+2]
	}
	if tt, ok := twoCharOps[two]; ok {
		l.bumpN(2)
		l.emit(tt, start, two, "")
		return
	}

	switch ch {
	case '}':
		if len(l.frames) > 0 {
			l.closeBrace()
			return
		}
		l.bump()
		l.errorf(diag.CodeUnexpectedChar, start, "unexpected character %q", "}")
	case '{':
		l.bump()
		l.emit(LBRACE, start, "{", "")
		l.frames = append(l.frames, frame{})
	case ':':
		l.bump()
		l.emit(COLON, start, ":", "")
		if n := len(l.frames); n > 0 && !l.frames[n-1].content {
			l.frames[n-1].content = true
			l.skipSpaces()
		}
	default:
		if tt, ok := oneCharOps[ch]; ok {
			l.bump()
			l.emit(tt, start, string(ch), "")
			return
		}
		l.bump()
		l.errorf(diag.CodeUnexpectedChar, start, "unexpected character %q", string(ch))
	}
}

var twoCharOps = map[string]TokenType{
	"==": EQ,
	"!=": NEQ,
	"<=": LTE,
	">=": GTE,
	"&&": AND,
	"||": OR,
	"+=": PLUS_ASSIGN,
	"-=": MINUS_ASSIGN,
	"*=": STAR_ASSIGN,
	"/=": SLASH_ASSIGN,
}

var oneCharOps = map[byte]TokenType{
	'=': ASSIGN,
	'<': LT,
	'>': GT,
	'!': NOT,
	'+': PLUS,
	'-': MINUS,
	'*': STAR,
	'/': SLASH,
	'%': PERCENT,
	'(': LPAREN,
	')': RPAREN,
	'[': LBRACKET,
	']': RBRACKET,
	',': COMMA,
	'|': PIPE,
}

var keywordTokens = map[string]TokenType{
	"and":   AND,
	"or":    OR,
	"not":   NOT,
	"true":  TRUE,
	"false": FALSE,
	"null":  NULL,
	"else":  ELSE,
}

func (l *Lexer) scanWord() {
	start := l.here()
	vs := l.pos
	for l.pos < len(l.input) && isIdentAt(l.peek()) {
		l.bump()
	}
	word := l.input[vs:l.pos]
	if tt, ok := keywordTokens[word]; ok {
		l.emit(tt, start, word, "")
		return
	}
	l.emit(IDENT, start, word, word)
}

func (l *Lexer) scanIdent() {
	start := l.here()
	vs := l.pos
	for l.pos < len(l.input) && isIdentAt(l.peek()) {
		l.bump()
	}
	word := l.input[vs:l.pos]
	l.emit(IDENT, start, word, word)
}

func (l *Lexer) scanVariable() {
	start := l.here()
	l.bump() // $
	vs := l.pos
	for l.pos < len(l.input) && isIdentAt(l.peek()) {
		l.bump()
	}
	name := l.input[vs:l.pos]
	l.emit(VARIABLE, start, "$"+name, name)
}

func (l *Lexer) scanNumber() {
	start := l.here()
	vs := l.pos
	for l.pos < len(l.input) && isDigit[l.peek()] {
		l.bump()
	}
	if l.peek() == '.' && isDigit[l.peekAt(1)] {
		l.bump()
		for l.pos < len(l.input) && isDigit[l.peek()] {
			l.bump()
		}
	}
	num := l.input[vs:l.pos]
	l.emit(NUMBER, start, num, num)
}

var escapeDecode = map[byte]byte{
	'\\': '\\',
	'"':  '"',
	'n':  '\n',
	't':  '\t',
	'r':  '\r',
	'{':  '{',
	'}':  '}',
	'$':  '$',
}

// scanString lexes a double-quoted string literal, decoding escape
// sequences. Escapes are only meaningful inside String mode.
func (l *Lexer) scanString() {
	prev := l.mode
	l.mode = ModeString
	defer func() { l.mode = prev }()

	start := l.here()
	l.bump() // opening quote
	var b strings.Builder
	for l.pos < len(l.input) {
		ch := l.peek()
		if ch == '\n' {
			l.errorf(diag.CodeUnterminatedString, start, "unterminated string literal")
			l.emit(STRING, start, l.input[start.Offset:l.pos], b.String())
			return
		}
		if ch == '"' {
			l.bump()
			l.emit(STRING, start, l.input[start.Offset:l.pos], b.String())
			return
		}
		if ch == '\\' {
			es := l.here()
			l.bump()
			if l.pos >= len(l.input) {
				break
			}
			dec, ok := escapeDecode[l.peek()]
			if !ok {
				l.errorf(diag.CodeBadEscape, es, "unknown escape sequence \\%s", string(l.peek()))
				b.WriteByte(l.peek())
				l.bump()
				continue
			}
			b.WriteByte(dec)
			l.bump()
			continue
		}
		b.WriteByte(ch)
		l.bump()
	}
	l.errorf(diag.CodeUnterminatedString, start, "unterminated string literal")
	l.emit(STRING, start, l.input[start.Offset:l.pos], b.String())
}

func (l *Lexer) skipSpaces() {
	for l.pos < len(l.input) {
		ch := l.peek()
		if ch >= 128 || !isSpace[ch] {
			return
		}
		l.bump()
	}
}

func (l *Lexer) skipLineComment() {
	for l.pos < len(l.input) && l.peek() != '\n' {
		l.bump()
	}
}

// skipBlockComment consumes a /* */ comment, non-greedy.
func (l *Lexer) skipBlockComment() {
	start := l.here()
	l.bumpN(2)
	for l.pos < len(l.input) {
		if l.peek() == '*' && l.peekAt(1) == '/' {
			l.bumpN(2)
			return
		}
		l.bump()
	}
	l.errorf(diag.CodeUnterminatedComment, start, "unterminated block comment")
}

func isIdentAt(ch byte) bool {
	return ch < 128 && isIdentPart[ch]
}

func isIdentStartAt(ch byte) bool {
	return ch < 128 && isIdentStart[ch]
}
