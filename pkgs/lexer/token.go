package lexer

import (
	"fmt"
	"strings"

	"github.com/weavelang/weave/pkgs/diag"
)

// TokenType identifies the kind of a token in Weave source.
type TokenType int

const (
	// Special tokens
	EOF TokenType = iota
	NEWLINE

	// Structure
	PASSAGE      // ::
	CHOICE_PLUS  // + (repeatable choice)
	CHOICE_STAR  // * (one-time choice)
	TILDE        // ~
	ARROW        // ->
	TUNNEL_RET   // ->->
	THREAD_ARROW // <-
	LBRACE       // {
	RBRACE       // }
	LINTERP      // {{
	RINTERP      // }}
	LBRACKET     // [
	RBRACKET     // ]
	LPAREN       // (
	RPAREN       // )
	COMMA        // ,
	COLON        // :
	PIPE         // | (ternary arm separator)
	DASH         // - (branch separator inside conditional blocks)

	// Literals and content
	TEXT     // free narrative text
	IDENT    // passage names, function names, metadata keys
	VARIABLE // $name
	NUMBER   // 42, 3.14
	STRING   // "hello"
	TRUE     // true
	FALSE    // false
	NULL     // null
	ELSE     // else

	// Operators
	PLUS    // +
	MINUS   // -
	STAR    // *
	SLASH   // /
	PERCENT // %
	EQ      // ==
	NEQ     // !=
	LT      // <
	GT      // >
	LTE     // <=
	GTE     // >=
	AND     // && / and
	OR      // || / or
	NOT     // ! / not

	// Assignment operators
	ASSIGN       // =
	PLUS_ASSIGN  // +=
	MINUS_ASSIGN // -=
	STAR_ASSIGN  // *=
	SLASH_ASSIGN // /=
)

var tokenNames = [...]string{
	EOF:          "EOF",
	NEWLINE:      "NEWLINE",
	PASSAGE:      "PASSAGE",
	CHOICE_PLUS:  "CHOICE_PLUS",
	CHOICE_STAR:  "CHOICE_STAR",
	TILDE:        "TILDE",
	ARROW:        "ARROW",
	TUNNEL_RET:   "TUNNEL_RET",
	THREAD_ARROW: "THREAD_ARROW",
	LBRACE:       "LBRACE",
	RBRACE:       "RBRACE",
	LINTERP:      "LINTERP",
	RINTERP:      "RINTERP",
	LBRACKET:     "LBRACKET",
	RBRACKET:     "RBRACKET",
	LPAREN:       "LPAREN",
	RPAREN:       "RPAREN",
	COMMA:        "COMMA",
	COLON:        "COLON",
	PIPE:         "PIPE",
	DASH:         "DASH",
	TEXT:         "TEXT",
	IDENT:        "IDENT",
	VARIABLE:     "VARIABLE",
	NUMBER:       "NUMBER",
	STRING:       "STRING",
	TRUE:         "TRUE",
	FALSE:        "FALSE",
	NULL:         "NULL",
	ELSE:         "ELSE",
	PLUS:         "PLUS",
	MINUS:        "MINUS",
	STAR:         "STAR",
	SLASH:        "SLASH",
	PERCENT:      "PERCENT",
	EQ:           "EQ",
	NEQ:          "NEQ",
	LT:           "LT",
	GT:           "GT",
	LTE:          "LTE",
	GTE:          "GTE",
	AND:          "AND",
	OR:           "OR",
	NOT:          "NOT",
	ASSIGN:       "ASSIGN",
	PLUS_ASSIGN:  "PLUS_ASSIGN",
	MINUS_ASSIGN: "MINUS_ASSIGN",
	STAR_ASSIGN:  "STAR_ASSIGN",
	SLASH_ASSIGN: "SLASH_ASSIGN",
}

func (t TokenType) String() string {
	if int(t) >= 0 && int(t) < len(tokenNames) && tokenNames[t] != "" {
		return tokenNames[t]
	}
	return fmt.Sprintf("TokenType(%d)", int(t))
}

// Token is a single lexeme with its decoded value and source span.
// Lexeme is the raw source text; Value carries the decoded form where
// it differs (string contents with escapes resolved, variable names
// without the $ sigil).
type Token struct {
	Type   TokenType
	Lexeme string
	Value  string
	Span   diag.Span
}

func (t Token) String() string {
	if t.Value != "" && t.Value != t.Lexeme {
		return fmt.Sprintf("%s(%q=%q)", t.Type, t.Lexeme, t.Value)
	}
	return fmt.Sprintf("%s(%q)", t.Type, t.Lexeme)
}

// IsAssignOp reports whether the token is one of the assignment operators.
func (t Token) IsAssignOp() bool {
	switch t.Type {
	case ASSIGN, PLUS_ASSIGN, MINUS_ASSIGN, STAR_ASSIGN, SLASH_ASSIGN:
		return true
	}
	return false
}

// IsLiteral reports whether the token opens a literal expression value.
func (t Token) IsLiteral() bool {
	switch t.Type {
	case NUMBER, STRING, TRUE, FALSE, NULL:
		return true
	}
	return false
}

var escapeFor = map[rune]string{
	'\\': `\\`,
	'"':  `\"`,
	'\n': `\n`,
	'\t': `\t`,
	'\r': `\r`,
	'{':  `\{`,
	'}':  `\}`,
	'$':  `\$`,
}

// EscapeString re-encodes a decoded string value into the escaped form
// the lexer accepts, such that lexing the result decodes back to s.
func EscapeString(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if esc, ok := escapeFor[r]; ok {
			b.WriteString(esc)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
