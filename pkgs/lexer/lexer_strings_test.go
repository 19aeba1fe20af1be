package lexer

import (
	"testing"

	"github.com/weavelang/weave/pkgs/diag"
)

func TestStringEscapes(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		decoded string
	}{
		{"backslash", `"\\"`, `\`},
		{"quote", `"\""`, `"`},
		{"newline", `"a\nb"`, "a\nb"},
		{"tab", `"a\tb"`, "a\tb"},
		{"carriage return", `"a\rb"`, "a\rb"},
		{"open brace", `"\{"`, "{"},
		{"close brace", `"\}"`, "}"},
		{"dollar", `"\$gold"`, "$gold"},
		{"mixed", `"line1\nline2\t\"quoted\""`, "line1\nline2\t\"quoted\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens, diags := TokenizeExpr(tt.input)
			if len(diags) > 0 {
				t.Fatalf("unexpected diagnostics: %v", diags)
			}
			if len(tokens) != 2 || tokens[0].Type != STRING {
				t.Fatalf("expected STRING + EOF, got %v", tokens)
			}
			if tokens[0].Value != tt.decoded {
				t.Errorf("decoded value = %q, want %q", tokens[0].Value, tt.decoded)
			}
		})
	}
}

// Escaping an arbitrary string and lexing it back must reproduce the
// original value exactly.
func TestEscapeRoundTrip(t *testing.T) {
	samples := []string{
		"",
		"plain text",
		`back\slash and "quotes"`,
		"tabs\tand\nnewlines",
		"{braces} and $dollars",
		"all of it: \\ \" \n \t \r { } $",
	}

	for _, original := range samples {
		literal := `"` + EscapeString(original) + `"`
		tokens, diags := TokenizeExpr(literal)
		if len(diags) > 0 {
			t.Errorf("EscapeString(%q) produced invalid literal %s: %v", original, literal, diags)
			continue
		}
		if len(tokens) != 2 || tokens[0].Type != STRING {
			t.Errorf("EscapeString(%q): expected single STRING, got %v", original, tokens)
			continue
		}
		if tokens[0].Value != original {
			t.Errorf("round trip of %q gave %q via %s", original, tokens[0].Value, literal)
		}
	}
}

func TestLexicalErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		code  string
	}{
		{"unexpected character", ":: S\n~ $x = @", diag.CodeUnexpectedChar},
		{"unterminated string", ":: S\n~ $x = \"oops", diag.CodeUnterminatedString},
		{"string broken by newline", ":: S\n~ $x = \"oops\nmore", diag.CodeUnterminatedString},
		{"unterminated block comment", ":: S\n/* never closed", diag.CodeUnterminatedComment},
		{"bad escape", ":: S\n~ $x = \"\\q\"", diag.CodeBadEscape},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, diags := Tokenize(tt.input)
			if len(diags) == 0 {
				t.Fatalf("expected diagnostic %s, got none", tt.code)
			}
			found := false
			for _, d := range diags {
				if d.Code == tt.code {
					found = true
				}
			}
			if !found {
				t.Errorf("expected code %s in %v", tt.code, diags)
			}
		})
	}
}
