package lexer

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

// tokenExpectation is an expected token with type and decoded value
type tokenExpectation struct {
	Type  TokenType
	Value string
}

// assertTokens compares actual tokens with expected, ignoring positions
func assertTokens(t *testing.T, input string, expected []tokenExpectation) {
	t.Helper()

	tokens, diags := Tokenize(input)
	if len(diags) > 0 {
		t.Fatalf("unexpected diagnostics for %q: %v", input, diags)
	}

	actual := make([]map[string]string, len(tokens))
	for i, tok := range tokens {
		actual[i] = map[string]string{"type": tok.Type.String(), "value": tok.Value}
	}
	want := make([]map[string]string, len(expected))
	for i, exp := range expected {
		want[i] = map[string]string{"type": exp.Type.String(), "value": exp.Value}
	}

	if diff := cmp.Diff(want, actual); diff != "" {
		t.Errorf("token mismatch for %q (-want +got):\n%s", input, diff)
	}
}

func TestPassageStructure(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []tokenExpectation
	}{
		{
			name:  "passage header",
			input: ":: Start",
			expected: []tokenExpectation{
				{PASSAGE, ""},
				{IDENT, "Start"},
				{EOF, ""},
			},
		},
		{
			name:  "passage header with tags",
			input: ":: Market [shop, outdoors]",
			expected: []tokenExpectation{
				{PASSAGE, ""},
				{IDENT, "Market"},
				{LBRACKET, ""},
				{IDENT, "shop"},
				{COMMA, ""},
				{IDENT, "outdoors"},
				{RBRACKET, ""},
				{EOF, ""},
			},
		},
		{
			name:  "metadata before first passage",
			input: "title: The Cave\n:: Start",
			expected: []tokenExpectation{
				{IDENT, "title"},
				{COLON, ""},
				{TEXT, "The Cave"},
				{NEWLINE, ""},
				{PASSAGE, ""},
				{IDENT, "Start"},
				{EOF, ""},
			},
		},
		{
			name:  "plain text line",
			input: ":: Start\nYou wake up.",
			expected: []tokenExpectation{
				{PASSAGE, ""},
				{IDENT, "Start"},
				{NEWLINE, ""},
				{TEXT, "You wake up."},
				{EOF, ""},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertTokens(t, tt.input, tt.expected)
		})
	}
}

func TestInterpolationAndConditionals(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []tokenExpectation
	}{
		{
			name:  "interpolation inside text",
			input: ":: S\nHello, {$name}!",
			expected: []tokenExpectation{
				{PASSAGE, ""}, {IDENT, "S"}, {NEWLINE, ""},
				{TEXT, "Hello, "},
				{LBRACE, ""},
				{VARIABLE, "name"},
				{RBRACE, ""},
				{TEXT, "!"},
				{EOF, ""},
			},
		},
		{
			name:  "double-brace interpolation",
			input: ":: S\n{{$gold}}",
			expected: []tokenExpectation{
				{PASSAGE, ""}, {IDENT, "S"}, {NEWLINE, ""},
				{LINTERP, ""},
				{VARIABLE, "gold"},
				{RINTERP, ""},
				{EOF, ""},
			},
		},
		{
			name:  "conditional block with else",
			input: ":: S\n{$gold > 10: rich - else: poor}",
			expected: []tokenExpectation{
				{PASSAGE, ""}, {IDENT, "S"}, {NEWLINE, ""},
				{LBRACE, ""},
				{VARIABLE, "gold"},
				{GT, ""},
				{NUMBER, "10"},
				{COLON, ""},
				{TEXT, "rich"},
				{DASH, ""},
				{ELSE, ""},
				{COLON, ""},
				{TEXT, "poor"},
				{RBRACE, ""},
				{EOF, ""},
			},
		},
		{
			name:  "inline ternary",
			input: ":: S\n{$ok: yes | no}",
			expected: []tokenExpectation{
				{PASSAGE, ""}, {IDENT, "S"}, {NEWLINE, ""},
				{LBRACE, ""},
				{VARIABLE, "ok"},
				{COLON, ""},
				{TEXT, "yes"},
				{PIPE, ""},
				{TEXT, "no"},
				{RBRACE, ""},
				{EOF, ""},
			},
		},
		{
			name:  "hyphen in prose is not a branch separator",
			input: ":: S\nwell-known fact",
			expected: []tokenExpectation{
				{PASSAGE, ""}, {IDENT, "S"}, {NEWLINE, ""},
				{TEXT, "well-known fact"},
				{EOF, ""},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertTokens(t, tt.input, tt.expected)
		})
	}
}

func TestChoicesAndDiverts(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []tokenExpectation
	}{
		{
			name:  "repeatable choice with target",
			input: ":: S\n+ [Go north] -> North",
			expected: []tokenExpectation{
				{PASSAGE, ""}, {IDENT, "S"}, {NEWLINE, ""},
				{CHOICE_PLUS, ""},
				{LBRACKET, ""},
				{TEXT, "Go north"},
				{RBRACKET, ""},
				{ARROW, ""},
				{IDENT, "North"},
				{EOF, ""},
			},
		},
		{
			name:  "one-time guarded choice",
			input: ":: S\n* {$gold >= 5} [Buy] -> Shop",
			expected: []tokenExpectation{
				{PASSAGE, ""}, {IDENT, "S"}, {NEWLINE, ""},
				{CHOICE_STAR, ""},
				{LBRACE, ""},
				{VARIABLE, "gold"},
				{GTE, ""},
				{NUMBER, "5"},
				{RBRACE, ""},
				{LBRACKET, ""},
				{TEXT, "Buy"},
				{RBRACKET, ""},
				{ARROW, ""},
				{IDENT, "Shop"},
				{EOF, ""},
			},
		},
		{
			name:  "divert",
			input: ":: S\n-> End",
			expected: []tokenExpectation{
				{PASSAGE, ""}, {IDENT, "S"}, {NEWLINE, ""},
				{ARROW, ""},
				{IDENT, "End"},
				{EOF, ""},
			},
		},
		{
			name:  "tunnel call",
			input: ":: S\n-> Shop() ->",
			expected: []tokenExpectation{
				{PASSAGE, ""}, {IDENT, "S"}, {NEWLINE, ""},
				{ARROW, ""},
				{IDENT, "Shop"},
				{LPAREN, ""},
				{RPAREN, ""},
				{ARROW, ""},
				{EOF, ""},
			},
		},
		{
			name:  "tunnel return",
			input: ":: S\n->->",
			expected: []tokenExpectation{
				{PASSAGE, ""}, {IDENT, "S"}, {NEWLINE, ""},
				{TUNNEL_RET, ""},
				{EOF, ""},
			},
		},
		{
			name:  "redirecting tunnel return",
			input: ":: S\n->-> Exit",
			expected: []tokenExpectation{
				{PASSAGE, ""}, {IDENT, "S"}, {NEWLINE, ""},
				{TUNNEL_RET, ""},
				{IDENT, "Exit"},
				{EOF, ""},
			},
		},
		{
			name:  "thread spawn",
			input: ":: S\n<- Ambience",
			expected: []tokenExpectation{
				{PASSAGE, ""}, {IDENT, "S"}, {NEWLINE, ""},
				{THREAD_ARROW, ""},
				{IDENT, "Ambience"},
				{EOF, ""},
			},
		},
		{
			name:  "plus at line start followed by text is a choice",
			input: ":: S\n+ [Wait]",
			expected: []tokenExpectation{
				{PASSAGE, ""}, {IDENT, "S"}, {NEWLINE, ""},
				{CHOICE_PLUS, ""},
				{LBRACKET, ""},
				{TEXT, "Wait"},
				{RBRACKET, ""},
				{EOF, ""},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertTokens(t, tt.input, tt.expected)
		})
	}
}

func TestAssignments(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []tokenExpectation
	}{
		{
			name:  "tilde assignment",
			input: ":: S\n~ $gold = 10",
			expected: []tokenExpectation{
				{PASSAGE, ""}, {IDENT, "S"}, {NEWLINE, ""},
				{TILDE, ""},
				{VARIABLE, "gold"},
				{ASSIGN, ""},
				{NUMBER, "10"},
				{EOF, ""},
			},
		},
		{
			name:  "bare compound assignment",
			input: ":: S\n$gold += 5",
			expected: []tokenExpectation{
				{PASSAGE, ""}, {IDENT, "S"}, {NEWLINE, ""},
				{VARIABLE, "gold"},
				{PLUS_ASSIGN, ""},
				{NUMBER, "5"},
				{EOF, ""},
			},
		},
		{
			name:  "list literal and function call",
			input: ":: S\n~ $bag = push([1, 2], max(3, 4))",
			expected: []tokenExpectation{
				{PASSAGE, ""}, {IDENT, "S"}, {NEWLINE, ""},
				{TILDE, ""},
				{VARIABLE, "bag"},
				{ASSIGN, ""},
				{IDENT, "push"},
				{LPAREN, ""},
				{LBRACKET, ""},
				{NUMBER, "1"},
				{COMMA, ""},
				{NUMBER, "2"},
				{RBRACKET, ""},
				{COMMA, ""},
				{IDENT, "max"},
				{LPAREN, ""},
				{NUMBER, "3"},
				{COMMA, ""},
				{NUMBER, "4"},
				{RPAREN, ""},
				{RPAREN, ""},
				{EOF, ""},
			},
		},
		{
			name:  "dollar amount in prose is plain text",
			input: ":: S\nIt costs $5 here.",
			expected: []tokenExpectation{
				{PASSAGE, ""}, {IDENT, "S"}, {NEWLINE, ""},
				{TEXT, "It costs $5 here."},
				{EOF, ""},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertTokens(t, tt.input, tt.expected)
		})
	}
}

func TestComments(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []tokenExpectation
	}{
		{
			name:  "line comment stripped",
			input: ":: S\nText // not this",
			expected: []tokenExpectation{
				{PASSAGE, ""}, {IDENT, "S"}, {NEWLINE, ""},
				{TEXT, "Text"},
				{EOF, ""},
			},
		},
		{
			name:  "block comment stripped",
			input: ":: S\nbefore /* hidden */ after",
			expected: []tokenExpectation{
				{PASSAGE, ""}, {IDENT, "S"}, {NEWLINE, ""},
				{TEXT, "before"},
				{TEXT, " after"},
				{EOF, ""},
			},
		},
		{
			name:  "comment markers inside strings survive",
			input: ":: S\n~ $url = \"http://example\"",
			expected: []tokenExpectation{
				{PASSAGE, ""}, {IDENT, "S"}, {NEWLINE, ""},
				{TILDE, ""},
				{VARIABLE, "url"},
				{ASSIGN, ""},
				{STRING, "http://example"},
				{EOF, ""},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertTokens(t, tt.input, tt.expected)
		})
	}
}

func TestLineEndingNormalization(t *testing.T) {
	unix, _ := Tokenize(":: S\nline one\nline two")
	dos, _ := Tokenize(":: S\r\nline one\r\nline two")
	mac, _ := Tokenize(":: S\rline one\rline two")

	toTypes := func(tokens []Token) []string {
		out := make([]string, len(tokens))
		for i, tok := range tokens {
			out[i] = tok.Type.String() + ":" + tok.Value
		}
		return out
	}

	if diff := cmp.Diff(toTypes(unix), toTypes(dos)); diff != "" {
		t.Errorf("\\r\\n input tokenized differently (-unix +dos):\n%s", diff)
	}
	if diff := cmp.Diff(toTypes(unix), toTypes(mac)); diff != "" {
		t.Errorf("\\r input tokenized differently (-unix +mac):\n%s", diff)
	}
}
