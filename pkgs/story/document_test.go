package story_test

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/weavelang/weave/pkgs/diag"
	"github.com/weavelang/weave/pkgs/engine"
	"github.com/weavelang/weave/pkgs/parser"
	"github.com/weavelang/weave/pkgs/story"
)

var ignoreSpans = cmpopts.IgnoreTypes(diag.Span{})

// kitchenSink exercises every node type the document format encodes.
const kitchenSink = `title: Round Trip
start: Start

:: Start [intro, test]
Plain text with {$gold} inside.
Doubled: {{$gold * 2}}
~ $gold = 10
$gold += 5
{$gold > 10: Rich. - $gold > 0: Poor. - else: Broke.}
The lamp is {$lit: on | off}.
+ [Go on] -> Middle
* {$gold >= 5} [Spend] Coins clink. -> Middle
<- Background

:: Middle
-> Detour() ->
->->
->-> End
-> End

:: Background
A dog barks.

:: Detour
Scenic route.
->->

:: End
Done.
`

func buildModel(t *testing.T, source string) *story.Model {
	t.Helper()
	prog, diags := parser.Parse(source)
	if diag.HasErrors(diags) {
		t.Fatalf("parse: %v", diags)
	}
	return story.Build(prog)
}

func TestRoundTripBothDensities(t *testing.T) {
	original := buildModel(t, kitchenSink)

	for _, density := range []story.Density{story.Verbose, story.Compact} {
		t.Run(string(density), func(t *testing.T) {
			data, err := story.MarshalDocument(original, density)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			decoded, err := story.ParseDocument(data)
			if err != nil {
				t.Fatalf("parse document: %v", err)
			}
			if diff := cmp.Diff(original, decoded, ignoreSpans); diff != "" {
				t.Errorf("model changed through %s round trip (-want +got):\n%s", density, diff)
			}
		})
	}
}

// Both densities of the same story must decode to the same model.
func TestDensitiesDecodeIdentically(t *testing.T) {
	original := buildModel(t, kitchenSink)

	verbose, err := story.MarshalDocument(original, story.Verbose)
	if err != nil {
		t.Fatal(err)
	}
	compact, err := story.MarshalDocument(original, story.Compact)
	if err != nil {
		t.Fatal(err)
	}

	fromVerbose, err := story.ParseDocument(verbose)
	if err != nil {
		t.Fatal(err)
	}
	fromCompact, err := story.ParseDocument(compact)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(fromVerbose, fromCompact, ignoreSpans); diff != "" {
		t.Errorf("densities decode differently (-verbose +compact):\n%s", diff)
	}
	if len(compact) >= len(verbose) {
		t.Errorf("compact (%d bytes) is not smaller than verbose (%d bytes)", len(compact), len(verbose))
	}
}

func TestConvertBetweenDensities(t *testing.T) {
	original := buildModel(t, kitchenSink)
	verbose, err := story.MarshalDocument(original, story.Verbose)
	if err != nil {
		t.Fatal(err)
	}

	compact, err := story.Convert(verbose, story.Compact)
	if err != nil {
		t.Fatalf("convert to compact: %v", err)
	}
	back, err := story.Convert(compact, story.Verbose)
	if err != nil {
		t.Fatalf("convert back to verbose: %v", err)
	}

	m1, err := story.ParseDocument(verbose)
	if err != nil {
		t.Fatal(err)
	}
	m2, err := story.ParseDocument(back)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(m1, m2, ignoreSpans); diff != "" {
		t.Errorf("verbose -> compact -> verbose changed the model:\n%s", diff)
	}
}

func playFragments(t *testing.T, m *story.Model) []string {
	t.Helper()
	s := engine.New(m)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Advance(); err != nil {
		t.Fatal(err)
	}
	var texts []string
	for _, f := range s.Output() {
		texts = append(texts, f.Text)
	}
	return texts
}

// A story plays the same from source and from either document density;
// fragment boundaries are part of the round-trip contract, not just the
// node structure.
func TestDecodedDocumentPlaysIdentically(t *testing.T) {
	original := buildModel(t, kitchenSink)
	want := playFragments(t, original)
	if len(want) < 2 {
		t.Fatalf("expected multiple fragments from the source model, got %v", want)
	}

	for _, density := range []story.Density{story.Verbose, story.Compact} {
		t.Run(string(density), func(t *testing.T) {
			data, err := story.MarshalDocument(original, density)
			if err != nil {
				t.Fatal(err)
			}
			decoded, err := story.ParseDocument(data)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(want, playFragments(t, decoded)); diff != "" {
				t.Errorf("decoded %s document plays differently (-source +decoded):\n%s", density, diff)
			}
		})
	}
}

func TestVerboseDocumentShape(t *testing.T) {
	model := buildModel(t, kitchenSink)
	data, err := story.MarshalDocument(model, story.Verbose)
	if err != nil {
		t.Fatal(err)
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	if doc["format"] != "weave" {
		t.Errorf("format = %v", doc["format"])
	}
	if doc["density"] != "verbose" {
		t.Errorf("density = %v", doc["density"])
	}
	if doc["start"] != "Start" {
		t.Errorf("start = %v", doc["start"])
	}
	meta, _ := doc["metadata"].(map[string]any)
	if meta["title"] != "Round Trip" {
		t.Errorf("metadata.title = %v", meta["title"])
	}
	passages, _ := doc["passages"].([]any)
	if len(passages) != 5 {
		t.Fatalf("expected 5 passages, got %d", len(passages))
	}
	first, _ := passages[0].(map[string]any)
	if first["id"] != "Start" {
		t.Errorf("first passage id = %v", first["id"])
	}
}

func TestParseDocumentErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "{nope"},
		{"no passages", `{"format":"weave","version":1,"start":"X"}`},
		{"duplicate passage", `{"start":"A","passages":[{"id":"A","nodes":[]},{"id":"A","nodes":[]}]}`},
		{"missing start target", `{"start":"B","passages":[{"id":"A","nodes":[]}]}`},
		{"bad expression", `{"start":"A","passages":[{"id":"A","nodes":[{"type":"interpolation","expr":"1 +"}]}]}`},
		{"unknown node type", `{"start":"A","passages":[{"id":"A","nodes":[{"type":"mystery"}]}]}`},
		{"passage without id", `{"start":"A","passages":[{"nodes":[]}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := story.ParseDocument([]byte(tt.data)); err == nil {
				t.Errorf("expected error for %s", tt.name)
			}
		})
	}
}

func TestBuildStartSelection(t *testing.T) {
	noMeta := buildModel(t, ":: First\nA.\n\n:: Second\nB.\n")
	if noMeta.Start != "First" {
		t.Errorf("default start = %q, want First", noMeta.Start)
	}

	withMeta := buildModel(t, "start: Second\n\n:: First\nA.\n\n:: Second\nB.\n")
	if withMeta.Start != "Second" {
		t.Errorf("metadata start = %q, want Second", withMeta.Start)
	}
}
