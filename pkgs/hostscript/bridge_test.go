package hostscript_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/weavelang/weave/pkgs/compile"
	"github.com/weavelang/weave/pkgs/engine"
	"github.com/weavelang/weave/pkgs/eval"
	"github.com/weavelang/weave/pkgs/hostscript"
)

type mapStore map[string]eval.Value

func (m mapStore) Get(name string) eval.Value    { return m[name] }
func (m mapStore) Set(name string, v eval.Value) { m[name] = v }

func TestInvokeReturnValues(t *testing.T) {
	rt := hostscript.New()

	tests := []struct {
		name string
		code string
		want eval.Value
	}{
		{"number", "return 1 + 2", eval.Number(3)},
		{"string", `return "hi"`, eval.String("hi")},
		{"boolean", "return 2 > 1", eval.Boolean(true)},
		{"nothing", "local x = 1", eval.Null()},
		{"nil", "return nil", eval.Null()},
		{"array table", "return {1, 2, 3}", eval.ListOf(eval.Number(1), eval.Number(2), eval.Number(3))},
		{"nested table", `return {1, {"a", "b"}}`, eval.ListOf(
			eval.Number(1),
			eval.ListOf(eval.String("a"), eval.String("b")),
		)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rt.Invoke(tt.code, mapStore{})
			if err != nil {
				t.Fatalf("invoke: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("result (-want +got):\n%s", diff)
			}
		})
	}
}

func TestVarsBridge(t *testing.T) {
	rt := hostscript.New()
	store := mapStore{
		"gold": eval.Number(10),
		"name": eval.String("Ada"),
	}

	got, err := rt.Invoke(`return vars.get("gold") * 2`, store)
	if err != nil {
		t.Fatal(err)
	}
	if got.Num != 20 {
		t.Errorf("vars.get result = %v, want 20", got.Num)
	}

	if _, err := rt.Invoke(`vars.set("gold", vars.get("gold") + 5)`, store); err != nil {
		t.Fatal(err)
	}
	if store["gold"].Num != 15 {
		t.Errorf("gold after set = %v, want 15", store["gold"].Num)
	}

	// Unset variables read as nil on the Lua side.
	got, err = rt.Invoke(`return vars.get("missing") == nil`, store)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Bool {
		t.Errorf("missing variable should read as nil")
	}

	// Lists cross the bridge both ways.
	store["inv"] = eval.ListOf(eval.String("rope"), eval.String("torch"))
	got, err = rt.Invoke(`
		local inv = vars.get("inv")
		inv[#inv + 1] = "map"
		vars.set("inv", inv)
		return #inv
	`, store)
	if err != nil {
		t.Fatal(err)
	}
	if got.Num != 3 {
		t.Errorf("list length = %v, want 3", got.Num)
	}
	want := eval.ListOf(eval.String("rope"), eval.String("torch"), eval.String("map"))
	if diff := cmp.Diff(want, store["inv"]); diff != "" {
		t.Errorf("inv after round trip (-want +got):\n%s", diff)
	}
}

func TestInvokeErrors(t *testing.T) {
	rt := hostscript.New()

	if _, err := rt.Invoke("this is not lua((", mapStore{}); err == nil {
		t.Error("expected load error")
	}
	if _, err := rt.Invoke(`error("boom")`, mapStore{}); err == nil {
		t.Error("expected runtime error")
	}
}

// The host() builtin wires the runtime into story evaluation.
func TestHostBuiltinInStory(t *testing.T) {
	model, diags := compile.Compile(`:: Start
~ $gold = 4
~ $doubled = host("return vars.get('gold') * 2")
Now {$doubled} gold.
`)
	if model == nil {
		t.Fatalf("compile: %v", diags)
	}

	s := engine.New(model, engine.WithHostRuntime(hostscript.New()))
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Advance(); err != nil {
		t.Fatal(err)
	}

	frags := s.Output()
	if len(frags) != 1 || frags[0].Text != "Now 8 gold." {
		t.Errorf("output = %v, want [Now 8 gold.]", frags)
	}
}
