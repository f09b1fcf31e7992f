package dataset

import (
	"testing"

	"github.com/kbukum/datagraph/errors"
)

func leaf(t *testing.T, name string, params map[string]any) *Metadata {
	t.Helper()
	md, err := New(Spec{
		Name:     name,
		Version:  "1.0.0",
		Params:   params,
		EngineID: "memory:test",
	})
	if err != nil {
		t.Fatal(err)
	}
	return md
}

func TestHashIndependentOfMapOrder(t *testing.T) {
	a := leaf(t, "prices", map[string]any{"fast": 12, "slow": 26, "signal": 9})
	b := leaf(t, "prices", map[string]any{"signal": 9, "slow": 26, "fast": 12})
	if a.Hash() != b.Hash() {
		t.Fatal("hash must not depend on parameter insertion order")
	}
	if !a.Equal(b) {
		t.Fatal("structurally equal metadata must be equal")
	}
}

func TestHashSensitiveToEveryField(t *testing.T) {
	base := Spec{Name: "prices", Version: "1.0.0", Params: map[string]any{"n": 5}, EngineID: "e1"}
	md, _ := New(base)

	variants := []Spec{
		{Name: "prices2", Version: "1.0.0", Params: map[string]any{"n": 5}, EngineID: "e1"},
		{Name: "prices", Version: "1.0.1", Params: map[string]any{"n": 5}, EngineID: "e1"},
		{Name: "prices", Version: "1.0.0", Params: map[string]any{"n": 6}, EngineID: "e1"},
		{Name: "prices", Version: "1.0.0", Params: map[string]any{"n": 5}, EngineID: "e2"},
		{Name: "prices", Version: "1.0.0", Params: map[string]any{"n": 5}, EngineID: "e1", Static: true},
	}
	for i, spec := range variants {
		other, err := New(spec)
		if err != nil {
			t.Fatal(err)
		}
		if other.Hash() == md.Hash() {
			t.Fatalf("variant %d must hash differently", i)
		}
	}
}

func TestHashCoversPredecessorGraph(t *testing.T) {
	p1 := leaf(t, "bars", map[string]any{"venue": "nyse"})
	p2 := leaf(t, "bars", map[string]any{"venue": "lse"})

	child := func(parent *Metadata) *Metadata {
		md, err := New(Spec{
			Name:         "returns",
			Version:      "1.0.0",
			Predecessors: map[string]Ref{"bars": parent},
			EngineID:     "memory:test",
		})
		if err != nil {
			t.Fatal(err)
		}
		return md
	}

	if child(p1).Hash() == child(p2).Hash() {
		t.Fatal("hash must cover the predecessor subgraph")
	}
}

func TestStubHashEqualsFullHash(t *testing.T) {
	parent := leaf(t, "bars", nil)
	full, err := New(Spec{
		Name:         "returns",
		Version:      "1.0.0",
		Predecessors: map[string]Ref{"bars": parent},
		EngineID:     "memory:test",
	})
	if err != nil {
		t.Fatal(err)
	}

	// A child constructed against the parent's stub hashes identically.
	viaStub, err := New(Spec{
		Name:         "returns",
		Version:      "1.0.0",
		Predecessors: map[string]Ref{"bars": StubOf(parent, nil)},
		EngineID:     "memory:test",
	})
	if err != nil {
		t.Fatal(err)
	}
	if full.Hash() != viaStub.Hash() {
		t.Fatal("stub and full predecessors must produce the same hash")
	}

	if StubOf(full, nil).Hash() != full.Hash() {
		t.Fatal("a stub's hash must equal its full metadata's hash")
	}
}

func TestStaticRejectsTimeLevel(t *testing.T) {
	_, err := New(Spec{Name: "universe", Static: true, TimeLevel: "ts"})
	if !errors.Is(err, errors.ErrCodeInvalidParameter) {
		t.Fatalf("expected INVALID_PARAMETER, got %v", err)
	}
}

func TestRejectsUnnormalisableParams(t *testing.T) {
	_, err := New(Spec{Name: "x", Params: map[string]any{"fn": func() {}}})
	if !errors.Is(err, errors.ErrCodeInvalidParameter) {
		t.Fatalf("expected INVALID_PARAMETER, got %v", err)
	}
}

func TestWalkPostOrderDistinct(t *testing.T) {
	shared := leaf(t, "bars", nil)
	mid1, _ := New(Spec{
		Name: "ret", Version: "1", Predecessors: map[string]Ref{"bars": shared},
	})
	mid2, _ := New(Spec{
		Name: "vol", Version: "1", Predecessors: map[string]Ref{"bars": shared},
	})
	top, _ := New(Spec{
		Name: "sig", Version: "1",
		Predecessors: map[string]Ref{"ret": mid1, "vol": mid2},
	})

	walked := top.Walk()
	if len(walked) != 4 {
		t.Fatalf("expected 4 distinct nodes, got %d", len(walked))
	}
	if walked[len(walked)-1].Hash() != top.Hash() {
		t.Fatal("post-order must end with the root")
	}
	// the shared leaf appears before either parent
	if walked[0].Hash() != shared.Hash() {
		t.Fatalf("expected the shared leaf first, got %v", walked[0])
	}
}

func TestReplacePredecessorIsFunctional(t *testing.T) {
	p1 := leaf(t, "bars", map[string]any{"venue": "nyse"})
	p2 := leaf(t, "bars", map[string]any{"venue": "lse"})
	child, _ := New(Spec{
		Name: "returns", Version: "1",
		Predecessors: map[string]Ref{"bars": p1},
	})

	swapped, err := child.ReplacePredecessor("bars", p2)
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := child.Predecessor("bars"); got.Hash() != p1.Hash() {
		t.Fatal("original metadata must be unchanged")
	}
	if got, _ := swapped.Predecessor("bars"); got.Hash() != p2.Hash() {
		t.Fatal("new metadata must carry the replacement")
	}
	if swapped.Hash() == child.Hash() {
		t.Fatal("replacement must change the hash")
	}
}

func TestReplacePredecessorUnknownKey(t *testing.T) {
	child := leaf(t, "returns", nil)
	if _, err := child.ReplacePredecessor("bars", child); err == nil {
		t.Fatal("expected error for unknown predecessor key")
	}
}

func TestGetParameterDottedPath(t *testing.T) {
	parent := leaf(t, "bars", map[string]any{"venue": "nyse"})
	child, _ := New(Spec{
		Name: "returns", Version: "2.0.0",
		Params:       map[string]any{"window": 20},
		Predecessors: map[string]Ref{"bars": parent},
	})

	v, err := child.GetParameter("bars.venue")
	if err != nil {
		t.Fatal(err)
	}
	if v != "nyse" {
		t.Fatalf("expected nyse, got %v", v)
	}

	v, err = child.GetParameter("version")
	if err != nil {
		t.Fatal(err)
	}
	if v != "2.0.0" {
		t.Fatalf("expected version, got %v", v)
	}

	if _, err := child.GetParameter("bars.missing"); err == nil {
		t.Fatal("expected error for unknown parameter")
	}
}
