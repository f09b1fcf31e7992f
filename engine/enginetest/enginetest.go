// Package enginetest exercises the engine.Engine contract. Both bundled
// engines run the same suite; a third-party engine can call Run from its
// own tests to check conformance.
package enginetest

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/kbukum/datagraph/dataset"
	"github.com/kbukum/datagraph/engine"
	"github.com/kbukum/datagraph/errors"
	"github.com/kbukum/datagraph/timerange"
)

// Factory returns a fresh, empty engine for each subtest.
type Factory func(t *testing.T) engine.Engine

// Run executes the conformance suite against engines built by the factory.
func Run(t *testing.T, factory Factory) {
	t.Run("ExistsReadRoundTrip", func(t *testing.T) { testRoundTrip(t, factory(t)) })
	t.Run("RangeExtent", func(t *testing.T) { testRange(t, factory(t)) })
	t.Run("AppendExtends", func(t *testing.T) { testAppend(t, factory(t)) })
	t.Run("AppendOverlapFails", func(t *testing.T) { testAppendOverlap(t, factory(t)) })
	t.Run("MergeExistingWins", func(t *testing.T) { testMerge(t, factory(t)) })
	t.Run("ReplaceSwapsWholePayload", func(t *testing.T) { testReplace(t, factory(t)) })
	t.Run("StaticBlob", func(t *testing.T) { testStatic(t, factory(t)) })
	t.Run("DeleteRows", func(t *testing.T) { testDeleteRows(t, factory(t)) })
	t.Run("DeleteNodeWithSuccessors", func(t *testing.T) { testDeleteConflict(t, factory(t)) })
	t.Run("StubHashMatches", func(t *testing.T) { testStub(t, factory(t)) })
	t.Run("QueryByNameAndParams", func(t *testing.T) { testQuery(t, factory(t)) })
	t.Run("QueryDottedUpstreamParam", func(t *testing.T) { testQueryDotted(t, factory(t)) })
}

func day(d int) time.Time {
	return time.Date(2020, 3, d, 0, 0, 0, 0, time.UTC)
}

func mkSeries(t *testing.T, days ...int) *dataset.Series {
	t.Helper()
	times := make([]time.Time, len(days))
	values := make([]any, len(days))
	for i, d := range days {
		times[i] = day(d)
		values[i] = float64(d)
	}
	s, err := dataset.NewSeries(times, values)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func mkMetadata(t *testing.T, e engine.Engine, name string, params map[string]any, preds map[string]dataset.Ref) *dataset.Metadata {
	t.Helper()
	md, err := dataset.New(dataset.Spec{
		Name:         name,
		Version:      "1.0.0",
		Params:       params,
		Predecessors: preds,
		EngineID:     e.ID(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return md
}

func testRoundTrip(t *testing.T, e engine.Engine) {
	ctx := context.Background()
	md := mkMetadata(t, e, "bars", map[string]any{"venue": "nyse"}, nil)

	ok, err := e.Exists(ctx, md)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("dataset must not exist before any write")
	}
	if _, err := e.Read(ctx, md, nil); !errors.Is(err, errors.ErrCodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}

	written := mkSeries(t, 2, 3, 4)
	if err := e.Append(ctx, md, written); err != nil {
		t.Fatal(err)
	}

	ok, _ = e.Exists(ctx, md)
	if !ok {
		t.Fatal("dataset must exist after append")
	}

	payload, err := e.Read(ctx, md, nil)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := payload.(*dataset.Series)
	if !ok || !got.Equal(written) {
		t.Fatalf("read must return the written payload, got %#v", payload)
	}

	// restricted read
	window := timerange.MustNew(day(3), day(5))
	payload, err = e.Read(ctx, md, &window)
	if err != nil {
		t.Fatal(err)
	}
	if payload.(*dataset.Series).Len() != 2 {
		t.Fatal("restricted read must honour the half-open window")
	}
}

func testRange(t *testing.T, e engine.Engine) {
	ctx := context.Background()
	md := mkMetadata(t, e, "bars", nil, nil)

	tr, err := e.Range(ctx, md)
	if err != nil {
		t.Fatal(err)
	}
	if tr != nil {
		t.Fatal("absent dataset has a nil range")
	}

	if err := e.Append(ctx, md, mkSeries(t, 2, 5)); err != nil {
		t.Fatal(err)
	}
	tr, err = e.Range(ctx, md)
	if err != nil {
		t.Fatal(err)
	}
	if tr == nil || !tr.Start.Equal(day(2)) || !tr.End.Equal(day(5).Add(timerange.Resolution)) {
		t.Fatalf("unexpected range %v", tr)
	}
}

func testAppend(t *testing.T, e engine.Engine) {
	ctx := context.Background()
	md := mkMetadata(t, e, "bars", nil, nil)

	if err := e.Append(ctx, md, mkSeries(t, 1, 2)); err != nil {
		t.Fatal(err)
	}
	before, _ := e.Range(ctx, md)
	if err := e.Append(ctx, md, mkSeries(t, 3, 4)); err != nil {
		t.Fatal(err)
	}
	after, _ := e.Range(ctx, md)
	if !after.End.After(before.End) {
		t.Fatal("append must strictly extend the range end")
	}

	payload, _ := e.Read(ctx, md, nil)
	if payload.(*dataset.Series).Len() != 4 {
		t.Fatal("append must concatenate rows")
	}
}

func testAppendOverlap(t *testing.T, e engine.Engine) {
	ctx := context.Background()
	md := mkMetadata(t, e, "bars", nil, nil)

	if err := e.Append(ctx, md, mkSeries(t, 1, 2, 3)); err != nil {
		t.Fatal(err)
	}
	err := e.Append(ctx, md, mkSeries(t, 3, 4))
	if !errors.Is(err, errors.ErrCodeAppendOverlap) {
		t.Fatalf("expected APPEND_OVERLAP, got %v", err)
	}

	// the failed append must not have changed anything
	payload, _ := e.Read(ctx, md, nil)
	if payload.(*dataset.Series).Len() != 3 {
		t.Fatal("failed append must leave the payload untouched")
	}
}

func testMerge(t *testing.T, e engine.Engine) {
	ctx := context.Background()
	md := mkMetadata(t, e, "bars", nil, nil)

	existing, _ := dataset.NewSeries(
		[]time.Time{day(1), day(2)},
		[]any{10.0, 20.0},
	)
	incoming, _ := dataset.NewSeries(
		[]time.Time{day(2), day(3)},
		[]any{99.0, 30.0},
	)
	if err := e.Merge(ctx, md, existing); err != nil {
		t.Fatal(err)
	}
	if err := e.Merge(ctx, md, incoming); err != nil {
		t.Fatal(err)
	}

	payload, _ := e.Read(ctx, md, nil)
	got := payload.(*dataset.Series)
	if got.Len() != 3 {
		t.Fatalf("expected 3 rows after merge, got %d", got.Len())
	}
	_, v := got.At(1)
	if v != 20.0 {
		t.Fatalf("existing row must win on overlap, got %v", v)
	}
}

func testReplace(t *testing.T, e engine.Engine) {
	ctx := context.Background()
	md := mkMetadata(t, e, "bars", nil, nil)

	if err := e.Append(ctx, md, mkSeries(t, 1, 2, 3)); err != nil {
		t.Fatal(err)
	}
	replacement := mkSeries(t, 10, 11)
	if err := e.Replace(ctx, md, replacement); err != nil {
		t.Fatal(err)
	}
	payload, _ := e.Read(ctx, md, nil)
	if !payload.(*dataset.Series).Equal(replacement) {
		t.Fatal("replace must swap the whole payload")
	}
}

func testStatic(t *testing.T, e engine.Engine) {
	ctx := context.Background()
	md, err := dataset.New(dataset.Spec{
		Name: "universe", Version: "1.0.0", Static: true, EngineID: e.ID(),
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := e.Replace(ctx, md, dataset.NewBlob([]string{"AAPL", "MSFT"})); err != nil {
		t.Fatal(err)
	}
	payload, err := e.Read(ctx, md, nil)
	if err != nil {
		t.Fatal(err)
	}
	blob, ok := payload.(*dataset.Blob)
	if !ok {
		t.Fatalf("expected blob, got %#v", payload)
	}
	// backends may round-trip the slice as their own list type
	rv := reflect.ValueOf(blob.Value())
	if rv.Kind() != reflect.Slice || rv.Len() != 2 {
		t.Fatalf("unexpected blob value %#v", blob.Value())
	}

	window := timerange.MustNew(day(1), day(2))
	if _, err := e.Read(ctx, md, &window); err == nil {
		t.Fatal("time-ranged read of a static dataset must fail")
	}
}

func testDeleteRows(t *testing.T, e engine.Engine) {
	ctx := context.Background()
	md := mkMetadata(t, e, "bars", nil, nil)

	if err := e.Append(ctx, md, mkSeries(t, 1, 2, 3, 4)); err != nil {
		t.Fatal(err)
	}
	window := timerange.MustNew(day(2), day(4))
	if err := e.Delete(ctx, md, &window); err != nil {
		t.Fatal(err)
	}
	payload, _ := e.Read(ctx, md, nil)
	got := payload.(*dataset.Series)
	if got.Len() != 2 {
		t.Fatalf("expected rows 1 and 4 to remain, got %d rows", got.Len())
	}
}

func testDeleteConflict(t *testing.T, e engine.Engine) {
	ctx := context.Background()
	parent := mkMetadata(t, e, "bars", nil, nil)
	child := mkMetadata(t, e, "returns", nil, map[string]dataset.Ref{"bars": parent})

	if err := e.Append(ctx, parent, mkSeries(t, 1, 2)); err != nil {
		t.Fatal(err)
	}
	if err := e.Append(ctx, child, mkSeries(t, 2)); err != nil {
		t.Fatal(err)
	}

	if err := e.Delete(ctx, parent, nil); !errors.Is(err, errors.ErrCodeConflict) {
		t.Fatalf("expected CONFLICT deleting a node with successors, got %v", err)
	}

	if err := engine.DeleteTree(ctx, e, parent); err != nil {
		t.Fatal(err)
	}
	ok, _ := e.Exists(ctx, parent)
	if ok {
		t.Fatal("parent must be gone after DeleteTree")
	}
	ok, _ = e.Exists(ctx, child)
	if ok {
		t.Fatal("child must be gone after DeleteTree")
	}
}

func testStub(t *testing.T, e engine.Engine) {
	ctx := context.Background()
	parent := mkMetadata(t, e, "bars", map[string]any{"venue": "nyse"}, nil)
	child := mkMetadata(t, e, "returns", nil, map[string]dataset.Ref{"bars": parent})

	if err := e.Append(ctx, parent, mkSeries(t, 1)); err != nil {
		t.Fatal(err)
	}
	if err := e.Append(ctx, child, mkSeries(t, 1)); err != nil {
		t.Fatal(err)
	}

	stub, err := e.GetStub(ctx, child)
	if err != nil {
		t.Fatal(err)
	}
	if stub.Hash() != child.Hash() {
		t.Fatal("stub hash must equal the full metadata hash")
	}

	preds, err := stub.Predecessors(ctx)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := preds["bars"]
	if !ok {
		t.Fatal("expected predecessor under its registered name")
	}
	if got.Hash() != parent.Hash() {
		t.Fatal("predecessor stub hash must match the parent")
	}
}

func testQuery(t *testing.T, e engine.Engine) {
	ctx := context.Background()
	a := mkMetadata(t, e, "bars", map[string]any{"venue": "nyse"}, nil)
	b := mkMetadata(t, e, "bars", map[string]any{"venue": "lse"}, nil)
	c := mkMetadata(t, e, "returns", nil, nil)

	for _, md := range []*dataset.Metadata{a, b, c} {
		if err := e.Append(ctx, md, mkSeries(t, 1)); err != nil {
			t.Fatal(err)
		}
	}

	stubs, err := e.Query(ctx, engine.Filter{Name: "bars"})
	if err != nil {
		t.Fatal(err)
	}
	if len(stubs) != 2 {
		t.Fatalf("expected 2 bars datasets, got %d", len(stubs))
	}

	stubs, err = e.Query(ctx, engine.Filter{Name: "bars", Params: map[string]any{"venue": "nyse"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(stubs) != 1 || stubs[0].Hash() != a.Hash() {
		t.Fatalf("expected only the nyse dataset, got %d", len(stubs))
	}
}

func testQueryDotted(t *testing.T, e engine.Engine) {
	ctx := context.Background()
	pNyse := mkMetadata(t, e, "bars", map[string]any{"venue": "nyse"}, nil)
	pLse := mkMetadata(t, e, "bars", map[string]any{"venue": "lse"}, nil)
	cNyse := mkMetadata(t, e, "returns", nil, map[string]dataset.Ref{"bars": pNyse})
	cLse := mkMetadata(t, e, "returns", nil, map[string]dataset.Ref{"bars": pLse})

	for _, md := range []*dataset.Metadata{pNyse, pLse, cNyse, cLse} {
		if err := e.Append(ctx, md, mkSeries(t, 1)); err != nil {
			t.Fatal(err)
		}
	}

	stubs, err := e.Query(ctx, engine.Filter{
		Name:   "returns",
		Params: map[string]any{"bars.venue": "nyse"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(stubs) != 1 || stubs[0].Hash() != cNyse.Hash() {
		t.Fatalf("expected the child of the nyse parent, got %d stubs", len(stubs))
	}
}
