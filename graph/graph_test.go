package graph

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/kbukum/datagraph/dataset"
	"github.com/kbukum/datagraph/engine/memory"
	"github.com/kbukum/datagraph/logger"
	"github.com/kbukum/datagraph/task"
	"github.com/kbukum/datagraph/timerange"
)

func day(d int) time.Time {
	return time.Date(2020, 2, d, 0, 0, 0, 0, time.UTC)
}

func emitDays(_ context.Context, in task.Inputs) (dataset.Payload, error) {
	var times []time.Time
	var values []any
	for ts := in.TimeRange.Start; ts.Before(in.TimeRange.End); ts = ts.AddDate(0, 0, 1) {
		times = append(times, ts)
		values = append(values, float64(ts.Day()))
	}
	return dataset.NewSeries(times, values)
}

func testContext(t *testing.T) *task.Context {
	t.Helper()
	target := timerange.MustNew(day(1), day(6))
	return task.NewContext(task.Defaults{
		Version:     "1.0.0",
		Engine:      memory.New(logger.Nop()),
		TargetRange: &target,
	}, logger.Nop())
}

func chain(t *testing.T, c *task.Context) (*task.Task, *task.Task, *task.Task) {
	t.Helper()
	a, err := c.TimeSeriesTask("a", emitDays)
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.TimeSeriesTask("b", emitDays, task.WithTask("a", a))
	if err != nil {
		t.Fatal(err)
	}
	cc, err := c.TimeSeriesTask("c", emitDays, task.WithTask("b", b))
	if err != nil {
		t.Fatal(err)
	}
	return a, b, cc
}

func TestBuildChain(t *testing.T) {
	c := testContext(t)
	a, b, cc := chain(t, c)

	g, err := Build(cc)
	if err != nil {
		t.Fatal(err)
	}
	if g.Len() != 3 {
		t.Fatalf("expected 3 nodes, got %d", g.Len())
	}

	order := g.Order()
	pos := map[[32]byte]int{}
	for i, n := range order {
		pos[n.Hash()] = i
	}
	if !(pos[a.Output().Hash()] < pos[b.Output().Hash()] && pos[b.Output().Hash()] < pos[cc.Output().Hash()]) {
		t.Fatal("order must respect the partial order")
	}
}

func TestOrderIsDeterministic(t *testing.T) {
	c := testContext(t)
	// diamond: d depends on two independent parents
	p1, _ := c.TimeSeriesTask("p1", emitDays)
	p2, _ := c.TimeSeriesTask("p2", emitDays)
	d, err := c.TimeSeriesTask("d", emitDays,
		task.WithTask("p1", p1), task.WithTask("p2", p2))
	if err != nil {
		t.Fatal(err)
	}

	var prev []*Node
	for i := 0; i < 5; i++ {
		g, err := Build(d)
		if err != nil {
			t.Fatal(err)
		}
		order := g.Order()
		if prev != nil {
			for j := range order {
				if order[j].Hash() != prev[j].Hash() {
					t.Fatal("order must be identical across builds")
				}
			}
		}
		prev = order
	}

	// the two roots must be ordered by hash
	h1, h2 := prev[0].Hash(), prev[1].Hash()
	if bytes.Compare(h1[:], h2[:]) >= 0 {
		t.Fatal("ties must break by metadata hash")
	}
}

func TestSharedAncestorAppearsOnce(t *testing.T) {
	c := testContext(t)
	shared, _ := c.TimeSeriesTask("shared", emitDays)
	left, _ := c.TimeSeriesTask("left", emitDays, task.WithTask("in", shared))
	right, _ := c.TimeSeriesTask("right", emitDays, task.WithTask("in", shared))

	g, err := Build(left, right)
	if err != nil {
		t.Fatal(err)
	}
	if g.Len() != 3 {
		t.Fatalf("expected shared ancestor deduplicated, got %d nodes", g.Len())
	}
	n, ok := g.Node(shared.Output().Hash())
	if !ok {
		t.Fatal("shared node missing")
	}
	if len(n.Dependents()) != 2 {
		t.Fatalf("expected 2 dependents, got %d", len(n.Dependents()))
	}
}

func TestEngineRegistry(t *testing.T) {
	c := testContext(t)
	a, _, cc := chain(t, c)
	g, err := Build(cc)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := g.Engine(a.Engine().ID()); !ok {
		t.Fatal("task engines must be discoverable by id")
	}
	if _, ok := g.Engine("mongo:db=nowhere"); ok {
		t.Fatal("unknown engine id must not resolve")
	}
}

func TestBuildWithoutTargets(t *testing.T) {
	if _, err := Build(); err == nil {
		t.Fatal("expected error for empty target set")
	}
}
