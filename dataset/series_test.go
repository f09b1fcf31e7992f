package dataset

import (
	"testing"
	"time"

	"github.com/kbukum/datagraph/errors"
	"github.com/kbukum/datagraph/timerange"
)

func day(d int) time.Time {
	return time.Date(2020, 2, d, 0, 0, 0, 0, time.UTC)
}

func series(t *testing.T, days ...int) *Series {
	t.Helper()
	times := make([]time.Time, len(days))
	values := make([]any, len(days))
	for i, d := range days {
		times[i] = day(d)
		values[i] = float64(d)
	}
	s, err := NewSeries(times, values)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestNewSeriesRejectsUnsortedIndex(t *testing.T) {
	_, err := NewSeries(
		[]time.Time{day(2), day(1)},
		[]any{1.0, 2.0},
	)
	if err == nil {
		t.Fatal("expected error for decreasing index")
	}
}

func TestNewSeriesRejectsDuplicateIndex(t *testing.T) {
	_, err := NewSeries(
		[]time.Time{day(1), day(1)},
		[]any{1.0, 2.0},
	)
	if err == nil {
		t.Fatal("expected error for duplicate instants")
	}
}

func TestSeriesRange(t *testing.T) {
	s := series(t, 1, 2, 3)
	tr, ok := s.Range()
	if !ok {
		t.Fatal("expected a range")
	}
	if !tr.Start.Equal(day(1)) || !tr.End.Equal(day(3).Add(timerange.Resolution)) {
		t.Fatalf("unexpected range %s", tr)
	}
	if _, ok := EmptySeries().Range(); ok {
		t.Fatal("empty series has no range")
	}
}

func TestSliceHalfOpen(t *testing.T) {
	s := series(t, 1, 2, 3, 4)
	got := s.Slice(timerange.MustNew(day(2), day(4)))
	if got.Len() != 2 {
		t.Fatalf("expected rows 2 and 3, got %d rows", got.Len())
	}
	ts, _ := got.At(0)
	if !ts.Equal(day(2)) {
		t.Fatalf("unexpected first row %s", ts)
	}
}

func TestAppendTail(t *testing.T) {
	s := series(t, 1, 2)
	grown, err := s.AppendTail(series(t, 3, 4))
	if err != nil {
		t.Fatal(err)
	}
	if grown.Len() != 4 {
		t.Fatalf("expected 4 rows, got %d", grown.Len())
	}
	if s.Len() != 2 {
		t.Fatal("receiver must be unchanged")
	}
}

func TestAppendTailOverlapIsHardError(t *testing.T) {
	s := series(t, 1, 2, 3)
	_, err := s.AppendTail(series(t, 3, 4))
	if !errors.Is(err, errors.ErrCodeAppendOverlap) {
		t.Fatalf("expected APPEND_OVERLAP, got %v", err)
	}
}

func TestCombineFirstExistingWins(t *testing.T) {
	existing := series(t, 1, 2, 3) // values 1,2,3
	incoming, _ := NewSeries(
		[]time.Time{day(2), day(4)},
		[]any{99.0, 4.0},
	)
	merged := existing.CombineFirst(incoming)
	if merged.Len() != 4 {
		t.Fatalf("expected 4 rows, got %d", merged.Len())
	}
	_, v := merged.At(1)
	if v != 2.0 {
		t.Fatalf("existing row must win on overlap, got %v", v)
	}
	_, v = merged.At(3)
	if v != 4.0 {
		t.Fatalf("new row must fill the gap, got %v", v)
	}
}

func TestDatasetPayloadKindMustMatch(t *testing.T) {
	md := leaf(t, "universe", nil)
	if _, err := NewDataset(md, NewBlob([]string{"AAPL"})); err == nil {
		t.Fatal("blob payload on a time-series metadata must be rejected")
	}
}
