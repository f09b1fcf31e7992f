package timerange

import (
	"testing"
	"time"

	"github.com/kbukum/datagraph/errors"
)

func ts(day, hour int) time.Time {
	return time.Date(2020, 2, day, hour, 0, 0, 0, time.UTC)
}

func TestNewRejectsInvertedRange(t *testing.T) {
	_, err := New(ts(5, 0), ts(1, 0))
	if !errors.Is(err, errors.ErrCodeInvalidRange) {
		t.Fatalf("expected INVALID_RANGE, got %v", err)
	}
}

func TestEmptyRange(t *testing.T) {
	tr := MustNew(ts(1, 0), ts(1, 0))
	if !tr.IsEmpty() {
		t.Fatal("equal endpoints must be empty")
	}
	if tr.ContainsTime(ts(1, 0)) {
		t.Fatal("empty range contains nothing")
	}
}

func TestContainsTimeHalfOpen(t *testing.T) {
	tr := MustNew(ts(1, 0), ts(5, 0))
	if !tr.ContainsTime(ts(1, 0)) {
		t.Fatal("start is included")
	}
	if tr.ContainsTime(ts(5, 0)) {
		t.Fatal("end is excluded")
	}
}

func TestIntersection(t *testing.T) {
	a := MustNew(ts(1, 0), ts(5, 0))
	b := MustNew(ts(3, 0), ts(9, 0))
	got, err := a.Intersection(b)
	if err != nil {
		t.Fatal(err)
	}
	want := MustNew(ts(3, 0), ts(5, 0))
	if !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestIntersectionDisjoint(t *testing.T) {
	a := MustNew(ts(1, 0), ts(2, 0))
	b := MustNew(ts(3, 0), ts(4, 0))
	if _, err := a.Intersection(b); err == nil {
		t.Fatal("expected error for disjoint ranges")
	}
	if a.Intersects(b) {
		t.Fatal("disjoint ranges must not intersect")
	}
}

func TestUnion(t *testing.T) {
	a := MustNew(ts(1, 0), ts(4, 0))
	b := MustNew(ts(3, 0), ts(9, 0))
	got, err := a.Union(b)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(MustNew(ts(1, 0), ts(9, 0))) {
		t.Fatalf("unexpected union %s", got)
	}
}

func TestSubtractPrefix(t *testing.T) {
	target := MustNew(ts(1, 0), ts(10, 0))
	existing := MustNew(ts(1, 0), ts(4, 0))
	missing := target.SubtractPrefix(existing)
	if !missing.Equal(MustNew(ts(4, 0), ts(10, 0))) {
		t.Fatalf("unexpected missing range %s", missing)
	}
}

func TestSubtractPrefixCoveringAll(t *testing.T) {
	target := MustNew(ts(1, 0), ts(4, 0))
	existing := MustNew(ts(1, 0), ts(8, 0))
	if !target.SubtractPrefix(existing).IsEmpty() {
		t.Fatal("expected empty remainder")
	}
}

func TestShiftBack(t *testing.T) {
	tr := MustNew(ts(5, 0), ts(9, 0)).ShiftBack(48 * time.Hour)
	if !tr.Equal(MustNew(ts(3, 0), ts(9, 0))) {
		t.Fatalf("unexpected shifted range %s", tr)
	}
}

func TestLookbackFetchWindow(t *testing.T) {
	// Child target [2020-02-01, 2020-02-05) with 30 days lookback pulls
	// [2020-01-02, 2020-02-05) from the parent.
	target := MustNew(
		time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 2, 5, 0, 0, 0, 0, time.UTC),
	)
	fetch := target.ShiftBack(30 * 24 * time.Hour)
	wantStart := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	if !fetch.Start.Equal(wantStart) {
		t.Fatalf("expected fetch start %s, got %s", wantStart, fetch.Start)
	}
	if !fetch.End.Equal(target.End) {
		t.Fatalf("expected fetch end %s, got %s", target.End, fetch.End)
	}
}

func TestFromIndex(t *testing.T) {
	times := []time.Time{ts(1, 0), ts(2, 0), ts(3, 0)}
	tr, ok := FromIndex(times)
	if !ok {
		t.Fatal("expected a range")
	}
	if !tr.Start.Equal(ts(1, 0)) {
		t.Fatalf("unexpected start %s", tr.Start)
	}
	if !tr.End.Equal(ts(3, 0).Add(Resolution)) {
		t.Fatalf("expected end one resolution past the last row, got %s", tr.End)
	}
	if _, ok := FromIndex(nil); ok {
		t.Fatal("empty index has no range")
	}
}

func TestClip(t *testing.T) {
	times := []time.Time{ts(1, 0), ts(2, 0), ts(3, 0), ts(4, 0)}
	lo, hi := MustNew(ts(2, 0), ts(4, 0)).Clip(times)
	if lo != 1 || hi != 3 {
		t.Fatalf("expected [1,3), got [%d,%d)", lo, hi)
	}
}

func TestEqualityOnAbsoluteInstant(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	utc := time.Date(2020, 2, 3, 21, 30, 0, 0, time.UTC)
	local := utc.In(ny)
	a := MustNew(utc, utc.Add(time.Hour))
	b := MustNew(local, local.Add(time.Hour))
	if !a.Equal(b) {
		t.Fatal("ranges on the same instants must be equal regardless of zone")
	}
}
