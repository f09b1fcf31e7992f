package timerange

import (
	"fmt"
	"sort"
	"time"

	"github.com/kbukum/datagraph/errors"
)

// Resolution is the smallest representable gap between two instants.
// FromIndex uses it to build a half-open range covering the last row.
const Resolution = time.Nanosecond

// MinTime and MaxTime bound the representable range; they substitute for
// an omitted start or end.
var (
	MinTime = time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)
	MaxTime = time.Date(9999, 12, 31, 23, 59, 59, 999999999, time.UTC)
)

// TimeRange is a half-open interval [Start, End) of instants.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// New validates and constructs a TimeRange. Start must not be after End;
// an equal pair is the empty range.
func New(start, end time.Time) (TimeRange, error) {
	if start.After(end) {
		return TimeRange{}, errors.InvalidRange(fmt.Sprintf(
			"start %s must not be after end %s",
			start.Format(time.RFC3339Nano), end.Format(time.RFC3339Nano),
		))
	}
	return TimeRange{Start: start, End: end}, nil
}

// MustNew constructs a TimeRange and panics on error. Intended for
// literals in tests and wiring code.
func MustNew(start, end time.Time) TimeRange {
	tr, err := New(start, end)
	if err != nil {
		panic(err)
	}
	return tr
}

// Until returns the unbounded-start range [MinTime, end).
func Until(end time.Time) TimeRange {
	return TimeRange{Start: MinTime, End: end}
}

// Since returns the unbounded-end range [start, MaxTime).
func Since(start time.Time) TimeRange {
	return TimeRange{Start: start, End: MaxTime}
}

// FromIndex derives the tightest range covering a sorted timestamp index,
// [first, last+Resolution). Returns false for an empty index.
func FromIndex(times []time.Time) (TimeRange, bool) {
	if len(times) == 0 {
		return TimeRange{}, false
	}
	return TimeRange{Start: times[0], End: times[len(times)-1].Add(Resolution)}, true
}

// IsEmpty reports whether the range covers no instants.
func (tr TimeRange) IsEmpty() bool {
	return !tr.Start.Before(tr.End)
}

// Duration returns End − Start.
func (tr TimeRange) Duration() time.Duration {
	return tr.End.Sub(tr.Start)
}

// Equal compares both endpoints as absolute instants.
func (tr TimeRange) Equal(other TimeRange) bool {
	return tr.Start.Equal(other.Start) && tr.End.Equal(other.End)
}

// Contains reports whether other is a sub-interval of tr.
func (tr TimeRange) Contains(other TimeRange) bool {
	return !tr.Start.After(other.Start) && !other.End.After(tr.End)
}

// ContainsTime reports whether the instant falls inside [Start, End).
func (tr TimeRange) ContainsTime(t time.Time) bool {
	return !t.Before(tr.Start) && t.Before(tr.End)
}

// Intersects reports whether the two ranges share any instant.
func (tr TimeRange) Intersects(other TimeRange) bool {
	if !tr.Start.After(other.Start) && other.Start.Before(tr.End) {
		return true
	}
	if !other.Start.After(tr.Start) && tr.Start.Before(other.End) {
		return true
	}
	return false
}

// Intersection returns the overlap of two ranges.
func (tr TimeRange) Intersection(other TimeRange) (TimeRange, error) {
	if !tr.Intersects(other) {
		return TimeRange{}, errors.InvalidRange("cannot intersect non-intersecting time ranges")
	}
	return TimeRange{Start: laterOf(tr.Start, other.Start), End: earlierOf(tr.End, other.End)}, nil
}

// Union returns the combined span of two intersecting ranges.
func (tr TimeRange) Union(other TimeRange) (TimeRange, error) {
	if !tr.Intersects(other) {
		return TimeRange{}, errors.InvalidRange("cannot union non-intersecting time ranges")
	}
	return TimeRange{Start: earlierOf(tr.Start, other.Start), End: laterOf(tr.End, other.End)}, nil
}

// SubtractPrefix removes the portion of tr covered by a prefix range,
// returning [max(Start, prefix.End), End). The result is empty when the
// prefix reaches past End.
func (tr TimeRange) SubtractPrefix(prefix TimeRange) TimeRange {
	start := laterOf(tr.Start, prefix.End)
	if start.After(tr.End) {
		start = tr.End
	}
	return TimeRange{Start: start, End: tr.End}
}

// ShiftBack extends the range backward by a lookback duration.
func (tr TimeRange) ShiftBack(d time.Duration) TimeRange {
	if d < 0 {
		d = 0
	}
	return TimeRange{Start: tr.Start.Add(-d), End: tr.End}
}

// Clip returns the half-open index positions [lo, hi) of a sorted
// timestamp slice that fall inside the range.
func (tr TimeRange) Clip(times []time.Time) (lo, hi int) {
	lo = sort.Search(len(times), func(i int) bool {
		return !times[i].Before(tr.Start)
	})
	hi = sort.Search(len(times), func(i int) bool {
		return !times[i].Before(tr.End)
	})
	return lo, hi
}

// String renders the range for logs and error messages.
func (tr TimeRange) String() string {
	return fmt.Sprintf("TimeRange(%s, %s)",
		tr.Start.Format(time.RFC3339Nano), tr.End.Format(time.RFC3339Nano))
}

func earlierOf(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
