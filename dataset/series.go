package dataset

import (
	"reflect"
	"sort"
	"time"

	"github.com/kbukum/datagraph/errors"
	"github.com/kbukum/datagraph/timerange"
)

// Payload is the stored content of a dataset: a time-indexed Series for
// time-series nodes, a Blob for static nodes.
type Payload interface {
	IsStatic() bool
}

// Series is a payload indexed by a strictly increasing timestamp index.
// Row values are opaque to the framework.
type Series struct {
	times  []time.Time
	values []any
}

// NewSeries validates and constructs a Series. The index must be
// strictly increasing with no zero instants.
func NewSeries(times []time.Time, values []any) (*Series, error) {
	if len(times) != len(values) {
		return nil, errors.InvalidRange("series index and values must have equal length")
	}
	for i, ts := range times {
		if ts.IsZero() {
			return nil, errors.InvalidRange("series index must not contain zero instants")
		}
		if i > 0 && !times[i-1].Before(ts) {
			return nil, errors.InvalidRange("series index must be strictly increasing")
		}
	}
	return &Series{
		times:  append([]time.Time(nil), times...),
		values: append([]any(nil), values...),
	}, nil
}

// EmptySeries returns a series with no rows.
func EmptySeries() *Series { return &Series{} }

func (s *Series) IsStatic() bool { return false }

// Len returns the number of rows.
func (s *Series) Len() int { return len(s.times) }

// Times returns a copy of the index.
func (s *Series) Times() []time.Time {
	return append([]time.Time(nil), s.times...)
}

// Values returns a copy of the row values.
func (s *Series) Values() []any {
	return append([]any(nil), s.values...)
}

// At returns the row at position i.
func (s *Series) At(i int) (time.Time, any) {
	return s.times[i], s.values[i]
}

// Range returns the half-open extent [first, last+Resolution) of the
// index, or false when the series is empty.
func (s *Series) Range() (timerange.TimeRange, bool) {
	return timerange.FromIndex(s.times)
}

// Slice restricts the series to the rows inside a range. The result
// shares no state with the receiver.
func (s *Series) Slice(tr timerange.TimeRange) *Series {
	lo, hi := tr.Clip(s.times)
	return &Series{
		times:  append([]time.Time(nil), s.times[lo:hi]...),
		values: append([]any(nil), s.values[lo:hi]...),
	}
}

// AppendTail concatenates rows that are strictly later than the
// receiver's last row. A new first row at or before the existing end is
// an APPEND_OVERLAP error, never silently dropped.
func (s *Series) AppendTail(other *Series) (*Series, error) {
	if other.Len() == 0 {
		return s.clone(), nil
	}
	if s.Len() > 0 {
		last := s.times[len(s.times)-1]
		if !other.times[0].After(last) {
			return nil, errors.AppendOverlap("series", last, other.times[0])
		}
	}
	return &Series{
		times:  append(s.Times(), other.times...),
		values: append(s.Values(), other.values...),
	}, nil
}

// CombineFirst merges another series into the receiver with
// existing-wins semantics: rows of s are kept, rows of other fill the
// missing instants.
func (s *Series) CombineFirst(other *Series) *Series {
	type row struct {
		ts time.Time
		v  any
	}
	rows := make([]row, 0, s.Len()+other.Len())
	for i := range s.times {
		rows = append(rows, row{s.times[i], s.values[i]})
	}
	for i := range other.times {
		if !s.containsInstant(other.times[i]) {
			rows = append(rows, row{other.times[i], other.values[i]})
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ts.Before(rows[j].ts) })
	times := make([]time.Time, len(rows))
	values := make([]any, len(rows))
	for i, r := range rows {
		times[i] = r.ts
		values[i] = r.v
	}
	return &Series{times: times, values: values}
}

func (s *Series) containsInstant(ts time.Time) bool {
	i := sort.Search(len(s.times), func(i int) bool {
		return !s.times[i].Before(ts)
	})
	return i < len(s.times) && s.times[i].Equal(ts)
}

// Equal compares index and values. Values are compared with
// reflect.DeepEqual.
func (s *Series) Equal(other *Series) bool {
	if s.Len() != other.Len() {
		return false
	}
	for i := range s.times {
		if !s.times[i].Equal(other.times[i]) {
			return false
		}
		if !reflect.DeepEqual(s.values[i], other.values[i]) {
			return false
		}
	}
	return true
}

func (s *Series) clone() *Series {
	return &Series{times: s.Times(), values: s.Values()}
}

// Blob is the payload of a static dataset: an opaque value with no index.
type Blob struct {
	value any
}

// NewBlob wraps a static value.
func NewBlob(v any) *Blob { return &Blob{value: v} }

func (b *Blob) IsStatic() bool { return true }

// Value returns the wrapped static value.
func (b *Blob) Value() any { return b.value }

// Dataset pairs an identity with its payload.
type Dataset struct {
	Metadata Ref
	Payload  Payload
}

// NewDataset validates that payload kind matches the metadata's static
// flag.
func NewDataset(md Ref, payload Payload) (*Dataset, error) {
	if md.Static() != payload.IsStatic() {
		return nil, errors.InvalidParameter(md.Name(), payload).
			WithDetail("reason", "payload kind must match the static flag")
	}
	return &Dataset{Metadata: md, Payload: payload}, nil
}
