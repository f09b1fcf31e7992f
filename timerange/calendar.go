package timerange

import (
	"fmt"
	"sort"
	"time"

	"github.com/kbukum/datagraph/errors"
)

// Calendar represents a set of expected instants, potentially infinite.
// It describes the expected index of a time-series dataset.
type Calendar interface {
	// EventsIn returns the expected instants inside the range, ordered.
	EventsIn(tr TimeRange) []time.Time
	// LastOnOrBefore returns the largest expected instant <= t.
	// The second return is false when no such instant exists.
	LastOnOrBefore(t time.Time) (time.Time, bool)
}

// BusinessDays is the default weekday set for TimeOfDayCalendar.
var BusinessDays = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday,
}

// TimeOfDay is a wall-clock moment in a named timezone.
type TimeOfDay struct {
	Hour     int
	Minute   int
	Second   int
	Location *time.Location
}

// At builds a TimeOfDay; a nil location defaults to UTC.
func At(hour, minute int, loc *time.Location) TimeOfDay {
	if loc == nil {
		loc = time.UTC
	}
	return TimeOfDay{Hour: hour, Minute: minute, Location: loc}
}

// On anchors the time of day to a calendar date.
func (tod TimeOfDay) On(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, tod.Hour, tod.Minute, tod.Second, 0, tod.Location)
}

func (tod TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d [%s]", tod.Hour, tod.Minute, tod.Second, tod.Location)
}

// TimeOfDayCalendar expects one instant per day at a fixed wall-clock
// time, on the given weekdays. Holidays listed are excluded.
type TimeOfDayCalendar struct {
	TimeOfDay TimeOfDay
	Weekdays  []time.Weekday // defaults to BusinessDays
	Holidays  []time.Time    // dates compared in the calendar's timezone
}

// NewTimeOfDayCalendar builds a business-day calendar at the given time of day.
func NewTimeOfDayCalendar(tod TimeOfDay) *TimeOfDayCalendar {
	return &TimeOfDayCalendar{TimeOfDay: tod, Weekdays: BusinessDays}
}

func (c *TimeOfDayCalendar) weekdays() []time.Weekday {
	if len(c.Weekdays) == 0 {
		return BusinessDays
	}
	return c.Weekdays
}

func (c *TimeOfDayCalendar) includesDate(d time.Time) bool {
	ok := false
	for _, wd := range c.weekdays() {
		if d.Weekday() == wd {
			ok = true
			break
		}
	}
	if !ok {
		return false
	}
	for _, h := range c.Holidays {
		hy, hm, hd := h.In(c.TimeOfDay.Location).Date()
		dy, dm, dd := d.Date()
		if hy == dy && hm == dm && hd == dd {
			return false
		}
	}
	return true
}

// EventsIn walks the days overlapping the range in the calendar's
// timezone and keeps the instants that fall inside it.
func (c *TimeOfDayCalendar) EventsIn(tr TimeRange) []time.Time {
	if tr.IsEmpty() {
		return nil
	}
	loc := c.TimeOfDay.Location
	day := tr.Start.In(loc).AddDate(0, 0, -1)
	last := tr.End.In(loc).AddDate(0, 0, 1)

	var events []time.Time
	for d := day; !d.After(last); d = d.AddDate(0, 0, 1) {
		if !c.includesDate(d) {
			continue
		}
		ts := c.TimeOfDay.On(d.Year(), d.Month(), d.Day())
		if tr.ContainsTime(ts) {
			events = append(events, ts)
		}
	}
	return events
}

// LastOnOrBefore scans backward one day at a time. With a non-empty
// weekday set an event is always found within two weeks.
func (c *TimeOfDayCalendar) LastOnOrBefore(t time.Time) (time.Time, bool) {
	d := t.In(c.TimeOfDay.Location)
	for i := 0; i < 15; i++ {
		if c.includesDate(d) {
			ts := c.TimeOfDay.On(d.Year(), d.Month(), d.Day())
			if !ts.After(t) {
				return ts, true
			}
		}
		d = d.AddDate(0, 0, -1)
	}
	return time.Time{}, false
}

// OffsetCalendar expects an instant every fixed tick, aligned to UTC
// midnight. The tick must evenly divide one day.
type OffsetCalendar struct {
	Offset time.Duration
}

// NewOffsetCalendar validates the tick and builds the calendar.
func NewOffsetCalendar(offset time.Duration) (*OffsetCalendar, error) {
	if offset <= 0 {
		return nil, errors.InvalidRange("offset must be positive")
	}
	if (24*time.Hour)%offset != 0 {
		return nil, errors.InvalidRange(fmt.Sprintf(
			"offset must evenly divide one day; got %s", offset))
	}
	return &OffsetCalendar{Offset: offset}, nil
}

// LastOnOrBefore truncates to the tick grid.
func (c *OffsetCalendar) LastOnOrBefore(t time.Time) (time.Time, bool) {
	return t.Truncate(c.Offset), true
}

// EventsIn enumerates the grid instants inside the range.
func (c *OffsetCalendar) EventsIn(tr TimeRange) []time.Time {
	if tr.IsEmpty() {
		return nil
	}
	first := tr.Start.Truncate(c.Offset)
	if first.Before(tr.Start) {
		first = first.Add(c.Offset)
	}
	var events []time.Time
	for ts := first; ts.Before(tr.End); ts = ts.Add(c.Offset) {
		events = append(events, ts)
	}
	return events
}

// UnionCalendar merges several calendars into one expected-instant set.
type UnionCalendar struct {
	Calendars []Calendar
}

// MergeCalendars flattens nested unions into a single UnionCalendar.
func MergeCalendars(calendars ...Calendar) *UnionCalendar {
	var flat []Calendar
	for _, c := range calendars {
		if u, ok := c.(*UnionCalendar); ok {
			flat = append(flat, u.Calendars...)
		} else {
			flat = append(flat, c)
		}
	}
	return &UnionCalendar{Calendars: flat}
}

// LastOnOrBefore returns the latest of the children's answers.
func (c *UnionCalendar) LastOnOrBefore(t time.Time) (time.Time, bool) {
	var best time.Time
	found := false
	for _, cal := range c.Calendars {
		ts, ok := cal.LastOnOrBefore(t)
		if ok && (!found || ts.After(best)) {
			best = ts
			found = true
		}
	}
	return best, found
}

// EventsIn returns the sorted, deduplicated union of the children's events.
func (c *UnionCalendar) EventsIn(tr TimeRange) []time.Time {
	var all []time.Time
	for _, cal := range c.Calendars {
		all = append(all, cal.EventsIn(tr)...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Before(all[j]) })
	var out []time.Time
	for _, ts := range all {
		if len(out) == 0 || !out[len(out)-1].Equal(ts) {
			out = append(out, ts)
		}
	}
	return out
}
