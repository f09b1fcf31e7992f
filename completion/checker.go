package completion

import (
	"fmt"
	"time"

	"github.com/kbukum/datagraph/errors"
	"github.com/kbukum/datagraph/timerange"
)

// Checker is the policy deciding whether a payload's index satisfies a
// target range. existing is the stored index extent, nil when the
// dataset does not exist.
type Checker interface {
	IsComplete(target timerange.TimeRange, existing *timerange.TimeRange) (bool, error)
	// ExpectedLast returns the instant the payload is expected to reach
	// for the target range. The second return is false when the checker
	// has no expectation of a specific instant.
	ExpectedLast(target timerange.TimeRange) (time.Time, bool, error)
}

// CalendarChecker expects data on every calendar instant. The payload is
// complete when its last row reaches the latest expected instant at or
// before the target's end.
type CalendarChecker struct {
	Calendar timerange.Calendar
}

// NewCalendarChecker wraps a calendar as a completion policy.
func NewCalendarChecker(cal timerange.Calendar) *CalendarChecker {
	return &CalendarChecker{Calendar: cal}
}

func (c *CalendarChecker) ExpectedLast(target timerange.TimeRange) (time.Time, bool, error) {
	ts, ok := c.Calendar.LastOnOrBefore(target.End)
	if !ok {
		return time.Time{}, false, errors.Completion(fmt.Sprintf(
			"calendar has no instant at or before %s", target.End.Format(time.RFC3339Nano)))
	}
	return ts, true, nil
}

func (c *CalendarChecker) IsComplete(target timerange.TimeRange, existing *timerange.TimeRange) (bool, error) {
	if target.IsEmpty() {
		return true, nil
	}
	if existing == nil || existing.IsEmpty() {
		return false, nil
	}
	expected, _, err := c.ExpectedLast(target)
	if err != nil {
		return false, err
	}
	// existing.End is exclusive: the last row is at End-Resolution, so
	// the expectation is met exactly when End is past the expected instant.
	return existing.End.After(expected), nil
}

// IrregularChecker expects no specific instant: any existing data
// overlapping the target counts as complete. Used for outputs whose
// cadence is data-driven.
type IrregularChecker struct{}

// NewIrregularChecker returns the irregular policy.
func NewIrregularChecker() *IrregularChecker { return &IrregularChecker{} }

func (c *IrregularChecker) ExpectedLast(timerange.TimeRange) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

func (c *IrregularChecker) IsComplete(target timerange.TimeRange, existing *timerange.TimeRange) (bool, error) {
	if target.IsEmpty() {
		return true, nil
	}
	if existing == nil || existing.IsEmpty() {
		return false, nil
	}
	return target.Intersects(*existing), nil
}

// Strategy selects how a composite combines its children.
type Strategy uint8

const (
	// Strictest requires every child to be complete; the effective
	// expectation is the earliest of the children's.
	Strictest Strategy = iota
	// Laxest requires any child to be complete; the effective
	// expectation is the latest of the children's.
	Laxest
)

func (s Strategy) String() string {
	switch s {
	case Strictest:
		return "strictest"
	case Laxest:
		return "laxest"
	}
	return fmt.Sprintf("strategy(%d)", s)
}

// CompositeChecker combines child checkers under a strategy. Used when a
// task inherits completion from several dependencies.
type CompositeChecker struct {
	Strategy Strategy
	Children []Checker
}

// NewComposite builds a composite checker over the given children.
func NewComposite(strategy Strategy, children ...Checker) (*CompositeChecker, error) {
	if len(children) == 0 {
		return nil, errors.Completion("composite checker needs at least one child")
	}
	return &CompositeChecker{Strategy: strategy, Children: children}, nil
}

func (c *CompositeChecker) IsComplete(target timerange.TimeRange, existing *timerange.TimeRange) (bool, error) {
	for _, child := range c.Children {
		ok, err := child.IsComplete(target, existing)
		if err != nil {
			return false, err
		}
		switch c.Strategy {
		case Strictest:
			if !ok {
				return false, nil
			}
		case Laxest:
			if ok {
				return true, nil
			}
		}
	}
	return c.Strategy == Strictest, nil
}

func (c *CompositeChecker) ExpectedLast(target timerange.TimeRange) (time.Time, bool, error) {
	var best time.Time
	found := false
	for _, child := range c.Children {
		ts, ok, err := child.ExpectedLast(target)
		if err != nil {
			return time.Time{}, false, err
		}
		if !ok {
			continue
		}
		if !found {
			best = ts
			found = true
			continue
		}
		switch c.Strategy {
		case Strictest:
			if ts.Before(best) {
				best = ts
			}
		case Laxest:
			if ts.After(best) {
				best = ts
			}
		}
	}
	return best, found, nil
}
