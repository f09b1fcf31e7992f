// Package timerange provides half-open time intervals and the calendars
// used to describe the expected index of a time-series dataset.
//
// A TimeRange covers [Start, End). Ranges compose with intersection,
// union, prefix subtraction, and lookback shifting; a Calendar answers
// which instants are expected inside a range and which expected instant
// most recently preceded a point in time.
package timerange
