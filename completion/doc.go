// Package completion decides whether a persisted payload satisfies a
// target time range.
//
// A checker only inspects the end of the existing range. Data that
// expands backward (earlier rows appearing later) is not detected here;
// downstream causal correctness cannot be guaranteed in that case. The
// append path can assert against it, but the checker contract stays as
// documented.
package completion
