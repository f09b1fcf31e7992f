// Package dataset defines the content-addressed identity of dataset
// nodes and the payloads stored under them.
//
// A Metadata value embeds its predecessors' metadata, so identity covers
// the full ancestor graph; two metadata values with equal structure hash
// identically in any process. A Stub carries the same identity fields
// and the same hash but resolves its predecessors lazily through the
// engine that stored it.
//
// Parameters are normalised at construction: map keys are sorted,
// list-likes become tuples, and unsupported kinds are rejected. The
// canonicalisation applies only to identity; user functions receive the
// values they were given.
package dataset
