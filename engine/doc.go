// Package engine defines the persistence contract of the dataset graph.
//
// An Engine owns datasets addressed by metadata hash. Engines are
// compared by identity, never by content: the same dataset stored in
// two engines is two datasets, and engine identity is part of the
// metadata hash.
//
// Implementations must be safe for concurrent use and linearisable per
// metadata; writes to different metadata are independent.
package engine
