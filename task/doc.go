// Package task composes user functions into nodes of the runtime graph.
//
// A Task binds a deterministic function to a content-addressed output:
// its metadata embeds the scalar parameters and every dependency's
// metadata, so equal task definitions address the same persisted
// dataset in any process.
//
// Run is idempotent. A task whose output already satisfies its
// completion checker writes nothing; otherwise it computes the missing
// sub-range, pulls each dependency over its lookback-extended window,
// invokes the function, and persists the result.
//
// Dependencies are read through the engine named by their own metadata,
// not the engine of the task reading them. A child may therefore live
// in a different store than its parents; the parents stay where they
// are.
package task
