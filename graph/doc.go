// Package graph discovers the dependency graph behind a set of target
// tasks and orders it for execution.
//
// Discovery walks both task dependencies and metadata predecessors, so
// ancestors that exist only as metadata (no task constructed in this
// run) still appear as nodes. Such leaf assumptions are not executed;
// the runner checks their persisted existence instead.
//
// The topological order is deterministic: ties break on metadata hash,
// so identical inputs order identically in every process.
package graph
