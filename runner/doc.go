// Package runner executes a discovered graph in dependency order.
//
// Two modes share the same semantics: the serial runner processes the
// deterministic topological order in one goroutine; the parallel runner
// keeps a ready queue fed by outstanding-predecessor counts and drains
// it with a worker pool.
//
// A node runs only after every predecessor finished successfully or was
// skipped because its output was already complete. Failures never cross
// node boundaries: downstream nodes are marked blocked without being
// invoked, and the runner itself never returns a user-function error.
package runner
