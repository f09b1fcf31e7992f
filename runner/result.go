package runner

import (
	"time"

	"github.com/kbukum/datagraph/dataset"
	"github.com/kbukum/datagraph/graph"
)

// Outcome classifies a node's fate in one run.
type Outcome string

const (
	// OutcomeSuccess: the task ran and persisted its output.
	OutcomeSuccess Outcome = "success"
	// OutcomeSkipped: the output was already complete; nothing ran.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeBlockedUpstream: a predecessor did not finish successfully;
	// the function was never invoked.
	OutcomeBlockedUpstream Outcome = "blocked_upstream"
	// OutcomeFailed: the task errored, timed out, or a leaf assumption
	// did not hold.
	OutcomeFailed Outcome = "failed"
	// OutcomeCancelled: the run was cancelled before dispatch.
	OutcomeCancelled Outcome = "cancelled"
)

func (o Outcome) terminalSuccess() bool {
	return o == OutcomeSuccess || o == OutcomeSkipped
}

// NodeResult is the recorded fate of one node.
type NodeResult struct {
	Name     string
	Hash     string
	Outcome  Outcome
	Err      error
	Duration time.Duration
}

// Report maps every node of the run to its result, keyed by metadata
// hash (hex).
type Report struct {
	Results  map[string]NodeResult
	Duration time.Duration
}

// Of returns the result recorded for a node.
func (r *Report) Of(node *graph.Node) (NodeResult, bool) {
	res, ok := r.Results[dataset.HashString(node.Ref)]
	return res, ok
}

// OfRef returns the result recorded for a metadata reference.
func (r *Report) OfRef(ref dataset.Ref) (NodeResult, bool) {
	res, ok := r.Results[dataset.HashString(ref)]
	return res, ok
}

// Failed reports whether any node failed or was blocked.
func (r *Report) Failed() bool {
	for _, res := range r.Results {
		switch res.Outcome {
		case OutcomeFailed, OutcomeBlockedUpstream, OutcomeCancelled:
			return true
		}
	}
	return false
}

// Count returns the number of nodes with the given outcome.
func (r *Report) Count(outcome Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == outcome {
			n++
		}
	}
	return n
}
