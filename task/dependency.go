package task

import (
	"time"

	"github.com/kbukum/datagraph/dataset"
	"github.com/kbukum/datagraph/engine"
	"github.com/kbukum/datagraph/timerange"
)

// Dependency is an edge to a parent, carrying the lookback window and
// the completion-inheritance flag. The parent is usually a task built
// in the same run; an upstream produced by an earlier run can be
// referenced by metadata alone, in which case the runner treats it as a
// leaf assumption and only checks that its data exists.
type Dependency struct {
	Task *Task

	// Upstream and UpstreamEngine stand in for Task when the parent is
	// not constructed in this run.
	Upstream       dataset.Ref
	UpstreamEngine engine.Engine

	// Lookback extends every fetch window backward, for functions that
	// need history before the missing range (moving averages, decay).
	Lookback time.Duration
	// InheritFrequency contributes the parent's completion checker to
	// the child's derived checker. Metadata-only parents have no checker
	// and contribute nothing.
	InheritFrequency bool
}

// Dep lifts a bare task to a dependency with no lookback and
// inheritance enabled.
func Dep(t *Task) Dependency {
	return Dependency{Task: t, InheritFrequency: true}
}

// DepRef references an upstream by its metadata, read through the
// engine that owns it.
func DepRef(ref dataset.Ref, e engine.Engine) Dependency {
	return Dependency{Upstream: ref, UpstreamEngine: e}
}

// Ref returns the parent's metadata reference.
func (d Dependency) Ref() dataset.Ref {
	if d.Task != nil {
		return d.Task.Output()
	}
	return d.Upstream
}

// ReadEngine returns the engine the parent's payload is read through:
// always the engine of the parent's own metadata.
func (d Dependency) ReadEngine() engine.Engine {
	if d.Task != nil {
		return d.Task.Engine()
	}
	return d.UpstreamEngine
}

// WithLookback returns a copy with the lookback set.
func (d Dependency) WithLookback(lookback time.Duration) Dependency {
	d.Lookback = lookback
	return d
}

// NoInherit returns a copy that does not contribute its parent's
// checker to the child.
func (d Dependency) NoInherit() Dependency {
	d.InheritFrequency = false
	return d
}

// FetchRange computes the parent sub-range to pull for a child run over
// target: the target extended backward by the lookback.
func (d Dependency) FetchRange(target timerange.TimeRange) timerange.TimeRange {
	return target.ShiftBack(d.Lookback)
}
