package engine

import (
	"context"

	"github.com/kbukum/datagraph/dataset"
	"github.com/kbukum/datagraph/timerange"
)

// Engine is a pluggable persistence backend.
type Engine interface {
	dataset.StubResolver

	// ID returns the engine's opaque identity. It is embedded into every
	// metadata hash and must survive serialisation across processes.
	ID() string

	// Exists reports whether the dataset is persisted. Pure observation.
	Exists(ctx context.Context, ref dataset.Ref) (bool, error)

	// GetStub returns a stub with the same hash as ref, bound to this
	// engine for lazy predecessor resolution. NOT_FOUND if absent.
	GetStub(ctx context.Context, ref dataset.Ref) (*dataset.Stub, error)

	// Read returns the payload, restricted to tr when non-nil.
	// NOT_FOUND if absent; a time range on a static dataset is an error.
	Read(ctx context.Context, ref dataset.Ref, tr *timerange.TimeRange) (dataset.Payload, error)

	// Range returns the stored index extent, or nil when the dataset is
	// absent or empty. O(1) where the backend allows.
	Range(ctx context.Context, ref dataset.Ref) (*timerange.TimeRange, error)

	// Append persists rows strictly after the existing data. The
	// smallest new index must be greater than the current maximum;
	// otherwise APPEND_OVERLAP. Creates the dataset when absent.
	Append(ctx context.Context, ref dataset.Ref, payload dataset.Payload) error

	// Merge combines with existing-wins semantics on overlapping
	// instants. Creates the dataset when absent.
	Merge(ctx context.Context, ref dataset.Ref, payload dataset.Payload) error

	// Replace swaps the payload atomically: a reader sees the old
	// payload or the new one, never a splice.
	Replace(ctx context.Context, ref dataset.Ref, payload dataset.Payload) error

	// Delete drops the rows inside tr; a nil tr deletes the node. A node
	// with persisted successors is only deleted when the filter cannot
	// find any, otherwise CONFLICT (use DeleteTree for recursive removal).
	Delete(ctx context.Context, ref dataset.Ref, tr *timerange.TimeRange) error

	// Query returns stubs matching the filter.
	Query(ctx context.Context, filter Filter) ([]*dataset.Stub, error)
}

// Filter narrows a Query. Zero value matches everything in the engine.
type Filter struct {
	// Name matches the dataset name exactly when non-empty.
	Name string
	// Version restricts to one code version when non-empty.
	Version string
	// Params matches parameter values; dotted keys ("foo.baz") address
	// a predecessor's parameters the way dataset.Metadata.GetParameter
	// does.
	Params map[string]any
	// PredecessorHash restricts to datasets with the given immediate
	// predecessor. Used for successor discovery.
	PredecessorHash *[32]byte
}

// DeleteTree removes a dataset and, recursively, every persisted
// successor inside the same engine. Successors in other engines are not
// discovered; cross-engine graphs are cleaned per engine.
func DeleteTree(ctx context.Context, e Engine, ref dataset.Ref) error {
	h := ref.Hash()
	successors, err := e.Query(ctx, Filter{PredecessorHash: &h})
	if err != nil {
		return err
	}
	for _, s := range successors {
		if err := DeleteTree(ctx, e, s); err != nil {
			return err
		}
	}
	return e.Delete(ctx, ref, nil)
}
