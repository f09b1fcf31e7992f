// Package memory provides the hash-backed in-memory persistence engine.
//
// Datasets live in a map keyed by metadata hash; each key is guarded by
// its own reader-writer lock and every mutation is copy-and-swap, so
// readers never observe a torn payload.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/kbukum/datagraph/dataset"
	"github.com/kbukum/datagraph/engine"
	"github.com/kbukum/datagraph/errors"
	"github.com/kbukum/datagraph/logger"
	"github.com/kbukum/datagraph/timerange"
)

// Engine is the in-memory implementation of engine.Engine.
type Engine struct {
	id  string
	log *logger.Logger

	mu   sync.RWMutex
	data map[[32]byte]*entry
}

type entry struct {
	mu     sync.RWMutex
	md     *dataset.Metadata
	series *dataset.Series
	blob   *dataset.Blob
}

// New creates an engine with a fresh identity.
func New(log *logger.Logger) *Engine {
	return NewWithID("memory:"+uuid.NewString(), log)
}

// NewWithID creates an engine with an explicit identity. Two engines
// with the same id address the same datasets in metadata hashes, so ids
// must be unique per store.
func NewWithID(id string, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{
		id:   id,
		log:  log.WithComponent("engine.memory"),
		data: make(map[[32]byte]*entry),
	}
}

func (e *Engine) ID() string { return e.id }

func (e *Engine) lookup(ref dataset.Ref) (*entry, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ent, ok := e.data[ref.Hash()]
	return ent, ok
}

// Exists reports whether the dataset is persisted.
func (e *Engine) Exists(_ context.Context, ref dataset.Ref) (bool, error) {
	_, ok := e.lookup(ref)
	return ok, nil
}

// GetStub returns a stub bound to this engine. NOT_FOUND if absent.
func (e *Engine) GetStub(_ context.Context, ref dataset.Ref) (*dataset.Stub, error) {
	ent, ok := e.lookup(ref)
	if !ok {
		return nil, errors.NotFound(ref.Name(), dataset.HashString(ref))
	}
	return dataset.StubOf(ent.md, e), nil
}

// PredecessorStubs resolves the immediate predecessors of a stored
// dataset. Predecessors owned by other engines come back unresolved.
func (e *Engine) PredecessorStubs(_ context.Context, ref dataset.Ref) (map[string]*dataset.Stub, error) {
	ent, ok := e.lookup(ref)
	if !ok {
		return nil, errors.NotFound(ref.Name(), dataset.HashString(ref))
	}
	out := make(map[string]*dataset.Stub)
	for name, pred := range ent.md.Predecessors() {
		out[name] = e.stubFor(pred)
	}
	return out, nil
}

func (e *Engine) stubFor(pred dataset.Ref) *dataset.Stub {
	var resolver dataset.StubResolver
	if pred.EngineID() == e.id {
		resolver = e
	}
	if full, ok := pred.(*dataset.Metadata); ok {
		return dataset.StubOf(full, resolver)
	}
	if stub, ok := pred.(*dataset.Stub); ok && resolver == nil {
		return stub
	}
	return dataset.NewStub(dataset.StubSpec{
		Name:      pred.Name(),
		Version:   pred.Version(),
		Static:    pred.Static(),
		TimeLevel: pred.TimeLevel(),
		Params:    pred.Params(),
		EngineID:  pred.EngineID(),
		Hash:      pred.Hash(),
	}, resolver)
}

// Read returns the payload, restricted to tr when non-nil.
func (e *Engine) Read(_ context.Context, ref dataset.Ref, tr *timerange.TimeRange) (dataset.Payload, error) {
	ent, ok := e.lookup(ref)
	if !ok {
		return nil, errors.NotFound(ref.Name(), dataset.HashString(ref))
	}
	ent.mu.RLock()
	defer ent.mu.RUnlock()

	if ent.blob != nil {
		if tr != nil {
			return nil, errors.InvalidRange("time range must be nil for static datasets")
		}
		return ent.blob, nil
	}
	if ent.series == nil {
		return nil, errors.NotFound(ref.Name(), dataset.HashString(ref))
	}
	if tr == nil {
		return ent.series, nil
	}
	return ent.series.Slice(*tr), nil
}

// Range returns the stored index extent, nil when absent or empty.
func (e *Engine) Range(_ context.Context, ref dataset.Ref) (*timerange.TimeRange, error) {
	ent, ok := e.lookup(ref)
	if !ok {
		return nil, nil
	}
	ent.mu.RLock()
	defer ent.mu.RUnlock()
	if ent.blob != nil {
		return nil, errors.InvalidRange("static datasets have no index extent")
	}
	if ent.series == nil {
		return nil, nil
	}
	tr, ok := ent.series.Range()
	if !ok {
		return nil, nil
	}
	return &tr, nil
}

// fullMetadata resolves the metadata to store under ref. Writes need the
// full predecessor graph; a stub is only acceptable when the dataset
// already exists.
func (e *Engine) fullMetadata(ref dataset.Ref) (*dataset.Metadata, error) {
	if md, ok := ref.(*dataset.Metadata); ok {
		return md, nil
	}
	if ent, ok := e.lookup(ref); ok {
		return ent.md, nil
	}
	return nil, errors.InvalidParameter(ref.Name(), ref).
		WithDetail("reason", "first write needs full metadata, not a stub")
}

func (e *Engine) entryForWrite(ref dataset.Ref) (*entry, error) {
	md, err := e.fullMetadata(ref)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.data[ref.Hash()]
	if !ok {
		ent = &entry{md: md}
		e.data[ref.Hash()] = ent
	}
	return ent, nil
}

// Append persists rows strictly after the existing data.
func (e *Engine) Append(_ context.Context, ref dataset.Ref, payload dataset.Payload) error {
	series, ok := payload.(*dataset.Series)
	if !ok {
		return errors.InvalidRange("append is only supported for time-series payloads")
	}
	ent, err := e.entryForWrite(ref)
	if err != nil {
		return err
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()

	if ent.blob != nil {
		return errors.InvalidRange("append is only supported for time-series datasets")
	}
	if ent.series == nil || ent.series.Len() == 0 {
		ent.series = series
	} else {
		grown, err := ent.series.AppendTail(series)
		if err != nil {
			return err
		}
		ent.series = grown
	}
	e.log.Debug("append", logger.Fields(
		logger.FieldDataset, ref.Name(),
		logger.FieldHash, dataset.HashString(ref),
		"rows", series.Len(),
	))
	return nil
}

// Merge combines with existing-wins semantics.
func (e *Engine) Merge(_ context.Context, ref dataset.Ref, payload dataset.Payload) error {
	series, ok := payload.(*dataset.Series)
	if !ok {
		return errors.InvalidRange("merge is only supported for time-series payloads")
	}
	ent, err := e.entryForWrite(ref)
	if err != nil {
		return err
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()

	if ent.blob != nil {
		return errors.InvalidRange("merge is only supported for time-series datasets")
	}
	if ent.series == nil {
		ent.series = series
	} else {
		ent.series = ent.series.CombineFirst(series)
	}
	return nil
}

// Replace swaps the payload atomically.
func (e *Engine) Replace(_ context.Context, ref dataset.Ref, payload dataset.Payload) error {
	switch payload.(type) {
	case *dataset.Series, *dataset.Blob:
	default:
		return errors.InvalidRange("unsupported payload type")
	}
	ent, err := e.entryForWrite(ref)
	if err != nil {
		return err
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()

	switch p := payload.(type) {
	case *dataset.Series:
		ent.series, ent.blob = p, nil
	case *dataset.Blob:
		ent.blob, ent.series = p, nil
	}
	return nil
}

// Delete drops rows in tr, or the whole node when tr is nil. Deleting a
// node that still has persisted successors is a CONFLICT.
func (e *Engine) Delete(ctx context.Context, ref dataset.Ref, tr *timerange.TimeRange) error {
	if tr == nil {
		h := ref.Hash()
		successors, err := e.Query(ctx, engine.Filter{PredecessorHash: &h})
		if err != nil {
			return err
		}
		if len(successors) > 0 {
			return errors.Conflict(ref.Name(), "dataset has persisted successors")
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.data, h)
		return nil
	}

	ent, ok := e.lookup(ref)
	if !ok {
		return errors.NotFound(ref.Name(), dataset.HashString(ref))
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	if ent.series == nil {
		return errors.InvalidRange("row deletion is only supported for time-series payloads")
	}
	before := timerange.Until(tr.Start)
	after := timerange.Since(tr.End)
	kept := ent.series.Slice(before).CombineFirst(ent.series.Slice(after))
	ent.series = kept
	return nil
}

// Query returns stubs matching the filter.
func (e *Engine) Query(_ context.Context, filter engine.Filter) ([]*dataset.Stub, error) {
	e.mu.RLock()
	entries := make([]*entry, 0, len(e.data))
	for _, ent := range e.data {
		entries = append(entries, ent)
	}
	e.mu.RUnlock()

	var out []*dataset.Stub
	for _, ent := range entries {
		if matches(ent.md, filter) {
			out = append(out, dataset.StubOf(ent.md, e))
		}
	}
	return out, nil
}

func matches(md *dataset.Metadata, filter engine.Filter) bool {
	if filter.Name != "" && md.Name() != filter.Name {
		return false
	}
	if filter.Version != "" && md.Version() != filter.Version {
		return false
	}
	if filter.PredecessorHash != nil {
		found := false
		for _, pred := range md.Predecessors() {
			if pred.Hash() == *filter.PredecessorHash {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for key, want := range filter.Params {
		got, err := md.GetParameter(key)
		if err != nil {
			return false
		}
		wantParam, err := dataset.FromValue(key, want)
		if err != nil {
			return false
		}
		gotParam, err := dataset.FromValue(key, got)
		if err != nil {
			return false
		}
		if !wantParam.Equal(gotParam) {
			return false
		}
	}
	return true
}
