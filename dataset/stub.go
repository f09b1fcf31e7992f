package dataset

import (
	"context"
	"fmt"
)

// StubResolver fetches predecessor stubs on demand. Persistence engines
// implement it; a stub holds one so that pulling a node's identity does
// not materialise its whole ancestor graph.
type StubResolver interface {
	PredecessorStubs(ctx context.Context, ref Ref) (map[string]*Stub, error)
}

// Stub is a metadata reference whose predecessors are fetched lazily.
// It carries the same identity fields and the same hash as the full
// Metadata it stands for.
type Stub struct {
	name      string
	version   string
	static    bool
	timeLevel string
	params    Params
	engineID  string
	hash      [32]byte
	resolver  StubResolver
}

// StubSpec collects the fields of a stored stub record.
type StubSpec struct {
	Name      string
	Version   string
	Static    bool
	TimeLevel string
	Params    Params
	EngineID  string
	Hash      [32]byte
}

// NewStub builds a stub from a stored record. The hash is trusted as
// recorded; it is not recomputed or checked against the other fields.
func NewStub(spec StubSpec, resolver StubResolver) *Stub {
	return &Stub{
		name:      spec.Name,
		version:   spec.Version,
		static:    spec.Static,
		timeLevel: spec.TimeLevel,
		params:    spec.Params,
		engineID:  spec.EngineID,
		hash:      spec.Hash,
		resolver:  resolver,
	}
}

// StubOf derives the stub of a full metadata value, bound to a resolver.
func StubOf(m *Metadata, resolver StubResolver) *Stub {
	return &Stub{
		name:      m.name,
		version:   m.version,
		static:    m.static,
		timeLevel: m.timeLevel,
		params:    m.params,
		engineID:  m.engineID,
		hash:      m.hash,
		resolver:  resolver,
	}
}

func (s *Stub) Name() string      { return s.name }
func (s *Stub) Version() string   { return s.version }
func (s *Stub) Static() bool      { return s.static }
func (s *Stub) TimeLevel() string { return s.timeLevel }
func (s *Stub) Params() Params    { return s.params }
func (s *Stub) EngineID() string  { return s.engineID }
func (s *Stub) Hash() [32]byte    { return s.hash }

// Predecessors resolves the immediate predecessor stubs through the
// engine that stored this dataset.
func (s *Stub) Predecessors(ctx context.Context) (map[string]*Stub, error) {
	if s.resolver == nil {
		return nil, fmt.Errorf("stub %s has no resolver", s.name)
	}
	return s.resolver.PredecessorStubs(ctx, s)
}

// Equal compares identities by hash.
func (s *Stub) Equal(other Ref) bool {
	if other == nil {
		return false
	}
	return s.hash == other.Hash()
}

func (s *Stub) String() string {
	return fmt.Sprintf("Stub(%s@%s %x)", s.name, s.version, s.hash[:6])
}
