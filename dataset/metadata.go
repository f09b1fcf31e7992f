package dataset

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/kbukum/datagraph/errors"
)

// Ref is the identity view shared by full metadata and stubs. Engines
// accept a Ref wherever a dataset is addressed; equal hashes address the
// same dataset.
type Ref interface {
	Name() string
	Version() string
	Static() bool
	TimeLevel() string
	Params() Params
	EngineID() string
	Hash() [32]byte
}

// HashString renders a ref's hash as hex for keys and log fields.
func HashString(r Ref) string {
	h := r.Hash()
	return hex.EncodeToString(h[:])
}

// Spec collects the inputs for constructing a Metadata value.
type Spec struct {
	Name    string
	Version string
	Static  bool
	// TimeLevel names the index level holding the instant of a row, for
	// multi-level indices. Empty for single-level and static datasets.
	TimeLevel    string
	Params       map[string]any
	Predecessors map[string]Ref
	EngineID     string
}

// Metadata is the immutable, content-addressed identity of a dataset
// node. Predecessor metadata is embedded by value; the hash covers the
// full ancestor graph.
type Metadata struct {
	name      string
	version   string
	static    bool
	timeLevel string
	params    Params
	predKeys  []string
	predVals  []Ref
	engineID  string
	hash      [32]byte
}

// New normalises and validates a Spec into a Metadata value. The hash is
// computed eagerly; construction is the only place it can fail.
func New(spec Spec) (*Metadata, error) {
	if spec.Name == "" {
		return nil, errors.InvalidParameter("name", spec.Name).
			WithDetail("reason", "name is required")
	}
	if spec.Static && spec.TimeLevel != "" {
		return nil, errors.InvalidParameter("time_level", spec.TimeLevel).
			WithDetail("reason", "static datasets have no time level")
	}
	params, err := NormalizeParams(spec.Params)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(spec.Predecessors))
	for k := range spec.Predecessors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	vals := make([]Ref, len(keys))
	for i, k := range keys {
		if spec.Predecessors[k] == nil {
			return nil, errors.InvalidParameter(k, nil).
				WithDetail("reason", "nil predecessor")
		}
		vals[i] = spec.Predecessors[k]
	}

	md := &Metadata{
		name:      spec.Name,
		version:   spec.Version,
		static:    spec.Static,
		timeLevel: spec.TimeLevel,
		params:    params,
		predKeys:  keys,
		predVals:  vals,
		engineID:  spec.EngineID,
	}
	md.hash = md.computeHash()
	return md, nil
}

func (m *Metadata) computeHash() [32]byte {
	w := newHashWriter()
	w.tag(tagMetadata)
	w.string(m.name)
	w.string(m.version)
	w.bool(m.static)
	w.string(m.timeLevel)
	m.params.encode(w)
	w.int64(int64(len(m.predKeys)))
	for i, k := range m.predKeys {
		w.string(k)
		h := m.predVals[i].Hash()
		w.bytes(h[:])
	}
	w.string(m.engineID)
	return w.sum()
}

func (m *Metadata) Name() string      { return m.name }
func (m *Metadata) Version() string   { return m.version }
func (m *Metadata) Static() bool      { return m.static }
func (m *Metadata) TimeLevel() string { return m.timeLevel }
func (m *Metadata) Params() Params    { return m.params }
func (m *Metadata) EngineID() string  { return m.engineID }
func (m *Metadata) Hash() [32]byte    { return m.hash }

// Predecessors returns the predecessor map as a fresh copy.
func (m *Metadata) Predecessors() map[string]Ref {
	out := make(map[string]Ref, len(m.predKeys))
	for i, k := range m.predKeys {
		out[k] = m.predVals[i]
	}
	return out
}

// Predecessor returns a single predecessor by its registered name.
func (m *Metadata) Predecessor(key string) (Ref, bool) {
	i := sort.SearchStrings(m.predKeys, key)
	if i < len(m.predKeys) && m.predKeys[i] == key {
		return m.predVals[i], true
	}
	return nil, false
}

// Equal compares identities; equal hashes mean equal structure.
func (m *Metadata) Equal(other Ref) bool {
	if other == nil {
		return false
	}
	return m.hash == other.Hash()
}

// Walk visits the metadata graph depth-first post-order, each distinct
// hash once, ending with m itself. Stub predecessors are visited as
// leaves without descending.
func (m *Metadata) Walk() []Ref {
	seen := make(map[[32]byte]bool)
	var out []Ref
	var visit func(r Ref)
	visit = func(r Ref) {
		h := r.Hash()
		if seen[h] {
			return
		}
		seen[h] = true
		if full, ok := r.(*Metadata); ok {
			for _, p := range full.predVals {
				visit(p)
			}
		}
		out = append(out, r)
	}
	visit(m)
	return out
}

// ReplacePredecessor returns a new Metadata with one predecessor swapped.
// The receiver is unchanged.
func (m *Metadata) ReplacePredecessor(key string, pred Ref) (*Metadata, error) {
	if _, ok := m.Predecessor(key); !ok {
		return nil, errors.InvalidParameter(key, pred).
			WithDetail("reason", "no predecessor under this name")
	}
	preds := m.Predecessors()
	preds[key] = pred
	return New(Spec{
		Name:         m.name,
		Version:      m.version,
		Static:       m.static,
		TimeLevel:    m.timeLevel,
		Params:       m.params.ToMap(),
		Predecessors: preds,
		EngineID:     m.engineID,
	})
}

// GetParameter resolves a possibly dotted parameter path. "foo.bar"
// reads parameter bar of predecessor foo; the reserved names name,
// version, static, and time_level read identity fields.
func (m *Metadata) GetParameter(path string) (any, error) {
	parts := strings.Split(path, ".")
	var cur Ref = m
	for _, step := range parts[:len(parts)-1] {
		full, ok := cur.(*Metadata)
		if !ok {
			return nil, errors.InvalidParameter(path, nil).
				WithDetail("reason", "predecessor is a stub; resolve it first")
		}
		next, ok := full.Predecessor(step)
		if !ok {
			return nil, errors.InvalidParameter(path, nil).
				WithDetail("reason", fmt.Sprintf("dataset %s has no predecessor %q", full.Name(), step))
		}
		cur = next
	}
	return identityParameter(cur, parts[len(parts)-1])
}

func identityParameter(r Ref, name string) (any, error) {
	switch name {
	case "name":
		return r.Name(), nil
	case "version":
		return r.Version(), nil
	case "static":
		return r.Static(), nil
	case "time_level":
		return r.TimeLevel(), nil
	}
	if p, ok := r.Params().Get(name); ok {
		return p.Value(), nil
	}
	return nil, errors.InvalidParameter(name, nil).
		WithDetail("reason", fmt.Sprintf("dataset %s has no parameter %q", r.Name(), name))
}

func (m *Metadata) String() string {
	return fmt.Sprintf("Metadata(%s@%s %x)", m.name, m.version, m.hash[:6])
}
