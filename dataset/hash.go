package dataset

import (
	"crypto/sha256"
	"encoding/binary"
	"hash"
	"math"
)

// Tag bytes for the canonical serialisation. Every field is prefixed so
// adjacent values can never collide across types or lengths.
const (
	tagNull byte = iota + 1
	tagBool
	tagInt
	tagFloat
	tagString
	tagTuple
	tagMap
	tagRef
	tagMetadata
)

type hashWriter struct {
	h hash.Hash
}

func newHashWriter() *hashWriter {
	return &hashWriter{h: sha256.New()}
}

func (w *hashWriter) sum() [32]byte {
	var out [32]byte
	copy(out[:], w.h.Sum(nil))
	return out
}

func (w *hashWriter) tag(t byte) {
	w.h.Write([]byte{t})
}

func (w *hashWriter) bool(v bool) {
	if v {
		w.h.Write([]byte{1})
	} else {
		w.h.Write([]byte{0})
	}
}

func (w *hashWriter) int64(v int64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	w.h.Write(buf[:])
}

func (w *hashWriter) float64(v float64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], math.Float64bits(v))
	w.h.Write(buf[:])
}

func (w *hashWriter) string(v string) {
	w.int64(int64(len(v)))
	w.h.Write([]byte(v))
}

func (w *hashWriter) bytes(v []byte) {
	w.int64(int64(len(v)))
	w.h.Write(v)
}

func (p Parameter) encode(w *hashWriter) {
	switch p.kind {
	case KindNull:
		w.tag(tagNull)
	case KindBool:
		w.tag(tagBool)
		w.bool(p.boolV)
	case KindInt:
		w.tag(tagInt)
		w.int64(p.intV)
	case KindFloat:
		w.tag(tagFloat)
		w.float64(p.floatV)
	case KindString:
		w.tag(tagString)
		w.string(p.strV)
	case KindTuple:
		w.tag(tagTuple)
		w.int64(int64(len(p.tuple)))
		for _, v := range p.tuple {
			v.encode(w)
		}
	case KindMap:
		w.tag(tagMap)
		w.int64(int64(len(p.keys)))
		for i, k := range p.keys {
			w.string(k)
			p.vals[i].encode(w)
		}
	case KindDatasetRef:
		w.tag(tagRef)
		w.bytes(p.ref[:])
	}
}

func (ps Params) encode(w *hashWriter) {
	w.int64(int64(len(ps.keys)))
	for i, k := range ps.keys {
		w.string(k)
		ps.vals[i].encode(w)
	}
}
