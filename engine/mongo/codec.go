package mongo

import (
	"math"
	"time"

	"github.com/kbukum/datagraph/dataset"
	"github.com/kbukum/datagraph/errors"
	"github.com/kbukum/datagraph/timerange"
)

// metaDoc is one document in the <collection>_metadata collection.
// Range and row count live here so Range() stays O(1).
type metaDoc struct {
	Hash         string     `bson:"_id"`
	Name         string     `bson:"name"`
	Version      string     `bson:"version"`
	Static       bool       `bson:"static"`
	TimeLevel    string     `bson:"time_level,omitempty"`
	Params       bsonParams `bson:"params"`
	EngineID     string     `bson:"engine_id"`
	Predecessors []predDoc  `bson:"predecessors"`
	Generation   int64      `bson:"generation"`
	Rows         int64      `bson:"rows"`
	Range        *rangeDoc  `bson:"range,omitempty"`
	StaticValue  any        `bson:"static_value,omitempty"`
}

// predDoc is a stored predecessor stub.
type predDoc struct {
	ParamName string     `bson:"param_name"`
	Hash      string     `bson:"hash"`
	Name      string     `bson:"name"`
	Version   string     `bson:"version"`
	Static    bool       `bson:"static"`
	TimeLevel string     `bson:"time_level,omitempty"`
	Params    bsonParams `bson:"params"`
	EngineID  string     `bson:"engine_id"`
}

type bsonParams map[string]any

// rangeDoc stores a half-open extent as nanosecond instants.
type rangeDoc struct {
	StartNS int64 `bson:"start_ns"`
	EndNS   int64 `bson:"end_ns"`
}

func toRangeDoc(tr timerange.TimeRange) *rangeDoc {
	return &rangeDoc{StartNS: tr.Start.UnixNano(), EndNS: tr.End.UnixNano()}
}

// int64 nanoseconds cover roughly 1678–2262; instants outside clamp to
// the representable bounds so unbounded query windows stay valid.
var (
	minNanoTime = time.Unix(0, math.MinInt64)
	maxNanoTime = time.Unix(0, math.MaxInt64)
)

func unixNanoClamped(t time.Time) int64 {
	if t.Before(minNanoTime) {
		return math.MinInt64
	}
	if t.After(maxNanoTime) {
		return math.MaxInt64
	}
	return t.UnixNano()
}

func (rd *rangeDoc) timeRange() timerange.TimeRange {
	return timerange.TimeRange{
		Start: time.Unix(0, rd.StartNS).UTC(),
		End:   time.Unix(0, rd.EndNS).UTC(),
	}
}

// chunkDoc is one document in the <collection>_payload_chunks
// collection: the rows one write produced, tagged with the payload
// generation they belong to.
type chunkDoc struct {
	DatasetHash string   `bson:"dataset_hash"`
	Generation  int64    `bson:"generation"`
	StartNS     int64    `bson:"start_ns"`
	EndNS       int64    `bson:"end_ns"`
	Rows        []rowDoc `bson:"rows"`
}

// rowDoc preserves the timestamp's zone identity: BSON datetimes are
// UTC milliseconds, so the instant is stored as nanoseconds with the
// zone name and offset alongside.
type rowDoc struct {
	TSNS   int64  `bson:"ts_ns"`
	Zone   string `bson:"tz,omitempty"`
	Offset int    `bson:"tz_offset"`
	Value  any    `bson:"v"`
}

func toRowDoc(ts time.Time, v any) rowDoc {
	zone, offset := ts.Zone()
	name := ts.Location().String()
	if name == "Local" {
		name = zone
	}
	return rowDoc{TSNS: ts.UnixNano(), Zone: name, Offset: offset, Value: v}
}

func (rd rowDoc) timestamp() time.Time {
	ts := time.Unix(0, rd.TSNS)
	if rd.Zone != "" {
		if loc, err := time.LoadLocation(rd.Zone); err == nil {
			return ts.In(loc)
		}
	}
	return ts.In(time.FixedZone(rd.Zone, rd.Offset))
}

func toChunkDoc(ref dataset.Ref, generation int64, s *dataset.Series) chunkDoc {
	times := s.Times()
	values := s.Values()
	rows := make([]rowDoc, len(times))
	for i := range times {
		rows[i] = toRowDoc(times[i], values[i])
	}
	tr, _ := s.Range()
	return chunkDoc{
		DatasetHash: dataset.HashString(ref),
		Generation:  generation,
		StartNS:     tr.Start.UnixNano(),
		EndNS:       tr.End.UnixNano(),
		Rows:        rows,
	}
}

func seriesFromChunks(chunks []chunkDoc) (*dataset.Series, error) {
	var times []time.Time
	var values []any
	for _, c := range chunks {
		for _, r := range c.Rows {
			times = append(times, r.timestamp())
			values = append(values, r.Value)
		}
	}
	s, err := dataset.NewSeries(times, values)
	if err != nil {
		return nil, errors.Conflict("payload_chunks", "stored chunks are not strictly increasing").WithCause(err)
	}
	return s, nil
}

func toPredDoc(name string, pred dataset.Ref) predDoc {
	return predDoc{
		ParamName: name,
		Hash:      dataset.HashString(pred),
		Name:      pred.Name(),
		Version:   pred.Version(),
		Static:    pred.Static(),
		TimeLevel: pred.TimeLevel(),
		Params:    pred.Params().ToMap(),
		EngineID:  pred.EngineID(),
	}
}

func toMetaDoc(md *dataset.Metadata) metaDoc {
	preds := make([]predDoc, 0)
	for name, pred := range md.Predecessors() {
		preds = append(preds, toPredDoc(name, pred))
	}
	return metaDoc{
		Hash:         dataset.HashString(md),
		Name:         md.Name(),
		Version:      md.Version(),
		Static:       md.Static(),
		TimeLevel:    md.TimeLevel(),
		Params:       md.Params().ToMap(),
		EngineID:     md.EngineID(),
		Predecessors: preds,
		Generation:   1,
	}
}

func decodeHash(hex string) ([32]byte, error) {
	var out [32]byte
	if len(hex) != 64 {
		return out, errors.Conflict("metadata", "malformed stored hash")
	}
	for i := 0; i < 32; i++ {
		hi, ok1 := hexNibble(hex[2*i])
		lo, ok2 := hexNibble(hex[2*i+1])
		if !ok1 || !ok2 {
			return out, errors.Conflict("metadata", "malformed stored hash")
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

func (d *metaDoc) stubSpec() (dataset.StubSpec, error) {
	hash, err := decodeHash(d.Hash)
	if err != nil {
		return dataset.StubSpec{}, err
	}
	params, err := dataset.NormalizeParams(d.Params)
	if err != nil {
		return dataset.StubSpec{}, err
	}
	return dataset.StubSpec{
		Name:      d.Name,
		Version:   d.Version,
		Static:    d.Static,
		TimeLevel: d.TimeLevel,
		Params:    params,
		EngineID:  d.EngineID,
		Hash:      hash,
	}, nil
}

func (p *predDoc) stubSpec() (dataset.StubSpec, error) {
	hash, err := decodeHash(p.Hash)
	if err != nil {
		return dataset.StubSpec{}, err
	}
	params, err := dataset.NormalizeParams(p.Params)
	if err != nil {
		return dataset.StubSpec{}, err
	}
	return dataset.StubSpec{
		Name:      p.Name,
		Version:   p.Version,
		Static:    p.Static,
		TimeLevel: p.TimeLevel,
		Params:    params,
		EngineID:  p.EngineID,
		Hash:      hash,
	}, nil
}
