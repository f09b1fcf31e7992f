// Package mongo provides the document-store persistence engine.
//
// Each dataset is keyed by its metadata hash. Identity, predecessor
// stubs, and the index extent live in a metadata collection; rows live
// in a payload-chunks collection tagged with a payload generation.
// Replace writes the next generation before swapping the metadata
// document, so a reader sees the old payload or the new one, never a
// splice.
package mongo

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/kbukum/datagraph/component"
	"github.com/kbukum/datagraph/dataset"
	"github.com/kbukum/datagraph/engine"
	"github.com/kbukum/datagraph/errors"
	"github.com/kbukum/datagraph/logger"
	"github.com/kbukum/datagraph/timerange"
)

// Engine is the MongoDB implementation of engine.Engine. Connect before
// use; the zero value is not usable.
type Engine struct {
	cfg    Config
	id     string
	log    *logger.Logger
	client *mongo.Client
	meta   *mongo.Collection
	chunks *mongo.Collection
}

// New builds an engine from configuration without touching the network.
// Call Start to connect.
func New(cfg Config, log *logger.Logger) *Engine {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{
		cfg: cfg,
		id:  fmt.Sprintf("mongo:db=%s,coll=%s", cfg.Database, cfg.Collection),
		log: log.WithComponent("engine.mongo"),
	}
}

// ID identifies the engine by its database and collection, not by the
// client connection, so it survives serialisation across processes.
func (e *Engine) ID() string { return e.id }

// Name implements component.Component.
func (e *Engine) Name() string { return "mongo-engine" }

// Start connects, pings, and ensures indexes.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.cfg.Validate(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(e.cfg.URI))
	if err != nil {
		return errors.Transient("connect", 0).WithCause(err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return errors.Transient("ping", 0).WithCause(err)
	}

	db := client.Database(e.cfg.Database)
	e.client = client
	e.meta = db.Collection(e.cfg.Collection + "_metadata")
	e.chunks = db.Collection(e.cfg.Collection + "_payload_chunks")

	if err := e.ensureIndexes(ctx); err != nil {
		return err
	}
	e.log.Info("connected", logger.Fields(
		logger.FieldEngine, e.id,
		"database", e.cfg.Database,
	))
	return nil
}

// Stop disconnects the client.
func (e *Engine) Stop(ctx context.Context) error {
	if e.client == nil {
		return nil
	}
	err := e.client.Disconnect(ctx)
	e.client = nil
	return err
}

// Health implements component.Component.
func (e *Engine) Health(ctx context.Context) component.Health {
	if err := e.Ping(ctx); err != nil {
		return component.Health{
			Name:    e.Name(),
			Status:  component.StatusUnhealthy,
			Message: err.Error(),
		}
	}
	return component.Health{Name: e.Name(), Status: component.StatusHealthy}
}

// Ping reports reachability; used for component health checks.
func (e *Engine) Ping(ctx context.Context) error {
	if e.client == nil {
		return errors.Transient("ping", 0).WithDetail("reason", "not connected")
	}
	if err := e.client.Ping(ctx, nil); err != nil {
		return errors.Transient("ping", 0).WithCause(err)
	}
	return nil
}

func (e *Engine) ensureIndexes(ctx context.Context) error {
	_, err := e.meta.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "name", Value: 1}}},
		{Keys: bson.D{{Key: "name", Value: 1}, {Key: "version", Value: 1}}},
		{Keys: bson.D{{Key: "name", Value: 1}, {Key: "params", Value: 1}}},
		{Keys: bson.D{{Key: "predecessors.hash", Value: 1}}},
	})
	if err != nil {
		return errors.Transient("create-indexes", 0).WithCause(err)
	}
	_, err = e.chunks.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{
			{Key: "dataset_hash", Value: 1},
			{Key: "generation", Value: 1},
			{Key: "start_ns", Value: 1},
		}},
	})
	if err != nil {
		return errors.Transient("create-indexes", 0).WithCause(err)
	}
	return nil
}

func (e *Engine) ready() error {
	if e.client == nil {
		return errors.Transient("engine", 0).WithDetail("reason", "not connected")
	}
	return nil
}

func (e *Engine) findMeta(ctx context.Context, ref dataset.Ref) (*metaDoc, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	var doc metaDoc
	err := e.meta.FindOne(ctx, bson.M{"_id": dataset.HashString(ref)}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, errors.NotFound(ref.Name(), dataset.HashString(ref))
	}
	if err != nil {
		return nil, errors.Transient("find-metadata", 0).WithCause(err)
	}
	return &doc, nil
}

// Exists reports whether the dataset is persisted.
func (e *Engine) Exists(ctx context.Context, ref dataset.Ref) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	n, err := e.meta.CountDocuments(ctx, bson.M{"_id": dataset.HashString(ref)})
	if err != nil {
		return false, errors.Transient("exists", 0).WithCause(err)
	}
	return n > 0, nil
}

// GetStub returns a stub bound to this engine.
func (e *Engine) GetStub(ctx context.Context, ref dataset.Ref) (*dataset.Stub, error) {
	doc, err := e.findMeta(ctx, ref)
	if err != nil {
		return nil, err
	}
	spec, err := doc.stubSpec()
	if err != nil {
		return nil, err
	}
	return dataset.NewStub(spec, e), nil
}

// PredecessorStubs resolves the immediate predecessors of a stored
// dataset from its metadata document. Predecessors owned by another
// engine come back unresolved.
func (e *Engine) PredecessorStubs(ctx context.Context, ref dataset.Ref) (map[string]*dataset.Stub, error) {
	doc, err := e.findMeta(ctx, ref)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*dataset.Stub, len(doc.Predecessors))
	for i := range doc.Predecessors {
		pd := &doc.Predecessors[i]
		spec, err := pd.stubSpec()
		if err != nil {
			return nil, err
		}
		var resolver dataset.StubResolver
		if pd.EngineID == e.id {
			resolver = e
		}
		out[pd.ParamName] = dataset.NewStub(spec, resolver)
	}
	return out, nil
}

func (e *Engine) readSeries(ctx context.Context, hash string, generation int64) (*dataset.Series, error) {
	cursor, err := e.chunks.Find(ctx,
		bson.M{"dataset_hash": hash, "generation": generation},
		options.Find().SetSort(bson.D{{Key: "start_ns", Value: 1}}),
	)
	if err != nil {
		return nil, errors.Transient("find-chunks", 0).WithCause(err)
	}
	var chunks []chunkDoc
	if err := cursor.All(ctx, &chunks); err != nil {
		return nil, errors.Transient("decode-chunks", 0).WithCause(err)
	}
	return seriesFromChunks(chunks)
}

// Read returns the payload, restricted to tr when non-nil. Only the
// chunks intersecting the window are fetched.
func (e *Engine) Read(ctx context.Context, ref dataset.Ref, tr *timerange.TimeRange) (dataset.Payload, error) {
	doc, err := e.findMeta(ctx, ref)
	if err != nil {
		return nil, err
	}
	if doc.Static {
		if tr != nil {
			return nil, errors.InvalidRange("time range must be nil for static datasets")
		}
		return dataset.NewBlob(doc.StaticValue), nil
	}
	if tr == nil {
		return e.readSeries(ctx, doc.Hash, doc.Generation)
	}

	cursor, err := e.chunks.Find(ctx,
		bson.M{
			"dataset_hash": doc.Hash,
			"generation":   doc.Generation,
			"start_ns":     bson.M{"$lt": unixNanoClamped(tr.End)},
			"end_ns":       bson.M{"$gt": unixNanoClamped(tr.Start)},
		},
		options.Find().SetSort(bson.D{{Key: "start_ns", Value: 1}}),
	)
	if err != nil {
		return nil, errors.Transient("find-chunks", 0).WithCause(err)
	}
	var chunks []chunkDoc
	if err := cursor.All(ctx, &chunks); err != nil {
		return nil, errors.Transient("decode-chunks", 0).WithCause(err)
	}
	series, err := seriesFromChunks(chunks)
	if err != nil {
		return nil, err
	}
	return series.Slice(*tr), nil
}

// Range returns the stored index extent from the metadata document.
func (e *Engine) Range(ctx context.Context, ref dataset.Ref) (*timerange.TimeRange, error) {
	doc, err := e.findMeta(ctx, ref)
	if errors.Is(err, errors.ErrCodeNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if doc.Static {
		return nil, errors.InvalidRange("static datasets have no index extent")
	}
	if doc.Range == nil {
		return nil, nil
	}
	tr := doc.Range.timeRange()
	return &tr, nil
}

// fullMetadata is needed on first write; later writes may address the
// dataset with a stub.
func (e *Engine) fullMetadata(ctx context.Context, ref dataset.Ref) (*metaDoc, bool, error) {
	doc, err := e.findMeta(ctx, ref)
	if err == nil {
		return doc, true, nil
	}
	if !errors.Is(err, errors.ErrCodeNotFound) {
		return nil, false, err
	}
	md, ok := ref.(*dataset.Metadata)
	if !ok {
		return nil, false, errors.InvalidParameter(ref.Name(), ref).
			WithDetail("reason", "first write needs full metadata, not a stub")
	}
	fresh := toMetaDoc(md)
	return &fresh, false, nil
}

// Append persists rows strictly after the existing data. The chunk is
// inserted under the current generation; the metadata swap is
// conditional on that generation, so a racing writer surfaces as
// CONFLICT instead of silently interleaving.
func (e *Engine) Append(ctx context.Context, ref dataset.Ref, payload dataset.Payload) error {
	series, ok := payload.(*dataset.Series)
	if !ok {
		return errors.InvalidRange("append is only supported for time-series payloads")
	}
	doc, exists, err := e.fullMetadata(ctx, ref)
	if err != nil {
		return err
	}
	if doc.Static {
		return errors.InvalidRange("append is only supported for time-series datasets")
	}

	newRange, hasRows := series.Range()
	if !hasRows && exists {
		return nil
	}

	if exists && doc.Range != nil {
		existing := doc.Range.timeRange()
		if newRange.Start.Before(existing.End) {
			return errors.AppendOverlap(ref.Name(),
				existing.End.Add(-timerange.Resolution), newRange.Start)
		}
	}

	if !exists {
		if _, err := e.meta.InsertOne(ctx, doc); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return errors.Conflict(ref.Name(), "concurrent first write")
			}
			return errors.Transient("insert-metadata", 0).WithCause(err)
		}
		if !hasRows {
			return nil
		}
	}

	if hasRows {
		if _, err := e.chunks.InsertOne(ctx, toChunkDoc(ref, doc.Generation, series)); err != nil {
			return errors.Transient("insert-chunk", 0).WithCause(err)
		}
	}

	combined := newRange
	if doc.Range != nil {
		combined.Start = doc.Range.timeRange().Start
	}
	res, err := e.meta.UpdateOne(ctx,
		bson.M{"_id": doc.Hash, "generation": doc.Generation},
		bson.M{
			"$set": bson.M{"range": toRangeDoc(combined)},
			"$inc": bson.M{"rows": int64(series.Len())},
		},
	)
	if err != nil {
		return errors.Transient("update-metadata", 0).WithCause(err)
	}
	if res.MatchedCount == 0 {
		return errors.Conflict(ref.Name(), "generation changed during append")
	}
	e.log.Debug("append", logger.Fields(
		logger.FieldDataset, ref.Name(),
		logger.FieldHash, doc.Hash,
		"rows", series.Len(),
	))
	return nil
}

// Merge reads the current payload, combines with existing-wins
// semantics, and swaps in the result as a new generation.
func (e *Engine) Merge(ctx context.Context, ref dataset.Ref, payload dataset.Payload) error {
	series, ok := payload.(*dataset.Series)
	if !ok {
		return errors.InvalidRange("merge is only supported for time-series payloads")
	}
	doc, exists, err := e.fullMetadata(ctx, ref)
	if err != nil {
		return err
	}
	if doc.Static {
		return errors.InvalidRange("merge is only supported for time-series datasets")
	}
	if !exists {
		return e.Append(ctx, ref, series)
	}
	existing, err := e.readSeries(ctx, doc.Hash, doc.Generation)
	if err != nil {
		return err
	}
	return e.swapPayload(ctx, ref, doc, existing.CombineFirst(series))
}

// Replace swaps the payload atomically via a generation bump.
func (e *Engine) Replace(ctx context.Context, ref dataset.Ref, payload dataset.Payload) error {
	doc, exists, err := e.fullMetadata(ctx, ref)
	if err != nil {
		return err
	}

	if blob, ok := payload.(*dataset.Blob); ok {
		if !doc.Static {
			return errors.InvalidRange("blob payload on a time-series dataset")
		}
		if !exists {
			doc.StaticValue = blob.Value()
			if _, err := e.meta.InsertOne(ctx, doc); err != nil {
				if mongo.IsDuplicateKeyError(err) {
					return errors.Conflict(ref.Name(), "concurrent first write")
				}
				return errors.Transient("insert-metadata", 0).WithCause(err)
			}
			return nil
		}
		res, err := e.meta.UpdateOne(ctx,
			bson.M{"_id": doc.Hash, "generation": doc.Generation},
			bson.M{"$set": bson.M{"static_value": blob.Value()}, "$inc": bson.M{"generation": int64(1)}},
		)
		if err != nil {
			return errors.Transient("update-metadata", 0).WithCause(err)
		}
		if res.MatchedCount == 0 {
			return errors.Conflict(ref.Name(), "generation changed during replace")
		}
		return nil
	}

	series, ok := payload.(*dataset.Series)
	if !ok {
		return errors.InvalidRange("unsupported payload type")
	}
	if !exists {
		return e.Append(ctx, ref, series)
	}
	return e.swapPayload(ctx, ref, doc, series)
}

// swapPayload writes the next generation's chunks, then swaps the
// metadata document conditionally on the observed generation. Old-
// generation chunks are removed only after the swap commits.
func (e *Engine) swapPayload(ctx context.Context, ref dataset.Ref, doc *metaDoc, series *dataset.Series) error {
	next := doc.Generation + 1
	if series.Len() > 0 {
		if _, err := e.chunks.InsertOne(ctx, toChunkDoc(ref, next, series)); err != nil {
			return errors.Transient("insert-chunk", 0).WithCause(err)
		}
	}

	update := bson.M{
		"generation": next,
		"rows":       int64(series.Len()),
	}
	if tr, ok := series.Range(); ok {
		update["range"] = toRangeDoc(tr)
	} else {
		update["range"] = nil
	}
	res, err := e.meta.UpdateOne(ctx,
		bson.M{"_id": doc.Hash, "generation": doc.Generation},
		bson.M{"$set": update},
	)
	if err != nil {
		return errors.Transient("update-metadata", 0).WithCause(err)
	}
	if res.MatchedCount == 0 {
		// lost the race; drop the staged generation
		_, _ = e.chunks.DeleteMany(ctx, bson.M{"dataset_hash": doc.Hash, "generation": next})
		return errors.Conflict(ref.Name(), "generation changed during replace")
	}
	_, _ = e.chunks.DeleteMany(ctx, bson.M{"dataset_hash": doc.Hash, "generation": doc.Generation})
	return nil
}

// Delete drops rows in tr, or the whole node when tr is nil.
func (e *Engine) Delete(ctx context.Context, ref dataset.Ref, tr *timerange.TimeRange) error {
	doc, err := e.findMeta(ctx, ref)
	if err != nil {
		return err
	}

	if tr == nil {
		h := ref.Hash()
		successors, err := e.Query(ctx, engine.Filter{PredecessorHash: &h})
		if err != nil {
			return err
		}
		if len(successors) > 0 {
			return errors.Conflict(ref.Name(), "dataset has persisted successors")
		}
		if _, err := e.meta.DeleteOne(ctx, bson.M{"_id": doc.Hash}); err != nil {
			return errors.Transient("delete-metadata", 0).WithCause(err)
		}
		if _, err := e.chunks.DeleteMany(ctx, bson.M{"dataset_hash": doc.Hash}); err != nil {
			return errors.Transient("delete-chunks", 0).WithCause(err)
		}
		return nil
	}

	if doc.Static {
		return errors.InvalidRange("row deletion is only supported for time-series payloads")
	}
	existing, err := e.readSeries(ctx, doc.Hash, doc.Generation)
	if err != nil {
		return err
	}
	kept := existing.Slice(timerange.Until(tr.Start)).
		CombineFirst(existing.Slice(timerange.Since(tr.End)))
	return e.swapPayload(ctx, ref, doc, kept)
}

// Query returns stubs matching the filter. Plain parameter keys are
// pushed down to the server; dotted upstream keys are evaluated against
// the stored predecessor records.
func (e *Engine) Query(ctx context.Context, filter engine.Filter) ([]*dataset.Stub, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	q := bson.M{}
	if filter.Name != "" {
		q["name"] = filter.Name
	}
	if filter.Version != "" {
		q["version"] = filter.Version
	}
	if filter.PredecessorHash != nil {
		q["predecessors.hash"] = fmt.Sprintf("%x", *filter.PredecessorHash)
	}
	var dotted map[string]any
	for key, want := range filter.Params {
		if strings.Contains(key, ".") {
			if dotted == nil {
				dotted = make(map[string]any)
			}
			dotted[key] = want
			continue
		}
		q["params."+key] = want
	}

	cursor, err := e.meta.Find(ctx, q)
	if err != nil {
		return nil, errors.Transient("query", 0).WithCause(err)
	}
	var docs []metaDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errors.Transient("decode-query", 0).WithCause(err)
	}

	var out []*dataset.Stub
	for i := range docs {
		doc := &docs[i]
		ok, err := e.matchesDotted(ctx, doc, dotted)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		spec, err := doc.stubSpec()
		if err != nil {
			return nil, err
		}
		out = append(out, dataset.NewStub(spec, e))
	}
	return out, nil
}

// matchesDotted resolves "foo.baz"-style keys through the stored
// predecessor records, following hashes for deeper paths.
func (e *Engine) matchesDotted(ctx context.Context, doc *metaDoc, dotted map[string]any) (bool, error) {
	for key, want := range dotted {
		got, err := e.resolveParam(ctx, doc, strings.Split(key, "."))
		if err != nil {
			if errors.Is(err, errors.ErrCodeNotFound) || errors.Is(err, errors.ErrCodeInvalidParameter) {
				return false, nil
			}
			return false, err
		}
		wantParam, err := dataset.FromValue(key, want)
		if err != nil {
			return false, nil
		}
		gotParam, err := dataset.FromValue(key, got)
		if err != nil {
			return false, nil
		}
		if !wantParam.Equal(gotParam) {
			return false, nil
		}
	}
	return true, nil
}

func (e *Engine) resolveParam(ctx context.Context, doc *metaDoc, path []string) (any, error) {
	if len(path) == 1 {
		switch path[0] {
		case "name":
			return doc.Name, nil
		case "version":
			return doc.Version, nil
		case "static":
			return doc.Static, nil
		case "time_level":
			return doc.TimeLevel, nil
		}
		v, ok := doc.Params[path[0]]
		if !ok {
			return nil, errors.InvalidParameter(path[0], nil)
		}
		return v, nil
	}

	for i := range doc.Predecessors {
		pd := &doc.Predecessors[i]
		if pd.ParamName != path[0] {
			continue
		}
		if len(path) == 2 {
			switch path[1] {
			case "name":
				return pd.Name, nil
			case "version":
				return pd.Version, nil
			case "static":
				return pd.Static, nil
			case "time_level":
				return pd.TimeLevel, nil
			}
			v, ok := pd.Params[path[1]]
			if !ok {
				return nil, errors.InvalidParameter(path[1], nil)
			}
			return v, nil
		}
		// deeper paths need the predecessor's own document
		var predMeta metaDoc
		err := e.meta.FindOne(ctx, bson.M{"_id": pd.Hash}).Decode(&predMeta)
		if err == mongo.ErrNoDocuments {
			return nil, errors.NotFound(pd.Name, pd.Hash)
		}
		if err != nil {
			return nil, errors.Transient("find-metadata", 0).WithCause(err)
		}
		return e.resolveParam(ctx, &predMeta, path[1:])
	}
	return nil, errors.InvalidParameter(path[0], nil)
}
