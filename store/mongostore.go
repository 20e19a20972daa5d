package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Raezil/hsg-memory/model"
)

func parseUUID(s string) (uuid.UUID, error) { return uuid.Parse(s) }

// MongoStore is the alternate remote MetadataStore, grounded on
// core/memory/store/mongodb_store.go's mongo.Connect/bson.M document
// shape generalized from the teacher's single memory_records collection
// to this engine's memories document. It implements MetadataStore only;
// vectors and waypoints live in a VectorStore/GraphStore instead, per
// §6's "Mongo implements the metadata_backend role only" note.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

const mongoCloseTimeout = 5 * time.Second

// NewMongoStore connects, pings, and ensures indexes.
func NewMongoStore(ctx context.Context, uri, database, collection string) (*MongoStore, error) {
	if uri == "" {
		return nil, errors.New("hsg mongostore: uri is required")
	}
	if database == "" || collection == "" {
		return nil, errors.New("hsg mongostore: database and collection are required")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	ms := &MongoStore{client: client, collection: client.Database(database).Collection(collection)}
	if err := ms.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return ms, nil
}

func (ms *MongoStore) ensureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "primary_sector", Value: 1}}, Options: options.Index().SetName("sector")},
		{Keys: bson.D{{Key: "segment", Value: 1}}, Options: options.Index().SetName("segment")},
		{Keys: bson.D{{Key: "simhash", Value: 1}}, Options: options.Index().SetName("simhash")},
		{Keys: bson.D{{Key: "namespaces", Value: 1}}, Options: options.Index().SetName("namespaces")},
	}
	_, err := ms.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// Close disconnects the underlying client.
func (ms *MongoStore) Close(ctx context.Context) error {
	return ms.client.Disconnect(ctx)
}

type mongoMemoryDoc struct {
	ID             string   `bson:"_id"`
	Namespaces     []string `bson:"namespaces"`
	Segment        int64    `bson:"segment"`
	Essence        string   `bson:"essence"`
	Simhash        string   `bson:"simhash"`
	PrimarySector  string   `bson:"primary_sector"`
	Tags           []byte   `bson:"tags,omitempty"`
	Meta           []byte   `bson:"meta,omitempty"`
	CreatedAt      int64    `bson:"created_at"`
	UpdatedAt      int64    `bson:"updated_at"`
	LastSeenAt     int64    `bson:"last_seen_at"`
	Salience       float64  `bson:"salience"`
	DecayLambda    float64  `bson:"decay_lambda"`
	Version        int64    `bson:"version"`
	MeanDim        int      `bson:"mean_dim"`
	MeanVec        []byte   `bson:"mean_vec,omitempty"`
	CompressedVec  []byte   `bson:"compressed_vec,omitempty"`
	FeedbackScore  float64  `bson:"feedback_score"`
}

func toMongoDoc(m model.Memory) mongoMemoryDoc {
	return mongoMemoryDoc{
		ID: m.ID.String(), Namespaces: m.Namespaces, Segment: m.Segment, Essence: m.Content,
		Simhash: m.Simhash, PrimarySector: string(m.PrimarySector), Tags: m.Tags, Meta: m.Meta,
		CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt, LastSeenAt: m.LastSeenAt,
		Salience: m.Salience, DecayLambda: m.DecayLambda, Version: m.Version, MeanDim: m.MeanDim,
		MeanVec: model.PackVector(m.MeanVec), CompressedVec: model.PackVector(m.CompressedVec),
		FeedbackScore: m.FeedbackScore,
	}
}

func (doc mongoMemoryDoc) toMemory() model.Memory {
	id, _ := parseUUID(doc.ID)
	return model.Memory{
		ID: id, Namespaces: doc.Namespaces, Segment: doc.Segment, Content: doc.Essence,
		Simhash: doc.Simhash, PrimarySector: model.Sector(doc.PrimarySector),
		Tags: model.Tags(doc.Tags), Meta: model.Meta(doc.Meta),
		CreatedAt: doc.CreatedAt, UpdatedAt: doc.UpdatedAt, LastSeenAt: doc.LastSeenAt,
		Salience: doc.Salience, DecayLambda: doc.DecayLambda, Version: doc.Version,
		MeanDim: doc.MeanDim, MeanVec: model.UnpackVector(doc.MeanVec),
		CompressedVec: model.UnpackVector(doc.CompressedVec), FeedbackScore: doc.FeedbackScore,
	}
}

func (ms *MongoStore) GetMemory(ctx context.Context, id uuid.UUID) (model.Memory, bool, error) {
	var doc mongoMemoryDoc
	err := ms.collection.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return model.Memory{}, false, nil
	}
	if err != nil {
		return model.Memory{}, false, err
	}
	return doc.toMemory(), true, nil
}

func (ms *MongoStore) NearestBySimhash(ctx context.Context, simhash string, namespaces []string) (model.Memory, bool, error) {
	filter := bson.M{}
	if len(namespaces) > 0 {
		filter["namespaces"] = bson.M{"$in": namespaces}
	}
	cursor, err := ms.collection.Find(ctx, filter)
	if err != nil {
		return model.Memory{}, false, err
	}
	defer cursor.Close(ctx)
	best := model.Memory{}
	bestDist := 65
	found := false
	for cursor.Next(ctx) {
		var doc mongoMemoryDoc
		if err := cursor.Decode(&doc); err != nil {
			return model.Memory{}, false, err
		}
		m := doc.toMemory()
		if d := hammingHex(simhash, m.Simhash); d < bestDist {
			bestDist, best, found = d, m, true
		}
	}
	return best, found, cursor.Err()
}

func (ms *MongoStore) MaxSegment(ctx context.Context) (int64, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "segment", Value: -1}})
	var doc mongoMemoryDoc
	err := ms.collection.FindOne(ctx, bson.M{}, opts).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return 0, nil
	}
	return doc.Segment, err
}

func (ms *MongoStore) SegmentCount(ctx context.Context, segment int64) (int64, error) {
	return ms.collection.CountDocuments(ctx, bson.M{"segment": segment})
}

func (ms *MongoStore) findAll(ctx context.Context, filter bson.M) ([]model.Memory, error) {
	cursor, err := ms.collection.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	var out []model.Memory
	for cursor.Next(ctx) {
		var doc mongoMemoryDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toMemory())
	}
	return out, cursor.Err()
}

func (ms *MongoStore) MemoriesBySector(ctx context.Context, sector model.Sector, namespaces []string) ([]model.Memory, error) {
	filter := bson.M{"primary_sector": string(sector)}
	if len(namespaces) > 0 {
		filter["namespaces"] = bson.M{"$in": namespaces}
	}
	return ms.findAll(ctx, filter)
}

func (ms *MongoStore) AllMemories(ctx context.Context, namespaces []string) ([]model.Memory, error) {
	filter := bson.M{}
	if len(namespaces) > 0 {
		filter["namespaces"] = bson.M{"$in": namespaces}
	}
	return ms.findAll(ctx, filter)
}

func (ms *MongoStore) SegmentRows(ctx context.Context, segment int64) ([]model.Memory, error) {
	return ms.findAll(ctx, bson.M{"segment": segment})
}

func (ms *MongoStore) Segments(ctx context.Context) ([]int64, error) {
	raw, err := ms.collection.Distinct(ctx, "segment", bson.M{})
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(raw))
	for _, v := range raw {
		switch n := v.(type) {
		case int64:
			out = append(out, n)
		case int32:
			out = append(out, int64(n))
		}
	}
	return out, nil
}

func (ms *MongoStore) UpdateSalience(ctx context.Context, id uuid.UUID, salience float64) error {
	_, err := ms.collection.UpdateByID(ctx, id.String(), bson.M{"$set": bson.M{"salience": salience}})
	return err
}

func (ms *MongoStore) UpdateLastSeen(ctx context.Context, id uuid.UUID, lastSeen int64, salience float64) error {
	_, err := ms.collection.UpdateByID(ctx, id.String(), bson.M{"$set": bson.M{"last_seen_at": lastSeen, "salience": salience}})
	return err
}

func (ms *MongoStore) UpdateFeedback(ctx context.Context, id uuid.UUID, feedback float64) error {
	_, err := ms.collection.UpdateByID(ctx, id.String(), bson.M{"$set": bson.M{"feedback_score": feedback}})
	return err
}

func (ms *MongoStore) UpdateMemory(ctx context.Context, m model.Memory) error {
	_, err := ms.collection.ReplaceOne(ctx, bson.M{"_id": m.ID.String()}, toMongoDoc(m))
	return err
}

func (ms *MongoStore) DeleteMemory(ctx context.Context, id uuid.UUID) error {
	_, err := ms.collection.DeleteOne(ctx, bson.M{"_id": id.String()})
	return err
}

func (ms *MongoStore) InsertEmbedLog(ctx context.Context, log model.EmbedLog) error {
	_, err := ms.client.Database(ms.collection.Database().Name()).Collection("embed_logs").InsertOne(ctx, bson.M{
		"id": log.ID.String(), "model": log.Model, "status": string(log.Status),
		"ts": log.Timestamp, "err": log.Err,
	})
	return err
}

// mongoTx is a best-effort, non-transactional Tx: MongoDB sessions need a
// replica set to support multi-document transactions, which the single
// standalone instance this engine targets by default does not provide,
// so writes here apply immediately and Rollback is a no-op that returns
// nil; writes already applied stay applied. Sector-vector and waypoint
// writes are no-ops here, since those live in another store. This
// is the one store for which §5's "writes land in one transaction" is
// relaxed to "writes are applied in program order, first error wins",
// documented in the grounding ledger.
type mongoTx struct {
	ms *MongoStore
}

func (ms *MongoStore) BeginTx(_ context.Context) (Tx, error) {
	return &mongoTx{ms: ms}, nil
}

func (t *mongoTx) InsertMemory(ctx context.Context, m model.Memory) error {
	_, err := t.ms.collection.InsertOne(ctx, toMongoDoc(m))
	return err
}

func (t *mongoTx) UpsertSectorVector(context.Context, model.SectorVector) error { return nil }
func (t *mongoTx) UpdateMeanVec(ctx context.Context, id uuid.UUID, meanVec []float32, meanDim int, compressedVec []float32) error {
	_, err := t.ms.collection.UpdateByID(ctx, id.String(), bson.M{"$set": bson.M{
		"mean_vec": model.PackVector(meanVec), "mean_dim": meanDim, "compressed_vec": model.PackVector(compressedVec),
	}})
	return err
}
func (t *mongoTx) UpsertWaypoint(context.Context, model.Waypoint) error { return nil }
func (t *mongoTx) DeleteSectorVectors(context.Context, uuid.UUID) error   { return nil }
func (t *mongoTx) UpdateMemory(ctx context.Context, m model.Memory) error {
	return t.ms.UpdateMemory(ctx, m)
}
func (t *mongoTx) DeleteMemory(ctx context.Context, id uuid.UUID) error {
	return t.ms.DeleteMemory(ctx, id)
}
func (t *mongoTx) DeleteWaypointsFor(context.Context, uuid.UUID) error { return nil }
func (t *mongoTx) Commit(context.Context) error                     { return nil }
func (t *mongoTx) Rollback(context.Context) error                   { return nil }

var _ MetadataStore = (*MongoStore)(nil)
