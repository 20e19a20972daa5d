// Package store defines the pluggable VectorStore, GraphStore and
// MetadataStore contracts (§6) plus concrete implementations: an in-memory
// store for tests, a pgx/pgvector store and a modernc.org/sqlite store for
// the two metadata_backend options, a Mongo document store as an alternate
// remote backend, and a Neo4j graph store as an alternate waypoint
// backend. Grounded on pkg/memory/store/postgres_store.go,
// pkg/memory/store/in_memory_store.go and pkg/memory/qdrant_store.go.
package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/Raezil/hsg-memory/model"
)

// Candidate is one result from a vector search: an identity plus the
// similarity the caller computed (or, when WithVectors is set, the raw
// vector for the caller to score itself).
type Candidate struct {
	ID         uuid.UUID
	Sector     model.Sector
	Namespaces []string
	Vector     []float32
	Similarity float64
}

// VectorStore upserts, searches and deletes per-(id,sector) embeddings,
// namespace-isolated on every operation per §6.
type VectorStore interface {
	Upsert(ctx context.Context, id uuid.UUID, sector model.Sector, namespaces []string, vector []float32) error
	// Search returns up to limit candidates for sector, filtered to
	// namespaces when non-empty. withVectors requests the raw vector back
	// in each Candidate so the caller can score locally.
	Search(ctx context.Context, vector []float32, sector model.Sector, namespaces []string, limit int, withVectors bool) ([]Candidate, error)
	Fetch(ctx context.Context, id uuid.UUID, sector model.Sector) ([]float32, bool, error)
	Delete(ctx context.Context, id uuid.UUID, sector model.Sector, namespace string) error
	// DeleteAll removes every sector vector owned by id, the cascade
	// triggered by memory deletion.
	DeleteAll(ctx context.Context, id uuid.UUID) error
}

// GraphStore is the associative waypoint graph: insert/upsert, pruning,
// and BFS-style neighborhood expansion.
type GraphStore interface {
	UpsertWaypoint(ctx context.Context, w model.Waypoint) error
	// Neighbors returns the outbound edges of id within namespace (or all
	// namespaces when namespace is "").
	Neighbors(ctx context.Context, id uuid.UUID, namespace string) ([]model.Waypoint, error)
	DeleteWaypointsFor(ctx context.Context, id uuid.UUID) error
	// PruneBelow removes every edge with weight < minWeight and reports
	// how many were removed.
	PruneBelow(ctx context.Context, minWeight float64) (int, error)
	AllWaypoints(ctx context.Context) ([]model.Waypoint, error)
}

// MetadataStore is the relational/document metadata adapter: schema,
// lookups, and transactional writes over memories/vectors/waypoints/logs.
type MetadataStore interface {
	BeginTx(ctx context.Context) (Tx, error)

	GetMemory(ctx context.Context, id uuid.UUID) (model.Memory, bool, error)
	// NearestBySimhash returns the single nearest memory by Hamming
	// distance, used by ingest's dedup check (§4.4 step 1).
	NearestBySimhash(ctx context.Context, simhash string, namespaces []string) (model.Memory, bool, error)
	MaxSegment(ctx context.Context) (int64, error)
	SegmentCount(ctx context.Context, segment int64) (int64, error)
	MemoriesBySector(ctx context.Context, sector model.Sector, namespaces []string) ([]model.Memory, error)
	AllMemories(ctx context.Context, namespaces []string) ([]model.Memory, error)
	SegmentRows(ctx context.Context, segment int64) ([]model.Memory, error)
	Segments(ctx context.Context) ([]int64, error)

	UpdateSalience(ctx context.Context, id uuid.UUID, salience float64) error
	UpdateLastSeen(ctx context.Context, id uuid.UUID, lastSeen int64, salience float64) error
	UpdateFeedback(ctx context.Context, id uuid.UUID, feedback float64) error
	UpdateMemory(ctx context.Context, m model.Memory) error
	DeleteMemory(ctx context.Context, id uuid.UUID) error

	InsertEmbedLog(ctx context.Context, log model.EmbedLog) error
}

// Tx brackets the multi-statement writes that §5 requires to land in one
// transaction at ingest ("mean_vec, sector vectors, and memory rows MUST
// be written within the same transaction").
type Tx interface {
	InsertMemory(ctx context.Context, m model.Memory) error
	UpsertSectorVector(ctx context.Context, sv model.SectorVector) error
	UpdateMeanVec(ctx context.Context, id uuid.UUID, meanVec []float32, meanDim int, compressedVec []float32) error
	UpsertWaypoint(ctx context.Context, w model.Waypoint) error
	DeleteSectorVectors(ctx context.Context, id uuid.UUID) error
	UpdateMemory(ctx context.Context, m model.Memory) error
	DeleteMemory(ctx context.Context, id uuid.UUID) error
	DeleteWaypointsFor(ctx context.Context, id uuid.UUID) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Backend is the union of the three contracts a single concrete store
// typically implements together (the embedded and in-memory backends do;
// Postgres/SQLite implement all three, Mongo implements MetadataStore
// only, Neo4j implements GraphStore only).
type Backend interface {
	MetadataStore
	VectorStore
	GraphStore
}
