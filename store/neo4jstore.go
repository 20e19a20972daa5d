package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Raezil/hsg-memory/model"
)

// Neo4jStore is the alternate GraphStore, grounded on
// src/memory/store/neo4j_store.go's MERGE-based node/edge upsert and
// variable-length Cypher neighborhood query, generalized from the
// teacher's (Memory)-[:RELATED_TO]->(Memory) shape to this engine's
// namespaced, weighted Waypoint edge. It implements GraphStore only; a
// VectorStore/MetadataStore pairing handles memory and vector persistence.
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewNeo4jStore wraps an already-constructed driver (typically built via
// neo4j.NewDriverWithContext with bolt+s://... and basic auth).
func NewNeo4jStore(driver neo4j.DriverWithContext, database string) *Neo4jStore {
	return &Neo4jStore{driver: driver, database: database}
}

func (s *Neo4jStore) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database, AccessMode: mode})
}

// Close releases the underlying driver.
func (s *Neo4jStore) Close(ctx context.Context) error { return s.driver.Close(ctx) }

// EnsureSchema creates the uniqueness constraint and edge index the store
// relies on, idempotently.
func (s *Neo4jStore) EnsureSchema(ctx context.Context) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)
	queries := []string{
		"CREATE CONSTRAINT IF NOT EXISTS FOR (m:Memory) REQUIRE m.id IS UNIQUE",
		"CREATE INDEX IF NOT EXISTS FOR ()-[r:WAYPOINT]-() ON (r.namespace)",
	}
	for _, q := range queries {
		if _, err := session.Run(ctx, q, nil); err != nil {
			return fmt.Errorf("hsg neo4jstore: schema: %w", err)
		}
	}
	return nil
}

const upsertWaypointCypher = `
MERGE (src:Memory {id: $src})
MERGE (dst:Memory {id: $dst})
MERGE (src)-[w:WAYPOINT {namespace: $namespace}]->(dst)
ON CREATE SET w.created_at = $created_at
SET w.weight = $weight, w.updated_at = $updated_at
`

// UpsertWaypoint merges both endpoint nodes and the namespaced edge
// between them, matching the composite (src_id, dst_id, namespace) key.
func (s *Neo4jStore) UpsertWaypoint(ctx context.Context, w model.Waypoint) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)
	_, err := session.Run(ctx, upsertWaypointCypher, map[string]any{
		"src": w.SrcID.String(), "dst": w.DstID.String(), "namespace": w.Namespace,
		"weight": w.Weight, "created_at": w.CreatedAt, "updated_at": w.UpdatedAt,
	})
	return err
}

const neighborsCypher = `
MATCH (src:Memory {id: $src})-[w:WAYPOINT]->(dst:Memory)
WHERE $namespace = '' OR w.namespace = $namespace
RETURN dst.id AS dst, w.namespace AS namespace, w.weight AS weight, w.created_at AS created_at, w.updated_at AS updated_at
`

// Neighbors returns id's outbound edges, optionally filtered to namespace.
func (s *Neo4jStore) Neighbors(ctx context.Context, id uuid.UUID, namespace string) ([]model.Waypoint, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)
	result, err := session.Run(ctx, neighborsCypher, map[string]any{"src": id.String(), "namespace": namespace})
	if err != nil {
		return nil, err
	}
	var out []model.Waypoint
	for result.Next(ctx) {
		rec := result.Record()
		w, err := recordToWaypoint(rec, id)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, result.Err()
}

func recordToWaypoint(rec *neo4j.Record, src uuid.UUID) (model.Waypoint, error) {
	dstRaw, _ := rec.Get("dst")
	dst, err := uuid.Parse(fmt.Sprint(dstRaw))
	if err != nil {
		return model.Waypoint{}, fmt.Errorf("hsg neo4jstore: parse dst id: %w", err)
	}
	ns, _ := rec.Get("namespace")
	weight, _ := rec.Get("weight")
	created, _ := rec.Get("created_at")
	updated, _ := rec.Get("updated_at")
	return model.Waypoint{
		SrcID: src, DstID: dst,
		Namespace: fmt.Sprint(ns),
		Weight:    toFloat64(weight),
		CreatedAt: toInt64(created),
		UpdatedAt: toInt64(updated),
	}, nil
}

func toFloat64(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int64:
		return float64(t)
	case int:
		return float64(t)
	default:
		return 0
	}
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return 0
	}
}

// DeleteWaypointsFor removes every edge touching id.
func (s *Neo4jStore) DeleteWaypointsFor(ctx context.Context, id uuid.UUID) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)
	_, err := session.Run(ctx, `
MATCH (m:Memory {id: $id})-[w:WAYPOINT]-()
DELETE w`, map[string]any{"id": id.String()})
	return err
}

// PruneBelow deletes every edge whose weight has decayed under minWeight.
func (s *Neo4jStore) PruneBelow(ctx context.Context, minWeight float64) (int, error) {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)
	result, err := session.Run(ctx, `
MATCH ()-[w:WAYPOINT]->()
WHERE w.weight < $min
WITH w, count(w) AS n
DELETE w
RETURN n`, map[string]any{"min": minWeight})
	if err != nil {
		return 0, err
	}
	n := 0
	for result.Next(ctx) {
		if v, ok := result.Record().Get("n"); ok {
			n += int(toInt64(v))
		}
	}
	return n, result.Err()
}

// AllWaypoints dumps every edge in the graph, used by decay sweeps that
// need the full weight distribution.
func (s *Neo4jStore) AllWaypoints(ctx context.Context) ([]model.Waypoint, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)
	result, err := session.Run(ctx, `
MATCH (src:Memory)-[w:WAYPOINT]->(dst:Memory)
RETURN src.id AS src, dst.id AS dst, w.namespace AS namespace, w.weight AS weight, w.created_at AS created_at, w.updated_at AS updated_at`, nil)
	if err != nil {
		return nil, err
	}
	var out []model.Waypoint
	for result.Next(ctx) {
		rec := result.Record()
		srcRaw, _ := rec.Get("src")
		src, err := uuid.Parse(fmt.Sprint(srcRaw))
		if err != nil {
			continue
		}
		w, err := recordToWaypoint(rec, src)
		if err != nil {
			continue
		}
		out = append(out, w)
	}
	return out, result.Err()
}

var _ GraphStore = (*Neo4jStore)(nil)
