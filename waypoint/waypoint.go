// Package waypoint maintains the associative edge graph: anchor/inter-
// memory linking at ingest time, contextual and cross-sector linking,
// and periodic pruning (§4.8). Grounded on
// pkg/memory/store/postgres_store.go's UpsertGraph/Neighborhood
// transaction-wrapped upsert pattern and the Neo4j MERGE equivalent
// wired in store/neo4jstore.go for the alternate graph backend.
package waypoint

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Raezil/hsg-memory/model"
	"github.com/Raezil/hsg-memory/store"
)

// PruneThreshold is the minimum surviving edge weight (§4.8).
const PruneThreshold = 0.05

// ContextualBaseWeight is the starting weight for a fresh contextual
// link; a repeated link increments by ContextualIncrement instead.
const (
	ContextualBaseWeight = 0.3
	ContextualIncrement  = 0.1
)

// AnchorSimilarity is the cosine threshold above which a new memory
// links to its nearest existing neighbor instead of self-looping
// (ingest §4.4 step 6).
const AnchorSimilarity = 0.75

// AnchorWeight is the fixed weight of anchor and inter-memory edges
// created at ingest (§4.4 steps 6-7).
const AnchorWeight = 0.5

// SelfLoopWeight is the weight of the self-referential waypoint created
// when a new memory has no sufficiently similar neighbor.
const SelfLoopWeight = 1.0

// Link upserts a directed edge at a fixed weight, used for anchor edges
// and the symmetric inter-memory edges of ingest steps 6-7.
func Link(ctx context.Context, g store.GraphStore, src, dst uuid.UUID, namespace string, weight float64, now int64) error {
	return g.UpsertWaypoint(ctx, model.Waypoint{
		SrcID: src, DstID: dst, Namespace: namespace, Weight: weight,
		CreatedAt: now, UpdatedAt: now,
	})
}

// SelfLoop records the (id, id, 1.0) waypoint created when ingest finds
// no neighbor above AnchorSimilarity. Self-loops are stored but skipped
// during query's BFS expansion (the §9-resolved Open Question), so they
// exist purely as a durable "this memory has no anchor yet" marker.
func SelfLoop(ctx context.Context, g store.GraphStore, id uuid.UUID, namespace string, now int64) error {
	return Link(ctx, g, id, id, namespace, SelfLoopWeight, now)
}

// ContextualLink upserts (mem, rel, 0.3); a second call for the same
// pair increments the existing weight by 0.1, capped at 1, per §4.8's
// "contextual linking" operation.
func ContextualLink(ctx context.Context, g store.GraphStore, mem, rel uuid.UUID, namespace string, now int64) error {
	existing, err := g.Neighbors(ctx, mem, namespace)
	if err != nil {
		return fmt.Errorf("hsg waypoint: contextual link lookup: %w", err)
	}
	weight := ContextualBaseWeight
	for _, w := range existing {
		if w.DstID == rel {
			weight = model.Clamp01(w.Weight + ContextualIncrement)
			break
		}
	}
	return Link(ctx, g, mem, rel, namespace, weight, now)
}

// SectorNamespace derives the virtual namespace used by cross-sector
// self-edges. A cross-sector link is conceptually (id ↔ id:sector), but
// Waypoint's DstID is a real memory UUID, not a composite string, so the
// "id:sector" endpoint is encoded as a self-loop whose namespace carries
// the sector instead — it still records one bit of information
// (participation in an additional sector) without inventing a
// non-memory node type the rest of the graph would need to special-case.
func SectorNamespace(namespace string, sector model.Sector) string {
	return namespace + "::sector=" + string(sector)
}

// CrossSectorLinkWeight is the fixed weight of a cross-sector
// participation edge (§4.8).
const CrossSectorLinkWeight = 0.5

// CrossSectorLink records, at ingest, that id also has a vector in an
// additional sector, via a self-loop namespaced by that sector.
func CrossSectorLink(ctx context.Context, g store.GraphStore, id uuid.UUID, sector model.Sector, namespace string, now int64) error {
	return Link(ctx, g, id, id, SectorNamespace(namespace, sector), CrossSectorLinkWeight, now)
}

// AnchorWaypoint constructs the (new, best, AnchorWeight) edge created at
// ingest step 6 without touching a store, so callers writing within a
// Tx (which has its own UpsertWaypoint, distinct from GraphStore's) can
// build the same shape this package's live-graph helpers produce.
func AnchorWaypoint(src, dst uuid.UUID, namespace string, now int64) model.Waypoint {
	return model.Waypoint{SrcID: src, DstID: dst, Namespace: namespace, Weight: AnchorWeight, CreatedAt: now, UpdatedAt: now}
}

// SelfLoopWaypoint constructs the durable (id, id, 1.0) marker for a new
// memory with no sufficiently similar neighbor.
func SelfLoopWaypoint(id uuid.UUID, namespace string, now int64) model.Waypoint {
	return model.Waypoint{SrcID: id, DstID: id, Namespace: namespace, Weight: SelfLoopWeight, CreatedAt: now, UpdatedAt: now}
}

// CrossSectorWaypoint constructs the sector-participation self-loop
// CrossSectorLink writes, for callers that must stage it inside a Tx.
func CrossSectorWaypoint(id uuid.UUID, sector model.Sector, namespace string, now int64) model.Waypoint {
	return model.Waypoint{SrcID: id, DstID: id, Namespace: SectorNamespace(namespace, sector), Weight: CrossSectorLinkWeight, CreatedAt: now, UpdatedAt: now}
}

// Prune removes every edge whose weight has decayed below
// PruneThreshold and reports how many were removed.
func Prune(ctx context.Context, g store.GraphStore) (int, error) {
	return g.PruneBelow(ctx, PruneThreshold)
}

// Reinforce bumps an existing edge's weight by delta (clamped to 1),
// creating it at delta if absent. Used by query's reinforcement step
// (§4.5 step 9); dynamics' co-activation drain uses SetWeight instead.
func Reinforce(ctx context.Context, g store.GraphStore, src, dst uuid.UUID, namespace string, delta float64, now int64) error {
	existing, err := g.Neighbors(ctx, src, namespace)
	if err != nil {
		return fmt.Errorf("hsg waypoint: reinforce lookup: %w", err)
	}
	weight := delta
	for _, w := range existing {
		if w.DstID == dst {
			weight = model.Clamp01(w.Weight + delta)
			break
		}
	}
	return Link(ctx, g, src, dst, namespace, model.Clamp01(weight), now)
}

// SetWeight upserts an edge to an absolute weight, used by dynamics'
// Hebbian update which computes the new weight itself rather than a
// delta to add.
func SetWeight(ctx context.Context, g store.GraphStore, src, dst uuid.UUID, namespace string, weight float64, now int64) error {
	return Link(ctx, g, src, dst, namespace, model.Clamp01(weight), now)
}
