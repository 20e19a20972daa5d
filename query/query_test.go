package query

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Raezil/hsg-memory/embed"
	"github.com/Raezil/hsg-memory/ingest"
	"github.com/Raezil/hsg-memory/model"
	"github.com/Raezil/hsg-memory/store"
)

func newTestEngine(t *testing.T) (*Engine, *ingest.Pipeline, *store.MemStore) {
	t.Helper()
	st := store.NewMemStore()
	emb := embed.NewSynthetic(32)

	ing := ingest.New(st, st, st, emb)
	ing.Config.VecDim = 32

	q := New(st, st, st, emb)
	q.Config.VecDim = 32
	return q, ing, st
}

func TestQueryFindsIngestedMemoryByContent(t *testing.T) {
	ctx := context.Background()
	q, ing, _ := newTestEngine(t)

	if _, err := ing.AddMemory(ctx, ingest.AddMemoryInput{Content: "Alice Carter enjoys hiking in the Scottish Highlands every autumn."}); err != nil {
		t.Fatalf("add memory: %v", err)
	}
	if _, err := ing.AddMemory(ctx, ingest.AddMemoryInput{Content: "The recipe calls for two cups of flour and a pinch of salt."}); err != nil {
		t.Fatalf("add memory: %v", err)
	}

	results, err := q.Query(ctx, Input{Query: "Alice Carter hiking Highlands", K: 1})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Content == "" {
		t.Fatalf("expected non-empty content")
	}
}

func TestQueryRejectsInvalidK(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestEngine(t)

	if _, err := q.Query(ctx, Input{Query: "anything", K: 0}); err == nil {
		t.Fatalf("expected an error for k=0")
	}
}

func TestQueryFiltersByMinSalience(t *testing.T) {
	ctx := context.Background()
	q, ing, st := newTestEngine(t)

	res, err := ing.AddMemory(ctx, ingest.AddMemoryInput{Content: "A note about quarterly budget planning for the engineering team."})
	if err != nil {
		t.Fatalf("add memory: %v", err)
	}
	if err := st.UpdateSalience(ctx, res.ID, 0.01); err != nil {
		t.Fatalf("lower salience: %v", err)
	}

	results, err := q.Query(ctx, Input{Query: "quarterly budget planning", K: 5, Filters: Filters{MinSalience: 0.9}})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	for _, r := range results {
		if r.ID == res.ID {
			t.Fatalf("expected low-salience memory to be filtered out")
		}
	}
}

func TestMeanOfTopHandlesShortSlices(t *testing.T) {
	if got := meanOfTop(nil, 8); got != 0 {
		t.Fatalf("expected 0 for empty slice, got %v", got)
	}
	got := meanOfTop([]float64{0.9, 0.8, 0.7}, 8)
	want := (0.9 + 0.8 + 0.7) / 3
	if got != want {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestZScoreNormalizeCentersScores(t *testing.T) {
	scored := []scoredCandidate{{score: 1}, {score: 2}, {score: 3}}
	zScoreNormalize(scored)
	var sum float64
	for _, s := range scored {
		sum += s.score
	}
	if sum > 1e-6 || sum < -1e-6 {
		t.Fatalf("expected z-scored scores to sum near 0, got %v", sum)
	}
}

func TestIntersectSectorsEmptyFilterReturnsAll(t *testing.T) {
	cands := []model.Sector{model.Semantic, model.Episodic}
	got := intersectSectors(cands, nil)
	if len(got) != len(cands) {
		t.Fatalf("expected empty filter to pass candidates through unchanged, got %v", got)
	}
}

func TestIntersectSectorsNarrowsToFilter(t *testing.T) {
	cands := []model.Sector{model.Semantic, model.Episodic, model.Emotional}
	got := intersectSectors(cands, []model.Sector{model.Episodic})
	if len(got) != 1 || got[0] != model.Episodic {
		t.Fatalf("expected only Episodic, got %v", got)
	}
}

func TestQueryReinforcesEveryEdgeOnExpansionPath(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	emb := embed.NewSynthetic(32)
	q := New(st, st, st, emb)
	q.Config.VecDim = 32
	q.Config.HighConfThreshold = 2 // unreachable, so BFS expansion always runs

	now := model.NowMS(time.Now())
	a, b, c := model.NewID(), model.NewID(), model.NewID()
	for _, id := range []uuid.UUID{a, b, c} {
		tx, err := st.BeginTx(ctx)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		m := model.Memory{
			ID: id, Namespaces: []string{"global"}, Content: "chain node",
			Simhash: "0123456789abcdef", PrimarySector: model.Semantic,
			CreatedAt: now, UpdatedAt: now, LastSeenAt: now,
			Salience: 0.2, DecayLambda: 0.01, Version: 1,
		}
		if err := tx.InsertMemory(ctx, m); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if err := tx.Commit(ctx); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}

	// Only the seed has a sector vector; b and c are reachable through
	// the waypoint chain alone.
	if err := st.Upsert(ctx, a, model.Semantic, []string{"global"}, emb.Vector("soldering iron maintenance", model.Semantic)); err != nil {
		t.Fatalf("upsert vector: %v", err)
	}
	for _, w := range []model.Waypoint{
		{SrcID: a, DstID: b, Weight: 0.9, CreatedAt: now, UpdatedAt: now},
		{SrcID: b, DstID: c, Weight: 0.9, CreatedAt: now, UpdatedAt: now},
	} {
		if err := st.UpsertWaypoint(ctx, w); err != nil {
			t.Fatalf("upsert waypoint: %v", err)
		}
	}

	results, err := q.Query(ctx, Input{Query: "soldering iron maintenance", K: 3})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	var farPath int
	for _, r := range results {
		if r.ID == c {
			farPath = r.Path
		}
	}
	if farPath != 2 {
		t.Fatalf("far node path = %d, want 2", farPath)
	}

	weightOf := func(src, dst uuid.UUID) float64 {
		t.Helper()
		neighbors, err := st.Neighbors(ctx, src, "")
		if err != nil {
			t.Fatalf("neighbors: %v", err)
		}
		for _, w := range neighbors {
			if w.DstID == dst {
				return w.Weight
			}
		}
		t.Fatalf("edge %s -> %s missing", src, dst)
		return 0
	}
	// A two-hop result reinforces the whole chain back to its seed, not
	// just the final hop.
	if w := weightOf(b, c); w <= 0.9 {
		t.Fatalf("far edge weight = %v, want > 0.9", w)
	}
	if w := weightOf(a, b); w <= 0.9 {
		t.Fatalf("seed-side edge weight = %v, want > 0.9 (chain walk skipped it)", w)
	}
}
