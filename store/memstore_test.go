package store

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/Raezil/hsg-memory/model"
)

func mem(ns ...string) model.Memory {
	return model.Memory{
		ID:            model.NewID(),
		Namespaces:    model.NormalizeNamespaces(ns),
		Content:       "hello world",
		Simhash:       "0123456789abcdef",
		PrimarySector: model.Semantic,
		CreatedAt:     1000,
		UpdatedAt:     1000,
		LastSeenAt:    1000,
		Salience:      0.5,
		DecayLambda:   0.01,
		Version:       1,
	}
}

func insert(t *testing.T, s *MemStore, m model.Memory) {
	t.Helper()
	ctx := context.Background()
	tx, err := s.BeginTx(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := tx.InsertMemory(ctx, m); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestMemStoreInsertGetRoundTrip(t *testing.T) {
	s := NewMemStore()
	m := mem()
	insert(t, s, m)

	got, ok, err := s.GetMemory(context.Background(), m.ID)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Content != m.Content || got.PrimarySector != m.PrimarySector {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestMemStoreRollbackLeavesNothingObservable(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	m := mem()

	tx, err := s.BeginTx(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := tx.InsertMemory(ctx, m); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	_, ok, err := s.GetMemory(ctx, m.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatalf("rolled-back memory is observable")
	}
}

func TestMemStoreNamespaceIsolationOnSearch(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	a, b := model.NewID(), model.NewID()
	vec := []float32{1, 0, 0}
	if err := s.Upsert(ctx, a, model.Semantic, []string{"A"}, vec); err != nil {
		t.Fatalf("upsert a: %v", err)
	}
	if err := s.Upsert(ctx, b, model.Semantic, []string{"B"}, vec); err != nil {
		t.Fatalf("upsert b: %v", err)
	}

	hits, err := s.Search(ctx, vec, model.Semantic, []string{"A"}, 10, false)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, h := range hits {
		if h.ID == b {
			t.Fatalf("namespace B memory leaked into namespace A search")
		}
	}
	if len(hits) != 1 || hits[0].ID != a {
		t.Fatalf("expected only memory a, got %v", hits)
	}
}

func TestMemStoreDeleteAllCascadesVectors(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	id := model.NewID()
	for _, sector := range []model.Sector{model.Semantic, model.Episodic} {
		if err := s.Upsert(ctx, id, sector, []string{"global"}, []float32{1, 2}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	if err := s.DeleteAll(ctx, id); err != nil {
		t.Fatalf("delete all: %v", err)
	}
	for _, sector := range []model.Sector{model.Semantic, model.Episodic} {
		if _, ok, _ := s.Fetch(ctx, id, sector); ok {
			t.Fatalf("sector %s vector survived cascade", sector)
		}
	}
}

func TestMemStorePruneBelowRemovesExactlyWeakEdges(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	weak := model.Waypoint{SrcID: model.NewID(), DstID: model.NewID(), Weight: 0.04}
	strong := model.Waypoint{SrcID: model.NewID(), DstID: model.NewID(), Weight: 0.05}
	for _, w := range []model.Waypoint{weak, strong} {
		if err := s.UpsertWaypoint(ctx, w); err != nil {
			t.Fatalf("upsert waypoint: %v", err)
		}
	}

	n, err := s.PruneBelow(ctx, 0.05)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned %d edges, want exactly 1", n)
	}
	left, err := s.AllWaypoints(ctx)
	if err != nil {
		t.Fatalf("all waypoints: %v", err)
	}
	if len(left) != 1 || left[0].SrcID != strong.SrcID {
		t.Fatalf("wrong edge survived: %v", left)
	}
}

func TestMemStoreSegmentBookkeeping(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	m1 := mem()
	m1.Segment = 0
	m2 := mem()
	m2.Segment = 2
	insert(t, s, m1)
	insert(t, s, m2)

	maxSeg, err := s.MaxSegment(ctx)
	if err != nil {
		t.Fatalf("max segment: %v", err)
	}
	if maxSeg != 2 {
		t.Fatalf("max segment = %d, want 2", maxSeg)
	}
	count, err := s.SegmentCount(ctx, 0)
	if err != nil {
		t.Fatalf("segment count: %v", err)
	}
	if count != 1 {
		t.Fatalf("segment 0 count = %d, want 1", count)
	}
	rows, err := s.SegmentRows(ctx, 2)
	if err != nil {
		t.Fatalf("segment rows: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != m2.ID {
		t.Fatalf("segment 2 rows = %v", rows)
	}
}

func TestMemStoreNearestBySimhash(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	m := mem()
	m.Simhash = "00000000000000ff"
	insert(t, s, m)
	far := mem()
	far.Simhash = "ffffffffffffff00"
	insert(t, s, far)

	got, ok, err := s.NearestBySimhash(ctx, "00000000000000fe", m.Namespaces)
	if err != nil || !ok {
		t.Fatalf("nearest: ok=%v err=%v", ok, err)
	}
	if got.ID != m.ID {
		t.Fatalf("nearest = %s, want %s", got.ID, m.ID)
	}
}

func TestMemStoreUpdateScalarsPersist(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	m := mem()
	insert(t, s, m)

	if err := s.UpdateSalience(ctx, m.ID, 0.9); err != nil {
		t.Fatalf("update salience: %v", err)
	}
	if err := s.UpdateFeedback(ctx, m.ID, 0.7); err != nil {
		t.Fatalf("update feedback: %v", err)
	}
	if err := s.UpdateLastSeen(ctx, m.ID, 2000, 0.8); err != nil {
		t.Fatalf("update last seen: %v", err)
	}

	got, _, err := s.GetMemory(ctx, m.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LastSeenAt != 2000 || got.Salience != 0.8 || got.FeedbackScore != 0.7 {
		t.Fatalf("scalar updates lost: %+v", got)
	}
}

func TestMemStoreUpdateMissingIDErrors(t *testing.T) {
	s := NewMemStore()
	if err := s.UpdateSalience(context.Background(), uuid.New(), 0.5); err == nil {
		t.Fatalf("update of missing id should error")
	}
}
