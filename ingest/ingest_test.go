package ingest

import (
	"context"
	"testing"

	"github.com/Raezil/hsg-memory/embed"
	"github.com/Raezil/hsg-memory/model"
	"github.com/Raezil/hsg-memory/store"
)

func newTestPipeline() (*Pipeline, *store.MemStore) {
	st := store.NewMemStore()
	p := New(st, st, st, embed.NewSynthetic(32))
	p.Config.VecDim = 32
	return p, st
}

func TestAddMemoryBasic(t *testing.T) {
	p, st := newTestPipeline()
	ctx := context.Background()

	res, err := p.AddMemory(ctx, AddMemoryInput{Content: "Yesterday I met Alice Carter for coffee and we talked about the trip."})
	if err != nil {
		t.Fatalf("add memory: %v", err)
	}
	if res.Deduplicated {
		t.Fatalf("expected a fresh memory, got deduplicated")
	}
	mem, ok, err := st.GetMemory(ctx, res.ID)
	if err != nil || !ok {
		t.Fatalf("expected memory to be persisted, ok=%v err=%v", ok, err)
	}
	if mem.Salience <= 0 || mem.Salience > 1 {
		t.Fatalf("expected salience in (0,1], got %v", mem.Salience)
	}
	if mem.Version != 1 {
		t.Fatalf("expected version 1, got %d", mem.Version)
	}
	if len(mem.MeanVec) == 0 {
		t.Fatalf("expected a fused mean_vec to be written")
	}

	all, _ := st.AllWaypoints(ctx)
	if len(all) == 0 {
		t.Fatalf("expected at least one waypoint seeded at ingest")
	}
}

func TestAddMemoryDedupBumpsSalienceAndReusesID(t *testing.T) {
	p, _ := newTestPipeline()
	ctx := context.Background()

	first, err := p.AddMemory(ctx, AddMemoryInput{Content: "The capital of France is Paris, a fact worth remembering."})
	if err != nil {
		t.Fatalf("first add: %v", err)
	}

	second, err := p.AddMemory(ctx, AddMemoryInput{Content: "The capital of France is Paris, a fact worth remembering."})
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if !second.Deduplicated {
		t.Fatalf("expected the second identical ingest to dedup")
	}
	if second.ID != first.ID {
		t.Fatalf("expected dedup to return the original id")
	}
}

func TestUpdateMemoryContentChangeBumpsVersion(t *testing.T) {
	p, st := newTestPipeline()
	ctx := context.Background()

	res, err := p.AddMemory(ctx, AddMemoryInput{Content: "How to configure a reverse proxy: step 1, install nginx."})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	newContent := "How to configure a load balancer: step 1, install haproxy."
	upd, err := p.UpdateMemory(ctx, UpdateMemoryInput{ID: res.ID, Content: &newContent})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !upd.Updated {
		t.Fatalf("expected update to report updated=true")
	}
	mem, _, _ := st.GetMemory(ctx, res.ID)
	if mem.Version != 2 {
		t.Fatalf("expected version bumped to 2, got %d", mem.Version)
	}
	if mem.Content == "" {
		t.Fatalf("expected a re-extracted essence")
	}
}

func TestUpdateMemoryTagsOnlyDoesNotBumpVersion(t *testing.T) {
	p, st := newTestPipeline()
	ctx := context.Background()

	res, err := p.AddMemory(ctx, AddMemoryInput{Content: "I feel proud of shipping the release this week."})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := p.UpdateMemory(ctx, UpdateMemoryInput{ID: res.ID, Tags: []string{"work"}}); err != nil {
		t.Fatalf("update: %v", err)
	}
	mem, _, _ := st.GetMemory(ctx, res.ID)
	if mem.Version != 1 {
		t.Fatalf("expected version to stay at 1 for a tags-only update, got %d", mem.Version)
	}
	if tags := model.DecodeTags(mem.Tags); len(tags) != 1 || tags[0] != "work" {
		t.Fatalf("expected tags [work] to be persisted, got %v", tags)
	}
}

func TestDeleteMemoryCascades(t *testing.T) {
	p, st := newTestPipeline()
	ctx := context.Background()

	a, err := p.AddMemory(ctx, AddMemoryInput{Content: "First memory used to anchor a second one about Paris."})
	if err != nil {
		t.Fatalf("add a: %v", err)
	}
	_, err = p.AddMemory(ctx, AddMemoryInput{Content: "Second memory about the same Paris trip as before."})
	if err != nil {
		t.Fatalf("add b: %v", err)
	}

	if _, err := p.DeleteMemory(ctx, DeleteMemoryInput{ID: a.ID}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := st.GetMemory(ctx, a.ID); ok {
		t.Fatalf("expected memory row to be gone")
	}
	if _, ok, _ := st.Fetch(ctx, a.ID, "semantic"); ok {
		t.Fatalf("expected sector vectors to cascade-delete")
	}
	all, _ := st.AllWaypoints(ctx)
	for _, w := range all {
		if w.SrcID == a.ID || w.DstID == a.ID {
			t.Fatalf("expected no surviving waypoint referencing the deleted id, got %v", w)
		}
	}
}

func TestDeleteMemoryForbiddenOutsideNamespace(t *testing.T) {
	p, _ := newTestPipeline()
	ctx := context.Background()

	res, err := p.AddMemory(ctx, AddMemoryInput{Content: "A namespaced secret memory.", Namespaces: []string{"teamA"}})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := p.DeleteMemory(ctx, DeleteMemoryInput{ID: res.ID, Namespaces: []string{"teamB"}}); err == nil {
		t.Fatalf("expected a forbidden error for a disjoint namespace")
	}
}
