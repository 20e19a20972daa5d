package engine

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/Raezil/hsg-memory/embed"
	"github.com/Raezil/hsg-memory/ingest"
	"github.com/Raezil/hsg-memory/query"
	"github.com/Raezil/hsg-memory/store"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	st := store.NewMemStore()
	opts := DefaultOptions()
	opts.VecDim = 32
	opts.MaxActive = 0
	return New(st, st, st, embed.NewSynthetic(32), opts)
}

func TestEngineAddThenQueryRoundtrip(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	added, err := e.AddMemory(ctx, ingest.AddMemoryInput{Content: "Bob took the dog for a long walk by the river on Sunday."})
	if err != nil {
		t.Fatalf("add memory: %v", err)
	}

	results, err := e.Query(ctx, query.Input{Query: "Bob walked the dog by the river", K: 1})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) != 1 || results[0].ID != added.ID {
		t.Fatalf("expected to retrieve the memory just added, got %+v", results)
	}
}

func TestEngineUpdateAndDeleteMemory(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	added, err := e.AddMemory(ctx, ingest.AddMemoryInput{Content: "The quarterly report is due next Friday at noon."})
	if err != nil {
		t.Fatalf("add memory: %v", err)
	}

	newContent := "The quarterly report deadline moved to Monday."
	if _, err := e.UpdateMemory(ctx, ingest.UpdateMemoryInput{ID: added.ID, Content: &newContent}); err != nil {
		t.Fatalf("update memory: %v", err)
	}

	if _, err := e.DeleteMemory(ctx, ingest.DeleteMemoryInput{ID: added.ID}); err != nil {
		t.Fatalf("delete memory: %v", err)
	}

	mem, ok, err := e.Store.GetMemory(ctx, added.ID)
	if err != nil {
		t.Fatalf("get memory: %v", err)
	}
	if ok {
		t.Fatalf("expected memory to be gone after delete, got %+v", mem)
	}
}

func TestEngineReinforceMemoryBumpsSalienceAndRejectsMissing(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	added, err := e.AddMemory(ctx, ingest.AddMemoryInput{Content: "A short memory about a trip to the mountains last spring."})
	if err != nil {
		t.Fatalf("add memory: %v", err)
	}

	before, _, _ := e.Store.GetMemory(ctx, added.ID)
	if _, err := e.ReinforceMemory(ctx, added.ID, 0.2); err != nil {
		t.Fatalf("reinforce memory: %v", err)
	}
	after, _, _ := e.Store.GetMemory(ctx, added.ID)
	if after.Salience <= before.Salience {
		t.Fatalf("expected salience to increase: before=%v after=%v", before.Salience, after.Salience)
	}

	if _, err := e.ReinforceMemory(ctx, added.ID, 0); err != nil {
		t.Fatalf("reinforce with default boost: %v", err)
	}

	if _, err := e.ReinforceMemory(ctx, uuid.New(), 0.1); err == nil {
		t.Fatalf("expected an error for a missing memory")
	}
}

func TestEngineRunDecayAndPruneWaypointsDoNotError(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	if _, err := e.AddMemory(ctx, ingest.AddMemoryInput{Content: "Some content to decay and prune against, eventually."}); err != nil {
		t.Fatalf("add memory: %v", err)
	}

	if _, err := e.RunDecay(ctx); err != nil {
		t.Fatalf("run decay: %v", err)
	}
	if _, err := e.PruneWaypoints(ctx); err != nil {
		t.Fatalf("prune waypoints: %v", err)
	}
}
