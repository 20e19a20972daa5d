package waypoint

import (
	"context"
	"testing"

	"github.com/Raezil/hsg-memory/model"
	"github.com/Raezil/hsg-memory/store"
)

func TestContextualLinkIncrementsExistingWeight(t *testing.T) {
	g := store.NewMemStore()
	ctx := context.Background()
	a, b := model.NewID(), model.NewID()

	if err := ContextualLink(ctx, g, a, b, "global", 1000); err != nil {
		t.Fatalf("first link: %v", err)
	}
	ws, _ := g.Neighbors(ctx, a, "global")
	if len(ws) != 1 || ws[0].Weight != ContextualBaseWeight {
		t.Fatalf("expected base weight %v, got %v", ContextualBaseWeight, ws)
	}

	if err := ContextualLink(ctx, g, a, b, "global", 1001); err != nil {
		t.Fatalf("second link: %v", err)
	}
	ws, _ = g.Neighbors(ctx, a, "global")
	want := ContextualBaseWeight + ContextualIncrement
	if len(ws) != 1 || ws[0].Weight != want {
		t.Fatalf("expected weight %v, got %v", want, ws)
	}
}

func TestPruneRemovesWeakEdges(t *testing.T) {
	g := store.NewMemStore()
	ctx := context.Background()
	a, b, c := model.NewID(), model.NewID(), model.NewID()

	_ = Link(ctx, g, a, b, "global", 0.5, 1)
	_ = Link(ctx, g, a, c, "global", 0.01, 1)

	n, err := Prune(ctx, g)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned edge, got %d", n)
	}
	ws, _ := g.Neighbors(ctx, a, "global")
	if len(ws) != 1 || ws[0].DstID != b {
		t.Fatalf("expected only the strong edge to survive, got %v", ws)
	}
}

func TestSetWeightOverwrites(t *testing.T) {
	g := store.NewMemStore()
	ctx := context.Background()
	a, b := model.NewID(), model.NewID()

	_ = Link(ctx, g, a, b, "global", 0.2, 1)
	if err := SetWeight(ctx, g, a, b, "global", 0.9, 2); err != nil {
		t.Fatalf("set weight: %v", err)
	}
	ws, _ := g.Neighbors(ctx, a, "global")
	if len(ws) != 1 || ws[0].Weight != 0.9 {
		t.Fatalf("expected weight 0.9, got %v", ws)
	}
}

func TestSelfLoopAndCrossSectorLink(t *testing.T) {
	g := store.NewMemStore()
	ctx := context.Background()
	id := model.NewID()

	if err := SelfLoop(ctx, g, id, "global", 1); err != nil {
		t.Fatalf("self loop: %v", err)
	}
	if err := CrossSectorLink(ctx, g, id, model.Emotional, "global", 1); err != nil {
		t.Fatalf("cross sector link: %v", err)
	}
	all, _ := g.AllWaypoints(ctx)
	if len(all) != 2 {
		t.Fatalf("expected 2 self-edges (loop + cross-sector), got %d", len(all))
	}
}

func TestReinforceClampsAtOne(t *testing.T) {
	g := store.NewMemStore()
	ctx := context.Background()
	a, b := model.NewID(), model.NewID()

	_ = Link(ctx, g, a, b, "global", 0.98, 1)
	if err := Reinforce(ctx, g, a, b, "global", 0.1, 2); err != nil {
		t.Fatalf("reinforce: %v", err)
	}
	ws, _ := g.Neighbors(ctx, a, "global")
	if len(ws) != 1 || ws[0].Weight != 1.0 {
		t.Fatalf("expected weight clamped to 1, got %v", ws)
	}
}
