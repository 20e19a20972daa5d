package dynamics

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/Raezil/hsg-memory/model"
	"github.com/Raezil/hsg-memory/store"
)

func TestPushAllEnumeratesUnorderedPairs(t *testing.T) {
	g := store.NewMemStore()
	a, b, c := model.NewID(), model.NewID(), model.NewID()
	buf := NewBuffer(10, g, func(context.Context, uuid.UUID) (int64, bool) { return 0, true })
	buf.PushAll([]uuid.UUID{a, b, c})

	if got := len(buf.pairs); got != 3 {
		t.Fatalf("expected 3 unordered pairs from 3 ids, got %d", got)
	}
}

func TestDrainCreatesSymmetricWaypoint(t *testing.T) {
	g := store.NewMemStore()
	ctx := context.Background()
	a, b := model.NewID(), model.NewID()

	lastSeen := map[uuid.UUID]int64{a: 1_000_000, b: 1_000_000}
	buf := NewBuffer(10, g, func(_ context.Context, id uuid.UUID) (int64, bool) {
		v, ok := lastSeen[id]
		return v, ok
	})
	buf.Push(a, b)

	if err := buf.Drain(ctx, 10); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if buf.Processed() != 1 {
		t.Fatalf("expected 1 processed pair, got %d", buf.Processed())
	}

	forward, _ := g.Neighbors(ctx, a, "")
	backward, _ := g.Neighbors(ctx, b, "")
	if len(forward) != 1 || len(backward) != 1 {
		t.Fatalf("expected a symmetric edge both ways, got %v / %v", forward, backward)
	}
	if forward[0].Weight != Eta || backward[0].Weight != Eta {
		t.Fatalf("expected a first-time weight of eta=%v, got %v / %v", Eta, forward[0].Weight, backward[0].Weight)
	}
}

func TestDrainSkipsMissingEndpoint(t *testing.T) {
	g := store.NewMemStore()
	ctx := context.Background()
	a, b := model.NewID(), model.NewID()

	buf := NewBuffer(10, g, func(_ context.Context, id uuid.UUID) (int64, bool) {
		if id == a {
			return 1000, true
		}
		return 0, false
	})
	buf.Push(a, b)
	if err := buf.Drain(ctx, 10); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if buf.Processed() != 1 {
		t.Fatalf("drain still counts the attempt even when skipped, got %d", buf.Processed())
	}
	all, _ := g.AllWaypoints(ctx)
	if len(all) != 0 {
		t.Fatalf("expected no edge created for a pair with a missing endpoint, got %v", all)
	}
}
