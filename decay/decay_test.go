package decay

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

func TestClassifyTiers(t *testing.T) {
	now := model.NowMS(time.Now())
	day := int64(24 * time.Hour / time.Millisecond)

	if got := Classify(now, now, 0.9, 5); got != Hot {
		t.Fatalf("expected Hot for fresh high-salience memory, got %s", got)
	}
	if got := Classify(now, now-3*day, 0.5, 1); got != Warm {
		t.Fatalf("expected Warm, got %s", got)
	}
	if got := Classify(now, now-30*day, 0.2, 0); got != Cold {
		t.Fatalf("expected Cold, got %s", got)
	}
	if got := Classify(now, now-120*day, 0.05, 0); got != Cold {
		t.Fatalf("expected Cold for long-stale low-salience memory, got %s", got)
	}
}

func TestFactorDecaysTowardZeroOverTime(t *testing.T) {
	lambda := Lambda(Warm)
	f0 := Factor(lambda, 0, 0.8)
	f10 := Factor(lambda, 10, 0.8)
	if f10 >= f0 {
		t.Fatalf("expected decay factor to shrink with elapsed days: f0=%v f10=%v", f0, f10)
	}
	if NewSalience(0.8, f10) >= 0.8 {
		t.Fatalf("expected decayed salience below original")
	}
}

func newTestPass(t *testing.T) (*Pass, *store.MemStore) {
	t.Helper()
	st := store.NewMemStore()
	return &Pass{
		Store:   st,
		Vectors: st,
		Graph:   st,
		Config:  DefaultConfig(),
		Active:  func() int { return 0 },
		Now:     time.Now,
	}, st
}

func TestRunDecayAppliesDecayAndRespectsCooldown(t *testing.T) {
	ctx := context.Background()
	pass, st := newTestPass(t)

	ing := ingest.New(st, st, st, embed.NewSynthetic(32))
	ing.Config.VecDim = 32
	res, err := ing.AddMemory(ctx, ingest.AddMemoryInput{Content: "A memory destined to decay, written long ago and rarely revisited."})
	if err != nil {
		t.Fatalf("add memory: %v", err)
	}

	mem, _, _ := st.GetMemory(ctx, res.ID)
	mem.LastSeenAt = mem.LastSeenAt - 40*int64(24*time.Hour/time.Millisecond)
	mem.Salience = 0.6
	if err := st.UpdateMemory(ctx, mem); err != nil {
		t.Fatalf("seed aged memory: %v", err)
	}

	first, err := pass.Run(ctx)
	if err != nil {
		t.Fatalf("run decay: %v", err)
	}
	if first.Processed == 0 {
		t.Fatalf("expected at least one row processed")
	}

	updated, _, _ := st.GetMemory(ctx, res.ID)
	if updated.Salience >= mem.Salience {
		t.Fatalf("expected salience to decay, before=%v after=%v", mem.Salience, updated.Salience)
	}

	second, err := pass.Run(ctx)
	if err != nil {
		t.Fatalf("second run decay: %v", err)
	}
	if second.Processed != 0 {
		t.Fatalf("expected cooldown to suppress a second immediate pass, got Processed=%d", second.Processed)
	}
}

func TestDegreeCountsNonSelfLoopNeighbors(t *testing.T) {
	ctx := context.Background()
	pass, st := newTestPass(t)

	a, b := uuid.New(), uuid.New()
	if err := st.UpsertWaypoint(ctx, model.Waypoint{SrcID: a, DstID: a, Weight: 1.0}); err != nil {
		t.Fatalf("seed self loop: %v", err)
	}
	if err := st.UpsertWaypoint(ctx, model.Waypoint{SrcID: a, DstID: b, Weight: 0.5}); err != nil {
		t.Fatalf("seed edge: %v", err)
	}

	deg, err := pass.degree(ctx, a)
	if err != nil {
		t.Fatalf("degree: %v", err)
	}
	if deg != 1 {
		t.Fatalf("expected degree 1 excluding self-loop, got %d", deg)
	}
}
