package embed

import (
	"context"
	"math"
	"testing"

	"github.com/Raezil/hsg-memory/model"
)

func TestSyntheticEmbedUnitLength(t *testing.T) {
	s := NewSynthetic(64)
	v := s.Vector("Step 1: install. Step 2: configure.", model.Procedural)
	if len(v) != 64 {
		t.Fatalf("expected dim 64, got %d", len(v))
	}
	var norm float64
	for _, f := range v {
		norm += float64(f) * float64(f)
	}
	if math.Abs(math.Sqrt(norm)-1) > 1e-3 {
		t.Fatalf("expected unit norm, got %v", math.Sqrt(norm))
	}
}

func TestSyntheticDeterministic(t *testing.T) {
	s := NewSynthetic(32)
	a := s.Vector("the cat sat on the mat", model.Semantic)
	b := s.Vector("the cat sat on the mat", model.Semantic)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("synthetic embedder is not deterministic at index %d", i)
		}
	}
}

func TestResizeTruncateAndPad(t *testing.T) {
	v := []float32{1, 2, 3, 4}
	if got := Resize(v, 2); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("truncate failed: %v", got)
	}
	if got := Resize(v, 6); len(got) != 6 || got[4] != 0 || got[5] != 0 {
		t.Fatalf("zero-pad failed: %v", got)
	}
}

func TestSafeEmbedFallsBackOnError(t *testing.T) {
	v := SafeEmbed(context.Background(), &ClaudeEmbedder{}, "hello world", model.Semantic, 32)
	if len(v) != 32 {
		t.Fatalf("expected fallback synthetic vector of dim 32, got %d", len(v))
	}
}

func TestFuseIsUnitNorm(t *testing.T) {
	a := NewSynthetic(16).Vector("alpha beta", model.Episodic)
	b := NewSynthetic(16).Vector("gamma delta", model.Semantic)
	fused := Fuse([]SectorVec{
		{Sector: model.Episodic, Vector: a, Weight: 1.0},
		{Sector: model.Semantic, Vector: b, Weight: 1.1},
	})
	var norm float64
	for _, f := range fused {
		norm += float64(f) * float64(f)
	}
	if math.Abs(math.Sqrt(norm)-1) > 1e-3 {
		t.Fatalf("expected unit norm, got %v", math.Sqrt(norm))
	}
}

func TestMeanPoolAveragesChunks(t *testing.T) {
	chunks := [][]float32{{1, 1}, {3, 3}}
	got := MeanPool(chunks)
	if got[0] != 2 || got[1] != 2 {
		t.Fatalf("expected [2 2], got %v", got)
	}
}
