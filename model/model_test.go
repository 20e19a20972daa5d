package model

import "testing"

func TestNormalizeNamespaces(t *testing.T) {
	if got := NormalizeNamespaces(nil); len(got) != 1 || got[0] != "global" {
		t.Fatalf("expected {global}, got %v", got)
	}
	in := []string{"team-a"}
	if got := NormalizeNamespaces(in); len(got) != 1 || got[0] != "team-a" {
		t.Fatalf("expected passthrough, got %v", got)
	}
}

func TestClamp01(t *testing.T) {
	cases := map[float64]float64{-1: 0, 0: 0, 0.5: 0.5, 1: 1, 2: 1}
	for in, want := range cases {
		if got := Clamp01(in); got != want {
			t.Fatalf("Clamp01(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestCosineSimilarityBounds(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{1, 0, 0}
	if got := CosineSimilarity(a, b); got < 0.999 {
		t.Fatalf("expected ~1, got %v", got)
	}
	c := []float32{-1, 0, 0}
	if got := CosineSimilarity(a, c); got > -0.999 {
		t.Fatalf("expected ~-1, got %v", got)
	}
	if got := CosineSimilarity(nil, b); got != 0 {
		t.Fatalf("expected 0 for empty vector, got %v", got)
	}
}

func TestL2NormalizeUnitLength(t *testing.T) {
	v := []float32{3, 4}
	L2Normalize(v, 1e-8)
	norm := float64(v[0])*float64(v[0]) + float64(v[1])*float64(v[1])
	if diff := norm - 1; diff > 1e-3 || diff < -1e-3 {
		t.Fatalf("expected unit norm, got %v", norm)
	}
}

func TestPackUnpackVectorRoundTrip(t *testing.T) {
	v := []float32{1.5, -2.25, 0, 100.125}
	packed := PackVector(v)
	if len(packed) != 4*len(v) {
		t.Fatalf("expected %d bytes, got %d", 4*len(v), len(packed))
	}
	back := UnpackVector(packed)
	for i := range v {
		if back[i] != v[i] {
			t.Fatalf("round trip mismatch at %d: got %v want %v", i, back[i], v[i])
		}
	}
}

func TestTagsMetaRoundTrip(t *testing.T) {
	tags := EncodeTags([]string{"a", "b"})
	decoded := DecodeTags(tags)
	if len(decoded) != 2 || decoded[0] != "a" || decoded[1] != "b" {
		t.Fatalf("unexpected tags round trip: %v", decoded)
	}
	meta := EncodeMeta(map[string]any{"sector": "episodic"})
	decodedMeta := DecodeMeta(meta)
	if decodedMeta["sector"] != "episodic" {
		t.Fatalf("unexpected meta round trip: %v", decodedMeta)
	}
}

func TestNamespacesOverlap(t *testing.T) {
	if !NamespacesOverlap([]string{"a", "b"}, []string{"b", "c"}) {
		t.Fatalf("expected overlap")
	}
	if NamespacesOverlap([]string{"a"}, []string{"b"}) {
		t.Fatalf("expected disjoint")
	}
}

func TestValidSector(t *testing.T) {
	if !ValidSector(Episodic) {
		t.Fatalf("episodic should be valid")
	}
	if ValidSector(Sector("bogus")) {
		t.Fatalf("bogus should be invalid")
	}
}
