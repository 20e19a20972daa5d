package keyword

import (
	"testing"

	"github.com/google/uuid"
)

func TestBoostsRanksMatchingDocumentFirst(t *testing.T) {
	idx, err := NewIndex()
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	defer idx.Close()

	alice, bob := uuid.New(), uuid.New()
	if err := idx.Add(alice, "yesterday I met Alice at the cafe"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := idx.Add(bob, "Bob taught me soldering"); err != nil {
		t.Fatalf("add: %v", err)
	}

	boosts, err := idx.Boosts("meeting with Alice", 10)
	if err != nil {
		t.Fatalf("boosts: %v", err)
	}
	if boosts[alice] != 1 {
		t.Fatalf("best hit boost = %v, want 1 (normalized)", boosts[alice])
	}
	if boosts[bob] >= boosts[alice] {
		t.Fatalf("non-matching doc outranked match: %v", boosts)
	}
	for _, b := range boosts {
		if b <= 0 || b > 1 {
			t.Fatalf("boost %v outside (0,1]", b)
		}
	}
}

func TestBoostsEmptyIndexReturnsNoHits(t *testing.T) {
	idx, err := NewIndex()
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	defer idx.Close()

	boosts, err := idx.Boosts("anything", 10)
	if err != nil {
		t.Fatalf("boosts: %v", err)
	}
	if len(boosts) != 0 {
		t.Fatalf("expected no hits, got %v", boosts)
	}
}

func TestRemoveDropsDocument(t *testing.T) {
	idx, err := NewIndex()
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	defer idx.Close()

	id := uuid.New()
	if err := idx.Add(id, "configure the deployment pipeline"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := idx.Remove(id); err != nil {
		t.Fatalf("remove: %v", err)
	}
	boosts, err := idx.Boosts("deployment", 10)
	if err != nil {
		t.Fatalf("boosts: %v", err)
	}
	if _, ok := boosts[id]; ok {
		t.Fatalf("removed document still matches")
	}
}

func TestAddReindexesExistingID(t *testing.T) {
	idx, err := NewIndex()
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	defer idx.Close()

	id := uuid.New()
	if err := idx.Add(id, "original text about gardening"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := idx.Add(id, "replacement text about astronomy"); err != nil {
		t.Fatalf("reindex: %v", err)
	}

	boosts, err := idx.Boosts("gardening", 10)
	if err != nil {
		t.Fatalf("boosts: %v", err)
	}
	if _, ok := boosts[id]; ok {
		t.Fatalf("stale content still indexed after reindex")
	}
	boosts, err = idx.Boosts("astronomy", 10)
	if err != nil {
		t.Fatalf("boosts: %v", err)
	}
	if boosts[id] != 1 {
		t.Fatalf("reindexed content not found: %v", boosts)
	}
}
