package ingest

import "testing"

func TestExtractEssenceReturnsShortContentUnchanged(t *testing.T) {
	short := "Short note."
	if got := ExtractEssence(short, 400); got != short {
		t.Fatalf("expected short content unchanged, got %q", got)
	}
}

func TestExtractEssencePacksWithinBudget(t *testing.T) {
	content := "I met John Smith yesterday. We discussed the $500 budget for 2024. " +
		"It was a filler sentence that adds very little useful signal at all here. " +
		"How should we proceed with the rollout? I think we should build it carefully."
	got := ExtractEssence(content, 80)
	if len(got) > 80 {
		t.Fatalf("expected essence within budget, got %d runes: %q", len(got), got)
	}
	if got == "" {
		t.Fatalf("expected a non-empty essence")
	}
}

func TestExtractEssenceFallsBackToTruncation(t *testing.T) {
	content := "Supercalifragilisticexpialidocious"
	got := ExtractEssence(content, 10)
	if got != "Supercalif" {
		t.Fatalf("expected hard truncation fallback, got %q", got)
	}
}
