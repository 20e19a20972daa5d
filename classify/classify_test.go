package classify

import (
	"testing"

	"github.com/Raezil/hsg-memory/model"
)

func TestClassifyProceduralSteps(t *testing.T) {
	c := New(nil)
	got := c.Classify("Step 1: install. Step 2: configure. Step 3: run.", "")
	if got.Primary != model.Procedural {
		t.Fatalf("primary = %s, want procedural (scores %v)", got.Primary, got.Scores)
	}
	for _, s := range got.Additional {
		if s == model.Emotional {
			t.Fatalf("additional includes emotional: %v", got.Additional)
		}
	}
}

func TestClassifyUnmatchedDefaultsToSemantic(t *testing.T) {
	c := New(nil)
	got := c.Classify("zzz qqq xxx", "")
	if got.Primary != model.Semantic {
		t.Fatalf("primary = %s, want semantic", got.Primary)
	}
	if got.Confidence != 0.2 {
		t.Fatalf("confidence = %v, want 0.2", got.Confidence)
	}
}

func TestClassifyMetaSectorOverrides(t *testing.T) {
	c := New(nil)
	got := c.Classify("Step 1: install.", model.Emotional)
	if got.Primary != model.Emotional {
		t.Fatalf("meta sector not honored: %s", got.Primary)
	}
	if got.Confidence != 1.0 {
		t.Fatalf("override confidence = %v, want 1.0", got.Confidence)
	}
}

func TestClassifyConfidenceInUnitInterval(t *testing.T) {
	c := New(nil)
	for _, text := range []string{
		"yesterday I met Alice at 10:00",
		"I feel happy and excited!!!",
		"Paris is the capital of France, a fact everyone learns.",
		"I realized that next time I should plan ahead.",
	} {
		got := c.Classify(text, "")
		if got.Confidence < 0 || got.Confidence > 1 {
			t.Fatalf("%q: confidence %v outside [0,1]", text, got.Confidence)
		}
	}
}

func TestClassifyTieBreaksByEnumerationOrder(t *testing.T) {
	table := Table{
		model.Episodic:   {{Regex: must(`\balpha\b`), Weight: 1}},
		model.Procedural: {{Regex: must(`\balpha\b`), Weight: 1}},
	}
	c := New(table)
	got := c.Classify("alpha", "")
	if got.Primary != model.Episodic {
		t.Fatalf("tie broken to %s, want episodic (enumeration order)", got.Primary)
	}
}

func TestSectorsIncludesPrimaryFirst(t *testing.T) {
	c := New(nil)
	got := c.Classify("yesterday I met Alice at 10:00 and I feel excited!", "")
	sectors := got.Sectors()
	if len(sectors) == 0 || sectors[0] != got.Primary {
		t.Fatalf("Sectors() = %v, primary %s not first", sectors, got.Primary)
	}
}
