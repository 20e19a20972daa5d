package tokenizer

import "testing"

func TestCanonicalizeLowercasesAndDropsStopwords(t *testing.T) {
	tokens := Canonicalize("The Mitochondrion is the Powerhouse of the Cell!", nil)
	want := []string{"mitochondrion", "powerhouse", "cell"}
	if len(tokens) != len(want) {
		t.Fatalf("got %v, want %v", tokens, want)
	}
	for i := range want {
		if tokens[i] != want[i] {
			t.Fatalf("token %d: got %q, want %q", i, tokens[i], want[i])
		}
	}
}

func TestCanonicalizeAppendsSynonyms(t *testing.T) {
	opts := &Options{Synonyms: map[string][]string{"car": {"automobile"}}}
	tokens := Canonicalize("my car", opts)
	set := Set(tokens)
	if _, ok := set["automobile"]; !ok {
		t.Fatalf("synonym not appended: %v", tokens)
	}
}

func TestTokenOverlapBounds(t *testing.T) {
	q := []string{"alice", "meeting", "cafe"}
	m := []string{"alice", "cafe", "bob"}
	ov := TokenOverlap(q, m)
	if ov < 0 || ov > 1 {
		t.Fatalf("overlap out of [0,1]: %v", ov)
	}
	if ov != 2.0/3.0 {
		t.Fatalf("overlap = %v, want 2/3", ov)
	}
	if TokenOverlap(nil, m) != 0 {
		t.Fatalf("empty query should give overlap 0")
	}
}

func TestSimHashNearDuplicateOnPunctuationChange(t *testing.T) {
	a := SimHashHex(Canonicalize("The mitochondrion is the powerhouse of the cell.", nil))
	b := SimHashHex(Canonicalize("The mitochondrion is the powerhouse of the cell!", nil))
	if a != b {
		t.Fatalf("punctuation-only change produced different simhashes: %q vs %q", a, b)
	}
	if !IsNearDuplicate(a, b) {
		t.Fatalf("identical token streams should be near-duplicates")
	}
}

func TestSimHashDistinctContentIsDistant(t *testing.T) {
	a := SimHashHex(Canonicalize("yesterday I met Alice at the cafe", nil))
	b := SimHashHex(Canonicalize("the quarterly report shows revenue growth", nil))
	if IsNearDuplicate(a, b) {
		t.Fatalf("unrelated content flagged as near-duplicate: %q vs %q", a, b)
	}
}

func TestSimHashHexFormat(t *testing.T) {
	h := SimHashHex([]string{"alpha", "beta"})
	if len(h) != 16 {
		t.Fatalf("hex length = %d, want 16", len(h))
	}
	for _, c := range h {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			t.Fatalf("non-hex character %q in %q", c, h)
		}
	}
}

func TestHammingDistanceHexMalformedIsMaximal(t *testing.T) {
	if d := HammingDistanceHex("zzzz", SimHashHex([]string{"a"})); d != 64 {
		t.Fatalf("malformed hex distance = %d, want 64", d)
	}
}

func TestHammingDistance64Symmetric(t *testing.T) {
	a, b := uint64(0b1011), uint64(0b0010)
	if HammingDistance64(a, b) != HammingDistance64(b, a) {
		t.Fatalf("hamming distance not symmetric")
	}
	if HammingDistance64(a, a) != 0 {
		t.Fatalf("hamming distance not reflexive")
	}
}
