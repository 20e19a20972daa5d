package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	"github.com/Raezil/hsg-memory/model"
	"github.com/Raezil/hsg-memory/tokenizer"
)

// sectorWeight modulates synthetic feature amplitudes per sector; only the
// synthetic embedder uses these weights.
var sectorWeight = map[model.Sector]float64{
	model.Episodic:   1.0,
	model.Semantic:   1.1,
	model.Procedural: 0.9,
	model.Emotional:  1.2,
	model.Reflective: 1.05,
}

// Synthetic is the deterministic, CPU-only hashing-trick embedder from
// §4.3: a hashing trick over canonical tokens, character n-grams,
// positional sinusoids and length/density bucket features, L2-normalized
// to a configured dimension. It never errors and needs no network.
type Synthetic struct {
	dim int
}

// NewSynthetic constructs a Synthetic embedder targeting dim output
// dimensions.
func NewSynthetic(dim int) *Synthetic {
	if dim <= 0 {
		dim = 256
	}
	return &Synthetic{dim: dim}
}

func (s *Synthetic) Name() string { return "synthetic" }

// Embed implements Embedder; the synthetic embedder is CPU-only and
// ignores ctx cancellation since it never suspends.
func (s *Synthetic) Embed(_ context.Context, text string, sector model.Sector) ([]float32, error) {
	return s.Vector(text, sector), nil
}

// Vector computes the synthetic embedding directly, without the
// context/error ceremony of the Embedder interface; used by SafeEmbed's
// fallback path and by tests.
func (s *Synthetic) Vector(text string, sector model.Sector) []float32 {
	dim := s.dim
	vec := make([]float64, dim)
	weight := sectorWeight[sector]
	if weight == 0 {
		weight = 1.0
	}

	tokens := tokenizer.Canonicalize(text, nil)
	lower := strings.ToLower(text)

	hashInto := func(key string, amp float64) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(key))
		idx := int(h.Sum32()) % dim
		if idx < 0 {
			idx += dim
		}
		vec[idx] += amp * weight
	}

	// Hashing-trick over canonical tokens.
	for _, tok := range tokens {
		hashInto("tok:"+tok, 1.0)
	}

	// Bigrams / trigrams over tokens.
	for i := 0; i+1 < len(tokens); i++ {
		hashInto("bi:"+tokens[i]+"_"+tokens[i+1], 0.6)
	}
	for i := 0; i+2 < len(tokens); i++ {
		hashInto("tri:"+tokens[i]+"_"+tokens[i+1]+"_"+tokens[i+2], 0.4)
	}

	// Skip-grams: token i paired with token i+2, skipping one.
	for i := 0; i+2 < len(tokens); i++ {
		hashInto("skip:"+tokens[i]+"_"+tokens[i+2], 0.3)
	}

	// Character 3/4-grams over the lowercased raw text.
	for n := 3; n <= 4; n++ {
		for i := 0; i+n <= len(lower); i++ {
			hashInto("char"+itoa(n)+":"+lower[i:i+n], 0.25)
		}
	}

	// Positional sinusoids, one pair of features per token position.
	for i, tok := range tokens {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		base := int(h.Sum32()) % dim
		if base < 0 {
			base += dim
		}
		phase := float64(i) / float64(len(tokens)+1)
		vec[base] += 0.2 * math.Sin(2*math.Pi*phase) * weight
		vec[(base+1)%dim] += 0.2 * math.Cos(2*math.Pi*phase) * weight
	}

	// Length- and density-bucket features: a handful of coarse scalar
	// features folded into fixed slots so short/long and sparse/dense
	// text land in distinguishable regions of the vector.
	lengthBucket := bucket(len(tokens), []int{4, 8, 16, 32, 64})
	density := 0.0
	if len(lower) > 0 {
		density = float64(len(tokens)) / float64(len(lower))
	}
	densityBucket := bucket(int(density*100), []int{5, 10, 20, 40})
	vec[lengthBucket%dim] += 0.5 * weight
	vec[(densityBucket+dim/2)%dim] += 0.5 * weight

	out := make([]float32, dim)
	for i, v := range vec {
		out[i] = float32(v)
	}
	return model.L2Normalize(out, 1e-8)
}

func bucket(v int, edges []int) int {
	for i, e := range edges {
		if v <= e {
			return i
		}
	}
	return len(edges)
}

func itoa(n int) string {
	if n < 10 {
		return string(rune('0' + n))
	}
	return "?"
}
