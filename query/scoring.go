package query

import (
	"math"

	"github.com/Raezil/hsg-memory/model"
	"github.com/Raezil/hsg-memory/tokenizer"
)

// boosted implements boosted(s) = 1 - exp(-tau*s), §4.5 step 7.
func boosted(tau, s float64) float64 {
	return 1 - math.Exp(-tau*s)
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// score computes one candidate's hybrid raw score and final sigmoid
// score per §4.5 step 7. The multi-vector fusion score mvf and the
// cross-sector resonance multiplier feed the "boosted similarity" input
// bs directly (bs = clamp01(mvf*resonance)) rather than being separate
// summands — SPEC_FULL.md's §4.5 computes both quantities but only names
// bs in the final raw-score formula, so this is the Open Question
// resolution recorded in DESIGN.md: resonance-adjusted fusion *is* the
// boosted-similarity input, not an independent additive term.
func (e *Engine) score(queryPrimary model.Sector, queryVecs map[model.Sector][]float32, queryTokens []string, mem model.Memory, c *candidate, deltaDays float64, kw float64) float64 {
	bs := e.boostedSimilarityInput(queryPrimary, mem, c)

	memTokens := tokenizer.Canonicalize(mem.Content, nil)
	tokOv := tokenizer.TokenOverlap(queryTokens, memTokens)

	ww := c.ww

	rec := math.Exp(-deltaDays/e.Config.RecencyT) * (1 - deltaDays/e.Config.RecencyTmax)

	var keywordBoost float64
	if e.Config.HybridTierEnabled {
		// kw comes from the keyword index when one is wired (hybrid/deep
		// tiers); token overlap stands in when it isn't.
		if kw > 0 {
			keywordBoost = e.Config.KeywordBoost * kw
		} else {
			keywordBoost = e.Config.KeywordBoost * tokOv
		}
	}

	raw := 0.6*boosted(e.Config.Tau, bs) + 0.2*tokOv + 0.15*ww + 0.05*rec + keywordBoost
	return sigmoid(raw)
}

// boostedSimilarityInput computes mvf (the weighted multi-sector fusion
// score) and applies the cross-sector resonance multiplier. The result is
// never below the single best-observed per-sector similarity, and is 0
// when the candidate carries no recorded similarities (a BFS-only
// expansion hit).
func (e *Engine) boostedSimilarityInput(queryPrimary model.Sector, mem model.Memory, c *candidate) float64 {
	if len(c.sims) == 0 {
		return 0
	}
	var weighted, weightSum, best float64
	for sector, sim := range c.sims {
		w := e.Config.Weights.of(sector)
		weighted += sim * w
		weightSum += w
		if sim > best {
			best = sim
		}
	}
	var mvf float64
	if weightSum > 0 {
		mvf = weighted / weightSum
	}
	resonance := e.Config.ResonanceBase
	if mem.PrimarySector == queryPrimary {
		resonance = e.Config.ResonanceMatch
	}
	bs := model.Clamp01(mvf * resonance)
	if best > bs {
		bs = best
	}
	return bs
}

// zScoreNormalize rewrites each candidate's score in place to
// (score-mean)/(std+eps), §4.5 step 8.
func zScoreNormalize(scored []scoredCandidate) {
	if len(scored) == 0 {
		return
	}
	var sum float64
	for _, s := range scored {
		sum += s.score
	}
	mean := sum / float64(len(scored))

	var variance float64
	for _, s := range scored {
		d := s.score - mean
		variance += d * d
	}
	variance /= float64(len(scored))
	std := math.Sqrt(variance)

	const eps = 1e-8
	for i := range scored {
		scored[i].score = (scored[i].score - mean) / (std + eps)
	}
}
