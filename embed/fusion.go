package embed

import (
	"math"

	"github.com/Raezil/hsg-memory/model"
)

// SectorVec pairs a sector with its embedding and the sector weight to use
// when fusing, so callers can pass classifier scores straight through.
type SectorVec struct {
	Sector model.Sector
	Vector []float32
	Weight float64
}

// Fuse computes mean_vec as the softmax-weighted average of per-sector
// vectors using w_s = exp(β·weight_s) / Σ exp(β·weight_*) with β=2, then
// L2-normalizes with ε=1e-8, per §4.3.
func Fuse(vectors []SectorVec) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	if len(vectors) == 1 {
		out := append([]float32(nil), vectors[0].Vector...)
		return model.L2Normalize(out, 1e-8)
	}

	const beta = 2.0
	weights := make([]float64, len(vectors))
	var sum float64
	for i, v := range vectors {
		w := math.Exp(beta * v.Weight)
		weights[i] = w
		sum += w
	}
	for i := range weights {
		weights[i] /= sum
	}

	dim := 0
	for _, v := range vectors {
		if len(v.Vector) > dim {
			dim = len(v.Vector)
		}
	}
	out := make([]float32, dim)
	for i, v := range vectors {
		for j := 0; j < len(v.Vector) && j < dim; j++ {
			out[j] += float32(weights[i]) * v.Vector[j]
		}
	}
	return model.L2Normalize(out, 1e-8)
}

// FuseSmart implements the "smart"-tier fusion: concatenate a synthetic
// vector (weight 0.6) with a semantic vector pooled to 128 dims (weight
// 0.4), then L2-normalize, per §4.3's "Fused / smart tier" clause.
func FuseSmart(synthetic, semantic []float32) []float32 {
	pooled := Pool(semantic, 128)
	out := make([]float32, 0, len(synthetic)+len(pooled))
	for _, v := range synthetic {
		out = append(out, v*0.6)
	}
	for _, v := range pooled {
		out = append(out, v*0.4)
	}
	return model.L2Normalize(out, 1e-8)
}
