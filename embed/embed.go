// Package embed implements the embedding pipeline: a deterministic
// synthetic hashing embedder, provider-backed semantic embedders behind a
// common Embedder interface, retry/backoff for the HTTP-backed providers,
// and the sector-fusion helpers used to build a memory's mean_vec.
//
// Grounded on pkg/memory/embeeding.go (Embedder interface, AutoEmbedder,
// safeEmbed) and pkg/memory/embeeding_{vertex,ollama,claude}.go /
// pkg/memory/embed/fast_embed.go for the concrete provider shapes.
package embed

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/Raezil/hsg-memory/model"
)

// Embedder is a pluggable text-embedding provider, sector-aware so a
// provider can, in principle, specialize its output per cognitive sector.
type Embedder interface {
	Embed(ctx context.Context, text string, sector model.Sector) ([]float32, error)
	Name() string
}

// ErrNotSupported is returned by providers that do not offer an embeddings
// endpoint (e.g. the Claude stub — Anthropic publishes none).
var ErrNotSupported = errors.New("embed: embeddings not supported by this provider")

// Resize truncates or zero-pads v to exactly dim elements, per §4.3's
// "resize (truncate or zero-pad) to vec_dim" clause for provider vectors.
func Resize(v []float32, dim int) []float32 {
	if len(v) == dim {
		return v
	}
	out := make([]float32, dim)
	copy(out, v)
	return out
}

// Pool mean-pools src down to a lower dimension by averaging contiguous
// buckets, used both for the "pooled-to-128-dim semantic vector" fusion
// input and for decay's vector compression.
func Pool(src []float32, dim int) []float32 {
	if dim <= 0 || len(src) <= dim {
		return Resize(src, dim)
	}
	out := make([]float32, dim)
	bucket := float64(len(src)) / float64(dim)
	for i := 0; i < dim; i++ {
		start := int(float64(i) * bucket)
		end := int(float64(i+1) * bucket)
		if end <= start {
			end = start + 1
		}
		if end > len(src) {
			end = len(src)
		}
		var sum float32
		n := 0
		for j := start; j < end; j++ {
			sum += src[j]
			n++
		}
		if n > 0 {
			out[i] = sum / float32(n)
		}
	}
	return out
}

// MeanPool averages a list of equal-length chunk vectors, per §4.3's
// "embed each chunk per sector and average (mean-pool) the chunk vectors"
// clause.
func MeanPool(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	if len(vectors) == 1 {
		return append([]float32(nil), vectors[0]...)
	}
	dim := len(vectors[0])
	out := make([]float32, dim)
	for _, v := range vectors {
		for i := 0; i < dim && i < len(v); i++ {
			out[i] += v[i]
		}
	}
	n := float32(len(vectors))
	for i := range out {
		out[i] /= n
	}
	return out
}

// retryBackoff runs fn up to attempts times with exponential backoff
// starting at base, per §4.3's "up to 3 attempts with exponential backoff
// starting at 1s" clause. A RetryAfter error (HTTP 429) overrides the
// computed delay with its After value. The only provider that returns one,
// OpenAIEmbedder, sets After to a fixed 2s; it does not read the server's
// Retry-After header.
type RetryAfter struct {
	Err   error
	After time.Duration
}

func (r *RetryAfter) Error() string { return r.Err.Error() }
func (r *RetryAfter) Unwrap() error { return r.Err }

func retryBackoff(ctx context.Context, attempts int, base time.Duration, fn func() ([]float32, error)) ([]float32, error) {
	var lastErr error
	delay := base
	for i := 0; i < attempts; i++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		wait := delay
		var ra *RetryAfter
		if errors.As(err, &ra) && ra.After > 0 {
			wait = ra.After
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
	return nil, lastErr
}

// SafeEmbed never fails: it falls back to a deterministic synthetic vector
// of the requested dimension when the embedder errors or returns nothing,
// mirroring pkg/memory/embeeding.go's safeEmbed helper.
func SafeEmbed(ctx context.Context, e Embedder, text string, sector model.Sector, dim int) []float32 {
	if e != nil {
		if v, err := e.Embed(ctx, text, sector); err == nil && len(v) > 0 {
			return Resize(v, dim)
		}
	}
	return NewSynthetic(dim).Vector(text, sector)
}

// deterministicJitter derives a stable pseudo-random source from a string
// (an FNV-1a hash of seed). Nothing in this module calls it: the decay
// fingerprint uses NewSynthetic and the skip-gram features use hashInto.
func deterministicJitter(seed string) *rand.Rand {
	var h uint64 = 1469598103934665603
	for i := 0; i < len(seed); i++ {
		h ^= uint64(seed[i])
		h *= 1099511628211
	}
	return rand.New(rand.NewSource(int64(h)))
}
