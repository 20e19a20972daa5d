// Package decay implements the periodic salience-decay, tiering,
// compression and fingerprinting pass (§4.7): every memory is classified
// into a hot/warm/cold tier, its salience is exponentially decayed, and
// once decay has eaten enough of its salience its sector vectors are
// progressively pooled down and its stored essence progressively
// shortened, down to a final 32-dim hash fingerprint and a three-keyword
// summary for memories that go fully cold.
//
// Grounded on engine.Prune's segment-batched sweep in the teacher
// (sample-a-fraction-per-segment, partition across workers, yield
// between items) and embed's synthetic hashing-trick embedder, reused
// here as the "hash-based pseudo-vector" fingerprint generator.
package decay

import (
	"context"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Raezil/hsg-memory/embed"
	"github.com/Raezil/hsg-memory/herr"
	"github.com/Raezil/hsg-memory/ingest"
	"github.com/Raezil/hsg-memory/model"
	"github.com/Raezil/hsg-memory/store"
	"github.com/Raezil/hsg-memory/tokenizer"
)

// Tier is a memory's recency/salience bucket, driving its decay rate.
type Tier string

const (
	Hot  Tier = "hot"
	Warm Tier = "warm"
	Cold Tier = "cold"
)

// Lambda per tier, per day (§4.7).
const (
	LambdaHot  = 0.005
	LambdaWarm = 0.02
	LambdaCold = 0.05
)

// HotWindow is the recency cutoff ("(now - last_seen) < 6 days") shared
// by the hot and warm tier tests.
const HotWindow = 6 * 24 * time.Hour

// HotCoactivations and HotSalience are the hot-tier OR-conditions.
const (
	HotCoactivations = 5
	HotSalience      = 0.7
)

// WarmSalience is the warm-tier fallback threshold for stale-but-salient
// memories.
const WarmSalience = 0.4

// SalienceEpsilon is the minimum salience delta worth persisting.
const SalienceEpsilon = 0.001

// PoolTriggerFactor ("f < 0.7") gates vector pooling and summary
// recompression.
const PoolTriggerFactor = 0.7

// DefaultColdThreshold is the cold_threshold config default used in
// max(0.3, cold_threshold) for the fingerprint gate.
const DefaultColdThreshold = 0.3

// MinVectorDim and FingerprintDim are OM_MIN_VECTOR_DIM and the fixed
// fingerprint width.
const (
	MinVectorDim   = 64
	FingerprintDim = 32
)

// Classify applies §4.7's tier rules. coactivations is a per-memory
// proxy: SPEC_FULL.md does not define a persisted coactivation counter,
// so this engine uses waypoint out-degree (excluding self-loops) as the
// stand-in signal, since every co-activation reinforcement (dynamics
// package) lands as a strengthened outbound edge.
func Classify(now int64, lastSeenAt int64, salience float64, coactivations int) Tier {
	recent := time.Duration(now-lastSeenAt)*time.Millisecond < HotWindow
	if recent && (coactivations > HotCoactivations || salience > HotSalience) {
		return Hot
	}
	if recent || salience > WarmSalience {
		return Warm
	}
	return Cold
}

// Lambda returns the per-day decay rate for a tier.
func Lambda(t Tier) float64 {
	switch t {
	case Hot:
		return LambdaHot
	case Warm:
		return LambdaWarm
	default:
		return LambdaCold
	}
}

// Factor computes f = exp(-lambda*deltaDays/(salience+0.1)), §4.7.
func Factor(lambda, deltaDays, salience float64) float64 {
	return math.Exp(-lambda * deltaDays / (salience + 0.1))
}

// NewSalience applies the decay factor, clamped to [0,1].
func NewSalience(salience, f float64) float64 {
	return model.Clamp01(salience * f)
}

// PooledDim computes max(min_dim, floor(dim*f)), floored again at
// MinVectorDim per §4.7's "(min 64)" clause.
func PooledDim(dim int, f float64, minDim int) int {
	if minDim < MinVectorDim {
		minDim = MinVectorDim
	}
	d := int(math.Floor(float64(dim) * f))
	if d < minDim {
		d = minDim
	}
	if d > dim {
		d = dim
	}
	return d
}

// Config bundles decay's tunables (§6: decay_ratio, decay_sleep_ms,
// compression bounds).
type Config struct {
	DecayRatio    float64       // fraction of each segment sampled per pass, (0,1]
	Threads       int           // worker count partitioning each segment's sample
	Cooldown      time.Duration // minimum spacing between successful passes
	DecaySleep    time.Duration // inter-segment pause
	MinDim        int           // OM_MIN_VECTOR_DIM
	ColdThreshold float64       // cold_threshold, combined as max(0.3, cold_threshold)
	MaxSummaryLen int           // ceiling fed to the extractive/near-raw tiers
}

// DefaultConfig returns the reference tunables.
func DefaultConfig() Config {
	return Config{
		DecayRatio:    1.0,
		Threads:       4,
		Cooldown:      60 * time.Second,
		DecaySleep:    10 * time.Millisecond,
		MinDim:        MinVectorDim,
		ColdThreshold: DefaultColdThreshold,
		MaxSummaryLen: 400,
	}
}

// ActiveQueries reports the number of currently in-flight queries, used
// to skip a pass entirely while any query holds the admission semaphore.
type ActiveQueries func() int

// Pass runs the periodic decay sweep. It is single-instance: Run
// refuses to overlap itself and enforces Config.Cooldown between
// completed runs, matching §5's "a second invocation within cooldown is
// a no-op" and §8 invariant 6.
type Pass struct {
	Store   store.MetadataStore
	Vectors store.VectorStore
	Graph   store.GraphStore
	Config  Config
	Active  ActiveQueries
	Now     func() time.Time

	mu      sync.Mutex
	running bool
	lastRun time.Time
}

// Result is run_decay's §6 output shape.
type Result struct {
	Processed int
	Decayed   int
}

func (p *Pass) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Run executes one decay pass, or a no-op if a pass is already running,
// the cooldown hasn't elapsed, or any query is currently active.
// Decay errors on one memory never abort the pass (§7).
func (p *Pass) Run(ctx context.Context) (Result, error) {
	if p.Active != nil && p.Active() > 0 {
		return Result{}, nil
	}

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return Result{}, nil
	}
	if !p.lastRun.IsZero() && p.now().Sub(p.lastRun) < p.Config.Cooldown {
		p.mu.Unlock()
		return Result{}, nil
	}
	p.running = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.running = false
		p.lastRun = p.now()
		p.mu.Unlock()
	}()

	segments, err := p.Store.Segments(ctx)
	if err != nil {
		return Result{}, herr.Storagef(err, "decay: segments")
	}

	var processed, decayed atomic.Int64
	for _, seg := range segments {
		select {
		case <-ctx.Done():
			return Result{Processed: int(processed.Load()), Decayed: int(decayed.Load())}, nil
		default:
		}
		rows, err := p.Store.SegmentRows(ctx, seg)
		if err != nil {
			continue // a storage error on one segment does not abort the pass
		}
		sample := sampleRows(rows, p.Config.DecayRatio)

		workers := p.Config.Threads
		if workers <= 0 {
			workers = 1
		}
		var wg sync.WaitGroup
		sem := make(chan struct{}, workers)
		for i := range sample {
			mem := sample[i]
			sem <- struct{}{}
			wg.Add(1)
			go func(m model.Memory) {
				defer wg.Done()
				defer func() { <-sem }()
				changed, err := p.processOne(ctx, m)
				if err != nil {
					return // per-memory errors are swallowed, §7
				}
				processed.Add(1)
				if changed {
					decayed.Add(1)
				}
			}(mem)
			runtime.Gosched() // cooperative yield between items, §5
		}
		wg.Wait()

		if p.Config.DecaySleep > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(p.Config.DecaySleep):
			}
		}
	}

	return Result{Processed: int(processed.Load()), Decayed: int(decayed.Load())}, nil
}

// sampleRows picks a ratio-sized, randomly-offset contiguous window of
// rows, per §4.7's "samples a fraction of rows at a random offset".
func sampleRows(rows []model.Memory, ratio float64) []model.Memory {
	if ratio <= 0 {
		ratio = 1
	}
	if ratio >= 1 || len(rows) == 0 {
		return rows
	}
	n := int(math.Ceil(float64(len(rows)) * ratio))
	if n <= 0 {
		n = 1
	}
	if n >= len(rows) {
		return rows
	}
	offset := rand.Intn(len(rows) - n + 1)
	return rows[offset : offset+n]
}

func (p *Pass) processOne(ctx context.Context, mem model.Memory) (bool, error) {
	now := model.NowMS(p.now())
	deltaDays := float64(now-mem.LastSeenAt) / float64(24*time.Hour/time.Millisecond)
	if deltaDays < 0 {
		deltaDays = 0
	}

	coactivations, err := p.degree(ctx, mem.ID)
	if err != nil {
		return false, err
	}
	tier := Classify(now, mem.LastSeenAt, mem.Salience, coactivations)
	lambda := Lambda(tier)
	f := Factor(lambda, deltaDays, mem.Salience)
	newSal := NewSalience(mem.Salience, f)

	changed := false
	if math.Abs(newSal-mem.Salience) > SalienceEpsilon {
		if err := p.Store.UpdateSalience(ctx, mem.ID, newSal); err != nil {
			return false, err
		}
		changed = true
	}
	mem.Salience = newSal

	if f < PoolTriggerFactor {
		compressed, err := p.compress(ctx, mem, f)
		if err != nil {
			return changed, err
		}
		changed = changed || compressed
	}
	return changed, nil
}

// degree counts a memory's non-self-loop outbound waypoints across all
// namespaces, the coactivation-count stand-in Classify uses.
func (p *Pass) degree(ctx context.Context, id uuid.UUID) (int, error) {
	neighbors, err := p.Graph.Neighbors(ctx, id, "")
	if err != nil {
		return 0, err
	}
	n := 0
	for _, w := range neighbors {
		if w.DstID != id {
			n++
		}
	}
	return n, nil
}

// compress applies §4.7's pooling and tiered summary recompression
// (f < 0.7), and fingerprinting (f < max(0.3, cold_threshold)) on top.
// It reports whether anything was actually written.
func (p *Pass) compress(ctx context.Context, mem model.Memory, f float64) (bool, error) {
	coldThreshold := p.Config.ColdThreshold
	if coldThreshold < DefaultColdThreshold {
		coldThreshold = DefaultColdThreshold
	}
	fingerprint := f < coldThreshold

	minDim := p.Config.MinDim
	if minDim <= 0 {
		minDim = MinVectorDim
	}

	wrote := false
	for _, sector := range model.Sectors {
		vec, ok, err := p.Vectors.Fetch(ctx, mem.ID, sector)
		if err != nil {
			return wrote, err
		}
		if !ok || len(vec) == 0 {
			continue
		}
		var next []float32
		if fingerprint {
			next = fingerprintVector(mem.ID, mem.Content, sector)
		} else {
			dim := PooledDim(len(vec), f, minDim)
			if dim >= len(vec) {
				continue
			}
			next = model.L2Normalize(embed.Pool(vec, dim), 1e-8)
		}
		if err := p.Vectors.Upsert(ctx, mem.ID, sector, mem.Namespaces, next); err != nil {
			return wrote, err
		}
		wrote = true
	}

	var summary string
	if fingerprint {
		summary = keywordSummary(mem.Content, 3)
	} else {
		summary = compressSummary(mem.Content, f, p.Config.MaxSummaryLen)
	}
	if summary != mem.Content {
		mem.Content = summary
		if err := p.Store.UpdateMemory(ctx, mem); err != nil {
			return wrote, err
		}
		wrote = true
	}
	return wrote, nil
}

// compressSummary implements the three proportional-to-f compression
// tiers: near-raw truncation for the mildest decay, an extractive
// sentence summary in the middle band, and a top-keyword reduction just
// above the fingerprint gate.
func compressSummary(content string, f float64, maxLen int) string {
	if maxLen <= 0 {
		maxLen = 400
	}
	ratio := f / PoolTriggerFactor
	switch {
	case ratio >= 0.66:
		budget := int(float64(len(content)) * f)
		if budget <= 0 {
			budget = 1
		}
		if budget >= len(content) {
			return content
		}
		return ingest.ExtractEssence(content, budget)
	case ratio >= 0.33:
		return ingest.ExtractEssence(content, maxLen/2)
	default:
		return keywordSummary(content, 5)
	}
}

// keywordSummary reduces content to its n most frequent canonical
// tokens, space-joined in descending-frequency order (ties broken by
// first occurrence), matching §4.7's "top-keyword reduction" /
// "top-3 keywords" fingerprint summary.
func keywordSummary(content string, n int) string {
	tokens := tokenizer.Canonicalize(content, nil)
	counts := make(map[string]int, len(tokens))
	order := make(map[string]int, len(tokens))
	for i, t := range tokens {
		if _, seen := order[t]; !seen {
			order[t] = i
		}
		counts[t]++
	}
	unique := make([]string, 0, len(counts))
	for t := range counts {
		unique = append(unique, t)
	}
	sort.Slice(unique, func(i, j int) bool {
		if counts[unique[i]] != counts[unique[j]] {
			return counts[unique[i]] > counts[unique[j]]
		}
		return order[unique[i]] < order[unique[j]]
	})
	if n > len(unique) {
		n = len(unique)
	}
	top := unique[:n]
	out := ""
	for i, t := range top {
		if i > 0 {
			out += " "
		}
		out += t
	}
	return out
}

// fingerprintVector derives a 32-dim hash-based pseudo-vector from
// id+summary, reusing the synthetic hashing-trick embedder (§4.3) as the
// hash source rather than hand-rolling a second one.
func fingerprintVector(id uuid.UUID, summary string, sector model.Sector) []float32 {
	seed := id.String() + "|" + summary
	return embed.NewSynthetic(FingerprintDim).Vector(seed, sector)
}
