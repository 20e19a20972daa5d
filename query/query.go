// Package query implements hsg_query (§4.5): classify the query, scan
// per-sector candidates, expand low-confidence result sets over the
// waypoint graph, score every candidate with the hybrid formula, z-score
// normalize, and apply the post-response reinforcement side effects.
//
// Grounded on engine.Retrieve's candidate-scan-then-score shape and
// engine/mcts.go's weighted graph expansion in the teacher, generalized
// from a single similarity channel to the five-sector candidate scan and
// BFS expansion this engine's associative graph needs.
package query

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Raezil/hsg-memory/cache"
	"github.com/Raezil/hsg-memory/classify"
	"github.com/Raezil/hsg-memory/decay"
	"github.com/Raezil/hsg-memory/dynamics"
	"github.com/Raezil/hsg-memory/embed"
	"github.com/Raezil/hsg-memory/herr"
	"github.com/Raezil/hsg-memory/keyword"
	"github.com/Raezil/hsg-memory/model"
	"github.com/Raezil/hsg-memory/store"
	"github.com/Raezil/hsg-memory/tokenizer"
)

// Filters narrows a query's candidate set (§4.5, §6).
type Filters struct {
	Sectors     []model.Sector
	MinSalience float64
	Namespaces  []string
}

// Input is hsg_query's input per §6.
type Input struct {
	Query   string
	K       int
	Filters Filters
}

// Result is one ranked hit per §6's output shape.
type Result struct {
	ID            uuid.UUID
	Content       string
	Score         float64
	Sectors       []model.Sector
	PrimarySector model.Sector
	Path          int // BFS traversal path length; 0 if not expanded
	Salience      float64
	LastSeenAt    int64
}

// HybridWeights are the sector-specific W_s multipliers of §4.5 step 7's
// multi-vector fusion score; absent entries default to 1.0.
type HybridWeights map[model.Sector]float64

// DefaultHybridWeights mildly upweights emotional and episodic content
// for queries classified into those sectors, per §4.5's "emotional
// queries upweight emotional, etc." clause; reflective gets a slight
// 1.05, and semantic and procedural are neutral at 1.0.
func DefaultHybridWeights() HybridWeights {
	return HybridWeights{
		model.Emotional: 1.3,
		model.Episodic:  1.15,
		model.Semantic:  1.0,
		model.Procedural: 1.0,
		model.Reflective: 1.05,
	}
}

func (w HybridWeights) of(s model.Sector) float64 {
	if v, ok := w[s]; ok {
		return v
	}
	return 1.0
}

// Config bundles §4.5's tunable constants.
type Config struct {
	VecDim             int     // query embedding dimension (vec_dim)
	CandidateScanLimit int     // per-sector vector-repository pull cap (1000)
	TopPerSectorMult   int     // "retain top 3k per sector" multiplier
	TopMeanCount       int     // "mean of the top-8 similarities"
	HighConfThreshold  float64 // 0.55
	BFSMaxNeighborsK   int     // "visit at most 2k neighbors"
	BFSChildDecay      float64 // parent.weight * edge.weight * 0.8
	BFSWeightFloor     float64 // stop expanding below 0.1
	Tau                float64 // boosted(s) = 1 - exp(-tau*s)
	RecencyT           float64 // T=7
	RecencyTmax        float64 // Tmax=60
	KeywordBoost       float64 // optional flat addend when hybrid tier enabled
	HybridTierEnabled  bool
	ResonanceMatch     float64 // resonance multiplier when primary sectors match
	ResonanceBase      float64 // resonance multiplier otherwise
	Weights            HybridWeights
	RetrievalTraceBoost float64 // apply_retrieval_trace's salience bump
	EdgeReinforceDelta  float64 // "+0.05" per path edge
	Gamma               float64 // propagation fraction, 0.2
	ReembedMaxDim       int     // "sector vector is <=64-dim" re-embed gate
	ReembedTargetDim    int     // dimension fresh re-embeds are produced at
}

// DefaultConfig returns the reference tunables.
func DefaultConfig() Config {
	return Config{
		VecDim:              256,
		CandidateScanLimit:  1000,
		TopPerSectorMult:    3,
		TopMeanCount:        8,
		HighConfThreshold:   0.55,
		BFSMaxNeighborsK:    2,
		BFSChildDecay:       0.8,
		BFSWeightFloor:      0.1,
		Tau:                 3,
		RecencyT:            7,
		RecencyTmax:         60,
		KeywordBoost:        0,
		HybridTierEnabled:   false,
		ResonanceMatch:      1.15,
		ResonanceBase:       1.0,
		Weights:             DefaultHybridWeights(),
		RetrievalTraceBoost: 0.05,
		EdgeReinforceDelta:  0.05,
		Gamma:               0.2,
		ReembedMaxDim:       64,
		ReembedTargetDim:    256,
	}
}

// Engine wires the query pipeline to a backend and caches.
type Engine struct {
	Store      store.MetadataStore
	Vectors    store.VectorStore
	Graph      store.GraphStore
	Classifier *classify.Classifier
	Embedder   embed.Embedder
	Cache      *cache.QueryCache[[]Result]
	Admission  *cache.Admission
	Coact      *dynamics.Buffer
	Config     Config
	Now        func() time.Time

	// Keyword is the optional full-text index feeding keyword_boost for
	// the hybrid/deep tiers; nil for fast/smart, where the boost falls
	// back to plain token overlap.
	Keyword *keyword.Index
	// Salience caches decayed-salience computations per memory within
	// the cache TTL; invalidated when a query's side effects reinforce
	// the row.
	Salience *cache.SalienceCache
	// VecBytes caches packed sector vectors fetched during the re-embed
	// check, size-capped per §5.
	VecBytes *cache.VectorCache
}

// New constructs an Engine, defaulting Classifier/Config/Now when left
// zero.
func New(st store.MetadataStore, vec store.VectorStore, graph store.GraphStore, embedder embed.Embedder) *Engine {
	return &Engine{
		Store:      st,
		Vectors:    vec,
		Graph:      graph,
		Classifier: classify.New(nil),
		Embedder:   embedder,
		Cache:      cache.NewQueryCache[[]Result](cache.DefaultQueryTTL),
		Admission:  cache.NewAdmission(0),
		Coact:      dynamics.NewBuffer(1000, graph, nil),
		Config:     DefaultConfig(),
		Now:        time.Now,
		Salience:   cache.NewSalienceCache(cache.DefaultQueryTTL),
		VecBytes:   cache.NewVectorCache(0),
	}
}

func (e *Engine) now() int64 {
	if e.Now == nil {
		return model.NowMS(time.Now())
	}
	return model.NowMS(e.Now())
}

// candidate accumulates everything scoring needs about one memory seen
// during the scan/expansion phases.
type candidate struct {
	sims   map[model.Sector]float64 // best similarity observed per sector
	path   int                      // BFS hops from nearest seed; -1 if a direct scan hit
	ww     float64                  // waypoint weight carried from the BFS path entry
	parent uuid.UUID                // BFS predecessor, for path-edge reinforcement
}

// Query runs the full §4.5 pipeline.
func (e *Engine) Query(ctx context.Context, in Input) ([]Result, error) {
	if in.K < 1 {
		return nil, herr.Validationf("query: k must be >= 1")
	}
	if err := e.Admission.Enter(); err != nil {
		return nil, herr.RateLimitf("query: admission limit reached")
	}
	defer e.Admission.Leave()

	key := cacheKey(in)
	if e.Cache != nil {
		if hit, ok := e.Cache.Get(key); ok {
			return hit, nil
		}
	}

	classification := e.Classifier.Classify(in.Query, "")
	candSectors := intersectSectors(classification.Sectors(), in.Filters.Sectors)
	if len(candSectors) == 0 {
		candSectors = []model.Sector{model.Semantic}
	}

	dim := e.Config.VecDim
	if dim <= 0 {
		dim = 256
	}
	queryVecs := e.embedQuery(ctx, in.Query, candSectors, dim)

	candidates := make(map[uuid.UUID]*candidate)
	var topSims []float64
	perSectorLimit := e.Config.TopPerSectorMult * in.K

	for _, s := range candSectors {
		hits, err := e.Vectors.Search(ctx, queryVecs[s], s, in.Filters.Namespaces, e.Config.CandidateScanLimit, false)
		if err != nil {
			return nil, herr.Storagef(err, "query: search sector %s", s)
		}
		sort.Slice(hits, func(i, j int) bool {
			if hits[i].Similarity != hits[j].Similarity {
				return hits[i].Similarity > hits[j].Similarity
			}
			return hits[i].ID.String() < hits[j].ID.String()
		})
		if len(hits) > perSectorLimit {
			hits = hits[:perSectorLimit]
		}
		for _, h := range hits {
			c, ok := candidates[h.ID]
			if !ok {
				c = &candidate{sims: map[model.Sector]float64{}, path: -1}
				candidates[h.ID] = c
			}
			c.sims[s] = h.Similarity
			topSims = append(topSims, h.Similarity)
		}
	}

	sort.Sort(sort.Reverse(sort.Float64Slice(topSims)))
	meanTop := meanOfTop(topSims, e.Config.TopMeanCount)
	highConf := meanTop >= e.Config.HighConfThreshold
	adaptExp := int(math.Ceil(0.3 * float64(in.K) * (1 - meanTop)))
	effK := in.K + adaptExp

	if !highConf {
		seeds := make([]uuid.UUID, 0, len(candidates))
		for id := range candidates {
			seeds = append(seeds, id)
		}
		sort.Slice(seeds, func(i, j int) bool { return seeds[i].String() < seeds[j].String() })
		expanded, err := e.expand(ctx, seeds, in.K)
		if err != nil {
			return nil, herr.Storagef(err, "query: graph expansion")
		}
		for id, hit := range expanded {
			if _, already := candidates[id]; already {
				continue // a direct scan hit keeps its own (path=-1, ww=0) shape
			}
			candidates[id] = &candidate{sims: map[model.Sector]float64{}, path: hit.path, ww: hit.weight, parent: hit.parent}
		}
	}

	queryTokens := tokenizer.Canonicalize(in.Query, nil)
	now := e.now()

	var kwBoosts map[uuid.UUID]float64
	if e.Config.HybridTierEnabled && e.Keyword != nil {
		kwBoosts, _ = e.Keyword.Boosts(in.Query, e.Config.CandidateScanLimit)
	}

	scored := make([]scoredCandidate, 0, len(candidates))
	for id, c := range candidates {
		mem, ok, err := e.Store.GetMemory(ctx, id)
		if err != nil {
			return nil, herr.Storagef(err, "query: get memory %s", id)
		}
		if !ok {
			continue // dropped: per-candidate errors/misses never fail the whole query, §7
		}
		if len(in.Filters.Namespaces) > 0 && !model.NamespacesOverlap(mem.Namespaces, in.Filters.Namespaces) {
			continue
		}
		deltaDays := daysBetween(now, mem.LastSeenAt)
		sal := e.decayedSalience(ctx, mem, now, deltaDays)
		if sal < in.Filters.MinSalience {
			continue
		}

		r := e.score(classification.Primary, queryVecs, queryTokens, mem, c, deltaDays, kwBoosts[id])
		scored = append(scored, scoredCandidate{mem: mem, c: c, score: r, salience: sal})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].mem.ID.String() < scored[j].mem.ID.String()
	})
	if len(scored) > effK {
		scored = scored[:effK]
	}
	zScoreNormalize(scored)
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].mem.ID.String() < scored[j].mem.ID.String()
	})
	if len(scored) > in.K {
		scored = scored[:in.K]
	}

	results := make([]Result, len(scored))
	for i, s := range scored {
		sectors := []model.Sector{s.mem.PrimarySector}
		for sec := range s.c.sims {
			if sec != s.mem.PrimarySector {
				sectors = append(sectors, sec)
			}
		}
		path := s.c.path
		if path < 0 {
			path = 0
		}
		results[i] = Result{
			ID:            s.mem.ID,
			Content:       s.mem.Content,
			Score:         s.score,
			Sectors:       sectors,
			PrimarySector: s.mem.PrimarySector,
			Path:          path,
			Salience:      s.salience,
			LastSeenAt:    s.mem.LastSeenAt,
		}
	}

	e.applySideEffects(ctx, now, scored, candidates)

	if e.Cache != nil {
		e.Cache.Set(key, results)
	}
	return results, nil
}

func cacheKey(in Input) string {
	sectors := append([]model.Sector(nil), in.Filters.Sectors...)
	sort.Slice(sectors, func(i, j int) bool { return sectors[i] < sectors[j] })
	extra := ""
	for _, s := range sectors {
		extra += string(s) + ","
	}
	return cache.QueryKey(in.Query+"|"+extra+fmt.Sprintf("%.6f", in.Filters.MinSalience), in.K, in.Filters.Namespaces)
}

func intersectSectors(candidates, filter []model.Sector) []model.Sector {
	if len(filter) == 0 {
		return candidates
	}
	allowed := make(map[model.Sector]bool, len(filter))
	for _, s := range filter {
		allowed[s] = true
	}
	out := make([]model.Sector, 0, len(candidates))
	for _, s := range candidates {
		if allowed[s] {
			out = append(out, s)
		}
	}
	return out
}

func meanOfTop(sortedDesc []float64, n int) float64 {
	if len(sortedDesc) == 0 {
		return 0
	}
	if n > len(sortedDesc) {
		n = len(sortedDesc)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += sortedDesc[i]
	}
	return sum / float64(n)
}

func daysBetween(nowMS, thenMS int64) float64 {
	d := float64(nowMS-thenMS) / float64(24*time.Hour/time.Millisecond)
	if d < 0 {
		return 0
	}
	return d
}

// decayedSalience applies §4.7's calc_decay without persisting it
// (query only persists reinforced salience in its own side-effect step);
// it reuses decay's tier/lambda/factor helpers for one consistent decay
// law across the engine rather than a second formula living here.
func (e *Engine) decayedSalience(ctx context.Context, mem model.Memory, now int64, deltaDays float64) float64 {
	if e.Salience != nil {
		if cached, ok := e.Salience.Get(mem.ID.String()); ok {
			return cached
		}
	}
	coact := 0
	if neighbors, err := e.Graph.Neighbors(ctx, mem.ID, ""); err == nil {
		for _, w := range neighbors {
			if w.DstID != mem.ID {
				coact++
			}
		}
	}
	tier := decay.Classify(now, mem.LastSeenAt, mem.Salience, coact)
	f := decay.Factor(decay.Lambda(tier), deltaDays, mem.Salience)
	sal := decay.NewSalience(mem.Salience, f)
	if e.Salience != nil {
		e.Salience.Set(mem.ID.String(), sal)
	}
	return sal
}

type scoredCandidate struct {
	mem      model.Memory
	c        *candidate
	score    float64
	salience float64
}

// embedQuery embeds the query once per candidate sector, fanning out
// across sectors in parallel unless the provider demands single-flight
// ordering (§5's parallelism rule). SafeEmbed never fails, so the group
// exists for the wait/cancellation plumbing, not error collection.
func (e *Engine) embedQuery(ctx context.Context, text string, sectors []model.Sector, dim int) map[model.Sector][]float32 {
	out := make(map[model.Sector][]float32, len(sectors))
	if embed.IsSingleFlight(e.Embedder) || len(sectors) < 2 {
		for _, s := range sectors {
			out[s] = embed.SafeEmbed(ctx, e.Embedder, text, s, dim)
		}
		return out
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range sectors {
		s := s
		g.Go(func() error {
			v := embed.SafeEmbed(gctx, e.Embedder, text, s, dim)
			mu.Lock()
			out[s] = v
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}
