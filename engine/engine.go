// Package engine wires the metadata/vector/graph stores, classifier,
// embedder, ingest pipeline, query pipeline, decay pass and
// co-activation buffer into the seven public operations of §6:
// add_memory, query, update_memory, delete_memory, reinforce_memory,
// run_decay and prune_waypoints.
//
// Grounded on pkg/memory/memory.go's facade-over-subpackages pattern in
// the teacher, adapted from a type-alias-only facade (the teacher's own
// subpackages were complete enough to just re-export) into one that also
// owns the cross-package wiring this engine's richer subsystem split
// needs — per §9's "reimplement as an engine struct owned by the server,
// with explicit init/teardown; avoid global singletons" design note, the
// engine never touches a package-level variable.
package engine

import (
	"context"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Raezil/hsg-memory/cache"
	"github.com/Raezil/hsg-memory/classify"
	"github.com/Raezil/hsg-memory/decay"
	"github.com/Raezil/hsg-memory/dynamics"
	"github.com/Raezil/hsg-memory/embed"
	"github.com/Raezil/hsg-memory/herr"
	"github.com/Raezil/hsg-memory/ingest"
	"github.com/Raezil/hsg-memory/keyword"
	"github.com/Raezil/hsg-memory/model"
	"github.com/Raezil/hsg-memory/query"
	"github.com/Raezil/hsg-memory/store"
	"github.com/Raezil/hsg-memory/waypoint"
)

// Options bundles every §6 "recognized configuration option" this
// engine consumes at construction time.
type Options struct {
	MetadataBackend  string // embedded | remote; consumed by cmd wiring, informational here
	VecDim           int
	SegSize          int64
	SummaryMaxLength int
	UseSummaryOnly   bool
	Tier             string // fast | smart | hybrid | deep
	MaxActive        int
	CacheSegments    int // segment-count cache switch; <=0 disables, any positive value enables

	EmbKind      string // provider tag for emb_kind; "" auto-selects
	EmbedMode    string // simple | advanced
	EmbedDelay   time.Duration
	KeywordBoost float64

	DecayRatio    float64
	DecayThreads  int
	DecayCooldown time.Duration
	DecaySleep    time.Duration
	MinVectorDim  int // OM_MIN_VECTOR_DIM; floor for pooled vectors
	MaxVectorDim  int // OM_MAX_VECTOR_DIM; dimension re-embeds are produced at
	ColdThreshold float64

	CoactivationCapacity      int
	CoactivationDrainInterval time.Duration
	CoactivationDrainBatch    int

	Logger *log.Logger
	Now    func() time.Time
}

// DefaultOptions returns the reference tunables named across §4/§6.
func DefaultOptions() Options {
	return Options{
		MetadataBackend:           "embedded",
		VecDim:                    256,
		SegSize:                   500,
		SummaryMaxLength:          400,
		Tier:                      "fast",
		MaxActive:                 32,
		CacheSegments:             64,
		EmbedMode:                 "simple",
		KeywordBoost:              0.1,
		DecayRatio:                1.0,
		DecayThreads:              4,
		DecayCooldown:             60 * time.Second,
		DecaySleep:                10 * time.Millisecond,
		MinVectorDim:              decay.MinVectorDim,
		MaxVectorDim:              256,
		ColdThreshold:             decay.DefaultColdThreshold,
		CoactivationCapacity:      1000,
		CoactivationDrainInterval: dynamics.DrainInterval,
		CoactivationDrainBatch:    dynamics.DrainBatch,
	}
}

// WithLogger returns a copy of o using l for engine diagnostics.
func (o Options) WithLogger(l *log.Logger) Options {
	o.Logger = l
	return o
}

// withDefaults fills zero fields from DefaultOptions, so New and tests
// can pass sparse Options without repeating fallback logic at each
// consumer. UseSummaryOnly, MaxActive, CacheSegments, EmbKind, EmbedDelay
// and DecaySleep are left as given, since zero is meaningful for them.
func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.MetadataBackend == "" {
		o.MetadataBackend = def.MetadataBackend
	}
	if o.VecDim <= 0 {
		o.VecDim = def.VecDim
	}
	if o.SegSize <= 0 {
		o.SegSize = def.SegSize
	}
	if o.SummaryMaxLength <= 0 {
		o.SummaryMaxLength = def.SummaryMaxLength
	}
	if o.Tier == "" {
		o.Tier = def.Tier
	}
	if o.EmbedMode == "" {
		o.EmbedMode = def.EmbedMode
	}
	if o.KeywordBoost <= 0 {
		o.KeywordBoost = def.KeywordBoost
	}
	if o.DecayRatio <= 0 {
		o.DecayRatio = def.DecayRatio
	}
	if o.DecayThreads <= 0 {
		o.DecayThreads = def.DecayThreads
	}
	if o.DecayCooldown <= 0 {
		o.DecayCooldown = def.DecayCooldown
	}
	if o.MinVectorDim <= 0 {
		o.MinVectorDim = def.MinVectorDim
	}
	if o.MaxVectorDim <= 0 {
		o.MaxVectorDim = def.MaxVectorDim
	}
	if o.ColdThreshold <= 0 {
		o.ColdThreshold = def.ColdThreshold
	}
	if o.CoactivationCapacity <= 0 {
		o.CoactivationCapacity = def.CoactivationCapacity
	}
	if o.CoactivationDrainInterval <= 0 {
		o.CoactivationDrainInterval = def.CoactivationDrainInterval
	}
	if o.CoactivationDrainBatch <= 0 {
		o.CoactivationDrainBatch = def.CoactivationDrainBatch
	}
	if o.Logger == nil {
		o.Logger = log.New(os.Stderr, "hsg: ", log.LstdFlags)
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// OptionsFromEnv starts from DefaultOptions and applies HSG_-prefixed
// environment overrides for the recognized configuration keys, plus the
// OM_-prefixed decay/compression constants §6 names. Unset or malformed
// variables leave the default untouched.
func OptionsFromEnv() Options {
	o := DefaultOptions()
	envString(&o.MetadataBackend, "HSG_METADATA_BACKEND")
	envInt(&o.VecDim, "HSG_VEC_DIM")
	envInt64(&o.SegSize, "HSG_SEG_SIZE")
	envInt(&o.SummaryMaxLength, "HSG_SUMMARY_MAX_LENGTH")
	envBool(&o.UseSummaryOnly, "HSG_USE_SUMMARY_ONLY")
	envString(&o.Tier, "HSG_TIER")
	envInt(&o.MaxActive, "HSG_MAX_ACTIVE")
	envInt(&o.CacheSegments, "HSG_CACHE_SEGMENTS")
	envString(&o.EmbKind, "HSG_EMB_KIND")
	envString(&o.EmbedMode, "HSG_EMBED_MODE")
	envMillis(&o.EmbedDelay, "HSG_EMBED_DELAY_MS")
	envFloat(&o.KeywordBoost, "HSG_KEYWORD_BOOST")
	envFloat(&o.DecayRatio, "HSG_DECAY_RATIO")
	envInt(&o.DecayThreads, "HSG_DECAY_THREADS")
	envMillis(&o.DecaySleep, "HSG_DECAY_SLEEP_MS")
	envMillis(&o.DecayCooldown, "OM_DECAY_COOLDOWN_MS")
	envFloat(&o.ColdThreshold, "OM_DECAY_COLD_THRESHOLD")
	envInt(&o.MinVectorDim, "OM_MIN_VECTOR_DIM")
	envInt(&o.MaxVectorDim, "OM_MAX_VECTOR_DIM")
	return o
}

func envString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key))); err == nil {
		*dst = v
	}
}

func envInt64(dst *int64, key string) {
	if v, err := strconv.ParseInt(strings.TrimSpace(os.Getenv(key)), 10, 64); err == nil {
		*dst = v
	}
}

func envFloat(dst *float64, key string) {
	if v, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64); err == nil {
		*dst = v
	}
}

func envBool(dst *bool, key string) {
	if v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key))); err == nil {
		*dst = v
	}
}

func envMillis(dst *time.Duration, key string) {
	if v, err := strconv.ParseInt(strings.TrimSpace(os.Getenv(key)), 10, 64); err == nil {
		*dst = time.Duration(v) * time.Millisecond
	}
}

// keywordTier reports whether the configured tier carries the full-text
// keyword index (hybrid and deep do; fast and smart score token overlap
// by set intersection alone).
func keywordTier(tier string) bool {
	return tier == "hybrid" || tier == "deep"
}

// Engine is the embedded associative-memory store: one struct per
// process (or per tenant, if a caller chooses to run several), owning
// every suspension-point dependency explicitly rather than through a
// global.
type Engine struct {
	Store   store.MetadataStore
	Vectors store.VectorStore
	Graph   store.GraphStore

	Classifier *classify.Classifier
	Embedder   embed.Embedder

	Ingest      *ingest.Pipeline
	QueryEngine *query.Engine
	Decay       *decay.Pass
	Coact       *dynamics.Buffer
	Keyword     *keyword.Index

	opts Options
	log  *log.Logger
	now  func() time.Time
}

// New constructs an Engine over a single Backend implementing all three
// store contracts (§6's reference embedded/Postgres/SQLite backends),
// or over three independently-chosen stores when a caller mixes
// backends (e.g. Postgres metadata + a remote vector DB).
func New(st store.MetadataStore, vec store.VectorStore, graph store.GraphStore, embedder embed.Embedder, opts Options) *Engine {
	opts = opts.withDefaults()
	if embedder == nil {
		embedder = embed.AutoEmbedderKind(opts.EmbKind, opts.VecDim)
	}
	if opts.EmbedMode == "advanced" {
		embedder = embed.NewAdvanced(embedder, opts.EmbedDelay)
	}
	classifier := classify.New(nil)

	var kw *keyword.Index
	if keywordTier(opts.Tier) {
		kw, _ = keyword.NewIndex()
	}

	ing := ingest.New(st, vec, graph, embedder)
	ing.Classifier = classifier
	ing.Now = opts.Now
	ing.Keyword = kw
	if opts.CacheSegments <= 0 {
		ing.Segments = nil
	}
	ing.Config = ingest.Config{
		VecDim:           opts.VecDim,
		SegSize:          opts.SegSize,
		SummaryMaxLength: opts.SummaryMaxLength,
		SmartTier:        opts.Tier == "smart",
		AnchorSimilarity: waypoint.AnchorSimilarity,
		UseSummaryOnly:   opts.UseSummaryOnly,
	}

	q := query.New(st, vec, graph, embedder)
	q.Classifier = classifier
	q.Now = opts.Now
	q.Admission = cache.NewAdmission(opts.MaxActive)
	q.Keyword = kw
	q.Config.VecDim = opts.VecDim
	q.Config.HybridTierEnabled = keywordTier(opts.Tier)
	q.Config.KeywordBoost = opts.KeywordBoost
	q.Config.ReembedTargetDim = opts.MaxVectorDim

	coact := dynamics.NewBuffer(opts.CoactivationCapacity, graph, lastSeenLookup(st))
	coact.Logger = opts.Logger
	q.Coact = coact

	d := &decay.Pass{
		Store:   st,
		Vectors: vec,
		Graph:   graph,
		Now:     opts.Now,
		Active:  func() int { return q.Admission.Active() },
		Config: decay.Config{
			DecayRatio:    opts.DecayRatio,
			Threads:       opts.DecayThreads,
			Cooldown:      opts.DecayCooldown,
			DecaySleep:    opts.DecaySleep,
			MinDim:        opts.MinVectorDim,
			ColdThreshold: opts.ColdThreshold,
			MaxSummaryLen: opts.SummaryMaxLength,
		},
	}

	return &Engine{
		Store: st, Vectors: vec, Graph: graph,
		Classifier: classifier, Embedder: embedder,
		Ingest: ing, QueryEngine: q, Decay: d, Coact: coact, Keyword: kw,
		opts: opts, log: opts.Logger, now: opts.Now,
	}
}

// RebuildKeywordIndex repopulates the in-memory keyword index from the
// persisted essences, for processes restarting on a hybrid/deep tier
// (the index lives in memory only; the stores are the durable copy).
func (e *Engine) RebuildKeywordIndex(ctx context.Context) error {
	if e.Keyword == nil {
		return nil
	}
	all, err := e.Store.AllMemories(ctx, nil)
	if err != nil {
		return herr.Storagef(err, "engine: rebuild keyword index")
	}
	for _, mem := range all {
		if err := e.Keyword.Add(mem.ID, mem.Content); err != nil {
			return herr.Storagef(err, "engine: index memory %s", mem.ID)
		}
	}
	return nil
}

func lastSeenLookup(st store.MetadataStore) dynamics.LastSeenLookup {
	return func(ctx context.Context, id uuid.UUID) (int64, bool) {
		mem, ok, err := st.GetMemory(ctx, id)
		if err != nil || !ok {
			return 0, false
		}
		return mem.LastSeenAt, true
	}
}

// AddMemory runs add_memory (§4.4).
func (e *Engine) AddMemory(ctx context.Context, in ingest.AddMemoryInput) (ingest.AddMemoryResult, error) {
	return e.Ingest.AddMemory(ctx, in)
}

// Query runs hsg_query (§4.5).
func (e *Engine) Query(ctx context.Context, in query.Input) ([]query.Result, error) {
	return e.QueryEngine.Query(ctx, in)
}

// UpdateMemory runs update_memory (§4.10).
func (e *Engine) UpdateMemory(ctx context.Context, in ingest.UpdateMemoryInput) (ingest.UpdateMemoryResult, error) {
	return e.Ingest.UpdateMemory(ctx, in)
}

// DeleteMemory runs delete_memory (§4.10).
func (e *Engine) DeleteMemory(ctx context.Context, in ingest.DeleteMemoryInput) (ingest.DeleteMemoryResult, error) {
	return e.Ingest.DeleteMemory(ctx, in)
}

// ReinforceMemoryResult is reinforce_memory's §6 output shape.
type ReinforceMemoryResult struct {
	OK bool
}

// DefaultReinforceBoost is reinforce_memory's default boost per §6.
const DefaultReinforceBoost = 0.1

// ReinforceMemory runs reinforce_memory: a direct salience bump,
// independent of the smaller retrieval-trace bump query applies
// automatically to its own results (§4.5 step 9).
func (e *Engine) ReinforceMemory(ctx context.Context, id uuid.UUID, boost float64) (ReinforceMemoryResult, error) {
	if boost == 0 {
		boost = DefaultReinforceBoost
	}
	mem, ok, err := e.Store.GetMemory(ctx, id)
	if err != nil {
		return ReinforceMemoryResult{}, herr.Storagef(err, "engine: get memory")
	}
	if !ok {
		return ReinforceMemoryResult{}, herr.NotFoundf("engine: memory %s not found", id)
	}
	newSalience := model.Clamp01(mem.Salience + boost)
	if err := e.Store.UpdateSalience(ctx, id, newSalience); err != nil {
		return ReinforceMemoryResult{}, herr.Storagef(err, "engine: update salience")
	}
	return ReinforceMemoryResult{OK: true}, nil
}

// RunDecay runs run_decay (§4.7): non-fatal by contract, callers get a
// zero Result rather than an error when the pass is skipped.
func (e *Engine) RunDecay(ctx context.Context) (decay.Result, error) {
	res, err := e.Decay.Run(ctx)
	if err != nil && e.log != nil {
		e.log.Printf("decay pass: %v", err)
	}
	return res, err
}

// PruneWaypoints runs prune_waypoints (§4.8), reporting the number of
// edges removed.
func (e *Engine) PruneWaypoints(ctx context.Context) (int, error) {
	return waypoint.Prune(ctx, e.Graph)
}

// RunCoactivationDrain drives the Hebbian co-activation buffer's
// background drain loop (§4.6) until ctx is cancelled. Callers own its
// lifecycle explicitly — typically one goroutine started alongside the
// Engine and stopped by cancelling ctx at shutdown.
func (e *Engine) RunCoactivationDrain(ctx context.Context) {
	e.Coact.Run(ctx, e.opts.CoactivationDrainInterval, e.opts.CoactivationDrainBatch)
}
