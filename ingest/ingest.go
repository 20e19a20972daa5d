// Package ingest implements add_memory, update_memory and delete_memory
// (§4.4, §4.10): dedup via simhash, chunking, classification, segment
// allocation, essence extraction, multi-sector embedding, mean-vector
// fusion, and anchor/inter-memory waypoint seeding, all landing inside one
// store transaction.
//
// Grounded on engine.Store in engine/engine.go for the
// chunk/embed/waypoint-seed ordering and PostgresStore.UpsertGraph's
// transaction-wrapped node+edge upsert pattern for the commit-or-rollback
// shape.
package ingest

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Raezil/hsg-memory/cache"
	"github.com/Raezil/hsg-memory/classify"
	"github.com/Raezil/hsg-memory/embed"
	"github.com/Raezil/hsg-memory/herr"
	"github.com/Raezil/hsg-memory/keyword"
	"github.com/Raezil/hsg-memory/model"
	"github.com/Raezil/hsg-memory/store"
	"github.com/Raezil/hsg-memory/tokenizer"
	"github.com/Raezil/hsg-memory/waypoint"
)

// DedupSalienceBoost is added to an existing memory's salience when a
// near-duplicate ingest lands on it (§4.4 step 1).
const DedupSalienceBoost = 0.15

// InitialSalienceBase and InitialSalienceStep compute a new memory's
// starting salience: clamp(0.4 + 0.1*|additional sectors|, 0, 1).
const (
	InitialSalienceBase = 0.4
	InitialSalienceStep = 0.1
)

// SectorDecayLambda seeds Memory.DecayLambda from the classified primary
// sector at ingest time (§3's "decay_lambda (positive real, seeded from
// sector config)"); the decay package's tiering (§4.7) governs the actual
// per-pass decay factor independent of this per-memory field, which is
// carried as persisted configuration metadata rather than consumed by the
// decay math itself.
var SectorDecayLambda = map[model.Sector]float64{
	model.Episodic:   0.02,
	model.Semantic:   0.01,
	model.Procedural: 0.015,
	model.Emotional:  0.03,
	model.Reflective: 0.012,
}

// Config bundles the tunables ingest needs, mirroring the engine.Options
// fields this pipeline consumes (§6: vec_dim, seg_size,
// summary_max_length, tier).
type Config struct {
	VecDim           int
	SegSize          int64
	SummaryMaxLength int
	SmartTier        bool // true when Options.Tier == "smart"
	AnchorSimilarity float64
	// UseSummaryOnly forces essence extraction even for content already
	// inside the length budget; off, under-budget content is stored
	// verbatim.
	UseSummaryOnly bool
}

// DefaultConfig returns the reference tunables used when a caller doesn't
// override them.
func DefaultConfig() Config {
	return Config{VecDim: 256, SegSize: 500, SummaryMaxLength: 400, AnchorSimilarity: waypoint.AnchorSimilarity}
}

// Pipeline wires the add/update/delete operations to a backend.
type Pipeline struct {
	Store      store.MetadataStore
	Vectors    store.VectorStore
	Graph      store.GraphStore
	Classifier *classify.Classifier
	Embedder   embed.Embedder
	Chunker    Chunker
	Config     Config
	Now        func() time.Time

	// Keyword is the optional full-text index kept in sync with stored
	// essences for the hybrid/deep tiers; nil otherwise.
	Keyword *keyword.Index
	// Segments caches per-segment row counts between ingests so segment
	// rotation doesn't re-count on every call; entries age out on the
	// cache TTL, and last-writer-wins staleness is acceptable per §5.
	Segments *cache.SegmentCache[int64]
}

// New constructs a Pipeline, defaulting Chunker/Config/Now/Classifier
// when left zero.
func New(st store.MetadataStore, vec store.VectorStore, graph store.GraphStore, embedder embed.Embedder) *Pipeline {
	return &Pipeline{
		Store:      st,
		Vectors:    vec,
		Graph:      graph,
		Classifier: classify.New(nil),
		Embedder:   embedder,
		Chunker:    NewFixedChunker(1200, 120),
		Config:     DefaultConfig(),
		Now:        time.Now,
		Segments:   cache.NewSegmentCache[int64](cache.DefaultQueryTTL),
	}
}

func (p *Pipeline) now() int64 {
	if p.Now == nil {
		return model.NowMS(time.Now())
	}
	return model.NowMS(p.Now())
}

// AddMemoryInput is add_memory's input per §4.4.
type AddMemoryInput struct {
	Content    string
	Tags       []string
	Meta       map[string]any
	Namespaces []string
	MetaSector model.Sector // optional override, honored by classify.Classify
}

// AddMemoryResult is add_memory's output per §6's external interface.
type AddMemoryResult struct {
	ID             uuid.UUID
	PrimarySector  model.Sector
	Sectors        []model.Sector
	Chunks         int
	Deduplicated   bool
}

// AddMemory runs the full §4.4 ingest pipeline.
func (p *Pipeline) AddMemory(ctx context.Context, in AddMemoryInput) (AddMemoryResult, error) {
	if in.Content == "" {
		return AddMemoryResult{}, herr.Validationf("ingest: empty content")
	}
	namespaces := model.NormalizeNamespaces(in.Namespaces)
	now := p.now()

	tokens := tokenizer.Canonicalize(in.Content, nil)
	simhash := tokenizer.SimHashHex(tokens)

	// Step 1: simhash dedup.
	nearest, found, err := p.Store.NearestBySimhash(ctx, simhash, namespaces)
	if err != nil {
		return AddMemoryResult{}, herr.Storagef(err, "ingest: nearest by simhash")
	}
	if found && tokenizer.HammingDistanceHex(simhash, nearest.Simhash) <= 3 {
		boosted := model.Clamp01(nearest.Salience + DedupSalienceBoost)
		if err := p.Store.UpdateLastSeen(ctx, nearest.ID, now, boosted); err != nil {
			return AddMemoryResult{}, herr.Storagef(err, "ingest: dedup update")
		}
		return AddMemoryResult{ID: nearest.ID, PrimarySector: nearest.PrimarySector, Deduplicated: true}, nil
	}

	// Step 2: chunk and classify.
	chunks, err := p.Chunker.Chunk(in.Content)
	if err != nil {
		return AddMemoryResult{}, herr.Validationf("ingest: chunk: %v", err)
	}
	if len(chunks) == 0 {
		chunks = []string{in.Content}
	}
	classification := p.Classifier.Classify(in.Content, in.MetaSector)
	sectors := classification.Sectors()

	// Step 3: segment allocation.
	segment, err := p.allocateSegment(ctx)
	if err != nil {
		return AddMemoryResult{}, herr.Storagef(err, "ingest: segment allocation")
	}

	// Step 4: essence + initial salience.
	essence := p.essence(in.Content)
	salience := model.Clamp01(InitialSalienceBase + InitialSalienceStep*float64(len(classification.Additional)))
	decayLambda := SectorDecayLambda[classification.Primary]
	if decayLambda == 0 {
		decayLambda = SectorDecayLambda[model.Semantic]
	}

	id := model.NewID()
	mem := model.Memory{
		ID:            id,
		Namespaces:    namespaces,
		Segment:       segment,
		Content:       essence,
		Simhash:       simhash,
		PrimarySector: classification.Primary,
		Tags:          model.EncodeTags(in.Tags),
		Meta:          model.EncodeMeta(in.Meta),
		CreatedAt:     now,
		UpdatedAt:     now,
		LastSeenAt:    now,
		Salience:      salience,
		DecayLambda:   decayLambda,
		Version:       1,
	}

	// Step 5: transactional insert + per-sector embed + mean_vec.
	tx, err := p.Store.BeginTx(ctx)
	if err != nil {
		return AddMemoryResult{}, herr.Storagef(err, "ingest: begin tx")
	}
	if err := p.insertAndEmbed(ctx, tx, &mem, sectors, chunks, classification); err != nil {
		_ = tx.Rollback(ctx)
		return AddMemoryResult{}, err
	}

	// Steps 6-7: anchor + inter-memory waypoints.
	if err := p.seedWaypoints(ctx, tx, mem, sectors, namespaces, now); err != nil {
		_ = tx.Rollback(ctx)
		return AddMemoryResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return AddMemoryResult{}, herr.Storagef(err, "ingest: commit")
	}
	p.bumpSegmentCount(segment)
	if p.Keyword != nil {
		_ = p.Keyword.Add(id, essence)
	}

	return AddMemoryResult{
		ID:            id,
		PrimarySector: classification.Primary,
		Sectors:       sectors,
		Chunks:        len(chunks),
	}, nil
}

// essence computes the stored lossy body (§4.9). With UseSummaryOnly
// set, extraction runs even for content inside the budget, so the
// persisted body is always the scored-sentence reduction.
func (p *Pipeline) essence(content string) string {
	maxLen := p.Config.SummaryMaxLength
	if p.Config.UseSummaryOnly && len(content) <= maxLen && maxLen > 1 {
		if e := ExtractEssence(content, len(content)-1); e != "" {
			return e
		}
	}
	return ExtractEssence(content, maxLen)
}

func segmentKey(segment int64) string { return strconv.FormatInt(segment, 10) }

func (p *Pipeline) allocateSegment(ctx context.Context) (int64, error) {
	segment, err := p.Store.MaxSegment(ctx)
	if err != nil {
		return 0, err
	}
	count, ok := int64(0), false
	if p.Segments != nil {
		count, ok = p.Segments.Get(segmentKey(segment))
	}
	if !ok {
		count, err = p.Store.SegmentCount(ctx, segment)
		if err != nil {
			return 0, err
		}
		if p.Segments != nil {
			p.Segments.Set(segmentKey(segment), count)
		}
	}
	segSize := p.Config.SegSize
	if segSize <= 0 {
		segSize = DefaultConfig().SegSize
	}
	if count >= segSize {
		segment++
	}
	return segment, nil
}

// bumpSegmentCount advances the cached row count for the segment a
// commit just landed in, re-reading lazily on the next miss instead of
// holding a transactionally exact counter.
func (p *Pipeline) bumpSegmentCount(segment int64) {
	if p.Segments == nil {
		return
	}
	key := segmentKey(segment)
	if count, ok := p.Segments.Get(key); ok {
		p.Segments.Set(key, count+1)
	}
}

func (p *Pipeline) insertAndEmbed(ctx context.Context, tx store.Tx, mem *model.Memory, sectors []model.Sector, chunks []string, classification classify.Classification) error {
	if err := tx.InsertMemory(ctx, *mem); err != nil {
		return herr.Storagef(err, "ingest: insert memory")
	}

	dim := p.Config.VecDim
	sectorVecs := make([]embed.SectorVec, 0, len(sectors))
	for _, sector := range sectors {
		chunkVecs := make([][]float32, 0, len(chunks))
		var embedErr error
		for _, chunk := range chunks {
			v := embed.SafeEmbed(ctx, nil, chunk, sector, dim)
			if p.Embedder != nil {
				if ev, err := p.Embedder.Embed(ctx, chunk, sector); err != nil {
					embedErr = err
				} else if len(ev) > 0 {
					v = embed.Resize(ev, dim)
				}
			}
			chunkVecs = append(chunkVecs, v)
		}
		vec := embed.MeanPool(chunkVecs)
		sv := model.SectorVector{ID: mem.ID, Sector: sector, Namespaces: mem.Namespaces, Vector: vec, Dim: len(vec)}
		if err := tx.UpsertSectorVector(ctx, sv); err != nil {
			return herr.Storagef(err, "ingest: upsert sector vector %s", sector)
		}
		weight := classification.Scores[sector]
		sectorVecs = append(sectorVecs, embed.SectorVec{Sector: sector, Vector: vec, Weight: weight})

		logStatus, logErr := model.EmbedCompleted, ""
		if p.Embedder == nil {
			logStatus = model.EmbedFailed
		} else if embedErr != nil {
			logStatus, logErr = model.EmbedFailed, embedErr.Error()
		}
		_ = p.Store.InsertEmbedLog(ctx, model.EmbedLog{ID: mem.ID, Model: embedderName(p.Embedder), Status: logStatus, Timestamp: mem.CreatedAt, Err: logErr})
	}

	meanVec := embed.Fuse(sectorVecs)
	var compressed []float32
	if p.Config.SmartTier && len(meanVec) > 128 {
		compressed = embed.Pool(meanVec, 128)
	}
	mem.MeanVec = meanVec
	mem.MeanDim = len(meanVec)
	mem.CompressedVec = compressed
	if err := tx.UpdateMeanVec(ctx, mem.ID, meanVec, len(meanVec), compressed); err != nil {
		return herr.Storagef(err, "ingest: update mean_vec")
	}
	return nil
}

func embedderName(e embed.Embedder) string {
	if e == nil {
		return "none"
	}
	return e.Name()
}

func (p *Pipeline) seedWaypoints(ctx context.Context, tx store.Tx, mem model.Memory, sectors []model.Sector, namespaces []string, now int64) error {
	threshold := p.Config.AnchorSimilarity
	if threshold == 0 {
		threshold = waypoint.AnchorSimilarity
	}

	// Step 6: single anchor waypoint over the global namespace set.
	best, bestSim, err := p.nearestByMeanVec(ctx, mem, namespaces)
	if err != nil {
		return herr.Storagef(err, "ingest: anchor search")
	}
	if bestSim >= threshold {
		if err := tx.UpsertWaypoint(ctx, waypoint.AnchorWaypoint(mem.ID, best, "", now)); err != nil {
			return herr.Storagef(err, "ingest: anchor waypoint")
		}
	} else {
		if err := tx.UpsertWaypoint(ctx, waypoint.SelfLoopWaypoint(mem.ID, "", now)); err != nil {
			return herr.Storagef(err, "ingest: self-loop waypoint")
		}
	}

	// Cross-sector participation edges for every additional sector.
	for _, sector := range sectors[1:] {
		if err := tx.UpsertWaypoint(ctx, waypoint.CrossSectorWaypoint(mem.ID, sector, "", now)); err != nil {
			return herr.Storagef(err, "ingest: cross-sector waypoint")
		}
	}

	// Step 7: inter-memory waypoints within the primary sector.
	primaryVec, _, err := p.Vectors.Fetch(ctx, mem.ID, mem.PrimarySector)
	if err != nil {
		return herr.Storagef(err, "ingest: fetch primary vector")
	}
	if len(primaryVec) == 0 {
		return nil
	}
	candidates, err := p.Vectors.Search(ctx, primaryVec, mem.PrimarySector, namespaces, 1000, false)
	if err != nil {
		return herr.Storagef(err, "ingest: inter-memory search")
	}
	for _, c := range candidates {
		if c.ID == mem.ID {
			continue
		}
		if c.Similarity < threshold {
			continue
		}
		if err := tx.UpsertWaypoint(ctx, waypoint.AnchorWaypoint(mem.ID, c.ID, "", now)); err != nil {
			return herr.Storagef(err, "ingest: inter-memory waypoint forward")
		}
		if err := tx.UpsertWaypoint(ctx, waypoint.AnchorWaypoint(c.ID, mem.ID, "", now)); err != nil {
			return herr.Storagef(err, "ingest: inter-memory waypoint backward")
		}
	}
	return nil
}

// nearestByMeanVec scans every other memory's mean_vec for the highest
// cosine similarity to mem, used by the anchor step. It is a linear scan
// over AllMemories, which is acceptable per §1's Non-goals ("linear scan
// with per-sector candidate capping is in budget").
func (p *Pipeline) nearestByMeanVec(ctx context.Context, mem model.Memory, namespaces []string) (uuid.UUID, float64, error) {
	all, err := p.Store.AllMemories(ctx, namespaces)
	if err != nil {
		return uuid.Nil, 0, err
	}
	best := uuid.Nil
	bestSim := -1.0
	for _, other := range all {
		if other.ID == mem.ID || len(other.MeanVec) == 0 {
			continue
		}
		sim := model.CosineSimilarity(mem.MeanVec, other.MeanVec)
		if sim > bestSim || (sim == bestSim && (best == uuid.Nil || other.ID.String() < best.String())) {
			bestSim = sim
			best = other.ID
		}
	}
	return best, bestSim, nil
}
