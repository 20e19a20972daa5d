package ingest

import (
	"context"

	"github.com/google/uuid"

	"github.com/Raezil/hsg-memory/embed"
	"github.com/Raezil/hsg-memory/herr"
	"github.com/Raezil/hsg-memory/model"
	"github.com/Raezil/hsg-memory/tokenizer"
)

// UpdateMemoryInput is update_memory's input per §4.10; nil fields leave
// the corresponding column untouched.
type UpdateMemoryInput struct {
	ID      uuid.UUID
	Content *string
	Tags    []string
	Meta    map[string]any
}

// UpdateMemoryResult is update_memory's output per §6.
type UpdateMemoryResult struct {
	ID      uuid.UUID
	Updated bool
}

// UpdateMemory implements §4.10's update operation: a content change
// re-chunks, re-embeds, reclassifies and bumps version; a tags/meta-only
// change just updates scalars and updated_at. Both paths run inside one
// transaction.
func (p *Pipeline) UpdateMemory(ctx context.Context, in UpdateMemoryInput) (UpdateMemoryResult, error) {
	mem, ok, err := p.Store.GetMemory(ctx, in.ID)
	if err != nil {
		return UpdateMemoryResult{}, herr.Storagef(err, "ingest: get memory")
	}
	if !ok {
		return UpdateMemoryResult{}, herr.NotFoundf("ingest: memory %s not found", in.ID)
	}

	now := p.now()
	contentChanged := in.Content != nil && *in.Content != mem.Content

	tx, err := p.Store.BeginTx(ctx)
	if err != nil {
		return UpdateMemoryResult{}, herr.Storagef(err, "ingest: begin tx")
	}

	if in.Tags != nil {
		mem.Tags = model.EncodeTags(in.Tags)
	}
	if in.Meta != nil {
		mem.Meta = model.EncodeMeta(in.Meta)
	}
	mem.UpdatedAt = now

	if contentChanged {
		if err := p.applyContentUpdate(ctx, tx, &mem, *in.Content); err != nil {
			_ = tx.Rollback(ctx)
			return UpdateMemoryResult{}, err
		}
		mem.Version++
	}

	if err := tx.UpdateMemory(ctx, mem); err != nil {
		_ = tx.Rollback(ctx)
		return UpdateMemoryResult{}, herr.Storagef(err, "ingest: update memory row")
	}
	if err := tx.Commit(ctx); err != nil {
		return UpdateMemoryResult{}, herr.Storagef(err, "ingest: commit")
	}
	if contentChanged && p.Keyword != nil {
		_ = p.Keyword.Add(mem.ID, mem.Content)
	}
	return UpdateMemoryResult{ID: mem.ID, Updated: true}, nil
}

func (p *Pipeline) applyContentUpdate(ctx context.Context, tx interface {
	DeleteSectorVectors(ctx context.Context, id uuid.UUID) error
	UpsertSectorVector(ctx context.Context, sv model.SectorVector) error
	UpdateMeanVec(ctx context.Context, id uuid.UUID, meanVec []float32, meanDim int, compressedVec []float32) error
}, mem *model.Memory, content string) error {
	if err := tx.DeleteSectorVectors(ctx, mem.ID); err != nil {
		return herr.Storagef(err, "ingest: delete sector vectors")
	}

	chunks, err := p.Chunker.Chunk(content)
	if err != nil {
		return herr.Validationf("ingest: chunk: %v", err)
	}
	if len(chunks) == 0 {
		chunks = []string{content}
	}
	classification := p.Classifier.Classify(content, "")
	sectors := classification.Sectors()

	dim := p.Config.VecDim
	sectorVecs := make([]embed.SectorVec, 0, len(sectors))
	for _, sector := range sectors {
		chunkVecs := make([][]float32, 0, len(chunks))
		for _, chunk := range chunks {
			chunkVecs = append(chunkVecs, embed.SafeEmbed(ctx, p.Embedder, chunk, sector, dim))
		}
		vec := embed.MeanPool(chunkVecs)
		if err := tx.UpsertSectorVector(ctx, model.SectorVector{ID: mem.ID, Sector: sector, Namespaces: mem.Namespaces, Vector: vec, Dim: len(vec)}); err != nil {
			return herr.Storagef(err, "ingest: upsert sector vector %s", sector)
		}
		sectorVecs = append(sectorVecs, embed.SectorVec{Sector: sector, Vector: vec, Weight: classification.Scores[sector]})
	}

	meanVec := embed.Fuse(sectorVecs)
	var compressed []float32
	if p.Config.SmartTier && len(meanVec) > 128 {
		compressed = embed.Pool(meanVec, 128)
	}
	if err := tx.UpdateMeanVec(ctx, mem.ID, meanVec, len(meanVec), compressed); err != nil {
		return herr.Storagef(err, "ingest: update mean_vec")
	}

	mem.Content = p.essence(content)
	mem.Simhash = tokenizer.SimHashHex(tokenizer.Canonicalize(content, nil))
	mem.PrimarySector = classification.Primary
	mem.MeanVec = meanVec
	mem.MeanDim = len(meanVec)
	mem.CompressedVec = compressed
	return nil
}

// DeleteMemoryInput is delete_memory's input per §4.10/§6.
type DeleteMemoryInput struct {
	ID         uuid.UUID
	Namespaces []string
}

// DeleteMemoryResult is delete_memory's output per §6.
type DeleteMemoryResult struct {
	OK bool
}

// DeleteMemory removes the memory row, cascades sector-vector deletion,
// and deletes every waypoint where the ID appears as src or dst.
func (p *Pipeline) DeleteMemory(ctx context.Context, in DeleteMemoryInput) (DeleteMemoryResult, error) {
	mem, ok, err := p.Store.GetMemory(ctx, in.ID)
	if err != nil {
		return DeleteMemoryResult{}, herr.Storagef(err, "ingest: get memory")
	}
	if !ok {
		return DeleteMemoryResult{}, herr.NotFoundf("ingest: memory %s not found", in.ID)
	}
	if len(in.Namespaces) > 0 && !model.NamespacesOverlap(mem.Namespaces, in.Namespaces) {
		return DeleteMemoryResult{}, herr.Forbiddenf("ingest: memory %s not visible to namespace set", in.ID)
	}

	tx, err := p.Store.BeginTx(ctx)
	if err != nil {
		return DeleteMemoryResult{}, herr.Storagef(err, "ingest: begin tx")
	}
	if err := tx.DeleteSectorVectors(ctx, in.ID); err != nil {
		_ = tx.Rollback(ctx)
		return DeleteMemoryResult{}, herr.Storagef(err, "ingest: delete sector vectors")
	}
	if err := tx.DeleteWaypointsFor(ctx, in.ID); err != nil {
		_ = tx.Rollback(ctx)
		return DeleteMemoryResult{}, herr.Storagef(err, "ingest: delete waypoints")
	}
	if err := tx.DeleteMemory(ctx, in.ID); err != nil {
		_ = tx.Rollback(ctx)
		return DeleteMemoryResult{}, herr.Storagef(err, "ingest: delete memory")
	}
	if err := tx.Commit(ctx); err != nil {
		return DeleteMemoryResult{}, herr.Storagef(err, "ingest: commit")
	}
	if p.Keyword != nil {
		_ = p.Keyword.Remove(in.ID)
	}
	return DeleteMemoryResult{OK: true}, nil
}
