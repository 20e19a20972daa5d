package query

import (
	"context"
	"math"

	"github.com/google/uuid"

	"github.com/Raezil/hsg-memory/embed"
	"github.com/Raezil/hsg-memory/model"
	"github.com/Raezil/hsg-memory/waypoint"
)

// applySideEffects runs §4.5 step 9, strictly after the response slice
// was materialized: feedback EMA, co-activation push, retrieval-trace
// reinforcement, path-edge reinforcement with propagation, and
// opportunistic re-embedding of cold vectors. Every sub-step is
// best-effort; a failure on one candidate never aborts the others or the
// already-computed response (§7).
func (e *Engine) applySideEffects(ctx context.Context, now int64, scored []scoredCandidate, all map[uuid.UUID]*candidate) {
	ids := make([]uuid.UUID, 0, len(scored))
	for _, s := range scored {
		ids = append(ids, s.mem.ID)
		fb := model.Clamp01(0.9*s.mem.FeedbackScore + 0.1*s.score)
		_ = e.Store.UpdateFeedback(ctx, s.mem.ID, fb)
	}

	if e.Coact != nil {
		e.Coact.PushAll(ids)
	}

	for _, s := range scored {
		reinforced := model.Clamp01(s.salience + e.Config.RetrievalTraceBoost)
		_ = e.Store.UpdateLastSeen(ctx, s.mem.ID, now, reinforced)
		if e.Salience != nil {
			e.Salience.Delete(s.mem.ID.String())
		}

		if s.c.path > 1 && s.c.parent != uuid.Nil {
			e.reinforcePath(ctx, now, s.mem.ID, s.c, reinforced, all)
		}

		e.reembedIfCold(ctx, s.mem)
	}
}

// reinforcePath walks the BFS traversal chain from a result back to its
// originating seed, bumping every edge on the path by up to
// EdgeReinforceDelta and propagating a decayed fraction of the
// reinforcement to each linked node's salience in turn, the propagated
// value cascading hop by hop. The chain is reconstructed from the
// candidate map's parent links; a seed (path <= 0) or an unknown parent
// terminates the walk, as does a cycle.
func (e *Engine) reinforcePath(ctx context.Context, now int64, childID uuid.UUID, c *candidate, reinforcedSalience float64, all map[uuid.UUID]*candidate) {
	if e.Graph == nil {
		return
	}
	parentID := c.parent
	sal := reinforcedSalience
	seen := map[uuid.UUID]bool{childID: true}
	for parentID != uuid.Nil && !seen[parentID] {
		seen[parentID] = true
		if err := waypoint.Reinforce(ctx, e.Graph, parentID, childID, "", e.Config.EdgeReinforceDelta, now); err != nil {
			return
		}

		parent, ok, err := e.Store.GetMemory(ctx, parentID)
		if err != nil || !ok {
			return
		}
		deltaDays := daysBetween(now, parent.LastSeenAt)
		delta := e.Config.Gamma * (sal - parent.Salience) * math.Exp(-0.02*deltaDays)
		newSal := model.Clamp01(parent.Salience + delta)
		_ = e.Store.UpdateSalience(ctx, parentID, newSal)
		if e.Salience != nil {
			e.Salience.Delete(parentID.String())
		}

		pc, ok := all[parentID]
		if !ok || pc.path <= 0 {
			return // reached a scan seed
		}
		childID = parentID
		parentID = pc.parent
		sal = newSal
	}
}

// reembedIfCold re-embeds every sector vector of mem that has been
// pooled/fingerprinted down to ReembedMaxDim or fewer, using the
// engine's current embedder, per §4.5 step 9's "opportunistically
// re-embed" clause and §4.7's "fingerprinted memories... will be
// re-embedded if queried".
func (e *Engine) reembedIfCold(ctx context.Context, mem model.Memory) {
	for _, sector := range model.Sectors {
		vec, ok := e.fetchCached(ctx, mem.ID, sector)
		if !ok || len(vec) == 0 {
			continue
		}
		if len(vec) > e.Config.ReembedMaxDim {
			continue
		}
		dim := e.Config.ReembedTargetDim
		if dim <= 0 {
			dim = 256
		}
		fresh := embed.SafeEmbed(ctx, e.Embedder, mem.Content, sector, dim)
		if err := e.Vectors.Upsert(ctx, mem.ID, sector, mem.Namespaces, fresh); err == nil && e.VecBytes != nil {
			e.VecBytes.Set(vecKey(mem.ID, sector), model.PackVector(fresh))
		}
	}
}

func vecKey(id uuid.UUID, sector model.Sector) string {
	return id.String() + "/" + string(sector)
}

// fetchCached fronts VectorStore.Fetch with the size-capped packed-vector
// cache, so repeated queries hitting the same memory inside the TTL don't
// re-read vector rows just to learn they are not compressed.
func (e *Engine) fetchCached(ctx context.Context, id uuid.UUID, sector model.Sector) ([]float32, bool) {
	key := vecKey(id, sector)
	if e.VecBytes != nil {
		if packed, ok := e.VecBytes.Get(key); ok {
			return model.UnpackVector(packed), true
		}
	}
	vec, ok, err := e.Vectors.Fetch(ctx, id, sector)
	if err != nil || !ok {
		return nil, false
	}
	if e.VecBytes != nil {
		e.VecBytes.Set(key, model.PackVector(vec))
	}
	return vec, true
}
