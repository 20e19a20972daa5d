package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/Raezil/hsg-memory/herr"
	"github.com/Raezil/hsg-memory/model"
	"github.com/Raezil/hsg-memory/tokenizer"
)

// sectorKey identifies one (memory, sector) vector row.
type sectorKey struct {
	id     uuid.UUID
	sector model.Sector
}

// waypointKey is the composite primary key resolved in SPEC_FULL.md §9:
// (src_id, dst_id, namespace), never (src_id, namespaces) alone.
type waypointKey struct {
	src uuid.UUID
	dst uuid.UUID
	ns  string
}

// MemStore is a mutex-guarded in-memory Backend, generalized from
// pkg/memory/store/in_memory_store.go's map-of-records idiom to the
// memory/sector-vector/waypoint/embed-log shape this engine needs. It is
// the default store for tests and the store cmd/hsg falls back to when no
// backend is configured.
type MemStore struct {
	mu        sync.RWMutex
	memories  map[uuid.UUID]model.Memory
	vectors   map[sectorKey]model.SectorVector
	waypoints map[waypointKey]model.Waypoint
	logs      []model.EmbedLog
}

// NewMemStore constructs an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		memories:  make(map[uuid.UUID]model.Memory),
		vectors:   make(map[sectorKey]model.SectorVector),
		waypoints: make(map[waypointKey]model.Waypoint),
	}
}

// ---- MetadataStore ----

func (s *MemStore) GetMemory(_ context.Context, id uuid.UUID) (model.Memory, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memories[id]
	return m, ok, nil
}

func (s *MemStore) NearestBySimhash(_ context.Context, simhash string, namespaces []string) (model.Memory, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	best := model.Memory{}
	bestDist := 65
	found := false
	for _, m := range s.memories {
		if len(namespaces) > 0 && !model.NamespacesOverlap(m.Namespaces, namespaces) {
			continue
		}
		d := tokenizer.HammingDistanceHex(simhash, m.Simhash)
		if d < bestDist {
			bestDist = d
			best = m
			found = true
		}
	}
	return best, found, nil
}

func (s *MemStore) MaxSegment(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var max int64 = -1
	for _, m := range s.memories {
		if m.Segment > max {
			max = m.Segment
		}
	}
	if max < 0 {
		return 0, nil
	}
	return max, nil
}

func (s *MemStore) SegmentCount(_ context.Context, segment int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, m := range s.memories {
		if m.Segment == segment {
			n++
		}
	}
	return n, nil
}

func (s *MemStore) MemoriesBySector(_ context.Context, sector model.Sector, namespaces []string) ([]model.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Memory
	for _, m := range s.memories {
		if m.PrimarySector != sector {
			continue
		}
		if len(namespaces) > 0 && !model.NamespacesOverlap(m.Namespaces, namespaces) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (s *MemStore) AllMemories(_ context.Context, namespaces []string) ([]model.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Memory
	for _, m := range s.memories {
		if len(namespaces) > 0 && !model.NamespacesOverlap(m.Namespaces, namespaces) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (s *MemStore) SegmentRows(_ context.Context, segment int64) ([]model.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Memory
	for _, m := range s.memories {
		if m.Segment == segment {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (s *MemStore) Segments(_ context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[int64]struct{}{}
	for _, m := range s.memories {
		seen[m.Segment] = struct{}{}
	}
	out := make([]int64, 0, len(seen))
	for seg := range seen {
		out = append(out, seg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *MemStore) UpdateSalience(_ context.Context, id uuid.UUID, salience float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	if !ok {
		return herr.NotFoundf("memstore: memory %s not found", id)
	}
	m.Salience = model.Clamp01(salience)
	s.memories[id] = m
	return nil
}

func (s *MemStore) UpdateLastSeen(_ context.Context, id uuid.UUID, lastSeen int64, salience float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	if !ok {
		return nil
	}
	m.LastSeenAt = lastSeen
	m.Salience = model.Clamp01(salience)
	s.memories[id] = m
	return nil
}

func (s *MemStore) UpdateFeedback(_ context.Context, id uuid.UUID, feedback float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	if !ok {
		return nil
	}
	m.FeedbackScore = model.Clamp01(feedback)
	s.memories[id] = m
	return nil
}

func (s *MemStore) UpdateMemory(_ context.Context, m model.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memories[m.ID] = m
	return nil
}

func (s *MemStore) DeleteMemory(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.memories, id)
	for k := range s.vectors {
		if k.id == id {
			delete(s.vectors, k)
		}
	}
	for k := range s.waypoints {
		if k.src == id || k.dst == id {
			delete(s.waypoints, k)
		}
	}
	return nil
}

func (s *MemStore) InsertEmbedLog(_ context.Context, log model.EmbedLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, log)
	return nil
}

// ---- VectorStore ----

func (s *MemStore) Upsert(_ context.Context, id uuid.UUID, sector model.Sector, namespaces []string, vector []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vectors[sectorKey{id, sector}] = model.SectorVector{
		ID: id, Sector: sector, Namespaces: namespaces,
		Vector: append([]float32(nil), vector...), Dim: len(vector),
	}
	return nil
}

func (s *MemStore) Search(_ context.Context, vector []float32, sector model.Sector, namespaces []string, limit int, withVectors bool) ([]Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Candidate
	for k, sv := range s.vectors {
		if k.sector != sector {
			continue
		}
		if len(namespaces) > 0 && !model.NamespacesOverlap(sv.Namespaces, namespaces) {
			continue
		}
		c := Candidate{ID: sv.ID, Sector: sector, Namespaces: sv.Namespaces, Similarity: model.CosineSimilarity(vector, sv.Vector)}
		if withVectors {
			c.Vector = sv.Vector
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) Fetch(_ context.Context, id uuid.UUID, sector model.Sector) ([]float32, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sv, ok := s.vectors[sectorKey{id, sector}]
	if !ok {
		return nil, false, nil
	}
	return sv.Vector, true, nil
}

func (s *MemStore) Delete(_ context.Context, id uuid.UUID, sector model.Sector, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.vectors, sectorKey{id, sector})
	return nil
}

func (s *MemStore) DeleteAll(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.vectors {
		if k.id == id {
			delete(s.vectors, k)
		}
	}
	return nil
}

// ---- GraphStore ----

func (s *MemStore) UpsertWaypoint(_ context.Context, w model.Waypoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waypoints[waypointKey{w.SrcID, w.DstID, w.Namespace}] = w
	return nil
}

func (s *MemStore) Neighbors(_ context.Context, id uuid.UUID, namespace string) ([]model.Waypoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Waypoint
	for k, w := range s.waypoints {
		if k.src != id {
			continue
		}
		if namespace != "" && k.ns != namespace {
			continue
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DstID.String() < out[j].DstID.String() })
	return out, nil
}

func (s *MemStore) DeleteWaypointsFor(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.waypoints {
		if k.src == id || k.dst == id {
			delete(s.waypoints, k)
		}
	}
	return nil
}

func (s *MemStore) PruneBelow(_ context.Context, minWeight float64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, w := range s.waypoints {
		if w.Weight < minWeight {
			delete(s.waypoints, k)
			n++
		}
	}
	return n, nil
}

func (s *MemStore) AllWaypoints(_ context.Context) ([]model.Waypoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Waypoint, 0, len(s.waypoints))
	for _, w := range s.waypoints {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SrcID != out[j].SrcID {
			return out[i].SrcID.String() < out[j].SrcID.String()
		}
		return out[i].DstID.String() < out[j].DstID.String()
	})
	return out, nil
}

// ---- Tx ----

// memTx holds copy-on-write snapshots of the three maps it touches and
// only publishes them back to the owning MemStore on Commit, so a
// Rollback genuinely discards in-flight writes per §4.4 step 8 ("on any
// step error, roll back; the memory is not observable"). Holding the
// store's write lock for the tx's lifetime also satisfies §5's "nested
// begin fails".
type memTx struct {
	s         *MemStore
	memories  map[uuid.UUID]model.Memory
	vectors   map[sectorKey]model.SectorVector
	waypoints map[waypointKey]model.Waypoint
	done      bool
}

func (s *MemStore) BeginTx(_ context.Context) (Tx, error) {
	s.mu.Lock()
	t := &memTx{
		s:         s,
		memories:  make(map[uuid.UUID]model.Memory, len(s.memories)),
		vectors:   make(map[sectorKey]model.SectorVector, len(s.vectors)),
		waypoints: make(map[waypointKey]model.Waypoint, len(s.waypoints)),
	}
	for k, v := range s.memories {
		t.memories[k] = v
	}
	for k, v := range s.vectors {
		t.vectors[k] = v
	}
	for k, v := range s.waypoints {
		t.waypoints[k] = v
	}
	return t, nil
}

func (t *memTx) InsertMemory(_ context.Context, m model.Memory) error {
	t.memories[m.ID] = m
	return nil
}

func (t *memTx) UpsertSectorVector(_ context.Context, sv model.SectorVector) error {
	t.vectors[sectorKey{sv.ID, sv.Sector}] = sv
	return nil
}

func (t *memTx) UpdateMeanVec(_ context.Context, id uuid.UUID, meanVec []float32, meanDim int, compressedVec []float32) error {
	m, ok := t.memories[id]
	if !ok {
		return nil
	}
	m.MeanVec = meanVec
	m.MeanDim = meanDim
	m.CompressedVec = compressedVec
	t.memories[id] = m
	return nil
}

func (t *memTx) UpsertWaypoint(_ context.Context, w model.Waypoint) error {
	t.waypoints[waypointKey{w.SrcID, w.DstID, w.Namespace}] = w
	return nil
}

func (t *memTx) DeleteSectorVectors(_ context.Context, id uuid.UUID) error {
	for k := range t.vectors {
		if k.id == id {
			delete(t.vectors, k)
		}
	}
	return nil
}

func (t *memTx) UpdateMemory(_ context.Context, m model.Memory) error {
	t.memories[m.ID] = m
	return nil
}

func (t *memTx) DeleteMemory(_ context.Context, id uuid.UUID) error {
	delete(t.memories, id)
	return nil
}

func (t *memTx) DeleteWaypointsFor(_ context.Context, id uuid.UUID) error {
	for k := range t.waypoints {
		if k.src == id || k.dst == id {
			delete(t.waypoints, k)
		}
	}
	return nil
}

func (t *memTx) Commit(_ context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.s.memories = t.memories
	t.s.vectors = t.vectors
	t.s.waypoints = t.waypoints
	t.s.mu.Unlock()
	return nil
}

func (t *memTx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.s.mu.Unlock()
	return nil
}

var _ Backend = (*MemStore)(nil)
