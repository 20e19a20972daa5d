package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Raezil/hsg-memory/model"
)

// PGStore is the `remote` metadata_backend: Postgres + pgvector, grounded
// on pkg/memory/store/postgres_store.go's pool-per-store,
// transaction-wrapped-write pattern, generalized from a single
// memory_bank table to the memories/vectors/waypoints/embed_logs layout
// of §6. The vector column stays an unconstrained BYTEA of packed
// little-endian float32 (per §6's persistence layout) rather than a
// fixed-dimension pgvector column, since decay pools sector vectors to
// varying dimensions (64, 32) that a fixed-width `vector(n)` column
// cannot hold across rows; similarity is computed in Go after a
// namespace/sector-filtered fetch, which §1's Non-goals call in-budget
// ("linear scan with per-sector candidate capping").
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore connects to Postgres and ensures the schema exists.
func NewPGStore(ctx context.Context, connStr string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("hsg pgstore: connect: %w", err)
	}
	s := &PGStore{pool: pool}
	if err := s.createSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PGStore) Close() { s.pool.Close() }

func (s *PGStore) createSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, pgSchema)
	return err
}

const pgSchema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS memories (
    id UUID PRIMARY KEY,
    namespaces JSONB NOT NULL,
    segment BIGINT NOT NULL,
    essence TEXT NOT NULL,
    simhash TEXT NOT NULL,
    primary_sector TEXT NOT NULL,
    tags JSONB,
    meta JSONB,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL,
    last_seen_at BIGINT NOT NULL,
    salience DOUBLE PRECISION NOT NULL,
    decay_lambda DOUBLE PRECISION NOT NULL,
    version BIGINT NOT NULL,
    mean_dim INT NOT NULL DEFAULT 0,
    mean_vec BYTEA,
    compressed_vec BYTEA,
    feedback_score DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS memories_sector_idx ON memories (primary_sector);
CREATE INDEX IF NOT EXISTS memories_segment_idx ON memories (segment);
CREATE INDEX IF NOT EXISTS memories_simhash_idx ON memories (simhash);
CREATE INDEX IF NOT EXISTS memories_last_seen_idx ON memories (last_seen_at);
CREATE INDEX IF NOT EXISTS memories_namespaces_idx ON memories USING gin (namespaces);

CREATE TABLE IF NOT EXISTS vectors (
    id UUID NOT NULL,
    sector TEXT NOT NULL,
    namespaces JSONB NOT NULL,
    v BYTEA NOT NULL,
    dim INT NOT NULL,
    PRIMARY KEY (id, sector)
);

CREATE TABLE IF NOT EXISTS waypoints (
    src_id UUID NOT NULL,
    dst_id UUID NOT NULL,
    namespace TEXT NOT NULL,
    weight DOUBLE PRECISION NOT NULL,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL,
    PRIMARY KEY (src_id, dst_id, namespace)
);

CREATE INDEX IF NOT EXISTS waypoints_src_idx ON waypoints (src_id);
CREATE INDEX IF NOT EXISTS waypoints_dst_idx ON waypoints (dst_id);

CREATE TABLE IF NOT EXISTS embed_logs (
    id UUID NOT NULL,
    model TEXT NOT NULL,
    status TEXT NOT NULL,
    ts BIGINT NOT NULL,
    err TEXT
);

CREATE TABLE IF NOT EXISTS stats (
    type TEXT NOT NULL,
    count BIGINT NOT NULL,
    ts BIGINT NOT NULL
);
`

func namespacesJSON(ns []string) []byte {
	b, _ := json.Marshal(ns)
	return b
}

func decodeNamespaces(b []byte) []string {
	var out []string
	_ = json.Unmarshal(b, &out)
	return out
}

func memoryRowValues(m model.Memory) []any {
	return []any{
		m.ID, namespacesJSON(m.Namespaces), m.Segment, m.Content, m.Simhash,
		string(m.PrimarySector), []byte(m.Tags), []byte(m.Meta),
		m.CreatedAt, m.UpdatedAt, m.LastSeenAt, m.Salience, m.DecayLambda,
		m.Version, m.MeanDim, model.PackVector(m.MeanVec), model.PackVector(m.CompressedVec),
		m.FeedbackScore,
	}
}

func scanMemory(row pgx.Row) (model.Memory, error) {
	var m model.Memory
	var ns, tags, meta, meanVec, compVec []byte
	var sector string
	if err := row.Scan(&m.ID, &ns, &m.Segment, &m.Content, &m.Simhash, &sector,
		&tags, &meta, &m.CreatedAt, &m.UpdatedAt, &m.LastSeenAt, &m.Salience,
		&m.DecayLambda, &m.Version, &m.MeanDim, &meanVec, &compVec, &m.FeedbackScore); err != nil {
		return model.Memory{}, err
	}
	m.Namespaces = decodeNamespaces(ns)
	m.PrimarySector = model.Sector(sector)
	m.Tags = model.Tags(tags)
	m.Meta = model.Meta(meta)
	if len(meanVec) > 0 {
		m.MeanVec = model.UnpackVector(meanVec)
	}
	if len(compVec) > 0 {
		m.CompressedVec = model.UnpackVector(compVec)
	}
	return m, nil
}

const memoryColumns = `id, namespaces, segment, essence, simhash, primary_sector, tags, meta,
    created_at, updated_at, last_seen_at, salience, decay_lambda, version, mean_dim, mean_vec, compressed_vec, feedback_score`

func (s *PGStore) GetMemory(ctx context.Context, id uuid.UUID) (model.Memory, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = $1`, id)
	m, err := scanMemory(row)
	if err == pgx.ErrNoRows {
		return model.Memory{}, false, nil
	}
	if err != nil {
		return model.Memory{}, false, err
	}
	return m, true, nil
}

func (s *PGStore) NearestBySimhash(ctx context.Context, simhash string, namespaces []string) (model.Memory, bool, error) {
	query := `SELECT ` + memoryColumns + ` FROM memories`
	var args []any
	if len(namespaces) > 0 {
		query += ` WHERE namespaces ?| $1::text[]`
		args = append(args, namespaces)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return model.Memory{}, false, err
	}
	defer rows.Close()
	best := model.Memory{}
	bestDist := 65
	found := false
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return model.Memory{}, false, err
		}
		d := hammingHex(simhash, m.Simhash)
		if d < bestDist {
			bestDist, best, found = d, m, true
		}
	}
	return best, found, rows.Err()
}

func hammingHex(a, b string) int {
	if len(a) != 16 || len(b) != 16 {
		return 64
	}
	d := 0
	for i := 0; i < 16; i++ {
		av := hexNibble(a[i])
		bv := hexNibble(b[i])
		x := av ^ bv
		for x != 0 {
			d += int(x & 1)
			x >>= 1
		}
	}
	return d
}

func hexNibble(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return 0
	}
}

func (s *PGStore) MaxSegment(ctx context.Context) (int64, error) {
	var max *int64
	if err := s.pool.QueryRow(ctx, `SELECT MAX(segment) FROM memories`).Scan(&max); err != nil {
		return 0, err
	}
	if max == nil {
		return 0, nil
	}
	return *max, nil
}

func (s *PGStore) SegmentCount(ctx context.Context, segment int64) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM memories WHERE segment = $1`, segment).Scan(&n)
	return n, err
}

func (s *PGStore) queryMemories(ctx context.Context, where string, args ...any) ([]model.Memory, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+memoryColumns+` FROM memories `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PGStore) MemoriesBySector(ctx context.Context, sector model.Sector, namespaces []string) ([]model.Memory, error) {
	if len(namespaces) == 0 {
		return s.queryMemories(ctx, `WHERE primary_sector = $1`, string(sector))
	}
	return s.queryMemories(ctx, `WHERE primary_sector = $1 AND namespaces ?| $2::text[]`, string(sector), namespaces)
}

func (s *PGStore) AllMemories(ctx context.Context, namespaces []string) ([]model.Memory, error) {
	if len(namespaces) == 0 {
		return s.queryMemories(ctx, ``)
	}
	return s.queryMemories(ctx, `WHERE namespaces ?| $1::text[]`, namespaces)
}

func (s *PGStore) SegmentRows(ctx context.Context, segment int64) ([]model.Memory, error) {
	return s.queryMemories(ctx, `WHERE segment = $1`, segment)
}

func (s *PGStore) Segments(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT segment FROM memories ORDER BY segment`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var seg int64
		if err := rows.Scan(&seg); err != nil {
			return nil, err
		}
		out = append(out, seg)
	}
	return out, rows.Err()
}

func (s *PGStore) UpdateSalience(ctx context.Context, id uuid.UUID, salience float64) error {
	_, err := s.pool.Exec(ctx, `UPDATE memories SET salience = $2 WHERE id = $1`, id, salience)
	return err
}

func (s *PGStore) UpdateLastSeen(ctx context.Context, id uuid.UUID, lastSeen int64, salience float64) error {
	_, err := s.pool.Exec(ctx, `UPDATE memories SET last_seen_at = $2, salience = $3 WHERE id = $1`, id, lastSeen, salience)
	return err
}

func (s *PGStore) UpdateFeedback(ctx context.Context, id uuid.UUID, feedback float64) error {
	_, err := s.pool.Exec(ctx, `UPDATE memories SET feedback_score = $2 WHERE id = $1`, id, feedback)
	return err
}

func (s *PGStore) UpdateMemory(ctx context.Context, m model.Memory) error {
	_, err := s.pool.Exec(ctx, `
        UPDATE memories SET namespaces=$2, segment=$3, essence=$4, simhash=$5, primary_sector=$6,
            tags=$7, meta=$8, updated_at=$9, last_seen_at=$10, salience=$11, decay_lambda=$12,
            version=$13, mean_dim=$14, mean_vec=$15, compressed_vec=$16, feedback_score=$17
        WHERE id=$1`, memoryRowValues(m)...)
	return err
}

func (s *PGStore) DeleteMemory(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM memories WHERE id = $1`, id)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `DELETE FROM vectors WHERE id = $1`, id)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `DELETE FROM waypoints WHERE src_id = $1 OR dst_id = $1`, id)
	return err
}

func (s *PGStore) InsertEmbedLog(ctx context.Context, log model.EmbedLog) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO embed_logs (id, model, status, ts, err) VALUES ($1,$2,$3,$4,$5)`,
		log.ID, log.Model, string(log.Status), log.Timestamp, log.Err)
	return err
}

// ---- VectorStore ----

func (s *PGStore) Upsert(ctx context.Context, id uuid.UUID, sector model.Sector, namespaces []string, vector []float32) error {
	_, err := s.pool.Exec(ctx, `
        INSERT INTO vectors (id, sector, namespaces, v, dim) VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (id, sector) DO UPDATE SET namespaces=EXCLUDED.namespaces, v=EXCLUDED.v, dim=EXCLUDED.dim`,
		id, string(sector), namespacesJSON(namespaces), model.PackVector(vector), len(vector))
	return err
}

func (s *PGStore) Search(ctx context.Context, vector []float32, sector model.Sector, namespaces []string, limit int, withVectors bool) ([]Candidate, error) {
	query := `SELECT id, namespaces, v, dim FROM vectors WHERE sector = $1`
	args := []any{string(sector)}
	if len(namespaces) > 0 {
		query += ` AND namespaces ?| $2::text[]`
		args = append(args, namespaces)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Candidate
	for rows.Next() {
		var id uuid.UUID
		var ns []byte
		var v []byte
		var dim int
		if err := rows.Scan(&id, &ns, &v, &dim); err != nil {
			return nil, err
		}
		vec := model.UnpackVector(v)
		c := Candidate{ID: id, Sector: sector, Namespaces: decodeNamespaces(ns), Similarity: model.CosineSimilarity(vector, vec)}
		if withVectors {
			c.Vector = vec
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
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

func (s *PGStore) Fetch(ctx context.Context, id uuid.UUID, sector model.Sector) ([]float32, bool, error) {
	var v []byte
	err := s.pool.QueryRow(ctx, `SELECT v FROM vectors WHERE id=$1 AND sector=$2`, id, string(sector)).Scan(&v)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return model.UnpackVector(v), true, nil
}

func (s *PGStore) Delete(ctx context.Context, id uuid.UUID, sector model.Sector, _ string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM vectors WHERE id=$1 AND sector=$2`, id, string(sector))
	return err
}

func (s *PGStore) DeleteAll(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM vectors WHERE id=$1`, id)
	return err
}

// ---- GraphStore ----

func (s *PGStore) UpsertWaypoint(ctx context.Context, w model.Waypoint) error {
	_, err := s.pool.Exec(ctx, `
        INSERT INTO waypoints (src_id, dst_id, namespace, weight, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (src_id, dst_id, namespace) DO UPDATE SET weight=EXCLUDED.weight, updated_at=EXCLUDED.updated_at`,
		w.SrcID, w.DstID, w.Namespace, w.Weight, w.CreatedAt, w.UpdatedAt)
	return err
}

func (s *PGStore) Neighbors(ctx context.Context, id uuid.UUID, namespace string) ([]model.Waypoint, error) {
	query := `SELECT src_id, dst_id, namespace, weight, created_at, updated_at FROM waypoints WHERE src_id = $1`
	args := []any{id}
	if namespace != "" {
		query += ` AND namespace = $2`
		args = append(args, namespace)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Waypoint
	for rows.Next() {
		var w model.Waypoint
		if err := rows.Scan(&w.SrcID, &w.DstID, &w.Namespace, &w.Weight, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// NeighborhoodBFS mirrors PostgresStore.Neighborhood's WITH RECURSIVE CTE,
// returning every memory id reachable from seeds within hops (following
// edges in either direction), a single round-trip counterpart to
// Neighbors. Query's own iterative expansion does not call it.
func (s *PGStore) NeighborhoodBFS(ctx context.Context, seeds []uuid.UUID, hops int) ([]uuid.UUID, error) {
	if len(seeds) == 0 || hops <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
WITH RECURSIVE walk AS (
    SELECT unnest($1::uuid[]) AS id, 0 AS depth
    UNION ALL
    SELECT CASE WHEN w.src_id = walk.id THEN w.dst_id ELSE w.src_id END, walk.depth + 1
    FROM waypoints w
    JOIN walk ON w.src_id = walk.id OR w.dst_id = walk.id
    WHERE walk.depth < $2
)
SELECT DISTINCT id FROM walk WHERE depth > 0`, seeds, hops)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *PGStore) DeleteWaypointsFor(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM waypoints WHERE src_id=$1 OR dst_id=$1`, id)
	return err
}

func (s *PGStore) PruneBelow(ctx context.Context, minWeight float64) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM waypoints WHERE weight < $1`, minWeight)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PGStore) AllWaypoints(ctx context.Context) ([]model.Waypoint, error) {
	rows, err := s.pool.Query(ctx, `SELECT src_id, dst_id, namespace, weight, created_at, updated_at FROM waypoints`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Waypoint
	for rows.Next() {
		var w model.Waypoint
		if err := rows.Scan(&w.SrcID, &w.DstID, &w.Namespace, &w.Weight, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// ---- Tx ----

type pgTx struct {
	tx pgx.Tx
}

func (s *PGStore) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	return &pgTx{tx: tx}, nil
}

func (t *pgTx) InsertMemory(ctx context.Context, m model.Memory) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO memories (`+memoryColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		memoryRowValues(m)...)
	return err
}

func (t *pgTx) UpsertSectorVector(ctx context.Context, sv model.SectorVector) error {
	_, err := t.tx.Exec(ctx, `
        INSERT INTO vectors (id, sector, namespaces, v, dim) VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (id, sector) DO UPDATE SET namespaces=EXCLUDED.namespaces, v=EXCLUDED.v, dim=EXCLUDED.dim`,
		sv.ID, string(sv.Sector), namespacesJSON(sv.Namespaces), model.PackVector(sv.Vector), sv.Dim)
	return err
}

func (t *pgTx) UpdateMeanVec(ctx context.Context, id uuid.UUID, meanVec []float32, meanDim int, compressedVec []float32) error {
	_, err := t.tx.Exec(ctx, `UPDATE memories SET mean_vec=$2, mean_dim=$3, compressed_vec=$4 WHERE id=$1`,
		id, model.PackVector(meanVec), meanDim, model.PackVector(compressedVec))
	return err
}

func (t *pgTx) UpsertWaypoint(ctx context.Context, w model.Waypoint) error {
	_, err := t.tx.Exec(ctx, `
        INSERT INTO waypoints (src_id, dst_id, namespace, weight, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (src_id, dst_id, namespace) DO UPDATE SET weight=EXCLUDED.weight, updated_at=EXCLUDED.updated_at`,
		w.SrcID, w.DstID, w.Namespace, w.Weight, w.CreatedAt, w.UpdatedAt)
	return err
}

func (t *pgTx) DeleteSectorVectors(ctx context.Context, id uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM vectors WHERE id=$1`, id)
	return err
}

func (t *pgTx) UpdateMemory(ctx context.Context, m model.Memory) error {
	_, err := t.tx.Exec(ctx, `
        UPDATE memories SET namespaces=$2, segment=$3, essence=$4, simhash=$5, primary_sector=$6,
            tags=$7, meta=$8, updated_at=$9, last_seen_at=$10, salience=$11, decay_lambda=$12,
            version=$13, mean_dim=$14, mean_vec=$15, compressed_vec=$16, feedback_score=$17
        WHERE id=$1`, memoryRowValues(m)...)
	return err
}

func (t *pgTx) DeleteMemory(ctx context.Context, id uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM memories WHERE id=$1`, id)
	return err
}

func (t *pgTx) DeleteWaypointsFor(ctx context.Context, id uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM waypoints WHERE src_id=$1 OR dst_id=$1`, id)
	return err
}

func (t *pgTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

var _ Backend = (*PGStore)(nil)
