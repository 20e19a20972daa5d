package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/Raezil/hsg-memory/model"
)

// SQLiteStore is the embedded metadata_backend, grounded on
// goblincore-geoffreyengram/store.go's database/sql + modernc.org/sqlite
// idiom: single WAL-mode connection, plain SQL migrations, vectors as
// little-endian BLOBs scored in Go (the "NPC scale" comment there is this
// engine's own Non-goal: linear scan over a per-sector candidate cap).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) path and applies the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("hsg sqlitestore: mkdir %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("hsg sqlitestore: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("hsg sqlitestore: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

const sqliteSchema = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS memories (
    id             TEXT PRIMARY KEY,
    namespaces     TEXT NOT NULL,
    segment        INTEGER NOT NULL,
    essence        TEXT NOT NULL,
    simhash        TEXT NOT NULL,
    primary_sector TEXT NOT NULL,
    tags           BLOB,
    meta           BLOB,
    created_at     INTEGER NOT NULL,
    updated_at     INTEGER NOT NULL,
    last_seen_at   INTEGER NOT NULL,
    salience       REAL NOT NULL,
    decay_lambda   REAL NOT NULL,
    version        INTEGER NOT NULL,
    mean_dim       INTEGER NOT NULL DEFAULT 0,
    mean_vec       BLOB,
    compressed_vec BLOB,
    feedback_score REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_memories_sector ON memories(primary_sector);
CREATE INDEX IF NOT EXISTS idx_memories_segment ON memories(segment);
CREATE INDEX IF NOT EXISTS idx_memories_simhash ON memories(simhash);
CREATE INDEX IF NOT EXISTS idx_memories_last_seen ON memories(last_seen_at);

CREATE TABLE IF NOT EXISTS vectors (
    id         TEXT NOT NULL,
    sector     TEXT NOT NULL,
    namespaces TEXT NOT NULL,
    v          BLOB NOT NULL,
    dim        INTEGER NOT NULL,
    PRIMARY KEY (id, sector)
);

CREATE TABLE IF NOT EXISTS waypoints (
    src_id     TEXT NOT NULL,
    dst_id     TEXT NOT NULL,
    namespace  TEXT NOT NULL,
    weight     REAL NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (src_id, dst_id, namespace)
);
CREATE INDEX IF NOT EXISTS idx_waypoints_src ON waypoints(src_id);
CREATE INDEX IF NOT EXISTS idx_waypoints_dst ON waypoints(dst_id);

CREATE TABLE IF NOT EXISTS embed_logs (
    id     TEXT NOT NULL,
    model  TEXT NOT NULL,
    status TEXT NOT NULL,
    ts     INTEGER NOT NULL,
    err    TEXT
);

CREATE TABLE IF NOT EXISTS stats (
    type  TEXT NOT NULL,
    count INTEGER NOT NULL,
    ts    INTEGER NOT NULL
);
`

const sqliteMemoryCols = `id, namespaces, segment, essence, simhash, primary_sector, tags, meta,
    created_at, updated_at, last_seen_at, salience, decay_lambda, version, mean_dim, mean_vec, compressed_vec, feedback_score`

type sqliteScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteMemory(row sqliteScanner) (model.Memory, error) {
	var m model.Memory
	var ns, sector string
	var tags, meta, meanVec, compVec []byte
	if err := row.Scan(&m.ID, &ns, &m.Segment, &m.Content, &m.Simhash, &sector,
		&tags, &meta, &m.CreatedAt, &m.UpdatedAt, &m.LastSeenAt, &m.Salience,
		&m.DecayLambda, &m.Version, &m.MeanDim, &meanVec, &compVec, &m.FeedbackScore); err != nil {
		return model.Memory{}, err
	}
	m.Namespaces = decodeNamespaces([]byte(ns))
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

func sqliteMemoryArgs(m model.Memory) []any {
	return []any{
		m.ID.String(), string(namespacesJSON(m.Namespaces)), m.Segment, m.Content, m.Simhash,
		string(m.PrimarySector), []byte(m.Tags), []byte(m.Meta),
		m.CreatedAt, m.UpdatedAt, m.LastSeenAt, m.Salience, m.DecayLambda,
		m.Version, m.MeanDim, model.PackVector(m.MeanVec), model.PackVector(m.CompressedVec),
		m.FeedbackScore,
	}
}

// ---- MetadataStore ----

func (s *SQLiteStore) GetMemory(_ context.Context, id uuid.UUID) (model.Memory, bool, error) {
	row := s.db.QueryRow(`SELECT `+sqliteMemoryCols+` FROM memories WHERE id = ?`, id.String())
	m, err := scanSQLiteMemory(row)
	if err == sql.ErrNoRows {
		return model.Memory{}, false, nil
	}
	if err != nil {
		return model.Memory{}, false, err
	}
	return m, true, nil
}

func (s *SQLiteStore) NearestBySimhash(_ context.Context, simhash string, namespaces []string) (model.Memory, bool, error) {
	rows, err := s.db.Query(`SELECT ` + sqliteMemoryCols + ` FROM memories`)
	if err != nil {
		return model.Memory{}, false, err
	}
	defer rows.Close()
	best := model.Memory{}
	bestDist := 65
	found := false
	for rows.Next() {
		m, err := scanSQLiteMemory(rows)
		if err != nil {
			return model.Memory{}, false, err
		}
		if len(namespaces) > 0 && !model.NamespacesOverlap(m.Namespaces, namespaces) {
			continue
		}
		d := hammingHex(simhash, m.Simhash)
		if d < bestDist {
			bestDist, best, found = d, m, true
		}
	}
	return best, found, rows.Err()
}

func (s *SQLiteStore) MaxSegment(_ context.Context) (int64, error) {
	var max sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(segment) FROM memories`).Scan(&max); err != nil {
		return 0, err
	}
	return max.Int64, nil
}

func (s *SQLiteStore) SegmentCount(_ context.Context, segment int64) (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM memories WHERE segment = ?`, segment).Scan(&n)
	return n, err
}

func (s *SQLiteStore) queryMemories(where string, args ...any) ([]model.Memory, error) {
	rows, err := s.db.Query(`SELECT `+sqliteMemoryCols+` FROM memories `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Memory
	for rows.Next() {
		m, err := scanSQLiteMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) filterNamespaces(rows []model.Memory, namespaces []string) []model.Memory {
	if len(namespaces) == 0 {
		return rows
	}
	out := rows[:0]
	for _, m := range rows {
		if model.NamespacesOverlap(m.Namespaces, namespaces) {
			out = append(out, m)
		}
	}
	return out
}

func (s *SQLiteStore) MemoriesBySector(_ context.Context, sector model.Sector, namespaces []string) ([]model.Memory, error) {
	rows, err := s.queryMemories(`WHERE primary_sector = ? ORDER BY id`, string(sector))
	if err != nil {
		return nil, err
	}
	return s.filterNamespaces(rows, namespaces), nil
}

func (s *SQLiteStore) AllMemories(_ context.Context, namespaces []string) ([]model.Memory, error) {
	rows, err := s.queryMemories(`ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return s.filterNamespaces(rows, namespaces), nil
}

func (s *SQLiteStore) SegmentRows(_ context.Context, segment int64) ([]model.Memory, error) {
	return s.queryMemories(`WHERE segment = ? ORDER BY id`, segment)
}

func (s *SQLiteStore) Segments(_ context.Context) ([]int64, error) {
	rows, err := s.db.Query(`SELECT DISTINCT segment FROM memories ORDER BY segment`)
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

func (s *SQLiteStore) UpdateSalience(_ context.Context, id uuid.UUID, salience float64) error {
	_, err := s.db.Exec(`UPDATE memories SET salience = ? WHERE id = ?`, salience, id.String())
	return err
}

func (s *SQLiteStore) UpdateLastSeen(_ context.Context, id uuid.UUID, lastSeen int64, salience float64) error {
	_, err := s.db.Exec(`UPDATE memories SET last_seen_at = ?, salience = ? WHERE id = ?`, lastSeen, salience, id.String())
	return err
}

func (s *SQLiteStore) UpdateFeedback(_ context.Context, id uuid.UUID, feedback float64) error {
	_, err := s.db.Exec(`UPDATE memories SET feedback_score = ? WHERE id = ?`, feedback, id.String())
	return err
}

func (s *SQLiteStore) UpdateMemory(_ context.Context, m model.Memory) error {
	args := append(sqliteMemoryArgs(m)[1:], m.ID.String())
	_, err := s.db.Exec(`
        UPDATE memories SET namespaces=?, segment=?, essence=?, simhash=?, primary_sector=?,
            tags=?, meta=?, updated_at=?, last_seen_at=?, salience=?, decay_lambda=?,
            version=?, mean_dim=?, mean_vec=?, compressed_vec=?, feedback_score=?
        WHERE id=?`, args...)
	return err
}

func (s *SQLiteStore) DeleteMemory(_ context.Context, id uuid.UUID) error {
	if _, err := s.db.Exec(`DELETE FROM memories WHERE id = ?`, id.String()); err != nil {
		return err
	}
	if _, err := s.db.Exec(`DELETE FROM vectors WHERE id = ?`, id.String()); err != nil {
		return err
	}
	_, err := s.db.Exec(`DELETE FROM waypoints WHERE src_id = ? OR dst_id = ?`, id.String(), id.String())
	return err
}

func (s *SQLiteStore) InsertEmbedLog(_ context.Context, log model.EmbedLog) error {
	_, err := s.db.Exec(`INSERT INTO embed_logs (id, model, status, ts, err) VALUES (?,?,?,?,?)`,
		log.ID.String(), log.Model, string(log.Status), log.Timestamp, log.Err)
	return err
}

// ---- VectorStore ----

func (s *SQLiteStore) Upsert(_ context.Context, id uuid.UUID, sector model.Sector, namespaces []string, vector []float32) error {
	_, err := s.db.Exec(`
        INSERT INTO vectors (id, sector, namespaces, v, dim) VALUES (?,?,?,?,?)
        ON CONFLICT(id, sector) DO UPDATE SET namespaces=excluded.namespaces, v=excluded.v, dim=excluded.dim`,
		id.String(), string(sector), string(namespacesJSON(namespaces)), model.PackVector(vector), len(vector))
	return err
}

func (s *SQLiteStore) Search(_ context.Context, vector []float32, sector model.Sector, namespaces []string, limit int, withVectors bool) ([]Candidate, error) {
	rows, err := s.db.Query(`SELECT id, namespaces, v FROM vectors WHERE sector = ?`, string(sector))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Candidate
	for rows.Next() {
		var idStr, ns string
		var v []byte
		if err := rows.Scan(&idStr, &ns, &v); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}
		nsList := decodeNamespaces([]byte(ns))
		if len(namespaces) > 0 && !model.NamespacesOverlap(nsList, namespaces) {
			continue
		}
		vec := model.UnpackVector(v)
		c := Candidate{ID: id, Sector: sector, Namespaces: nsList, Similarity: model.CosineSimilarity(vector, vec)}
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

func (s *SQLiteStore) Fetch(_ context.Context, id uuid.UUID, sector model.Sector) ([]float32, bool, error) {
	var v []byte
	err := s.db.QueryRow(`SELECT v FROM vectors WHERE id=? AND sector=?`, id.String(), string(sector)).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return model.UnpackVector(v), true, nil
}

func (s *SQLiteStore) Delete(_ context.Context, id uuid.UUID, sector model.Sector, _ string) error {
	_, err := s.db.Exec(`DELETE FROM vectors WHERE id=? AND sector=?`, id.String(), string(sector))
	return err
}

func (s *SQLiteStore) DeleteAll(_ context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(`DELETE FROM vectors WHERE id=?`, id.String())
	return err
}

// ---- GraphStore ----

func (s *SQLiteStore) UpsertWaypoint(_ context.Context, w model.Waypoint) error {
	_, err := s.db.Exec(`
        INSERT INTO waypoints (src_id, dst_id, namespace, weight, created_at, updated_at) VALUES (?,?,?,?,?,?)
        ON CONFLICT(src_id, dst_id, namespace) DO UPDATE SET weight=excluded.weight, updated_at=excluded.updated_at`,
		w.SrcID.String(), w.DstID.String(), w.Namespace, w.Weight, w.CreatedAt, w.UpdatedAt)
	return err
}

func (s *SQLiteStore) Neighbors(_ context.Context, id uuid.UUID, namespace string) ([]model.Waypoint, error) {
	query := `SELECT src_id, dst_id, namespace, weight, created_at, updated_at FROM waypoints WHERE src_id = ?`
	args := []any{id.String()}
	if namespace != "" {
		query += ` AND namespace = ?`
		args = append(args, namespace)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSQLiteWaypoints(rows)
}

func scanSQLiteWaypoints(rows *sql.Rows) ([]model.Waypoint, error) {
	var out []model.Waypoint
	for rows.Next() {
		var src, dst string
		var w model.Waypoint
		if err := rows.Scan(&src, &dst, &w.Namespace, &w.Weight, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, err
		}
		w.SrcID, _ = uuid.Parse(src)
		w.DstID, _ = uuid.Parse(dst)
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteWaypointsFor(_ context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(`DELETE FROM waypoints WHERE src_id=? OR dst_id=?`, id.String(), id.String())
	return err
}

func (s *SQLiteStore) PruneBelow(_ context.Context, minWeight float64) (int, error) {
	res, err := s.db.Exec(`DELETE FROM waypoints WHERE weight < ?`, minWeight)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) AllWaypoints(_ context.Context) ([]model.Waypoint, error) {
	rows, err := s.db.Query(`SELECT src_id, dst_id, namespace, weight, created_at, updated_at FROM waypoints`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSQLiteWaypoints(rows)
}

// ---- Tx ----

// sqliteTx wraps a database/sql.Tx; SQLite's single-writer model means
// BeginTx already serializes with any other in-flight writer, so unlike
// MemStore's snapshot approach this can delegate straight to sql.Tx.
type sqliteTx struct {
	tx *sql.Tx
}

func (s *SQLiteStore) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx}, nil
}

func (t *sqliteTx) InsertMemory(_ context.Context, m model.Memory) error {
	_, err := t.tx.Exec(`INSERT INTO memories (`+sqliteMemoryCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		sqliteMemoryArgs(m)...)
	return err
}

func (t *sqliteTx) UpsertSectorVector(_ context.Context, sv model.SectorVector) error {
	_, err := t.tx.Exec(`
        INSERT INTO vectors (id, sector, namespaces, v, dim) VALUES (?,?,?,?,?)
        ON CONFLICT(id, sector) DO UPDATE SET namespaces=excluded.namespaces, v=excluded.v, dim=excluded.dim`,
		sv.ID.String(), string(sv.Sector), string(namespacesJSON(sv.Namespaces)), model.PackVector(sv.Vector), sv.Dim)
	return err
}

func (t *sqliteTx) UpdateMeanVec(_ context.Context, id uuid.UUID, meanVec []float32, meanDim int, compressedVec []float32) error {
	_, err := t.tx.Exec(`UPDATE memories SET mean_vec=?, mean_dim=?, compressed_vec=? WHERE id=?`,
		model.PackVector(meanVec), meanDim, model.PackVector(compressedVec), id.String())
	return err
}

func (t *sqliteTx) UpsertWaypoint(_ context.Context, w model.Waypoint) error {
	_, err := t.tx.Exec(`
        INSERT INTO waypoints (src_id, dst_id, namespace, weight, created_at, updated_at) VALUES (?,?,?,?,?,?)
        ON CONFLICT(src_id, dst_id, namespace) DO UPDATE SET weight=excluded.weight, updated_at=excluded.updated_at`,
		w.SrcID.String(), w.DstID.String(), w.Namespace, w.Weight, w.CreatedAt, w.UpdatedAt)
	return err
}

func (t *sqliteTx) DeleteSectorVectors(_ context.Context, id uuid.UUID) error {
	_, err := t.tx.Exec(`DELETE FROM vectors WHERE id=?`, id.String())
	return err
}

func (t *sqliteTx) UpdateMemory(_ context.Context, m model.Memory) error {
	args := append(sqliteMemoryArgs(m)[1:], m.ID.String())
	_, err := t.tx.Exec(`
        UPDATE memories SET namespaces=?, segment=?, essence=?, simhash=?, primary_sector=?,
            tags=?, meta=?, updated_at=?, last_seen_at=?, salience=?, decay_lambda=?,
            version=?, mean_dim=?, mean_vec=?, compressed_vec=?, feedback_score=?
        WHERE id=?`, args...)
	return err
}

func (t *sqliteTx) DeleteMemory(_ context.Context, id uuid.UUID) error {
	_, err := t.tx.Exec(`DELETE FROM memories WHERE id=?`, id.String())
	return err
}

func (t *sqliteTx) DeleteWaypointsFor(_ context.Context, id uuid.UUID) error {
	_, err := t.tx.Exec(`DELETE FROM waypoints WHERE src_id=? OR dst_id=?`, id.String(), id.String())
	return err
}

func (t *sqliteTx) Commit(_ context.Context) error   { return t.tx.Commit() }
func (t *sqliteTx) Rollback(_ context.Context) error { return t.tx.Rollback() }

var _ Backend = (*SQLiteStore)(nil)
