// Package model defines the persisted shapes of the memory engine: Memory,
// SectorVector, Waypoint, and EmbedLog, plus the opaque-JSON metadata
// helpers used at storage boundaries. Shapes are grounded on
// pkg/memory/model/record.go and pkg/memory/model/metadata.go, generalized
// from a single-vector record to the five-sector model this engine needs.
package model

import (
	"encoding/binary"
	"math"
	"time"

	json "github.com/alpkeskin/gotoon"
	"github.com/google/uuid"
)

// Sector is one of the five cognitive categories a memory may belong to.
type Sector string

const (
	Episodic   Sector = "episodic"
	Semantic   Sector = "semantic"
	Procedural Sector = "procedural"
	Emotional  Sector = "emotional"
	Reflective Sector = "reflective"
)

// Sectors is the canonical enumeration order used for tie-breaking
// classifier scores and for deterministic iteration everywhere else.
var Sectors = []Sector{Episodic, Semantic, Procedural, Emotional, Reflective}

// ValidSector reports whether s is one of the five allowed sectors.
func ValidSector(s Sector) bool {
	for _, v := range Sectors {
		if v == s {
			return true
		}
	}
	return false
}

// Tags is an opaque JSON-encoded list of strings, decoded only at read
// boundaries per the "opaque JSON for tags/meta" design note.
type Tags []byte

// Meta is an opaque JSON-encoded object, decoded only at read boundaries.
type Meta []byte

// EncodeTags marshals a string slice into its opaque wire form.
func EncodeTags(tags []string) Tags {
	if tags == nil {
		tags = []string{}
	}
	b, _ := json.Marshal(tags)
	return Tags(b)
}

// DecodeTags parses the opaque wire form back into a string slice.
func DecodeTags(t Tags) []string {
	if len(t) == 0 {
		return nil
	}
	var out []string
	_ = json.Unmarshal(t, &out)
	return out
}

// EncodeMeta marshals a string-keyed map into its opaque wire form.
func EncodeMeta(meta map[string]any) Meta {
	if meta == nil {
		meta = map[string]any{}
	}
	b, _ := json.Marshal(meta)
	return Meta(b)
}

// DecodeMeta parses the opaque wire form back into a map.
func DecodeMeta(m Meta) map[string]any {
	out := map[string]any{}
	if len(m) == 0 {
		return out
	}
	_ = json.Unmarshal(m, &out)
	return out
}

// Memory is the persisted associative-memory row described by the data
// model: identity, namespace, lifecycle timestamps, the fused mean vector,
// and the lossy essence text (raw content is never retained past ingest).
type Memory struct {
	ID             uuid.UUID
	Namespaces     []string
	Segment        int64
	Content        string // the stored essence, not raw input
	Simhash        string // 16-char lowercase hex
	PrimarySector  Sector
	Tags           Tags
	Meta           Meta
	CreatedAt      int64 // ms epoch
	UpdatedAt      int64
	LastSeenAt     int64
	Salience       float64
	DecayLambda    float64
	Version        int64
	MeanDim        int
	MeanVec        []float32
	CompressedVec  []float32
	FeedbackScore  float64
}

// Clamp01 clamps v to the closed interval [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// NormalizeNamespaces rewrites an empty namespace set to {"global"} per the
// data-model invariant.
func NormalizeNamespaces(ns []string) []string {
	if len(ns) == 0 {
		return []string{"global"}
	}
	out := make([]string, len(ns))
	copy(out, ns)
	return out
}

// NamespacesOverlap reports whether a and b share at least one element.
func NamespacesOverlap(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

// SectorVector is a per-(memory, sector) embedding row.
type SectorVector struct {
	ID         uuid.UUID
	Sector     Sector
	Namespaces []string
	Vector     []float32
	Dim        int
}

// Waypoint is a directed, weighted edge in the associative graph. The
// composite key is (SrcID, DstID, Namespace) per the resolved Open
// Question in SPEC_FULL.md §9 — never (src_id, namespaces) alone.
type Waypoint struct {
	SrcID     uuid.UUID
	DstID     uuid.UUID
	Namespace string
	Weight    float64
	CreatedAt int64
	UpdatedAt int64
}

// EmbedLogStatus enumerates the lifecycle of one embedding attempt.
type EmbedLogStatus string

const (
	EmbedPending   EmbedLogStatus = "pending"
	EmbedCompleted EmbedLogStatus = "completed"
	EmbedFailed    EmbedLogStatus = "failed"
)

// EmbedLog records provenance of an embedding attempt for replay after
// provider outages.
type EmbedLog struct {
	ID        uuid.UUID
	Model     string
	Status    EmbedLogStatus
	Timestamp int64
	Err       string
}

// NewID mints a fresh 128-bit memory identifier.
func NewID() uuid.UUID { return uuid.New() }

// NowMS returns the current time as milliseconds since epoch, the unit
// every timestamp field in this package uses.
func NowMS(t time.Time) int64 { return t.UnixMilli() }

// PackVector little-endian packs a float32 vector to bytes, 4 bytes per
// element, matching the persistence layout's "vectors are stored as
// little-endian float32" clause.
func PackVector(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

// UnpackVector is the inverse of PackVector.
func UnpackVector(b []byte) []float32 {
	n := len(b) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4 : i*4+4]))
	}
	return out
}

// CosineSimilarity returns the cosine similarity of a and b, 0 if either is
// empty or of mismatched length, clamped to [-1,1] to absorb floating-point
// overshoot.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if sim > 1 {
		return 1
	}
	if sim < -1 {
		return -1
	}
	return sim
}

// L2Normalize scales v to unit length in place (with epsilon to avoid
// division by zero) and also returns it for chaining.
func L2Normalize(v []float32, eps float64) []float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	norm := math.Sqrt(sum) + eps
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}
