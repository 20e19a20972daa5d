// Package cache provides the bounded, TTL-based caches the query and
// ingest pipelines share (§5): a query-result cache keyed by
// (query, k, filters), a segment-row cache, a vector-bytes cache with an
// explicit size cap, a salience cache, and the query admission counter.
// Grounded on pkg/memory/session/spaces.go's mutex-guarded,
// injectable-clock registry idiom, backed by patrickmn/go-cache for the
// actual TTL storage rather than hand-rolled expiry bookkeeping.
package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// DefaultQueryTTL is the query-result cache lifetime (§4.5 step 1).
const DefaultQueryTTL = 60 * time.Second

// DefaultCleanupInterval is how often go-cache sweeps expired entries.
const DefaultCleanupInterval = 2 * time.Minute

// TypedCache is a generic wrapper around a *gocache.Cache, giving callers
// a typed Get/Set instead of casting interface{} at every call site.
type TypedCache[V any] struct {
	c   *gocache.Cache
	ttl time.Duration
}

// NewTypedCache constructs a cache whose entries expire after ttl.
func NewTypedCache[V any](ttl, cleanup time.Duration) *TypedCache[V] {
	if ttl <= 0 {
		ttl = DefaultQueryTTL
	}
	if cleanup <= 0 {
		cleanup = DefaultCleanupInterval
	}
	return &TypedCache[V]{c: gocache.New(ttl, cleanup), ttl: ttl}
}

// Get returns the cached value for key, if present and unexpired.
func (t *TypedCache[V]) Get(key string) (V, bool) {
	var zero V
	raw, ok := t.c.Get(key)
	if !ok {
		return zero, false
	}
	v, ok := raw.(V)
	if !ok {
		return zero, false
	}
	return v, true
}

// Set stores value under key with the cache's default TTL.
func (t *TypedCache[V]) Set(key string, value V) {
	t.c.Set(key, value, t.ttl)
}

// Delete removes key, if present.
func (t *TypedCache[V]) Delete(key string) { t.c.Delete(key) }

// Flush empties the cache.
func (t *TypedCache[V]) Flush() { t.c.Flush() }

// Len reports the number of live entries.
func (t *TypedCache[V]) Len() int { return t.c.ItemCount() }

// QueryKey derives the cache key for a query call, per §4.5 step 1's
// "(query, k, filters)" composite.
func QueryKey(query string, k int, namespaces []string) string {
	ns := append([]string(nil), namespaces...)
	sort.Strings(ns)
	h := sha1.New()
	h.Write([]byte(query))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(k)))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(ns, ",")))
	return hex.EncodeToString(h.Sum(nil))
}

// QueryCache caches full query responses keyed by QueryKey.
type QueryCache[R any] struct {
	*TypedCache[R]
}

// NewQueryCache constructs a QueryCache with the §4.5 60s TTL.
func NewQueryCache[R any](ttl time.Duration) *QueryCache[R] {
	return &QueryCache[R]{TypedCache: NewTypedCache[R](ttl, DefaultCleanupInterval)}
}

// SegmentCache caches per-segment values; ingest uses it for segment row
// counts, avoiding a repeat store round trip when picking the segment for
// a new memory.
type SegmentCache[R any] struct {
	*TypedCache[R]
}

// NewSegmentCache constructs a SegmentCache with ttl (0 uses the default).
func NewSegmentCache[R any](ttl time.Duration) *SegmentCache[R] {
	return &SegmentCache[R]{TypedCache: NewTypedCache[R](ttl, DefaultCleanupInterval)}
}

// SalienceCache caches a memory's decayed salience as computed by query,
// which invalidates an entry when its reinforcement step rewrites that
// row. The decay pass does not use it.
type SalienceCache struct {
	*TypedCache[float64]
}

// NewSalienceCache constructs a SalienceCache with ttl (0 uses the default).
func NewSalienceCache(ttl time.Duration) *SalienceCache {
	return &SalienceCache{TypedCache: NewTypedCache[float64](ttl, DefaultCleanupInterval)}
}

// VectorCache is a size-capped cache of packed sector vectors. Unlike the
// TTL caches above, §5 calls for an "explicit size cap... LRU-by-insertion
// eviction acceptable" rather than time-based expiry, so it is built
// directly on a mutex-guarded map plus an insertion-order queue instead of
// go-cache (go-cache has no size-cap/eviction primitive).
type VectorCache struct {
	mu       sync.Mutex
	cap      int
	order    []string
	entries  map[string][]byte
}

// NewVectorCache constructs a VectorCache bounded to capacity entries.
func NewVectorCache(capacity int) *VectorCache {
	if capacity <= 0 {
		capacity = 10000
	}
	return &VectorCache{cap: capacity, entries: make(map[string][]byte, capacity)}
}

// Get returns the cached packed vector for key, if present.
func (v *VectorCache) Get(key string) ([]byte, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	b, ok := v.entries[key]
	return b, ok
}

// Set stores packed under key, evicting the oldest insertion if the
// cache is at capacity and key is new.
func (v *VectorCache) Set(key string, packed []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, exists := v.entries[key]; !exists {
		if len(v.order) >= v.cap {
			oldest := v.order[0]
			v.order = v.order[1:]
			delete(v.entries, oldest)
		}
		v.order = append(v.order, key)
	}
	v.entries[key] = packed
}

// Delete removes key from the cache.
func (v *VectorCache) Delete(key string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, exists := v.entries[key]; !exists {
		return
	}
	delete(v.entries, key)
	for i, k := range v.order {
		if k == key {
			v.order = append(v.order[:i], v.order[i+1:]...)
			break
		}
	}
}

// Len reports the number of cached vectors.
func (v *VectorCache) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.order)
}

// ErrAdmissionFull is returned by Admission.Enter when max_active
// concurrent callers are already admitted (§8 invariant 8: "query under
// max_active+1 concurrent callers produces exactly one RateLimit").
var ErrAdmissionFull = errors.New("hsg cache: admission limit reached")

// Admission brackets concurrent query execution to a fixed ceiling.
type Admission struct {
	sem chan struct{}
}

// NewAdmission constructs an Admission counter allowing up to maxActive
// concurrent holders. maxActive <= 0 disables the limit.
func NewAdmission(maxActive int) *Admission {
	if maxActive <= 0 {
		return &Admission{}
	}
	return &Admission{sem: make(chan struct{}, maxActive)}
}

// Enter attempts to admit one caller, returning ErrAdmissionFull
// immediately if the ceiling is already occupied (non-blocking, matching
// §4.5's "admission counter brackets the entire query").
func (a *Admission) Enter() error {
	if a.sem == nil {
		return nil
	}
	select {
	case a.sem <- struct{}{}:
		return nil
	default:
		return ErrAdmissionFull
	}
}

// Leave releases a slot acquired by Enter. Safe to call even when the
// admission limit is disabled.
func (a *Admission) Leave() {
	if a.sem == nil {
		return
	}
	<-a.sem
}

// Active reports the number of callers currently admitted.
func (a *Admission) Active() int {
	if a.sem == nil {
		return 0
	}
	return len(a.sem)
}
