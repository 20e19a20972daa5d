// Package dynamics implements the Hebbian co-activation buffer (§4.6): a
// bounded FIFO of unordered memory-id pairs drained on a periodic
// ticker, each pair nudging its waypoint weight up. Grounded on
// pkg/memory/metrics.go's atomic-counter idiom, generalized from simple
// counters into a mutex-guarded slice buffer with a background drain loop.
package dynamics

import (
	"context"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Raezil/hsg-memory/model"
	"github.com/Raezil/hsg-memory/store"
	"github.com/Raezil/hsg-memory/waypoint"
)

// Eta is the learning rate for Hebbian weight updates.
const Eta = 0.1

// TemporalTau is the time constant of the recency factor exp(-dt/τ)
// applied to a co-activation pair, in milliseconds (1 hour).
const TemporalTau = float64(time.Hour / time.Millisecond)

// DrainInterval is the default period between buffer drains.
const DrainInterval = 1 * time.Second

// DrainBatch is the default maximum number of pairs drained per tick.
const DrainBatch = 50

// Pair is one unordered co-activation event between two memories,
// observed at query time (§4.5 step 9).
type Pair struct {
	A, B uuid.UUID
}

// LastSeenLookup resolves a memory's last_seen_at, used to compute the
// temporal factor between the two members of a pair.
type LastSeenLookup func(ctx context.Context, id uuid.UUID) (int64, bool)

// Buffer is a bounded FIFO of co-activation pairs with a background
// drain loop that reinforces waypoint weights.
type Buffer struct {
	mu       sync.Mutex
	pairs    []Pair
	cap      int
	g        store.GraphStore
	lastSeen LastSeenLookup

	// Logger receives drain errors, which are logged and swallowed per
	// the propagation policy; nil drops them.
	Logger *log.Logger

	processed atomic.Int64
	dropped   atomic.Int64
}

// NewBuffer constructs a Buffer bounded to capacity, reinforcing edges
// in g and resolving last-seen timestamps via lastSeen.
func NewBuffer(capacity int, g store.GraphStore, lastSeen LastSeenLookup) *Buffer {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Buffer{cap: capacity, g: g, lastSeen: lastSeen}
}

// Push enqueues a pair, dropping the oldest entry if the buffer is full
// (co-activation reinforcement is best-effort, not lossless).
func (b *Buffer) Push(a, x uuid.UUID) {
	if a == x {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pairs) >= b.cap {
		b.pairs = b.pairs[1:]
		b.dropped.Add(1)
	}
	b.pairs = append(b.pairs, Pair{A: a, B: x})
}

// PushAll enqueues every unordered pair among ids, per §4.5 step 9's
// "push all unordered pairs of the returned IDs".
func (b *Buffer) PushAll(ids []uuid.UUID) {
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			b.Push(ids[i], ids[j])
		}
	}
}

// Processed reports how many pairs have been drained, including pairs
// skipped for a missing endpoint.
func (b *Buffer) Processed() int64 { return b.processed.Load() }

// Dropped reports how many pairs were evicted for capacity before being
// drained.
func (b *Buffer) Dropped() int64 { return b.dropped.Load() }

// Drain pops up to n pairs and reinforces each one's waypoint weight.
// Missing endpoints (no last_seen_at on record) are skipped silently,
// matching §4.6's "missing endpoints are skipped silently".
func (b *Buffer) Drain(ctx context.Context, n int) error {
	batch := b.pop(n)
	for _, p := range batch {
		if err := b.reinforce(ctx, p); err != nil {
			return err
		}
		b.processed.Add(1)
	}
	return nil
}

func (b *Buffer) pop(n int) []Pair {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 || n > len(b.pairs) {
		n = len(b.pairs)
	}
	batch := append([]Pair(nil), b.pairs[:n]...)
	b.pairs = b.pairs[n:]
	return batch
}

func (b *Buffer) reinforce(ctx context.Context, p Pair) error {
	aSeen, ok := b.lastSeen(ctx, p.A)
	if !ok {
		return nil
	}
	bSeen, ok := b.lastSeen(ctx, p.B)
	if !ok {
		return nil
	}
	dt := math.Abs(float64(aSeen - bSeen))
	f := math.Exp(-dt / TemporalTau)

	weight, err := currentWeight(ctx, b.g, p.A, p.B)
	if err != nil {
		return err
	}
	newWeight := math.Min(1, weight+Eta*(1-weight)*f)
	now := model.NowMS(time.Now())
	if err := waypoint.SetWeight(ctx, b.g, p.A, p.B, "", newWeight, now); err != nil {
		return err
	}
	return waypoint.SetWeight(ctx, b.g, p.B, p.A, "", newWeight, now)
}

func currentWeight(ctx context.Context, g store.GraphStore, a, b uuid.UUID) (float64, error) {
	neighbors, err := g.Neighbors(ctx, a, "")
	if err != nil {
		return 0, err
	}
	for _, w := range neighbors {
		if w.DstID == b {
			return w.Weight, nil
		}
	}
	return 0, nil
}

// Run drives the background drain loop until ctx is cancelled, waking
// every interval and draining up to batch pairs each time.
func (b *Buffer) Run(ctx context.Context, interval time.Duration, batch int) {
	if interval <= 0 {
		interval = DrainInterval
	}
	if batch <= 0 {
		batch = DrainBatch
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.Drain(ctx, batch); err != nil && b.Logger != nil {
				b.Logger.Printf("coactivation drain: %v", err)
			}
		}
	}
}
