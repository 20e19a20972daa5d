package embed

import (
	"context"
	"sync"
	"time"

	"github.com/Raezil/hsg-memory/model"
)

// Advanced serializes every provider call behind one mutex and inserts a
// fixed delay between consecutive calls — §5's "inter-call delay in
// advanced-embed mode" suspension point, for providers whose rate limits
// can't absorb the per-sector fan-out of a query.
type Advanced struct {
	inner Embedder
	delay time.Duration

	mu       sync.Mutex
	lastCall time.Time
}

// NewAdvanced wraps inner in advanced-embed mode with the given
// inter-call delay.
func NewAdvanced(inner Embedder, delay time.Duration) *Advanced {
	return &Advanced{inner: inner, delay: delay}
}

func (a *Advanced) Name() string { return a.inner.Name() + ":advanced" }

// SingleFlight reports that callers must not fan out concurrent calls.
func (a *Advanced) SingleFlight() bool { return true }

func (a *Advanced) Embed(ctx context.Context, text string, sector model.Sector) ([]float32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.delay > 0 && !a.lastCall.IsZero() {
		wait := a.delay - time.Since(a.lastCall)
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}
	v, err := a.inner.Embed(ctx, text, sector)
	a.lastCall = time.Now()
	return v, err
}

// IsSingleFlight reports whether e demands serialized calls, per §5's
// "parallel unless the provider requires serialized calls" rule. The
// query pipeline degrades its per-sector fan-out to sequential calls for
// such providers.
func IsSingleFlight(e Embedder) bool {
	sf, ok := e.(interface{ SingleFlight() bool })
	return ok && sf.SingleFlight()
}
