package pricing

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// recomputeKey identifies one pricing input: a charge position within a leg.
type recomputeKey struct {
	legID     string
	chargeIdx int
}

type pendingRecompute struct {
	timer *time.Timer
	seed  decimal.Decimal
}

// Recomputer coalesces rapid edits to the same (leg, charge) pricing input
// into a single recompute issued after a quiet period. Each key owns its own
// cancellable timer; scheduling for a key cancels that key's prior timer, and
// distinct keys stay independent. A recompute whose seeding rate no longer
// matches the key's current rate when the timer fires is discarded, so stale
// responses can never apply out of order.
//
// One Recomputer is owned per draft and must be closed when the draft is
// disposed.
type Recomputer struct {
	mu      sync.Mutex
	quiet   time.Duration
	pending map[recomputeKey]*pendingRecompute
	closed  bool
}

// NewRecomputer creates a Recomputer with the given quiet period.
func NewRecomputer(quiet time.Duration) *Recomputer {
	return &Recomputer{
		quiet:   quiet,
		pending: make(map[recomputeKey]*pendingRecompute),
	}
}

// Schedule queues a recompute for the (legID, chargeIdx) input, superseding
// any recompute already pending for the same key. seed is the rate that
// triggered the edit; currentRate is consulted when the timer fires and the
// recompute is dropped if the rate moved on. apply runs at most once per
// surviving schedule.
func (r *Recomputer) Schedule(legID string, chargeIdx int, seed decimal.Decimal, currentRate func() decimal.Decimal, apply func()) {
	key := recomputeKey{legID: legID, chargeIdx: chargeIdx}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	if prev, ok := r.pending[key]; ok {
		prev.timer.Stop()
	}

	p := &pendingRecompute{seed: seed}
	p.timer = time.AfterFunc(r.quiet, func() {
		r.mu.Lock()
		current, live := r.pending[key]
		if !live || current != p || r.closed {
			// Superseded between firing and acquiring the lock.
			r.mu.Unlock()
			return
		}
		delete(r.pending, key)
		r.mu.Unlock()

		// Stale-response guard: the edit that seeded this recompute is no
		// longer the current value.
		if !currentRate().Equal(p.seed) {
			return
		}
		apply()
	})
	r.pending[key] = p
}

// Pending returns the number of keys with a recompute outstanding.
func (r *Recomputer) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Close cancels every outstanding timer and rejects further scheduling.
// In-flight callbacks that already passed the pending check may still finish.
func (r *Recomputer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for key, p := range r.pending {
		p.timer.Stop()
		delete(r.pending, key)
	}
}
