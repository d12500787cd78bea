package pricing

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestRecomputerCoalescesRapidEdits(t *testing.T) {
	r := NewRecomputer(20 * time.Millisecond)
	defer r.Close()

	var mu sync.Mutex
	rate := dec("100")
	currentRate := func() decimal.Decimal {
		mu.Lock()
		defer mu.Unlock()
		return rate
	}

	var applied int32
	for _, v := range []string{"101", "102", "103"} {
		mu.Lock()
		rate = dec(v)
		mu.Unlock()
		r.Schedule("leg-1", 0, dec(v), currentRate, func() {
			atomic.AddInt32(&applied, 1)
		})
	}

	time.Sleep(80 * time.Millisecond)
	if got := atomic.LoadInt32(&applied); got != 1 {
		t.Errorf("apply ran %d times, want 1 (edits must coalesce)", got)
	}
	if r.Pending() != 0 {
		t.Errorf("Pending() = %d after quiet period, want 0", r.Pending())
	}
}

func TestRecomputerIndependentKeys(t *testing.T) {
	r := NewRecomputer(10 * time.Millisecond)
	defer r.Close()

	var applied int32
	same := func() decimal.Decimal { return dec("5") }
	r.Schedule("leg-1", 0, dec("5"), same, func() { atomic.AddInt32(&applied, 1) })
	r.Schedule("leg-1", 1, dec("5"), same, func() { atomic.AddInt32(&applied, 1) })
	r.Schedule("leg-2", 0, dec("5"), same, func() { atomic.AddInt32(&applied, 1) })

	if r.Pending() != 3 {
		t.Errorf("Pending() = %d, want 3 distinct keys", r.Pending())
	}
	time.Sleep(60 * time.Millisecond)
	if got := atomic.LoadInt32(&applied); got != 3 {
		t.Errorf("apply ran %d times, want 3 (keys are independent)", got)
	}
}

func TestRecomputerDropsStaleResponse(t *testing.T) {
	r := NewRecomputer(10 * time.Millisecond)
	defer r.Close()

	var applied int32
	// The rate moved on after the edit was scheduled.
	moved := func() decimal.Decimal { return dec("999") }
	r.Schedule("leg-1", 0, dec("100"), moved, func() { atomic.AddInt32(&applied, 1) })

	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&applied); got != 0 {
		t.Errorf("apply ran %d times, want 0 (stale seed must be discarded)", got)
	}
}

func TestRecomputerCloseCancelsPending(t *testing.T) {
	r := NewRecomputer(20 * time.Millisecond)

	var applied int32
	same := func() decimal.Decimal { return dec("5") }
	r.Schedule("leg-1", 0, dec("5"), same, func() { atomic.AddInt32(&applied, 1) })
	r.Close()

	time.Sleep(60 * time.Millisecond)
	if got := atomic.LoadInt32(&applied); got != 0 {
		t.Errorf("apply ran %d times after Close, want 0", got)
	}

	// Scheduling after Close is a no-op.
	r.Schedule("leg-1", 0, dec("5"), same, func() { atomic.AddInt32(&applied, 1) })
	if r.Pending() != 0 {
		t.Errorf("Pending() = %d after Close, want 0", r.Pending())
	}
}
