// Package res meters kernel heap consumption during long user/kernel copy
// loops. Copying a large buffer one page at a time allocates kernel heap
// on every iteration (slice headers, page-table walk scratch); an
// unbounded loop driven by a malicious or buggy user length can let that
// churn outrun the garbage collector before anything notices. Each
// iteration spends a small, call-site-specific estimate (bounds.Bounds)
// out of a budget that refills on a timer; once the budget for this tick
// is spent, Resadd_noblock refuses and the caller backs off with
// -defs.ENOHEAP (translated to ENOMEM at the syscall boundary) rather
// than looping the allocator ragged in one scheduling quantum.
package res

import (
	"sync/atomic"
	"time"
)

// tickBudget is how many heap-estimate units a single refill period
// allows; refillPeriod is how often the budget resets to tickBudget.
// Together they bound heap churn to a rate rather than an absolute
// outstanding total, so a copy loop that runs across many ticks is
// throttled but never permanently locked out.
const (
	tickBudget   = 1 << 22 // 4M bytes of estimated heap fan-out per tick
	refillPeriod = time.Millisecond
)

var remaining int64 = tickBudget

func init() {
	go refiller()
}

func refiller() {
	t := time.NewTicker(refillPeriod)
	for range t.C {
		atomic.StoreInt64(&remaining, tickBudget)
	}
}

/// Resadd_noblock tries to spend n bytes of this tick's heap budget and
/// reports whether it succeeded. Callers that get false must not proceed
/// with the iteration; they return -defs.ENOHEAP upward immediately and
/// retry (or give up) once the next tick refills the budget.
func Resadd_noblock(n uint) bool {
	nn := int64(n)
	g := atomic.AddInt64(&remaining, -nn)
	if g >= 0 {
		return true
	}
	atomic.AddInt64(&remaining, nn)
	return false
}

/// Remaining reports the current tick's unspent budget, for diagnostics.
func Remaining() uint {
	g := atomic.LoadInt64(&remaining)
	if g < 0 {
		return 0
	}
	return uint(g)
}
