package sched

import (
	"container/heap"
	"sync"
	"time"

	"defs"
)

type wakeItem struct {
	deadline time.Time
	tid      defs.Tid_t
	live     bool
	idx      int
}

type wakeHeap []*wakeItem

func (h wakeHeap) Len() int           { return len(h) }
func (h wakeHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }
func (h wakeHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].idx, h[j].idx = i, j
}
func (h *wakeHeap) Push(x interface{}) {
	it := x.(*wakeItem)
	it.idx = len(*h)
	*h = append(*h, it)
}
func (h *wakeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

/// EventHub_t is the scheduler's deferred-wakeup timer wheel:
/// sleeping threads register a (deadline, tid) pair, and each tick-driven
/// Tick call expires everything whose deadline has passed, in deadline
/// order within that one drain.
type EventHub_t struct {
	mu    sync.Mutex
	heap  wakeHeap
	byTid map[defs.Tid_t]*wakeItem
	ticks uint64
	pool  *ThreadPool_t
}

/// NewEventHub constructs an EventHub_t that unparks through pool.
func NewEventHub(pool *ThreadPool_t) *EventHub_t {
	return &EventHub_t{pool: pool, byTid: make(map[defs.Tid_t]*wakeItem)}
}

/// ScheduleWakeup registers tid for wakeup after d elapses. A thread may
/// have at most one pending wakeup; scheduling a second one for the same
/// tid replaces the first (the earlier deadline entry is marked dead and
/// skipped when it surfaces).
func (h *EventHub_t) ScheduleWakeup(tid defs.Tid_t, d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.byTid[tid]; ok {
		old.live = false
	}
	it := &wakeItem{deadline: time.Now().Add(d), tid: tid, live: true}
	h.byTid[tid] = it
	heap.Push(&h.heap, it)
}

/// Cancel removes tid's pending wakeup, if any, reporting whether one
/// existed. Used when a sleeper is woken some other way (e.g. a signal)
/// before its deadline.
func (h *EventHub_t) Cancel(tid defs.Tid_t) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	it, ok := h.byTid[tid]
	if !ok {
		return false
	}
	it.live = false
	delete(h.byTid, tid)
	return true
}

// drainDue pops every expired entry (in deadline order, since the heap's
// root is always the earliest) and returns the still-live tids among
// them.
func (h *EventHub_t) drainDue(now time.Time) []defs.Tid_t {
	h.mu.Lock()
	defer h.mu.Unlock()
	var due []defs.Tid_t
	for h.heap.Len() > 0 && !h.heap[0].deadline.After(now) {
		it := heap.Pop(&h.heap).(*wakeItem)
		if it.live {
			due = append(due, it.tid)
			delete(h.byTid, it.tid)
		}
	}
	return due
}

/// Tick is the timer-IRQ entry point:
/// advances the tick counter, wakes every thread whose sleep deadline has
/// passed, then forwards to the scheduler's own Tick for the currently
/// running thread, returning whether a reschedule is due.
func (h *EventHub_t) Tick(current defs.Tid_t) bool {
	h.mu.Lock()
	h.ticks++
	h.mu.Unlock()

	for _, tid := range h.drainDue(time.Now()) {
		h.pool.Unpark(tid)
	}
	if current == defs.NoTid {
		return false
	}
	return h.pool.Tick(current)
}

/// Ticks reports the number of timer ticks observed, for diagnostics.
func (h *EventHub_t) Ticks() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ticks
}
