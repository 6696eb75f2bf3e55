package sched

import (
	"container/heap"
	"fmt"
	"sync"
	"sync/atomic"

	"defs"
)

// Scheduler_i is the pluggable scheduling policy every ThreadPool_t
// delegates thread selection to. Exactly one concrete implementation
// below is installed per ThreadPool_t; mixing policies is not
// supported — pick one and stick with it.
type Scheduler_i interface {
	// Push makes tid runnable again.
	Push(tid defs.Tid_t)
	// Pop selects the next thread to run on cpu, if any.
	Pop(cpu int) (defs.Tid_t, bool)
	// Tick accounts one timer tick against tid's time slice, reporting
	// whether a reschedule is now due.
	Tick(tid defs.Tid_t) bool
	// SetPriority adjusts tid's scheduling priority. Meaningful only for
	// Stride; a documented no-op everywhere else.
	SetPriority(tid defs.Tid_t, prio uint8)
}

// --- RR ---------------------------------------------------------------

// RR_t is a doubly-linked FIFO queue over a vector indexed by tid (index
// 0 is the sentinel), so push and pop are O(1) without a separate
// map. Grounded on the intrusive-list convention
// original_source's process scheduler uses to avoid a second allocation
// per ready thread.
type RR_t struct {
	mu     sync.Mutex
	slice  int
	next   []defs.Tid_t
	prev   []defs.Tid_t
	remain []int
	inq    []bool
}

// NewRR constructs a round-robin scheduler giving each thread slice
// ticks before it is preempted.
func NewRR(slice int) *RR_t {
	r := &RR_t{slice: slice}
	r.grow(0)
	return r
}

func (r *RR_t) grow(tid defs.Tid_t) {
	for int(tid) >= len(r.next) {
		r.next = append(r.next, 0)
		r.prev = append(r.prev, 0)
		r.remain = append(r.remain, 0)
		r.inq = append(r.inq, false)
	}
}

func (r *RR_t) Push(tid defs.Tid_t) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.grow(tid)
	if r.inq[tid] {
		return
	}
	if r.remain[tid] <= 0 {
		r.remain[tid] = r.slice
	}
	tail := r.prev[0]
	r.next[tail] = tid
	r.prev[tid] = tail
	r.next[tid] = 0
	r.prev[0] = tid
	r.inq[tid] = true
}

func (r *RR_t) Pop(cpu int) (defs.Tid_t, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	head := r.next[0]
	if head == 0 {
		return 0, false
	}
	nxt := r.next[head]
	r.next[0] = nxt
	r.prev[nxt] = 0
	r.inq[head] = false
	return head, true
}

func (r *RR_t) Tick(tid defs.Tid_t) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.grow(tid)
	if r.remain[tid] <= 0 {
		// Must not underflow: a thread ticked with nothing left is
		// logged and treated as due.
		fmt.Printf("sched: RR.Tick on tid %d with zero remaining slice\n", tid)
		r.remain[tid] = 0
		return true
	}
	r.remain[tid]--
	return r.remain[tid] == 0
}

func (r *RR_t) SetPriority(defs.Tid_t, uint8) {}

// --- Stride -------------------------------------------------------------

// BigStride is the numerator of the per-pass stride increment; each
// pass updates pass += BigStride / max(priority, 1).
const BigStride = 1 << 20

type strideItem struct {
	tid    defs.Tid_t
	stride int64
	prio   uint8
	idx    int
}

type strideHeap []*strideItem

func (h strideHeap) Len() int            { return len(h) }
func (h strideHeap) Less(i, j int) bool  { return h[i].stride < h[j].stride }
func (h strideHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].idx, h[j].idx = i, j
}
func (h *strideHeap) Push(x interface{}) {
	it := x.(*strideItem)
	it.idx = len(*h)
	*h = append(*h, it)
}
func (h *strideHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Stride_t is a max-heap on -stride (implemented as a min-heap on
// stride, equivalently): the runnable thread with the smallest stride
// runs next. Pop advances the winner's stride by BigStride/max(prio,1)
// before it is (eventually) pushed back, so a thread that just ran falls
// behind in proportion to its priority — bounded unfairness rather than
// starvation.
type Stride_t struct {
	mu     sync.Mutex
	slice  int
	items  map[defs.Tid_t]*strideItem
	heap   strideHeap
	remain map[defs.Tid_t]int
}

// NewStride constructs a Stride scheduler giving each thread slice ticks
// per scheduling quantum.
func NewStride(slice int) *Stride_t {
	return &Stride_t{
		slice:  slice,
		items:  make(map[defs.Tid_t]*strideItem),
		remain: make(map[defs.Tid_t]int),
	}
}

func (s *Stride_t) itemFor(tid defs.Tid_t) *strideItem {
	it, ok := s.items[tid]
	if !ok {
		it = &strideItem{tid: tid, prio: 1}
		s.items[tid] = it
	}
	return it
}

func (s *Stride_t) Push(tid defs.Tid_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := s.itemFor(tid)
	if s.remain[tid] <= 0 {
		s.remain[tid] = s.slice
	}
	heap.Push(&s.heap, it)
}

func (s *Stride_t) Pop(cpu int) (defs.Tid_t, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.heap.Len() == 0 {
		return 0, false
	}
	it := heap.Pop(&s.heap).(*strideItem)
	prio := it.prio
	if prio == 0 {
		prio = 1
	}
	it.stride += BigStride / int64(prio)
	return it.tid, true
}

func (s *Stride_t) Tick(tid defs.Tid_t) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remain[tid] <= 0 {
		s.remain[tid] = 0
		return true
	}
	s.remain[tid]--
	return s.remain[tid] == 0
}

func (s *Stride_t) SetPriority(tid defs.Tid_t, prio uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := s.itemFor(tid)
	if prio == 0 {
		prio = 1
	}
	it.prio = prio
}

// --- WorkStealing -------------------------------------------------------

// WorkStealing_t keeps one runqueue per CPU. Push round-robins new work
// across CPUs; Pop tries the local queue first and, failing that, steals
// from the head of another CPU's queue so the victim's own Pop (which
// takes from its own tail) and a thief rarely contend on the same end.
// Each queue is protected by its own lock rather than a Chase-Lev
// lock-free deque, so a lock-free deque's "retry on Abort" never
// applies here — a queue is simply Empty or it isn't — documented as a
// simplification in DESIGN.md.
type WorkStealing_t struct {
	mu   []sync.Mutex
	dq   [][]defs.Tid_t
	next uint32
}

// NewWorkStealing constructs a work-stealing scheduler with n per-CPU
// deques.
func NewWorkStealing(n int) *WorkStealing_t {
	if n < 1 {
		n = 1
	}
	return &WorkStealing_t{
		mu: make([]sync.Mutex, n),
		dq: make([][]defs.Tid_t, n),
	}
}

func (w *WorkStealing_t) Push(tid defs.Tid_t) {
	i := int(atomic.AddUint32(&w.next, 1)-1) % len(w.dq)
	w.mu[i].Lock()
	w.dq[i] = append(w.dq[i], tid)
	w.mu[i].Unlock()
}

func (w *WorkStealing_t) popFrom(i int, fromHead bool) (defs.Tid_t, bool) {
	w.mu[i].Lock()
	defer w.mu[i].Unlock()
	n := len(w.dq[i])
	if n == 0 {
		return 0, false
	}
	if fromHead {
		tid := w.dq[i][0]
		w.dq[i] = w.dq[i][1:]
		return tid, true
	}
	tid := w.dq[i][n-1]
	w.dq[i] = w.dq[i][:n-1]
	return tid, true
}

func (w *WorkStealing_t) Pop(cpu int) (defs.Tid_t, bool) {
	if cpu < 0 || cpu >= len(w.dq) {
		cpu = 0
	}
	if tid, ok := w.popFrom(cpu, false); ok {
		return tid, true
	}
	for i := range w.dq {
		if i == cpu {
			continue
		}
		if tid, ok := w.popFrom(i, true); ok {
			return tid, true
		}
	}
	return 0, false
}

func (w *WorkStealing_t) Tick(tid defs.Tid_t) bool {
	// WorkStealing carries no per-thread remaining-slice bookkeeping of
	// its own, so every tick requests a reschedule: the real cadence is
	// the rate at which the timer IRQ drives Tick.
	return true
}

func (w *WorkStealing_t) SetPriority(defs.Tid_t, uint8) {}

// --- O(1) -----------------------------------------------------------------

// O1_t is the classic two-array O(1) scheduler: Pop drains active;
// once active empties, active and inactive are swapped. A thread whose
// time slice just expired is pushed into inactive instead of active so
// it waits out the current round.
type O1_t struct {
	mu       sync.Mutex
	active   []defs.Tid_t
	inactive []defs.Tid_t
	remain   map[defs.Tid_t]int
	expired  map[defs.Tid_t]bool
	slice    int
}

// NewO1 constructs an O(1) scheduler giving each thread slice ticks per
// round.
func NewO1(slice int) *O1_t {
	return &O1_t{
		remain:  make(map[defs.Tid_t]int),
		expired: make(map[defs.Tid_t]bool),
		slice:   slice,
	}
}

func (s *O1_t) Push(tid defs.Tid_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remain[tid] <= 0 {
		s.remain[tid] = s.slice
	}
	if s.expired[tid] {
		delete(s.expired, tid)
		s.inactive = append(s.inactive, tid)
		return
	}
	s.active = append(s.active, tid)
}

func (s *O1_t) Pop(cpu int) (defs.Tid_t, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.active) == 0 {
		s.active, s.inactive = s.inactive, s.active
	}
	if len(s.active) == 0 {
		return 0, false
	}
	tid := s.active[0]
	s.active = s.active[1:]
	return tid, true
}

func (s *O1_t) Tick(tid defs.Tid_t) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.remain[tid]
	if !ok || r <= 0 {
		s.expired[tid] = true
		return true
	}
	r--
	s.remain[tid] = r
	if r == 0 {
		s.expired[tid] = true
		return true
	}
	return false
}

func (s *O1_t) SetPriority(defs.Tid_t, uint8) {}
