package archshim

import (
	"sync"
	"unsafe"
)

// Soft is a pure-Go reference ArchOps backend for hosted unit tests and
// for any build that has no real architecture port wired in. It has no
// access to real physical memory or a real MMU, so Dmap/DmapV2p operate
// over a flat in-process byte arena addressed by Pa_t, and
// SwitchContext/NewKernelContext simulate a context switch with a
// goroutine parked on a channel rather than a real stack swap. This is
// enough to exercise every portable algorithm above archshim (frame
// allocation, page-table bookkeeping, the scheduler's bookkeeping) without
// real hardware.
type Soft struct {
	ncpu  int
	mu    sync.Mutex
	arena []byte
	// irqEnabled models one interrupt-enable flag per CPU, good enough
	// for single-goroutine-per-CPU test harnesses; it is not meant to
	// be a faithful multi-core interrupt model.
	irqEnabled []bool
}

/// NewSoft allocates a Soft backend with an arena big enough for
/// arenaPages 4 KiB pages and ncpu simulated CPUs.
func NewSoft(ncpu, arenaPages int) *Soft {
	return &Soft{
		ncpu:       ncpu,
		arena:      make([]byte, arenaPages*4096),
		irqEnabled: make([]bool, ncpu),
	}
}

func (s *Soft) CPUID() int {
	// Soft has no real per-CPU affinity; callers that need deterministic
	// behavior across goroutines should not rely on this beyond "some
	// value in [0, NCPU)".
	return 0
}

func (s *Soft) NCPU() int { return s.ncpu }

func (s *Soft) DisableAndStore() Irqstate_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.CPUID()
	was := s.irqEnabled[id]
	s.irqEnabled[id] = false
	if was {
		return 1
	}
	return 0
}

func (s *Soft) Restore(st Irqstate_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.irqEnabled[s.CPUID()] = st != 0
}

func (s *Soft) Dmap(pa Pa_t) unsafe.Pointer {
	if int(pa)+4096 > len(s.arena) {
		panic("archshim/soft: pa out of arena range")
	}
	return unsafe.Pointer(&s.arena[pa])
}

func (s *Soft) DmapV2p(v unsafe.Pointer) Pa_t {
	base := unsafe.Pointer(&s.arena[0])
	off := uintptr(v) - uintptr(base)
	if off >= uintptr(len(s.arena)) {
		panic("archshim/soft: pointer not in arena")
	}
	return Pa_t(off)
}

func (s *Soft) TLBInvalidateRange(va uintptr, n int, broadcast bool) {}
func (s *Soft) TLBInvalidateAll(broadcast bool)                     {}
func (s *Soft) ActivateTable(tableRoot Pa_t)                        {}

// softCtx is Soft's Context representation: a symmetric resume channel
// every SwitchContext call both sends on (to wake the target) and
// receives from (to park the caller until it is itself resumed). This
// makes SwitchContext fully resumable — a goroutine can call it from
// deep inside entry, get parked, and later be woken by some unrelated
// future SwitchContext naming the same *softCtx as its target — which
// is what letting a kernel thread call Park/Sleep/YieldNow/Exit
// mid-execution requires: the caller's own goroutine is what's parked,
// not some wrapper around it.
type softCtx struct {
	resume chan struct{}
}

func (s *Soft) SwitchContext(from, to unsafe.Pointer) {
	f := (*softCtx)(from)
	t := (*softCtx)(to)
	if f.resume == nil {
		f.resume = make(chan struct{})
	}
	if t.resume == nil {
		t.resume = make(chan struct{})
	}
	t.resume <- struct{}{}
	<-f.resume
}

func (s *Soft) NewKernelContext(stack []byte, entry func(arg interface{}), arg interface{}) unsafe.Pointer {
	c := &softCtx{resume: make(chan struct{})}
	go func() {
		<-c.resume
		entry(arg)
		// entry returned without itself switching away: the thread ran
		// to completion without calling Exit. Nothing is waiting on this
		// goroutine specifically; it simply ends here.
	}()
	return unsafe.Pointer(c)
}

// NewIdleContext returns an empty softCtx; its resume channel is filled
// in lazily by the first SwitchContext that references it, since the
// idle loop is the Processor's own goroutine, not one this backend
// spawned itself.
func (s *Soft) NewIdleContext() unsafe.Pointer {
	return unsafe.Pointer(&softCtx{})
}
