// Package mem is the frame allocator: reservation and release of
// physical page frames over a cascaded 16-ary bitmap, plus the
// reference-counted page handle (Page_i) every other subsystem uses to
// talk about physical memory without touching an architecture-specific
// address.
package mem

import (
	"unsafe"

	"archshim"
	"ksync"
	"oommsg"
)

/// PGSHIFT is the base-2 exponent for the page size.
const PGSHIFT uint = 12

/// PGSIZE is the size of a single page in bytes.
const PGSIZE int = 1 << PGSHIFT

/// PGOFFSET masks offsets within a page.
const PGOFFSET Pa_t = 0xfff

/// PGMASK masks the page number of an address.
const PGMASK Pa_t = ^(PGOFFSET)

/// Pa_t is a physical address.
type Pa_t uintptr

/// Bytepg_t is a byte-addressed page.
type Bytepg_t [PGSIZE]uint8

/// Pg_t is a generic page of machine words.
type Pg_t [PGSIZE / 8]uint64

/// Pg2bytes reinterprets a page of words as a page of bytes.
func Pg2bytes(pg *Pg_t) *Bytepg_t {
	return (*Bytepg_t)(unsafe.Pointer(pg))
}

/// Bytepg2pg reinterprets a page of bytes as a page of words.
func Bytepg2pg(pg *Bytepg_t) *Pg_t {
	return (*Pg_t)(unsafe.Pointer(pg))
}

func pg2pgn(p Pa_t) int {
	return int(p >> PGSHIFT)
}

/// Page_i abstracts physical frame allocation and reference counting —
/// the contract every handler in the vm package allocates and pins
/// frames through.
type Page_i interface {
	// Refpg_new reserves a frame, zeroes it, and returns its kernel
	// mapping and physical address. Refcount starts at 0; the caller
	// takes ownership by calling Refup once it is installed in a page
	// table entry.
	Refpg_new() (*Pg_t, Pa_t, bool)
	// Refpg_new_nozero is Refpg_new without the zero-fill, for callers
	// about to overwrite the whole page anyway (e.g. File handler
	// reading from a backing store).
	Refpg_new_nozero() (*Pg_t, Pa_t, bool)
	Refcnt(Pa_t) int
	Refup(Pa_t)
	// Refdown drops a reference, returning true if the frame was freed.
	Refdown(Pa_t) bool
	Dmap(Pa_t) *Pg_t
}

/// Physmem_t is the global frame allocator: a cascaded 16-ary bitmap
/// (see bitmap.go) guarded by a spin-with-IRQ-mask lock, plus a parallel
/// refcount table. Frame reservation (alloc/dealloc) and reference
/// counting are independent concerns here, matching the split the
/// original free-list allocator made between its free list and its
/// Physpg_t.Refcnt field — Physmem_t still owns both, it is just backed
/// by a different reservation structure.
type Physmem_t struct {
	arch   archshim.ArchOps
	lk     ksync.SpinNoIrqLock_t
	bitmap *cascade16_t
	startn int // frame number of the first managed frame
	nframe int
	refcnt []int32
}

/// NewPhysmem builds a frame allocator managing nframe frames starting
/// at physical frame number startn (i.e. covering
/// [startn<<PGSHIFT, (startn+nframe)<<PGSHIFT)). The kernel's global
/// frame allocator is a single instance of this type shared across all
/// CPUs, guarded internally by a spin-with-IRQ-mask lock built on arch.
func NewPhysmem(arch archshim.ArchOps, startn, nframe int) *Physmem_t {
	lvl := levelsFor(nframe)
	bm := newCascade16(lvl)
	// the cascade always covers a power-of-16 span; mark anything past
	// nframe as permanently unavailable.
	bm.remove(nframe, cap16(lvl))
	return &Physmem_t{
		arch:   arch,
		lk:     *ksync.MkSpinNoIrqLock(arch),
		bitmap: bm,
		startn: startn,
		nframe: nframe,
		refcnt: make([]int32, nframe),
	}
}

func (p *Physmem_t) idx(pa Pa_t) int {
	return pg2pgn(pa) - p.startn
}

/// Remove excludes [start, end) (physical addresses) from allocation,
/// e.g. to reserve the kernel image's own frames.
func (p *Physmem_t) Remove(start, end Pa_t) {
	lo, hi := pg2pgn(start)-p.startn, pg2pgn(end)-p.startn
	p.lk.Lock()
	p.bitmap.remove(lo, hi)
	p.lk.Unlock()
}

/// Any reports whether at least one frame remains free.
func (p *Physmem_t) Any() bool {
	p.lk.Lock()
	defer p.lk.Unlock()
	return p.bitmap.any()
}

/// Test reports whether the frame at pa is currently allocated.
func (p *Physmem_t) Test(pa Pa_t) bool {
	p.lk.Lock()
	defer p.lk.Unlock()
	return !p.bitmap.test(p.idx(pa))
}

// allocFrame reserves one frame, asking oommsg's reclaimer (if any) for
// a retry on the first failure before giving up for good.
func (p *Physmem_t) allocFrame() (Pa_t, bool) {
	i, ok := p.tryAllocFrame()
	if !ok && oommsg.TryReclaim(1) {
		i, ok = p.tryAllocFrame()
	}
	if !ok {
		return 0, false
	}
	return Pa_t(p.startn+i) << PGSHIFT, true
}

func (p *Physmem_t) tryAllocFrame() (int, bool) {
	p.lk.Lock()
	i, ok := p.bitmap.alloc()
	p.lk.Unlock()
	return i, ok
}

func (p *Physmem_t) dealloc(pa Pa_t) {
	i := p.idx(pa)
	p.lk.Lock()
	p.bitmap.dealloc(i)
	p.lk.Unlock()
}

/// Dmap returns the kernel (direct-mapped) view of a physical frame via
/// the architecture shim.
func (p *Physmem_t) Dmap(pa Pa_t) *Pg_t {
	return (*Pg_t)(p.arch.Dmap(archshim.Pa_t(pa)))
}

/// Refpg_new reserves a frame, zeroes it, and returns it with refcount 0.
func (p *Physmem_t) Refpg_new() (*Pg_t, Pa_t, bool) {
	pg, pa, ok := p.Refpg_new_nozero()
	if !ok {
		return nil, 0, false
	}
	*pg = Pg_t{}
	return pg, pa, true
}

/// Refpg_new_nozero reserves a frame without zeroing it.
func (p *Physmem_t) Refpg_new_nozero() (*Pg_t, Pa_t, bool) {
	pa, ok := p.allocFrame()
	if !ok {
		return nil, 0, false
	}
	p.refcnt[p.idx(pa)] = 0
	return p.Dmap(pa), pa, true
}

/// Refcnt reports the current reference count of the frame at pa.
func (p *Physmem_t) Refcnt(pa Pa_t) int {
	return int(loadRef(&p.refcnt[p.idx(pa)]))
}

/// Refup increments the reference count of the frame at pa.
func (p *Physmem_t) Refup(pa Pa_t) {
	c := addRef(&p.refcnt[p.idx(pa)], 1)
	if c <= 0 {
		panic("mem: Refup on a frame with non-positive refcount")
	}
}

/// Refdown decrements the reference count of the frame at pa, returning
/// the frame to the allocator (and true) when it reaches zero.
func (p *Physmem_t) Refdown(pa Pa_t) bool {
	c := addRef(&p.refcnt[p.idx(pa)], -1)
	if c < 0 {
		panic("mem: Refdown on a frame with negative refcount")
	}
	if c == 0 {
		p.dealloc(pa)
		return true
	}
	return false
}

/// NFrames reports the total number of frames this allocator manages.
func (p *Physmem_t) NFrames() int {
	return p.nframe
}
