package vm

import (
	"sync"

	"defs"
	"mem"
	"pagetable"
)

/// FileBacking_i is the narrow slice of a backing file's interface the
/// File and Shared handlers need: a random-access read. An
/// extiface.INode-backed regular file implements this alongside
/// fdops.Fdops_i; the two are kept separate because Fdops_i reads from
/// the file's current cursor while a page fault always reads a specific
/// absolute offset.
type FileBacking_i interface {
	ReadAt(buf []byte, offset int) (int, defs.Err_t)
}

// --- Linear ---------------------------------------------------------

/// LinearHandler eagerly maps va to va+Offset for every page in the
/// area: device MMIO and the kernel image. It never takes a page
/// fault.
type LinearHandler struct {
	Offset uintptr
}

func (h *LinearHandler) Map(pt *pagetable.Table_t, va, size uintptr, attr MemoryAttr) defs.Err_t {
	for off := uintptr(0); off < size; off += pgsize {
		pt.Map(va+off, mem.Pa_t(va+off+h.Offset), attr.flags())
	}
	return 0
}

func (h *LinearHandler) Unmap(pt *pagetable.Table_t, va, size uintptr) {
	for off := uintptr(0); off < size; off += pgsize {
		pt.Unmap(va + off)
	}
}

func (h *LinearHandler) CloneMap(dst, src *pagetable.Table_t, va, size uintptr, attr MemoryAttr) defs.Err_t {
	return h.Map(dst, va, size, attr)
}

func (h *LinearHandler) HandlePageFault(pt *pagetable.Table_t, va uintptr, access AccessType) bool {
	return false
}

func (h *LinearHandler) BoxClone() MemoryHandler {
	return &LinearHandler{Offset: h.Offset}
}

// --- ByFrame ----------------------------------------------------------

/// ByFrameHandler eagerly allocates a fresh frame per page at Map time.
type ByFrameHandler struct {
	Alloc mem.Page_i
}

func (h *ByFrameHandler) Map(pt *pagetable.Table_t, va, size uintptr, attr MemoryAttr) defs.Err_t {
	for off := uintptr(0); off < size; off += pgsize {
		_, pa, ok := h.Alloc.Refpg_new()
		if !ok {
			h.Unmap(pt, va, off)
			return -defs.ENOMEM
		}
		h.Alloc.Refup(pa)
		pt.Map(va+off, pa, attr.flags())
	}
	return 0
}

func (h *ByFrameHandler) Unmap(pt *pagetable.Table_t, va, size uintptr) {
	for off := uintptr(0); off < size; off += pgsize {
		if e, ok := pt.GetEntry(va + off); ok && e.Present() {
			h.Alloc.Refdown(e.Target())
		}
		pt.Unmap(va + off)
	}
}

// CloneMap gives the child its own frame, copied from the parent's, for
// every writable page — the eager copy-on-fork spec.md's clone()
// postcondition requires for COW-capable writable regions (heap, stack,
// anonymous mmap all go through ByFrameHandler/DelayHandler). A
// read-only page is still safe to share, since neither side can mutate
// it through this mapping; only the Writable case needs a distinct
// frame.
func (h *ByFrameHandler) CloneMap(dst, src *pagetable.Table_t, va, size uintptr, attr MemoryAttr) defs.Err_t {
	for off := uintptr(0); off < size; off += pgsize {
		e, ok := src.GetEntry(va + off)
		if !ok || !e.Present() {
			continue
		}
		if attr.Writable {
			npg, pa, ok := h.Alloc.Refpg_new_nozero()
			if !ok {
				return -defs.ENOMEM
			}
			spg := h.Alloc.Dmap(e.Target())
			*npg = *spg
			h.Alloc.Refup(pa)
			dst.Map(va+off, pa, attr.flags())
			continue
		}
		h.Alloc.Refup(e.Target())
		dst.Map(va+off, e.Target(), attr.flags())
	}
	return 0
}

func (h *ByFrameHandler) HandlePageFault(pt *pagetable.Table_t, va uintptr, access AccessType) bool {
	return false
}

func (h *ByFrameHandler) BoxClone() MemoryHandler {
	return &ByFrameHandler{Alloc: h.Alloc}
}

// --- Delay --------------------------------------------------------------

/// DelayHandler is anonymous lazy memory: Map installs a not-present
/// entry carrying the attribute bits; the first access to a page faults
/// in a freshly zeroed frame.
type DelayHandler struct {
	Alloc mem.Page_i
}

func (h *DelayHandler) Map(pt *pagetable.Table_t, va, size uintptr, attr MemoryAttr) defs.Err_t {
	for off := uintptr(0); off < size; off += pgsize {
		pt.MapNotPresent(va+off, attr.flags())
	}
	return 0
}

func (h *DelayHandler) Unmap(pt *pagetable.Table_t, va, size uintptr) {
	for off := uintptr(0); off < size; off += pgsize {
		if e, ok := pt.GetEntry(va + off); ok && e.Present() {
			h.Alloc.Refdown(e.Target())
		}
		pt.Unmap(va + off)
	}
}

// CloneMap mirrors FileHandler.CloneMap's copy-on-fork rule: a present,
// writable page gets the child its own freshly copied frame rather than
// a second mapping of the parent's, so a later write on either side
// cannot reach the other (spec.md's clone() postcondition, and the
// basis of the fork/write/write/read isolation scenario). A not-yet-faulted
// page just gets the same not-present entry again — nothing to copy
// until someone touches it.
func (h *DelayHandler) CloneMap(dst, src *pagetable.Table_t, va, size uintptr, attr MemoryAttr) defs.Err_t {
	for off := uintptr(0); off < size; off += pgsize {
		e, ok := src.GetEntry(va + off)
		if !ok {
			dst.MapNotPresent(va+off, attr.flags())
			continue
		}
		if !e.Present() {
			dst.MapNotPresent(va+off, e.Flags())
			continue
		}
		if attr.Writable {
			npg, pa, ok := h.Alloc.Refpg_new_nozero()
			if !ok {
				return -defs.ENOMEM
			}
			spg := h.Alloc.Dmap(e.Target())
			*npg = *spg
			h.Alloc.Refup(pa)
			dst.Map(va+off, pa, attr.flags())
			continue
		}
		h.Alloc.Refup(e.Target())
		dst.Map(va+off, e.Target(), attr.flags())
	}
	return 0
}

func (h *DelayHandler) HandlePageFault(pt *pagetable.Table_t, va uintptr, access AccessType) bool {
	e, ok := pt.GetEntry(va)
	if !ok || e.Present() {
		return false
	}
	_, pa, ok := h.Alloc.Refpg_new()
	if !ok {
		return false
	}
	h.Alloc.Refup(pa)
	e.SetTarget(pa)
	return true
}

func (h *DelayHandler) BoxClone() MemoryHandler {
	return &DelayHandler{Alloc: h.Alloc}
}

// --- File -----------------------------------------------------------------

/// FileHandler is file-backed lazy memory: map installs a not-present
/// entry; on fault the handler allocates a frame, reads
/// min(PGSIZE, FileEnd-fileOffset) bytes from Backing, zeroes the tail,
/// flushes caches for the page, and sets present. CloneMap eagerly
/// copies the page when the area is writable (copy-on-fork for writable
/// data); read-only regions get a fresh not-present entry sharing the
/// same backing.
type FileHandler struct {
	Alloc     mem.Page_i
	Backing   FileBacking_i
	MemStart  uintptr // first mapped va
	FileStart int     // file offset corresponding to MemStart
	FileEnd   int     // file offset past which reads return zero
}

func (h *FileHandler) fileOffsetFor(va uintptr) int {
	return h.FileStart + int(va-h.MemStart)
}

func (h *FileHandler) Map(pt *pagetable.Table_t, va, size uintptr, attr MemoryAttr) defs.Err_t {
	for off := uintptr(0); off < size; off += pgsize {
		pt.MapNotPresent(va+off, attr.flags())
	}
	return 0
}

func (h *FileHandler) Unmap(pt *pagetable.Table_t, va, size uintptr) {
	for off := uintptr(0); off < size; off += pgsize {
		if e, ok := pt.GetEntry(va + off); ok && e.Present() {
			h.Alloc.Refdown(e.Target())
		}
		pt.Unmap(va + off)
	}
}

func (h *FileHandler) CloneMap(dst, src *pagetable.Table_t, va, size uintptr, attr MemoryAttr) defs.Err_t {
	for off := uintptr(0); off < size; off += pgsize {
		e, ok := src.GetEntry(va + off)
		if !ok {
			dst.MapNotPresent(va+off, attr.flags())
			continue
		}
		if !e.Present() {
			dst.MapNotPresent(va+off, e.Flags())
			continue
		}
		if attr.Writable {
			// copy-on-fork: the child gets its own frame with the same
			// contents rather than sharing the parent's.
			npg, pa, ok := h.Alloc.Refpg_new_nozero()
			if !ok {
				return -defs.ENOMEM
			}
			spg := h.Alloc.Dmap(e.Target())
			*npg = *spg
			h.Alloc.Refup(pa)
			dst.Map(va+off, pa, attr.flags())
		} else {
			// read-only: share the backing via a fresh delay entry
			// rather than the parent's frame directly, so the child's
			// first touch goes through the normal fault path.
			dst.MapNotPresent(va+off, e.Flags())
		}
	}
	return 0
}

func (h *FileHandler) HandlePageFault(pt *pagetable.Table_t, va uintptr, access AccessType) bool {
	e, ok := pt.GetEntry(va)
	if !ok || e.Present() {
		return false
	}
	pg, pa, ok := h.Alloc.Refpg_new_nozero()
	if !ok {
		return false
	}
	bpg := mem.Pg2bytes(pg)
	foff := h.fileOffsetFor(va)
	n := 0
	if foff < h.FileEnd {
		want := h.FileEnd - foff
		if want > len(bpg) {
			want = len(bpg)
		}
		got, err := h.Backing.ReadAt(bpg[:want], foff)
		if err != 0 {
			h.Alloc.Refdown(pa)
			return false
		}
		n = got
	}
	for i := n; i < len(bpg); i++ {
		bpg[i] = 0
	}
	pt.FlushCacheCopyUser(va, va+pgsize, access == AccessExecute)
	h.Alloc.Refup(pa)
	e.SetTarget(pa)
	return true
}

func (h *FileHandler) BoxClone() MemoryHandler {
	cp := *h
	return &cp
}

// --- Shared -----------------------------------------------------------

/// SharedGuard owns the page_offset -> frame mapping backing a shared
/// memory area, behind a mutex, and drops its frames when the last
/// sharer releases it.
type SharedGuard struct {
	mu     sync.Mutex
	alloc  mem.Page_i
	frames map[uintptr]mem.Pa_t // page offset (from the area's start) -> frame
	refs   int
}

/// NewSharedGuard constructs an empty guard with one initial sharer.
func NewSharedGuard(alloc mem.Page_i) *SharedGuard {
	return &SharedGuard{alloc: alloc, frames: make(map[uintptr]mem.Pa_t), refs: 1}
}

/// Acquire adds a sharer (a second MemorySet attaching to the same
/// shared region) and returns the guard for chaining.
func (g *SharedGuard) Acquire() *SharedGuard {
	g.mu.Lock()
	g.refs++
	g.mu.Unlock()
	return g
}

/// Release drops a sharer; once the last one releases, every backing
/// frame's reference is dropped.
func (g *SharedGuard) Release() {
	g.mu.Lock()
	g.refs--
	done := g.refs == 0
	frames := g.frames
	if done {
		g.frames = nil
	}
	g.mu.Unlock()
	if done {
		for _, pa := range frames {
			g.alloc.Refdown(pa)
		}
	}
}

// frameFor returns the frame backing pgoff, allocating one on first
// access and taking the guard's own reference to it — a reference
// distinct from, and in addition to, the one each present PTE pointing
// at it holds, so the frame survives even if every sharer that has
// faulted it so far unmaps before a later sharer's first touch. The
// guard's Release drops this reference once, when the last sharer
// detaches.
func (g *SharedGuard) frameFor(pgoff uintptr) (mem.Pa_t, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if pa, ok := g.frames[pgoff]; ok {
		return pa, true
	}
	_, pa, ok := g.alloc.Refpg_new()
	if !ok {
		return 0, false
	}
	g.alloc.Refup(pa)
	g.frames[pgoff] = pa
	return pa, true
}

/// SharedHandler maps a region onto a SharedGuard shared by every
/// MemorySet that attaches to it: the first Map call establishes the
/// starting VA, subsequent ones compute the page offset from it. A
/// fault populates the guard (allocating a frame if none exists yet for
/// that offset) then wires the current page table to it.
type SharedHandler struct {
	Guard    *SharedGuard
	startVA  uintptr
	startSet bool
}

/// NewSharedHandler attaches a fresh SharedHandler to guard, for a new
/// MemorySet attaching to an existing shared segment at a virtual
/// address of its own choosing (e.g. shmat into a second process) —
/// distinct from BoxClone, which a Fork uses to keep the child's handler
/// anchored to the same starting VA as the parent's, since fork()
/// preserves each area's address.
func NewSharedHandler(guard *SharedGuard) *SharedHandler {
	return &SharedHandler{Guard: guard.Acquire()}
}

func (h *SharedHandler) pgoff(va uintptr) uintptr {
	return (va - h.startVA) / pgsize
}

// Map installs not-present entries only, even for offsets another
// sharer has already faulted in: every MemorySet attaching to a shared
// region still takes its own first fault on each page, the same
// "populates on first fault only" contract DelayHandler and FileHandler
// give their own callers. HandlePageFault is the only place a frame
// already present in h.Guard.frames gets reused instead of allocated.
func (h *SharedHandler) Map(pt *pagetable.Table_t, va, size uintptr, attr MemoryAttr) defs.Err_t {
	if !h.startSet {
		h.startVA = va
		h.startSet = true
	}
	for off := uintptr(0); off < size; off += pgsize {
		pt.MapNotPresent(va+off, attr.flags())
	}
	return 0
}

// Unmap drops this address space's reference to every frame it has
// present entries for, and releases this handler's hold on the guard
// itself — the mirror image of Map/HandlePageFault's Refup calls, and
// of NewSharedHandler/CloneMap's Acquire. The guard's last Release
// drops every frame it still owns, so a frame a fault never actually
// reached (a page no sharer ever touched) is freed there rather than
// here.
func (h *SharedHandler) Unmap(pt *pagetable.Table_t, va, size uintptr) {
	for off := uintptr(0); off < size; off += pgsize {
		if e, ok := pt.GetEntry(va + off); ok && e.Present() {
			h.Guard.alloc.Refdown(e.Target())
		}
		pt.Unmap(va + off)
	}
	h.Guard.Release()
}

// CloneMap installs the child's entries for a shared area, all
// not-present like any other Map call — h is the child's own handler,
// already attached to the guard via BoxClone's Acquire, so this must
// not Acquire a second time.
func (h *SharedHandler) CloneMap(dst, src *pagetable.Table_t, va, size uintptr, attr MemoryAttr) defs.Err_t {
	return h.Map(dst, va, size, attr)
}

func (h *SharedHandler) HandlePageFault(pt *pagetable.Table_t, va uintptr, access AccessType) bool {
	e, ok := pt.GetEntry(va)
	if !ok || e.Present() {
		return false
	}
	pa, ok := h.Guard.frameFor(h.pgoff(va))
	if !ok {
		return false
	}
	h.Guard.alloc.Refup(pa)
	e.SetTarget(pa)
	return true
}

func (h *SharedHandler) BoxClone() MemoryHandler {
	return &SharedHandler{Guard: h.Guard.Acquire(), startVA: h.startVA, startSet: h.startSet}
}
