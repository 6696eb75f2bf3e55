package vm

import (
	"sort"

	"archshim"
	"defs"
	"mem"
	"pagetable"
)

/// MemorySet is an ordered, non-overlapping collection of MemoryAreas
/// over a single page table, plus the process-local lock cross-process
/// access (e.g. a debugger reading another process's memory) first
/// activates, then runs, under this same lock.
type MemorySet struct {
	lk    memLock
	areas []*MemoryArea
	table *pagetable.Table_t
	phys  *mem.Physmem_t
	arch  archshim.ArchOps
	// kernelAreas mark the areas added through InsertKernel (the shared
	// kernel mapping). Fork clones them through CloneMap like any other
	// area and marks the child's copies as kernel areas too.
	kernelAreas []*MemoryArea
}

// memLock is the minimal Lock/Unlock contract MemorySet needs for its
// process-local lock; page-table manipulation is
// always a short critical section, so a plain ksync.SpinLock_t is the
// expected implementer — no scheduler hook needed, unlike the blocking
// primitives in ksync that take an explicit tid.
type memLock interface {
	Lock()
	Unlock()
}

type noopLock struct{}

func (noopLock) Lock()   {}
func (noopLock) Unlock() {}

/// NewMemorySet constructs an empty address space backed by phys for
/// frame allocation and arch for table activation/TLB maintenance.
func NewMemorySet(phys *mem.Physmem_t, arch archshim.ArchOps) *MemorySet {
	return &MemorySet{
		lk:    noopLock{},
		table: pagetable.NewTable(phys),
		phys:  phys,
		arch:  arch,
	}
}

/// SetLock installs the process-local lock a real Processor should hold
/// across MemorySet mutation (a ksync.SpinLock_t, typically). Left
/// unset, MemorySet is usable single-threaded (tests, early boot).
func (ms *MemorySet) SetLock(lk memLock) {
	ms.lk = lk
}

func (ms *MemorySet) Lock()   { ms.lk.Lock() }
func (ms *MemorySet) Unlock() { ms.lk.Unlock() }

/// Table exposes the underlying page table, for the trap dispatcher's
/// argument-validation paths and for diagnostics.
func (ms *MemorySet) Table() *pagetable.Table_t { return ms.table }

func (ms *MemorySet) overlapsAny(start, end uintptr) bool {
	for _, a := range ms.areas {
		if a.overlaps(start, end) {
			return true
		}
	}
	return false
}

/// Insert adds a new area [start, end) with attr and handler, mapping it
/// immediately per the handler's policy. Returns -defs.EINVAL if the
/// range overlaps an existing area (MemorySet's core invariant).
func (ms *MemorySet) Insert(start, end uintptr, attr MemoryAttr, h MemoryHandler) defs.Err_t {
	if start >= end || start%pgsize != 0 || end%pgsize != 0 {
		return -defs.EINVAL
	}
	if ms.overlapsAny(start, end) {
		return -defs.EINVAL
	}
	if err := h.Map(ms.table, start, end-start, attr); err != 0 {
		return err
	}
	area := &MemoryArea{Start: start, End: end, Attr: attr, Handler: h}
	ms.areas = append(ms.areas, area)
	sort.Slice(ms.areas, func(i, j int) bool { return ms.areas[i].Start < ms.areas[j].Start })
	return 0
}

/// InsertKernel is Insert for the shared kernel mapping every MemorySet
/// must carry, additionally recording the area in kernelAreas. Fork
/// clones it through its handler's CloneMap like any other area and
/// marks the child's copy as a kernel area.
func (ms *MemorySet) InsertKernel(start, end uintptr, attr MemoryAttr, h MemoryHandler) defs.Err_t {
	if err := ms.Insert(start, end, attr, h); err != 0 {
		return err
	}
	ms.kernelAreas = append(ms.kernelAreas, ms.areas[len(ms.areas)-1])
	return 0
}

/// Remove unmaps and drops the area exactly covering [start, end).
func (ms *MemorySet) Remove(start, end uintptr) defs.Err_t {
	for i, a := range ms.areas {
		if a.Start == start && a.End == end {
			a.Handler.Unmap(ms.table, a.Start, a.size())
			ms.areas = append(ms.areas[:i], ms.areas[i+1:]...)
			return 0
		}
	}
	return -defs.EINVAL
}

/// Protect changes the attribute bits of every present entry in
/// [start, end) to attr, and updates the owning area's Attr so a later
/// page fault in the same range maps with the new attributes too.
/// start/end must lie entirely within one existing area — this layer
/// has no area-splitting, so a sub-range mprotect still rewrites the
/// whole area's Attr, matching a simplified single-VMA-per-Insert model
/// rather than Linux's arbitrary VMA splitting.
func (ms *MemorySet) Protect(start, end uintptr, attr MemoryAttr) defs.Err_t {
	if start >= end || start%pgsize != 0 || end%pgsize != 0 {
		return -defs.EINVAL
	}
	a, ok := ms.Find(start)
	if !ok || end > a.End {
		return -defs.EINVAL
	}
	a.Attr = attr
	flags := attr.flags()
	for va := start; va < end; va += pgsize {
		if e, ok := ms.table.GetEntry(va); ok {
			e.SetFlags(flags)
		}
	}
	return 0
}

/// Find returns the area containing va, if any.
func (ms *MemorySet) Find(va uintptr) (*MemoryArea, bool) {
	// areas are kept sorted by Start and never overlap; a linear scan
	// checks every area, and binary search would be the obvious upgrade
	// if area counts ever got large enough to matter.
	for _, a := range ms.areas {
		if a.contains(va) {
			return a, true
		}
	}
	return nil, false
}

/// Unusedva finds len contiguous unmapped bytes at or after startva,
/// for mmap's address-hint resolution.
func (ms *MemorySet) Unusedva(startva, length uintptr) uintptr {
	cur := startva
	for _, a := range ms.areas {
		if a.End <= startva {
			continue
		}
		if cur+length <= a.Start {
			return cur
		}
		if cur < a.End {
			cur = a.End
		}
	}
	return cur
}

/// HandlePageFault routes a fault at va to the owning area's handler.
/// Returns -defs.EFAULT if va is in no area, or if the handler declines
/// to resolve it (a genuine protection violation, e.g. a write to a
/// read-only area or an access to a guard page).
func (ms *MemorySet) HandlePageFault(va uintptr, access AccessType) defs.Err_t {
	a, ok := ms.Find(va)
	if !ok {
		return -defs.EFAULT
	}
	if access == AccessWrite && !a.Attr.Writable {
		return -defs.EFAULT
	}
	if access == AccessExecute && !a.Attr.Executable {
		return -defs.EFAULT
	}
	page := va &^ (pgsize - 1)
	if !a.Handler.HandlePageFault(ms.table, page, access) {
		return -defs.EFAULT
	}
	return 0
}

/// Fork produces a child MemorySet with its own page table, every area
/// cloned via its handler's CloneMap (ByFrame/Delay/File apply their own
/// copy-on-fork policy; Shared areas attach to the same guard). Nothing
/// is marked copy-on-write: writable present pages are copied into fresh
/// frames here, at fork time.
func (ms *MemorySet) Fork() (*MemorySet, defs.Err_t) {
	child := NewMemorySet(ms.phys, ms.arch)
	for _, a := range ms.areas {
		h := a.Handler.BoxClone()
		if err := h.CloneMap(child.table, ms.table, a.Start, a.size(), a.Attr); err != 0 {
			child.Destroy()
			return nil, err
		}
		na := &MemoryArea{Start: a.Start, End: a.End, Attr: a.Attr, Handler: h}
		child.areas = append(child.areas, na)
		for _, ka := range ms.kernelAreas {
			if ka == a {
				child.kernelAreas = append(child.kernelAreas, na)
			}
		}
	}
	sort.Slice(child.areas, func(i, j int) bool { return child.areas[i].Start < child.areas[j].Start })
	return child, 0
}

/// Translate walks this address space's page table for va and reports
/// the backing physical address, if va is present. It takes no page
/// fault on a not-present or unmapped va; callers that want faulting-in
/// behavior go through HandlePageFault (or Userbuf_t/Useriovec_t, which
/// do that internally) instead.
func (ms *MemorySet) Translate(va uintptr) (mem.Pa_t, bool) {
	e, ok := ms.table.GetEntry(va)
	if !ok || !e.Present() {
		return 0, false
	}
	return e.Target(), true
}

// currentMS is the address space most recently Activated, across every
// CPU — this core's archshim.ArchOps has no query for "what table is
// loaded right now", so With tracks it here instead, the same single
// global the Soft test backend's own serialized activation already
// implies.
var currentMS *MemorySet

/// Activate loads this address space's page table as current on this
/// CPU via the architecture shim.
func (ms *MemorySet) Activate() {
	ms.table.Activate(ms.arch)
	currentMS = ms
}

/// With temporarily activates this address space, runs f, then
/// reactivates whatever was current before — the mechanism a syscall
/// handler needs to read or write a buffer that lives in some other
/// process's address space (e.g. ptrace-style inspection, or a pipe
/// handing data across a fork boundary) without that other process
/// ever being the one actually scheduled.
func (ms *MemorySet) With(f func()) {
	prev := currentMS
	ms.Activate()
	defer func() {
		if prev != nil {
			prev.Activate()
		}
	}()
	f()
}

/// Destroy unmaps and releases every area (dropping the frames each
/// handler owns); the page table object itself is not released.
func (ms *MemorySet) Destroy() {
	for _, a := range ms.areas {
		a.Handler.Unmap(ms.table, a.Start, a.size())
	}
	ms.areas = nil
}
