// Package vm implements the virtual-memory subsystem: per-region
// mapping policies (MemoryHandler), address-space composition
// (MemorySet), and the user/kernel copy paths (Userbuf_t/Useriovec_t)
// built on top of the portable pagetable.PageTable_i abstraction.
package vm

import (
	"defs"
	"mem"
	"pagetable"
)

// pgsize is mem.PGSIZE widened to uintptr, since every va/size in this
// package is a uintptr and mem.PGSIZE is declared as int.
const pgsize = uintptr(mem.PGSIZE)

/// AccessType names the kind of access that triggered a page fault.
type AccessType int

const (
	AccessRead AccessType = iota
	AccessWrite
	AccessExecute
)

/// MemoryAttr carries the region-wide attribute bits a MemoryHandler
/// installs into every entry it creates: user-accessibility, whether the
/// mapping is writable, executable, and whether caching is disabled
/// (device MMIO).
type MemoryAttr struct {
	User       bool
	Writable   bool
	Executable bool
	NoCache    bool
}

func (a MemoryAttr) flags() pagetable.AccessFlags {
	var f pagetable.AccessFlags
	if a.User {
		f |= pagetable.User
	}
	if a.Writable {
		f |= pagetable.Writable
	}
	if a.Executable {
		f |= pagetable.Executable
	}
	if a.NoCache {
		f |= pagetable.NoCache
	}
	return f
}

/// MemoryHandler is the sole authority on population, cloning, and fault
/// resolution for every page inside the MemoryArea it is attached to.
/// The five concrete variants are in handlers.go.
type MemoryHandler interface {
	/// Map installs pt's entries for [va, va+size) according to this
	/// handler's policy (eager for Linear/ByFrame, not-present for
	/// Delay/File/Shared).
	Map(pt *pagetable.Table_t, va uintptr, size uintptr, attr MemoryAttr) defs.Err_t
	/// Unmap releases pt's entries for [va, va+size), dropping any frame
	/// references this handler is responsible for.
	Unmap(pt *pagetable.Table_t, va uintptr, size uintptr)
	/// CloneMap populates dst's entries for [va, va+size) from src's
	/// existing mapping, for MemorySet.Fork.
	CloneMap(dst, src *pagetable.Table_t, va uintptr, size uintptr, attr MemoryAttr) defs.Err_t
	/// HandlePageFault resolves a fault at va for the given access type,
	/// returning true iff it was resolved (false means a second handler
	/// or the caller should treat this as a genuine fault).
	HandlePageFault(pt *pagetable.Table_t, va uintptr, access AccessType) bool
	/// BoxClone returns a handler appropriate for a cloned MemoryArea:
	/// every variant returns a new copy of itself carrying the same
	/// policy (a frame allocator reference is safe to share); Shared's
	/// copy points at the same guard and takes another reference on it.
	BoxClone() MemoryHandler
}

/// MemoryArea is a contiguous, page-aligned virtual range plus the
/// attribute and handler that govern it.
type MemoryArea struct {
	Start   uintptr
	End     uintptr
	Attr    MemoryAttr
	Handler MemoryHandler
}

func (a *MemoryArea) contains(va uintptr) bool {
	return va >= a.Start && va < a.End
}

func (a *MemoryArea) overlaps(start, end uintptr) bool {
	return a.Start < end && start < a.End
}

func (a *MemoryArea) size() uintptr {
	return a.End - a.Start
}
