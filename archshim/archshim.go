// Package archshim is the only place architecture-specific assembly is
// allowed to leak into. Every other package in this core talks to
// physical memory, page tables, interrupt masking, and context switching
// exclusively through the ArchOps interface defined here; an
// architecture port supplies one concrete ArchOps and nothing else needs
// to change. Soft, a pure-Go reference backend good enough for hosted
// unit tests, lives alongside it in soft.go.
package archshim

import "unsafe"

/// Pa_t is a physical address; kept here (rather than imported from mem)
/// so archshim has no dependency on the frame allocator it serves.
type Pa_t uintptr

/// Irqstate_t is the opaque, architecture-defined representation of a
/// saved interrupt-enable state, as returned by DisableAndStore and
/// consumed by Restore. Callers never inspect its bits.
type Irqstate_t uintptr

/// Ipicmd_t is a small command struct delivered to another CPU via an
/// inter-processor interrupt, used for TLB shootdown and (in a fuller
/// port) scheduler wakeups.
type Ipicmd_t struct {
	Kind Ipikind_t
	Va   uintptr
	Len  uintptr
}

/// Ipikind_t enumerates the IPI command kinds this core issues.
type Ipikind_t int

const (
	IpiTlbFlushAll Ipikind_t = iota
	IpiTlbFlushRange
	IpiReschedule
)

/// ArchOps is the architecture-specific primitive set. A hosted test
/// build uses Soft (below); a real boot target supplies a backend that
/// talks to actual hardware.
type ArchOps interface {
	/// CPUID returns the logical id of the calling CPU, in [0, NCPU).
	CPUID() int
	/// NCPU returns the number of CPUs this ArchOps was configured for.
	NCPU() int

	/// DisableAndStore disables interrupts on the calling CPU and
	/// returns the previous state for a matching Restore.
	DisableAndStore() Irqstate_t
	/// Restore re-enables interrupts iff they were enabled when the
	/// matching DisableAndStore was called.
	Restore(Irqstate_t)

	/// Dmap returns a byte-addressable view of the page at pa through
	/// whatever direct mapping this architecture maintains.
	Dmap(pa Pa_t) unsafe.Pointer
	/// DmapV2p is the inverse of Dmap.
	DmapV2p(v unsafe.Pointer) Pa_t

	/// TLBInvalidateRange flushes the given virtual-address range from
	/// the calling CPU's TLB. If broadcast is true the implementation
	/// must also deliver IpiTlbFlushRange to every other CPU that may
	/// have this mapping cached, and wait for their acknowledgment
	/// before returning.
	TLBInvalidateRange(va uintptr, n int, broadcast bool)
	/// TLBInvalidateAll flushes the calling CPU's entire TLB (used on
	/// an address-space switch); broadcast has the same meaning as
	/// above.
	TLBInvalidateAll(broadcast bool)

	/// ActivateTable loads tableRoot (a page-table root physical
	/// address) into the CPU's active address-space register.
	ActivateTable(tableRoot Pa_t)

	/// SwitchContext transfers control from the currently running
	/// kernel thread to another: it saves callee-saved registers and
	/// the stack pointer into *from, loads *to, and returns as if *to's
	/// owner had itself just called SwitchContext. Both pointers refer
	/// to architecture-defined Context blobs; this core never looks
	/// inside one.
	SwitchContext(from, to unsafe.Pointer)

	/// NewKernelContext builds a fresh Context for a brand-new kernel
	/// thread: entry runs with arg as its sole argument, on a stack
	/// carved out of stack (highest address is the top). The returned
	/// pointer is suitable as the `to` argument of a later
	/// SwitchContext.
	NewKernelContext(stack []byte, entry func(arg interface{}), arg interface{}) unsafe.Pointer

	/// NewIdleContext builds the Context a Processor's main loop resumes
	/// into on every SwitchContext away from a running thread — the
	/// idle/scheduler context itself rather than a new kernel thread.
	/// Unlike NewKernelContext it has no entry function: the caller that
	/// SwitchContexts into it is the one that keeps running.
	NewIdleContext() unsafe.Pointer
}
