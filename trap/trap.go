// Package trap is the kernel's single entry point from the
// architecture stub: TrapFrame carries what that stub extracted from
// the faulting CPU state, and Dispatcher_t classifies and routes it —
// syscall, page fault, timer IRQ, or external IRQ — the way
// rcore-os/rCore's trap_handler does. Argument validation reuses vm's
// own MemorySet/Userbuf_t page-walking machinery (CheckReadArray/
// CheckWriteArray here are thin named wrappers over it) rather than a
// separate inline-assembly copy_user fixup table: this port's page
// faults on a kernel-side user-memory access already surface as an
// ordinary -defs.EFAULT return from Userbuf_t, since there is no raw
// machine code here for a fixup table to retroactively redirect.
package trap

import (
	"sync"

	"golang.org/x/arch/x86/x86asm"

	"defs"
	"ipc"
	"sched"
	"vm"
)

// Kind classifies a trap the way the architecture stub's platform code
// does before handing control to Dispatcher_t.
type Kind int

const (
	KindSyscall Kind = iota
	KindPageFault
	KindTimer
	KindExternal
	KindReserved
)

// fallbackSyscallLen is the width of the x86-64 `syscall` opcode (0F
// 05) — used to advance PC when the instruction bytes can't be
// decoded, since on this architecture the faulting instruction is
// always exactly this shape.
const fallbackSyscallLen = 2

/// TrapFrame carries everything Dispatcher_t needs out of one trap: the
/// tid that was running when the trap fired, the syscall number/arguments
/// and return slot for a syscall trap, or the faulting address/access
/// kind for a page fault, plus the saved PC and whether the trap
/// occurred in user mode.
type TrapFrame struct {
	Tid      defs.Tid_t
	Sysno    uintptr
	Args     [6]uintptr
	Ret      uintptr
	PC       uintptr
	FaultVA  uintptr
	FaultWr  bool
	UserMode bool
}

/// SyscallFunc is one numbered table entry: given the frame (for its
/// Args), it returns the syscall's result or an error (the
/// negated-error-kind convention every syscall handler expects).
type SyscallFunc func(tf *TrapFrame) (uintptr, defs.Err_t)

/// Dispatcher_t holds the syscall number table and the external-IRQ
/// vector table; one exists per kernel, shared across every CPU's
/// Processor_t.
type Dispatcher_t struct {
	mu       sync.RWMutex
	syscalls map[uintptr]SyscallFunc
	irqs     map[int]func()
}

/// NewDispatcher returns an empty Dispatcher_t; syscalls and IRQ
/// vectors are registered with RegisterSyscall/RegisterIRQ before use.
func NewDispatcher() *Dispatcher_t {
	return &Dispatcher_t{
		syscalls: make(map[uintptr]SyscallFunc),
		irqs:     make(map[int]func()),
	}
}

/// RegisterSyscall installs fn as the handler for syscall number nr.
func (d *Dispatcher_t) RegisterSyscall(nr uintptr, fn SyscallFunc) {
	d.mu.Lock()
	d.syscalls[nr] = fn
	d.mu.Unlock()
}

/// RegisterIRQ installs fn as the handler for external IRQ vector v.
func (d *Dispatcher_t) RegisterIRQ(v int, fn func()) {
	d.mu.Lock()
	d.irqs[v] = fn
	d.mu.Unlock()
}

// AdvancePastSyscall decodes the instruction at the trapping PC (the
// bytes the architecture stub copied out of user text) to find its
// length, falling back to the fixed 2-byte `syscall` opcode width if
// decoding fails — this should only happen if the stub handed over a
// truncated or corrupt window.
func AdvancePastSyscall(instr []byte) int {
	inst, err := x86asm.Decode(instr, 64)
	if err != nil {
		return fallbackSyscallLen
	}
	return inst.Len
}

/// DispatchSyscall looks up tf.Sysno in the syscall table, runs it, and
/// writes the result (or -defs.ENOSYS if no such syscall is registered)
/// into tf.Ret, then advances tf.PC past the trapping instruction.
func (d *Dispatcher_t) DispatchSyscall(tf *TrapFrame, instr []byte) {
	d.mu.RLock()
	fn, ok := d.syscalls[tf.Sysno]
	d.mu.RUnlock()

	var ret uintptr
	var err defs.Err_t
	if !ok {
		err = -defs.ENOSYS
	} else {
		ret, err = fn(tf)
	}
	if err != 0 {
		tf.Ret = uintptr(int64(err))
	} else {
		tf.Ret = ret
	}
	tf.PC += uintptr(AdvancePastSyscall(instr))
}

/// HandlePageFault routes a fault at tf.FaultVA (write access iff
/// tf.FaultWr) to ms's handler. An unresolvable fault in user mode
/// raises SIGSEGV on sigs (the faulting process's pending-signal set)
/// rather than killing the kernel; an unresolvable fault in kernel mode
/// is an invariant violation and panics — invariant violations always
/// panic rather than propagate an error code.
func HandlePageFault(ms *vm.MemorySet, tf *TrapFrame, sigs *ipc.SigQueue_t) {
	access := vm.AccessRead
	if tf.FaultWr {
		access = vm.AccessWrite
	}
	if err := ms.HandlePageFault(tf.FaultVA, access); err != 0 {
		if tf.UserMode {
			sigs.Raise(ipc.SIGSEGV)
			return
		}
		panic("trap: unresolvable page fault in kernel mode")
	}
}

/// HandleTimer forwards to p's per-CPU tick (EventHub drain plus
/// scheduler tick for the current thread), reporting whether a
/// reschedule is now due.
func HandleTimer(p *sched.Processor_t) bool {
	return p.Tick()
}

/// HandleExternal delegates vector to its registered handler, if any,
/// reporting whether one was found and run.
func (d *Dispatcher_t) HandleExternal(vector int) bool {
	d.mu.RLock()
	fn, ok := d.irqs[vector]
	d.mu.RUnlock()
	if !ok {
		return false
	}
	fn()
	return true
}

/// CheckReadArray validates that [uva, uva+length) is readable in ms,
/// the way a syscall's pointer-argument check round-trips through
/// check_read_array before trusting a user buffer.
func CheckReadArray(ms *vm.MemorySet, uva uintptr, length int) defs.Err_t {
	if length == 0 {
		return 0
	}
	var ub vm.Userbuf_t
	ub.UbInit(ms, uva, length)
	buf := make([]byte, length)
	_, err := ub.Uioread(buf)
	return err
}

// CheckWriteArray validates that [uva, uva+length) is writable in ms
// by reading its current bytes and writing them straight back — a
// net-no-op round trip that confirms write access the same way
// check_write_array's page walk does, without needing real data to
// write and without disturbing what's already there.
func CheckWriteArray(ms *vm.MemorySet, uva uintptr, length int) defs.Err_t {
	if length == 0 {
		return 0
	}
	var rb vm.Userbuf_t
	rb.UbInit(ms, uva, length)
	buf := make([]byte, length)
	if _, err := rb.Uioread(buf); err != 0 {
		return err
	}
	var wb vm.Userbuf_t
	wb.UbInit(ms, uva, length)
	_, err := wb.Uiowrite(buf)
	return err
}
