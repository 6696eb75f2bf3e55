package syscalls

import (
	"defs"
	"mem"
	"sched"
	"trap"
	"vm"
)

// Protection bits for mmap/mprotect's prot argument, the real mmap(2)
// ABI values (PROT_READ is implicit/unchecked here — every MemoryArea
// this core maps is always at least readable once present).
const (
	protWrite = 0x2
	protExec  = 0x4
)

// mapAnonFd is the fd value this core's mmap treats as "anonymous, no
// backing file" (MAP_ANONYMOUS callers conventionally pass -1 here).
const mapAnonFd = -1

// mmapSearchBase is where an address-hint-less mmap starts its search
// for unused virtual space, kept well clear of proc's brk-managed heap
// (0x500000000000) and of execve's initial stack
// (below 0x7ffffff000).
const mmapSearchBase = uintptr(0x600000000000)

func pageRoundUp(a uintptr) uintptr {
	const pgsize = uintptr(mem.PGSIZE)
	return (a + pgsize - 1) &^ (pgsize - 1)
}

// sysBrk implements brk(2): Args[0] == 0 reports the current break,
// otherwise grows or lowers it via proc.Process_t.Brk.
func sysBrk(tp *sched.ThreadPool_t) trap.SyscallFunc {
	return func(tf *trap.TrapFrame) (uintptr, defs.Err_t) {
		p, err := resolveProc(tp, tf)
		if err != 0 {
			return 0, err
		}
		brk, berr := p.Brk(tf.Args[0])
		if berr != 0 {
			return 0, berr
		}
		return brk, 0
	}
}

// sysMmap implements the anonymous subset of mmap(2): Args[0] addr hint,
// Args[1] length, Args[2] prot, Args[3] flags (unused beyond
// distinguishing file-backed requests via fd), Args[4] fd, Args[5]
// offset (unused for anonymous mappings). File-backed mmap is
// unimplemented — it would need an extiface.INode's FileBacking_i wired
// through a FileHandler, and extiface is interfaces-only in this core —
// so any fd other than mapAnonFd fails with -defs.ENODEV.
func sysMmap(tp *sched.ThreadPool_t) trap.SyscallFunc {
	return func(tf *trap.TrapFrame) (uintptr, defs.Err_t) {
		p, err := resolveProc(tp, tf)
		if err != 0 {
			return 0, err
		}
		if int(int64(tf.Args[4])) != mapAnonFd {
			return 0, -defs.ENODEV
		}
		length := pageRoundUp(tf.Args[1])
		if length == 0 {
			return 0, -defs.EINVAL
		}
		prot := tf.Args[2]
		attr := vm.MemoryAttr{
			User:       true,
			Writable:   prot&protWrite != 0,
			Executable: prot&protExec != 0,
		}
		start := tf.Args[0]
		if start == 0 {
			start = p.MSet.Unusedva(mmapSearchBase, length)
		} else {
			start = pageRoundUp(start)
		}
		if merr := p.MSet.Insert(start, start+length, attr, &vm.DelayHandler{Alloc: p.Phys()}); merr != 0 {
			return 0, merr
		}
		return start, 0
	}
}

// sysMunmap implements munmap(2). The range must exactly match one
// existing area's bounds, since MemorySet has no area-splitting.
func sysMunmap(tp *sched.ThreadPool_t) trap.SyscallFunc {
	return func(tf *trap.TrapFrame) (uintptr, defs.Err_t) {
		p, err := resolveProc(tp, tf)
		if err != 0 {
			return 0, err
		}
		length := pageRoundUp(tf.Args[1])
		return 0, p.MSet.Remove(tf.Args[0], tf.Args[0]+length)
	}
}

// sysMprotect implements mprotect(2) via vm.MemorySet.Protect.
func sysMprotect(tp *sched.ThreadPool_t) trap.SyscallFunc {
	return func(tf *trap.TrapFrame) (uintptr, defs.Err_t) {
		p, err := resolveProc(tp, tf)
		if err != 0 {
			return 0, err
		}
		length := pageRoundUp(tf.Args[1])
		prot := tf.Args[2]
		attr := vm.MemoryAttr{
			User:       true,
			Writable:   prot&protWrite != 0,
			Executable: prot&protExec != 0,
		}
		return 0, p.MSet.Protect(tf.Args[0], tf.Args[0]+length, attr)
	}
}
