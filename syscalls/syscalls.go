// Package syscalls wires every concrete syscall handler into a
// trap.Dispatcher_t's numbered table. Grounded on original_source's
// (rcore-os/rCore) kernel/src/syscall.rs and kernel/src/syscall/mod.rs,
// which dispatch a syscall id through a single large match into one
// sys_xxx function per call; trap.Dispatcher_t already generalizes that
// match into a map (RegisterSyscall/DispatchSyscall), so this package's
// job is just to supply the sys_xxx half, one function per
// defs.Sysno_t, closed over the sched.ThreadPool_t every handler needs
// to resolve "the calling process" from a trap.TrapFrame's tid.
package syscalls

import (
	"defs"
	"proc"
	"sched"
	"trap"
	"util"
	"vm"
)

// resolveProc finds the process owning the thread that trapped, the way
// every handler below identifies "self" before touching process state.
// -defs.ESRCH here means the dispatcher was called with a tid this pool
// no longer (or never did) track — an invariant violation in practice,
// since DispatchSyscall only ever runs with a live trapping thread, but
// handlers report it as an ordinary syscall error rather than panicking.
func resolveProc(tp *sched.ThreadPool_t, tf *trap.TrapFrame) (*proc.Process_t, defs.Err_t) {
	th, ok := tp.Thread(tf.Tid)
	if !ok {
		return nil, -defs.ESRCH
	}
	p, ok := th.Proc.(*proc.Process_t)
	if !ok {
		return nil, -defs.ESRCH
	}
	return p, 0
}

// normErr folds a handful of lower layers' plain-magnitude Err_t returns
// (proc.FdTable_t and ipc's SysV calls, unlike most of this core, return
// e.g. defs.EBADF rather than -defs.EBADF) into the negated convention
// every trap.SyscallFunc must return. A no-op on an already-negative or
// zero value, so it is safe to apply to every error this package
// forwards regardless of which convention the callee happens to use.
func normErr(e defs.Err_t) defs.Err_t {
	if e > 0 {
		return -e
	}
	return e
}

// readUser copies exactly n bytes from uva in ms into a freshly
// allocated buffer.
func readUser(ms *vm.MemorySet, uva uintptr, n int) ([]byte, defs.Err_t) {
	var ub vm.Userbuf_t
	ub.UbInit(ms, uva, n)
	buf := make([]byte, n)
	got, err := ub.Uioread(buf)
	if err != 0 {
		return nil, err
	}
	if got != n {
		return nil, -defs.EFAULT
	}
	return buf, 0
}

// writeUser copies buf to uva in ms; a nil/zero uva is treated as "the
// caller passed no output pointer" and silently succeeds, matching
// every handler below that takes an optional result pointer.
func writeUser(ms *vm.MemorySet, uva uintptr, buf []byte) defs.Err_t {
	if uva == 0 {
		return 0
	}
	var ub vm.Userbuf_t
	ub.UbInit(ms, uva, len(buf))
	_, err := ub.Uiowrite(buf)
	return err
}

// readUserI64 reads one little-endian 8-byte signed word from user
// memory, the width every struct this package copies in/out uses per
// field (this core invents its own fixed-width layouts for nanosleep's
// timespec, semop's op array, and so on, rather than matching a real
// platform ABI no caller here has to interoperate with).
func readUserI64(ms *vm.MemorySet, uva uintptr) (int64, defs.Err_t) {
	buf, err := readUser(ms, uva, 8)
	if err != 0 {
		return 0, err
	}
	return int64(util.Readn(buf, 8, 0)), 0
}

// readUserU32 reads one little-endian 4-byte word, the width a futex's
// word-sized compare-and-sleep value uses.
func readUserU32(ms *vm.MemorySet, uva uintptr) (uint32, defs.Err_t) {
	buf, err := readUser(ms, uva, 4)
	if err != 0 {
		return 0, err
	}
	return uint32(util.Readn(buf, 4, 0)), 0
}

func writeI64(buf []byte, off int, v int64) {
	util.Writen(buf, 8, off, int(v))
}

// RegisterAll installs every handler this package implements into d,
// resolving each call's process through tp. Syscalls this core has no
// backing infrastructure for yet (fork/clone/exec's thread-resume half,
// open/getdents64's VFS, ioctl/fcntl's per-fd command dispatch) are left
// unregistered; DispatchSyscall already reports -defs.ENOSYS for any
// sysno with no handler, so there is nothing more for this function to
// do for them short of the infrastructure itself.
func RegisterAll(d *trap.Dispatcher_t, tp *sched.ThreadPool_t) {
	d.RegisterSyscall(uintptr(defs.SysWait4), sysWait4(tp))
	d.RegisterSyscall(uintptr(defs.SysExit), sysExit(tp))
	d.RegisterSyscall(uintptr(defs.SysExitGroup), sysExitGroup(tp))
	d.RegisterSyscall(uintptr(defs.SysGetpid), sysGetpid(tp))
	d.RegisterSyscall(uintptr(defs.SysGetppid), sysGetppid(tp))
	d.RegisterSyscall(uintptr(defs.SysKill), sysKill(tp))
	d.RegisterSyscall(uintptr(defs.SysSetPriority), sysSetPriority(tp))

	d.RegisterSyscall(uintptr(defs.SysSchedYield), sysSchedYield(tp))
	d.RegisterSyscall(uintptr(defs.SysNanosleep), sysNanosleep(tp))
	d.RegisterSyscall(uintptr(defs.SysFutex), sysFutex(tp))

	d.RegisterSyscall(uintptr(defs.SysBrk), sysBrk(tp))
	d.RegisterSyscall(uintptr(defs.SysMmap), sysMmap(tp))
	d.RegisterSyscall(uintptr(defs.SysMunmap), sysMunmap(tp))
	d.RegisterSyscall(uintptr(defs.SysMprotect), sysMprotect(tp))

	d.RegisterSyscall(uintptr(defs.SysRead), sysRead(tp))
	d.RegisterSyscall(uintptr(defs.SysWrite), sysWrite(tp))
	d.RegisterSyscall(uintptr(defs.SysReadv), sysReadv(tp))
	d.RegisterSyscall(uintptr(defs.SysWritev), sysWritev(tp))
	d.RegisterSyscall(uintptr(defs.SysPread64), sysPread64(tp))
	d.RegisterSyscall(uintptr(defs.SysPwrite64), sysPwrite64(tp))
	d.RegisterSyscall(uintptr(defs.SysClose), sysClose(tp))
	d.RegisterSyscall(uintptr(defs.SysDup), sysDup(tp))
	d.RegisterSyscall(uintptr(defs.SysDup2), sysDup2(tp))
	d.RegisterSyscall(uintptr(defs.SysDup3), sysDup3(tp))
	d.RegisterSyscall(uintptr(defs.SysPipe2), sysPipe2(tp))
	d.RegisterSyscall(uintptr(defs.SysFstat), sysFstat(tp))
	d.RegisterSyscall(uintptr(defs.SysLseek), sysLseek(tp))

	d.RegisterSyscall(uintptr(defs.SysGettimeofday), sysGettimeofday(tp))
	d.RegisterSyscall(uintptr(defs.SysClockGettime), sysClockGettime(tp))
	d.RegisterSyscall(uintptr(defs.SysTimes), sysTimes(tp))
	d.RegisterSyscall(uintptr(defs.SysGetrusage), sysGetrusage(tp))

	d.RegisterSyscall(uintptr(defs.SysSemget), sysSemget(tp))
	d.RegisterSyscall(uintptr(defs.SysSemop), sysSemop(tp))
	d.RegisterSyscall(uintptr(defs.SysSemctl), sysSemctl(tp))
}
