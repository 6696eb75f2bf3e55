package syscalls

import (
	"defs"
	"ipc"
	"proc"
	"sched"
	"trap"
)

// pidArg interprets a syscall's raw pid argument the way wait4(-1, ...)
// and kill(pid, ...) expect: any negative value (a caller-supplied -1,
// seen here as a huge uintptr once it round-trips through a register)
// means "no specific pid", i.e. defs.NoPid.
func pidArg(v uintptr) defs.Pid_t {
	iv := int64(v)
	if iv < 0 {
		return defs.NoPid
	}
	return defs.Pid_t(iv)
}

// sysWait4 implements wait4(2): block until a child exits, write its
// exit code to the optional status pointer, and return its pid.
func sysWait4(tp *sched.ThreadPool_t) trap.SyscallFunc {
	return func(tf *trap.TrapFrame) (uintptr, defs.Err_t) {
		p, err := resolveProc(tp, tf)
		if err != 0 {
			return 0, err
		}
		childPid := pidArg(tf.Args[0])
		statusVA := tf.Args[1]
		zpid, code, werr := p.Wait4(tf.Tid, childPid)
		if werr != 0 {
			return 0, werr
		}
		if statusVA != 0 {
			buf := make([]byte, 8)
			writeI64(buf, 0, int64(code))
			if serr := writeUser(p.MSet, statusVA, buf); serr != 0 {
				return 0, serr
			}
		}
		return uintptr(zpid), 0
	}
}

// sysExit implements exit(2): ends the calling thread only. If it was
// the process's last thread, proc.Process_t.ThreadExit turns the whole
// process into a zombie; tp.Exit then retires the thread's scheduling
// record and yields away for the last time, so this call never
// actually returns to its caller on a real exit.
func sysExit(tp *sched.ThreadPool_t) trap.SyscallFunc {
	return func(tf *trap.TrapFrame) (uintptr, defs.Err_t) {
		p, err := resolveProc(tp, tf)
		if err != 0 {
			return 0, err
		}
		code := int(tf.Args[0])
		p.ThreadExit(tf.Tid, code)
		tp.Exit(tf.Tid, code)
		return 0, 0
	}
}

// sysExitGroup implements exit_group(2): every thread of the calling
// process ends with the same code, unlike exit(2)'s single-thread
// semantics.
func sysExitGroup(tp *sched.ThreadPool_t) trap.SyscallFunc {
	return func(tf *trap.TrapFrame) (uintptr, defs.Err_t) {
		p, err := resolveProc(tp, tf)
		if err != 0 {
			return 0, err
		}
		p.ExitGroup(int(tf.Args[0]))
		return 0, 0
	}
}

func sysGetpid(tp *sched.ThreadPool_t) trap.SyscallFunc {
	return func(tf *trap.TrapFrame) (uintptr, defs.Err_t) {
		p, err := resolveProc(tp, tf)
		if err != 0 {
			return 0, err
		}
		return uintptr(p.Getpid()), 0
	}
}

func sysGetppid(tp *sched.ThreadPool_t) trap.SyscallFunc {
	return func(tf *trap.TrapFrame) (uintptr, defs.Err_t) {
		p, err := resolveProc(tp, tf)
		if err != 0 {
			return 0, err
		}
		return uintptr(p.Getppid()), 0
	}
}

// sysKill implements kill(2): raises a signal on the target pid's
// pending-signal set. A pid of 0 (defs.NoPid) addresses the caller
// itself, a convenience this core's kill(2) grants that real kill(2)
// reserves for process-group delivery (which this core does not model).
func sysKill(tp *sched.ThreadPool_t) trap.SyscallFunc {
	return func(tf *trap.TrapFrame) (uintptr, defs.Err_t) {
		p, err := resolveProc(tp, tf)
		if err != 0 {
			return 0, err
		}
		target := p
		if pid := pidArg(tf.Args[0]); pid != defs.NoPid {
			t, ok := proc.Lookup(pid)
			if !ok {
				return 0, -defs.ESRCH
			}
			target = t
		}
		target.Kill(ipc.Signal_t(tf.Args[1]))
		return 0, 0
	}
}

// sysSetPriority implements set_priority(2): a pid of 0 addresses the
// caller, matching sysKill's convention above.
func sysSetPriority(tp *sched.ThreadPool_t) trap.SyscallFunc {
	return func(tf *trap.TrapFrame) (uintptr, defs.Err_t) {
		p, err := resolveProc(tp, tf)
		if err != 0 {
			return 0, err
		}
		target := p
		if pid := pidArg(tf.Args[0]); pid != defs.NoPid {
			t, ok := proc.Lookup(pid)
			if !ok {
				return 0, -defs.ESRCH
			}
			target = t
		}
		target.SetPriority(uint8(tf.Args[1]))
		return 0, 0
	}
}
