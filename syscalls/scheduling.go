package syscalls

import (
	"time"

	"defs"
	"sched"
	"trap"
)

// sysSchedYield implements sched_yield(2): give up the CPU without
// changing status, exactly sched.ThreadPool_t.YieldNow's contract.
func sysSchedYield(tp *sched.ThreadPool_t) trap.SyscallFunc {
	return func(tf *trap.TrapFrame) (uintptr, defs.Err_t) {
		tp.YieldNow(tf.Tid)
		return 0, 0
	}
}

// sysNanosleep implements nanosleep(2): reads a {sec, nsec} pair (two
// 8-byte words, this core's own fixed layout rather than a real
// platform's struct timespec) from Args[0] and parks the caller for that
// long. The optional "remaining time on early wake" output pointer
// (Args[1], real nanosleep's second argument) is not populated: sleeps
// here never wake early short of the EventHub's own deadline firing, so
// there is never a remainder to report.
func sysNanosleep(tp *sched.ThreadPool_t) trap.SyscallFunc {
	return func(tf *trap.TrapFrame) (uintptr, defs.Err_t) {
		p, err := resolveProc(tp, tf)
		if err != 0 {
			return 0, err
		}
		sec, err := readUserI64(p.MSet, tf.Args[0])
		if err != 0 {
			return 0, err
		}
		nsec, err := readUserI64(p.MSet, tf.Args[0]+8)
		if err != 0 {
			return 0, err
		}
		d := time.Duration(sec)*time.Second + time.Duration(nsec)*time.Nanosecond
		if d < 0 {
			return 0, -defs.EINVAL
		}
		tp.Sleep(tf.Tid, d)
		return 0, 0
	}
}

// Futex operation codes, the FUTEX_WAIT/FUTEX_WAKE subset of futex(2)'s
// op argument this core implements (no FUTEX_PRIVATE_FLAG, no
// requeue/cmp-requeue variants).
const (
	futexWait = 0
	futexWake = 1
)

// sysFutex implements futex(2)'s WAIT/WAKE pair over a process's
// ipc.FutexTable_t: WAIT blocks the caller while the word at Args[0]
// still equals Args[2], WAKE wakes up to Args[2] waiters parked there.
func sysFutex(tp *sched.ThreadPool_t) trap.SyscallFunc {
	return func(tf *trap.TrapFrame) (uintptr, defs.Err_t) {
		p, err := resolveProc(tp, tf)
		if err != 0 {
			return 0, err
		}
		uaddr := tf.Args[0]
		op := int(tf.Args[1])
		val := uint32(tf.Args[2])
		switch op {
		case futexWait:
			check := func() bool {
				cur, rerr := readUserU32(p.MSet, uaddr)
				return rerr == 0 && cur == val
			}
			if werr := p.Futex.Wait(tf.Tid, uaddr, check); werr != 0 {
				return 0, werr
			}
			return 0, 0
		case futexWake:
			return uintptr(p.Futex.Wake(uaddr, int(val))), 0
		default:
			return 0, -defs.EINVAL
		}
	}
}
