package syscalls

import (
	"defs"
	"ipc"
	"sched"
	"trap"
)

// sysSemget implements semget(2): Args[0] key, Args[1] nsems, Args[2]
// semflg (ignored — IPC_CREAT/IPC_EXCL gating is left to ipc.Semget's own
// create-if-absent behavior, which never errors on an existing key the
// way IPC_EXCL would demand). Returns a per-process descriptor, not the
// raw key, matching original_source's own proc-local semaphores table.
func sysSemget(tp *sched.ThreadPool_t) trap.SyscallFunc {
	return func(tf *trap.TrapFrame) (uintptr, defs.Err_t) {
		p, err := resolveProc(tp, tf)
		if err != 0 {
			return 0, err
		}
		key := int(int64(tf.Args[0]))
		nsems := int(tf.Args[1])
		sa, serr := ipc.Semget(p.Pool(), key, nsems)
		if serr != 0 {
			return 0, normErr(serr)
		}
		id := p.NextSemID()
		p.AttachSem(id, sa)
		return uintptr(id), 0
	}
}

// semOpSize is the width of one semop(2) entry this core's fixed layout
// uses: an 8-byte semaphore number followed by an 8-byte signed op,
// rather than original_source's packed 6-byte {num:i16,op:i16,flags:i16}
// sembuf — no real userspace ABI constrains this core's semop wire
// format, so it picks plain machine-word fields instead of matching a
// platform struct no caller has to interoperate with.
const semOpSize = 16

// sysSemop implements the classic-op subset of semop(2): Args[0] semid
// (this process's local descriptor), Args[1] ops array, Args[2] nops.
// IPC_NOWAIT and SEM_UNDO flags are not modeled, matching
// ipc.SemArray_t.Semop's own scope.
func sysSemop(tp *sched.ThreadPool_t) trap.SyscallFunc {
	return func(tf *trap.TrapFrame) (uintptr, defs.Err_t) {
		p, err := resolveProc(tp, tf)
		if err != 0 {
			return 0, err
		}
		sa, ok := p.GetSem(int(tf.Args[0]))
		if !ok {
			return 0, -defs.EINVAL
		}
		nops := int(tf.Args[2])
		ops := make([]ipc.SemOp_t, nops)
		for i := 0; i < nops; i++ {
			base := tf.Args[1] + uintptr(i*semOpSize)
			num, rerr := readUserI64(p.MSet, base)
			if rerr != 0 {
				return 0, rerr
			}
			op, rerr := readUserI64(p.MSet, base+8)
			if rerr != 0 {
				return 0, rerr
			}
			ops[i] = ipc.SemOp_t{Num: int(num), Op: int16(op)}
		}
		if oerr := sa.Semop(tf.Tid, ops); oerr != 0 {
			return 0, normErr(oerr)
		}
		return 0, 0
	}
}

// sysSemctl implements the GETVAL/SETVAL subset of semctl(2): Args[0]
// semid, Args[1] semnum, Args[2] cmd, Args[3] val (used only by
// SETVAL).
func sysSemctl(tp *sched.ThreadPool_t) trap.SyscallFunc {
	return func(tf *trap.TrapFrame) (uintptr, defs.Err_t) {
		p, err := resolveProc(tp, tf)
		if err != 0 {
			return 0, err
		}
		sa, ok := p.GetSem(int(tf.Args[0]))
		if !ok {
			return 0, -defs.EINVAL
		}
		ret, cerr := sa.Semctl(int(tf.Args[1]), int(tf.Args[2]), int(tf.Args[3]))
		if cerr != 0 {
			return 0, normErr(cerr)
		}
		return uintptr(ret), 0
	}
}
