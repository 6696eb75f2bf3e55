// Package ipc implements the cross-process primitives that sit above
// sched and ksync but below proc: SysV semaphore arrays, the futex
// address table a futex(2) syscall shim resolves against, and a
// per-process pending-signal queue. Grounded on original_source's (the
// rcore-os/rCore Rust kernel this core's semantics are distilled from)
// ipc/semary.rs, process/futex.rs, and signal/mod.rs — none of which the
// teacher (biscuit) carries an analogue of, since biscuit's own SysV and
// signal support predates this port and was not part of the retrieved
// source tree.
package ipc

import (
	"sync"

	"defs"
	"hashtable"
	"ksync"
	"limits"
)

// SEMMSL bounds how many semaphores a single array may hold, mirroring
// original_source's sys_semget check.
const SEMMSL = 256

/// SemArray_t is a SysV semaphore set: one IPC key shared by Sems
/// independently counted ksync.Semaphore_t instances.
type SemArray_t struct {
	Key  int
	Sems []*ksync.Semaphore_t
}

// semKeyTable maps a SysV key to the SemArray_t already allocated for it
// (original_source's KEY2SEM), so a second Semget with the same key
// attaches to the existing set instead of creating a duplicate. Lookups
// go through Hashtable_t's lock-free Get; the RWMutex below only guards
// the create-if-absent path, the same RwLock-guarded-global-table shape
// used for tables this shared and this read-heavy.
var semKeyTable = hashtable.MkHash(64)
var semKeyLock sync.RWMutex

/// Semget implements semget(2): look up the SemArray_t for key, creating
/// one of size nsems if this is the first reference. p is the Parker_i
/// every semaphore in a freshly created array blocks against.
func Semget(p ksync.Parker_i, key, nsems int) (*SemArray_t, defs.Err_t) {
	if nsems < 0 || nsems > SEMMSL {
		return nil, defs.EINVAL
	}
	if v, ok := semKeyTable.Get(key); ok {
		return v.(*SemArray_t), 0
	}

	semKeyLock.Lock()
	defer semKeyLock.Unlock()
	if v, ok := semKeyTable.Get(key); ok {
		return v.(*SemArray_t), 0
	}
	if !limits.Syslimit.Semsets.Taken(1) {
		return nil, defs.ENOMEM
	}
	sa := &SemArray_t{Key: key, Sems: make([]*ksync.Semaphore_t, nsems)}
	for i := range sa.Sems {
		sa.Sems[i] = ksync.MkSemaphore(p, 0)
	}
	semKeyTable.Set(key, sa)
	return sa, 0
}

/// SemRemove drops sa's key-table entry and releases its limit grant;
/// any thread still blocked on one of sa's semaphores wakes with EIDRM
/// via Semaphore_t.Remove.
func SemRemove(sa *SemArray_t) {
	semKeyLock.Lock()
	semKeyTable.Del(sa.Key)
	semKeyLock.Unlock()
	for _, s := range sa.Sems {
		s.Remove()
	}
	limits.Syslimit.Semsets.Given(1)
}

/// SemOp_t is one operation of a semop(2) batch (original_source's
/// SemBuf). Only the classic +1/-1 deltas are supported; IPC_NOWAIT and
/// SEM_UNDO accounting are left to the caller (the process-level undo
/// table lives in proc, which knows the calling process).
type SemOp_t struct {
	Num int
	Op  int16
}

/// Semop applies ops to sa in order for the calling thread tid, blocking
/// on any -1 whose semaphore is at 0. On error, operations already
/// applied earlier in the batch are not rolled back, matching
/// original_source's sys_semop.
func (sa *SemArray_t) Semop(tid defs.Tid_t, ops []SemOp_t) defs.Err_t {
	for _, o := range ops {
		if o.Num < 0 || o.Num >= len(sa.Sems) {
			return defs.EINVAL
		}
		sem := sa.Sems[o.Num]
		switch o.Op {
		case 1:
			sem.Release()
		case -1:
			if err := sem.Acquire(tid); err != 0 {
				return err
			}
		default:
			return defs.EINVAL
		}
	}
	return 0
}

// Semctl command codes, matching the Linux values original_source's
// syscall/ipc.rs switches on.
const (
	SemctlGetval = 12
	SemctlSetval = 16
)

/// Semctl implements the GETVAL/SETVAL subset of semctl(2); GETALL,
/// SETALL and IPC_RMID are out of scope — this core's SysV coverage is
/// intentionally partial.
func (sa *SemArray_t) Semctl(num, cmd, val int) (int, defs.Err_t) {
	if num < 0 || num >= len(sa.Sems) {
		return 0, defs.EINVAL
	}
	switch cmd {
	case SemctlGetval:
		return sa.Sems[num].Value(), 0
	case SemctlSetval:
		sa.Sems[num].SetValue(val)
		return 0, 0
	default:
		return 0, defs.EINVAL
	}
}
