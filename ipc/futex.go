package ipc

import (
	"sync"

	"defs"
	"ksync"
	"limits"
)

/// FutexTable_t maps a user virtual address to the Futex_t queue of
/// kernel threads parked on it, created lazily on first use
/// (original_source's process/futex.rs has no equivalent table — it
/// keys futexes by a single global wait queue per syscall caller; this
/// design keys futexes per address instead). tbl is guarded by a single
/// table lock rather than hashtable.Hashtable_t's striping, since
/// futex() is expected to be called far less often than it contends
/// (most callers hit the uncontended fast-path check in user space and
/// never reach here).
type FutexTable_t struct {
	mu  sync.Mutex
	tbl map[uintptr]*ksync.Futex_t
	p   ksync.Parker_i
}

/// NewFutexTable constructs an empty table parking waiters via p.
func NewFutexTable(p ksync.Parker_i) *FutexTable_t {
	return &FutexTable_t{tbl: make(map[uintptr]*ksync.Futex_t), p: p}
}

func (ft *FutexTable_t) get(addr uintptr, create bool) *ksync.Futex_t {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	f, ok := ft.tbl[addr]
	if ok {
		return f
	}
	if !create {
		return nil
	}
	// Futexes is documented as "protected by the futex table lock" (see
	// limits.Syslimit_t); ft.mu is that lock.
	if limits.Syslimit.Futexes <= 0 {
		return nil
	}
	limits.Syslimit.Futexes--
	f = ksync.MkFutex(ft.p)
	ft.tbl[addr] = f
	return f
}

/// Wait implements the FUTEX_WAIT half of futex(2): check runs while
/// this table's lock is held (so it serializes against a concurrent
/// Wake racing to change the word first), and if it reports the
/// expected value still holds, tid is enqueued and parked. Returns
/// -defs.EAGAIN if check reports the word already changed.
func (ft *FutexTable_t) Wait(tid defs.Tid_t, addr uintptr, check func() bool) defs.Err_t {
	ft.mu.Lock()
	if !check() {
		ft.mu.Unlock()
		return -defs.EAGAIN
	}
	f, ok := ft.tbl[addr]
	if !ok {
		if limits.Syslimit.Futexes <= 0 {
			ft.mu.Unlock()
			return -defs.ENOMEM
		}
		limits.Syslimit.Futexes--
		f = ksync.MkFutex(ft.p)
		ft.tbl[addr] = f
	}
	ft.mu.Unlock()
	f.Wait(tid)
	return 0
}

/// Wake implements FUTEX_WAKE: wakes up to n threads parked on addr,
/// returning the number actually woken. A no-op, not an error, if no
/// thread has ever waited on addr.
func (ft *FutexTable_t) Wake(addr uintptr, n int) int {
	f := ft.get(addr, false)
	if f == nil {
		return 0
	}
	return f.Wake(n)
}
