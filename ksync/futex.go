package ksync

import "defs"

/// Futex_t is the kernel side of a single user-space futex address's
/// wait queue. Callers are responsible for the classic futex race check
/// — reading the user word and comparing it to the expected value — under
/// the same lock they use to serialize against a concurrent Wake (the
/// ipc package's futex syscall glue holds its address-keyed table lock
/// across that check and the call to Wait); Futex_t itself only manages
/// the queue of already-committed waiters.
type Futex_t struct {
	lk      SpinLock_t
	waiters []defs.Tid_t
	p       Parker_i
}

/// MkFutex constructs a Futex_t parking waiters via p.
func MkFutex(p Parker_i) *Futex_t {
	return &Futex_t{p: p}
}

/// Wait enqueues tid (the calling thread's own id) and parks it until a
/// matching Wake.
func (f *Futex_t) Wait(tid defs.Tid_t) {
	f.lk.Lock()
	f.waiters = append(f.waiters, tid)
	f.lk.Unlock()
	f.p.Park(tid, nil)
}

/// Wake pops up to n waiters, in FIFO order, and unparks them, returning
/// the number actually woken.
func (f *Futex_t) Wake(n int) int {
	f.lk.Lock()
	k := n
	if k > len(f.waiters) {
		k = len(f.waiters)
	}
	woke := f.waiters[:k]
	f.waiters = f.waiters[k:]
	f.lk.Unlock()
	for _, tid := range woke {
		f.p.Unpark(tid)
	}
	return len(woke)
}

/// NumWaiters reports the current queue depth, for diagnostics.
func (f *Futex_t) NumWaiters() int {
	f.lk.Lock()
	defer f.lk.Unlock()
	return len(f.waiters)
}
