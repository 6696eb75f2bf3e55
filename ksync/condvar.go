package ksync

import "defs"

/// Locker is anything with Lock/Unlock — SpinLock_t, SpinNoIrqLock_t, and
/// Mutex_t all satisfy it, so Wait can drop and reacquire whichever guard
/// the caller is holding.
type Locker interface {
	Lock()
	Unlock()
}

/// Condvar_t is a queue of parked threads. Wait enqueues the caller,
/// drops the caller's guard strictly after enqueueing but before parking
/// — the park_action idiom — which closes the classic wake-lost race
/// where a Signal between unlock and park would otherwise be missed.
type Condvar_t struct {
	lk SpinLock_t
	q  []defs.Tid_t
	p  Parker_i
}

/// Init binds the condvar to the scheduler hook used to park/unpark.
func (cv *Condvar_t) Init(p Parker_i) {
	cv.p = p
}

/// Wait atomically releases guard and parks tid (the caller's own id) on
/// this condvar; on wake it reacquires guard before returning, matching
/// sync.Cond's contract.
func (cv *Condvar_t) Wait(tid defs.Tid_t, guard Locker) {
	cv.lk.Lock()
	cv.q = append(cv.q, tid)
	cv.lk.Unlock()

	cv.p.Park(tid, guard.Unlock)

	guard.Lock()
}

/// WaitAny enqueues tid on every condvar in cvs and parks it once;
/// whichever one signals first wakes the thread. The caller must re-check
/// its own predicate against each condvar's guarded state after
/// returning, since it cannot tell which one fired.
func WaitAny(tid defs.Tid_t, guard Locker, cvs []*Condvar_t) {
	if len(cvs) == 0 {
		panic("ksync: WaitAny with no condvars")
	}
	for _, cv := range cvs {
		cv.lk.Lock()
		cv.q = append(cv.q, tid)
		cv.lk.Unlock()
	}

	cvs[0].p.Park(tid, guard.Unlock)

	guard.Lock()
}

// pop removes and returns the head of the queue, or (0, false).
func (cv *Condvar_t) pop() (defs.Tid_t, bool) {
	cv.lk.Lock()
	defer cv.lk.Unlock()
	if len(cv.q) == 0 {
		return 0, false
	}
	tid := cv.q[0]
	cv.q = cv.q[1:]
	return tid, true
}

/// Signal wakes the longest-waiting thread, if any.
func (cv *Condvar_t) Signal() {
	if tid, ok := cv.pop(); ok {
		cv.p.Unpark(tid)
	}
}

/// Broadcast wakes every waiting thread.
func (cv *Condvar_t) Broadcast() {
	cv.lk.Lock()
	q := cv.q
	cv.q = nil
	cv.lk.Unlock()
	for _, tid := range q {
		cv.p.Unpark(tid)
	}
}

/// NotifyN wakes up to n waiting threads and returns how many it woke.
func (cv *Condvar_t) NotifyN(n int) int {
	woke := 0
	for woke < n {
		tid, ok := cv.pop()
		if !ok {
			break
		}
		cv.p.Unpark(tid)
		woke++
	}
	return woke
}
