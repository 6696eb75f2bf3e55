package ksync

import (
	"runtime"
	"sync/atomic"

	"archshim"
)

/// SpinLock_t is a CAS spin lock with no preemption handling: fine for
/// code that runs with the scheduler free to preempt it.
type SpinLock_t struct {
	held uint32
}

/// Lock spins until the lock is acquired, backing off with Gosched
/// between attempts so a single-core host doesn't livelock against the
/// holder.
func (l *SpinLock_t) Lock() {
	for !atomic.CompareAndSwapUint32(&l.held, 0, 1) {
		runtime.Gosched()
	}
}

/// TryLock attempts to acquire without spinning and reports success.
func (l *SpinLock_t) TryLock() bool {
	return atomic.CompareAndSwapUint32(&l.held, 0, 1)
}

/// Unlock releases the lock.
func (l *SpinLock_t) Unlock() {
	if !atomic.CompareAndSwapUint32(&l.held, 1, 0) {
		panic("ksync: unlock of unlocked SpinLock_t")
	}
}

/// SpinNoIrqLock_t additionally disables interrupts on the calling CPU
/// for the duration of the critical section, via arch, so it is safe to
/// take from a timer or IRQ handler context as well as ordinary kernel
/// code. The saved IRQ state lives in the lock itself rather than in the
/// caller's stack frame — safe because only the current holder ever
/// touches it, and it is read back before the lock is released so a
/// racing new holder can never clobber it first.
type SpinNoIrqLock_t struct {
	lk    SpinLock_t
	arch  archshim.ArchOps
	saved archshim.Irqstate_t
}

/// MkSpinNoIrqLock constructs a SpinNoIrqLock_t bound to the given
/// architecture backend.
func MkSpinNoIrqLock(arch archshim.ArchOps) *SpinNoIrqLock_t {
	return &SpinNoIrqLock_t{arch: arch}
}

/// Lock disables interrupts, then spins for the lock.
func (l *SpinNoIrqLock_t) Lock() {
	st := l.arch.DisableAndStore()
	l.lk.Lock()
	l.saved = st
}

/// Unlock releases the lock and restores the interrupt state captured at
/// the matching Lock call.
func (l *SpinNoIrqLock_t) Unlock() {
	st := l.saved
	l.lk.Unlock()
	l.arch.Restore(st)
}
