package ksync

import "defs"

/// Parker_i is the scheduler hook every blocking primitive in this
/// package is built on: it lets a lock or condvar put a named kernel
/// thread to sleep and wake a specific one back up, without ksync
/// importing the scheduler package (sched imports ksync, not the other
/// way around). sched.ThreadPool_t implements this.
///
/// There is deliberately no "current thread" query here: Go has no
/// supported goroutine-local storage, so every caller into this package
/// carries its own tid explicitly (typically threaded down from the
/// Processor that dispatched the trap that led here) rather than this
/// package trying to infer it.
type Parker_i interface {
	/// Park transitions tid (the caller's own id) to Sleeping and does
	/// not return until a matching Unpark(tid) call. action, if
	/// non-nil, runs after the status change but strictly before the
	/// thread actually yields the CPU — the park_action idiom used to
	/// release a lock atomically with sleeping.
	Park(tid defs.Tid_t, action func())
	/// Unpark transitions tid from Sleeping to Ready and reinserts it
	/// into the scheduler. Waking an already-Ready or Running thread is
	/// a no-op.
	Unpark(tid defs.Tid_t)
}
