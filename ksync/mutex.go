package ksync

import "defs"

/// Mutex_t is a blocking lock for long critical sections: a contending
/// thread parks instead of spinning. Built directly on Condvar_t, the
/// same way a long-hold lock is usually built on top of a wait queue.
type Mutex_t struct {
	spin SpinLock_t
	held bool
	cv   Condvar_t
}

/// MkMutex constructs a Mutex_t that parks contending threads via p.
func MkMutex(p Parker_i) *Mutex_t {
	m := &Mutex_t{}
	m.cv.Init(p)
	return m
}

/// Lock blocks until the mutex is free, then takes it. tid identifies the
/// calling thread, used only if this call must park.
func (m *Mutex_t) Lock(tid defs.Tid_t) {
	m.spin.Lock()
	for m.held {
		m.cv.Wait(tid, &m.spin)
	}
	m.held = true
	m.spin.Unlock()
}

/// Unlock releases the mutex and wakes one waiter, if any.
func (m *Mutex_t) Unlock() {
	m.spin.Lock()
	if !m.held {
		m.spin.Unlock()
		panic("ksync: unlock of unlocked Mutex_t")
	}
	m.held = false
	m.spin.Unlock()
	m.cv.Signal()
}
