package ksync

import "defs"

/// Semaphore_t is a signed count guarded by a spin lock, plus an
/// EventBus_t that non-blocking observers (an epoll-style waiter, say)
/// can subscribe to without parking a real kernel thread. Acquire itself
/// blocks the calling thread via Parker_i — the Go-native rendition of
/// a poll-based future: the state machine a future would thread
/// through poll/wake collapses into an ordinary blocking call here,
/// since a parked goroutine costs nothing extra to keep around.
type Semaphore_t struct {
	lk      SpinLock_t
	count   int
	removed bool
	eb      EventBus_t
	p       Parker_i
	waiters []defs.Tid_t
}

/// MkSemaphore constructs a Semaphore_t starting at count initial,
/// parking contending Acquire callers via p.
func MkSemaphore(p Parker_i, initial int) *Semaphore_t {
	return &Semaphore_t{p: p, count: initial}
}

/// TryAcquire decrements and returns true iff the count was >= 1 and the
/// semaphore has not been removed.
func (s *Semaphore_t) TryAcquire() bool {
	s.lk.Lock()
	defer s.lk.Unlock()
	if s.removed || s.count < 1 {
		return false
	}
	s.count--
	return true
}

/// Acquire blocks until a unit is available, returning -defs.EIDRM if the
/// semaphore is removed while waiting (or already removed). tid
/// identifies the calling thread.
func (s *Semaphore_t) Acquire(tid defs.Tid_t) defs.Err_t {
	for {
		s.lk.Lock()
		if s.removed {
			s.lk.Unlock()
			return -defs.EIDRM
		}
		if s.count >= 1 {
			s.count--
			s.lk.Unlock()
			return 0
		}
		s.waiters = append(s.waiters, tid)
		s.lk.Unlock()
		s.p.Park(tid, nil)
		// Wake may be spurious (another waiter's Release raced us) or
		// due to Remove; loop and re-check either way.
	}
}

/// Release increments the count, wakes the longest-waiting Acquire (if
/// any), and sets EvCanAcquire for any async observer. The increment
/// happens-before the matching Acquire's decrement, since both run under
/// the same spin lock.
func (s *Semaphore_t) Release() {
	s.lk.Lock()
	s.count++
	var wake defs.Tid_t
	haveWake := false
	if len(s.waiters) > 0 {
		wake = s.waiters[0]
		s.waiters = s.waiters[1:]
		haveWake = true
	}
	s.lk.Unlock()
	s.eb.Set(EvCanAcquire)
	if haveWake {
		s.p.Unpark(wake)
	}
}

/// Remove marks the semaphore removed: every current and future blocked
/// Acquire completes with -defs.EIDRM, and EvRemoved is set for async
/// observers.
func (s *Semaphore_t) Remove() {
	s.lk.Lock()
	s.removed = true
	waiters := s.waiters
	s.waiters = nil
	s.lk.Unlock()
	s.eb.Set(EvRemoved)
	for _, tid := range waiters {
		s.p.Unpark(tid)
	}
}

/// Bus exposes the underlying EventBus_t for async (non-parking)
/// observers.
func (s *Semaphore_t) Bus() *EventBus_t {
	return &s.eb
}

/// Value reports the current count, for semctl(GETVAL) and diagnostics.
func (s *Semaphore_t) Value() int {
	s.lk.Lock()
	defer s.lk.Unlock()
	return s.count
}

/// SetValue overwrites the count directly (semctl(SETVAL)). When the new
/// value is >= 1 it wakes every current waiter so each can re-check
/// against it; a value below 1 leaves the waiters parked.
func (s *Semaphore_t) SetValue(v int) {
	s.lk.Lock()
	s.count = v
	waiters := s.waiters
	if v >= 1 {
		s.waiters = nil
	}
	s.lk.Unlock()
	if v >= 1 {
		s.eb.Set(EvCanAcquire)
		for _, tid := range waiters {
			s.p.Unpark(tid)
		}
	}
}
