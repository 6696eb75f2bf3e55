// Package sched implements the thread/process scheduling core: the
// saved-context/switch primitive (via archshim.ArchOps), the four
// pluggable Scheduler_i implementations in scheduler.go, the ThreadPool_t
// that owns every thread record and its state transitions, the
// per-CPU Processor_t main loop, and the EventHub_t deferred-wakeup
// timer wheel. Grounded on original_source's (rcore-os/rCore)
// Thread/Processor/Scheduler split, since this tree's reference sources
// (biscuit) instead use a forked Go runtime's own goroutine scheduler
// and have no analogous package to port from directly.
package sched

import (
	"time"
	"unsafe"

	"archshim"
	"defs"
	"ksync"
)

/// Status_t is a kernel thread's scheduling state.
type Status_t int

const (
	StReady Status_t = iota
	StRunning
	StSleeping
	StWaiting
	StExited
)

func (s Status_t) String() string {
	switch s {
	case StReady:
		return "ready"
	case StRunning:
		return "running"
	case StSleeping:
		return "sleeping"
	case StWaiting:
		return "waiting"
	case StExited:
		return "exited"
	default:
		return "status?"
	}
}

/// ProcOwner is the narrow view a Thread_t needs of the process that
/// owns it — just enough to identify it in diagnostics. proc.Process_t
/// implements this; sched never imports proc (see DESIGN.md's note on
/// the thread/process ownership cycle), so the dependency runs the other
/// way: proc imports sched, not the reverse.
type ProcOwner interface {
	Pid() defs.Pid_t
}

/// Thread_t is a kernel-owned thread: tid, kernel stack, saved context,
/// owning process, status, and a private event bus for waking async
/// waiters blocked on this thread specifically (e.g. ptrace-style
/// observers). All status transitions below happen only while
/// ThreadPool_t's lock is held.
type Thread_t struct {
	Tid    defs.Tid_t
	Proc   ProcOwner
	Stack  []byte
	Bus    ksync.EventBus_t
	ctx    unsafe.Pointer
	status Status_t
	runCPU int
	waitOn defs.Tid_t
	exitCode int
	prio   uint8
}

/// Status reports the thread's current state.
func (t *Thread_t) Status() Status_t { return t.status }

/// RunningOn reports which CPU a Running thread is on; meaningless
/// otherwise.
func (t *Thread_t) RunningOn() int { return t.runCPU }

// ThreadPool_t owns every thread record and delegates selection to a
// Scheduler_i: the owner of all thread records, delegating selection to
// a pluggable scheduler. Every mutation of a Thread_t's status happens
// under lk, a spin-no-IRQ lock, so a timer interrupt's Tick call can
// safely take it.
type ThreadPool_t struct {
	lk      ksync.SpinNoIrqLock_t
	arch    archshim.ArchOps
	sched   Scheduler_i
	threads map[defs.Tid_t]*Thread_t
	nexttid defs.Tid_t
	procs   map[int]*Processor_t
	joinq   map[defs.Tid_t][]defs.Tid_t
	hub     *EventHub_t
}

/// NewThreadPool constructs an empty pool driven by sch and switching
/// contexts through arch.
func NewThreadPool(arch archshim.ArchOps, sch Scheduler_i) *ThreadPool_t {
	tp := &ThreadPool_t{
		arch:    arch,
		sched:   sch,
		threads: make(map[defs.Tid_t]*Thread_t),
		procs:   make(map[int]*Processor_t),
		joinq:   make(map[defs.Tid_t][]defs.Tid_t),
	}
	tp.lk = *ksync.MkSpinNoIrqLock(arch)
	tp.hub = NewEventHub(tp)
	return tp
}

/// Hub exposes the pool's EventHub_t, for the timer-IRQ trap path.
func (tp *ThreadPool_t) Hub() *EventHub_t { return tp.hub }

// registerProcessor records p so Park/yieldToIdle can find the idle
// context belonging to whatever CPU a thread was last running on.
func (tp *ThreadPool_t) registerProcessor(p *Processor_t) {
	tp.lk.Lock()
	tp.procs[p.CPU] = p
	tp.lk.Unlock()
}

/// Spawn creates a new Ready thread owned by owner, running entry(arg)
/// on a fresh stack of stackBytes, and pushes it onto the scheduler.
func (tp *ThreadPool_t) Spawn(owner ProcOwner, stackBytes int, entry func(arg interface{}), arg interface{}) *Thread_t {
	stack := make([]byte, stackBytes)
	t := &Thread_t{Proc: owner, Stack: stack, status: StReady, prio: 1}
	t.ctx = tp.arch.NewKernelContext(stack, entry, arg)

	tp.lk.Lock()
	tp.nexttid++
	t.Tid = tp.nexttid
	tp.threads[t.Tid] = t
	tp.lk.Unlock()

	tp.sched.Push(t.Tid)
	return t
}

/// Thread looks up a thread record by tid.
func (tp *ThreadPool_t) Thread(tid defs.Tid_t) (*Thread_t, bool) {
	tp.lk.Lock()
	defer tp.lk.Unlock()
	t, ok := tp.threads[tid]
	return t, ok
}

/// Acquire pops the next runnable thread for cpu and transitions it to
/// Running, per the Processor main loop.
func (tp *ThreadPool_t) Acquire(cpu int) (*Thread_t, bool) {
	tp.lk.Lock()
	tid, ok := tp.sched.Pop(cpu)
	if !ok {
		tp.lk.Unlock()
		return nil, false
	}
	t := tp.threads[tid]
	t.status = StRunning
	t.runCPU = cpu
	tp.lk.Unlock()
	return t, true
}

/// Retire is called after a Processor's SwitchContext returns control to
/// the idle loop: if t is still marked Running (a voluntary yield rather
/// than a park/sleep/exit that already changed its status), it is put
/// back Ready and reinserted.
func (tp *ThreadPool_t) Retire(t *Thread_t) {
	tp.lk.Lock()
	wasRunning := t.status == StRunning
	if wasRunning {
		t.status = StReady
	}
	tp.lk.Unlock()
	if wasRunning {
		tp.sched.Push(t.Tid)
	}
}

func (tp *ThreadPool_t) processorFor(cpu int) *Processor_t {
	tp.lk.Lock()
	defer tp.lk.Unlock()
	return tp.procs[cpu]
}

// yieldToIdle switches from tid's context back to the idle context of
// the CPU it was last Acquired on.
func (tp *ThreadPool_t) yieldToIdle(tid defs.Tid_t) {
	tp.lk.Lock()
	t := tp.threads[tid]
	cpu := t.runCPU
	tp.lk.Unlock()
	p := tp.processorFor(cpu)
	if p == nil {
		panic("sched: yieldToIdle with no Processor registered for cpu")
	}
	tp.arch.SwitchContext(t.ctx, p.idleCtx)
}

/// YieldNow voluntarily gives up the CPU without changing status; Retire
/// will observe Running and re-queue it.
func (tp *ThreadPool_t) YieldNow(tid defs.Tid_t) {
	tp.yieldToIdle(tid)
}

/// Park implements ksync.Parker_i: transitions tid to Sleeping, runs
/// action (if any — the park_action idiom for atomically releasing a
/// lock alongside sleeping), then yields.
func (tp *ThreadPool_t) Park(tid defs.Tid_t, action func()) {
	tp.lk.Lock()
	tp.threads[tid].status = StSleeping
	tp.lk.Unlock()
	if action != nil {
		action()
	}
	tp.yieldToIdle(tid)
}

/// Unpark implements ksync.Parker_i: transitions tid from Sleeping or
/// Waiting (a Join target that just exited, or a sleeper whose deadline
/// passed) to Ready and reinserts it into the scheduler. A no-op on an
/// already-Ready/Running/Exited thread.
func (tp *ThreadPool_t) Unpark(tid defs.Tid_t) {
	tp.lk.Lock()
	t, ok := tp.threads[tid]
	if !ok || (t.status != StSleeping && t.status != StWaiting) {
		tp.lk.Unlock()
		return
	}
	t.status = StReady
	tp.lk.Unlock()
	tp.sched.Push(tid)
}

/// Sleep converts d to a deadline in the EventHub and parks tid; the
/// hub's Tick unparks it once its deadline passes.
func (tp *ThreadPool_t) Sleep(tid defs.Tid_t, d time.Duration) {
	tp.hub.ScheduleWakeup(tid, d)
	tp.Park(tid, nil)
}

/// Exit marks tid Exited with code, wakes every thread Waiting on it,
/// and yields the CPU for the last time.
func (tp *ThreadPool_t) Exit(tid defs.Tid_t, code int) {
	tp.lk.Lock()
	t := tp.threads[tid]
	t.status = StExited
	t.exitCode = code
	waiters := tp.joinq[tid]
	delete(tp.joinq, tid)
	tp.lk.Unlock()
	for _, w := range waiters {
		tp.Unpark(w)
	}
	tp.yieldToIdle(tid)
}

/// Join blocks the calling thread waiter until target has exited,
/// returning its exit code (the JoinHandle::join idiom). The target's
/// record is reaped (dropped from the pool) once joined.
func (tp *ThreadPool_t) Join(waiter, target defs.Tid_t) int {
	for {
		tp.lk.Lock()
		tt, ok := tp.threads[target]
		if !ok {
			tp.lk.Unlock()
			return -1
		}
		if tt.status == StExited {
			code := tt.exitCode
			delete(tp.threads, target)
			tp.lk.Unlock()
			return code
		}
		w := tp.threads[waiter]
		w.status = StWaiting
		w.waitOn = target
		tp.joinq[target] = append(tp.joinq[target], waiter)
		tp.lk.Unlock()
		tp.yieldToIdle(waiter)
	}
}

/// Tick forwards to the scheduler's Tick for tid, without touching the
/// event hub — used directly by tests; the timer-IRQ path goes through
/// EventHub_t.Tick instead, which calls this after draining due wakeups.
func (tp *ThreadPool_t) Tick(tid defs.Tid_t) bool {
	return tp.sched.Tick(tid)
}

/// SetPriority forwards to the scheduler; a no-op on every policy but
/// Stride.
func (tp *ThreadPool_t) SetPriority(tid defs.Tid_t, prio uint8) {
	tp.sched.SetPriority(tid, prio)
}

/// Reap drops an Exited thread's record without joining (used once a
/// process has collected every thread's contribution to its own exit
/// status and no JoinHandle will ever be taken on it).
func (tp *ThreadPool_t) Reap(tid defs.Tid_t) {
	tp.lk.Lock()
	defer tp.lk.Unlock()
	delete(tp.threads, tid)
}
