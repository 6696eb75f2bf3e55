package sched

import (
	"runtime"
	"sync/atomic"
	"unsafe"

	"archshim"
	"defs"
)

// tidOf converts the atomically-stored CPU-current value back to a
// defs.Tid_t; 0 maps to defs.NoTid by construction (defs.NoTid is 0).
func tidOf(v uint64) defs.Tid_t { return defs.Tid_t(v) }

/// Processor_t is per-CPU scheduling state: an idle context, the tid
/// currently running, and a reschedule flag a timer tick can set for
/// the next trap return to observe. One Processor_t exists per
/// hardware thread; all of them share the one ThreadPool_t.
type Processor_t struct {
	CPU     int
	pool    *ThreadPool_t
	arch    archshim.ArchOps
	idleCtx unsafe.Pointer
	current uint64 // defs.Tid_t, accessed atomically from Tick
	resched uint32
}

/// NewProcessor builds the Processor_t for logical CPU cpu, registering
/// it with pool so Park/Unpark on any thread that last ran here can find
/// this CPU's idle context.
func NewProcessor(cpu int, pool *ThreadPool_t, arch archshim.ArchOps) *Processor_t {
	p := &Processor_t{CPU: cpu, pool: pool, arch: arch, idleCtx: arch.NewIdleContext()}
	pool.registerProcessor(p)
	return p
}

/// Current reports the tid currently running on this CPU, or
/// defs.NoTid if idle.
func (p *Processor_t) Current() defs.Tid_t {
	return tidOf(atomic.LoadUint64(&p.current))
}

/// NeedsReschedule reports whether a timer tick has asked this CPU to
/// give up the current thread at the next opportunity.
func (p *Processor_t) NeedsReschedule() bool {
	return atomic.LoadUint32(&p.resched) != 0
}

/// RequestReschedule sets the reschedule flag; called by Tick when the
/// scheduler reports the current thread's quantum has expired.
func (p *Processor_t) RequestReschedule() {
	atomic.StoreUint32(&p.resched, 1)
}

// step runs one acquire/switch/retire cycle, returning false if nothing
// was runnable (the caller should back off before retrying).
func (p *Processor_t) step() bool {
	t, ok := p.pool.Acquire(p.CPU)
	if !ok {
		return false
	}
	atomic.StoreUint64(&p.current, uint64(t.Tid))
	atomic.StoreUint32(&p.resched, 0)
	p.arch.SwitchContext(p.idleCtx, t.ctx)
	atomic.StoreUint64(&p.current, 0)
	p.pool.Retire(t)
	return true
}

/// Run drives this CPU's main scheduling loop until stop is closed:
/// acquire a runnable thread, switch to it, retire it when it
/// yields/parks/sleeps/exits, repeat. An idle CPU backs off with
/// runtime.Gosched rather than busy-spinning the host.
func (p *Processor_t) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		if !p.step() {
			runtime.Gosched()
		}
	}
}

/// Tick is called from the timer-IRQ path for this CPU: it forwards to
/// the shared EventHub_t (which drains due sleepers and ticks the
/// scheduler for the current thread) and latches the reschedule flag if
/// a reschedule is now due.
func (p *Processor_t) Tick() bool {
	cur := p.Current()
	need := p.pool.hub.Tick(cur)
	if need {
		p.RequestReschedule()
	}
	return need
}

/// MaybeYield checks the reschedule flag and, if set, clears it and
/// yields the current thread — the "check on return to userspace" step
/// every trap return performs.
func (p *Processor_t) MaybeYield() {
	if !p.NeedsReschedule() {
		return
	}
	atomic.StoreUint32(&p.resched, 0)
	cur := p.Current()
	if cur == defs.NoTid {
		return
	}
	p.pool.YieldNow(cur)
}
