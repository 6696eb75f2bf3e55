// Package smp owns the multi-CPU half of the kernel's scheduling
// model: one sched.Processor_t per hardware thread, all sharing a
// single sched.ThreadPool_t, driven concurrently and torn down
// together. golang.org/x/sync/errgroup supervises the per-CPU
// goroutines the same way it supervises any fixed worker pool: first
// error or context cancellation tears every member down together
// rather than leaving some loops running orphaned.
package smp

import (
	"context"

	"golang.org/x/sync/errgroup"

	"archshim"
	"sched"
)

// System_t is a running multi-CPU kernel: the shared thread pool and
// one Processor_t per CPU.
type System_t struct {
	pool  *sched.ThreadPool_t
	procs []*sched.Processor_t
}

// New builds a System_t with ncpu Processor_t instances sharing one
// ThreadPool_t over sc.
func New(ncpu int, arch archshim.ArchOps, sc sched.Scheduler_i) *System_t {
	pool := sched.NewThreadPool(arch, sc)
	procs := make([]*sched.Processor_t, ncpu)
	for i := range procs {
		procs[i] = sched.NewProcessor(i, pool, arch)
	}
	return &System_t{pool: pool, procs: procs}
}

// Pool exposes the shared ThreadPool_t, for spawning the first
// process's thread before Run starts.
func (s *System_t) Pool() *sched.ThreadPool_t { return s.pool }

// Processor returns the Processor_t for logical CPU cpu.
func (s *System_t) Processor(cpu int) *sched.Processor_t { return s.procs[cpu] }

// NCPU reports how many Processor_t instances this System_t drives.
func (s *System_t) NCPU() int { return len(s.procs) }

// Run drives every CPU's Processor_t.Run concurrently until ctx is
// cancelled, then waits for all of them to return. A panic in any one
// Processor_t's loop propagates out of Wait rather than silently
// wedging the rest of the system.
func (s *System_t) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	stop := make(chan struct{})
	go func() {
		<-gctx.Done()
		close(stop)
	}()
	for _, p := range s.procs {
		p := p
		g.Go(func() error {
			p.Run(stop)
			return nil
		})
	}
	return g.Wait()
}
