package smp

import (
	"context"
	"testing"
	"time"

	"archshim"
	"sched"
)

func TestRunDrivesEveryProcessorUntilCancel(t *testing.T) {
	const ncpu = 3
	arch := archshim.NewSoft(ncpu, 16)
	s := New(ncpu, arch, sched.NewRR(4))
	if s.NCPU() != ncpu {
		t.Fatalf("NCPU() = %d, want %d", s.NCPU(), ncpu)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancellation")
	}
}

func TestProcessorAccessorsIndexCorrectly(t *testing.T) {
	arch := archshim.NewSoft(2, 16)
	s := New(2, arch, sched.NewRR(4))
	if s.Processor(0) == nil || s.Processor(1) == nil {
		t.Fatalf("Processor(0)/Processor(1) returned nil")
	}
	if s.Pool() == nil {
		t.Fatalf("Pool() returned nil")
	}
}
