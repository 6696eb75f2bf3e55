package mem

import (
	"testing"
	"time"

	"archshim"
	"oommsg"
)

func testPhysmem(nframe int) *Physmem_t {
	arch := archshim.NewSoft(1, nframe)
	return NewPhysmem(arch, 0, nframe)
}

func TestCascadeAllocDeallocExhausts(t *testing.T) {
	const n = 40 // spans two level-0 leaves plus a partial third
	p := testPhysmem(n)
	var pas []Pa_t
	for i := 0; i < n; i++ {
		_, pa, ok := p.Refpg_new_nozero()
		if !ok {
			t.Fatalf("alloc %d failed early", i)
		}
		pas = append(pas, pa)
	}
	if p.Any() {
		t.Fatalf("expected exhaustion after allocating all %d frames", n)
	}
	if _, _, ok := p.Refpg_new_nozero(); ok {
		t.Fatalf("alloc succeeded past capacity")
	}
	for _, pa := range pas {
		p.refcnt[p.idx(pa)] = 1
		if !p.Refdown(pa) {
			t.Fatalf("Refdown(%v) did not report free", pa)
		}
	}
	if !p.Any() {
		t.Fatalf("expected frames available after freeing all")
	}
}

func TestCascadeNoDoubleAllocation(t *testing.T) {
	const n = 64
	p := testPhysmem(n)
	seen := make(map[Pa_t]bool)
	for i := 0; i < n; i++ {
		_, pa, ok := p.Refpg_new_nozero()
		if !ok {
			t.Fatalf("alloc %d failed", i)
		}
		if seen[pa] {
			t.Fatalf("frame %v allocated twice", pa)
		}
		seen[pa] = true
	}
}

func TestRemoveExcludesRange(t *testing.T) {
	const n = 32
	p := testPhysmem(n)
	p.Remove(Pa_t(0), Pa_t(16)<<PGSHIFT)
	for i := 0; i < 16; i++ {
		_, pa, ok := p.Refpg_new_nozero()
		if !ok {
			t.Fatalf("alloc %d failed", i)
		}
		if pg2pgn(pa) < 16 {
			t.Fatalf("allocated removed frame %v", pa)
		}
	}
	if p.Any() {
		t.Fatalf("expected exhaustion: only frames 16..32 were allocatable")
	}
}

func TestRefcountingGatesFree(t *testing.T) {
	p := testPhysmem(8)
	_, pa, ok := p.Refpg_new_nozero()
	if !ok {
		t.Fatalf("alloc failed")
	}
	p.Refup(pa)
	p.Refup(pa)
	if p.Refcnt(pa) != 2 {
		t.Fatalf("refcnt = %d, want 2", p.Refcnt(pa))
	}
	if p.Refdown(pa) {
		t.Fatalf("Refdown reported free with refcount still positive")
	}
	if !p.Refdown(pa) {
		t.Fatalf("Refdown did not report free at refcount 0")
	}
}

func TestRefpgNewZeroes(t *testing.T) {
	p := testPhysmem(4)
	pg, pa, ok := p.Refpg_new_nozero()
	if !ok {
		t.Fatalf("alloc failed")
	}
	for i := range pg {
		pg[i] = 0xdeadbeef
	}
	p.dealloc(pa)
	pg2, _, ok := p.Refpg_new()
	if !ok {
		t.Fatalf("realloc failed")
	}
	for i, w := range pg2 {
		if w != 0 {
			t.Fatalf("word %d = %#x, want 0 after Refpg_new", i, w)
		}
	}
}

func TestAllocRetriesAfterOomReclaim(t *testing.T) {
	p := testPhysmem(1)
	_, pa, ok := p.Refpg_new_nozero()
	if !ok {
		t.Fatalf("initial alloc failed")
	}

	done := make(chan bool, 1)
	go func() {
		msg := <-oommsg.OomCh
		p.dealloc(pa)
		msg.Resume <- true
		done <- true
	}()

	// TryReclaim gives up at once while the goroutine above is not yet
	// receiving on OomCh, so keep allocating until it has taken a request.
	deadline := time.Now().Add(2 * time.Second)
	_, _, ok = p.Refpg_new_nozero()
	for !ok && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
		_, _, ok = p.Refpg_new_nozero()
	}
	if !ok {
		t.Fatalf("alloc did not succeed after reclaim freed a frame")
	}
	<-done
}

func TestAllocFailsImmediatelyWithNoReclaimer(t *testing.T) {
	p := testPhysmem(1)
	if _, _, ok := p.Refpg_new_nozero(); !ok {
		t.Fatalf("initial alloc failed")
	}
	if _, _, ok := p.Refpg_new_nozero(); ok {
		t.Fatalf("alloc succeeded with no frames and no reclaimer listening")
	}
}
