package vm

import (
	"testing"

	"archshim"
	"defs"
	"mem"
)

func testEnv(nframe int) (*mem.Physmem_t, archshim.ArchOps) {
	arch := archshim.NewSoft(1, nframe)
	return mem.NewPhysmem(arch, 0, nframe), arch
}

func TestDelayHandlerFaultsInZeroedFrame(t *testing.T) {
	phys, arch := testEnv(16)
	ms := NewMemorySet(phys, arch)
	h := &DelayHandler{Alloc: phys}
	attr := MemoryAttr{User: true, Writable: true}
	if err := ms.Insert(0x1000, 0x2000, attr, h); err != 0 {
		t.Fatalf("Insert: %v", err)
	}
	if _, ok := ms.table.GetPageSlice(0x1000); ok {
		t.Fatalf("page should not be present before first fault")
	}
	if err := ms.HandlePageFault(0x1000, AccessWrite); err != 0 {
		t.Fatalf("HandlePageFault: %v", err)
	}
	bpg, ok := ms.table.GetPageSlice(0x1000)
	if !ok {
		t.Fatalf("page should be present after fault")
	}
	for i, b := range bpg {
		if b != 0 {
			t.Fatalf("byte %d = %#x, want 0", i, b)
		}
	}
}

func TestInsertRejectsOverlap(t *testing.T) {
	phys, arch := testEnv(16)
	ms := NewMemorySet(phys, arch)
	attr := MemoryAttr{User: true, Writable: true}
	if err := ms.Insert(0x1000, 0x3000, attr, &DelayHandler{Alloc: phys}); err != 0 {
		t.Fatalf("first Insert: %v", err)
	}
	if err := ms.Insert(0x2000, 0x4000, attr, &DelayHandler{Alloc: phys}); err != -defs.EINVAL {
		t.Fatalf("overlapping Insert err = %v, want EINVAL", err)
	}
}

func TestWriteToReadOnlyAreaFaults(t *testing.T) {
	phys, arch := testEnv(16)
	ms := NewMemorySet(phys, arch)
	attr := MemoryAttr{User: true, Writable: false}
	if err := ms.Insert(0x1000, 0x2000, attr, &DelayHandler{Alloc: phys}); err != 0 {
		t.Fatalf("Insert: %v", err)
	}
	if err := ms.HandlePageFault(0x1000, AccessWrite); err != -defs.EFAULT {
		t.Fatalf("write fault on read-only area = %v, want EFAULT", err)
	}
}

func TestFaultOutsideAnyAreaIsEFAULT(t *testing.T) {
	phys, arch := testEnv(16)
	ms := NewMemorySet(phys, arch)
	if err := ms.HandlePageFault(0x90000, AccessRead); err != -defs.EFAULT {
		t.Fatalf("err = %v, want EFAULT", err)
	}
}

func TestForkByFrameCopiesWritablePageGivingChildItsOwnFrame(t *testing.T) {
	phys, arch := testEnv(16)
	ms := NewMemorySet(phys, arch)
	attr := MemoryAttr{User: true, Writable: true}
	h := &ByFrameHandler{Alloc: phys}
	if err := ms.Insert(0x1000, 0x2000, attr, h); err != 0 {
		t.Fatalf("Insert: %v", err)
	}
	e, _ := ms.table.GetEntry(0x1000)
	pa := e.Target()
	if got := phys.Refcnt(pa); got != 1 {
		t.Fatalf("refcnt before fork = %d, want 1", got)
	}

	child, err := ms.Fork()
	if err != 0 {
		t.Fatalf("Fork: %v", err)
	}
	ce, ok := child.table.GetEntry(0x1000)
	if !ok {
		t.Fatalf("child entry missing")
	}
	if ce.Target() == pa {
		t.Fatalf("child should get its own frame, not share the parent's %v", pa)
	}
	if got := phys.Refcnt(pa); got != 1 {
		t.Fatalf("parent refcnt after fork = %d, want 1 (unchanged)", got)
	}
	if got := phys.Refcnt(ce.Target()); got != 1 {
		t.Fatalf("child frame refcnt = %d, want 1", got)
	}
}

// TestForkThenWriteBothSidesIsolatesMemory exercises the fork/write/
// fork-side-write/read round trip: after fork, a write through either
// parent or child must never be visible through the other.
func TestForkThenWriteBothSidesIsolatesMemory(t *testing.T) {
	phys, arch := testEnv(16)
	ms := NewMemorySet(phys, arch)
	attr := MemoryAttr{User: true, Writable: true}
	if err := ms.Insert(0x1000, 0x2000, attr, &ByFrameHandler{Alloc: phys}); err != 0 {
		t.Fatalf("Insert: %v", err)
	}

	var pw Userbuf_t
	pw.UbInit(ms, 0x1000, 1)
	if _, err := pw.Uiowrite([]byte{0xAA}); err != 0 {
		t.Fatalf("parent write: %v", err)
	}

	child, err := ms.Fork()
	if err != 0 {
		t.Fatalf("Fork: %v", err)
	}

	var cw Userbuf_t
	cw.UbInit(child, 0x1000, 1)
	if _, err := cw.Uiowrite([]byte{0xBB}); err != 0 {
		t.Fatalf("child write: %v", err)
	}

	var pr, cr Userbuf_t
	pr.UbInit(ms, 0x1000, 1)
	cr.UbInit(child, 0x1000, 1)
	pgot := make([]byte, 1)
	cgot := make([]byte, 1)
	if _, err := pr.Uioread(pgot); err != 0 {
		t.Fatalf("parent read: %v", err)
	}
	if _, err := cr.Uioread(cgot); err != 0 {
		t.Fatalf("child read: %v", err)
	}
	if pgot[0] != 0xAA {
		t.Fatalf("parent byte = %#x, want 0xAA", pgot[0])
	}
	if cgot[0] != 0xBB {
		t.Fatalf("child byte = %#x, want 0xBB", cgot[0])
	}

	pe, _ := ms.table.GetEntry(0x1000)
	ce, _ := child.table.GetEntry(0x1000)
	if pe.Target() == ce.Target() {
		t.Fatalf("parent and child still share one frame %v", pe.Target())
	}
}

func TestUserbufRoundTrip(t *testing.T) {
	phys, arch := testEnv(16)
	ms := NewMemorySet(phys, arch)
	attr := MemoryAttr{User: true, Writable: true}
	if err := ms.Insert(0x10000, 0x11000, attr, &DelayHandler{Alloc: phys}); err != 0 {
		t.Fatalf("Insert: %v", err)
	}

	var wb Userbuf_t
	wb.UbInit(ms, 0x10000, 32)
	src := []uint8("0123456789abcdefghijklmnopqrstuv")
	n, err := wb.Uiowrite(src)
	if err != 0 || n != len(src) {
		t.Fatalf("Uiowrite: n=%d err=%v", n, err)
	}

	var rb Userbuf_t
	rb.UbInit(ms, 0x10000, 32)
	dst := make([]uint8, 32)
	n, err = rb.Uioread(dst)
	if err != 0 || n != len(dst) {
		t.Fatalf("Uioread: n=%d err=%v", n, err)
	}
	if string(dst) != string(src) {
		t.Fatalf("roundtrip mismatch: got %q, want %q", dst, src)
	}
}

func TestUserbufCrossesPageBoundary(t *testing.T) {
	phys, arch := testEnv(16)
	ms := NewMemorySet(phys, arch)
	attr := MemoryAttr{User: true, Writable: true}
	if err := ms.Insert(0, 0x3000, attr, &DelayHandler{Alloc: phys}); err != 0 {
		t.Fatalf("Insert: %v", err)
	}
	// straddle the boundary between the first and second pages.
	uva := uintptr(mem.PGSIZE - 16)
	var wb Userbuf_t
	wb.UbInit(ms, uva, 32)
	src := make([]uint8, 32)
	for i := range src {
		src[i] = uint8(i)
	}
	if n, err := wb.Uiowrite(src); err != 0 || n != 32 {
		t.Fatalf("Uiowrite: n=%d err=%v", n, err)
	}
	var rb Userbuf_t
	rb.UbInit(ms, uva, 32)
	dst := make([]uint8, 32)
	if n, err := rb.Uioread(dst); err != 0 || n != 32 {
		t.Fatalf("Uioread: n=%d err=%v", n, err)
	}
	for i := range src {
		if dst[i] != src[i] {
			t.Fatalf("byte %d = %d, want %d", i, dst[i], src[i])
		}
	}
}

func TestSharedHandlerPopulatesOnFirstFaultOnly(t *testing.T) {
	phys, arch := testEnv(16)
	ms1 := NewMemorySet(phys, arch)
	ms2 := NewMemorySet(phys, arch)
	guard := NewSharedGuard(phys)
	attr := MemoryAttr{User: true, Writable: true}
	h1 := &SharedHandler{Guard: guard}
	if err := ms1.Insert(0x4000, 0x5000, attr, h1); err != 0 {
		t.Fatalf("Insert ms1: %v", err)
	}
	if err := ms1.HandlePageFault(0x4000, AccessWrite); err != 0 {
		t.Fatalf("fault ms1: %v", err)
	}
	e1, _ := ms1.table.GetEntry(0x4000)
	pa := e1.Target()

	h2 := NewSharedHandler(guard)
	if err := ms2.Insert(0x8000, 0x9000, attr, h2); err != 0 {
		t.Fatalf("Insert ms2: %v", err)
	}
	if err := ms2.HandlePageFault(0x8000, AccessRead); err != 0 {
		t.Fatalf("fault ms2: %v", err)
	}
	e2, _ := ms2.table.GetEntry(0x8000)
	if e2.Target() != pa {
		t.Fatalf("shared areas should fault onto the same frame: %v != %v", e2.Target(), pa)
	}
}

// TestSharedHandlerUnmapKeepsFrameUntilLastSharerReleases covers the
// refcounting path the single-sharer test above can't: a frame must
// outlive an intermediate sharer's Unmap (the guard itself still holds
// it, plus whatever other sharer has a present PTE) and must only be
// freed once the last sharer detaches.
func TestSharedHandlerUnmapKeepsFrameUntilLastSharerReleases(t *testing.T) {
	phys, arch := testEnv(16)
	ms1 := NewMemorySet(phys, arch)
	ms2 := NewMemorySet(phys, arch)
	guard := NewSharedGuard(phys)
	attr := MemoryAttr{User: true, Writable: true}

	h1 := &SharedHandler{Guard: guard}
	if err := ms1.Insert(0x4000, 0x5000, attr, h1); err != 0 {
		t.Fatalf("Insert ms1: %v", err)
	}
	if err := ms1.HandlePageFault(0x4000, AccessWrite); err != 0 {
		t.Fatalf("fault ms1: %v", err)
	}
	e1, _ := ms1.table.GetEntry(0x4000)
	pa := e1.Target()

	h2 := NewSharedHandler(guard)
	if err := ms2.Insert(0x8000, 0x9000, attr, h2); err != 0 {
		t.Fatalf("Insert ms2: %v", err)
	}
	if err := ms2.HandlePageFault(0x8000, AccessWrite); err != 0 {
		t.Fatalf("fault ms2: %v", err)
	}

	if err := ms1.Remove(0x4000, 0x5000); err != 0 {
		t.Fatalf("Remove ms1: %v", err)
	}
	if phys.Refcnt(pa) == 0 {
		t.Fatalf("frame %v freed while a sharer (ms2) still holds it", pa)
	}

	e2, _ := ms2.table.GetEntry(0x8000)
	if e2.Target() != pa {
		t.Fatalf("ms2 should still map the same shared frame")
	}

	if err := ms2.Remove(0x8000, 0x9000); err != 0 {
		t.Fatalf("Remove ms2: %v", err)
	}
	if phys.Refcnt(pa) != 0 {
		t.Fatalf("frame %v should be freed once the last sharer releases, refcnt = %d", pa, phys.Refcnt(pa))
	}
}

func TestTranslateReportsPresentMapping(t *testing.T) {
	phys, arch := testEnv(16)
	ms := NewMemorySet(phys, arch)
	attr := MemoryAttr{User: true, Writable: true}
	if err := ms.Insert(0x1000, 0x2000, attr, &DelayHandler{Alloc: phys}); err != 0 {
		t.Fatalf("Insert: %v", err)
	}
	if _, ok := ms.Translate(0x1000); ok {
		t.Fatalf("Translate should miss before the page is faulted in")
	}
	if err := ms.HandlePageFault(0x1000, AccessWrite); err != 0 {
		t.Fatalf("HandlePageFault: %v", err)
	}
	pa, ok := ms.Translate(0x1000)
	if !ok {
		t.Fatalf("Translate should hit after the page is faulted in")
	}
	e, _ := ms.table.GetEntry(0x1000)
	if pa != e.Target() {
		t.Fatalf("Translate = %v, want %v", pa, e.Target())
	}
	if _, ok := ms.Translate(0x90000); ok {
		t.Fatalf("Translate should miss for an address outside any area")
	}
}

func TestWithRestoresPreviouslyActiveAddressSpace(t *testing.T) {
	phys, arch := testEnv(16)
	a := NewMemorySet(phys, arch)
	b := NewMemorySet(phys, arch)
	a.Activate()

	ran := false
	b.With(func() {
		ran = true
		if currentMS != b {
			t.Fatalf("currentMS during With body = %p, want %p", currentMS, b)
		}
	})
	if !ran {
		t.Fatalf("With never ran its function")
	}
	if currentMS != a {
		t.Fatalf("currentMS after With = %p, want restored %p", currentMS, a)
	}
}
