package pagetable

import (
	"testing"

	"archshim"
	"mem"
)

func testTable() (*Table_t, *mem.Physmem_t) {
	arch := archshim.NewSoft(1, 16)
	phys := mem.NewPhysmem(arch, 0, 16)
	return NewTable(phys), phys
}

func TestMapThenGetEntry(t *testing.T) {
	tbl, phys := testTable()
	_, pa, ok := phys.Refpg_new_nozero()
	if !ok {
		t.Fatalf("frame alloc failed")
	}
	tbl.Map(0x4000, pa, Writable|User)
	e, ok := tbl.GetEntry(0x4000)
	if !ok {
		t.Fatalf("expected entry after Map")
	}
	if !e.Present() || !e.Writable() || !e.User() || e.Executable() {
		t.Fatalf("unexpected flags: %+v", e)
	}
	if e.Target() != pa {
		t.Fatalf("target = %v, want %v", e.Target(), pa)
	}
}

func TestUnmapRemovesEntry(t *testing.T) {
	tbl, phys := testTable()
	_, pa, _ := phys.Refpg_new_nozero()
	tbl.Map(0x1000, pa, Writable)
	tbl.Unmap(0x1000)
	if _, ok := tbl.GetEntry(0x1000); ok {
		t.Fatalf("entry survived Unmap")
	}
}

func TestMapNotPresentThenPopulate(t *testing.T) {
	tbl, phys := testTable()
	e := tbl.MapNotPresent(0x2000, Writable|User)
	if e.Present() {
		t.Fatalf("MapNotPresent entry should not be present")
	}
	if _, ok := tbl.GetPageSlice(0x2000); ok {
		t.Fatalf("GetPageSlice should fail on a not-present entry")
	}
	_, pa, _ := phys.Refpg_new_nozero()
	e.SetTarget(pa)
	if !e.Present() {
		t.Fatalf("SetTarget should mark the entry present")
	}
	if !e.Writable() {
		t.Fatalf("SetTarget should preserve prior attribute flags")
	}
	if _, ok := tbl.GetPageSlice(0x2000); !ok {
		t.Fatalf("GetPageSlice should succeed once present")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	tbl, phys := testTable()
	_, pa, _ := phys.Refpg_new_nozero()
	tbl.Map(0x3000, pa, Writable)

	clone := tbl.Clone()
	clone.Unmap(0x3000)

	if _, ok := tbl.GetEntry(0x3000); !ok {
		t.Fatalf("unmapping the clone should not affect the original")
	}
	if _, ok := clone.GetEntry(0x3000); ok {
		t.Fatalf("clone should no longer have the entry")
	}
}

func TestMapWithinSamePageSharesEntry(t *testing.T) {
	tbl, phys := testTable()
	_, pa, _ := phys.Refpg_new_nozero()
	tbl.Map(0x5000, pa, Writable)
	e, ok := tbl.GetEntry(0x5fff)
	if !ok || e.Target() != pa {
		t.Fatalf("lookup within the same page should find the same entry")
	}
}
