package vm

import (
	"bounds"
	"defs"
	"res"
)

/// Userbuf_t copies between kernel memory and a single contiguous user
/// virtual range, one page at a time, charging each page-table touch
/// against the heap copy budget (res.Resadd_noblock) so a malicious
/// userva/len cannot pin the kernel in an unbounded copy loop. Grounded
/// on biscuit's Userbuf_t; _tx here walks pages through
/// MemorySet.Find + HandlePageFault instead of a direct PTE walk, since
/// this module's page table is the portable pagetable.Table_t rather
/// than a raw x86 PTE array.
type Userbuf_t struct {
	ms     *MemorySet
	userva uintptr
	len    int
	off    int
}

/// UbInit initializes ub to reference [uva, uva+length) in ms.
func (ub *Userbuf_t) UbInit(ms *MemorySet, uva uintptr, length int) {
	if length < 0 {
		panic("vm: negative Userbuf_t length")
	}
	ub.ms = ms
	ub.userva = uva
	ub.len = length
	ub.off = 0
}

/// Remain reports the number of bytes not yet transferred.
func (ub *Userbuf_t) Remain() int { return ub.len - ub.off }

/// Totalsz reports the buffer's total size.
func (ub *Userbuf_t) Totalsz() int { return ub.len }

/// Uioread copies user memory into dst.
func (ub *Userbuf_t) Uioread(dst []uint8) (int, defs.Err_t) {
	ub.ms.Lock()
	n, err := ub.tx(dst, false)
	ub.ms.Unlock()
	return n, err
}

/// Uiowrite copies src into user memory.
func (ub *Userbuf_t) Uiowrite(src []uint8) (int, defs.Err_t) {
	ub.ms.Lock()
	n, err := ub.tx(src, true)
	ub.ms.Unlock()
	return n, err
}

// pageSlice returns the writable (or readable) kernel view of the page
// containing va, faulting it in if necessary.
func (ub *Userbuf_t) pageSlice(va uintptr, write bool) ([]uint8, defs.Err_t) {
	access := AccessRead
	if write {
		access = AccessWrite
	}
	if _, ok := ub.ms.Find(va); !ok {
		return nil, -defs.EFAULT
	}
	e, ok := ub.ms.table.GetEntry(va &^ (pgsize - 1))
	if !ok || !e.Present() {
		if err := ub.ms.HandlePageFault(va, access); err != 0 {
			return nil, err
		}
	}
	bpg, ok := ub.ms.table.GetPageSlice(va)
	if !ok {
		return nil, -defs.EFAULT
	}
	voff := int(va & (pgsize - 1))
	return bpg[voff:], 0
}

// tx copies min(len(buf), ub.Remain()) bytes, charging a copy-budget
// unit per page crossed. On ENOHEAP or a fault mid-transfer, ub.off is
// left wherever the transfer stopped so the caller can restart.
func (ub *Userbuf_t) tx(buf []uint8, write bool) (int, defs.Err_t) {
	ret := 0
	for len(buf) != 0 && ub.off != ub.len {
		if !res.Resadd_noblock(bounds.Bounds(bounds.B_USERBUF_T__TX)) {
			return ret, -defs.ENOHEAP
		}
		va := ub.userva + uintptr(ub.off)
		ubuf, err := ub.pageSlice(va, write)
		if err != 0 {
			return ret, err
		}
		if left := ub.len - ub.off; left < len(ubuf) {
			ubuf = ubuf[:left]
		}
		var c int
		if write {
			c = copy(ubuf, buf)
		} else {
			c = copy(buf, ubuf)
		}
		buf = buf[c:]
		ub.off += c
		ret += c
		if c == 0 {
			// page fault handler installed a page but reported zero
			// bytes available (shouldn't happen) — avoid spinning.
			break
		}
	}
	return ret, 0
}

type iove_t struct {
	uva uintptr
	sz  int
}

/// Useriovec_t is a scatter/gather list of user buffers, as described by
/// a userspace iovec array.
type Useriovec_t struct {
	iovs []iove_t
	tsz  int
	ms   *MemorySet
}

const maxIovs = 10

/// IovInit reads niovs {base, len} pairs from user memory at iovarn.
func (iov *Useriovec_t) IovInit(ms *MemorySet, iovarn uintptr, niovs int) defs.Err_t {
	if niovs > maxIovs {
		return -defs.EINVAL
	}
	iov.tsz = 0
	iov.iovs = make([]iove_t, niovs)
	iov.ms = ms

	ms.Lock()
	defer ms.Unlock()
	const elmsz = 16 // two 8-byte words: base, then length
	for i := range iov.iovs {
		if !res.Resadd_noblock(bounds.Bounds(bounds.B_USERIOVEC_T_IOV_INIT)) {
			return -defs.ENOHEAP
		}
		va := iovarn + uintptr(i)*elmsz
		base, err := iov.readnLocked(va, 8)
		if err != 0 {
			return err
		}
		sz, err := iov.readnLocked(va+8, 8)
		if err != 0 {
			return err
		}
		if sz < 0 {
			return -defs.EINVAL
		}
		iov.iovs[i].uva = uintptr(base)
		iov.iovs[i].sz = sz
		iov.tsz += sz
	}
	return 0
}

// readnLocked reads an n-byte (n<=8) little-endian integer from user
// memory; the caller must already hold ms's lock.
func (iov *Useriovec_t) readnLocked(va uintptr, n int) (int, defs.Err_t) {
	var ub Userbuf_t
	ub.ms = iov.ms
	ub.userva = va
	ub.len = n
	var buf [8]uint8
	got, err := ub.tx(buf[:n], false)
	if err != 0 {
		return 0, err
	}
	if got != n {
		return 0, -defs.EFAULT
	}
	var v int
	for i := 0; i < n; i++ {
		v |= int(buf[i]) << uint(8*i)
	}
	return v, 0
}

/// Remain reports bytes left across every remaining iovec.
func (iov *Useriovec_t) Remain() int {
	ret := 0
	for i := range iov.iovs {
		ret += iov.iovs[i].sz
	}
	return ret
}

/// Totalsz reports the iovec array's original total size.
func (iov *Useriovec_t) Totalsz() int { return iov.tsz }

func (iov *Useriovec_t) tx(buf []uint8, touser bool) (int, defs.Err_t) {
	var ub Userbuf_t
	did := 0
	for len(buf) > 0 && len(iov.iovs) > 0 {
		if !res.Resadd_noblock(bounds.Bounds(bounds.B_USERIOVEC_T__TX)) {
			return did, -defs.ENOHEAP
		}
		cur := &iov.iovs[0]
		ub.ms = iov.ms
		ub.userva = cur.uva
		ub.len = cur.sz
		ub.off = 0
		c, err := ub.tx(buf, touser)
		cur.uva += uintptr(c)
		cur.sz -= c
		if cur.sz == 0 {
			iov.iovs = iov.iovs[1:]
		}
		buf = buf[c:]
		did += c
		if err != 0 {
			return did, err
		}
	}
	return did, 0
}

/// Uioread reads from the iovec's user buffers into dst.
func (iov *Useriovec_t) Uioread(dst []uint8) (int, defs.Err_t) {
	iov.ms.Lock()
	n, err := iov.tx(dst, false)
	iov.ms.Unlock()
	return n, err
}

/// Uiowrite writes src into the iovec's user buffers.
func (iov *Useriovec_t) Uiowrite(src []uint8) (int, defs.Err_t) {
	iov.ms.Lock()
	n, err := iov.tx(src, true)
	iov.ms.Unlock()
	return n, err
}

/// Fakeubuf_t satisfies the same fdops.Userio_i contract as Userbuf_t
/// but transfers against an in-kernel byte slice, for callers that need
/// to reuse a user-memory code path (e.g. a syscall's read/write
/// dispatch) against kernel-internal memory.
type Fakeubuf_t struct {
	buf []uint8
	len int
}

/// FakeInit points fb at buf.
func (fb *Fakeubuf_t) FakeInit(buf []uint8) {
	fb.buf = buf
	fb.len = len(buf)
}

func (fb *Fakeubuf_t) Remain() int   { return len(fb.buf) }
func (fb *Fakeubuf_t) Totalsz() int  { return fb.len }

func (fb *Fakeubuf_t) tx(buf []uint8, tofbuf bool) (int, defs.Err_t) {
	var c int
	if tofbuf {
		c = copy(fb.buf, buf)
	} else {
		c = copy(buf, fb.buf)
	}
	fb.buf = fb.buf[c:]
	return c, 0
}

func (fb *Fakeubuf_t) Uioread(dst []uint8) (int, defs.Err_t)  { return fb.tx(dst, false) }
func (fb *Fakeubuf_t) Uiowrite(src []uint8) (int, defs.Err_t) { return fb.tx(src, true) }
