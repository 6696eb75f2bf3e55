// Package fdops declares the interfaces an open file description must
// implement to sit behind a fd.Fd_t, and the user/kernel transfer
// interface (Userio_i) that every read/write path moves bytes through.
// Concrete implementations — circbuf-backed pipes, and whatever external
// INode a caller wires through extiface — live in their own packages;
// fdops only fixes the contract the syscall dispatcher in trap relies on.
package fdops

import "defs"

/// Userio_i abstracts a source or sink for a read/write transfer so the
/// same code path serves a single user buffer (vm.Userbuf_t), a
/// scatter/gather vector (vm.Useriovec_t), or an in-kernel byte slice
/// (vm.Fakeubuf_t) without caring which.
type Userio_i interface {
	/// Uioread copies data out of the source into dst, returning the
	/// number of bytes transferred.
	Uioread(dst []uint8) (int, defs.Err_t)
	/// Uiowrite copies src into the sink, returning the number of bytes
	/// transferred.
	Uiowrite(src []uint8) (int, defs.Err_t)
	/// Remain reports how many bytes are left to transfer.
	Remain() int
	/// Totalsz reports the transfer's original total size.
	Totalsz() int
}

/// Ready_t is a bitmask of readiness conditions reported by Pollmsg.
type Ready_t int

const (
	R_READ  Ready_t = 1 << iota
	R_WRITE
	R_ERROR
	R_HUP
)

/// Pollmsg_t names which readiness conditions a caller is waiting on.
type Pollmsg_t struct {
	Events Ready_t
}

/// Fdops_i is the operation set every open file description exposes
/// through a fd.Fd_t. A pipe end, and any extiface.INode-backed regular
/// file, both implement this.
type Fdops_i interface {
	/// Read transfers into ub from the current file offset.
	Read(ub Userio_i) (int, defs.Err_t)
	/// Write transfers from ub at the current file offset.
	Write(ub Userio_i) (int, defs.Err_t)
	/// Fstat populates a byte-encoded stat structure.
	Fstat(st []uint8) defs.Err_t
	/// Lseek repositions the file offset and returns the new offset.
	Lseek(off int, whence int) (int, defs.Err_t)
	/// Pollone reports which of the requested conditions currently hold.
	Pollone(pm Pollmsg_t) (Ready_t, defs.Err_t)
	/// Close drops this description's reference to the underlying file.
	Close() defs.Err_t
	/// Reopen takes an additional reference, used when a descriptor is
	/// duplicated (dup/dup2/dup3, or inherited across fork).
	Reopen() defs.Err_t
}

// Lseek whence values, matching the syscall ABI named in defs.
const (
	SEEK_SET = 0
	SEEK_CUR = 1
	SEEK_END = 2
)
