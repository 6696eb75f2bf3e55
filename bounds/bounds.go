// Package bounds gives each heap-allocating copy-loop call site a stable
// name and a conservative per-iteration byte estimate, so res can charge
// the right amount against the kernel heap budget without every call site
// guessing its own number.
package bounds

/// Bound_t names one call site's per-iteration heap estimate.
type Bound_t int

const (
	// one page-table walk plus dmap lookup per iteration of a
	// kernel-to-user copy loop.
	B_ASPACE_T_K2USER_INNER Bound_t = iota
	// one page-table walk plus dmap lookup per iteration of a
	// user-to-kernel copy loop.
	B_ASPACE_T_USER2K_INNER
	// one iovec segment's worth of bookkeeping in a single-buffer
	// user/kernel transfer.
	B_USERBUF_T__TX
	// one iovec's initial page-table walk.
	B_USERIOVEC_T_IOV_INIT
	// one iovec segment's worth of bookkeeping in a scatter/gather
	// transfer.
	B_USERIOVEC_T__TX
)

// perIterBytes is the conservative heap estimate charged for one
// iteration at the named call site. These are not exact; they only need
// to be large enough that a long copy loop is metered against the
// budget instead of running unbounded.
var perIterBytes = map[Bound_t]uint{
	B_ASPACE_T_K2USER_INNER: 256,
	B_ASPACE_T_USER2K_INNER: 256,
	B_USERBUF_T__TX:         256,
	B_USERIOVEC_T_IOV_INIT:  512,
	B_USERIOVEC_T__TX:       256,
}

/// Bounds returns the conservative per-iteration heap estimate for b.
func Bounds(b Bound_t) uint {
	n, ok := perIterBytes[b]
	if !ok {
		panic("bounds: unknown call site")
	}
	return n
}
