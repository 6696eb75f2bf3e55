// Package oommsg is the frame allocator's last-resort reclaim signal:
// a single best-effort channel an allocator sends on when it runs out
// of frames, and a reclaimer (a page-cache evictor, say) can optionally
// listen on to free memory and ask for a retry. Grounded on biscuit's
// oommsg.Oommsg_t/OomCh; unchanged in shape since the message itself is
// already exactly the contract a reclaimer needs (how much was needed,
// and a channel to answer back on), but given a send-side helper here
// since biscuit's version left the send/receive dance to be
// reimplemented at every call site.
package oommsg

/// Oommsg_t is sent on OomCh when memory is exhausted: Need is a hint
/// at how many frames the failed allocation wanted, and Resume is where
/// the reclaimer reports whether it freed enough to retry.
type Oommsg_t struct {
	Need   int
	Resume chan bool
}

/// OomCh is notified when the system runs out of memory. Nothing reads
/// it by default; TryReclaim's send is non-blocking so an allocator
/// never deadlocks waiting for a reclaimer that was never started.
var OomCh chan Oommsg_t = make(chan Oommsg_t)

/// TryReclaim offers need (a frame count) to whatever is listening on
/// OomCh and reports whether it asked the caller to retry. If nothing
/// is listening, it returns false immediately.
func TryReclaim(need int) bool {
	resume := make(chan bool, 1)
	select {
	case OomCh <- Oommsg_t{Need: need, Resume: resume}:
	default:
		return false
	}
	return <-resume
}
