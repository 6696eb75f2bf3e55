// Package pipe implements the in-kernel anonymous pipe: a single-page
// circbuf.Circbuf_t shared between a read end and a write end, each an
// fdops.Fdops_i. Grounded on original_source's (rcore-os/rCore)
// kernel/src/fs/pipe.rs PipeData/Pipe split (buffer plus reader/writer
// end counts, read blocks while the buffer is empty and a writer
// remains, write blocks while the buffer is full and a reader remains)
// and on this tree's circbuf.Circbuf_t for the buffer itself — biscuit's
// own pipe_t lives in fs.go, which was not part of the retrieved source
// tree, so the blocking/end-count logic around the buffer is
// original_source's rather than a ported biscuit file.
//
// Every other blocking primitive in this core parks a caller-supplied
// tid through a ksync.Parker_i (see DESIGN.md's note on the tid-less
// fdops.Fdops_i contract: Read/Write carry no tid, since a file
// description may be read from more than one thread of the owning
// process). Pipe blocking therefore uses sync.Cond directly, parking
// the real calling goroutine rather than a scheduler-tracked tid — the
// same "real Go blocking is this port's rendition of a kernel thread"
// tolerance ksync's own package doc already grants.
package pipe

import (
	"sync"

	"circbuf"
	"defs"
	"fd"
	"fdops"
	"limits"
	"mem"
	"stat"
)

const pipeMode = 0010000 // S_IFIFO

type pipePair struct {
	mu      sync.Mutex
	rCond   *sync.Cond
	wCond   *sync.Cond
	buf     circbuf.Circbuf_t
	readers int
	writers int
}

/// End_t is one end of a pipe (reader or writer); it implements
/// fdops.Fdops_i and is installed directly as a fd.Fd_t's Fops.
type End_t struct {
	pair   *pipePair
	isRead bool
}

var _ fdops.Fdops_i = (*End_t)(nil)

/// New allocates a fresh pipe backed by a page from m, returning its
/// read and write ends. Fails with -defs.ENOMEM if the system-wide pipe
/// limit (limits.Syslimit.Pipes) is already exhausted.
func New(m mem.Page_i) (*End_t, *End_t, defs.Err_t) {
	if !limits.Syslimit.Pipes.Take() {
		return nil, nil, -defs.ENOMEM
	}
	pp := &pipePair{readers: 1, writers: 1}
	pp.rCond = sync.NewCond(&pp.mu)
	pp.wCond = sync.NewCond(&pp.mu)
	pp.buf.Cb_init(mem.PGSIZE, m)
	return &End_t{pair: pp, isRead: true}, &End_t{pair: pp, isRead: false}, 0
}

/// NewFds is New, wrapped as a ready-to-install pair of fd.Fd_t's for a
/// pipe2(2) syscall shim.
func NewFds(m mem.Page_i) (*fd.Fd_t, *fd.Fd_t, defs.Err_t) {
	r, w, err := New(m)
	if err != 0 {
		return nil, nil, err
	}
	return &fd.Fd_t{Fops: r, Perms: fd.FD_READ}, &fd.Fd_t{Fops: w, Perms: fd.FD_WRITE}, 0
}

/// Read blocks while the pipe is empty and a writer remains open,
/// returning 0, 0 (EOF) once every writer has closed.
func (e *End_t) Read(ub fdops.Userio_i) (int, defs.Err_t) {
	if !e.isRead {
		return 0, -defs.EINVAL
	}
	pp := e.pair
	pp.mu.Lock()
	defer pp.mu.Unlock()
	for pp.buf.Empty() && pp.writers > 0 {
		pp.rCond.Wait()
	}
	if pp.buf.Empty() {
		return 0, 0
	}
	n, err := pp.buf.Copyout(ub)
	if err == 0 && n > 0 {
		pp.wCond.Broadcast()
	}
	return n, err
}

/// Write blocks while the pipe is full and a reader remains open,
/// looping until ub is fully drained, and fails with -defs.EPIPE once
/// every reader has closed.
func (e *End_t) Write(ub fdops.Userio_i) (int, defs.Err_t) {
	if e.isRead {
		return 0, -defs.EINVAL
	}
	pp := e.pair
	pp.mu.Lock()
	defer pp.mu.Unlock()
	total := 0
	for ub.Remain() > 0 {
		for pp.buf.Full() && pp.readers > 0 {
			pp.wCond.Wait()
		}
		if pp.readers == 0 {
			return total, -defs.EPIPE
		}
		n, err := pp.buf.Copyin(ub)
		if n > 0 {
			total += n
			pp.rCond.Broadcast()
		}
		if err != 0 {
			return total, err
		}
		if n == 0 {
			// Copyin moved no bytes although the buffer had room;
			// loop and recheck.
			continue
		}
	}
	return total, 0
}

/// Fstat reports the current buffer occupancy as the file size, the way
/// fstat(2) on a pipe reports bytes available to read.
func (e *End_t) Fstat(st []uint8) defs.Err_t {
	pp := e.pair
	pp.mu.Lock()
	used := pp.buf.Used()
	pp.mu.Unlock()
	var s stat.Stat_t
	s.Wmode(pipeMode)
	s.Wsize(uint(used))
	copy(st, s.Bytes())
	return 0
}

/// Lseek always fails: a pipe has no offset to reposition.
func (e *End_t) Lseek(off int, whence int) (int, defs.Err_t) {
	return 0, -defs.EINVAL
}

/// Pollone reports readability/writability of the shared buffer, plus
/// R_HUP on the read end once no writer is left, and R_ERROR on the
/// write end once no reader is left.
func (e *End_t) Pollone(pm fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) {
	pp := e.pair
	pp.mu.Lock()
	defer pp.mu.Unlock()
	var r fdops.Ready_t
	if e.isRead {
		if !pp.buf.Empty() {
			r |= fdops.R_READ
		}
		if pp.writers == 0 {
			r |= fdops.R_HUP
		}
	} else {
		if !pp.buf.Full() {
			r |= fdops.R_WRITE
		}
		if pp.readers == 0 {
			r |= fdops.R_ERROR
		}
	}
	return r, 0
}

/// Close drops this reference to e's end, releasing the backing page and
/// the system pipe-count reservation once both ends have no references
/// left.
func (e *End_t) Close() defs.Err_t {
	pp := e.pair
	pp.mu.Lock()
	if e.isRead {
		pp.readers--
	} else {
		pp.writers--
	}
	both := pp.readers == 0 && pp.writers == 0
	pp.rCond.Broadcast()
	pp.wCond.Broadcast()
	if both {
		pp.buf.Cb_release()
	}
	pp.mu.Unlock()
	if both {
		limits.Syslimit.Pipes.Give()
	}
	return 0
}

/// Reopen adds one more reference to e's end (dup/dup2/dup3, or fork
/// inheriting the descriptor).
func (e *End_t) Reopen() defs.Err_t {
	pp := e.pair
	pp.mu.Lock()
	if e.isRead {
		pp.readers++
	} else {
		pp.writers++
	}
	pp.mu.Unlock()
	return 0
}
