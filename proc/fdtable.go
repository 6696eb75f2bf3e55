package proc

import (
	"sync"

	"defs"
	"fd"
)

// FDMAX bounds how many descriptors a single process may hold open at
// once, grounded on limits.Syslimit_t's general "cap allocation so a
// runaway caller gets EMFILE" policy.
const FDMAX = 1024

/// FdTable_t is a process's open-file-descriptor table: a sparse slice
/// indexed by fd number, reusing the lowest free slot on the next open
/// the way POSIX dup/open semantics require.
type FdTable_t struct {
	mu   sync.Mutex
	fds  []*fd.Fd_t
}

/// NewFdTable returns an empty table.
func NewFdTable() *FdTable_t {
	return &FdTable_t{}
}

// lowestFree returns the smallest fd number >= atLeast with a nil slot,
// growing the table if every existing slot is taken.
func (t *FdTable_t) lowestFree(atLeast int) int {
	for i := atLeast; i < len(t.fds); i++ {
		if t.fds[i] == nil {
			return i
		}
	}
	return len(t.fds)
}

func (t *FdTable_t) set(n int, f *fd.Fd_t) {
	for len(t.fds) <= n {
		t.fds = append(t.fds, nil)
	}
	t.fds[n] = f
}

/// Add installs f at the lowest available descriptor number, returning
/// defs.EMFILE (un-negated, like this table's other errors) if the
/// table is already at FDMAX.
func (t *FdTable_t) Add(f *fd.Fd_t) (int, defs.Err_t) {
	return t.AddAt(f, 0)
}

/// AddAt installs f at the lowest descriptor number >= atLeast (the
/// dup2-style "at least this fd" contract fcntl(F_DUPFD) also uses).
func (t *FdTable_t) AddAt(f *fd.Fd_t, atLeast int) (int, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.lowestFree(atLeast)
	if n >= FDMAX {
		return 0, defs.EMFILE
	}
	t.set(n, f)
	return n, 0
}

/// Get returns the descriptor at n, or ok=false if none is open there.
func (t *FdTable_t) Get(n int) (*fd.Fd_t, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n < 0 || n >= len(t.fds) || t.fds[n] == nil {
		return nil, false
	}
	return t.fds[n], true
}

/// Close drops the descriptor at n, invoking its Fops.Close.
func (t *FdTable_t) Close(n int) defs.Err_t {
	t.mu.Lock()
	if n < 0 || n >= len(t.fds) || t.fds[n] == nil {
		t.mu.Unlock()
		return defs.EBADF
	}
	f := t.fds[n]
	t.fds[n] = nil
	t.mu.Unlock()
	return f.Fops.Close()
}

/// Dup2 installs old's description at newfd (closing whatever newfd held
/// first), per dup2(2)'s atomic-replace semantics.
func (t *FdTable_t) Dup2(oldfd, newfd int) defs.Err_t {
	t.mu.Lock()
	if oldfd < 0 || oldfd >= len(t.fds) || t.fds[oldfd] == nil {
		t.mu.Unlock()
		return defs.EBADF
	}
	if oldfd == newfd {
		t.mu.Unlock()
		return 0
	}
	old := t.fds[oldfd]
	var closing *fd.Fd_t
	if newfd < len(t.fds) {
		closing = t.fds[newfd]
	}
	nf, err := fd.Copyfd(old)
	if err != 0 {
		t.mu.Unlock()
		return err
	}
	t.set(newfd, nf)
	t.mu.Unlock()
	if closing != nil {
		closing.Fops.Close()
	}
	return 0
}

/// Fork returns a new FdTable_t whose descriptors are reopened
/// references to t's: the child inherits every open descriptor not
/// marked FD_CLOEXEC, sharing the same file offset/description.
func (t *FdTable_t) Fork() (*FdTable_t, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	nt := &FdTable_t{fds: make([]*fd.Fd_t, len(t.fds))}
	for i, f := range t.fds {
		if f == nil {
			continue
		}
		if f.Perms&fd.FD_CLOEXEC != 0 {
			continue
		}
		nf, err := fd.Copyfd(f)
		if err != 0 {
			return nil, err
		}
		nt.fds[i] = nf
	}
	return nt, 0
}

/// CloseAll closes every open descriptor, used when a process exits.
func (t *FdTable_t) CloseAll() {
	t.mu.Lock()
	fds := t.fds
	t.fds = nil
	t.mu.Unlock()
	for _, f := range fds {
		if f != nil {
			f.Fops.Close()
		}
	}
}
