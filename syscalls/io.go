package syscalls

import (
	"defs"
	"fd"
	"fdops"
	"sched"
	"stat"
	"trap"
	"vm"
)

// fdArg narrows a raw register argument to a file descriptor number.
func fdArg(v uintptr) int {
	return int(int64(v))
}

// sysRead implements read(2): Args[0] fd, Args[1] buf, Args[2] count.
func sysRead(tp *sched.ThreadPool_t) trap.SyscallFunc {
	return func(tf *trap.TrapFrame) (uintptr, defs.Err_t) {
		p, err := resolveProc(tp, tf)
		if err != 0 {
			return 0, err
		}
		f, ok := p.Fds.Get(fdArg(tf.Args[0]))
		if !ok {
			return 0, -defs.EBADF
		}
		var ub vm.Userbuf_t
		ub.UbInit(p.MSet, tf.Args[1], int(tf.Args[2]))
		n, rerr := f.Fops.Read(&ub)
		if rerr != 0 {
			return 0, normErr(rerr)
		}
		return uintptr(n), 0
	}
}

// sysWrite implements write(2): Args[0] fd, Args[1] buf, Args[2] count.
func sysWrite(tp *sched.ThreadPool_t) trap.SyscallFunc {
	return func(tf *trap.TrapFrame) (uintptr, defs.Err_t) {
		p, err := resolveProc(tp, tf)
		if err != 0 {
			return 0, err
		}
		f, ok := p.Fds.Get(fdArg(tf.Args[0]))
		if !ok {
			return 0, -defs.EBADF
		}
		var ub vm.Userbuf_t
		ub.UbInit(p.MSet, tf.Args[1], int(tf.Args[2]))
		n, werr := f.Fops.Write(&ub)
		if werr != 0 {
			return 0, normErr(werr)
		}
		return uintptr(n), 0
	}
}

// sysReadv implements readv(2): Args[0] fd, Args[1] iov, Args[2] iovcnt.
func sysReadv(tp *sched.ThreadPool_t) trap.SyscallFunc {
	return func(tf *trap.TrapFrame) (uintptr, defs.Err_t) {
		p, err := resolveProc(tp, tf)
		if err != 0 {
			return 0, err
		}
		f, ok := p.Fds.Get(fdArg(tf.Args[0]))
		if !ok {
			return 0, -defs.EBADF
		}
		var iov vm.Useriovec_t
		if ierr := iov.IovInit(p.MSet, tf.Args[1], int(tf.Args[2])); ierr != 0 {
			return 0, ierr
		}
		n, rerr := f.Fops.Read(&iov)
		if rerr != 0 {
			return 0, normErr(rerr)
		}
		return uintptr(n), 0
	}
}

// sysWritev implements writev(2): Args[0] fd, Args[1] iov, Args[2] iovcnt.
func sysWritev(tp *sched.ThreadPool_t) trap.SyscallFunc {
	return func(tf *trap.TrapFrame) (uintptr, defs.Err_t) {
		p, err := resolveProc(tp, tf)
		if err != 0 {
			return 0, err
		}
		f, ok := p.Fds.Get(fdArg(tf.Args[0]))
		if !ok {
			return 0, -defs.EBADF
		}
		var iov vm.Useriovec_t
		if ierr := iov.IovInit(p.MSet, tf.Args[1], int(tf.Args[2])); ierr != 0 {
			return 0, ierr
		}
		n, werr := f.Fops.Write(&iov)
		if werr != 0 {
			return 0, normErr(werr)
		}
		return uintptr(n), 0
	}
}

// pread/pwrite read or write at a given offset without disturbing the
// description's own cursor. Neither pipe.End_t nor any other Fdops_i in
// this core keeps a cursor independent of Lseek, so both handlers save
// the current offset, seek to the requested one, transfer, then restore
// it — the same save/seek/restore shape original_source's sys_pread64
// uses around its inode's own seek-based read.
func seekSave(f *fd.Fd_t) (int, defs.Err_t) {
	return f.Fops.Lseek(0, fdops.SEEK_CUR)
}

func seekRestore(f *fd.Fd_t, off int) {
	f.Fops.Lseek(off, fdops.SEEK_SET)
}

// sysPread64 implements pread64(2): Args[0] fd, Args[1] buf, Args[2]
// count, Args[3] offset.
func sysPread64(tp *sched.ThreadPool_t) trap.SyscallFunc {
	return func(tf *trap.TrapFrame) (uintptr, defs.Err_t) {
		p, err := resolveProc(tp, tf)
		if err != 0 {
			return 0, err
		}
		f, ok := p.Fds.Get(fdArg(tf.Args[0]))
		if !ok {
			return 0, -defs.EBADF
		}
		saved, serr := seekSave(f)
		if serr != 0 {
			return 0, normErr(serr)
		}
		if _, serr := f.Fops.Lseek(int(tf.Args[3]), fdops.SEEK_SET); serr != 0 {
			return 0, normErr(serr)
		}
		var ub vm.Userbuf_t
		ub.UbInit(p.MSet, tf.Args[1], int(tf.Args[2]))
		n, rerr := f.Fops.Read(&ub)
		seekRestore(f, saved)
		if rerr != 0 {
			return 0, normErr(rerr)
		}
		return uintptr(n), 0
	}
}

// sysPwrite64 implements pwrite64(2), the write-side twin of sysPread64.
func sysPwrite64(tp *sched.ThreadPool_t) trap.SyscallFunc {
	return func(tf *trap.TrapFrame) (uintptr, defs.Err_t) {
		p, err := resolveProc(tp, tf)
		if err != 0 {
			return 0, err
		}
		f, ok := p.Fds.Get(fdArg(tf.Args[0]))
		if !ok {
			return 0, -defs.EBADF
		}
		saved, serr := seekSave(f)
		if serr != 0 {
			return 0, normErr(serr)
		}
		if _, serr := f.Fops.Lseek(int(tf.Args[3]), fdops.SEEK_SET); serr != 0 {
			return 0, normErr(serr)
		}
		var ub vm.Userbuf_t
		ub.UbInit(p.MSet, tf.Args[1], int(tf.Args[2]))
		n, werr := f.Fops.Write(&ub)
		seekRestore(f, saved)
		if werr != 0 {
			return 0, normErr(werr)
		}
		return uintptr(n), 0
	}
}

// sysClose implements close(2): Args[0] fd.
func sysClose(tp *sched.ThreadPool_t) trap.SyscallFunc {
	return func(tf *trap.TrapFrame) (uintptr, defs.Err_t) {
		p, err := resolveProc(tp, tf)
		if err != 0 {
			return 0, err
		}
		return 0, normErr(p.Fds.Close(fdArg(tf.Args[0])))
	}
}

// sysDup implements dup(2): Args[0] oldfd, duplicated to the lowest free
// descriptor.
func sysDup(tp *sched.ThreadPool_t) trap.SyscallFunc {
	return func(tf *trap.TrapFrame) (uintptr, defs.Err_t) {
		p, err := resolveProc(tp, tf)
		if err != 0 {
			return 0, err
		}
		old, ok := p.Fds.Get(fdArg(tf.Args[0]))
		if !ok {
			return 0, -defs.EBADF
		}
		nf, derr := fd.Copyfd(old)
		if derr != 0 {
			return 0, normErr(derr)
		}
		n, aerr := p.Fds.Add(nf)
		if aerr != 0 {
			nf.Fops.Close()
			return 0, normErr(aerr)
		}
		return uintptr(n), 0
	}
}

// sysDup2 implements dup2(2): Args[0] oldfd, Args[1] newfd.
func sysDup2(tp *sched.ThreadPool_t) trap.SyscallFunc {
	return func(tf *trap.TrapFrame) (uintptr, defs.Err_t) {
		p, err := resolveProc(tp, tf)
		if err != 0 {
			return 0, err
		}
		newfd := fdArg(tf.Args[1])
		if derr := p.Fds.Dup2(fdArg(tf.Args[0]), newfd); derr != 0 {
			return 0, normErr(derr)
		}
		return uintptr(newfd), 0
	}
}

// sysDup3 implements dup3(2): identical to dup2(2) here, since this core
// does not support dup3's O_CLOEXEC-on-the-new-fd flag argument
// (Args[2]) — every duplicate already inherits its source's flags via
// fd.Copyfd.
func sysDup3(tp *sched.ThreadPool_t) trap.SyscallFunc {
	return sysDup2(tp)
}

// sysPipe2 implements pipe2(2): Args[0] points at a 2-int32 array to
// receive {rfd, wfd}. The flags argument (Args[1]) is ignored, the same
// simplification sysDup3 makes for O_CLOEXEC.
func sysPipe2(tp *sched.ThreadPool_t) trap.SyscallFunc {
	return func(tf *trap.TrapFrame) (uintptr, defs.Err_t) {
		p, err := resolveProc(tp, tf)
		if err != 0 {
			return 0, err
		}
		rfd, wfd, perr := p.Pipe2()
		if perr != 0 {
			return 0, normErr(perr)
		}
		buf := make([]byte, 16)
		writeI64(buf, 0, int64(rfd))
		writeI64(buf, 8, int64(wfd))
		if werr := writeUser(p.MSet, tf.Args[0], buf); werr != 0 {
			return 0, werr
		}
		return 0, 0
	}
}

// sysFstat implements fstat(2): Args[0] fd, Args[1] stat buffer.
func sysFstat(tp *sched.ThreadPool_t) trap.SyscallFunc {
	return func(tf *trap.TrapFrame) (uintptr, defs.Err_t) {
		p, err := resolveProc(tp, tf)
		if err != 0 {
			return 0, err
		}
		f, ok := p.Fds.Get(fdArg(tf.Args[0]))
		if !ok {
			return 0, -defs.EBADF
		}
		var st stat.Stat_t
		buf := st.Bytes()
		if serr := f.Fops.Fstat(buf); serr != 0 {
			return 0, normErr(serr)
		}
		if werr := writeUser(p.MSet, tf.Args[1], buf); werr != 0 {
			return 0, werr
		}
		return 0, 0
	}
}

// sysLseek implements lseek(2): Args[0] fd, Args[1] offset, Args[2]
// whence.
func sysLseek(tp *sched.ThreadPool_t) trap.SyscallFunc {
	return func(tf *trap.TrapFrame) (uintptr, defs.Err_t) {
		p, err := resolveProc(tp, tf)
		if err != 0 {
			return 0, err
		}
		f, ok := p.Fds.Get(fdArg(tf.Args[0]))
		if !ok {
			return 0, -defs.EBADF
		}
		off, lerr := f.Fops.Lseek(int(int64(tf.Args[1])), int(tf.Args[2]))
		if lerr != 0 {
			return 0, normErr(lerr)
		}
		return uintptr(off), 0
	}
}
