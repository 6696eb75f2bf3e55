package syscalls

import (
	"testing"

	"archshim"
	"defs"
	"ipc"
	"mem"
	"proc"
	"sched"
	"trap"
)

func testEnv(t *testing.T) (*sched.ThreadPool_t, *proc.Process_t, defs.Tid_t) {
	t.Helper()
	arch := archshim.NewSoft(1, 64)
	phys := mem.NewPhysmem(arch, 0, 64)
	tp := sched.NewThreadPool(arch, sched.NewRR(4))
	p, th, err := proc.NewRoot(tp, phys, arch, 4096, func(arg interface{}) {}, nil)
	if err != 0 {
		t.Fatalf("NewRoot: %v", err)
	}
	return tp, p, th.Tid
}

// scratchPage maps one fresh anonymous, writable page in p and returns
// its base address, the way every test below that needs a user-memory
// staging area for in/out syscall arguments gets one.
func scratchPage(t *testing.T, tp *sched.ThreadPool_t, tid defs.Tid_t) uintptr {
	t.Helper()
	tf := &trap.TrapFrame{Tid: tid, Args: [6]uintptr{0, uintptr(mem.PGSIZE), protWrite, 0, uintptr(mapAnonFd), 0}}
	start, err := sysMmap(tp)(tf)
	if err != 0 {
		t.Fatalf("sysMmap scratch: %v", err)
	}
	return start
}

func TestGetpidGetppid(t *testing.T) {
	tp, p, tid := testEnv(t)
	tf := &trap.TrapFrame{Tid: tid}
	ret, err := sysGetpid(tp)(tf)
	if err != 0 {
		t.Fatalf("sysGetpid: %v", err)
	}
	if defs.Pid_t(ret) != p.Getpid() {
		t.Fatalf("sysGetpid = %d, want %d", ret, p.Getpid())
	}
	ret, err = sysGetppid(tp)(tf)
	if err != 0 {
		t.Fatalf("sysGetppid: %v", err)
	}
	if defs.Pid_t(ret) != defs.NoPid {
		t.Fatalf("sysGetppid = %d, want NoPid", ret)
	}
}

func TestResolveProcUnknownTidFails(t *testing.T) {
	tp, _, _ := testEnv(t)
	if _, err := resolveProc(tp, &trap.TrapFrame{Tid: 999}); err != -defs.ESRCH {
		t.Fatalf("resolveProc(unknown) = %v, want -ESRCH", err)
	}
}

func TestBrkGrowsThenReportsSameBreak(t *testing.T) {
	tp, _, tid := testEnv(t)
	tf := &trap.TrapFrame{Tid: tid, Args: [6]uintptr{0}}
	initial, err := sysBrk(tp)(tf)
	if err != 0 {
		t.Fatalf("sysBrk(0): %v", err)
	}

	grown := initial + uintptr(2*mem.PGSIZE)
	tf.Args[0] = grown
	ret, err := sysBrk(tp)(tf)
	if err != 0 {
		t.Fatalf("sysBrk(grow): %v", err)
	}
	if ret != grown {
		t.Fatalf("sysBrk(grow) = %#x, want %#x", ret, grown)
	}

	tf.Args[0] = 0
	ret, err = sysBrk(tp)(tf)
	if err != 0 {
		t.Fatalf("sysBrk(0) after grow: %v", err)
	}
	if ret != grown {
		t.Fatalf("sysBrk(0) after grow = %#x, want %#x", ret, grown)
	}
}

func TestMmapAnonThenMprotectThenMunmap(t *testing.T) {
	tp, p, tid := testEnv(t)
	start := scratchPage(t, tp, tid)

	if werr := writeUser(p.MSet, start, []byte{1, 2, 3, 4}); werr != 0 {
		t.Fatalf("writeUser into freshly mapped region: %v", werr)
	}

	protTf := &trap.TrapFrame{Tid: tid, Args: [6]uintptr{start, uintptr(mem.PGSIZE), 0, 0, 0, 0}}
	if _, perr := sysMprotect(tp)(protTf); perr != 0 {
		t.Fatalf("sysMprotect: %v", perr)
	}

	unmapTf := &trap.TrapFrame{Tid: tid, Args: [6]uintptr{start, uintptr(mem.PGSIZE)}}
	if _, merr := sysMunmap(tp)(unmapTf); merr != 0 {
		t.Fatalf("sysMunmap: %v", merr)
	}
}

func TestMmapRejectsFileBacked(t *testing.T) {
	tp, _, tid := testEnv(t)
	tf := &trap.TrapFrame{Tid: tid, Args: [6]uintptr{0, uintptr(mem.PGSIZE), 0, 0, 3, 0}}
	if _, err := sysMmap(tp)(tf); err != -defs.ENODEV {
		t.Fatalf("sysMmap(fd=3) = %v, want -ENODEV", err)
	}
}

func TestPipe2WriteRead(t *testing.T) {
	tp, p, tid := testEnv(t)
	scratch := scratchPage(t, tp, tid)

	pipeTf := &trap.TrapFrame{Tid: tid, Args: [6]uintptr{scratch}}
	if _, err := sysPipe2(tp)(pipeTf); err != 0 {
		t.Fatalf("sysPipe2: %v", err)
	}
	rfd, rerr := readUserI64(p.MSet, scratch)
	if rerr != 0 {
		t.Fatalf("readUserI64(rfd): %v", rerr)
	}
	wfd, rerr := readUserI64(p.MSet, scratch+8)
	if rerr != 0 {
		t.Fatalf("readUserI64(wfd): %v", rerr)
	}

	msg := []byte("hello")
	if werr := writeUser(p.MSet, scratch+16, msg); werr != 0 {
		t.Fatalf("writeUser message: %v", werr)
	}
	writeTf := &trap.TrapFrame{Tid: tid, Args: [6]uintptr{uintptr(wfd), scratch + 16, uintptr(len(msg))}}
	n, werr := sysWrite(tp)(writeTf)
	if werr != 0 {
		t.Fatalf("sysWrite: %v", werr)
	}
	if int(n) != len(msg) {
		t.Fatalf("sysWrite = %d, want %d", n, len(msg))
	}

	readTf := &trap.TrapFrame{Tid: tid, Args: [6]uintptr{uintptr(rfd), scratch + 64, uintptr(len(msg))}}
	n, rerr2 := sysRead(tp)(readTf)
	if rerr2 != 0 {
		t.Fatalf("sysRead: %v", rerr2)
	}
	if int(n) != len(msg) {
		t.Fatalf("sysRead = %d, want %d", n, len(msg))
	}
	got, rerr3 := readUser(p.MSet, scratch+64, len(msg))
	if rerr3 != 0 {
		t.Fatalf("readUser: %v", rerr3)
	}
	if string(got) != string(msg) {
		t.Fatalf("round trip = %q, want %q", got, msg)
	}

	closeTf := &trap.TrapFrame{Tid: tid, Args: [6]uintptr{uintptr(rfd)}}
	if _, cerr := sysClose(tp)(closeTf); cerr != 0 {
		t.Fatalf("sysClose(rfd): %v", cerr)
	}
	closeTf.Args[0] = uintptr(wfd)
	if _, cerr := sysClose(tp)(closeTf); cerr != 0 {
		t.Fatalf("sysClose(wfd): %v", cerr)
	}
}

func TestCloseUnknownFdReturnsEBADF(t *testing.T) {
	tp, _, tid := testEnv(t)
	tf := &trap.TrapFrame{Tid: tid, Args: [6]uintptr{77}}
	if _, err := sysClose(tp)(tf); err != -defs.EBADF {
		t.Fatalf("sysClose(unknown) = %v, want -EBADF", err)
	}
}

func TestDupSharesUnderlyingDescription(t *testing.T) {
	tp, p, tid := testEnv(t)
	scratch := scratchPage(t, tp, tid)

	pipeTf := &trap.TrapFrame{Tid: tid, Args: [6]uintptr{scratch}}
	if _, err := sysPipe2(tp)(pipeTf); err != 0 {
		t.Fatalf("sysPipe2: %v", err)
	}
	wfd, _ := readUserI64(p.MSet, scratch+8)

	dupTf := &trap.TrapFrame{Tid: tid, Args: [6]uintptr{uintptr(wfd)}}
	dupfd, err := sysDup(tp)(dupTf)
	if err != 0 {
		t.Fatalf("sysDup: %v", err)
	}
	if int64(dupfd) == wfd {
		t.Fatalf("sysDup returned the same fd number %d", dupfd)
	}

	closeTf := &trap.TrapFrame{Tid: tid, Args: [6]uintptr{dupfd}}
	if _, cerr := sysClose(tp)(closeTf); cerr != 0 {
		t.Fatalf("sysClose(dup): %v", cerr)
	}
}

func TestGettimeofdayAndClockGettime(t *testing.T) {
	tp, p, tid := testEnv(t)
	scratch := scratchPage(t, tp, tid)

	tvTf := &trap.TrapFrame{Tid: tid, Args: [6]uintptr{scratch}}
	if _, err := sysGettimeofday(tp)(tvTf); err != 0 {
		t.Fatalf("sysGettimeofday: %v", err)
	}
	sec, rerr := readUserI64(p.MSet, scratch)
	if rerr != 0 {
		t.Fatalf("readUserI64: %v", rerr)
	}
	if sec <= 0 {
		t.Fatalf("gettimeofday sec = %d, want > 0", sec)
	}

	ctTf := &trap.TrapFrame{Tid: tid, Args: [6]uintptr{clockMonotonic, scratch + 32}}
	if _, err := sysClockGettime(tp)(ctTf); err != 0 {
		t.Fatalf("sysClockGettime: %v", err)
	}

	ctTf.Args[0] = 99
	if _, err := sysClockGettime(tp)(ctTf); err != -defs.EINVAL {
		t.Fatalf("sysClockGettime(bad clockid) = %v, want -EINVAL", err)
	}
}

func TestTimesAndGetrusage(t *testing.T) {
	tp, p, tid := testEnv(t)
	p.Acc.Utadd(5000)
	p.Acc.Systadd(3000)

	timesTf := &trap.TrapFrame{Tid: tid}
	clock, err := sysTimes(tp)(timesTf)
	if err != 0 {
		t.Fatalf("sysTimes: %v", err)
	}
	if clock == 0 {
		t.Fatalf("sysTimes clock = 0, want > 0")
	}

	scratch := scratchPage(t, tp, tid)
	ruTf := &trap.TrapFrame{Tid: tid, Args: [6]uintptr{0, scratch}}
	if _, err := sysGetrusage(tp)(ruTf); err != 0 {
		t.Fatalf("sysGetrusage: %v", err)
	}
	usec, rerr := readUserI64(p.MSet, scratch+8)
	if rerr != 0 {
		t.Fatalf("readUserI64: %v", rerr)
	}
	_ = usec
}

func TestFutexWakeWithNoWaiters(t *testing.T) {
	tp, _, tid := testEnv(t)
	scratch := scratchPage(t, tp, tid)

	wakeTf := &trap.TrapFrame{Tid: tid, Args: [6]uintptr{scratch, futexWake, 1}}
	n, err := sysFutex(tp)(wakeTf)
	if err != 0 {
		t.Fatalf("sysFutex(WAKE): %v", err)
	}
	if n != 0 {
		t.Fatalf("sysFutex(WAKE) woke %d, want 0", n)
	}
}

func TestFutexBadOpReturnsEINVAL(t *testing.T) {
	tp, _, tid := testEnv(t)
	scratch := scratchPage(t, tp, tid)
	tf := &trap.TrapFrame{Tid: tid, Args: [6]uintptr{scratch, 99, 0}}
	if _, err := sysFutex(tp)(tf); err != -defs.EINVAL {
		t.Fatalf("sysFutex(bad op) = %v, want -EINVAL", err)
	}
}

func TestSemgetSemopSemctl(t *testing.T) {
	tp, p, tid := testEnv(t)
	scratch := scratchPage(t, tp, tid)

	getTf := &trap.TrapFrame{Tid: tid, Args: [6]uintptr{1234, 2, 0}}
	semid, err := sysSemget(tp)(getTf)
	if err != 0 {
		t.Fatalf("sysSemget: %v", err)
	}

	setTf := &trap.TrapFrame{Tid: tid, Args: [6]uintptr{semid, 0, uintptr(ipc.SemctlSetval), 7}}
	if _, err := sysSemctl(tp)(setTf); err != 0 {
		t.Fatalf("sysSemctl(SETVAL): %v", err)
	}
	getvalTf := &trap.TrapFrame{Tid: tid, Args: [6]uintptr{semid, 0, uintptr(ipc.SemctlGetval), 0}}
	val, err := sysSemctl(tp)(getvalTf)
	if err != 0 {
		t.Fatalf("sysSemctl(GETVAL): %v", err)
	}
	if val != 7 {
		t.Fatalf("sysSemctl(GETVAL) = %d, want 7", val)
	}

	buf := make([]byte, semOpSize)
	writeI64(buf, 0, 0)
	writeI64(buf, 8, -1)
	if werr := writeUser(p.MSet, scratch, buf); werr != 0 {
		t.Fatalf("writeUser ops: %v", werr)
	}
	opTf := &trap.TrapFrame{Tid: tid, Args: [6]uintptr{semid, scratch, 1}}
	if _, err := sysSemop(tp)(opTf); err != 0 {
		t.Fatalf("sysSemop(-1 on val=7): %v", err)
	}
}

func TestSemctlUnknownIDReturnsEINVAL(t *testing.T) {
	tp, _, tid := testEnv(t)
	tf := &trap.TrapFrame{Tid: tid, Args: [6]uintptr{77, 0, uintptr(ipc.SemctlGetval), 0}}
	if _, err := sysSemctl(tp)(tf); err != -defs.EINVAL {
		t.Fatalf("sysSemctl(unknown id) = %v, want -EINVAL", err)
	}
}
