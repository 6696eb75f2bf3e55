package proc

import (
	"encoding/binary"
	"testing"
	"time"

	"archshim"
	"defs"
	"fd"
	"mem"
	"sched"
	"vm"
)

const (
	testElfVaddr   = uintptr(0x20000)
	testEhdrSize   = 64
	testPhdrSize   = 56
)

// buildMinimalELF assembles a one-segment ELF64 executable covering its
// own header and program-header table, the same synthetic layout
// elfload's own tests build.
func buildMinimalELF(code []byte) []byte {
	phoff := uint64(testEhdrSize)
	codeOff := phoff + testPhdrSize
	filesz := codeOff + uint64(len(code))
	entry := testElfVaddr + uintptr(codeOff)

	buf := make([]byte, filesz)
	buf[0], buf[1], buf[2], buf[3] = 0x7f, 'E', 'L', 'F'
	buf[4], buf[5], buf[6] = 2, 1, 1
	binary.LittleEndian.PutUint16(buf[16:], 2)
	binary.LittleEndian.PutUint16(buf[18:], 62)
	binary.LittleEndian.PutUint32(buf[20:], 1)
	binary.LittleEndian.PutUint64(buf[24:], uint64(entry))
	binary.LittleEndian.PutUint64(buf[32:], phoff)
	binary.LittleEndian.PutUint16(buf[52:], testEhdrSize)
	binary.LittleEndian.PutUint16(buf[54:], testPhdrSize)
	binary.LittleEndian.PutUint16(buf[56:], 1)

	p := buf[phoff:]
	binary.LittleEndian.PutUint32(p[0:], 1)
	binary.LittleEndian.PutUint32(p[4:], 5)
	binary.LittleEndian.PutUint64(p[8:], 0)
	binary.LittleEndian.PutUint64(p[16:], uint64(testElfVaddr))
	binary.LittleEndian.PutUint64(p[24:], uint64(testElfVaddr))
	binary.LittleEndian.PutUint64(p[32:], filesz)
	binary.LittleEndian.PutUint64(p[40:], filesz)
	binary.LittleEndian.PutUint64(p[48:], uint64(mem.PGSIZE))

	copy(buf[codeOff:], code)
	return buf
}

func testEnv(ncpu, nframe int) (*sched.ThreadPool_t, *mem.Physmem_t, archshim.ArchOps) {
	arch := archshim.NewSoft(ncpu, nframe)
	phys := mem.NewPhysmem(arch, 0, nframe)
	tp := sched.NewThreadPool(arch, sched.NewRR(4))
	return tp, phys, arch
}

// TestForkWait4ReportsExitCode runs a root process that forks a child,
// waits for it, and expects the child's exit code back (the canonical
// fork then immediate exit then wait4 yielding the same code).
func TestForkWait4ReportsExitCode(t *testing.T) {
	tp, phys, arch := testEnv(2, 64)
	p0 := sched.NewProcessor(0, tp, arch)
	p1 := sched.NewProcessor(1, tp, arch)
	stop := make(chan struct{})
	go p0.Run(stop)
	go p1.Run(stop)
	defer close(stop)

	var root *Process_t
	var rootTh *sched.Thread_t
	waited := make(chan [2]int, 1)
	// The new threads may start before NewRoot/Fork return, so each one
	// waits until the process it works on has been handed over.
	started := make(chan struct{})
	childCh := make(chan *Process_t, 1)

	root, rootTh, err := NewRoot(tp, phys, arch, 4096, func(arg interface{}) {
		<-started
		child, childTh, err := root.Fork(4096, func(arg interface{}) {
			child := <-arg.(chan *Process_t)
			child.ExitGroup(5)
		}, childCh)
		if err != 0 {
			t.Errorf("Fork: %v", err)
			waited <- [2]int{-1, -1}
			return
		}
		childCh <- child
		_ = childTh
		pid, code, werr := root.Wait4(rootTh.Tid, child.pid)
		if werr != 0 {
			t.Errorf("Wait4: %v", werr)
		}
		waited <- [2]int{int(pid), code}
		root.ExitGroup(0)
	}, nil)
	if err != 0 {
		t.Fatalf("NewRoot: %v", err)
	}
	close(started)

	select {
	case got := <-waited:
		if got[1] != 5 {
			t.Fatalf("Wait4 exit code = %d, want 5", got[1])
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Wait4 never returned")
	}
}

func TestGetpidGetppid(t *testing.T) {
	tp, phys, arch := testEnv(1, 16)
	root, _, err := NewRoot(tp, phys, arch, 4096, func(arg interface{}) {}, nil)
	if err != 0 {
		t.Fatalf("NewRoot: %v", err)
	}
	if root.Getppid() != defs.NoPid {
		t.Fatalf("root Getppid() = %v, want NoPid", root.Getppid())
	}

	child, _, err := root.Fork(4096, func(arg interface{}) {}, nil)
	if err != 0 {
		t.Fatalf("Fork: %v", err)
	}
	if child.Getppid() != root.Getpid() {
		t.Fatalf("child Getppid() = %v, want %v", child.Getppid(), root.Getpid())
	}
}

func TestFdTableAddReturnsLowestFreeFd(t *testing.T) {
	ft := NewFdTable()
	n, err := ft.Add(&fd.Fd_t{})
	if err != 0 {
		t.Fatalf("Add: %v", err)
	}
	if n != 0 {
		t.Fatalf("first Add returned fd %d, want 0", n)
	}
	_, ok := ft.Get(0)
	if !ok {
		t.Fatalf("Get(0) after Add reported absent")
	}
}

func TestMemorySetForkSeparatesAddressSpaces(t *testing.T) {
	arch := archshim.NewSoft(1, 64)
	phys := mem.NewPhysmem(arch, 0, 64)
	ms := vm.NewMemorySet(phys, arch)
	attr := vm.MemoryAttr{User: true, Writable: true}
	if err := ms.Insert(0x1000, 0x2000, attr, &vm.DelayHandler{Alloc: phys}); err != 0 {
		t.Fatalf("Insert: %v", err)
	}
	child, err := ms.Fork()
	if err != 0 {
		t.Fatalf("Fork: %v", err)
	}
	if _, ok := child.Find(0x1000); !ok {
		t.Fatalf("forked MemorySet lost the parent's area")
	}
}

func TestExecReplacesAddressSpaceAndReportsEntry(t *testing.T) {
	tp, phys, arch := testEnv(1, 64)
	root, _, err := NewRoot(tp, phys, arch, 4096, func(arg interface{}) {}, nil)
	if err != 0 {
		t.Fatalf("NewRoot: %v", err)
	}
	oldMSet := root.MSet

	image := buildMinimalELF([]byte{0x90, 0x90})
	wantEntry := testElfVaddr + testEhdrSize + testPhdrSize

	img, sp, eerr := root.Exec(image, []string{"prog", "arg1"}, map[string]string{"HOME": "/root"})
	if eerr != 0 {
		t.Fatalf("Exec: %v", eerr)
	}
	if img.Entry != wantEntry {
		t.Fatalf("Entry = %#x, want %#x", img.Entry, wantEntry)
	}
	if sp == 0 || sp >= execStackTop {
		t.Fatalf("stack pointer %#x not below execStackTop %#x", sp, execStackTop)
	}
	if root.MSet == oldMSet {
		t.Fatalf("Exec did not replace MSet")
	}
	if _, ok := root.MSet.Find(wantEntry); !ok {
		t.Fatalf("new MSet has no mapping at the reported entry point")
	}
}

func TestPipe2InstallsBothEndsReadably(t *testing.T) {
	tp, phys, arch := testEnv(1, 16)
	root, _, err := NewRoot(tp, phys, arch, 4096, func(arg interface{}) {}, nil)
	if err != 0 {
		t.Fatalf("NewRoot: %v", err)
	}
	rfd, wfd, perr := root.Pipe2()
	if perr != 0 {
		t.Fatalf("Pipe2: %v", perr)
	}
	if rfd == wfd {
		t.Fatalf("Pipe2 returned identical fds: %d, %d", rfd, wfd)
	}
	if _, ok := root.Fds.Get(rfd); !ok {
		t.Fatalf("read end not installed at fd %d", rfd)
	}
	if _, ok := root.Fds.Get(wfd); !ok {
		t.Fatalf("write end not installed at fd %d", wfd)
	}
}
