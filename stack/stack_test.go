package stack

import (
	"encoding/binary"
	"testing"

	"archshim"
	"mem"
	"vm"
)

const stackTop = uintptr(0x7ffff000)

func testMS() *vm.MemorySet {
	arch := archshim.NewSoft(1, 64)
	phys := mem.NewPhysmem(arch, 0, 64)
	ms := vm.NewMemorySet(phys, arch)
	attr := vm.MemoryAttr{User: true, Writable: true}
	lo := stackTop - uintptr(8*mem.PGSIZE)
	if err := ms.Insert(lo, stackTop, attr, &vm.ByFrameHandler{Alloc: phys}); err != 0 {
		panic(err)
	}
	return ms
}

func readWord(ms *vm.MemorySet, va uintptr) uint64 {
	var ub vm.Userbuf_t
	ub.UbInit(ms, va, 8)
	var buf [8]byte
	if _, err := ub.Uioread(buf[:]); err != 0 {
		panic(err)
	}
	return binary.LittleEndian.Uint64(buf[:])
}

func readCStr(ms *vm.MemorySet, va uintptr) string {
	var out []byte
	for {
		var ub vm.Userbuf_t
		ub.UbInit(ms, va, 1)
		var b [1]byte
		if _, err := ub.Uioread(b[:]); err != 0 {
			panic(err)
		}
		if b[0] == 0 {
			break
		}
		out = append(out, b[0])
		va++
	}
	return string(out)
}

func TestBuildInitStackArgcAndArgv(t *testing.T) {
	ms := testMS()
	argv := []string{"prog", "one", "two"}
	envp := map[string]string{"HOME": "/root"}
	auxv := []Auxv{{Type: 6, Value: uintptr(mem.PGSIZE)}}

	sp, err := BuildInitStack(ms, stackTop, argv, envp, auxv)
	if err != 0 {
		t.Fatalf("BuildInitStack: %v", err)
	}

	argc := readWord(ms, sp)
	if argc != uint64(len(argv)) {
		t.Fatalf("argc = %d, want %d", argc, len(argv))
	}

	for i, want := range argv {
		ptr := readWord(ms, sp+8+uintptr(i)*8)
		got := readCStr(ms, uintptr(ptr))
		if got != want {
			t.Fatalf("argv[%d] = %q, want %q", i, got, want)
		}
	}

	argvNullPtr := readWord(ms, sp+8+uintptr(len(argv))*8)
	if argvNullPtr != 0 {
		t.Fatalf("argv array missing NULL terminator, got %#x", argvNullPtr)
	}
}

func TestBuildInitStackEnvEntry(t *testing.T) {
	ms := testMS()
	argv := []string{"prog"}
	envp := map[string]string{"HOME": "/root"}

	sp, err := BuildInitStack(ms, stackTop, argv, envp, nil)
	if err != 0 {
		t.Fatalf("BuildInitStack: %v", err)
	}

	envPtr := readWord(ms, sp+8+uintptr(len(argv))*8+8)
	got := readCStr(ms, uintptr(envPtr))
	if got != "HOME=/root" {
		t.Fatalf("env entry = %q, want HOME=/root", got)
	}
}
