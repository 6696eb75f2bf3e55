// Package stack writes the initial argv/envp/auxv layout a freshly
// loaded executable's entry point expects to find at the stack pointer
// on first execution. Grounded on original_source's (rcore-os/rCore)
// kernel/src/process/abi.rs ProcInitInfo::push_at and its StackWriter:
// every string and pointer array below is pushed downward from a stack
// top exactly the way push_str/push_slice there do, so the resulting
// layout matches what a libc startup routine (_start/__libc_start_main)
// reads off %rsp.
package stack

import (
	"encoding/binary"
	"sort"

	"defs"
	"vm"
)

// Writer_t lays out bytes from a stack's high address downward, the way
// abi.rs's StackWriter does; each push lowers sp and returns the
// address the just-written data now starts at.
type Writer_t struct {
	ms *vm.MemorySet
	sp uintptr
}

/// NewWriter starts a Writer_t at top, the stack's initial (unwritten)
/// high address.
func NewWriter(ms *vm.MemorySet, top uintptr) *Writer_t {
	return &Writer_t{ms: ms, sp: top}
}

/// Sp reports the current stack pointer, after whatever has been pushed
/// so far.
func (w *Writer_t) Sp() uintptr { return w.sp }

func (w *Writer_t) pushRaw(b []byte) (uintptr, defs.Err_t) {
	w.sp -= uintptr(len(b))
	var ub vm.Userbuf_t
	ub.UbInit(w.ms, w.sp, len(b))
	n, err := ub.Uiowrite(b)
	if err != 0 {
		return 0, err
	}
	if n != len(b) {
		return 0, -defs.EFAULT
	}
	return w.sp, 0
}

// PushStr pushes s's bytes followed (at the higher address) by a NUL
// terminator, the way push_str's own NUL-then-bytes push order leaves
// an ordinary C string in ascending memory. Returns the string's start
// address.
func (w *Writer_t) PushStr(s string) (uintptr, defs.Err_t) {
	if _, err := w.pushRaw([]byte{0}); err != 0 {
		return 0, err
	}
	return w.pushRaw([]byte(s))
}

// PushKV pushes a NUL-terminated "key=value" string, built the same
// push-order abi.rs uses for an environment entry (NUL, then value,
// then "=", then key), so ascending memory reads key=value\0.
func (w *Writer_t) PushKV(key, value string) (uintptr, defs.Err_t) {
	if _, err := w.pushRaw([]byte{0}); err != 0 {
		return 0, err
	}
	if _, err := w.pushRaw([]byte(value)); err != 0 {
		return 0, err
	}
	if _, err := w.pushRaw([]byte{'='}); err != 0 {
		return 0, err
	}
	return w.pushRaw([]byte(key))
}

// pushWords pushes words as one contiguous little-endian uint64 array,
// preserving order (words[0] ends up at the lowest address of the
// block), then aligns sp down to an 8-byte boundary the way abi.rs's
// push_slice<usize> does after every array push.
func (w *Writer_t) pushWords(words []uint64) (uintptr, defs.Err_t) {
	buf := make([]byte, 8*len(words))
	for i, v := range words {
		binary.LittleEndian.PutUint64(buf[i*8:], v)
	}
	addr, err := w.pushRaw(buf)
	if err != 0 {
		return 0, err
	}
	w.sp &^= 7
	return addr, 0
}

// Auxv is a single (type, value) auxiliary vector entry.
type Auxv struct {
	Type  int
	Value uintptr
}

// BuildInitStack writes argv, envp (as a sorted-by-key "key=value" set,
// for a deterministic layout) and auxv below top, in the order
// push_at's own fields are pushed: a program-name copy, then envp
// strings, then argv strings, then the auxv array (AT_NULL-terminated),
// then the envp pointer array (NULL-terminated), then the argv pointer
// array (NULL-terminated), then argc. Returns the final stack pointer a
// thread's entry context should start with.
func BuildInitStack(ms *vm.MemorySet, top uintptr, argv []string, envp map[string]string, auxv []Auxv) (uintptr, defs.Err_t) {
	w := NewWriter(ms, top)

	if len(argv) > 0 {
		if _, err := w.PushStr(argv[0]); err != 0 {
			return 0, err
		}
	}

	envKeys := make([]string, 0, len(envp))
	for k := range envp {
		envKeys = append(envKeys, k)
	}
	sort.Strings(envKeys)
	envPtrs := make([]uint64, 0, len(envKeys))
	for _, k := range envKeys {
		addr, err := w.PushKV(k, envp[k])
		if err != 0 {
			return 0, err
		}
		envPtrs = append(envPtrs, uint64(addr))
	}

	argvPtrs := make([]uint64, 0, len(argv))
	for _, a := range argv {
		addr, err := w.PushStr(a)
		if err != 0 {
			return 0, err
		}
		argvPtrs = append(argvPtrs, uint64(addr))
	}

	// AT_NULL terminator pushed first so it lands at the auxv region's
	// highest address, i.e. last when the array is scanned forward from
	// its base.
	if _, err := w.pushWords([]uint64{0, 0}); err != 0 {
		return 0, err
	}
	for _, a := range auxv {
		if _, err := w.pushWords([]uint64{uint64(a.Type), uint64(a.Value)}); err != 0 {
			return 0, err
		}
	}

	if _, err := w.pushWords([]uint64{0}); err != 0 {
		return 0, err
	}
	if len(envPtrs) > 0 {
		if _, err := w.pushWords(envPtrs); err != 0 {
			return 0, err
		}
	}

	if _, err := w.pushWords([]uint64{0}); err != 0 {
		return 0, err
	}
	if len(argvPtrs) > 0 {
		if _, err := w.pushWords(argvPtrs); err != 0 {
			return 0, err
		}
	}

	if _, err := w.pushWords([]uint64{uint64(len(argv))}); err != 0 {
		return 0, err
	}

	return w.sp, 0
}
