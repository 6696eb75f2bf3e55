// Package elfload builds a fresh process address space from an ELF
// executable image: mapping its PT_LOAD segments into a vm.MemorySet
// and reporting the entry point and program-header location a startup
// routine's auxiliary vector needs. kernel/chentry.go's build-time
// entry-point patcher (in this tree's reference sources) parses ELF
// files with debug/elf and encoding/binary the same way, though for a
// different job (patching an entry point, not loading segments);
// elfload reuses that parsing idiom for the real loader. The auxv
// fields it reports (AT_PHDR/AT_PHENT/AT_PHNUM/AT_PAGESZ) match
// rcore-os/rCore's ProcInitInfo; the stack-writer half of that layout
// lives in the stack package, which takes an Image_t from here as
// input.
package elfload

import (
	"bytes"
	"debug/elf"
	"sort"

	"defs"
	"mem"
	"vm"
)

// Auxiliary vector type tags, matching the ELF ABI's AT_* constants
// original_source's abi.rs also writes.
const (
	AT_NULL   = 0
	AT_PHDR   = 3
	AT_PHENT  = 4
	AT_PHNUM  = 5
	AT_PAGESZ = 6
	AT_ENTRY  = 9
)

// ehdrSize is sizeof(Elf64_Ehdr): the portion of the file every PT_LOAD
// segment's file range is checked against to locate the mapped program
// header table.
const ehdrSize = 64

// phdrEntSize is sizeof(Elf64_Phdr), the only width this core's 64-bit
// target supports.
const phdrEntSize = 56

/// Image_t describes a loaded executable: its entry point and the
/// program-header location/shape a libc startup routine's auxiliary
/// vector reports.
type Image_t struct {
	Entry     uintptr
	Phdr      uintptr // 0 if no mapped segment carries the header table
	Phentsize int
	Phnum     int
}

func pageAlign(v uintptr) uintptr {
	return v &^ (uintptr(mem.PGSIZE) - 1)
}

func pageRoundUp(v uintptr) uintptr {
	return pageAlign(v + uintptr(mem.PGSIZE) - 1)
}

// imageBacking serves a page fault's read directly out of the in-memory
// ELF image, at the image's own absolute byte offsets — the same
// offsets prog.Off already uses, so a FileHandler for a PT_LOAD segment
// can share one backing across the whole file rather than needing a
// private copy per segment.
type imageBacking []byte

func (b imageBacking) ReadAt(buf []byte, offset int) (int, defs.Err_t) {
	if offset >= len(b) {
		return 0, 0
	}
	n := copy(buf, b[offset:])
	return n, 0
}

/// Load parses image as an ELF executable and maps every PT_LOAD
/// segment into ms via a FileHandler backed by image itself: Map
/// installs not-present entries only, so the first instruction fetch or
/// data access into a segment is what actually allocates its frame and
/// reads the segment's bytes (memsz beyond filesz reads as zero, the
/// usual .bss tail).
func Load(ms *vm.MemorySet, alloc mem.Page_i, image []byte) (*Image_t, defs.Err_t) {
	ef, err := elf.NewFile(bytes.NewReader(image))
	if err != nil {
		return nil, -defs.EINVAL
	}
	if ef.Type != elf.ET_EXEC && ef.Type != elf.ET_DYN {
		return nil, -defs.EINVAL
	}

	backing := imageBacking(image)
	for _, prog := range ef.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		lo := pageAlign(uintptr(prog.Vaddr))
		hi := pageRoundUp(uintptr(prog.Vaddr + prog.Memsz))
		pageOff := uintptr(prog.Vaddr) - lo
		attr := vm.MemoryAttr{
			User:       true,
			Writable:   prog.Flags&elf.PF_W != 0,
			Executable: prog.Flags&elf.PF_X != 0,
		}
		h := &vm.FileHandler{
			Alloc:     alloc,
			Backing:   backing,
			MemStart:  lo,
			FileStart: int(prog.Off) - int(pageOff),
			FileEnd:   int(prog.Off + prog.Filesz),
		}
		if ierr := ms.Insert(lo, hi, attr, h); ierr != 0 {
			return nil, ierr
		}
	}

	return &Image_t{
		Entry:     uintptr(ef.Entry),
		Phdr:      phdrVaFor(ef),
		Phentsize: phdrEntSize,
		Phnum:     len(ef.Progs),
	}, 0
}

// phdrVaFor locates the program header table's runtime virtual address:
// the PT_LOAD segment whose file range contains the ELF header (and
// thus the header table immediately following it), offset by however
// far into that segment the table starts. Most static executables map
// their own phdrs this way; a stripped or synthetic image that doesn't
// yields 0, and a caller should then omit AT_PHDR from the auxv.
func phdrVaFor(ef *elf.File) uintptr {
	loads := make([]*elf.Prog, 0, len(ef.Progs))
	for _, p := range ef.Progs {
		if p.Type == elf.PT_LOAD {
			loads = append(loads, p)
		}
	}
	sort.Slice(loads, func(i, j int) bool { return loads[i].Off < loads[j].Off })
	for _, p := range loads {
		if p.Off <= ehdrSize && ehdrSize < p.Off+p.Filesz {
			return uintptr(p.Vaddr) + (ehdrSize - uintptr(p.Off))
		}
	}
	return 0
}
