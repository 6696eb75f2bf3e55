// Package extiface declares the interfaces this kernel core consumes
// from collaborators outside its scope: block device drivers, a serial
// line, a timer, an interrupt controller, and VFS inodes. The core never
// imports a concrete driver; every boot target supplies its own
// implementation of these interfaces and hands it to smp/trap at
// bring-up. extiface itself has no behavior, only contracts.
package extiface

import (
	"defs"
	"time"
)

/// BlockDevice is consumed by the File-backed MemoryHandler and by any
/// external VFS built on top of this core.
type BlockDevice interface {
	ReadAt(offset int64, buf []uint8) (int, defs.Err_t)
	WriteAt(offset int64, buf []uint8) (int, defs.Err_t)
	Sync() defs.Err_t
}

/// Serial is the console line consumed by the boot-time diagnostic path.
type Serial interface {
	Read() (uint8, bool)
	Write(buf []uint8)
	TryRead() (uint8, bool)
}

/// Timer abstracts the per-CPU clock-and-tick source driving EventHub
/// expiry and preemption.
type Timer interface {
	CurrentTime() time.Duration
	TickIn(us uint32)
	IsPending() bool
	SetNext()
}

/// IRQManager lets trap register handlers for driver-owned interrupt
/// lines and dispatch an incoming IRQ to its registered handler.
type IRQManager interface {
	RegisterIRQ(irq int, handler func())
	TryHandleInterrupt(irq int) bool
}

/// DirEnt_t is one directory-iteration result from an INode.
type DirEnt_t struct {
	Name  string
	Ino   uint64
	IsDir bool
}

/// INode is the VFS contract the File-backed MemoryHandler and regular
/// open files are built on. The core only ever calls ReadAt on behalf of
/// a memory-mapped file; the remaining methods exist so a full VFS
/// layered on top of this core, and the open/getdents64 syscalls, have a
/// single inode abstraction to target.
type INode interface {
	ReadAt(offset int64, buf []uint8) (int, defs.Err_t)
	WriteAt(offset int64, buf []uint8) (int, defs.Err_t)
	Metadata() (size int64, mode uint32, err defs.Err_t)
	Poll(events int) (ready int, err defs.Err_t)
	Lookup(name string) (INode, defs.Err_t)
	Create(name string, mode uint32) (INode, defs.Err_t)
	Unlink(name string) defs.Err_t
	Readdir(cookie int64) ([]DirEnt_t, int64, defs.Err_t)
}
