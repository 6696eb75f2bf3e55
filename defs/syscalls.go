package defs

/// Sysno_t numbers entries in the canonical, platform-portable syscall
/// table. Per-architecture syscall-entry shims are responsible for
/// renumbering a platform's raw ABI number into one of
/// these before calling into the portable dispatcher; this core never
/// sees a platform-specific number.
type Sysno_t int

const (
	SysFork Sysno_t = iota + 1
	SysClone
	SysExec
	SysWait4
	SysExit
	SysExitGroup
	SysGetpid
	SysGetppid
	SysKill
	SysSetPriority

	SysSchedYield
	SysNanosleep
	SysFutex

	SysBrk
	SysMmap
	SysMunmap
	SysMprotect

	SysRead
	SysWrite
	SysReadv
	SysWritev
	SysPread64
	SysPwrite64
	SysOpen
	SysClose
	SysDup
	SysDup2
	SysDup3
	SysPipe2
	SysIoctl
	SysFcntl
	SysFstat
	SysLseek
	SysGetdents64

	SysGettimeofday
	SysClockGettime
	SysTimes
	SysGetrusage

	SysSemget
	SysSemop
	SysSemctl
)

/// Sysnames gives every syscall number a short name for diagnostics and
/// panic messages.
var Sysnames = map[Sysno_t]string{
	SysFork: "fork", SysClone: "clone", SysExec: "exec", SysWait4: "wait4",
	SysExit: "exit", SysExitGroup: "exit_group", SysGetpid: "getpid",
	SysGetppid: "getppid", SysKill: "kill", SysSetPriority: "set_priority",
	SysSchedYield: "sched_yield", SysNanosleep: "nanosleep",
	SysFutex: "futex", SysBrk: "brk", SysMmap: "mmap", SysMunmap: "munmap",
	SysMprotect: "mprotect", SysRead: "read", SysWrite: "write",
	SysReadv: "readv", SysWritev: "writev", SysPread64: "pread64",
	SysPwrite64: "pwrite64", SysOpen: "open", SysClose: "close",
	SysDup: "dup", SysDup2: "dup2", SysDup3: "dup3", SysPipe2: "pipe2",
	SysIoctl: "ioctl", SysFcntl: "fcntl", SysFstat: "fstat",
	SysLseek: "lseek", SysGetdents64: "getdents64",
	SysGettimeofday: "gettimeofday", SysClockGettime: "clock_gettime",
	SysTimes: "times", SysGetrusage: "getrusage", SysSemget: "semget",
	SysSemop: "semop", SysSemctl: "semctl",
}
