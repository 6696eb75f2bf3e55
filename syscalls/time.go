package syscalls

import (
	"time"

	"defs"
	"sched"
	"trap"
)

// timevalBytes encodes t as a {sec, usec} pair, the same two-word layout
// accnt.Accnt_t.To_rusage uses for its timeval fields.
func timevalBytes(t time.Time) []byte {
	buf := make([]byte, 16)
	writeI64(buf, 0, t.Unix())
	writeI64(buf, 8, int64(t.Nanosecond()/1000))
	return buf
}

// timespecBytes encodes t as a {sec, nsec} pair, matching sysNanosleep's
// own reading of the same layout.
func timespecBytes(t time.Time) []byte {
	buf := make([]byte, 16)
	writeI64(buf, 0, t.Unix())
	writeI64(buf, 8, int64(t.Nanosecond()))
	return buf
}

// sysGettimeofday implements gettimeofday(2): Args[0] receives a
// timeval. The timezone argument real gettimeofday(2) also takes is
// long obsolete and unsupported here, matching original_source's own
// sys_gettimeofday.
func sysGettimeofday(tp *sched.ThreadPool_t) trap.SyscallFunc {
	return func(tf *trap.TrapFrame) (uintptr, defs.Err_t) {
		p, err := resolveProc(tp, tf)
		if err != 0 {
			return 0, err
		}
		return 0, writeUser(p.MSet, tf.Args[0], timevalBytes(time.Now()))
	}
}

// clockid values this core recognizes for clock_gettime(2). Both alias
// the same wall-clock reading, since this core keeps no separate
// monotonic source distinct from time.Now().
const (
	clockRealtime  = 0
	clockMonotonic = 1
)

// sysClockGettime implements clock_gettime(2): Args[0] clockid, Args[1]
// timespec out-pointer.
func sysClockGettime(tp *sched.ThreadPool_t) trap.SyscallFunc {
	return func(tf *trap.TrapFrame) (uintptr, defs.Err_t) {
		p, err := resolveProc(tp, tf)
		if err != 0 {
			return 0, err
		}
		switch int(tf.Args[0]) {
		case clockRealtime, clockMonotonic:
		default:
			return 0, -defs.EINVAL
		}
		return 0, writeUser(p.MSet, tf.Args[1], timespecBytes(time.Now()))
	}
}

// ticksPerSec is the unit times(2) reports in, the usual sysconf
// CLOCKS_PER_SEC value on Linux.
const ticksPerSec = 100

func nsToTicks(ns int64) int64 {
	return ns * ticksPerSec / int64(time.Second)
}

// sysTimes implements times(2): Args[0] receives {utime, stime, cutime,
// cstime} in clock ticks. cutime/cstime (children's accumulated time)
// are always 0 — proc.Process_t.Wait4 reaps a zombie's pid and exit code
// but never copies its accounting into the parent, so there is nothing
// to report there.
func sysTimes(tp *sched.ThreadPool_t) trap.SyscallFunc {
	return func(tf *trap.TrapFrame) (uintptr, defs.Err_t) {
		p, err := resolveProc(tp, tf)
		if err != 0 {
			return 0, err
		}
		p.Acc.Lock()
		ut := p.Acc.Userns
		st := p.Acc.Sysns
		p.Acc.Unlock()
		buf := make([]byte, 32)
		writeI64(buf, 0, nsToTicks(ut))
		writeI64(buf, 8, nsToTicks(st))
		writeI64(buf, 16, 0)
		writeI64(buf, 24, 0)
		if tf.Args[0] != 0 {
			if werr := writeUser(p.MSet, tf.Args[0], buf); werr != 0 {
				return 0, werr
			}
		}
		return uintptr(nsToTicks(time.Now().UnixNano())), 0
	}
}

// sysGetrusage implements getrusage(2): Args[0] who (ignored — this core
// tracks no separate children's accounting to distinguish RUSAGE_SELF
// from RUSAGE_CHILDREN, per sysTimes' note above), Args[1] rusage
// out-buffer.
func sysGetrusage(tp *sched.ThreadPool_t) trap.SyscallFunc {
	return func(tf *trap.TrapFrame) (uintptr, defs.Err_t) {
		p, err := resolveProc(tp, tf)
		if err != 0 {
			return 0, err
		}
		return 0, writeUser(p.MSet, tf.Args[1], p.Acc.Fetch())
	}
}
