package trap

import (
	"testing"

	"archshim"
	"defs"
	"ipc"
	"mem"
	"sched"
	"vm"
)

// syscallOpcode is the x86-64 `syscall` instruction, 0F 05.
var syscallOpcode = []byte{0x0f, 0x05}

func TestAdvancePastSyscallDecodesRealOpcode(t *testing.T) {
	if n := AdvancePastSyscall(syscallOpcode); n != 2 {
		t.Fatalf("AdvancePastSyscall(syscall) = %d, want 2", n)
	}
}

func TestAdvancePastSyscallFallsBackOnGarbage(t *testing.T) {
	if n := AdvancePastSyscall(nil); n != fallbackSyscallLen {
		t.Fatalf("AdvancePastSyscall(nil) = %d, want fallback %d", n, fallbackSyscallLen)
	}
}

func TestDispatchSyscallRunsRegisteredHandler(t *testing.T) {
	d := NewDispatcher()
	d.RegisterSyscall(42, func(tf *TrapFrame) (uintptr, defs.Err_t) {
		return tf.Args[0] + 1, 0
	})
	tf := &TrapFrame{Sysno: 42, Args: [6]uintptr{6}, PC: 0x1000}
	d.DispatchSyscall(tf, syscallOpcode)
	if tf.Ret != 7 {
		t.Fatalf("Ret = %d, want 7", tf.Ret)
	}
	if tf.PC != 0x1002 {
		t.Fatalf("PC = %#x, want %#x", tf.PC, 0x1002)
	}
}

func TestDispatchSyscallUnknownReturnsENOSYS(t *testing.T) {
	d := NewDispatcher()
	tf := &TrapFrame{Sysno: 999}
	d.DispatchSyscall(tf, syscallOpcode)
	if int64(tf.Ret) != int64(-defs.ENOSYS) {
		t.Fatalf("Ret = %d, want %d", int64(tf.Ret), int64(-defs.ENOSYS))
	}
}

func testMS() *vm.MemorySet {
	arch := archshim.NewSoft(1, 64)
	phys := mem.NewPhysmem(arch, 0, 64)
	ms := vm.NewMemorySet(phys, arch)
	attr := vm.MemoryAttr{User: true, Writable: true}
	if err := ms.Insert(0x1000, 0x2000, attr, &vm.DelayHandler{Alloc: phys}); err != 0 {
		panic(err)
	}
	return ms
}

func TestHandlePageFaultResolvesMappedArea(t *testing.T) {
	ms := testMS()
	sigs := ipc.NewSigQueue()
	tf := &TrapFrame{FaultVA: 0x1000, FaultWr: true, UserMode: true}
	HandlePageFault(ms, tf, sigs)
	if sigs.Any() {
		t.Fatalf("SIGSEGV raised for a resolvable fault")
	}
}

func TestHandlePageFaultRaisesSIGSEGVInUserMode(t *testing.T) {
	ms := testMS()
	sigs := ipc.NewSigQueue()
	tf := &TrapFrame{FaultVA: 0x90000, FaultWr: false, UserMode: true}
	HandlePageFault(ms, tf, sigs)
	if !sigs.Take(ipc.SIGSEGV) {
		t.Fatalf("expected SIGSEGV pending after unresolvable user-mode fault")
	}
}

func TestHandlePageFaultPanicsInKernelMode(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on unresolvable kernel-mode fault")
		}
	}()
	ms := testMS()
	sigs := ipc.NewSigQueue()
	tf := &TrapFrame{FaultVA: 0x90000, FaultWr: false, UserMode: false}
	HandlePageFault(ms, tf, sigs)
}

func TestCheckReadWriteArrayRoundTrip(t *testing.T) {
	ms := testMS()
	if err := CheckReadArray(ms, 0x1000, 64); err != 0 {
		t.Fatalf("CheckReadArray: %v", err)
	}
	if err := CheckWriteArray(ms, 0x1000, 64); err != 0 {
		t.Fatalf("CheckWriteArray: %v", err)
	}
}

func TestCheckReadArrayFaultsOutsideAnyArea(t *testing.T) {
	ms := testMS()
	if err := CheckReadArray(ms, 0x90000, 8); err != -defs.EFAULT {
		t.Fatalf("CheckReadArray outside any area: %v, want EFAULT", err)
	}
}

func TestHandleExternalDelegatesToRegisteredVector(t *testing.T) {
	d := NewDispatcher()
	ran := false
	d.RegisterIRQ(5, func() { ran = true })
	if !d.HandleExternal(5) {
		t.Fatalf("HandleExternal did not find registered vector")
	}
	if !ran {
		t.Fatalf("registered IRQ handler did not run")
	}
	if d.HandleExternal(6) {
		t.Fatalf("HandleExternal reported success for an unregistered vector")
	}
}

func TestHandleTimerForwardsToProcessorTick(t *testing.T) {
	arch := archshim.NewSoft(1, 16)
	tp := sched.NewThreadPool(arch, sched.NewRR(4))
	p := sched.NewProcessor(0, tp, arch)
	if HandleTimer(p) {
		t.Fatalf("HandleTimer reported reschedule due on an idle CPU")
	}
}
