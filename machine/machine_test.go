package machine_test

import (
	"testing"

	"github.com/EDI-Systems/M7M01-Eukaron-sub003/a7m"
	"github.com/EDI-Systems/M7M01-Eukaron-sub003/kernel"
	"github.com/EDI-Systems/M7M01-Eukaron-sub003/machine"
)

func newMachine(t *testing.T) *machine.Machine {
	t.Helper()

	m, err := machine.New(machine.Config{
		MemBase: 0x20000000,
		MemSize: 1 << 20,
		HypSize: 1 << 12,
	})
	if err != nil {
		t.Fatal(err)
	}

	return m
}

func call(t *testing.T, m *machine.Machine, name string, svc, capid, p0, p1, p2 kernel.Ptr) kernel.Ret {
	t.Helper()

	r, err := m.Syscall(0, svc, capid, p0, p1, p2)
	if err != nil {
		t.Fatal(err)
	}

	return r
}

func mustCall(t *testing.T, m *machine.Machine, name string, svc, capid, p0, p1, p2 kernel.Ptr) {
	t.Helper()

	if r := call(t, m, name, svc, capid, p0, p1, p2); r < 0 {
		t.Fatalf("%s: %v", name, kernel.Errno(r))
	}
}

// makeThread creates a thread under the boot process, binds it on the boot
// scheduler and sets its entry. It does not transfer any time.
func makeThread(t *testing.T, m *machine.Machine, slot kernel.Cid, raddr kernel.Ptr, tid kernel.Tid, prio kernel.Ptr) {
	t.Helper()

	mustCall(t, m, "thd-crt", kernel.SvcThdCrt, kernel.Ptr(machine.BootCpt),
		kernel.ParamD(kernel.Ptr(machine.BootKom), kernel.Ptr(slot)),
		kernel.ParamD(kernel.Ptr(machine.BootPrc), 16), raddr)
	mustCall(t, m, "thd-bind", kernel.SvcThdSchedBind, kernel.Ptr(slot),
		kernel.ParamD(kernel.Ptr(machine.BootThd), kernel.SigNone), kernel.Ptr(tid), prio)
	mustCall(t, m, "thd-exec", kernel.SvcThdExecSet, kernel.Ptr(slot),
		0x08000000, 0x20040000, 0)
}

func thd(t *testing.T, m *machine.Machine, slot kernel.Cid) *kernel.Thd {
	t.Helper()

	s, r := m.Kernel.CapGet(m.CT, slot, kernel.CapThd)
	if r != 0 {
		t.Fatalf("thd lookup: %v", kernel.Errno(r))
	}

	return s.Thd()
}

func sig(t *testing.T, m *machine.Machine, slot kernel.Cid) *kernel.Sig {
	t.Helper()

	s, r := m.Kernel.CapGet(m.CT, slot, kernel.CapSig)
	if r != 0 {
		t.Fatalf("sig lookup: %v", kernel.Errno(r))
	}

	return s.Sig()
}

// TestBootstrap is the canonical cold-start: from an empty pool, a root
// capability table, a kernel memory capability, an identity-mapped top-level
// page table, a process, and a bound thread that becomes the highest
// priority thread on the CPU.
func TestBootstrap(t *testing.T) {
	m := newMachine(t)

	const (
		capCpt kernel.Cid = 8
		capPgt kernel.Cid = 9
		capPrc kernel.Cid = 10
		capThd kernel.Cid = 11
	)

	mustCall(t, m, "cpt-crt", kernel.SvcCptCrt, kernel.Ptr(machine.BootCpt),
		kernel.ParamD(kernel.Ptr(machine.BootKom), kernel.Ptr(capCpt)), 0, 8)

	// A top-level table with (size_order=29, num_order=3) at base zero.
	mustCall(t, m, "pgt-crt", kernel.SvcPgtCrt|3<<6, kernel.Ptr(machine.BootCpt),
		kernel.ParamD(kernel.Ptr(machine.BootKom), kernel.ParamQ(kernel.Ptr(capPgt), 29)),
		0x400, kernel.PgtTop)

	// Identity-map four 512 MiB slots with all permissions, delegated from
	// the boot table.
	for pos := kernel.Ptr(0); pos < 4; pos++ {
		mustCall(t, m, "pgt-add", kernel.SvcPgtAdd, kernel.PgtAllPerm,
			kernel.ParamD(kernel.Ptr(capPgt), pos),
			kernel.ParamD(kernel.Ptr(machine.BootPgt), pos), 0)
	}

	mustCall(t, m, "prc-crt", kernel.SvcPrcCrt, kernel.Ptr(machine.BootCpt),
		kernel.ParamD(kernel.Ptr(machine.BootKom), kernel.Ptr(capPrc)),
		kernel.ParamD(kernel.Ptr(capCpt), kernel.Ptr(capPgt)), 0x600)

	mustCall(t, m, "thd-crt", kernel.SvcThdCrt, kernel.Ptr(machine.BootCpt),
		kernel.ParamD(kernel.Ptr(machine.BootKom), kernel.Ptr(capThd)),
		kernel.ParamD(kernel.Ptr(capPrc), 8), 0x800)
	mustCall(t, m, "thd-bind", kernel.SvcThdSchedBind, kernel.Ptr(capThd),
		kernel.ParamD(kernel.Ptr(machine.BootThd), kernel.SigNone), 42, 1)
	mustCall(t, m, "thd-exec", kernel.SvcThdExecSet, kernel.Ptr(capThd),
		0x08000100, 0x20040000, 0x1234)

	// Hand it time; it preempts the boot thread immediately.
	mustCall(t, m, "time-xfer", kernel.SvcThdTimeXfer, 0,
		kernel.Ptr(capThd), kernel.Ptr(machine.BootThd), 100)

	if got := m.CurTID(0); got != 42 {
		t.Fatalf("current TID = %d, want 42", got)
	}

	// First entry to user mode executes at the initialized entry, Thumb bit
	// set.
	if got := m.Reg[0].R4; got != 0x08000100|1 {
		t.Errorf("entry register = %#x, want %#x", got, 0x08000100|1)
	}
}

// TestDelegation is the flag-narrowing scenario through the ABI: a KOM
// capability narrowed in range and kinds, with re-widening refused. The
// object-kind bitmask rides in the otherwise unused capability id field of
// the add call.
func TestDelegation(t *testing.T) {
	m := newMachine(t)

	const capNarrow kernel.Ptr = 8

	mustCall(t, m, "cpt-add", kernel.SvcCptAdd, kernel.KomFlagThd,
		kernel.ParamD(kernel.Ptr(machine.BootCpt), capNarrow),
		kernel.ParamD(kernel.Ptr(machine.BootCpt), kernel.Ptr(machine.BootKom)),
		kernel.KomFlag(0x10000, 0x20000))

	src, r := m.Kernel.CapGet(m.CT, machine.BootKom, kernel.CapKom)
	if r != 0 {
		t.Fatal(r)
	}
	// The boot KOM capability is born with one reference, so the delegation
	// brings it to two.
	if src.Ref() != 2 {
		t.Errorf("source refcount = %d, want 2", src.Ref())
	}

	dst, r := m.Kernel.CapGet(m.CT, kernel.Cid(capNarrow), kernel.CapKom)
	if r != 0 {
		t.Fatal(r)
	}
	if dst.Flags != kernel.KomFlagThd {
		t.Errorf("narrowed flags = %#x, want THD", dst.Flags)
	}
	wantLow := m.KmemBase() + 0x10000
	if dst.RangeLow != wantLow || dst.RangeHigh != wantLow+0x10000-1 {
		t.Errorf("narrowed range = [%#x, %#x]", dst.RangeLow, dst.RangeHigh)
	}

	// Re-delegating with a wider kind set (THD and SIG) from the narrowed
	// capability is refused.
	if got := call(t, m, "cpt-add-widen", kernel.SvcCptAdd, kernel.KomFlagThd|kernel.KomFlagSig,
		kernel.ParamD(kernel.Ptr(machine.BootCpt), 9),
		kernel.ParamD(kernel.Ptr(machine.BootCpt), capNarrow),
		kernel.KomFlag(0, 0x8000)); got != kernel.ErrCapFlag {
		t.Errorf("widening: r = %d, want ErrCapFlag", got)
	}
}

// TestInvocationTrip activates an invocation into another process and
// returns from it: SP and LR restored, the return value lands in the
// invocation return register, the stub deactivates and the address space
// pops back.
func TestInvocationTrip(t *testing.T) {
	m := newMachine(t)

	const (
		capPrc kernel.Cid = 8
		capInv kernel.Cid = 9
	)

	// The callee process shares the boot capability table but runs under its
	// own top-level page table so the switch is observable.
	const capPgt kernel.Cid = 10
	mustCall(t, m, "pgt-crt", kernel.SvcPgtCrt|3<<6, kernel.Ptr(machine.BootCpt),
		kernel.ParamD(kernel.Ptr(machine.BootKom), kernel.ParamQ(kernel.Ptr(capPgt), 29)),
		0x400, kernel.PgtTop)
	mustCall(t, m, "pgt-add", kernel.SvcPgtAdd, kernel.PgtAllPerm,
		kernel.ParamD(kernel.Ptr(capPgt), 1),
		kernel.ParamD(kernel.Ptr(machine.BootPgt), 1), 0)
	mustCall(t, m, "prc-crt", kernel.SvcPrcCrt, kernel.Ptr(machine.BootCpt),
		kernel.ParamD(kernel.Ptr(machine.BootKom), kernel.Ptr(capPrc)),
		kernel.ParamD(kernel.Ptr(machine.BootCpt), kernel.Ptr(capPgt)), 0x600)

	mustCall(t, m, "inv-crt", kernel.SvcInvCrt, kernel.Ptr(machine.BootCpt),
		kernel.ParamD(kernel.Ptr(machine.BootKom), kernel.Ptr(capInv)),
		kernel.Ptr(capPrc), 0x700)
	mustCall(t, m, "inv-set", kernel.SvcInvSet, 0,
		kernel.ParamD(0, kernel.Ptr(capInv)), 0x08001000, 0x20030000)

	// Plant a recognizable SP/LR on the caller.
	m.Reg[0].SP = 0x2001BEEF &^ 3
	m.Reg[0].LR = a7m.ExcRetInit
	wantSP, wantLR := m.Reg[0].SP, m.Reg[0].LR

	bootMPU := m.Port.Active

	mustCall(t, m, "inv-act", kernel.SvcInvAct, 0, kernel.Ptr(capInv), 0xDEADBEEF, 0)

	if m.Reg[0].R4 != 0x08001000|1 || m.Reg[0].R5 != 0xDEADBEEF {
		t.Fatalf("callee entry regs = %#x/%#x", m.Reg[0].R4, m.Reg[0].R5)
	}
	if m.Port.Active == bootMPU {
		t.Fatal("address space did not switch on activation")
	}

	// Re-activation while active is refused.
	if r := call(t, m, "inv-act-again", kernel.SvcInvAct, 0, kernel.Ptr(capInv), 0, 0); r != kernel.ErrSivAct {
		t.Fatalf("double activation: r = %d, want ErrSivAct", r)
	}

	mustCall(t, m, "inv-ret", kernel.SvcInvRet, 0, 0x1234, 0, 0)

	if m.Reg[0].SP != wantSP || m.Reg[0].LR != wantLR {
		t.Errorf("SP/LR = %#x/%#x, want %#x/%#x", m.Reg[0].SP, m.Reg[0].LR, wantSP, wantLR)
	}
	if got := m.InvRetval(0); got != 0x1234 {
		t.Errorf("invocation retval = %#x, want 0x1234", got)
	}
	if m.Port.Active != bootMPU {
		t.Error("address space did not pop back to the home process")
	}

	s, _ := m.Kernel.CapGet(m.CT, capInv, kernel.CapInv)
	if s.Inv().Active.Load() != 0 {
		t.Error("invocation still active after return")
	}

	// Return on an empty stack is refused.
	if r := call(t, m, "inv-ret-empty", kernel.SvcInvRet, 0, 0, 0, 0); r != kernel.ErrSivEmpty {
		t.Errorf("empty return: r = %d, want ErrSivEmpty", r)
	}
}

// TestPreemptViaSend unblocks a higher-priority receiver: it runs before the
// send returns to the sender.
func TestPreemptViaSend(t *testing.T) {
	m := newMachine(t)

	const (
		capThd kernel.Cid = 8
		capSig kernel.Cid = 9
	)

	mustCall(t, m, "sig-crt", kernel.SvcSigCrt, kernel.Ptr(machine.BootCpt),
		kernel.Ptr(machine.BootKom), kernel.Ptr(capSig), 0x400)
	makeThread(t, m, capThd, 0x800, 5, 5)
	mustCall(t, m, "time-xfer", kernel.SvcThdTimeXfer, 0,
		kernel.Ptr(capThd), kernel.Ptr(machine.BootThd), 100)

	// The worker preempted us; block it on the endpoint.
	if m.CurTID(0) != 5 {
		t.Fatal("worker did not preempt after time transfer")
	}
	mustCall(t, m, "sig-rcv", kernel.SvcSigRcv, 0, kernel.Ptr(capSig), kernel.RcvBS, 0)

	if m.CurTID(0) != 0 {
		t.Fatal("blocking receive did not switch back to the boot thread")
	}
	if got := thd(t, m, capThd).Sched.State; got != kernel.ThdBlocked {
		t.Fatalf("worker state = %d, want blocked", got)
	}

	// Send as the boot thread (priority 0, receiver priority 5).
	mustCall(t, m, "sig-snd", kernel.SvcSigSnd, 0, kernel.Ptr(capSig), 0, 0)

	if m.CurTID(0) != 5 {
		t.Fatal("receiver did not run before the send returned")
	}
	if got := kernel.Ret(m.Reg[0].R4); got != 1 {
		t.Errorf("receiver return value = %d, want 1", got)
	}
}

// TestSigNonBlocking: a non-blocking receive on an empty endpoint returns
// zero and changes nothing.
func TestSigNonBlocking(t *testing.T) {
	m := newMachine(t)

	const capSig kernel.Cid = 8
	mustCall(t, m, "sig-crt", kernel.SvcSigCrt, kernel.Ptr(machine.BootCpt),
		kernel.Ptr(machine.BootKom), kernel.Ptr(capSig), 0x400)

	if r := call(t, m, "sig-rcv", kernel.SvcSigRcv, 0, kernel.Ptr(capSig), kernel.RcvNS, 0); r != 0 {
		t.Fatalf("non-blocking receive = %d, want 0", r)
	}
	if got := sig(t, m, capSig).Num.Load(); got != 0 {
		t.Errorf("count = %d, want 0", got)
	}

	// Multi receive drains everything.
	mustCall(t, m, "sig-snd", kernel.SvcSigSnd, 0, kernel.Ptr(capSig), 0, 0)
	mustCall(t, m, "sig-snd", kernel.SvcSigSnd, 0, kernel.Ptr(capSig), 0, 0)
	mustCall(t, m, "sig-snd", kernel.SvcSigSnd, 0, kernel.Ptr(capSig), 0, 0)
	if r := call(t, m, "sig-rcv", kernel.SvcSigRcv, 0, kernel.Ptr(capSig), kernel.RcvNM, 0); r != 3 {
		t.Errorf("multi receive = %d, want 3", r)
	}
}

// TestBootThreadCannotBlock: the boot thread is forbidden to block.
func TestBootThreadCannotBlock(t *testing.T) {
	m := newMachine(t)

	const capSig kernel.Cid = 8
	mustCall(t, m, "sig-crt", kernel.SvcSigCrt, kernel.Ptr(machine.BootCpt),
		kernel.Ptr(machine.BootKom), kernel.Ptr(capSig), 0x400)

	if r := call(t, m, "sig-rcv", kernel.SvcSigRcv, 0, kernel.Ptr(capSig), kernel.RcvBS, 0); r != kernel.ErrSivBoot {
		t.Errorf("boot thread block: r = %d, want ErrSivBoot", r)
	}
}

// TestTickTimeout: a thread with three slices expires after three ticks,
// leaves the runqueue, and its scheduler hears about it exactly once.
func TestTickTimeout(t *testing.T) {
	m := newMachine(t)

	const capThd kernel.Cid = 8
	makeThread(t, m, capThd, 0x800, 7, 2)
	mustCall(t, m, "time-xfer", kernel.SvcThdTimeXfer, 0,
		kernel.Ptr(capThd), kernel.Ptr(machine.BootThd), 3)

	if m.CurTID(0) != 7 {
		t.Fatal("worker did not start running")
	}

	m.Tick()
	m.Tick()
	if m.CurTID(0) != 7 {
		t.Fatal("worker expired early")
	}

	m.Tick()

	w := thd(t, m, capThd)
	if w.Sched.State != kernel.ThdTimeout {
		t.Fatalf("worker state = %d, want timeout", w.Sched.State)
	}
	if m.CurTID(0) != 0 {
		t.Fatal("pick-highest did not fall back to the boot thread")
	}

	// Exactly one notification waits on the parent.
	if r := call(t, m, "sched-rcv", kernel.SvcThdSchedRcv, 0, kernel.Ptr(machine.BootThd), 0, 0); r != 7 {
		t.Fatalf("sched-rcv = %d, want 7", r)
	}
	if r := call(t, m, "sched-rcv", kernel.SvcThdSchedRcv, 0, kernel.Ptr(machine.BootThd), 0, 0); r != kernel.ErrPthNotif {
		t.Fatalf("second sched-rcv = %d, want ErrPthNotif", r)
	}
}

// TestTimeXferBoundary: draining exactly all the source's slices leaves it
// at zero and in timeout.
func TestTimeXferBoundary(t *testing.T) {
	m := newMachine(t)

	const (
		capA kernel.Cid = 8
		capB kernel.Cid = 9
	)

	// Both at the boot priority so nothing preempts the test driver.
	makeThread(t, m, capA, 0x800, 1, 0)
	makeThread(t, m, capB, 0xC00, 2, 0)

	mustCall(t, m, "fill-a", kernel.SvcThdTimeXfer, 0,
		kernel.Ptr(capA), kernel.Ptr(machine.BootThd), 3)

	// A -> B with more than A has: A drains to zero and times out.
	mustCall(t, m, "drain-a", kernel.SvcThdTimeXfer, 0,
		kernel.Ptr(capB), kernel.Ptr(capA), 10)

	a, b := thd(t, m, capA), thd(t, m, capB)
	if a.Sched.Slices != 0 || a.Sched.State != kernel.ThdTimeout {
		t.Errorf("source: slices=%d state=%d, want 0/timeout", a.Sched.Slices, a.Sched.State)
	}
	if b.Sched.Slices != 3 {
		t.Errorf("destination slices = %d, want 3", b.Sched.Slices)
	}

	// The drain notified A's scheduler.
	if r := call(t, m, "sched-rcv", kernel.SvcThdSchedRcv, 0, kernel.Ptr(machine.BootThd), 0, 0); r != 1 {
		t.Errorf("sched-rcv = %d, want 1", r)
	}
}

// TestTimeXferInfinite: infinite transfer promotes a normal destination,
// revoking transfer drains a non-boot infinite source.
func TestTimeXferInfinite(t *testing.T) {
	m := newMachine(t)

	const (
		capA kernel.Cid = 8
		capB kernel.Cid = 9
	)

	makeThread(t, m, capA, 0x800, 1, 0)
	makeThread(t, m, capB, 0xC00, 2, 0)

	// Infinite transfer from the boot thread promotes A without revoking
	// the boot budget.
	mustCall(t, m, "inf-xfer", kernel.SvcThdTimeXfer, 0,
		kernel.Ptr(capA), kernel.Ptr(machine.BootThd), kernel.ThdInfTime)

	a := thd(t, m, capA)
	if a.Sched.Slices != kernel.ThdInfTime {
		t.Fatalf("A slices = %#x, want infinite", a.Sched.Slices)
	}
	boot := m.Kernel.Local(0).CurThd
	if boot.Sched.Slices != kernel.ThdInitTime {
		t.Fatalf("boot budget revoked by infinite transfer")
	}

	// Revoking transfer from A: A drains, B becomes infinite.
	mustCall(t, m, "rev-xfer", kernel.SvcThdTimeXfer, 0,
		kernel.Ptr(capB), kernel.Ptr(capA), kernel.ThdInitTime)

	b := thd(t, m, capB)
	if a.Sched.Slices != 0 || a.Sched.State != kernel.ThdTimeout {
		t.Errorf("A after revoke: slices=%#x state=%d", a.Sched.Slices, a.Sched.State)
	}
	if b.Sched.Slices != kernel.ThdInfTime {
		t.Errorf("B slices = %#x, want infinite", b.Sched.Slices)
	}
}

// TestTimeXferOverflow: saturating the destination is refused.
func TestTimeXferOverflow(t *testing.T) {
	m := newMachine(t)

	const capA kernel.Cid = 8
	makeThread(t, m, capA, 0x800, 1, 0)

	mustCall(t, m, "fill", kernel.SvcThdTimeXfer, 0,
		kernel.Ptr(capA), kernel.Ptr(machine.BootThd), kernel.ThdInfTime-10)

	if r := call(t, m, "overflow", kernel.SvcThdTimeXfer, 0,
		kernel.Ptr(capA), kernel.Ptr(machine.BootThd), 100); r != kernel.ErrPthOverflow {
		t.Errorf("r = %d, want ErrPthOverflow", r)
	}
}

// TestSchedPrio: an immediate priority change preempts in line.
func TestSchedPrio(t *testing.T) {
	m := newMachine(t)

	const capThd kernel.Cid = 8
	makeThread(t, m, capThd, 0x800, 3, 0)
	mustCall(t, m, "time-xfer", kernel.SvcThdTimeXfer, 0,
		kernel.Ptr(capThd), kernel.Ptr(machine.BootThd), 100)

	// Same priority as boot, boot keeps running.
	if m.CurTID(0) != 0 {
		t.Fatal("equal priority must not preempt")
	}

	mustCall(t, m, "sched-prio", kernel.SvcThdSchedPrio, 0, kernel.Ptr(capThd), 4, 0)

	if m.CurTID(0) != 3 {
		t.Fatal("raised thread did not preempt")
	}
	if got := thd(t, m, capThd).Sched.Prio; got != 4 {
		t.Errorf("prio = %d, want 4", got)
	}

	// Raising beyond the maximum priority cap is refused. The worker's
	// capability is visible through the shared boot table.
	if r := call(t, m, "prio-over", kernel.SvcThdSchedPrio, 0, kernel.Ptr(capThd), 20, 0); r != kernel.ErrPthPrio {
		t.Errorf("over max prio: r = %d, want ErrPthPrio", r)
	}
}

// TestThdSwt: yielding rotates within a priority; full yield surrenders the
// remaining budget.
func TestThdSwt(t *testing.T) {
	m := newMachine(t)

	const capThd kernel.Cid = 8
	makeThread(t, m, capThd, 0x800, 9, machine.BootPrio)
	mustCall(t, m, "time-xfer", kernel.SvcThdTimeXfer, 0,
		kernel.Ptr(capThd), kernel.Ptr(machine.BootThd), 50)

	// Kernel-chosen switch: rotate to the worker.
	mustCall(t, m, "thd-swt", kernel.SvcThdSwt, 0, ^kernel.Ptr(0), 0, 0)
	if m.CurTID(0) != 9 {
		t.Fatal("yield did not rotate to the peer")
	}

	// Named switch back to the boot thread at the same priority.
	mustCall(t, m, "thd-swt-named", kernel.SvcThdSwt, 0, kernel.Ptr(machine.BootThd), 0, 0)
	if m.CurTID(0) != 0 {
		t.Fatal("named switch did not happen")
	}

	// A full yield from the worker kills its remaining slices.
	mustCall(t, m, "thd-swt-rot", kernel.SvcThdSwt, 0, ^kernel.Ptr(0), 0, 0)
	if m.CurTID(0) != 9 {
		t.Fatal("expected worker to run")
	}
	mustCall(t, m, "full-yield", kernel.SvcThdSwt, 0, ^kernel.Ptr(0), 1, 0)

	w := thd(t, m, capThd)
	if w.Sched.Slices != 0 || w.Sched.State != kernel.ThdTimeout {
		t.Errorf("after full yield: slices=%d state=%d", w.Sched.Slices, w.Sched.State)
	}
}

// TestSchedFreeBlocked: freeing a thread blocked on an endpoint unblocks it
// with the distinguished freed code and detaches it from the CPU.
func TestSchedFreeBlocked(t *testing.T) {
	m := newMachine(t)

	const (
		capThd kernel.Cid = 8
		capSig kernel.Cid = 9
	)

	mustCall(t, m, "sig-crt", kernel.SvcSigCrt, kernel.Ptr(machine.BootCpt),
		kernel.Ptr(machine.BootKom), kernel.Ptr(capSig), 0x400)
	makeThread(t, m, capThd, 0x800, 4, 6)
	mustCall(t, m, "time-xfer", kernel.SvcThdTimeXfer, 0,
		kernel.Ptr(capThd), kernel.Ptr(machine.BootThd), 100)

	// Block the worker on the endpoint, then free it from the boot thread.
	mustCall(t, m, "sig-rcv", kernel.SvcSigRcv, 0, kernel.Ptr(capSig), kernel.RcvBS, 0)
	if thd(t, m, capThd).Sched.State != kernel.ThdBlocked {
		t.Fatal("worker not blocked")
	}

	mustCall(t, m, "sched-free", kernel.SvcThdSchedFree, 0, kernel.Ptr(capThd), 0, 0)

	w := thd(t, m, capThd)
	if w.Sched.Local.Load() != nil {
		t.Error("worker still bound after free")
	}
	if w.Sched.State != kernel.ThdTimeout || w.Sched.Slices != 0 {
		t.Errorf("worker state=%d slices=%d after free", w.Sched.State, w.Sched.Slices)
	}
	if got := kernel.Ret(w.CurReg.Reg.(*a7m.Reg).R4); got != kernel.ErrSivFree {
		t.Errorf("freed return code = %d, want ErrSivFree", got)
	}
	if sig(t, m, capSig).Thd.Load() != nil {
		t.Error("endpoint still holds the freed receiver")
	}

	// An unbound thread can be deleted once frozen.
	mustCall(t, m, "thd-frz", kernel.SvcCptFrz, kernel.Ptr(machine.BootCpt), kernel.Ptr(capThd), 0, 0)
	mustCall(t, m, "thd-del", kernel.SvcThdDel, kernel.Ptr(machine.BootCpt), kernel.Ptr(capThd), 0, 0)
}

// TestFaultKillsThread: a fatal fault outside any invocation kills the
// thread and reports the cause through the scheduler notification.
func TestFaultKillsThread(t *testing.T) {
	m := newMachine(t)

	const capThd kernel.Cid = 8
	makeThread(t, m, capThd, 0x800, 11, 3)
	mustCall(t, m, "time-xfer", kernel.SvcThdTimeXfer, 0,
		kernel.Ptr(capThd), kernel.Ptr(machine.BootThd), 100)

	if m.CurTID(0) != 11 {
		t.Fatal("worker not running")
	}

	m.Fault(a7m.UFSRUndefinstr, 0)

	w := thd(t, m, capThd)
	if w.Sched.State != kernel.ThdFault {
		t.Fatalf("state = %d, want fault", w.Sched.State)
	}
	if m.CurTID(0) != 0 {
		t.Fatal("fault did not switch away")
	}

	r := call(t, m, "sched-rcv", kernel.SvcThdSchedRcv, 0, kernel.Ptr(machine.BootThd), 0, 0)
	if r != 11|kernel.ThdFaultFlag {
		t.Fatalf("sched-rcv = %#x, want tid|fault", r)
	}
	if got := m.InvRetval(0); got != kernel.Ret(a7m.UFSRUndefinstr) {
		t.Errorf("fault cause = %#x, want %#x", got, a7m.UFSRUndefinstr)
	}

	// Execution setting clears the fault.
	mustCall(t, m, "thd-exec", kernel.SvcThdExecSet, kernel.Ptr(capThd), 0x08000000, 0x20040000, 0)
	if w.Sched.State != kernel.ThdTimeout {
		t.Errorf("state after exec-set = %d, want timeout", w.Sched.State)
	}
}

// TestHypSet redirects a thread's register area into the hypervisor range
// and back.
func TestHypSet(t *testing.T) {
	m := newMachine(t)

	const capThd kernel.Cid = 8
	makeThread(t, m, capThd, 0x800, 13, 0)

	w := thd(t, m, capThd)
	def := w.CurReg

	hyp := kernel.Ptr(0x20000000 + 1<<20 + 0x100)
	mustCall(t, m, "hyp-set", kernel.SvcThdHypSet, 0, kernel.Ptr(capThd), hyp, 0)
	if w.CurReg == def {
		t.Fatal("register area not redirected")
	}

	mustCall(t, m, "hyp-clear", kernel.SvcThdHypSet, 0, kernel.Ptr(capThd), 0, 0)
	if w.CurReg != def {
		t.Fatal("register area not restored")
	}

	// Out of the hypervisor range.
	if r := call(t, m, "hyp-bad", kernel.SvcThdHypSet, 0, kernel.Ptr(capThd), 0x10000000, 0); r != kernel.ErrPthPgt {
		t.Errorf("bad area: r = %d, want ErrPthPgt", r)
	}
}

// TestKfnDebug exercises the kernel function path: console printing and
// thread register access under capability authorization.
func TestKfnDebug(t *testing.T) {
	m := newMachine(t)

	const capThd kernel.Cid = 8
	makeThread(t, m, capThd, 0x800, 15, 0)

	mustCall(t, m, "kfn-print", kernel.SvcKfn, kernel.Ptr(machine.BootKfn),
		kernel.ParamD(0, kernel.KfnDebugPrint), 'O', 0)

	// Write R7 of the worker, read it back through R6.
	mustCall(t, m, "kfn-reg-wr", kernel.SvcKfn, kernel.Ptr(machine.BootKfn),
		kernel.ParamD(a7m.DebugRegR7|a7m.DebugWrite, kernel.KfnDebugRegMod),
		kernel.Ptr(capThd), 0x5A5A5A5A)
	mustCall(t, m, "kfn-reg-rd", kernel.SvcKfn, kernel.Ptr(machine.BootKfn),
		kernel.ParamD(a7m.DebugRegR7, kernel.KfnDebugRegMod),
		kernel.Ptr(capThd), 0)

	if got := m.Reg[0].R6; got != 0x5A5A5A5A {
		t.Errorf("debug read = %#x, want 0x5A5A5A5A", got)
	}
}

// TestVectDelivery: an interrupt vector marshals its flag and feeds the
// per-CPU vector endpoint.
func TestVectDelivery(t *testing.T) {
	m := newMachine(t)

	m.Vect(37)
	m.Vect(37)

	if got := m.Kernel.Local(0).VectSig.Num.Load(); got != 2 {
		t.Errorf("vector endpoint count = %d, want 2", got)
	}

	set := &m.Port.VectFlag.Set0
	word, bit := 37>>5, kernel.Ptr(37&31)
	if set.Flags[word]&(1<<bit) == 0 {
		t.Error("vector flag not marshalled")
	}
}
