package machine_test

import (
	"testing"

	"github.com/EDI-Systems/M7M01-Eukaron-sub003/kernel"
	"github.com/EDI-Systems/M7M01-Eukaron-sub003/machine"
)

// TestPrcDeleteRefcount: a process cannot die while a thread names it.
func TestPrcDeleteRefcount(t *testing.T) {
	m := newMachine(t)

	const (
		capPrc kernel.Cid = 8
		capThd kernel.Cid = 9
	)

	mustCall(t, m, "prc-crt", kernel.SvcPrcCrt, kernel.Ptr(machine.BootCpt),
		kernel.ParamD(kernel.Ptr(machine.BootKom), kernel.Ptr(capPrc)),
		kernel.ParamD(kernel.Ptr(machine.BootCpt), kernel.Ptr(machine.BootPgt)), 0x400)
	mustCall(t, m, "thd-crt", kernel.SvcThdCrt, kernel.Ptr(machine.BootCpt),
		kernel.ParamD(kernel.Ptr(machine.BootKom), kernel.Ptr(capThd)),
		kernel.ParamD(kernel.Ptr(capPrc), 8), 0x800)

	mustCall(t, m, "prc-frz", kernel.SvcCptFrz, kernel.Ptr(machine.BootCpt), kernel.Ptr(capPrc), 0, 0)
	if r := call(t, m, "prc-del", kernel.SvcPrcDel, kernel.Ptr(machine.BootCpt),
		kernel.Ptr(capPrc), 0, 0); r != kernel.ErrPthRefcnt {
		t.Fatalf("delete with live thread: r = %d, want ErrPthRefcnt", r)
	}

	// The failed delete defrosted the capability; drop the thread, then the
	// process goes away for real.
	mustCall(t, m, "thd-frz", kernel.SvcCptFrz, kernel.Ptr(machine.BootCpt), kernel.Ptr(capThd), 0, 0)
	mustCall(t, m, "thd-del", kernel.SvcThdDel, kernel.Ptr(machine.BootCpt), kernel.Ptr(capThd), 0, 0)
	mustCall(t, m, "prc-frz2", kernel.SvcCptFrz, kernel.Ptr(machine.BootCpt), kernel.Ptr(capPrc), 0, 0)
	mustCall(t, m, "prc-del2", kernel.SvcPrcDel, kernel.Ptr(machine.BootCpt), kernel.Ptr(capPrc), 0, 0)
}

// TestPgtDeleteConstructed: a constructed child refuses deletion until it is
// destructed from its parent.
func TestPgtDeleteConstructed(t *testing.T) {
	m := newMachine(t)

	const (
		capTop   kernel.Cid = 8
		capChild kernel.Cid = 9
	)

	mustCall(t, m, "pgt-crt-top", kernel.SvcPgtCrt|3<<6, kernel.Ptr(machine.BootCpt),
		kernel.ParamD(kernel.Ptr(machine.BootKom), kernel.ParamQ(kernel.Ptr(capTop), 20)),
		0x400, treeBase|kernel.PgtTop)
	mustCall(t, m, "pgt-crt-child", kernel.SvcPgtCrt|3<<6, kernel.Ptr(machine.BootCpt),
		kernel.ParamD(kernel.Ptr(machine.BootKom), kernel.ParamQ(kernel.Ptr(capChild), 17)),
		0x600, treeBase)
	mustCall(t, m, "pgt-con", kernel.SvcPgtCon, 0,
		kernel.ParamD(kernel.Ptr(capTop), kernel.Ptr(capChild)), 0, 0)

	// The child hangs under the parent; neither can be deleted.
	mustCall(t, m, "child-frz", kernel.SvcCptFrz, kernel.Ptr(machine.BootCpt), kernel.Ptr(capChild), 0, 0)
	if r := call(t, m, "child-del", kernel.SvcPgtDel, kernel.Ptr(machine.BootCpt),
		kernel.Ptr(capChild), 0, 0); r != kernel.ErrPgtHW {
		t.Fatalf("constructed child delete: r = %d, want ErrPgtHW", r)
	}
	mustCall(t, m, "top-frz", kernel.SvcCptFrz, kernel.Ptr(machine.BootCpt), kernel.Ptr(capTop), 0, 0)
	if r := call(t, m, "top-del", kernel.SvcPgtDel, kernel.Ptr(machine.BootCpt),
		kernel.Ptr(capTop), 0, 0); r != kernel.ErrPgtHW {
		t.Fatalf("parent delete with child: r = %d, want ErrPgtHW", r)
	}

	// Destruct, then both fall. The failed deletes defrosted the slots.
	mustCall(t, m, "pgt-des", kernel.SvcPgtDes, 0, kernel.Ptr(capTop), 0, 0)
	mustCall(t, m, "child-frz2", kernel.SvcCptFrz, kernel.Ptr(machine.BootCpt), kernel.Ptr(capChild), 0, 0)
	mustCall(t, m, "child-del2", kernel.SvcPgtDel, kernel.Ptr(machine.BootCpt), kernel.Ptr(capChild), 0, 0)
	mustCall(t, m, "top-frz2", kernel.SvcCptFrz, kernel.Ptr(machine.BootCpt), kernel.Ptr(capTop), 0, 0)
	mustCall(t, m, "top-del2", kernel.SvcPgtDel, kernel.Ptr(machine.BootCpt), kernel.Ptr(capTop), 0, 0)
}

// TestSigDeleteReferenced: an endpoint wired to a scheduler refuses
// deletion until the binding drops.
func TestSigDeleteReferenced(t *testing.T) {
	m := newMachine(t)

	const (
		capThd kernel.Cid = 8
		capSig kernel.Cid = 9
	)

	mustCall(t, m, "sig-crt", kernel.SvcSigCrt, kernel.Ptr(machine.BootCpt),
		kernel.Ptr(machine.BootKom), kernel.Ptr(capSig), 0x400)
	mustCall(t, m, "thd-crt", kernel.SvcThdCrt, kernel.Ptr(machine.BootCpt),
		kernel.ParamD(kernel.Ptr(machine.BootKom), kernel.Ptr(capThd)),
		kernel.ParamD(kernel.Ptr(machine.BootPrc), 8), 0x800)
	mustCall(t, m, "thd-bind", kernel.SvcThdSchedBind, kernel.Ptr(capThd),
		kernel.ParamD(kernel.Ptr(machine.BootThd), kernel.Ptr(capSig)), 6, 1)

	mustCall(t, m, "sig-frz", kernel.SvcCptFrz, kernel.Ptr(machine.BootCpt), kernel.Ptr(capSig), 0, 0)
	if r := call(t, m, "sig-del", kernel.SvcSigDel, kernel.Ptr(machine.BootCpt),
		kernel.Ptr(capSig), 0, 0); r != kernel.ErrSivConflict {
		t.Fatalf("delete wired endpoint: r = %d, want ErrSivConflict", r)
	}

	// Unbind the thread; the reference drops and deletion goes through.
	mustCall(t, m, "sched-free", kernel.SvcThdSchedFree, 0, kernel.Ptr(capThd), 0, 0)
	mustCall(t, m, "sig-frz2", kernel.SvcCptFrz, kernel.Ptr(machine.BootCpt), kernel.Ptr(capSig), 0, 0)
	mustCall(t, m, "sig-del2", kernel.SvcSigDel, kernel.Ptr(machine.BootCpt), kernel.Ptr(capSig), 0, 0)
}

// TestPrcCptReplace swaps a process's capability table and moves the
// reference counts with it.
func TestPrcCptReplace(t *testing.T) {
	m := newMachine(t)

	const (
		capPrc kernel.Cid = 8
		capCpt kernel.Cid = 9
	)

	mustCall(t, m, "prc-crt", kernel.SvcPrcCrt, kernel.Ptr(machine.BootCpt),
		kernel.ParamD(kernel.Ptr(machine.BootKom), kernel.Ptr(capPrc)),
		kernel.ParamD(kernel.Ptr(machine.BootCpt), kernel.Ptr(machine.BootPgt)), 0x400)
	mustCall(t, m, "cpt-crt", kernel.SvcCptCrt, kernel.Ptr(machine.BootCpt),
		kernel.ParamD(kernel.Ptr(machine.BootKom), kernel.Ptr(capCpt)), 0x500, 8)

	newTbl, r := m.Kernel.CapGet(m.CT, capCpt, kernel.CapCpt)
	if r != 0 {
		t.Fatal(r)
	}
	before := newTbl.Ref()

	mustCall(t, m, "prc-cpt", kernel.SvcPrcCpt, 0, kernel.Ptr(capPrc), kernel.Ptr(capCpt), 0)

	prc, r := m.Kernel.CapGet(m.CT, capPrc, kernel.CapPrc)
	if r != 0 {
		t.Fatal(r)
	}
	if prc.Prc().Captbl.Load() != newTbl {
		t.Error("capability table not replaced")
	}
	if newTbl.Ref() != before+1 {
		t.Errorf("new table refcount = %d, want %d", newTbl.Ref(), before+1)
	}
}
