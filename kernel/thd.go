package kernel

import (
	"math/bits"
	"sync/atomic"
)

// Thread states. A thread is in exactly one of these; at most one thread per
// CPU is running.
const (
	ThdRunning Ptr = iota
	ThdReady
	ThdBlocked
	ThdTimeout
	ThdFault
)

// RegStore is one register save area: the basic set plus the coprocessor
// context.
type RegStore struct {
	Reg RegSet
	Cop CopSet
}

// Thd is a thread, the minimal kernel-aware execution unit.
type Thd struct {
	Sched struct {
		TID Tid
		// Refcnt counts the children that name this thread as their
		// scheduler. Only touched from the owning CPU.
		Refcnt Ptr
		// Slices is the remaining budget: 0 means timeout, ThdInfTime
		// infinite, ThdInitTime the boot budget.
		Slices Ptr
		State  Ptr
		// Fault holds the architecture-specific cause after a fatal fault.
		Fault Ptr
		// Signal is the endpoint this thread is blocked on, if any.
		Signal *Sig
		Prio   Ptr
		// MaxPrio is the cap set at creation, never raised.
		MaxPrio Ptr
		// SchedSig, if bound, receives a kernel send on every timeout or
		// fault notification.
		SchedSig *Sig
		// Parent is the scheduler thread notifications go to.
		Parent *Thd
		Prc    *Prc
		// Local is the owning CPU, nil while unbound. Binding is a CAS so
		// two CPUs cannot claim the same thread.
		Local atomic.Pointer[CPULocal]
		// Run links the thread into its priority FIFO; Notif links it into
		// the parent's Event queue; Event heads this thread's own queue.
		Run   List
		Notif List
		Event List
	}

	// DefReg is the default register save area; CurReg may be redirected to
	// a hypervisor-supplied area.
	DefReg RegStore
	CurReg *RegStore

	// InvStack heads the list of active invocations, innermost first.
	InvStack List
}

// runqueue is the per-CPU ready structure: one FIFO per preemption priority
// plus a bitmap for the MSB scan.
type runqueue struct {
	bitmap [prioWordNum]Ptr
	list   [MaxPreemptPrio]List
}

func (q *runqueue) init() {
	for i := range q.list {
		q.list[i].init(nil)
	}
}

// runIns inserts a thread at the tail of its priority FIFO.
func (k *Kernel) runIns(t *Thd) {
	prio := t.Sched.Prio
	cl := t.Sched.Local.Load()
	k.assert(cl != nil)

	head := &cl.Run.list[prio]
	listIns(&t.Sched.Run, head.Prev, head)
	cl.Run.bitmap[prio>>WordOrder] |= 1 << (prio & (1<<WordOrder - 1))
}

// runDel removes a thread from the runqueue, clearing the priority bit when
// the FIFO empties.
func (k *Kernel) runDel(t *Thd) {
	prio := t.Sched.Prio
	cl := t.Sched.Local.Load()
	k.assert(cl != nil)

	listDel(t.Sched.Run.Prev, t.Sched.Run.Next)

	head := &cl.Run.list[prio]
	if head.Next == head {
		cl.Run.bitmap[prio>>WordOrder] &^= 1 << (prio & (1<<WordOrder - 1))
	}
}

// runHigh finds the highest-priority ready thread by MSB scan, FIFO within a
// priority. There is always at least one thread per CPU.
func (k *Kernel) runHigh(cl *CPULocal) *Thd {
	word := prioWordNum - 1
	for ; word >= 0; word-- {
		if cl.Run.bitmap[word] != 0 {
			break
		}
	}
	k.assert(word >= 0)

	prio := Ptr(bits.Len32(cl.Run.bitmap[word])-1) + Ptr(word)<<WordOrder

	return cl.Run.list[prio].Next.Owner.(*Thd)
}

// runNotif enqueues a timeout or fault notification on the parent scheduler
// thread, at most once, and kernel-sends to the scheduler endpoint if bound.
// Callers must run kernHigh afterwards unless they reselect themselves.
func (k *Kernel) runNotif(cl *CPULocal, t *Thd) {
	if t.Sched.Notif.empty() {
		parent := &t.Sched.Parent.Sched.Event
		listIns(&t.Sched.Notif, parent.Prev, parent)
	}

	if t.Sched.SchedSig != nil {
		k.KernSnd(cl, t.Sched.SchedSig)
	}
}

// curPgt returns the page table slot a thread currently executes under: the
// top invocation's process if any, the home process otherwise.
func curPgt(t *Thd) *Slot {
	if inv := invTop(t); inv != nil {
		return inv.Prc.Pgt.Load()
	}

	return t.Sched.Prc.Pgt.Load()
}

// CurPgt returns the page table capability the thread currently executes
// under; port fault handlers walk it.
func (t *Thd) CurPgt() *Slot { return curPgt(t) }

// runSwt switches the register set, coprocessor context and, if different,
// the page table from one thread to another.
func (k *Kernel) runSwt(reg RegSet, cur, next *Thd) {
	k.Port.RegCopy(cur.CurReg.Reg, reg)
	k.Port.CopSave(reg, cur.CurReg.Cop)
	k.Port.RegCopy(reg, next.CurReg.Reg)
	k.Port.CopRestore(reg, next.CurReg.Cop)

	curTbl := curPgt(cur)
	nextTbl := curPgt(next)
	if curTbl.Pgt() != nextTbl.Pgt() {
		k.Port.PgtSet(nextTbl.Pgt())
	}
}

// kernHigh picks the highest-priority thread after kernel sends and performs
// the context switch if it outranks the current one.
func (k *Kernel) kernHigh(cl *CPULocal, reg RegSet) {
	high := k.runHigh(cl)
	k.assert(high != nil)

	if high == cl.CurThd {
		return
	}

	cur := cl.CurThd
	if cur.Sched.State == ThdRunning || cur.Sched.State == ThdReady {
		if high.Sched.Prio <= cur.Sched.Prio {
			return
		}
	}

	if cur.Sched.State == ThdRunning {
		cur.Sched.State = ThdReady
	}

	k.runSwt(reg, cur, high)
	high.Sched.State = ThdRunning
	cl.CurThd = high
}

// ThdFatal handles a fatal fault in the current thread. If the thread is in
// an invocation that permits fault returns, the invocation unwinds with a
// fault code; otherwise the thread loses all slices, enters the fault state
// and its scheduler is notified.
func (k *Kernel) ThdFatal(cl *CPULocal, reg RegSet, fault Ptr) Ret {
	if k.InvRet(cl, reg, 0, true) != 0 {
		cur := cl.CurThd
		// Killing a boot thread is not survivable.
		k.assert(cur.Sched.Slices != ThdInitTime)
		cur.Sched.Slices = 0
		cur.Sched.State = ThdFault
		cur.Sched.Fault = fault
		k.runDel(cur)
		k.runNotif(cl, cur)
		k.kernHigh(cl, reg)
	}

	return 0
}

// thdInit fills in a fresh thread object.
func (k *Kernel) thdInit(t *Thd, p *Prc, maxPrio Ptr) {
	t.Sched.TID = 0
	t.Sched.Refcnt = 0
	t.Sched.Slices = 0
	t.Sched.State = ThdTimeout
	t.Sched.Signal = nil
	t.Sched.MaxPrio = maxPrio
	t.Sched.SchedSig = nil
	t.Sched.Local.Store(nil)
	t.Sched.Notif.init(t)
	t.Sched.Event.init(t)
	t.Sched.Run.Owner = t
	t.Sched.Prc = p
	t.DefReg.Reg = k.Port.NewRegSet()
	t.DefReg.Cop = k.Port.NewCopSet()
	t.CurReg = &t.DefReg
	t.InvStack.init(t)
}

// ThdBootCrt creates a boot-time thread: bound to the given CPU, running,
// with the boot budget and no parent. Returns through the capability slot
// immediately as the CPU's current thread.
func (k *Kernel) ThdBootCrt(ct *Captbl, capCpt, capThd, capPrc Cid, vaddr, prio Ptr, cl *CPULocal) Ret {
	if prio >= MaxPreemptPrio {
		return ErrPthPrio
	}

	op, r := k.capGet(ct, capCpt, CapCpt)
	if r != 0 {
		return r
	}
	prcOp, r := k.capGet(ct, capPrc, CapPrc)
	if r != 0 {
		return r
	}
	if r = capCheck(op, CptFlagCrt); r != 0 {
		return r
	}
	if r = capCheck(prcOp, PrcFlagThd); r != 0 {
		return r
	}

	crt, r := capSlot(op, capThd)
	if r != 0 {
		return r
	}
	if r = crt.occupy(); r != 0 {
		return r
	}

	if k.Kot.Mark(vaddr, ThdSize) != nil {
		crt.revert()

		return ErrCapKot
	}

	t := &Thd{}
	k.thdInit(t, prcOp.Prc(), MaxPreemptPrio-1)
	// Boot threads are born referenced, running and bound.
	t.Sched.Refcnt = 1
	t.Sched.Slices = ThdInitTime
	t.Sched.State = ThdRunning
	t.Sched.Prio = prio
	t.Sched.Local.Store(cl)

	prcOp.Prc().Refcnt.Add(1)

	crt.Parent = nil
	crt.obj = t
	crt.Vaddr = vaddr
	crt.ObjSize = ThdSize
	// Never a child, never freeable, never blockable; execution setting is
	// also prohibited.
	crt.Flags = ThdFlagSchedPrio | ThdFlagSchedParent | ThdFlagXferDst |
		ThdFlagXferSrc | ThdFlagSchedRcv | ThdFlagSwt

	k.runIns(t)
	cl.CurThd = t

	crt.publish(CapThd, 0)

	return 0
}

// ThdCrt creates a thread. It is created unbound and without any time; the
// creator cannot grant a maximum priority above its own.
func (k *Kernel) ThdCrt(cl *CPULocal, ct *Captbl, capCpt, capKom, capThd, capPrc Cid, maxPrio, raddr Ptr) Ret {
	if cl.CurThd.Sched.MaxPrio < maxPrio {
		return ErrPthPrio
	}

	op, r := k.capGet(ct, capCpt, CapCpt)
	if r != 0 {
		return r
	}
	prcOp, r := k.capGet(ct, capPrc, CapPrc)
	if r != 0 {
		return r
	}
	kom, r := k.capGet(ct, capKom, CapKom)
	if r != 0 {
		return r
	}
	if r = capCheck(op, CptFlagCrt); r != 0 {
		return r
	}
	if r = capCheck(prcOp, PrcFlagThd); r != 0 {
		return r
	}
	vaddr, r := komCheck(kom, KomFlagThd, raddr, ThdSize)
	if r != 0 {
		return r
	}

	crt, r := capSlot(op, capThd)
	if r != 0 {
		return r
	}
	if r = crt.occupy(); r != 0 {
		return r
	}

	if k.Kot.Mark(vaddr, ThdSize) != nil {
		crt.revert()

		return ErrCapKot
	}

	t := &Thd{}
	k.thdInit(t, prcOp.Prc(), maxPrio)

	prcOp.Prc().Refcnt.Add(1)

	crt.Parent = nil
	crt.obj = t
	crt.Vaddr = vaddr
	crt.ObjSize = ThdSize
	crt.Flags = ThdFlagAll

	crt.publish(CapThd, 0)

	return 0
}

// ThdDel deletes a thread. The thread must be unbound. Any invocation stubs
// left on its stack are deactivated; this is unbounded in the stack depth,
// which the user controls.
func (k *Kernel) ThdDel(ct *Captbl, capCpt, capThd Cid) Ret {
	op, r := k.capGet(ct, capCpt, CapCpt)
	if r != 0 {
		return r
	}
	if r = capCheck(op, CptFlagDel); r != 0 {
		return r
	}

	del, r := capSlot(op, capThd)
	if r != 0 {
		return r
	}
	tr, r := k.delCheck(del, CapThd)
	if r != 0 {
		return r
	}

	t := del.Thd()
	if t.Sched.Local.Load() != nil {
		del.defrost(tr)

		return ErrPthInvState
	}

	vaddr, size := del.Vaddr, del.ObjSize
	if r = del.remDel(tr); r != 0 {
		return r
	}

	for !t.InvStack.empty() {
		inv := t.InvStack.Next.Owner.(*Inv)
		listDel(inv.Head.Prev, inv.Head.Next)
		inv.Active.Store(0)
	}

	t.Sched.Prc.Refcnt.Add(-1)
	k.assert(k.Kot.Erase(vaddr, size) == nil)

	return 0
}

// ThdExecSet sets a thread's entry point and stack, reinitializing its
// register set. A pending fault is cleared; passing zero for both entry and
// stack clears the fault only.
func (k *Kernel) ThdExecSet(cl *CPULocal, ct *Captbl, capThd Cid, entry, stack, param Ptr) Ret {
	op, r := k.capGet(ct, capThd, CapThd)
	if r != 0 {
		return r
	}
	if r = capCheck(op, ThdFlagExecSet); r != 0 {
		return r
	}

	t := op.Thd()
	if t.Sched.Local.Load() != cl {
		return ErrPthInvState
	}

	if t.Sched.State == ThdFault {
		t.Sched.State = ThdTimeout
	}

	if entry != 0 && stack != 0 {
		k.Port.ThdRegInit(entry, stack, param, t.CurReg.Reg)
		k.Port.CopInit(t.CurReg.Reg, t.CurReg.Cop)
	}

	return 0
}

// ThdHypSet redirects a thread's register save area to a hypervisor-managed
// buffer, or back to the default area when kaddr is zero.
func (k *Kernel) ThdHypSet(cl *CPULocal, ct *Captbl, capThd Cid, kaddr Ptr) Ret {
	op, r := k.capGet(ct, capThd, CapThd)
	if r != 0 {
		return r
	}
	if r = capCheck(op, ThdFlagHypSet); r != 0 {
		return r
	}

	t := op.Thd()
	if t.Sched.Local.Load() != cl {
		return ErrPthInvState
	}

	if kaddr == 0 {
		t.CurReg = &t.DefReg

		return 0
	}

	if !k.Port.HypRegOK(kaddr) {
		return ErrPthPgt
	}

	reg, cop := k.Port.HypRegSet(kaddr)
	t.CurReg = &RegStore{Reg: reg, Cop: cop}

	return 0
}

// ThdSchedBind binds an unbound thread to the calling CPU under a parent
// scheduler on that CPU, with a priority, a TID and an optional scheduler
// notification endpoint. The bind itself is a CAS on the thread's CPU
// pointer.
func (k *Kernel) ThdSchedBind(cl *CPULocal, ct *Captbl, capThd, capThdSched, capSig Cid, tid Tid, prio Ptr) Ret {
	op, r := k.capGet(ct, capThd, CapThd)
	if r != 0 {
		return r
	}
	sched, r := k.capGet(ct, capThdSched, CapThd)
	if r != 0 {
		return r
	}
	if r = capCheck(op, ThdFlagSchedChild); r != 0 {
		return r
	}
	if r = capCheck(sched, ThdFlagSchedParent); r != 0 {
		return r
	}

	var sigOp *Slot
	if capSig >= 0 {
		if sigOp, r = k.capGet(ct, capSig, CapSig); r != 0 {
			return r
		}
		if r = capCheck(sigOp, SigFlagSched); r != 0 {
			return r
		}
	}

	if tid < 0 || tid >= ThdFaultFlag {
		return ErrPthTid
	}

	t := op.Thd()
	if t.Sched.Local.Load() != nil {
		return ErrPthInvState
	}

	parent := sched.Thd()
	if parent.Sched.Local.Load() != cl {
		return ErrPthInvState
	}
	if t == parent {
		return ErrPthNotif
	}
	if parent.Sched.MaxPrio < prio {
		return ErrPthPrio
	}

	if !t.Sched.Local.CompareAndSwap(nil, cl) {
		return ErrPthConflict
	}

	// Bound to this core now; no other core can touch it.
	t.Sched.Parent = parent
	t.Sched.Prio = prio
	t.Sched.TID = tid

	if sigOp == nil {
		t.Sched.SchedSig = nil
	} else {
		sig := sigOp.Sig()
		t.Sched.SchedSig = sig
		sig.Refcnt.Add(1)
	}

	parent.Sched.Refcnt++

	return 0
}

// ThdSchedPrio changes a thread's priority immediately, reinserting it into
// the runqueue and context-switching in line if the change preempts the
// current thread.
func (k *Kernel) ThdSchedPrio(cl *CPULocal, ct *Captbl, reg RegSet, capThd Cid, prio Ptr) Ret {
	op, r := k.capGet(ct, capThd, CapThd)
	if r != 0 {
		return r
	}
	if r = capCheck(op, ThdFlagSchedPrio); r != 0 {
		return r
	}

	t := op.Thd()
	if t.Sched.Local.Load() != cl {
		return ErrPthInvState
	}
	if t.Sched.MaxPrio < prio {
		return ErrPthPrio
	}

	k.Port.SetSyscallRet(reg, 0)

	if t.Sched.State == ThdRunning || t.Sched.State == ThdReady {
		k.runDel(t)
		t.Sched.Prio = prio
		k.runIns(t)

		high := k.runHigh(cl)
		k.assert(high.Sched.Prio >= cl.CurThd.Sched.Prio)

		if high.Sched.Prio > cl.CurThd.Sched.Prio {
			k.runSwt(reg, cl.CurThd, high)
			cl.CurThd.Sched.State = ThdReady
			high.Sched.State = ThdRunning
			cl.CurThd = high
		}
	} else {
		t.Sched.Prio = prio
	}

	return 0
}

// ThdSchedFree unbinds a thread from its CPU. A blocked thread is unblocked
// with the distinguished freed return code; a running thread causes an
// in-line switch away.
func (k *Kernel) ThdSchedFree(cl *CPULocal, ct *Captbl, reg RegSet, capThd Cid) Ret {
	op, r := k.capGet(ct, capThd, CapThd)
	if r != 0 {
		return r
	}
	if r = capCheck(op, ThdFlagSchedFree); r != 0 {
		return r
	}

	t := op.Thd()
	if t.Sched.Local.Load() != cl {
		return ErrPthInvState
	}
	// Referenced as a scheduler; boot threads never pass this check.
	if t.Sched.Refcnt != 0 {
		return ErrPthRefcnt
	}

	t.Sched.Parent.Sched.Refcnt--

	if !t.Sched.Notif.empty() {
		listDel(t.Sched.Notif.Prev, t.Sched.Notif.Next)
		t.Sched.Notif.init(t)
	}

	if t.Sched.SchedSig != nil {
		t.Sched.SchedSig.Refcnt.Add(-1)
	}

	k.Port.SetSyscallRet(reg, 0)

	if t.Sched.State != ThdBlocked {
		if t.Sched.State == ThdRunning || t.Sched.State == ThdReady {
			k.runDel(t)
			t.Sched.State = ThdTimeout
		}
	} else {
		// Cannot be the current thread, so this does not clobber the
		// caller's return value.
		k.Port.SetSyscallRet(t.CurReg.Reg, ErrSivFree)
		t.Sched.Signal.Thd.Store(nil)
		t.Sched.Signal = nil
		t.Sched.State = ThdTimeout
	}
	t.Sched.Slices = 0

	if cl.CurThd == t {
		next := k.runHigh(cl)
		cl.CurThd = next
		next.Sched.State = ThdRunning
		k.runSwt(reg, t, next)
	}

	t.Sched.Local.Store(nil)

	return 0
}

// ThdSchedRcv pops one notification from the scheduler thread's event queue
// and returns the child's TID, with the fault bit set and the cause written
// to the invocation-return register if the child faulted.
func (k *Kernel) ThdSchedRcv(cl *CPULocal, ct *Captbl, reg RegSet, capThd Cid) Ret {
	op, r := k.capGet(ct, capThd, CapThd)
	if r != 0 {
		return r
	}
	if r = capCheck(op, ThdFlagSchedRcv); r != 0 {
		return r
	}

	t := op.Thd()
	if t.Sched.Local.Load() != cl {
		return ErrPthInvState
	}

	if t.Sched.Event.empty() {
		return ErrPthNotif
	}

	child := t.Sched.Event.Next.Owner.(*Thd)
	listDel(child.Sched.Notif.Prev, child.Sched.Notif.Next)
	// The self-link is how "already notified" is detected.
	child.Sched.Notif.init(child)

	if child.Sched.State == ThdFault {
		k.Port.SetInvRet(reg, Ret(child.Sched.Fault))

		return Ret(child.Sched.TID) | ThdFaultFlag
	}

	return Ret(child.Sched.TID)
}

// ThdTimeXfer transfers slices between two threads on the calling CPU. The
// transfer kind is selected by the amount: ThdInitTime requests a revoking
// transfer, anything at or above ThdInfTime an infinite one, and everything
// below a normal finite transfer.
func (k *Kernel) ThdTimeXfer(cl *CPULocal, ct *Captbl, reg RegSet, capThdDst, capThdSrc Cid, time Ptr) Ret {
	if time == 0 {
		return ErrPthInvState
	}

	dstOp, r := k.capGet(ct, capThdDst, CapThd)
	if r != 0 {
		return r
	}
	srcOp, r := k.capGet(ct, capThdSrc, CapThd)
	if r != 0 {
		return r
	}
	if r = capCheck(dstOp, ThdFlagXferDst); r != 0 {
		return r
	}
	if r = capCheck(srcOp, ThdFlagXferSrc); r != 0 {
		return r
	}

	src := srcOp.Thd()
	if src.Sched.Local.Load() != cl {
		return ErrPthInvState
	}
	// Zero slices implies timeout, blocked or fault.
	if src.Sched.Slices == 0 {
		return ErrPthInvState
	}

	dst := dstOp.Thd()
	if dst.Sched.Local.Load() != cl {
		return ErrPthInvState
	}
	if dst.Sched.State == ThdFault {
		return ErrPthFault
	}

	if src.Sched.Slices < ThdInfTime {
		// Finite source: move up to everything it has.
		xfer := time
		if time >= ThdInfTime || src.Sched.Slices <= time {
			xfer = src.Sched.Slices
		}

		if dst.Sched.Slices < ThdInfTime {
			if dst.Sched.Slices+xfer >= ThdInfTime {
				return ErrPthOverflow
			}
			dst.Sched.Slices += xfer
		}
		src.Sched.Slices -= xfer
	} else {
		// Infinite or boot source.
		if time >= ThdInfTime {
			// Revoking transfers drain a non-boot source.
			if time == ThdInitTime && src.Sched.Slices != ThdInitTime {
				src.Sched.Slices = 0
			}
			// The destination becomes infinite unless it is a boot thread.
			if dst.Sched.Slices < ThdInfTime {
				dst.Sched.Slices = ThdInfTime
			}
		} else {
			if dst.Sched.Slices+time >= ThdInfTime {
				return ErrPthOverflow
			}
			dst.Sched.Slices += time
		}
	}

	// Drained source leaves the runqueue and its scheduler hears about it.
	if src.Sched.Slices == 0 {
		if src.Sched.State == ThdRunning || src.Sched.State == ThdReady {
			k.runDel(src)
			src.Sched.State = ThdTimeout
		}
		k.runNotif(cl, src)
	}

	k.Port.SetSyscallRet(reg, Ret(dst.Sched.Slices))

	if dst.Sched.State == ThdTimeout {
		dst.Sched.State = ThdReady
		k.runIns(dst)
	}

	k.kernHigh(cl, reg)

	return 0
}

// ThdSwt switches to a named thread of the same priority on this CPU, or
// lets the kernel pick the highest-priority ready thread when capThd is
// negative. A full yield surrenders all remaining finite slices first.
func (k *Kernel) ThdSwt(cl *CPULocal, ct *Captbl, reg RegSet, capThd Cid, fullYield bool) Ret {
	var next *Thd

	if capThd >= 0 {
		nextOp, r := k.capGet(ct, capThd, CapThd)
		if r != 0 {
			return r
		}
		if r = capCheck(nextOp, ThdFlagSwt); r != 0 {
			return r
		}

		next = nextOp.Thd()
		if next.Sched.Local.Load() != cl {
			return ErrPthInvState
		}
		if cl.CurThd.Sched.Prio != next.Sched.Prio {
			return ErrPthPrio
		}
		if next.Sched.State == ThdBlocked || next.Sched.State == ThdTimeout {
			return ErrPthInvState
		}
		if next.Sched.State == ThdFault {
			return ErrPthFault
		}

		if fullYield && cl.CurThd.Sched.Slices < ThdInfTime {
			k.runDel(cl.CurThd)
			cl.CurThd.Sched.Slices = 0
			cl.CurThd.Sched.State = ThdTimeout
			k.runNotif(cl, cl.CurThd)
			// The notification may have woken someone; re-validate the pick,
			// and never switch to our own exhausted self.
			high := k.runHigh(cl)
			if high.Sched.Prio > next.Sched.Prio || cl.CurThd == next {
				next = high
			}
		} else {
			cl.CurThd.Sched.State = ThdReady
		}
	} else {
		if fullYield && cl.CurThd.Sched.Slices < ThdInfTime {
			k.runDel(cl.CurThd)
			cl.CurThd.Sched.Slices = 0
			cl.CurThd.Sched.State = ThdTimeout
			k.runNotif(cl, cl.CurThd)
		} else {
			// Rotate within the priority FIFO so a same-priority peer runs.
			k.runDel(cl.CurThd)
			k.runIns(cl.CurThd)
			cl.CurThd.Sched.State = ThdReady
		}

		next = k.runHigh(cl)
	}

	k.Port.SetSyscallRet(reg, 0)

	next.Sched.State = ThdRunning
	if cl.CurThd == next {
		return 0
	}

	k.runSwt(reg, cl.CurThd, next)
	cl.CurThd = next

	return 0
}
