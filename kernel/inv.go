package kernel

import "sync/atomic"

// Inv is a synchronous invocation stub: an entry point and stack in a callee
// process, activated by migrating the caller's thread into that process.
type Inv struct {
	Prc    *Prc
	Active atomic.Uint32
	Entry  Ptr
	Stack  Ptr
	// FaultRetFlag permits the fault handler to force a return through this
	// invocation instead of killing the thread.
	FaultRetFlag bool
	// Ret saves the caller's minimal register state for the return trip.
	Ret Iret
	// Head links the stub into the owning thread's invocation stack.
	Head List
}

// InvTop returns the thread's innermost active invocation, nil when the
// stack is empty. Port debug operations peek at it.
func (t *Thd) InvTop() *Inv { return invTop(t) }

// invTop returns the innermost active invocation of a thread, nil if the
// stack is empty.
func invTop(t *Thd) *Inv {
	if t.InvStack.empty() {
		return nil
	}

	return t.InvStack.Next.Owner.(*Inv)
}

// InvCrt creates an invocation stub in a callee process.
func (k *Kernel) InvCrt(ct *Captbl, capCpt, capKom, capInv, capPrc Cid, raddr Ptr) Ret {
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
	if r = capCheck(prcOp, PrcFlagInv); r != 0 {
		return r
	}
	vaddr, r := komCheck(kom, KomFlagInv, raddr, InvSize)
	if r != 0 {
		return r
	}

	crt, r := capSlot(op, capInv)
	if r != 0 {
		return r
	}
	if r = crt.occupy(); r != 0 {
		return r
	}

	if k.Kot.Mark(vaddr, InvSize) != nil {
		crt.revert()

		return ErrCapKot
	}

	inv := &Inv{Prc: prcOp.Prc()}
	inv.Head.init(inv)
	inv.Prc.Refcnt.Add(1)

	crt.Parent = nil
	crt.obj = inv
	crt.Vaddr = vaddr
	crt.ObjSize = InvSize
	crt.Flags = InvFlagAll

	crt.publish(CapInv, 0)

	return 0
}

// InvDel deletes an invocation stub. An active stub cannot be deleted.
func (k *Kernel) InvDel(ct *Captbl, capCpt, capInv Cid) Ret {
	op, r := k.capGet(ct, capCpt, CapCpt)
	if r != 0 {
		return r
	}
	if r = capCheck(op, CptFlagDel); r != 0 {
		return r
	}

	del, r := capSlot(op, capInv)
	if r != 0 {
		return r
	}
	tr, r := k.delCheck(del, CapInv)
	if r != 0 {
		return r
	}

	inv := del.Inv()
	if inv.Active.Load() != 0 {
		del.defrost(tr)

		return ErrSivAct
	}

	vaddr, size := del.Vaddr, del.ObjSize
	if r = del.remDel(tr); r != 0 {
		return r
	}

	inv.Prc.Refcnt.Add(-1)
	k.assert(k.Kot.Erase(vaddr, size) == nil)

	return 0
}

// InvSet sets an invocation stub's entry point, stack and fault-return
// policy. In-use stubs can be retargeted; the change takes effect on the
// next activation.
func (k *Kernel) InvSet(ct *Captbl, capInv Cid, entry, stack Ptr, faultRet bool) Ret {
	op, r := k.capGet(ct, capInv, CapInv)
	if r != 0 {
		return r
	}
	if r = capCheck(op, InvFlagSet); r != 0 {
		return r
	}

	inv := op.Inv()
	inv.Entry = entry
	inv.Stack = stack
	inv.FaultRetFlag = faultRet

	return 0
}

// InvAct activates an invocation: saves the caller's minimal state, pushes
// the stub on the thread's invocation stack, enters the callee at its entry
// with the parameter, and switches to the callee's page table.
func (k *Kernel) InvAct(cl *CPULocal, ct *Captbl, reg RegSet, capInv Cid, param Ptr) Ret {
	op, r := k.capGet(ct, capInv, CapInv)
	if r != 0 {
		return r
	}
	if r = capCheck(op, InvFlagAct); r != 0 {
		return r
	}

	inv := op.Inv()
	if inv.Active.Load() != 0 {
		return ErrSivAct
	}

	t := cl.CurThd
	if !inv.Active.CompareAndSwap(0, 1) {
		return ErrSivAct
	}

	// Only SP and LR need saving; everything else is caller-saved at user
	// level, and the coprocessor state is consistent across the call.
	k.Port.InvRegSave(&inv.Ret, reg)
	listIns(&inv.Head, &t.InvStack, t.InvStack.Next)
	k.Port.ThdRegInit(inv.Entry, inv.Stack, param, reg)

	// Synchronous invocation is for crossing processes; switch page tables
	// unconditionally.
	k.Port.PgtSet(inv.Prc.Pgt.Load().Pgt())

	return 0
}

// InvRet returns from the innermost invocation, restoring the caller's
// SP/LR, writing the return value into the invocation-return register and
// reactivating the page table underneath. The forced path is taken on
// faults and consults the stub's fault-return policy.
func (k *Kernel) InvRet(cl *CPULocal, reg RegSet, retval Ret, fault bool) Ret {
	t := cl.CurThd
	inv := invTop(t)
	if inv == nil {
		return ErrSivEmpty
	}

	if fault && !inv.FaultRetFlag {
		return ErrSivFault
	}

	listDel(inv.Head.Prev, inv.Head.Next)

	k.Port.InvRegRestore(reg, &inv.Ret)
	k.Port.SetInvRet(reg, retval)

	// Release store so the return value cannot be torn by a re-activation.
	inv.Active.Store(0)

	if fault {
		k.Port.SetSyscallRet(reg, ErrSivFault)
	} else {
		k.Port.SetSyscallRet(reg, 0)
	}

	if next := invTop(t); next != nil {
		k.Port.PgtSet(next.Prc.Pgt.Load().Pgt())
	} else {
		k.Port.PgtSet(t.Sched.Prc.Pgt.Load().Pgt())
	}

	return 0
}
