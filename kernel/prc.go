package kernel

import "sync/atomic"

// Prc is a process: a protection domain binding a capability table to a page
// table. The reference count tracks the threads and invocations naming it.
type Prc struct {
	Refcnt atomic.Int32

	// Captbl and Pgt point at the capability slots, not the raw objects; the
	// process holds one reference on each. Replacement is a CAS.
	Captbl atomic.Pointer[Slot]
	Pgt    atomic.Pointer[Slot]
}

// prcInitRefs wires the capability table and page table into a fresh process
// and takes the references, rolling everything back on overflow.
func (k *Kernel) prcInitRefs(p *Prc, cptOp, pgtOp *Slot, crt *Slot, vaddr Ptr) Ret {
	p.Captbl.Store(cptOp)
	if r := cptOp.refInc(); r != 0 {
		k.assert(k.Kot.Erase(vaddr, PrcSize) == nil)
		crt.revert()

		return r
	}

	p.Pgt.Store(pgtOp)
	if r := pgtOp.refInc(); r != 0 {
		cptOp.refDec()
		k.assert(k.Kot.Erase(vaddr, PrcSize) == nil)
		crt.revert()

		return r
	}

	return 0
}

// PrcBootCrt creates a boot-time process. The resulting capability does not
// allow replacing the tables, and the process itself is born referenced so
// it can never be deleted.
func (k *Kernel) PrcBootCrt(ct *Captbl, capCptCrt, capPrc, capCpt, capPgt Cid, vaddr Ptr) Ret {
	crtTbl, r := k.capGet(ct, capCptCrt, CapCpt)
	if r != 0 {
		return r
	}
	cptOp, r := k.capGet(ct, capCpt, CapCpt)
	if r != 0 {
		return r
	}
	pgtOp, r := k.capGet(ct, capPgt, CapPgt)
	if r != 0 {
		return r
	}
	if r = capCheck(crtTbl, CptFlagCrt); r != 0 {
		return r
	}
	if r = capCheck(cptOp, CptFlagPrcCrt); r != 0 {
		return r
	}
	if r = capCheck(pgtOp, PgtFlagPrcCrt); r != 0 {
		return r
	}

	crt, r := capSlot(crtTbl, capPrc)
	if r != 0 {
		return r
	}
	if r = crt.occupy(); r != 0 {
		return r
	}

	if k.Kot.Mark(vaddr, PrcSize) != nil {
		crt.revert()

		return ErrCapKot
	}

	p := &Prc{}
	p.Refcnt.Store(1)

	crt.Parent = nil
	crt.obj = p
	crt.Vaddr = vaddr
	crt.ObjSize = PrcSize
	crt.Flags = PrcFlagInv | PrcFlagThd
	crt.RangeLow = 0
	crt.RangeHigh = 0

	if r = k.prcInitRefs(p, cptOp, pgtOp, crt, vaddr); r != 0 {
		return r
	}

	crt.publish(CapPrc, 0)

	return 0
}

// PrcCrt creates a process from a kernel memory capability.
func (k *Kernel) PrcCrt(ct *Captbl, capCptCrt, capKom, capPrc, capCpt, capPgt Cid, raddr Ptr) Ret {
	crtTbl, r := k.capGet(ct, capCptCrt, CapCpt)
	if r != 0 {
		return r
	}
	cptOp, r := k.capGet(ct, capCpt, CapCpt)
	if r != 0 {
		return r
	}
	pgtOp, r := k.capGet(ct, capPgt, CapPgt)
	if r != 0 {
		return r
	}
	kom, r := k.capGet(ct, capKom, CapKom)
	if r != 0 {
		return r
	}
	if r = capCheck(crtTbl, CptFlagCrt); r != 0 {
		return r
	}
	if r = capCheck(cptOp, CptFlagPrcCrt); r != 0 {
		return r
	}
	if r = capCheck(pgtOp, PgtFlagPrcCrt); r != 0 {
		return r
	}
	vaddr, r := komCheck(kom, KomFlagPrc, raddr, PrcSize)
	if r != 0 {
		return r
	}

	crt, r := capSlot(crtTbl, capPrc)
	if r != 0 {
		return r
	}
	if r = crt.occupy(); r != 0 {
		return r
	}

	if k.Kot.Mark(vaddr, PrcSize) != nil {
		crt.revert()

		return ErrCapKot
	}

	p := &Prc{}

	crt.Parent = nil
	crt.obj = p
	crt.Vaddr = vaddr
	crt.ObjSize = PrcSize
	crt.Flags = PrcFlagAll
	crt.RangeLow = 0
	crt.RangeHigh = 0

	if r = k.prcInitRefs(p, cptOp, pgtOp, crt, vaddr); r != 0 {
		return r
	}

	crt.publish(CapPrc, 0)

	return 0
}

// PrcDel deletes a process. It refuses while any thread or invocation still
// names the process.
func (k *Kernel) PrcDel(ct *Captbl, capCpt, capPrc Cid) Ret {
	op, r := k.capGet(ct, capCpt, CapCpt)
	if r != 0 {
		return r
	}
	if r = capCheck(op, CptFlagDel); r != 0 {
		return r
	}

	del, r := capSlot(op, capPrc)
	if r != 0 {
		return r
	}
	tr, r := k.delCheck(del, CapPrc)
	if r != 0 {
		return r
	}

	p := del.Prc()
	if p.Refcnt.Load() != 0 {
		del.defrost(tr)

		return ErrPthRefcnt
	}

	vaddr, size := del.Vaddr, del.ObjSize
	if r = del.remDel(tr); r != 0 {
		return r
	}

	p.Captbl.Load().refDec()
	p.Pgt.Load().refDec()
	k.assert(k.Kot.Erase(vaddr, size) == nil)

	return 0
}

// PrcCpt replaces a process's capability table.
func (k *Kernel) PrcCpt(ct *Captbl, capPrc, capCpt Cid) Ret {
	prcOp, r := k.capGet(ct, capPrc, CapPrc)
	if r != 0 {
		return r
	}
	cptNew, r := k.capGet(ct, capCpt, CapCpt)
	if r != 0 {
		return r
	}
	if r = capCheck(prcOp, PrcFlagCpt); r != 0 {
		return r
	}
	if r = capCheck(cptNew, CptFlagPrcCpt); r != 0 {
		return r
	}

	// Reference the new table first; that way failure reverts trivially.
	if r = cptNew.refInc(); r != 0 {
		return r
	}

	p := prcOp.Prc()
	old := p.Captbl.Load()
	if !p.Captbl.CompareAndSwap(old, cptNew) {
		cptNew.refDec()

		return ErrPthConflict
	}
	old.refDec()

	return 0
}

// PrcPgt replaces a process's page table.
func (k *Kernel) PrcPgt(ct *Captbl, capPrc, capPgt Cid) Ret {
	prcOp, r := k.capGet(ct, capPrc, CapPrc)
	if r != 0 {
		return r
	}
	pgtNew, r := k.capGet(ct, capPgt, CapPgt)
	if r != 0 {
		return r
	}
	if r = capCheck(prcOp, PrcFlagPgt); r != 0 {
		return r
	}
	if r = capCheck(pgtNew, PgtFlagPrcPgt); r != 0 {
		return r
	}

	if r = pgtNew.refInc(); r != 0 {
		return r
	}

	p := prcOp.Prc()
	old := p.Pgt.Load()
	if !p.Pgt.CompareAndSwap(old, pgtNew) {
		pgtNew.refDec()

		return ErrPthConflict
	}
	old.refDec()

	return 0
}
