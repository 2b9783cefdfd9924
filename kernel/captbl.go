package kernel

// Captbl is a capability table: a contiguous ordered sequence of capability
// slots. It is the namespace root of every user-visible name.
type Captbl struct {
	EntryNum Ptr
	Slots    []Slot
}

// capGet resolves a capability id against the master table and checks the
// type tag. A 2-level id resolves its outer index to a CPT capability first.
// The final frozen/flag check is left to capCheck, mirroring the split
// between name resolution and permission checking.
func (k *Kernel) capGet(ct *Captbl, cid Cid, typ Ptr) (*Slot, Ret) {
	if cid < 0 {
		return nil, ErrCapRange
	}

	id := Ptr(cid)
	tbl := ct

	if id&capid2LFlag != 0 {
		outer := (id & capidOuter) >> 8
		if outer >= tbl.EntryNum {
			return nil, ErrCapRange
		}

		oslot := &tbl.Slots[outer]
		tr := oslot.load()
		switch {
		case capTypeOf(tr) == CapNop:
			return nil, ErrCapNull
		case capTypeOf(tr) != CapCpt:
			return nil, ErrCapType
		case tr&capFrozen != 0:
			return nil, ErrCapFrozen
		}

		tbl = oslot.Captbl()
		id &= capidInner
	}

	if id >= tbl.EntryNum {
		return nil, ErrCapRange
	}

	s := &tbl.Slots[id]
	tr := s.load()
	if capTypeOf(tr) == CapNop {
		return nil, ErrCapNull
	}
	if capTypeOf(tr) != typ {
		return nil, ErrCapType
	}

	return s, 0
}

// CapGet resolves a capability id for port code implementing kernel
// functions; it is the same resolution the dispatcher uses.
func (k *Kernel) CapGet(ct *Captbl, cid Cid, typ Ptr) (*Slot, Ret) {
	return k.capGet(ct, cid, typ)
}

// CapCheck is the frozen-and-flags check for port code.
func CapCheck(s *Slot, flags Ptr) Ret { return capCheck(s, flags) }

// capSlot returns the idx-th slot of the table behind a CPT capability,
// bounds-checked. This is the 1-level access used for destination slots.
func capSlot(op *Slot, idx Cid) (*Slot, Ret) {
	ct := op.Captbl()
	if idx < 0 || Ptr(idx) >= ct.EntryNum {
		return nil, ErrCapRange
	}

	return &ct.Slots[idx], 0
}

// initCaptbl publishes a fresh table object into a claimed slot.
func initCaptbl(s *Slot, ct *Captbl, vaddr Ptr) {
	s.Parent = nil
	s.obj = ct
	s.Vaddr = vaddr
	s.ObjSize = CptSize(ct.EntryNum)
	s.Flags = CptFlagAll
	s.RangeLow = 0
	s.RangeHigh = 0
}

// CptBootInit creates the first boot-time capability table, holding its own
// capability at capCpt. No kernel memory capability is needed. Returns
// capCpt on success.
func (k *Kernel) CptBootInit(capCpt Cid, vaddr, entryNum Ptr) (*Captbl, Ret) {
	if entryNum == 0 || entryNum > Capid2L {
		return nil, ErrCapRange
	}
	if capCpt < 0 || Ptr(capCpt) >= entryNum {
		return nil, ErrCapRange
	}

	if k.Kot.Mark(vaddr, CptSize(entryNum)) != nil {
		return nil, ErrCapKot
	}

	ct := &Captbl{EntryNum: entryNum, Slots: make([]Slot, entryNum)}
	s := &ct.Slots[capCpt]
	initCaptbl(s, ct, vaddr)
	s.publish(CapCpt, 0)

	return ct, Ret(capCpt)
}

// CptBootCrt creates a boot-time capability table without a kernel memory
// capability.
func (k *Kernel) CptBootCrt(ct *Captbl, capCptCrt, capCrt Cid, vaddr, entryNum Ptr) Ret {
	if entryNum == 0 || entryNum > Capid2L {
		return ErrCapRange
	}

	op, r := k.capGet(ct, capCptCrt, CapCpt)
	if r != 0 {
		return r
	}
	if r = capCheck(op, CptFlagCrt); r != 0 {
		return r
	}

	crt, r := capSlot(op, capCrt)
	if r != 0 {
		return r
	}
	if r = crt.occupy(); r != 0 {
		return r
	}

	if k.Kot.Mark(vaddr, CptSize(entryNum)) != nil {
		crt.revert()

		return ErrCapKot
	}

	initCaptbl(crt, &Captbl{EntryNum: entryNum, Slots: make([]Slot, entryNum)}, vaddr)
	crt.publish(CapCpt, 0)

	return 0
}

// CptCrt creates a capability table, allocating its backing storage from a
// kernel memory capability at the given relative address.
func (k *Kernel) CptCrt(ct *Captbl, capCptCrt, capKom, capCrt Cid, raddr, entryNum Ptr) Ret {
	if entryNum == 0 || entryNum > Capid2L {
		return ErrCapRange
	}

	op, r := k.capGet(ct, capCptCrt, CapCpt)
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
	vaddr, r := komCheck(kom, KomFlagCpt, raddr, CptSize(entryNum))
	if r != 0 {
		return r
	}

	crt, r := capSlot(op, capCrt)
	if r != 0 {
		return r
	}
	if r = crt.occupy(); r != 0 {
		return r
	}

	if k.Kot.Mark(vaddr, CptSize(entryNum)) != nil {
		crt.revert()

		return ErrCapKot
	}

	initCaptbl(crt, &Captbl{EntryNum: entryNum, Slots: make([]Slot, entryNum)}, vaddr)
	crt.publish(CapCpt, 0)

	return 0
}

// CptDel deletes a capability table. It refuses if any slot inside is still
// occupied; the user bounds this scan by bounding the entry count.
func (k *Kernel) CptDel(ct *Captbl, capCptDel, capDel Cid) Ret {
	op, r := k.capGet(ct, capCptDel, CapCpt)
	if r != 0 {
		return r
	}
	if r = capCheck(op, CptFlagDel); r != 0 {
		return r
	}

	del, r := capSlot(op, capDel)
	if r != 0 {
		return r
	}
	tr, r := k.delCheck(del, CapCpt)
	if r != 0 {
		return r
	}

	obj := del.Captbl()
	for i := Ptr(0); i < obj.EntryNum; i++ {
		if obj.Slots[i].Type() != CapNop {
			del.defrost(tr)

			return ErrCapExist
		}
	}

	vaddr, size := del.Vaddr, del.ObjSize
	if r = del.remDel(tr); r != 0 {
		return r
	}
	k.assert(k.Kot.Erase(vaddr, size) == nil)

	return 0
}

// CptFrz freezes a capability in preparation for deletion or removal.
func (k *Kernel) CptFrz(ct *Captbl, capCptFrz, capFrz Cid) Ret {
	op, r := k.capGet(ct, capCptFrz, CapCpt)
	if r != 0 {
		return r
	}
	if r = capCheck(op, CptFlagFrz); r != 0 {
		return r
	}

	frz, r := capSlot(op, capFrz)
	if r != 0 {
		return r
	}

	tr := frz.load()
	switch {
	case capTypeOf(tr) == CapNop:
		return ErrCapNull
	case capRefOf(tr) != 0:
		return ErrCapRefcnt
	case tr&capFrozen != 0:
		return ErrCapFrozen
	}
	if !k.quiescent(frz.Timestamp) {
		return ErrCapQuie
	}

	frz.Timestamp = k.Timestamp()
	if !frz.typeRef.CompareAndSwap(tr, tr|capFrozen) {
		return ErrCapExist
	}

	return 0
}

// CptAdd delegates one capability into another table with narrowed rights.
// The flags word narrows per-variant: operation bitmask for most types, a
// position range for PGT, a function id range for KFN, and an address range
// plus object-kind bitmask (in ext) for KOM. Narrowing never widens.
func (k *Kernel) CptAdd(ct *Captbl, capCptDst, capDst, capCptSrc, capSrc Cid, flags, ext Ptr) Ret {
	dstTbl, r := k.capGet(ct, capCptDst, CapCpt)
	if r != 0 {
		return r
	}
	srcTbl, r := k.capGet(ct, capCptSrc, CapCpt)
	if r != 0 {
		return r
	}
	if r = capCheck(dstTbl, CptFlagAddDst); r != 0 {
		return r
	}
	if r = capCheck(srcTbl, CptFlagAddSrc); r != 0 {
		return r
	}

	dst, r := capSlot(dstTbl, capDst)
	if r != 0 {
		return r
	}
	src, r := capSlot(srcTbl, capSrc)
	if r != 0 {
		return r
	}

	tr := src.load()
	if tr&capFrozen != 0 {
		return ErrCapFrozen
	}
	if tr == 0 {
		return ErrCapNull
	}
	typ := capTypeOf(tr)

	var komStart, komEnd, komFlags Ptr

	switch typ {
	case CapPgt:
		// The delegated position range may only shrink, and the operation
		// flags may only narrow.
		if pgtFlagHigh(flags) > src.RangeHigh || pgtFlagLow(flags) < src.RangeLow ||
			pgtFlagHigh(flags) < pgtFlagLow(flags) {
			return ErrCapFlag
		}
		if pgtFlagFlags(flags) == 0 || pgtFlagFlags(flags)&^src.Flags != 0 {
			return ErrCapFlag
		}
	case CapKfn:
		// Kernel function capabilities only have id ranges, no flags.
		if kfnFlagHigh(flags) > src.RangeHigh || kfnFlagLow(flags) < src.RangeLow ||
			kfnFlagHigh(flags) < kfnFlagLow(flags) {
			return ErrCapFlag
		}
	case CapKom:
		komEnd = komFlagEnd(flags)
		komStart = komFlagStart(flags)
		komFlags = ext

		// Round to the slot boundary unconditionally.
		komEnd = RoundDown(komEnd, KmemSlotOrder)
		komStart = RoundUp(komStart, KmemSlotOrder)
		if komEnd <= komStart {
			return ErrCapFlag
		}

		// Relative to absolute, with overflow checks.
		komStart += src.RangeLow
		if komStart < src.RangeLow {
			return ErrCapFlag
		}
		komEnd += src.RangeLow
		if komEnd < src.RangeLow {
			return ErrCapFlag
		}
		if src.RangeLow > komStart || src.RangeHigh < komEnd-1 {
			return ErrCapFlag
		}

		if komFlags == 0 || komFlags&^src.Flags != 0 {
			return ErrCapFlag
		}
	default:
		if flags == 0 || flags&^src.Flags != 0 {
			return ErrCapFlag
		}
	}

	if dst.load() != 0 {
		return ErrCapExist
	}
	if r = dst.occupy(); r != 0 {
		return r
	}

	// Replicate the capability with the narrowed rights.
	dst.obj = src.obj
	dst.Vaddr = src.Vaddr
	dst.ObjSize = src.ObjSize
	dst.Base = src.Base
	dst.Order = src.Order

	switch typ {
	case CapPgt:
		dst.Flags = pgtFlagFlags(flags)
		dst.RangeLow = pgtFlagLow(flags)
		dst.RangeHigh = pgtFlagHigh(flags)
	case CapKfn:
		dst.Flags = 0
		dst.RangeLow = kfnFlagLow(flags)
		dst.RangeHigh = kfnFlagHigh(flags)
	case CapKom:
		dst.Flags = komFlags
		dst.RangeLow = komStart
		dst.RangeHigh = komEnd - 1
	default:
		dst.Flags = flags
		dst.RangeLow = src.RangeLow
		dst.RangeHigh = src.RangeHigh
	}

	dst.Parent = src
	if r = src.refInc(); r != 0 {
		dst.revert()

		return r
	}

	dst.publish(typ, 0)

	return 0
}

// CptRem removes one delegated capability, reverting the delegation. The
// backing object is untouched; only the parent's reference count drops.
func (k *Kernel) CptRem(ct *Captbl, capCptRem, capRem Cid) Ret {
	op, r := k.capGet(ct, capCptRem, CapCpt)
	if r != 0 {
		return r
	}
	if r = capCheck(op, CptFlagRem); r != 0 {
		return r
	}

	rem, r := capSlot(op, capRem)
	if r != 0 {
		return r
	}
	tr, r := k.remCheck(rem)
	if r != 0 {
		return r
	}

	parent := rem.Parent
	if r = rem.remDel(tr); r != 0 {
		return r
	}
	parent.refDec()

	return 0
}
