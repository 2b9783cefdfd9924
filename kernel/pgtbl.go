package kernel

// The generic page table layer. A page table capability carries the table
// geometry: each entry covers 2^sizeOrder bytes and there are 2^numOrder
// entries; top-level tables are tagged in the base address and carry the
// architecture's auxiliary data. The table contents themselves belong to the
// port driver. Virtual addresses equal physical addresses on the represented
// targets, so delegation enforces identity mapping.

// PgtOrder packs the size and number orders of a page table.
func PgtOrder(sizeOrder, numOrder Ptr) Ptr { return sizeOrder<<8 | numOrder }

// PgtSizeOrd extracts the size order from a packed geometry word.
func PgtSizeOrd(order Ptr) Ptr { return order >> 8 }

// PgtNumOrd extracts the number order from a packed geometry word.
func PgtNumOrd(order Ptr) Ptr { return order & 0xFF }

// PgtStart strips the top-level tag from a base address.
func PgtStart(base Ptr) Ptr { return base &^ PgtTop }

// PgtIsTop reports whether a base address is tagged top-level.
func PgtIsTop(base Ptr) bool { return base&PgtTop != 0 }

// pgtFullRange is the position range of a freshly created table capability.
const pgtFullRange Ptr = 0xFFF

func (k *Kernel) pgtSize(top bool, numOrder Ptr) Ptr {
	if top {
		return k.Port.PgtSizeTop(numOrder)
	}

	return k.Port.PgtSizeNom(numOrder)
}

// pgtCrtCommon performs the shared half of page table creation once the
// backing address is known.
func (k *Kernel) pgtCrtCommon(op *Slot, capPgt Cid, vaddr, base, topFlag, sizeOrder, numOrder Ptr) Ret {
	if sizeOrder+numOrder > 1<<WordOrder {
		return ErrPgtHW
	}

	top := topFlag != 0
	if r := k.Port.PgtCheck(base, top, sizeOrder, numOrder, vaddr); r != 0 {
		return ErrPgtHW
	}

	// The start address must be aligned to the total order of the table.
	if sizeOrder+numOrder < 1<<WordOrder {
		if base&((1<<(sizeOrder+numOrder))-1) != 0 {
			return ErrPgtHW
		}
	} else if base != 0 {
		return ErrPgtHW
	}

	crt, r := capSlot(op, capPgt)
	if r != 0 {
		return r
	}
	if r = crt.occupy(); r != 0 {
		return r
	}

	size := k.pgtSize(top, numOrder)
	if k.Kot.Mark(vaddr, size) != nil {
		crt.revert()

		return ErrCapKot
	}

	crt.Parent = nil
	crt.obj = nil
	crt.Vaddr = vaddr
	crt.ObjSize = size
	crt.Flags = PgtFlagAll
	crt.RangeLow = 0
	crt.RangeHigh = pgtFullRange
	if top {
		crt.Base = base | PgtTop
	} else {
		crt.Base = base
	}
	crt.Order = PgtOrder(sizeOrder, numOrder)

	if k.Port.PgtInit(crt) != 0 {
		k.assert(k.Kot.Erase(vaddr, size) == nil)
		crt.revert()

		return ErrPgtHW
	}

	crt.publish(CapPgt, 0)

	return 0
}

// PgtBootCrt creates a boot-time page table without a kernel memory
// capability.
func (k *Kernel) PgtBootCrt(ct *Captbl, capCpt, capPgt Cid, vaddr, base, topFlag, sizeOrder, numOrder Ptr) Ret {
	op, r := k.capGet(ct, capCpt, CapCpt)
	if r != 0 {
		return r
	}
	if r = capCheck(op, CptFlagCrt); r != 0 {
		return r
	}

	return k.pgtCrtCommon(op, capPgt, vaddr, base, topFlag, sizeOrder, numOrder)
}

// PgtCrt creates a page table from a kernel memory capability.
func (k *Kernel) PgtCrt(ct *Captbl, capCpt, capKom, capPgt Cid, raddr, base, topFlag, sizeOrder, numOrder Ptr) Ret {
	if sizeOrder+numOrder > 1<<WordOrder {
		return ErrPgtHW
	}

	op, r := k.capGet(ct, capCpt, CapCpt)
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

	vaddr, r := komCheck(kom, KomFlagPgt, raddr, k.pgtSize(topFlag != 0, numOrder))
	if r != 0 {
		return r
	}

	return k.pgtCrtCommon(op, capPgt, vaddr, base, topFlag, sizeOrder, numOrder)
}

// PgtDel deletes a page table. The port refuses while the table is
// referenced by a parent or still references child directories.
func (k *Kernel) PgtDel(ct *Captbl, capCpt, capPgt Cid) Ret {
	op, r := k.capGet(ct, capCpt, CapCpt)
	if r != 0 {
		return r
	}
	if r = capCheck(op, CptFlagDel); r != 0 {
		return r
	}

	del, r := capSlot(op, capPgt)
	if r != 0 {
		return r
	}
	tr, r := k.delCheck(del, CapPgt)
	if r != 0 {
		return r
	}

	if k.Port.PgtDelCheck(del) != 0 {
		del.defrost(tr)

		return ErrPgtHW
	}

	vaddr, size := del.Vaddr, del.ObjSize
	if r = del.remDel(tr); r != 0 {
		return r
	}
	k.assert(k.Kot.Erase(vaddr, size) == nil)

	return 0
}

// PgtAdd delegates a page from one directory to another. This is the only
// way pages enter new tables after boot. Index selects which fraction of the
// source page backs the (smaller or equal) destination page.
func (k *Kernel) PgtAdd(ct *Captbl, capPgtDst Cid, posDst, flagsDst Ptr, capPgtSrc Cid, posSrc, index Ptr) Ret {
	dst, r := k.capGet(ct, capPgtDst, CapPgt)
	if r != 0 {
		return r
	}
	src, r := k.capGet(ct, capPgtSrc, CapPgt)
	if r != 0 {
		return r
	}
	if r = capCheck(dst, PgtFlagAddDst); r != 0 {
		return r
	}
	if r = capCheck(src, PgtFlagAddSrc); r != 0 {
		return r
	}

	// The operation range confinement is page table specific.
	if posDst > dst.RangeHigh || posDst < dst.RangeLow ||
		posSrc > src.RangeHigh || posSrc < src.RangeLow {
		return ErrCapFlag
	}

	if PgtSizeOrd(dst.Order) > PgtSizeOrd(src.Order) {
		return ErrPgtAddr
	}
	if posDst>>PgtNumOrd(dst.Order) != 0 || posSrc>>PgtNumOrd(src.Order) != 0 {
		return ErrPgtAddr
	}

	// The sub-page index must stay inside the source page.
	srcSizeOrd := PgtSizeOrd(src.Order)
	if srcSizeOrd < 1<<WordOrder {
		if uint64(index)<<PgtSizeOrd(dst.Order) >= uint64(1)<<srcSizeOrd {
			return ErrPgtAddr
		}
	}

	paddrSrc, flagsSrc, ret := k.Port.PgtLookup(src, posSrc)
	if ret != 0 {
		return ErrPgtHW
	}

	paddrDst := paddrSrc + index<<PgtSizeOrd(dst.Order)

	// Identity mapping is enforced.
	if paddrDst != posDst<<PgtSizeOrd(dst.Order)+PgtStart(dst.Base) {
		return ErrPgtAddr
	}

	// Permissions never expand.
	if flagsDst&^flagsSrc != 0 {
		return ErrPgtPerm
	}

	if ret := k.Port.PgtPageMap(dst, paddrDst, posDst, flagsDst); ret != 0 {
		return ret
	}

	return 0
}

// PgtBootAdd maps a page directly during boot, bypassing delegation.
func (k *Kernel) PgtBootAdd(ct *Captbl, capPgt Cid, paddr, pos, flags Ptr) Ret {
	pgt, r := k.capGet(ct, capPgt, CapPgt)
	if r != 0 {
		return r
	}
	if r = capCheck(pgt, PgtFlagAddDst); r != 0 {
		return r
	}
	if pos>>PgtNumOrd(pgt.Order) != 0 {
		return ErrPgtAddr
	}

	if ret := k.Port.PgtPageMap(pgt, paddr, pos, flags); ret != 0 {
		return ret
	}

	return 0
}

// PgtRem unmaps a page.
func (k *Kernel) PgtRem(ct *Captbl, capPgt Cid, pos Ptr) Ret {
	rem, r := k.capGet(ct, capPgt, CapPgt)
	if r != 0 {
		return r
	}
	if r = capCheck(rem, PgtFlagRem); r != 0 {
		return r
	}
	if pos > rem.RangeHigh || pos < rem.RangeLow {
		return ErrCapFlag
	}
	if pos>>PgtNumOrd(rem.Order) != 0 {
		return ErrPgtAddr
	}

	if ret := k.Port.PgtPageUnmap(rem, pos); ret != 0 {
		return ret
	}

	return 0
}

// pgtConCheck validates a child table construction into a parent slot.
func pgtConCheck(parent, child *Slot, pos Ptr) Ret {
	if pos > parent.RangeHigh || pos < parent.RangeLow {
		return ErrCapFlag
	}
	if pos>>PgtNumOrd(parent.Order) != 0 {
		return ErrPgtAddr
	}

	childTotal := PgtNumOrd(child.Order) + PgtSizeOrd(child.Order)

	// Path compression: the child may cover less than one parent slot, but
	// never more, and must sit inside it at the right address.
	if PgtSizeOrd(parent.Order) < childTotal {
		return ErrPgtAddr
	}

	parentMap := pos<<PgtSizeOrd(parent.Order) + PgtStart(parent.Base)
	if PgtStart(child.Base) < parentMap {
		return ErrPgtAddr
	}
	parentEnd := parentMap + 1<<PgtSizeOrd(parent.Order)
	if parentEnd != 0 {
		if PgtStart(child.Base)+1<<childTotal > parentEnd {
			return ErrPgtAddr
		}
	}

	return 0
}

// PgtCon constructs a child page table into a parent slot.
func (k *Kernel) PgtCon(ct *Captbl, capPgtParent Cid, pos Ptr, capPgtChild Cid, flagsChild Ptr) Ret {
	parent, r := k.capGet(ct, capPgtParent, CapPgt)
	if r != 0 {
		return r
	}
	child, r := k.capGet(ct, capPgtChild, CapPgt)
	if r != 0 {
		return r
	}
	if r = capCheck(parent, PgtFlagConParent); r != 0 {
		return r
	}
	if r = capCheck(child, PgtFlagChild); r != 0 {
		return r
	}
	if r = pgtConCheck(parent, child, pos); r != 0 {
		return r
	}

	if ret := k.Port.PgtPgdirMap(parent, pos, child, flagsChild); ret != 0 {
		return ret
	}

	return 0
}

// PgtBootCon constructs a child table during boot.
func (k *Kernel) PgtBootCon(ct *Captbl, capPgtParent Cid, pos Ptr, capPgtChild Cid, flagsChild Ptr) Ret {
	parent, r := k.capGet(ct, capPgtParent, CapPgt)
	if r != 0 {
		return r
	}
	child, r := k.capGet(ct, capPgtChild, CapPgt)
	if r != 0 {
		return r
	}
	if r = pgtConCheck(parent, child, pos); r != 0 {
		return r
	}

	if ret := k.Port.PgtPgdirMap(parent, pos, child, flagsChild); ret != 0 {
		return ret
	}

	return 0
}

// PgtDes destructs the child table mapped at a parent position.
func (k *Kernel) PgtDes(ct *Captbl, capPgt Cid, pos Ptr) Ret {
	des, r := k.capGet(ct, capPgt, CapPgt)
	if r != 0 {
		return r
	}
	if r = capCheck(des, PgtFlagDesParent); r != 0 {
		return r
	}
	if pos > des.RangeHigh || pos < des.RangeLow {
		return ErrCapFlag
	}
	if pos>>PgtNumOrd(des.Order) != 0 {
		return ErrPgtAddr
	}

	if ret := k.Port.PgtPgdirUnmap(des, pos); ret != 0 {
		return ret
	}

	return 0
}
