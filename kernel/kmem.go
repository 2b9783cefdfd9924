package kernel

// Kernel memory capabilities authorize creation of selected object kinds
// within a physical sub-range of the kernel pool. They carry no backing
// object; the range and the kind bitmask live in the slot itself.

// komCheck validates a creation of size bytes at relative address raddr
// against a KOM capability, returning the absolute address.
func komCheck(kom *Slot, kind, raddr, size Ptr) (Ptr, Ret) {
	if r := capCheck(kom, kind); r != 0 {
		return 0, r
	}

	vaddr := kom.RangeLow + raddr
	if vaddr < kom.RangeLow {
		return 0, ErrCapFlag
	}
	end := vaddr + size - 1
	if end < vaddr || vaddr < kom.RangeLow || end > kom.RangeHigh {
		return 0, ErrCapFlag
	}

	return vaddr, 0
}

// KomBootCrt creates the boot-time kernel memory capability covering
// [start, end]. The end address is inclusive. Both are rounded to the slot
// granularity unconditionally.
func (k *Kernel) KomBootCrt(ct *Captbl, capCpt, capKom Cid, start, end, flags Ptr) Ret {
	op, r := k.capGet(ct, capCpt, CapCpt)
	if r != 0 {
		return r
	}
	if r = capCheck(op, CptFlagCrt); r != 0 {
		return r
	}

	crt, r := capSlot(op, capKom)
	if r != 0 {
		return r
	}
	if r = crt.occupy(); r != 0 {
		return r
	}

	komEnd := RoundDown(end+1, KmemSlotOrder)
	komStart := RoundUp(start, KmemSlotOrder)
	k.assert(flags != 0 && komEnd > komStart)

	crt.Parent = nil
	crt.obj = nil
	crt.Vaddr = 0
	crt.ObjSize = 0
	crt.Flags = flags
	crt.RangeLow = komStart
	crt.RangeHigh = komEnd - 1

	// Born referenced so it can never be deleted.
	crt.publish(CapKom, 1)

	return 0
}
