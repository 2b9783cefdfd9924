package kernel

// Kernel function capabilities gate port-specific privileged operations by
// function id range. They carry no backing object.

// KfnBootCrt creates the boot-time kernel function capability covering the
// full id range. It is born referenced and therefore undeletable.
func (k *Kernel) KfnBootCrt(ct *Captbl, capCpt, capKfn Cid) Ret {
	op, r := k.capGet(ct, capCpt, CapCpt)
	if r != 0 {
		return r
	}
	if r = capCheck(op, CptFlagCrt); r != 0 {
		return r
	}

	crt, r := capSlot(op, capKfn)
	if r != 0 {
		return r
	}
	if r = crt.occupy(); r != 0 {
		return r
	}

	crt.Parent = nil
	crt.obj = nil
	crt.Vaddr = 0
	crt.ObjSize = 0
	crt.Flags = 0
	crt.RangeLow = 0
	crt.RangeHigh = KfnFullRange

	crt.publish(CapKfn, 1)

	return 0
}

// KfnAct dispatches a kernel function if the capability's id range allows
// it. The port handler sets extra return values itself; on failure no
// context switch happens.
func (k *Kernel) KfnAct(cl *CPULocal, ct *Captbl, reg RegSet, capKfn Cid, fid, sid, param1, param2 Ptr) Ret {
	op, r := k.capGet(ct, capKfn, CapKfn)
	if r != 0 {
		return r
	}

	if fid > op.RangeHigh || fid < op.RangeLow {
		return ErrCapFlag
	}

	return k.Port.KfnAct(k, cl, ct, reg, fid, sid, param1, param2)
}
