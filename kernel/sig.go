package kernel

import "sync/atomic"

// Sig is a signal endpoint: a counting rendezvous with at most one blocked
// receiver. Refcnt counts the schedulers wired to it plus one for kernel
// endpoints.
type Sig struct {
	Refcnt atomic.Int32
	// Num is the pending signal count.
	Num atomic.Uint32
	// Thd is the single blocked receiver, nil when nobody blocks.
	Thd atomic.Pointer[Thd]
}

func (k *Kernel) sigCrtCommon(op *Slot, capSig Cid, vaddr Ptr, kernEP bool) Ret {
	crt, r := capSlot(op, capSig)
	if r != 0 {
		return r
	}
	if r = crt.occupy(); r != 0 {
		return r
	}

	if k.Kot.Mark(vaddr, SigSize) != nil {
		crt.revert()

		return ErrCapKot
	}

	s := &Sig{}
	crt.Parent = nil
	crt.obj = s
	crt.Vaddr = vaddr
	crt.ObjSize = SigSize

	if kernEP {
		// Kernel endpoints are born referenced and receive-only; kernel
		// sends do not consult flags anyway.
		s.Refcnt.Store(1)
		crt.Flags = SigFlagRcv
	} else {
		crt.Flags = SigFlagAll
	}

	crt.publish(CapSig, 0)

	return 0
}

// SigBootCrt creates a boot-time kernel endpoint wired to hardware
// interrupts or the tick.
func (k *Kernel) SigBootCrt(ct *Captbl, capCpt, capSig Cid, vaddr Ptr) Ret {
	op, r := k.capGet(ct, capCpt, CapCpt)
	if r != 0 {
		return r
	}
	if r = capCheck(op, CptFlagCrt); r != 0 {
		return r
	}

	return k.sigCrtCommon(op, capSig, vaddr, true)
}

// SigCrt creates a signal endpoint.
func (k *Kernel) SigCrt(ct *Captbl, capCpt, capKom, capSig Cid, raddr Ptr) Ret {
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
	vaddr, r := komCheck(kom, KomFlagSig, raddr, SigSize)
	if r != 0 {
		return r
	}

	return k.sigCrtCommon(op, capSig, vaddr, false)
}

// SigDel deletes a signal endpoint. It refuses while a receiver blocks on it
// or while a scheduler references it.
func (k *Kernel) SigDel(ct *Captbl, capCpt, capSig Cid) Ret {
	op, r := k.capGet(ct, capCpt, CapCpt)
	if r != 0 {
		return r
	}
	if r = capCheck(op, CptFlagDel); r != 0 {
		return r
	}

	del, r := capSlot(op, capSig)
	if r != 0 {
		return r
	}
	tr, r := k.delCheck(del, CapSig)
	if r != 0 {
		return r
	}

	s := del.Sig()
	if s.Thd.Load() != nil {
		del.defrost(tr)

		return ErrSivAct
	}
	if s.Refcnt.Load() != 0 {
		del.defrost(tr)

		return ErrSivConflict
	}

	vaddr, size := del.Vaddr, del.ObjSize
	if r = del.remDel(tr); r != 0 {
		return r
	}
	k.assert(k.Kot.Erase(vaddr, size) == nil)

	return 0
}

// KernSnd sends to an endpoint from kernel context (ticks, interrupts,
// scheduler notifications). It never preempts in-line; callers defer the
// reselection to handler exit so a burst of sends costs one switch.
func (k *Kernel) KernSnd(cl *CPULocal, s *Sig) Ret {
	t := s.Thd.Load()
	// Only a receiver on our own CPU can be unblocked here.
	unblock := t != nil && t.Sched.Local.Load() == cl

	if unblock {
		// The return value is one even for a multi receive: other cores may
		// drain the count while we are at it.
		k.Port.SetSyscallRet(t.CurReg.Reg, 1)
		if t.Sched.Slices != 0 {
			k.runIns(t)
			t.Sched.State = ThdReady
		} else {
			// All its time was delegated away after it blocked; its parent
			// already heard about that.
			t.Sched.State = ThdTimeout
		}
		s.Thd.Store(nil)

		return 0
	}

	if s.Num.Add(1) > MaxSigNum {
		s.Num.Add(^uint32(0))

		return ErrSivFull
	}

	return 0
}

// SigSnd sends to an endpoint from user level. If a receiver is blocked on
// this CPU it unblocks with return value one and, if it outranks the
// sender, runs immediately.
func (k *Kernel) SigSnd(cl *CPULocal, ct *Captbl, reg RegSet, capSig Cid) Ret {
	op, r := k.capGet(ct, capSig, CapSig)
	if r != 0 {
		return r
	}
	if r = capCheck(op, SigFlagSnd); r != 0 {
		return r
	}

	s := op.Sig()
	t := s.Thd.Load()
	unblock := t != nil && t.Sched.Local.Load() == cl

	if unblock {
		k.Port.SetSyscallRet(reg, 0)
		k.Port.SetSyscallRet(t.CurReg.Reg, 1)

		if t.Sched.Slices != 0 {
			k.runIns(t)
			if t.Sched.Prio > cl.CurThd.Sched.Prio {
				k.runSwt(reg, cl.CurThd, t)
				cl.CurThd.Sched.State = ThdReady
				t.Sched.State = ThdRunning
				cl.CurThd = t
			} else {
				t.Sched.State = ThdReady
			}
		} else {
			t.Sched.State = ThdTimeout
		}

		s.Thd.Store(nil)

		return 0
	}

	if s.Num.Add(1) > MaxSigNum {
		s.Num.Add(^uint32(0))

		return ErrSivFull
	}

	k.Port.SetSyscallRet(reg, 0)

	return 0
}

// SigRcv receives from an endpoint. Single receives take one pending count,
// multi receives take all; blocking receives suspend the caller on empty.
// Boot threads are forbidden to block.
func (k *Kernel) SigRcv(cl *CPULocal, ct *Captbl, reg RegSet, capSig Cid, option Ptr) Ret {
	op, r := k.capGet(ct, capSig, CapSig)
	if r != 0 {
		return r
	}

	switch option {
	case RcvBS:
		r = capCheck(op, SigFlagRcvBS)
	case RcvBM:
		r = capCheck(op, SigFlagRcvBM)
	case RcvNS:
		r = capCheck(op, SigFlagRcvNS)
	case RcvNM:
		r = capCheck(op, SigFlagRcvNM)
	default:
		return ErrSivAct
	}
	if r != 0 {
		return r
	}

	s := op.Sig()
	if s.Thd.Load() != nil {
		// Someone else blocks here already.
		return ErrSivAct
	}

	cur := cl.CurThd
	k.assert(cur.Sched.Slices != 0)

	old := s.Num.Load()
	if old > 0 {
		// CAS rather than a blind decrement: another core may drain the
		// count to zero underneath us.
		if option == RcvBS || option == RcvNS {
			if !s.Num.CompareAndSwap(old, old-1) {
				return ErrSivConflict
			}
			k.Port.SetSyscallRet(reg, 1)
		} else {
			if !s.Num.CompareAndSwap(old, 0) {
				return ErrSivConflict
			}
			k.Port.SetSyscallRet(reg, Ret(old))
		}

		return 0
	}

	if option == RcvBS || option == RcvBM {
		// Boot threads are forbidden to block.
		if cur.Sched.Slices == ThdInitTime {
			return ErrSivBoot
		}

		if !s.Thd.CompareAndSwap(nil, cur) {
			return ErrSivConflict
		}

		// Block. No return value yet; the unblocking send writes it, and
		// unblocks always behave as single receives.
		cur.Sched.State = ThdBlocked
		cur.Sched.Signal = s
		k.runDel(cur)
		cl.CurThd = k.runHigh(cl)
		k.runSwt(reg, cur, cl.CurThd)
		cl.CurThd.Sched.State = ThdRunning
	} else {
		// Nothing taken, but the call succeeds.
		k.Port.SetSyscallRet(reg, 0)
	}

	return 0
}
