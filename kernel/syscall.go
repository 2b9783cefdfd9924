package kernel

// SigNone in a packed 16-bit capability field means "no endpoint".
const SigNone Ptr = 0xFFFF

// svcCid reads a packed 16-bit field as a capability id.
func svcCid(w Ptr) Cid { return Cid(w) }

// SvcHandler decodes one system call from the saved register set and routes
// it. The two synchronous invocation paths are branched before the
// capability table is even resolved; they dominate the call mix under IPC
// workloads. Operations that may switch the register set write their own
// return values and the handler leaves the registers alone; everything else
// gets its return value written at the end.
func (k *Kernel) SvcHandler(cl *CPULocal, reg RegSet) {
	svc, capid, param := k.Port.SyscallParam(reg)
	svcNum := svc & 0x3F

	// Fast path - synchronous invocation returning.
	if svcNum == SvcInvRet {
		if r := k.InvRet(cl, reg, Ret(param[0]), false); r < 0 {
			k.Port.SetSyscallRet(reg, r)
		}

		return
	}

	// The current capability table: the top invocation's process if any. It
	// cannot be deleted while we run under it, so no freeze check is needed.
	var ct *Captbl
	if top := invTop(cl.CurThd); top != nil {
		ct = top.Prc.Captbl.Load().Captbl()
	} else {
		ct = cl.CurThd.Sched.Prc.Captbl.Load().Captbl()
	}

	// Fast path - synchronous invocation activation.
	if svcNum == SvcInvAct {
		if r := k.InvAct(cl, ct, reg, svcCid(param[0]), param[1]); r < 0 {
			k.Port.SetSyscallRet(reg, r)
		}

		return
	}

	// Operations that may cause a register set switch. On success they have
	// already saved the proper return values on the proper register sets.
	switch svcNum {
	case SvcSigSnd:
		r := k.SigSnd(cl, ct, reg, svcCid(param[0]))
		if r < 0 {
			k.Port.SetSyscallRet(reg, r)
		}

		return
	case SvcSigRcv:
		r := k.SigRcv(cl, ct, reg, svcCid(param[0]), param[1])
		if r < 0 {
			k.Port.SetSyscallRet(reg, r)
		}

		return
	case SvcKfn:
		r := k.KfnAct(cl, ct, reg, svcCid(capid), paramD0(param[0]), paramD1(param[0]), param[1], param[2])
		if r < 0 {
			k.Port.SetSyscallRet(reg, r)
		}

		return
	case SvcThdSchedPrio:
		r := k.ThdSchedPrio(cl, ct, reg, svcCid(param[0]), param[1])
		if r < 0 {
			k.Port.SetSyscallRet(reg, r)
		}

		return
	case SvcThdSchedFree:
		r := k.ThdSchedFree(cl, ct, reg, svcCid(param[0]))
		if r < 0 {
			k.Port.SetSyscallRet(reg, r)
		}

		return
	case SvcThdTimeXfer:
		r := k.ThdTimeXfer(cl, ct, reg, svcCid(param[0]), svcCid(param[1]), param[2])
		if r < 0 {
			k.Port.SetSyscallRet(reg, r)
		}

		return
	case SvcThdSwt:
		r := k.ThdSwt(cl, ct, reg, Cid(int32(param[0])), param[1] != 0)
		if r < 0 {
			k.Port.SetSyscallRet(reg, r)
		}

		return
	}

	// These never cause a context switch.
	var r Ret

	switch svcNum {
	case SvcCptCrt:
		r = k.CptCrt(ct, svcCid(capid), svcCid(paramD1(param[0])), svcCid(paramD0(param[0])),
			param[1], param[2])
	case SvcCptDel:
		r = k.CptDel(ct, svcCid(capid), svcCid(param[0]))
	case SvcCptFrz:
		r = k.CptFrz(ct, svcCid(capid), svcCid(param[0]))
	case SvcCptAdd:
		// The extension word for kernel memory delegations reassembles from
		// the spare opcode bits and the capability id field.
		ext := (svc >> 6 << 16) | capid
		r = k.CptAdd(ct,
			svcCid(paramD1(param[0])), svcCid(paramD0(param[0])),
			svcCid(paramD1(param[1])), svcCid(paramD0(param[1])),
			param[2], ext)
	case SvcCptRem:
		r = k.CptRem(ct, svcCid(capid), svcCid(param[0]))
	case SvcPgtCrt:
		r = k.PgtCrt(ct, svcCid(capid), svcCid(paramD1(param[0])), svcCid(paramQ1(param[0])),
			param[1], param[2]&^PgtTop, param[2]&PgtTop, paramQ0(param[0]), svc>>6)
	case SvcPgtDel:
		r = k.PgtDel(ct, svcCid(capid), svcCid(param[0]))
	case SvcPgtAdd:
		r = k.PgtAdd(ct, svcCid(paramD1(param[0])), paramD0(param[0]), capid,
			svcCid(paramD1(param[1])), paramD0(param[1]), param[2])
	case SvcPgtRem:
		r = k.PgtRem(ct, svcCid(param[0]), param[1])
	case SvcPgtCon:
		r = k.PgtCon(ct, svcCid(paramD1(param[0])), param[1], svcCid(paramD0(param[0])), param[2])
	case SvcPgtDes:
		r = k.PgtDes(ct, svcCid(param[0]), param[1])
	case SvcPrcCrt:
		r = k.PrcCrt(ct, svcCid(capid), svcCid(paramD1(param[0])), svcCid(paramD0(param[0])),
			svcCid(paramD1(param[1])), svcCid(paramD0(param[1])), param[2])
	case SvcPrcDel:
		r = k.PrcDel(ct, svcCid(capid), svcCid(param[0]))
	case SvcPrcCpt:
		r = k.PrcCpt(ct, svcCid(param[0]), svcCid(param[1]))
	case SvcPrcPgt:
		r = k.PrcPgt(ct, svcCid(param[0]), svcCid(param[1]))
	case SvcThdCrt:
		r = k.ThdCrt(cl, ct, svcCid(capid), svcCid(paramD1(param[0])), svcCid(paramD0(param[0])),
			svcCid(paramD1(param[1])), paramD0(param[1]), param[2])
	case SvcThdDel:
		r = k.ThdDel(ct, svcCid(capid), svcCid(param[0]))
	case SvcThdExecSet:
		r = k.ThdExecSet(cl, ct, svcCid(capid), param[0], param[1], param[2])
	case SvcThdHypSet:
		r = k.ThdHypSet(cl, ct, svcCid(param[0]), param[1])
	case SvcThdSchedBind:
		sig := Cid(-1)
		if raw := paramD0(param[0]); raw != SigNone {
			sig = svcCid(raw)
		}
		r = k.ThdSchedBind(cl, ct, svcCid(capid), svcCid(paramD1(param[0])), sig,
			Tid(param[1]), param[2])
	case SvcThdSchedRcv:
		r = k.ThdSchedRcv(cl, ct, reg, svcCid(param[0]))
	case SvcSigCrt:
		r = k.SigCrt(ct, svcCid(capid), svcCid(param[0]), svcCid(param[1]), param[2])
	case SvcSigDel:
		r = k.SigDel(ct, svcCid(capid), svcCid(param[0]))
	case SvcInvCrt:
		r = k.InvCrt(ct, svcCid(capid), svcCid(paramD1(param[0])), svcCid(paramD0(param[0])),
			svcCid(param[1]), param[2])
	case SvcInvDel:
		r = k.InvDel(ct, svcCid(capid), svcCid(param[0]))
	case SvcInvSet:
		r = k.InvSet(ct, svcCid(paramD0(param[0])), param[1], param[2], paramD1(param[0]) != 0)
	default:
		r = ErrCapNull
	}

	k.Port.SetSyscallRet(reg, r)
}
