package a7m

import "github.com/EDI-Systems/M7M01-Eukaron-sub003/kernel"

// Interrupt controller operations for KfnIntLocalMod.
const (
	IntOpGetState kernel.Ptr = iota
	IntOpSetState
	IntOpGetPrio
	IntOpSetPrio
)

// Register selectors for KfnDebugRegMod; or with DebugWrite to modify.
const (
	DebugRegSP kernel.Ptr = iota
	DebugRegR4
	DebugRegR5
	DebugRegR6
	DebugRegR7
	DebugRegR8
	DebugRegR9
	DebugRegR10
	DebugRegR11
	DebugRegLR

	// DebugWrite turns a register read into a write.
	DebugWrite kernel.Ptr = 1 << 15
)

// CPU feature selectors for KfnPerfCPUFunc.
const (
	CPUFuncMPUType kernel.Ptr = iota
	CPUFuncVectNum
)

// Page table query selectors for KfnPgtEntryMod.
const (
	PgtQueryPresent kernel.Ptr = iota
	PgtQuerySizeOrder
	PgtQueryNumOrder
	PgtQueryFlags
)

// KfnAct dispatches the port-specific privileged operations. Results beyond
// the return value are written into R6 of the caller's register set. A
// successful function is responsible for its own return value; the two
// trigger operations write it before they reselect, because the register
// set may belong to another thread afterwards.
func (p *Port) KfnAct(k *kernel.Kernel, cl *kernel.CPULocal, ct *kernel.Captbl,
	reg kernel.RegSet, fid, sid, param1, param2 kernel.Ptr) kernel.Ret {
	switch fid {
	case kernel.KfnIntLocalTrig:
		// Single-core: only CPU 0 can be addressed.
		if param1 != 0 || param2 >= vectNum {
			return kernel.ErrCapFlag
		}
		p.SetSyscallRet(reg, 0)
		p.VectHandler(k, cl, reg, param2)

		return 0

	case kernel.KfnEvtLocalTrig:
		if param1 != 0 {
			return kernel.ErrCapFlag
		}
		p.SetSyscallRet(reg, 0)
		p.EvtTrig(k, cl, reg, param2)

		return 0
	}

	r := p.kfnSimple(k, ct, reg, fid, sid, param1, param2)
	if r >= 0 {
		p.SetSyscallRet(reg, r)
	}

	return r
}

func (p *Port) kfnSimple(k *kernel.Kernel, ct *kernel.Captbl,
	reg kernel.RegSet, fid, sid, param1, param2 kernel.Ptr) kernel.Ret {
	switch fid {
	case kernel.KfnDebugPrint:
		p.Putchar(byte(param1))

		return 0

	case kernel.KfnDebugRegMod:
		return p.debugRegMod(k, ct, reg, sid, param1, param2)

	case kernel.KfnDebugInvMod:
		return p.debugInvMod(k, ct, reg, sid, param1, param2)

	case kernel.KfnIntLocalMod:
		return p.intLocalMod(reg, sid, param1, param2)

	case kernel.KfnIdleSleep:
		p.IdleCount++

		return 0

	case kernel.KfnPerfCPUFunc:
		switch sid {
		case CPUFuncMPUType:
			reg.(*Reg).R6 = Regions << 8
		case CPUFuncVectNum:
			reg.(*Reg).R6 = vectNum
		default:
			return kernel.ErrCapFlag
		}

		return 0

	case kernel.KfnPgtEntryMod:
		return p.pgtEntryMod(k, ct, sid, param1, param2)
	}

	return kernel.ErrCapFlag
}

func (p *Port) debugReg(t *kernel.Thd, sel kernel.Ptr) *kernel.Ptr {
	r := t.CurReg.Reg.(*Reg)
	switch sel &^ DebugWrite {
	case DebugRegSP:
		return &r.SP
	case DebugRegR4:
		return &r.R4
	case DebugRegR5:
		return &r.R5
	case DebugRegR6:
		return &r.R6
	case DebugRegR7:
		return &r.R7
	case DebugRegR8:
		return &r.R8
	case DebugRegR9:
		return &r.R9
	case DebugRegR10:
		return &r.R10
	case DebugRegR11:
		return &r.R11
	case DebugRegLR:
		return &r.LR
	}

	return nil
}

// debugRegMod reads or writes one register of a thread through its THD
// capability; the CPU the thread is bound to is not checked.
func (p *Port) debugRegMod(k *kernel.Kernel, ct *kernel.Captbl, reg kernel.RegSet,
	sid, capThd, value kernel.Ptr) kernel.Ret {
	op, r := k.CapGet(ct, kernel.Cid(capThd), kernel.CapThd)
	if r != 0 {
		return r
	}
	if r = kernel.CapCheck(op, kernel.ThdFlagExecSet); r != 0 {
		return r
	}

	cell := p.debugReg(op.Thd(), sid)
	if cell == nil {
		return kernel.ErrCapFlag
	}

	if sid&DebugWrite != 0 {
		*cell = value
	} else {
		reg.(*Reg).R6 = *cell
	}

	return 0
}

// debugInvMod reads or writes the saved SP/LR of a thread's innermost
// invocation.
func (p *Port) debugInvMod(k *kernel.Kernel, ct *kernel.Captbl, reg kernel.RegSet,
	sid, capThd, value kernel.Ptr) kernel.Ret {
	op, r := k.CapGet(ct, kernel.Cid(capThd), kernel.CapThd)
	if r != 0 {
		return r
	}
	if r = kernel.CapCheck(op, kernel.ThdFlagExecSet); r != 0 {
		return r
	}

	inv := op.Thd().InvTop()
	if inv == nil {
		return kernel.ErrSivEmpty
	}

	var cell *kernel.Ptr
	switch sid &^ DebugWrite {
	case 0:
		cell = &inv.Ret.SP
	case 1:
		cell = &inv.Ret.LR
	default:
		return kernel.ErrCapFlag
	}

	if sid&DebugWrite != 0 {
		*cell = value
	} else {
		reg.(*Reg).R6 = *cell
	}

	return 0
}

// intLocalMod queries or modifies the interrupt controller model.
func (p *Port) intLocalMod(reg kernel.RegSet, vect, op, param kernel.Ptr) kernel.Ret {
	if vect >= vectNum {
		return kernel.ErrCapFlag
	}

	word, bit := vect>>kernel.WordOrder, vect&(1<<kernel.WordOrder-1)

	switch op {
	case IntOpGetState:
		reg.(*Reg).R6 = (p.nvicEnable[word] >> bit) & 1
	case IntOpSetState:
		if param != 0 {
			p.nvicEnable[word] |= 1 << bit
		} else {
			p.nvicEnable[word] &^= 1 << bit
		}
	case IntOpGetPrio:
		reg.(*Reg).R6 = kernel.Ptr(p.nvicPrio[vect])
	case IntOpSetPrio:
		p.nvicPrio[vect] = byte(param)
	default:
		return kernel.ErrCapFlag
	}

	return 0
}

// pgtEntryMod queries the mapping state of a virtual address in a page
// table named by capability.
func (p *Port) pgtEntryMod(k *kernel.Kernel, ct *kernel.Captbl, sid, capPgt, vaddr kernel.Ptr) kernel.Ret {
	op, r := k.CapGet(ct, kernel.Cid(capPgt), kernel.CapPgt)
	if r != 0 {
		return r
	}

	var w kernel.Walk
	if p.PgtWalk(op, vaddr, &w) != 0 {
		if sid == PgtQueryPresent {
			return 0
		}

		return kernel.ErrPgtAddr
	}

	switch sid {
	case PgtQueryPresent:
		return 1
	case PgtQuerySizeOrder:
		return kernel.Ret(w.SizeOrder)
	case PgtQueryNumOrder:
		return kernel.Ret(w.NumOrder)
	case PgtQueryFlags:
		return kernel.Ret(w.Flags)
	}

	return kernel.ErrCapFlag
}
