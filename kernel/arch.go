package kernel

// RegSet is an architecture-specific saved register set, opaque to the core.
// The port allocates them and performs every access.
type RegSet any

// CopSet is an architecture-specific coprocessor save area, opaque to the
// core.
type CopSet any

// Iret is the minimal state saved across a synchronous invocation: the stack
// pointer and the link register (which selects stack and mode on the
// represented architectures).
type Iret struct {
	SP Ptr
	LR Ptr
}

// Walk carries the optional outputs of a full page table walk. Fields the
// caller does not need can simply be ignored.
type Walk struct {
	Pgt       any // the page table level holding the page
	MapVaddr  Ptr // the virtual address that starts the mapping
	Paddr     Ptr
	SizeOrder Ptr
	NumOrder  Ptr
	Flags     Ptr
}

// Port is the fixed set of architecture routines the core consumes. A port
// implements it once; the core owns no port-specific logic. None of these
// may block.
type Port interface {
	// NewRegSet allocates a zeroed register save area.
	NewRegSet() RegSet
	// NewCopSet allocates a zeroed coprocessor save area.
	NewCopSet() CopSet

	// SyscallParam extracts the opcode word, capability id and the three
	// parameters from a saved register set.
	SyscallParam(reg RegSet) (svc Ptr, capid Ptr, param [3]Ptr)
	// SetSyscallRet writes the system call return value.
	SetSyscallRet(reg RegSet, val Ret)
	// SetInvRet writes the invocation return value, a register distinct from
	// the system call return register.
	SetInvRet(reg RegSet, val Ret)

	// ThdRegInit initializes a register set to enter entry with the given
	// stack and parameter.
	ThdRegInit(entry, stack, param Ptr, reg RegSet)
	// RegCopy copies one register set into another.
	RegCopy(dst, src RegSet)
	// CopInit, CopSave and CopRestore manage the coprocessor context.
	CopInit(reg RegSet, cop CopSet)
	CopSave(reg RegSet, cop CopSet)
	CopRestore(reg RegSet, cop CopSet)
	// InvRegSave and InvRegRestore save and restore the minimal state across
	// a synchronous invocation.
	InvRegSave(ret *Iret, reg RegSet)
	InvRegRestore(reg RegSet, ret *Iret)

	// Page table driver. The *Slot arguments are PGT capabilities; the object
	// behind them is owned by the port. Failures are reported as negative
	// error codes from the page table taxonomy and propagated verbatim.
	PgtCheck(base Ptr, top bool, sizeOrder, numOrder, vaddr Ptr) Ret
	PgtSizeTop(numOrder Ptr) Ptr
	PgtSizeNom(numOrder Ptr) Ptr
	PgtInit(pgt *Slot) Ret
	PgtDelCheck(pgt *Slot) Ret
	PgtPageMap(pgt *Slot, paddr, pos, flags Ptr) Ret
	PgtPageUnmap(pgt *Slot, pos Ptr) Ret
	PgtPgdirMap(parent *Slot, pos Ptr, child *Slot, flags Ptr) Ret
	PgtPgdirUnmap(parent *Slot, pos Ptr) Ret
	PgtLookup(pgt *Slot, pos Ptr) (paddr, flags Ptr, ret Ret)
	PgtWalk(pgt *Slot, vaddr Ptr, out *Walk) Ret
	// PgtSet activates a page table object as the current address space.
	PgtSet(pgt any)

	// KfnAct dispatches a port-specific privileged operation. On success the
	// port writes any extra return values into the register set itself.
	KfnAct(k *Kernel, cl *CPULocal, ct *Captbl, reg RegSet, fid, sid, param1, param2 Ptr) Ret

	// HypRegOK reports whether a hypervisor register area at kaddr is
	// word-aligned and fully inside the dedicated hypervisor range.
	HypRegOK(kaddr Ptr) bool
	// HypRegSet returns the register storage backing a hypervisor area.
	HypRegSet(kaddr Ptr) (RegSet, CopSet)

	// Putchar prints one character on the debugging console.
	Putchar(c byte)
	// Reboot is the response to an internal invariant violation. It does not
	// return.
	Reboot()
}
