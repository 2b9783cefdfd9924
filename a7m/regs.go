// Package a7m is the ARMv7-M-class port of the kernel: the register model,
// the MPU-backed page table driver with its region encoder, the fault
// handler and the port-specific kernel functions. ARMv6-M targets follow the
// same model with fewer MPU regions.
package a7m

import "github.com/EDI-Systems/M7M01-Eukaron-sub003/kernel"

// Exception return codes. The LR on exception entry selects the stack and
// frame format.
const (
	ExcRetInit     kernel.Ptr = 0xFFFFFFFD
	ExcRetStdFrame kernel.Ptr = 1 << 4
	ExcRetRetUser  kernel.Ptr = 1 << 2
)

// Reg is the kernel-saved register set: the callee-saved registers plus SP
// and the exception LR. The caller-saved half lives on the user stack frame.
type Reg struct {
	SP  kernel.Ptr
	R4  kernel.Ptr
	R5  kernel.Ptr
	R6  kernel.Ptr
	R7  kernel.Ptr
	R8  kernel.Ptr
	R9  kernel.Ptr
	R10 kernel.Ptr
	R11 kernel.Ptr
	LR  kernel.Ptr
}

// Cop is the FPU context, saved only for threads that touched the FPU.
type Cop struct {
	S16 [16]kernel.Ptr
}

// NewRegSet allocates a zeroed register save area.
func (p *Port) NewRegSet() kernel.RegSet { return &Reg{} }

// NewCopSet allocates a zeroed coprocessor save area.
func (p *Port) NewCopSet() kernel.CopSet { return &Cop{} }

// SyscallParam extracts the opcode word, capability id and parameters. The
// opcode and capability id share R4; the parameters are R5..R7.
func (p *Port) SyscallParam(reg kernel.RegSet) (svc, capid kernel.Ptr, param [3]kernel.Ptr) {
	r := reg.(*Reg)

	return r.R4 >> 16, r.R4 & 0xFFFF, [3]kernel.Ptr{r.R5, r.R6, r.R7}
}

// SetSyscallRet writes the system call return value into R4.
func (p *Port) SetSyscallRet(reg kernel.RegSet, val kernel.Ret) {
	reg.(*Reg).R4 = kernel.Ptr(val)
}

// SetInvRet writes the invocation return value into R5.
func (p *Port) SetInvRet(reg kernel.RegSet, val kernel.Ret) {
	reg.(*Reg).R5 = kernel.Ptr(val)
}

// ThdRegInit initializes a register set to enter user code. The entry gets
// its Thumb bit forced; the parameter rides in R5 and the LR marks a frame
// that never used the FPU.
func (p *Port) ThdRegInit(entry, stack, param kernel.Ptr, reg kernel.RegSet) {
	r := reg.(*Reg)
	r.LR = ExcRetInit
	r.R4 = entry | 0x01
	r.SP = stack
	r.R5 = param
}

// RegCopy copies one register set into another.
func (p *Port) RegCopy(dst, src kernel.RegSet) {
	*dst.(*Reg) = *src.(*Reg)
}

// CopInit leaves the FPU contents unpredictable, like the hardware does.
func (p *Port) CopInit(reg kernel.RegSet, cop kernel.CopSet) {}

// CopSave saves the FPU context only when the frame says it was used.
func (p *Port) CopSave(reg kernel.RegSet, cop kernel.CopSet) {
	if reg.(*Reg).LR&ExcRetStdFrame != 0 {
		return
	}
	p.copSave(cop.(*Cop))
}

// CopRestore restores the FPU context only when the frame carries one.
func (p *Port) CopRestore(reg kernel.RegSet, cop kernel.CopSet) {
	if reg.(*Reg).LR&ExcRetStdFrame != 0 {
		return
	}
	p.copRestore(cop.(*Cop))
}

// The simulated FPU bank.
func (p *Port) copSave(c *Cop)    { c.S16 = p.fpu }
func (p *Port) copRestore(c *Cop) { p.fpu = c.S16 }

// InvRegSave saves the state that controls the return path: SP and LR.
func (p *Port) InvRegSave(ret *kernel.Iret, reg kernel.RegSet) {
	r := reg.(*Reg)
	ret.LR = r.LR
	ret.SP = r.SP
}

// InvRegRestore restores SP and LR on invocation return.
func (p *Port) InvRegRestore(reg kernel.RegSet, ret *kernel.Iret) {
	r := reg.(*Reg)
	r.LR = ret.LR
	r.SP = ret.SP
}
