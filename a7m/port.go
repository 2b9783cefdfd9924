package a7m

import (
	"errors"
	"io"
	"os"

	"github.com/EDI-Systems/M7M01-Eukaron-sub003/kernel"
)

// ErrReboot is the panic value of the architecture reboot hook, raised when
// the kernel detects an internal invariant violation.
var ErrReboot = errors.New("a7m: kernel invariant violated, rebooting")

type hypArea struct {
	reg *Reg
	cop *Cop
}

// Port is the ARMv7-M-class port state: the live MPU image, the simulated
// FPU bank, the interrupt controller model and the console sink.
type Port struct {
	// Output receives console characters.
	Output io.Writer

	// Active is the MPU image of the active top-level page table.
	Active *MPUData

	// HypStart and HypSize bound the hypervisor register-area range.
	HypStart kernel.Ptr
	HypSize  kernel.Ptr

	// VectFlag and EvtFlag are the interrupt and event flag sets shared with
	// the user-level vector handling daemon.
	VectFlag PhysFlags
	EvtFlag  PhysFlags

	// IdleCount counts wait-for-interrupt entries.
	IdleCount int

	fpu  [16]kernel.Ptr
	lfsr kernel.Ptr

	hypRegs map[kernel.Ptr]*hypArea

	nvicEnable [vectWords]kernel.Ptr
	nvicPrio   [vectNum]byte
}

const (
	vectNum   = 256
	vectWords = vectNum >> kernel.WordOrder
)

// New creates a port writing console output to stdout.
func New() *Port {
	return &Port{
		Output:  os.Stdout,
		lfsr:    0xACE1ACE1,
		hypRegs: make(map[kernel.Ptr]*hypArea),
	}
}

// Putchar prints one character on the console.
func (p *Port) Putchar(c byte) {
	p.Output.Write([]byte{c})
}

// Reboot is called on internal invariant violations. It panics with
// ErrReboot, the closest a hosted model gets to a hardware reset.
func (p *Port) Reboot() {
	panic(ErrReboot)
}

// HypRegOK checks a hypervisor register area address for alignment and
// containment in the dedicated range.
func (p *Port) HypRegOK(kaddr kernel.Ptr) bool {
	if kaddr&0x03 != 0 {
		return false
	}

	const regBytes = kernel.Ptr(10+16) * 4

	return kaddr >= p.HypStart && kaddr+regBytes <= p.HypStart+p.HypSize
}

// HypRegSet returns the register storage backing a hypervisor area. Repeated
// requests for one address share the storage.
func (p *Port) HypRegSet(kaddr kernel.Ptr) (kernel.RegSet, kernel.CopSet) {
	a, ok := p.hypRegs[kaddr]
	if !ok {
		a = &hypArea{reg: &Reg{}, cop: &Cop{}}
		p.hypRegs[kaddr] = a
	}

	return a.reg, a.cop
}

// FlagSet is one half of a double-buffered interrupt flag area. The user
// daemon locks one set while draining it; the kernel fills the other.
type FlagSet struct {
	Lock  kernel.Ptr
	Group kernel.Ptr
	Flags [vectWords]kernel.Ptr
}

// PhysFlags is the double-buffered flag area.
type PhysFlags struct {
	Set0 FlagSet
	Set1 FlagSet
}

func (f *PhysFlags) set(pos kernel.Ptr) {
	s := &f.Set0
	if s.Lock != 0 {
		s = &f.Set1
	}

	s.Group |= 1 << (pos >> kernel.WordOrder)
	s.Flags[pos>>kernel.WordOrder] |= 1 << (pos & (1<<kernel.WordOrder - 1))
}

// VectHandler is the generic interrupt handler: marshal the vector into the
// flag area, kernel-send to the per-CPU vector endpoint, and reselect once
// on the way out.
func (p *Port) VectHandler(k *kernel.Kernel, cl *kernel.CPULocal, reg kernel.RegSet, vect kernel.Ptr) {
	p.VectFlag.set(vect)
	k.KernSnd(cl, cl.VectSig)
	k.KernHigh(cl, reg)
}

// EvtTrig triggers a software event towards the vector endpoint.
func (p *Port) EvtTrig(k *kernel.Kernel, cl *kernel.CPULocal, reg kernel.RegSet, evt kernel.Ptr) {
	p.EvtFlag.set(evt)
	k.KernSnd(cl, cl.VectSig)
	k.KernHigh(cl, reg)
}
