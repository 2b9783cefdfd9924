// Package machine binds the architecture-independent kernel to the ARMv7-M
// port and models one machine: the kernel pool, the per-CPU live register
// files, the boot sequence and the trap entries (system call, tick, vector,
// fault). Tests and the CLI drive the kernel through it.
package machine

import (
	"errors"
	"fmt"

	"github.com/EDI-Systems/M7M01-Eukaron-sub003/a7m"
	"github.com/EDI-Systems/M7M01-Eukaron-sub003/kernel"
	"github.com/EDI-Systems/M7M01-Eukaron-sub003/serial"
)

// ErrMemTooSmall indicates the kernel pool cannot hold the boot objects.
var ErrMemTooSmall = errors.New("kernel pool must be at least 16 KiB")

// ErrBadCPU indicates a CPU number outside the machine.
var ErrBadCPU = errors.New("bad cpu number")

// Boot-time capability ids in the boot capability table.
const (
	BootCpt kernel.Cid = iota
	BootPgt
	BootPrc
	BootThd
	BootKfn
	BootKom
	BootTick
	BootVect

	bootCptEntries = 32
)

// BootPrio is the boot thread's priority; everything user-created outranks
// it by default.
const BootPrio kernel.Ptr = 0

// Config describes one machine.
type Config struct {
	// MemBase and MemSize locate the kernel pool.
	MemBase kernel.Ptr
	MemSize kernel.Ptr
	// HypSize reserves a hypervisor register-area range right above the
	// pool; zero disables hypervisor threads.
	HypSize kernel.Ptr
}

// Machine is one simulated machine instance.
type Machine struct {
	Kernel *kernel.Kernel
	Port   *a7m.Port
	// CT is the boot capability table.
	CT *kernel.Captbl

	// Reg is the live register file, one per CPU.
	Reg []*a7m.Reg

	cfg  Config
	brk  kernel.Ptr
	kmem kernel.Ptr
	img  *Image
}

// New creates a machine with one CPU and boots the kernel: boot capability
// table, kernel memory capability over the rest of the pool, identity-mapped
// top-level page table, boot process and thread, tick and vector endpoints,
// and the kernel function capability.
func New(cfg Config) (*Machine, error) {
	if cfg.MemSize < 1<<14 {
		return nil, ErrMemTooSmall
	}

	port := a7m.New()
	port.HypStart = cfg.MemBase + cfg.MemSize
	port.HypSize = cfg.HypSize

	k, err := kernel.New(port, cfg.MemBase, cfg.MemSize, 1)
	if err != nil {
		return nil, err
	}

	m := &Machine{
		Kernel: k,
		Port:   port,
		Reg:    []*a7m.Reg{{}},
		cfg:    cfg,
		brk:    cfg.MemBase,
	}

	if err := m.boot(); err != nil {
		return nil, err
	}

	return m, nil
}

// alloc hands out boot object memory from the bottom of the pool.
func (m *Machine) alloc(size kernel.Ptr) kernel.Ptr {
	addr := m.brk
	m.brk += kernel.RoundUp(size, kernel.KmemSlotOrder)

	return addr
}

func bootErr(step string, r kernel.Ret) error {
	return fmt.Errorf("boot %s: %w", step, kernel.Errno(r))
}

func (m *Machine) boot() error {
	k := m.Kernel
	cl := k.Local(0)

	ct, r := k.CptBootInit(BootCpt, m.alloc(kernel.CptSize(bootCptEntries)), bootCptEntries)
	if r < 0 {
		return bootErr("captbl", r)
	}
	m.CT = ct

	// The boot page table geometry: eight 512 MiB identity-mapped slots
	// covering the whole address space with all permissions.
	pgtAddr := m.alloc(m.Port.PgtSizeTop(3))
	if r = k.PgtBootCrt(ct, BootCpt, BootPgt, pgtAddr, 0, kernel.PgtTop, 29, 3); r < 0 {
		return bootErr("pgtbl", r)
	}
	for pos := kernel.Ptr(0); pos < 8; pos++ {
		if r = k.PgtBootAdd(ct, BootPgt, pos<<29, pos, kernel.PgtAllPerm); r < 0 {
			return bootErr("pgtbl map", r)
		}
	}

	if r = k.PrcBootCrt(ct, BootCpt, BootPrc, BootCpt, BootPgt, m.alloc(kernel.PrcSize)); r < 0 {
		return bootErr("proc", r)
	}
	if r = k.ThdBootCrt(ct, BootCpt, BootThd, BootPrc, m.alloc(kernel.ThdSize), BootPrio, cl); r < 0 {
		return bootErr("thd", r)
	}
	if r = k.KfnBootCrt(ct, BootCpt, BootKfn); r < 0 {
		return bootErr("kern", r)
	}

	if r = k.SigBootCrt(ct, BootCpt, BootTick, m.alloc(kernel.SigSize)); r < 0 {
		return bootErr("tick sig", r)
	}
	if r = k.SigBootCrt(ct, BootCpt, BootVect, m.alloc(kernel.SigSize)); r < 0 {
		return bootErr("vect sig", r)
	}

	tick, r := k.CapGet(ct, BootTick, kernel.CapSig)
	if r < 0 {
		return bootErr("tick lookup", r)
	}
	vect, r := k.CapGet(ct, BootVect, kernel.CapSig)
	if r < 0 {
		return bootErr("vect lookup", r)
	}
	cl.TickSig = tick.Sig()
	cl.VectSig = vect.Sig()

	// The rest of the pool belongs to the kernel memory capability.
	m.kmem = m.brk
	if r = k.KomBootCrt(ct, BootCpt, BootKom, m.kmem, m.cfg.MemBase+m.cfg.MemSize-1, kernel.KomFlagAll); r < 0 {
		return bootErr("kmem", r)
	}

	// Activate the boot address space.
	pgt, r := k.CapGet(ct, BootPgt, kernel.CapPgt)
	if r < 0 {
		return bootErr("pgt lookup", r)
	}
	m.Port.PgtSet(pgt.Pgt())

	return nil
}

// KmemBase returns the start of the general kernel memory range, the base
// the boot KOM capability's relative addresses count from.
func (m *Machine) KmemBase() kernel.Ptr { return m.kmem }

// Syscall injects one system call on a CPU and returns the value the caller
// would observe in its return register. The register file may belong to a
// different thread afterwards if the call switched.
func (m *Machine) Syscall(cpu int, svc, capid, p0, p1, p2 kernel.Ptr) (kernel.Ret, error) {
	if cpu < 0 || cpu >= len(m.Reg) {
		return 0, ErrBadCPU
	}

	reg := m.Reg[cpu]
	reg.R4 = svc<<16 | capid&0xFFFF
	reg.R5 = p0
	reg.R6 = p1
	reg.R7 = p2

	m.Kernel.SvcHandler(m.Kernel.Local(kernel.Ptr(cpu)), reg)

	return kernel.Ret(reg.R4), nil
}

// InvRetval reads the invocation return register of a CPU.
func (m *Machine) InvRetval(cpu int) kernel.Ret {
	return kernel.Ret(m.Reg[cpu].R5)
}

// Tick delivers one timer interrupt on CPU 0.
func (m *Machine) Tick() {
	m.Kernel.TickHandler(m.Kernel.Local(0), m.Reg[0])
}

// Vect delivers one interrupt vector on CPU 0.
func (m *Machine) Vect(vect kernel.Ptr) {
	m.Port.VectHandler(m.Kernel, m.Kernel.Local(0), m.Reg[0], vect)
}

// Fault delivers a configurable fault on CPU 0.
func (m *Machine) Fault(cfsr, mmfar kernel.Ptr) {
	m.Port.FaultHandler(m.Kernel, m.Kernel.Local(0), m.Reg[0], cfsr, mmfar)
}

// ConsoleVect is the interrupt vector of the console device.
const ConsoleVect kernel.Ptr = 36

// InjectConsoleIRQ raises the console interrupt on CPU 0.
func (m *Machine) InjectConsoleIRQ() error {
	m.Vect(ConsoleVect)

	return nil
}

// AttachSerial wires a console device into the machine: kernel console
// output flows to it and injected input raises ConsoleVect.
func (m *Machine) AttachSerial() (*serial.Serial, error) {
	s, err := serial.New(m)
	if err != nil {
		return nil, err
	}
	m.Port.Output = s

	return s, nil
}

// CurTID returns the TID of the thread running on a CPU.
func (m *Machine) CurTID(cpu int) kernel.Tid {
	return m.Kernel.Local(kernel.Ptr(cpu)).CurThd.Sched.TID
}
