package a7m

import "github.com/EDI-Systems/M7M01-Eukaron-sub003/kernel"

// Configurable fault status register bits, MFSR in the low byte, BFSR in the
// second, UFSR in the upper half.
const (
	MFSRIaccviol  kernel.Ptr = 1 << 0
	MFSRDaccviol  kernel.Ptr = 1 << 1
	MFSRMUnstkerr kernel.Ptr = 1 << 3
	MFSRMStkerr   kernel.Ptr = 1 << 4
	MFSRMLsperr   kernel.Ptr = 1 << 5
	MFSRMMARValid kernel.Ptr = 1 << 7

	BFSRIbuserr     kernel.Ptr = 1 << 8
	BFSRPreciserr   kernel.Ptr = 1 << 9
	BFSRImpreciserr kernel.Ptr = 1 << 10
	BFSRUnstkerr    kernel.Ptr = 1 << 11
	BFSRStkerr      kernel.Ptr = 1 << 12
	BFSRLsperr      kernel.Ptr = 1 << 13

	UFSRUndefinstr kernel.Ptr = 1 << 16
	UFSRInvstate   kernel.Ptr = 1 << 17
	UFSRInvPC      kernel.Ptr = 1 << 18
	UFSRNoCP       kernel.Ptr = 1 << 19
	UFSRUnaligned  kernel.Ptr = 1 << 24
	UFSRDivbyzero  kernel.Ptr = 1 << 25
)

// faultFatal collects the causes there is no coming back from.
const faultFatal = UFSRDivbyzero | UFSRUnaligned | UFSRNoCP | UFSRInvPC |
	UFSRInvstate | UFSRUndefinstr | BFSRUnstkerr | BFSRPreciserr |
	BFSRIbuserr | MFSRMUnstkerr

// FaultHandler handles a user-level fault described by the fault status word
// and the fault address. A data violation whose address is backed by a
// non-static page in the current page table is a benign MPU miss: the
// missing region is swapped in and the thread resumes. Everything fatal
// unwinds the invocation or kills the thread; the unattributable remainder
// (imprecise bus faults, stacking errors) is dropped on purpose, since
// handling those would let one thread pin its faults on another.
func (p *Port) FaultHandler(k *kernel.Kernel, cl *kernel.CPULocal, reg kernel.RegSet, cfsr, mmfar kernel.Ptr) {
	if cfsr&faultFatal != 0 {
		k.ThdFatal(cl, reg, cfsr)

		return
	}

	if cfsr&MFSRMMARValid != 0 {
		// Only a data violation loads the fault address register.
		pgt := cl.CurThd.CurPgt()

		var w kernel.Walk
		if p.PgtWalk(pgt, mmfar, &w) != 0 {
			k.ThdFatal(cl, reg, MFSRDaccviol)

			return
		}

		// A static page must always be hardware-resident; faulting on one
		// means the kernel lost track of the MPU.
		if w.Flags&kernel.PgtStatic != 0 {
			p.Reboot()
		}

		if p.mpuUpdate(w.Pgt.(*Meta), true) != 0 {
			k.ThdFatal(cl, reg, MFSRDaccviol)
		}

		return
	}

	if cfsr&MFSRIaccviol != 0 {
		// Resolving the faulting instruction address needs the user stack
		// frame, which this model does not hold; treat as fatal.
		k.ThdFatal(cl, reg, MFSRIaccviol)

		return
	}

	// Everything else is dropped: imprecise and stacking faults cross
	// context boundaries and cannot be attributed safely.
}
