package kernel

import (
	"sync/atomic"

	"github.com/EDI-Systems/M7M01-Eukaron-sub003/kot"
)

// Kernel is the whole kernel state: the port, the object bitmap over the
// kernel pool, the global timestamp and the per-CPU locals. One instance
// models one machine.
type Kernel struct {
	Port Port
	Kot  *kot.Table

	// Quie is the quiescence period in timestamp units. Single-core ports
	// set it to zero.
	Quie Ptr

	timestamp atomic.Uint32
	locals    []CPULocal
}

// CPULocal is the per-CPU structure: the current thread, the tick and
// default vector endpoints, and the runqueue. It is only ever touched from
// its own CPU except for the thread-binding CAS.
type CPULocal struct {
	CPUID   Ptr
	CurThd  *Thd
	VectSig *Sig
	TickSig *Sig
	Run     runqueue
}

// New creates a kernel over a pool of kmemSize bytes at kmemBase with the
// given number of CPUs. Boot code must then create the boot objects through
// the Boot constructors before any system call can run.
func New(port Port, kmemBase, kmemSize Ptr, cpus int) (*Kernel, error) {
	kt, err := kot.New(kmemBase, kmemSize)
	if err != nil {
		return nil, err
	}

	k := &Kernel{Port: port, Kot: kt}
	k.locals = make([]CPULocal, cpus)
	for i := range k.locals {
		cl := &k.locals[i]
		cl.CPUID = Ptr(i)
		cl.Run.init()
	}

	return k, nil
}

// Local returns the CPU-local structure of one CPU.
func (k *Kernel) Local(cpuid Ptr) *CPULocal { return &k.locals[cpuid] }

// NumCPU returns the number of CPUs the kernel was created with.
func (k *Kernel) NumCPU() int { return len(k.locals) }

// Timestamp returns the current global timestamp.
func (k *Kernel) Timestamp() Ptr { return k.timestamp.Load() }

// TimestampInc advances the global timestamp and returns the value before
// the increment. Drivers call this from their timer interrupts.
func (k *Kernel) TimestampInc(value Ptr) Ptr {
	k.assert(value > 0)

	return k.timestamp.Add(value) - value
}

// assert is for invariants the kernel cannot honor. The port reboot hook
// does not return.
func (k *Kernel) assert(cond bool) {
	if !cond {
		k.Port.Reboot()
		panic("kernel: reboot hook returned")
	}
}

// KernHigh picks the highest-priority thread after kernel sends; port
// interrupt handlers call it once on handler exit so a burst of sends costs
// at most one context switch.
func (k *Kernel) KernHigh(cl *CPULocal, reg RegSet) { k.kernHigh(cl, reg) }

// TickHandler is the system tick handler of the main processor: advance the
// timestamp, then run the generic per-CPU tick body.
func (k *Kernel) TickHandler(cl *CPULocal, reg RegSet) {
	k.timestamp.Add(1)
	k.TickSMPHandler(cl, reg)
}

// TickSMPHandler is the per-CPU tick body: expire the current thread's
// budget, send to the per-CPU tick endpoint, then reselect once.
func (k *Kernel) TickSMPHandler(cl *CPULocal, reg RegSet) {
	cur := cl.CurThd
	if cur.Sched.Slices < ThdInfTime {
		cur.Sched.Slices--
		if cur.Sched.Slices == 0 {
			// Out of time. Kick it out and notify its parent.
			cur.Sched.State = ThdTimeout
			k.runDel(cur)
			k.runNotif(cl, cur)
		}
	}

	k.KernSnd(cl, cl.TickSig)

	// All kernel sends complete, now pick the highest priority thread.
	k.kernHigh(cl, reg)
}
