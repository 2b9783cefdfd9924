// Package tools audits a live kernel against its structural invariants:
// KOT consistency of every reachable object, process reference counts,
// invocation-stack agreement and signal rendezvous state. Tests run it
// after exercising the system.
package tools

import (
	"errors"
	"fmt"

	"github.com/EDI-Systems/M7M01-Eukaron-sub003/kernel"
)

// ErrInvariant is wrapped by every audit failure.
var ErrInvariant = errors.New("kernel invariant violated")

type objects struct {
	seen map[any]bool

	prcs map[*kernel.Prc]*kernel.Slot
	thds map[*kernel.Thd]*kernel.Slot
	sigs map[*kernel.Sig]*kernel.Slot
	invs map[*kernel.Inv]*kernel.Slot
}

// Audit walks every capability reachable from the table and checks the
// cross-object invariants. The kernel must be quiescent (no CPU inside a
// system call) while it runs.
func Audit(k *kernel.Kernel, ct *kernel.Captbl) error {
	o := &objects{
		seen: make(map[any]bool),
		prcs: make(map[*kernel.Prc]*kernel.Slot),
		thds: make(map[*kernel.Thd]*kernel.Slot),
		sigs: make(map[*kernel.Sig]*kernel.Slot),
		invs: make(map[*kernel.Inv]*kernel.Slot),
	}

	if err := o.collect(k, ct); err != nil {
		return err
	}

	if err := o.checkPrcRefs(); err != nil {
		return err
	}
	if err := o.checkInvStacks(); err != nil {
		return err
	}
	if err := o.checkSigs(); err != nil {
		return err
	}

	return o.checkCPUs(k)
}

func (o *objects) collect(k *kernel.Kernel, ct *kernel.Captbl) error {
	if o.seen[ct] {
		return nil
	}
	o.seen[ct] = true

	for i := range ct.Slots {
		s := &ct.Slots[i]
		typ := s.Type()
		if typ == kernel.CapNop {
			continue
		}

		// Every live object's backing range must be fully marked.
		if s.ObjSize != 0 && !k.Kot.Marked(s.Vaddr, s.ObjSize) {
			return fmt.Errorf("%w: object at %#x+%#x not in KOT", ErrInvariant, s.Vaddr, s.ObjSize)
		}

		switch typ {
		case kernel.CapCpt:
			if err := o.collect(k, s.Captbl()); err != nil {
				return err
			}
		case kernel.CapPrc:
			o.prcs[s.Prc()] = s
		case kernel.CapThd:
			o.thds[s.Thd()] = s
		case kernel.CapSig:
			o.sigs[s.Sig()] = s
		case kernel.CapInv:
			o.invs[s.Inv()] = s
		}
	}

	return nil
}

// checkPrcRefs: a process's reference count equals the number of reachable
// threads and invocations naming it.
func (o *objects) checkPrcRefs() error {
	for p := range o.prcs {
		count := int32(0)
		for t := range o.thds {
			if t.Sched.Prc == p {
				count++
			}
		}
		for v := range o.invs {
			if v.Prc == p {
				count++
			}
		}

		// Boot processes carry one extra self-reference.
		got := p.Refcnt.Load()
		if got != count && got != count+1 {
			return fmt.Errorf("%w: process refcnt %d, %d references found", ErrInvariant, got, count)
		}
	}

	return nil
}

// checkInvStacks: an invocation is active exactly when it sits on some
// thread's invocation stack, and on at most one.
func (o *objects) checkInvStacks() error {
	onStack := make(map[*kernel.Inv]int)

	for t := range o.thds {
		for n := t.InvStack.Next; n != &t.InvStack; n = n.Next {
			inv, ok := n.Owner.(*kernel.Inv)
			if !ok {
				return fmt.Errorf("%w: foreign node on invocation stack", ErrInvariant)
			}
			onStack[inv]++
		}
	}

	for v := range o.invs {
		active := v.Active.Load() != 0
		switch {
		case onStack[v] > 1:
			return fmt.Errorf("%w: invocation on %d stacks", ErrInvariant, onStack[v])
		case active != (onStack[v] == 1):
			return fmt.Errorf("%w: invocation active=%v but stacked=%d", ErrInvariant, active, onStack[v])
		}
	}

	return nil
}

// checkSigs: at most one blocked receiver, and the endpoint and the thread
// agree on the rendezvous.
func (o *objects) checkSigs() error {
	for s := range o.sigs {
		t := s.Thd.Load()
		if t == nil {
			continue
		}
		if t.Sched.State != kernel.ThdBlocked {
			return fmt.Errorf("%w: endpoint holds a non-blocked receiver", ErrInvariant)
		}
		if t.Sched.Signal != s {
			return fmt.Errorf("%w: receiver's endpoint pointer disagrees", ErrInvariant)
		}
	}

	for t := range o.thds {
		if t.Sched.State == kernel.ThdBlocked && t.Sched.Signal == nil {
			return fmt.Errorf("%w: blocked thread without an endpoint", ErrInvariant)
		}
	}

	return nil
}

// checkCPUs: one running thread per CPU, and it is the current one.
func (o *objects) checkCPUs(k *kernel.Kernel) error {
	for cpu := 0; cpu < k.NumCPU(); cpu++ {
		cl := k.Local(kernel.Ptr(cpu))
		if cl.CurThd == nil {
			continue
		}
		if cl.CurThd.Sched.State != kernel.ThdRunning {
			return fmt.Errorf("%w: current thread of cpu %d not running", ErrInvariant, cpu)
		}

		for t := range o.thds {
			if t != cl.CurThd && t.Sched.Local.Load() == cl && t.Sched.State == kernel.ThdRunning {
				return fmt.Errorf("%w: two running threads on cpu %d", ErrInvariant, cpu)
			}
		}
	}

	return nil
}
