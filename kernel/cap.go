package kernel

import "sync/atomic"

// The type_and_refcount word of a capability slot. Bit 31 is FROZEN, bits
// 25..30 the type tag, bits 0..24 the reference count. Every slot state
// transition passes through a FROZEN intermediate, and the type tag is
// published with a release store only after the object fields are fully
// initialized; consumers read the word with acquire semantics before
// touching the object. Together these rule out observing an uninitialized
// or half-deleted object.
const (
	capFrozen   Ptr = 1 << 31
	capTypeMask Ptr = 0x3F << 25
	capRefMask  Ptr = (1 << 25) - 1

	// CapMaxRef is the platform-fixed reference count ceiling.
	CapMaxRef Ptr = 1 << 24
)

func capTypeOf(tr Ptr) Ptr { return (tr & capTypeMask) >> 25 }
func capRefOf(tr Ptr) Ptr  { return tr & capRefMask }

func capTypeRef(typ, ref Ptr) Ptr { return typ<<25 | ref }

// Slot is one fixed-size capability cell. The fields past the header word
// are a variant record: which of them are meaningful depends on the type
// tag. They may only be written between occupy and publish, or while the
// writer holds the slot FROZEN.
type Slot struct {
	typeRef atomic.Uint32

	// Parent links a delegated capability back to its delegation source;
	// nil for root capabilities.
	Parent *Slot

	// obj is the backing kernel object; nil for KFN/KOM which carry only
	// ranges.
	obj any

	// Vaddr and ObjSize locate the backing object in the kernel pool for
	// KOT accounting.
	Vaddr   Ptr
	ObjSize Ptr

	// Flags encodes the permitted operations.
	Flags Ptr

	// RangeLow and RangeHigh confine PGT delegations to a position range,
	// KOM capabilities to a byte range (high inclusive) and KFN capabilities
	// to a function id range.
	RangeLow  Ptr
	RangeHigh Ptr

	// Base and Order carry the page table geometry: the base address tagged
	// with PgtTop, and the packed size/number orders.
	Base  Ptr
	Order Ptr

	// Timestamp records the global timestamp of the last freeze, for
	// quiescence.
	Timestamp Ptr
}

func (s *Slot) load() Ptr { return s.typeRef.Load() }

// Type returns the current type tag, CapNop for an empty slot.
func (s *Slot) Type() Ptr { return capTypeOf(s.typeRef.Load()) }

// Ref returns the current reference count.
func (s *Slot) Ref() Ptr { return capRefOf(s.typeRef.Load()) }

// Frozen reports whether the slot is frozen.
func (s *Slot) Frozen() bool { return s.typeRef.Load()&capFrozen != 0 }

// occupy claims an empty slot by CAS-ing it to a FROZEN placeholder. Only
// the winner may initialize the slot; losers see ErrCapExist.
func (s *Slot) occupy() Ret {
	if !s.typeRef.CompareAndSwap(0, capFrozen) {
		return ErrCapExist
	}

	return 0
}

// publish makes the capability usable: a release store of the real type,
// clearing FROZEN.
func (s *Slot) publish(typ, ref Ptr) {
	s.typeRef.Store(capTypeRef(typ, ref))
}

// revert returns an occupied-but-unpublished slot to empty.
func (s *Slot) revert() {
	s.typeRef.Store(0)
}

// defrost clears FROZEN after a failed check that followed a successful
// freeze.
func (s *Slot) defrost(tr Ptr) {
	s.typeRef.CompareAndSwap(tr, tr&^capFrozen)
}

// remDel removes the frozen, quiescent, unreferenced capability by swapping
// the slot to empty. Exactly one of any concurrent deleters succeeds.
func (s *Slot) remDel(tr Ptr) Ret {
	if !s.typeRef.CompareAndSwap(tr, 0) {
		return ErrCapNull
	}

	return 0
}

// refInc takes one reference, rolling back on overflow.
func (s *Slot) refInc() Ret {
	old := s.typeRef.Add(1) - 1
	if capRefOf(old) >= CapMaxRef {
		s.typeRef.Add(^uint32(0))

		return ErrCapRefcnt
	}

	return 0
}

// refDec drops one reference.
func (s *Slot) refDec() {
	s.typeRef.Add(^uint32(0))
}

// capCheck verifies the capability is not frozen and permits the requested
// operations.
func capCheck(s *Slot, flags Ptr) Ret {
	if s.typeRef.Load()&capFrozen != 0 {
		return ErrCapFrozen
	}
	if s.Flags&flags != flags {
		return ErrCapFlag
	}

	return 0
}

// quiescent reports whether at least one quiescence period elapsed since the
// slot's last freeze.
func (k *Kernel) quiescent(stamp Ptr) bool {
	return k.timestamp.Load()-stamp >= k.Quie
}

// delCheck validates deletion of a root capability of the expected type:
// FROZEN, reference count zero, quiescence elapsed, not delegated. The
// returned word is the expected value for the final swap.
func (k *Kernel) delCheck(s *Slot, typ Ptr) (Ptr, Ret) {
	tr := s.typeRef.Load()
	if capTypeOf(tr) == CapNop {
		return 0, ErrCapNull
	}
	if capTypeOf(tr) != typ {
		return 0, ErrCapType
	}
	if tr&capFrozen == 0 {
		return 0, ErrCapFrozen
	}
	if capRefOf(tr) != 0 {
		return 0, ErrCapRefcnt
	}
	if s.Parent != nil {
		return 0, ErrCapRoot
	}
	if !k.quiescent(s.Timestamp) {
		return 0, ErrCapQuie
	}

	return tr, 0
}

// remCheck validates removal of a delegated capability, any type.
func (k *Kernel) remCheck(s *Slot) (Ptr, Ret) {
	tr := s.typeRef.Load()
	if capTypeOf(tr) == CapNop {
		return 0, ErrCapNull
	}
	if tr&capFrozen == 0 {
		return 0, ErrCapFrozen
	}
	if capRefOf(tr) != 0 {
		return 0, ErrCapRefcnt
	}
	if s.Parent == nil {
		return 0, ErrCapRoot
	}
	if !k.quiescent(s.Timestamp) {
		return 0, ErrCapQuie
	}

	return tr, 0
}

// Typed object accessors. The type tag must have been checked first.

// Captbl returns the capability table object behind a CPT capability.
func (s *Slot) Captbl() *Captbl { return s.obj.(*Captbl) }

// Prc returns the process object behind a PRC capability.
func (s *Slot) Prc() *Prc { return s.obj.(*Prc) }

// Thd returns the thread object behind a THD capability.
func (s *Slot) Thd() *Thd { return s.obj.(*Thd) }

// Sig returns the signal endpoint behind a SIG capability.
func (s *Slot) Sig() *Sig { return s.obj.(*Sig) }

// Inv returns the invocation object behind an INV capability.
func (s *Slot) Inv() *Inv { return s.obj.(*Inv) }

// Pgt returns the port-owned page table object behind a PGT capability.
func (s *Slot) Pgt() any { return s.obj }

// SetPgt installs the port-owned page table object during PgtInit.
func (s *Slot) SetPgt(obj any) { s.obj = obj }
