// Package kernel implements the architecture-independent core of the RME
// capability-based microkernel: the capability table object system, the
// kernel object allocator front-end, processes, threads, the priority
// scheduler, signal endpoints, synchronous invocations and the system call
// dispatcher. Architecture specifics (register sets, MPU/MMU programming,
// interrupt plumbing) live behind the Port interface; see the a7m package
// for the ARMv7-M-class implementation.
package kernel

// Ptr is the machine word of the represented targets (ARMv6-M/ARMv7-M class,
// 32-bit).
type Ptr = uint32

// Ret is the signed machine word used for system call returns. Negative
// values are error codes from the Errno taxonomy.
type Ret = int32

// Cid is a capability id. Negative values mean "none" where a capability is
// optional.
type Cid = int32

// Tid is a user-supplied thread id, opaque to the kernel.
type Tid = int32

// WordOrder is the bit order of the machine word.
const WordOrder = 5

// Capability id encoding. A 16-bit capid with bit 15 set is a 2-level id:
// bits 8..14 name a CPT capability in the caller's master table, bits 0..7
// the slot inside that table. The 2-level id space bounds the entry count of
// any capability table.
const (
	Capid2L     = 1 << 8
	capid2LFlag = 1 << 15
	capidOuter  = 0x7F00
	capidInner  = 0x00FF
)

// Capability types. A zero tag is an empty slot.
const (
	CapNop Ptr = iota
	CapCpt
	CapPgt
	CapKfn
	CapKom
	CapPrc
	CapThd
	CapSig
	CapInv
)

// Slot geometry of the kernel pool. One capability slot is one KOT granule.
const (
	KmemSlotOrder = 6
	CapSize       = 1 << KmemSlotOrder
)

// Kernel object sizes. Capability tables and page tables are geometric, the
// rest are fixed.
const (
	PrcSize Ptr = 64
	ThdSize Ptr = 1024
	SigSize Ptr = 64
	InvSize Ptr = 128
)

// CptSize is the backing size of a capability table with entryNum slots.
func CptSize(entryNum Ptr) Ptr { return entryNum * CapSize }

// Scheduler parameters.
const (
	// MaxPreemptPrio is the number of preemption priorities, one bitmap word.
	MaxPreemptPrio = 32
	prioWordNum    = MaxPreemptPrio >> WordOrder

	// ThdInfTime marks an infinite budget; ThdInitTime marks the boot-thread
	// budget. Any transfer amount at or above ThdInfTime requests an infinite
	// transfer; exactly ThdInitTime requests a revoking transfer.
	ThdInfTime  Ptr = 0x7FFFFFFE
	ThdInitTime Ptr = 0x7FFFFFFF

	// ThdFaultFlag is or-ed onto the TID returned by SchedRcv when the
	// notification reports a fault. User TIDs must stay below it.
	ThdFaultFlag = 1 << 16

	// MaxSigNum is the saturation point of a signal endpoint counter.
	MaxSigNum = 0x3FFFFFFF
)

// Generic page flags, translated by the architecture.
const (
	PgtRead Ptr = 1 << iota
	PgtWrite
	PgtExecute
	PgtCacheable
	PgtBufferable
	PgtStatic

	PgtAllPerm = PgtRead | PgtWrite | PgtExecute | PgtCacheable | PgtBufferable | PgtStatic
)

// PgtTop tags the base address of a top-level page table.
const PgtTop Ptr = 1

// Capability table operation flags.
const (
	CptFlagCrt Ptr = 1 << iota
	CptFlagDel
	CptFlagFrz
	CptFlagAddSrc
	CptFlagAddDst
	CptFlagRem
	CptFlagPrcCrt
	CptFlagPrcCpt

	CptFlagAll = CptFlagCrt | CptFlagDel | CptFlagFrz | CptFlagAddSrc |
		CptFlagAddDst | CptFlagRem | CptFlagPrcCrt | CptFlagPrcCpt
)

// Kernel memory operation flags: which object kinds a KOM capability may
// create.
const (
	KomFlagCpt Ptr = 1 << iota
	KomFlagPgt
	KomFlagPrc
	KomFlagThd
	KomFlagSig
	KomFlagInv

	KomFlagAll = KomFlagCpt | KomFlagPgt | KomFlagPrc | KomFlagThd |
		KomFlagSig | KomFlagInv
)

// Page table capability operation flags.
const (
	PgtFlagAddSrc Ptr = 1 << iota
	PgtFlagAddDst
	PgtFlagRem
	PgtFlagChild
	PgtFlagConParent
	PgtFlagDesParent
	PgtFlagPrcCrt
	PgtFlagPrcPgt

	PgtFlagAll = PgtFlagAddSrc | PgtFlagAddDst | PgtFlagRem | PgtFlagChild |
		PgtFlagConParent | PgtFlagDesParent | PgtFlagPrcCrt | PgtFlagPrcPgt
)

// Process capability operation flags.
const (
	PrcFlagInv Ptr = 1 << iota
	PrcFlagThd
	PrcFlagCpt
	PrcFlagPgt

	PrcFlagAll = PrcFlagInv | PrcFlagThd | PrcFlagCpt | PrcFlagPgt
)

// Thread capability operation flags.
const (
	ThdFlagExecSet Ptr = 1 << iota
	ThdFlagHypSet
	ThdFlagSchedChild
	ThdFlagSchedParent
	ThdFlagSchedPrio
	ThdFlagSchedFree
	ThdFlagSchedRcv
	ThdFlagXferSrc
	ThdFlagXferDst
	ThdFlagSwt

	ThdFlagAll = ThdFlagExecSet | ThdFlagHypSet | ThdFlagSchedChild |
		ThdFlagSchedParent | ThdFlagSchedPrio | ThdFlagSchedFree |
		ThdFlagSchedRcv | ThdFlagXferSrc | ThdFlagXferDst | ThdFlagSwt
)

// Invocation capability operation flags.
const (
	InvFlagSet Ptr = 1 << iota
	InvFlagAct

	InvFlagAll = InvFlagSet | InvFlagAct
)

// Signal capability operation flags.
const (
	SigFlagSnd Ptr = 1 << iota
	SigFlagRcvBS
	SigFlagRcvBM
	SigFlagRcvNS
	SigFlagRcvNM
	SigFlagSched

	SigFlagRcv = SigFlagRcvBS | SigFlagRcvBM | SigFlagRcvNS | SigFlagRcvNM
	SigFlagAll = SigFlagSnd | SigFlagRcv | SigFlagSched
)

// Receive options for SigRcv.
const (
	RcvBS Ptr = iota
	RcvBM
	RcvNS
	RcvNM
)

// System call numbers (value-stable).
const (
	SvcInvRet Ptr = iota
	SvcInvAct
	SvcSigSnd
	SvcSigRcv
	SvcKfn
	SvcThdSchedPrio
	SvcThdSchedFree
	SvcThdTimeXfer
	SvcThdSwt
	SvcCptCrt
	SvcCptDel
	SvcCptFrz
	SvcCptAdd
	SvcCptRem
	SvcPgtCrt
	SvcPgtDel
	SvcPgtAdd
	SvcPgtRem
	SvcPgtCon
	SvcPgtDes
	SvcPrcCrt
	SvcPrcDel
	SvcPrcCpt
	SvcPrcPgt
	SvcThdCrt
	SvcThdDel
	SvcThdExecSet
	SvcThdHypSet
	SvcThdSchedBind
	SvcThdSchedRcv
	SvcSigCrt
	SvcSigDel
	SvcInvCrt
	SvcInvDel
	SvcInvSet
)

// Kernel function ids, dispatched through KFN capabilities. Port code
// implements a subset.
const (
	KfnPgtCacheClr Ptr = 0xF000 + iota
	KfnPgtLineClr
	KfnPgtASIDSet
	KfnPgtTLBLock
	KfnPgtEntryMod
)

const (
	KfnIntLocalMod Ptr = 0xF100 + iota
	KfnIntGlobalMod
	KfnIntLocalTrig
	KfnEvtLocalTrig
)

const (
	KfnCacheEnable Ptr = 0xF200 + iota
	KfnCacheDisable
	KfnCacheConfig
	KfnCacheInvalidate
	KfnCacheLock
	KfnPrfthEnable
	KfnPrfthDisable
)

const (
	KfnIdleSleep Ptr = 0xF400 + iota
	KfnVoltageMod
	KfnFreqMod
	KfnPowerMod
	KfnSafetyMod
)

const (
	KfnPerfCPUFunc Ptr = 0xF500 + iota
	KfnPerfMonMod
	KfnPerfCntMod
	KfnPerfCycleMod
	KfnPerfDataMod
	KfnPerfPhysMod
	KfnPerfCumulMod
)

const (
	KfnDebugPrint Ptr = 0xF800 + iota
	KfnDebugRegMod
	KfnDebugInvMod
	KfnDebugModeMod
	KfnDebugIBPMod
	KfnDebugDBPMod
)

// KfnFullRange is the id range of a boot-created kernel function capability.
const KfnFullRange Ptr = 0xFFFF

// D1/D0 split a parameter word into halves; Q1/Q0 split a half further. The
// system call marshalling packs multiple small ids into single registers.
func paramD1(w Ptr) Ptr { return w >> 16 }
func paramD0(w Ptr) Ptr { return w & 0xFFFF }
func paramQ1(w Ptr) Ptr { return (w >> 8) & 0xFF }
func paramQ0(w Ptr) Ptr { return w & 0xFF }

// ParamD packs two halves into one parameter word.
func ParamD(d1, d0 Ptr) Ptr { return d1<<16 | d0&0xFFFF }

// ParamQ packs two quarters into the low half of a parameter word.
func ParamQ(q1, q0 Ptr) Ptr { return (q1&0xFF)<<8 | q0&0xFF }

// PgtblFlag packs a delegated position range and operation flags into the
// flags word of a page table delegation: flags in bits 0..7, low position in
// bits 8..19, high position in bits 20..31.
func PgtblFlag(high, low, flags Ptr) Ptr {
	return high<<20 | (low&0xFFF)<<8 | flags&0xFF
}

func pgtFlagHigh(w Ptr) Ptr  { return w >> 20 }
func pgtFlagLow(w Ptr) Ptr   { return (w >> 8) & 0xFFF }
func pgtFlagFlags(w Ptr) Ptr { return w & 0xFF }

// KfnFlag packs a kernel function id range into a delegation flags word.
func KfnFlag(high, low Ptr) Ptr { return high<<16 | low&0xFFFF }

func kfnFlagHigh(w Ptr) Ptr { return w >> 16 }
func kfnFlagLow(w Ptr) Ptr  { return w & 0xFFFF }

// KomFlag packs a kernel memory delegation range into the flags word: start
// and end offsets relative to the source capability's start, in KOT slot
// granules, end exclusive. The object kind bitmask travels in the extension
// word.
func KomFlag(start, end Ptr) Ptr {
	return (start>>KmemSlotOrder)<<16 | (end >> KmemSlotOrder)
}

func komFlagStart(w Ptr) Ptr { return (w >> 16) << KmemSlotOrder }
func komFlagEnd(w Ptr) Ptr   { return (w & 0xFFFF) << KmemSlotOrder }

// RoundUp rounds addr up to a power-of-two order boundary.
func RoundUp(addr, order Ptr) Ptr {
	return (addr + (1 << order) - 1) &^ ((1 << order) - 1)
}

// RoundDown rounds addr down to a power-of-two order boundary.
func RoundDown(addr, order Ptr) Ptr {
	return addr &^ ((1 << order) - 1)
}
