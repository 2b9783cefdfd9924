package a7m

import "github.com/EDI-Systems/M7M01-Eukaron-sub003/kernel"

// Page table entry attribute bits.
const (
	pgtPresent  kernel.Ptr = 1 << 0
	pgtTerminal kernel.Ptr = 1 << 1
)

// Entry is one page table entry: the hardware attribute word plus the child
// directory link for non-terminal entries.
type Entry struct {
	Attr  kernel.Ptr
	Child *Meta
}

// Meta is the page table object: causal metadata, the MPU representation on
// top-level tables, and the entries themselves.
type Meta struct {
	// BaseAddr carries the start mapping address tagged with the top flag.
	BaseAddr kernel.Ptr
	// Toplevel points at the top-level table this directory is constructed
	// under, nil when unattached or top-level itself.
	Toplevel *Meta
	// SizeNumOrder is the packed geometry.
	SizeNumOrder kernel.Ptr
	// dirPageCount packs the mapped page count in the low half and the child
	// directory count in the high half.
	dirPageCount kernel.Ptr
	// PageFlags is shared by every page in the directory; the MPU subregions
	// of one region cannot differ.
	PageFlags kernel.Ptr
	// MPU is the region file image, top-level tables only.
	MPU *MPUData
	// Table holds the entries.
	Table []Entry
}

func (m *Meta) pageNum() kernel.Ptr { return m.dirPageCount & 0xFFFF }
func (m *Meta) dirNum() kernel.Ptr  { return m.dirPageCount >> 16 }
func (m *Meta) incPageNum()         { m.dirPageCount++ }
func (m *Meta) decPageNum()         { m.dirPageCount-- }
func (m *Meta) incDirNum()          { m.dirPageCount += 1 << 16 }
func (m *Meta) decDirNum()          { m.dirPageCount -= 1 << 16 }

func (m *Meta) isTop() bool { return kernel.PgtIsTop(m.BaseAddr) }

// top returns the MPU data governing this directory, nil when the directory
// is not attached under a top-level.
func (m *Meta) top() *MPUData {
	if m.Toplevel != nil {
		return m.Toplevel.MPU
	}
	if m.isTop() {
		return m.MPU
	}

	return nil
}

// Object sizes for kernel pool accounting.
const (
	metaSize kernel.Ptr = 32
	mpuSize  kernel.Ptr = 4 + 8*Regions
)

// PgtSizeTop returns the byte size of a top-level table with 2^numOrder
// entries.
func (p *Port) PgtSizeTop(numOrder kernel.Ptr) kernel.Ptr {
	return p.PgtSizeNom(numOrder) + mpuSize
}

// PgtSizeNom returns the byte size of a non-top table.
func (p *Port) PgtSizeNom(numOrder kernel.Ptr) kernel.Ptr {
	return metaSize + 4<<numOrder
}

// PgtCheck verifies the geometry is feasible: at most 256 entries, pages of
// 32 bytes up to 4 gigabytes, and a word-aligned object address.
func (p *Port) PgtCheck(base kernel.Ptr, top bool, sizeOrder, numOrder, vaddr kernel.Ptr) kernel.Ret {
	if numOrder > 8 {
		return kernel.ErrPgtHW
	}
	if sizeOrder < 5 || sizeOrder > 32 {
		return kernel.ErrPgtHW
	}
	if vaddr&0x03 != 0 {
		return kernel.ErrPgtHW
	}

	return 0
}

// PgtInit builds the table object behind a fresh capability. Top-level
// tables get their MPU region file cleared with the region numbers
// preloaded.
func (p *Port) PgtInit(pgt *kernel.Slot) kernel.Ret {
	m := &Meta{
		BaseAddr:     pgt.Base,
		SizeNumOrder: pgt.Order,
		Table:        make([]Entry, 1<<kernel.PgtNumOrd(pgt.Order)),
	}

	if m.isTop() {
		m.MPU = &MPUData{}
		for i := 0; i < Regions; i++ {
			m.MPU.Data[i].RBAR = MPUValid | kernel.Ptr(i)
		}
	}

	pgt.SetPgt(m)

	return 0
}

// PgtDelCheck refuses deletion while the table is constructed under a parent
// or still holds child directories.
func (p *Port) PgtDelCheck(pgt *kernel.Slot) kernel.Ret {
	m := pgt.Pgt().(*Meta)
	if m.dirNum() != 0 {
		return kernel.ErrPgtHW
	}
	if m.Toplevel != nil {
		return kernel.ErrPgtHW
	}

	return 0
}

// PgtPageMap maps a page. The page must be readable, the directory must be
// MPU-representable, and every page of one directory must share the same
// flags. Static mappings update the MPU representation immediately and the
// mapping reverts if no region can be made available.
func (p *Port) PgtPageMap(pgt *kernel.Slot, paddr, pos, flags kernel.Ptr) kernel.Ret {
	if flags&kernel.PgtRead == 0 {
		return kernel.ErrPgtPerm
	}
	if kernel.PgtNumOrd(pgt.Order) > 3 {
		return kernel.ErrPgtHW
	}

	m := pgt.Pgt().(*Meta)
	if m.Table[pos].Attr&pgtPresent != 0 {
		return kernel.ErrPgtMap
	}

	// Subregions of one MPU region share their attributes: the first mapping
	// decides, the rest must agree.
	if m.pageNum() == 0 {
		m.PageFlags = flags
	} else if m.PageFlags != flags {
		return kernel.ErrPgtHW
	}

	m.Table[pos] = Entry{Attr: pgtPresent | pgtTerminal |
		kernel.RoundDown(paddr, kernel.PgtSizeOrd(pgt.Order))}

	if m.top() != nil && flags&kernel.PgtStatic != 0 {
		if p.mpuUpdate(m, true) != 0 {
			m.Table[pos] = Entry{}

			return kernel.ErrPgtMap
		}
	}
	m.incPageNum()

	return 0
}

// PgtPageUnmap unmaps a page, updating the MPU representation in step.
func (p *Port) PgtPageUnmap(pgt *kernel.Slot, pos kernel.Ptr) kernel.Ret {
	if kernel.PgtNumOrd(pgt.Order) > 3 {
		return kernel.ErrPgtHW
	}

	m := pgt.Pgt().(*Meta)
	e := m.Table[pos]
	if e.Attr&pgtPresent == 0 || e.Attr&pgtTerminal == 0 {
		return kernel.ErrPgtMap
	}

	m.Table[pos] = Entry{}
	if m.top() != nil {
		if p.mpuUpdate(m, true) != 0 {
			m.Table[pos] = e

			return kernel.ErrPgtMap
		}
	}
	m.decPageNum()

	return 0
}

// PgtPgdirMap constructs a child directory under a parent. Designated
// top-levels can never become children, and a child maps in at most one
// place.
func (p *Port) PgtPgdirMap(parent *kernel.Slot, pos kernel.Ptr, child *kernel.Slot, flags kernel.Ptr) kernel.Ret {
	if kernel.PgtIsTop(child.Base) {
		return kernel.ErrPgtMap
	}

	pm := parent.Pgt().(*Meta)
	cm := child.Pgt().(*Meta)

	// The parent must be, or hang under, a top-level.
	if pm.Toplevel == nil && !pm.isTop() {
		return kernel.ErrPgtMap
	}
	// Already constructed somewhere, or already has grandchildren.
	if cm.Toplevel != nil || cm.dirNum() != 0 {
		return kernel.ErrPgtMap
	}

	if pm.Table[pos].Attr&pgtPresent != 0 {
		return kernel.ErrPgtMap
	}

	pm.Table[pos] = Entry{Attr: pgtPresent, Child: cm}
	if pm.isTop() {
		cm.Toplevel = pm
	} else {
		cm.Toplevel = pm.Toplevel
	}
	pm.incDirNum()

	// Static pages of the child become MPU-visible the moment it attaches.
	if cm.pageNum() != 0 && cm.PageFlags&kernel.PgtStatic != 0 {
		if p.mpuUpdate(cm, true) != 0 {
			pm.Table[pos] = Entry{}
			cm.Toplevel = nil
			pm.decDirNum()

			return kernel.ErrPgtMap
		}
	}

	return 0
}

// PgtPgdirUnmap destructs the child directory at a parent position, clearing
// its MPU region first.
func (p *Port) PgtPgdirUnmap(parent *kernel.Slot, pos kernel.Ptr) kernel.Ret {
	pm := parent.Pgt().(*Meta)

	e := pm.Table[pos]
	if e.Attr&pgtPresent == 0 || e.Attr&pgtTerminal != 0 {
		return kernel.ErrPgtMap
	}

	cm := e.Child
	// A child that grew its own children must shed them first.
	if cm.dirNum() != 0 {
		return kernel.ErrPgtMap
	}

	if cm.pageNum() != 0 {
		if p.mpuUpdate(cm, false) != 0 {
			return kernel.ErrPgtMap
		}
	}

	pm.Table[pos] = Entry{}
	cm.Toplevel = nil
	pm.decDirNum()

	return 0
}

// PgtLookup looks one position up in a directory.
func (p *Port) PgtLookup(pgt *kernel.Slot, pos kernel.Ptr) (paddr, flags kernel.Ptr, ret kernel.Ret) {
	if pos>>kernel.PgtNumOrd(pgt.Order) != 0 {
		return 0, 0, kernel.ErrPgtAddr
	}

	m := pgt.Pgt().(*Meta)
	e := m.Table[pos]
	if e.Attr&pgtPresent == 0 || e.Attr&pgtTerminal == 0 {
		return 0, 0, kernel.ErrPgtAddr
	}

	return e.Attr &^ (pgtPresent | pgtTerminal), m.PageFlags, 0
}

// PgtWalk walks a virtual address from a top-level table down to its page.
func (p *Port) PgtWalk(pgt *kernel.Slot, vaddr kernel.Ptr, out *kernel.Walk) kernel.Ret {
	m := pgt.Pgt().(*Meta)
	if !m.isTop() {
		return kernel.ErrPgtAddr
	}

	for {
		base := kernel.PgtStart(m.BaseAddr)
		if vaddr < base {
			return kernel.ErrPgtAddr
		}
		pos := (vaddr - base) >> kernel.PgtSizeOrd(m.SizeNumOrder)
		if pos>>kernel.PgtNumOrd(m.SizeNumOrder) != 0 {
			return kernel.ErrPgtAddr
		}

		e := m.Table[pos]
		if e.Attr&pgtPresent == 0 {
			return kernel.ErrPgtAddr
		}
		if e.Attr&pgtTerminal != 0 {
			if out != nil {
				out.Pgt = m
				out.MapVaddr = base + pos<<kernel.PgtSizeOrd(m.SizeNumOrder)
				out.Paddr = out.MapVaddr
				out.SizeOrder = kernel.PgtSizeOrd(m.SizeNumOrder)
				out.NumOrder = kernel.PgtNumOrd(m.SizeNumOrder)
				out.Flags = m.PageFlags
			}

			return 0
		}

		m = e.Child
	}
}

// PgtSet activates a top-level page table: its MPU image becomes the live
// region file.
func (p *Port) PgtSet(pgt any) {
	m := pgt.(*Meta)
	p.Active = m.MPU
}
