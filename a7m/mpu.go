package a7m

import "github.com/EDI-Systems/M7M01-Eukaron-sub003/kernel"

// The MPU region file image kept on every top-level page table. A Cortex-M
// MPU has 8 or 16 regions; each region covers one page directory, with the
// per-page subregion-disable bits compressing the directory's presence map.
const (
	// Regions is the number of MPU regions of the represented core.
	Regions = 8

	// MPUValid marks an RBAR write that also selects the region number.
	MPUValid kernel.Ptr = 1 << 4

	mpuAddrMask kernel.Ptr = 0xFFFFFFE0

	mpuSZEnable   kernel.Ptr = 1
	mpuSRDClr     kernel.Ptr = 0x0000FF00
	mpuBufferable kernel.Ptr = 1 << 16
	mpuCacheable  kernel.Ptr = 1 << 17
	mpuRO         kernel.Ptr = 2 << 24
	mpuRW         kernel.Ptr = 3 << 24
	mpuXN         kernel.Ptr = 1 << 28
)

func mpuRegionSize(totalOrder kernel.Ptr) kernel.Ptr { return (totalOrder - 1) << 1 }

func mpuAddr(rbar kernel.Ptr) kernel.Ptr { return rbar & mpuAddrMask }

func mpuSzOrd(rasr kernel.Ptr) kernel.Ptr { return (rasr&0x3F)>>1 + 1 }

// MPUEntry is one region register pair.
type MPUEntry struct {
	RBAR kernel.Ptr
	RASR kernel.Ptr
}

// MPUData is the region file image plus the static-region bitmap. Static
// regions are never evicted by the dynamic replacement path.
type MPUData struct {
	Static kernel.Ptr
	Data   [Regions]MPUEntry
}

// rand is the LFSR driving the random replacement policy. The represented
// core is single-core, so the state is port-local.
func (p *Port) rand() kernel.Ptr {
	if p.lfsr&0x01 != 0 {
		p.lfsr >>= 1
		p.lfsr ^= 0xB400B400
	} else {
		p.lfsr >>= 1
	}

	return p.lfsr
}

// mpuGenRASR compresses one directory into an RASR value: subregion-disable
// bits from the presence map, attributes from the shared page flags, the
// region size from the geometry. Returns zero when no page is mapped.
func mpuGenRASR(table []Entry, flags, sizeOrder, numOrder kernel.Ptr) kernel.Ptr {
	var srd kernel.Ptr

	var unit kernel.Ptr
	switch numOrder {
	case 0:
		unit = 0xFF
	case 1:
		unit = 0x0F
	case 2:
		unit = 0x03
	case 3:
		unit = 0x01
	default:
		return 0
	}

	for i := kernel.Ptr(0); i < 1<<numOrder; i++ {
		e := table[i]
		if e.Attr&pgtPresent != 0 && e.Attr&pgtTerminal != 0 {
			srd |= unit << (i << (3 - numOrder))
		}
	}

	if srd == 0 {
		return 0
	}

	rasr := mpuSRDClr &^ (srd << 8)
	rasr |= mpuSZEnable
	// Always readable; the write bit picks the access permission.
	if flags&kernel.PgtWrite != 0 {
		rasr |= mpuRW
	} else {
		rasr |= mpuRO
	}
	if flags&kernel.PgtExecute == 0 {
		rasr |= mpuXN
	}
	if flags&kernel.PgtCacheable != 0 {
		rasr |= mpuCacheable
	}
	if flags&kernel.PgtBufferable != 0 {
		rasr |= mpuBufferable
	}
	rasr |= mpuRegionSize(sizeOrder + numOrder)

	return rasr
}

// mpuClear drops the region covering {base, totalOrder} if one exists.
func mpuClear(top *MPUData, base, sizeOrder, numOrder kernel.Ptr) {
	for i := 0; i < Regions; i++ {
		if top.Data[i].RASR&mpuSZEnable == 0 {
			continue
		}
		if mpuAddr(top.Data[i].RBAR) == base && mpuSzOrd(top.Data[i].RASR) == sizeOrder+numOrder {
			top.Data[i].RBAR = MPUValid | kernel.Ptr(i)
			top.Data[i].RASR = 0
			top.Static &^= 1 << i

			return
		}
	}
}

// mpuAdd installs or updates the region for {base, totalOrder}. An existing
// region is updated in place; otherwise an empty slot is preferred, and a
// dynamic mapping may evict another dynamic region chosen by the LFSR. At
// least two regions always remain for dynamic use: LDRD/STRD may touch two
// regions in one access.
func (p *Port) mpuAdd(top *MPUData, base, sizeOrder, numOrder, rasr, static kernel.Ptr) kernel.Ret {
	var empty, dynamic [Regions]int
	emptyCnt, dynamicCnt := 0, 0

	for i := 0; i < Regions; i++ {
		if top.Data[i].RASR&mpuSZEnable != 0 {
			if top.Static&(1<<i) == 0 {
				dynamic[dynamicCnt] = i
				dynamicCnt++
			}
			if mpuAddr(top.Data[i].RBAR) == base && mpuSzOrd(top.Data[i].RASR) == sizeOrder+numOrder {
				top.Data[i].RASR = rasr
				if static != 0 {
					top.Static |= 1 << i
				} else {
					top.Static &^= 1 << i
				}

				return 0
			}
		} else {
			empty[emptyCnt] = i
			emptyCnt++
		}
	}

	if static != 0 {
		if emptyCnt+dynamicCnt < 3 {
			return kernel.ErrPgtMap
		}
	} else if emptyCnt+dynamicCnt == 0 {
		return kernel.ErrPgtMap
	}

	var slot int
	if emptyCnt != 0 {
		slot = empty[0]
	} else {
		slot = dynamic[p.rand()%kernel.Ptr(dynamicCnt)]
	}

	top.Data[slot].RBAR = mpuAddr(base) | MPUValid | kernel.Ptr(slot)
	top.Data[slot].RASR = rasr
	if static != 0 {
		top.Static |= 1 << slot
	} else {
		top.Static &^= 1 << slot
	}

	return 0
}

// mpuUpdate recomputes the region of one directory in its top-level's MPU
// image. With add false the region is dropped instead. Directories larger
// than eight entries are not representable.
func (p *Port) mpuUpdate(m *Meta, add bool) kernel.Ret {
	if kernel.PgtNumOrd(m.SizeNumOrder) > 3 {
		return kernel.ErrPgtHW
	}

	top := m.top()
	if top == nil {
		return kernel.ErrPgtHW
	}

	base := kernel.PgtStart(m.BaseAddr)
	szOrd := kernel.PgtSizeOrd(m.SizeNumOrder)
	numOrd := kernel.PgtNumOrd(m.SizeNumOrder)

	if !add {
		mpuClear(top, base, szOrd, numOrd)

		return 0
	}

	rasr := mpuGenRASR(m.Table, m.PageFlags, szOrd, numOrd)
	if rasr == 0 {
		// Every page gone; the region goes with them.
		mpuClear(top, base, szOrd, numOrd)

		return 0
	}

	return p.mpuAdd(top, base, szOrd, numOrd, rasr, m.PageFlags&kernel.PgtStatic)
}
