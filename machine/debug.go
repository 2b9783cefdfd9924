package machine

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/arch/arm/armasm"
)

// ErrBadAddress indicates a disassembly request outside the loaded image.
var ErrBadAddress = errors.New("address outside loaded image")

// Image is a raw firmware image attached for debugging. The machine does not
// execute it; it exists so fault dumps and the disasm command can show the
// code a thread entry or fault address points at. ARM-mode
// (application-class) images only.
type Image struct {
	Base uint32
	Data []byte
}

// LoadImage attaches a firmware image to the machine for debugging.
func (m *Machine) LoadImage(base uint32, data []byte) {
	m.img = &Image{Base: base, Data: data}
}

// Disasm decodes up to n ARM instructions starting at addr in the loaded
// image, one formatted line per instruction.
func (m *Machine) Disasm(addr uint32, n int) ([]string, error) {
	img := m.img
	if img == nil || addr < img.Base || addr >= img.Base+uint32(len(img.Data)) {
		return nil, fmt.Errorf("%#x: %w", addr, ErrBadAddress)
	}

	lines := make([]string, 0, n)
	off := addr - img.Base

	for i := 0; i < n && int(off)+4 <= len(img.Data); i++ {
		inst, err := armasm.Decode(img.Data[off:], armasm.ModeARM)
		if err != nil {
			lines = append(lines, fmt.Sprintf("%08x:\t%x\t?", img.Base+off, img.Data[off:off+4]))
			off += 4

			continue
		}

		text := armasm.GoSyntax(inst, uint64(img.Base+off), nil, nil)
		lines = append(lines, fmt.Sprintf("%08x:\t%s", img.Base+off, text))
		off += uint32(inst.Len)
	}

	return lines, nil
}

// DumpCPU formats the live register file of one CPU for fault reports.
func (m *Machine) DumpCPU(cpu int) string {
	r := m.Reg[cpu]

	var b strings.Builder
	fmt.Fprintf(&b, "SP=%08x LR=%08x\n", r.SP, r.LR)
	fmt.Fprintf(&b, "R4=%08x R5=%08x R6=%08x R7=%08x\n", r.R4, r.R5, r.R6, r.R7)
	fmt.Fprintf(&b, "R8=%08x R9=%08x R10=%08x R11=%08x\n", r.R8, r.R9, r.R10, r.R11)

	return b.String()
}
