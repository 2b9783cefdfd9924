// Package probe reports the compile-time geometry of the kernel and the
// port: object sizes, slot granularity and MPU shape. The probe subcommand
// prints it so user-level setup code can lay out its kernel memory.
package probe

import (
	"fmt"
	"io"

	"github.com/EDI-Systems/M7M01-Eukaron-sub003/a7m"
	"github.com/EDI-Systems/M7M01-Eukaron-sub003/kernel"
)

// Geometry writes the kernel object geometry to w.
func Geometry(w io.Writer) error {
	p := a7m.New()

	rows := []struct {
		name  string
		value kernel.Ptr
	}{
		{"word order", kernel.WordOrder},
		{"slot size", kernel.CapSize},
		{"mpu regions", a7m.Regions},
		{"max preempt prio", kernel.MaxPreemptPrio},
		{"prc size", kernel.PrcSize},
		{"thd size", kernel.ThdSize},
		{"sig size", kernel.SigSize},
		{"inv size", kernel.InvSize},
		{"cpt size (16 slots)", kernel.CptSize(16)},
	}

	for _, r := range rows {
		if _, err := fmt.Fprintf(w, "%-20s %d\n", r.name, r.value); err != nil {
			return err
		}
	}

	for _, num := range []kernel.Ptr{0, 1, 2, 3} {
		_, err := fmt.Fprintf(w, "pgt size num=%d       top %d / nom %d\n",
			num, p.PgtSizeTop(num), p.PgtSizeNom(num))
		if err != nil {
			return err
		}
	}

	return nil
}
