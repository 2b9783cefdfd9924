package flag

import (
	"fmt"
	"log"
	"os"

	"github.com/alecthomas/kong"
	"github.com/pkg/profile"

	"github.com/EDI-Systems/M7M01-Eukaron-sub003/kernel"
	"github.com/EDI-Systems/M7M01-Eukaron-sub003/machine"
	"github.com/EDI-Systems/M7M01-Eukaron-sub003/probe"
)

// Parse parses the command line and runs the selected subcommand.
func Parse() error {
	c := CLI{}

	ctx := kong.Parse(&c,
		kong.Name("rme"),
		kong.Description("rme is a capability-based microkernel model for ARMv7-M-class cores"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}))

	return ctx.Run()
}

// Run boots a machine, builds a small workload out of the boot kernel
// memory (a child capability table, a worker thread, a signal endpoint),
// gives the worker one time slice per tick, then delivers the timer ticks
// and logs how many remain pending on the tick endpoint.
func (s *RunCMD) Run() error {
	if s.Profile {
		defer profile.Start(profile.ProfilePath(".")).Stop()
	}

	base, err := ParseAddr(s.MemBase)
	if err != nil {
		return err
	}
	size, err := ParseSize(s.MemSize, "m")
	if err != nil {
		return err
	}

	m, err := machine.New(machine.Config{MemBase: base, MemSize: kernel.Ptr(size)})
	if err != nil {
		return err
	}

	if s.Image != "" {
		data, err := os.ReadFile(s.Image)
		if err != nil {
			return err
		}
		m.LoadImage(base, data)
	}

	m.Kernel.PrintStr("RME A7M-class kernel model\r\n")
	log.Printf("booted: pool %#x+%#x, kmem at %#x", base, size, m.KmemBase())

	// A worker thread under the boot scheduler, running on slices
	// transferred from the boot thread.
	const (
		capCpt kernel.Cid = 8
		capThd kernel.Cid = 9
		capSig kernel.Cid = 10
	)

	steps := []struct {
		name string
		svc  kernel.Ptr
		cap  kernel.Ptr
		p    [3]kernel.Ptr
	}{
		{"cpt-crt", kernel.SvcCptCrt, kernel.Ptr(machine.BootCpt),
			[3]kernel.Ptr{kernel.ParamD(kernel.Ptr(machine.BootKom), kernel.Ptr(capCpt)), 0, 32}},
		{"thd-crt", kernel.SvcThdCrt, kernel.Ptr(machine.BootCpt),
			[3]kernel.Ptr{kernel.ParamD(kernel.Ptr(machine.BootKom), kernel.Ptr(capThd)),
				kernel.ParamD(kernel.Ptr(machine.BootPrc), 5), 0x800}},
		{"sig-crt", kernel.SvcSigCrt, kernel.Ptr(machine.BootCpt),
			[3]kernel.Ptr{kernel.Ptr(machine.BootKom), kernel.Ptr(capSig), 0xC00}},
		{"thd-bind", kernel.SvcThdSchedBind, kernel.Ptr(capThd),
			[3]kernel.Ptr{kernel.ParamD(kernel.Ptr(machine.BootThd), kernel.SigNone), 1, 2}},
		{"thd-exec", kernel.SvcThdExecSet, kernel.Ptr(capThd),
			[3]kernel.Ptr{0x08000000, 0x20020000, 0}},
		{"time-xfer", kernel.SvcThdTimeXfer, 0,
			[3]kernel.Ptr{kernel.Ptr(capThd), kernel.Ptr(machine.BootThd), kernel.Ptr(s.Ticks)}},
	}

	for _, st := range steps {
		r, err := m.Syscall(0, st.svc, st.cap, st.p[0], st.p[1], st.p[2])
		if err != nil {
			return err
		}
		if r < 0 {
			return fmt.Errorf("%s: %w", st.name, kernel.Errno(r))
		}
	}

	log.Printf("worker bound with tid 1, running %d ticks", s.Ticks)

	for i := 0; i < s.Ticks; i++ {
		m.Tick()
	}

	cl := m.Kernel.Local(0)
	log.Printf("done: timestamp=%d cur-tid=%d pending-ticks=%d",
		m.Kernel.Timestamp(), m.CurTID(0), cl.TickSig.Num.Load())

	return nil
}

// Run prints the port geometry constants.
func (s *ProbeCMD) Run() error {
	return probe.Geometry(os.Stdout)
}

// Run disassembles a raw image file.
func (s *DisasmCMD) Run() error {
	data, err := os.ReadFile(s.File)
	if err != nil {
		return err
	}

	base, err := ParseAddr(s.Base)
	if err != nil {
		return err
	}

	m, err := machine.New(machine.Config{MemBase: 0x20000000, MemSize: 1 << 20})
	if err != nil {
		return err
	}
	m.LoadImage(base, data)

	lines, err := m.Disasm(base, s.Count)
	if err != nil {
		return err
	}
	for _, l := range lines {
		fmt.Println(l)
	}

	return nil
}
