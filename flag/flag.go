// Package flag defines the command line interface of the kernel simulator.
package flag

import (
	"errors"
	"strconv"
	"strings"
)

// ErrInvalidUnit indicates a size suffix other than k, m or g.
var ErrInvalidUnit = errors.New("invalid unit for size")

// CLI is the top-level command set.
type CLI struct {
	Run    RunCMD    `cmd:"" help:"Boot the kernel and run the demo workload."`
	Probe  ProbeCMD  `cmd:"" help:"Print the port geometry and object sizes."`
	Disasm DisasmCMD `cmd:"" help:"Disassemble an ARM-mode firmware image."`
}

// RunCMD boots a machine and drives it for a number of ticks.
type RunCMD struct {
	MemBase string `name:"b" default:"0x20000000" help:"kernel pool base address"`
	MemSize string `name:"m" default:"1m" help:"kernel pool size (k/m/g suffixes)"`
	Ticks   int    `name:"t" default:"32" help:"timer ticks to run"`
	Image   string `name:"k" default:"" help:"firmware image for debug dumps"`
	Profile bool   `name:"profile" default:"false" help:"write a CPU profile"`
}

// ProbeCMD prints the compile-time geometry of the port.
type ProbeCMD struct{}

// DisasmCMD dumps an image.
type DisasmCMD struct {
	File  string `arg:"" help:"raw ARM-mode image file"`
	Base  string `name:"b" default:"0x0" help:"load address"`
	Count int    `name:"n" default:"32" help:"instructions to print"`
}

// ParseSize converts a size string with an optional k/m/g suffix into bytes.
// The dfltUnit applies when the string carries no k/m/g suffix.
func ParseSize(s, dfltUnit string) (uint64, error) {
	sl := strings.ToLower(s)
	if !strings.HasSuffix(sl, "k") && !strings.HasSuffix(sl, "m") && !strings.HasSuffix(sl, "g") {
		sl += dfltUnit
	}

	shift, ok := map[byte]uint{'k': 10, 'm': 20, 'g': 30}[sl[len(sl)-1]]
	if !ok {
		return 0, ErrInvalidUnit
	}

	num, err := strconv.ParseUint(sl[:len(sl)-1], 0, 64)
	if err != nil {
		return 0, err
	}

	return num << shift, nil
}

// ParseAddr converts a hex or decimal address string.
func ParseAddr(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, err
	}

	return uint32(v), nil
}
