// Package flag is the CLI entry point: two kong subcommands, "boot"
// and "probe", mirroring gokvm's own flag package shape.
package flag

import (
	"fmt"
	"strconv"
	"strings"
)

// CLI is the top-level kong command tree.
type CLI struct {
	Boot  BootCMD  `cmd:"" help:"carve the secret area, build the EPT/VMCS, and launch the guest"`
	Probe ProbeCMD `cmd:"" help:"print CPUID/MTRR/VMX capability information for this host"`
}

// BootCMD's flags mirror gokvm's BootArgs in spirit (short flags,
// num[gGmMkK] sizes) but name this hypervisor's own inputs.
type BootCMD struct {
	Dev     string `short:"D" default:"/dev/kvm" help:"path of kvm device"`
	Image   string `short:"i" required:"" help:"relocatable ELF64 vmm image carved into the secret area"`
	MemSize string `short:"m" default:"256M" help:"guest memory size: number[gGmMkK]"`
	Trace   string `short:"T" default:"0" help:"log every vm-exit's KVM exit type"`
	Profile string `short:"p" help:"write CPU profile output to this directory"`
}

// ProbeCMD takes no arguments.
type ProbeCMD struct{}

// ParseSize parses a size string as number[gGmMkK]. The multiplier is
// optional; if absent, unit is used instead. Ported verbatim from
// gokvm's flag.ParseSize — the same num[gGmMkK] convention this
// hypervisor's memory-size flag needs.
func ParseSize(s, unit string) (int, error) {
	sz := strings.TrimRight(s, "gGmMkK")
	if len(sz) == 0 {
		return -1, fmt.Errorf("%q:can't parse as num[gGmMkK]:%w", s, strconv.ErrSyntax)
	}

	amt, err := strconv.ParseUint(sz, 0, 0)
	if err != nil {
		return -1, err
	}

	if len(s) > len(sz) {
		unit = s[len(sz):]
	}

	switch unit {
	case "G", "g":
		return int(amt) << 30, nil
	case "M", "m":
		return int(amt) << 20, nil
	case "K", "k":
		return int(amt) << 10, nil
	case "":
		return int(amt), nil
	}

	return -1, fmt.Errorf("can not parse %q as num[gGmMkK]:%w", s, strconv.ErrSyntax)
}
