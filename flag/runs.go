package flag

import (
	"fmt"
	"os"
	"strconv"

	"github.com/alecthomas/kong"
	"github.com/pkg/profile"
	"github.com/vmxlab/hyperstone/cpu"
	"github.com/vmxlab/hyperstone/kvm"
	"github.com/vmxlab/hyperstone/vmm"
)

// Parse builds the kong command tree and runs whichever subcommand the
// arguments select.
func Parse() error {
	cli := CLI{}

	parser, err := kong.New(&cli, kong.Name("hyperstone"),
		kong.Description("a minimal type-1 x86-64 KVM hypervisor"))
	if err != nil {
		return err
	}

	ctx, err := parser.Parse(os.Args[1:])
	if err != nil {
		return err
	}

	return ctx.Run()
}

// Run carves the secret area, builds the EPT and VMCS, and launches the
// guest to completion.
func (c *BootCMD) Run() error {
	memSize, err := ParseSize(c.MemSize, "")
	if err != nil {
		return fmt.Errorf("flag: -m %s: %w", c.MemSize, err)
	}

	trace, err := strconv.Atoi(c.Trace)
	if err != nil {
		return fmt.Errorf("flag: -T %s: %w", c.Trace, err)
	}

	if c.Profile != "" {
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(c.Profile)).Stop()
	}

	v := vmm.New(vmm.Config{
		Dev:        c.Dev,
		VMMImage:   c.Image,
		MemSize:    memSize,
		TraceCount: trace,
	})

	if err := v.Init(); err != nil {
		return err
	}

	if err := v.Setup(); err != nil {
		return err
	}

	return v.Boot()
}

// Run opens the KVM device and prints the CPUID leaves the host exposes
// to a guest, plus the VMX and MTRR capability this hypervisor's boot
// path itself depends on.
func (c *ProbeCMD) Run() error {
	dev, err := os.OpenFile("/dev/kvm", os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("probe: open /dev/kvm: %w", err)
	}
	defer dev.Close()

	kvmFd := dev.Fd()

	cpuid := kvm.CPUID{Nent: 100}

	if err := kvm.GetSupportedCPUID(kvmFd, &cpuid); err != nil {
		return fmt.Errorf("probe: GetSupportedCPUID: %w", err)
	}

	for i := uint32(0); i < cpuid.Nent; i++ {
		e := cpuid.Entries[i]
		fmt.Printf("0x%08x 0x%02x: eax=0x%08x ebx=0x%08x ecx=0x%08x edx=0x%08x (flag:%x)\n",
			e.Function, e.Index, e.Eax, e.Ebx, e.Ecx, e.Edx, e.Flags)
	}

	return probeVMXAndMTRR(kvmFd)
}

// probeVMXAndMTRR opens a scratch VM and vCPU purely to read the MSRs
// that name this host's VMX and MTRR capability — the same values
// vmm.Setup reads on a real boot, surfaced here for diagnosis.
func probeVMXAndMTRR(kvmFd uintptr) error {
	vmFd, err := kvm.CreateVM(kvmFd)
	if err != nil {
		return fmt.Errorf("probe: CreateVM: %w", err)
	}

	vcpuFd, err := kvm.CreateVCPU(vmFd, 0)
	if err != nil {
		return fmt.Errorf("probe: CreateVCPU: %w", err)
	}

	fc, err := cpu.ReadMSR(vcpuFd, cpu.MSRFeatureControl)
	if err != nil {
		return fmt.Errorf("probe: read IA32_FEATURE_CONTROL: %w", err)
	}

	fmt.Printf("IA32_FEATURE_CONTROL: 0x%016x vmx-enabled=%v\n", fc, cpu.FeatureControlOK(fc))

	defType, err := cpu.ReadMSR(vcpuFd, cpu.MSRMTRRDefType)
	if err != nil {
		return fmt.Errorf("probe: read IA32_MTRR_DEF_TYPE: %w", err)
	}

	enabled, fixedEnabled, def := cpu.MTRREnabled(defType)
	fmt.Printf("IA32_MTRR_DEF_TYPE: 0x%016x enabled=%v fixed-enabled=%v default-type=%d\n",
		defType, enabled, fixedEnabled, def)

	return nil
}
