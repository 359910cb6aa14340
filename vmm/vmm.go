// Package vmm owns the top-level guest lifecycle: opening /dev/kvm,
// carving the secret area and building the EPT and VMCS for one guest,
// and running the single VM-exit dispatch loop until the guest halts.
package vmm

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/vmxlab/hyperstone/cpu"
	"github.com/vmxlab/hyperstone/elf64"
	"github.com/vmxlab/hyperstone/ept"
	"github.com/vmxlab/hyperstone/kvm"
	"github.com/vmxlab/hyperstone/multiboot"
	"github.com/vmxlab/hyperstone/paging"
	"github.com/vmxlab/hyperstone/pool"
	"github.com/vmxlab/hyperstone/serial"
	"github.com/vmxlab/hyperstone/smem"
	"github.com/vmxlab/hyperstone/vmcs"
	"golang.org/x/sys/unix"
)

// Real-mode guest entry state, per spec.md §6: CS:IP = 0:BaseIP,
// SS:SP computed from the traditional BIOS stack top at 0x9FC00-2.
const (
	baseIP = 0x0600
	baseSP = uint16((0x9FC00 - 2) & 0xFFFF)
	baseSS = uint16(((0x9FC00 - 2) & 0xFFFF0000) >> 4)

	idtrLimit = 0x15*4 - 1

	serialIRQ = 4

	// kvmtool/Firecracker's conventional placement for the two 4 KiB
	// regions KVM's in-kernel real-mode emulation needs below 4 GiB.
	identityMapAddr = 0xFFFBC000
	tssAddr         = 0xFFFBD000
)

// VMM owns the live KVM handles and the single guest they run.
type VMM struct {
	Config

	kvmFd, vmFd, vcpuFd uintptr
	run                 *kvm.RunData
	runMmap             []byte

	mem []byte

	info   *smem.Info
	vcs    *vmcs.VMCS
	serial *serial.Serial
}

// New constructs a VMM bound to c; Init must be called before Setup.
func New(c Config) *VMM {
	return &VMM{Config: c}
}

// InjectSerialIRQ implements serial.IRQInjector by driving the COM1
// GSI through the in-kernel IRQ chip.
func (v *VMM) InjectSerialIRQ() error {
	if err := kvm.IRQLine(v.vmFd, serialIRQ, 1); err != nil {
		return err
	}

	return kvm.IRQLine(v.vmFd, serialIRQ, 0)
}

// Init opens the KVM device, creates the VM and its one vCPU, and maps
// the guest's physical address space, per spec.md §5's single-vCPU
// concurrency model.
func (v *VMM) Init() error {
	dev, err := os.OpenFile(v.Dev, os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("vmm: open %s: %w", v.Dev, err)
	}

	v.kvmFd = dev.Fd()

	if v.vmFd, err = kvm.CreateVM(v.kvmFd); err != nil {
		return fmt.Errorf("vmm: CreateVM: %w", err)
	}

	if err := kvm.SetTSSAddr(v.vmFd, tssAddr); err != nil {
		return fmt.Errorf("vmm: SetTSSAddr: %w", err)
	}

	if err := kvm.SetIdentityMapAddr(v.vmFd, identityMapAddr); err != nil {
		return fmt.Errorf("vmm: SetIdentityMapAddr: %w", err)
	}

	if err := kvm.CreateIRQChip(v.vmFd); err != nil {
		return fmt.Errorf("vmm: CreateIRQChip: %w", err)
	}

	if err := kvm.CreatePIT2(v.vmFd); err != nil {
		return fmt.Errorf("vmm: CreatePIT2: %w", err)
	}

	v.mem, err = unix.Mmap(-1, 0, v.MemSize, unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return fmt.Errorf("vmm: mmap guest memory: %w", err)
	}

	region := &kvm.UserspaceMemoryRegion{
		Slot: 0, GuestPhysAddr: 0, MemorySize: uint64(v.MemSize),
		UserspaceAddr: uint64(uintptr(unsafe.Pointer(&v.mem[0]))),
	}
	if err := kvm.SetUserMemoryRegion(v.vmFd, region); err != nil {
		return fmt.Errorf("vmm: SetUserMemoryRegion: %w", err)
	}

	if v.vcpuFd, err = kvm.CreateVCPU(v.vmFd, 0); err != nil {
		return fmt.Errorf("vmm: CreateVCPU: %w", err)
	}

	mmapSize, err := kvm.GetVCPUMMapSize(v.kvmFd)
	if err != nil {
		return fmt.Errorf("vmm: GetVCPUMMapSize: %w", err)
	}

	v.run, v.runMmap, err = kvm.MapRunData(v.vcpuFd, int(mmapSize))
	if err != nil {
		return fmt.Errorf("vmm: map run data: %w", err)
	}

	if v.serial, err = serial.New(v); err != nil {
		return fmt.Errorf("vmm: serial.New: %w", err)
	}

	return nil
}

// syntheticMultibootInfo stands in for the Multiboot info structure a
// real GRUB stage would have handed off: one RAM region covering the
// whole guest-physical space above 1 MiB, and one module naming the
// image Setup loads into the secret area. This VMM controls guest
// memory directly rather than receiving it from firmware, so there is
// no on-wire Multiboot buffer to decode; the struct is built the way
// the real loader would have populated it instead of parsed with
// multiboot.Parse.
func (v *VMM) syntheticMultibootInfo(vmmImageEnd uint64) *multiboot.Info {
	return &multiboot.Info{
		Regions: []multiboot.MemRegion{
			{Base: 1 << 20, Length: uint64(v.MemSize) - 1<<20, Kind: multiboot.RegionAvailable},
		},
		Modules: []multiboot.Module{
			{Start: 0, End: vmmImageEnd, Name: "vmm.bin"},
		},
	}
}

// Setup carves the secret area, builds the native and EPT page tables,
// and commits a freshly initialized VMCS for real-mode guest entry,
// implementing spec.md §4.2–§4.5 in full initialization order.
func (v *VMM) Setup() error {
	raw, err := os.ReadFile(v.VMMImage)
	if err != nil {
		return fmt.Errorf("vmm: read %s: %w", v.VMMImage, err)
	}

	img, err := elf64.Open(raw)
	if err != nil {
		return fmt.Errorf("vmm: parse vmm image: %w", err)
	}

	mb := v.syntheticMultibootInfo(img.Size())

	if _, err := multiboot.BootModule(mb.Modules); err != nil {
		return fmt.Errorf("vmm: select boot module: %w", err)
	}

	info, err := smem.Carve(v.mem, mb, img)
	if err != nil {
		return fmt.Errorf("vmm: carve secret area: %w", err)
	}

	v.info = info

	vmmPool, err := pool.New(info.PoolStart, v.mem[info.PoolStart:info.PoolStart+pool.DefaultFrames*pool.PageSize])
	if err != nil {
		return fmt.Errorf("vmm: page pool: %w", err)
	}

	// The hypervisor's own linear-to-physical identity map, the native
	// counterpart to the EPT built below (spec.md §4.3's "single
	// level-4 walker" shared by both). KVM never consults this table —
	// it governs only the guest's second-level translation — but the
	// layout still carves and fills a PML4 root for it, matching a
	// bare-metal hypervisor's own page tables one-for-one.
	nativeEng := paging.New[paging.Native](paging.Native{}, vmmPool)
	nativeEnv := &paging.Env{Root: info.PML4VMM}

	if err := nativeEng.Map(nativeEnv, 0, info.Mem.PhysEnd, paging.Config{
		Large: true, Pg2M: true, Pg1G: true,
		PageAttr: 0x3, TableAttr: 0x3, MapTop: info.Mem.PhysEnd,
	}); err != nil {
		return fmt.Errorf("vmm: identity-map hypervisor address space: %w", err)
	}

	mtrr, err := readMTRRState(v.vcpuFd)
	if err != nil {
		return err
	}

	eptEng := paging.New[ept.Semantics](ept.Semantics{}, vmmPool)
	eptEnv := &paging.Env{Root: info.PML4VM, ASID: 1}

	if err := ept.Construct(eptEng, eptEnv, info.Mem.PhysEnd, mtrr, info.Mem.Area); err != nil {
		return fmt.Errorf("vmm: construct EPT: %w", err)
	}

	if err := probeVMX(v.vcpuFd); err != nil {
		return err
	}

	masks, err := readAllowMasks(v.vcpuFd)
	if err != nil {
		return fmt.Errorf("vmm: read VMX capability MSRs: %w", err)
	}

	defType := mtrr.DefaultType
	if !mtrr.Enabled {
		defType = cpu.MTRRUncacheable
	}

	v.vcs = vmcs.New()
	vmcs.Init(v.vcs, vmcs.InitParams{
		BaseSS: baseSS, BaseSP: baseSP, BaseIP: baseIP,

		EPTPointer: ept.Pointer(info.PML4VM, defType),
		VPID:       eptEnv.ASID,

		PinAllow0: masks.pin0, PinAllow1: masks.pin1,
		Proc1Allow0: masks.proc10, Proc1Allow1: masks.proc11,
		Proc2Allow0: masks.proc20, Proc2Allow1: masks.proc21,
		ExitAllow0: masks.exit0, ExitAllow1: masks.exit1,
		EntryAllow0: masks.entry0, EntryAllow1: masks.entry1,
	})

	v.vcs.Guest.IDTR.Limit.Set(idtrLimit)

	vmcs.Encode(v.vcs)

	if err := vmcs.Commit(v.vcpuFd, v.vcs); err != nil {
		return fmt.Errorf("vmm: commit initial VMCS: %w", err)
	}

	// Patch guest-physical 0:BaseIP with "int 0x19" so the vCPU's very
	// first instruction jumps into the BIOS boot vector.
	v.mem[baseIP] = 0xCD
	v.mem[baseIP+1] = 0x19

	return nil
}
