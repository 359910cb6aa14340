package vmm

// Config bundles everything the boot subcommand needs to stand up one
// guest, mirroring the shape of gokvm's flag.Config: a KVM device path
// plus the inputs the bootstrap layout consumes.
type Config struct {
	// Dev is the /dev/kvm device path.
	Dev string

	// VMMImage is the relocatable ELF64 image smem.Carve loads into
	// the secret area per spec.md §4.2 (the "vmm.bin" Multiboot
	// module). The loaded bytes are never executed by this process —
	// KVM already runs the guest directly — but they are carved,
	// relocated, and self-pointer-patched exactly as the bootstrap
	// layout specifies, so the ELF loader and secret-area size
	// accounting stay load-bearing rather than vestigial.
	VMMImage string

	// MemSize is the guest-physical address space size in bytes.
	MemSize int

	// TraceCount mirrors gokvm's trace flag: >0 logs every VM-exit's
	// KVM exit type before dispatching it.
	TraceCount int
}
