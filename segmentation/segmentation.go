// Package segmentation builds the flat GDT, 256-entry IDT, and TSS the
// hypervisor runs under in VMX root mode: 64-bit code/data segments, a
// TSS descriptor, and a uniform interrupt-stub table so every vector
// dispatches through the same trampoline shape.
package segmentation

// GDT selectors, fixed by construction order: null, code, data, then
// the 16-byte TSS descriptor (which consumes two 8-byte slots).
const (
	NullSelector    = 0x00
	CodeSelector    = 0x08
	DataSelector    = 0x10
	TSSSelector     = 0x18
	gdtEntries      = 5 // null, code, data, tss-low, tss-high
	GDTSize         = gdtEntries * 8
)

// access-byte and flag-nibble bits shared by the flat descriptors.
const (
	accPresent  = 1 << 7
	accDPL0     = 0 << 5
	accS        = 1 << 4
	accExec     = 1 << 3
	accDC       = 1 << 2
	accRW       = 1 << 1
	flagLong    = 1 << 1 // L bit: 64-bit code segment
	flagGranular = 1 << 3
)

func le16(b []byte, v uint16) { b[0] = byte(v); b[1] = byte(v >> 8) }

func putDescriptor(gdt []byte, selector int, base uint32, limit uint32, access byte, flags byte) {
	e := gdt[selector:]

	e[0] = byte(limit)
	e[1] = byte(limit >> 8)
	e[2] = byte(base)
	e[3] = byte(base >> 8)
	e[4] = byte(base >> 16)
	e[5] = access
	e[6] = byte(limit>>16)&0x0F | flags<<4
	e[7] = byte(base >> 24)
}

// BuildGDT returns a GDTSize-byte flat GDT: a 64-bit ring-0 code
// segment, a 64-bit ring-0 data segment, and a TSS descriptor pointing
// at tssBase (tssLimit bytes).
func BuildGDT(tssBase uint64, tssLimit uint32) []byte {
	gdt := make([]byte, GDTSize)

	putDescriptor(gdt, CodeSelector, 0, 0xFFFFF, accPresent|accS|accExec|accDC|accRW, flagLong|flagGranular)
	putDescriptor(gdt, DataSelector, 0, 0xFFFFF, accPresent|accS|accRW, flagGranular)

	// TSS descriptor: 16 bytes, type 0x9 (64-bit TSS, available).
	const tssType = 0x89 // present | type=0x9

	putDescriptor(gdt, TSSSelector, uint32(tssBase), tssLimit, tssType, 0)

	upper := gdt[TSSSelector+8:]
	le32 := func(b []byte, v uint32) {
		b[0] = byte(v)
		b[1] = byte(v >> 8)
		b[2] = byte(v >> 16)
		b[3] = byte(v >> 24)
	}
	le32(upper[0:], uint32(tssBase>>32))

	return gdt
}

// Descriptor mirrors the VMCS GDTR/IDTR base+limit pair.
type Descriptor struct {
	Base  uint64
	Limit uint16
}

// TSS is the 64-bit Task State Segment layout (x86-64 architecture
// manual, figure "64-Bit TSS Format"): only RSP0 and the IST slots
// matter for a hypervisor that never task-switches.
type TSS struct {
	_        uint32
	RSP      [3]uint64
	_        uint64
	IST      [7]uint64
	_        uint64
	_        uint16
	IOMapBase uint16
}

// TSSSize is the byte size of a TSS; the GDT descriptor's limit names
// TSSSize - 1, per the architecture's inclusive-limit rule.
const TSSSize = 104

// Encode serializes t into its wire layout.
func (t *TSS) Encode() []byte {
	buf := make([]byte, TSSSize)

	put64 := func(off int, v uint64) {
		for i := 0; i < 8; i++ {
			buf[off+i] = byte(v >> (8 * i))
		}
	}

	put64(4, t.RSP[0])
	put64(12, t.RSP[1])
	put64(20, t.RSP[2])

	for i, v := range t.IST {
		put64(36+i*8, v)
	}

	le16(buf[102:], t.IOMapBase)

	return buf
}

// IDTEntries is the fixed size of the real-mode-era, now long-mode,
// interrupt table: one gate per possible vector.
const IDTEntries = 256

// gateSize is the byte size of one 64-bit interrupt-gate descriptor.
const gateSize = 16

// IDTSize is the byte size of the full IDT (one 4 KiB frame).
const IDTSize = IDTEntries * gateSize

// BuildIDT returns an IDTSize-byte IDT where every vector's gate points
// at stubBase + vector*stubStride: the uniform ISR stub table spec.md
// §9 calls out as one of the few places requiring target assembly
// (each stub is an identical trampoline that pushes the vector number
// and jumps to the common dispatch entry; authoring that trampoline
// itself is outside Go's reach, and no such stubs are built in this
// repository: callers supply stubBase and stubStride).
func BuildIDT(stubBase uint64, stubStride uint64, codeSelector uint16) []byte {
	idt := make([]byte, IDTSize)

	const (
		gateType    = 0xE // 64-bit interrupt gate
		gatePresent = 1 << 7
	)

	for v := 0; v < IDTEntries; v++ {
		addr := stubBase + uint64(v)*stubStride
		g := idt[v*gateSize:]

		le16(g[0:], uint16(addr))
		le16(g[2:], codeSelector)
		g[4] = 0 // IST index: none
		g[5] = gatePresent | gateType
		le16(g[6:], uint16(addr>>16))

		for i := 0; i < 4; i++ {
			g[8+i] = byte(addr >> (32 + 8*i))
		}
	}

	return idt
}
