package multiboot_test

import (
	"encoding/binary"
	"testing"

	"github.com/vmxlab/hyperstone/multiboot"
)

func putU32(b []byte, off int, v uint32) { binary.LittleEndian.PutUint32(b[off:], v) }
func putU64(b []byte, off int, v uint64) { binary.LittleEndian.PutUint64(b[off:], v) }

func TestParseMemoryMapAndModules(t *testing.T) {
	t.Parallel()

	mem := make([]byte, 0x10000)

	const infoAddr = 0x1000
	const mmapAddr = 0x2000
	const modsAddr = 0x3000
	const nameAddr = 0x4000

	copy(mem[nameAddr:], "boot/vmm.bin\x00")

	// one mmap entry: base=0, length=0x8000000, type=Available
	putU32(mem, mmapAddr, 20) // size field (not counting itself)
	putU64(mem, mmapAddr+4, 0)
	putU64(mem, mmapAddr+12, 0x8000000)
	putU32(mem, mmapAddr+20, uint32(multiboot.RegionAvailable))

	// one module
	putU32(mem, modsAddr, 0x100000)
	putU32(mem, modsAddr+4, 0x200000)
	putU32(mem, modsAddr+8, nameAddr)

	putU32(mem, infoAddr, (1<<6)|(1<<3)) // flags: mmap + modules
	putU32(mem, infoAddr+20, 1)          // mods_count
	putU32(mem, infoAddr+24, modsAddr)   // mods_addr
	putU32(mem, infoAddr+44, 24)         // mmap_length = size(4)+entry(20)
	putU32(mem, infoAddr+48, mmapAddr)   // mmap_addr

	info, err := multiboot.Parse(mem, infoAddr)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if len(info.Regions) != 1 || info.Regions[0].Length != 0x8000000 {
		t.Fatalf("Regions = %+v", info.Regions)
	}

	if len(info.Modules) != 1 || info.Modules[0].Name != "boot/vmm.bin" {
		t.Fatalf("Modules = %+v", info.Modules)
	}

	mod, err := multiboot.BootModule(info.Modules)
	if err != nil {
		t.Fatalf("BootModule: %v", err)
	}

	if mod.Start != 0x100000 {
		t.Errorf("BootModule.Start = %#x, want 0x100000", mod.Start)
	}
}

func TestParseMissingMemoryMap(t *testing.T) {
	t.Parallel()

	mem := make([]byte, 0x1000)

	if _, err := multiboot.Parse(mem, 0); err != multiboot.ErrNoMemoryMap {
		t.Errorf("Parse err = %v, want ErrNoMemoryMap", err)
	}
}

func TestBootModuleFallsBackToSecond(t *testing.T) {
	t.Parallel()

	mods := []multiboot.Module{{Start: 1}, {Start: 2, Name: "anything"}}

	m, err := multiboot.BootModule(mods)
	if err != nil {
		t.Fatalf("BootModule: %v", err)
	}

	if m.Start != 2 {
		t.Errorf("BootModule.Start = %d, want 2", m.Start)
	}
}
