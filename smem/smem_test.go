package smem_test

import (
	"encoding/binary"
	"testing"

	"github.com/vmxlab/hyperstone/elf64"
	"github.com/vmxlab/hyperstone/multiboot"
	"github.com/vmxlab/hyperstone/smem"
)

func TestInspectFindsRamAndAreaEnds(t *testing.T) {
	t.Parallel()

	regions := []multiboot.MemRegion{
		{Base: 0, Length: 0x9FC00, Kind: multiboot.RegionAvailable},
		{Base: 0x100000, Length: 0xF00000, Kind: multiboot.RegionAvailable},
	}

	ramEnd, areaEnd, err := smem.Inspect(regions)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}

	if ramEnd != 0x1000000 {
		t.Errorf("ramEnd = %#x, want 0x1000000", ramEnd)
	}

	if areaEnd != 0x1000000 {
		t.Errorf("areaEnd = %#x, want 0x1000000", areaEnd)
	}
}

func TestInspectNoAreaIsFatal(t *testing.T) {
	t.Parallel()

	if _, _, err := smem.Inspect(nil); err != smem.ErrAreaNotFound {
		t.Errorf("Inspect err = %v, want ErrAreaNotFound", err)
	}
}

func TestAlignNextBumpsWhenAlreadyAligned(t *testing.T) {
	t.Parallel()

	if got := smem.AlignNext(0x1000, 0x1000); got != 0x2000 {
		t.Errorf("AlignNext(0x1000,0x1000) = %#x, want 0x2000", got)
	}

	if got := smem.AlignNext(0x1001, 0x1000); got != 0x2000 {
		t.Errorf("AlignNext(0x1001,0x1000) = %#x, want 0x2000", got)
	}
}

func tinyImage(t *testing.T) *elf64.Image {
	t.Helper()

	buf := make([]byte, 160)
	copy(buf[0:], []byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0})

	le16 := binary.LittleEndian.PutUint16
	le32 := binary.LittleEndian.PutUint32
	le64 := binary.LittleEndian.PutUint64

	le16(buf[16:], 2)
	le16(buf[18:], 0x3e)
	le32(buf[20:], 1)
	le64(buf[24:], 0x10)
	le64(buf[32:], 64)
	le16(buf[52:], 64)
	le16(buf[54:], 56)
	le16(buf[56:], 1)

	ph := buf[64:]
	le32(ph[0:], 1)
	le32(ph[4:], 7)
	le64(ph[8:], 128)
	le64(ph[32:], 0x10)
	le64(ph[40:], 0x20)
	le64(ph[48:], 0x1000)

	img, err := elf64.Open(buf)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	return img
}

func TestCarveFitsInsideAreaAndOrdersOffsets(t *testing.T) {
	t.Parallel()

	const ramEnd = 0x1000000

	mem := make([]byte, ramEnd)

	mb := &multiboot.Info{Regions: []multiboot.MemRegion{
		{Base: 0, Length: 0x9FC00, Kind: multiboot.RegionAvailable},
		{Base: 0x100000, Length: ramEnd - 0x100000, Kind: multiboot.RegionAvailable},
	}}

	img := tinyImage(t)

	info, err := smem.Carve(mem, mb, img)
	if err != nil {
		t.Fatalf("Carve: %v", err)
	}

	area := info.Mem.Area
	if area.End != ramEnd {
		t.Errorf("area.End = %#x, want %#x", area.End, ramEnd)
	}

	if area.Start%0x1000 != 0 {
		t.Errorf("area.Start = %#x not page aligned", area.Start)
	}

	if area.Start >= area.End {
		t.Fatalf("area.Start %#x >= area.End %#x", area.Start, area.End)
	}

	offsets := []uint64{
		info.StackTop - smem.StackSize, info.PoolStart, info.PML4VMM, info.PML4VM,
		info.VMCSVMM, info.VMCSVM, info.Segment, info.ELFBase, info.FrameBase, info.SelfAddr,
	}

	for i := 1; i < len(offsets); i++ {
		if offsets[i] < offsets[i-1] {
			t.Errorf("offset %d (%#x) precedes offset %d (%#x)", i, offsets[i], i-1, offsets[i-1])
		}
	}

	if info.SelfAddr >= area.End {
		t.Errorf("SelfAddr %#x falls outside the secret area (end %#x)", info.SelfAddr, area.End)
	}

	got := binary.LittleEndian.Uint64(mem[info.ELFBase:])
	if got != info.SelfAddr {
		t.Errorf("image's first qword = %#x, want SelfAddr %#x", got, info.SelfAddr)
	}
}
