// Package frame implements the frame registry: one FrameDescriptor per
// 4 KiB physical page below ram_end, tracking who owns it and how many
// live references point at it.
package frame

import "fmt"

const PageSize = 0x1000

// Owner identifies which side of the hypervisor/guest boundary a frame
// currently belongs to.
type Owner uint8

const (
	OwnerVM Owner = iota
	OwnerVMM
)

func (o Owner) String() string {
	switch o {
	case OwnerVM:
		return "VM"
	case OwnerVMM:
		return "VMM"
	default:
		return fmt.Sprintf("Owner(%d)", uint8(o))
	}
}

// Descriptor is the per-frame bookkeeping record; the zero value is a
// frame owned by the guest with no references, the state every frame
// outside the secret area starts in.
type Descriptor struct {
	RefCount uint
	Owner    Owner
}

// Registry is an array of Descriptor, one per frame in [0, ramEnd).
type Registry struct {
	entries []Descriptor
}

// New allocates a registry covering ramEnd bytes of RAM.
func New(ramEnd uint64) *Registry {
	return &Registry{entries: make([]Descriptor, ramEnd/PageSize)}
}

// Len reports the number of frame descriptors in the registry.
func (r *Registry) Len() int { return len(r.entries) }

// At returns the descriptor for page frame number pfn.
func (r *Registry) At(pfn uint64) (*Descriptor, error) {
	if pfn >= uint64(len(r.entries)) {
		return nil, fmt.Errorf("frame: pfn %d out of range (have %d)", pfn, len(r.entries))
	}

	return &r.entries[pfn], nil
}

// MarkRange sets owner and an initial ref-count of at least 1 for every
// frame in the physical range [start, end); used to mark the secret
// area's frames as VMM-owned during bootstrap (§3 FrameDescriptor
// invariant: all pfn in SecretArea have owner=VMM, ref_count>=1).
func (r *Registry) MarkRange(start, end uint64, owner Owner) error {
	startPFN, endPFN := start/PageSize, (end+PageSize-1)/PageSize

	for pfn := startPFN; pfn < endPFN; pfn++ {
		d, err := r.At(pfn)
		if err != nil {
			return err
		}

		d.Owner = owner
		if d.RefCount == 0 {
			d.RefCount = 1
		}
	}

	return nil
}

// SizeBytes reports the registry's footprint in the secret area, the
// way smem's layout accounting needs it.
func SizeBytes(ramEnd uint64) uint64 {
	n := ramEnd / PageSize

	return n * uint64(sizeofDescriptor)
}

// sizeofDescriptor is a constant mirror of unsafe.Sizeof(Descriptor{})
// kept explicit so SizeBytes doesn't need an unsafe import: one uint
// (8 bytes on amd64) plus one byte, padded to 16.
const sizeofDescriptor = 16
