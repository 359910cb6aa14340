// Package smap builds the system memory map the guest sees in its own
// Multiboot/E820-style info structure, derived from the host Multiboot
// regions but truncated so RAM above 1 MiB stops at the secret area.
package smap

import "github.com/vmxlab/hyperstone/multiboot"

// Kind classifies a system-map entry the way Multiboot's memory type
// field does.
type Kind uint32

const (
	KindAvailable Kind = 1
	KindReserved  Kind = 2
	KindACPI      Kind = 3
	KindNVS       Kind = 4
)

// Entry is one row of the guest-visible system map.
type Entry struct {
	Base   uint64
	Length uint64
	Kind   Kind
}

// sizeofEntry mirrors Entry's memory footprint for smem's layout math:
// two uint64 plus one uint32, padded to 24 bytes.
const sizeofEntry = 24

// Build converts Multiboot memory regions into system-map entries,
// truncating the region covering the 1 MiB mark so it ends at
// secretStart instead of running into hypervisor memory.
//
// Open question resolved per spec.md Design Notes: the original system
// map builder never advanced its loop index, so every region overwrote
// entry 0. This implementation appends one Entry per region instead.
func Build(regions []multiboot.MemRegion, secretStart uint64) []Entry {
	entries := make([]Entry, 0, len(regions))

	for _, r := range regions {
		e := Entry{Base: r.Base, Length: r.Length, Kind: toKind(r.Kind)}

		if e.Kind == KindAvailable && e.Base < 1<<20+e.Length && e.Base+e.Length > 1<<20 {
			if e.Base+e.Length > secretStart {
				e.Length = secretStart - e.Base
			}
		}

		entries = append(entries, e)
	}

	return entries
}

func toKind(k multiboot.RegionKind) Kind {
	switch k {
	case multiboot.RegionAvailable:
		return KindAvailable
	case multiboot.RegionACPI:
		return KindACPI
	case multiboot.RegionNVS:
		return KindNVS
	default:
		return KindReserved
	}
}

// SizeBytes reports the system map's footprint for the secret-area
// layout calculation (smem step 6).
func SizeBytes(n int) uint64 {
	return uint64(n) * sizeofEntry
}
