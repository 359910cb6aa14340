package vmcs

// Numeric is the set of underlying field widths a VMCS mirror field
// may carry: selectors and access rights are 16/32-bit, addresses and
// control registers are natural-width.
type Numeric interface {
	~uint16 | ~uint32 | ~uint64
}

// Field is one VmcsField<T>: a cached value, its Intel encoding, and
// the lazy read/dirty bits spec.md §4.5 describes. encoding is set
// exactly once, during Encode.
type Field[T Numeric] struct {
	Value    T
	Encoding Encoding
	read     bool
	dirty    bool
}

// Get marks the field read and returns its cached value. In this
// mirror "read" never triggers a live vmread (the last hardware value
// observed through a KVM Get*/commit round trip is always what's
// cached); the flag exists so Clear can tell exit-info fields apart
// from fields nothing has looked at yet.
func (f *Field[T]) Get() T {
	f.read = true

	return f.Value
}

// Set stores v and marks the field dirty.
func (f *Field[T]) Set(v T) {
	f.Value = v
	f.dirty = true
}

// Dirty reports whether Set has been called since the last Flush.
func (f *Field[T]) Dirty() bool { return f.dirty }

// Flush clears read and, if dirty, clears dirty and reports the value
// that must now be written back.
func (f *Field[T]) Flush() (value T, shouldWrite bool) {
	f.read = false

	if !f.dirty {
		return f.Value, false
	}

	f.dirty = false

	return f.Value, true
}

// ClearRead drops the cached read flag without touching dirty state;
// used on read-only exit-info fields at VM-exit epilogue.
func (f *Field[T]) ClearRead() { f.read = false }

// setEncoding assigns enc exactly once; encode() uses this through a
// shared registry so two fields can never collide.
func (f *Field[T]) setEncoding(enc Encoding) { f.Encoding = enc }

// FixedField is a VMX control field masked by a capability MSR's
// allow-0/allow-1 pair on every commit: the committed value always
// satisfies (requested & allow_1) | allow_0, regardless of what was
// requested.
type FixedField[T Numeric] struct {
	Field[T]
	Allow0, Allow1 uint32
}

// SetMask installs the allow-masks read out of the field's VMX
// capability MSR (cpu.AllowMasks) and marks the field dirty so the
// masked value is recommitted.
func (f *FixedField[T]) SetMask(allow0, allow1 uint32) {
	f.Allow0, f.Allow1 = allow0, allow1
	f.dirty = true
}

// Committed applies the fixed-bit formula to the field's current
// value and returns the value that must actually reach hardware.
func (f *FixedField[T]) Committed(fixedBits func(requested, allow0, allow1 uint32) uint32) T {
	return T(fixedBits(uint32(f.Value), f.Allow0, f.Allow1))
}

// FakeKind tags a FakeField with which control-register state it
// actually mirrors, replacing the original's runtime
// "if encoding == GUEST_STATE_CR2" branch with a closed tagged variant.
type FakeKind int

const (
	FakeNone FakeKind = iota
	FakeCR2
	FakeDR6
)

// FakeField is a VMCS-shaped field for guest CR2/DR6: these aren't
// real VMCS fields at all, so Commit must route them to kvm.Sregs.CR2
// / kvm.DebugRegs.DR6 instead of the generic field-encoding path.
type FakeField struct {
	Field[uint64]
	Kind FakeKind
}
