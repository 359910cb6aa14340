package cpu

// Real-mode exception/interrupt vectors, named the way the original's
// exceptions.rs table names them. Used both to build the VMCS exception
// bitmap and to classify IDT-vectoring-info during VM-exit dispatch.
const (
	VectorDE = 0  // divide error
	VectorDB = 1  // debug
	VectorNMI = 2
	VectorBP = 3
	VectorOF = 4
	VectorBR = 5
	VectorUD = 6  // invalid opcode
	VectorNM = 7  // device not available
	VectorDF = 8  // double fault
	VectorTS = 10 // invalid TSS
	VectorNP = 11 // segment not present
	VectorSS = 12 // stack-segment fault
	VectorGP = 13 // general protection
	VectorPF = 14 // page fault
	VectorMF = 16 // x87 FP error
	VectorAC = 17 // alignment check
	VectorMC = 18 // machine check
	VectorXM = 19 // SIMD FP exception

	// BIOSMisc is the real-mode BIOS miscellaneous services vector;
	// real-mode interrupt emulation explicitly refuses to emulate it.
	BIOSMisc = 0x15
)

// ExceptionBitmap returns the VMCS exception-bitmap value the full
// guest VMCS initialization sequence installs: intercept #GP and #MC.
func ExceptionBitmap() uint32 {
	return 1<<VectorGP | 1<<VectorMC
}
