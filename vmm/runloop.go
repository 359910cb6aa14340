package vmm

import (
	"bufio"
	"errors"
	"fmt"
	"log"
	"os"
	"runtime"
	"unsafe"

	"github.com/vmxlab/hyperstone/guestmem"
	"github.com/vmxlab/hyperstone/kvm"
	"github.com/vmxlab/hyperstone/vmcs"
	"github.com/vmxlab/hyperstone/vmexit"
)

// ErrGuestUnhandled is fatal per spec.md §7's "guest-unhandled"
// taxonomy entry: an exit reason (KVM-level or VMX basic-reason) this
// hypervisor does not implement.
var ErrGuestUnhandled = errors.New("vmm: unhandled vm-exit")

// guestSpace builds the guestmem.Space view over guest-physical memory
// for the one access routine (§4.7) every real-mode emulation path
// goes through.
func (v *VMM) guestSpace() *guestmem.Space {
	return &guestmem.Space{Mem: v.mem, Area: v.info.Mem.Area}
}

// Boot runs the vCPU to completion, the only suspension points being
// VM-exits themselves (spec.md §5: no scheduler, no locks, run to
// completion between exit and resume).
func (v *VMM) Boot() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	in := bufio.NewReader(os.Stdin)

	go v.pumpSerialInput(in)

	for {
		halt, err := v.runOnce()
		if halt {
			return err
		}

		if err != nil {
			return err
		}
	}
}

func (v *VMM) pumpSerialInput(in *bufio.Reader) {
	for {
		b, err := in.ReadByte()
		if err != nil {
			return
		}

		v.serial.GetInputChan() <- b

		if err := v.InjectSerialIRQ(); err != nil {
			log.Printf("vmm: InjectSerialIRQ: %v", err)
		}
	}
}

// runOnce issues one KVM_RUN and dispatches the result. The returned
// bool reports whether the guest halted (true) or should be resumed
// (false); err is non-nil only for a fatal condition.
func (v *VMM) runOnce() (bool, error) {
	if err := kvm.Run(v.vcpuFd); err != nil {
		return true, fmt.Errorf("vmm: KVM_RUN: %w", err)
	}

	reason := kvm.ExitType(v.run.ExitReason)

	if v.TraceCount > 0 {
		log.Printf("vm-exit: %s", reason.String())
	}

	switch reason {
	case kvm.EXITHLT:
		return true, nil

	case kvm.EXITIO:
		return false, v.handleIO()

	case kvm.EXITINTR:
		return false, nil

	case kvm.EXITEXCEPTION:
		return v.handleException()

	case kvm.EXITUNKNOWN:
		return false, nil

	default:
		return true, fmt.Errorf("%w: %s", ErrGuestUnhandled, reason.String())
	}
}

func (v *VMM) handleIO() error {
	direction, size, port, count, offset := v.run.IO()

	// The I/O exit payload's data buffer lives offset bytes into the
	// same shared kvm_run page run points at.
	data := (*[256]byte)(unsafe.Pointer(uintptr(unsafe.Pointer(v.run)) + uintptr(offset)))
	bytes := data[0 : size*count]

	for i := uint64(0); i < count; i++ {
		chunk := bytes[i*size : (i+1)*size]

		var err error
		if direction == kvm.EXITIOIN {
			err = v.serial.In(port, chunk)
		} else {
			err = v.serial.Out(port, chunk)
		}

		if err != nil {
			return fmt.Errorf("vmm: serial io port %#x: %w", port, err)
		}
	}

	return nil
}

// handleException implements spec.md §4.6's VM-exit dispatch for the
// one exit class this hypervisor emulates: a VMX ExceptionOrNMI basic
// reason, surfaced by KVM as EXITEXCEPTION with the raw vector in the
// kvm_run exception payload. Everything vmexit.Handle doesn't resolve
// to DoneLetRip is fatal, per §7's propagation rule.
func (v *VMM) handleException() (bool, error) {
	vector, _ := v.run.Exception()

	vmcs.RefreshExitInfo(&v.vcs.Exit, v.run)
	v.vcs.Exit.Reason.Set(uint32(vmexit.ExceptionOrNMI))
	v.vcs.Exit.IntrInfo.Set(vector | 1<<31)

	status := vmexit.Handle(v.vcs, v.guestSpace(), guestmem.ModeReal)

	v.vcs.Exit.Clear()

	if err := vmcs.Commit(v.vcpuFd, v.vcs); err != nil {
		return true, fmt.Errorf("vmm: commit after exit: %w", err)
	}

	switch status {
	case vmexit.DoneLetRip, vmexit.Done:
		return false, nil
	default:
		return true, fmt.Errorf("%w: exception vector %#x: %s", ErrGuestUnhandled, vector, status)
	}
}
