package kvm

import "fmt"

// Capability is a KVM_CHECK_EXTENSION capability number
// (include/uapi/linux/kvm.h).
type Capability int

const (
	CapIRQChip                Capability = 0
	CapUserMemory             Capability = 3
	CapSetTSSAddr             Capability = 4
	CapEXTCPUID               Capability = 7
	CapMPState                Capability = 14
	CapCoalescedMMIO          Capability = 15
	CapUserNMI                Capability = 22
	CapSetGuestDebug          Capability = 23
	CapReinjectControl        Capability = 24
	CapIRQRouting             Capability = 25
	CapMCE                    Capability = 31
	CapIRQFD                  Capability = 32
	CapPIT2                   Capability = 33
	CapSetBootCPUID           Capability = 34
	CapPITState2              Capability = 35
	CapIOEventFD              Capability = 36
	CapAdjustClock            Capability = 39
	CapVCPUEvents             Capability = 41
	CapINTRShadow             Capability = 49
	CapDebugRegs              Capability = 50
	CapEnableCap              Capability = 54
	CapXSave                  Capability = 55
	CapXCRS                   Capability = 56
	CapTSCControl             Capability = 60
	CapONEREG                 Capability = 70
	CapKVMClockCtrl           Capability = 76
	CapSignalMSI              Capability = 77
	CapDeviceCtrl             Capability = 79
	CapEXTEmulCPUID           Capability = 95
	CapVMAttributes           Capability = 101
	CapX86SMM                 Capability = 117
	CapX86DisableExits        Capability = 151
	CapGETMSRFeatures         Capability = 153
	CapNestedState            Capability = 157
	CapCoalescedPIO           Capability = 159
	CapManualDirtyLogProtect2 Capability = 168
	CapPMUEventFilter         Capability = 173
	CapX86UserSpaceMSR        Capability = 188
	CapX86MSRFilter           Capability = 189
	CapX86BusLockExit         Capability = 193
	CapSREGS2                 Capability = 198
	CapBinaryStatsFD          Capability = 203
	CapXSave2                 Capability = 208
	CapSysAttributes          Capability = 209
	CapVMTSCControl           Capability = 214
	CapX86TripleFaultEvent    Capability = 218
	CapX86NotifyVMExit        Capability = 227
	CapIOMMU                  Capability = 18
)

var capabilityNames = map[Capability]string{
	CapIRQChip:                "CapIRQChip",
	CapUserMemory:             "CapUserMemory",
	CapSetTSSAddr:             "CapSetTSSAddr",
	CapEXTCPUID:               "CapEXTCPUID",
	CapMPState:                "CapMPState",
	CapCoalescedMMIO:          "CapCoalescedMMIO",
	CapUserNMI:                "CapUserNMI",
	CapSetGuestDebug:          "CapSetGuestDebug",
	CapReinjectControl:        "CapReinjectControl",
	CapIRQRouting:             "CapIRQRouting",
	CapMCE:                    "CapMCE",
	CapIRQFD:                  "CapIRQFD",
	CapPIT2:                   "CapPIT2",
	CapSetBootCPUID:           "CapSetBootCPUID",
	CapPITState2:              "CapPITState2",
	CapIOEventFD:              "CapIOEventFD",
	CapAdjustClock:            "CapAdjustClock",
	CapVCPUEvents:             "CapVCPUEvents",
	CapINTRShadow:             "CapINTRShadow",
	CapDebugRegs:              "CapDebugRegs",
	CapEnableCap:              "CapEnableCap",
	CapXSave:                  "CapXSave",
	CapXCRS:                   "CapXCRS",
	CapTSCControl:             "CapTSCControl",
	CapONEREG:                 "CapONEREG",
	CapKVMClockCtrl:           "CapKVMClockCtrl",
	CapSignalMSI:              "CapSignalMSI",
	CapDeviceCtrl:             "CapDeviceCtrl",
	CapEXTEmulCPUID:           "CapEXTEmulCPUID",
	CapVMAttributes:           "CapVMAttributes",
	CapX86SMM:                 "CapX86SMM",
	CapX86DisableExits:        "CapX86DisableExits",
	CapGETMSRFeatures:         "CapGETMSRFeatures",
	CapNestedState:            "CapNestedState",
	CapCoalescedPIO:           "CapCoalescedPIO",
	CapManualDirtyLogProtect2: "CapManualDirtyLogProtect2",
	CapPMUEventFilter:         "CapPMUEventFilter",
	CapX86UserSpaceMSR:        "CapX86UserSpaceMSR",
	CapX86MSRFilter:           "CapX86MSRFilter",
	CapX86BusLockExit:         "CapX86BusLockExit",
	CapSREGS2:                 "CapSREGS2",
	CapBinaryStatsFD:          "CapBinaryStatsFD",
	CapXSave2:                 "CapXSave2",
	CapSysAttributes:          "CapSysAttributes",
	CapVMTSCControl:           "CapVMTSCControl",
	CapX86TripleFaultEvent:    "CapX86TripleFaultEvent",
	CapX86NotifyVMExit:        "CapX86NotifyVMExit",
	CapIOMMU:                  "CapIOMMU",
}

// String renders a Capability by name; unknown numbers fall back to
// Capability(N) the way an unrecognized errno formats.
func (c Capability) String() string {
	if name, ok := capabilityNames[c]; ok {
		return name
	}

	return fmt.Sprintf("Capability(%d)", int(c))
}

const kvmCheckExtension = 0x03

// CheckExtension issues KVM_CHECK_EXTENSION against fd (either the
// /dev/kvm fd or a VM fd — the kernel accepts both) and returns the
// capability's reported value; 0 means unsupported.
func CheckExtension(fd uintptr, cap Capability) (uintptr, error) {
	return Ioctl(fd, IIO(kvmCheckExtension), uintptr(cap))
}
