package vmm

import (
	"minos/kernel"
	"minos/kernel/gate"
	"minos/kernel/kfmt"
	"minos/kernel/mm"
)

// Page fault error code bits pushed by the CPU.
const (
	faultProtection = 1 << iota
	faultWrite
	faultUser
	faultReservedBit
	faultInstrFetch
)

// InstallFaultHandlers registers the paging-related exception handlers with
// the dispatcher. It must run before the dispatcher enables interrupts.
func (as *AddressSpace) InstallFaultHandlers(d *gate.Dispatcher) {
	d.HandleInterrupt(gate.PageFaultException, as.pageFaultHandler)
	d.HandleInterrupt(gate.GPFException, as.generalProtectionFaultHandler)
}

// pageFaultHandler is invoked when a table entry along the lookup path of a
// virtual address is not present or when a protection check fails. A
// non-present kernel access inside the demand-growth window is recovered by
// mapping a fresh frame in place and resuming the faulting instruction; any
// other fault is fatal.
//
// The handler runs with interrupts masked and its recovery path performs at
// most one frame allocation and one bounded-depth map; neither can recurse
// into another page fault.
func (as *AddressSpace) pageFaultHandler(regs *gate.Registers) {
	var (
		faultAddress = readCR2Fn()
		errorCode    = regs.Info
	)

	if as.isDemandFault(faultAddress, errorCode) {
		frame, err := as.allocFrame()
		if err != nil {
			as.nonRecoverablePageFault(faultAddress, regs, errFaultAllocExhausted)
			return
		}

		if err = as.Map(mm.PageFromAddress(faultAddress), frame, FlagPresent|FlagRW|FlagNoExecute); err != nil {
			as.nonRecoverablePageFault(faultAddress, regs, err)
			return
		}

		// Fault recovered; retry the instruction that caused the fault
		return
	}

	as.nonRecoverablePageFault(faultAddress, regs, errUnrecoverableFault)
}

// isDemandFault reports whether a fault should be treated as a routine
// demand-mapping event: the faulting address must fall inside the registered
// demand-growth window and the fault must be a kernel access to a non-present
// page rather than a protection violation.
func (as *AddressSpace) isDemandFault(faultAddress uintptr, errorCode uint64) bool {
	if faultAddress < as.demandStart || faultAddress >= as.demandEnd {
		return false
	}

	return errorCode&(faultProtection|faultUser|faultReservedBit) == 0
}

func (as *AddressSpace) nonRecoverablePageFault(faultAddress uintptr, regs *gate.Registers, err *kernel.Error) {
	kfmt.Printf("\nPage fault while accessing address: 0x%16x\nReason: ", faultAddress)
	switch {
	case regs.Info == 0:
		kfmt.Printf("read from non-present page")
	case regs.Info == 1:
		kfmt.Printf("page protection violation (read)")
	case regs.Info == 2:
		kfmt.Printf("write to non-present page")
	case regs.Info == 3:
		kfmt.Printf("page protection violation (write)")
	case regs.Info == 4:
		kfmt.Printf("page-fault in user-mode")
	case regs.Info == 8:
		kfmt.Printf("page table has reserved bit set")
	case regs.Info == 16:
		kfmt.Printf("instruction fetch")
	default:
		kfmt.Printf("unknown")
	}

	kfmt.Printf("\n\nRegisters:\n")
	regs.DumpTo(kfmt.GetOutputSink())

	panicFn(err)
}

// generalProtectionFaultHandler is invoked for segment errors, privileged
// instructions executed outside ring-0 and accesses to reserved CPU
// registers. None of these can be recovered from.
func (as *AddressSpace) generalProtectionFaultHandler(regs *gate.Registers) {
	kfmt.Printf("\nGeneral protection fault while accessing address: 0x%x\n", readCR2Fn())
	kfmt.Printf("Registers:\n")
	regs.DumpTo(kfmt.GetOutputSink())

	panicFn(errUnrecoverableFault)
}
