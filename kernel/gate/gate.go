// Package gate implements the kernel's exception and interrupt dispatcher. It
// owns the vector table that routes CPU exceptions and remapped hardware IRQs
// to their registered handlers. Each delivery captures an immutable Registers
// snapshot which is handed to exactly one handler; hardware interrupt
// deliveries additionally acknowledge the interrupt controller once the
// handler returns.
package gate

import (
	"minos/kernel"
	"minos/kernel/cpu"
	"minos/kernel/kfmt"
)

// InterruptNumber describes an interrupt/exception/trap vector slot.
type InterruptNumber uint8

const (
	// DivideByZero occurs when dividing any number by 0 using the DIV or
	// IDIV instruction.
	DivideByZero = InterruptNumber(0)

	// NMI (non-maskable-interrupt) is a hardware interrupt that indicates
	// issues with RAM or unrecoverable hardware problems.
	NMI = InterruptNumber(2)

	// Overflow occurs when an overflow occurs (e.g result of division
	// cannot fit into the registers used).
	Overflow = InterruptNumber(4)

	// BoundRangeExceeded occurs when the BOUND instruction is invoked with
	// an index out of range.
	BoundRangeExceeded = InterruptNumber(5)

	// InvalidOpcode occurs when the CPU attempts to execute an invalid or
	// undefined instruction opcode.
	InvalidOpcode = InterruptNumber(6)

	// DeviceNotAvailable occurs when the CPU attempts to execute an
	// FPU/MMX/SSE instruction while FPU support is disabled or missing.
	DeviceNotAvailable = InterruptNumber(7)

	// DoubleFault occurs when an unhandled exception occurs or when an
	// exception occurs within a running exception handler.
	DoubleFault = InterruptNumber(8)

	// InvalidTSS occurs when the TSS points to an invalid task segment
	// selector.
	InvalidTSS = InterruptNumber(10)

	// SegmentNotPresent occurs when the CPU attempts to invoke a present
	// gate with an invalid stack segment selector.
	SegmentNotPresent = InterruptNumber(11)

	// StackSegmentFault occurs when attempting to push/pop from a
	// non-canonical stack address or when a stack base/limit check fails.
	StackSegmentFault = InterruptNumber(12)

	// GPFException occurs when a general protection fault occurs.
	GPFException = InterruptNumber(13)

	// PageFaultException occurs when a page table entry along the lookup
	// path of a virtual address is not present or when a privilege and/or
	// RW protection check fails.
	PageFaultException = InterruptNumber(14)

	// FloatingPointException occurs when invoking an FP instruction while
	// an unmasked FP exception is pending.
	FloatingPointException = InterruptNumber(16)

	// AlignmentCheck occurs when alignment checks are enabled and an
	// unaligned memory access is performed.
	AlignmentCheck = InterruptNumber(17)

	// MachineCheck occurs when the CPU detects internal errors such as
	// memory-, bus- or cache-related errors.
	MachineCheck = InterruptNumber(18)

	// SIMDFloatingPointException occurs when an unmasked SSE exception
	// occurs.
	SIMDFloatingPointException = InterruptNumber(19)
)

const (
	// IRQBase is the vector that hardware IRQ 0 gets remapped to. The
	// default controller configuration overlaps the IRQ lines with CPU
	// exception vectors; remapping them past the exception range is the
	// first thing interrupt initialization does.
	IRQBase = InterruptNumber(32)

	// irqCount is the number of IRQ lines serviced by the two cascaded
	// interrupt controllers.
	irqCount = 16

	// numVectors is the size of the vector table.
	numVectors = 256
)

// TimerInterrupt and KeyboardInterrupt are the remapped vectors for the two
// IRQ lines in use.
const (
	TimerInterrupt    = IRQBase
	KeyboardInterrupt = IRQBase + 1
)

// InterruptHandler is invoked with the captured register snapshot when its
// registered vector fires. If the handler returns, any modifications to the
// snapshot are propagated back to the location where the interrupt occurred.
type InterruptHandler func(*Registers)

// IRQController is implemented by the interrupt controller driver. The
// dispatcher uses it to acknowledge a hardware interrupt after its handler
// has run so that further interrupts at that priority are not stalled.
type IRQController interface {
	Ack(irq uint8)
}

var (
	errMissingController   = &kernel.Error{Module: "gate", Message: "interrupts enabled without an interrupt controller"}
	errRegisterAfterEnable = &kernel.Error{Module: "gate", Message: "interrupt handler registered after interrupts were enabled"}

	// panicFn is mocked by tests and is automatically inlined by the compiler.
	panicFn = kernel.Panic
)

// Dispatcher owns the interrupt vector table. The zero value is usable for
// handler registration; interrupt delivery additionally requires an attached
// IRQ controller.
type Dispatcher struct {
	handlers [numVectors]InterruptHandler

	controller IRQController

	// enabled is latched by EnableInterrupts. Once set, the vector table
	// is sealed: further registrations indicate an initialization
	// ordering bug and are treated as fatal.
	enabled bool
}

// AttachController registers the interrupt controller driver used for
// end-of-interrupt acknowledgments.
func (d *Dispatcher) AttachController(ctrl IRQController) {
	d.controller = ctrl
}

// HandleInterrupt ensures that the provided handler will be invoked when a
// particular interrupt number occurs. Registering a handler after interrupts
// have been enabled is a fatal initialization ordering violation.
func (d *Dispatcher) HandleInterrupt(intNumber InterruptNumber, handler InterruptHandler) {
	if d.enabled {
		panicFn(errRegisterAfterEnable)
		return
	}

	d.handlers[intNumber] = handler
}

// EnableInterrupts seals the vector table and unmasks hardware interrupts.
// The memory subsystem and every required handler must be in place before
// this call; enabling interrupts without an attached controller is fatal as
// the first IRQ could never be acknowledged.
func (d *Dispatcher) EnableInterrupts() {
	if d.controller == nil {
		panicFn(errMissingController)
		return
	}

	d.enabled = true
	cpu.EnableInterrupts()
}

// DisableInterrupts masks hardware interrupts. The vector table remains
// sealed.
func (d *Dispatcher) DisableInterrupts() {
	cpu.DisableInterrupts()
}

// Dispatch routes an interrupt to the registered handler for its vector. A
// double fault or a vector with no registered handler cannot be recovered
// from: the captured machine state is dumped and the machine halts. Hardware
// IRQ deliveries always send an end-of-interrupt to the controller once the
// handler returns, including on handler error paths.
func (d *Dispatcher) Dispatch(intNumber InterruptNumber, regs *Registers) {
	if intNumber == DoubleFault {
		d.fatalInterrupt("double fault", intNumber, regs)
		return
	}

	handler := d.handlers[intNumber]
	if handler == nil {
		d.fatalInterrupt("no handler registered for vector", intNumber, regs)
		return
	}

	if irq, isIRQ := d.irqFor(intNumber); isIRQ {
		defer d.controller.Ack(irq)
	}

	handler(regs)
}

// irqFor maps a vector number to the hardware IRQ line it was remapped from.
func (d *Dispatcher) irqFor(intNumber InterruptNumber) (uint8, bool) {
	if intNumber >= IRQBase && intNumber < IRQBase+irqCount {
		return uint8(intNumber - IRQBase), true
	}

	return 0, false
}

func (d *Dispatcher) fatalInterrupt(reason string, intNumber InterruptNumber, regs *Registers) {
	kfmt.Printf("\nunrecoverable interrupt %d: %s\n", uint8(intNumber), reason)
	kfmt.Printf("Registers:\n")
	regs.DumpTo(kfmt.GetOutputSink())

	panicFn(&kernel.Error{Module: "gate", Message: reason})
}
