// Package intc contains the driver for the two cascaded 8259 programmable
// interrupt controllers that deliver hardware IRQs to the CPU.
package intc

import (
	"minos/kernel"
	"minos/kernel/cpu"
)

const (
	masterCmdPort  = uint16(0x20)
	masterDataPort = uint16(0x21)
	slaveCmdPort   = uint16(0xa0)
	slaveDataPort  = uint16(0xa1)

	// icw1Init starts the initialization sequence; icw1NeedICW4 announces
	// that a fourth initialization word follows.
	icw1Init     = uint8(0x10)
	icw1NeedICW4 = uint8(0x01)

	// icw3 wiring: the slave controller is cascaded on master line 2.
	icw3MasterWiring = uint8(1 << 2)
	icw3SlaveID      = uint8(2)

	// icw4 selects 8086 mode.
	icw48086Mode = uint8(0x01)

	// ocw2EOI is the non-specific end-of-interrupt command.
	ocw2EOI = uint8(0x20)

	// linesPerController is the number of IRQ lines each 8259 serves.
	linesPerController = 8
)

var (
	errAlreadyInitialized = &kernel.Error{Module: "intc", Message: "PIC already initialized"}
	errInvalidIRQ         = &kernel.Error{Module: "intc", Message: "IRQ line out of range"}

	// portWriteByteFn is mocked by tests and is automatically inlined by
	// the compiler.
	portWriteByteFn = cpu.PortWriteByte
)

// PIC drives the master/slave 8259 pair. Init remaps the IRQ lines past the
// CPU exception vectors and masks every line; drivers unmask the lines they
// service. The zero value is not usable before Init runs.
type PIC struct {
	// vectorOffset is the interrupt vector that IRQ 0 maps to after the
	// remap.
	vectorOffset uint8

	// masks mirrors the interrupt mask register of each controller. A
	// set bit inhibits delivery for the corresponding line.
	masks [2]uint8

	initialized bool
}

// Init remaps the controllers so that IRQ lines 0-15 raise vectors
// [vectorOffset, vectorOffset+16) and leaves every line masked.
func (p *PIC) Init(vectorOffset uint8) *kernel.Error {
	if p.initialized {
		return errAlreadyInitialized
	}

	// Start the initialization sequence on both controllers, then feed
	// them the vector offsets (ICW2), the cascade wiring (ICW3) and the
	// mode selection (ICW4).
	portWriteByteFn(masterCmdPort, icw1Init|icw1NeedICW4)
	portWriteByteFn(slaveCmdPort, icw1Init|icw1NeedICW4)
	portWriteByteFn(masterDataPort, vectorOffset)
	portWriteByteFn(slaveDataPort, vectorOffset+linesPerController)
	portWriteByteFn(masterDataPort, icw3MasterWiring)
	portWriteByteFn(slaveDataPort, icw3SlaveID)
	portWriteByteFn(masterDataPort, icw48086Mode)
	portWriteByteFn(slaveDataPort, icw48086Mode)

	// All lines start masked; drivers unmask the ones they service.
	p.masks[0] = 0xff
	p.masks[1] = 0xff
	portWriteByteFn(masterDataPort, p.masks[0])
	portWriteByteFn(slaveDataPort, p.masks[1])

	p.vectorOffset = vectorOffset
	p.initialized = true
	return nil
}

// ClearMask enables delivery for the given IRQ line.
func (p *PIC) ClearMask(irq uint8) *kernel.Error {
	if irq >= 2*linesPerController {
		return errInvalidIRQ
	}

	controller, line := irq/linesPerController, irq%linesPerController
	p.masks[controller] &^= 1 << line
	portWriteByteFn(p.dataPort(controller), p.masks[controller])
	return nil
}

// SetMask inhibits delivery for the given IRQ line.
func (p *PIC) SetMask(irq uint8) *kernel.Error {
	if irq >= 2*linesPerController {
		return errInvalidIRQ
	}

	controller, line := irq/linesPerController, irq%linesPerController
	p.masks[controller] |= 1 << line
	portWriteByteFn(p.dataPort(controller), p.masks[controller])
	return nil
}

// Ack sends an end-of-interrupt for the given IRQ line. IRQs routed through
// the slave controller must be acknowledged on both controllers; skipping
// the acknowledgment stalls every interrupt at that priority or lower.
func (p *PIC) Ack(irq uint8) {
	if irq >= linesPerController {
		portWriteByteFn(slaveCmdPort, ocw2EOI)
	}
	portWriteByteFn(masterCmdPort, ocw2EOI)
}

func (p *PIC) dataPort(controller uint8) uint16 {
	if controller == 0 {
		return masterDataPort
	}
	return slaveDataPort
}
