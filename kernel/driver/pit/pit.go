// Package pit contains the driver for the 8254 programmable interval timer
// which provides the kernel's periodic tick source.
package pit

import (
	"minos/kernel"
	"minos/kernel/cpu"
	"minos/kernel/gate"
)

const (
	dataPort    = uint16(0x40)
	commandPort = uint16(0x43)

	// baseFrequency is the input clock of the 8254 in Hz.
	baseFrequency = 1193182

	// commandRateGenerator selects channel 0, lobyte/hibyte access and
	// the rate generator mode.
	commandRateGenerator = uint8(0x36)
)

var (
	errInvalidFrequency = &kernel.Error{Module: "pit", Message: "requested tick frequency out of range"}

	portWriteByteFn = cpu.PortWriteByte
)

// Timer drives the PIT and counts the ticks it raises. The zero value is not
// usable before Init runs.
type Timer struct {
	// frequency is the programmed tick rate in Hz.
	frequency uint32

	// ticks counts timer interrupts since Init. It is only mutated by the
	// timer interrupt handler which cannot preempt itself.
	ticks uint64
}

// Init programs channel 0 as a rate generator firing frequency times per
// second and registers the tick handler with the dispatcher.
func (t *Timer) Init(d *gate.Dispatcher, frequency uint32) *kernel.Error {
	if frequency == 0 || frequency > baseFrequency {
		return errInvalidFrequency
	}

	divisor := uint32(baseFrequency) / frequency
	portWriteByteFn(commandPort, commandRateGenerator)
	portWriteByteFn(dataPort, uint8(divisor&0xff))
	portWriteByteFn(dataPort, uint8(divisor>>8))

	t.frequency = frequency
	d.HandleInterrupt(gate.TimerInterrupt, t.tickHandler)
	return nil
}

func (t *Timer) tickHandler(_ *gate.Registers) {
	t.ticks++
}

// Ticks returns the number of timer interrupts observed since Init.
func (t *Timer) Ticks() uint64 {
	return t.ticks
}

// Frequency returns the programmed tick rate in Hz.
func (t *Timer) Frequency() uint32 {
	return t.frequency
}

// UptimeSeconds returns the number of whole seconds elapsed since Init.
func (t *Timer) UptimeSeconds() uint64 {
	if t.frequency == 0 {
		return 0
	}
	return t.ticks / uint64(t.frequency)
}
