// Package sync provides the mutual exclusion primitive available to a
// single-core kernel. With exactly one execution context, the only source of
// interleaving is asynchronous preemption by a hardware interrupt or CPU
// exception; masking interrupts for the duration of a critical section is
// therefore both necessary and sufficient.
package sync

import "minos/kernel/cpu"

// IrqLock guards a critical section by masking hardware interrupts. Unlike a
// true lock there is no owner and no contention; Acquire simply records the
// previous state of the interrupt enable flag so that nested critical
// sections compose correctly.
type IrqLock struct {
	wasEnabled bool
}

// Acquire masks interrupts until the matching Release call. Any attempt by an
// interrupt handler to preempt the critical section is deferred by the
// hardware until interrupts are unmasked again.
func (l *IrqLock) Acquire() {
	l.wasEnabled = cpu.InterruptsEnabled()
	cpu.DisableInterrupts()
}

// Release exits the critical section and restores the interrupt enable flag
// to its state before the matching Acquire call.
func (l *IrqLock) Release() {
	if l.wasEnabled {
		cpu.EnableInterrupts()
	}
}
