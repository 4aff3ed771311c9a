// Package cpu models the processor state that the kernel mutates directly:
// the interrupt enable flag, the halt state and the port-mapped I/O bus. The
// state is kept in explicit variables instead of control registers so that
// any kernel component (and its tests) can inspect the effects of cpu calls.
package cpu

var (
	// irqEnabled tracks the state of the interrupt enable flag (IF).
	// Interrupts start masked; the dispatcher unmasks them once every
	// vector has been populated.
	irqEnabled bool

	// portHandlers contains the device handlers attached to the I/O bus
	// keyed by port number.
	portHandlers = make(map[uint16]PortHandler)

	// cr2 holds the faulting address of the most recent page fault.
	cr2 uintptr
)

// PortHandler is implemented by devices that respond to port-mapped I/O.
type PortHandler interface {
	// In reads a byte from the given port.
	In(port uint16) uint8

	// Out writes a byte to the given port.
	Out(port uint16, val uint8)
}

// EnableInterrupts sets the interrupt enable flag.
func EnableInterrupts() {
	irqEnabled = true
}

// DisableInterrupts clears the interrupt enable flag.
func DisableInterrupts() {
	irqEnabled = false
}

// InterruptsEnabled returns the state of the interrupt enable flag.
func InterruptsEnabled() bool {
	return irqEnabled
}

// Halt stops instruction execution. The processor can only leave this state
// via a reset; calls to Halt never return.
func Halt() {
	DisableInterrupts()
	for {
	}
}

// FlushTLBEntry flushes the cached translation for a particular virtual
// address after its page table entry has been mutated.
func FlushTLBEntry(virtAddr uintptr) {
}

// SetCR2 latches the faulting address for a page fault that is about to be
// raised. The page fault handler retrieves it via ReadCR2.
func SetCR2(faultAddr uintptr) {
	cr2 = faultAddr
}

// ReadCR2 returns the value stored in the CR2 register.
func ReadCR2() uintptr {
	return cr2
}

// RegisterPortHandler attaches a device handler to the [first, last] port
// range. Any previous handler for a port in the range is replaced.
func RegisterPortHandler(first, last uint16, h PortHandler) {
	for port := uint32(first); port <= uint32(last); port++ {
		portHandlers[uint16(port)] = h
	}
}

// PortReadByte reads a uint8 value from the requested port. Reads from a port
// with no attached device float high.
func PortReadByte(port uint16) uint8 {
	if h := portHandlers[port]; h != nil {
		return h.In(port)
	}

	return 0xff
}

// PortWriteByte writes a uint8 value to the requested port. Writes to a port
// with no attached device are discarded.
func PortWriteByte(port uint16, val uint8) {
	if h := portHandlers[port]; h != nil {
		h.Out(port, val)
	}
}
