package rtc

import (
	"testing"

	"minos/kernel/cpu"
)

// fakeCMOS emulates the address/data port pair of the CMOS controller.
type fakeCMOS struct {
	registers   map[uint8]uint8
	selectedReg uint8
}

func (c *fakeCMOS) install(t *testing.T) {
	t.Cleanup(func() {
		portReadByteFn = cpu.PortReadByte
		portWriteByteFn = cpu.PortWriteByte
	})

	portWriteByteFn = func(port uint16, val uint8) {
		if port != addressPort {
			t.Errorf("expected register select on port 0x%x; got 0x%x", addressPort, port)
		}
		c.selectedReg = val
	}
	portReadByteFn = func(port uint16) uint8 {
		if port != dataPort {
			t.Errorf("expected register read on port 0x%x; got 0x%x", dataPort, port)
		}
		return c.registers[c.selectedReg]
	}
}

func TestClockNow(t *testing.T) {
	specs := []struct {
		hours, minutes, seconds uint8
		tzOffset                int8
		expTime                 Time
	}{
		// 13:37:42 in BCD with no offset.
		{0x13, 0x37, 0x42, 0, Time{Hours: 13, Minutes: 37, Seconds: 42}},
		// Positive offset.
		{0x13, 0x37, 0x42, 9, Time{Hours: 22, Minutes: 37, Seconds: 42}},
		// Offset wrapping past midnight.
		{0x23, 0x59, 0x59, 2, Time{Hours: 1, Minutes: 59, Seconds: 59}},
		// Negative offset wrapping below midnight.
		{0x01, 0x00, 0x00, -5, Time{Hours: 20, Minutes: 0, Seconds: 0}},
		// Out of range raw values are clamped before the offset applies.
		{0x25, 0x61, 0x99, 0, Time{Hours: 1, Minutes: 1, Seconds: 39}},
	}

	for specIndex, spec := range specs {
		cmos := &fakeCMOS{registers: map[uint8]uint8{
			regHours:   spec.hours,
			regMinutes: spec.minutes,
			regSeconds: spec.seconds,
		}}
		cmos.install(t)

		clock := Clock{TimezoneOffset: spec.tzOffset}
		if got := clock.Now(); got != spec.expTime {
			t.Errorf("[spec %d] expected time %v; got %v", specIndex, spec.expTime, got)
		}
	}
}

func TestBCDToBinary(t *testing.T) {
	specs := []struct {
		in, exp uint8
	}{
		{0x00, 0},
		{0x09, 9},
		{0x10, 10},
		{0x42, 42},
		{0x59, 59},
	}

	for specIndex, spec := range specs {
		if got := bcdToBinary(spec.in); got != spec.exp {
			t.Errorf("[spec %d] expected bcdToBinary(0x%x) to return %d; got %d", specIndex, spec.in, got, spec.exp)
		}
	}
}
