// Package rtc contains the driver for the CMOS real-time clock.
package rtc

import "minos/kernel/cpu"

const (
	addressPort = uint16(0x70)
	dataPort    = uint16(0x71)

	// CMOS register indices for the clock fields.
	regSeconds = uint8(0x00)
	regMinutes = uint8(0x02)
	regHours   = uint8(0x04)
)

var (
	portReadByteFn  = cpu.PortReadByte
	portWriteByteFn = cpu.PortWriteByte
)

// Time holds a wall-clock time of day.
type Time struct {
	Hours   uint8
	Minutes uint8
	Seconds uint8
}

// Clock reads the time of day from the CMOS RTC. The clock stores its fields
// in BCD; each nibble holds one decimal digit.
type Clock struct {
	// TimezoneOffset is added to the hours read from the clock, which
	// ticks in UTC.
	TimezoneOffset int8
}

// Now reads the current time of day, converts it from BCD and applies the
// configured timezone offset.
func (c *Clock) Now() Time {
	hours := bcdToBinary(c.readRegister(regHours)) % 24
	minutes := bcdToBinary(c.readRegister(regMinutes)) % 60
	seconds := bcdToBinary(c.readRegister(regSeconds)) % 60

	hours = uint8((int16(hours) + int16(c.TimezoneOffset) + 24) % 24)

	return Time{Hours: hours, Minutes: minutes, Seconds: seconds}
}

func (c *Clock) readRegister(reg uint8) uint8 {
	portWriteByteFn(addressPort, reg)
	return portReadByteFn(dataPort)
}

func bcdToBinary(v uint8) uint8 {
	return (v>>4)*10 + (v & 0xf)
}
