// Package kfmt provides formatted output primitives that are safe to call at
// any point of the kernel's lifetime, including the window before the console
// and tty devices have been brought up where output is staged in a ring
// buffer.
package kfmt

import "io"

// maxNumBufSize is the buffer size for formatting numbers; large enough for a
// 64-bit value in base 8 plus a sign.
const maxNumBufSize = 23

var (
	errNoVerb     = []byte("%!(NOVERB)")
	errNoArg      = []byte("%!(MISSING)")
	errBadArgType = []byte("%!(WRONGTYPE)")
	errExtraArg   = []byte("%!(EXTRA)")
	trueValue     = []byte("true")
	falseValue    = []byte("false")
	padSpace      = []byte(" ")
	padZero       = []byte("0")

	// earlyPrintBuffer buffers Printf output generated before an output
	// sink has been registered via SetOutputSink.
	earlyPrintBuffer ringBuffer

	// outputSink is the io.Writer where Printf sends its output. While
	// nil, output is redirected to earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink sets the target for calls to Printf to w and drains any
// output accumulated in the early print buffer into it.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		io.Copy(w, &earlyPrintBuffer)
	}
}

// GetOutputSink returns the iowriter used for kernel log output. If no sink
// has been registered yet, the early print buffer is returned instead.
func GetOutputSink() io.Writer {
	if outputSink == nil {
		return &earlyPrintBuffer
	}
	return outputSink
}

// Printf formats its arguments and writes them to the active output sink.
//
// The following subset of formatting verbs is supported:
//
//	%s  the uninterpreted bytes of a string or byte slice
//	%c  a single character
//	%o  integer, base 8
//	%d  integer, base 10
//	%x  integer, base 16 with lower-case letters
//	%t  "true" or "false"
//
// A verb may be preceded by a decimal width. Strings and base-10 values
// shorter than the width are left-padded with spaces while base-16 values are
// left-padded with zeroes.
func Printf(format string, args ...interface{}) {
	if outputSink == nil {
		Fprintf(&earlyPrintBuffer, format, args...)
		return
	}
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves exactly like Printf but writes the formatted output to w.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		nextArg    int
		blockStart int
		index      int
		fmtLen     = len(format)
	)

	for index < fmtLen {
		if format[index] != '%' {
			index++
			continue
		}

		if blockStart < index {
			writeString(w, format[blockStart:index])
		}

		// Parse optional width
		index++
		width := 0
		for ; index < fmtLen && format[index] >= '0' && format[index] <= '9'; index++ {
			width = width*10 + int(format[index]-'0')
		}

		if index >= fmtLen {
			w.Write(errNoVerb)
			return
		}

		verb := format[index]
		index++
		blockStart = index

		if verb == '%' {
			writeString(w, "%")
			continue
		}

		if nextArg >= len(args) {
			w.Write(errNoArg)
			continue
		}

		writeArg(w, verb, width, args[nextArg])
		nextArg++
	}

	if blockStart < index {
		writeString(w, format[blockStart:index])
	}

	if nextArg < len(args) {
		w.Write(errExtraArg)
	}
}

func writeArg(w io.Writer, verb byte, width int, arg interface{}) {
	switch verb {
	case 's':
		writeStringArg(w, width, arg)
	case 'c':
		writeCharArg(w, arg)
	case 'o':
		writeIntArg(w, 8, width, arg)
	case 'd':
		writeIntArg(w, 10, width, arg)
	case 'x':
		writeIntArg(w, 16, width, arg)
	case 't':
		if v, isBool := arg.(bool); isBool {
			if v {
				w.Write(trueValue)
			} else {
				w.Write(falseValue)
			}
			return
		}
		w.Write(errBadArgType)
	default:
		w.Write(errNoVerb)
	}
}

func writeStringArg(w io.Writer, width int, arg interface{}) {
	switch v := arg.(type) {
	case string:
		pad(w, width-len(v), padSpace)
		writeString(w, v)
	case []byte:
		pad(w, width-len(v), padSpace)
		w.Write(v)
	case Error:
		writeString(w, v.Error())
	default:
		w.Write(errBadArgType)
	}
}

func writeCharArg(w io.Writer, arg interface{}) {
	var buf [1]byte

	switch v := arg.(type) {
	case byte:
		buf[0] = v
	case rune:
		buf[0] = byte(v)
	default:
		w.Write(errBadArgType)
		return
	}

	w.Write(buf[:])
}

func writeIntArg(w io.Writer, base uint64, width int, arg interface{}) {
	var (
		value    uint64
		negative bool
	)

	switch v := arg.(type) {
	case uint8:
		value = uint64(v)
	case uint16:
		value = uint64(v)
	case uint32:
		value = uint64(v)
	case uint64:
		value = v
	case uint:
		value = uint64(v)
	case uintptr:
		value = uint64(v)
	case int8:
		value, negative = abs(int64(v))
	case int16:
		value, negative = abs(int64(v))
	case int32:
		value, negative = abs(int64(v))
	case int64:
		value, negative = abs(v)
	case int:
		value, negative = abs(int64(v))
	default:
		w.Write(errBadArgType)
		return
	}

	var (
		buf   [maxNumBufSize]byte
		index = len(buf)
	)

	for {
		index--
		digit := byte(value % base)
		if digit < 10 {
			buf[index] = '0' + digit
		} else {
			buf[index] = 'a' + digit - 10
		}

		value /= base
		if value == 0 {
			break
		}
	}

	if negative {
		index--
		buf[index] = '-'
	}

	padBytes := padSpace
	if base == 16 {
		padBytes = padZero
	}
	pad(w, width-(len(buf)-index), padBytes)

	w.Write(buf[index:])
}

func abs(v int64) (uint64, bool) {
	if v < 0 {
		return uint64(-v), true
	}
	return uint64(v), false
}

func pad(w io.Writer, count int, padBytes []byte) {
	for ; count > 0; count-- {
		w.Write(padBytes)
	}
}

func writeString(w io.Writer, s string) {
	// An explicit byte-by-byte copy through a stack buffer avoids the
	// string-to-slice conversion which would trigger an allocation.
	var buf [1]byte
	for i := 0; i < len(s); i++ {
		buf[0] = s[i]
		w.Write(buf[:])
	}
}

// Error mirrors the kernel Error type so that %s can format kernel errors
// without introducing an import cycle between kfmt and the kernel package.
type Error interface {
	Error() string
}
