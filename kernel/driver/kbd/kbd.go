// Package kbd contains the driver for the PS/2 keyboard controller. The
// driver decodes scancode set 1 sequences into key events and forwards them
// to a registered sink.
package kbd

import (
	"minos/kernel/cpu"
	"minos/kernel/gate"
)

const (
	dataPort = uint16(0x60)

	// extendedPrefix introduces a two-byte sequence for keys that share a
	// base scancode with the main block.
	extendedPrefix = uint8(0xe0)

	// releaseBit is set on scancodes that signal a key release.
	releaseBit = uint8(0x80)
)

// KeyType identifies the kind of key an event describes.
type KeyType uint8

// The set of key types emitted by the decoder. KeyRune events carry the
// decoded character in Event.Rune; the remaining types describe editing and
// navigation keys with no printable representation.
const (
	KeyRune KeyType = iota
	KeyEnter
	KeyBackspace
	KeyTab
	KeyDelete
	KeyHome
	KeyEnd
	KeyInsert
	KeyArrowUp
	KeyArrowDown
	KeyArrowLeft
	KeyArrowRight
)

// Event describes a single decoded key press.
type Event struct {
	Type KeyType
	Rune byte
}

// EventSink is implemented by objects that consume decoded key events.
type EventSink interface {
	HandleKey(Event)
}

var portReadByteFn = cpu.PortReadByte

// The rune tables map main-block scancodes to characters for the plain and
// shifted layer of a US layout. A zero entry marks a scancode with no
// printable representation.
var (
	plainRunes = [64]byte{
		0, 0, '1', '2', '3', '4', '5', '6', '7', '8', '9', '0', '-', '=', 0, 0,
		'q', 'w', 'e', 'r', 't', 'y', 'u', 'i', 'o', 'p', '[', ']', 0, 0,
		'a', 's', 'd', 'f', 'g', 'h', 'j', 'k', 'l', ';', '\'', '`', 0, '\\',
		'z', 'x', 'c', 'v', 'b', 'n', 'm', ',', '.', '/', 0, '*', 0, ' ',
	}

	shiftRunes = [64]byte{
		0, 0, '!', '@', '#', '$', '%', '^', '&', '*', '(', ')', '_', '+', 0, 0,
		'Q', 'W', 'E', 'R', 'T', 'Y', 'U', 'I', 'O', 'P', '{', '}', 0, 0,
		'A', 'S', 'D', 'F', 'G', 'H', 'J', 'K', 'L', ':', '"', '~', 0, '|',
		'Z', 'X', 'C', 'V', 'B', 'N', 'M', '<', '>', '?', 0, '*', 0, ' ',
	}
)

// Scancodes for the non-printable keys the decoder recognizes. The extended
// block shares codes with the main block and is distinguished by the 0xe0
// prefix byte.
const (
	scanBackspace  = 0x0e
	scanTab        = 0x0f
	scanEnter      = 0x1c
	scanLeftShift  = 0x2a
	scanRightShift = 0x36

	scanExtHome       = 0x47
	scanExtArrowUp    = 0x48
	scanExtArrowLeft  = 0x4b
	scanExtArrowRight = 0x4d
	scanExtEnd        = 0x4f
	scanExtArrowDown  = 0x50
	scanExtInsert     = 0x52
	scanExtDelete     = 0x53
)

// Keyboard decodes the scancode stream from the keyboard controller. The
// zero value is not usable before Init runs.
type Keyboard struct {
	sink EventSink

	// shiftHeld tracks the state of both shift keys; extendedSeen is set
	// between the 0xe0 prefix and the byte that completes the sequence.
	shiftHeld    bool
	extendedSeen bool
}

// Init attaches the event sink and registers the keyboard interrupt handler
// with the dispatcher.
func (k *Keyboard) Init(d *gate.Dispatcher, sink EventSink) {
	k.sink = sink
	d.HandleInterrupt(gate.KeyboardInterrupt, k.interruptHandler)
}

func (k *Keyboard) interruptHandler(_ *gate.Registers) {
	k.ProcessScancode(portReadByteFn(dataPort))
}

// ProcessScancode feeds one byte of the scancode stream into the decoder,
// forwarding an event to the sink when the byte completes a key press.
func (k *Keyboard) ProcessScancode(code uint8) {
	if code == extendedPrefix {
		k.extendedSeen = true
		return
	}

	extended := k.extendedSeen
	k.extendedSeen = false

	released := code&releaseBit != 0
	code &^= releaseBit

	if !extended && (code == scanLeftShift || code == scanRightShift) {
		k.shiftHeld = !released
		return
	}

	if released || k.sink == nil {
		return
	}

	if event, ok := k.decode(code, extended); ok {
		k.sink.HandleKey(event)
	}
}

func (k *Keyboard) decode(code uint8, extended bool) (Event, bool) {
	if extended {
		switch code {
		case scanExtHome:
			return Event{Type: KeyHome}, true
		case scanExtArrowUp:
			return Event{Type: KeyArrowUp}, true
		case scanExtArrowLeft:
			return Event{Type: KeyArrowLeft}, true
		case scanExtArrowRight:
			return Event{Type: KeyArrowRight}, true
		case scanExtEnd:
			return Event{Type: KeyEnd}, true
		case scanExtArrowDown:
			return Event{Type: KeyArrowDown}, true
		case scanExtInsert:
			return Event{Type: KeyInsert}, true
		case scanExtDelete:
			return Event{Type: KeyDelete}, true
		}
		return Event{}, false
	}

	switch code {
	case scanBackspace:
		return Event{Type: KeyBackspace}, true
	case scanTab:
		return Event{Type: KeyTab}, true
	case scanEnter:
		return Event{Type: KeyEnter}, true
	}

	if int(code) >= len(plainRunes) {
		return Event{}, false
	}

	table := &plainRunes
	if k.shiftHeld {
		table = &shiftRunes
	}

	if r := table[code]; r != 0 {
		return Event{Type: KeyRune, Rune: r}, true
	}
	return Event{}, false
}
