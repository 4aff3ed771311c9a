package kbd

import (
	"reflect"
	"testing"

	"minos/kernel/cpu"
	"minos/kernel/gate"
)

type eventRecorder struct {
	events []Event
}

func (r *eventRecorder) HandleKey(ev Event) { r.events = append(r.events, ev) }

func TestProcessScancode(t *testing.T) {
	specs := []struct {
		descr     string
		scancodes []uint8
		expEvents []Event
	}{
		{
			"plain runes",
			[]uint8{0x1e, 0x9e, 0x23, 0xa3, 0x39},
			[]Event{
				{Type: KeyRune, Rune: 'a'},
				{Type: KeyRune, Rune: 'h'},
				{Type: KeyRune, Rune: ' '},
			},
		},
		{
			"shift layer",
			[]uint8{0x2a, 0x1e, 0x03, 0xaa, 0x1e},
			[]Event{
				{Type: KeyRune, Rune: 'A'},
				{Type: KeyRune, Rune: '@'},
				{Type: KeyRune, Rune: 'a'},
			},
		},
		{
			"right shift",
			[]uint8{0x36, 0x0c, 0xb6, 0x0c},
			[]Event{
				{Type: KeyRune, Rune: '_'},
				{Type: KeyRune, Rune: '-'},
			},
		},
		{
			"editing keys",
			[]uint8{0x1c, 0x0e, 0x0f},
			[]Event{
				{Type: KeyEnter},
				{Type: KeyBackspace},
				{Type: KeyTab},
			},
		},
		{
			"extended sequences",
			[]uint8{0xe0, 0x4b, 0xe0, 0xcb, 0xe0, 0x4d, 0xe0, 0x53},
			[]Event{
				{Type: KeyArrowLeft},
				{Type: KeyArrowRight},
				{Type: KeyDelete},
			},
		},
		{
			"extended navigation",
			[]uint8{0xe0, 0x47, 0xe0, 0x4f, 0xe0, 0x48, 0xe0, 0x50, 0xe0, 0x52},
			[]Event{
				{Type: KeyHome},
				{Type: KeyEnd},
				{Type: KeyArrowUp},
				{Type: KeyArrowDown},
				{Type: KeyInsert},
			},
		},
		{
			"unknown scancodes are dropped",
			[]uint8{0x00, 0x3a, 0xe0, 0x1e},
			nil,
		},
	}

	for specIndex, spec := range specs {
		var (
			sink eventRecorder
			kb   Keyboard
		)
		kb.sink = &sink

		for _, code := range spec.scancodes {
			kb.ProcessScancode(code)
		}

		if !reflect.DeepEqual(sink.events, spec.expEvents) {
			t.Errorf("[spec %d] %s: expected events %v; got %v", specIndex, spec.descr, spec.expEvents, sink.events)
		}
	}
}

func TestProcessScancodeWithoutSink(t *testing.T) {
	var kb Keyboard

	// Feeding the decoder without an attached sink must not crash.
	kb.ProcessScancode(0x1e)
	kb.ProcessScancode(0x9e)
}

func TestKeyboardInterruptHandler(t *testing.T) {
	defer func() { portReadByteFn = cpu.PortReadByte }()
	portReadByteFn = func(port uint16) uint8 {
		if port != dataPort {
			t.Errorf("expected scancode read from port 0x%x; got 0x%x", dataPort, port)
		}
		return 0x1e
	}

	var (
		d    gate.Dispatcher
		kb   Keyboard
		sink eventRecorder
		ctrl nopController
	)
	kb.Init(&d, &sink)
	d.AttachController(&ctrl)

	d.Dispatch(gate.KeyboardInterrupt, &gate.Registers{})

	exp := []Event{{Type: KeyRune, Rune: 'a'}}
	if !reflect.DeepEqual(sink.events, exp) {
		t.Fatalf("expected events %v; got %v", exp, sink.events)
	}
}

type nopController struct{}

func (nopController) Ack(uint8) {}
