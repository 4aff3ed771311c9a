// Package tty implements a virtual terminal on top of a console device.
package tty

import "minos/kernel/driver/video/console"

const (
	defaultFg = console.LightGrey
	defaultBg = console.Black
)

// Vt implements a simple terminal that can process LF, CR, BS and TAB
// characters. The terminal uses a console device for its output and
// implements io.Writer so it can serve as an output sink.
type Vt struct {
	cons console.Console

	width  uint16
	height uint16

	curX    uint16
	curY    uint16
	curAttr console.Attr
}

// Init attaches the terminal to a console device.
func (t *Vt) Init(cons console.Console) {
	t.cons = cons
	t.width, t.height = cons.Dimensions()
	t.curX = 0
	t.curY = 0

	// Default to lightgrey on black text.
	t.curAttr = makeAttr(defaultFg, defaultBg)
}

// Clear clears the terminal and moves the cursor to the top-left corner.
func (t *Vt) Clear() {
	t.cons.Clear(0, 0, t.width, t.height)
	t.curX = 0
	t.curY = 0
}

// Position returns the current cursor position (x, y).
func (t *Vt) Position() (uint16, uint16) {
	return t.curX, t.curY
}

// SetPosition sets the current cursor position to (x,y).
func (t *Vt) SetPosition(x, y uint16) {
	if x >= t.width {
		x = t.width - 1
	}

	if y >= t.height {
		y = t.height - 1
	}

	t.curX, t.curY = x, y
}

// Write implements io.Writer.
func (t *Vt) Write(data []byte) (int, error) {
	attr := t.curAttr
	for _, b := range data {
		switch b {
		case '\r':
			t.cr()
		case '\n':
			t.cr()
			t.lf()
		case '\b':
			if t.curX > 0 {
				t.curX--
			}
		case '\t':
			for ok := true; ok; ok = t.curX%8 != 0 {
				t.cons.Write(' ', attr, t.curX, t.curY)
				t.curX++
				if t.curX == t.width {
					t.lf()
					break
				}
			}
		default:
			t.cons.Write(b, attr, t.curX, t.curY)
			t.curX++
			if t.curX == t.width {
				t.lf()
			}
		}
	}

	return len(data), nil
}

// cr resets the x coordinate of the terminal cursor to 0.
func (t *Vt) cr() {
	t.curX = 0
}

// lf advances the y coordinate of the terminal cursor by one line scrolling
// the terminal contents if the end of the last terminal line is reached.
func (t *Vt) lf() {
	t.curX = 0
	if t.curY+1 < t.height {
		t.curY++
		return
	}

	t.cons.Scroll(console.Up, 1)
	t.cons.Clear(0, t.height-1, t.width, 1)
}

func makeAttr(fg, bg console.Attr) console.Attr {
	return (bg << 4) | (fg & 0xF)
}
