package console

import "testing"

func TestVgaInit(t *testing.T) {
	var cons Vga
	cons.Init(80, 25)

	if w, h := cons.Dimensions(); w != 80 || h != 25 {
		t.Fatalf("expected console dimensions to be 80x25; got %dx%d", w, h)
	}

	// A second Init call must retain the existing cell buffer.
	fb := cons.fb
	cons.Init(80, 25)
	if &cons.fb[0] != &fb[0] {
		t.Fatal("expected Init to reuse the existing cell buffer")
	}
}

func TestVgaWrite(t *testing.T) {
	var cons Vga
	cons.Init(80, 25)

	attr := Attr((Red << 4) | White)
	cons.Write('!', attr, 10, 20)

	if ch, got := cons.Cell(10, 20); ch != '!' || got != attr {
		t.Fatalf("expected cell (10, 20) to contain ('!', 0x%x); got (%q, 0x%x)", attr, ch, got)
	}

	// Out of bounds writes are ignored.
	cons.Write('!', attr, 80, 0)
	cons.Write('!', attr, 0, 25)

	if ch, _ := cons.Cell(79, 24); ch != 0 {
		t.Fatalf("expected out of bounds writes to be dropped; got %q at (79, 24)", ch)
	}
}

func TestVgaClear(t *testing.T) {
	specs := []struct {
		x, y, w, h uint16
	}{
		{0, 0, 500, 500}, // fully clipped to the console dimensions
		{10, 10, 11, 50}, // height clipped
		{10, 10, 110, 1}, // width clipped
		{0, 0, 80, 25},   // entire console
		{100, 100, 1, 1}, // completely outside
	}

	for specIndex, spec := range specs {
		var cons Vga
		cons.Init(80, 25)

		// Fill the console with a sentinel before clearing.
		attr := Attr((Red << 4) | White)
		for y := uint16(0); y < 25; y++ {
			for x := uint16(0); x < 80; x++ {
				cons.Write('x', attr, x, y)
			}
		}

		cons.Clear(spec.x, spec.y, spec.w, spec.h)

		var clearCount int
		for y := uint16(0); y < 25; y++ {
			for x := uint16(0); x < 80; x++ {
				if ch, cellAttr := cons.Cell(x, y); ch == clearChar && cellAttr == Attr((clearColor<<4)|clearColor) {
					clearCount++
				}
			}
		}

		expCount := clippedArea(spec.x, spec.y, spec.w, spec.h, 80, 25)
		if clearCount != expCount {
			t.Errorf("[spec %d] expected Clear to affect %d cells; got %d", specIndex, expCount, clearCount)
		}
	}
}

func clippedArea(x, y, w, h, maxW, maxH uint16) int {
	if x >= maxW || y >= maxH {
		return 0
	}
	if x+w > maxW {
		w = maxW - x
	}
	if y+h > maxH {
		h = maxH - y
	}
	return int(w) * int(h)
}

func TestVgaScroll(t *testing.T) {
	t.Run("up", func(t *testing.T) {
		var cons Vga
		cons.Init(80, 25)

		attr := Attr(LightGrey)
		cons.Write('1', attr, 0, 1)
		cons.Write('2', attr, 0, 2)

		cons.Scroll(Up, 1)

		if ch, _ := cons.Cell(0, 0); ch != '1' {
			t.Fatalf("expected row 1 to move to row 0; got %q", ch)
		}
		if ch, _ := cons.Cell(0, 1); ch != '2' {
			t.Fatalf("expected row 2 to move to row 1; got %q", ch)
		}
	})

	t.Run("down", func(t *testing.T) {
		var cons Vga
		cons.Init(80, 25)

		attr := Attr(LightGrey)
		cons.Write('1', attr, 0, 1)

		cons.Scroll(Down, 2)

		if ch, _ := cons.Cell(0, 3); ch != '1' {
			t.Fatalf("expected row 1 to move to row 3; got %q", ch)
		}
	})

	t.Run("invalid line count", func(t *testing.T) {
		var cons Vga
		cons.Init(80, 25)

		attr := Attr(LightGrey)
		cons.Write('1', attr, 0, 1)

		cons.Scroll(Up, 0)
		cons.Scroll(Up, 26)

		if ch, _ := cons.Cell(0, 1); ch != '1' {
			t.Fatalf("expected invalid scroll requests to be ignored; got %q at (0, 1)", ch)
		}
	})
}
