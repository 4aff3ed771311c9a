package kfmt

import "io"

// PrefixWriter wraps an io.Writer and injects a tag at the start of every
// line, giving each kernel module a recognizable slice of the shared boot
// log.
type PrefixWriter struct {
	sink   io.Writer
	prefix []byte

	// midLine is set while the last byte forwarded to the sink did not
	// end its line; the next write then continues the line untagged.
	midLine bool
}

// NewPrefixWriter returns a writer that prepends prefix to every line
// written through it before forwarding the output to sink.
func NewPrefixWriter(sink io.Writer, prefix string) *PrefixWriter {
	return &PrefixWriter{sink: sink, prefix: []byte(prefix)}
}

// Write forwards p to the underlying sink, injecting the prefix whenever the
// output lands at the start of a line. The injected prefix bytes do not count
// toward the returned write size.
func (w *PrefixWriter) Write(p []byte) (int, error) {
	var written int

	for start := 0; start < len(p); {
		if !w.midLine {
			if _, err := w.sink.Write(w.prefix); err != nil {
				return written, err
			}
			w.midLine = true
		}

		end := start
		for end < len(p) && p[end] != '\n' {
			end++
		}
		endsLine := end < len(p)
		if endsLine {
			end++
		}

		n, err := w.sink.Write(p[start:end])
		written += n
		if err != nil {
			return written, err
		}
		if endsLine {
			w.midLine = false
		}
		start = end
	}

	return written, nil
}
