package transport

import "bytes"

// LineFramer assembles complete lines from arbitrarily chunked input. It
// owns the leftover partial line between calls; Reset discards it when a
// stream restarts.
type LineFramer struct {
	rem []byte
}

// Push appends chunk to the buffered remainder and returns every complete
// line it closes, in order, without the trailing newline. A trailing
// carriage return is stripped.
func (f *LineFramer) Push(chunk []byte) []string {
	if len(chunk) == 0 {
		return nil
	}
	f.rem = append(f.rem, chunk...)

	var lines []string
	for {
		idx := bytes.IndexByte(f.rem, '\n')
		if idx < 0 {
			break
		}
		line := f.rem[:idx]
		if n := len(line); n > 0 && line[n-1] == '\r' {
			line = line[:n-1]
		}
		lines = append(lines, string(line))
		f.rem = f.rem[idx+1:]
	}
	if len(f.rem) == 0 {
		f.rem = nil
	}
	return lines
}

// Pending returns the buffered partial line, if any.
func (f *LineFramer) Pending() string {
	return string(f.rem)
}

// Reset discards any buffered partial line.
func (f *LineFramer) Reset() {
	f.rem = nil
}
