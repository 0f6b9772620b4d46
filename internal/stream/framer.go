package stream

import "bytes"

// Framer reassembles arbitrarily split byte fragments into frames.
// A frame ends at the second newline after its start; the blank line that
// separates frames is dropped before the next scan. Consumed bytes are
// removed from the buffer, so it never holds more than one frame's worth of
// unterminated data.
type Framer struct {
	buffer []byte
}

// Write appends a fragment to the buffer.
func (f *Framer) Write(p []byte) {
	f.buffer = append(f.buffer, p...)
}

// Next returns the next complete frame, or false when more data is needed.
func (f *Framer) Next() (string, bool) {
	f.dropPadding()

	first := bytes.IndexByte(f.buffer, '\n')
	if first == -1 {
		return "", false
	}
	second := bytes.IndexByte(f.buffer[first+1:], '\n')
	if second == -1 {
		return "", false
	}

	end := first + 1 + second + 1
	frame := string(f.buffer[:end])
	f.consume(end)
	return frame, true
}

// Flush returns whatever remains once the source is exhausted as one final
// frame. It returns false if only padding is left.
func (f *Framer) Flush() (string, bool) {
	f.dropPadding()
	if isPadding(f.buffer) {
		f.buffer = nil
		return "", false
	}

	frame := string(f.buffer)
	f.buffer = nil
	return frame, true
}

// Len reports the number of buffered bytes.
func (f *Framer) Len() int {
	return len(f.buffer)
}

// Reset discards the buffer.
func (f *Framer) Reset() {
	f.buffer = nil
}

// dropPadding removes leading blank lines. A lone trailing '\r' is kept until
// its '\n' arrives.
func (f *Framer) dropPadding() {
	n := 0
	for n < len(f.buffer) {
		switch {
		case f.buffer[n] == '\n':
			n++
		case f.buffer[n] == '\r' && n+1 < len(f.buffer) && f.buffer[n+1] == '\n':
			n += 2
		default:
			f.consume(n)
			return
		}
	}
	f.consume(n)
}

func (f *Framer) consume(n int) {
	if n == 0 {
		return
	}
	rest := copy(f.buffer, f.buffer[n:])
	f.buffer = f.buffer[:rest]
}

func isPadding(b []byte) bool {
	for _, c := range b {
		if c != '\n' && c != '\r' {
			return false
		}
	}
	return true
}
