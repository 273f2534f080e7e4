package chat

import "bytes"

// lineBuffer holds inbound bytes that have not yet formed a complete line.
type lineBuffer struct {
	data []byte
}

func newLineBuffer(capacity int) *lineBuffer {
	if capacity <= 0 {
		capacity = 128
	}
	return &lineBuffer{
		data: make([]byte, 0, capacity),
	}
}

func (b *lineBuffer) Append(p []byte) {
	b.data = append(b.data, p...)
}

func (b *lineBuffer) Len() int {
	return len(b.data)
}

// Cut removes and returns the first newline-terminated line, terminator included.
// When no newline falls within the first limit bytes and at least limit bytes are
// buffered, the first limit bytes are returned instead.
func (b *lineBuffer) Cut(limit int) ([]byte, bool) {
	end := bytes.IndexByte(b.data, '\n') + 1
	if end == 0 || (limit > 0 && end > limit) {
		if limit <= 0 || len(b.data) < limit {
			return nil, false
		}
		end = limit
	}
	return b.take(end), true
}

// Drain removes and returns everything buffered.
func (b *lineBuffer) Drain() []byte {
	return b.take(len(b.data))
}

func (b *lineBuffer) take(n int) []byte {
	out := make([]byte, n)
	copy(out, b.data[:n])
	b.data = append(b.data[:0], b.data[n:]...)
	return out
}
