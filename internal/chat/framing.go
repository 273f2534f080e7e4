package chat

import "io"

// framer splits an inbound byte stream into relay units.
type framer interface {
	// next returns the next non-empty unit, or an error once the stream is done.
	next() ([]byte, error)
}

func newFramer(mode string, r io.Reader, chunk, maxLine int) framer {
	if chunk <= 0 {
		chunk = defaultReadChunk
	}
	if maxLine <= 0 {
		maxLine = defaultMaxMessage
	}
	if mode == FramingLine {
		return &lineFramer{r: r, chunk: make([]byte, chunk), pending: newLineBuffer(chunk), maxLine: maxLine}
	}
	return &rawFramer{r: r, chunk: make([]byte, chunk)}
}

// rawFramer treats whatever one Read returns as one unit, so units may split or
// merge the messages a client meant to send.
type rawFramer struct {
	r     io.Reader
	chunk []byte
	err   error
}

func (f *rawFramer) next() ([]byte, error) {
	for f.err == nil {
		n, err := f.r.Read(f.chunk)
		f.err = err
		if n > 0 {
			out := make([]byte, n)
			copy(out, f.chunk[:n])
			return out, nil
		}
	}
	return nil, f.err
}

// lineFramer yields newline-terminated lines, cutting lines longer than maxLine.
// Bytes left without a terminator when the stream ends are flushed as a last unit.
type lineFramer struct {
	r       io.Reader
	chunk   []byte
	pending *lineBuffer
	maxLine int
	err     error
}

func (f *lineFramer) next() ([]byte, error) {
	for {
		if line, ok := f.pending.Cut(f.maxLine); ok {
			return line, nil
		}
		if f.err != nil {
			if f.pending.Len() > 0 {
				return f.pending.Drain(), nil
			}
			return nil, f.err
		}

		n, err := f.r.Read(f.chunk)
		if n > 0 {
			f.pending.Append(f.chunk[:n])
		}
		if err != nil {
			f.err = err
		}
	}
}
