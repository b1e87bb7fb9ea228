package output

import (
	"bytes"
	"sync"
)

// MaxLineLength bounds a single unterminated line. Longer fragments are
// emitted in pieces of this size.
const MaxLineLength = 64 * 1024

// LineWriter is an io.Writer that reassembles arbitrary chunks into lines
// and hands each complete line to emit. A trailing carriage return is
// removed. Close emits any unterminated remainder.
type LineWriter struct {
	mu     sync.Mutex
	buf    []byte
	emit   func(line string)
	closed bool
}

// NewLineWriter returns a writer that calls emit once per line.
func NewLineWriter(emit func(line string)) *LineWriter {
	return &LineWriter{emit: emit}
}

// Write implements io.Writer. It never fails.
func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return len(p), nil
	}

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emitLocked(w.buf[:i])
		w.buf = w.buf[i+1:]
	}

	for len(w.buf) >= MaxLineLength {
		w.emitLocked(w.buf[:MaxLineLength])
		w.buf = w.buf[MaxLineLength:]
	}

	// Compact so the backing array does not grow without bound.
	if len(w.buf) == 0 {
		w.buf = nil
	} else if cap(w.buf) > 2*MaxLineLength {
		w.buf = append([]byte(nil), w.buf...)
	}

	return len(p), nil
}

// Close flushes a pending partial line. Later writes are discarded.
func (w *LineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	if len(w.buf) > 0 {
		w.emitLocked(w.buf)
		w.buf = nil
	}
	return nil
}

func (w *LineWriter) emitLocked(line []byte) {
	line = bytes.TrimSuffix(line, []byte{'\r'})
	w.emit(string(line))
}
