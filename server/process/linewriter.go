package process

import (
	"bytes"
	"strings"
)

// lineWriter hands every complete line written to it to emit, without the
// line terminator. A nil emit discards everything.
type lineWriter struct {
	emit func(line string)
	buf  []byte
}

func newLineWriter(emit func(line string)) *lineWriter {
	return &lineWriter{emit: emit}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	if w.emit == nil {
		return len(p), nil
	}
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(strings.TrimSuffix(string(w.buf[:i]), "\r"))
		w.buf = append(w.buf[:0], w.buf[i+1:]...)
	}
	return len(p), nil
}

// Flush emits a trailing line that was not newline-terminated.
func (w *lineWriter) Flush() {
	if w.emit == nil || len(w.buf) == 0 {
		return
	}
	w.emit(strings.TrimSuffix(string(w.buf), "\r"))
	w.buf = w.buf[:0]
}
