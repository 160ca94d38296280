package wavio

import (
	"fmt"
	"io"
)

// writeSeeker is an in-memory [io.WriteSeeker]. The WAV encoder seeks back to
// patch chunk sizes after writing sample data, so a plain bytes.Buffer is not
// enough.
type writeSeeker struct {
	buf []byte
	pos int
}

var _ io.WriteSeeker = (*writeSeeker)(nil)

func (w *writeSeeker) Write(p []byte) (int, error) {
	if end := w.pos + len(p); end > len(w.buf) {
		grown := make([]byte, end)
		copy(grown, w.buf)
		w.buf = grown
	}
	n := copy(w.buf[w.pos:], p)
	w.pos += n
	return n, nil
}

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(w.pos) + offset
	case io.SeekEnd:
		next = int64(len(w.buf)) + offset
	default:
		return 0, fmt.Errorf("wavio: invalid seek whence %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("wavio: seek before start of buffer")
	}
	w.pos = int(next)
	return next, nil
}

// Bytes returns the written content.
func (w *writeSeeker) Bytes() []byte {
	return w.buf
}
