package sse

import (
	"bytes"
	"io"
	"net/http"
)

// Writer encodes events onto an event stream. When the destination is an
// http.Flusher every event is flushed as soon as it is written.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
	buf     bytes.Buffer
}

// NewWriter returns a Writer that writes to w.
func NewWriter(w io.Writer) *Writer {
	flusher, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: flusher}
}

// WriteEvent writes an "event:" line followed by data and a blank line.
// An empty name omits the event line.
func (w *Writer) WriteEvent(name string, data []byte) error {
	w.buf.Reset()
	if name != "" {
		w.buf.WriteString("event: ")
		w.buf.WriteString(name)
		w.buf.WriteByte('\n')
	}
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		w.buf.WriteString("data: ")
		w.buf.Write(bytes.TrimSuffix(line, []byte{'\r'}))
		w.buf.WriteByte('\n')
	}
	w.buf.WriteByte('\n')
	return w.emit()
}

// WriteData writes a data-only event.
func (w *Writer) WriteData(data []byte) error {
	return w.WriteEvent("", data)
}

// WriteComment writes a comment line. Comments are ignored by readers and
// keep idle connections open.
func (w *Writer) WriteComment(text string) error {
	w.buf.Reset()
	w.buf.WriteString(": ")
	w.buf.WriteString(text)
	w.buf.WriteString("\n\n")
	return w.emit()
}

// WriteDone writes the [DONE] sentinel.
func (w *Writer) WriteDone() error {
	return w.WriteData([]byte(DoneSentinel))
}

func (w *Writer) emit() error {
	if _, err := w.w.Write(w.buf.Bytes()); err != nil {
		return err
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}
