package sse

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

const defaultReadSize = 32 * 1024

// Reader pulls data payloads out of an event stream.
//
// Consecutive data lines are joined with '\n' and dispatched at the next blank
// line, or at end of input. A [DONE] payload ends the stream: Next returns
// io.EOF and the underlying reader is not read again.
type Reader struct {
	r   io.Reader
	dec Decoder
	buf []byte

	data      []string
	eventType string
	eventID   string

	eof      bool // underlying reader is exhausted
	finished bool // no more payloads will be returned
	err      error
}

// NewReader returns a Reader that reads from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r, buf: make([]byte, defaultReadSize)}
}

// Next returns the next data payload. It returns io.EOF at a clean end of
// stream. Any other error is sticky.
func (r *Reader) Next() (string, error) {
	if r.err != nil {
		return "", r.err
	}
	for !r.finished {
		frame, ok, err := r.dec.NextFrame()
		if err != nil {
			return "", r.fail(err)
		}
		if !ok {
			if r.eof {
				return r.drain()
			}
			if err := r.fill(); err != nil {
				return "", r.fail(err)
			}
			continue
		}
		if payload, ready := r.apply(frame); ready {
			return payload, nil
		}
	}
	return r.pending()
}

// LastEventType returns the most recent "event:" field value.
func (r *Reader) LastEventType() string {
	return r.eventType
}

// LastEventID returns the most recent "id:" field value.
func (r *Reader) LastEventID() string {
	return r.eventID
}

func (r *Reader) fill() error {
	n, err := r.r.Read(r.buf)
	if n > 0 {
		r.dec.Feed(r.buf[:n])
	}
	if errors.Is(err, io.EOF) {
		r.eof = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("sse: read: %w", err)
	}
	return nil
}

// drain handles end of input: the residual line is flushed and any pending
// data lines are dispatched.
func (r *Reader) drain() (string, error) {
	frame, ok, err := r.dec.Flush()
	if err != nil {
		return "", r.fail(err)
	}
	r.finished = true
	if ok {
		if payload, ready := r.apply(frame); ready {
			return payload, nil
		}
	}
	return r.pending()
}

func (r *Reader) pending() (string, error) {
	if len(r.data) == 0 {
		return "", io.EOF
	}
	return r.dispatch(), nil
}

func (r *Reader) apply(frame Frame) (string, bool) {
	switch frame.Kind {
	case FrameBlank:
		if len(r.data) > 0 {
			return r.dispatch(), true
		}
	case FrameData:
		r.data = append(r.data, frame.Value)
	case FrameDone:
		r.finished = true
		if len(r.data) > 0 {
			return r.dispatch(), true
		}
	case FrameField:
		switch frame.Name {
		case "event":
			r.eventType = frame.Value
		case "id":
			if !strings.ContainsRune(frame.Value, 0) {
				r.eventID = frame.Value
			}
		}
	}
	return "", false
}

func (r *Reader) dispatch() string {
	payload := strings.Join(r.data, "\n")
	r.data = r.data[:0]
	return payload
}

func (r *Reader) fail(err error) error {
	r.err = err
	r.finished = true
	r.dec.Reset()
	return err
}
