package sse

import (
	"bytes"
	"fmt"
	"unicode/utf8"
)

// maxExcerpt bounds how much of a bad line is quoted in an error.
const maxExcerpt = 64

// Decoder splits fed bytes into classified lines.
//
// Bytes are appended with Feed and complete lines are taken with NextFrame.
// A partial line stays buffered until the rest of it arrives, so the decoded
// frames do not depend on how the transport chunked the bytes.
// A Decoder is not safe for concurrent use.
type Decoder struct {
	buf []byte
}

// Feed appends p to the internal buffer. p is copied.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Buffered returns the number of bytes waiting for a line terminator.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// NextFrame returns the next complete line. ok is false when no complete line
// is buffered yet. A line with invalid UTF-8 is consumed and reported as an
// error wrapping ErrInvalidUTF8.
func (d *Decoder) NextFrame() (frame Frame, ok bool, err error) {
	i := bytes.IndexByte(d.buf, '\n')
	if i < 0 {
		return Frame{}, false, nil
	}
	frame, err = decodeLine(d.buf[:i])
	d.consume(i + 1)
	if err != nil {
		return Frame{}, false, err
	}
	return frame, true, nil
}

// Flush decodes whatever is left in the buffer as one final line. It is meant
// for end of transport, when the last line may lack its terminator.
// ok is false when the buffer is empty.
func (d *Decoder) Flush() (frame Frame, ok bool, err error) {
	if len(d.buf) == 0 {
		return Frame{}, false, nil
	}
	frame, err = decodeLine(d.buf)
	d.buf = d.buf[:0]
	if err != nil {
		return Frame{}, false, err
	}
	return frame, true, nil
}

// Reset drops all buffered bytes.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
}

func (d *Decoder) consume(n int) {
	d.buf = append(d.buf[:0], d.buf[n:]...)
}

func decodeLine(line []byte) (Frame, error) {
	line = bytes.TrimSuffix(line, []byte{'\r'})
	if !utf8.Valid(line) {
		excerpt := line
		if len(excerpt) > maxExcerpt {
			excerpt = excerpt[:maxExcerpt]
		}
		return Frame{}, fmt.Errorf("%w: %q", ErrInvalidUTF8, excerpt)
	}
	return ParseLine(string(line)), nil
}
