// Package sse decodes and encodes text/event-stream framing.
//
// The package knows nothing about LLM vendors: it turns bytes into classified
// lines (Frame), data lines into payload strings (Reader), and payloads back
// into bytes (Writer). Vendor-specific JSON lives in the providers packages.
package sse

import (
	"errors"
	"strings"
)

// DoneSentinel is the data payload OpenAI-compatible servers send to mark a
// graceful end of stream.
const DoneSentinel = "[DONE]"

// ErrInvalidUTF8 is returned when a line contains bytes that are not valid UTF-8.
var ErrInvalidUTF8 = errors.New("sse: invalid UTF-8 in frame")

// FrameKind classifies a single line of an event stream.
type FrameKind int

const (
	// FrameBlank is an empty line; it separates events.
	FrameBlank FrameKind = iota
	// FrameComment is a line starting with ':'. Servers use these as keep-alives.
	FrameComment
	// FrameData is a "data:" line.
	FrameData
	// FrameDone is a "data: [DONE]" line.
	FrameDone
	// FrameField is any other field line ("event:", "id:", "retry:", ...).
	FrameField
)

func (k FrameKind) String() string {
	switch k {
	case FrameBlank:
		return "blank"
	case FrameComment:
		return "comment"
	case FrameData:
		return "data"
	case FrameDone:
		return "done"
	case FrameField:
		return "field"
	default:
		return "unknown"
	}
}

// Frame is one classified line of an event stream.
type Frame struct {
	Kind FrameKind

	// Name is the field name ("data", "event", "id", "retry", ...).
	// Empty for blank and comment lines.
	Name string

	// Value is the field value with the single optional leading space removed.
	// For comments it is the text after ':'.
	Value string
}

// ParseLine classifies a line that has already had its terminator removed.
func ParseLine(line string) Frame {
	if line == "" {
		return Frame{Kind: FrameBlank}
	}
	if line[0] == ':' {
		return Frame{Kind: FrameComment, Value: strings.TrimPrefix(line[1:], " ")}
	}

	// A line without a colon is a field whose value is the empty string.
	name, value, _ := strings.Cut(line, ":")
	value = strings.TrimPrefix(value, " ")

	if name == "data" {
		if strings.TrimSpace(value) == DoneSentinel {
			return Frame{Kind: FrameDone, Name: name, Value: DoneSentinel}
		}
		return Frame{Kind: FrameData, Name: name, Value: value}
	}
	return Frame{Kind: FrameField, Name: name, Value: value}
}
