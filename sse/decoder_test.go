package sse

import (
	"errors"
	"reflect"
	"testing"
)

// decodeAll feeds chunks one at a time and collects every frame, flushing the
// residual at the end.
func decodeAll(t *testing.T, chunks ...[]byte) []Frame {
	t.Helper()
	var d Decoder
	var frames []Frame
	for _, chunk := range chunks {
		d.Feed(chunk)
		for {
			frame, ok, err := d.NextFrame()
			if err != nil {
				t.Fatalf("NextFrame() error = %v", err)
			}
			if !ok {
				break
			}
			frames = append(frames, frame)
		}
	}
	frame, ok, err := d.Flush()
	if err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if ok {
		frames = append(frames, frame)
	}
	return frames
}

func TestDecoder_SplitPayload(t *testing.T) {
	var d Decoder
	d.Feed([]byte(`data: {"type":"message_stop"`))

	if _, ok, _ := d.NextFrame(); ok {
		t.Fatal("expected no frame before the line terminator arrives")
	}

	d.Feed([]byte("}\n\n"))

	frame, ok, err := d.NextFrame()
	if err != nil || !ok {
		t.Fatalf("NextFrame() = %v, %v, %v", frame, ok, err)
	}
	want := Frame{Kind: FrameData, Name: "data", Value: `{"type":"message_stop"}`}
	if frame != want {
		t.Errorf("frame = %+v, want %+v", frame, want)
	}

	frame, ok, _ = d.NextFrame()
	if !ok || frame.Kind != FrameBlank {
		t.Errorf("expected blank separator, got %+v (ok=%v)", frame, ok)
	}
	if _, ok, _ := d.NextFrame(); ok {
		t.Error("expected buffer to be drained")
	}
}

func TestDecoder_ChunkBoundaryInvariance(t *testing.T) {
	input := []byte(": keep-alive\r\n" +
		"event: content_block_delta\n" +
		"id: 42\n" +
		"data: {\"type\":\"content_block_delta\",\"delta\":{\"text\":\"héllo wörld\"}}\n" +
		"\n" +
		"data: {\"a\":1}\r\n\r\n" +
		"data: [DONE]\n\n")

	want := decodeAll(t, input)
	if len(want) != 9 {
		t.Fatalf("single-chunk decode produced %d frames, want 9: %+v", len(want), want)
	}

	for i := 0; i <= len(input); i++ {
		got := decodeAll(t, input[:i], input[i:])
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("split at %d:\n got %+v\nwant %+v", i, got, want)
		}
	}

	// One byte per feed.
	chunks := make([][]byte, len(input))
	for i := range input {
		chunks[i] = input[i : i+1]
	}
	if got := decodeAll(t, chunks...); !reflect.DeepEqual(got, want) {
		t.Fatalf("byte-at-a-time decode:\n got %+v\nwant %+v", got, want)
	}
}

func TestDecoder_Classification(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Frame
	}{
		{"blank", "", Frame{Kind: FrameBlank}},
		{"comment", ": OPENROUTER PROCESSING", Frame{Kind: FrameComment, Value: "OPENROUTER PROCESSING"}},
		{"bare comment", ":", Frame{Kind: FrameComment}},
		{"data", `data: {"x":1}`, Frame{Kind: FrameData, Name: "data", Value: `{"x":1}`}},
		{"data without space", `data:{"x":1}`, Frame{Kind: FrameData, Name: "data", Value: `{"x":1}`}},
		{"done", "data: [DONE]", Frame{Kind: FrameDone, Name: "data", Value: DoneSentinel}},
		{"event", "event: message_start", Frame{Kind: FrameField, Name: "event", Value: "message_start"}},
		{"id", "id: 7", Frame{Kind: FrameField, Name: "id", Value: "7"}},
		{"retry", "retry: 3000", Frame{Kind: FrameField, Name: "retry", Value: "3000"}},
		{"field without colon", "data", Frame{Kind: FrameData, Name: "data", Value: ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseLine(tt.line); got != tt.want {
				t.Errorf("ParseLine(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
		})
	}
}

func TestDecoder_FlushResidual(t *testing.T) {
	frames := decodeAll(t, []byte(`data: {"type":"message_stop"}`))
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if frames[0].Kind != FrameData || frames[0].Value != `{"type":"message_stop"}` {
		t.Errorf("unexpected frame %+v", frames[0])
	}
}

func TestDecoder_InvalidUTF8(t *testing.T) {
	var d Decoder
	d.Feed([]byte("data: \xff\xfe\n"))

	_, ok, err := d.NextFrame()
	if ok {
		t.Fatal("expected no frame for invalid UTF-8")
	}
	if !errors.Is(err, ErrInvalidUTF8) {
		t.Fatalf("error = %v, want ErrInvalidUTF8", err)
	}
	if d.Buffered() != 0 {
		t.Errorf("bad line should be consumed, %d bytes left", d.Buffered())
	}
}
