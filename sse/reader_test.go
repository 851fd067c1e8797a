package sse

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
	"time"
)

func readAll(t *testing.T, r *Reader) []string {
	t.Helper()
	var payloads []string
	for {
		payload, err := r.Next()
		if errors.Is(err, io.EOF) {
			return payloads
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		payloads = append(payloads, payload)
	}
}

func TestReader_Payloads(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "single event",
			input: "data: {\"a\":1}\n\n",
			want:  []string{`{"a":1}`},
		},
		{
			name:  "comments and fields are not surfaced",
			input: ": ping\nevent: message_start\nid: 1\nretry: 10\ndata: {\"a\":1}\n\n",
			want:  []string{`{"a":1}`},
		},
		{
			name:  "multi-line data is joined",
			input: "data: {\"a\":\ndata: 1}\n\n",
			want:  []string{"{\"a\":\n1}"},
		},
		{
			name:  "done ends the stream",
			input: "data: {\"a\":1}\n\ndata: [DONE]\n\ndata: {\"b\":2}\n\n",
			want:  []string{`{"a":1}`},
		},
		{
			name:  "only done",
			input: "data: [DONE]\n\n",
			want:  nil,
		},
		{
			name:  "missing trailing newline",
			input: "data: {\"a\":1}\n\ndata: {\"b\":2}",
			want:  []string{`{"a":1}`, `{"b":2}`},
		},
		{
			name:  "crlf line endings",
			input: "data: {\"a\":1}\r\n\r\n",
			want:  []string{`{"a":1}`},
		},
		{
			name:  "empty stream",
			input: "",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := readAll(t, NewReader(strings.NewReader(tt.input)))
			if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
				t.Errorf("payloads = %q, want %q", got, tt.want)
			}

			// Same result one byte at a time.
			got = readAll(t, NewReader(iotest.OneByteReader(strings.NewReader(tt.input))))
			if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
				t.Errorf("one-byte payloads = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReader_DelayedSecondWrite(t *testing.T) {
	pr, pw := io.Pipe()
	go func() {
		_, _ = pw.Write([]byte(`data: {"type":"message_stop"`))
		time.Sleep(20 * time.Millisecond)
		_, _ = pw.Write([]byte("}\n\n"))
		_ = pw.Close()
	}()

	got := readAll(t, NewReader(pr))
	if len(got) != 1 || got[0] != `{"type":"message_stop"}` {
		t.Errorf("payloads = %q", got)
	}
}

// failAfter serves data and then fails every later read.
type failAfter struct {
	data string
	err  error
	read bool
}

func (f *failAfter) Read(p []byte) (int, error) {
	if !f.read {
		f.read = true
		return copy(p, f.data), nil
	}
	return 0, f.err
}

func TestReader_DoneStopsReading(t *testing.T) {
	src := &failAfter{data: "data: [DONE]\n\n", err: errors.New("read after done")}
	r := NewReader(src)

	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("Next() error = %v, want io.EOF", err)
	}
	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("second Next() error = %v, want io.EOF", err)
	}
}

func TestReader_TransportError(t *testing.T) {
	boom := errors.New("connection reset")
	r := NewReader(&failAfter{data: "data: {\"a\":1}\n\ndata: {\"b\"", err: boom})

	payload, err := r.Next()
	if err != nil || payload != `{"a":1}` {
		t.Fatalf("Next() = %q, %v", payload, err)
	}

	_, err = r.Next()
	if !errors.Is(err, boom) {
		t.Fatalf("Next() error = %v, want wrapped %v", err, boom)
	}
	if _, again := r.Next(); !errors.Is(again, boom) {
		t.Errorf("error should be sticky, got %v", again)
	}
}

func TestReader_InvalidUTF8(t *testing.T) {
	r := NewReader(strings.NewReader("data: \xc3\x28\n\n"))
	if _, err := r.Next(); !errors.Is(err, ErrInvalidUTF8) {
		t.Fatalf("Next() error = %v, want ErrInvalidUTF8", err)
	}
}

func TestReader_LastEventFields(t *testing.T) {
	r := NewReader(strings.NewReader("event: message_delta\nid: evt_9\ndata: {}\n\n"))
	if _, err := r.Next(); err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if r.LastEventType() != "message_delta" {
		t.Errorf("LastEventType() = %q", r.LastEventType())
	}
	if r.LastEventID() != "evt_9" {
		t.Errorf("LastEventID() = %q", r.LastEventID())
	}
}
