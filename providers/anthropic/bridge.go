package anthropic

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/haowjy/meridian-stream-go"
	"github.com/haowjy/meridian-stream-go/sse"
	"github.com/samber/lo"
)

// Bridge re-encodes canonical events as Anthropic Messages stream events.
//
// The encoding is lossy in a few places:
//   - message_start always reports zero usage; the counts arrive on message_delta
//   - a MessageDelta without usage is sent with output_tokens 0
//   - StopReasonOther is sent as end_turn
//   - ErrorKindOther is sent as api_error and reads back as an overloaded server
type Bridge struct {
	started   bool
	open      bool
	openIndex int
	finished  bool
	stopped   bool
	failed    bool
}

// NewBridge returns a bridge for one stream.
func NewBridge() *Bridge {
	return &Bridge{}
}

// Convert maps one canonical event to its wire events.
func (b *Bridge) Convert(ev llmprovider.Event) ([]Event, error) {
	switch e := ev.(type) {
	case llmprovider.MessageStart:
		b.started = true
		zero := int64(0)
		return []Event{&MessageStartEvent{
			Type: typeMessageStart,
			Message: MessageInfo{
				ID:      e.ID,
				Type:    "message",
				Role:    "assistant",
				Model:   e.Model,
				Content: []any{},
				Usage:   &Usage{InputTokens: &zero, OutputTokens: &zero},
			},
		}}, nil

	case llmprovider.ContentBlockStart:
		b.open, b.openIndex = true, e.Index
		start := &ContentBlockStartEvent{Type: typeContentBlockStart, Index: e.Index}
		switch e.Kind {
		case llmprovider.BlockKindText:
			start.ContentBlock = ContentBlock{Type: blockText, Text: lo.ToPtr("")}
		case llmprovider.BlockKindThinking:
			start.ContentBlock = ContentBlock{Type: blockThinking, Thinking: lo.ToPtr(""), Signature: lo.ToPtr("")}
		case llmprovider.BlockKindToolUse:
			start.ContentBlock = ContentBlock{Type: blockToolUse, ID: e.ToolCallID, Name: e.ToolName, Input: json.RawMessage(`{}`)}
		default:
			return nil, fmt.Errorf("bridge: unknown block kind %q", e.Kind)
		}
		return []Event{start}, nil

	case llmprovider.ContentBlockDelta:
		return b.deltas(e), nil

	case llmprovider.ContentBlockStop:
		b.open = false
		return []Event{&ContentBlockStopEvent{Type: typeContentBlockStop, Index: e.Index}}, nil

	case llmprovider.MessageDelta:
		b.finished = true
		delta := MessageDelta{StopReason: lo.ToPtr(wireStopReason(e.StopReason))}
		if e.StopSequence != "" {
			delta.StopSequence = lo.ToPtr(e.StopSequence)
		}
		return []Event{&MessageDeltaEvent{Type: typeMessageDelta, Delta: delta, Usage: usageFromTokenUsage(e.Usage)}}, nil

	case llmprovider.MessageStop:
		b.stopped = true
		return []Event{&MessageStopEvent{Type: typeMessageStop}}, nil

	case llmprovider.ErrorEvent:
		b.failed = true
		info := ErrorInfo{Type: errorTypeFor(e.Kind), Message: e.Error()}
		if perr, ok := lo.ErrorsAs[*llmprovider.ProviderError](e.Err); ok {
			info.Message = perr.Message
		}
		return []Event{&ErrorEvent{Type: typeError, Error: info}}, nil
	}
	return nil, fmt.Errorf("bridge: unknown event %T", ev)
}

func (b *Bridge) deltas(e llmprovider.ContentBlockDelta) []Event {
	delta := func(d BlockDelta) Event {
		return &ContentBlockDeltaEvent{Type: typeContentBlockDelta, Index: e.Index, Delta: d}
	}
	switch e.Kind {
	case llmprovider.BlockKindText:
		return []Event{delta(BlockDelta{Type: deltaText, Text: e.Text})}
	case llmprovider.BlockKindThinking:
		var out []Event
		if e.Text != "" {
			out = append(out, delta(BlockDelta{Type: deltaThinking, Thinking: e.Text}))
		}
		if e.Signature != "" {
			out = append(out, delta(BlockDelta{Type: deltaSignature, Signature: e.Signature}))
		}
		return out
	case llmprovider.BlockKindToolUse:
		return []Event{delta(BlockDelta{Type: deltaInputJSON, PartialJSON: e.PartialJSON})}
	}
	return nil
}

// Terminate returns the events that complete a stream which ended without
// message_stop: the missing stop for an open block, a message_delta with
// zero output tokens and message_stop. It returns nothing for finished or
// failed streams.
func (b *Bridge) Terminate() []Event {
	if b.stopped || b.failed {
		return nil
	}
	var out []Event
	if !b.started {
		start, _ := b.Convert(llmprovider.MessageStart{})
		out = append(out, start...)
	}
	if b.open {
		out = append(out, &ContentBlockStopEvent{Type: typeContentBlockStop, Index: b.openIndex})
		b.open = false
	}
	if !b.finished {
		more, _ := b.Convert(llmprovider.MessageDelta{StopReason: llmprovider.StopReasonEndTurn})
		out = append(out, more...)
	}
	stop, _ := b.Convert(llmprovider.MessageStop{})
	return append(out, stop...)
}

// WriteStream drains stream and writes it as Anthropic SSE. The terminal
// sequence is always complete unless the stream failed with an ErrorEvent.
func (b *Bridge) WriteStream(w io.Writer, stream llmprovider.EventStream) error {
	sw := sse.NewWriter(w)
	write := func(events []Event) error {
		for _, ev := range events {
			data, err := json.Marshal(ev)
			if err != nil {
				return fmt.Errorf("bridge: marshal %s: %w", ev.WireType(), err)
			}
			if err := sw.WriteEvent(ev.WireType(), data); err != nil {
				return err
			}
		}
		return nil
	}

	for ev := range llmprovider.Events(stream) {
		events, err := b.Convert(ev)
		if err != nil {
			return err
		}
		if err := write(events); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil && !b.failed {
		return err
	}
	return write(b.Terminate())
}

func wireStopReason(r llmprovider.StopReason) string {
	if r == llmprovider.StopReasonOther || r == "" {
		return string(llmprovider.StopReasonEndTurn)
	}
	return string(r)
}

// errorTypeFor names an ErrorKind with Anthropic error types.
func errorTypeFor(kind llmprovider.ErrorKind) string {
	switch kind {
	case llmprovider.ErrorKindRateLimit:
		return "rate_limit_error"
	case llmprovider.ErrorKindAuth:
		return "authentication_error"
	case llmprovider.ErrorKindInvalidRequest:
		return "invalid_request_error"
	case llmprovider.ErrorKindServerOverloaded:
		return "overloaded_error"
	case llmprovider.ErrorKindServiceUnavailable:
		return "service_unavailable"
	case llmprovider.ErrorKindNetwork:
		return "timeout_error"
	default:
		return "api_error"
	}
}
