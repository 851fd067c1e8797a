package openrouter

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/haowjy/meridian-stream-go"
	"github.com/haowjy/meridian-stream-go/sse"
	"github.com/samber/lo"
)

// Bridge re-encodes canonical events as OpenAI chat.completion.chunk objects.
//
// The encoding is lossy where the chunk format has no equivalent:
//   - block starts and stops for text and thinking produce no chunk, so
//     adjacent text blocks merge and empty blocks vanish
//   - thinking signatures are dropped
//   - stop_sequence is sent as "stop" and reads back as end_turn
type Bridge struct {
	id      string
	model   string
	created int64

	// canonical block index -> OpenAI tool_calls index
	toolIndex map[int]int
	nextTool  int

	started  bool
	finished bool
	failed   bool
}

// NewBridge returns a bridge for one stream.
func NewBridge() *Bridge {
	return &Bridge{
		created:   time.Now().Unix(),
		toolIndex: make(map[int]int),
	}
}

// Convert maps one canonical event to zero or more chunks.
func (b *Bridge) Convert(ev llmprovider.Event) ([]*ChatCompletionChunk, error) {
	switch e := ev.(type) {
	case llmprovider.MessageStart:
		b.id, b.model, b.started = e.ID, e.Model, true
		return []*ChatCompletionChunk{b.chunk(Delta{Role: lo.ToPtr("assistant"), Content: lo.ToPtr("")}, nil)}, nil

	case llmprovider.ContentBlockStart:
		if e.Kind != llmprovider.BlockKindToolUse {
			return nil, nil
		}
		ordinal := b.nextTool
		b.nextTool++
		b.toolIndex[e.Index] = ordinal
		return []*ChatCompletionChunk{b.chunk(Delta{ToolCalls: []ToolCallDelta{{
			Index:    lo.ToPtr(ordinal),
			ID:       e.ToolCallID,
			Type:     "function",
			Function: FunctionCallDelta{Name: e.ToolName},
		}}}, nil)}, nil

	case llmprovider.ContentBlockDelta:
		switch e.Kind {
		case llmprovider.BlockKindText:
			return []*ChatCompletionChunk{b.chunk(Delta{Content: lo.ToPtr(e.Text)}, nil)}, nil
		case llmprovider.BlockKindThinking:
			if e.Text == "" {
				return nil, nil
			}
			return []*ChatCompletionChunk{b.chunk(Delta{Reasoning: lo.ToPtr(e.Text)}, nil)}, nil
		case llmprovider.BlockKindToolUse:
			ordinal, ok := b.toolIndex[e.Index]
			if !ok {
				return nil, fmt.Errorf("bridge: tool delta for unopened block %d", e.Index)
			}
			return []*ChatCompletionChunk{b.chunk(Delta{ToolCalls: []ToolCallDelta{{
				Index:    lo.ToPtr(ordinal),
				Function: FunctionCallDelta{Arguments: e.PartialJSON},
			}}}, nil)}, nil
		}
		return nil, nil

	case llmprovider.ContentBlockStop:
		return nil, nil

	case llmprovider.MessageDelta:
		b.finished = true
		chunk := b.chunk(Delta{}, lo.ToPtr(e.StopReason.FinishReason()))
		chunk.Usage = usageFromTokenUsage(e.Usage)
		return []*ChatCompletionChunk{chunk}, nil

	case llmprovider.MessageStop:
		return nil, nil

	case llmprovider.ErrorEvent:
		b.failed = true
		chunk := &ChatCompletionChunk{
			ID:      b.id,
			Object:  "chat.completion.chunk",
			Created: b.created,
			Model:   b.model,
			Choices: []ChunkChoice{},
			Error:   chunkErrorFrom(e),
		}
		return []*ChatCompletionChunk{chunk}, nil
	}
	return nil, fmt.Errorf("bridge: unknown event %T", ev)
}

// Terminate returns the chunks needed to finish a stream that ended without
// a MessageDelta. It returns nothing for finished or failed streams.
func (b *Bridge) Terminate() []*ChatCompletionChunk {
	if b.finished || b.failed {
		return nil
	}
	b.finished = true
	var chunks []*ChatCompletionChunk
	if !b.started {
		start, _ := b.Convert(llmprovider.MessageStart{ID: b.id, Model: b.model})
		chunks = append(chunks, start...)
	}
	return append(chunks, b.chunk(Delta{}, lo.ToPtr(llmprovider.StopReasonEndTurn.FinishReason())))
}

// WriteStream drains stream and writes it as OpenAI SSE, ending with
// data: [DONE]. The terminal sequence is always complete.
func (b *Bridge) WriteStream(w io.Writer, stream llmprovider.EventStream) error {
	sw := sse.NewWriter(w)
	write := func(chunks []*ChatCompletionChunk) error {
		for _, c := range chunks {
			data, err := json.Marshal(c)
			if err != nil {
				return fmt.Errorf("bridge: marshal chunk: %w", err)
			}
			if err := sw.WriteData(data); err != nil {
				return err
			}
		}
		return nil
	}

	for ev := range llmprovider.Events(stream) {
		chunks, err := b.Convert(ev)
		if err != nil {
			return err
		}
		if err := write(chunks); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil && !b.failed {
		return err
	}
	if err := write(b.Terminate()); err != nil {
		return err
	}
	return sw.WriteDone()
}

func (b *Bridge) chunk(delta Delta, finishReason *string) *ChatCompletionChunk {
	return &ChatCompletionChunk{
		ID:      b.id,
		Object:  "chat.completion.chunk",
		Created: b.created,
		Model:   b.model,
		Choices: []ChunkChoice{{Index: 0, Delta: delta, FinishReason: finishReason}},
	}
}

func chunkErrorFrom(e llmprovider.ErrorEvent) *ChunkError {
	ce := &ChunkError{Message: e.Error(), Type: errorTypeFor(e.Kind)}
	if perr, ok := lo.ErrorsAs[*llmprovider.ProviderError](e.Err); ok {
		ce.Message = perr.Message
		if perr.StatusCode > 0 {
			ce.Code = perr.StatusCode
		}
	}
	return ce
}

// errorTypeFor names an ErrorKind with OpenAI error types.
func errorTypeFor(kind llmprovider.ErrorKind) string {
	switch kind {
	case llmprovider.ErrorKindRateLimit:
		return "rate_limit_exceeded"
	case llmprovider.ErrorKindAuth:
		return "authentication_error"
	case llmprovider.ErrorKindInvalidRequest:
		return "invalid_request_error"
	case llmprovider.ErrorKindServiceUnavailable:
		return "service_unavailable"
	case llmprovider.ErrorKindNetwork:
		return "timeout_error"
	case llmprovider.ErrorKindServerOverloaded:
		return "server_error"
	default:
		return ""
	}
}
