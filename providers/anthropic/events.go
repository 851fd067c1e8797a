package anthropic

import (
	"encoding/json"

	"github.com/haowjy/meridian-stream-go"
)

// Wire event type names of the Messages streaming API.
const (
	typeMessageStart      = "message_start"
	typeContentBlockStart = "content_block_start"
	typeContentBlockDelta = "content_block_delta"
	typeContentBlockStop  = "content_block_stop"
	typeMessageDelta      = "message_delta"
	typeMessageStop       = "message_stop"
	typePing              = "ping"
	typeError             = "error"
)

// Content block and delta type names.
const (
	blockText             = "text"
	blockThinking         = "thinking"
	blockToolUse          = "tool_use"
	deltaText             = "text_delta"
	deltaThinking         = "thinking_delta"
	deltaSignature        = "signature_delta"
	deltaInputJSON        = "input_json_delta"
	deltaCitations        = "citations_delta"
	blockRedactedThinking = "redacted_thinking"
)

// Event is one decoded Anthropic stream event. The set is closed:
// MessageStartEvent, ContentBlockStartEvent, ContentBlockDeltaEvent,
// ContentBlockStopEvent, MessageDeltaEvent, MessageStopEvent, PingEvent and
// ErrorEvent.
type Event interface {
	WireType() string
}

// MessageStartEvent opens the message. Usage holds the prompt token count.
type MessageStartEvent struct {
	Type    string      `json:"type"`
	Message MessageInfo `json:"message"`
}

// MessageInfo is the message object carried by message_start.
type MessageInfo struct {
	ID           string  `json:"id"`
	Type         string  `json:"type"`
	Role         string  `json:"role"`
	Model        string  `json:"model"`
	Content      []any   `json:"content"`
	StopReason   *string `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
	Usage        *Usage  `json:"usage,omitempty"`
}

// ContentBlockStartEvent opens a content block.
type ContentBlockStartEvent struct {
	Type         string       `json:"type"`
	Index        int          `json:"index"`
	ContentBlock ContentBlock `json:"content_block"`
}

// ContentBlock is the initial state of a block. Text and thinking blocks
// start empty; tool_use blocks carry id, name and an empty input.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      *string         `json:"text,omitempty"`
	Thinking  *string         `json:"thinking,omitempty"`
	Signature *string         `json:"signature,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
}

// ContentBlockDeltaEvent extends the block at Index.
type ContentBlockDeltaEvent struct {
	Type  string     `json:"type"`
	Index int        `json:"index"`
	Delta BlockDelta `json:"delta"`
}

// BlockDelta is one increment. Exactly one content field is set, per Type.
type BlockDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	Signature   string `json:"signature,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

// ContentBlockStopEvent closes the block at Index.
type ContentBlockStopEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

// MessageDeltaEvent carries the stop reason and the cumulative output usage.
type MessageDeltaEvent struct {
	Type  string       `json:"type"`
	Delta MessageDelta `json:"delta"`
	Usage *Usage       `json:"usage,omitempty"`
}

// MessageDelta is the message-level change in a message_delta event.
type MessageDelta struct {
	StopReason   *string `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
}

// MessageStopEvent closes the message.
type MessageStopEvent struct {
	Type string `json:"type"`
}

// PingEvent is a keep-alive.
type PingEvent struct {
	Type string `json:"type"`
}

// ErrorEvent reports a failure after the stream started, such as overloaded_error.
type ErrorEvent struct {
	Type  string    `json:"type"`
	Error ErrorInfo `json:"error"`
}

// ErrorInfo is the error object of an error event or error response.
type ErrorInfo struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (e *MessageStartEvent) WireType() string      { return typeMessageStart }
func (e *ContentBlockStartEvent) WireType() string { return typeContentBlockStart }
func (e *ContentBlockDeltaEvent) WireType() string { return typeContentBlockDelta }
func (e *ContentBlockStopEvent) WireType() string  { return typeContentBlockStop }
func (e *MessageDeltaEvent) WireType() string      { return typeMessageDelta }
func (e *MessageStopEvent) WireType() string       { return typeMessageStop }
func (e *PingEvent) WireType() string              { return typePing }
func (e *ErrorEvent) WireType() string             { return typeError }

// Usage is Anthropic's token usage block.
type Usage struct {
	InputTokens              *int64 `json:"input_tokens,omitempty"`
	OutputTokens             *int64 `json:"output_tokens,omitempty"`
	CacheCreationInputTokens *int64 `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     *int64 `json:"cache_read_input_tokens,omitempty"`
}

// TokenUsage converts the wire block. Nil-safe.
func (u *Usage) TokenUsage() *llmprovider.TokenUsage {
	if u == nil {
		return nil
	}
	return &llmprovider.TokenUsage{
		PromptTokens:        llmprovider.OptionalCount(u.InputTokens),
		CompletionTokens:    llmprovider.OptionalCount(u.OutputTokens),
		CacheCreationTokens: llmprovider.OptionalCount(u.CacheCreationInputTokens),
		CacheReadTokens:     llmprovider.OptionalCount(u.CacheReadInputTokens),
	}
}

// usageFromTokenUsage builds the wire block. output_tokens is always present,
// as Anthropic clients require it on message_delta.
func usageFromTokenUsage(u *llmprovider.TokenUsage) *Usage {
	zero := int64(0)
	wire := &Usage{OutputTokens: &zero}
	if u == nil {
		return wire
	}
	wire.InputTokens = toInt64(u.PromptTokens)
	if u.CompletionTokens != nil {
		wire.OutputTokens = toInt64(u.CompletionTokens)
	}
	wire.CacheCreationInputTokens = toInt64(u.CacheCreationTokens)
	wire.CacheReadInputTokens = toInt64(u.CacheReadTokens)
	return wire
}

func toInt64(n *int) *int64 {
	if n == nil {
		return nil
	}
	v := int64(*n)
	return &v
}
