package llmprovider

// EventType names a canonical stream event. The values match the Anthropic
// Messages wire names so logs read the same on both sides of a bridge.
type EventType string

const (
	EventMessageStart      EventType = "message_start"
	EventContentBlockStart EventType = "content_block_start"
	EventContentBlockDelta EventType = "content_block_delta"
	EventContentBlockStop  EventType = "content_block_stop"
	EventMessageDelta      EventType = "message_delta"
	EventMessageStop       EventType = "message_stop"
	EventError             EventType = "error"
)

// Event is a vendor-neutral stream event.
//
// The set of implementations is closed: MessageStart, ContentBlockStart,
// ContentBlockDelta, ContentBlockStop, MessageDelta, MessageStop and ErrorEvent.
// Consumers switch on the concrete type:
//
//	for stream.Next() {
//	  switch ev := stream.Current().(type) {
//	  case llmprovider.ContentBlockDelta:
//	    fmt.Print(ev.Text)
//	  case llmprovider.ErrorEvent:
//	    return ev.Err
//	  }
//	}
type Event interface {
	EventType() EventType
	isEvent()
}

// BlockKind identifies what a content block holds.
type BlockKind string

const (
	BlockKindText     BlockKind = "text"
	BlockKindThinking BlockKind = "thinking"
	BlockKindToolUse  BlockKind = "tool_use"
)

// MessageStart opens a stream. It is emitted exactly once, before any block.
type MessageStart struct {
	ID    string
	Model string
}

// ContentBlockStart opens the block at Index.
type ContentBlockStart struct {
	Index int
	Kind  BlockKind

	// Set for tool_use blocks only.
	ToolCallID string
	ToolName   string
}

// ContentBlockDelta carries an increment for the open block. Text is used by
// text and thinking blocks, PartialJSON by tool_use blocks. Signature carries
// the verification signature some vendors attach to thinking blocks.
type ContentBlockDelta struct {
	Index       int
	Kind        BlockKind
	Text        string
	PartialJSON string
	Signature   string
}

// ContentBlockStop closes the block at Index. Block holds the accumulated
// content; for tool calls the arguments have been parsed.
type ContentBlockStop struct {
	Index int
	Block *CompletedBlock
}

// MessageDelta reports why generation stopped and the final token usage.
// Usage is nil when the vendor never reported it.
type MessageDelta struct {
	StopReason   StopReason
	StopSequence string
	Usage        *TokenUsage
}

// MessageStop closes a stream. It is emitted exactly once, last.
type MessageStop struct{}

// ErrorEvent terminates a stream that failed. No events follow it.
type ErrorEvent struct {
	Kind ErrorKind
	Err  error
}

func (MessageStart) EventType() EventType      { return EventMessageStart }
func (ContentBlockStart) EventType() EventType { return EventContentBlockStart }
func (ContentBlockDelta) EventType() EventType { return EventContentBlockDelta }
func (ContentBlockStop) EventType() EventType  { return EventContentBlockStop }
func (MessageDelta) EventType() EventType      { return EventMessageDelta }
func (MessageStop) EventType() EventType       { return EventMessageStop }
func (ErrorEvent) EventType() EventType        { return EventError }

func (MessageStart) isEvent()      {}
func (ContentBlockStart) isEvent() {}
func (ContentBlockDelta) isEvent() {}
func (ContentBlockStop) isEvent()  {}
func (MessageDelta) isEvent()      {}
func (MessageStop) isEvent()       {}
func (ErrorEvent) isEvent()        {}

// Error implements the error interface so an ErrorEvent can be returned directly.
func (e ErrorEvent) Error() string {
	if e.Err == nil {
		return "stream error (" + e.Kind.String() + ")"
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e ErrorEvent) Unwrap() error {
	return e.Err
}

// CompletedBlock is a closed content block.
type CompletedBlock struct {
	Index int
	Kind  BlockKind

	// Text holds the content of text and thinking blocks.
	Text string

	// Signature is the thinking block signature, if the vendor sent one.
	Signature string

	// ToolCall is set for tool_use blocks.
	ToolCall *ToolCall
}

// ToolCall is a fully received tool invocation.
type ToolCall struct {
	ID   string
	Name string

	// Arguments is the raw JSON text exactly as accumulated from the stream.
	Arguments string

	// Input is Arguments decoded.
	Input map[string]any

	// SchemaErrors lists violations of the tool's declared parameter schema.
	// Empty when the input is valid or the tool was not declared in the request.
	SchemaErrors []string
}
