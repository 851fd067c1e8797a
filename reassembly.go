package llmprovider

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// StreamPhase is the lifecycle position of a StreamState.
type StreamPhase int

const (
	// PhaseUnstarted: no content seen yet, nothing emitted.
	PhaseUnstarted StreamPhase = iota
	// PhaseStreaming: MessageStart emitted, blocks may open and close.
	PhaseStreaming
	// PhaseFinishing: content ended, MessageDelta and MessageStop pending
	// (OpenAI-compatible vendors send usage after finish_reason).
	PhaseFinishing
	// PhaseTerminated: MessageStop or an error was emitted. Nothing more is accepted.
	PhaseTerminated
)

func (p StreamPhase) String() string {
	switch p {
	case PhaseUnstarted:
		return "unstarted"
	case PhaseStreaming:
		return "streaming"
	case PhaseFinishing:
		return "finishing"
	case PhaseTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// StateConfig configures a StreamState.
type StateConfig struct {
	// Provider names the vendor in errors and logs.
	Provider string

	// Tools declared on the request. Completed tool calls are checked against
	// the matching tool's parameter schema.
	Tools []Tool

	// Logger receives debug and warning output. Nil disables logging.
	Logger *zerolog.Logger
}

// blockAccumulator holds the content of the one open block.
type blockAccumulator struct {
	index     int
	kind      BlockKind
	text      strings.Builder
	signature string

	toolID      string
	toolName    string
	partialJSON strings.Builder
}

// StreamState is the reassembly state of one in-flight stream. Vendor
// reassemblers translate their events into calls on it; it assigns block
// indices, enforces event ordering and produces canonical events.
//
// A StreamState is not safe for concurrent use and is never shared between streams.
type StreamState struct {
	provider string
	logger   zerolog.Logger
	tools    map[string]Tool

	phase     StreamPhase
	messageID string
	model     string
	nextIndex int
	open      *blockAccumulator

	stopReason   StopReason
	stopSequence string
	usage        *TokenUsage
}

// NewStreamState returns an Unstarted state.
func NewStreamState(cfg StateConfig) *StreamState {
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	tools := make(map[string]Tool, len(cfg.Tools))
	for _, t := range cfg.Tools {
		tools[t.Function.Name] = t
	}
	return &StreamState{
		provider: cfg.Provider,
		logger:   logger.With().Str("provider", cfg.Provider).Logger(),
		tools:    tools,
	}
}

// Phase returns the current phase.
func (s *StreamState) Phase() StreamPhase { return s.phase }

// OpenKind returns the kind of the open block, or "" when none is open.
func (s *StreamState) OpenKind() BlockKind {
	if s.open == nil {
		return ""
	}
	return s.open.kind
}

// Usage returns the usage observed so far.
func (s *StreamState) Usage() *TokenUsage { return s.usage }

// Observe records the message id and model. The first non-empty value of
// each wins; metadata frames may arrive before any content.
func (s *StreamState) Observe(id, model string) {
	if s.messageID == "" {
		s.messageID = id
	}
	if s.model == "" {
		s.model = model
	}
}

// ObserveUsage folds a vendor usage report into the running total. Reported
// counts replace earlier ones, since vendors resend cumulative values.
func (s *StreamState) ObserveUsage(u *TokenUsage) {
	if u == nil {
		return
	}
	s.usage = s.usage.Overlay(u)
}

// Begin moves an Unstarted stream to Streaming and emits MessageStart.
// It emits nothing in any other phase.
func (s *StreamState) Begin() []Event {
	if s.phase != PhaseUnstarted {
		return nil
	}
	if s.messageID == "" {
		s.messageID = "msg_" + uuid.NewString()
	}
	s.phase = PhaseStreaming
	s.logger.Debug().Str("message_id", s.messageID).Str("model", s.model).Msg("stream started")
	return []Event{MessageStart{ID: s.messageID, Model: s.model}}
}

// StartBlock closes any open block and opens a new text or thinking block.
func (s *StreamState) StartBlock(kind BlockKind) ([]Event, error) {
	if kind == BlockKindToolUse {
		return s.StartToolCall("", "")
	}
	events, err := s.prepareBlock()
	if err != nil {
		return events, err
	}
	return append(events, s.openBlock(kind, "", "")), nil
}

// StartToolCall closes any open block and opens a tool_use block. A missing
// id is synthesized.
func (s *StreamState) StartToolCall(id, name string) ([]Event, error) {
	events, err := s.prepareBlock()
	if err != nil {
		return events, err
	}
	if id == "" {
		id = "call_" + uuid.NewString()
	}
	return append(events, s.openBlock(BlockKindToolUse, id, name)), nil
}

// AppendText appends to the open text block, opening one if needed.
// Empty text emits nothing.
func (s *StreamState) AppendText(text string) ([]Event, error) {
	return s.appendContent(BlockKindText, text)
}

// AppendThinking appends to the open thinking block, opening one if needed.
func (s *StreamState) AppendThinking(text string) ([]Event, error) {
	return s.appendContent(BlockKindThinking, text)
}

// AppendSignature attaches a signature to the open thinking block.
func (s *StreamState) AppendSignature(sig string) ([]Event, error) {
	if err := s.checkAccepting(); err != nil {
		return nil, err
	}
	if s.open == nil || s.open.kind != BlockKindThinking {
		return nil, s.Violation("signature outside a thinking block")
	}
	if sig == "" {
		return nil, nil
	}
	s.open.signature += sig
	return []Event{ContentBlockDelta{Index: s.open.index, Kind: BlockKindThinking, Signature: sig}}, nil
}

// AppendToolInput appends a fragment of tool-call arguments to the open
// tool_use block. Fragments are not validated; the accumulated JSON is
// parsed when the block closes.
func (s *StreamState) AppendToolInput(fragment string) ([]Event, error) {
	if err := s.checkAccepting(); err != nil {
		return nil, err
	}
	if s.open == nil || s.open.kind != BlockKindToolUse {
		return nil, s.Violation("tool input outside a tool_use block")
	}
	if fragment == "" {
		return nil, nil
	}
	s.open.partialJSON.WriteString(fragment)
	return []Event{ContentBlockDelta{Index: s.open.index, Kind: BlockKindToolUse, PartialJSON: fragment}}, nil
}

// CloseBlock closes the open block, if any, and emits ContentBlockStop.
// Tool-call arguments are parsed here. Arguments that are not a JSON object
// fail the stream with an InvalidEventDataError and no stop is emitted.
func (s *StreamState) CloseBlock() ([]Event, error) {
	acc := s.open
	if acc == nil {
		return nil, nil
	}
	s.open = nil

	block := &CompletedBlock{Index: acc.index, Kind: acc.kind}
	switch acc.kind {
	case BlockKindToolUse:
		call, err := s.completeToolCall(acc)
		if err != nil {
			s.phase = PhaseTerminated
			return nil, err
		}
		block.ToolCall = call
	default:
		block.Text = acc.text.String()
		block.Signature = acc.signature
	}

	s.logger.Debug().Int("index", acc.index).Str("kind", string(acc.kind)).Msg("block closed")
	return []Event{ContentBlockStop{Index: acc.index, Block: block}}, nil
}

// EndContent records the stop reason and closes the open block. The stream
// moves to Finishing; Complete emits the final MessageDelta and MessageStop.
// A stream that ends before any content still gets its MessageStart here.
func (s *StreamState) EndContent(reason StopReason, stopSequence string) ([]Event, error) {
	if err := s.checkAccepting(); err != nil {
		return nil, err
	}
	events := s.Begin()
	closed, err := s.CloseBlock()
	events = append(events, closed...)
	if err != nil {
		return events, err
	}
	s.stopReason = reason
	s.stopSequence = stopSequence
	s.phase = PhaseFinishing
	return events, nil
}

// Complete emits MessageDelta and MessageStop for a Finishing stream, folding
// in any final usage report.
func (s *StreamState) Complete(usage *TokenUsage) ([]Event, error) {
	if s.phase != PhaseFinishing {
		return nil, s.Violation(fmt.Sprintf("message stop while %s", s.phase))
	}
	s.ObserveUsage(usage)
	s.phase = PhaseTerminated
	s.logger.Debug().
		Str("stop_reason", string(s.stopReason)).
		Int("prompt_tokens", s.usage.Prompt()).
		Int("completion_tokens", s.usage.Completion()).
		Msg("stream finished")
	return []Event{
		MessageDelta{StopReason: s.stopReason, StopSequence: s.stopSequence, Usage: s.usage},
		MessageStop{},
	}, nil
}

// Finish is EndContent followed by Complete.
func (s *StreamState) Finish(reason StopReason, stopSequence string, usage *TokenUsage) ([]Event, error) {
	events, err := s.EndContent(reason, stopSequence)
	if err != nil {
		return events, err
	}
	done, err := s.Complete(usage)
	return append(events, done...), err
}

// End is called when the transport reaches EOF. A Finishing stream is
// completed without further usage. A stream still Streaming was cut off: the
// open block is discarded and an unexpected-EOF network error is returned.
func (s *StreamState) End() ([]Event, error) {
	switch s.phase {
	case PhaseFinishing:
		return s.Complete(nil)
	case PhaseStreaming:
		s.Abort()
		return nil, NewNetworkError(s.provider, fmt.Errorf("stream ended before message stop: %w", io.ErrUnexpectedEOF))
	default:
		return nil, nil
	}
}

// Abort discards the open block and terminates without emitting anything.
func (s *StreamState) Abort() {
	s.open = nil
	s.phase = PhaseTerminated
}

// Violation terminates the stream and returns a ProtocolError describing an
// out-of-order vendor event.
func (s *StreamState) Violation(detail string) error {
	s.logger.Warn().Str("phase", s.phase.String()).Msg("protocol violation: " + detail)
	s.Abort()
	return &ProtocolError{Provider: s.provider, Detail: detail}
}

func (s *StreamState) checkAccepting() error {
	switch s.phase {
	case PhaseFinishing:
		return s.Violation("content after finish")
	case PhaseTerminated:
		return s.Violation("event after message stop")
	}
	return nil
}

func (s *StreamState) appendContent(kind BlockKind, text string) ([]Event, error) {
	if err := s.checkAccepting(); err != nil {
		return nil, err
	}
	if text == "" {
		return nil, nil
	}

	var events []Event
	if s.open == nil || s.open.kind != kind {
		opened, err := s.StartBlock(kind)
		events = opened
		if err != nil {
			return events, err
		}
	}
	s.open.text.WriteString(text)
	return append(events, ContentBlockDelta{Index: s.open.index, Kind: kind, Text: text}), nil
}

// prepareBlock makes sure MessageStart is out and no block is open.
func (s *StreamState) prepareBlock() ([]Event, error) {
	if err := s.checkAccepting(); err != nil {
		return nil, err
	}
	events := s.Begin()
	closed, err := s.CloseBlock()
	return append(events, closed...), err
}

func (s *StreamState) openBlock(kind BlockKind, toolID, toolName string) Event {
	s.open = &blockAccumulator{
		index:    s.nextIndex,
		kind:     kind,
		toolID:   toolID,
		toolName: toolName,
	}
	s.nextIndex++
	s.logger.Debug().Int("index", s.open.index).Str("kind", string(kind)).Msg("block opened")
	return ContentBlockStart{Index: s.open.index, Kind: kind, ToolCallID: toolID, ToolName: toolName}
}

func (s *StreamState) completeToolCall(acc *blockAccumulator) (*ToolCall, error) {
	args := acc.partialJSON.String()
	if strings.TrimSpace(args) == "" {
		args = "{}"
	}

	var input map[string]any
	if err := json.Unmarshal([]byte(args), &input); err != nil {
		return nil, &InvalidEventDataError{
			Provider: s.provider,
			Detail:   fmt.Sprintf("tool call %q arguments: %v", acc.toolName, err),
			Fragment: args,
		}
	}
	if input == nil {
		return nil, &InvalidEventDataError{
			Provider: s.provider,
			Detail:   fmt.Sprintf("tool call %q arguments are not a JSON object", acc.toolName),
			Fragment: args,
		}
	}

	call := &ToolCall{
		ID:        acc.toolID,
		Name:      acc.toolName,
		Arguments: args,
		Input:     input,
	}
	if tool, ok := s.tools[acc.toolName]; ok {
		call.SchemaErrors = ValidateToolInput(tool, input)
		if len(call.SchemaErrors) > 0 {
			s.logger.Warn().Str("tool", acc.toolName).Strs("errors", call.SchemaErrors).Msg("tool input does not match schema")
		}
	}
	return call, nil
}
