package anthropic

import (
	"fmt"

	"github.com/haowjy/meridian-stream-go"
	"github.com/rs/zerolog"
)

// Normalizer turns Anthropic stream events into canonical events.
//
// Anthropic already streams in the canonical shape, but its block indices
// are not trusted: the state machine assigns its own, and the vendor index
// is only used to check that deltas and stops refer to the open block.
type Normalizer struct {
	provider string
	state    *llmprovider.StreamState
	logger   zerolog.Logger

	open        bool
	vendorIndex int
	kind        string
	// skipped blocks (redacted thinking, server tools) produce no events
	skipped bool
}

// NewNormalizer returns a normalizer for one stream. tools are the
// request's declared tools, used to check completed tool calls.
func NewNormalizer(provider string, tools []llmprovider.Tool, logger zerolog.Logger) *Normalizer {
	return &Normalizer{
		provider: provider,
		logger:   logger,
		state: llmprovider.NewStreamState(llmprovider.StateConfig{
			Provider: provider,
			Tools:    tools,
			Logger:   &logger,
		}),
	}
}

// Push implements llmprovider.Reassembler.
func (n *Normalizer) Push(payload string) ([]llmprovider.Event, error) {
	ev, ok, err := ParseEvent(payload)
	if err != nil {
		n.state.Abort()
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return n.Apply(ev)
}

// End implements llmprovider.Reassembler.
func (n *Normalizer) End() ([]llmprovider.Event, error) {
	return n.state.End()
}

// Apply consumes one decoded event.
func (n *Normalizer) Apply(ev Event) ([]llmprovider.Event, error) {
	switch e := ev.(type) {
	case *PingEvent:
		return nil, nil
	case *ErrorEvent:
		n.state.Abort()
		return nil, llmprovider.NewStreamError(n.provider, e.Error.Type, e.Error.Message)
	}

	if n.state.Phase() == llmprovider.PhaseTerminated {
		return nil, n.state.Violation(ev.WireType() + " after message stop")
	}

	switch e := ev.(type) {
	case *MessageStartEvent:
		if n.state.Phase() != llmprovider.PhaseUnstarted {
			return nil, n.state.Violation("duplicate message_start")
		}
		n.state.Observe(e.Message.ID, e.Message.Model)
		n.state.ObserveUsage(e.Message.Usage.TokenUsage())
		return n.state.Begin(), nil

	case *ContentBlockStartEvent:
		return n.startBlock(e)

	case *ContentBlockDeltaEvent:
		return n.applyDelta(e)

	case *ContentBlockStopEvent:
		if err := n.checkOpen(e.Index, "content_block_stop"); err != nil {
			return nil, err
		}
		n.open = false
		if n.skipped {
			return nil, nil
		}
		return n.state.CloseBlock()

	case *MessageDeltaEvent:
		if n.state.Phase() != llmprovider.PhaseStreaming {
			return nil, n.state.Violation(fmt.Sprintf("message_delta while %s", n.state.Phase()))
		}
		if n.open {
			return nil, n.state.Violation(fmt.Sprintf("message_delta while block %d is open", n.vendorIndex))
		}
		n.state.ObserveUsage(e.Usage.TokenUsage())
		return n.state.EndContent(stopReason(e.Delta.StopReason), deref(e.Delta.StopSequence))

	case *MessageStopEvent:
		switch n.state.Phase() {
		case llmprovider.PhaseFinishing:
			return n.state.Complete(nil)
		case llmprovider.PhaseStreaming:
			// Some proxies drop message_delta.
			n.logger.Debug().Msg("message_stop without message_delta")
			return n.state.Finish(llmprovider.StopReasonEndTurn, "", nil)
		default:
			return nil, n.state.Violation("message_stop before message_start")
		}
	}
	return nil, fmt.Errorf("anthropic: unhandled event %T", ev)
}

func (n *Normalizer) startBlock(e *ContentBlockStartEvent) ([]llmprovider.Event, error) {
	if n.state.Phase() != llmprovider.PhaseStreaming {
		return nil, n.state.Violation(fmt.Sprintf("content_block_start while %s", n.state.Phase()))
	}
	if n.open {
		return nil, n.state.Violation(fmt.Sprintf("content_block_start %d while block %d is open", e.Index, n.vendorIndex))
	}
	n.open, n.vendorIndex, n.kind, n.skipped = true, e.Index, e.ContentBlock.Type, false

	cb := e.ContentBlock
	switch cb.Type {
	case blockText:
		events, err := n.state.StartBlock(llmprovider.BlockKindText)
		if err != nil {
			return events, err
		}
		more, err := n.state.AppendText(deref(cb.Text))
		return append(events, more...), err

	case blockThinking:
		events, err := n.state.StartBlock(llmprovider.BlockKindThinking)
		if err != nil {
			return events, err
		}
		more, err := n.state.AppendThinking(deref(cb.Thinking))
		events = append(events, more...)
		if err != nil {
			return events, err
		}
		more, err = n.state.AppendSignature(deref(cb.Signature))
		return append(events, more...), err

	case blockToolUse:
		return n.state.StartToolCall(cb.ID, cb.Name)

	default:
		n.skipped = true
		n.logger.Debug().Str("block_type", cb.Type).Int("index", e.Index).Msg("skipping unsupported content block")
		return nil, nil
	}
}

func (n *Normalizer) applyDelta(e *ContentBlockDeltaEvent) ([]llmprovider.Event, error) {
	if err := n.checkOpen(e.Index, "content_block_delta"); err != nil {
		return nil, err
	}
	if n.skipped || e.Delta.Type == deltaCitations {
		return nil, nil
	}

	d := e.Delta
	switch {
	case d.Type == deltaText && n.kind == blockText:
		return n.state.AppendText(d.Text)
	case d.Type == deltaThinking && n.kind == blockThinking:
		return n.state.AppendThinking(d.Thinking)
	case d.Type == deltaSignature && n.kind == blockThinking:
		return n.state.AppendSignature(d.Signature)
	case d.Type == deltaInputJSON && n.kind == blockToolUse:
		return n.state.AppendToolInput(d.PartialJSON)
	}
	return nil, n.state.Violation(fmt.Sprintf("%s in %s block %d", d.Type, n.kind, e.Index))
}

func (n *Normalizer) checkOpen(index int, what string) error {
	if !n.open || index != n.vendorIndex {
		return n.state.Violation(fmt.Sprintf("%s for block %d which is not open", what, index))
	}
	return nil
}

// stopReason maps message_delta's stop_reason. A missing reason is end_turn.
func stopReason(s *string) llmprovider.StopReason {
	if s == nil || *s == "" {
		return llmprovider.StopReasonEndTurn
	}
	return llmprovider.ParseStopReason(*s)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
