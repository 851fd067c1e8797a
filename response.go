package llmprovider

import (
	"fmt"
	"strings"
)

// GenerateResponse is a complete response, either returned by a vendor's
// non-streaming endpoint or accumulated from a canonical event stream.
type GenerateResponse struct {
	// ID is the vendor message id (synthesized when the vendor sent none)
	ID string

	// Model is the model that was used (may differ from request if aliased)
	Model string

	// Blocks holds the completed content blocks in index order
	Blocks []*CompletedBlock

	// StopReason indicates why generation stopped
	StopReason StopReason

	// StopSequence is the matched stop sequence, if any
	StopSequence string

	// Usage is nil when the vendor reported none
	Usage *TokenUsage
}

// Text concatenates the text blocks.
func (r *GenerateResponse) Text() string {
	var sb strings.Builder
	for _, b := range r.Blocks {
		if b.Kind == BlockKindText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// Thinking concatenates the thinking blocks.
func (r *GenerateResponse) Thinking() string {
	var sb strings.Builder
	for _, b := range r.Blocks {
		if b.Kind == BlockKindThinking {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// ToolCalls returns the tool calls in the order they were made.
func (r *GenerateResponse) ToolCalls() []*ToolCall {
	var calls []*ToolCall
	for _, b := range r.Blocks {
		if b.ToolCall != nil {
			calls = append(calls, b.ToolCall)
		}
	}
	return calls
}

// Accumulate folds a canonical event sequence into a GenerateResponse.
// An ErrorEvent ends accumulation and its error is returned. A sequence
// without MessageStop is incomplete and also returns an error.
func Accumulate(events []Event) (*GenerateResponse, error) {
	resp := &GenerateResponse{}
	stopped := false
	for _, ev := range events {
		switch e := ev.(type) {
		case MessageStart:
			resp.ID = e.ID
			resp.Model = e.Model
		case ContentBlockStop:
			if e.Block != nil {
				resp.Blocks = append(resp.Blocks, e.Block)
			}
		case MessageDelta:
			resp.StopReason = e.StopReason
			resp.StopSequence = e.StopSequence
			resp.Usage = e.Usage
		case MessageStop:
			stopped = true
		case ErrorEvent:
			if e.Err == nil {
				return resp, e
			}
			return resp, e.Err
		}
	}
	if !stopped {
		return resp, fmt.Errorf("incomplete stream: %w", ErrProtocolViolation)
	}
	return resp, nil
}
