package google

import (
	"github.com/haowjy/meridian-stream-go"
	"github.com/rs/zerolog"
)

// Reassembler turns Gemini response chunks into canonical events.
//
// Text and thought parts extend the open block. A functionCall part arrives
// whole and becomes one tool_use block: start, a single delta with the full
// arguments and stop.
type Reassembler struct {
	provider    string
	state       *llmprovider.StreamState
	logger      zerolog.Logger
	sawToolCall bool
}

// NewReassembler returns a reassembler for one stream.
func NewReassembler(provider string, tools []llmprovider.Tool, logger zerolog.Logger) *Reassembler {
	return &Reassembler{
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
func (r *Reassembler) Push(payload string) ([]llmprovider.Event, error) {
	chunk, ok, err := ParseChunk(payload)
	if err != nil {
		r.state.Abort()
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return r.Apply(chunk)
}

// End implements llmprovider.Reassembler.
func (r *Reassembler) End() ([]llmprovider.Event, error) {
	return r.state.End()
}

// Apply consumes one decoded chunk.
func (r *Reassembler) Apply(chunk *GenerateContentResponse) ([]llmprovider.Event, error) {
	if chunk.Error != nil {
		r.state.Abort()
		return nil, chunk.Error.providerError(r.provider)
	}

	switch r.state.Phase() {
	case llmprovider.PhaseTerminated:
		return nil, r.state.Violation("chunk after message stop")
	case llmprovider.PhaseFinishing:
		if hasContent(chunk) {
			return nil, r.state.Violation("content after finishReason")
		}
		r.state.ObserveUsage(chunk.UsageMetadata.TokenUsage())
		return nil, nil
	}

	r.state.Observe(chunk.ResponseID, chunk.ModelVersion)
	r.state.ObserveUsage(chunk.UsageMetadata.TokenUsage())

	if fb := chunk.PromptFeedback; fb != nil && fb.BlockReason != "" && len(chunk.Candidates) == 0 {
		r.state.Abort()
		return nil, &llmprovider.ProviderError{
			Provider: r.provider,
			Kind:     llmprovider.ErrorKindInvalidRequest,
			Type:     fb.BlockReason,
			Message:  "prompt blocked: " + fb.BlockReason,
			Err:      llmprovider.ErrInvalidRequest,
		}
	}
	if len(chunk.Candidates) == 0 {
		return nil, nil
	}

	candidate := chunk.Candidates[0]
	var events []llmprovider.Event
	collect := func(evs []llmprovider.Event, err error) error {
		events = append(events, evs...)
		return err
	}

	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if err := collect(r.applyPart(part)); err != nil {
				return events, err
			}
		}
	}

	if candidate.FinishReason != "" {
		reason := stopReason(candidate.FinishReason, r.sawToolCall)
		if reason == llmprovider.StopReasonOther {
			r.logger.Debug().Str("finish_reason", candidate.FinishReason).Msg("unmapped finish reason")
		}
		return events, collect(r.state.EndContent(reason, ""))
	}
	return events, nil
}

func (r *Reassembler) applyPart(part Part) ([]llmprovider.Event, error) {
	switch {
	case part.FunctionCall != nil:
		r.sawToolCall = true
		fc := part.FunctionCall
		events, err := r.state.StartToolCall(fc.ID, fc.Name)
		if err != nil {
			return events, err
		}
		args := string(fc.Args)
		if args == "" || args == "null" {
			args = "{}"
		}
		more, err := r.state.AppendToolInput(args)
		events = append(events, more...)
		if err != nil {
			return events, err
		}
		more, err = r.state.CloseBlock()
		return append(events, more...), err

	case part.Thought:
		events, err := r.state.AppendThinking(part.Text)
		if err != nil || part.ThoughtSignature == "" {
			return events, err
		}
		if r.state.OpenKind() != llmprovider.BlockKindThinking {
			opened, err := r.state.StartBlock(llmprovider.BlockKindThinking)
			events = append(events, opened...)
			if err != nil {
				return events, err
			}
		}
		more, err := r.state.AppendSignature(part.ThoughtSignature)
		return append(events, more...), err

	default:
		return r.state.AppendText(part.Text)
	}
}

// hasContent reports whether the chunk's first candidate carries any parts
// or a finish reason.
func hasContent(chunk *GenerateContentResponse) bool {
	if len(chunk.Candidates) == 0 {
		return false
	}
	c := chunk.Candidates[0]
	if c.FinishReason != "" {
		return true
	}
	if c.Content == nil {
		return false
	}
	for _, p := range c.Content.Parts {
		if p.Text != "" || p.FunctionCall != nil {
			return true
		}
	}
	return false
}

func (e *APIError) providerError(provider string) *llmprovider.ProviderError {
	perr := llmprovider.NewStreamError(provider, e.Status, e.Message)
	perr.StatusCode = e.Code
	if perr.Kind == llmprovider.ErrorKindOther && e.Code > 0 {
		retyped := llmprovider.ParseErrorResponse(provider, e.Code, nil)
		perr.Kind, perr.Retryable, perr.Err = retyped.Kind, retyped.Retryable, retyped.Err
	}
	return perr
}
