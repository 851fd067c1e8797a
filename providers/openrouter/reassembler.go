package openrouter

import (
	"fmt"

	"github.com/haowjy/meridian-stream-go"
	"github.com/rs/zerolog"
)

// Reassembler turns OpenAI-compatible chunks into canonical events.
// Only the first choice is read; n > 1 is never requested.
type Reassembler struct {
	provider string
	state    *llmprovider.StreamState

	// Tool calls by vendor index. Vendors stream parallel calls one after
	// another; a fragment for a call that is no longer open is a violation.
	toolSlots   map[int]bool
	toolIDs     map[string]int
	currentTool int
	hasTool     bool
}

// NewReassembler returns a reassembler for one stream. tools are the
// request's declared tools, used to check completed tool calls.
func NewReassembler(provider string, tools []llmprovider.Tool, logger zerolog.Logger) *Reassembler {
	return &Reassembler{
		provider: provider,
		state: llmprovider.NewStreamState(llmprovider.StateConfig{
			Provider: provider,
			Tools:    tools,
			Logger:   &logger,
		}),
		toolSlots: make(map[int]bool),
		toolIDs:   make(map[string]int),
	}
}

// Push implements llmprovider.Reassembler.
func (r *Reassembler) Push(payload string) ([]llmprovider.Event, error) {
	chunk, ok, err := parseChunk(r.provider, payload)
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
func (r *Reassembler) Apply(chunk *ChatCompletionChunk) ([]llmprovider.Event, error) {
	if chunk.Error != nil {
		r.state.Abort()
		return nil, chunk.Error.providerError(r.provider)
	}

	usage := chunk.Usage.TokenUsage()

	switch r.state.Phase() {
	case llmprovider.PhaseTerminated:
		return nil, r.state.Violation("chunk after message stop")
	case llmprovider.PhaseFinishing:
		if hasContent(chunk) {
			return nil, r.state.Violation("content after finish_reason")
		}
		if chunk.Usage == nil {
			// Empty deltas or role-only chunks; End completes the message.
			return nil, nil
		}
		// The usage chunk that follows finish_reason when include_usage is set.
		return r.state.Complete(usage)
	}

	r.state.Observe(chunk.ID, chunk.Model)
	r.state.ObserveUsage(usage)
	if len(chunk.Choices) == 0 {
		return nil, nil
	}

	choice := chunk.Choices[0]
	parsed := parseDelta(choice.Delta)

	var events []llmprovider.Event
	collect := func(evs []llmprovider.Event, err error) error {
		events = append(events, evs...)
		return err
	}

	if err := collect(r.state.AppendThinking(parsed.Thinking)); err != nil {
		return events, err
	}
	if err := collect(r.state.AppendText(parsed.Text)); err != nil {
		return events, err
	}
	for _, tc := range parsed.ToolCalls {
		if err := collect(r.applyToolCall(tc)); err != nil {
			return events, err
		}
	}

	if choice.FinishReason != nil && *choice.FinishReason != "" {
		reason := llmprovider.StopReasonFromFinishReason(*choice.FinishReason)
		if chunk.Usage != nil {
			return events, collect(r.state.Finish(reason, "", nil))
		}
		return events, collect(r.state.EndContent(reason, ""))
	}
	return events, nil
}

func (r *Reassembler) applyToolCall(tc ToolCallDelta) ([]llmprovider.Event, error) {
	key := r.toolKey(tc)

	var events []llmprovider.Event
	if r.toolSlots[key] {
		if !r.hasTool || key != r.currentTool || r.state.OpenKind() != llmprovider.BlockKindToolUse {
			return nil, r.state.Violation(fmt.Sprintf("fragment for closed tool call %d", key))
		}
	} else {
		started, err := r.state.StartToolCall(tc.ID, tc.Function.Name)
		events = append(events, started...)
		if err != nil {
			return events, err
		}
		r.toolSlots[key] = true
		r.currentTool = key
		r.hasTool = true
		if tc.ID != "" {
			r.toolIDs[tc.ID] = key
		}
	}

	appended, err := r.state.AppendToolInput(tc.Function.Arguments)
	return append(events, appended...), err
}

// toolKey identifies a tool call by vendor index, falling back to its id
// for vendors that omit the index.
func (r *Reassembler) toolKey(tc ToolCallDelta) int {
	if tc.Index != nil {
		return *tc.Index
	}
	if tc.ID != "" {
		if key, ok := r.toolIDs[tc.ID]; ok {
			return key
		}
		return len(r.toolSlots)
	}
	if r.hasTool {
		return r.currentTool
	}
	return 0
}

func (e *ChunkError) providerError(provider string) *llmprovider.ProviderError {
	errType := e.Type
	if errType == "" {
		errType = codeType(e.Code)
	}
	perr := llmprovider.NewStreamError(provider, errType, e.Message)
	if status, ok := e.Code.(float64); ok {
		perr.StatusCode = int(status)
		if perr.Kind == llmprovider.ErrorKindOther {
			retyped := llmprovider.ParseErrorResponse(provider, perr.StatusCode, nil)
			perr.Kind, perr.Retryable, perr.Err = retyped.Kind, retyped.Retryable, retyped.Err
		}
	}
	return perr
}

// codeType reads a string error code as an error type.
func codeType(code any) string {
	if s, ok := code.(string); ok {
		return s
	}
	return ""
}
