package llmprovider

// StopReason describes why generation ended.
type StopReason string

const (
	StopReasonEndTurn      StopReason = "end_turn"
	StopReasonMaxTokens    StopReason = "max_tokens"
	StopReasonToolUse      StopReason = "tool_use"
	StopReasonStopSequence StopReason = "stop_sequence"
	StopReasonOther        StopReason = "other"
)

// finishReasons maps OpenAI-style finish_reason values.
// content_filter has no canonical equivalent and is reported as end_turn.
var finishReasons = map[string]StopReason{
	"stop":           StopReasonEndTurn,
	"length":         StopReasonMaxTokens,
	"limit":          StopReasonMaxTokens,
	"tool_calls":     StopReasonToolUse,
	"function_call":  StopReasonToolUse,
	"content_filter": StopReasonEndTurn,
}

// StopReasonFromFinishReason maps an OpenAI-compatible finish_reason.
// Unrecognized values map to StopReasonOther.
func StopReasonFromFinishReason(finishReason string) StopReason {
	if reason, ok := finishReasons[finishReason]; ok {
		return reason
	}
	return StopReasonOther
}

// ParseStopReason maps a canonical (Anthropic-style) stop reason name.
// Unrecognized values, such as "pause_turn" or "refusal", map to StopReasonOther.
func ParseStopReason(s string) StopReason {
	switch StopReason(s) {
	case StopReasonEndTurn, StopReasonMaxTokens, StopReasonToolUse, StopReasonStopSequence:
		return StopReason(s)
	default:
		return StopReasonOther
	}
}

// FinishReason returns the OpenAI-compatible finish_reason for r.
// stop_sequence becomes "stop" and so reads back as end_turn.
func (r StopReason) FinishReason() string {
	switch r {
	case StopReasonEndTurn, StopReasonStopSequence:
		return "stop"
	case StopReasonMaxTokens:
		return "length"
	case StopReasonToolUse:
		return "tool_calls"
	default:
		return string(StopReasonOther)
	}
}

func (r StopReason) String() string {
	return string(r)
}
