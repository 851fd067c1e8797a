package google

import (
	"encoding/json"

	"github.com/haowjy/meridian-stream-go"
)

// GenerateContentResponse is one streamed chunk of a Gemini response. With
// alt=sse every chunk is a complete response object holding only the new parts.
type GenerateContentResponse struct {
	Candidates     []Candidate     `json:"candidates,omitempty"`
	PromptFeedback *PromptFeedback `json:"promptFeedback,omitempty"`
	UsageMetadata  *UsageMetadata  `json:"usageMetadata,omitempty"`
	ModelVersion   string          `json:"modelVersion,omitempty"`
	ResponseID     string          `json:"responseId,omitempty"`

	// Error is set when the stream fails after it started.
	Error *APIError `json:"error,omitempty"`
}

// Candidate is one generated alternative. Only the first is read.
type Candidate struct {
	Content      *Content `json:"content,omitempty"`
	FinishReason string   `json:"finishReason,omitempty"`
	Index        int      `json:"index,omitempty"`
}

// Content is a role and its parts. Gemini names the assistant role "model".
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Part is one piece of content. Exactly one of Text and FunctionCall is set.
type Part struct {
	Text             string        `json:"text,omitempty"`
	Thought          bool          `json:"thought,omitempty"`
	ThoughtSignature string        `json:"thoughtSignature,omitempty"`
	FunctionCall     *FunctionCall `json:"functionCall,omitempty"`
}

// FunctionCall is a complete tool invocation; Gemini never fragments arguments.
type FunctionCall struct {
	ID   string          `json:"id,omitempty"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// PromptFeedback reports a prompt that was blocked before generation.
type PromptFeedback struct {
	BlockReason string `json:"blockReason,omitempty"`
}

// UsageMetadata holds cumulative token counts; each report replaces the last.
type UsageMetadata struct {
	PromptTokenCount        *int64 `json:"promptTokenCount,omitempty"`
	CandidatesTokenCount    *int64 `json:"candidatesTokenCount,omitempty"`
	TotalTokenCount         *int64 `json:"totalTokenCount,omitempty"`
	CachedContentTokenCount *int64 `json:"cachedContentTokenCount,omitempty"`
	ThoughtsTokenCount      *int64 `json:"thoughtsTokenCount,omitempty"`
	ToolUsePromptTokenCount *int64 `json:"toolUsePromptTokenCount,omitempty"`
}

// APIError is Google's error object, used both in error responses and in-stream.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// TokenUsage converts the wire block. Nil-safe.
func (u *UsageMetadata) TokenUsage() *llmprovider.TokenUsage {
	if u == nil {
		return nil
	}
	return &llmprovider.TokenUsage{
		PromptTokens:     llmprovider.OptionalCount(u.PromptTokenCount),
		CompletionTokens: llmprovider.OptionalCount(u.CandidatesTokenCount),
		TotalTokens:      llmprovider.OptionalCount(u.TotalTokenCount),
		CacheReadTokens:  llmprovider.OptionalCount(u.CachedContentTokenCount),
		ThoughtsTokens:   llmprovider.OptionalCount(u.ThoughtsTokenCount),
		ToolPromptTokens: llmprovider.OptionalCount(u.ToolUsePromptTokenCount),
	}
}

// finishReasons maps Gemini finish reasons. Safety-style stops have no
// canonical equivalent and are reported as end_turn, like content_filter.
var finishReasons = map[string]llmprovider.StopReason{
	"STOP":               llmprovider.StopReasonEndTurn,
	"MAX_TOKENS":         llmprovider.StopReasonMaxTokens,
	"SAFETY":             llmprovider.StopReasonEndTurn,
	"RECITATION":         llmprovider.StopReasonEndTurn,
	"BLOCKLIST":          llmprovider.StopReasonEndTurn,
	"PROHIBITED_CONTENT": llmprovider.StopReasonEndTurn,
	"SPII":               llmprovider.StopReasonEndTurn,
	"IMAGE_SAFETY":       llmprovider.StopReasonEndTurn,
}

// stopReason maps a finish reason. Gemini reports STOP after function calls,
// so sawToolCall turns it into tool_use.
func stopReason(finishReason string, sawToolCall bool) llmprovider.StopReason {
	reason, ok := finishReasons[finishReason]
	if !ok {
		return llmprovider.StopReasonOther
	}
	if reason == llmprovider.StopReasonEndTurn && finishReason == "STOP" && sawToolCall {
		return llmprovider.StopReasonToolUse
	}
	return reason
}
