package openrouter

import (
	"github.com/haowjy/meridian-stream-go"
)

// ChatCompletionChunk is one streamed chunk of an OpenAI-compatible chat completion.
type ChatCompletionChunk struct {
	ID       string        `json:"id"`
	Object   string        `json:"object"` // "chat.completion.chunk"
	Created  int64         `json:"created"`
	Model    string        `json:"model"`
	Provider string        `json:"provider,omitempty"` // Upstream provider (OpenRouter only)
	Choices  []ChunkChoice `json:"choices"`
	Usage    *Usage        `json:"usage,omitempty"`
	Error    *ChunkError   `json:"error,omitempty"` // In-band error after the stream started
}

// ChunkChoice represents a choice in a streaming chunk.
type ChunkChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// Delta represents incremental updates in a chunk.
type Delta struct {
	Role             *string           `json:"role,omitempty"`
	Content          *string           `json:"content,omitempty"`
	Reasoning        *string           `json:"reasoning,omitempty"`         // OpenRouter plain reasoning text
	ReasoningContent *string           `json:"reasoning_content,omitempty"` // DeepSeek-style reasoning text
	ReasoningDetails []ReasoningDetail `json:"reasoning_details,omitempty"` // Structured reasoning (kimi-k2-thinking and others)
	ToolCalls        []ToolCallDelta   `json:"tool_calls,omitempty"`
}

// ReasoningDetail represents a reasoning/thinking detail in a delta.
type ReasoningDetail struct {
	Type    string  `json:"type"`              // "reasoning.text", "reasoning.summary", "reasoning.encrypted"
	Text    *string `json:"text,omitempty"`    // Thinking content (for type: "reasoning.text")
	Summary *string `json:"summary,omitempty"` // Summary of reasoning (for type: "reasoning.summary")
	Data    *string `json:"data,omitempty"`    // Encrypted data (for type: "reasoning.encrypted")
}

// ToolCallDelta is one fragment of a streamed tool call. The first fragment
// for an index carries the id and name; later ones carry argument text.
type ToolCallDelta struct {
	Index    *int              `json:"index,omitempty"`
	ID       string            `json:"id,omitempty"`
	Type     string            `json:"type,omitempty"`
	Function FunctionCallDelta `json:"function"`
}

// FunctionCallDelta carries the function part of a tool call fragment.
type FunctionCallDelta struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments"`
}

// Usage is the token usage block sent with (or after) the final chunk.
type Usage struct {
	PromptTokens            *int64                   `json:"prompt_tokens,omitempty"`
	CompletionTokens        *int64                   `json:"completion_tokens,omitempty"`
	TotalTokens             *int64                   `json:"total_tokens,omitempty"`
	PromptTokensDetails     *PromptTokensDetails     `json:"prompt_tokens_details,omitempty"`
	CompletionTokensDetails *CompletionTokensDetails `json:"completion_tokens_details,omitempty"`
}

// PromptTokensDetails breaks down prompt tokens.
type PromptTokensDetails struct {
	CachedTokens     *int64 `json:"cached_tokens,omitempty"`
	CacheWriteTokens *int64 `json:"cache_write_tokens,omitempty"`
}

// CompletionTokensDetails breaks down completion tokens.
type CompletionTokensDetails struct {
	ReasoningTokens *int64 `json:"reasoning_tokens,omitempty"`
}

// ChunkError is an error reported inside the stream.
type ChunkError struct {
	Code     any            `json:"code,omitempty"`
	Type     string         `json:"type,omitempty"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// TokenUsage converts the wire block. Nil-safe.
func (u *Usage) TokenUsage() *llmprovider.TokenUsage {
	if u == nil {
		return nil
	}
	usage := &llmprovider.TokenUsage{
		PromptTokens:     llmprovider.OptionalCount(u.PromptTokens),
		CompletionTokens: llmprovider.OptionalCount(u.CompletionTokens),
		TotalTokens:      llmprovider.OptionalCount(u.TotalTokens),
	}
	if d := u.PromptTokensDetails; d != nil {
		usage.CacheReadTokens = llmprovider.OptionalCount(d.CachedTokens)
		usage.CacheCreationTokens = llmprovider.OptionalCount(d.CacheWriteTokens)
	}
	if d := u.CompletionTokensDetails; d != nil {
		usage.ReasoningTokens = llmprovider.OptionalCount(d.ReasoningTokens)
	}
	return usage
}

// usageFromTokenUsage is the inverse of TokenUsage.
func usageFromTokenUsage(u *llmprovider.TokenUsage) *Usage {
	if u == nil {
		return nil
	}
	wire := &Usage{
		PromptTokens:     toInt64(u.PromptTokens),
		CompletionTokens: toInt64(u.CompletionTokens),
		TotalTokens:      toInt64(u.TotalTokens),
	}
	if u.CacheReadTokens != nil || u.CacheCreationTokens != nil {
		wire.PromptTokensDetails = &PromptTokensDetails{
			CachedTokens:     toInt64(u.CacheReadTokens),
			CacheWriteTokens: toInt64(u.CacheCreationTokens),
		}
	}
	if u.ReasoningTokens != nil {
		wire.CompletionTokensDetails = &CompletionTokensDetails{ReasoningTokens: toInt64(u.ReasoningTokens)}
	}
	return wire
}

func toInt64(n *int) *int64 {
	if n == nil {
		return nil
	}
	v := int64(*n)
	return &v
}
