package llmprovider

import (
	"github.com/samber/lo"
)

// TokenUsage reports token counts for one response.
// Every count is optional; nil means the vendor did not report it.
type TokenUsage struct {
	PromptTokens        *int `json:"prompt_tokens,omitempty"`
	CompletionTokens    *int `json:"completion_tokens,omitempty"`
	TotalTokens         *int `json:"total_tokens,omitempty"`
	CacheCreationTokens *int `json:"cache_creation_tokens,omitempty"`
	CacheReadTokens     *int `json:"cache_read_tokens,omitempty"`
	ReasoningTokens     *int `json:"reasoning_tokens,omitempty"`
	ToolPromptTokens    *int `json:"tool_prompt_tokens,omitempty"`
	ThoughtsTokens      *int `json:"thoughts_tokens,omitempty"`
}

// NewTokenUsage returns usage with prompt and completion counts set.
func NewTokenUsage(prompt, completion int) *TokenUsage {
	return &TokenUsage{
		PromptTokens:     Count(int64(prompt)),
		CompletionTokens: Count(int64(completion)),
	}
}

// Count returns a token count pointer, clamping negative vendor values to zero.
func Count(n int64) *int {
	if n < 0 {
		n = 0
	}
	return lo.ToPtr(int(n))
}

// OptionalCount is Count for values that may be absent.
func OptionalCount(n *int64) *int {
	if n == nil {
		return nil
	}
	return Count(*n)
}

// Prompt returns the prompt token count, or zero.
func (u *TokenUsage) Prompt() int {
	if u == nil {
		return 0
	}
	return lo.FromPtr(u.PromptTokens)
}

// Completion returns the completion token count, or zero.
func (u *TokenUsage) Completion() int {
	if u == nil {
		return 0
	}
	return lo.FromPtr(u.CompletionTokens)
}

// Total returns the reported total, falling back to prompt plus completion.
func (u *TokenUsage) Total() int {
	if u == nil {
		return 0
	}
	if u.TotalTokens != nil {
		return *u.TotalTokens
	}
	return u.Prompt() + u.Completion()
}

// IsEmpty reports whether no count is set.
func (u *TokenUsage) IsEmpty() bool {
	if u == nil {
		return true
	}
	return u.PromptTokens == nil && u.CompletionTokens == nil && u.TotalTokens == nil &&
		u.CacheCreationTokens == nil && u.CacheReadTokens == nil && u.ReasoningTokens == nil &&
		u.ToolPromptTokens == nil && u.ThoughtsTokens == nil
}

// Merge returns the field-wise sum of u and other. A missing count is treated
// as zero; a count missing on both sides stays missing. Either side may be nil.
func (u *TokenUsage) Merge(other *TokenUsage) *TokenUsage {
	if u == nil && other == nil {
		return nil
	}
	a, b := lo.FromPtr(u), lo.FromPtr(other)
	return &TokenUsage{
		PromptTokens:        addCount(a.PromptTokens, b.PromptTokens),
		CompletionTokens:    addCount(a.CompletionTokens, b.CompletionTokens),
		TotalTokens:         addCount(a.TotalTokens, b.TotalTokens),
		CacheCreationTokens: addCount(a.CacheCreationTokens, b.CacheCreationTokens),
		CacheReadTokens:     addCount(a.CacheReadTokens, b.CacheReadTokens),
		ReasoningTokens:     addCount(a.ReasoningTokens, b.ReasoningTokens),
		ToolPromptTokens:    addCount(a.ToolPromptTokens, b.ToolPromptTokens),
		ThoughtsTokens:      addCount(a.ThoughtsTokens, b.ThoughtsTokens),
	}
}

// Overlay returns u with every count that other reports replaced by other's
// value. Vendors that resend cumulative usage are folded in with Overlay.
func (u *TokenUsage) Overlay(other *TokenUsage) *TokenUsage {
	if other == nil {
		return u.clone()
	}
	if u == nil {
		return other.clone()
	}
	return &TokenUsage{
		PromptTokens:        lo.CoalesceOrEmpty(other.PromptTokens, u.PromptTokens),
		CompletionTokens:    lo.CoalesceOrEmpty(other.CompletionTokens, u.CompletionTokens),
		TotalTokens:         lo.CoalesceOrEmpty(other.TotalTokens, u.TotalTokens),
		CacheCreationTokens: lo.CoalesceOrEmpty(other.CacheCreationTokens, u.CacheCreationTokens),
		CacheReadTokens:     lo.CoalesceOrEmpty(other.CacheReadTokens, u.CacheReadTokens),
		ReasoningTokens:     lo.CoalesceOrEmpty(other.ReasoningTokens, u.ReasoningTokens),
		ToolPromptTokens:    lo.CoalesceOrEmpty(other.ToolPromptTokens, u.ToolPromptTokens),
		ThoughtsTokens:      lo.CoalesceOrEmpty(other.ThoughtsTokens, u.ThoughtsTokens),
	}
}

func (u *TokenUsage) clone() *TokenUsage {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

func addCount(a, b *int) *int {
	if a == nil && b == nil {
		return nil
	}
	return lo.ToPtr(lo.FromPtr(a) + lo.FromPtr(b))
}
