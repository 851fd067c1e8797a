package openrouter

import (
	"encoding/json"
	"strings"

	"github.com/haowjy/meridian-stream-go"
	"github.com/haowjy/meridian-stream-go/sse"
)

// ParseChunk decodes one data payload. Empty and [DONE] payloads return
// ok == false and no error.
func ParseChunk(payload string) (*ChatCompletionChunk, bool, error) {
	return parseChunk(llmprovider.ProviderOpenAI.String(), payload)
}

func parseChunk(provider, payload string) (*ChatCompletionChunk, bool, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" || payload == sse.DoneSentinel {
		return nil, false, nil
	}

	var chunk ChatCompletionChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return nil, false, &llmprovider.InvalidEventDataError{
			Provider: provider,
			Detail:   "chat.completion.chunk: " + err.Error(),
			Fragment: payload,
		}
	}
	return &chunk, true, nil
}

// hasContent reports whether the chunk's first choice carries anything that
// opens or extends a block, or finishes the message.
func hasContent(chunk *ChatCompletionChunk) bool {
	if len(chunk.Choices) == 0 {
		return false
	}
	choice := chunk.Choices[0]
	if choice.FinishReason != nil && *choice.FinishReason != "" {
		return true
	}
	return !parseDelta(choice.Delta).empty()
}

// parsedDelta is the content extracted from one delta.
type parsedDelta struct {
	Thinking  string
	Text      string
	ToolCalls []ToolCallDelta
}

func (p parsedDelta) empty() bool {
	return p.Thinking == "" && p.Text == "" && len(p.ToolCalls) == 0
}

// parseDelta extracts content from a delta. Reasoning is read from
// reasoning_details first, then reasoning, then reasoning_content; vendors
// that fill several send the same text in each.
func parseDelta(d Delta) parsedDelta {
	parsed := parsedDelta{
		Thinking:  extractThinking(d),
		ToolCalls: d.ToolCalls,
	}
	if d.Content != nil {
		parsed.Text = *d.Content
	}
	return parsed
}

func extractThinking(d Delta) string {
	if text := extractReasoningDetails(d.ReasoningDetails); text != "" {
		return text
	}
	if d.Reasoning != nil && *d.Reasoning != "" {
		return *d.Reasoning
	}
	if d.ReasoningContent != nil {
		return *d.ReasoningContent
	}
	return ""
}

// extractReasoningDetails joins reasoning text and summaries. Encrypted
// details carry nothing readable and are skipped.
func extractReasoningDetails(details []ReasoningDetail) string {
	var text strings.Builder
	for _, detail := range details {
		switch detail.Type {
		case "reasoning.text":
			if detail.Text != nil {
				text.WriteString(*detail.Text)
			}
		case "reasoning.summary":
			if detail.Summary != nil {
				text.WriteString(*detail.Summary)
			}
		}
	}
	return text.String()
}
