package anthropic

import (
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/haowjy/meridian-stream-go"
)

// buildMessageParams constructs Anthropic API parameters from a GenerateRequest.
// Shared between GenerateResponse and StreamResponse.
func buildMessageParams(req *llmprovider.GenerateRequest, params *llmprovider.RequestParams) (anthropic.MessageNewParams, error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("failed to convert messages: %w", err)
	}

	maxTokens := int64(params.GetMaxTokens(llmprovider.DefaultMaxTokens))

	apiParams := anthropic.MessageNewParams{
		Model:    anthropic.Model(req.Model),
		Messages: messages,
	}

	if params.Temperature != nil {
		apiParams.Temperature = anthropic.Float(*params.Temperature)
	}
	if params.TopP != nil {
		apiParams.TopP = anthropic.Float(*params.TopP)
	}
	if len(params.Stop) > 0 {
		apiParams.StopSequences = params.Stop
	}
	if params.System != nil && *params.System != "" {
		apiParams.System = []anthropic.TextBlockParam{{Text: *params.System}}
	}

	// Thinking mode: the budget must stay below max_tokens.
	if budget := int64(params.GetThinkingBudgetTokens()); budget > 0 {
		if maxTokens <= budget {
			maxTokens = budget + llmprovider.DefaultMaxTokens
		}
		apiParams.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	}
	apiParams.MaxTokens = maxTokens

	tools, err := convertTools(params.Tools)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}
	apiParams.Tools = tools

	choice, err := convertToolChoice(params.ToolChoice)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}
	if choice != nil {
		apiParams.ToolChoice = *choice
	}

	return apiParams, nil
}

// convertMessages converts plain-text turns to Anthropic message params.
func convertMessages(messages []llmprovider.Message) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(messages))
	for i, msg := range messages {
		block := anthropic.NewTextBlock(msg.Content)
		switch msg.Role {
		case llmprovider.RoleUser:
			result = append(result, anthropic.NewUserMessage(block))
		case llmprovider.RoleAssistant:
			result = append(result, anthropic.NewAssistantMessage(block))
		default:
			return nil, fmt.Errorf("message %d: unsupported role '%s'", i, msg.Role)
		}
	}
	return result, nil
}
