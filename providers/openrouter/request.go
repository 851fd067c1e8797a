package openrouter

import (
	"fmt"

	"github.com/haowjy/meridian-stream-go"
	"github.com/samber/lo"
	openai "github.com/sashabaranov/go-openai"
)

// buildChatCompletionRequest constructs the API request from a GenerateRequest.
// Shared between GenerateResponse and StreamResponse.
func buildChatCompletionRequest(req *llmprovider.GenerateRequest, params *llmprovider.RequestParams, stream bool) (openai.ChatCompletionRequest, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if params.System != nil && *params.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: *params.System,
		})
	}
	for i, msg := range req.Messages {
		role, err := convertRole(msg.Role)
		if err != nil {
			return openai.ChatCompletionRequest{}, fmt.Errorf("message %d: %w", i, err)
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}

	chatReq := openai.ChatCompletionRequest{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: params.GetMaxTokens(llmprovider.DefaultMaxTokens),
		Stop:      params.Stop,
		Stream:    stream,
		Tools:     lo.Map(params.Tools, convertTool),
	}
	if stream {
		chatReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	if params.Temperature != nil {
		chatReq.Temperature = float32(*params.Temperature)
	}
	if params.TopP != nil {
		chatReq.TopP = float32(*params.TopP)
	}
	if params.ThinkingLevel != nil {
		chatReq.ReasoningEffort = *params.ThinkingLevel
	}
	if params.ToolChoice != nil {
		chatReq.ToolChoice = convertToolChoice(params.ToolChoice)
	}
	return chatReq, nil
}

func convertRole(role llmprovider.Role) (string, error) {
	switch role {
	case llmprovider.RoleUser:
		return openai.ChatMessageRoleUser, nil
	case llmprovider.RoleAssistant:
		return openai.ChatMessageRoleAssistant, nil
	default:
		return "", fmt.Errorf("unsupported role %q", role)
	}
}

// convertTool maps a library tool to the OpenAI function format, which the
// library format already mirrors.
func convertTool(tool llmprovider.Tool, _ int) openai.Tool {
	parameters := tool.Function.Parameters
	if parameters == nil {
		parameters = map[string]any{"type": "object"}
	}
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			Parameters:  parameters,
		},
	}
}

// convertToolChoice converts library tool choice to OpenAI format.
func convertToolChoice(tc *llmprovider.ToolChoice) any {
	switch tc.Mode {
	case llmprovider.ToolChoiceModeRequired:
		return "required"
	case llmprovider.ToolChoiceModeNone:
		return "none"
	case llmprovider.ToolChoiceModeSpecific:
		if tc.ToolName == nil {
			return "auto"
		}
		return openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: *tc.ToolName},
		}
	default:
		return "auto"
	}
}
