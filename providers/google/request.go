package google

import (
	"fmt"

	"github.com/samber/lo"

	"github.com/haowjy/meridian-stream-go"
)

type generateContentRequest struct {
	Contents          []Content        `json:"contents"`
	SystemInstruction *Content         `json:"systemInstruction,omitempty"`
	Tools             []toolDecl       `json:"tools,omitempty"`
	ToolConfig        *toolConfig      `json:"toolConfig,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type generationConfig struct {
	MaxOutputTokens int             `json:"maxOutputTokens,omitempty"`
	Temperature     *float64        `json:"temperature,omitempty"`
	TopP            *float64        `json:"topP,omitempty"`
	StopSequences   []string        `json:"stopSequences,omitempty"`
	ThinkingConfig  *thinkingConfig `json:"thinkingConfig,omitempty"`
}

type thinkingConfig struct {
	IncludeThoughts bool `json:"includeThoughts"`
	ThinkingBudget  int  `json:"thinkingBudget,omitempty"`
}

type toolDecl struct {
	FunctionDeclarations []functionDecl `json:"functionDeclarations"`
}

type functionDecl struct {
	Name                 string         `json:"name"`
	Description          string         `json:"description,omitempty"`
	ParametersJSONSchema map[string]any `json:"parametersJsonSchema,omitempty"`
}

type toolConfig struct {
	FunctionCallingConfig functionCallingConfig `json:"functionCallingConfig"`
}

type functionCallingConfig struct {
	Mode                 string   `json:"mode"`
	AllowedFunctionNames []string `json:"allowedFunctionNames,omitempty"`
}

// buildRequest constructs the generateContent body. Shared between
// GenerateResponse and StreamResponse; the model goes in the URL.
func buildRequest(req *llmprovider.GenerateRequest, params *llmprovider.RequestParams) (*generateContentRequest, error) {
	body := &generateContentRequest{
		Contents: make([]Content, 0, len(req.Messages)),
		GenerationConfig: generationConfig{
			MaxOutputTokens: params.GetMaxTokens(llmprovider.DefaultMaxTokens),
			Temperature:     params.Temperature,
			TopP:            params.TopP,
			StopSequences:   params.Stop,
		},
	}

	for i, msg := range req.Messages {
		var role string
		switch msg.Role {
		case llmprovider.RoleUser:
			role = "user"
		case llmprovider.RoleAssistant:
			role = "model"
		default:
			return nil, fmt.Errorf("message %d: unsupported role '%s'", i, msg.Role)
		}
		body.Contents = append(body.Contents, Content{Role: role, Parts: []Part{{Text: msg.Content}}})
	}

	if params.System != nil && *params.System != "" {
		body.SystemInstruction = &Content{Parts: []Part{{Text: *params.System}}}
	}

	if budget := params.GetThinkingBudgetTokens(); budget > 0 {
		body.GenerationConfig.ThinkingConfig = &thinkingConfig{IncludeThoughts: true, ThinkingBudget: budget}
	}

	if len(params.Tools) > 0 {
		body.Tools = []toolDecl{{FunctionDeclarations: lo.Map(params.Tools, func(t llmprovider.Tool, _ int) functionDecl {
			return functionDecl{
				Name:                 t.Function.Name,
				Description:          t.Function.Description,
				ParametersJSONSchema: t.Function.Parameters,
			}
		})}}
	}

	if tc := params.ToolChoice; tc != nil {
		cfg := functionCallingConfig{}
		switch tc.Mode {
		case llmprovider.ToolChoiceModeAuto:
			cfg.Mode = "AUTO"
		case llmprovider.ToolChoiceModeRequired:
			cfg.Mode = "ANY"
		case llmprovider.ToolChoiceModeNone:
			cfg.Mode = "NONE"
		case llmprovider.ToolChoiceModeSpecific:
			cfg.Mode = "ANY"
			cfg.AllowedFunctionNames = []string{*tc.ToolName}
		default:
			return nil, fmt.Errorf("unsupported tool choice mode: %s", tc.Mode)
		}
		body.ToolConfig = &toolConfig{FunctionCallingConfig: cfg}
	}

	return body, nil
}
