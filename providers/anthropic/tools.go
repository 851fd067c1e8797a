package anthropic

import (
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/haowjy/meridian-stream-go"
)

// convertTools converts function tools to Anthropic custom tools.
func convertTools(tools []llmprovider.Tool) ([]anthropic.ToolUnionParam, error) {
	if len(tools) == 0 {
		return nil, nil
	}

	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for i := range tools {
		if err := tools[i].Validate(); err != nil {
			return nil, fmt.Errorf("tool %d (%s): %w", i, tools[i].Function.Name, err)
		}
		result = append(result, convertCustomTool(&tools[i]))
	}
	return result, nil
}

// convertCustomTool converts an OpenAI-format function tool to Anthropic's
// input_schema form.
//
// Anthropic wants the properties object and "required" as their own fields;
// every other schema keyword (additionalProperties, $defs, ...) goes into
// ExtraFields.
func convertCustomTool(tool *llmprovider.Tool) anthropic.ToolUnionParam {
	schema := anthropic.ToolInputSchemaParam{
		Properties:  tool.Function.Parameters["properties"],
		ExtraFields: make(map[string]any),
	}

	switch required := tool.Function.Parameters["required"].(type) {
	case []string:
		schema.Required = required
	case []any:
		for _, v := range required {
			if s, ok := v.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}

	for key, value := range tool.Function.Parameters {
		if key != "type" && key != "properties" && key != "required" {
			schema.ExtraFields[key] = value
		}
	}

	toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Function.Name)
	if tool.Function.Description != "" && toolParam.OfTool != nil {
		toolParam.OfTool.Description = anthropic.String(tool.Function.Description)
	}
	return toolParam
}

// convertToolChoice converts a ToolChoice to Anthropic format.
// Returns nil if no tool choice is specified (lets the model decide).
func convertToolChoice(choice *llmprovider.ToolChoice) (*anthropic.ToolChoiceUnionParam, error) {
	if choice == nil {
		return nil, nil
	}
	if err := choice.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tool choice: %w", err)
	}

	switch choice.Mode {
	case llmprovider.ToolChoiceModeAuto:
		return &anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}, nil

	case llmprovider.ToolChoiceModeRequired:
		// Anthropic calls this "any"
		return &anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}, nil

	case llmprovider.ToolChoiceModeNone:
		none := anthropic.NewToolChoiceNoneParam()
		return &anthropic.ToolChoiceUnionParam{OfNone: &none}, nil

	case llmprovider.ToolChoiceModeSpecific:
		param := anthropic.ToolChoiceParamOfTool(*choice.ToolName)
		return &param, nil

	default:
		return nil, fmt.Errorf("unsupported tool choice mode: %s", choice.Mode)
	}
}
