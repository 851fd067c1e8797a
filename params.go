package llmprovider

import (
	"fmt"

	"dario.cat/mergo"
)

// DefaultMaxTokens is used when neither the request nor the provider config sets a limit.
const DefaultMaxTokens = 4096

// RequestParams holds every recognized per-request option.
// All fields are optional pointers to distinguish "not set" from "set to zero value".
type RequestParams struct {
	// System prompt
	System *string `json:"system,omitempty" yaml:"system,omitempty"`

	// MaxTokens sets the maximum number of tokens to generate
	MaxTokens *int `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`

	// Temperature controls randomness (0.0-2.0)
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`

	// TopP (nucleus sampling) - cumulative probability cutoff (0.0-1.0)
	TopP *float64 `json:"top_p,omitempty" yaml:"top_p,omitempty"`

	// Stop sequences - generation stops if any of these are generated
	Stop []string `json:"stop,omitempty" yaml:"stop,omitempty"`

	// ThinkingLevel enables extended thinking: "low", "medium", "high"
	// Maps to token budgets: low=2000, medium=5000, high=12000
	ThinkingLevel *string `json:"thinking_level,omitempty" yaml:"thinking_level,omitempty"`

	// Tools available for the model to use
	Tools []Tool `json:"tools,omitempty" yaml:"-"`

	// ToolChoice controls whether/which tools to use
	ToolChoice *ToolChoice `json:"-" yaml:"-"`
}

// DefaultRequestParams returns the defaults applied to unset fields.
func DefaultRequestParams() RequestParams {
	maxTokens := DefaultMaxTokens
	return RequestParams{MaxTokens: &maxTokens}
}

// WithDefaults returns a copy of rp with unset fields taken from defaults.
// rp may be nil.
func (rp *RequestParams) WithDefaults(defaults RequestParams) (*RequestParams, error) {
	merged := RequestParams{}
	if rp != nil {
		merged = *rp
	}
	if err := mergo.Merge(&merged, defaults); err != nil {
		return nil, fmt.Errorf("failed to apply default params: %w", err)
	}
	return &merged, nil
}

// ValidateRequestParams validates request parameters
func ValidateRequestParams(params *RequestParams) error {
	if params == nil {
		return nil
	}

	if params.Temperature != nil {
		if *params.Temperature < 0.0 || *params.Temperature > 2.0 {
			return invalidParam("temperature", *params.Temperature, "must be between 0.0 and 2.0")
		}
	}

	if params.TopP != nil {
		if *params.TopP < 0.0 || *params.TopP > 1.0 {
			return invalidParam("top_p", *params.TopP, "must be between 0.0 and 1.0")
		}
	}

	if params.MaxTokens != nil {
		if *params.MaxTokens < 1 {
			return invalidParam("max_tokens", *params.MaxTokens, "must be positive")
		}
	}

	if params.ThinkingLevel != nil {
		validLevels := map[string]bool{"low": true, "medium": true, "high": true}
		if !validLevels[*params.ThinkingLevel] {
			return invalidParam("thinking_level", *params.ThinkingLevel, "must be 'low', 'medium', or 'high'")
		}
	}

	for i := range params.Tools {
		if err := params.Tools[i].Validate(); err != nil {
			return invalidParam("tools", params.Tools[i].Function.Name, err.Error())
		}
	}

	if params.ToolChoice != nil {
		if err := params.ToolChoice.Validate(); err != nil {
			return invalidParam("tool_choice", params.ToolChoice.Mode, err.Error())
		}
	}

	return nil
}

func invalidParam(field string, value any, reason string) error {
	return &ValidationError{Field: field, Value: value, Reason: reason, Err: ErrInvalidRequest}
}

// GetMaxTokens returns max_tokens with default fallback
func (rp *RequestParams) GetMaxTokens(defaultValue int) int {
	if rp != nil && rp.MaxTokens != nil {
		return *rp.MaxTokens
	}
	return defaultValue
}

// GetThinkingBudgetTokens converts thinking_level to token budget
// low = 2000, medium = 5000, high = 12000
func (rp *RequestParams) GetThinkingBudgetTokens() int {
	if rp == nil || rp.ThinkingLevel == nil {
		return 0
	}

	switch *rp.ThinkingLevel {
	case "low":
		return 2000
	case "medium":
		return 5000
	case "high":
		return 12000
	default:
		return 0
	}
}
