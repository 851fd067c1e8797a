package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/haowjy/meridian-stream-go"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"github.com/tidwall/sjson"
)

// Provider implements llmprovider.Provider for OpenAI-compatible chat
// completion APIs: OpenRouter, which proxies many vendors under
// "provider/model" names, and OpenAI itself.
type Provider struct {
	id     llmprovider.ProviderID
	opts   llmprovider.ClientOptions
	client *openai.Client
}

// NewProvider creates an OpenRouter provider. An empty apiKey falls back to
// the configured environment variable.
func NewProvider(apiKey string, opts ...llmprovider.ClientOption) (*Provider, error) {
	return newProvider(llmprovider.ProviderOpenRouter, apiKey, opts)
}

// NewOpenAIProvider creates a provider for the OpenAI API.
func NewOpenAIProvider(apiKey string, opts ...llmprovider.ClientOption) (*Provider, error) {
	return newProvider(llmprovider.ProviderOpenAI, apiKey, opts)
}

func newProvider(id llmprovider.ProviderID, apiKey string, opts []llmprovider.ClientOption) (*Provider, error) {
	if apiKey != "" {
		opts = append([]llmprovider.ClientOption{llmprovider.WithAPIKey(apiKey)}, opts...)
	}
	o := llmprovider.NewClientOptions(id, opts...)
	if o.APIKey == "" {
		return nil, llmprovider.ErrInvalidAPIKey
	}

	config := openai.DefaultConfig(o.APIKey)
	config.BaseURL = strings.TrimRight(o.BaseURL, "/")
	config.HTTPClient = o.HTTPClient

	return &Provider{
		id:     id,
		opts:   o,
		client: openai.NewClientWithConfig(config),
	}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() llmprovider.ProviderID {
	return p.id
}

// SupportsModel returns true if this provider supports the given model.
// OpenRouter uses "provider/model" names (e.g., "anthropic/claude-3.5-sonnet");
// OpenAI models are matched by configured prefix.
func (p *Provider) SupportsModel(model string) bool {
	if p.id == llmprovider.ProviderOpenRouter {
		return strings.Contains(model, "/")
	}
	return llmprovider.GetProviderConfig(p.id).SupportsModel(model)
}

// GenerateResponse generates a non-streaming response.
func (p *Provider) GenerateResponse(ctx context.Context, req *llmprovider.GenerateRequest) (*llmprovider.GenerateResponse, error) {
	chatReq, err := p.prepare(req, false)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, p.convertError(err)
	}
	return responseFromCompletion(p.id.String(), req.Tools(), resp, p.opts.Logger)
}

// StreamResponse opens a streaming response.
func (p *Provider) StreamResponse(ctx context.Context, req *llmprovider.GenerateRequest) (llmprovider.EventStream, error) {
	chatReq, err := p.prepare(req, true)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(chatReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	p.opts.Logger.Debug().Str("model", req.Model).Int("messages", len(req.Messages)).Msg("opening stream")
	rc, err := llmprovider.OpenStream(ctx, llmprovider.StreamRequest{
		Provider: p.id,
		Client:   p.opts.HTTPClient,
		Build: func(ctx context.Context) (*http.Request, error) {
			return p.buildHTTPRequest(ctx, body)
		},
		Retry:   p.opts.Retry,
		Logger:  p.opts.Logger,
		Metrics: p.opts.Metrics,
	})
	if err != nil {
		return nil, err
	}

	return llmprovider.NewEventStream(ctx, rc,
		NewReassembler(p.id.String(), req.Tools(), p.opts.Logger),
		llmprovider.WithProviderName(p.id.String()),
		llmprovider.WithStreamLogger(p.opts.Logger),
		llmprovider.WithStreamMetrics(p.opts.Metrics),
	), nil
}

func (p *Provider) prepare(req *llmprovider.GenerateRequest, stream bool) (openai.ChatCompletionRequest, error) {
	if !p.SupportsModel(req.Model) {
		return openai.ChatCompletionRequest{}, &llmprovider.ModelError{
			Model:    req.Model,
			Provider: p.id.String(),
			Reason:   "model not supported by this provider",
			Err:      llmprovider.ErrInvalidModel,
		}
	}
	if err := llmprovider.ValidateRequestParams(req.Params); err != nil {
		return openai.ChatCompletionRequest{}, err
	}

	defaults := llmprovider.DefaultRequestParams()
	defaults.MaxTokens = &p.opts.MaxTokens
	params, err := req.Params.WithDefaults(defaults)
	if err != nil {
		return openai.ChatCompletionRequest{}, err
	}
	return buildChatCompletionRequest(req, params, stream)
}

// buildHTTPRequest creates a streaming request for the chat completions endpoint.
func (p *Provider) buildHTTPRequest(ctx context.Context, body []byte) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(p.opts.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Authorization", "Bearer "+p.opts.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range p.opts.Headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

// convertError maps go-openai errors onto the library taxonomy. The client
// has already decoded the body, so an equivalent error body is rebuilt for
// ParseErrorResponse.
func (p *Provider) convertError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		body, _ := sjson.SetBytes([]byte(`{}`), "error.message", apiErr.Message)
		if apiErr.Type != "" {
			body, _ = sjson.SetBytes(body, "error.type", apiErr.Type)
		}
		return llmprovider.ParseErrorResponse(p.id.String(), apiErr.HTTPStatusCode, body)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return llmprovider.ParseErrorResponse(p.id.String(), reqErr.HTTPStatusCode, reqErr.Body)
	}

	if errors.Is(err, context.Canceled) {
		return err
	}
	return llmprovider.NewNetworkError(p.id.String(), err)
}

// responseFromCompletion replays a non-streaming completion through a
// StreamState so tool arguments are parsed and checked the same way as in
// a stream.
func responseFromCompletion(provider string, tools []llmprovider.Tool, resp openai.ChatCompletionResponse, logger zerolog.Logger) (*llmprovider.GenerateResponse, error) {
	state := llmprovider.NewStreamState(llmprovider.StateConfig{Provider: provider, Tools: tools, Logger: &logger})
	state.Observe(resp.ID, resp.Model)

	var events []llmprovider.Event
	collect := func(evs []llmprovider.Event, err error) error {
		events = append(events, evs...)
		return err
	}

	reason := llmprovider.StopReasonEndTurn
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		reason = llmprovider.StopReasonFromFinishReason(string(choice.FinishReason))
		if err := collect(state.AppendText(choice.Message.Content)); err != nil {
			return nil, err
		}
		for _, tc := range choice.Message.ToolCalls {
			if err := collect(state.StartToolCall(tc.ID, tc.Function.Name)); err != nil {
				return nil, err
			}
			if err := collect(state.AppendToolInput(tc.Function.Arguments)); err != nil {
				return nil, err
			}
		}
	}

	if err := collect(state.Finish(reason, "", usageFromOpenAI(resp.Usage))); err != nil {
		return nil, err
	}
	return llmprovider.Accumulate(events)
}

func usageFromOpenAI(u openai.Usage) *llmprovider.TokenUsage {
	usage := &llmprovider.TokenUsage{
		PromptTokens:     llmprovider.Count(int64(u.PromptTokens)),
		CompletionTokens: llmprovider.Count(int64(u.CompletionTokens)),
		TotalTokens:      llmprovider.Count(int64(u.TotalTokens)),
	}
	if u.PromptTokensDetails != nil {
		usage.CacheReadTokens = llmprovider.Count(int64(u.PromptTokensDetails.CachedTokens))
	}
	if u.CompletionTokensDetails != nil {
		usage.ReasoningTokens = llmprovider.Count(int64(u.CompletionTokensDetails.ReasoningTokens))
	}
	return usage
}
