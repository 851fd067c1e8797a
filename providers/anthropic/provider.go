package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"
	"github.com/tidwall/sjson"

	"github.com/haowjy/meridian-stream-go"
)

// Provider implements the llmprovider.Provider interface for Anthropic (Claude) models.
type Provider struct {
	opts   llmprovider.ClientOptions
	client *anthropic.Client
}

// NewProvider creates a new Anthropic provider. An empty apiKey falls back
// to the configured environment variable.
func NewProvider(apiKey string, opts ...llmprovider.ClientOption) (*Provider, error) {
	if apiKey != "" {
		opts = append([]llmprovider.ClientOption{llmprovider.WithAPIKey(apiKey)}, opts...)
	}
	o := llmprovider.NewClientOptions(llmprovider.ProviderAnthropic, opts...)
	if o.APIKey == "" {
		return nil, llmprovider.ErrInvalidAPIKey
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(o.APIKey),
		option.WithBaseURL(o.BaseURL),
		option.WithHTTPClient(o.HTTPClient),
		option.WithMaxRetries(int(o.Retry.MaxRetries)),
	}
	for k, v := range o.Headers {
		clientOpts = append(clientOpts, option.WithHeader(k, v))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Provider{
		opts:   o,
		client: &client,
	}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() llmprovider.ProviderID {
	return llmprovider.ProviderAnthropic
}

// SupportsModel returns true if this provider supports the given model.
// Anthropic models start with "claude-"
func (p *Provider) SupportsModel(model string) bool {
	return llmprovider.GetProviderConfig(llmprovider.ProviderAnthropic).SupportsModel(model)
}

// GenerateResponse generates a response from Claude.
func (p *Provider) GenerateResponse(ctx context.Context, req *llmprovider.GenerateRequest) (*llmprovider.GenerateResponse, error) {
	apiParams, err := p.prepare(req)
	if err != nil {
		return nil, err
	}

	message, err := p.client.Messages.New(ctx, apiParams)
	if err != nil {
		return nil, p.convertError(err)
	}

	response, err := responseFromMessage(req.Tools(), message, p.opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to convert response: %w", err)
	}
	return response, nil
}

// StreamResponse opens a streaming response from Claude.
//
// The request body is the SDK's MessageNewParams with "stream" set; the SSE
// body is read by this library's decoder and normalizer rather than the SDK's.
func (p *Provider) StreamResponse(ctx context.Context, req *llmprovider.GenerateRequest) (llmprovider.EventStream, error) {
	apiParams, err := p.prepare(req)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(apiParams)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	body, err = sjson.SetBytes(body, "stream", true)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	p.opts.Logger.Debug().Str("model", req.Model).Int("messages", len(req.Messages)).Msg("opening stream")
	rc, err := llmprovider.OpenStream(ctx, llmprovider.StreamRequest{
		Provider: llmprovider.ProviderAnthropic,
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

	name := llmprovider.ProviderAnthropic.String()
	return llmprovider.NewEventStream(ctx, rc,
		NewNormalizer(name, req.Tools(), p.opts.Logger),
		llmprovider.WithProviderName(name),
		llmprovider.WithStreamLogger(p.opts.Logger),
		llmprovider.WithStreamMetrics(p.opts.Metrics),
	), nil
}

func (p *Provider) prepare(req *llmprovider.GenerateRequest) (anthropic.MessageNewParams, error) {
	if !p.SupportsModel(req.Model) {
		return anthropic.MessageNewParams{}, &llmprovider.ModelError{
			Model:    req.Model,
			Provider: p.Name().String(),
			Reason:   "model not supported by Anthropic (must start with 'claude-')",
			Err:      llmprovider.ErrInvalidModel,
		}
	}
	if err := llmprovider.ValidateRequestParams(req.Params); err != nil {
		return anthropic.MessageNewParams{}, err
	}

	defaults := llmprovider.DefaultRequestParams()
	defaults.MaxTokens = &p.opts.MaxTokens
	params, err := req.Params.WithDefaults(defaults)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}
	return buildMessageParams(req, params)
}

func (p *Provider) buildHTTPRequest(ctx context.Context, body []byte) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(p.opts.BaseURL, "/")+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("x-api-key", p.opts.APIKey)
	httpReq.Header.Set("anthropic-version", p.opts.AnthropicVersion)
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range p.opts.Headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

// convertError maps SDK errors onto the library taxonomy using the raw
// error body the SDK kept.
func (p *Provider) convertError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return llmprovider.ParseErrorResponse(p.Name().String(), apiErr.StatusCode, []byte(apiErr.RawJSON()))
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return llmprovider.NewNetworkError(p.Name().String(), err)
}

// responseFromMessage replays a non-streaming message through a StreamState
// so blocks are indexed and tool input is checked the same way as in a stream.
func responseFromMessage(tools []llmprovider.Tool, msg *anthropic.Message, logger zerolog.Logger) (*llmprovider.GenerateResponse, error) {
	state := llmprovider.NewStreamState(llmprovider.StateConfig{
		Provider: llmprovider.ProviderAnthropic.String(),
		Tools:    tools,
		Logger:   &logger,
	})
	state.Observe(msg.ID, string(msg.Model))

	var events []llmprovider.Event
	collect := func(evs []llmprovider.Event, err error) error {
		events = append(events, evs...)
		return err
	}

	for _, content := range msg.Content {
		var err error
		switch block := content.AsAny().(type) {
		case anthropic.TextBlock:
			if err = collect(state.StartBlock(llmprovider.BlockKindText)); err == nil {
				err = collect(state.AppendText(block.Text))
			}
		case anthropic.ThinkingBlock:
			if err = collect(state.StartBlock(llmprovider.BlockKindThinking)); err == nil {
				if err = collect(state.AppendThinking(block.Thinking)); err == nil {
					err = collect(state.AppendSignature(block.Signature))
				}
			}
		case anthropic.ToolUseBlock:
			input, merr := json.Marshal(block.Input)
			if merr != nil {
				return nil, fmt.Errorf("tool_use %s input: %w", block.ID, merr)
			}
			if err = collect(state.StartToolCall(block.ID, block.Name)); err == nil {
				err = collect(state.AppendToolInput(string(input)))
			}
		default:
			logger.Debug().Str("block_type", content.Type).Msg("skipping unsupported content block")
		}
		if err != nil {
			return nil, err
		}
	}

	usage := &llmprovider.TokenUsage{
		PromptTokens:        llmprovider.Count(msg.Usage.InputTokens),
		CompletionTokens:    llmprovider.Count(msg.Usage.OutputTokens),
		CacheCreationTokens: llmprovider.Count(msg.Usage.CacheCreationInputTokens),
		CacheReadTokens:     llmprovider.Count(msg.Usage.CacheReadInputTokens),
	}
	reason := llmprovider.StopReasonEndTurn
	if msg.StopReason != "" {
		reason = llmprovider.ParseStopReason(string(msg.StopReason))
	}
	if err := collect(state.Finish(reason, msg.StopSequence, usage)); err != nil {
		return nil, err
	}
	return llmprovider.Accumulate(events)
}
