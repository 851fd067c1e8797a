package google

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/haowjy/meridian-stream-go"
)

// Provider implements llmprovider.Provider for the Gemini API.
type Provider struct {
	opts llmprovider.ClientOptions
}

// NewProvider creates a Gemini provider. An empty apiKey falls back to the
// configured environment variable.
func NewProvider(apiKey string, opts ...llmprovider.ClientOption) (*Provider, error) {
	if apiKey != "" {
		opts = append([]llmprovider.ClientOption{llmprovider.WithAPIKey(apiKey)}, opts...)
	}
	o := llmprovider.NewClientOptions(llmprovider.ProviderGoogle, opts...)
	if o.APIKey == "" {
		return nil, llmprovider.ErrInvalidAPIKey
	}
	return &Provider{opts: o}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() llmprovider.ProviderID {
	return llmprovider.ProviderGoogle
}

// SupportsModel returns true for gemini-* models.
func (p *Provider) SupportsModel(model string) bool {
	return llmprovider.GetProviderConfig(llmprovider.ProviderGoogle).SupportsModel(model)
}

// GenerateResponse calls generateContent and replays the single response
// through the stream reassembler.
func (p *Provider) GenerateResponse(ctx context.Context, req *llmprovider.GenerateRequest) (*llmprovider.GenerateResponse, error) {
	body, err := p.prepare(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := p.buildHTTPRequest(ctx, req.Model, "generateContent", body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := p.opts.HTTPClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, llmprovider.NewNetworkError(p.Name().String(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := llmprovider.ReadErrorBody(resp)
		return nil, llmprovider.ParseErrorResponse(p.Name().String(), resp.StatusCode, data)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, llmprovider.NewNetworkError(p.Name().String(), err)
	}
	chunk, ok, err := ParseChunk(string(data))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &llmprovider.InvalidEventDataError{Provider: p.Name().String(), Detail: "empty response body"}
	}

	r := NewReassembler(p.Name().String(), req.Tools(), p.opts.Logger)
	events, err := r.Apply(chunk)
	if err != nil {
		return nil, err
	}
	end, err := r.End()
	if err != nil {
		return nil, err
	}
	return llmprovider.Accumulate(append(events, end...))
}

// StreamResponse opens streamGenerateContent with alt=sse.
func (p *Provider) StreamResponse(ctx context.Context, req *llmprovider.GenerateRequest) (llmprovider.EventStream, error) {
	body, err := p.prepare(req)
	if err != nil {
		return nil, err
	}

	p.opts.Logger.Debug().Str("model", req.Model).Int("messages", len(req.Messages)).Msg("opening stream")
	rc, err := llmprovider.OpenStream(ctx, llmprovider.StreamRequest{
		Provider: p.Name(),
		Client:   p.opts.HTTPClient,
		Build: func(ctx context.Context) (*http.Request, error) {
			return p.buildHTTPRequest(ctx, req.Model, "streamGenerateContent", body)
		},
		Retry:   p.opts.Retry,
		Logger:  p.opts.Logger,
		Metrics: p.opts.Metrics,
	})
	if err != nil {
		return nil, err
	}

	name := p.Name().String()
	return llmprovider.NewEventStream(ctx, rc,
		NewReassembler(name, req.Tools(), p.opts.Logger),
		llmprovider.WithProviderName(name),
		llmprovider.WithStreamLogger(p.opts.Logger),
		llmprovider.WithStreamMetrics(p.opts.Metrics),
	), nil
}

func (p *Provider) prepare(req *llmprovider.GenerateRequest) ([]byte, error) {
	if !p.SupportsModel(req.Model) {
		return nil, &llmprovider.ModelError{
			Model:    req.Model,
			Provider: p.Name().String(),
			Reason:   "model not supported by Gemini (must start with 'gemini-')",
			Err:      llmprovider.ErrInvalidModel,
		}
	}
	if err := llmprovider.ValidateRequestParams(req.Params); err != nil {
		return nil, err
	}

	defaults := llmprovider.DefaultRequestParams()
	defaults.MaxTokens = &p.opts.MaxTokens
	params, err := req.Params.WithDefaults(defaults)
	if err != nil {
		return nil, err
	}

	body, err := buildRequest(req, params)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return data, nil
}

func (p *Provider) buildHTTPRequest(ctx context.Context, model, method string, body []byte) (*http.Request, error) {
	endpoint := fmt.Sprintf("%s/models/%s:%s", strings.TrimRight(p.opts.BaseURL, "/"), url.PathEscape(model), method)
	if method == "streamGenerateContent" {
		endpoint += "?alt=sse"
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("x-goog-api-key", p.opts.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range p.opts.Headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}
