package lorem

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	loremgen "github.com/bozaro/golorem"
	"github.com/samber/lo"

	"github.com/haowjy/meridian-stream-go"
	"github.com/haowjy/meridian-stream-go/providers/openrouter"
	"github.com/haowjy/meridian-stream-go/sse"
)

const (
	wordsPerBlock = 20
	maxRotations  = 2

	// opaque reasoning payload sent at the end of every thinking block
	mockSignature = "4k_a"
)

// Provider is a mock LLM provider that generates lorem ipsum text.
// Used for testing and development without requiring real API keys.
//
// Responses are produced as OpenAI-style chunk SSE and decoded by the same
// reader and reassembler a real OpenAI-compatible stream goes through, so the
// bytes arrive split at arbitrary points and paced by the model's speed.
type Provider struct {
	opts llmprovider.ClientOptions

	mu        sync.Mutex
	generator *loremgen.Lorem
}

// NewProvider creates a new lorem ipsum provider.
func NewProvider(opts ...llmprovider.ClientOption) *Provider {
	return &Provider{
		opts:      llmprovider.NewClientOptions(llmprovider.ProviderLorem, opts...),
		generator: loremgen.New(),
	}
}

// Name returns the provider identifier.
func (p *Provider) Name() llmprovider.ProviderID {
	return llmprovider.ProviderLorem
}

// SupportsModel returns true if the model name starts with "lorem-".
// Example models: "lorem-fast", "lorem-slow", "lorem-cutoff", "lorem-error"
func (p *Provider) SupportsModel(model string) bool {
	return llmprovider.GetProviderConfig(llmprovider.ProviderLorem).SupportsModel(model)
}

// GenerateResponse generates a complete response. The stream is built the
// same way as StreamResponse but without pacing.
func (p *Provider) GenerateResponse(ctx context.Context, req *llmprovider.GenerateRequest) (*llmprovider.GenerateResponse, error) {
	stream, err := p.open(ctx, req, 0)
	if err != nil {
		return nil, err
	}
	return llmprovider.CollectResponse(stream)
}

// StreamResponse generates a streaming lorem ipsum response with rotating block types.
// Speed varies based on model name (lorem-slow, lorem-fast, lorem-medium, lorem-instant).
// Rotates through: text (20 words) → thinking (if requested) → tool call (if tools given)
func (p *Provider) StreamResponse(ctx context.Context, req *llmprovider.GenerateRequest) (llmprovider.EventStream, error) {
	return p.open(ctx, req, getStreamDelay(req.Model))
}

func (p *Provider) open(ctx context.Context, req *llmprovider.GenerateRequest, delay time.Duration) (llmprovider.EventStream, error) {
	if !p.SupportsModel(req.Model) {
		return nil, &llmprovider.ModelError{
			Model:    req.Model,
			Provider: p.Name().String(),
			Reason:   "model not supported by Lorem provider (must start with 'lorem-')",
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

	frames, err := p.script(req, params)
	if err != nil {
		return nil, err
	}

	p.opts.Logger.Debug().
		Str("model", req.Model).
		Int("frames", len(frames)).
		Dur("delay", delay).
		Msg("lorem stream started")

	name := p.Name().String()
	body := newChunkedBody(ctx, frames, delay)
	return llmprovider.NewEventStream(ctx, body,
		openrouter.NewReassembler(name, params.Tools, p.opts.Logger),
		llmprovider.WithProviderName(name),
		llmprovider.WithStreamLogger(p.opts.Logger),
		llmprovider.WithStreamMetrics(p.opts.Metrics),
	), nil
}

// getStreamDelay returns the delay between words based on the model name.
// - lorem-slow: 2 words/second (500ms per word)
// - lorem-fast: 30 words/second (33ms per word)
// - lorem-medium: 10 words/second (100ms per word)
// - lorem-instant: no delay
// - default: 10 words/second
func getStreamDelay(model string) time.Duration {
	switch {
	case strings.Contains(model, "instant"):
		return 0
	case strings.Contains(model, "slow"):
		return 500 * time.Millisecond
	case strings.Contains(model, "fast"):
		return 33 * time.Millisecond
	default:
		return 100 * time.Millisecond
	}
}

// isCutoffModel returns true if the model should simulate max_tokens cutoff.
func isCutoffModel(model string) bool {
	return strings.Contains(model, "cutoff") || strings.Contains(model, "small")
}

// isErrorModel returns true if the model should fail after its first block.
func isErrorModel(model string) bool {
	return strings.Contains(model, "error")
}

// scriptWriter accumulates the SSE frames of one synthesized response.
type scriptWriter struct {
	id      string
	model   string
	created int64
	frames  [][]byte
}

func (s *scriptWriter) write(chunk *openrouter.ChatCompletionChunk) error {
	chunk.ID, chunk.Object, chunk.Created, chunk.Model = s.id, "chat.completion.chunk", s.created, s.model
	if chunk.Choices == nil {
		chunk.Choices = []openrouter.ChunkChoice{}
	}
	data, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("lorem: marshal chunk: %w", err)
	}
	var buf bytes.Buffer
	if err := sse.NewWriter(&buf).WriteData(data); err != nil {
		return err
	}
	s.frames = append(s.frames, buf.Bytes())
	return nil
}

func (s *scriptWriter) delta(d openrouter.Delta, finishReason *string) error {
	return s.write(&openrouter.ChatCompletionChunk{
		Choices: []openrouter.ChunkChoice{{Delta: d, FinishReason: finishReason}},
	})
}

func (s *scriptWriter) done() error {
	var buf bytes.Buffer
	if err := sse.NewWriter(&buf).WriteDone(); err != nil {
		return err
	}
	s.frames = append(s.frames, buf.Bytes())
	return nil
}

// script builds every SSE frame of the response up front. Output tokens are
// counted as words, and as a quarter of the characters for tool arguments.
func (p *Provider) script(req *llmprovider.GenerateRequest, params *llmprovider.RequestParams) ([][]byte, error) {
	s := &scriptWriter{
		id:      fmt.Sprintf("lorem-%d", time.Now().UnixNano()),
		model:   req.Model,
		created: time.Now().Unix(),
	}
	maxTokens := params.GetMaxTokens(llmprovider.DefaultMaxTokens)
	thinking := params.ThinkingLevel != nil
	cutoff := isCutoffModel(req.Model)

	if err := s.delta(openrouter.Delta{Role: lo.ToPtr("assistant"), Content: lo.ToPtr("")}, nil); err != nil {
		return nil, err
	}

	output := 0
	finish := "stop"
	toolIndex := 0

rotation:
	for round := 0; cutoff || round < maxRotations; round++ {
		// text
		words := wordsPerBlock
		if cutoff {
			words = maxTokens - output
		}
		n, err := p.writeWords(s, min(words, maxTokens-output), false)
		if err != nil {
			return nil, err
		}
		output += n
		if output >= maxTokens {
			finish = "length"
			break
		}
		if isErrorModel(req.Model) {
			err := s.write(&openrouter.ChatCompletionChunk{Error: &openrouter.ChunkError{
				Code:    503,
				Type:    "server_error",
				Message: "lorem: simulated upstream failure",
			}})
			if err != nil {
				return nil, err
			}
			if err := s.done(); err != nil {
				return nil, err
			}
			return s.frames, nil
		}

		if thinking {
			n, err := p.writeWords(s, min(wordsPerBlock, maxTokens-output), true)
			if err != nil {
				return nil, err
			}
			output += n
			if output >= maxTokens {
				finish = "length"
				break
			}
		}

		if len(params.Tools) > 0 {
			tool := params.Tools[toolIndex%len(params.Tools)]
			n, err := writeToolCall(s, toolIndex, tool)
			if err != nil {
				return nil, err
			}
			toolIndex++
			output += n
			finish = "tool_calls"
			break rotation
		}
	}

	if err := s.delta(openrouter.Delta{}, &finish); err != nil {
		return nil, err
	}
	prompt := estimateTokens(req.Messages)
	usage := &openrouter.Usage{
		PromptTokens:     lo.ToPtr(int64(prompt)),
		CompletionTokens: lo.ToPtr(int64(output)),
		TotalTokens:      lo.ToPtr(int64(prompt + output)),
	}
	if err := s.write(&openrouter.ChatCompletionChunk{Usage: usage}); err != nil {
		return nil, err
	}
	if err := s.done(); err != nil {
		return nil, err
	}
	return s.frames, nil
}

// writeWords writes count words, one chunk per word, as content or as
// reasoning. Returns the number of words written.
func (p *Provider) writeWords(s *scriptWriter, count int, reasoning bool) (int, error) {
	if count <= 0 {
		return 0, nil
	}
	words := strings.Fields(p.generateTextWords(count))[:count]
	for _, word := range words {
		d := openrouter.Delta{Content: lo.ToPtr(word + " ")}
		if reasoning {
			d = openrouter.Delta{Reasoning: lo.ToPtr(word + " ")}
		}
		if err := s.delta(d, nil); err != nil {
			return 0, err
		}
	}
	if reasoning {
		// OpenRouter closes signed reasoning with an encrypted detail. It has
		// no readable text and is skipped by the reassembler.
		err := s.delta(openrouter.Delta{ReasoningDetails: []openrouter.ReasoningDetail{{
			Type: "reasoning.encrypted",
			Data: lo.ToPtr(mockSignature),
		}}}, nil)
		if err != nil {
			return 0, err
		}
	}
	return len(words), nil
}

// writeToolCall streams a tool call's arguments a few characters at a time.
func writeToolCall(s *scriptWriter, index int, tool llmprovider.Tool) (int, error) {
	args, err := json.Marshal(mockInput(tool))
	if err != nil {
		return 0, fmt.Errorf("failed to marshal tool input: %w", err)
	}

	err = s.delta(openrouter.Delta{ToolCalls: []openrouter.ToolCallDelta{{
		Index:    lo.ToPtr(index),
		ID:       fmt.Sprintf("call_%s_%d", tool.Function.Name, index),
		Type:     "function",
		Function: openrouter.FunctionCallDelta{Name: tool.Function.Name},
	}}}, nil)
	if err != nil {
		return 0, err
	}

	for _, part := range lo.ChunkString(string(args), 8) {
		err := s.delta(openrouter.Delta{ToolCalls: []openrouter.ToolCallDelta{{
			Index:    lo.ToPtr(index),
			Function: openrouter.FunctionCallDelta{Arguments: part},
		}}}, nil)
		if err != nil {
			return 0, err
		}
	}
	return max(1, len(args)/4), nil
}

// mockInput fills the tool's declared properties with placeholder values of
// the declared type, so the call passes schema validation.
func mockInput(tool llmprovider.Tool) map[string]any {
	props, _ := tool.Function.Parameters["properties"].(map[string]any)
	if len(props) == 0 {
		return map[string]any{"data": "mock input for " + tool.Function.Name}
	}

	input := make(map[string]any, len(props))
	for name, raw := range props {
		schema, _ := raw.(map[string]any)
		switch schema["type"] {
		case "integer", "number":
			input[name] = 10
		case "boolean":
			input[name] = true
		case "array":
			input[name] = []any{"lorem", "ipsum"}
		case "object":
			input[name] = map[string]any{}
		default:
			input[name] = "lorem ipsum"
		}
	}
	return input
}

// generateTextWords generates lorem ipsum text with at least targetWords words.
func (p *Provider) generateTextWords(targetWords int) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var sb strings.Builder
	wordCount := 0
	for wordCount < targetWords {
		sentence := p.generator.Sentence(5, 15)
		sb.WriteString(sentence)
		sb.WriteString(" ")
		wordCount += len(strings.Fields(sentence))
	}
	return strings.TrimSpace(sb.String())
}

// estimateTokens estimates the token count for a list of messages.
// Uses word count as a rough approximation.
func estimateTokens(messages []llmprovider.Message) int {
	return lo.SumBy(messages, func(m llmprovider.Message) int {
		return len(strings.Fields(m.Content))
	})
}
