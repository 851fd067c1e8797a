package openrouter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/haowjy/meridian-stream-go"
	"github.com/rs/zerolog"
)

// sseBody frames payloads as an SSE stream.
func sseBody(payloads ...string) string {
	var sb strings.Builder
	for _, p := range payloads {
		sb.WriteString("data: ")
		sb.WriteString(p)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func runStream(t *testing.T, body string, tools ...llmprovider.Tool) ([]llmprovider.Event, error) {
	t.Helper()
	stream := llmprovider.NewEventStream(context.Background(), io.NopCloser(strings.NewReader(body)),
		NewReassembler("openrouter", tools, zerolog.Nop()),
		llmprovider.WithProviderName("openrouter"))
	return llmprovider.Collect(stream)
}

// describe renders an event compactly for order assertions.
func describe(ev llmprovider.Event) string {
	switch e := ev.(type) {
	case llmprovider.MessageStart:
		return fmt.Sprintf("message_start %s %s", e.ID, e.Model)
	case llmprovider.ContentBlockStart:
		if e.Kind == llmprovider.BlockKindToolUse {
			return fmt.Sprintf("block_start %d tool_use %s %s", e.Index, e.ToolCallID, e.ToolName)
		}
		return fmt.Sprintf("block_start %d %s", e.Index, e.Kind)
	case llmprovider.ContentBlockDelta:
		if e.Kind == llmprovider.BlockKindToolUse {
			return fmt.Sprintf("delta %d json %s", e.Index, e.PartialJSON)
		}
		return fmt.Sprintf("delta %d %s %q", e.Index, e.Kind, e.Text)
	case llmprovider.ContentBlockStop:
		return fmt.Sprintf("block_stop %d", e.Index)
	case llmprovider.MessageDelta:
		if e.Usage == nil {
			return fmt.Sprintf("message_delta %s no-usage", e.StopReason)
		}
		return fmt.Sprintf("message_delta %s %d/%d", e.StopReason, e.Usage.Prompt(), e.Usage.Completion())
	case llmprovider.MessageStop:
		return "message_stop"
	case llmprovider.ErrorEvent:
		return "error " + e.Kind.String()
	}
	return fmt.Sprintf("unknown %T", ev)
}

func describeAll(events []llmprovider.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = describe(ev)
	}
	return out
}

func assertSequence(t *testing.T, events []llmprovider.Event, want []string) {
	t.Helper()
	got := describeAll(events)
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d:\n got: %q\nwant: %q", len(got), len(want), got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestReassembler_ThreeChunkOrdering(t *testing.T) {
	body := sseBody(
		`{"id":"gen-1","model":"m1","choices":[{"index":0,"delta":{"role":"assistant","content":"Hello"},"finish_reason":null}]}`,
		`{"id":"gen-1","model":"m1","choices":[{"index":0,"delta":{"content":" world"},"finish_reason":null}]}`,
		`{"id":"gen-1","model":"m1","choices":[{"index":0,"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":2}}`,
	)

	events, err := runStream(t, body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertSequence(t, events, []string{
		"message_start gen-1 m1",
		"block_start 0 text",
		`delta 0 text "Hello"`,
		`delta 0 text " world"`,
		"block_stop 0",
		"message_delta end_turn 5/2",
		"message_stop",
	})

	stop := events[4].(llmprovider.ContentBlockStop)
	if stop.Block.Text != "Hello world" {
		t.Errorf("completed text = %q", stop.Block.Text)
	}
}

func TestReassembler_MetadataOnlyChunks(t *testing.T) {
	body := sseBody(
		`{"id":"gen-2","model":"m1","choices":[{"index":0,"delta":{"role":"assistant","content":""},"finish_reason":null}]}`,
		`{"id":"gen-2","model":"m1","choices":[]}`,
		`{"id":"gen-2","model":"m1","choices":[{"index":0,"delta":{"content":"Hi"},"finish_reason":null}]}`,
		`{"id":"gen-2","model":"m1","choices":[{"index":0,"delta":{},"finish_reason":"length"}]}`,
		"[DONE]",
	)

	events, err := runStream(t, body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertSequence(t, events, []string{
		"message_start gen-2 m1",
		"block_start 0 text",
		`delta 0 text "Hi"`,
		"block_stop 0",
		"message_delta max_tokens no-usage",
		"message_stop",
	})
}

func TestReassembler_UsageAfterFinish(t *testing.T) {
	const (
		content = `{"id":"c1","model":"gpt","choices":[{"index":0,"delta":{"content":"ok"},"finish_reason":null}]}`
		finish  = `{"id":"c1","model":"gpt","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`
		empty   = `{"id":"c1","model":"gpt","choices":[{"index":0,"delta":{"content":""},"finish_reason":null}]}`
		role    = `{"id":"c1","model":"gpt","choices":[{"index":0,"delta":{"role":"assistant"}}]}`
		usage   = `{"id":"c1","model":"gpt","choices":[],"usage":{"prompt_tokens":9,"completion_tokens":1,"total_tokens":10,"prompt_tokens_details":{"cached_tokens":4}}}`
	)

	tests := []struct {
		name      string
		payloads  []string
		wantDelta string
	}{
		{"usage chunk", []string{content, finish, usage, "[DONE]"}, "message_delta end_turn 9/1"},
		{"empty delta before usage", []string{content, finish, empty, usage, "[DONE]"}, "message_delta end_turn 9/1"},
		{"role and empty choices before usage", []string{content, finish, role, `{"id":"c1","choices":[]}`, usage, "[DONE]"}, "message_delta end_turn 9/1"},
		{"no usage reported", []string{content, finish, empty, "[DONE]"}, "message_delta end_turn no-usage"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := runStream(t, sseBody(tt.payloads...))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			assertSequence(t, events, []string{
				"message_start c1 gpt",
				"block_start 0 text",
				`delta 0 text "ok"`,
				"block_stop 0",
				tt.wantDelta,
				"message_stop",
			})

			if u := events[4].(llmprovider.MessageDelta).Usage; u != nil {
				if u.Total() != 10 || u.CacheReadTokens == nil || *u.CacheReadTokens != 4 {
					t.Errorf("usage = %+v", u)
				}
			}
		})
	}
}

func TestReassembler_EmptyStream(t *testing.T) {
	events, err := runStream(t, sseBody("[DONE]"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no events, got %q", describeAll(events))
	}
}

func TestReassembler_MalformedJSON(t *testing.T) {
	events, err := runStream(t, "data: {invalid json}\n\n")
	if !errors.Is(err, llmprovider.ErrInvalidEventData) {
		t.Fatalf("expected invalid event data, got %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected exactly one error event, got %q", describeAll(events))
	}
	errEv, ok := events[0].(llmprovider.ErrorEvent)
	if !ok {
		t.Fatalf("expected ErrorEvent, got %T", events[0])
	}
	if !strings.Contains(errEv.Error(), "{invalid json}") {
		t.Errorf("error should quote the payload: %v", errEv)
	}
}

func TestReassembler_ThinkingThenText(t *testing.T) {
	body := sseBody(
		`{"id":"g","model":"kimi","choices":[{"index":0,"delta":{"reasoning_details":[{"type":"reasoning.text","text":"Let me think"}]}}]}`,
		`{"id":"g","model":"kimi","choices":[{"index":0,"delta":{"reasoning":"ignored when details exist","reasoning_details":[{"type":"reasoning.encrypted","data":"xx"},{"type":"reasoning.summary","summary":"."}]}}]}`,
		`{"id":"g","model":"kimi","choices":[{"index":0,"delta":{"content":"Answer"}}]}`,
		`{"id":"g","model":"kimi","choices":[{"index":0,"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":3}}`,
	)

	events, err := runStream(t, body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertSequence(t, events, []string{
		"message_start g kimi",
		"block_start 0 thinking",
		`delta 0 thinking "Let me think"`,
		`delta 0 thinking "."`,
		"block_stop 0",
		"block_start 1 text",
		`delta 1 text "Answer"`,
		"block_stop 1",
		"message_delta end_turn 1/3",
		"message_stop",
	})
}

func TestReassembler_FragmentedToolCalls(t *testing.T) {
	weather, err := llmprovider.NewFunctionTool("get_weather", "Get weather", map[string]any{
		"type":       "object",
		"properties": map[string]any{"city": map[string]any{"type": "string"}},
		"required":   []any{"city"},
	})
	if err != nil {
		t.Fatal(err)
	}

	body := sseBody(
		`{"id":"t","model":"m","choices":[{"index":0,"delta":{"content":"Checking."}}]}`,
		`{"id":"t","model":"m","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_a","type":"function","function":{"name":"get_weather","arguments":""}}]}}]}`,
		`{"id":"t","model":"m","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"ci"}}]}}]}`,
		`{"id":"t","model":"m","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"ty\": \"Paris\"}"}}]}}]}`,
		`{"id":"t","model":"m","choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"call_b","type":"function","function":{"name":"get_weather","arguments":"{\"town\":1}"}}]}}]}`,
		`{"id":"t","model":"m","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}],"usage":{"prompt_tokens":20,"completion_tokens":12}}`,
		"[DONE]",
	)

	events, err := runStream(t, body, *weather)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertSequence(t, events, []string{
		"message_start t m",
		"block_start 0 text",
		`delta 0 text "Checking."`,
		"block_stop 0",
		"block_start 1 tool_use call_a get_weather",
		`delta 1 json {"ci`,
		`delta 1 json ty": "Paris"}`,
		"block_stop 1",
		"block_start 2 tool_use call_b get_weather",
		`delta 2 json {"town":1}`,
		"block_stop 2",
		"message_delta tool_use 20/12",
		"message_stop",
	})

	resp, err := llmprovider.Accumulate(events)
	if err != nil {
		t.Fatal(err)
	}
	calls := resp.ToolCalls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 tool calls, got %d", len(calls))
	}
	if calls[0].Input["city"] != "Paris" || len(calls[0].SchemaErrors) != 0 {
		t.Errorf("first call = %+v", calls[0])
	}
	if len(calls[1].SchemaErrors) == 0 {
		t.Errorf("second call should violate the schema: %+v", calls[1])
	}
}

func TestReassembler_Failures(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantLast string
		wantErr  error
	}{
		{
			name: "invalid tool arguments",
			body: sseBody(
				`{"id":"x","model":"m","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"c","function":{"name":"f","arguments":"{\"a\":"}}]}}]}`,
				`{"id":"x","model":"m","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
			),
			wantLast: "error other",
			wantErr:  llmprovider.ErrInvalidEventData,
		},
		{
			name: "fragment for closed tool call",
			body: sseBody(
				`{"id":"x","model":"m","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"c0","function":{"name":"f","arguments":"{}"}}]}}]}`,
				`{"id":"x","model":"m","choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"c1","function":{"name":"g","arguments":"{}"}}]}}]}`,
				`{"id":"x","model":"m","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{}"}}]}}]}`,
			),
			wantLast: "error other",
			wantErr:  llmprovider.ErrProtocolViolation,
		},
		{
			name: "chunk after termination",
			body: sseBody(
				`{"id":"x","model":"m","choices":[{"index":0,"delta":{"content":"a"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":1}}`,
				`{"id":"x","model":"m","choices":[{"index":0,"delta":{"content":"late"}}]}`,
			),
			wantLast: "error other",
			wantErr:  llmprovider.ErrProtocolViolation,
		},
		{
			name: "content after finish reason",
			body: sseBody(
				`{"id":"x","model":"m","choices":[{"index":0,"delta":{"content":"a"},"finish_reason":"stop"}]}`,
				`{"id":"x","model":"m","choices":[{"index":0,"delta":{"content":"late"}}]}`,
			),
			wantLast: "error other",
			wantErr:  llmprovider.ErrProtocolViolation,
		},
		{
			name: "cut off mid stream",
			body: sseBody(
				`{"id":"x","model":"m","choices":[{"index":0,"delta":{"content":"partial"}}]}`,
			),
			wantLast: "error network",
			wantErr:  io.ErrUnexpectedEOF,
		},
		{
			name: "in-band error",
			body: sseBody(
				`{"id":"x","model":"m","choices":[{"index":0,"delta":{"content":"a"}}]}`,
				`{"error":{"code":429,"message":"Rate limit exceeded"}}`,
			),
			wantLast: "error rate_limit",
			wantErr:  llmprovider.ErrRateLimited,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := runStream(t, tt.body)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if len(events) == 0 {
				t.Fatal("expected a terminal error event")
			}
			if got := describe(events[len(events)-1]); got != tt.wantLast {
				t.Errorf("last event = %q, want %q", got, tt.wantLast)
			}
			for _, ev := range events[:len(events)-1] {
				if _, isErr := ev.(llmprovider.ErrorEvent); isErr {
					t.Errorf("more than one error event: %q", describeAll(events))
				}
			}
		})
	}
}

func TestReassembler_InvalidToolArgumentsNotSurfaced(t *testing.T) {
	body := sseBody(
		`{"id":"x","model":"m","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"c","function":{"name":"f","arguments":"[1,2]"}}]}}]}`,
		`{"id":"x","model":"m","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
	)
	events, _ := runStream(t, body)
	for _, ev := range events {
		if _, ok := ev.(llmprovider.ContentBlockStop); ok {
			t.Fatalf("invalid tool input must not be closed as complete: %q", describeAll(events))
		}
	}
}

func TestReassembler_IndependentStreams(t *testing.T) {
	body := sseBody(
		`{"id":"s","model":"m","choices":[{"index":0,"delta":{"content":"x"}}]}`,
		`{"id":"s","model":"m","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"c","function":{"name":"f","arguments":"{}"}}]}}]}`,
		`{"id":"s","model":"m","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}],"usage":{"prompt_tokens":1,"completion_tokens":1}}`,
	)

	const streams = 8
	var wg sync.WaitGroup
	results := make([][]string, streams)
	for i := 0; i < streams; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stream := llmprovider.NewEventStream(context.Background(), io.NopCloser(strings.NewReader(body)),
				NewReassembler("openrouter", nil, zerolog.Nop()))
			events, _ := llmprovider.Collect(stream)
			results[i] = describeAll(events)
		}(i)
	}
	wg.Wait()

	for i, got := range results {
		if len(got) != 9 || got[1] != "block_start 0 text" || got[4] != "block_start 1 tool_use c f" {
			t.Errorf("stream %d: %q", i, got)
		}
	}
}
