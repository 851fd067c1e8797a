package openrouter

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/haowjy/meridian-stream-go"
	"github.com/haowjy/meridian-stream-go/sse"
)

func bridgeEvents(t *testing.T, events []llmprovider.Event) string {
	t.Helper()
	var buf bytes.Buffer
	if err := NewBridge().WriteStream(&buf, llmprovider.NewSliceStream(events...)); err != nil {
		t.Fatalf("WriteStream: %v", err)
	}
	return buf.String()
}

func TestBridge_RoundTrip(t *testing.T) {
	source := sseBody(
		`{"id":"gen-9","model":"m2","choices":[{"index":0,"delta":{"role":"assistant","reasoning":"Let me think"},"finish_reason":null}]}`,
		`{"id":"gen-9","model":"m2","choices":[{"index":0,"delta":{"content":"Checking the weather."},"finish_reason":null}]}`,
		`{"id":"gen-9","model":"m2","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_a","type":"function","function":{"name":"get_weather","arguments":""}}]},"finish_reason":null}]}`,
		`{"id":"gen-9","model":"m2","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"city\":"}}]},"finish_reason":null}]}`,
		`{"id":"gen-9","model":"m2","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"Paris\"}"}}]},"finish_reason":null}]}`,
		`{"id":"gen-9","model":"m2","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}],"usage":{"prompt_tokens":12,"completion_tokens":30}}`,
		"[DONE]",
	)

	original, err := runStream(t, source)
	if err != nil {
		t.Fatalf("decode source: %v", err)
	}

	bridged := bridgeEvents(t, original)
	if !strings.HasSuffix(bridged, "data: [DONE]\n\n") {
		t.Errorf("bridged stream does not end with [DONE]:\n%s", bridged)
	}

	decoded, err := runStream(t, bridged)
	if err != nil {
		t.Fatalf("decode bridged: %v", err)
	}
	assertSequence(t, decoded, describeAll(original))

	resp, err := llmprovider.Accumulate(decoded)
	if err != nil {
		t.Fatalf("Accumulate: %v", err)
	}
	calls := resp.ToolCalls()
	if len(calls) != 1 || calls[0].Input["city"] != "Paris" {
		t.Errorf("tool calls = %+v", calls)
	}
	if resp.Thinking() != "Let me think" {
		t.Errorf("thinking = %q", resp.Thinking())
	}
}

func TestBridge_ChunkShape(t *testing.T) {
	bridged := bridgeEvents(t, []llmprovider.Event{
		llmprovider.MessageStart{ID: "msg_1", Model: "m"},
		llmprovider.ContentBlockStart{Index: 0, Kind: llmprovider.BlockKindText},
		llmprovider.ContentBlockDelta{Index: 0, Kind: llmprovider.BlockKindText, Text: "hi"},
		llmprovider.ContentBlockStop{Index: 0},
		llmprovider.MessageDelta{StopReason: llmprovider.StopReasonMaxTokens, Usage: llmprovider.NewTokenUsage(3, 1)},
		llmprovider.MessageStop{},
	})

	reader := sse.NewReader(strings.NewReader(bridged))
	var chunks []ChatCompletionChunk
	for {
		payload, err := reader.Next()
		if err != nil {
			break
		}
		if payload == sse.DoneSentinel {
			continue
		}
		var c ChatCompletionChunk
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			t.Fatalf("chunk is not JSON: %v", err)
		}
		chunks = append(chunks, c)
	}

	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	for _, c := range chunks {
		if c.ID != "msg_1" || c.Model != "m" || c.Object != "chat.completion.chunk" {
			t.Errorf("chunk header = %q %q %q", c.ID, c.Model, c.Object)
		}
	}
	if role := chunks[0].Choices[0].Delta.Role; role == nil || *role != "assistant" {
		t.Errorf("first chunk role = %v", role)
	}
	last := chunks[2]
	if fr := last.Choices[0].FinishReason; fr == nil || *fr != "length" {
		t.Errorf("finish_reason = %v, want length", fr)
	}
	if last.Usage == nil || *last.Usage.PromptTokens != 3 || *last.Usage.CompletionTokens != 1 {
		t.Errorf("usage = %+v", last.Usage)
	}
}

func TestBridge_TerminatesUnfinishedStream(t *testing.T) {
	bridged := bridgeEvents(t, []llmprovider.Event{
		llmprovider.MessageStart{ID: "msg_2", Model: "m"},
		llmprovider.ContentBlockStart{Index: 0, Kind: llmprovider.BlockKindText},
		llmprovider.ContentBlockDelta{Index: 0, Kind: llmprovider.BlockKindText, Text: "partial"},
	})

	decoded, err := runStream(t, bridged)
	if err != nil {
		t.Fatalf("decode bridged: %v", err)
	}
	assertSequence(t, decoded, []string{
		"message_start msg_2 m",
		"block_start 0 text",
		`delta 0 text "partial"`,
		"block_stop 0",
		"message_delta end_turn no-usage",
		"message_stop",
	})
}

func TestBridge_ErrorRoundTrip(t *testing.T) {
	perr := llmprovider.ParseErrorResponse("anthropic", 429, []byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
	bridged := bridgeEvents(t, []llmprovider.Event{
		llmprovider.MessageStart{ID: "msg_3", Model: "m"},
		llmprovider.ContentBlockStart{Index: 0, Kind: llmprovider.BlockKindText},
		llmprovider.ContentBlockDelta{Index: 0, Kind: llmprovider.BlockKindText, Text: "a"},
		llmprovider.ErrorEvent{Kind: perr.Kind, Err: perr},
	})

	decoded, err := runStream(t, bridged)
	if err == nil {
		t.Fatal("expected an error")
	}
	assertSequence(t, decoded, []string{
		"message_start msg_3 m",
		"block_start 0 text",
		`delta 0 text "a"`,
		"error rate_limit",
	})
	if !llmprovider.IsRetryable(err) {
		t.Errorf("rate limit should stay retryable after a round trip: %v", err)
	}
	if !strings.Contains(err.Error(), "slow down") {
		t.Errorf("message lost: %v", err)
	}
}

func TestBridge_ToolDeltaWithoutStart(t *testing.T) {
	_, err := NewBridge().Convert(llmprovider.ContentBlockDelta{Index: 4, Kind: llmprovider.BlockKindToolUse, PartialJSON: "{}"})
	if err == nil {
		t.Fatal("expected an error for a tool delta with no start")
	}
}

func TestErrorTypeFor_ReadsBackAsSameKind(t *testing.T) {
	kinds := []llmprovider.ErrorKind{
		llmprovider.ErrorKindRateLimit,
		llmprovider.ErrorKindAuth,
		llmprovider.ErrorKindInvalidRequest,
		llmprovider.ErrorKindServiceUnavailable,
		llmprovider.ErrorKindNetwork,
		llmprovider.ErrorKindServerOverloaded,
	}
	for _, kind := range kinds {
		t.Run(kind.String(), func(t *testing.T) {
			if got := llmprovider.KindFromErrorType(errorTypeFor(kind)); got != kind {
				t.Errorf("KindFromErrorType(errorTypeFor(%s)) = %s", kind, got)
			}
		})
	}
}
