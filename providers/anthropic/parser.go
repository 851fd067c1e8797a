package anthropic

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haowjy/meridian-stream-go"
	"github.com/haowjy/meridian-stream-go/sse"
	"github.com/tidwall/gjson"
)

// ParseEvent decodes one data payload into its wire event. Empty and [DONE]
// payloads return ok == false and no error. A payload that is not JSON, has
// no known type, or lacks the fields its type requires returns an
// *llmprovider.InvalidEventDataError.
func ParseEvent(payload string) (Event, bool, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" || payload == sse.DoneSentinel {
		return nil, false, nil
	}
	if !gjson.Valid(payload) {
		return nil, false, invalid("payload is not valid JSON", payload)
	}

	typ := gjson.Get(payload, "type")
	if typ.Type != gjson.String {
		return nil, false, invalid("missing event type", payload)
	}

	var (
		ev       Event
		required []string
	)
	switch typ.Str {
	case typeMessageStart:
		ev, required = &MessageStartEvent{}, []string{"message"}
	case typeContentBlockStart:
		ev, required = &ContentBlockStartEvent{}, []string{"index", "content_block.type"}
	case typeContentBlockDelta:
		ev, required = &ContentBlockDeltaEvent{}, []string{"index", "delta.type"}
	case typeContentBlockStop:
		ev, required = &ContentBlockStopEvent{}, []string{"index"}
	case typeMessageDelta:
		ev, required = &MessageDeltaEvent{}, []string{"delta"}
	case typeMessageStop:
		ev = &MessageStopEvent{}
	case typePing:
		ev = &PingEvent{}
	case typeError:
		ev, required = &ErrorEvent{}, []string{"error"}
	default:
		return nil, false, invalid(fmt.Sprintf("unknown event type %q", typ.Str), payload)
	}

	for _, path := range required {
		if !gjson.Get(payload, path).Exists() {
			return nil, false, invalid(fmt.Sprintf("%s: missing %s", typ.Str, path), payload)
		}
	}
	if err := json.Unmarshal([]byte(payload), ev); err != nil {
		return nil, false, invalid(fmt.Sprintf("%s: %v", typ.Str, err), payload)
	}
	return ev, true, nil
}

func invalid(detail, payload string) *llmprovider.InvalidEventDataError {
	return &llmprovider.InvalidEventDataError{
		Provider: llmprovider.ProviderAnthropic.String(),
		Detail:   detail,
		Fragment: payload,
	}
}
