package google

import (
	"encoding/json"
	"strings"

	"github.com/haowjy/meridian-stream-go"
	"github.com/haowjy/meridian-stream-go/sse"
)

// ParseChunk decodes one data payload. Empty and [DONE] payloads return
// ok == false and no error.
func ParseChunk(payload string) (*GenerateContentResponse, bool, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" || payload == sse.DoneSentinel {
		return nil, false, nil
	}

	var chunk GenerateContentResponse
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return nil, false, &llmprovider.InvalidEventDataError{
			Provider: llmprovider.ProviderGoogle.String(),
			Detail:   "GenerateContentResponse: " + err.Error(),
			Fragment: payload,
		}
	}
	return &chunk, true, nil
}
