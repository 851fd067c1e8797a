package llmprovider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// Sentinel errors for common failure modes.
// These can be checked with errors.Is().
var (
	// ErrInvalidModel indicates the requested model is not supported by the provider.
	ErrInvalidModel = errors.New("llmprovider: invalid or unsupported model")

	// ErrInvalidAPIKey indicates the API key is missing, malformed, or unauthorized.
	ErrInvalidAPIKey = errors.New("llmprovider: invalid API key")

	// ErrRateLimited indicates the provider's rate limit has been exceeded.
	ErrRateLimited = errors.New("llmprovider: rate limit exceeded")

	// ErrInvalidRequest indicates the request parameters are invalid.
	ErrInvalidRequest = errors.New("llmprovider: invalid request")

	// ErrProviderUnavailable indicates the provider service is down or overloaded.
	ErrProviderUnavailable = errors.New("llmprovider: provider unavailable")

	// ErrNetwork indicates a transport-level failure.
	ErrNetwork = errors.New("llmprovider: network error")

	// ErrInvalidEventData indicates a stream frame that could not be decoded.
	ErrInvalidEventData = errors.New("llmprovider: invalid event data")

	// ErrProtocolViolation indicates events that break stream ordering rules.
	ErrProtocolViolation = errors.New("llmprovider: stream protocol violation")
)

// ErrorKind is the vendor-neutral classification of a failure.
type ErrorKind int

const (
	ErrorKindOther ErrorKind = iota
	ErrorKindRateLimit
	ErrorKindAuth
	ErrorKindInvalidRequest
	ErrorKindServerOverloaded
	ErrorKindNetwork
	ErrorKindServiceUnavailable
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindRateLimit:
		return "rate_limit"
	case ErrorKindAuth:
		return "auth"
	case ErrorKindInvalidRequest:
		return "invalid_request"
	case ErrorKindServerOverloaded:
		return "server_overloaded"
	case ErrorKindNetwork:
		return "network"
	case ErrorKindServiceUnavailable:
		return "service_unavailable"
	default:
		return "other"
	}
}

// IsRetryable reports whether a failure of this kind may succeed if repeated.
func (k ErrorKind) IsRetryable() bool {
	return IsRetryableKind(k)
}

// IsRetryableKind reports whether a failure of kind k may succeed if repeated.
func IsRetryableKind(k ErrorKind) bool {
	switch k {
	case ErrorKindRateLimit, ErrorKindServerOverloaded, ErrorKindNetwork, ErrorKindServiceUnavailable:
		return true
	default:
		return false
	}
}

// ModelError represents an error related to model validation or availability.
type ModelError struct {
	Model    string // The model that was requested
	Provider string // The provider name
	Reason   string // Human-readable explanation
	Err      error  // Wrapped error (usually ErrInvalidModel)
}

func (e *ModelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("model '%s' for provider '%s': %s (%v)", e.Model, e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("model '%s' for provider '%s': %s", e.Model, e.Provider, e.Reason)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

// ValidationError represents an error in request parameter validation.
type ValidationError struct {
	Field  string // The parameter field that failed validation
	Value  any    // The invalid value
	Reason string // Human-readable explanation
	Err    error  // Wrapped error (usually ErrInvalidRequest)
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for '%s' (value: %v): %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ProviderError represents an error reported by a vendor API, either as a
// non-2xx HTTP response or as an error event inside a stream.
type ProviderError struct {
	Provider   string    // The provider name
	StatusCode int       // HTTP status code, 0 for in-stream errors
	Kind       ErrorKind // Normalized classification
	Type       string    // Vendor error type, e.g. "overloaded_error"
	Message    string    // Error message, secrets redacted
	Retryable  bool      // Whether this error is potentially retryable
	Err        error     // Wrapped sentinel error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider '%s' error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider '%s' error: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// maxFragment bounds how much of a payload is quoted in an error message.
const maxFragment = 256

// InvalidEventDataError reports a stream frame that is not valid for the
// vendor's event schema. Fragment holds the offending payload.
type InvalidEventDataError struct {
	Provider string
	Detail   string
	Fragment string
}

func (e *InvalidEventDataError) Error() string {
	if e.Fragment == "" {
		return fmt.Sprintf("invalid event data from '%s': %s", e.Provider, e.Detail)
	}
	return fmt.Sprintf("invalid event data from '%s': %s (payload %q)", e.Provider, e.Detail, truncate(e.Fragment, maxFragment))
}

func (e *InvalidEventDataError) Unwrap() error {
	return ErrInvalidEventData
}

// ProtocolError reports a vendor event that arrived in an impossible order,
// for example after the message already stopped.
type ProtocolError struct {
	Provider string
	Detail   string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("stream protocol violation from '%s': %s", e.Provider, e.Detail)
}

func (e *ProtocolError) Unwrap() error {
	return ErrProtocolViolation
}

// Classify maps an HTTP status and error body to an ErrorKind. The status
// decides; the body's error type only refines statuses that say little on
// their own (generic 500s and unknown codes).
func Classify(status int, body []byte) ErrorKind {
	kind := classifyStatus(status)
	if kind != ErrorKindOther && status != http.StatusInternalServerError {
		return kind
	}
	if typed := KindFromErrorType(errorType(body)); typed != ErrorKindOther {
		return typed
	}
	return kind
}

func classifyStatus(status int) ErrorKind {
	switch {
	case status == 0, status == http.StatusRequestTimeout:
		return ErrorKindNetwork
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ErrorKindAuth
	case status == http.StatusTooManyRequests:
		return ErrorKindRateLimit
	case status == http.StatusBadGateway, status == http.StatusServiceUnavailable, status == http.StatusGatewayTimeout:
		return ErrorKindServiceUnavailable
	case status == http.StatusInternalServerError, status == 529:
		return ErrorKindServerOverloaded
	case status >= 400 && status < 500:
		return ErrorKindInvalidRequest
	case status >= 500:
		return ErrorKindServerOverloaded
	default:
		return ErrorKindOther
	}
}

// KindFromErrorType maps a vendor error type string, as found in error
// bodies and in-stream error events, to an ErrorKind.
func KindFromErrorType(errType string) ErrorKind {
	switch strings.ToLower(errType) {
	case "rate_limit_error", "rate_limit_exceeded", "resource_exhausted":
		return ErrorKindRateLimit
	case "authentication_error", "permission_error", "unauthenticated", "permission_denied":
		return ErrorKindAuth
	case "invalid_request_error", "not_found_error", "request_too_large", "invalid_argument", "not_found":
		return ErrorKindInvalidRequest
	case "overloaded_error", "api_error", "server_error", "internal":
		return ErrorKindServerOverloaded
	case "unavailable", "service_unavailable":
		return ErrorKindServiceUnavailable
	case "timeout_error", "deadline_exceeded":
		return ErrorKindNetwork
	default:
		return ErrorKindOther
	}
}

// ParseErrorResponse builds a ProviderError from a non-2xx response body.
//
// Known shapes are tried in order: {"error":{"message"}},
// {"error":{"type","message"}}, {"message"}. Anything else is quoted raw,
// prefixed with the HTTP status. Credentials echoed by the vendor are redacted.
func ParseErrorResponse(provider string, status int, body []byte) *ProviderError {
	kind := Classify(status, body)
	perr := &ProviderError{
		Provider:   provider,
		StatusCode: status,
		Kind:       kind,
		Type:       errorType(body),
		Retryable:  kind.IsRetryable(),
		Err:        sentinelFor(kind),
	}

	if msg := errorMessage(body); msg != "" {
		perr.Message = RedactSecrets(msg)
	} else {
		perr.Message = fmt.Sprintf("HTTP %d: %s", status, truncate(RedactSecrets(strings.TrimSpace(string(body))), maxFragment))
	}
	return perr
}

// NewStreamError builds a ProviderError for an error event received inside
// an otherwise successful stream.
func NewStreamError(provider, errType, message string) *ProviderError {
	kind := KindFromErrorType(errType)
	return &ProviderError{
		Provider:  provider,
		Kind:      kind,
		Type:      errType,
		Message:   RedactSecrets(message),
		Retryable: kind.IsRetryable(),
		Err:       sentinelFor(kind),
	}
}

// NewNetworkError wraps a transport failure.
func NewNetworkError(provider string, err error) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Kind:      ErrorKindNetwork,
		Message:   RedactSecrets(err.Error()),
		Retryable: true,
		Err:       errors.Join(ErrNetwork, err),
	}
}

func errorMessage(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	for _, path := range []string{"error.message", "message", "0.error.message", "error"} {
		if r := gjson.GetBytes(body, path); r.Type == gjson.String && r.String() != "" {
			return r.String()
		}
	}
	return ""
}

func errorType(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	for _, path := range []string{"error.type", "error.status", "0.error.status", "type"} {
		if r := gjson.GetBytes(body, path); r.Type == gjson.String && r.String() != "" && r.String() != "error" {
			return r.String()
		}
	}
	return ""
}

func sentinelFor(kind ErrorKind) error {
	switch kind {
	case ErrorKindRateLimit:
		return ErrRateLimited
	case ErrorKindAuth:
		return ErrInvalidAPIKey
	case ErrorKindInvalidRequest:
		return ErrInvalidRequest
	case ErrorKindServerOverloaded, ErrorKindServiceUnavailable:
		return ErrProviderUnavailable
	case ErrorKindNetwork:
		return ErrNetwork
	default:
		return nil
	}
}

var secretPatterns = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9._~+/=\-]+`), "${1}[REDACTED]"},
	{regexp.MustCompile(`sk-[A-Za-z0-9_\-]{8,}`), "[REDACTED]"},
	{regexp.MustCompile(`AIza[0-9A-Za-z_\-]{20,}`), "[REDACTED]"},
	{regexp.MustCompile(`(?i)((?:x-api-key|x-goog-api-key|api[_-]?key)["']?\s*[:=]\s*["']?)[A-Za-z0-9._\-]{8,}`), "${1}[REDACTED]"},
}

// RedactSecrets masks API keys and bearer tokens in s.
func RedactSecrets(s string) string {
	for _, p := range secretPatterns {
		s = p.re.ReplaceAllString(s, p.repl)
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// KindOf classifies any error returned by this package or its providers.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ErrorKindOther
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Kind
	}

	var validationErr *ValidationError
	switch {
	case errors.Is(err, ErrRateLimited):
		return ErrorKindRateLimit
	case errors.Is(err, ErrInvalidAPIKey):
		return ErrorKindAuth
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrInvalidModel), errors.As(err, &validationErr):
		return ErrorKindInvalidRequest
	case errors.Is(err, ErrProviderUnavailable):
		return ErrorKindServiceUnavailable
	case errors.Is(err, ErrNetwork), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, context.DeadlineExceeded):
		return ErrorKindNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorKindNetwork
	}
	return ErrorKindOther
}

// IsRetryable checks if an error is potentially retryable.
// Returns true for rate limits, overload, temporary unavailability and network errors.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Retryable
	}
	return KindOf(err).IsRetryable()
}

// IsInvalidRequest checks if an error indicates invalid request parameters.
// These errors are not retryable and require request changes.
func IsInvalidRequest(err error) bool {
	return err != nil && KindOf(err) == ErrorKindInvalidRequest
}

// IsAuthError checks if an error is related to authentication.
func IsAuthError(err error) bool {
	return err != nil && KindOf(err) == ErrorKindAuth
}
