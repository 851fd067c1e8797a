package llmprovider

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// ClientOptions holds the settings shared by every provider client.
type ClientOptions struct {
	BaseURL          string
	APIKey           string
	HTTPClient       *http.Client
	Headers          map[string]string
	Logger           zerolog.Logger
	Metrics          *Metrics
	Retry            RetryPolicy
	AnthropicVersion string
	MaxTokens        int
}

// ClientOption configures ClientOptions.
type ClientOption func(*ClientOptions)

// WithBaseURL overrides the API base URL (tests point this at httptest servers).
func WithBaseURL(url string) ClientOption {
	return func(o *ClientOptions) { o.BaseURL = url }
}

// WithAPIKey overrides the key read from the environment.
func WithAPIKey(key string) ClientOption {
	return func(o *ClientOptions) { o.APIKey = key }
}

// WithHTTPClient sets the HTTP client; its transport owns timeouts and pooling.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(o *ClientOptions) { o.HTTPClient = c }
}

// WithHeaders adds request headers.
func WithHeaders(headers map[string]string) ClientOption {
	return func(o *ClientOptions) {
		if o.Headers == nil {
			o.Headers = make(map[string]string, len(headers))
		}
		for k, v := range headers {
			o.Headers[k] = v
		}
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) ClientOption {
	return func(o *ClientOptions) { o.Logger = l }
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *Metrics) ClientOption {
	return func(o *ClientOptions) { o.Metrics = m }
}

// WithRetryPolicy sets retries for stream establishment.
func WithRetryPolicy(p RetryPolicy) ClientOption {
	return func(o *ClientOptions) { o.Retry = p }
}

// NewClientOptions starts from the provider's registered config and applies opts.
func NewClientOptions(id ProviderID, opts ...ClientOption) ClientOptions {
	cfg := GetProviderConfig(id)
	o := ClientOptions{
		BaseURL:          cfg.BaseURL,
		APIKey:           cfg.APIKey(),
		Logger:           zerolog.Nop(),
		Retry:            cfg.Retry,
		AnthropicVersion: cfg.AnthropicVersion,
		MaxTokens:        cfg.MaxTokens,
	}
	if len(cfg.Headers) > 0 {
		WithHeaders(cfg.Headers)(&o)
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.HTTPClient == nil {
		o.HTTPClient = defaultHTTPClient(cfg.Timeout)
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	o.Logger = o.Logger.With().Str("provider", id.String()).Logger()
	return o
}

// defaultHTTPClient bounds the wait for response headers only; a streaming
// body may legitimately take minutes.
func defaultHTTPClient(headerTimeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if headerTimeout > 0 {
		transport.ResponseHeaderTimeout = headerTimeout
	}
	return &http.Client{Transport: transport}
}
