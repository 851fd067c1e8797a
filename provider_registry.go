package llmprovider

import (
	"fmt"
	"sync"
)

// ProviderID represents a unique provider identifier.
// Using a typed constant prevents typos and provides compile-time safety.
type ProviderID string

// Known provider identifiers
const (
	// ProviderAnthropic is Anthropic's Claude API
	ProviderAnthropic ProviderID = "anthropic"

	// ProviderOpenAI is OpenAI's GPT API
	ProviderOpenAI ProviderID = "openai"

	// ProviderOpenRouter is the OpenRouter OpenAI-compatible gateway
	ProviderOpenRouter ProviderID = "openrouter"

	// ProviderGoogle is Google's Gemini API
	ProviderGoogle ProviderID = "google"

	// ProviderLorem is the mock Lorem provider for testing
	ProviderLorem ProviderID = "lorem"
)

// String returns the string representation of the provider ID
func (p ProviderID) String() string {
	return string(p)
}

// IsValid returns true if the provider ID is a known provider
func (p ProviderID) IsValid() bool {
	switch p {
	case ProviderAnthropic, ProviderOpenAI, ProviderOpenRouter, ProviderGoogle, ProviderLorem:
		return true
	default:
		return false
	}
}

// Registry selects a Provider by model so callers never switch on vendor identity.
// Providers are consulted in registration order.
type Registry struct {
	mu        sync.RWMutex
	providers []Provider
}

// NewRegistry returns a registry holding providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds a provider, replacing one already registered under the same name.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.providers {
		if existing.Name() == p.Name() {
			r.providers[i] = p
			return
		}
	}
	r.providers = append(r.providers, p)
}

// Get returns the provider registered under id.
func (r *Registry) Get(id ProviderID) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.providers {
		if p.Name() == id {
			return p, true
		}
	}
	return nil, false
}

// ForModel returns the first provider that supports model.
func (r *Registry) ForModel(model string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.providers {
		if p.SupportsModel(model) {
			return p, nil
		}
	}
	return nil, &ModelError{
		Model:    model,
		Provider: "registry",
		Reason:   fmt.Sprintf("no registered provider supports this model (%d registered)", len(r.providers)),
		Err:      ErrInvalidModel,
	}
}
