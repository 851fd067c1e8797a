package llmprovider

import (
	"context"
)

// Provider defines the interface that all LLM providers must implement.
// Callers hold a Provider and never switch on vendor identity; every vendor
// difference stays inside its adapter package.
type Provider interface {
	// GenerateResponse generates a complete response from the LLM provider (blocking).
	GenerateResponse(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)

	// StreamResponse opens a streaming response. Errors before the first
	// byte (HTTP status, transport) are returned here; later failures arrive
	// as a terminal ErrorEvent on the stream.
	//
	// Usage:
	//   stream, err := provider.StreamResponse(ctx, req)
	//   if err != nil { return err }
	//   defer stream.Close()
	//   for ev := range llmprovider.Events(stream) {
	//     ...
	//   }
	StreamResponse(ctx context.Context, req *GenerateRequest) (EventStream, error)

	// Name returns the provider identifier
	Name() ProviderID

	// SupportsModel returns true if the provider supports the given model.
	SupportsModel(model string) bool
}
