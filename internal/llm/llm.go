// Package llm provides generation clients for the supported providers.
// Each provider implements Invoker: one request in, one piece of
// generated content out. Mode selects the provider endpoint (chat,
// image generation, speech synthesis).
package llm

import (
	"context"
	"fmt"

	"github.com/pseudoapp/pseudo/internal/content"
	"github.com/pseudoapp/pseudo/internal/modality"
)

// Request describes a single generation request.
type Request struct {
	// Mode selects the kind of output wanted: text, image, or audio.
	Mode modality.Mode

	// Model is the provider-specific model identifier.
	Model string

	// Payload is the generation content (prompt, image description,
	// text to speak).
	Payload string

	// System is an optional system prompt, used for text chat only.
	System string

	// APIKey and Organization come from the credential catalog.
	// Local providers ignore them.
	APIKey       string
	Organization string
}

// Invoker is implemented by each provider client.
type Invoker interface {
	// Name returns the provider name as it appears in the credential
	// catalog (e.g. "openai", "ollama").
	Name() string

	// Invoke performs one generation request. The returned content is
	// never empty on success; any failure is reported as an error.
	Invoke(ctx context.Context, req Request) (content.Content, error)
}

// InvokeFunc adapts a function to the Invoker interface.
type InvokeFunc struct {
	Provider string
	Fn       func(ctx context.Context, req Request) (content.Content, error)
}

func (f InvokeFunc) Name() string { return f.Provider }

func (f InvokeFunc) Invoke(ctx context.Context, req Request) (content.Content, error) {
	return f.Fn(ctx, req)
}

// IsLocal reports whether a provider runs locally and therefore needs
// no API key.
func IsLocal(provider string) bool {
	return provider == "ollama"
}

// Registry maps provider names to their clients.
type Registry struct {
	invokers map[string]Invoker
}

// NewRegistry builds a registry from the given clients.
func NewRegistry(invokers ...Invoker) *Registry {
	r := &Registry{invokers: make(map[string]Invoker, len(invokers))}
	for _, inv := range invokers {
		r.invokers[inv.Name()] = inv
	}
	return r
}

// Register adds or replaces a provider client.
func (r *Registry) Register(inv Invoker) {
	r.invokers[inv.Name()] = inv
}

// Lookup returns the client for a provider name.
func (r *Registry) Lookup(provider string) (Invoker, bool) {
	inv, ok := r.invokers[provider]
	return inv, ok
}

// unsupportedMode builds the error clients return when asked for a
// modality they cannot generate.
func unsupportedMode(provider string, mode modality.Mode) error {
	return fmt.Errorf("%s: mode %q not supported", provider, mode)
}
