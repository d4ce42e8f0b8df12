// Package llm routes role-based completion requests to LLM providers
// behind a single gateway with classified errors and retries.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/prismbot/prism/pkg/models"
)

// Provider is implemented once per LLM backend.
//
// Implementations must be safe for concurrent use; each Complete call
// owns an independent stream.
type Provider interface {
	// Name returns the stable lowercase provider identifier.
	Name() string

	// Complete sends a request and streams the response. The channel
	// is closed after a chunk with Done or Err set.
	Complete(ctx context.Context, req *Request) (<-chan *Chunk, error)
}

// Request carries one completion call.
type Request struct {
	// Model is the bare model name without provider prefix.
	Model string

	// System is the system prompt, handled out of band by every
	// provider API.
	System string

	// Messages is the conversation in chronological order. Tool
	// traffic is carried as plain text, not provider-native turns.
	Messages []models.Message

	// Tools declares callable functions for planning requests.
	Tools []ToolDef

	Temperature     float64
	MaxOutputTokens int

	// JSONMode asks the provider for a bare JSON object response.
	JSONMode bool
}

// ToolDef declares one callable function.
type ToolDef struct {
	Name        string
	Description string
	// Schema is the JSON Schema of the arguments object.
	Schema json.RawMessage
}

// Chunk is one streamed piece of a completion.
type Chunk struct {
	// Text is incremental response text.
	Text string

	// ToolCall is a complete function call request.
	ToolCall *models.ToolCall

	// Done marks successful stream completion.
	Done bool

	// Err terminates the stream with a classified failure.
	Err error
}

// Reply is an accumulated non-streaming completion.
type Reply struct {
	Text      string
	ToolCalls []models.ToolCall
}

// SplitModel separates "provider/model" into its parts. A bare model
// name yields an empty provider.
func SplitModel(model string) (provider, name string) {
	if p, n, found := strings.Cut(model, "/"); found {
		return p, n
	}
	return "", model
}

// Registry holds the configured providers.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry returns an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider under its name, replacing any previous one.
func (r *Registry) Register(p Provider) {
	r.providers[p.Name()] = p
}

// Get returns the named provider.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("llm: unknown provider %q", name)
	}
	return p, nil
}

// Names lists registered providers.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
