// Package tools manages the agent tool surface: registration, schema
// validation, and concurrent dispatch of planner tool calls.
package tools

import (
	"context"
	"encoding/json"

	"github.com/prismbot/prism/pkg/models"
)

// Tool is a capability the planner can invoke.
type Tool interface {
	// Name is the stable identifier advertised to the model.
	Name() string

	// Description tells the model when to use the tool.
	Description() string

	// Schema is the JSON Schema for the tool arguments.
	Schema() json.RawMessage

	// Priority orders results during aggregation; lower runs earlier
	// in the merged context.
	Priority() int

	// Enabled reports whether the tool is advertised and dispatchable.
	Enabled() bool

	Execute(ctx context.Context, args json.RawMessage) (*models.ToolExecutionResult, error)
}

// Invocation carries the origin of the current agent run for tools
// that record side effects against a channel or user.
type Invocation struct {
	ChannelRef string
	UserRef    string
}

type invocationKey struct{}

// WithInvocation attaches the invocation origin to the context.
func WithInvocation(ctx context.Context, inv Invocation) context.Context {
	return context.WithValue(ctx, invocationKey{}, inv)
}

// InvocationFromContext extracts the invocation origin, if present.
func InvocationFromContext(ctx context.Context) (Invocation, bool) {
	inv, ok := ctx.Value(invocationKey{}).(Invocation)
	return inv, ok
}
