package tools

import (
	"sort"
	"sync"

	"github.com/prismbot/prism/internal/llm"
)

// Registry manages available tools with thread-safe registration and
// lookup. Disabled tools stay registered but are never advertised or
// dispatched.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool by name, replacing any previous registration.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns the enabled tools ordered by ascending priority, then
// name for a stable ordering between equal priorities.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	enabled := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		if tool.Enabled() {
			enabled = append(enabled, tool)
		}
	}
	sort.Slice(enabled, func(i, j int) bool {
		if enabled[i].Priority() != enabled[j].Priority() {
			return enabled[i].Priority() < enabled[j].Priority()
		}
		return enabled[i].Name() < enabled[j].Name()
	})
	return enabled
}

// Defs returns provider-facing definitions for the enabled tools.
func (r *Registry) Defs() []llm.ToolDef {
	listed := r.List()
	defs := make([]llm.ToolDef, 0, len(listed))
	for _, tool := range listed {
		defs = append(defs, llm.ToolDef{
			Name:        tool.Name(),
			Description: tool.Description(),
			Schema:      tool.Schema(),
		})
	}
	return defs
}

// Bind advertises the enabled tools on the gateway for planning.
func (r *Registry) Bind(gw *llm.Gateway) *llm.BoundGateway {
	return gw.Bind(r.Defs())
}
