// Package tools provides the tool registry and dispatch framework.
//
// A Registry maps tool names to handlers. The dispatcher contract is
// request/response: a tool name plus JSON arguments in, a text result
// out. Failures never propagate to the model loop — ExecuteSafe renders
// them as error text the model sees as the tool's output.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Tool represents a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Handler     func(ctx context.Context, args map[string]any) (string, error) `json:"-"`
}

// Registry holds available tools.
type Registry struct {
	tools map[string]*Tool
	order []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]*Tool),
	}
}

// Register adds a tool to the registry. Re-registering a name replaces
// the previous tool.
func (r *Registry) Register(t *Tool) {
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// Get retrieves a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// List returns all tool definitions for the LLM, in registration order.
func (r *Registry) List() []map[string]any {
	var result []map[string]any
	for _, name := range r.order {
		t := r.tools[name]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// FilteredCopy returns a new registry containing only the named tools.
// Unknown names are ignored.
func (r *Registry) FilteredCopy(names []string) *Registry {
	allowed := make(map[string]bool, len(names))
	for _, n := range names {
		allowed[n] = true
	}

	out := NewRegistry()
	for _, name := range r.order {
		if allowed[name] {
			out.Register(r.tools[name])
		}
	}
	return out
}

// Execute runs a tool by name with given JSON arguments.
func (r *Registry) Execute(ctx context.Context, name string, argsJSON string) (string, error) {
	tool := r.tools[name]
	if tool == nil {
		return "", fmt.Errorf("unknown tool: %s", name)
	}

	var args map[string]any
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
	}

	return tool.Handler(ctx, args)
}

// ExecuteSafe runs a tool and never fails the round: an unknown tool
// name yields a sentinel naming it, and a handler error is rendered as
// text for the model to read.
func (r *Registry) ExecuteSafe(ctx context.Context, name string, argsJSON string) string {
	if r.tools[name] == nil {
		return fmt.Sprintf("Unknown tool: %s", name)
	}
	result, err := r.Execute(ctx, name, argsJSON)
	if err != nil {
		return "Error: " + err.Error()
	}
	return result
}
