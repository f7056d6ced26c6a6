package memory

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/pierre-ai/pierre/internal/tools"
)

// Tools exposes the memory store to the agent as callable tools. Each
// handler scopes its queries to the user carried on the call context.
type Tools struct {
	store *Store
}

// NewTools creates memory tools backed by the given store.
func NewTools(store *Store) *Tools {
	return &Tools{store: store}
}

// Register adds all memory tools to a registry.
func (t *Tools) Register(reg *tools.Registry) {
	reg.Register(&tools.Tool{
		Name: "memory_search",
		Description: "Search memories by query text and optional type filter (session/persistent/archival). " +
			"Use this to recall facts, preferences, or context about the user.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Search query text",
				},
				"type": map[string]any{
					"type":        "string",
					"enum":        []string{"session", "persistent", "archival"},
					"description": "Filter by memory type",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of results (default 10)",
				},
			},
			"required": []string{"query"},
		},
		Handler: t.handleSearch,
	})

	reg.Register(&tools.Tool{
		Name: "memory_save",
		Description: "Save important information to memory. Use this PROACTIVELY when the user shares " +
			"preferences, facts, corrections, or anything worth remembering.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"content": map[string]any{
					"type":        "string",
					"description": "The memory content to save",
				},
				"type": map[string]any{
					"type":        "string",
					"enum":        []string{"session", "persistent", "archival"},
					"description": "Memory type: persistent=cross-session facts, archival=reference material (default persistent)",
				},
				"category": map[string]any{
					"type":        "string",
					"description": "Category (e.g., preference, fact, project, contact, decision)",
				},
				"importance": map[string]any{
					"type":        "integer",
					"description": "Importance 1-10 (10=critical, 5=useful, 1=minor)",
				},
			},
			"required": []string{"content"},
		},
		Handler: t.handleSave,
	})

	reg.Register(&tools.Tool{
		Name:        "memory_update",
		Description: "Update an existing memory when information changes or needs correction.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id": map[string]any{
					"type":        "string",
					"description": "The memory ID to update",
				},
				"content": map[string]any{
					"type":        "string",
					"description": "Updated memory content",
				},
				"category": map[string]any{
					"type":        "string",
					"description": "Updated category",
				},
				"importance": map[string]any{
					"type":        "integer",
					"description": "Updated importance (1-10)",
				},
			},
			"required": []string{"id"},
		},
		Handler: t.handleUpdate,
	})

	reg.Register(&tools.Tool{
		Name:        "memory_delete",
		Description: "Delete a memory by ID (soft delete).",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id": map[string]any{
					"type":        "string",
					"description": "The memory ID to delete",
				},
			},
			"required": []string{"id"},
		},
		Handler: t.handleDelete,
	})

	reg.Register(&tools.Tool{
		Name:        "memory_list",
		Description: "List memories with optional filters by type and category.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"type": map[string]any{
					"type": "string",
					"enum": []string{"session", "persistent", "archival"},
				},
				"category": map[string]any{
					"type": "string",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of results (default 50)",
				},
			},
		},
		Handler: t.handleList,
	})
}

func (t *Tools) handleSearch(ctx context.Context, args map[string]any) (string, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return "", fmt.Errorf("query is required")
	}

	userID := tools.UserFromContext(ctx)
	if userID == "" {
		return "", fmt.Errorf("no user in context")
	}

	var typ Type
	if ts, ok := args["type"].(string); ok && ts != "" {
		typ = Type(ts)
		if !typ.Valid() {
			return "", fmt.Errorf("invalid memory type: %s", ts)
		}
	}

	limit := 10
	if l, ok := args["limit"].(float64); ok && l > 0 && l < 10 {
		limit = int(l)
	}

	found, err := t.store.Search(userID, query, typ, limit)
	if err != nil {
		return "", fmt.Errorf("search memories: %w", err)
	}
	if len(found) == 0 {
		return "No memories found matching this query.", nil
	}

	var sb strings.Builder
	for _, m := range found {
		// Reads count as access so useful memories survive decay.
		_ = t.store.MarkAccessed(m.ID)
		fmt.Fprintf(&sb, "[%s/%s] %s\n", m.Type, m.Category, m.Content)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (t *Tools) handleSave(ctx context.Context, args map[string]any) (string, error) {
	content, _ := args["content"].(string)
	if content == "" {
		return "", fmt.Errorf("content is required")
	}

	userID := tools.UserFromContext(ctx)
	if userID == "" {
		return "", fmt.Errorf("no user in context")
	}

	typ := TypePersistent
	if ts, ok := args["type"].(string); ok && ts != "" {
		typ = Type(ts)
		if !typ.Valid() {
			return "", fmt.Errorf("invalid memory type: %s", ts)
		}
	}

	category, _ := args["category"].(string)
	if category == "" {
		category = "fact"
	}

	importance := 5
	if imp, ok := args["importance"].(float64); ok {
		importance = clampImportance(imp)
	}

	m, err := t.store.Save(userID, typ, category, content, importance,
		"agent", tools.ConversationIDFromContext(ctx))
	if err != nil {
		return "", fmt.Errorf("save memory: %w", err)
	}

	return fmt.Sprintf("Memory saved: [%s/%s] %s (id %s)", m.Type, m.Category, m.Content, m.ID), nil
}

func (t *Tools) handleUpdate(ctx context.Context, args map[string]any) (string, error) {
	id, _ := args["id"].(string)
	if id == "" {
		return "", fmt.Errorf("id is required")
	}

	var upd Update
	if c, ok := args["content"].(string); ok {
		upd.Content = &c
	}
	if c, ok := args["category"].(string); ok {
		upd.Category = &c
	}
	if imp, ok := args["importance"].(float64); ok {
		v := clampImportance(imp)
		upd.Importance = &v
	}

	if err := t.store.Update(id, upd); err != nil {
		return "", fmt.Errorf("update memory: %w", err)
	}
	return fmt.Sprintf("Memory %s updated.", id), nil
}

func (t *Tools) handleDelete(ctx context.Context, args map[string]any) (string, error) {
	id, _ := args["id"].(string)
	if id == "" {
		return "", fmt.Errorf("id is required")
	}

	if err := t.store.Remove(id); err != nil {
		return "", fmt.Errorf("delete memory: %w", err)
	}
	return fmt.Sprintf("Memory %s deleted.", id), nil
}

func (t *Tools) handleList(ctx context.Context, args map[string]any) (string, error) {
	userID := tools.UserFromContext(ctx)
	if userID == "" {
		return "", fmt.Errorf("no user in context")
	}

	opts := ListOptions{}
	if ts, ok := args["type"].(string); ok && ts != "" {
		opts.Type = Type(ts)
		if !opts.Type.Valid() {
			return "", fmt.Errorf("invalid memory type: %s", ts)
		}
	}
	if c, ok := args["category"].(string); ok {
		opts.Category = c
	}
	if l, ok := args["limit"].(float64); ok && l > 0 {
		opts.Limit = int(l)
	}

	found, err := t.store.List(userID, opts)
	if err != nil {
		return "", fmt.Errorf("list memories: %w", err)
	}
	if len(found) == 0 {
		return "No memories stored.", nil
	}

	var sb strings.Builder
	for _, m := range found {
		fmt.Fprintf(&sb, "%s [%s/%s] (importance %d) %s\n", m.ID, m.Type, m.Category, m.Importance, m.Content)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// clampImportance rounds and clamps a raw importance value into [1,10].
func clampImportance(v float64) int {
	n := int(math.Round(v))
	if n < 1 {
		return 1
	}
	if n > 10 {
		return 10
	}
	return n
}
