package search

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pierre-ai/pierre/internal/tools"
)

// Register adds the web_search tool to the registry, backed by the
// manager's primary provider. Used when the providerless built-in
// search capability is unavailable for a run.
func Register(reg *tools.Registry, mgr *Manager) {
	reg.Register(&tools.Tool{
		Name:        "web_search",
		Description: "Search the web. Returns a JSON array of results with title, url, and snippet.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query string.",
				},
				"count": map[string]any{
					"type":        "integer",
					"description": "Maximum number of results to return (1-10). Default: 5.",
				},
				"language": map[string]any{
					"type":        "string",
					"description": "ISO 639-1 language code for results (e.g., 'en', 'de').",
				},
			},
			"required": []string{"query"},
		},
		Handler: toolHandler(mgr),
	})
}

func toolHandler(mgr *Manager) func(ctx context.Context, args map[string]any) (string, error) {
	return func(ctx context.Context, args map[string]any) (string, error) {
		query, _ := args["query"].(string)
		if query == "" {
			return "", fmt.Errorf("web_search: query is required")
		}

		opts := Options{}
		if count, ok := args["count"].(float64); ok && count > 0 {
			opts.Count = int(count)
		}
		if lang, ok := args["language"].(string); ok {
			opts.Language = lang
		}

		results, err := mgr.Search(ctx, query, opts)
		if err != nil {
			return "", err
		}

		out, err := json.Marshal(results)
		if err != nil {
			return FormatResults(results), nil
		}
		return string(out), nil
	}
}
