package fetch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pierre-ai/pierre/internal/tools"
)

// Register adds the web_fetch tool to the registry.
func Register(reg *tools.Registry, f *Fetcher) {
	reg.Register(&tools.Tool{
		Name:        "web_fetch",
		Description: "Fetch a URL and extract its readable text content. Returns JSON with title, content, and metadata.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "URL to fetch and extract content from.",
				},
				"max_chars": map[string]any{
					"type":        "integer",
					"description": "Maximum characters to return. Default: 50000.",
				},
			},
			"required": []string{"url"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			url, _ := args["url"].(string)
			if url == "" {
				return "", fmt.Errorf("web_fetch: url is required")
			}

			maxChars := 0
			if mc, ok := args["max_chars"].(float64); ok && mc > 0 {
				maxChars = int(mc)
			}

			result, err := f.Fetch(ctx, url, maxChars)
			if err != nil {
				return "", err
			}

			out, err := json.Marshal(result)
			if err != nil {
				return fmt.Sprintf("Title: %s\n\n%s", result.Title, result.Content), nil
			}
			return string(out), nil
		},
	})
}
