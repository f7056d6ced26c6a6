package gmail

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pierre-ai/pierre/internal/tools"
)

// Register adds the Gmail read tools to the registry.
func Register(reg *tools.Registry, client *Client) {
	reg.Register(&tools.Tool{
		Name:        "gmail_search",
		Description: "Search emails with Gmail query syntax. Returns formatted results with subject, from, date, snippet.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Gmail search query (e.g., 'from:someone subject:hello')",
				},
				"max_results": map[string]any{
					"type":        "integer",
					"description": "Maximum number of results (default 10)",
				},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			query, _ := args["query"].(string)
			if query == "" {
				return "", fmt.Errorf("gmail_search: query is required")
			}

			result, err := client.Search(ctx, query, intArg(args, "max_results"))
			if err != nil {
				return "", err
			}
			return marshal(result)
		},
	})

	reg.Register(&tools.Tool{
		Name:        "gmail_read_email",
		Description: "Read full email content by message ID",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"message_id": map[string]any{
					"type":        "string",
					"description": "The Gmail message ID to read",
				},
			},
			"required": []string{"message_id"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			id, _ := args["message_id"].(string)
			if id == "" {
				return "", fmt.Errorf("gmail_read_email: message_id is required")
			}

			email, err := client.ReadEmail(ctx, id)
			if err != nil {
				return "", err
			}
			return marshal(email)
		},
	})

	reg.Register(&tools.Tool{
		Name:        "gmail_list_unread",
		Description: "List unread emails with optional limit",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"max_results": map[string]any{
					"type":        "integer",
					"description": "Maximum number of unread emails to return (default 10)",
				},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			result, err := client.ListUnread(ctx, intArg(args, "max_results"))
			if err != nil {
				return "", err
			}
			return marshal(map[string]any{
				"total_unread": result.Total,
				"results":      result.Results,
			})
		},
	})

	reg.Register(&tools.Tool{
		Name:        "gmail_list_labels",
		Description: "List all Gmail labels",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			labels, err := client.ListLabels(ctx)
			if err != nil {
				return "", err
			}
			return marshal(labels)
		},
	})
}

func intArg(args map[string]any, key string) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	return 0
}

func marshal(v any) (string, error) {
	out, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("gmail: encode result: %w", err)
	}
	return string(out), nil
}
