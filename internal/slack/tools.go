package slack

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pierre-ai/pierre/internal/tools"
)

// Register adds the Slack read tools to the registry.
func Register(reg *tools.Registry, client *Client) {
	reg.Register(&tools.Tool{
		Name:        "slack_search_messages",
		Description: "Search Slack messages with a query string. Returns formatted results with channel, author, timestamp, text.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Search query string",
				},
				"count": map[string]any{
					"type":        "integer",
					"description": "Number of results to return (default 20)",
				},
				"sort": map[string]any{
					"type":        "string",
					"enum":        []string{"score", "timestamp"},
					"description": "Sort order (default score)",
				},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			query, _ := args["query"].(string)
			if query == "" {
				return "", fmt.Errorf("slack_search_messages: query is required")
			}
			count := intArg(args, "count")
			sort, _ := args["sort"].(string)

			result, err := client.SearchMessages(ctx, query, count, sort)
			if err != nil {
				return "", err
			}
			return marshal(result)
		},
	})

	reg.Register(&tools.Tool{
		Name:        "slack_list_channels",
		Description: "List all accessible Slack channels",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of channels to return (default 100)",
				},
				"types": map[string]any{
					"type":        "string",
					"description": "Comma-separated channel types: public_channel, private_channel, mpim, im (default public_channel)",
				},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			types, _ := args["types"].(string)
			channels, err := client.ListChannels(ctx, intArg(args, "limit"), types)
			if err != nil {
				return "", err
			}
			return marshal(channels)
		},
	})

	reg.Register(&tools.Tool{
		Name:        "slack_read_channel",
		Description: "Read recent messages from a specific Slack channel",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"channel_id": map[string]any{
					"type":        "string",
					"description": "The channel ID to read messages from",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Number of messages to retrieve (default 20)",
				},
			},
			"required": []string{"channel_id"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			channelID, _ := args["channel_id"].(string)
			if channelID == "" {
				return "", fmt.Errorf("slack_read_channel: channel_id is required")
			}

			messages, err := client.ChannelHistory(ctx, channelID, intArg(args, "limit"))
			if err != nil {
				return "", err
			}
			return marshal(map[string]any{
				"channel":  channelID,
				"messages": messages,
			})
		},
	})

	reg.Register(&tools.Tool{
		Name:        "slack_get_unread",
		Description: "Get unread messages and mentions for the authenticated user",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of unread items to return (default 20)",
				},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			unread, err := client.GetUnread(ctx, intArg(args, "limit"))
			if err != nil {
				return "", err
			}
			return marshal(map[string]any{
				"total_unread_channels": len(unread),
				"channels":              unread,
			})
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
		return "", fmt.Errorf("slack: encode result: %w", err)
	}
	return string(out), nil
}
