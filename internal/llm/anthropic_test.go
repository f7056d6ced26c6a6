package llm

import (
	"encoding/json"
	"testing"
)

func TestConvertToAnthropic(t *testing.T) {
	messages := []Message{
		{Role: "system", Content: "You are Pierre, a personal assistant."},
		{Role: "user", Content: "Hello!"},
		{Role: "assistant", Content: "Hi there!"},
		{Role: "user", Content: "What's on my calendar?"},
	}

	result, system := convertToAnthropic(messages)

	if system != "You are Pierre, a personal assistant." {
		t.Errorf("expected system prompt extracted, got %q", system)
	}

	if len(result) != 3 {
		t.Fatalf("expected 3 messages (no system), got %d", len(result))
	}

	if result[0].Role != "user" {
		t.Errorf("expected first message to be user, got %s", result[0].Role)
	}
}

func TestConvertToAnthropicWithToolCalls(t *testing.T) {
	messages := []Message{
		{Role: "user", Content: "What do you remember about my dog?"},
		{
			Role: "assistant",
			ToolCalls: []ToolCall{
				NewToolCall("toolu_abc123", "memory_search", map[string]any{"query": "dog"}),
			},
		},
		{Role: "tool", Content: "[persistent/fact] Dog is named Ziggy", ToolCallID: "toolu_abc123"},
	}

	result, _ := convertToAnthropic(messages)

	if len(result) != 3 { // user, assistant with tool_use, user with tool_result
		t.Fatalf("expected 3 messages, got %d", len(result))
	}

	assistantContent, ok := result[1].Content.([]anthropicContent)
	if !ok {
		t.Fatal("expected assistant content to be []anthropicContent")
	}
	if len(assistantContent) != 1 {
		t.Fatalf("expected 1 content block, got %d", len(assistantContent))
	}
	if assistantContent[0].Type != "tool_use" {
		t.Errorf("expected tool_use block, got %s", assistantContent[0].Type)
	}
	if assistantContent[0].ID != "toolu_abc123" {
		t.Errorf("expected tool_use ID toolu_abc123, got %s", assistantContent[0].ID)
	}

	toolResultContent, ok := result[2].Content.([]anthropicContent)
	if !ok {
		t.Fatal("expected tool result content to be []anthropicContent")
	}
	if result[2].Role != "user" {
		t.Errorf("tool results go back as user role, got %s", result[2].Role)
	}
	if toolResultContent[0].Type != "tool_result" {
		t.Errorf("expected tool_result block, got %s", toolResultContent[0].Type)
	}
	if toolResultContent[0].ToolUseID != "toolu_abc123" {
		t.Errorf("tool_use_id = %s", toolResultContent[0].ToolUseID)
	}
}

func TestConvertToolsToAnthropic(t *testing.T) {
	tools := []map[string]any{
		{
			"type": "function",
			"function": map[string]any{
				"name":        "memory_search",
				"description": "Search stored memories",
				"parameters": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"query": map[string]any{"type": "string"},
					},
				},
			},
		},
		WebSearchTool(),
	}

	result := convertToolsToAnthropic(tools)
	if len(result) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(result))
	}

	fn, ok := result[0].(anthropicTool)
	if !ok {
		t.Fatal("expected first tool converted to anthropicTool")
	}
	if fn.Name != "memory_search" {
		t.Errorf("name = %s", fn.Name)
	}

	// Server tools pass through untouched.
	server, ok := result[1].(map[string]any)
	if !ok {
		t.Fatal("expected server tool left as map")
	}
	if server["type"] != webSearchToolType {
		t.Errorf("server tool type = %v", server["type"])
	}
	if server["max_uses"] != webSearchMaxUses {
		t.Errorf("max_uses = %v", server["max_uses"])
	}
}

func TestConvertFromAnthropic(t *testing.T) {
	raw := `{
		"id": "msg_01",
		"type": "message",
		"role": "assistant",
		"model": "claude-sonnet-4",
		"stop_reason": "tool_use",
		"content": [
			{"type": "text", "text": "Let me check."},
			{"type": "tool_use", "id": "toolu_1", "name": "memory_search", "input": {"query": "birthday"}}
		],
		"usage": {"input_tokens": 120, "output_tokens": 45}
	}`

	var resp anthropicResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	result := convertFromAnthropic(&resp)
	if result.Message.Content != "Let me check." {
		t.Errorf("content = %q", result.Message.Content)
	}
	if result.StopReason != "tool_use" {
		t.Errorf("stop reason = %q", result.StopReason)
	}
	if len(result.Message.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(result.Message.ToolCalls))
	}
	tc := result.Message.ToolCalls[0]
	if tc.ID != "toolu_1" || tc.Function.Name != "memory_search" {
		t.Errorf("tool call = %+v", tc)
	}
	if tc.Function.Arguments["query"] != "birthday" {
		t.Errorf("arguments = %v", tc.Function.Arguments)
	}
	if result.InputTokens != 120 || result.OutputTokens != 45 {
		t.Errorf("usage = %d/%d", result.InputTokens, result.OutputTokens)
	}
}
