package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func echoTool(name string) *Tool {
	return &Tool{
		Name:        name,
		Description: "echoes its input",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			text, _ := args["text"].(string)
			return "echo: " + text, nil
		},
	}
}

func TestRegistryExecute(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoTool("echo"))

	result, err := reg.Execute(context.Background(), "echo", `{"text":"hello"}`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result != "echo: hello" {
		t.Errorf("got %q", result)
	}
}

func TestRegistryExecuteUnknown(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Execute(context.Background(), "nope", "{}"); err == nil {
		t.Fatal("expected error for unknown tool")
	}
}

func TestRegistryExecuteBadJSON(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoTool("echo"))
	if _, err := reg.Execute(context.Background(), "echo", "{not json"); err == nil {
		t.Fatal("expected error for invalid arguments")
	}
}

func TestExecuteSafe(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoTool("echo"))
	reg.Register(&Tool{
		Name:        "broken",
		Description: "always fails",
		Parameters:  map[string]any{"type": "object"},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return "", errors.New("boom")
		},
	})

	if got := reg.ExecuteSafe(context.Background(), "echo", `{"text":"hi"}`); got != "echo: hi" {
		t.Errorf("echo: got %q", got)
	}
	if got := reg.ExecuteSafe(context.Background(), "broken", "{}"); got != "Error: boom" {
		t.Errorf("broken: got %q", got)
	}
	got := reg.ExecuteSafe(context.Background(), "missing", "{}")
	if !strings.Contains(got, "missing") {
		t.Errorf("unknown tool text should name the tool, got %q", got)
	}
}

func TestListOrderAndShape(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoTool("b"))
	reg.Register(echoTool("a"))

	defs := reg.List()
	if len(defs) != 2 {
		t.Fatalf("expected 2 definitions, got %d", len(defs))
	}
	first, ok := defs[0]["function"].(map[string]any)
	if !ok {
		t.Fatal("missing function block")
	}
	if first["name"] != "b" {
		t.Errorf("registration order not preserved, first = %v", first["name"])
	}
	if defs[0]["type"] != "function" {
		t.Errorf("type = %v", defs[0]["type"])
	}
}

func TestFilteredCopy(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoTool("a"))
	reg.Register(echoTool("b"))
	reg.Register(echoTool("c"))

	sub := reg.FilteredCopy([]string{"c", "a", "ghost"})
	names := sub.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "c" {
		t.Errorf("names = %v", names)
	}
	if sub.Get("b") != nil {
		t.Error("b should be filtered out")
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	if got := UserFromContext(ctx); got != "default" {
		t.Errorf("unset user = %q", got)
	}
	ctx = WithUser(ctx, "alice")
	ctx = WithConversationID(ctx, "conv-1")
	if got := UserFromContext(ctx); got != "alice" {
		t.Errorf("user = %q", got)
	}
	if got := ConversationIDFromContext(ctx); got != "conv-1" {
		t.Errorf("conversation = %q", got)
	}
}
