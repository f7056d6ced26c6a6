package agent

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pierre-ai/pierre/internal/agentsdk"
	"github.com/pierre-ai/pierre/internal/conversation"
	"github.com/pierre-ai/pierre/internal/llm"
	"github.com/pierre-ai/pierre/internal/memory"
	"github.com/pierre-ai/pierre/internal/settings"
	"github.com/pierre-ai/pierre/internal/tools"
)

type stubLLM struct {
	chatFn func(model string, msgs []llm.Message) (*llm.ChatResponse, error)
	calls  int
}

func (s *stubLLM) Chat(_ context.Context, model string, msgs []llm.Message, _ []map[string]any) (*llm.ChatResponse, error) {
	s.calls++
	return s.chatFn(model, msgs)
}

func (s *stubLLM) ChatStream(ctx context.Context, model string, msgs []llm.Message, tools []map[string]any, _ llm.StreamCallback) (*llm.ChatResponse, error) {
	return s.Chat(ctx, model, msgs, tools)
}

func (s *stubLLM) Ping(context.Context) error { return nil }

type stubSDK struct {
	events []agentsdk.Event
	err    error
}

func (s *stubSDK) Run(_ context.Context, _ agentsdk.Options, handler agentsdk.Handler) error {
	for _, e := range s.events {
		if err := handler(e); err != nil {
			return err
		}
	}
	return s.err
}

// textResponse builds a plain end-of-turn reply.
func textResponse(text string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Message:      llm.Message{Role: "assistant", Content: text},
		StopReason:   "end_turn",
		InputTokens:  100,
		OutputTokens: 50,
	}
}

func newTestOrchestrator(t *testing.T, client llm.Client, sdk SDKRunner) (*Orchestrator, *conversation.Store, *settings.Store) {
	t.Helper()
	dir := t.TempDir()

	convs, err := conversation.NewStore(filepath.Join(dir, "conversations.db"))
	if err != nil {
		t.Fatalf("conversation store: %v", err)
	}
	t.Cleanup(func() { convs.Close() })

	mems, err := memory.NewStore(filepath.Join(dir, "memories.db"))
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	t.Cleanup(func() { mems.Close() })

	sets, err := settings.NewStore(filepath.Join(dir, "settings.db"))
	if err != nil {
		t.Fatalf("settings store: %v", err)
	}
	t.Cleanup(func() { sets.Close() })

	reg := tools.NewRegistry()
	reg.Register(&tools.Tool{
		Name:        "memory_search",
		Description: "search memories",
		Parameters:  map[string]any{"type": "object"},
		Handler: func(context.Context, map[string]any) (string, error) {
			return "no matches", nil
		},
	})

	return New(Config{
		Conversations: convs,
		Memories:      mems,
		Settings:      sets,
		Registry:      reg,
		LLM:           client,
		SDK:           sdk,
		DefaultModel:  "claude-sonnet-4-20250514",
		MaxTurns:      10,
	}), convs, sets
}

func enableTools(t *testing.T, sets *settings.Store, userID string, names []string) {
	t.Helper()
	if _, err := sets.Upsert(userID, settings.Update{EnabledTools: &names}); err != nil {
		t.Fatalf("upsert settings: %v", err)
	}
}

func startConversation(t *testing.T, convs *conversation.Store, userID, prompt string) *conversation.Conversation {
	t.Helper()
	conv, err := convs.Create(userID, conversation.DefaultTitle)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	if _, err := convs.Append(conv.ID, conversation.RoleUser, prompt, nil); err != nil {
		t.Fatalf("append prompt: %v", err)
	}
	return conv
}

func TestRunTurnDirect(t *testing.T) {
	client := &stubLLM{chatFn: func(model string, msgs []llm.Message) (*llm.ChatResponse, error) {
		if strings.Contains(msgs[len(msgs)-1].Content, "Generate a short title") {
			return textResponse(`"Paris Trip Plans"`), nil
		}
		return textResponse("Sounds like a great trip."), nil
	}}
	o, convs, _ := newTestOrchestrator(t, client, nil)
	conv := startConversation(t, convs, "alice", "Help me plan a trip to Paris")

	result, err := o.RunTurn(context.Background(), conv.ID, "alice", "Help me plan a trip to Paris")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.CostUSD <= 0 {
		t.Errorf("expected positive cost, got %f", result.CostUSD)
	}

	msgs, err := convs.Messages(conv.ID)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	last := msgs[len(msgs)-1]
	if last.Role != conversation.RoleAssistant {
		t.Fatalf("last message role = %s, want assistant", last.Role)
	}
	if last.Content != "Sounds like a great trip." {
		t.Errorf("content = %q", last.Content)
	}
	if last.IsStreaming {
		t.Error("final message still marked streaming")
	}
	if last.TokenCount != 150 {
		t.Errorf("token count = %d, want 150", last.TokenCount)
	}

	got, err := convs.Get(conv.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "Paris Trip Plans" {
		t.Errorf("title = %q, want generated title without quotes", got.Title)
	}
}

func TestRunTurnDirectToolLoopTerminates(t *testing.T) {
	// A model that always requests a tool must still stop at the round
	// budget.
	client := &stubLLM{}
	client.chatFn = func(model string, msgs []llm.Message) (*llm.ChatResponse, error) {
		if strings.Contains(msgs[len(msgs)-1].Content, "Generate a short title") {
			return textResponse("Loop Test"), nil
		}
		call := llm.NewToolCall(fmt.Sprintf("toolu_%d", client.calls), "memory_search", map[string]any{"query": "paris"})
		return &llm.ChatResponse{
			Message:    llm.Message{Role: "assistant", ToolCalls: []llm.ToolCall{call}},
			StopReason: "tool_use",
		}, nil
	}
	o, convs, sets := newTestOrchestrator(t, client, nil)
	enableTools(t, sets, "alice", []string{"memory"})
	conv := startConversation(t, convs, "alice", "search my memories forever")

	result, err := o.RunTurn(context.Background(), conv.ID, "alice", "search my memories forever")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}

	// maxDirectRounds chat calls plus one title call.
	if client.calls != maxDirectRounds+1 {
		t.Errorf("chat calls = %d, want %d", client.calls, maxDirectRounds+1)
	}

	msgs, err := convs.Messages(conv.ID)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	last := msgs[len(msgs)-1]
	if last.Content != "I'm sorry, I couldn't generate a response." {
		t.Errorf("expected fallback text, got %q", last.Content)
	}

	toolMsgs := 0
	for _, m := range msgs {
		if m.Role == conversation.RoleTool {
			toolMsgs++
			if m.ToolName != "memory_search" {
				t.Errorf("tool name = %q", m.ToolName)
			}
			if m.ToolResult != "no matches" {
				t.Errorf("tool result = %q", m.ToolResult)
			}
		}
	}
	if toolMsgs != maxDirectRounds {
		t.Errorf("tool messages = %d, want %d", toolMsgs, maxDirectRounds)
	}
}

func TestRunTurnDirectProviderError(t *testing.T) {
	client := &stubLLM{chatFn: func(string, []llm.Message) (*llm.ChatResponse, error) {
		return nil, errors.New("rate limited")
	}}
	o, convs, _ := newTestOrchestrator(t, client, nil)
	conv := startConversation(t, convs, "alice", "hello there")

	result, err := o.RunTurn(context.Background(), conv.ID, "alice", "hello there")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure")
	}
	if result.ErrorMessage != "rate limited" {
		t.Errorf("error message = %q", result.ErrorMessage)
	}

	msgs, err := convs.Messages(conv.ID)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	last := msgs[len(msgs)-1]
	if last.Role != conversation.RoleAssistant {
		t.Fatalf("last role = %s", last.Role)
	}
	if !strings.HasPrefix(last.Content, "I encountered an error: ") {
		t.Errorf("content = %q, want error explanation", last.Content)
	}
	if last.IsStreaming {
		t.Error("error message left streaming")
	}
}

func TestRunTurnSDK(t *testing.T) {
	sdk := &stubSDK{events: []agentsdk.Event{
		{Kind: agentsdk.EventInit, SessionID: "sess_123"},
		{Kind: agentsdk.EventAssistant, Text: "Let me check."},
		{Kind: agentsdk.EventAssistant, Text: "Let me check.\n\nDone: 42."},
		{Kind: agentsdk.EventResult, Text: "Let me check.\n\nDone: 42.", CostUSD: 0.03, InputTokens: 200, OutputTokens: 80},
	}}
	o, convs, _ := newTestOrchestrator(t, nil, sdk)
	conv := startConversation(t, convs, "bob", "what is six times seven")

	result, err := o.RunTurn(context.Background(), conv.ID, "bob", "what is six times seven")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.SessionID != "sess_123" {
		t.Errorf("session id = %q", result.SessionID)
	}
	if result.CostUSD != 0.03 {
		t.Errorf("cost = %f", result.CostUSD)
	}

	got, err := convs.Get(conv.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.SessionID != "sess_123" {
		t.Errorf("stored session id = %q", got.SessionID)
	}
	// Fallback title: no direct client configured.
	if got.Title != "what is six times seven" {
		t.Errorf("title = %q", got.Title)
	}

	msgs, err := convs.Messages(conv.ID)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	last := msgs[len(msgs)-1]
	if last.Content != "Let me check.\n\nDone: 42." {
		t.Errorf("content = %q", last.Content)
	}
	if last.IsStreaming {
		t.Error("final message still streaming")
	}
	if last.TokenCount != 280 {
		t.Errorf("token count = %d", last.TokenCount)
	}
}

func TestRunTurnSDKError(t *testing.T) {
	sdk := &stubSDK{
		events: []agentsdk.Event{{Kind: agentsdk.EventInit, SessionID: "sess_x"}},
		err:    errors.New("subprocess exited"),
	}
	o, convs, _ := newTestOrchestrator(t, nil, sdk)
	conv := startConversation(t, convs, "bob", "hello")

	result, err := o.RunTurn(context.Background(), conv.ID, "bob", "hello")
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure")
	}

	msgs, _ := convs.Messages(conv.ID)
	last := msgs[len(msgs)-1]
	if !strings.HasPrefix(last.Content, "I encountered an error: ") {
		t.Errorf("content = %q", last.Content)
	}
}

func TestRunTurnInFlight(t *testing.T) {
	o, convs, _ := newTestOrchestrator(t, nil, &stubSDK{})
	conv := startConversation(t, convs, "bob", "hi")

	if err := o.acquire(conv.ID); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer o.release(conv.ID)

	_, err := o.RunTurn(context.Background(), conv.ID, "bob", "hi")
	if !errors.Is(err, ErrRunInFlight) {
		t.Fatalf("err = %v, want ErrRunInFlight", err)
	}
}

func TestRunTurnUnknownConversation(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, nil, &stubSDK{})
	_, err := o.RunTurn(context.Background(), "nope", "bob", "hi")
	if err == nil {
		t.Fatal("expected error for unknown conversation")
	}
}

func TestNormalizeHistory(t *testing.T) {
	mk := func(role conversation.Role, content string) *conversation.Message {
		return &conversation.Message{Role: role, Content: content}
	}

	tests := []struct {
		name    string
		history []*conversation.Message
		prompt  string
		want    []llm.Message
	}{
		{
			name: "coalesces consecutive user messages",
			history: []*conversation.Message{
				mk(conversation.RoleUser, "a"),
				mk(conversation.RoleUser, "b"),
				mk(conversation.RoleAssistant, "c"),
			},
			prompt: "next",
			want: []llm.Message{
				{Role: "user", Content: "a\n\nb"},
				{Role: "assistant", Content: "c"},
				{Role: "user", Content: "next"},
			},
		},
		{
			name: "drops tool and streaming entries",
			history: []*conversation.Message{
				mk(conversation.RoleUser, "q"),
				{Role: conversation.RoleTool, Content: "", ToolName: "memory_search"},
				{Role: conversation.RoleAssistant, Content: "partial", IsStreaming: true},
			},
			prompt: "q",
			want: []llm.Message{
				{Role: "user", Content: "q"},
			},
		},
		{
			name: "drops leading assistant message",
			history: []*conversation.Message{
				mk(conversation.RoleAssistant, "orphan"),
				mk(conversation.RoleUser, "q"),
			},
			prompt: "q",
			want: []llm.Message{
				{Role: "user", Content: "q"},
			},
		},
		{
			name:    "empty history gets the prompt",
			history: nil,
			prompt:  "hello",
			want: []llm.Message{
				{Role: "user", Content: "hello"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeHistory(tt.history, tt.prompt)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d messages, want %d: %+v", len(got), len(tt.want), got)
			}
			for i := range got {
				if got[i].Role != tt.want[i].Role || got[i].Content != tt.want[i].Content {
					t.Errorf("msg %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestMergeMemories(t *testing.T) {
	mem := func(id string) *memory.Memory { return &memory.Memory{ID: id} }

	merged := mergeMemories(
		[]*memory.Memory{mem("a"), mem("b")},
		[]*memory.Memory{mem("b"), mem("c")},
	)
	if len(merged) != 3 {
		t.Fatalf("len = %d, want 3", len(merged))
	}
	for i, want := range []string{"a", "b", "c"} {
		if merged[i].ID != want {
			t.Errorf("merged[%d] = %s, want %s", i, merged[i].ID, want)
		}
	}
}

func TestSelectStrategy(t *testing.T) {
	if got := SelectStrategy(true); got != StrategyDirect {
		t.Errorf("with credential: %s", got)
	}
	if got := SelectStrategy(false); got != StrategyAgentSDK {
		t.Errorf("without credential: %s", got)
	}
}

func TestHeadRunes(t *testing.T) {
	if got := headRunes("héllo wörld", 5); got != "héllo" {
		t.Errorf("got %q", got)
	}
	if got := headRunes("short", 50); got != "short" {
		t.Errorf("got %q", got)
	}
}

func TestSDKAllowedTools(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, nil, &stubSDK{})

	// Only memory_search is registered in the test registry; other
	// memory tools are filtered out, web tools are always present.
	got := o.sdkAllowedTools([]string{"memory", "web_search", "slack"})
	want := []string{"WebSearch", "WebFetch", "memory_search"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Errorf("allowed[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}
