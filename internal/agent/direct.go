package agent

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pierre-ai/pierre/internal/conversation"
	"github.com/pierre-ai/pierre/internal/llm"
	"github.com/pierre-ai/pierre/internal/tools"
)

// maxDirectRounds bounds the request/tool-execution loop for one turn.
const maxDirectRounds = 15

// runDirect executes a turn against the provider API directly: it
// replays the conversation history, then loops chat → execute tools →
// chat until the model stops requesting tools or the round budget runs
// out. Assistant text is streamed into a single persisted message.
func (o *Orchestrator) runDirect(ctx context.Context, tc *turnContext) *RunResult {
	history, err := o.conversations.Messages(tc.conv.ID)
	if err != nil {
		return o.failRun(tc, "", err)
	}

	msgs := normalizeHistory(history, tc.prompt)
	msgs = append([]llm.Message{{Role: "system", Content: tc.systemPrompt}}, msgs...)

	model := tc.resolved.PreferredModel
	if model == "" {
		model = o.defaultModel
	}

	reg, defs := o.directTools(tc.resolved.EnabledTools)

	var (
		messageID     string
		assistantText string
		totalIn       int
		totalOut      int
	)

	for round := 0; round < maxDirectRounds; round++ {
		resp, err := o.llm.Chat(ctx, model, msgs, defs)
		if err != nil {
			return o.failRun(tc, messageID, err)
		}
		totalIn += resp.InputTokens
		totalOut += resp.OutputTokens

		if text := strings.TrimSpace(resp.Message.Content); text != "" {
			if assistantText != "" {
				assistantText += "\n\n"
			}
			assistantText += text
			id, err := o.conversations.UpsertStreaming(tc.conv.ID, messageID, assistantText, true, nil)
			if err != nil {
				return o.failRun(tc, messageID, err)
			}
			messageID = id
		}

		if resp.StopReason == "end_turn" || len(resp.Message.ToolCalls) == 0 {
			break
		}

		msgs = append(msgs, resp.Message)
		for _, call := range resp.Message.ToolCalls {
			argsJSON, err := json.Marshal(call.Function.Arguments)
			if err != nil {
				argsJSON = []byte("{}")
			}
			result := reg.ExecuteSafe(ctx, call.Function.Name, string(argsJSON))

			o.logger.Debug("tool executed",
				"conversation_id", tc.conv.ID,
				"tool", call.Function.Name,
			)
			if _, err := o.conversations.Append(tc.conv.ID, conversation.RoleTool, "", &conversation.ToolFields{
				Name:   call.Function.Name,
				Input:  string(argsJSON),
				Result: result,
			}); err != nil {
				return o.failRun(tc, messageID, err)
			}

			msgs = append(msgs, llm.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: call.ID,
			})
		}
	}

	if assistantText == "" {
		assistantText = fallbackText
	}

	cost := llm.Cost(model, totalIn, totalOut)
	tokens := totalIn + totalOut
	if _, err := o.conversations.UpsertStreaming(tc.conv.ID, messageID, assistantText, false, &conversation.StreamingUpdate{
		CostUSD:    &cost,
		TokenCount: &tokens,
	}); err != nil {
		return o.failRun(tc, messageID, err)
	}

	return &RunResult{
		Success:   true,
		SessionID: tc.conv.SessionID,
		CostUSD:   cost,
	}
}

// directTools narrows the registry to the user's enabled capabilities
// and builds the tool definitions for the request, including the
// provider-side web search tool when that capability is on.
func (o *Orchestrator) directTools(enabled []string) (*tools.Registry, []map[string]any) {
	var names []string
	webSearch := false
	for _, capability := range enabled {
		if capability == "web_search" {
			webSearch = true
			names = append(names, "web_fetch")
			continue
		}
		names = append(names, capabilityTools[capability]...)
	}

	reg := o.registry.FilteredCopy(names)
	defs := reg.List()
	if webSearch {
		defs = append(defs, llm.WebSearchTool())
	}
	return reg, defs
}

// normalizeHistory converts the persisted log into provider messages:
// tool-role entries and unfinalized streaming placeholders are dropped,
// consecutive same-role messages are coalesced, leading assistant
// messages are removed, and the history always ends with the user's
// current prompt.
func normalizeHistory(history []*conversation.Message, prompt string) []llm.Message {
	var msgs []llm.Message
	for _, m := range history {
		if m.IsStreaming || m.Role == conversation.RoleTool || m.Role == conversation.RoleSystem {
			continue
		}
		if m.Content == "" {
			continue
		}
		role := string(m.Role)
		if len(msgs) > 0 && msgs[len(msgs)-1].Role == role {
			msgs[len(msgs)-1].Content += "\n\n" + m.Content
			continue
		}
		msgs = append(msgs, llm.Message{Role: role, Content: m.Content})
	}

	for len(msgs) > 0 && msgs[0].Role != "user" {
		msgs = msgs[1:]
	}

	if len(msgs) == 0 || msgs[len(msgs)-1].Role != "user" {
		msgs = append(msgs, llm.Message{Role: "user", Content: prompt})
	}
	return msgs
}
