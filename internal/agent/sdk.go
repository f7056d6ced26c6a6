package agent

import (
	"context"
	"fmt"

	"github.com/pierre-ai/pierre/internal/agentsdk"
	"github.com/pierre-ai/pierre/internal/conversation"
)

// runSDK executes a turn through the managed agent runtime. The runtime
// owns tool execution; this side observes the event stream, persists
// streamed text, and records tool invocations with empty results.
func (o *Orchestrator) runSDK(ctx context.Context, tc *turnContext) *RunResult {
	opts := agentsdk.Options{
		Prompt:          tc.prompt,
		SystemPrompt:    tc.systemPrompt,
		MaxTurns:        o.maxTurns,
		AllowedTools:    o.sdkAllowedTools(tc.resolved.EnabledTools),
		ResumeSessionID: tc.conv.SessionID,
		Model:           tc.resolved.PreferredModel,
	}

	var (
		messageID    string
		streamedText string
		sessionID    = tc.conv.SessionID
		result       *agentsdk.Event
	)

	err := o.sdk.Run(ctx, opts, func(e agentsdk.Event) error {
		switch e.Kind {
		case agentsdk.EventInit:
			sessionID = e.SessionID
			// Persist immediately so the session survives a later failure.
			if err := o.conversations.UpdateSessionID(tc.conv.ID, e.SessionID); err != nil {
				o.logger.Warn("failed to persist session id",
					"conversation_id", tc.conv.ID,
					"error", err,
				)
			}

		case agentsdk.EventAssistant:
			streamedText = e.Text
			id, err := o.conversations.UpsertStreaming(tc.conv.ID, messageID, e.Text, true, nil)
			if err != nil {
				return err
			}
			messageID = id

			// Tool results are not observable from this strategy; the
			// runtime executes them internally. Record the invocation only.
			for _, tu := range e.ToolUses {
				_, err := o.conversations.Append(tc.conv.ID, conversation.RoleTool, "", &conversation.ToolFields{
					Name:  tu.Name,
					Input: string(tu.Input),
				})
				if err != nil {
					return err
				}
			}

		case agentsdk.EventResult:
			ev := e
			result = &ev
		}
		return nil
	})
	if err != nil {
		res := o.failRun(tc, messageID, err)
		res.SessionID = sessionID
		return res
	}

	if result != nil && result.IsError {
		res := o.failRun(tc, messageID, fmt.Errorf("agent runtime reported an error: %s", result.Text))
		res.SessionID = sessionID
		return res
	}

	// Finalize with the best available text.
	final := streamedText
	var cost float64
	var tokens int
	if result != nil {
		if final == "" {
			final = result.Text
		}
		cost = result.CostUSD
		tokens = result.InputTokens + result.OutputTokens
	}
	if final == "" {
		final = fallbackText
	}

	if _, err := o.conversations.UpsertStreaming(tc.conv.ID, messageID, final, false, &conversation.StreamingUpdate{
		CostUSD:    &cost,
		TokenCount: &tokens,
	}); err != nil {
		res := o.failRun(tc, messageID, err)
		res.SessionID = sessionID
		return res
	}

	return &RunResult{
		Success:   true,
		SessionID: sessionID,
		CostUSD:   cost,
	}
}

// sdkAllowedTools builds the allow-list handed to the runtime: outbound
// web tools always, plus capability tools that are both enabled for the
// user and actually registered (credentialed) in this process.
func (o *Orchestrator) sdkAllowedTools(enabled []string) []string {
	allowed := []string{"WebSearch", "WebFetch"}
	for _, capability := range enabled {
		for _, name := range capabilityTools[capability] {
			if o.registry.Get(name) != nil {
				allowed = append(allowed, name)
			}
		}
	}
	return allowed
}
