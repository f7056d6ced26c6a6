package agent

import (
	"context"
	"strings"

	"github.com/pierre-ai/pierre/internal/conversation"
	"github.com/pierre-ai/pierre/internal/llm"
	"github.com/pierre-ai/pierre/internal/prompts"
)

const (
	// titleModel is the cheap model used for title generation.
	titleModel = "claude-3-5-haiku-latest"

	// titleFallbackChars is how much of the prompt becomes the title
	// when generation is unavailable or fails.
	titleFallbackChars = 50
)

// generateTitle replaces the default conversation title with a short
// generated one after the first turn. Failures fall back to a prompt
// prefix; a title set concurrently by the user always wins.
func (o *Orchestrator) generateTitle(ctx context.Context, conv *conversation.Conversation, prompt string) {
	if conv.Title != conversation.DefaultTitle {
		return
	}

	title := ""
	if o.llm != nil {
		resp, err := o.llm.Chat(ctx, titleModel, []llm.Message{
			{Role: "user", Content: prompts.Title(prompt)},
		}, nil)
		if err != nil {
			o.logger.Warn("title generation failed",
				"conversation_id", conv.ID,
				"error", err,
			)
		} else {
			title = strings.TrimSpace(resp.Message.Content)
			title = strings.Trim(title, `"'`)
		}
	}
	if title == "" {
		title = strings.TrimSpace(headRunes(prompt, titleFallbackChars))
	}
	if title == "" {
		return
	}

	updated, err := o.conversations.UpdateTitleIfDefault(conv.ID, title)
	if err != nil {
		o.logger.Warn("failed to store title",
			"conversation_id", conv.ID,
			"error", err,
		)
		return
	}
	if updated {
		o.logger.Debug("conversation titled",
			"conversation_id", conv.ID,
			"title", title,
		)
	}
}
