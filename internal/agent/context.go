package agent

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pierre-ai/pierre/internal/conversation"
	"github.com/pierre-ai/pierre/internal/memory"
	"github.com/pierre-ai/pierre/internal/prompts"
	"github.com/pierre-ai/pierre/internal/settings"
)

const (
	// persistentMemoryLimit caps how many persistent memories seed the
	// system prompt.
	persistentMemoryLimit = 20

	// searchMemoryLimit caps prompt-derived memory search matches.
	searchMemoryLimit = 10

	// searchPromptChars is how much of the prompt seeds the search.
	searchPromptChars = 200

	// minSearchPromptLen is the shortest prompt worth searching over.
	minSearchPromptLen = 3
)

// turnContext is everything a run strategy needs for one turn.
type turnContext struct {
	conv         *conversation.Conversation
	systemPrompt string
	resolved     settings.Resolved
	memories     []*memory.Memory
	prompt       string
	userID       string
}

// assembleContext loads the conversation, relevant memories, and user
// settings concurrently, then composes the system prompt. It has no
// side effects.
func (o *Orchestrator) assembleContext(ctx context.Context, conversationID, userID, prompt string) (*turnContext, error) {
	var (
		conv       *conversation.Conversation
		persistent []*memory.Memory
		searched   []*memory.Memory
		resolved   settings.Resolved
	)

	var g errgroup.Group
	g.Go(func() error {
		var err error
		conv, err = o.conversations.Get(conversationID)
		return err
	})
	g.Go(func() error {
		var err error
		persistent, err = o.memories.List(userID, memory.ListOptions{
			Type:  memory.TypePersistent,
			Limit: persistentMemoryLimit,
		})
		return err
	})
	g.Go(func() error {
		if len(prompt) <= minSearchPromptLen {
			return nil
		}
		var err error
		searched, err = o.memories.Search(userID, headRunes(prompt, searchPromptChars), "", searchMemoryLimit)
		return err
	})
	g.Go(func() error {
		var err error
		resolved, err = o.settings.Resolve(userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("assembling context: %w", err)
	}
	if conv == nil {
		return nil, fmt.Errorf("conversation %s not found", conversationID)
	}

	merged := mergeMemories(persistent, searched)

	lines := make([]prompts.MemoryLine, 0, len(merged))
	for _, m := range merged {
		lines = append(lines, prompts.MemoryLine{Category: m.Category, Content: m.Content})
	}

	return &turnContext{
		conv:         conv,
		systemPrompt: prompts.System(resolved.DisplayName, resolved.Timezone, lines, time.Now()),
		resolved:     resolved,
		memories:     merged,
		prompt:       prompt,
		userID:       userID,
	}, nil
}

// mergeMemories appends searched memories after the persistent set,
// de-duplicating by id. Persistent ordering is preserved.
func mergeMemories(persistent, searched []*memory.Memory) []*memory.Memory {
	seen := make(map[string]bool, len(persistent))
	merged := make([]*memory.Memory, 0, len(persistent)+len(searched))

	for _, m := range persistent {
		seen[m.ID] = true
		merged = append(merged, m)
	}
	for _, m := range searched {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		merged = append(merged, m)
	}
	return merged
}

// headRunes returns the first max runes of s.
func headRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
