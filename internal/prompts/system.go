package prompts

import (
	"fmt"
	"strings"
	"time"
)

// MemoryLine is one memory rendered into the system prompt context.
type MemoryLine struct {
	Category string
	Content  string
}

const personaTemplate = `You are Pierre, a personal AI assistant for %s. You are helpful, concise, and personable. You have access to memory tools to remember important information about the user across conversations.

Behavioral directives:
- When the user shares a fact, preference, or correction, proactively save it to memory.
- Search your memory before claiming you don't know something about the user.
- Prefer structured, concise output.`

// System builds the system prompt for a conversational turn. displayName
// falls back to "there" when the user has no settings record; now is
// rendered in UTC.
func System(displayName, timezone string, memories []MemoryLine, now time.Time) string {
	if displayName == "" {
		displayName = "there"
	}
	if timezone == "" {
		timezone = "UTC"
	}

	var b strings.Builder
	fmt.Fprintf(&b, personaTemplate, displayName)

	if len(memories) > 0 {
		b.WriteString("\n\nRelevant memories about the user:")
		for _, m := range memories {
			fmt.Fprintf(&b, "\n- [%s] %s", m.Category, m.Content)
		}
	}

	fmt.Fprintf(&b, "\n\nCurrent date/time: %s\nTimezone: %s",
		now.UTC().Format(time.RFC3339), timezone)

	return b.String()
}
