package prompts

import "fmt"

// titlePromptChars caps how much of the user's prompt seeds the title.
const titlePromptChars = 200

// Title builds the single-turn instruction for generating a short
// conversation label from the opening prompt.
func Title(prompt string) string {
	return fmt.Sprintf(
		`Generate a short title (max 6 words) for a conversation that starts with: %q. Return ONLY the title, no quotes.`,
		truncate(prompt, titlePromptChars))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
