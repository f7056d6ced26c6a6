package prompts

import (
	"fmt"
	"time"
)

const briefingTemplate = `Good morning! Please prepare my daily briefing for %s.

## Unread messages
Check my unread email and Slack messages. Summarize anything that needs a reply today, grouped by sender or channel.

## Reminders
Review your memories for anything time-sensitive: commitments I made, follow-ups I asked you to track, upcoming dates.

## News
Search the web for one or two developments relevant to my interests and summarize each in a sentence.

Keep the whole briefing short and scannable. Lead with the items that need action.`

// Briefing builds the fixed multi-section morning briefing prompt for
// the given date.
func Briefing(date time.Time) string {
	return fmt.Sprintf(briefingTemplate, date.Format("Monday, January 2, 2006"))
}
