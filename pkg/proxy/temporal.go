package proxy

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// injectTemporalContext prepends a system message carrying the current
// UTC date and appends a date note to the last user message unless its
// text already mentions the current year. Some agent configurations drop
// system messages; the inline note survives those.
func injectTemporalContext(req *ChatRequest, now time.Time) {
	now = now.UTC()
	year := strconv.Itoa(now.Year())

	sys := Message{
		Role: "system",
		Content: MessageContent{Text: fmt.Sprintf(
			"Current date and time: %s UTC, %s. The current year is %s.",
			now.Format("2006-01-02 15:04:05"), now.Weekday(), year,
		)},
	}
	req.Messages = append([]Message{sys}, req.Messages...)

	for i := len(req.Messages) - 1; i >= 0; i-- {
		msg := &req.Messages[i]
		if msg.Role != "user" {
			continue
		}
		if msg.Content.Parts == nil && !strings.Contains(msg.Content.Text, year) {
			msg.Content.Text += fmt.Sprintf(
				"\n\n[System note: current date is %s, year %s]",
				now.Format("2006-01-02"), year,
			)
		}
		break
	}
}
