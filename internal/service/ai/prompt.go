package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/flowbot/backend/internal/model/agent"
	"github.com/zhouzirui/flowbot/backend/internal/model/chat"
)

const (
	greetingSystemPrompt = "You write the first message a chat assistant shows in a new conversation. Reply with the message only."
	titleSystemPrompt    = "You name chat conversations. Reply with the title only, no quotes."

	transcriptLimit = 20
)

// buildGreetingQuery asks for a short welcome tailored to the profile.
func buildGreetingQuery(profile agent.Profile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate a short, %s welcome message for a chat assistant named %s that connects users to an %s workflow automation platform.",
		profile.Tone, profile.Name, profile.Platform)
	if profile.PromptHint != "" {
		b.WriteString(" ")
		b.WriteString(profile.PromptHint)
	}
	return b.String()
}

// buildTitleQuery renders the most recent turns as plain text.
func buildTitleQuery(messages []chat.Message) string {
	start := 0
	if len(messages) > transcriptLimit {
		start = len(messages) - transcriptLimit
	}

	var b strings.Builder
	b.WriteString("Summarize the following chat conversation into a short 5-word title:\n\n")
	for _, msg := range messages[start:] {
		if msg.Metadata != nil && msg.Metadata.IsError {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", msg.Sender, msg.Text)
	}
	return b.String()
}

// cleanTitle keeps the first line and drops wrapping quotes.
func cleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = strings.TrimSpace(title[:i])
	}
	return strings.Trim(title, "\"'` ")
}
