package chat

import "unicode/utf8"

const (
	// DefaultSessionName is the placeholder title until the first exchange completes.
	DefaultSessionName = "New Chat"

	titleLimit = 30
)

// Session is a named, ordered thread of messages.
type Session struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Messages  []Message `json:"messages"`
	CreatedAt int64     `json:"createdAt"`
}

// TitleFromText truncates text to 30 runes, appending "..." when anything was cut.
func TitleFromText(text string) string {
	if utf8.RuneCountInString(text) <= titleLimit {
		return text
	}
	runes := []rune(text)
	return string(runes[:titleLimit]) + "..."
}
