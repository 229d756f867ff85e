package agent

import "fmt"

// Profile describes the assistant persona shown to users and used for greetings.
type Profile struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Title      string `json:"title"`
	Tone       string `json:"tone"`
	PromptHint string `json:"promptHint"`
	Platform   string `json:"platform"`
}

// FallbackGreeting is used whenever the generator returns nothing usable.
func (p Profile) FallbackGreeting() string {
	return fmt.Sprintf("Hello! I'm %s, your automation assistant. How can I help you with your %s workflows today?", p.Name, p.Platform)
}

// Seed provides the built-in assistant profiles.
func Seed() []Profile {
	return []Profile{
		{
			ID:         "flowbot",
			Name:       "FlowBot",
			Title:      "Workflow automation assistant",
			Tone:       "professional, friendly, concise",
			PromptHint: "Mention that messages are relayed to the user's automation workflow.",
			Platform:   "n8n",
		},
	}
}
