package webhook

// Config holds the workflow webhook a workspace relays messages to.
type Config struct {
	WebhookURL string `json:"webhookUrl"`
}
