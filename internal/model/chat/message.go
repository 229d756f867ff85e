package chat

import "time"

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser   Sender = "USER"
	SenderAgent  Sender = "AGENT"
	SenderSystem Sender = "SYSTEM"
)

// Metadata carries optional flags rendered next to a message.
type Metadata struct {
	IsError        bool   `json:"isError,omitempty"`
	WorkflowStatus string `json:"workflowStatus,omitempty"`
}

// Message is one immutable turn inside a chat session.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	Timestamp int64     `json:"timestamp"`
	Metadata  *Metadata `json:"metadata,omitempty"`
}

// NewMessage stamps a message with the given id and the current time in Unix milliseconds.
func NewMessage(id, text string, sender Sender) Message {
	return Message{
		ID:        id,
		Text:      text,
		Sender:    sender,
		Timestamp: time.Now().UnixMilli(),
	}
}
