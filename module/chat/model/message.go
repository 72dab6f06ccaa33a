package model

import "time"

type MessageType string

const (
	MessageText   MessageType = "TEXT"
	MessageSystem MessageType = "SYSTEM"
)

// ParseMessageType maps a wire value onto a MessageType, defaulting to TEXT.
func ParseMessageType(s string) MessageType {
	switch MessageType(s) {
	case MessageSystem:
		return MessageSystem
	default:
		return MessageText
	}
}

// Message is one entry of a conversation's append-only log.
type Message struct {
	ID             string                 `json:"id"`
	ConversationID string                 `json:"conversationId"`
	Type           MessageType            `json:"type"`
	Sender         Participant            `json:"sender"`
	Content        string                 `json:"content"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
}
