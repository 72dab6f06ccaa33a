package model

import "time"

type LifecycleEventType string

const (
	EventConversationStarted  LifecycleEventType = "STARTED"
	EventConversationQueued   LifecycleEventType = "QUEUED"
	EventConversationAccepted LifecycleEventType = "ACCEPTED"
	EventConversationClosed   LifecycleEventType = "CLOSED"
	EventMessageReceived      LifecycleEventType = "MESSAGE_RECEIVED"
)

// LifecycleEvent is published on every conversation state transition.
type LifecycleEvent struct {
	EventID        string                 `json:"eventId"`
	Type           LifecycleEventType     `json:"type"`
	ConversationID string                 `json:"conversationId"`
	OccurredAt     time.Time              `json:"occurredAt"`
	Payload        map[string]interface{} `json:"payload,omitempty"`
}

// MessageEvent is published for every appended chat message.
type MessageEvent struct {
	EventID        string    `json:"eventId"`
	ConversationID string    `json:"conversationId"`
	Message        Message   `json:"message"`
	OccurredAt     time.Time `json:"occurredAt"`
}
