package model

import "time"

// QueueEntry is a conversation's standing in the agent wait-list. An entry
// exists iff the conversation status is QUEUED.
type QueueEntry struct {
	ConversationID string    `json:"conversationId"`
	CustomerID     string    `json:"customerId"`
	CustomerName   string    `json:"customerName,omitempty"`
	CustomerPhone  string    `json:"customerPhone,omitempty"`
	Channel        string    `json:"channel,omitempty"`
	EnqueuedAt     time.Time `json:"enqueuedAt"`
}

// QueueSnapshot is the ordered wait-list broadcast to agent dashboards after
// every mutating queue operation.
type QueueSnapshot struct {
	Entries []QueueEntry `json:"entries"`
}
