package model

import "time"

type ConversationStatus string

const (
	StatusOpen     ConversationStatus = "OPEN"
	StatusQueued   ConversationStatus = "QUEUED"
	StatusAssigned ConversationStatus = "ASSIGNED"
	StatusClosed   ConversationStatus = "CLOSED"
)

// ParseStatus maps a wire value onto a ConversationStatus.
func ParseStatus(s string) (ConversationStatus, bool) {
	switch ConversationStatus(s) {
	case StatusOpen, StatusQueued, StatusAssigned, StatusClosed:
		return ConversationStatus(s), true
	}
	return "", false
}

// Conversation is the authoritative record of one support session. Version
// guards against lost updates from writers that bypass the conversation lock:
// the repository persists a record only when Version matches the stored one.
type Conversation struct {
	ID         string                 `json:"id"`
	Status     ConversationStatus     `json:"status"`
	Customer   Participant            `json:"customer"`
	Agent      *Participant           `json:"agent,omitempty"`
	CreatedAt  time.Time              `json:"createdAt"`
	UpdatedAt  time.Time              `json:"updatedAt"`
	AcceptedAt *time.Time             `json:"acceptedAt,omitempty"`
	ClosedAt   *time.Time             `json:"closedAt,omitempty"`
	Tags       []string               `json:"tags,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
	Version    int64                  `json:"version"`
}

// AssignedTo reports whether the conversation currently belongs to agentID.
func (c *Conversation) AssignedTo(agentID string) bool {
	return c.Agent != nil && c.Agent.ID == agentID
}

// LastActivity is UpdatedAt, falling back to CreatedAt for records never
// touched after intake.
func (c *Conversation) LastActivity() time.Time {
	if !c.UpdatedAt.IsZero() {
		return c.UpdatedAt
	}
	return c.CreatedAt
}
