package storage

import (
	"fmt"
	"strings"
)

// Keys builds every Redis key the engine owns under one prefix, so several
// deployments can share an instance without colliding.
type Keys struct {
	prefix string
}

func NewKeys(prefix string) Keys {
	if prefix == "" {
		prefix = "chat"
	}
	return Keys{prefix: prefix}
}

func (k Keys) Conversation(conversationID string) string {
	return fmt.Sprintf("%s:conversation:%s", k.prefix, conversationID)
}

func (k Keys) ConversationVersion(conversationID string) string {
	return fmt.Sprintf("%s:conversation:%s:ver", k.prefix, conversationID)
}

func (k Keys) Messages(conversationID string) string {
	return fmt.Sprintf("%s:conversation:%s:messages", k.prefix, conversationID)
}

func (k Keys) ConversationPattern() string {
	return fmt.Sprintf("%s:conversation:*", k.prefix)
}

func (k Keys) QueueOrdered() string {
	return fmt.Sprintf("%s:queue:pending", k.prefix)
}

func (k Keys) QueueEntries() string {
	return fmt.Sprintf("%s:queue:entries", k.prefix)
}

func (k Keys) QueueTopic() string {
	return fmt.Sprintf("%s:topic:queue", k.prefix)
}

func (k Keys) Assignment(conversationID string) string {
	return fmt.Sprintf("%s:assignment:%s", k.prefix, conversationID)
}

func (k Keys) AgentConversations(agentID string) string {
	return fmt.Sprintf("%s:agent:%s:conversations", k.prefix, agentID)
}

func (k Keys) AgentConversationsPattern() string {
	return fmt.Sprintf("%s:agent:*:conversations", k.prefix)
}

// AgentIDFromLedgerKey recovers the agent id from a ledger key produced by
// AgentConversations, or "" when the key has a different shape.
func AgentIDFromLedgerKey(key string) string {
	parts := strings.Split(key, ":")
	if len(parts) < 4 || parts[len(parts)-3] != "agent" || parts[len(parts)-1] != "conversations" {
		return ""
	}
	return parts[len(parts)-2]
}

func (k Keys) Presence(participantID string) string {
	return fmt.Sprintf("%s:presence:%s", k.prefix, participantID)
}

func (k Keys) Lock(name string) string {
	return fmt.Sprintf("%s:lock:%s", k.prefix, name)
}

// QueueLockName and HousekeepingLockName are the two well-known named locks.
const (
	QueueLockName        = "queue"
	HousekeepingLockName = "housekeeping"
)

// ConversationLockName scopes a lock to one conversation.
func ConversationLockName(conversationID string) string {
	return "conversation:" + conversationID
}
