package service

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/ashik1291/customer-support-live-chat-system/service/storage"
	"github.com/ashik1291/customer-support-live-chat-system/tools/errs"
)

// AssignmentLedger tracks which conversations each agent currently holds and
// enforces the per-agent admission cap. One Redis set per agent.
type AssignmentLedger struct {
	rdb     *redis.Client
	keys    storage.Keys
	maxOpen int
}

func NewAssignmentLedger(rdb *redis.Client, keys storage.Keys, maxOpen int) *AssignmentLedger {
	if maxOpen < 1 {
		maxOpen = 1
	}
	return &AssignmentLedger{rdb: rdb, keys: keys, maxOpen: maxOpen}
}

// CanAssign reports whether the agent is below the admission cap.
func (l *AssignmentLedger) CanAssign(ctx context.Context, agentID string) (bool, error) {
	if agentID == "" {
		return false, errs.Validation("agent id is required")
	}
	n, err := l.rdb.SCard(ctx, l.keys.AgentConversations(agentID)).Result()
	if err != nil {
		return false, errs.Store(err, "count agent assignments")
	}
	return n < int64(l.maxOpen), nil
}

// RegisterAssignment records the conversation against the agent. Idempotent.
func (l *AssignmentLedger) RegisterAssignment(ctx context.Context, agentID, conversationID string) error {
	if agentID == "" || conversationID == "" {
		return errs.Validation("agent id and conversation id are required")
	}
	if err := l.rdb.SAdd(ctx, l.keys.AgentConversations(agentID), conversationID).Err(); err != nil {
		return errs.Store(err, "register assignment")
	}
	return nil
}

// RemoveAssignment releases the conversation's slot. Idempotent.
func (l *AssignmentLedger) RemoveAssignment(ctx context.Context, agentID, conversationID string) error {
	if agentID == "" || conversationID == "" {
		return errs.Validation("agent id and conversation id are required")
	}
	if err := l.rdb.SRem(ctx, l.keys.AgentConversations(agentID), conversationID).Err(); err != nil {
		return errs.Store(err, "remove assignment")
	}
	return nil
}

// CurrentAssignments lists the conversation ids held by the agent.
func (l *AssignmentLedger) CurrentAssignments(ctx context.Context, agentID string) ([]string, error) {
	if agentID == "" {
		return nil, errs.Validation("agent id is required")
	}
	ids, err := l.rdb.SMembers(ctx, l.keys.AgentConversations(agentID)).Result()
	if err != nil {
		return nil, errs.Store(err, "list agent assignments")
	}
	return ids, nil
}

// Ledgers returns every agent ledger key currently present, for the
// housekeeping reconciliation pass.
func (l *AssignmentLedger) Ledgers(ctx context.Context) (map[string][]string, error) {
	out := map[string][]string{}
	iter := l.rdb.Scan(ctx, 0, l.keys.AgentConversationsPattern(), 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		agentID := storage.AgentIDFromLedgerKey(key)
		if agentID == "" {
			continue
		}
		ids, err := l.rdb.SMembers(ctx, key).Result()
		if err != nil {
			return nil, errs.Store(err, "scan agent ledgers")
		}
		out[agentID] = ids
	}
	if err := iter.Err(); err != nil {
		return nil, errs.Store(err, "scan agent ledgers")
	}
	return out, nil
}
