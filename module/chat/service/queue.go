package service

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ashik1291/customer-support-live-chat-system/logger"
	"github.com/ashik1291/customer-support-live-chat-system/module/chat/model"
	"github.com/ashik1291/customer-support-live-chat-system/service/storage"
	"github.com/ashik1291/customer-support-live-chat-system/tools/errs"
)

type ClaimStatus string

const (
	ClaimClaimed ClaimStatus = "CLAIMED" // entry removed from the wait-list, marker set
	ClaimOwned   ClaimStatus = "OWNED"   // idempotent reclaim by the current holder
	ClaimMissing ClaimStatus = "MISSING" // no entry and no marker for this agent
	ClaimBusy    ClaimStatus = "BUSY"    // marker held by a different agent
)

type ClaimResult struct {
	Status ClaimStatus
	Entry  *model.QueueEntry
}

// SnapshotPublisher receives the refreshed wait-list after every mutating
// queue operation.
type SnapshotPublisher interface {
	PublishSnapshot(ctx context.Context, snapshot model.QueueSnapshot) error
}

// AgentQueue is the ordered wait-list. Two aligned structures back it: a hash
// keyed by conversation id holding the entries, and a zset scored by enqueue
// epoch millis giving the order, plus one assignment marker per conversation.
// The two structures cannot be mutated in one store transaction, so every
// mutation runs under the queue-wide named lock.
type AgentQueue struct {
	rdb            *redis.Client
	keys           storage.Keys
	locks          *storage.LockManager
	publisher      SnapshotPublisher
	broadcastLimit int
}

func NewAgentQueue(rdb *redis.Client, keys storage.Keys, locks *storage.LockManager, publisher SnapshotPublisher, broadcastLimit int) *AgentQueue {
	if broadcastLimit < 1 {
		broadcastLimit = 1
	}
	return &AgentQueue{
		rdb:            rdb,
		keys:           keys,
		locks:          locks,
		publisher:      publisher,
		broadcastLimit: broadcastLimit,
	}
}

// Enqueue inserts the entry into both structures. A zero EnqueuedAt defaults
// to now.
func (q *AgentQueue) Enqueue(ctx context.Context, entry model.QueueEntry) error {
	if entry.ConversationID == "" {
		return errs.Validation("queue entry must include a conversation id")
	}
	if entry.EnqueuedAt.IsZero() {
		entry.EnqueuedAt = time.Now()
	}

	lock, err := q.locks.Acquire(ctx, storage.QueueLockName)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Unlock(ctx) }()

	if err := q.putEntry(ctx, entry); err != nil {
		return err
	}
	q.publishSnapshot(ctx)
	return nil
}

// ClaimForAgent is the exactly-once claim protocol. Retried calls from the
// owning agent converge on OWNED; a second agent gets BUSY; a stale attempt
// surfaces as MISSING so the caller can react.
func (q *AgentQueue) ClaimForAgent(ctx context.Context, conversationID, agentID string, leaseTTL time.Duration) (ClaimResult, error) {
	if conversationID == "" {
		return ClaimResult{}, errs.Validation("conversation id is required")
	}
	if agentID == "" {
		return ClaimResult{}, errs.Validation("agent id is required")
	}

	lock, err := q.locks.Acquire(ctx, storage.QueueLockName)
	if err != nil {
		return ClaimResult{}, err
	}
	defer func() { _ = lock.Unlock(ctx) }()

	owner, err := q.rdb.Get(ctx, q.keys.Assignment(conversationID)).Result()
	if err != nil && err != redis.Nil {
		return ClaimResult{}, errs.Store(err, "read assignment marker")
	}
	if owner != "" && owner != agentID {
		return ClaimResult{Status: ClaimBusy}, nil
	}

	raw, err := q.rdb.HGet(ctx, q.keys.QueueEntries(), conversationID).Result()
	if err == redis.Nil {
		if owner == agentID && owner != "" {
			if err := q.refreshMarker(ctx, conversationID, leaseTTL); err != nil {
				return ClaimResult{}, err
			}
			return ClaimResult{Status: ClaimOwned}, nil
		}
		// orphaned index entry, drop it
		if err := q.rdb.ZRem(ctx, q.keys.QueueOrdered(), conversationID).Err(); err != nil {
			return ClaimResult{}, errs.Store(err, "drop orphan index entry")
		}
		return ClaimResult{Status: ClaimMissing}, nil
	}
	if err != nil {
		return ClaimResult{}, errs.Store(err, "read queue entry")
	}

	var entry model.QueueEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return ClaimResult{}, errs.Store(err, "decode queue entry")
	}

	pipe := q.rdb.TxPipeline()
	pipe.HDel(ctx, q.keys.QueueEntries(), conversationID)
	pipe.ZRem(ctx, q.keys.QueueOrdered(), conversationID)
	if leaseTTL > 0 {
		pipe.Set(ctx, q.keys.Assignment(conversationID), agentID, leaseTTL)
	} else {
		pipe.Set(ctx, q.keys.Assignment(conversationID), agentID, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return ClaimResult{}, errs.Store(err, "claim queue entry")
	}

	q.publishSnapshot(ctx)
	return ClaimResult{Status: ClaimClaimed, Entry: &entry}, nil
}

// Peek returns the head of the wait-list without removing it, healing index
// entries that lost their backing record.
func (q *AgentQueue) Peek(ctx context.Context) (*model.QueueEntry, error) {
	ids, err := q.rdb.ZRange(ctx, q.keys.QueueOrdered(), 0, 0).Result()
	if err != nil {
		return nil, errs.Store(err, "peek queue")
	}
	if len(ids) == 0 {
		return nil, nil
	}
	raw, err := q.rdb.HGet(ctx, q.keys.QueueEntries(), ids[0]).Result()
	if err == redis.Nil {
		_ = q.rdb.ZRem(ctx, q.keys.QueueOrdered(), ids[0]).Err()
		return nil, nil
	}
	if err != nil {
		return nil, errs.Store(err, "peek queue entry")
	}
	var entry model.QueueEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, errs.Store(err, "decode queue entry")
	}
	return &entry, nil
}

// Remove drops the conversation from both structures. Idempotent; the
// snapshot is republished only when something was actually removed.
func (q *AgentQueue) Remove(ctx context.Context, conversationID string) (*model.QueueEntry, error) {
	if conversationID == "" {
		return nil, errs.Validation("conversation id is required")
	}

	lock, err := q.locks.Acquire(ctx, storage.QueueLockName)
	if err != nil {
		return nil, err
	}
	defer func() { _ = lock.Unlock(ctx) }()

	raw, err := q.rdb.HGet(ctx, q.keys.QueueEntries(), conversationID).Result()
	if err == redis.Nil {
		_ = q.rdb.ZRem(ctx, q.keys.QueueOrdered(), conversationID).Err()
		return nil, nil
	}
	if err != nil {
		return nil, errs.Store(err, "read queue entry")
	}

	pipe := q.rdb.TxPipeline()
	pipe.HDel(ctx, q.keys.QueueEntries(), conversationID)
	pipe.ZRem(ctx, q.keys.QueueOrdered(), conversationID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, errs.Store(err, "remove queue entry")
	}

	var entry model.QueueEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, errs.Store(err, "decode queue entry")
	}
	q.publishSnapshot(ctx)
	return &entry, nil
}

// Touch re-inserts the entry with a fresh enqueue time, preserving every
// other field. Used to requeue a conversation at the back of the line.
func (q *AgentQueue) Touch(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return errs.Validation("conversation id is required")
	}

	lock, err := q.locks.Acquire(ctx, storage.QueueLockName)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Unlock(ctx) }()

	raw, err := q.rdb.HGet(ctx, q.keys.QueueEntries(), conversationID).Result()
	if err == redis.Nil {
		_ = q.rdb.ZRem(ctx, q.keys.QueueOrdered(), conversationID).Err()
		return nil
	}
	if err != nil {
		return errs.Store(err, "read queue entry")
	}
	var entry model.QueueEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return errs.Store(err, "decode queue entry")
	}
	entry.EnqueuedAt = time.Now()
	if err := q.putEntry(ctx, entry); err != nil {
		return err
	}
	q.publishSnapshot(ctx)
	return nil
}

// PurgeOlderThan removes every entry older than ttl and returns the
// removed entries so the caller can reconcile their conversations.
func (q *AgentQueue) PurgeOlderThan(ctx context.Context, ttl time.Duration) ([]model.QueueEntry, error) {
	if ttl <= 0 {
		return nil, nil
	}
	cutoff := time.Now().Add(-ttl).UnixMilli()

	lock, err := q.locks.Acquire(ctx, storage.QueueLockName)
	if err != nil {
		return nil, err
	}
	defer func() { _ = lock.Unlock(ctx) }()

	ids, err := q.rdb.ZRangeByScore(ctx, q.keys.QueueOrdered(), &redis.ZRangeBy{
		Min: "-inf",
		Max: formatScore(cutoff),
	}).Result()
	if err != nil {
		return nil, errs.Store(err, "range expired queue entries")
	}
	if len(ids) == 0 {
		return nil, nil
	}

	removed := make([]model.QueueEntry, 0, len(ids))
	for _, id := range ids {
		raw, err := q.rdb.HGet(ctx, q.keys.QueueEntries(), id).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, errs.Store(err, "read expired queue entry")
		}
		var entry model.QueueEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			logger.Warnf("[queue] dropping unreadable expired entry %s: %v", id, err)
			continue
		}
		removed = append(removed, entry)
	}

	pipe := q.rdb.TxPipeline()
	pipe.HDel(ctx, q.keys.QueueEntries(), ids...)
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	pipe.ZRem(ctx, q.keys.QueueOrdered(), members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, errs.Store(err, "purge expired queue entries")
	}

	q.publishSnapshot(ctx)
	return removed, nil
}

// ListQueue returns one page of the wait-list in enqueue order.
func (q *AgentQueue) ListQueue(ctx context.Context, page, size int) ([]model.QueueEntry, error) {
	if size <= 0 {
		return nil, nil
	}
	if page < 0 {
		page = 0
	}
	offset := int64(page) * int64(size)
	ids, err := q.rdb.ZRange(ctx, q.keys.QueueOrdered(), offset, offset+int64(size)-1).Result()
	if err != nil {
		return nil, errs.Store(err, "list queue")
	}
	if len(ids) == 0 {
		return nil, nil
	}
	raws, err := q.rdb.HMGet(ctx, q.keys.QueueEntries(), ids...).Result()
	if err != nil {
		return nil, errs.Store(err, "list queue entries")
	}
	out := make([]model.QueueEntry, 0, len(ids))
	for i, v := range raws {
		if v == nil {
			// index entry without a backing record, heal in passing
			_ = q.rdb.ZRem(ctx, q.keys.QueueOrdered(), ids[i]).Err()
			continue
		}
		var entry model.QueueEntry
		if err := json.Unmarshal([]byte(v.(string)), &entry); err != nil {
			logger.Warnf("[queue] skipping unreadable entry %s: %v", ids[i], err)
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

// Position is the 0-based rank among still-queued entries, or -1 when absent.
func (q *AgentQueue) Position(ctx context.Context, conversationID string) (int64, error) {
	if conversationID == "" {
		return -1, errs.Validation("conversation id is required")
	}
	rank, err := q.rdb.ZRank(ctx, q.keys.QueueOrdered(), conversationID).Result()
	if err == redis.Nil {
		return -1, nil
	}
	if err != nil {
		return -1, errs.Store(err, "queue position")
	}
	return rank, nil
}

// ExtendAssignment refreshes the lease on the conversation's marker.
func (q *AgentQueue) ExtendAssignment(ctx context.Context, conversationID string, leaseTTL time.Duration) error {
	return q.refreshMarker(ctx, conversationID, leaseTTL)
}

// ReleaseAssignment clears the conversation's marker.
func (q *AgentQueue) ReleaseAssignment(ctx context.Context, conversationID string) error {
	if err := q.rdb.Del(ctx, q.keys.Assignment(conversationID)).Err(); err != nil {
		return errs.Store(err, "release assignment marker")
	}
	return nil
}

// AssignmentOwner returns the marker holder, or "" when none is set.
func (q *AgentQueue) AssignmentOwner(ctx context.Context, conversationID string) (string, error) {
	owner, err := q.rdb.Get(ctx, q.keys.Assignment(conversationID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", errs.Store(err, "read assignment marker")
	}
	return owner, nil
}

func (q *AgentQueue) putEntry(ctx context.Context, entry model.QueueEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return errs.Store(err, "marshal queue entry")
	}
	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.keys.QueueEntries(), entry.ConversationID, payload)
	pipe.ZAdd(ctx, q.keys.QueueOrdered(), redis.Z{
		Score:  float64(entry.EnqueuedAt.UnixMilli()),
		Member: entry.ConversationID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return errs.Store(err, "store queue entry")
	}
	return nil
}

func (q *AgentQueue) refreshMarker(ctx context.Context, conversationID string, leaseTTL time.Duration) error {
	if leaseTTL <= 0 {
		return nil
	}
	if err := q.rdb.Expire(ctx, q.keys.Assignment(conversationID), leaseTTL).Err(); err != nil {
		return errs.Store(err, "refresh assignment lease")
	}
	return nil
}

// snapshot publication is best-effort: a failed broadcast never rolls back
// the queue mutation that triggered it.
func (q *AgentQueue) publishSnapshot(ctx context.Context) {
	if q.publisher == nil {
		return
	}
	entries, err := q.ListQueue(ctx, 0, q.broadcastLimit)
	if err != nil {
		logger.Warnf("[queue] snapshot listing failed: %v", err)
		return
	}
	if entries == nil {
		entries = []model.QueueEntry{}
	}
	if err := q.publisher.PublishSnapshot(ctx, model.QueueSnapshot{Entries: entries}); err != nil {
		logger.Warnf("[queue] snapshot publish failed: %v", err)
	}
}

func formatScore(ms int64) string {
	return strconv.FormatInt(ms, 10)
}
