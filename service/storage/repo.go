package storage

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ashik1291/customer-support-live-chat-system/logger"
	"github.com/ashik1291/customer-support-live-chat-system/module/chat/model"
	"github.com/ashik1291/customer-support-live-chat-system/tools/errs"
)

// ConversationRepository is the single persistence boundary for conversation
// records and their message logs.
type ConversationRepository interface {
	SaveConversation(ctx context.Context, conversation *model.Conversation) error
	GetConversation(ctx context.Context, conversationID string) (*model.Conversation, error)
	DeleteConversation(ctx context.Context, conversationID string) error
	AppendMessage(ctx context.Context, message *model.Message) error
	GetMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error)
	FindAll(ctx context.Context) ([]*model.Conversation, error)
	FindForAgent(ctx context.Context, agentID string, statuses map[model.ConversationStatus]struct{}) ([]*model.Conversation, error)
	FindStale(ctx context.Context, inactivityCutoff, maxDurationCutoff time.Time) ([]*model.Conversation, error)
}

// compare-and-swap write of a conversation record. The version lives in a
// sibling key so concurrent writers that bypass the conversation lock cannot
// silently overwrite each other.
// KEYS[1] = conversation key
// KEYS[2] = version key
// ARGV[1] = record json
// ARGV[2] = expected version
// ARGV[3] = ttl millis
// returns the new version, or -1 on a version mismatch
const luaSaveConversation = `
local ver = tonumber(redis.call("GET", KEYS[2]) or "0")
if ver ~= tonumber(ARGV[2]) then
  return -1
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
redis.call("SET", KEYS[2], ver + 1, "PX", ARGV[3])
return ver + 1
`

// RedisConversationRepository keeps conversations as JSON strings and message
// logs as lists, both under the conversation TTL. Redis is the one store of
// the whole engine, so there is no second repository implementation.
type RedisConversationRepository struct {
	rdb  *redis.Client
	keys Keys
	ttl  time.Duration
}

func NewRedisConversationRepository(rdb *redis.Client, keys Keys, ttl time.Duration) *RedisConversationRepository {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisConversationRepository{rdb: rdb, keys: keys, ttl: ttl}
}

func (r *RedisConversationRepository) SaveConversation(ctx context.Context, conversation *model.Conversation) error {
	if conversation == nil || conversation.ID == "" {
		return errs.Validation("conversation id is required")
	}

	// bump the version before marshaling so the persisted record carries the
	// version the store will hold after this write
	expected := conversation.Version
	conversation.Version = expected + 1
	payload, err := json.Marshal(conversation)
	if err != nil {
		conversation.Version = expected
		return errs.Store(err, "marshal conversation")
	}
	newVer, err := r.rdb.Eval(ctx, luaSaveConversation,
		[]string{r.keys.Conversation(conversation.ID), r.keys.ConversationVersion(conversation.ID)},
		payload, expected, r.ttl.Milliseconds(),
	).Int64()
	if err != nil {
		conversation.Version = expected
		return errs.Store(err, "save conversation")
	}
	if newVer < 0 {
		conversation.Version = expected
		return errs.ErrVersionConflict.WrapMsg(conversation.ID)
	}
	conversation.Version = newVer
	return nil
}

func (r *RedisConversationRepository) GetConversation(ctx context.Context, conversationID string) (*model.Conversation, error) {
	if conversationID == "" {
		return nil, errs.Validation("conversation id is required")
	}
	raw, err := r.rdb.Get(ctx, r.keys.Conversation(conversationID)).Result()
	if err == redis.Nil {
		return nil, errs.ErrConversationNotFound.WrapMsg(conversationID)
	}
	if err != nil {
		return nil, errs.Store(err, "get conversation")
	}
	var conversation model.Conversation
	if err := json.Unmarshal([]byte(raw), &conversation); err != nil {
		return nil, errs.Store(err, "decode conversation")
	}
	return &conversation, nil
}

func (r *RedisConversationRepository) DeleteConversation(ctx context.Context, conversationID string) error {
	err := r.rdb.Del(ctx,
		r.keys.Conversation(conversationID),
		r.keys.ConversationVersion(conversationID),
		r.keys.Messages(conversationID),
	).Err()
	return errs.Store(err, "delete conversation")
}

func (r *RedisConversationRepository) AppendMessage(ctx context.Context, message *model.Message) error {
	if message == nil || message.ConversationID == "" {
		return errs.Validation("message conversation id is required")
	}
	payload, err := json.Marshal(message)
	if err != nil {
		return errs.Store(err, "marshal message")
	}
	key := r.keys.Messages(message.ConversationID)
	pipe := r.rdb.TxPipeline()
	pipe.RPush(ctx, key, payload)
	pipe.Expire(ctx, key, r.ttl)
	pipe.Expire(ctx, r.keys.Conversation(message.ConversationID), r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return errs.Store(err, "append message")
	}
	return nil
}

func (r *RedisConversationRepository) GetMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	vals, err := r.rdb.LRange(ctx, r.keys.Messages(conversationID), int64(-limit), -1).Result()
	if err != nil {
		return nil, errs.Store(err, "get messages")
	}
	out := make([]model.Message, 0, len(vals))
	for _, v := range vals {
		var m model.Message
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			logger.Warnf("[repo] skipping unreadable message in %s: %v", conversationID, err)
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *RedisConversationRepository) FindAll(ctx context.Context) ([]*model.Conversation, error) {
	var out []*model.Conversation
	iter := r.rdb.Scan(ctx, 0, r.keys.ConversationPattern(), 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if strings.HasSuffix(key, ":messages") || strings.HasSuffix(key, ":ver") {
			continue
		}
		raw, err := r.rdb.Get(ctx, key).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, errs.Store(err, "scan conversations")
		}
		var conversation model.Conversation
		if err := json.Unmarshal([]byte(raw), &conversation); err != nil {
			logger.Warnf("[repo] skipping unreadable conversation at %s: %v", key, err)
			continue
		}
		out = append(out, &conversation)
	}
	if err := iter.Err(); err != nil {
		return nil, errs.Store(err, "scan conversations")
	}
	return out, nil
}

func (r *RedisConversationRepository) FindForAgent(ctx context.Context, agentID string, statuses map[model.ConversationStatus]struct{}) ([]*model.Conversation, error) {
	all, err := r.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Conversation, 0, len(all))
	for _, c := range all {
		if !c.AssignedTo(agentID) {
			continue
		}
		if len(statuses) > 0 {
			if _, ok := statuses[c.Status]; !ok {
				continue
			}
		}
		out = append(out, c)
	}
	return out, nil
}

// FindStale returns non-closed conversations whose last activity predates
// inactivityCutoff or whose creation predates maxDurationCutoff. A zero
// cutoff disables that criterion.
func (r *RedisConversationRepository) FindStale(ctx context.Context, inactivityCutoff, maxDurationCutoff time.Time) ([]*model.Conversation, error) {
	all, err := r.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []*model.Conversation
	for _, c := range all {
		if c.Status == model.StatusClosed {
			continue
		}
		inactive := !inactivityCutoff.IsZero() && c.LastActivity().Before(inactivityCutoff)
		overAge := !maxDurationCutoff.IsZero() && !c.CreatedAt.IsZero() && c.CreatedAt.Before(maxDurationCutoff)
		if inactive || overAge {
			out = append(out, c)
		}
	}
	return out, nil
}
