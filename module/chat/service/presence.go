package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ashik1291/customer-support-live-chat-system/service/storage"
	"github.com/ashik1291/customer-support-live-chat-system/tools/errs"
)

// PresenceTracker records participant heartbeats as TTL'd markers. Absence
// needs no sweep: a participant that stops heartbeating simply ages out.
type PresenceTracker struct {
	rdb  *redis.Client
	keys storage.Keys
	ttl  time.Duration
}

func NewPresenceTracker(rdb *redis.Client, keys storage.Keys, ttl time.Duration) *PresenceTracker {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &PresenceTracker{rdb: rdb, keys: keys, ttl: ttl}
}

// MarkPresent refreshes the participant's marker with the heartbeat instant.
func (p *PresenceTracker) MarkPresent(ctx context.Context, participantID string) error {
	if participantID == "" {
		return errs.Validation("participant id is required")
	}
	now := time.Now().UTC().Format(time.RFC3339)
	if err := p.rdb.Set(ctx, p.keys.Presence(participantID), now, p.ttl).Err(); err != nil {
		return errs.Store(err, "mark present")
	}
	return nil
}

// LastSeen returns the last heartbeat instant, or a zero time when the marker
// expired or was never written.
func (p *PresenceTracker) LastSeen(ctx context.Context, participantID string) (time.Time, error) {
	if participantID == "" {
		return time.Time{}, errs.Validation("participant id is required")
	}
	raw, err := p.rdb.Get(ctx, p.keys.Presence(participantID)).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, errs.Store(err, "read presence")
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errs.Store(err, "decode presence")
	}
	return ts, nil
}

// IsPresent reports whether a non-expired marker exists.
func (p *PresenceTracker) IsPresent(ctx context.Context, participantID string) (bool, error) {
	ts, err := p.LastSeen(ctx, participantID)
	if err != nil {
		return false, err
	}
	return !ts.IsZero(), nil
}

// MarkAbsent removes the marker immediately instead of waiting for the TTL.
func (p *PresenceTracker) MarkAbsent(ctx context.Context, participantID string) error {
	if participantID == "" {
		return errs.Validation("participant id is required")
	}
	if err := p.rdb.Del(ctx, p.keys.Presence(participantID)).Err(); err != nil {
		return errs.Store(err, "mark absent")
	}
	return nil
}
