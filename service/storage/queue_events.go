package storage

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/ashik1291/customer-support-live-chat-system/logger"
	"github.com/ashik1291/customer-support-live-chat-system/module/chat/model"
	"github.com/ashik1291/customer-support-live-chat-system/tools/errs"
)

// QueueTopic republishes queue snapshots over Redis pub/sub so every gateway
// instance sees mutations made by any other instance.
type QueueTopic struct {
	rdb  *redis.Client
	keys Keys
}

func NewQueueTopic(rdb *redis.Client, keys Keys) *QueueTopic {
	return &QueueTopic{rdb: rdb, keys: keys}
}

func (t *QueueTopic) PublishSnapshot(ctx context.Context, snapshot model.QueueSnapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return errs.Store(err, "marshal queue snapshot")
	}
	if err := t.rdb.Publish(ctx, t.keys.QueueTopic(), payload).Err(); err != nil {
		return errs.Store(err, "publish queue snapshot")
	}
	return nil
}

// Subscribe delivers decoded snapshots until ctx is cancelled. Undecodable
// frames are logged and dropped.
func (t *QueueTopic) Subscribe(ctx context.Context) (<-chan model.QueueSnapshot, func()) {
	sub := t.rdb.Subscribe(ctx, t.keys.QueueTopic())
	out := make(chan model.QueueSnapshot, 16)

	go func() {
		defer close(out)
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var snapshot model.QueueSnapshot
				if err := json.Unmarshal([]byte(msg.Payload), &snapshot); err != nil {
					logger.Warnf("[queue-topic] dropping undecodable snapshot: %v", err)
					continue
				}
				select {
				case out <- snapshot:
				default:
					// slow consumer, keep only the freshest snapshot
					select {
					case <-out:
					default:
					}
					out <- snapshot
				}
			}
		}
	}()

	cancel := func() { _ = sub.Close() }
	return out, cancel
}
