package service

import (
	"context"
	"sync"
	"time"

	"github.com/ashik1291/customer-support-live-chat-system/logger"
	"github.com/ashik1291/customer-support-live-chat-system/module/chat/model"
	"github.com/ashik1291/customer-support-live-chat-system/tools/ids"
)

// LifecycleListener observes state transitions. Listeners run synchronously
// on the caller's goroutine in registration order; a panicking listener is
// isolated so it cannot take the transition down with it.
type LifecycleListener interface {
	OnLifecycleEvent(ctx context.Context, event model.LifecycleEvent)
}

// MessageListener observes appended chat messages.
type MessageListener interface {
	OnMessageEvent(ctx context.Context, event model.MessageEvent)
}

// EventSink forwards events to an external broker. Delivery is fire-and-forget
// from the notifier's point of view; the sink owns retries and ordering.
type EventSink interface {
	SendLifecycle(event model.LifecycleEvent)
	SendMessage(event model.MessageEvent)
}

// EventNotifier is the single notification boundary. State transitions never
// fail because of a listener or the broker.
type EventNotifier struct {
	mu                 sync.RWMutex
	lifecycleListeners []LifecycleListener
	messageListeners   []MessageListener
	sink               EventSink
}

func NewEventNotifier(sink EventSink) *EventNotifier {
	return &EventNotifier{sink: sink}
}

func (n *EventNotifier) AddLifecycleListener(l LifecycleListener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lifecycleListeners = append(n.lifecycleListeners, l)
}

func (n *EventNotifier) AddMessageListener(l MessageListener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messageListeners = append(n.messageListeners, l)
}

// NotifyLifecycle builds and fans out a lifecycle event.
func (n *EventNotifier) NotifyLifecycle(ctx context.Context, eventType model.LifecycleEventType, conversationID string, payload map[string]interface{}) {
	event := model.LifecycleEvent{
		EventID:        ids.GenerateString(),
		Type:           eventType,
		ConversationID: conversationID,
		OccurredAt:     time.Now(),
		Payload:        payload,
	}

	n.mu.RLock()
	listeners := n.lifecycleListeners
	sink := n.sink
	n.mu.RUnlock()

	for _, l := range listeners {
		invokeLifecycle(ctx, l, event)
	}
	if sink != nil {
		sink.SendLifecycle(event)
	}
}

// NotifyMessage fans out a message event.
func (n *EventNotifier) NotifyMessage(ctx context.Context, message model.Message) {
	event := model.MessageEvent{
		EventID:        ids.GenerateString(),
		ConversationID: message.ConversationID,
		Message:        message,
		OccurredAt:     time.Now(),
	}

	n.mu.RLock()
	listeners := n.messageListeners
	sink := n.sink
	n.mu.RUnlock()

	for _, l := range listeners {
		invokeMessage(ctx, l, event)
	}
	if sink != nil {
		sink.SendMessage(event)
	}
}

func invokeLifecycle(ctx context.Context, l LifecycleListener, event model.LifecycleEvent) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[notifier] lifecycle listener panicked on %s/%s: %v", event.Type, event.ConversationID, r)
		}
	}()
	l.OnLifecycleEvent(ctx, event)
}

func invokeMessage(ctx context.Context, l MessageListener, event model.MessageEvent) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[notifier] message listener panicked on %s: %v", event.ConversationID, r)
		}
	}()
	l.OnMessageEvent(ctx, event)
}
