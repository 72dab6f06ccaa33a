package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashik1291/customer-support-live-chat-system/module/chat/model"
	"github.com/ashik1291/customer-support-live-chat-system/service/storage"
	"github.com/ashik1291/customer-support-live-chat-system/tools/errs"
)

type recordingListener struct {
	mu        sync.Mutex
	lifecycle []model.LifecycleEvent
	messages  []model.MessageEvent
}

func (l *recordingListener) OnLifecycleEvent(_ context.Context, event model.LifecycleEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lifecycle = append(l.lifecycle, event)
}

func (l *recordingListener) OnMessageEvent(_ context.Context, event model.MessageEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, event)
}

func (l *recordingListener) lifecycleTypes() []model.LifecycleEventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.LifecycleEventType, 0, len(l.lifecycle))
	for _, e := range l.lifecycle {
		out = append(out, e.Type)
	}
	return out
}

type coordinatorFixture struct {
	mr          *miniredis.Miniredis
	rdb         *goredis.Client
	keys        storage.Keys
	repo        *storage.RedisConversationRepository
	queue       *AgentQueue
	ledger      *AssignmentLedger
	locks       *storage.LockManager
	presence    *PresenceTracker
	coordinator *Coordinator
	listener    *recordingListener
}

func newCoordinatorFixture(t *testing.T, maxPerAgent int) *coordinatorFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	keys := storage.NewKeys("test")
	locks := storage.NewLockManager(rdb, keys, time.Second, 5*time.Second)
	repo := storage.NewRedisConversationRepository(rdb, keys, time.Hour)
	queue := NewAgentQueue(rdb, keys, locks, nil, 100)
	ledger := NewAssignmentLedger(rdb, keys, maxPerAgent)

	listener := &recordingListener{}
	notifier := NewEventNotifier(nil)
	notifier.AddLifecycleListener(listener)
	notifier.AddMessageListener(listener)

	presence := NewPresenceTracker(rdb, keys, time.Minute)
	return &coordinatorFixture{
		mr:          mr,
		rdb:         rdb,
		keys:        keys,
		repo:        repo,
		queue:       queue,
		ledger:      ledger,
		locks:       locks,
		presence:    presence,
		coordinator: NewCoordinator(repo, queue, ledger, locks, notifier, presence, time.Hour),
		listener:    listener,
	}
}

func (f *coordinatorFixture) start(t *testing.T) *model.Conversation {
	t.Helper()
	conversation, err := f.coordinator.StartConversation(context.Background(), StartRequest{
		CustomerID:  "cust-1",
		DisplayName: "Ada",
	})
	require.NoError(t, err)
	return conversation
}

func TestStartConversationQueuesCustomer(t *testing.T) {
	f := newCoordinatorFixture(t, 3)
	ctx := context.Background()

	conversation := f.start(t)
	assert.Equal(t, model.StatusQueued, conversation.Status)
	assert.Equal(t, "cust-1", conversation.Customer.ID)
	assert.Equal(t, "Ada", conversation.Customer.DisplayName)

	pos, err := f.coordinator.QueuePosition(ctx, conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pos)

	types := f.listener.lifecycleTypes()
	assert.Equal(t, []model.LifecycleEventType{
		model.EventConversationStarted,
		model.EventConversationQueued,
	}, types)

	queued := f.listener.lifecycle[1]
	assert.Equal(t, int64(0), queued.Payload["position"])
}

func TestAcceptConversation(t *testing.T) {
	f := newCoordinatorFixture(t, 3)
	ctx := context.Background()
	conversation := f.start(t)

	accepted, err := f.coordinator.AcceptConversation(ctx, conversation.ID, "agent-1", "Lin")
	require.NoError(t, err)
	assert.Equal(t, model.StatusAssigned, accepted.Status)
	require.NotNil(t, accepted.Agent)
	assert.Equal(t, "agent-1", accepted.Agent.ID)
	assert.Equal(t, "Lin", accepted.Agent.DisplayName)
	require.NotNil(t, accepted.AcceptedAt)

	// queue entry consumed, ledger slot taken
	pos, err := f.coordinator.QueuePosition(ctx, conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), pos)

	held, err := f.ledger.CurrentAssignments(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, []string{conversation.ID}, held)

	assert.Contains(t, f.listener.lifecycleTypes(), model.EventConversationAccepted)
}

func TestAcceptIsIdempotentForHolder(t *testing.T) {
	f := newCoordinatorFixture(t, 3)
	ctx := context.Background()
	conversation := f.start(t)

	_, err := f.coordinator.AcceptConversation(ctx, conversation.ID, "agent-1", "Lin")
	require.NoError(t, err)

	again, err := f.coordinator.AcceptConversation(ctx, conversation.ID, "agent-1", "Lin")
	require.NoError(t, err)
	assert.Equal(t, model.StatusAssigned, again.Status)
	assert.True(t, again.AssignedTo("agent-1"))

	held, err := f.ledger.CurrentAssignments(ctx, "agent-1")
	require.NoError(t, err)
	assert.Len(t, held, 1)
}

func TestAcceptConflictsForSecondAgent(t *testing.T) {
	f := newCoordinatorFixture(t, 3)
	ctx := context.Background()
	conversation := f.start(t)

	_, err := f.coordinator.AcceptConversation(ctx, conversation.ID, "agent-1", "Lin")
	require.NoError(t, err)

	_, err = f.coordinator.AcceptConversation(ctx, conversation.ID, "agent-2", "Kim")
	assert.ErrorIs(t, err, errs.ErrAlreadyAssigned)
}

func TestAcceptClosedConversation(t *testing.T) {
	f := newCoordinatorFixture(t, 3)
	ctx := context.Background()
	conversation := f.start(t)

	_, err := f.coordinator.CloseConversation(ctx, conversation.ID, nil)
	require.NoError(t, err)

	_, err = f.coordinator.AcceptConversation(ctx, conversation.ID, "agent-1", "Lin")
	assert.ErrorIs(t, err, errs.ErrConversationClosed)
}

func TestAcceptAtCapacity(t *testing.T) {
	f := newCoordinatorFixture(t, 1)
	ctx := context.Background()

	first := f.start(t)
	second := f.start(t)

	_, err := f.coordinator.AcceptConversation(ctx, first.ID, "agent-1", "Lin")
	require.NoError(t, err)

	_, err = f.coordinator.AcceptConversation(ctx, second.ID, "agent-1", "Lin")
	assert.ErrorIs(t, err, errs.ErrAgentAtCapacity)

	// a full agent must not consume the queue entry
	pos, err := f.coordinator.QueuePosition(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pos)

	// freeing the slot makes the claim possible again
	_, err = f.coordinator.CloseConversation(ctx, first.ID, nil)
	require.NoError(t, err)
	accepted, err := f.coordinator.AcceptConversation(ctx, second.ID, "agent-1", "Lin")
	require.NoError(t, err)
	assert.Equal(t, model.StatusAssigned, accepted.Status)
}

func TestAcceptNonQueuedConversationIsGone(t *testing.T) {
	f := newCoordinatorFixture(t, 3)
	ctx := context.Background()

	// a record that never entered the wait-list
	open := &model.Conversation{
		ID:        "open-1",
		Status:    model.StatusOpen,
		Customer:  model.Participant{ID: "cust-9", Type: model.ParticipantCustomer},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, f.repo.SaveConversation(ctx, open))

	_, err := f.coordinator.AcceptConversation(ctx, "open-1", "agent-1", "Lin")
	assert.ErrorIs(t, err, errs.ErrConversationGone)
}

func TestSendMessage(t *testing.T) {
	f := newCoordinatorFixture(t, 3)
	ctx := context.Background()
	conversation := f.start(t)

	message, err := f.coordinator.SendMessage(ctx, conversation.ID, conversation.Customer, "hello there", nil)
	require.NoError(t, err)
	assert.Equal(t, model.MessageText, message.Type)
	assert.Equal(t, "hello there", message.Content)

	messages, err := f.coordinator.GetRecentMessages(ctx, conversation.ID, 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	updated, err := f.coordinator.GetConversation(ctx, conversation.ID)
	require.NoError(t, err)
	assert.False(t, updated.UpdatedAt.Before(message.Timestamp))

	assert.Contains(t, f.listener.lifecycleTypes(), model.EventMessageReceived)
}

func TestSendMessageToClosedConversation(t *testing.T) {
	f := newCoordinatorFixture(t, 3)
	ctx := context.Background()
	conversation := f.start(t)

	_, err := f.coordinator.CloseConversation(ctx, conversation.ID, nil)
	require.NoError(t, err)

	_, err = f.coordinator.SendMessage(ctx, conversation.ID, conversation.Customer, "too late", nil)
	assert.ErrorIs(t, err, errs.ErrConversationEnded)
}

func TestCloseConversationReleasesEverything(t *testing.T) {
	f := newCoordinatorFixture(t, 3)
	ctx := context.Background()
	conversation := f.start(t)

	_, err := f.coordinator.AcceptConversation(ctx, conversation.ID, "agent-1", "Lin")
	require.NoError(t, err)

	agent := model.Participant{ID: "agent-1", Type: model.ParticipantAgent, DisplayName: "Lin"}
	closed, err := f.coordinator.CloseConversation(ctx, conversation.ID, &agent)
	require.NoError(t, err)
	assert.Equal(t, model.StatusClosed, closed.Status)
	require.NotNil(t, closed.ClosedAt)

	owner, err := f.queue.AssignmentOwner(ctx, conversation.ID)
	require.NoError(t, err)
	assert.Empty(t, owner)

	held, err := f.ledger.CurrentAssignments(ctx, "agent-1")
	require.NoError(t, err)
	assert.Empty(t, held)

	// closure notice names the agent
	messages, err := f.coordinator.GetRecentMessages(ctx, conversation.ID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, messages)
	notice := messages[len(messages)-1]
	assert.Equal(t, model.MessageSystem, notice.Type)
	assert.Equal(t, "Lin has closed the conversation.", notice.Content)

	assert.Contains(t, f.listener.lifecycleTypes(), model.EventConversationClosed)
}

func TestCloseIsIdempotent(t *testing.T) {
	f := newCoordinatorFixture(t, 3)
	ctx := context.Background()
	conversation := f.start(t)

	first, err := f.coordinator.CloseConversation(ctx, conversation.ID, nil)
	require.NoError(t, err)

	second, err := f.coordinator.CloseConversation(ctx, conversation.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusClosed, second.Status)
	assert.Equal(t, first.ClosedAt.Unix(), second.ClosedAt.Unix())

	// only one closure notice
	messages, err := f.coordinator.GetRecentMessages(ctx, conversation.ID, 10)
	require.NoError(t, err)
	count := 0
	for _, m := range messages {
		if m.Type == model.MessageSystem {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestCloseByCustomerNotice(t *testing.T) {
	f := newCoordinatorFixture(t, 3)
	ctx := context.Background()
	conversation := f.start(t)

	customer := conversation.Customer
	_, err := f.coordinator.CloseConversation(ctx, conversation.ID, &customer)
	require.NoError(t, err)

	messages, err := f.coordinator.GetRecentMessages(ctx, conversation.ID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, messages)
	assert.Equal(t, "The customer has left the conversation.", messages[len(messages)-1].Content)
}

func TestGetConversationsForAgentOrder(t *testing.T) {
	f := newCoordinatorFixture(t, 5)
	ctx := context.Background()

	first := f.start(t)
	second := f.start(t)
	_, err := f.coordinator.AcceptConversation(ctx, first.ID, "agent-1", "Lin")
	require.NoError(t, err)
	_, err = f.coordinator.AcceptConversation(ctx, second.ID, "agent-1", "Lin")
	require.NoError(t, err)

	// activity on the first makes it most recent
	time.Sleep(5 * time.Millisecond)
	firstRecord, err := f.coordinator.GetConversation(ctx, first.ID)
	require.NoError(t, err)
	_, err = f.coordinator.SendMessage(ctx, first.ID, firstRecord.Customer, "ping", nil)
	require.NoError(t, err)

	conversations, err := f.coordinator.GetConversationsForAgent(ctx, "agent-1", nil)
	require.NoError(t, err)
	require.Len(t, conversations, 2)
	assert.Equal(t, first.ID, conversations[0].ID)
	assert.Equal(t, second.ID, conversations[1].ID)
}

func TestRequeueRefreshesPlace(t *testing.T) {
	f := newCoordinatorFixture(t, 3)
	ctx := context.Background()

	first := f.start(t)
	time.Sleep(2 * time.Millisecond)
	second := f.start(t)

	require.NoError(t, f.coordinator.QueueForAgent(ctx, first.ID))

	pos, err := f.coordinator.QueuePosition(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pos)

	pos, err = f.coordinator.QueuePosition(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pos)
}

func TestStartConversationMarksCustomerPresent(t *testing.T) {
	f := newCoordinatorFixture(t, 3)
	ctx := context.Background()

	f.start(t)

	present, err := f.presence.IsPresent(ctx, "cust-1")
	require.NoError(t, err)
	assert.True(t, present)
}

func TestSendMessageMarksSenderPresent(t *testing.T) {
	f := newCoordinatorFixture(t, 3)
	ctx := context.Background()
	conversation := f.start(t)

	accepted, err := f.coordinator.AcceptConversation(ctx, conversation.ID, "agent-1", "Lin")
	require.NoError(t, err)

	_, err = f.coordinator.SendMessage(ctx, conversation.ID, *accepted.Agent, "how can I help?", nil)
	require.NoError(t, err)

	present, err := f.presence.IsPresent(ctx, "agent-1")
	require.NoError(t, err)
	assert.True(t, present)
}

func TestAcceptRetryDropsResidualQueueEntry(t *testing.T) {
	f := newCoordinatorFixture(t, 3)
	ctx := context.Background()
	conversation := f.start(t)

	_, err := f.coordinator.AcceptConversation(ctx, conversation.ID, "agent-1", "Lin")
	require.NoError(t, err)

	// a stray wait-list entry left behind an assigned conversation
	require.NoError(t, f.queue.Enqueue(ctx, model.QueueEntry{
		ConversationID: conversation.ID,
		CustomerID:     conversation.Customer.ID,
	}))

	_, err = f.coordinator.AcceptConversation(ctx, conversation.ID, "agent-1", "Lin")
	require.NoError(t, err)

	pos, err := f.coordinator.QueuePosition(ctx, conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), pos)
}

func TestAcceptBusyDropsQueueEntry(t *testing.T) {
	f := newCoordinatorFixture(t, 3)
	ctx := context.Background()
	conversation := f.start(t)

	// another instance claimed the marker but its record write has not landed
	require.NoError(t, f.rdb.Set(ctx, f.keys.Assignment(conversation.ID), "agent-2", time.Hour).Err())

	_, err := f.coordinator.AcceptConversation(ctx, conversation.ID, "agent-1", "Lin")
	assert.ErrorIs(t, err, errs.ErrAlreadyAssigned)

	pos, err := f.coordinator.QueuePosition(ctx, conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), pos)
}

func TestRequeueAssignedConversation(t *testing.T) {
	f := newCoordinatorFixture(t, 3)
	ctx := context.Background()
	conversation := f.start(t)

	_, err := f.coordinator.AcceptConversation(ctx, conversation.ID, "agent-1", "Lin")
	require.NoError(t, err)

	require.NoError(t, f.coordinator.QueueForAgent(ctx, conversation.ID))

	requeued, err := f.coordinator.GetConversation(ctx, conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, requeued.Status)
	assert.Nil(t, requeued.Agent)

	pos, err := f.coordinator.QueuePosition(ctx, conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pos)

	held, err := f.ledger.CurrentAssignments(ctx, "agent-1")
	require.NoError(t, err)
	assert.Empty(t, held)

	owner, err := f.queue.AssignmentOwner(ctx, conversation.ID)
	require.NoError(t, err)
	assert.Empty(t, owner)

	// the conversation is claimable again, by anyone
	accepted, err := f.coordinator.AcceptConversation(ctx, conversation.ID, "agent-2", "Kim")
	require.NoError(t, err)
	assert.True(t, accepted.AssignedTo("agent-2"))
}

func TestAcceptRepairsLostAssignmentWrite(t *testing.T) {
	f := newCoordinatorFixture(t, 3)
	ctx := context.Background()
	conversation := f.start(t)

	// the marker landed but the record write was lost: entry gone, marker
	// owned by the accepting agent, record still QUEUED
	_, err := f.queue.Remove(ctx, conversation.ID)
	require.NoError(t, err)
	require.NoError(t, f.rdb.Set(ctx, f.keys.Assignment(conversation.ID), "agent-1", time.Hour).Err())

	repaired, err := f.coordinator.AcceptConversation(ctx, conversation.ID, "agent-1", "Lin")
	require.NoError(t, err)
	assert.Equal(t, model.StatusAssigned, repaired.Status)
	require.NotNil(t, repaired.Agent)
	assert.Equal(t, "agent-1", repaired.Agent.ID)
	require.NotNil(t, repaired.AcceptedAt)

	held, err := f.ledger.CurrentAssignments(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, []string{conversation.ID}, held)

	// a repair is not a fresh accept, so no accepted event goes out
	for _, eventType := range f.listener.lifecycleTypes() {
		assert.NotEqual(t, model.EventConversationAccepted, eventType)
	}
}

func TestCloseNoticeGoesOutAsMessageEvent(t *testing.T) {
	f := newCoordinatorFixture(t, 3)
	ctx := context.Background()
	conversation := f.start(t)

	agent := model.Participant{ID: "agent-1", Type: model.ParticipantAgent, DisplayName: "Lin"}
	_, err := f.coordinator.AcceptConversation(ctx, conversation.ID, agent.ID, agent.DisplayName)
	require.NoError(t, err)
	_, err = f.coordinator.CloseConversation(ctx, conversation.ID, &agent)
	require.NoError(t, err)

	f.listener.mu.Lock()
	defer f.listener.mu.Unlock()
	require.NotEmpty(t, f.listener.messages)
	notice := f.listener.messages[len(f.listener.messages)-1]
	assert.Equal(t, model.MessageSystem, notice.Message.Type)
	assert.Equal(t, "Lin has closed the conversation.", notice.Message.Content)
}

func TestCloseWithoutActorNamesAssignedAgent(t *testing.T) {
	f := newCoordinatorFixture(t, 3)
	ctx := context.Background()
	conversation := f.start(t)

	_, err := f.coordinator.AcceptConversation(ctx, conversation.ID, "agent-1", "Lin")
	require.NoError(t, err)

	_, err = f.coordinator.CloseConversation(ctx, conversation.ID, nil)
	require.NoError(t, err)

	messages, err := f.coordinator.GetRecentMessages(ctx, conversation.ID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, messages)
	assert.Equal(t, "Lin has closed the conversation.", messages[len(messages)-1].Content)
}
