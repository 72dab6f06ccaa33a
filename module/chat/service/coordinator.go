package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ashik1291/customer-support-live-chat-system/logger"
	"github.com/ashik1291/customer-support-live-chat-system/module/chat/model"
	"github.com/ashik1291/customer-support-live-chat-system/service/storage"
	"github.com/ashik1291/customer-support-live-chat-system/tools/errs"
	"github.com/ashik1291/customer-support-live-chat-system/tools/ids"
)

// Coordinator drives the conversation state machine: OPEN, QUEUED, ASSIGNED,
// CLOSED. Every transition of one conversation runs under that conversation's
// named lock, so check-then-act sequences stay atomic per conversation.
type Coordinator struct {
	repo          storage.ConversationRepository
	queue         *AgentQueue
	ledger        *AssignmentLedger
	locks         *storage.LockManager
	notifier      *EventNotifier
	presence      *PresenceTracker
	assignmentTTL time.Duration
}

func NewCoordinator(
	repo storage.ConversationRepository,
	queue *AgentQueue,
	ledger *AssignmentLedger,
	locks *storage.LockManager,
	notifier *EventNotifier,
	presence *PresenceTracker,
	assignmentTTL time.Duration,
) *Coordinator {
	if assignmentTTL <= 0 {
		assignmentTTL = 12 * time.Hour
	}
	return &Coordinator{
		repo:          repo,
		queue:         queue,
		ledger:        ledger,
		locks:         locks,
		notifier:      notifier,
		presence:      presence,
		assignmentTTL: assignmentTTL,
	}
}

// markPresent refreshes a participant's presence marker without letting a
// presence failure abort the operation that triggered it.
func (c *Coordinator) markPresent(ctx context.Context, participantID string) {
	if c.presence == nil || participantID == "" {
		return
	}
	if err := c.presence.MarkPresent(ctx, participantID); err != nil {
		logger.Warnf("[coordinator] presence refresh for %s failed: %v", participantID, err)
	}
}

// StartConversation creates a new OPEN conversation for the resolved
// customer and immediately places it in the wait-list.
func (c *Coordinator) StartConversation(ctx context.Context, req StartRequest) (*model.Conversation, error) {
	customer := ResolveCustomer(req)
	now := time.Now()

	conversation := &model.Conversation{
		ID:         ids.GenerateString(),
		Status:     model.StatusOpen,
		Customer:   customer,
		CreatedAt:  now,
		UpdatedAt:  now,
		Tags:       req.Tags,
		Attributes: req.Attributes,
	}
	if err := c.repo.SaveConversation(ctx, conversation); err != nil {
		return nil, err
	}
	c.markPresent(ctx, customer.ID)
	c.notifier.NotifyLifecycle(ctx, model.EventConversationStarted, conversation.ID, map[string]interface{}{
		"customerId": customer.ID,
	})

	if err := c.QueueForAgent(ctx, conversation.ID); err != nil {
		return nil, err
	}
	return c.repo.GetConversation(ctx, conversation.ID)
}

// QueueForAgent places the conversation in the wait-list. A QUEUED
// conversation is refreshed at the back of the line; an ASSIGNED one is taken
// away from its agent first (ledger slot, marker and agent field cleared) and
// then requeued.
func (c *Coordinator) QueueForAgent(ctx context.Context, conversationID string) error {
	lock, err := c.locks.Acquire(ctx, storage.ConversationLockName(conversationID))
	if err != nil {
		return err
	}
	defer func() { _ = lock.Unlock(ctx) }()

	conversation, err := c.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	switch conversation.Status {
	case model.StatusClosed:
		return errs.ErrConversationClosed.WrapMsg(conversationID)
	case model.StatusQueued:
		return c.queue.Touch(ctx, conversationID)
	case model.StatusAssigned:
		if conversation.Agent != nil {
			if err := c.ledger.RemoveAssignment(ctx, conversation.Agent.ID, conversationID); err != nil {
				logger.Warnf("[coordinator] ledger release on requeue of %s failed: %v", conversationID, err)
			}
		}
		if err := c.queue.ReleaseAssignment(ctx, conversationID); err != nil {
			logger.Warnf("[coordinator] marker release on requeue of %s failed: %v", conversationID, err)
		}
		conversation.Agent = nil
	}

	profile := DecodeProfile(conversation.Attributes)
	entry := model.QueueEntry{
		ConversationID: conversationID,
		CustomerID:     conversation.Customer.ID,
		CustomerName:   conversation.Customer.DisplayName,
		CustomerPhone:  profile.Phone,
		Channel:        profile.Channel,
		EnqueuedAt:     time.Now(),
	}
	if err := c.queue.Enqueue(ctx, entry); err != nil {
		return err
	}

	conversation.Status = model.StatusQueued
	conversation.UpdatedAt = time.Now()
	if err := c.repo.SaveConversation(ctx, conversation); err != nil {
		return err
	}

	position, err := c.queue.Position(ctx, conversationID)
	if err != nil {
		logger.Warnf("[coordinator] position lookup for %s failed: %v", conversationID, err)
		position = -1
	}
	c.notifier.NotifyLifecycle(ctx, model.EventConversationQueued, conversationID, map[string]interface{}{
		"customerId": conversation.Customer.ID,
		"position":   position,
	})
	return nil
}

// AcceptConversation is the agent's claim on a queued conversation. The
// branch order matters: terminal and ownership checks come before the
// capacity check, so a retry by the current holder never burns a slot, and
// the capacity check comes before the claim, so a full agent never consumes
// the queue entry.
func (c *Coordinator) AcceptConversation(ctx context.Context, conversationID, agentID, agentName string) (*model.Conversation, error) {
	if agentID == "" {
		return nil, errs.Validation("agent id is required")
	}

	lock, err := c.locks.Acquire(ctx, storage.ConversationLockName(conversationID))
	if err != nil {
		return nil, err
	}
	defer func() { _ = lock.Unlock(ctx) }()

	conversation, err := c.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conversation.Status == model.StatusClosed {
		return nil, errs.ErrConversationClosed.WrapMsg(conversationID)
	}
	if conversation.Agent != nil && conversation.Agent.ID != agentID {
		return nil, errs.ErrAlreadyAssigned.WrapMsg(conversationID)
	}
	if conversation.Status == model.StatusAssigned && conversation.AssignedTo(agentID) {
		// retry by the current holder: refresh the lease and the ledger, and
		// drop any residual wait-list entry so the sweep cannot purge an
		// actively assigned conversation
		if err := c.queue.ExtendAssignment(ctx, conversationID, c.assignmentTTL); err != nil {
			return nil, err
		}
		if err := c.ledger.RegisterAssignment(ctx, agentID, conversationID); err != nil {
			return nil, err
		}
		if _, err := c.queue.Remove(ctx, conversationID); err != nil {
			logger.Warnf("[coordinator] residual entry removal for %s failed: %v", conversationID, err)
		}
		return conversation, nil
	}

	ok, err := c.ledger.CanAssign(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.ErrAgentAtCapacity.WrapMsg(agentID)
	}

	if conversation.Status != model.StatusQueued {
		if _, err := c.queue.Remove(ctx, conversationID); err != nil {
			logger.Warnf("[coordinator] purge of non-queued %s failed: %v", conversationID, err)
		}
		return nil, errs.ErrConversationGone.WrapMsg(conversationID)
	}

	result, err := c.queue.ClaimForAgent(ctx, conversationID, agentID, c.assignmentTTL)
	if err != nil {
		return nil, err
	}
	switch result.Status {
	case ClaimBusy:
		// another agent holds the marker; the entry must not linger in the
		// wait-list behind it
		if _, err := c.queue.Remove(ctx, conversationID); err != nil {
			logger.Warnf("[coordinator] entry removal for busy %s failed: %v", conversationID, err)
		}
		return nil, errs.ErrAlreadyAssigned.WrapMsg(conversationID)
	case ClaimMissing:
		if err := c.queue.ReleaseAssignment(ctx, conversationID); err != nil {
			logger.Warnf("[coordinator] marker release for %s failed: %v", conversationID, err)
		}
		return nil, errs.ErrConversationGone.WrapMsg(conversationID)
	case ClaimOwned:
		if err := c.ledger.RegisterAssignment(ctx, agentID, conversationID); err != nil {
			return nil, err
		}
		return c.backfill(ctx, conversation, agentID, agentName)
	case ClaimClaimed:
		if err := c.ledger.RegisterAssignment(ctx, agentID, conversationID); err != nil {
			return nil, err
		}
		return c.assign(ctx, conversation, agentID, agentName)
	default:
		return nil, errs.Store(fmt.Errorf("unexpected claim status %q", result.Status), "accept conversation")
	}
}

// backfill repairs a record whose assignment write was lost after the marker
// was set: fields are filled only where unset, the record is persisted only
// when something changed, and no accepted event is re-emitted.
func (c *Coordinator) backfill(ctx context.Context, conversation *model.Conversation, agentID, agentName string) (*model.Conversation, error) {
	changed := false
	now := time.Now()
	if conversation.Agent == nil {
		agent := ResolveAgent(agentID, agentName)
		conversation.Agent = &agent
		changed = true
	}
	if conversation.Status != model.StatusAssigned {
		conversation.Status = model.StatusAssigned
		changed = true
	}
	if conversation.AcceptedAt == nil {
		conversation.AcceptedAt = &now
		changed = true
	}
	if changed {
		conversation.UpdatedAt = now
		if err := c.repo.SaveConversation(ctx, conversation); err != nil {
			return nil, err
		}
	}
	return conversation, nil
}

func (c *Coordinator) assign(ctx context.Context, conversation *model.Conversation, agentID, agentName string) (*model.Conversation, error) {
	agent := ResolveAgent(agentID, agentName)
	now := time.Now()
	conversation.Agent = &agent
	conversation.Status = model.StatusAssigned
	conversation.AcceptedAt = &now
	conversation.UpdatedAt = now
	if err := c.repo.SaveConversation(ctx, conversation); err != nil {
		return nil, err
	}
	c.notifier.NotifyLifecycle(ctx, model.EventConversationAccepted, conversation.ID, map[string]interface{}{
		"agentId":    agentID,
		"customerId": conversation.Customer.ID,
	})
	return conversation, nil
}

// SendMessage appends a message to the conversation log and bumps the
// conversation's activity clock.
func (c *Coordinator) SendMessage(ctx context.Context, conversationID string, sender model.Participant, content string, metadata map[string]interface{}) (*model.Message, error) {
	if content == "" {
		return nil, errs.Validation("message content is required")
	}

	lock, err := c.locks.Acquire(ctx, storage.ConversationLockName(conversationID))
	if err != nil {
		return nil, err
	}
	defer func() { _ = lock.Unlock(ctx) }()

	conversation, err := c.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conversation.Status == model.StatusClosed {
		return nil, errs.ErrConversationEnded.WrapMsg(conversationID)
	}
	c.markPresent(ctx, sender.ID)

	message := &model.Message{
		ID:             ids.GenerateString(),
		ConversationID: conversationID,
		Type:           model.MessageText,
		Sender:         sender,
		Content:        content,
		Metadata:       metadata,
		Timestamp:      time.Now(),
	}
	if err := c.repo.AppendMessage(ctx, message); err != nil {
		return nil, err
	}

	conversation.UpdatedAt = message.Timestamp
	if err := c.repo.SaveConversation(ctx, conversation); err != nil {
		return nil, err
	}

	c.notifier.NotifyMessage(ctx, *message)
	c.notifier.NotifyLifecycle(ctx, model.EventMessageReceived, conversationID, map[string]interface{}{
		"messageId": message.ID,
		"senderId":  sender.ID,
	})
	return message, nil
}

// CloseConversation transitions the conversation to its terminal state from
// anywhere, releasing its queue entry, assignment marker and ledger slot, and
// appending a synthesized closure notice. Closing a closed conversation is a
// no-op.
func (c *Coordinator) CloseConversation(ctx context.Context, conversationID string, closedBy *model.Participant) (*model.Conversation, error) {
	lock, err := c.locks.Acquire(ctx, storage.ConversationLockName(conversationID))
	if err != nil {
		return nil, err
	}
	defer func() { _ = lock.Unlock(ctx) }()

	return c.closeLocked(ctx, conversationID, closedBy, "")
}

// closeLocked performs the closure under an already-held conversation lock.
// reason overrides the default closure notice when non-empty.
func (c *Coordinator) closeLocked(ctx context.Context, conversationID string, closedBy *model.Participant, reason string) (*model.Conversation, error) {
	conversation, err := c.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conversation.Status == model.StatusClosed {
		return conversation, nil
	}

	if _, err := c.queue.Remove(ctx, conversationID); err != nil {
		logger.Warnf("[coordinator] queue removal on close of %s failed: %v", conversationID, err)
	}
	if err := c.queue.ReleaseAssignment(ctx, conversationID); err != nil {
		logger.Warnf("[coordinator] marker release on close of %s failed: %v", conversationID, err)
	}
	if conversation.Agent != nil {
		if err := c.ledger.RemoveAssignment(ctx, conversation.Agent.ID, conversationID); err != nil {
			logger.Warnf("[coordinator] ledger release on close of %s failed: %v", conversationID, err)
		}
	}

	now := time.Now()
	conversation.Status = model.StatusClosed
	conversation.ClosedAt = &now
	conversation.UpdatedAt = now
	if err := c.repo.SaveConversation(ctx, conversation); err != nil {
		return nil, err
	}

	notice := &model.Message{
		ID:             ids.GenerateString(),
		ConversationID: conversationID,
		Type:           model.MessageSystem,
		Sender:         model.SystemParticipant(),
		Content:        closureNotice(conversation, closedBy, reason),
		Timestamp:      now,
	}
	if err := c.repo.AppendMessage(ctx, notice); err != nil {
		logger.Warnf("[coordinator] closure notice for %s failed: %v", conversationID, err)
	} else {
		c.notifier.NotifyMessage(ctx, *notice)
	}

	payload := map[string]interface{}{
		"customerId": conversation.Customer.ID,
	}
	if closedBy != nil {
		payload["closedBy"] = closedBy.ID
	}
	c.notifier.NotifyLifecycle(ctx, model.EventConversationClosed, conversationID, payload)
	return conversation, nil
}

// closureNotice words the synthesized closing message by who ended the
// conversation: the agent by name, the customer, or the system. An anonymous
// closure of an assigned conversation is attributed to the assigned agent.
func closureNotice(conversation *model.Conversation, closedBy *model.Participant, reason string) string {
	if reason != "" {
		return reason
	}
	if closedBy == nil {
		if conversation.Agent != nil {
			return agentClosureNotice(conversation.Agent.DisplayName)
		}
		return "The conversation has been closed."
	}
	switch closedBy.Type {
	case model.ParticipantAgent:
		return agentClosureNotice(closedBy.DisplayName)
	case model.ParticipantCustomer:
		return "The customer has left the conversation."
	default:
		return "The conversation has been closed."
	}
}

func agentClosureNotice(name string) string {
	if name == "" {
		name = "The agent"
	}
	return fmt.Sprintf("%s has closed the conversation.", name)
}

// ForceClose closes a conversation on the system's behalf with an explicit
// notice, used by the housekeeping sweep.
func (c *Coordinator) ForceClose(ctx context.Context, conversationID, reason string) (*model.Conversation, error) {
	lock, err := c.locks.Acquire(ctx, storage.ConversationLockName(conversationID))
	if err != nil {
		return nil, err
	}
	defer func() { _ = lock.Unlock(ctx) }()

	system := model.SystemParticipant()
	return c.closeLocked(ctx, conversationID, &system, reason)
}

// GetConversation returns the current record.
func (c *Coordinator) GetConversation(ctx context.Context, conversationID string) (*model.Conversation, error) {
	return c.repo.GetConversation(ctx, conversationID)
}

// GetRecentMessages returns up to limit messages from the tail of the log.
func (c *Coordinator) GetRecentMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	if _, err := c.repo.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	return c.repo.GetMessages(ctx, conversationID, limit)
}

// GetConversationsForAgent lists the agent's conversations, most recently
// active first. An empty statuses set means all statuses.
func (c *Coordinator) GetConversationsForAgent(ctx context.Context, agentID string, statuses map[model.ConversationStatus]struct{}) ([]*model.Conversation, error) {
	if agentID == "" {
		return nil, errs.Validation("agent id is required")
	}
	out, err := c.repo.FindForAgent(ctx, agentID, statuses)
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity().After(out[j].LastActivity())
	})
	return out, nil
}

// QueuePosition is the conversation's 0-based place in the wait-list, or -1
// once it left the queue.
func (c *Coordinator) QueuePosition(ctx context.Context, conversationID string) (int64, error) {
	return c.queue.Position(ctx, conversationID)
}

// ListQueue exposes one page of the wait-list.
func (c *Coordinator) ListQueue(ctx context.Context, page, size int) ([]model.QueueEntry, error) {
	return c.queue.ListQueue(ctx, page, size)
}
