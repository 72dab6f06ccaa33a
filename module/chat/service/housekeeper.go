package service

import (
	"context"
	"errors"
	"time"

	"github.com/ashik1291/customer-support-live-chat-system/logger"
	"github.com/ashik1291/customer-support-live-chat-system/module/chat/model"
	"github.com/ashik1291/customer-support-live-chat-system/service/storage"
	"github.com/ashik1291/customer-support-live-chat-system/tools/errs"
	"github.com/ashik1291/customer-support-live-chat-system/tools/safe"
)

// HousekeeperConfig tunes the periodic sweep.
type HousekeeperConfig struct {
	Interval          time.Duration // tick period
	QueueEntryTTL     time.Duration // max wait-list age before purge
	InactivityTimeout time.Duration // close after this much silence, 0 disables
	MaxDuration       time.Duration // absolute conversation lifetime, 0 disables
}

// Housekeeper runs the periodic sweep: expired queue entries, stale
// conversations, and drifted ledger slots. Instances race for the
// housekeeping lock each tick, so exactly one of them sweeps.
type Housekeeper struct {
	coordinator *Coordinator
	queue       *AgentQueue
	ledger      *AssignmentLedger
	repo        storage.ConversationRepository
	locks       *storage.LockManager
	cfg         HousekeeperConfig
	done        chan struct{}
}

func NewHousekeeper(
	coordinator *Coordinator,
	queue *AgentQueue,
	ledger *AssignmentLedger,
	repo storage.ConversationRepository,
	locks *storage.LockManager,
	cfg HousekeeperConfig,
) *Housekeeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Housekeeper{
		coordinator: coordinator,
		queue:       queue,
		ledger:      ledger,
		repo:        repo,
		locks:       locks,
		cfg:         cfg,
		done:        make(chan struct{}),
	}
}

// Start launches the sweep loop. It returns immediately; Stop or ctx
// cancellation ends the loop.
func (h *Housekeeper) Start(ctx context.Context) {
	safe.Go(func() {
		ticker := time.NewTicker(h.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.done:
				return
			case <-ticker.C:
				h.Sweep(ctx)
			}
		}
	})
}

func (h *Housekeeper) Stop() {
	close(h.done)
}

// Sweep runs one full pass if this instance wins the leader lock. A failure
// in one item never aborts the rest of the pass.
func (h *Housekeeper) Sweep(ctx context.Context) {
	lock, ok, err := h.locks.TryAcquire(ctx, storage.HousekeepingLockName)
	if err != nil {
		logger.Warnf("[housekeeper] leader election failed: %v", err)
		return
	}
	if !ok {
		return
	}
	defer func() { _ = lock.Unlock(ctx) }()

	h.purgeExpiredQueueEntries(ctx)
	if !h.stillLeader(ctx, lock) {
		return
	}
	h.closeStaleConversations(ctx)
	if !h.stillLeader(ctx, lock) {
		return
	}
	h.reconcileLedgers(ctx)
}

// stillLeader extends the leader lock between sweep phases. A phase can run
// long, and a second instance must not start sweeping while this one is
// mid-pass.
func (h *Housekeeper) stillLeader(ctx context.Context, lock *storage.Lock) bool {
	ok, err := lock.Refresh(ctx)
	if err != nil {
		logger.Warnf("[housekeeper] leader lock refresh failed: %v", err)
		return false
	}
	if !ok {
		logger.Warnf("[housekeeper] leader lock lost mid-sweep")
	}
	return ok
}

// purgeExpiredQueueEntries drops entries that waited past the queue TTL and
// force-closes their conversations so customers do not linger in limbo.
func (h *Housekeeper) purgeExpiredQueueEntries(ctx context.Context) {
	if h.cfg.QueueEntryTTL <= 0 {
		return
	}
	removed, err := h.queue.PurgeOlderThan(ctx, h.cfg.QueueEntryTTL)
	if err != nil {
		logger.Warnf("[housekeeper] queue purge failed: %v", err)
		return
	}
	for _, entry := range removed {
		if _, err := h.coordinator.ForceClose(ctx, entry.ConversationID,
			"The conversation was closed because no agent became available."); err != nil {
			if errors.Is(err, errs.ErrConversationNotFound) {
				continue
			}
			logger.Warnf("[housekeeper] close of purged %s failed: %v", entry.ConversationID, err)
		}
	}
	if len(removed) > 0 {
		logger.Infof("[housekeeper] purged %d expired queue entries", len(removed))
	}
}

// closeStaleConversations ends conversations that went silent or outlived
// the absolute lifetime cap.
func (h *Housekeeper) closeStaleConversations(ctx context.Context) {
	var inactivityCutoff, maxDurationCutoff time.Time
	now := time.Now()
	if h.cfg.InactivityTimeout > 0 {
		inactivityCutoff = now.Add(-h.cfg.InactivityTimeout)
	}
	if h.cfg.MaxDuration > 0 {
		maxDurationCutoff = now.Add(-h.cfg.MaxDuration)
	}
	if inactivityCutoff.IsZero() && maxDurationCutoff.IsZero() {
		return
	}

	stale, err := h.repo.FindStale(ctx, inactivityCutoff, maxDurationCutoff)
	if err != nil {
		logger.Warnf("[housekeeper] stale scan failed: %v", err)
		return
	}
	closed := 0
	for _, conversation := range stale {
		if _, err := h.coordinator.ForceClose(ctx, conversation.ID,
			"The conversation was closed due to inactivity."); err != nil {
			logger.Warnf("[housekeeper] close of stale %s failed: %v", conversation.ID, err)
			continue
		}
		closed++
	}
	if closed > 0 {
		logger.Infof("[housekeeper] closed %d stale conversations", closed)
	}
}

// reconcileLedgers releases ledger slots whose conversations no longer exist,
// are closed, or belong to a different agent. Drift here would starve agents
// of capacity they actually have.
func (h *Housekeeper) reconcileLedgers(ctx context.Context) {
	ledgers, err := h.ledger.Ledgers(ctx)
	if err != nil {
		logger.Warnf("[housekeeper] ledger scan failed: %v", err)
		return
	}
	dropped := 0
	for agentID, conversationIDs := range ledgers {
		for _, conversationID := range conversationIDs {
			conversation, err := h.repo.GetConversation(ctx, conversationID)
			switch {
			case errors.Is(err, errs.ErrConversationNotFound):
			case err != nil:
				logger.Warnf("[housekeeper] ledger check of %s failed: %v", conversationID, err)
				continue
			case conversation.Status != model.StatusClosed && conversation.AssignedTo(agentID):
				continue
			}
			if err := h.ledger.RemoveAssignment(ctx, agentID, conversationID); err != nil {
				logger.Warnf("[housekeeper] ledger release of %s for %s failed: %v", conversationID, agentID, err)
				continue
			}
			dropped++
		}
	}
	if dropped > 0 {
		logger.Infof("[housekeeper] reconciled %d drifted ledger slots", dropped)
	}
}
