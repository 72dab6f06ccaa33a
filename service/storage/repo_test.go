package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashik1291/customer-support-live-chat-system/module/chat/model"
	"github.com/ashik1291/customer-support-live-chat-system/tools/errs"
)

func newTestRepo(t *testing.T) *RedisConversationRepository {
	t.Helper()
	rdb, _ := newTestRedis(t)
	return NewRedisConversationRepository(rdb, NewKeys("test"), time.Hour)
}

func newConversation(id string) *model.Conversation {
	now := time.Now()
	return &model.Conversation{
		ID:     id,
		Status: model.StatusOpen,
		Customer: model.Participant{
			ID:          "cust-1",
			Type:        model.ParticipantCustomer,
			DisplayName: "Guest",
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSaveAndGetConversation(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	conversation := newConversation("c1")
	require.NoError(t, repo.SaveConversation(ctx, conversation))
	assert.Equal(t, int64(1), conversation.Version)

	got, err := repo.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ID)
	assert.Equal(t, model.StatusOpen, got.Status)
	assert.Equal(t, int64(1), got.Version)
}

func TestLoadModifySaveCycles(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveConversation(ctx, newConversation("c1")))

	// every load-modify-save round trip must go through cleanly, with the
	// stored record and the version key moving in lockstep
	for i := 0; i < 3; i++ {
		loaded, err := repo.GetConversation(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), loaded.Version)

		loaded.UpdatedAt = time.Now()
		require.NoError(t, repo.SaveConversation(ctx, loaded))
		assert.Equal(t, int64(i+2), loaded.Version)
	}
}

func TestGetConversationNotFound(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.GetConversation(context.Background(), "nope")
	assert.ErrorIs(t, err, errs.ErrConversationNotFound)
}

func TestSaveConversationVersionConflict(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	conversation := newConversation("c1")
	require.NoError(t, repo.SaveConversation(ctx, conversation))

	stale := newConversation("c1")
	stale.Version = 0 // the first save bumped the stored version to 1
	err := repo.SaveConversation(ctx, stale)
	assert.ErrorIs(t, err, errs.ErrVersionConflict)

	// the holder of the current version still writes fine
	conversation.Status = model.StatusQueued
	require.NoError(t, repo.SaveConversation(ctx, conversation))
	assert.Equal(t, int64(2), conversation.Version)
}

func TestAppendAndGetMessages(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveConversation(ctx, newConversation("c1")))
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.AppendMessage(ctx, &model.Message{
			ID:             string(rune('a' + i)),
			ConversationID: "c1",
			Type:           model.MessageText,
			Content:        "hello",
			Timestamp:      time.Now(),
		}))
	}

	all, err := repo.GetMessages(ctx, "c1", 10)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	tail, err := repo.GetMessages(ctx, "c1", 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, "d", tail[0].ID)
	assert.Equal(t, "e", tail[1].ID)
}

func TestDeleteConversation(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveConversation(ctx, newConversation("c1")))
	require.NoError(t, repo.AppendMessage(ctx, &model.Message{
		ID:             "m1",
		ConversationID: "c1",
		Type:           model.MessageText,
		Content:        "hi",
		Timestamp:      time.Now(),
	}))

	require.NoError(t, repo.DeleteConversation(ctx, "c1"))

	_, err := repo.GetConversation(ctx, "c1")
	assert.ErrorIs(t, err, errs.ErrConversationNotFound)
	messages, err := repo.GetMessages(ctx, "c1", 10)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestFindForAgent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	mine := newConversation("c1")
	mine.Status = model.StatusAssigned
	mine.Agent = &model.Participant{ID: "agent-1", Type: model.ParticipantAgent}
	require.NoError(t, repo.SaveConversation(ctx, mine))

	other := newConversation("c2")
	other.Status = model.StatusAssigned
	other.Agent = &model.Participant{ID: "agent-2", Type: model.ParticipantAgent}
	require.NoError(t, repo.SaveConversation(ctx, other))

	unassigned := newConversation("c3")
	require.NoError(t, repo.SaveConversation(ctx, unassigned))

	got, err := repo.FindForAgent(ctx, "agent-1", nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c1", got[0].ID)

	got, err = repo.FindForAgent(ctx, "agent-1", map[model.ConversationStatus]struct{}{
		model.StatusClosed: {},
	})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFindStale(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	old := newConversation("old")
	old.CreatedAt = time.Now().Add(-2 * time.Hour)
	old.UpdatedAt = old.CreatedAt
	require.NoError(t, repo.SaveConversation(ctx, old))

	fresh := newConversation("fresh")
	require.NoError(t, repo.SaveConversation(ctx, fresh))

	closed := newConversation("closed")
	closed.Status = model.StatusClosed
	closed.CreatedAt = time.Now().Add(-3 * time.Hour)
	closed.UpdatedAt = closed.CreatedAt
	require.NoError(t, repo.SaveConversation(ctx, closed))

	stale, err := repo.FindStale(ctx, time.Now().Add(-time.Hour), time.Time{})
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "old", stale[0].ID)

	// zero cutoffs disable both criteria
	stale, err = repo.FindStale(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, stale)
}
