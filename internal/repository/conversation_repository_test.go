package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estio/conversations-gateway/internal/model"
)

func seedConversation(t *testing.T, db *testDB, locationID string) *ConversationEntity {
	t.Helper()

	contact := &ContactEntity{
		ID:         uuid.NewString(),
		LocationID: locationID,
		Name:       "Andreas",
		Phone:      "+35799045511",
	}
	require.NoError(t, db.rawDB.Create(contact).Error)

	entity := &ConversationEntity{
		ID:                uuid.NewString(),
		LocationID:        locationID,
		CRMConversationID: uuid.NewString(),
		ContactID:         contact.ID,
	}
	require.NoError(t, db.rawDB.Create(entity).Error)
	return entity
}

func TestConversationRepository_Get(t *testing.T) {
	db := setupTestDB(t)
	repo := NewConversationRepository(db.DB)
	ctx := context.Background()

	entity := seedConversation(t, db, "loc-1")

	t.Run("by local id", func(t *testing.T) {
		got, err := repo.Get(ctx, "loc-1", entity.ID)
		require.NoError(t, err)
		assert.Equal(t, entity.ID, got.ID)
		require.NotNil(t, got.Contact)
		assert.Equal(t, "Andreas", got.Contact.Name)
	})

	t.Run("by remote conversation id", func(t *testing.T) {
		got, err := repo.Get(ctx, "loc-1", entity.CRMConversationID)
		require.NoError(t, err)
		assert.Equal(t, entity.ID, got.ID)
	})

	t.Run("wrong tenant", func(t *testing.T) {
		_, err := repo.Get(ctx, "loc-2", entity.ID)
		assert.ErrorIs(t, err, ErrConversationNotFound)
	})
}

func TestConversationRepository_ArchiveUnarchive(t *testing.T) {
	db := setupTestDB(t)
	repo := NewConversationRepository(db.DB)
	ctx := context.Background()

	entity := seedConversation(t, db, "loc-1")

	n, err := repo.Archive(ctx, "loc-1", []string{entity.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// archiving again is a no-op
	n, err = repo.Archive(ctx, "loc-1", []string{entity.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = repo.Unarchive(ctx, "loc-1", []string{entity.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := repo.Get(ctx, "loc-1", entity.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ArchivedAt)
	assert.Nil(t, got.DeletedAt)
	assert.Equal(t, model.LifecycleActive, got.State())
}

func TestConversationRepository_ArchiveSkipsTrashed(t *testing.T) {
	db := setupTestDB(t)
	repo := NewConversationRepository(db.DB)
	ctx := context.Background()

	entity := seedConversation(t, db, "loc-1")

	_, err := repo.SoftDelete(ctx, "loc-1", []string{entity.ID}, "user-9")
	require.NoError(t, err)

	n, err := repo.Archive(ctx, "loc-1", []string{entity.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "trashed conversations must not be archivable")
}

func TestConversationRepository_SoftDeleteRestore(t *testing.T) {
	db := setupTestDB(t)
	repo := NewConversationRepository(db.DB)
	ctx := context.Background()

	entity := seedConversation(t, db, "loc-1")

	n, err := repo.SoftDelete(ctx, "loc-1", []string{entity.ID}, "user-9")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := repo.Get(ctx, "loc-1", entity.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LifecycleTrashed, got.State())
	assert.Equal(t, "user-9", got.DeletedBy)

	// double delete is a no-op
	n, err = repo.SoftDelete(ctx, "loc-1", []string{entity.ID}, "user-9")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = repo.Restore(ctx, "loc-1", []string{entity.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err = repo.Get(ctx, "loc-1", entity.ID)
	require.NoError(t, err)
	assert.Nil(t, got.DeletedAt)
	assert.Empty(t, got.DeletedBy)
}

func TestConversationRepository_PermanentlyDeleteRequiresTrash(t *testing.T) {
	db := setupTestDB(t)
	repo := NewConversationRepository(db.DB)
	ctx := context.Background()

	entity := seedConversation(t, db, "loc-1")

	n, err := repo.PermanentlyDelete(ctx, "loc-1", []string{entity.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "live rows must survive a purge request")

	_, err = repo.SoftDelete(ctx, "loc-1", []string{entity.ID}, "user-9")
	require.NoError(t, err)

	n, err = repo.PermanentlyDelete(ctx, "loc-1", []string{entity.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = repo.Get(ctx, "loc-1", entity.ID)
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestConversationRepository_EmptyTrash(t *testing.T) {
	db := setupTestDB(t)
	repo := NewConversationRepository(db.DB)
	ctx := context.Background()

	trashed := seedConversation(t, db, "loc-1")
	active := seedConversation(t, db, "loc-1")
	otherTenant := seedConversation(t, db, "loc-2")
	_, err := repo.SoftDelete(ctx, "loc-1", []string{trashed.ID}, "user-9")
	require.NoError(t, err)
	_, err = repo.SoftDelete(ctx, "loc-2", []string{otherTenant.ID}, "user-9")
	require.NoError(t, err)

	n, err := repo.EmptyTrash(ctx, "loc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = repo.Get(ctx, "loc-1", active.ID)
	assert.NoError(t, err)
	_, err = repo.Get(ctx, "loc-2", otherTenant.ID)
	assert.NoError(t, err, "other tenants' trash must be untouched")
}

func TestConversationRepository_ApplyLastMessage(t *testing.T) {
	db := setupTestDB(t)
	repo := NewConversationRepository(db.DB)
	ctx := context.Background()

	entity := seedConversation(t, db, "loc-1")
	now := time.Now()

	t.Run("outbound does not increment unread", func(t *testing.T) {
		err := repo.ApplyLastMessage(ctx, model.LastMessageUpdate{
			ConversationID: entity.ID,
			MessageBody:    "hello there",
			MessageType:    string(model.TypeWhatsApp),
			MessageDate:    now,
			Direction:      model.DirectionOutbound,
		})
		require.NoError(t, err)

		got, err := repo.Get(ctx, "loc-1", entity.ID)
		require.NoError(t, err)
		assert.Equal(t, "hello there", got.LastMessageBody)
		assert.Equal(t, 0, got.UnreadCount)
	})

	t.Run("inbound increments unread", func(t *testing.T) {
		err := repo.ApplyLastMessage(ctx, model.LastMessageUpdate{
			ConversationID: entity.ID,
			MessageBody:    "any news?",
			MessageType:    string(model.TypeWhatsApp),
			MessageDate:    now.Add(time.Minute),
			Direction:      model.DirectionInbound,
		})
		require.NoError(t, err)

		got, err := repo.Get(ctx, "loc-1", entity.ID)
		require.NoError(t, err)
		assert.Equal(t, "any news?", got.LastMessageBody)
		assert.Equal(t, 1, got.UnreadCount)
	})

	t.Run("older message does not rewind snapshot", func(t *testing.T) {
		err := repo.ApplyLastMessage(ctx, model.LastMessageUpdate{
			ConversationID: entity.ID,
			MessageBody:    "stale backfill item",
			MessageType:    string(model.TypeWhatsApp),
			MessageDate:    now.Add(-time.Hour),
			Direction:      model.DirectionInbound,
		})
		require.NoError(t, err)

		got, err := repo.Get(ctx, "loc-1", entity.ID)
		require.NoError(t, err)
		assert.Equal(t, "any news?", got.LastMessageBody)
		assert.Equal(t, 2, got.UnreadCount, "unread still counts even when snapshot is kept")
	})

	t.Run("far-future timestamp rejected", func(t *testing.T) {
		err := repo.ApplyLastMessage(ctx, model.LastMessageUpdate{
			ConversationID: entity.ID,
			MessageBody:    "from the future",
			MessageType:    string(model.TypeWhatsApp),
			MessageDate:    now.Add(48 * time.Hour),
			Direction:      model.DirectionInbound,
		})
		require.NoError(t, err)

		got, err := repo.Get(ctx, "loc-1", entity.ID)
		require.NoError(t, err)
		assert.Equal(t, "any news?", got.LastMessageBody)
	})
}

func TestConversationRepository_List(t *testing.T) {
	db := setupTestDB(t)
	repo := NewConversationRepository(db.DB)
	ctx := context.Background()

	a := seedConversation(t, db, "loc-1")
	b := seedConversation(t, db, "loc-1")
	seedConversation(t, db, "loc-2")

	_, err := repo.Archive(ctx, "loc-1", []string{a.ID})
	require.NoError(t, err)
	_, err = repo.SoftDelete(ctx, "loc-1", []string{b.ID}, "user-9")
	require.NoError(t, err)

	active := model.LifecycleActive
	items, total, err := repo.List(ctx, model.ConversationFilter{LocationID: "loc-1", State: &active})
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
	assert.Empty(t, items)

	archived := model.LifecycleArchived
	items, total, err = repo.List(ctx, model.ConversationFilter{LocationID: "loc-1", State: &archived})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, items, 1)
	assert.Equal(t, a.ID, items[0].ID)

	trashed := model.LifecycleTrashed
	_, total, err = repo.List(ctx, model.ConversationFilter{LocationID: "loc-1", State: &trashed})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}
