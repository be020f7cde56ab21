package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/estio/conversations-gateway/internal/events"
	"github.com/estio/conversations-gateway/internal/model"
)

type MockConversationStore struct {
	mock.Mock
}

func (m *MockConversationStore) Get(ctx context.Context, locationID, id string) (*model.Conversation, error) {
	args := m.Called(ctx, locationID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Conversation), args.Error(1)
}

func (m *MockConversationStore) List(ctx context.Context, f model.ConversationFilter) ([]*model.Conversation, int64, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*model.Conversation), args.Get(1).(int64), args.Error(2)
}

func (m *MockConversationStore) States(ctx context.Context, locationID string, ids []string) (map[string]model.LifecycleState, error) {
	args := m.Called(ctx, locationID, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]model.LifecycleState), args.Error(1)
}

func (m *MockConversationStore) MarkRead(ctx context.Context, locationID, conversationID string) error {
	args := m.Called(ctx, locationID, conversationID)
	return args.Error(0)
}

func (m *MockConversationStore) Archive(ctx context.Context, locationID string, ids []string) (int64, error) {
	args := m.Called(ctx, locationID, ids)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockConversationStore) Unarchive(ctx context.Context, locationID string, ids []string) (int64, error) {
	args := m.Called(ctx, locationID, ids)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockConversationStore) SoftDelete(ctx context.Context, locationID string, ids []string, deletedBy string) (int64, error) {
	args := m.Called(ctx, locationID, ids, deletedBy)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockConversationStore) Restore(ctx context.Context, locationID string, ids []string) (int64, error) {
	args := m.Called(ctx, locationID, ids)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockConversationStore) PermanentlyDelete(ctx context.Context, locationID string, ids []string) (int64, error) {
	args := m.Called(ctx, locationID, ids)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockConversationStore) EmptyTrash(ctx context.Context, locationID string) (int64, error) {
	args := m.Called(ctx, locationID)
	return args.Get(0).(int64), args.Error(1)
}

type MockMessageLister struct {
	mock.Mock
}

func (m *MockMessageLister) ListByConversation(ctx context.Context, conversationID string) ([]*model.Message, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Message), args.Error(1)
}

func newConversationFixture() (*ConversationService, *MockConversationStore, *MockMessageLister) {
	store := new(MockConversationStore)
	lister := new(MockMessageLister)
	return NewConversationService(store, lister, events.NewFallback()), store, lister
}

func TestConversationService_Archive_FiltersIneligible(t *testing.T) {
	svc, store, _ := newConversationFixture()
	ctx := context.Background()
	ids := []string{"c-active", "c-archived", "c-trashed"}

	store.On("States", ctx, "loc-1", ids).Return(map[string]model.LifecycleState{
		"c-active":   model.LifecycleActive,
		"c-archived": model.LifecycleArchived,
		"c-trashed":  model.LifecycleTrashed,
	}, nil)
	// Only the active conversation can be archived.
	store.On("Archive", ctx, "loc-1", []string{"c-active"}).Return(int64(1), nil)

	count, err := svc.Archive(ctx, "loc-1", ids)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	store.AssertExpectations(t)
}

func TestConversationService_Archive_AllIneligible(t *testing.T) {
	svc, store, _ := newConversationFixture()
	ctx := context.Background()
	ids := []string{"c-trashed"}

	store.On("States", ctx, "loc-1", ids).Return(map[string]model.LifecycleState{
		"c-trashed": model.LifecycleTrashed,
	}, nil)

	_, err := svc.Archive(ctx, "loc-1", ids)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	store.AssertNotCalled(t, "Archive", mock.Anything, mock.Anything, mock.Anything)
}

func TestConversationService_Archive_NoIDs(t *testing.T) {
	svc, _, _ := newConversationFixture()

	_, err := svc.Archive(context.Background(), "loc-1", nil)
	assert.ErrorIs(t, err, ErrNoConversationIDs)
}

func TestConversationService_Restore_OnlyFromTrash(t *testing.T) {
	svc, store, _ := newConversationFixture()
	ctx := context.Background()
	ids := []string{"c-trashed", "c-active"}

	store.On("States", ctx, "loc-1", ids).Return(map[string]model.LifecycleState{
		"c-trashed": model.LifecycleTrashed,
		"c-active":  model.LifecycleActive,
	}, nil)
	store.On("Restore", ctx, "loc-1", []string{"c-trashed"}).Return(int64(1), nil)

	count, err := svc.Restore(ctx, "loc-1", ids)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestConversationService_Purge_OnlyFromTrash(t *testing.T) {
	svc, store, _ := newConversationFixture()
	ctx := context.Background()
	ids := []string{"c-active"}

	store.On("States", ctx, "loc-1", ids).Return(map[string]model.LifecycleState{
		"c-active": model.LifecycleActive,
	}, nil)

	_, err := svc.Purge(ctx, "loc-1", ids)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	store.AssertNotCalled(t, "PermanentlyDelete", mock.Anything, mock.Anything, mock.Anything)
}

func TestConversationService_Delete_FromActiveOrArchived(t *testing.T) {
	svc, store, _ := newConversationFixture()
	ctx := context.Background()
	ids := []string{"c-active", "c-archived", "c-unknown"}

	// Unknown ids are absent from the state map and silently dropped; the
	// repository precondition would match nothing for them anyway.
	store.On("States", ctx, "loc-1", ids).Return(map[string]model.LifecycleState{
		"c-active":   model.LifecycleActive,
		"c-archived": model.LifecycleArchived,
	}, nil)
	store.On("SoftDelete", ctx, "loc-1", []string{"c-active", "c-archived"}, "user-9").Return(int64(2), nil)

	count, err := svc.Delete(ctx, "loc-1", ids, "user-9")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestConversationService_EmptyTrash(t *testing.T) {
	svc, store, _ := newConversationFixture()
	ctx := context.Background()

	store.On("EmptyTrash", ctx, "loc-1").Return(int64(7), nil)

	count, err := svc.EmptyTrash(ctx, "loc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), count)
}

func TestConversationService_ListMessages_ClearsUnread(t *testing.T) {
	svc, store, lister := newConversationFixture()
	ctx := context.Background()

	store.On("Get", ctx, "loc-1", "conv-1").Return(&model.Conversation{ID: "conv-1", UnreadCount: 3}, nil)
	lister.On("ListByConversation", ctx, "conv-1").Return([]*model.Message{{ID: "msg-1"}}, nil)
	store.On("MarkRead", ctx, "loc-1", "conv-1").Return(nil)

	msgs, err := svc.ListMessages(ctx, "loc-1", "conv-1")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
	store.AssertCalled(t, "MarkRead", ctx, "loc-1", "conv-1")
}

func TestConversationService_ListMessages_MarkReadFailureIsNotFatal(t *testing.T) {
	svc, store, lister := newConversationFixture()
	ctx := context.Background()

	store.On("Get", ctx, "loc-1", "conv-1").Return(&model.Conversation{ID: "conv-1"}, nil)
	lister.On("ListByConversation", ctx, "conv-1").Return([]*model.Message{}, nil)
	store.On("MarkRead", ctx, "loc-1", "conv-1").Return(assert.AnError)

	_, err := svc.ListMessages(ctx, "loc-1", "conv-1")
	require.NoError(t, err)
}
