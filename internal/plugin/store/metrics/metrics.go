package metrics

import (
	"context"
	"time"

	"github.com/openpaas/chat-service/internal/model"
	"github.com/openpaas/chat-service/internal/registry/store"
	"github.com/openpaas/chat-service/internal/security"
)

// Wrap returns a ChatStore that records StoreLatency for every operation.
func Wrap(inner store.ChatStore) store.ChatStore {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.ChatStore
}

func observe(op string, start time.Time) {
	if security.StoreLatency == nil {
		return
	}
	security.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *metricsStore) CreateConversation(ctx context.Context, req store.CreateConversationRequest) (*model.Conversation, bool, error) {
	defer observe("create_conversation", time.Now())
	return m.inner.CreateConversation(ctx, req)
}

func (m *metricsStore) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	defer observe("get_conversation", time.Now())
	return m.inner.GetConversation(ctx, id)
}

func (m *metricsStore) ListConversations(ctx context.Context, q store.ConversationQuery) ([]model.Conversation, int64, error) {
	defer observe("list_conversations", time.Now())
	return m.inner.ListConversations(ctx, q)
}

func (m *metricsStore) UpdateConversation(ctx context.Context, id string, patch store.ConversationPatch) (*model.Conversation, error) {
	defer observe("update_conversation", time.Now())
	return m.inner.UpdateConversation(ctx, id, patch)
}

func (m *metricsStore) RemoveConversation(ctx context.Context, id string) error {
	defer observe("remove_conversation", time.Now())
	return m.inner.RemoveConversation(ctx, id)
}

func (m *metricsStore) MarkRead(ctx context.Context, memberID, conversationID string) error {
	defer observe("mark_read", time.Now())
	return m.inner.MarkRead(ctx, memberID, conversationID)
}

func (m *metricsStore) MarkAllRead(ctx context.Context, memberIDs []string, conversationID string) error {
	defer observe("mark_all_read", time.Now())
	return m.inner.MarkAllRead(ctx, memberIDs, conversationID)
}

func (m *metricsStore) GetConversationByCollaboration(ctx context.Context, collaboration model.Tuple) (*model.Conversation, error) {
	defer observe("get_conversation_by_collaboration", time.Now())
	return m.inner.GetConversationByCollaboration(ctx, collaboration)
}

func (m *metricsStore) UpdateCollaborationConversation(ctx context.Context, collaboration model.Tuple, mods store.CollaborationUpdate) (*model.Conversation, error) {
	defer observe("update_collaboration_conversation", time.Now())
	return m.inner.UpdateCollaborationConversation(ctx, collaboration, mods)
}

func (m *metricsStore) CreateDefaultChannel(ctx context.Context, domainID string) (*model.Conversation, error) {
	defer observe("create_default_channel", time.Now())
	return m.inner.CreateDefaultChannel(ctx, domainID)
}

func (m *metricsStore) CreateMessage(ctx context.Context, msg *model.Message) (*model.Message, error) {
	defer observe("create_message", time.Now())
	return m.inner.CreateMessage(ctx, msg)
}

func (m *metricsStore) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	defer observe("get_message", time.Now())
	return m.inner.GetMessage(ctx, id)
}

func (m *metricsStore) ListMessages(ctx context.Context, conversationID string, q store.MessageQuery) ([]model.Message, error) {
	defer observe("list_messages", time.Now())
	return m.inner.ListMessages(ctx, conversationID, q)
}

func (m *metricsStore) ListAttachments(ctx context.Context, conversationID string, limit, offset int) ([]store.AttachmentRecord, error) {
	defer observe("list_attachments", time.Now())
	return m.inner.ListAttachments(ctx, conversationID, limit, offset)
}

func (m *metricsStore) GetMembers(ctx context.Context, ids []string) ([]model.Member, error) {
	defer observe("get_members", time.Now())
	return m.inner.GetMembers(ctx, ids)
}
