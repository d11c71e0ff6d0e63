package chat

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/openpaas/chat-service/internal/model"
	"github.com/openpaas/chat-service/internal/registry/bus"
	"github.com/openpaas/chat-service/internal/registry/store"
)

// ConversationService owns the conversation lifecycle: creation with
// deduplication, listing, updates, removal and read tracking. Lifecycle
// changes are announced on the event bus after the store write succeeds.
type ConversationService struct {
	store store.ChatStore
	bus   bus.EventBus
}

func NewConversationService(st store.ChatStore, eb bus.EventBus) *ConversationService {
	return &ConversationService{store: st, bus: eb}
}

func (s *ConversationService) publish(ctx context.Context, topic bus.Topic, payload any) {
	if err := s.bus.Publish(ctx, topic, payload); err != nil {
		log.Error("Failed to publish event", "topic", topic, "err", err)
	}
}

// Create inserts a conversation on behalf of creator. The creator is always a
// member of the resulting conversation. When deduplication matched an
// existing conversation, created is false and no event fires.
func (s *ConversationService) Create(ctx context.Context, creator string, req store.CreateConversationRequest) (*model.Conversation, bool, error) {
	if req.Type == "" {
		req.Type = model.ConversationTypeOpen
	}
	if req.Mode == "" {
		req.Mode = model.ModeChannel
	}
	req.Creator = creator

	hasCreator := false
	for _, m := range req.Members {
		if m.ID == creator {
			hasCreator = true
			break
		}
	}
	if !hasCreator && creator != "" {
		req.Members = append(req.Members, model.MemberRef{ID: creator, ObjectType: model.ObjectTypeUser})
	}

	conv, created, err := s.store.CreateConversation(ctx, req)
	if err != nil {
		return nil, false, err
	}
	if created {
		s.publish(ctx, bus.TopicConversationCreated, bus.ConversationEvent{Conversation: conv})
	}
	return conv, created, nil
}

func (s *ConversationService) Get(ctx context.Context, id string) (*model.Conversation, error) {
	return s.store.GetConversation(ctx, id)
}

func (s *ConversationService) List(ctx context.Context, q store.ConversationQuery) ([]model.Conversation, int64, error) {
	return s.store.ListConversations(ctx, q)
}

// Update patches mutable conversation fields. A topic change fires its own
// dedicated event in addition to the generic update.
func (s *ConversationService) Update(ctx context.Context, id string, patch store.ConversationPatch) (*model.Conversation, error) {
	conv, err := s.store.UpdateConversation(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, bus.TopicConversationUpdated, bus.ConversationEvent{Conversation: conv})
	if patch.Topic != nil {
		s.publish(ctx, bus.TopicConversationTopicUpdated, bus.ConversationEvent{Conversation: conv})
	}
	return conv, nil
}

func (s *ConversationService) Remove(ctx context.Context, id string) error {
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.RemoveConversation(ctx, id); err != nil {
		return err
	}
	s.publish(ctx, bus.TopicConversationDeleted, bus.ConversationEvent{Conversation: conv})
	return nil
}

// MarkRead raises the member's read counter to the conversation's current
// message count. The counter never decreases.
func (s *ConversationService) MarkRead(ctx context.Context, memberID, conversationID string) error {
	return s.store.MarkRead(ctx, memberID, conversationID)
}

// CreateDefaultChannel ensures the domain's bootstrap channel exists.
func (s *ConversationService) CreateDefaultChannel(ctx context.Context, domainID string) (*model.Conversation, error) {
	return s.store.CreateDefaultChannel(ctx, domainID)
}
