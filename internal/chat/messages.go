package chat

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/openpaas/chat-service/internal/model"
	"github.com/openpaas/chat-service/internal/registry/bus"
	"github.com/openpaas/chat-service/internal/registry/store"
	"github.com/openpaas/chat-service/internal/security"
)

// StarChecker reports whether a member has starred a message. Star links live
// in an external resource-link service.
type StarChecker interface {
	IsStarred(ctx context.Context, memberID, messageID string) (bool, error)
}

// MessageService appends messages to conversation streams and serves the
// paginated read paths. Saving a message extracts mentions from the text,
// updates the owning conversation's counters and announces the message on the
// event bus with creator and mentions expanded to directory records.
type MessageService struct {
	store store.ChatStore
	bus   bus.EventBus
	stars StarChecker
}

func NewMessageService(st store.ChatStore, eb bus.EventBus, stars StarChecker) *MessageService {
	return &MessageService{store: st, bus: eb, stars: stars}
}

// Create validates, persists and announces one message.
func (s *MessageService) Create(ctx context.Context, msg *model.Message) (*model.Message, error) {
	if msg.Creator == "" {
		return nil, &store.ValidationError{Field: "creator", Message: "message creator is required"}
	}
	if msg.Channel == "" {
		return nil, &store.ValidationError{Field: "channel", Message: "message channel is required"}
	}
	if msg.Type == "" {
		msg.Type = model.MessageTypeText
	}
	msg.UserMentions = mergeMentions(msg.UserMentions, model.ExtractMentions(msg.Text))

	saved, err := s.store.CreateMessage(ctx, msg)
	if err != nil {
		return nil, err
	}
	if security.MessagesSavedTotal != nil {
		security.MessagesSavedTotal.Inc()
	}

	ids := append([]string{saved.Creator}, saved.UserMentions...)
	members, err := s.store.GetMembers(ctx, ids)
	if err != nil {
		// The message is durable at this point; a directory failure only
		// degrades the event payload.
		log.Error("Failed to resolve members for message event", "message", saved.ID, "err", err)
		members = []model.Member{{ID: saved.Creator, ObjectType: model.ObjectTypeUser}}
	}
	event := bus.MessageSavedEvent{Message: saved, Creator: members[0]}
	if len(members) > 1 {
		event.Mentions = members[1:]
	}
	if err := s.bus.Publish(ctx, bus.TopicMessageSaved, event); err != nil {
		log.Error("Failed to publish event", "topic", bus.TopicMessageSaved, "err", err)
	}
	return saved, nil
}

// mergeMentions combines mentions set by the caller with mentions extracted
// from the text, keeping first-occurrence order and dropping duplicates.
func mergeMentions(preset, extracted []string) []string {
	if len(preset) == 0 {
		return extracted
	}
	seen := make(map[string]bool, len(preset)+len(extracted))
	merged := make([]string, 0, len(preset)+len(extracted))
	for _, id := range preset {
		if !seen[id] {
			seen[id] = true
			merged = append(merged, id)
		}
	}
	for _, id := range extracted {
		if !seen[id] {
			seen[id] = true
			merged = append(merged, id)
		}
	}
	return merged
}

func (s *MessageService) Get(ctx context.Context, id string) (*model.Message, error) {
	return s.store.GetMessage(ctx, id)
}

// ListForConversation returns one ascending page of the conversation's
// unmoderated message stream.
func (s *MessageService) ListForConversation(ctx context.Context, conversationID string, q store.MessageQuery) ([]model.Message, error) {
	return s.store.ListMessages(ctx, conversationID, q)
}

// ListAttachments returns the [offset, limit) window of the conversation's
// flattened attachment sequence. limit is an absolute end index.
func (s *MessageService) ListAttachments(ctx context.Context, conversationID string, limit, offset int) ([]store.AttachmentRecord, error) {
	return s.store.ListAttachments(ctx, conversationID, limit, offset)
}

// IsStarredBy reports whether the member starred the message. Without a
// configured resource-link service every message reads as unstarred.
func (s *MessageService) IsStarredBy(ctx context.Context, memberID, messageID string) (bool, error) {
	if s.stars == nil {
		return false, nil
	}
	return s.stars.IsStarred(ctx, memberID, messageID)
}
