package chat

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/openpaas/chat-service/internal/model"
	"github.com/openpaas/chat-service/internal/registry/bus"
	"github.com/openpaas/chat-service/internal/security"
)

// JoinListener consumes collaboration join events and materializes each one
// as a system message in the target conversation. It stays idle until Start
// is called; events published before that are never replayed.
type JoinListener struct {
	bus      bus.EventBus
	messages *MessageService
}

func NewJoinListener(eb bus.EventBus, messages *MessageService) *JoinListener {
	return &JoinListener{bus: eb, messages: messages}
}

// Start subscribes to the collaboration join topic. The returned stop
// function cancels the subscription.
func (l *JoinListener) Start() (func(), error) {
	unsubscribe, err := l.bus.Subscribe(bus.TopicCollaborationJoin, l.handle)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", bus.TopicCollaborationJoin, err)
	}
	log.Info("Collaboration join listener started", "topic", bus.TopicCollaborationJoin)
	return unsubscribe, nil
}

func (l *JoinListener) handle(ctx context.Context, data []byte) {
	var ev bus.CollaborationJoinEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Warn("Dropping malformed collaboration join event", "err", err)
		return
	}
	// Joins on collaborations that are not conversations are not ours.
	if ev.Collaboration.ObjectType != model.ObjectTypeConversation {
		log.Debug("Ignoring join event for non-conversation collaboration",
			"objectType", ev.Collaboration.ObjectType, "id", ev.Collaboration.ID)
		if security.JoinEventsDroppedTotal != nil {
			security.JoinEventsDroppedTotal.Inc()
		}
		return
	}
	if ev.Target == "" {
		log.Warn("Dropping collaboration join event without target", "conversation", ev.Collaboration.ID)
		return
	}

	// Member ids are opaque strings, so the joiner is recorded as an explicit
	// mention rather than recovered from the message text.
	msg := &model.Message{
		Channel:      ev.Collaboration.ID,
		Creator:      ev.Target,
		Type:         model.MessageTypeText,
		Subtype:      model.SubtypeConversationJoin,
		Text:         fmt.Sprintf("@%s has joined the conversation.", ev.Target),
		UserMentions: []string{ev.Target},
	}
	if _, err := l.messages.Create(ctx, msg); err != nil {
		log.Error("Failed to save join system message",
			"conversation", ev.Collaboration.ID, "target", ev.Target, "err", err)
	}
}
