package chat

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/openpaas/chat-service/internal/model"
	"github.com/openpaas/chat-service/internal/registry/bus"
	"github.com/openpaas/chat-service/internal/registry/store"
)

// CollaborationBridge keeps collaboration-backed conversations in sync with
// their externally owned collaboration group: membership and title changes
// flow in from the collaboration side as single atomic updates.
type CollaborationBridge struct {
	store store.ChatStore
	bus   bus.EventBus
}

func NewCollaborationBridge(st store.ChatStore, eb bus.EventBus) *CollaborationBridge {
	return &CollaborationBridge{store: st, bus: eb}
}

// GetConversation looks up the conversation mirroring the collaboration and
// expands its member references to directory records.
func (b *CollaborationBridge) GetConversation(ctx context.Context, collaboration model.Tuple) (*model.Conversation, []model.Member, error) {
	conv, err := b.store.GetConversationByCollaboration(ctx, collaboration)
	if err != nil {
		return nil, nil, err
	}
	ids := make([]string, len(conv.Members))
	for i, m := range conv.Members {
		ids[i] = m.ID
	}
	members, err := b.store.GetMembers(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	return conv, members, nil
}

// Update applies one membership/title change to the mirrored conversation.
// Newly added members start fully caught up: their read counters jump to the
// conversation's current message count so the backlog does not count as
// unread for them.
func (b *CollaborationBridge) Update(ctx context.Context, collaboration model.Tuple, mods store.CollaborationUpdate) (*model.Conversation, error) {
	conv, err := b.store.UpdateCollaborationConversation(ctx, collaboration, mods)
	if err != nil {
		return nil, err
	}

	if len(mods.NewMembers) > 0 {
		ids := make([]string, len(mods.NewMembers))
		for i, m := range mods.NewMembers {
			ids[i] = m.ID
		}
		if err := b.store.MarkAllRead(ctx, ids, conv.ID); err != nil {
			log.Error("Failed to mark conversation read for new members", "conversation", conv.ID, "err", err)
		}
		event := bus.MemberAddedEvent{ConversationID: conv.ID, Members: mods.NewMembers}
		if err := b.bus.Publish(ctx, bus.TopicMemberAdded, event); err != nil {
			log.Error("Failed to publish event", "topic", bus.TopicMemberAdded, "err", err)
		}
	}
	return conv, nil
}
