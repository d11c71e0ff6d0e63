package bus

import (
	"context"
	"fmt"

	"github.com/openpaas/chat-service/internal/model"
)

// Topic is a named event-bus topic. Delivery is at-least-once and
// asynchronous; subscribers must tolerate duplicates and reordering.
type Topic string

const (
	TopicConversationCreated      Topic = "conversation:created"
	TopicConversationUpdated      Topic = "conversation:updated"
	TopicConversationTopicUpdated Topic = "conversation:topic:updated"
	TopicConversationDeleted      Topic = "conversation:deleted"
	TopicMemberAdded              Topic = "conversation:member:added"
	TopicMessageSaved             Topic = "message:saved"
	TopicCollaborationJoin        Topic = "collaboration:join"
)

// ConversationEvent is the payload for conversation lifecycle topics.
type ConversationEvent struct {
	Conversation *model.Conversation `json:"conversation"`
}

// MemberAddedEvent is published when members are added to a conversation.
type MemberAddedEvent struct {
	ConversationID string            `json:"conversationId"`
	Members        []model.MemberRef `json:"members"`
}

// MessageSavedEvent carries a saved message with its creator and mentions
// resolved to full member records.
type MessageSavedEvent struct {
	Message  *model.Message `json:"message"`
	Creator  model.Member   `json:"creator"`
	Mentions []model.Member `json:"mentions,omitempty"`
}

// CollaborationJoinEvent signals that a member joined an external
// collaboration group.
type CollaborationJoinEvent struct {
	Collaboration model.Tuple `json:"collaboration"`
	Target        string      `json:"target"`
}

// Handler consumes the raw JSON payload of one delivered event.
type Handler func(ctx context.Context, data []byte)

// EventBus publishes and subscribes JSON-encoded payloads on named topics.
// Publish is fire-and-forget from the caller's perspective: a nil error means
// the event was handed to the transport, not that it was consumed.
type EventBus interface {
	Publish(ctx context.Context, topic Topic, payload any) error
	Subscribe(topic Topic, h Handler) (unsubscribe func(), err error)
	Close() error
}

// Loader creates an EventBus from config carried in ctx.
type Loader func(ctx context.Context) (EventBus, error)

// Plugin represents an event-bus plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a bus plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered bus plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named bus plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown bus %q; valid: %v", name, Names())
}
