package store

import (
	"context"
	"fmt"
	"time"

	"github.com/openpaas/chat-service/internal/model"
)

// CreateConversationRequest is the input for creating a conversation.
type CreateConversationRequest struct {
	Type    model.ConversationType
	Mode    model.ConversationMode
	Name    *string
	Domain  string
	Creator string
	Topic   *model.TopicField
	Purpose *model.TopicField
	Members []model.MemberRef
	// Collaboration is set only for collaboration-typed conversations and
	// serves as an alternate lookup key.
	Collaboration *model.Tuple
}

// ConversationQuery filters and paginates conversation listings.
type ConversationQuery struct {
	Types []model.ConversationType
	Mode  model.ConversationMode
	// Member restricts the listing to conversations the member belongs to
	// ("my conversations"); such listings sort by last message activity.
	Member *model.MemberRef
	// IncludeModerated includes moderated conversations; default listings
	// exclude them.
	IncludeModerated bool
	Limit            int
	Offset           int
}

// ConversationPatch carries the mutable conversation fields for an update.
// Nil fields are left untouched.
type ConversationPatch struct {
	Name    *string
	Topic   *model.TopicField
	Purpose *model.TopicField
}

// CollaborationUpdate is one atomic modification of a collaboration-backed
// conversation: union-add NewMembers, remove all DeleteMembers occurrences,
// and rename to Title when non-nil.
type CollaborationUpdate struct {
	NewMembers    []model.MemberRef
	DeleteMembers []model.MemberRef
	Title         *string
}

// MessageQuery paginates a conversation's message stream.
//
// The page is a "last N before offset" window: messages sorted by creation
// time descending, Offset skipped, Limit taken, then reversed to ascending
// order. Before constrains the window to messages strictly older than the
// referenced message's creation time.
type MessageQuery struct {
	Limit  int
	Offset int
	Before string
}

// AttachmentRecord is one element of a conversation's flattened attachment
// sequence.
type AttachmentRecord struct {
	ID           string          `json:"id"`
	MessageID    string          `json:"message_id"`
	Creator      model.MemberRef `json:"creator"`
	CreationDate time.Time       `json:"creation_date"`
	Name         string          `json:"name"`
	ContentType  string          `json:"contentType"`
	Length       int64           `json:"length"`
}

// ChatStore is the persistence interface for conversations and messages.
// Implementations rely on atomic per-document update operations for
// correctness under concurrent writers; no in-process locking is assumed.
type ChatStore interface {
	// CreateConversation inserts a conversation. For confidential types and
	// private modes it first searches for an existing conversation with the
	// same (type, member-set, name-or-absence) and returns it unchanged with
	// created=false. Member-set comparison ignores order and duplicates.
	CreateConversation(ctx context.Context, req CreateConversationRequest) (conv *model.Conversation, created bool, err error)
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	// ListConversations returns one page plus the total matching count.
	ListConversations(ctx context.Context, q ConversationQuery) ([]model.Conversation, int64, error)
	UpdateConversation(ctx context.Context, id string, patch ConversationPatch) (*model.Conversation, error)
	RemoveConversation(ctx context.Context, id string) error

	// MarkRead raises the member's read counter to the conversation's current
	// message count with a max-merge; it never decreases the counter.
	MarkRead(ctx context.Context, memberID, conversationID string) error
	MarkAllRead(ctx context.Context, memberIDs []string, conversationID string) error

	GetConversationByCollaboration(ctx context.Context, collaboration model.Tuple) (*model.Conversation, error)
	// UpdateCollaborationConversation applies the modification as a single
	// atomic document update and returns the updated conversation.
	UpdateCollaborationConversation(ctx context.Context, collaboration model.Tuple, mods CollaborationUpdate) (*model.Conversation, error)

	// CreateDefaultChannel is the idempotent per-domain bootstrap; concurrent
	// invocations yield exactly one conversation.
	CreateDefaultChannel(ctx context.Context, domainID string) (*model.Conversation, error)

	// CreateMessage persists the message, then atomically increments the
	// owning conversation's message counter, overwrites its last_message
	// snapshot and max-merges the creator's read counter to the new count.
	CreateMessage(ctx context.Context, msg *model.Message) (*model.Message, error)
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	ListMessages(ctx context.Context, conversationID string, q MessageQuery) ([]model.Message, error)
	// ListAttachments returns the [offset, limit) slice of the conversation's
	// flattened attachment sequence. Limit is an absolute end index into that
	// sequence, not a count.
	ListAttachments(ctx context.Context, conversationID string, limit, offset int) ([]AttachmentRecord, error)

	// GetMembers resolves member ids to directory records. Unknown ids are
	// returned as bare records carrying only the id.
	GetMembers(ctx context.Context, ids []string) ([]model.Member, error)
}

// Loader creates a ChatStore from config carried in ctx.
type Loader func(ctx context.Context) (ChatStore, error)

// Plugin represents a store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
