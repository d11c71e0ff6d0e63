package model

import (
	"time"
)

// ConversationType controls who may read and write a conversation.
type ConversationType string

const (
	// ConversationTypeOpen is readable and writable by any authenticated member.
	ConversationTypeOpen ConversationType = "open"
	// ConversationTypeConfidential is gated on the conversation member list.
	ConversationTypeConfidential ConversationType = "confidential"
	// ConversationTypeCollaboration mirrors the membership of an externally
	// owned collaboration group.
	ConversationTypeCollaboration ConversationType = "collaboration"
)

// ConversationMode is the presentation axis of a conversation, orthogonal to type.
type ConversationMode string

const (
	ModeChannel ConversationMode = "channel"
	ModePrivate ConversationMode = "private"
)

// Object types used in member references and collaboration tuples.
const (
	ObjectTypeUser         = "user"
	ObjectTypeConversation = "chat.conversation"
)

// Message types and subtypes.
const (
	MessageTypeText   = "text"
	MessageTypeFile   = "file"
	MessageTypeSystem = "system"

	SubtypeConversationJoin = "conversation:join"
)

// MemberRef identifies a participant inside a conversation member list.
type MemberRef struct {
	ID         string `json:"id"         bson:"id"`
	ObjectType string `json:"objectType" bson:"object_type"`
}

// Member is the expanded directory record for a member reference.
type Member struct {
	ID          string `json:"id"          bson:"_id"`
	ObjectType  string `json:"objectType"  bson:"object_type"`
	DisplayName string `json:"displayName" bson:"display_name"`
}

// Tuple identifies an externally owned object, e.g. a collaboration group.
type Tuple struct {
	ObjectType string `json:"objectType" bson:"object_type"`
	ID         string `json:"id"         bson:"id"`
}

// TopicField is a topic or purpose value together with who set it.
type TopicField struct {
	Value   string `json:"value"   bson:"value"`
	Creator string `json:"creator" bson:"creator"`
}

// LastMessage is the denormalized snapshot of the most recent message,
// kept on the conversation for fast activity-sorted listings.
type LastMessage struct {
	Text         string    `json:"text"          bson:"text"`
	Creator      string    `json:"creator"       bson:"creator"`
	UserMentions []string  `json:"user_mentions" bson:"user_mentions"`
	Date         time.Time `json:"date"          bson:"date"`
}

// Conversation is a chat room.
//
// Name distinguishes between absent (nil) and any string value, including "";
// the two are different dedup classes for confidential conversations.
type Conversation struct {
	ID                 string           `json:"id"`
	Type               ConversationType `json:"type"`
	Mode               ConversationMode `json:"mode"`
	Name               *string          `json:"name,omitempty"`
	Domain             string           `json:"domain,omitempty"`
	Creator            string           `json:"creator,omitempty"`
	Topic              *TopicField      `json:"topic,omitempty"`
	Purpose            *TopicField      `json:"purpose,omitempty"`
	Members            []MemberRef      `json:"members"`
	Collaboration      *Tuple           `json:"collaboration,omitempty"`
	NumOfMessage       int64            `json:"numOfMessage"`
	NumOfReadedMessage map[string]int64 `json:"numOfReadedMessage"`
	LastMessage        *LastMessage     `json:"last_message,omitempty"`
	Moderate           bool             `json:"moderate"`
	CreatedAt          time.Time        `json:"creation_date"`
}

// HasMember reports whether the given member id is in the conversation member list.
func (c *Conversation) HasMember(memberID string) bool {
	for _, m := range c.Members {
		if m.ID == memberID {
			return true
		}
	}
	return false
}

// Attachment is the file metadata recorded on a message. Storage mechanics
// (upload transport, blob store) live outside this service.
type Attachment struct {
	ID          string `json:"id"          bson:"id"`
	Name        string `json:"name"        bson:"name"`
	ContentType string `json:"contentType" bson:"content_type"`
	Length      int64  `json:"length"      bson:"length"`
}

// Message is a single append-only entry in a conversation stream.
type Message struct {
	ID           string       `json:"id"`
	Channel      string       `json:"channel"`
	Creator      string       `json:"creator"`
	Type         string       `json:"type"`
	Subtype      string       `json:"subtype,omitempty"`
	Text         string       `json:"text"`
	Attachments  []Attachment `json:"attachments,omitempty"`
	UserMentions []string     `json:"user_mentions,omitempty"`
	Moderate     bool         `json:"moderate"`
	CreatedAt    time.Time    `json:"creation_date"`
}
