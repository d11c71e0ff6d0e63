package chat

import "github.com/openpaas/chat-service/internal/model"

// Conversation access rules. Open conversations are readable and writable by
// any authenticated member; confidential and collaboration conversations are
// gated on the member list.

func CanRead(conv *model.Conversation, memberID string) bool {
	if conv.Type == model.ConversationTypeOpen {
		return true
	}
	return conv.HasMember(memberID)
}

func CanWrite(conv *model.Conversation, memberID string) bool {
	return CanRead(conv, memberID)
}

// CanUpdate requires membership regardless of conversation type.
func CanUpdate(conv *model.Conversation, memberID string) bool {
	return conv.HasMember(memberID)
}

// CanRemove requires membership. Collaboration conversations mirror an
// externally owned group and are never removable through the API; they
// disappear when the collaboration does.
func CanRemove(conv *model.Conversation, memberID string) bool {
	if conv.Type == model.ConversationTypeCollaboration {
		return false
	}
	return conv.HasMember(memberID)
}
