package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/openpaas/chat-service/internal/model"
	registrystore "github.com/openpaas/chat-service/internal/registry/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strptr(s string) *string { return &s }

func refs(ids ...string) []model.MemberRef {
	out := make([]model.MemberRef, len(ids))
	for i, id := range ids {
		out[i] = model.MemberRef{ID: id, ObjectType: model.ObjectTypeUser}
	}
	return out
}

func TestCreateConversationDeduplication(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	first, created, err := s.CreateConversation(ctx, registrystore.CreateConversationRequest{
		Type:    model.ConversationTypeConfidential,
		Mode:    model.ModePrivate,
		Members: refs("alice", "bob"),
	})
	require.NoError(t, err)
	require.True(t, created)

	// Same member set in a different order, with a duplicate entry.
	again, created, err := s.CreateConversation(ctx, registrystore.CreateConversationRequest{
		Type:    model.ConversationTypeConfidential,
		Mode:    model.ModePrivate,
		Members: refs("bob", "alice", "bob"),
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	// A named conversation is a different dedup class than an unnamed one.
	named, created, err := s.CreateConversation(ctx, registrystore.CreateConversationRequest{
		Type:    model.ConversationTypeConfidential,
		Mode:    model.ModePrivate,
		Name:    strptr("plans"),
		Members: refs("alice", "bob"),
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, named.ID)

	// Empty string is itself distinct from absent.
	empty, created, err := s.CreateConversation(ctx, registrystore.CreateConversationRequest{
		Type:    model.ConversationTypeConfidential,
		Mode:    model.ModePrivate,
		Name:    strptr(""),
		Members: refs("alice", "bob"),
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, empty.ID)
	assert.NotEqual(t, named.ID, empty.ID)

	// Different name, same members: yet another conversation.
	_, created, err = s.CreateConversation(ctx, registrystore.CreateConversationRequest{
		Type:    model.ConversationTypeConfidential,
		Mode:    model.ModePrivate,
		Name:    strptr("other"),
		Members: refs("alice", "bob"),
	})
	require.NoError(t, err)
	assert.True(t, created)
}

func TestOpenChannelsAreNotDeduplicated(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	a, created, err := s.CreateConversation(ctx, registrystore.CreateConversationRequest{
		Type: model.ConversationTypeOpen, Mode: model.ModeChannel,
		Name: strptr("general"), Members: refs("alice"),
	})
	require.NoError(t, err)
	require.True(t, created)

	b, created, err := s.CreateConversation(ctx, registrystore.CreateConversationRequest{
		Type: model.ConversationTypeOpen, Mode: model.ModeChannel,
		Name: strptr("general"), Members: refs("alice"),
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestReadCountersAreMonotonic(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	conv, _, err := s.CreateConversation(ctx, registrystore.CreateConversationRequest{
		Type: model.ConversationTypeConfidential, Mode: model.ModePrivate,
		Members: refs("alice", "bob"),
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := s.CreateMessage(ctx, &model.Message{Channel: conv.ID, Creator: "alice", Text: "hi"})
		require.NoError(t, err)
	}

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.NumOfMessage)
	// The author never sees their own messages as unread.
	assert.Equal(t, int64(3), got.NumOfReadedMessage["alice"])
	assert.Equal(t, int64(0), got.NumOfReadedMessage["bob"])

	require.NoError(t, s.MarkRead(ctx, "bob", conv.ID))
	got, err = s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.NumOfReadedMessage["bob"])

	// Re-marking never lowers the counter.
	require.NoError(t, s.MarkRead(ctx, "bob", conv.ID))
	got, err = s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.NumOfReadedMessage["bob"])
}

func TestCreateMessageUpdatesLastMessage(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	conv, _, err := s.CreateConversation(ctx, registrystore.CreateConversationRequest{
		Type: model.ConversationTypeOpen, Mode: model.ModeChannel, Members: refs("alice"),
	})
	require.NoError(t, err)

	_, err = s.CreateMessage(ctx, &model.Message{Channel: conv.ID, Creator: "alice", Text: "first"})
	require.NoError(t, err)
	saved, err := s.CreateMessage(ctx, &model.Message{Channel: conv.ID, Creator: "bob", Text: "second"})
	require.NoError(t, err)

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastMessage)
	assert.Equal(t, "second", got.LastMessage.Text)
	assert.Equal(t, "bob", got.LastMessage.Creator)
	assert.Equal(t, saved.CreatedAt, got.LastMessage.Date)
}

func TestCreateMessageUnknownConversation(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.CreateMessage(context.Background(), &model.Message{Channel: "nope", Creator: "alice"})
	var notFound *registrystore.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func seedMessages(t *testing.T, s *MemoryStore, convID string, n int) []model.Message {
	t.Helper()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msgs := make([]model.Message, n)
	for i := 0; i < n; i++ {
		saved, err := s.CreateMessage(context.Background(), &model.Message{
			Channel:   convID,
			Creator:   "alice",
			Text:      fmt.Sprintf("%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
		msgs[i] = *saved
	}
	return msgs
}

func texts(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}

func TestListMessagesWindow(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	conv, _, err := s.CreateConversation(ctx, registrystore.CreateConversationRequest{
		Type: model.ConversationTypeOpen, Mode: model.ModeChannel, Members: refs("alice"),
	})
	require.NoError(t, err)
	all := seedMessages(t, s, conv.ID, 100)

	t.Run("latest page ascending", func(t *testing.T) {
		page, err := s.ListMessages(ctx, conv.ID, registrystore.MessageQuery{Limit: 5})
		require.NoError(t, err)
		assert.Equal(t, []string{"95", "96", "97", "98", "99"}, texts(page))
	})

	t.Run("offset skips newest", func(t *testing.T) {
		page, err := s.ListMessages(ctx, conv.ID, registrystore.MessageQuery{Limit: 5, Offset: 10})
		require.NoError(t, err)
		assert.Equal(t, []string{"85", "86", "87", "88", "89"}, texts(page))
	})

	t.Run("before restricts to older", func(t *testing.T) {
		page, err := s.ListMessages(ctx, conv.ID, registrystore.MessageQuery{Limit: 5, Before: all[50].ID})
		require.NoError(t, err)
		assert.Equal(t, []string{"45", "46", "47", "48", "49"}, texts(page))
	})

	t.Run("before with offset", func(t *testing.T) {
		page, err := s.ListMessages(ctx, conv.ID, registrystore.MessageQuery{Limit: 5, Offset: 10, Before: all[50].ID})
		require.NoError(t, err)
		assert.Equal(t, []string{"35", "36", "37", "38", "39"}, texts(page))
	})

	t.Run("unknown before id", func(t *testing.T) {
		_, err := s.ListMessages(ctx, conv.ID, registrystore.MessageQuery{Limit: 5, Before: "missing"})
		var notFound *registrystore.NotFoundError
		require.ErrorAs(t, err, &notFound)
	})

	t.Run("offset past the stream", func(t *testing.T) {
		page, err := s.ListMessages(ctx, conv.ID, registrystore.MessageQuery{Limit: 5, Offset: 200})
		require.NoError(t, err)
		assert.Empty(t, page)
	})
}

func TestModeratedMessagesExcluded(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	conv, _, err := s.CreateConversation(ctx, registrystore.CreateConversationRequest{
		Type: model.ConversationTypeOpen, Mode: model.ModeChannel, Members: refs("alice"),
	})
	require.NoError(t, err)

	_, err = s.CreateMessage(ctx, &model.Message{Channel: conv.ID, Creator: "alice", Text: "visible"})
	require.NoError(t, err)
	_, err = s.CreateMessage(ctx, &model.Message{Channel: conv.ID, Creator: "alice", Text: "hidden", Moderate: true})
	require.NoError(t, err)

	page, err := s.ListMessages(ctx, conv.ID, registrystore.MessageQuery{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"visible"}, texts(page))
}

func TestListAttachmentsWindow(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	conv, _, err := s.CreateConversation(ctx, registrystore.CreateConversationRequest{
		Type: model.ConversationTypeOpen, Mode: model.ModeChannel, Members: refs("alice"),
	})
	require.NoError(t, err)

	// 8 messages with 4,2,1,1,1,3,1,1 attachments: 14 in the flat sequence.
	counts := []int{4, 2, 1, 1, 1, 3, 1, 1}
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var wantIDs []string
	for i, n := range counts {
		var atts []model.Attachment
		for j := 0; j < n; j++ {
			id := fmt.Sprintf("m%d-a%d", i, j)
			atts = append(atts, model.Attachment{ID: id, Name: id + ".png", ContentType: "image/png", Length: 42})
			wantIDs = append(wantIDs, id)
		}
		_, err := s.CreateMessage(ctx, &model.Message{
			Channel:     conv.ID,
			Creator:     "alice",
			Type:        model.MessageTypeFile,
			Attachments: atts,
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	ids := func(records []registrystore.AttachmentRecord) []string {
		out := make([]string, len(records))
		for i, r := range records {
			out[i] = r.ID
		}
		return out
	}

	// limit is the absolute end index into the flattened sequence.
	got, err := s.ListAttachments(ctx, conv.ID, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, wantIDs[:10], ids(got))

	got, err = s.ListAttachments(ctx, conv.ID, 14, 10)
	require.NoError(t, err)
	assert.Equal(t, wantIDs[10:14], ids(got))

	got, err = s.ListAttachments(ctx, conv.ID, 5, 5)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.ListAttachments(ctx, conv.ID, 100, 0)
	require.NoError(t, err)
	assert.Equal(t, wantIDs, ids(got))
	assert.Equal(t, "alice", got[0].Creator.ID)
	assert.Equal(t, "image/png", got[0].ContentType)
}

func TestCreateDefaultChannelIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	a, err := s.CreateDefaultChannel(ctx, "domain-1")
	require.NoError(t, err)
	b, err := s.CreateDefaultChannel(ctx, "domain-1")
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
	require.NotNil(t, a.Name)
	assert.Equal(t, "general", *a.Name)
	assert.Equal(t, model.ConversationTypeOpen, a.Type)
	assert.Equal(t, model.ModeChannel, a.Mode)

	other, err := s.CreateDefaultChannel(ctx, "domain-2")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, other.ID)
}

func TestUpdateCollaborationConversation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	tuple := model.Tuple{ObjectType: model.ObjectTypeConversation, ID: "collab-1"}

	conv, _, err := s.CreateConversation(ctx, registrystore.CreateConversationRequest{
		Type:          model.ConversationTypeCollaboration,
		Mode:          model.ModePrivate,
		Members:       refs("alice"),
		Collaboration: &tuple,
	})
	require.NoError(t, err)

	updated, err := s.UpdateCollaborationConversation(ctx, tuple, registrystore.CollaborationUpdate{
		NewMembers:    refs("bob", "alice"), // alice already present, must not duplicate
		DeleteMembers: nil,
		Title:         strptr("project room"),
	})
	require.NoError(t, err)
	assert.Equal(t, conv.ID, updated.ID)
	assert.Len(t, updated.Members, 2)
	require.NotNil(t, updated.Name)
	assert.Equal(t, "project room", *updated.Name)

	updated, err = s.UpdateCollaborationConversation(ctx, tuple, registrystore.CollaborationUpdate{
		DeleteMembers: refs("alice"),
	})
	require.NoError(t, err)
	assert.Len(t, updated.Members, 1)
	assert.Equal(t, "bob", updated.Members[0].ID)

	_, err = s.UpdateCollaborationConversation(ctx, model.Tuple{ObjectType: model.ObjectTypeConversation, ID: "missing"}, registrystore.CollaborationUpdate{})
	var notFound *registrystore.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestListConversations(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	mkConv := func(req registrystore.CreateConversationRequest) *model.Conversation {
		conv, _, err := s.CreateConversation(ctx, req)
		require.NoError(t, err)
		return conv
	}

	ch1 := mkConv(registrystore.CreateConversationRequest{
		Type: model.ConversationTypeOpen, Mode: model.ModeChannel, Name: strptr("one"), Members: refs("alice"),
	})
	ch2 := mkConv(registrystore.CreateConversationRequest{
		Type: model.ConversationTypeOpen, Mode: model.ModeChannel, Name: strptr("two"), Members: refs("alice", "bob"),
	})
	priv := mkConv(registrystore.CreateConversationRequest{
		Type: model.ConversationTypeConfidential, Mode: model.ModePrivate, Members: refs("alice", "bob"),
	})

	t.Run("channel listing with total", func(t *testing.T) {
		items, total, err := s.ListConversations(ctx, registrystore.ConversationQuery{
			Types: []model.ConversationType{model.ConversationTypeOpen},
			Mode:  model.ModeChannel,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		assert.Len(t, items, 2)
	})

	t.Run("member listing sorts by activity", func(t *testing.T) {
		// Activity in ch1 pushes it ahead of the newer conversations.
		_, err := s.CreateMessage(ctx, &model.Message{Channel: ch1.ID, Creator: "alice", Text: "bump"})
		require.NoError(t, err)

		items, total, err := s.ListConversations(ctx, registrystore.ConversationQuery{
			Member: &model.MemberRef{ID: "alice", ObjectType: model.ObjectTypeUser},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		require.Len(t, items, 3)
		assert.Equal(t, ch1.ID, items[0].ID)
	})

	t.Run("mode filter", func(t *testing.T) {
		items, _, err := s.ListConversations(ctx, registrystore.ConversationQuery{
			Mode:   model.ModePrivate,
			Member: &model.MemberRef{ID: "bob", ObjectType: model.ObjectTypeUser},
		})
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, priv.ID, items[0].ID)
	})

	t.Run("pagination", func(t *testing.T) {
		items, total, err := s.ListConversations(ctx, registrystore.ConversationQuery{
			Member: &model.MemberRef{ID: "alice", ObjectType: model.ObjectTypeUser},
			Limit:  2,
			Offset: 2,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		assert.Len(t, items, 1)
	})

	_ = ch2
}

func TestGetMembersFallsBackToBareRecords(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.PutMember(model.Member{ID: "alice", DisplayName: "Alice A"})

	members, err := s.GetMembers(ctx, []string{"alice", "ghost"})
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "Alice A", members[0].DisplayName)
	assert.Equal(t, "ghost", members[1].ID)
	assert.Equal(t, model.ObjectTypeUser, members[1].ObjectType)
	assert.Empty(t, members[1].DisplayName)
}
