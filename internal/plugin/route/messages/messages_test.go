package messages_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openpaas/chat-service/internal/chat"
	"github.com/openpaas/chat-service/internal/config"
	"github.com/openpaas/chat-service/internal/model"
	"github.com/openpaas/chat-service/internal/plugin/bus/localbus"
	"github.com/openpaas/chat-service/internal/plugin/route/messages"
	"github.com/openpaas/chat-service/internal/plugin/store/memory"
	registrystore "github.com/openpaas/chat-service/internal/registry/store"
	"github.com/openpaas/chat-service/internal/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	router *gin.Engine
	store  *memory.MemoryStore
	convs  *chat.ConversationService
	msgs   *chat.MessageService
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st := memory.NewMemoryStore()
	eb := localbus.New()
	t.Cleanup(func() { _ = eb.Close() })
	convs := chat.NewConversationService(st, eb)
	msgs := chat.NewMessageService(st, eb, nil)

	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeTesting
	auth := security.AuthMiddleware(security.NewTokenResolver(&cfg))

	r := gin.New()
	messages.MountRoutes(r, convs, msgs, auth)
	return &testEnv{router: r, store: st, convs: convs, msgs: msgs}
}

func (e *testEnv) get(t *testing.T, path, user string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("X-User-ID", user)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) seedConversation(t *testing.T, n int) (*model.Conversation, []model.Message) {
	t.Helper()
	ctx := context.Background()
	conv, _, err := e.convs.Create(ctx, "alice", registrystore.CreateConversationRequest{
		Type: model.ConversationTypeOpen, Mode: model.ModeChannel,
	})
	require.NoError(t, err)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	all := make([]model.Message, n)
	for i := 0; i < n; i++ {
		saved, err := e.store.CreateMessage(ctx, &model.Message{
			Channel:   conv.ID,
			Creator:   "alice",
			Text:      fmt.Sprintf("%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
		all[i] = *saved
	}
	return conv, all
}

func TestListMessages(t *testing.T) {
	e := newEnv(t)
	conv, all := e.seedConversation(t, 60)

	w := e.get(t, "/api/conversations/"+conv.ID+"/messages?limit=5&before="+all[50].ID, "bob")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "5", w.Header().Get("X-Items-Count"))

	var page []model.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	got := make([]string, len(page))
	for i, m := range page {
		got[i] = m.Text
	}
	assert.Equal(t, []string{"45", "46", "47", "48", "49"}, got)
}

func TestListMessagesDefaultLimit(t *testing.T) {
	e := newEnv(t)
	conv, _ := e.seedConversation(t, 60)

	w := e.get(t, "/api/conversations/"+conv.ID+"/messages", "bob")
	require.Equal(t, http.StatusOK, w.Code)

	var page []model.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Len(t, page, 25)
}

func TestListMessagesRequiresReadAccess(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	conv, _, err := e.convs.Create(ctx, "alice", registrystore.CreateConversationRequest{
		Type: model.ConversationTypeConfidential, Mode: model.ModePrivate,
	})
	require.NoError(t, err)

	w := e.get(t, "/api/conversations/"+conv.ID+"/messages", "mallory")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestListAttachments(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	conv, _, err := e.convs.Create(ctx, "alice", registrystore.CreateConversationRequest{
		Type: model.ConversationTypeOpen, Mode: model.ModeChannel,
	})
	require.NoError(t, err)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := e.store.CreateMessage(ctx, &model.Message{
			Channel: conv.ID,
			Creator: "alice",
			Type:    model.MessageTypeFile,
			Attachments: []model.Attachment{
				{ID: fmt.Sprintf("att-%d", i), Name: "file.png", ContentType: "image/png", Length: 10},
			},
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	w := e.get(t, "/api/conversations/"+conv.ID+"/attachments?limit=2", "bob")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-Items-Count"))

	var records []registrystore.AttachmentRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &records))
	require.Len(t, records, 2)
	assert.Equal(t, "att-0", records[0].ID)
	assert.Equal(t, "att-1", records[1].ID)
}

func TestGetMessage(t *testing.T) {
	e := newEnv(t)
	conv, all := e.seedConversation(t, 3)

	w := e.get(t, "/api/messages/"+all[1].ID, "bob")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		model.Message
		IsStarred bool `json:"isStarred"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, all[1].ID, body.ID)
	assert.Equal(t, conv.ID, body.Channel)
	assert.False(t, body.IsStarred)

	w = e.get(t, "/api/messages/unknown", "bob")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
