package conversations_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/openpaas/chat-service/internal/chat"
	"github.com/openpaas/chat-service/internal/config"
	"github.com/openpaas/chat-service/internal/model"
	"github.com/openpaas/chat-service/internal/plugin/bus/localbus"
	"github.com/openpaas/chat-service/internal/plugin/route/conversations"
	"github.com/openpaas/chat-service/internal/plugin/store/memory"
	registrystore "github.com/openpaas/chat-service/internal/registry/store"
	"github.com/openpaas/chat-service/internal/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	router *gin.Engine
	store  *memory.MemoryStore
	svc    *chat.ConversationService
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st := memory.NewMemoryStore()
	eb := localbus.New()
	t.Cleanup(func() { _ = eb.Close() })
	svc := chat.NewConversationService(st, eb)

	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeTesting
	auth := security.AuthMiddleware(security.NewTokenResolver(&cfg))

	r := gin.New()
	conversations.MountRoutes(r, svc, auth)
	return &testEnv{router: r, store: st, svc: svc}
}

func (e *testEnv) do(t *testing.T, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeErrorCode(t *testing.T, w *httptest.ResponseRecorder) int {
	t.Helper()
	var body struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Details string `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error.Code
}

func TestCreateChannel(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodPost, "/api/conversations", "alice",
		`{"type":"open","mode":"channel","name":"random","members":[{"id":"bob"}]}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var conv model.Conversation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &conv))
	assert.NotEmpty(t, conv.ID)
	assert.Equal(t, "alice", conv.Creator)
	assert.True(t, conv.HasMember("alice"))
	assert.True(t, conv.HasMember("bob"))
}

func TestCreateRejectsNonChannelMode(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodPost, "/api/conversations", "alice",
		`{"type":"confidential","mode":"private","members":[{"id":"bob"}]}`)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, http.StatusForbidden, decodeErrorCode(t, w))
}

func TestCreateRejectsMemberWithoutID(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodPost, "/api/conversations", "alice",
		`{"type":"open","mode":"channel","members":[{"objectType":"user"}]}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, http.StatusBadRequest, decodeErrorCode(t, w))
}

func TestRequestsWithoutIdentityRejected(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodGet, "/api/conversations", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestListChannelsSetsItemsCount(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	for _, name := range []string{"one", "two", "three"} {
		n := name
		_, _, err := e.svc.Create(ctx, "alice", registrystore.CreateConversationRequest{
			Type: model.ConversationTypeOpen, Mode: model.ModeChannel, Name: &n,
		})
		require.NoError(t, err)
	}

	w := e.do(t, http.MethodGet, "/api/conversations?limit=2", "bob", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "3", w.Header().Get("X-Items-Count"))

	var items []model.Conversation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &items))
	assert.Len(t, items, 2)
}

func TestGetConfidentialRequiresMembership(t *testing.T) {
	e := newEnv(t)
	conv, _, err := e.svc.Create(context.Background(), "alice", registrystore.CreateConversationRequest{
		Type: model.ConversationTypeConfidential, Mode: model.ModePrivate,
	})
	require.NoError(t, err)

	w := e.do(t, http.MethodGet, "/api/conversations/"+conv.ID, "alice", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodGet, "/api/conversations/"+conv.ID, "mallory", "")
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, http.StatusForbidden, decodeErrorCode(t, w))
}

func TestGetUnknownConversation(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodGet, "/api/conversations/nope", "alice", "")
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, http.StatusNotFound, decodeErrorCode(t, w))
}

func TestMarkReadReturnsNoContent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	conv, _, err := e.svc.Create(ctx, "alice", registrystore.CreateConversationRequest{
		Type: model.ConversationTypeOpen, Mode: model.ModeChannel,
	})
	require.NoError(t, err)
	_, err = e.store.CreateMessage(ctx, &model.Message{Channel: conv.ID, Creator: "alice", Text: "hi"})
	require.NoError(t, err)

	w := e.do(t, http.MethodPost, "/api/conversations/"+conv.ID+"/readed", "bob", "")
	require.Equal(t, http.StatusNoContent, w.Code)

	got, err := e.store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.NumOfReadedMessage["bob"])
}

func TestMarkReadRequiresReadAccess(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	conv, _, err := e.svc.Create(ctx, "alice", registrystore.CreateConversationRequest{
		Type: model.ConversationTypeConfidential, Mode: model.ModePrivate,
	})
	require.NoError(t, err)
	_, err = e.store.CreateMessage(ctx, &model.Message{Channel: conv.ID, Creator: "alice", Text: "hi"})
	require.NoError(t, err)

	w := e.do(t, http.MethodPost, "/api/conversations/"+conv.ID+"/readed", "mallory", "")
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, http.StatusForbidden, decodeErrorCode(t, w))

	// The outsider's counter must not be created.
	got, err := e.store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	_, ok := got.NumOfReadedMessage["mallory"]
	assert.False(t, ok)

	w = e.do(t, http.MethodPost, "/api/conversations/unknown/readed", "alice", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRemoveConversation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	conv, _, err := e.svc.Create(ctx, "alice", registrystore.CreateConversationRequest{
		Type: model.ConversationTypeOpen, Mode: model.ModeChannel,
	})
	require.NoError(t, err)

	// Non-members may not remove.
	w := e.do(t, http.MethodDelete, "/api/conversations/"+conv.ID, "mallory", "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(t, http.MethodDelete, "/api/conversations/"+conv.ID, "alice", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = e.do(t, http.MethodGet, "/api/conversations/"+conv.ID, "alice", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCollaborationConversationNotRemovable(t *testing.T) {
	e := newEnv(t)
	tuple := model.Tuple{ObjectType: model.ObjectTypeConversation, ID: "collab-1"}
	conv, _, err := e.svc.Create(context.Background(), "alice", registrystore.CreateConversationRequest{
		Type:          model.ConversationTypeCollaboration,
		Mode:          model.ModePrivate,
		Collaboration: &tuple,
	})
	require.NoError(t, err)

	w := e.do(t, http.MethodDelete, "/api/conversations/"+conv.ID, "alice", "")
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestUpdateTopic(t *testing.T) {
	e := newEnv(t)
	conv, _, err := e.svc.Create(context.Background(), "alice", registrystore.CreateConversationRequest{
		Type: model.ConversationTypeOpen, Mode: model.ModeChannel,
	})
	require.NoError(t, err)

	w := e.do(t, http.MethodPut, "/api/conversations/"+conv.ID+"/topic", "alice", `{"value":"launch week"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var updated model.Conversation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	require.NotNil(t, updated.Topic)
	assert.Equal(t, "launch week", updated.Topic.Value)
	assert.Equal(t, "alice", updated.Topic.Creator)
}

func TestListUserConversations(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, _, err := e.svc.Create(ctx, "alice", registrystore.CreateConversationRequest{
		Type: model.ConversationTypeOpen, Mode: model.ModeChannel,
	})
	require.NoError(t, err)
	_, _, err = e.svc.Create(ctx, "alice", registrystore.CreateConversationRequest{
		Type:    model.ConversationTypeConfidential,
		Mode:    model.ModePrivate,
		Members: []model.MemberRef{{ID: "bob", ObjectType: model.ObjectTypeUser}},
	})
	require.NoError(t, err)

	w := e.do(t, http.MethodGet, "/api/user/conversations", "alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-Items-Count"))

	w = e.do(t, http.MethodGet, "/api/user/conversations/private", "alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-Items-Count"))

	w = e.do(t, http.MethodGet, "/api/user/conversations/private", "mallory", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-Items-Count"))
}
