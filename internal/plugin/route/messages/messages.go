package messages

import (
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/openpaas/chat-service/internal/chat"
	"github.com/openpaas/chat-service/internal/model"
	"github.com/openpaas/chat-service/internal/plugin/route/conversations"
	registrystore "github.com/openpaas/chat-service/internal/registry/store"
	"github.com/openpaas/chat-service/internal/security"
)

const (
	defaultMessagesLimit    = 25
	defaultAttachmentsLimit = 20
)

// MountRoutes mounts the message read paths on the given engine.
func MountRoutes(r *gin.Engine, convs *chat.ConversationService, msgs *chat.MessageService, auth gin.HandlerFunc) {
	g := r.Group("/api", auth)

	g.GET("/conversations/:id/messages", func(c *gin.Context) {
		listMessages(c, convs, msgs)
	})
	g.GET("/conversations/:id/attachments", func(c *gin.Context) {
		listAttachments(c, convs, msgs)
	})
	g.GET("/messages/:id", func(c *gin.Context) {
		getMessage(c, convs, msgs)
	})
}

// readableConversation loads the conversation and enforces read access,
// writing the error response itself when access is denied.
func readableConversation(c *gin.Context, convs *chat.ConversationService) *model.Conversation {
	userID := security.GetUserID(c)
	conv, err := convs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		conversations.HandleError(c, err)
		return nil
	}
	if !chat.CanRead(conv, userID) {
		c.JSON(http.StatusForbidden, conversations.ErrorBody(http.StatusForbidden, "Forbidden",
			"You can not read this conversation"))
		return nil
	}
	return conv
}

func listMessages(c *gin.Context, convs *chat.ConversationService, msgs *chat.MessageService) {
	conv := readableConversation(c, convs)
	if conv == nil {
		return
	}

	q := registrystore.MessageQuery{
		Limit:  queryInt(c, "limit", defaultMessagesLimit),
		Offset: queryInt(c, "offset", 0),
		Before: c.Query("before"),
	}
	items, err := msgs.ListForConversation(c.Request.Context(), conv.ID, q)
	if err != nil {
		conversations.HandleError(c, err)
		return
	}
	c.Header("X-Items-Count", strconv.Itoa(len(items)))
	c.JSON(http.StatusOK, items)
}

func listAttachments(c *gin.Context, convs *chat.ConversationService, msgs *chat.MessageService) {
	conv := readableConversation(c, convs)
	if conv == nil {
		return
	}

	limit := queryInt(c, "limit", defaultAttachmentsLimit)
	offset := queryInt(c, "offset", 0)
	items, err := msgs.ListAttachments(c.Request.Context(), conv.ID, limit, offset)
	if err != nil {
		conversations.HandleError(c, err)
		return
	}
	c.Header("X-Items-Count", strconv.Itoa(len(items)))
	c.JSON(http.StatusOK, items)
}

type messageResponse struct {
	model.Message
	IsStarred bool `json:"isStarred"`
}

func getMessage(c *gin.Context, convs *chat.ConversationService, msgs *chat.MessageService) {
	userID := security.GetUserID(c)
	msg, err := msgs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		conversations.HandleError(c, err)
		return
	}

	conv, err := convs.Get(c.Request.Context(), msg.Channel)
	if err != nil {
		conversations.HandleError(c, err)
		return
	}
	if !chat.CanRead(conv, userID) {
		c.JSON(http.StatusForbidden, conversations.ErrorBody(http.StatusForbidden, "Forbidden",
			"You can not read this conversation"))
		return
	}

	starred, err := msgs.IsStarredBy(c.Request.Context(), userID, msg.ID)
	if err != nil {
		// Star resolution is best effort; the message itself is the answer.
		log.Warn("Failed to resolve star state", "message", msg.ID, "err", err)
		starred = false
	}
	c.JSON(http.StatusOK, messageResponse{Message: *msg, IsStarred: starred})
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}
