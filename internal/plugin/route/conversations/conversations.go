package conversations

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/openpaas/chat-service/internal/chat"
	"github.com/openpaas/chat-service/internal/model"
	registrystore "github.com/openpaas/chat-service/internal/registry/store"
	"github.com/openpaas/chat-service/internal/security"
)

// MountRoutes mounts conversation routes on the given engine. Called after
// store and bus initialization so the services are available.
func MountRoutes(r *gin.Engine, svc *chat.ConversationService, auth gin.HandlerFunc) {
	g := r.Group("/api", auth)

	g.GET("/conversations", func(c *gin.Context) {
		listChannels(c, svc)
	})
	g.POST("/conversations", func(c *gin.Context) {
		createConversation(c, svc)
	})
	g.GET("/conversations/:id", func(c *gin.Context) {
		getConversation(c, svc)
	})
	g.PUT("/conversations/:id", func(c *gin.Context) {
		updateConversation(c, svc)
	})
	g.PUT("/conversations/:id/topic", func(c *gin.Context) {
		updateTopic(c, svc)
	})
	g.DELETE("/conversations/:id", func(c *gin.Context) {
		removeConversation(c, svc)
	})
	g.POST("/conversations/:id/readed", func(c *gin.Context) {
		markRead(c, svc)
	})
	g.GET("/user/conversations", func(c *gin.Context) {
		listUserConversations(c, svc, "")
	})
	g.GET("/user/conversations/private", func(c *gin.Context) {
		listUserConversations(c, svc, model.ModePrivate)
	})
}

func listChannels(c *gin.Context, svc *chat.ConversationService) {
	q := registrystore.ConversationQuery{
		Types:  []model.ConversationType{model.ConversationTypeOpen},
		Mode:   model.ModeChannel,
		Limit:  queryInt(c, "limit", 50),
		Offset: queryInt(c, "offset", 0),
	}
	items, total, err := svc.List(c.Request.Context(), q)
	if err != nil {
		HandleError(c, err)
		return
	}
	c.Header("X-Items-Count", strconv.FormatInt(total, 10))
	c.JSON(http.StatusOK, items)
}

type memberInput struct {
	ID         string `json:"id"`
	ObjectType string `json:"objectType"`
}

type createRequest struct {
	Type    string        `json:"type"`
	Mode    string        `json:"mode"`
	Name    *string       `json:"name"`
	Domain  string        `json:"domain"`
	Topic   string        `json:"topic"`
	Purpose string        `json:"purpose"`
	Members []memberInput `json:"members"`
}

func createConversation(c *gin.Context, svc *chat.ConversationService) {
	userID := security.GetUserID(c)
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorBody(http.StatusBadRequest, "Bad Request", err.Error()))
		return
	}
	if req.Mode != "" && req.Mode != string(model.ModeChannel) {
		c.JSON(http.StatusForbidden, ErrorBody(http.StatusForbidden, "Forbidden",
			"You can not create a conversation of mode "+req.Mode))
		return
	}

	members := make([]model.MemberRef, 0, len(req.Members))
	for _, m := range req.Members {
		if m.ID == "" {
			c.JSON(http.StatusBadRequest, ErrorBody(http.StatusBadRequest, "Bad Request",
				"members can not be empty"))
			return
		}
		members = append(members, model.MemberRef{ID: m.ID, ObjectType: m.ObjectType})
	}

	create := registrystore.CreateConversationRequest{
		Type:    model.ConversationType(req.Type),
		Mode:    model.ConversationMode(req.Mode),
		Name:    req.Name,
		Domain:  req.Domain,
		Members: members,
	}
	if req.Topic != "" {
		create.Topic = &model.TopicField{Value: req.Topic, Creator: userID}
	}
	if req.Purpose != "" {
		create.Purpose = &model.TopicField{Value: req.Purpose, Creator: userID}
	}

	conv, _, err := svc.Create(c.Request.Context(), userID, create)
	if err != nil {
		HandleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, conv)
}

func getConversation(c *gin.Context, svc *chat.ConversationService) {
	userID := security.GetUserID(c)
	conv, err := svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleError(c, err)
		return
	}
	if !chat.CanRead(conv, userID) {
		c.JSON(http.StatusForbidden, ErrorBody(http.StatusForbidden, "Forbidden",
			"You can not read this conversation"))
		return
	}
	c.JSON(http.StatusOK, conv)
}

type updateRequest struct {
	Name    *string `json:"name"`
	Topic   *string `json:"topic"`
	Purpose *string `json:"purpose"`
}

func updateConversation(c *gin.Context, svc *chat.ConversationService) {
	userID := security.GetUserID(c)
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorBody(http.StatusBadRequest, "Bad Request", err.Error()))
		return
	}

	conv, err := svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleError(c, err)
		return
	}
	if !chat.CanUpdate(conv, userID) {
		c.JSON(http.StatusForbidden, ErrorBody(http.StatusForbidden, "Forbidden",
			"You can not update this conversation"))
		return
	}

	patch := registrystore.ConversationPatch{Name: req.Name}
	if req.Topic != nil {
		patch.Topic = &model.TopicField{Value: *req.Topic, Creator: userID}
	}
	if req.Purpose != nil {
		patch.Purpose = &model.TopicField{Value: *req.Purpose, Creator: userID}
	}

	updated, err := svc.Update(c.Request.Context(), conv.ID, patch)
	if err != nil {
		HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func updateTopic(c *gin.Context, svc *chat.ConversationService) {
	userID := security.GetUserID(c)
	var req struct {
		Value string `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorBody(http.StatusBadRequest, "Bad Request", err.Error()))
		return
	}

	conv, err := svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleError(c, err)
		return
	}
	if !chat.CanUpdate(conv, userID) {
		c.JSON(http.StatusForbidden, ErrorBody(http.StatusForbidden, "Forbidden",
			"You can not update this conversation"))
		return
	}

	updated, err := svc.Update(c.Request.Context(), conv.ID, registrystore.ConversationPatch{
		Topic: &model.TopicField{Value: req.Value, Creator: userID},
	})
	if err != nil {
		HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func removeConversation(c *gin.Context, svc *chat.ConversationService) {
	userID := security.GetUserID(c)
	conv, err := svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleError(c, err)
		return
	}
	if !chat.CanRemove(conv, userID) {
		c.JSON(http.StatusForbidden, ErrorBody(http.StatusForbidden, "Forbidden",
			"You can not remove this conversation"))
		return
	}
	if err := svc.Remove(c.Request.Context(), conv.ID); err != nil {
		HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func markRead(c *gin.Context, svc *chat.ConversationService) {
	userID := security.GetUserID(c)
	conv, err := svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleError(c, err)
		return
	}
	if !chat.CanRead(conv, userID) {
		c.JSON(http.StatusForbidden, ErrorBody(http.StatusForbidden, "Forbidden",
			"You can not read this conversation"))
		return
	}
	if err := svc.MarkRead(c.Request.Context(), userID, conv.ID); err != nil {
		HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func listUserConversations(c *gin.Context, svc *chat.ConversationService, mode model.ConversationMode) {
	userID := security.GetUserID(c)
	q := registrystore.ConversationQuery{
		Mode:   mode,
		Member: &model.MemberRef{ID: userID, ObjectType: model.ObjectTypeUser},
		Limit:  queryInt(c, "limit", 50),
		Offset: queryInt(c, "offset", 0),
	}
	items, total, err := svc.List(c.Request.Context(), q)
	if err != nil {
		HandleError(c, err)
		return
	}
	c.Header("X-Items-Count", strconv.FormatInt(total, 10))
	c.JSON(http.StatusOK, items)
}

// ErrorBody is the error response shape shared by all route plugins.
func ErrorBody(code int, message, details string) gin.H {
	return gin.H{"error": gin.H{"code": code, "message": message, "details": details}}
}

// HandleError maps store error types to HTTP responses.
func HandleError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError
	var conflict *registrystore.ConflictError
	var forbidden *registrystore.ForbiddenError

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, ErrorBody(http.StatusNotFound, "Not Found", err.Error()))
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, ErrorBody(http.StatusBadRequest, "Bad Request", err.Error()))
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, ErrorBody(http.StatusConflict, "Conflict", err.Error()))
	case errors.As(err, &forbidden):
		c.JSON(http.StatusForbidden, ErrorBody(http.StatusForbidden, "Forbidden", err.Error()))
	default:
		log.Error("Request failed", "method", c.Request.Method, "path", c.Request.URL.Path, "err", err)
		c.JSON(http.StatusInternalServerError, ErrorBody(http.StatusInternalServerError, "Server Error", "internal server error"))
	}
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
