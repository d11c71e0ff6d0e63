package security

import (
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/openpaas/chat-service/internal/config"
)

const (
	// ContextKeyUserID is the gin context key for the authenticated member id.
	ContextKeyUserID = "userID"
)

// Identity holds the resolved caller identity.
type Identity struct {
	UserID string
}

// TokenResolver resolves bearer tokens to caller identities. It is initialized
// once at startup and shared by all route plugins.
type TokenResolver struct {
	apiKeys     map[string]string
	testingMode bool
}

// NewTokenResolver creates a TokenResolver from the application config.
func NewTokenResolver(cfg *config.Config) *TokenResolver {
	return &TokenResolver{
		apiKeys:     cfg.APIKeys,
		testingMode: cfg.Mode == config.ModeTesting,
	}
}

// Resolve resolves a bearer token (and optional X-User-ID header) into a
// caller Identity. API keys map to fixed member ids; otherwise the token is
// the member id itself. The X-User-ID header is honored only in testing mode.
func (r *TokenResolver) Resolve(bearerToken, userIDHeader string) *Identity {
	if resolved, ok := r.apiKeys[strings.TrimSpace(bearerToken)]; ok {
		return &Identity{UserID: resolved}
	}
	if r.testingMode {
		if hdr := strings.TrimSpace(userIDHeader); hdr != "" {
			return &Identity{UserID: hdr}
		}
	}
	if bearerToken == "" {
		return nil
	}
	return &Identity{UserID: bearerToken}
}

// GetUserID returns the authenticated member id from the gin context.
func GetUserID(c *gin.Context) string {
	return c.GetString(ContextKeyUserID)
}

// AuthMiddleware returns a gin middleware that extracts the caller identity
// from the Authorization header using the provided TokenResolver.
func AuthMiddleware(resolver *TokenResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		token := strings.TrimPrefix(auth, "Bearer ")
		if auth != "" && token == auth {
			log.Info("Auth rejected: invalid Authorization header; expected Bearer token",
				"method", c.Request.Method, "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{
				"code":    http.StatusUnauthorized,
				"message": "invalid Authorization header; expected Bearer token",
			}})
			return
		}

		id := resolver.Resolve(token, c.GetHeader("X-User-ID"))
		if id == nil {
			log.Info("Auth rejected: missing credentials",
				"method", c.Request.Method, "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{
				"code":    http.StatusUnauthorized,
				"message": "missing Authorization header",
			}})
			return
		}

		c.Set(ContextKeyUserID, id.UserID)
		c.Next()
	}
}
