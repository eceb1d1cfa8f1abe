package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/msme-escrow/internal/service"
)

// Context ключи для gin.Context.
const (
	ContextUserIDKey = "userID"
	ContextRoleKey   = "role"
	ContextActorKey  = "actor"
)

// AuthMiddleware проверяет JWT access токен.
func AuthMiddleware(tokens *service.TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "требуется авторизация", "code": "UNAUTHORIZED"})
			return
		}

		raw := strings.TrimPrefix(auth, "Bearer ")
		actor, err := tokens.ParseAccess(raw)
		if err != nil || actor.ID == uuid.Nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "токен невалиден", "code": "UNAUTHORIZED"})
			return
		}

		c.Set(ContextUserIDKey, actor.ID)
		c.Set(ContextRoleKey, actor.Role)
		c.Set(ContextActorKey, actor)
		c.Next()
	}
}

// RequireRole пропускает только пользователей с одной из указанных ролей.
// Ставится после AuthMiddleware.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(ContextRoleKey)
		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "недостаточно прав", "code": "FORBIDDEN"})
	}
}
