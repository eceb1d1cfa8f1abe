package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// UUIDValidator проверяет, что каждый из параметров пути является валидным UUID.
// Использование: jobs.GET("/:id", UUIDValidator("id"), handler.Get)
func UUIDValidator(paramNames ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, name := range paramNames {
			raw := c.Param(name)
			if raw == "" {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error": "параметр " + name + " обязателен",
					"code":  "BAD_REQUEST",
				})
				return
			}
			if _, err := uuid.Parse(raw); err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error": "параметр " + name + " должен быть валидным UUID",
					"code":  "BAD_REQUEST",
				})
				return
			}
		}
		c.Next()
	}
}
