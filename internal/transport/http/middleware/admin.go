package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"patient-assistant/internal/transport/http/response"
)

const AdminKeyHeader = "X-Admin-Key"

// AdminKey checks the X-Admin-Key header against a bcrypt hash. An empty
// hash rejects every request.
func AdminKey(keyHash string) gin.HandlerFunc {
	hash := []byte(strings.TrimSpace(keyHash))
	return func(c *gin.Context) {
		if len(hash) == 0 {
			response.Error(c, 403, response.CodeForbidden, "admin api disabled")
			c.Abort()
			return
		}
		key := strings.TrimSpace(c.GetHeader(AdminKeyHeader))
		if key == "" {
			response.Error(c, 401, response.CodeUnauthorized, "missing admin key")
			c.Abort()
			return
		}
		if err := bcrypt.CompareHashAndPassword(hash, []byte(key)); err != nil {
			response.Error(c, 403, response.CodeForbidden, "invalid admin key")
			c.Abort()
			return
		}
		c.Next()
	}
}
