package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-rag/internal/platform/ctxutil"
)

// AttachRequestUser records the :userId path parameter as the acting user. Routes without it, or
// with a malformed id, pass through untouched; handlers validate the parameter themselves.
func AttachRequestUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id, err := uuid.Parse(c.Param("userId")); err == nil && id != uuid.Nil {
			ctx := ctxutil.WithRequestData(c.Request.Context(), &ctxutil.RequestData{UserID: id})
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}
