package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"fabtrack.io/tracker/internal/domain"
)

type contextKey string

const (
	// RequestIDHeader is the HTTP header for request tracing.
	RequestIDHeader = "X-Request-ID"

	ctxKeyRequestID contextKey = "request_id"
	ctxKeyIdentity  contextKey = "identity"
)

// RequestID injects a unique request ID into the context and response header.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(RequestIDHeader)
		if rid == "" {
			id, _ := uuid.NewV7()
			rid = id.String()
		}
		c.Set(string(ctxKeyRequestID), rid)
		c.Writer.Header().Set(RequestIDHeader, rid)
		c.Request = c.Request.WithContext(
			context.WithValue(c.Request.Context(), ctxKeyRequestID, rid),
		)
		c.Next()
	}
}

// GetRequestID extracts request ID from context.
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyRequestID).(string); ok {
		return v
	}
	return ""
}

// SetIdentity stores the authenticated identity in context.
func SetIdentity(ctx context.Context, identity domain.Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity, identity)
}

// GetIdentity extracts the authenticated identity from context.
func GetIdentity(ctx context.Context) (domain.Identity, bool) {
	v, ok := ctx.Value(ctxKeyIdentity).(domain.Identity)
	return v, ok
}
