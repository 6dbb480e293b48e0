package middleware

import (
	"slices"

	"github.com/gin-gonic/gin"

	"fabtrack.io/tracker/internal/domain"
	apperrors "fabtrack.io/tracker/internal/pkg/errors"
)

// RequireRole returns middleware that admits only the listed roles. It must
// run after JWTAuth.
func RequireRole(roles ...domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := GetIdentity(c.Request.Context())
		if !ok {
			abortWithError(c, apperrors.Unauthorized(apperrors.CodeAuthFailed, "no identity in context"))
			return
		}
		if !slices.Contains(roles, identity.Role) {
			abortWithError(c, apperrors.Forbidden(apperrors.CodeForbidden, "insufficient role").
				WithParam("role", string(identity.Role)))
			return
		}
		c.Next()
	}
}
