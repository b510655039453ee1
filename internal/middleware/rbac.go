package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-leave-api/internal/models"
	"github.com/noah-isme/campus-leave-api/internal/service"
	appErrors "github.com/noah-isme/campus-leave-api/pkg/errors"
	"github.com/noah-isme/campus-leave-api/pkg/response"
)

// PermissionChecker answers whether a role may perform an action.
type PermissionChecker interface {
	Can(role models.UserRole, action service.Action) bool
}

// RequirePermission rejects callers whose role lacks any of the given actions.
func RequirePermission(checker PermissionChecker, actions ...service.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := ClaimsFrom(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		for _, action := range actions {
			if checker.Can(claims.Role, action) {
				c.Next()
				return
			}
		}
		response.Error(c, appErrors.ErrForbidden)
		c.Abort()
	}
}
