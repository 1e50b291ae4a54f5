package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/yoodocs/internal/models"
	"github.com/yoockh/yoodocs/internal/utils"
)

// RequireRole lets the request through only when the "role" set by JWTAuth
// is one of allowed.
func RequireRole(allowed ...models.UserRole) gin.HandlerFunc {
	allow := make(map[models.UserRole]struct{}, len(allowed))
	for _, a := range allowed {
		allow[models.UserRole(strings.ToLower(string(a)))] = struct{}{}
	}

	return func(c *gin.Context) {
		role := models.UserRole(strings.ToLower(strings.TrimSpace(c.GetString("role"))))
		if _, ok := allow[role]; !ok || role == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, apiError{
				Code:    utils.CodeForbidden,
				Message: "insufficient role",
			})
			return
		}
		c.Next()
	}
}

func RequireAdmin() gin.HandlerFunc { return RequireRole(models.RoleAdmin) }
