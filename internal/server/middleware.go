package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/tillpoint/internal/observability/context"
)

// Identity headers set by the upstream gateway after authentication.
const (
	HeaderTenantID = "X-Tenant-Id"
	HeaderUserID   = "X-User-Id"
	HeaderUserRole = "X-User-Role"
)

const (
	contextTenantIDKey = "tenant_id"
	contextUserIDKey   = "user_id"
	contextUserRoleKey = "user_role"
)

// TenantContext rejects requests without tenant and user headers and carries
// both into the request context for logging and authorization.
func (s *Server) TenantContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := strings.TrimSpace(c.GetHeader(HeaderTenantID))
		userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if tenantID == "" || userID == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextTenantIDKey, tenantID)
		c.Set(contextUserIDKey, userID)
		c.Set(contextUserRoleKey, strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderUserRole))))

		ctx := obscontext.WithTenantID(c.Request.Context(), tenantID)
		ctx = obscontext.WithActor(ctx, "user", userID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func tenantIDFromGin(c *gin.Context) string {
	return c.GetString(contextTenantIDKey)
}

func userIDFromGin(c *gin.Context) string {
	return c.GetString(contextUserIDKey)
}
