package server

import (
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tillpoint/internal/authorization"
)

func (s *Server) authorize(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.authorizeWithContext(c, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func (s *Server) authorizeWithContext(c *gin.Context, object string, action string) error {
	actor, ok := actorFromContext(c)
	if !ok {
		return ErrUnauthorized
	}
	if s.authzSvc == nil {
		return ErrForbidden
	}
	return s.authzSvc.Authorize(c.Request.Context(), actor, object, action)
}

func actorFromContext(c *gin.Context) (authorization.Actor, bool) {
	if c == nil {
		return authorization.Actor{}, false
	}
	tenantID := tenantIDFromGin(c)
	userID := userIDFromGin(c)
	if tenantID == "" || userID == "" {
		return authorization.Actor{}, false
	}
	return authorization.Actor{
		Type:     authorization.ActorTypeUser,
		ID:       userID,
		TenantID: tenantID,
		RoleHint: c.GetString(contextUserRoleKey),
	}, true
}
