package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/tillpoint/internal/payment/domain"
)

type resolveReconciliationRequest struct {
	Note string `json:"note"`
}

func (s *Server) ListReconciliation(c *gin.Context) {
	status := paymentdomain.ReconciliationStatus(strings.ToLower(strings.TrimSpace(c.Query("status"))))
	switch status {
	case "", paymentdomain.ReconciliationOpen, paymentdomain.ReconciliationResolved:
	default:
		AbortWithError(c, newValidationError("status", "invalid_status", "status must be open or resolved"))
		return
	}

	items, err := s.paymentSvc.ListReconciliation(c.Request.Context(), tenantIDFromGin(c), status)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) ResolveReconciliation(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	var req resolveReconciliationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	item, err := s.paymentSvc.ResolveReconciliation(c.Request.Context(), tenantIDFromGin(c), id, req.Note)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"item": item})
}
