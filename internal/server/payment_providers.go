package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentproviderdomain "github.com/smallbiznis/tillpoint/internal/paymentprovider/domain"
)

type upsertPaymentProviderConfigRequest struct {
	Config map[string]any `json:"config"`
}

type updatePaymentProviderStatusRequest struct {
	IsActive *bool `json:"is_active"`
}

func (s *Server) ListPaymentProviders(c *gin.Context) {
	ctx := c.Request.Context()
	configs, err := s.paymentProviderSvc.ListConfigs(ctx, tenantIDFromGin(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"providers": s.paymentProviderSvc.ListCatalog(ctx),
		"configs":   configs,
	})
}

func (s *Server) UpsertPaymentProviderConfig(c *gin.Context) {
	var req upsertPaymentProviderConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.paymentProviderSvc.UpsertConfig(c.Request.Context(), tenantIDFromGin(c), paymentproviderdomain.UpsertRequest{
		Provider: strings.TrimSpace(c.Param("provider")),
		Config:   req.Config,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"config": resp})
}

func (s *Server) UpdatePaymentProviderStatus(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	var req updatePaymentProviderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.IsActive == nil {
		AbortWithError(c, newValidationError("is_active", "invalid_is_active", "invalid is_active"))
		return
	}

	resp, err := s.paymentProviderSvc.SetActive(c.Request.Context(), tenantIDFromGin(c), provider, *req.IsActive)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"config": resp})
}
