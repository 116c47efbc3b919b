package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tillpoint/internal/payment/adapters/mpesa"
	paymentdomain "github.com/smallbiznis/tillpoint/internal/payment/domain"
	"go.uber.org/zap"
)

const maxWebhookBodyBytes = 1 << 20

// HandlePaymentWebhook acknowledges every callback it could reconcile,
// including unknown and duplicate ones. A paid cart whose stock ran out is
// answered with 409 after the compensation has been recorded.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	if provider == "" {
		provider = mpesa.Provider
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil || len(payload) == 0 {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.webhookSvc.HandleCallback(c.Request.Context(), provider, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrStockUnavailable) && result != nil {
			s.log.Warn("paid cart could not be committed",
				zap.String("provider", provider),
				zap.String("checkout_request_id", result.CheckoutRequestID),
			)
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
