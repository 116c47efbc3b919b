package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/tillpoint/internal/payment/domain"
)

type initiatePaymentRequest struct {
	PhoneNumber string                  `json:"phoneNumber"`
	Amount      *decimal.Decimal        `json:"amount"`
	Cart        paymentdomain.CartInput `json:"cart"`
}

// InitiatePayment answers 202: the sale is only recorded once the gateway
// confirms through the webhook.
func (s *Server) InitiatePayment(c *gin.Context) {
	var req initiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.Amount == nil {
		AbortWithError(c, newValidationError("amount", "invalid_amount", "amount is required"))
		return
	}

	resp, err := s.paymentSvc.Initiate(c.Request.Context(), paymentdomain.InitiateRequest{
		TenantID:    tenantIDFromGin(c),
		UserID:      userIDFromGin(c),
		PhoneNumber: req.PhoneNumber,
		Amount:      *req.Amount,
		Cart:        req.Cart,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, resp)
}

func (s *Server) GetPaymentByCheckoutID(c *gin.Context) {
	checkoutRequestID := strings.TrimSpace(c.Param("checkoutRequestId"))
	if checkoutRequestID == "" {
		AbortWithError(c, ErrNotFound)
		return
	}

	resp, err := s.paymentSvc.GetByCheckoutID(c.Request.Context(), tenantIDFromGin(c), checkoutRequestID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
