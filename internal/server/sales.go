package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/tillpoint/internal/receipt"
	saledomain "github.com/smallbiznis/tillpoint/internal/sale/domain"
)

const HeaderIdempotencyKey = "Idempotency-Key"

type createSaleRequest struct {
	IdempotencyKey string                `json:"idempotencyKey"`
	Items          []saledomain.CartLine `json:"items"`
	PaymentMethod  string                `json:"paymentMethod"`
	AmountReceived *decimal.Decimal      `json:"amountReceived"`
	Discount       *decimal.Decimal      `json:"discount"`
	CustomerName   string                `json:"customerName"`
	CustomerPhone  string                `json:"customerPhone"`
	BranchID       *snowflake.ID         `json:"branchId"`
}

// CreateSale answers 201 for both fresh commits and idempotent replays so a
// retrying client cannot tell them apart.
func (s *Server) CreateSale(c *gin.Context) {
	var req createSaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	discount := decimal.Zero
	if req.Discount != nil {
		discount = *req.Discount
	}

	resp, err := s.saleSvc.Commit(c.Request.Context(), saledomain.CommitRequest{
		TenantID:       tenantIDFromGin(c),
		UserID:         userIDFromGin(c),
		IdempotencyKey: firstNonEmpty(req.IdempotencyKey, c.GetHeader(HeaderIdempotencyKey)),
		BranchID:       req.BranchID,
		Items:          req.Items,
		PaymentMethod:  saledomain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod))),
		AmountReceived: req.AmountReceived,
		Discount:       discount,
		CustomerName:   req.CustomerName,
		CustomerPhone:  req.CustomerPhone,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if resp.Replayed {
		c.Header("Idempotent-Replayed", "true")
	}
	c.JSON(http.StatusCreated, resp)
}

func (s *Server) GetSaleReceipt(c *gin.Context) {
	saleID, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	resp, err := s.saleSvc.GetReceipt(c.Request.Context(), tenantIDFromGin(c), saleID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetSaleReceiptPDF(c *gin.Context) {
	saleID, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrNotFound)
		return
	}
	if s.receipts == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	resp, err := s.saleSvc.GetReceipt(c.Request.Context(), tenantIDFromGin(c), saleID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	doc, err := s.receipts.Render(c.Request.Context(), s.receiptHeader(), *resp)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=\"receipt-%s.pdf\"", saleID))
	c.Data(http.StatusOK, "application/pdf", doc)
}

func (s *Server) receiptHeader() receipt.Header {
	header := receipt.Header{StoreName: s.cfg.AppName, Currency: "KES"}
	if s.commerce != nil {
		if currency := s.commerce.Get().Currency; currency != "" {
			header.Currency = currency
		}
	}
	return header
}
