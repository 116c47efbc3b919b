package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	saledomain "github.com/smallbiznis/tillpoint/internal/sale/domain"
)

type Service interface {
	// Initiate sends an STK push and records a pending payment. Nothing is
	// written when the gateway call fails.
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error)
	GetByCheckoutID(ctx context.Context, tenantID, checkoutRequestID string) (*StatusView, error)
	// ExpireStale moves pending payments older than the configured timeout
	// to timeout.
	ExpireStale(ctx context.Context, limit int) (*SweepResult, error)

	ListReconciliation(ctx context.Context, tenantID string, status ReconciliationStatus) ([]ReconciliationItem, error)
	ResolveReconciliation(ctx context.Context, tenantID string, id snowflake.ID, note string) (*ReconciliationItem, error)
}

// WebhookService reconciles gateway callbacks against pending payments.
type WebhookService interface {
	HandleCallback(ctx context.Context, provider string, payload []byte) (*CallbackResult, error)
	// RepairUnlinked retries the sale commit for successful payments whose
	// sale was never recorded.
	RepairUnlinked(ctx context.Context, limit int) (*SweepResult, error)
}

// Refunder is notified when collected money cannot become a sale.
type Refunder interface {
	RequestRefund(ctx context.Context, item ReconciliationItem) error
}

type CartInput struct {
	Items         []saledomain.CartLine `json:"items"`
	CustomerName  string                `json:"customerName"`
	CustomerPhone string                `json:"customerPhone"`
	BranchID      *snowflake.ID         `json:"branchId"`
	Discount      *decimal.Decimal      `json:"discount"`
}

type InitiateRequest struct {
	TenantID    string
	UserID      string
	PhoneNumber string
	Amount      decimal.Decimal
	Cart        CartInput
}

type InitiateResult struct {
	PendingPaymentID  snowflake.ID `json:"pendingPaymentId"`
	CheckoutRequestID string       `json:"checkoutRequestId"`
	MerchantRequestID string       `json:"merchantRequestId"`
	Status            Status       `json:"status"`
	CustomerMessage   string       `json:"customerMessage,omitempty"`
}

type CallbackResult struct {
	CheckoutRequestID string
	Outcome           string
	PendingPaymentID  *snowflake.ID
	SaleID            *snowflake.ID
}

type SweepResult struct {
	Scanned int
	Updated int
	Skipped int
}

// Callback outcomes recorded on payment_callbacks.
const (
	CallbackOutcomeUnknown          = "unknown_checkout"
	CallbackOutcomeDuplicate        = "duplicate"
	CallbackOutcomeFailed           = "failed"
	CallbackOutcomeCancelled        = "cancelled"
	CallbackOutcomeSaleCommitted    = "sale_committed"
	CallbackOutcomeStockUnavailable = "stock_unavailable"
)
