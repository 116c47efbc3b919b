package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending          Status = "pending"
	StatusSuccess          Status = "success"
	StatusFailed           Status = "failed"
	StatusCancelled        Status = "cancelled"
	StatusTimeout          Status = "timeout"
	StatusStockUnavailable Status = "stock_unavailable"
)

// Terminal reports whether no further callback may change the status.
// Success is terminal for status purposes even while its sale is unlinked.
func (s Status) Terminal() bool {
	return s != StatusPending
}

// PendingPayment tracks one STK push from initiation until the gateway
// answers or the sweeper gives up on it.
type PendingPayment struct {
	ID                snowflake.ID   `json:"id" gorm:"primaryKey"`
	TenantID          string         `json:"tenant_id" gorm:"not null"`
	UserID            *string        `json:"user_id,omitempty"`
	Provider          string         `json:"provider" gorm:"not null"`
	PhoneNumber       string         `json:"phone_number" gorm:"not null"`
	Amount            int64          `json:"amount" gorm:"not null"`
	MerchantRequestID string         `json:"merchant_request_id" gorm:"not null"`
	CheckoutRequestID string         `json:"checkout_request_id" gorm:"not null;uniqueIndex"`
	Status            Status         `json:"status" gorm:"not null"`
	ReceiptNumber     *string        `json:"receipt_number,omitempty"`
	ResultCode        *int           `json:"result_code,omitempty"`
	Message           string         `json:"message"`
	CartSnapshot      datatypes.JSON `json:"-" gorm:"type:jsonb;not null"`
	SaleID            *snowflake.ID  `json:"sale_id,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	ResolvedAt        *time.Time     `json:"resolved_at,omitempty"`
}

func (PendingPayment) TableName() string { return "pending_payments" }

// Transition carries the columns written together with a status change.
type Transition struct {
	From          Status
	To            Status
	ReceiptNumber *string
	ResultCode    *int
	Message       string
	At            time.Time
	// Unlinked restricts the move to rows that have no sale attached.
	Unlinked bool
}

// CallbackRecord is the durable log of one webhook delivery.
type CallbackRecord struct {
	ID                snowflake.ID   `gorm:"primaryKey"`
	Provider          string         `gorm:"not null"`
	CheckoutRequestID string         `gorm:"not null"`
	ResultCode        int            `gorm:"not null"`
	Payload           datatypes.JSON `gorm:"type:jsonb;not null"`
	ReceivedAt        time.Time      `gorm:"not null"`
	ProcessedAt       *time.Time
	Outcome           *string
}

func (CallbackRecord) TableName() string { return "payment_callbacks" }

type ReconciliationStatus string

const (
	ReconciliationOpen     ReconciliationStatus = "open"
	ReconciliationResolved ReconciliationStatus = "resolved"
)

const (
	ReasonStockUnavailable   = "stock_unavailable"
	ReasonSnapshotUnreadable = "snapshot_unreadable"
)

// ReconciliationItem is money collected by the gateway that could not be
// turned into a sale. An operator refunds or fulfils it by hand.
type ReconciliationItem struct {
	ID                snowflake.ID         `json:"id" gorm:"primaryKey"`
	TenantID          string               `json:"tenant_id" gorm:"not null"`
	PendingPaymentID  snowflake.ID         `json:"pending_payment_id" gorm:"not null"`
	CheckoutRequestID string               `json:"checkout_request_id" gorm:"not null"`
	Amount            int64                `json:"amount" gorm:"not null"`
	ReceiptNumber     *string              `json:"receipt_number,omitempty"`
	PhoneNumber       string               `json:"phone_number" gorm:"not null"`
	Reason            string               `json:"reason" gorm:"not null"`
	Status            ReconciliationStatus `json:"status" gorm:"not null"`
	ResolutionNote    *string              `json:"resolution_note,omitempty"`
	CreatedAt         time.Time            `json:"created_at"`
	ResolvedAt        *time.Time           `json:"resolved_at,omitempty"`
}

func (ReconciliationItem) TableName() string { return "payment_reconciliation_items" }

// StatusView is what a cashier terminal polls while waiting on the customer.
type StatusView struct {
	ID                snowflake.ID  `json:"id"`
	CheckoutRequestID string        `json:"checkoutRequestId"`
	MerchantRequestID string        `json:"merchantRequestId"`
	Status            Status        `json:"status"`
	Amount            int64         `json:"amount"`
	PhoneNumber       string        `json:"phoneNumber"`
	ReceiptNumber     *string       `json:"receiptNumber,omitempty"`
	ResultCode        *int          `json:"resultCode,omitempty"`
	Message           string        `json:"message"`
	SaleID            *snowflake.ID `json:"saleId,omitempty"`
	CreatedAt         time.Time     `json:"createdAt"`
	UpdatedAt         time.Time     `json:"updatedAt"`
	ResolvedAt        *time.Time    `json:"resolvedAt,omitempty"`
}
