package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentMethodCash   PaymentMethod = "cash"
	PaymentMethodCard   PaymentMethod = "card"
	PaymentMethodMpesa  PaymentMethod = "mpesa"
	PaymentMethodCredit PaymentMethod = "credit"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodMpesa, PaymentMethodCredit:
		return true
	}
	return false
}

// Sale is immutable once written. The (UserID, IdempotencyKey) pair is unique
// and is the only record of whether a key has been used.
type Sale struct {
	ID               snowflake.ID    `gorm:"primaryKey"`
	TenantID         string          `gorm:"not null"`
	BranchID         *snowflake.ID
	UserID           string          `gorm:"not null"`
	IdempotencyKey   string          `gorm:"not null"`
	Subtotal         decimal.Decimal `gorm:"type:numeric(14,2)"`
	Discount         decimal.Decimal `gorm:"type:numeric(14,2)"`
	VatAmount        decimal.Decimal `gorm:"type:numeric(14,2)"`
	Total            decimal.Decimal `gorm:"type:numeric(14,2)"`
	PaymentMethod    PaymentMethod
	AmountReceived   decimal.Decimal `gorm:"type:numeric(14,2)"`
	ChangeAmount     decimal.Decimal `gorm:"type:numeric(14,2)"`
	CustomerName     *string
	CustomerPhone    *string
	PendingPaymentID *snowflake.ID
	MpesaReceipt     *string
	CreatedAt        time.Time
}

func (Sale) TableName() string { return "sales" }

// SaleItem freezes the product name and price at the time of sale.
type SaleItem struct {
	ID        snowflake.ID    `gorm:"primaryKey"`
	SaleID    snowflake.ID    `gorm:"not null"`
	ProductID snowflake.ID    `gorm:"not null"`
	Name      string          `gorm:"not null"`
	Quantity  int             `gorm:"not null"`
	UnitPrice decimal.Decimal `gorm:"type:numeric(14,2)"`
	LineTotal decimal.Decimal `gorm:"type:numeric(14,2)"`
}

func (SaleItem) TableName() string { return "sale_items" }

type CartLine struct {
	ProductID snowflake.ID `json:"productId"`
	Quantity  int          `json:"quantity"`
}

type CommitRequest struct {
	TenantID       string
	UserID         string
	IdempotencyKey string
	BranchID       *snowflake.ID
	Items          []CartLine
	PaymentMethod  PaymentMethod
	// AmountReceived is required for cash and defaults to the total otherwise.
	AmountReceived *decimal.Decimal
	Discount       decimal.Decimal
	CustomerName   string
	CustomerPhone  string

	PendingPaymentID *snowflake.ID
	MpesaReceipt     string
}

type ReceiptItem struct {
	ProductID snowflake.ID    `json:"productId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

type Receipt struct {
	SaleID         snowflake.ID    `json:"saleId"`
	Date           time.Time       `json:"date"`
	Items          []ReceiptItem   `json:"items"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Discount       decimal.Decimal `json:"discount"`
	VatAmount      decimal.Decimal `json:"vatAmount"`
	Total          decimal.Decimal `json:"total"`
	PaymentMethod  PaymentMethod   `json:"paymentMethod"`
	AmountReceived decimal.Decimal `json:"amountReceived"`
	Change         decimal.Decimal `json:"change"`
	CustomerName   *string         `json:"customerName,omitempty"`
	CustomerPhone  *string         `json:"customerPhone,omitempty"`
	MpesaReceipt   *string         `json:"mpesaReceipt,omitempty"`

	// Replayed is set when the receipt was rebuilt for a known idempotency key.
	Replayed bool `json:"-"`
}

// NewReceipt rebuilds a receipt from stored rows. Fresh commits and replays
// both go through it, so a replay is byte-identical to the original response.
func NewReceipt(sale Sale, items []SaleItem) Receipt {
	lines := make([]ReceiptItem, 0, len(items))
	for _, item := range items {
		lines = append(lines, ReceiptItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Price:     item.UnitPrice,
			Quantity:  item.Quantity,
		})
	}
	return Receipt{
		SaleID:         sale.ID,
		Date:           sale.CreatedAt.UTC(),
		Items:          lines,
		Subtotal:       sale.Subtotal,
		Discount:       sale.Discount,
		VatAmount:      sale.VatAmount,
		Total:          sale.Total,
		PaymentMethod:  sale.PaymentMethod,
		AmountReceived: sale.AmountReceived,
		Change:         sale.ChangeAmount,
		CustomerName:   sale.CustomerName,
		CustomerPhone:  sale.CustomerPhone,
		MpesaReceipt:   sale.MpesaReceipt,
	}
}
